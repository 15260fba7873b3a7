package port

import (
	"context"
	"time"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
)

// AccountRepository exposes persistence behavior for accounts.
type AccountRepository interface {
	Create(ctx context.Context, account domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByIdentifier(ctx context.Context, identifier string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	// UpdateStatus moves the account from one status to another only if it is still in from.
	UpdateStatus(ctx context.Context, id string, from, to domain.AccountStatus, at time.Time) error
	// RecordLoginFailure atomically increments the consecutive failure counter and returns the new value.
	RecordLoginFailure(ctx context.Context, id string, at time.Time) (int, error)
	RecordLoginSuccess(ctx context.Context, id string, at time.Time) error
	UpdatePassword(ctx context.Context, id string, passwordHash string, at time.Time) error
}
