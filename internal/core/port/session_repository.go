package port

import (
	"context"
	"time"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
)

// SessionRepository deals with session storage.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)
	// Touch refreshes last activity only while the session is active, unexpired and not idle past idleCutoff.
	Touch(ctx context.Context, tokenHash string, at time.Time, idleCutoff time.Time) (bool, error)
	// Revoke deactivates the session and reports whether this call changed its state.
	Revoke(ctx context.Context, tokenHash string) (bool, error)
	RevokeByID(ctx context.Context, accountID, sessionID string) (bool, error)
	RevokeAllForAccount(ctx context.Context, accountID string) (int, error)
	ListActiveByAccount(ctx context.Context, accountID string, at time.Time) ([]domain.Session, error)
}
