package port

import (
	"context"
	"time"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
)

// TokenRepository manages single-use verification and reset tokens.
type TokenRepository interface {
	// Replace deletes the account's unused tokens of the same purpose and stores token, returning the number removed.
	Replace(ctx context.Context, token domain.Token) (int, error)
	// Redeem marks a matching unused, unexpired token as used. When nothing was redeemed it returns
	// the current record (if any) with redeemed=false so callers can explain why.
	Redeem(ctx context.Context, tokenHash string, purpose domain.TokenPurpose, at time.Time) (token *domain.Token, redeemed bool, err error)
}
