package port

import (
	"context"
	"time"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
)

// RateLimitStore persists fixed-window attempt counters.
type RateLimitStore interface {
	Get(ctx context.Context, identifier string, action domain.RateLimitAction) (*domain.RateLimitRecord, error)
	// Increment atomically starts a fresh window when the current one has elapsed and otherwise adds one attempt.
	Increment(ctx context.Context, identifier string, action domain.RateLimitAction, window time.Duration, at time.Time) (domain.RateLimitRecord, error)
	PurgeStale(ctx context.Context, lastAttemptBefore time.Time) (int64, error)
}
