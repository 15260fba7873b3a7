package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
	"github.com/iyyansoft/eventzgo-sub003/internal/core/port"
	"github.com/iyyansoft/eventzgo-sub003/internal/repository"
)

// DefaultRateLimitPolicies returns the built-in per-action thresholds.
func DefaultRateLimitPolicies() map[domain.RateLimitAction]domain.RateLimitPolicy {
	return map[domain.RateLimitAction]domain.RateLimitPolicy{
		domain.RateLimitActionLogin:              {MaxAttempts: 5, Window: 15 * time.Minute},
		domain.RateLimitActionPasswordReset:      {MaxAttempts: 3, Window: time.Hour},
		domain.RateLimitActionAPICall:            {MaxAttempts: 100, Window: time.Minute},
		domain.RateLimitActionVerificationResend: {MaxAttempts: 3, Window: time.Hour},
	}
}

// RateLimitDecision is the outcome of CheckAllowed.
type RateLimitDecision struct {
	Allowed    bool
	Message    string
	RetryAfter time.Duration
}

// RateLimiter enforces fixed-window attempt limits per (identifier, action).
// Checking and recording are separate so callers can check, act, then record.
type RateLimiter struct {
	store        port.RateLimitStore
	policies     map[domain.RateLimitAction]domain.RateLimitPolicy
	logger       *zap.Logger
	now          func() time.Time
	storeTimeout time.Duration
}

// NewRateLimiter constructs a limiter. Missing actions fall back to the defaults.
func NewRateLimiter(store port.RateLimitStore, policies map[domain.RateLimitAction]domain.RateLimitPolicy, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	merged := DefaultRateLimitPolicies()
	for action, policy := range policies {
		if policy.MaxAttempts > 0 && policy.Window > 0 {
			merged[action] = policy
		}
	}
	return &RateLimiter{
		store:    store,
		policies: merged,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (l *RateLimiter) WithClock(clock func() time.Time) {
	if clock != nil {
		l.now = clock
	}
}

// WithStoreTimeout bounds each store round trip.
func (l *RateLimiter) WithStoreTimeout(timeout time.Duration) {
	l.storeTimeout = timeout
}

// Policy returns the policy applied to action.
func (l *RateLimiter) Policy(action domain.RateLimitAction) (domain.RateLimitPolicy, bool) {
	policy, ok := l.policies[action]
	return policy, ok
}

// CheckAllowed reports whether another attempt fits in the current window.
// An absent record or an elapsed window counts as zero attempts.
func (l *RateLimiter) CheckAllowed(ctx context.Context, identifier string, action domain.RateLimitAction) (RateLimitDecision, error) {
	policy, ok := l.policies[action]
	if !ok {
		return RateLimitDecision{}, fmt.Errorf("unknown rate limit action %q", action)
	}

	ctx, cancel := boundContext(ctx, l.storeTimeout)
	defer cancel()

	record, err := l.store.Get(ctx, normalizeIdentifier(identifier), action)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return RateLimitDecision{Allowed: true}, nil
		}
		return RateLimitDecision{}, fmt.Errorf("load rate limit: %w", err)
	}

	now := l.now().UTC()
	if record.WindowExpired(now, policy.Window) || record.Attempts < policy.MaxAttempts {
		return RateLimitDecision{Allowed: true}, nil
	}

	retryAfter := record.WindowEnd(policy.Window).Sub(now)
	return RateLimitDecision{
		Allowed:    false,
		Message:    retryMessage(retryAfter),
		RetryAfter: retryAfter,
	}, nil
}

// RecordAttempt counts one attempt, starting a fresh window when the previous one elapsed.
func (l *RateLimiter) RecordAttempt(ctx context.Context, identifier string, action domain.RateLimitAction) (domain.RateLimitRecord, error) {
	policy, ok := l.policies[action]
	if !ok {
		return domain.RateLimitRecord{}, fmt.Errorf("unknown rate limit action %q", action)
	}

	ctx, cancel := boundContext(ctx, l.storeTimeout)
	defer cancel()

	record, err := l.store.Increment(ctx, normalizeIdentifier(identifier), action, policy.Window, l.now().UTC())
	if err != nil {
		return domain.RateLimitRecord{}, fmt.Errorf("record rate limit attempt: %w", err)
	}
	return record, nil
}

// Enforce returns a *RateLimitExceededError when the caller is over the limit.
func (l *RateLimiter) Enforce(ctx context.Context, identifier string, action domain.RateLimitAction) error {
	decision, err := l.CheckAllowed(ctx, identifier, action)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return &RateLimitExceededError{Action: action, RetryAfter: decision.RetryAfter}
	}
	return nil
}

// PurgeStale drops counters idle for longer than olderThan.
func (l *RateLimiter) PurgeStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx, cancel := boundContext(ctx, l.storeTimeout)
	defer cancel()

	purged, err := l.store.PurgeStale(ctx, l.now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("purge rate limits: %w", err)
	}
	if purged > 0 {
		l.logger.Debug("purged stale rate limit records", zap.Int64("count", purged))
	}
	return purged, nil
}

// LongestWindow returns the widest configured window, used to size janitor retention.
func (l *RateLimiter) LongestWindow() time.Duration {
	var longest time.Duration
	for _, policy := range l.policies {
		if policy.Window > longest {
			longest = policy.Window
		}
	}
	return longest
}

func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
