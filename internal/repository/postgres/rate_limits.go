package postgres

import (
	"context"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
	"github.com/iyyansoft/eventzgo-sub003/internal/core/port"
	"github.com/iyyansoft/eventzgo-sub003/internal/repository"
)

// incrementRateLimitSQL upserts the counter. $4 is the window threshold: a
// window that started at or before it has elapsed and is restarted at $3.
const incrementRateLimitSQL = `INSERT INTO auth.rate_limits (identifier, action, attempts, window_start, last_attempt)
VALUES ($1, $2, 1, $3, $3)
ON CONFLICT (identifier, action) DO UPDATE SET
	attempts = CASE WHEN auth.rate_limits.window_start <= $4 THEN 1 ELSE auth.rate_limits.attempts + 1 END,
	window_start = CASE WHEN auth.rate_limits.window_start <= $4 THEN EXCLUDED.window_start ELSE auth.rate_limits.window_start END,
	last_attempt = EXCLUDED.last_attempt
RETURNING identifier, action, attempts, window_start, last_attempt`

// RateLimitRepository implements port.RateLimitStore on auth.rate_limits.
type RateLimitRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewRateLimitRepository constructs a repository backed by exec.
func NewRateLimitRepository(exec pgExecutor) *RateLimitRepository {
	return &RateLimitRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Get returns the stored counter or repository.ErrNotFound.
func (r *RateLimitRepository) Get(ctx context.Context, identifier string, action domain.RateLimitAction) (*domain.RateLimitRecord, error) {
	stmt, args, err := r.builder.Select("identifier", "action", "attempts", "window_start", "last_attempt").
		From("auth.rate_limits").
		Where(squirrel.Eq{"identifier": identifier, "action": string(action)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select rate limit sql: %w", err)
	}

	record, err := scanRateLimit(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("scan rate limit: %w", err)
	}
	return &record, nil
}

// Increment counts one attempt in a single upsert so concurrent callers never lose updates.
func (r *RateLimitRepository) Increment(ctx context.Context, identifier string, action domain.RateLimitAction, window time.Duration, at time.Time) (domain.RateLimitRecord, error) {
	at = at.UTC()
	record, err := scanRateLimit(r.exec.QueryRow(ctx, incrementRateLimitSQL, identifier, string(action), at, at.Add(-window)))
	if err != nil {
		return domain.RateLimitRecord{}, fmt.Errorf("increment rate limit: %w", err)
	}
	return record, nil
}

// PurgeStale deletes counters whose last attempt predates the cutoff.
func (r *RateLimitRepository) PurgeStale(ctx context.Context, lastAttemptBefore time.Time) (int64, error) {
	stmt, args, err := r.builder.Delete("auth.rate_limits").
		Where(squirrel.Lt{"last_attempt": lastAttemptBefore.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge rate limits sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("purge rate limits: %w", err)
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRateLimit(row rowScanner) (domain.RateLimitRecord, error) {
	var (
		record domain.RateLimitRecord
		action string
	)
	if err := row.Scan(&record.Identifier, &action, &record.Attempts, &record.WindowStart, &record.LastAttempt); err != nil {
		return domain.RateLimitRecord{}, translateError(err)
	}
	record.Action = domain.RateLimitAction(action)
	record.WindowStart = record.WindowStart.UTC()
	record.LastAttempt = record.LastAttempt.UTC()
	return record, nil
}

var _ port.RateLimitStore = (*RateLimitRepository)(nil)
