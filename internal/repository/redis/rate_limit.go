package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
	"github.com/iyyansoft/eventzgo-sub003/internal/core/port"
	"github.com/iyyansoft/eventzgo-sub003/internal/repository"
)

const defaultKeyPrefix = "ratelimit"

// incrementScript runs the fixed-window rollover and increment atomically on the server.
// ARGV: now (ms), window (ms), ttl (ms). Returns {attempts, window_start}.
var incrementScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local current = redis.call('HGET', KEYS[1], 'window_start')
local start = nil
if current then
	start = tonumber(current)
end
local attempts
if (not start) or (now - start >= window) then
	start = now
	attempts = 1
	redis.call('HSET', KEYS[1], 'attempts', 1, 'window_start', ARGV[1], 'last_attempt', ARGV[1])
else
	attempts = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
	redis.call('HSET', KEYS[1], 'last_attempt', ARGV[1])
end
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return {attempts, start}
`)

// FixedWindowConfig defines key layout for the fixed window store.
type FixedWindowConfig struct {
	KeyPrefix string
}

// RateLimitRepository keeps fixed-window counters in Redis hashes. Keys expire
// after twice the window, which replaces the periodic purge used by SQL stores.
type RateLimitRepository struct {
	client *redis.Client
	cfg    FixedWindowConfig
}

// NewRateLimitRepository constructs a repository using the provided Redis client and config.
func NewRateLimitRepository(client *redis.Client, cfg FixedWindowConfig) *RateLimitRepository {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	return &RateLimitRepository{client: client, cfg: cfg}
}

// Get returns the counter for identifier and action or repository.ErrNotFound.
func (r *RateLimitRepository) Get(ctx context.Context, identifier string, action domain.RateLimitAction) (*domain.RateLimitRecord, error) {
	values, err := r.client.HGetAll(ctx, r.key(identifier, action)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(values) == 0 {
		return nil, repository.ErrNotFound
	}

	attempts, err := strconv.Atoi(values["attempts"])
	if err != nil {
		return nil, fmt.Errorf("parse attempts: %w", err)
	}
	windowStart, err := parseMillis(values["window_start"])
	if err != nil {
		return nil, fmt.Errorf("parse window_start: %w", err)
	}
	lastAttempt, err := parseMillis(values["last_attempt"])
	if err != nil {
		return nil, fmt.Errorf("parse last_attempt: %w", err)
	}

	return &domain.RateLimitRecord{
		Identifier:  identifier,
		Action:      action,
		Attempts:    attempts,
		WindowStart: windowStart,
		LastAttempt: lastAttempt,
	}, nil
}

// Increment counts one attempt, starting a new window when the previous one has elapsed.
func (r *RateLimitRepository) Increment(ctx context.Context, identifier string, action domain.RateLimitAction, window time.Duration, at time.Time) (domain.RateLimitRecord, error) {
	if window <= 0 {
		return domain.RateLimitRecord{}, errors.New("window must be positive")
	}

	result, err := incrementScript.Run(ctx, r.client,
		[]string{r.key(identifier, action)},
		at.UnixMilli(),
		window.Milliseconds(),
		(2 * window).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return domain.RateLimitRecord{}, fmt.Errorf("redis increment rate limit: %w", err)
	}
	if len(result) != 2 {
		return domain.RateLimitRecord{}, fmt.Errorf("redis increment rate limit: unexpected reply length %d", len(result))
	}

	return domain.RateLimitRecord{
		Identifier:  identifier,
		Action:      action,
		Attempts:    int(result[0]),
		WindowStart: time.UnixMilli(result[1]).UTC(),
		LastAttempt: time.UnixMilli(at.UnixMilli()).UTC(),
	}, nil
}

// PurgeStale is a no-op: key expiry already evicts idle counters.
func (r *RateLimitRepository) PurgeStale(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (r *RateLimitRepository) key(identifier string, action domain.RateLimitAction) string {
	return fmt.Sprintf("%s:%s:%s", r.cfg.KeyPrefix, action, identifier)
}

func parseMillis(value string) (time.Time, error) {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

var _ port.RateLimitStore = (*RateLimitRepository)(nil)
