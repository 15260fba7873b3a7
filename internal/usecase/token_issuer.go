package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
	"github.com/iyyansoft/eventzgo-sub003/internal/core/port"
	"github.com/iyyansoft/eventzgo-sub003/internal/infra/security"
	"github.com/iyyansoft/eventzgo-sub003/internal/repository"
)

const defaultTokenTTL = 24 * time.Hour

// TokenIssuer creates and redeems single-use verification and reset tokens.
// Only SHA-256 digests reach the store; the raw value leaves via notifications.
type TokenIssuer struct {
	tokens       port.TokenRepository
	ttls         map[domain.TokenPurpose]time.Duration
	metrics      port.AuthMetrics
	logger       *zap.Logger
	now          func() time.Time
	storeTimeout time.Duration
}

// NewTokenIssuer constructs an issuer. Purposes without a positive TTL use 24h.
func NewTokenIssuer(tokens port.TokenRepository, ttls map[domain.TokenPurpose]time.Duration, metrics port.AuthMetrics, logger *zap.Logger) *TokenIssuer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	resolved := map[domain.TokenPurpose]time.Duration{
		domain.TokenPurposeEmailVerification: defaultTokenTTL,
		domain.TokenPurposePasswordReset:     defaultTokenTTL,
	}
	for purpose, ttl := range ttls {
		if ttl > 0 {
			resolved[purpose] = ttl
		}
	}
	return &TokenIssuer{
		tokens:  tokens,
		ttls:    resolved,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (i *TokenIssuer) WithClock(clock func() time.Time) {
	if clock != nil {
		i.now = clock
	}
}

// WithStoreTimeout bounds each store round trip.
func (i *TokenIssuer) WithStoreTimeout(timeout time.Duration) {
	i.storeTimeout = timeout
}

// Issue replaces any outstanding token of purpose for the account with a fresh one.
func (i *TokenIssuer) Issue(ctx context.Context, accountID string, purpose domain.TokenPurpose) (domain.IssuedToken, error) {
	ctx, cancel := boundContext(ctx, i.storeTimeout)
	defer cancel()
	return i.issueWith(ctx, i.tokens, accountID, purpose)
}

func (i *TokenIssuer) issueWith(ctx context.Context, repo port.TokenRepository, accountID string, purpose domain.TokenPurpose) (domain.IssuedToken, error) {
	ttl, ok := i.ttls[purpose]
	if !ok {
		return domain.IssuedToken{}, fmt.Errorf("unknown token purpose %q", purpose)
	}

	value, err := security.GenerateSecureToken(security.DefaultTokenBytes)
	if err != nil {
		return domain.IssuedToken{}, fmt.Errorf("generate %s token: %w", purpose, err)
	}

	now := i.now().UTC()
	token := domain.Token{
		ID:        uuid.NewString(),
		AccountID: accountID,
		TokenHash: security.HashToken(value),
		Purpose:   purpose,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	superseded, err := repo.Replace(ctx, token)
	if err != nil {
		return domain.IssuedToken{}, fmt.Errorf("store %s token: %w", purpose, err)
	}

	i.metrics.ObserveToken(string(purpose), "issued")
	i.logger.Debug("token issued",
		zap.String("account_id", accountID),
		zap.String("purpose", string(purpose)),
		zap.Int("superseded", superseded),
	)

	return domain.IssuedToken{Value: value, Token: token}, nil
}

// Redeem consumes value and returns the owning account id.
func (i *TokenIssuer) Redeem(ctx context.Context, value string, purpose domain.TokenPurpose) (string, error) {
	ctx, cancel := boundContext(ctx, i.storeTimeout)
	defer cancel()
	return i.redeemWith(ctx, i.tokens, value, purpose)
}

// redeemWith lets callers redeem inside their own transaction.
func (i *TokenIssuer) redeemWith(ctx context.Context, repo port.TokenRepository, value string, purpose domain.TokenPurpose) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		i.metrics.ObserveToken(string(purpose), "not_found")
		return "", ErrTokenNotFound
	}

	now := i.now().UTC()
	token, redeemed, err := repo.Redeem(ctx, security.HashToken(value), purpose, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			i.metrics.ObserveToken(string(purpose), "not_found")
			return "", ErrTokenNotFound
		}
		return "", fmt.Errorf("redeem %s token: %w", purpose, err)
	}
	if redeemed {
		i.metrics.ObserveToken(string(purpose), "redeemed")
		return token.AccountID, nil
	}

	switch {
	case token.Used:
		i.metrics.ObserveToken(string(purpose), "already_used")
		return "", ErrTokenAlreadyUsed
	case token.IsExpired(now):
		i.metrics.ObserveToken(string(purpose), "expired")
		return "", ErrTokenExpired
	default:
		i.metrics.ObserveToken(string(purpose), "not_found")
		return "", ErrTokenNotFound
	}
}
