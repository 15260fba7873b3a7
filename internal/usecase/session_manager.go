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

const (
	defaultSessionTTL         = 24 * time.Hour
	defaultSessionIdleTimeout = 30 * time.Minute
)

// SessionPolicy controls session lifetimes.
type SessionPolicy struct {
	AbsoluteTTL time.Duration
	IdleTimeout time.Duration
}

// IssuedSession pairs the bearer value handed to the client with the stored record.
type IssuedSession struct {
	Token   string
	Session domain.Session
}

// SessionManager creates, validates, refreshes and revokes sessions.
type SessionManager struct {
	sessions     port.SessionRepository
	audit        *SecurityAuditLogger
	metrics      port.AuthMetrics
	policy       SessionPolicy
	logger       *zap.Logger
	now          func() time.Time
	storeTimeout time.Duration
}

// NewSessionManager constructs a manager; zero policy fields fall back to 24h absolute and 30m idle.
func NewSessionManager(sessions port.SessionRepository, audit *SecurityAuditLogger, policy SessionPolicy, metrics port.AuthMetrics, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if policy.AbsoluteTTL <= 0 {
		policy.AbsoluteTTL = defaultSessionTTL
	}
	if policy.IdleTimeout <= 0 {
		policy.IdleTimeout = defaultSessionIdleTimeout
	}
	return &SessionManager{
		sessions: sessions,
		audit:    audit,
		metrics:  metrics,
		policy:   policy,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (m *SessionManager) WithClock(clock func() time.Time) {
	if clock != nil {
		m.now = clock
	}
}

// WithStoreTimeout bounds each store round trip.
func (m *SessionManager) WithStoreTimeout(timeout time.Duration) {
	m.storeTimeout = timeout
}

// Policy returns the effective lifetimes.
func (m *SessionManager) Policy() SessionPolicy {
	return m.policy
}

// Create opens a new active session for the account.
func (m *SessionManager) Create(ctx context.Context, accountID string, client domain.ClientMetadata) (*IssuedSession, error) {
	value, err := security.GenerateSecureToken(security.DefaultTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	now := m.now().UTC()
	session := domain.Session{
		ID:                uuid.NewString(),
		AccountID:         accountID,
		TokenHash:         security.HashToken(value),
		IPAddress:         client.IPAddress,
		UserAgent:         client.UserAgent,
		DeviceFingerprint: client.DeviceFingerprint,
		CreatedAt:         now,
		ExpiresAt:         now.Add(m.policy.AbsoluteTTL),
		LastActivityAt:    now,
		IsActive:          true,
	}

	storeCtx, cancel := boundContext(ctx, m.storeTimeout)
	defer cancel()
	if err := m.sessions.Create(storeCtx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	m.metrics.ObserveSession("created")
	m.audit.Record(ctx, securityEvent(domain.EventSessionCreated, domain.EventCategorySession, domain.SeverityInfo,
		accountID, client, "session created", map[string]any{"session_id": session.ID}))

	return &IssuedSession{Token: value, Session: session}, nil
}

// Verify resolves token to its session and reports why it is unusable, if it is.
func (m *SessionManager) Verify(ctx context.Context, token string) (*domain.Session, error) {
	ctx, cancel := boundContext(ctx, m.storeTimeout)
	defer cancel()
	return m.verify(ctx, token, m.now().UTC())
}

func (m *SessionManager) verify(ctx context.Context, token string, now time.Time) (*domain.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrSessionNotFound
	}

	session, err := m.sessions.GetByTokenHash(ctx, security.HashToken(token))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	switch session.State(now, m.policy.IdleTimeout) {
	case domain.SessionStateRevoked:
		return session, ErrSessionRevoked
	case domain.SessionStateExpired:
		return session, ErrSessionExpired
	case domain.SessionStateIdleTimeout:
		return session, ErrSessionIdleTimeout
	default:
		return session, nil
	}
}

// Touch records activity on a valid session. The store re-checks validity in
// the same write, so a concurrent revoke is never undone.
func (m *SessionManager) Touch(ctx context.Context, token string) error {
	ctx, cancel := boundContext(ctx, m.storeTimeout)
	defer cancel()

	now := m.now().UTC()
	touched, err := m.sessions.Touch(ctx, security.HashToken(strings.TrimSpace(token)), now, now.Add(-m.policy.IdleTimeout))
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if touched {
		return nil
	}

	_, err = m.verify(ctx, token, now)
	if err == nil {
		// The row changed between the two statements.
		return ErrSessionNotFound
	}
	return err
}

// Revoke deactivates the session behind token. Revoking twice is not an error.
func (m *SessionManager) Revoke(ctx context.Context, token string, client domain.ClientMetadata) error {
	storeCtx, cancel := boundContext(ctx, m.storeTimeout)
	defer cancel()

	token = strings.TrimSpace(token)
	if token == "" {
		return ErrSessionNotFound
	}
	hash := security.HashToken(token)

	session, err := m.sessions.GetByTokenHash(storeCtx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("load session: %w", err)
	}

	changed, err := m.sessions.Revoke(storeCtx, hash)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if changed {
		m.recordRevoked(ctx, session.AccountID, session.ID, client, "logout")
	}
	return nil
}

// RevokeByID revokes one of the account's own sessions.
func (m *SessionManager) RevokeByID(ctx context.Context, accountID, sessionID string, client domain.ClientMetadata) error {
	storeCtx, cancel := boundContext(ctx, m.storeTimeout)
	defer cancel()

	changed, err := m.sessions.RevokeByID(storeCtx, accountID, sessionID)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if !changed {
		return ErrSessionNotFound
	}
	m.recordRevoked(ctx, accountID, sessionID, client, "user_revoked")
	return nil
}

// RevokeAll deactivates every active session of the account.
func (m *SessionManager) RevokeAll(ctx context.Context, accountID, reason string, client domain.ClientMetadata) (int, error) {
	storeCtx, cancel := boundContext(ctx, m.storeTimeout)
	defer cancel()

	count, err := m.revokeAllWith(storeCtx, m.sessions, accountID)
	if err != nil {
		return 0, err
	}
	m.RecordRevokedAll(ctx, accountID, reason, count, client)
	return count, nil
}

func (m *SessionManager) revokeAllWith(ctx context.Context, repo port.SessionRepository, accountID string) (int, error) {
	count, err := repo.RevokeAllForAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	return count, nil
}

// RecordRevokedAll audits a bulk revocation performed inside a caller's transaction.
func (m *SessionManager) RecordRevokedAll(ctx context.Context, accountID, reason string, count int, client domain.ClientMetadata) {
	m.metrics.ObserveSession("revoked_all")
	m.audit.Record(ctx, securityEvent(domain.EventSessionsRevokedAll, domain.EventCategorySession, domain.SeverityInfo,
		accountID, client, "all sessions revoked", map[string]any{"count": count, "reason": reason}))
}

// ListActive returns the account's active, unexpired sessions, most recent first.
func (m *SessionManager) ListActive(ctx context.Context, accountID string) ([]domain.Session, error) {
	ctx, cancel := boundContext(ctx, m.storeTimeout)
	defer cancel()

	now := m.now().UTC()
	sessions, err := m.sessions.ListActiveByAccount(ctx, accountID, now)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	active := sessions[:0]
	for _, session := range sessions {
		if session.IsValid(now, m.policy.IdleTimeout) {
			active = append(active, session)
		}
	}
	return active, nil
}

func (m *SessionManager) recordRevoked(ctx context.Context, accountID, sessionID string, client domain.ClientMetadata, reason string) {
	m.metrics.ObserveSession("revoked")
	m.audit.Record(ctx, securityEvent(domain.EventSessionRevoked, domain.EventCategorySession, domain.SeverityInfo,
		accountID, client, "session revoked", map[string]any{"session_id": sessionID, "reason": reason}))
}
