package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
	"github.com/iyyansoft/eventzgo-sub003/internal/core/port"
	"github.com/iyyansoft/eventzgo-sub003/internal/repository"
)

var sessionColumns = []string{
	"id",
	"account_id",
	"token_hash",
	"ip_address",
	"user_agent",
	"device_fingerprint",
	"created_at",
	"expires_at",
	"last_activity_at",
	"is_active",
}

// sessionRow mirrors auth.sessions for struct scanning.
type sessionRow struct {
	ID                string         `db:"id"`
	AccountID         string         `db:"account_id"`
	TokenHash         string         `db:"token_hash"`
	IPAddress         sql.NullString `db:"ip_address"`
	UserAgent         sql.NullString `db:"user_agent"`
	DeviceFingerprint sql.NullString `db:"device_fingerprint"`
	CreatedAt         time.Time      `db:"created_at"`
	ExpiresAt         time.Time      `db:"expires_at"`
	LastActivityAt    time.Time      `db:"last_activity_at"`
	IsActive          bool           `db:"is_active"`
}

func (row sessionRow) toDomain() domain.Session {
	return domain.Session{
		ID:                row.ID,
		AccountID:         row.AccountID,
		TokenHash:         row.TokenHash,
		IPAddress:         nullableStringPtr(row.IPAddress),
		UserAgent:         nullableStringPtr(row.UserAgent),
		DeviceFingerprint: nullableStringPtr(row.DeviceFingerprint),
		CreatedAt:         row.CreatedAt.UTC(),
		ExpiresAt:         row.ExpiresAt.UTC(),
		LastActivityAt:    row.LastActivityAt.UTC(),
		IsActive:          row.IsActive,
	}
}

// SessionRepository implements port.SessionRepository backed by PostgreSQL.
type SessionRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSessionRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewSessionRepository(exec pgExecutor) *SessionRepository {
	return &SessionRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// WithTx returns a repository instance that executes statements within the supplied transaction.
func (r *SessionRepository) WithTx(tx pgx.Tx) *SessionRepository {
	if tx == nil {
		return r
	}
	return &SessionRepository{exec: tx, builder: r.builder}
}

// Create persists a new session.
func (r *SessionRepository) Create(ctx context.Context, session domain.Session) error {
	stmt, args, err := r.builder.Insert("auth.sessions").
		Columns(sessionColumns...).
		Values(
			session.ID,
			session.AccountID,
			session.TokenHash,
			optionalString(session.IPAddress),
			optionalString(session.UserAgent),
			optionalString(session.DeviceFingerprint),
			session.CreatedAt.UTC(),
			session.ExpiresAt.UTC(),
			session.LastActivityAt.UTC(),
			session.IsActive,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert session: %w", translateError(err))
	}
	return nil
}

// GetByTokenHash fetches a session by the digest of its bearer token.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	stmt, args, err := r.builder.Select(sessionColumns...).
		From("auth.sessions").
		Where(squirrel.Eq{"token_hash": tokenHash}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session sql: %w", err)
	}

	var row sessionRow
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&row.ID,
		&row.AccountID,
		&row.TokenHash,
		&row.IPAddress,
		&row.UserAgent,
		&row.DeviceFingerprint,
		&row.CreatedAt,
		&row.ExpiresAt,
		&row.LastActivityAt,
		&row.IsActive,
	); err != nil {
		if err = translateError(err); err == repository.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	session := row.toDomain()
	return &session, nil
}

// Touch moves last_activity_at forward in the same statement that re-checks validity,
// so a session revoked or timed out concurrently is never refreshed.
func (r *SessionRepository) Touch(ctx context.Context, tokenHash string, at time.Time, idleCutoff time.Time) (bool, error) {
	stmt, args, err := r.builder.Update("auth.sessions").
		Set("last_activity_at", at.UTC()).
		Where(squirrel.Eq{"token_hash": tokenHash, "is_active": true}).
		Where(squirrel.Gt{"expires_at": at.UTC()}).
		Where(squirrel.Gt{"last_activity_at": idleCutoff.UTC()}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build touch session sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("touch session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Revoke deactivates a session. Revoking an inactive session is a no-op reported as false.
func (r *SessionRepository) Revoke(ctx context.Context, tokenHash string) (bool, error) {
	return r.deactivate(ctx, squirrel.Eq{"token_hash": tokenHash, "is_active": true})
}

// RevokeByID deactivates a session only when it belongs to accountID.
func (r *SessionRepository) RevokeByID(ctx context.Context, accountID, sessionID string) (bool, error) {
	return r.deactivate(ctx, squirrel.Eq{"account_id": accountID, "id": sessionID, "is_active": true})
}

func (r *SessionRepository) deactivate(ctx context.Context, pred squirrel.Eq) (bool, error) {
	stmt, args, err := r.builder.Update("auth.sessions").
		Set("is_active", false).
		Where(pred).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build revoke session sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RevokeAllForAccount deactivates every active session for the account and returns how many changed.
func (r *SessionRepository) RevokeAllForAccount(ctx context.Context, accountID string) (int, error) {
	stmt, args, err := r.builder.Update("auth.sessions").
		Set("is_active", false).
		Where(squirrel.Eq{"account_id": accountID, "is_active": true}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build revoke all sessions sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("revoke all sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListActiveByAccount returns active, unexpired sessions ordered by most recent activity.
func (r *SessionRepository) ListActiveByAccount(ctx context.Context, accountID string, at time.Time) ([]domain.Session, error) {
	stmt, args, err := r.builder.Select(sessionColumns...).
		From("auth.sessions").
		Where(squirrel.Eq{"account_id": accountID, "is_active": true}).
		Where(squirrel.Gt{"expires_at": at.UTC()}).
		OrderBy("last_activity_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list sessions sql: %w", err)
	}

	var rows []sessionRow
	if err := pgxscan.Select(ctx, r.exec, &rows, stmt, args...); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]domain.Session, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, row.toDomain())
	}
	return sessions, nil
}

var _ port.SessionRepository = (*SessionRepository)(nil)
