package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
	"github.com/iyyansoft/eventzgo-sub003/internal/core/port"
	"github.com/iyyansoft/eventzgo-sub003/internal/repository"
)

var accountColumns = []string{
	"id",
	"username",
	"email",
	"password_hash",
	"status",
	"failed_login_attempts",
	"last_login_at",
	"created_at",
	"updated_at",
}

// AccountRepository implements port.AccountRepository backed by PostgreSQL.
type AccountRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAccountRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewAccountRepository(exec pgExecutor) *AccountRepository {
	return &AccountRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// WithTx returns a repository instance that executes statements within the supplied transaction.
func (r *AccountRepository) WithTx(tx pgx.Tx) *AccountRepository {
	if tx == nil {
		return r
	}
	return &AccountRepository{exec: tx, builder: r.builder}
}

// Create inserts a new account. Username or email collisions surface as repository.ErrConflict.
func (r *AccountRepository) Create(ctx context.Context, account domain.Account) error {
	stmt, args, err := r.builder.Insert("auth.accounts").
		Columns(accountColumns...).
		Values(
			account.ID,
			strings.TrimSpace(account.Username),
			strings.TrimSpace(account.Email),
			account.PasswordHash,
			string(account.Status),
			account.FailedLoginAttempts,
			optionalTime(account.LastLoginAt),
			account.CreatedAt.UTC(),
			account.UpdatedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert account sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert account: %w", translateError(err))
	}
	return nil
}

// GetByID fetches an account by identifier.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

// GetByIdentifier matches either the username or the email, case-insensitively.
func (r *AccountRepository) GetByIdentifier(ctx context.Context, identifier string) (*domain.Account, error) {
	identifier = strings.TrimSpace(identifier)
	return r.getOne(ctx, squirrel.Or{
		squirrel.Expr("lower(username) = lower(?)", identifier),
		squirrel.Expr("lower(email) = lower(?)", identifier),
	})
}

// GetByEmail fetches an account by email, case-insensitively.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.getOne(ctx, squirrel.Expr("lower(email) = lower(?)", strings.TrimSpace(email)))
}

func (r *AccountRepository) getOne(ctx context.Context, pred squirrel.Sqlizer) (*domain.Account, error) {
	stmt, args, err := r.builder.Select(accountColumns...).
		From("auth.accounts").
		Where(pred).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account sql: %w", err)
	}

	account, err := scanAccount(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return account, nil
}

// UpdateStatus performs a compare-and-set on the status column. A concurrent
// change that already moved the account away from from yields repository.ErrConflict.
func (r *AccountRepository) UpdateStatus(ctx context.Context, id string, from, to domain.AccountStatus, at time.Time) error {
	stmt, args, err := r.builder.Update("auth.accounts").
		Set("status", string(to)).
		Set("updated_at", at.UTC()).
		Where(squirrel.Eq{"id": id, "status": string(from)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update account status sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update account status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: account %s is no longer %s", repository.ErrConflict, id, from)
	}
	return nil
}

// RecordLoginFailure increments the failure counter in a single statement.
func (r *AccountRepository) RecordLoginFailure(ctx context.Context, id string, at time.Time) (int, error) {
	stmt, args, err := r.builder.Update("auth.accounts").
		Set("failed_login_attempts", squirrel.Expr("failed_login_attempts + 1")).
		Set("updated_at", at.UTC()).
		Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING failed_login_attempts").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build record login failure sql: %w", err)
	}

	var attempts int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("record login failure: %w", translateError(err))
	}
	return attempts, nil
}

// RecordLoginSuccess clears the failure counter and stamps the login time.
func (r *AccountRepository) RecordLoginSuccess(ctx context.Context, id string, at time.Time) error {
	stmt, args, err := r.builder.Update("auth.accounts").
		Set("failed_login_attempts", 0).
		Set("last_login_at", at.UTC()).
		Set("updated_at", at.UTC()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build record login success sql: %w", err)
	}
	return r.execAffectingOne(ctx, "record login success", stmt, args)
}

// UpdatePassword stores a new hash and resets the failure counter.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id string, passwordHash string, at time.Time) error {
	stmt, args, err := r.builder.Update("auth.accounts").
		Set("password_hash", passwordHash).
		Set("failed_login_attempts", 0).
		Set("updated_at", at.UTC()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update password sql: %w", err)
	}
	return r.execAffectingOne(ctx, "update password", stmt, args)
}

func (r *AccountRepository) execAffectingOne(ctx context.Context, op, stmt string, args []any) error {
	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		account     domain.Account
		status      string
		lastLoginAt sql.NullTime
	)

	if err := row.Scan(
		&account.ID,
		&account.Username,
		&account.Email,
		&account.PasswordHash,
		&status,
		&account.FailedLoginAttempts,
		&lastLoginAt,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		return nil, translateError(err)
	}

	parsed, err := domain.ParseAccountStatus(status)
	if err != nil {
		return nil, err
	}
	account.Status = parsed
	account.LastLoginAt = nullableTimePtr(lastLoginAt)
	return &account, nil
}

var _ port.AccountRepository = (*AccountRepository)(nil)
