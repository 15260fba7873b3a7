package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
	"github.com/iyyansoft/eventzgo-sub003/internal/core/port"
	"github.com/iyyansoft/eventzgo-sub003/internal/repository"
)

var tokenColumns = []string{
	"id",
	"account_id",
	"token_hash",
	"purpose",
	"created_at",
	"expires_at",
	"used",
	"used_at",
}

// TokenRepository implements port.TokenRepository using PostgreSQL tables.
type TokenRepository struct {
	db      DB
	exec    pgExecutor
	inTx    bool
	builder squirrel.StatementBuilderType
}

// NewTokenRepository constructs a new token repository. When exec can begin
// transactions, Replace opens its own; otherwise it runs on exec directly.
func NewTokenRepository(exec pgExecutor) *TokenRepository {
	repo := &TokenRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if db, ok := exec.(DB); ok {
		repo.db = db
	}
	return repo
}

// WithTx returns a repository instance executing within the provided transaction.
func (r *TokenRepository) WithTx(tx pgx.Tx) *TokenRepository {
	if tx == nil {
		return r
	}
	return &TokenRepository{
		db:      r.db,
		exec:    tx,
		inTx:    true,
		builder: r.builder,
	}
}

// Replace invalidates the account's outstanding tokens of the same purpose and
// stores token. The account row is locked first so concurrent issuance for the
// same account serializes and at most one unused token survives.
func (r *TokenRepository) Replace(ctx context.Context, token domain.Token) (int, error) {
	lockStmt, lockArgs, err := r.builder.Select("id").
		From("auth.accounts").
		Where(squirrel.Eq{"id": token.AccountID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build lock account sql: %w", err)
	}

	deleteStmt, deleteArgs, err := r.builder.Delete("auth.tokens").
		Where(squirrel.Eq{
			"account_id": token.AccountID,
			"purpose":    string(token.Purpose),
			"used":       false,
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete tokens sql: %w", err)
	}

	insertStmt, insertArgs, err := r.builder.Insert("auth.tokens").
		Columns(tokenColumns...).
		Values(
			token.ID,
			token.AccountID,
			token.TokenHash,
			string(token.Purpose),
			token.CreatedAt.UTC(),
			token.ExpiresAt.UTC(),
			false,
			nil,
		).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert token sql: %w", err)
	}

	var removed int
	err = runInTx(ctx, r.db, r.exec, r.inTx, func(exec pgExecutor) error {
		var locked string
		if err := exec.QueryRow(ctx, lockStmt, lockArgs...).Scan(&locked); err != nil {
			return fmt.Errorf("lock account: %w", translateError(err))
		}

		tag, err := exec.Exec(ctx, deleteStmt, deleteArgs...)
		if err != nil {
			return fmt.Errorf("delete outstanding tokens: %w", err)
		}
		removed = int(tag.RowsAffected())

		if _, err := exec.Exec(ctx, insertStmt, insertArgs...); err != nil {
			return fmt.Errorf("insert token: %w", translateError(err))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Redeem flips used to true in a single conditional statement. Exactly one of
// any number of concurrent callers presenting the same value gets redeemed=true.
func (r *TokenRepository) Redeem(ctx context.Context, tokenHash string, purpose domain.TokenPurpose, at time.Time) (*domain.Token, bool, error) {
	stmt, args, err := r.builder.Update("auth.tokens").
		Set("used", true).
		Set("used_at", at.UTC()).
		Where(squirrel.Eq{"token_hash": tokenHash, "purpose": string(purpose), "used": false}).
		Where(squirrel.Gt{"expires_at": at.UTC()}).
		Suffix("RETURNING " + joinColumns(tokenColumns)).
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("build redeem token sql: %w", err)
	}

	token, err := scanToken(r.exec.QueryRow(ctx, stmt, args...))
	if err == nil {
		return token, true, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("redeem token: %w", err)
	}

	existing, err := r.getByHash(ctx, tokenHash, purpose)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *TokenRepository) getByHash(ctx context.Context, tokenHash string, purpose domain.TokenPurpose) (*domain.Token, error) {
	stmt, args, err := r.builder.Select(tokenColumns...).
		From("auth.tokens").
		Where(squirrel.Eq{"token_hash": tokenHash, "purpose": string(purpose)}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select token sql: %w", err)
	}

	token, err := scanToken(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan token: %w", err)
	}
	return token, nil
}

func scanToken(row pgx.Row) (*domain.Token, error) {
	var (
		token   domain.Token
		purpose string
		usedAt  sql.NullTime
	)

	if err := row.Scan(
		&token.ID,
		&token.AccountID,
		&token.TokenHash,
		&purpose,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.Used,
		&usedAt,
	); err != nil {
		return nil, translateError(err)
	}

	parsed, err := domain.ParseTokenPurpose(purpose)
	if err != nil {
		return nil, err
	}
	token.Purpose = parsed
	token.UsedAt = nullableTimePtr(usedAt)
	return &token, nil
}

var _ port.TokenRepository = (*TokenRepository)(nil)
