package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
	"github.com/iyyansoft/eventzgo-sub003/internal/repository"
)

func testToken() domain.Token {
	return domain.Token{
		ID:        "tok-2",
		AccountID: "acc-1",
		TokenHash: "hash-2",
		Purpose:   domain.TokenPurposePasswordReset,
		CreatedAt: fixedNow,
		ExpiresAt: fixedNow.Add(24 * time.Hour),
	}
}

func TestTokenRepository_ReplaceLocksAccountAndSupersedes(t *testing.T) {
	mock := newMockPool(t)
	repo := NewTokenRepository(mock)
	token := testToken()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM auth\.accounts WHERE id = \$1 FOR UPDATE`).
		WithArgs("acc-1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("acc-1"))
	mock.ExpectExec(`DELETE FROM auth\.tokens WHERE account_id = \$1 AND purpose = \$2 AND used = \$3`).
		WithArgs("acc-1", "password_reset", false).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO auth\.tokens`).
		WithArgs("tok-2", "acc-1", "hash-2", "password_reset", fixedNow, fixedNow.Add(24*time.Hour), false, nil).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	removed, err := repo.Replace(context.Background(), token)
	if err != nil {
		t.Fatalf("Replace returned error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 superseded token, got %d", removed)
	}
}

func TestTokenRepository_ReplaceUnknownAccountRollsBack(t *testing.T) {
	mock := newMockPool(t)
	repo := NewTokenRepository(mock)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM auth\.accounts WHERE id = \$1 FOR UPDATE`).
		WithArgs("acc-1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	if _, err := repo.Replace(context.Background(), testToken()); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTokenRepository_ReplaceWithinTxUsesCallerTransaction(t *testing.T) {
	mock := newMockPool(t)
	repo := NewTokenRepository(mock)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM auth\.accounts`).
		WithArgs("acc-1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("acc-1"))
	mock.ExpectExec(`DELETE FROM auth\.tokens`).
		WithArgs("acc-1", "password_reset", false).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO auth\.tokens`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := mock.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	if _, err := repo.WithTx(tx).Replace(ctx, testToken()); err != nil {
		t.Fatalf("Replace returned error: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}
}

func TestTokenRepository_RedeemSucceeds(t *testing.T) {
	mock := newMockPool(t)
	repo := NewTokenRepository(mock)

	rows := pgxmock.NewRows(tokenColumns).
		AddRow("tok-1", "acc-1", "hash-1", "email_verification", fixedNow.Add(-time.Hour), fixedNow.Add(time.Hour), true, fixedNow)

	mock.ExpectQuery(`UPDATE auth\.tokens SET used = \$1, used_at = \$2 WHERE purpose = \$3 AND token_hash = \$4 AND used = \$5 AND expires_at > \$6 RETURNING`).
		WithArgs(true, fixedNow, "email_verification", "hash-1", false, fixedNow).
		WillReturnRows(rows)

	token, redeemed, err := repo.Redeem(context.Background(), "hash-1", domain.TokenPurposeEmailVerification, fixedNow)
	if err != nil {
		t.Fatalf("Redeem returned error: %v", err)
	}
	if !redeemed {
		t.Fatalf("expected token to be redeemed")
	}
	if token.AccountID != "acc-1" || token.UsedAt == nil {
		t.Fatalf("unexpected token %+v", token)
	}
}

func TestTokenRepository_RedeemReportsExistingWhenAlreadyUsed(t *testing.T) {
	mock := newMockPool(t)
	repo := NewTokenRepository(mock)

	mock.ExpectQuery(`UPDATE auth\.tokens SET used`).
		WithArgs(true, fixedNow, "password_reset", "hash-1", false, fixedNow).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT .+ FROM auth\.tokens WHERE purpose = \$1 AND token_hash = \$2 LIMIT 1`).
		WithArgs("password_reset", "hash-1").
		WillReturnRows(pgxmock.NewRows(tokenColumns).
			AddRow("tok-1", "acc-1", "hash-1", "password_reset", fixedNow.Add(-time.Hour), fixedNow.Add(time.Hour), true, fixedNow.Add(-time.Minute)))

	token, redeemed, err := repo.Redeem(context.Background(), "hash-1", domain.TokenPurposePasswordReset, fixedNow)
	if err != nil {
		t.Fatalf("Redeem returned error: %v", err)
	}
	if redeemed {
		t.Fatalf("expected second redemption to fail")
	}
	if !token.Used {
		t.Fatalf("expected existing token to be reported as used")
	}
}

func TestTokenRepository_RedeemUnknownToken(t *testing.T) {
	mock := newMockPool(t)
	repo := NewTokenRepository(mock)

	mock.ExpectQuery(`UPDATE auth\.tokens SET used`).
		WithArgs(true, fixedNow, "password_reset", "nope", false, fixedNow).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT .+ FROM auth\.tokens`).
		WithArgs("password_reset", "nope").
		WillReturnError(pgx.ErrNoRows)

	if _, _, err := repo.Redeem(context.Background(), "nope", domain.TokenPurposePasswordReset, fixedNow); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
