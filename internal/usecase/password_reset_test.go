package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
	"github.com/iyyansoft/eventzgo-sub003/internal/core/port"
	"github.com/iyyansoft/eventzgo-sub003/internal/infra/security"
)

const newPassword = "N3w!Secret#Phrase"

func TestRequestPasswordResetDoesNotRevealAccounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.verified(t, "alice", "alice@example.com")
	sent := env.notifier.count()

	knownErr := env.auth.RequestPasswordReset(ctx, PasswordResetRequestInput{Email: "alice@example.com"})
	unknownErr := env.auth.RequestPasswordReset(ctx, PasswordResetRequestInput{Email: "nobody@example.com"})
	if knownErr != nil || unknownErr != nil {
		t.Fatalf("expected identical nil responses, got %v and %v", knownErr, unknownErr)
	}

	if env.notifier.count() != sent+1 {
		t.Fatalf("expected exactly one reset notification, got %d", env.notifier.count()-sent)
	}
	if env.store.tokenCount(account.ID, domain.TokenPurposePasswordReset) != 1 {
		t.Fatal("expected a reset token for the known account")
	}
	if len(env.store.eventsOfType(domain.EventPasswordResetRequest)) != 1 {
		t.Fatal("expected a single password_reset_requested event")
	}
}

func TestRequestPasswordResetIsRateLimitedPerEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.verified(t, "alice", "alice@example.com")

	for i := 0; i < 3; i++ {
		if err := env.auth.RequestPasswordReset(ctx, PasswordResetRequestInput{Email: "alice@example.com"}); err != nil {
			t.Fatalf("request #%d: %v", i+1, err)
		}
	}
	err := env.auth.RequestPasswordReset(ctx, PasswordResetRequestInput{Email: "ALICE@example.com"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := env.auth.RequestPasswordReset(ctx, PasswordResetRequestInput{Email: "bob@example.com"}); err != nil {
		t.Fatalf("other emails must not be limited: %v", err)
	}
}

func TestRequestPasswordResetSkipsBlockedAccounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.verified(t, "alice", "alice@example.com")
	if _, err := env.accounts.Block(ctx, account.ID, "fraud", domain.ClientMetadata{}); err != nil {
		t.Fatalf("Block: %v", err)
	}
	sent := env.notifier.count()

	if err := env.auth.RequestPasswordReset(ctx, PasswordResetRequestInput{Email: "alice@example.com"}); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if env.notifier.count() != sent {
		t.Fatal("blocked accounts must not receive reset links")
	}
}

func TestCompletePasswordReset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.verified(t, "alice", "alice@example.com")
	first := env.login(t, "alice", strongPassword)
	second := env.login(t, "alice", strongPassword)

	if err := env.auth.RequestPasswordReset(ctx, PasswordResetRequestInput{Email: "alice@example.com"}); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	token := env.notifier.lastToken(t, port.NotificationPasswordReset)

	_, err := env.auth.CompletePasswordReset(ctx, PasswordResetConfirmInput{Token: token, NewPassword: "weak"})
	var policyErr *PasswordPolicyError
	if !errors.As(err, &policyErr) {
		t.Fatalf("expected PasswordPolicyError, got %v", err)
	}
	stored, ok := env.store.token(security.HashToken(token))
	if !ok || stored.Used {
		t.Fatal("a rejected password must leave the token unconsumed")
	}
	if _, err := env.sessions.Verify(ctx, first.Token); err != nil {
		t.Fatalf("a rejected reset must not revoke sessions: %v", err)
	}

	result, err := env.auth.CompletePasswordReset(ctx, PasswordResetConfirmInput{Token: token, NewPassword: newPassword})
	if err != nil {
		t.Fatalf("CompletePasswordReset: %v", err)
	}
	if result.AccountID != account.ID || result.SessionsRevoked != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	for _, token := range []string{first.Token, second.Token} {
		if _, err := env.sessions.Verify(ctx, token); !errors.Is(err, ErrSessionRevoked) {
			t.Fatalf("expected ErrSessionRevoked after reset, got %v", err)
		}
	}

	if _, err := env.auth.Login(ctx, LoginInput{Identifier: "alice", Password: strongPassword}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	env.login(t, "alice", newPassword)

	_, err = env.auth.CompletePasswordReset(ctx, PasswordResetConfirmInput{Token: token, NewPassword: "An0ther!Phrase#2"})
	if !errors.Is(err, ErrTokenAlreadyUsed) {
		t.Fatalf("expected ErrTokenAlreadyUsed on reuse, got %v", err)
	}

	events := env.store.eventsOfType(domain.EventPasswordReset)
	if len(events) != 1 || events[0].Severity != domain.SeverityWarning {
		t.Fatalf("expected one warning password_reset event, got %+v", events)
	}
}

func TestCompletePasswordResetValidatesPasswordBeforeToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.auth.CompletePasswordReset(ctx, PasswordResetConfirmInput{Token: "not-a-real-token", NewPassword: "weak"})
	var policyErr *PasswordPolicyError
	if !errors.As(err, &policyErr) {
		t.Fatalf("expected PasswordPolicyError for a weak password, got %v", err)
	}
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
	if got := len(env.store.eventsOfType(domain.EventTokenRejected)); got != 0 {
		t.Fatalf("token must not be looked up for a weak password, got %d token_rejected events", got)
	}

	_, err = env.auth.CompletePasswordReset(ctx, PasswordResetConfirmInput{Token: "not-a-real-token", NewPassword: newPassword})
	if !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound with a valid password, got %v", err)
	}
}

func TestCompletePasswordResetRejectsVerificationToken(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.register(t, "alice", "alice@example.com")

	_, err := env.auth.CompletePasswordReset(context.Background(), PasswordResetConfirmInput{Token: token, NewPassword: newPassword})
	if !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("verification tokens must not reset passwords, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.verified(t, "alice", "alice@example.com")
	session := env.login(t, "alice", strongPassword)

	_, err := env.auth.ChangePassword(ctx, PasswordChangeInput{AccountID: account.ID, CurrentPassword: "Wr0ng!Password", NewPassword: newPassword})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	_, err = env.auth.ChangePassword(ctx, PasswordChangeInput{AccountID: account.ID, CurrentPassword: strongPassword, NewPassword: strongPassword})
	var policyErr *PasswordPolicyError
	if !errors.As(err, &policyErr) {
		t.Fatalf("expected PasswordPolicyError, got %v", err)
	}
	if len(policyErr.Violations) != 1 || policyErr.Violations[0].Code != "different" {
		t.Fatalf("expected only the different rule to fail, got %+v", policyErr.Violations)
	}

	result, err := env.auth.ChangePassword(ctx, PasswordChangeInput{AccountID: account.ID, CurrentPassword: strongPassword, NewPassword: newPassword})
	if err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if result.SessionsRevoked != 1 {
		t.Fatalf("expected 1 revoked session, got %d", result.SessionsRevoked)
	}
	if _, err := env.sessions.Verify(ctx, session.Token); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
	env.login(t, "alice", newPassword)

	if _, err := env.auth.ChangePassword(ctx, PasswordChangeInput{AccountID: "missing", CurrentPassword: "x", NewPassword: newPassword}); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}
