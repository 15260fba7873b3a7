package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
	"github.com/iyyansoft/eventzgo-sub003/internal/core/port"
	"github.com/iyyansoft/eventzgo-sub003/internal/infra/logger"
	"github.com/iyyansoft/eventzgo-sub003/internal/infra/security"
	"github.com/iyyansoft/eventzgo-sub003/internal/repository"
)

// PasswordResetRequestInput carries a reset request.
type PasswordResetRequestInput struct {
	Email  string
	Client domain.ClientMetadata
}

// PasswordResetConfirmInput carries the token and replacement password.
type PasswordResetConfirmInput struct {
	Token       string
	NewPassword string
	Client      domain.ClientMetadata
}

// PasswordChangeInput carries an authenticated password change.
type PasswordChangeInput struct {
	AccountID       string
	CurrentPassword string
	NewPassword     string
	Client          domain.ClientMetadata
}

// PasswordChangeResult summarizes a completed reset or change.
type PasswordChangeResult struct {
	AccountID       string
	SessionsRevoked int
}

// RequestPasswordReset issues a reset link when the email belongs to an account.
// Known and unknown addresses produce the same nil result.
func (s *AuthService) RequestPasswordReset(ctx context.Context, input PasswordResetRequestInput) error {
	email := strings.TrimSpace(input.Email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrValidationFailed)
	}

	if err := s.enforce(ctx, email, domain.RateLimitActionPasswordReset, input.Client); err != nil {
		return err
	}
	if _, err := s.limiter.RecordAttempt(ctx, email, domain.RateLimitActionPasswordReset); err != nil {
		return err
	}

	storeCtx, cancel := boundContext(ctx, s.policy.StoreTimeout)
	defer cancel()

	account, err := s.accounts.GetByEmail(storeCtx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Debug("password reset for unknown email", zap.String("email", logger.MaskEmail(email)))
			return nil
		}
		return fmt.Errorf("lookup account: %w", err)
	}
	if account.Status == domain.AccountStatusBlocked {
		s.logger.Info("password reset suppressed for blocked account", zap.String("account_id", account.ID))
		return nil
	}

	issued, err := s.tokens.Issue(storeCtx, account.ID, domain.TokenPurposePasswordReset)
	if err != nil {
		return err
	}

	notification, err := s.composer.PasswordReset(account.Email, account.Username, issued.Value, issued.Token.ExpiresAt)
	if err != nil {
		s.logger.Error("render password reset notification failed", zap.String("account_id", account.ID), zap.Error(err))
	} else {
		s.dispatch(ctx, account.ID, notification)
	}

	s.audit.Record(ctx, securityEvent(domain.EventPasswordResetRequest, domain.EventCategoryCredential, domain.SeverityInfo,
		account.ID, input.Client, "password reset requested", nil))
	return nil
}

// CompletePasswordReset redeems the reset token, replaces the password and revokes
// every session in one transaction. Policy rules that need no account run before the
// token is looked up. Username and email rules run inside the transaction, and a
// rejection there rolls the redemption back so the token stays usable.
func (s *AuthService) CompletePasswordReset(ctx context.Context, input PasswordResetConfirmInput) (*PasswordChangeResult, error) {
	if input.NewPassword == "" {
		return nil, fmt.Errorf("%w: new password is required", ErrValidationFailed)
	}
	if result := s.validator.ValidatePassword(input.NewPassword, "", ""); !result.Valid {
		return nil, &PasswordPolicyError{Violations: result.Violations}
	}

	storeCtx, cancel := boundContext(ctx, s.policy.StoreTimeout)
	defer cancel()

	result := &PasswordChangeResult{}
	err := s.tx.WithinTx(storeCtx, func(ctx context.Context, repos port.TxRepositories) error {
		accountID, err := s.tokens.redeemWith(ctx, repos.Tokens, input.Token, domain.TokenPurposePasswordReset)
		if err != nil {
			return err
		}

		account, err := repos.Accounts.GetByID(ctx, accountID)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}

		if err := s.checkNewPassword(input.NewPassword, account); err != nil {
			return err
		}

		revoked, err := s.replacePassword(ctx, repos, account.ID, input.NewPassword)
		if err != nil {
			return err
		}
		result.AccountID = account.ID
		result.SessionsRevoked = revoked
		return nil
	})
	if err != nil {
		s.recordTokenRejected(ctx, domain.TokenPurposePasswordReset, input.Client, err)
		return nil, err
	}

	s.sessions.RecordRevokedAll(ctx, result.AccountID, "password_reset", result.SessionsRevoked, input.Client)
	s.audit.Record(ctx, securityEvent(domain.EventPasswordReset, domain.EventCategoryCredential, domain.SeverityWarning,
		result.AccountID, input.Client, "password reset completed", map[string]any{"sessions_revoked": result.SessionsRevoked}))
	return result, nil
}

// ChangePassword replaces the password of an authenticated account after checking the current one.
func (s *AuthService) ChangePassword(ctx context.Context, input PasswordChangeInput) (*PasswordChangeResult, error) {
	storeCtx, cancel := boundContext(ctx, s.policy.StoreTimeout)
	defer cancel()

	account, err := s.accounts.GetByID(storeCtx, input.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}

	ok, err := s.hasher.Verify(input.CurrentPassword, account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	if err := s.checkNewPassword(input.NewPassword, account, security.RequireDifferentFrom(input.CurrentPassword)); err != nil {
		return nil, err
	}

	result := &PasswordChangeResult{AccountID: account.ID}
	err = s.tx.WithinTx(storeCtx, func(ctx context.Context, repos port.TxRepositories) error {
		revoked, err := s.replacePassword(ctx, repos, account.ID, input.NewPassword)
		result.SessionsRevoked = revoked
		return err
	})
	if err != nil {
		return nil, err
	}

	s.sessions.RecordRevokedAll(ctx, account.ID, "password_changed", result.SessionsRevoked, input.Client)
	s.audit.Record(ctx, securityEvent(domain.EventPasswordChanged, domain.EventCategoryCredential, domain.SeverityWarning,
		account.ID, input.Client, "password changed", map[string]any{"sessions_revoked": result.SessionsRevoked}))
	return result, nil
}

func (s *AuthService) checkNewPassword(password string, account *domain.Account, extra ...security.PasswordRule) error {
	result := s.validator.ValidatePassword(password, account.Username, account.Email)
	violations := result.Violations
	for _, rule := range extra {
		if err := rule.Validate(password, security.CredentialContext{Username: account.Username, Email: account.Email}); err != nil {
			var vErr *security.PasswordValidationError
			if errors.As(err, &vErr) {
				violations = append(violations, *vErr)
			} else {
				violations = append(violations, security.PasswordValidationError{Code: "invalid", Message: err.Error()})
			}
		}
	}
	if len(violations) > 0 {
		return &PasswordPolicyError{Violations: violations}
	}
	return nil
}

func (s *AuthService) replacePassword(ctx context.Context, repos port.TxRepositories, accountID, password string) (int, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	if err := repos.Accounts.UpdatePassword(ctx, accountID, hash, s.now().UTC()); err != nil {
		return 0, fmt.Errorf("update password: %w", err)
	}
	return s.sessions.revokeAllWith(ctx, repos.Sessions, accountID)
}
