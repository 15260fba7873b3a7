package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
	"github.com/iyyansoft/eventzgo-sub003/internal/core/port"
	"github.com/iyyansoft/eventzgo-sub003/internal/infra/logger"
	"github.com/iyyansoft/eventzgo-sub003/internal/infra/security"
	"github.com/iyyansoft/eventzgo-sub003/internal/repository"
)

const defaultMaxFailedLogins = 10

// AuthPolicy holds facade-level tunables.
type AuthPolicy struct {
	// MaxFailedLogins suspends the account once its consecutive failures reach this value. Zero uses the default.
	MaxFailedLogins int
	StoreTimeout    time.Duration
}

// AuthDependencies bundles the collaborators composed by AuthService.
type AuthDependencies struct {
	Accounts   port.AccountRepository
	Transactor port.Transactor
	Hasher     port.PasswordHasher
	Validator  *security.CredentialValidator
	Limiter    *RateLimiter
	Tokens     *TokenIssuer
	Sessions   *SessionManager
	Audit      *SecurityAuditLogger
	Notifier   port.NotificationDispatcher
	Composer   *NotificationComposer
	Metrics    port.AuthMetrics
}

// AuthService composes registration, verification, login, logout and password flows.
type AuthService struct {
	accounts  port.AccountRepository
	tx        port.Transactor
	hasher    port.PasswordHasher
	validator *security.CredentialValidator
	limiter   *RateLimiter
	tokens    *TokenIssuer
	sessions  *SessionManager
	audit     *SecurityAuditLogger
	notifier  port.NotificationDispatcher
	composer  *NotificationComposer
	metrics   port.AuthMetrics
	policy    AuthPolicy
	logger    *zap.Logger
	now       func() time.Time
	dummyHash string
}

// RegisterInput carries the registration form.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Client   domain.ClientMetadata
}

// RegisterResult describes the created account. The verification token is only delivered by notification.
type RegisterResult struct {
	Account               domain.Account
	VerificationExpiresAt time.Time
}

// LoginInput carries a login attempt.
type LoginInput struct {
	Identifier string
	Password   string
	Client     domain.ClientMetadata
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	Account domain.Account
	Token   string
	Session domain.Session
}

// NewAuthService constructs an AuthService.
func NewAuthService(deps AuthDependencies, policy AuthPolicy, log *zap.Logger) (*AuthService, error) {
	if deps.Accounts == nil || deps.Transactor == nil || deps.Hasher == nil {
		return nil, errors.New("auth service requires accounts, transactor and hasher")
	}
	if deps.Limiter == nil || deps.Tokens == nil || deps.Sessions == nil {
		return nil, errors.New("auth service requires limiter, token issuer and session manager")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Validator == nil {
		deps.Validator = security.DefaultCredentialValidator()
	}
	if deps.Composer == nil {
		deps.Composer = NewNotificationComposer("")
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if policy.MaxFailedLogins <= 0 {
		policy.MaxFailedLogins = defaultMaxFailedLogins
	}

	svc := &AuthService{
		accounts:  deps.Accounts,
		tx:        deps.Transactor,
		hasher:    deps.Hasher,
		validator: deps.Validator,
		limiter:   deps.Limiter,
		tokens:    deps.Tokens,
		sessions:  deps.Sessions,
		audit:     deps.Audit,
		notifier:  deps.Notifier,
		composer:  deps.Composer,
		metrics:   deps.Metrics,
		policy:    policy,
		logger:    log,
		now:       time.Now,
	}

	// Unknown identifiers are verified against this hash so they cost as much as wrong passwords.
	if hash, err := deps.Hasher.Hash(uuid.NewString()); err == nil {
		svc.dummyHash = hash
	}
	return svc, nil
}

// WithClock overrides the internal clock for deterministic tests.
func (s *AuthService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Register creates an account in pending_verification and sends its verification link.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*RegisterResult, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.TrimSpace(input.Email)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrValidationFailed)
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, fmt.Errorf("%w: email address is invalid", ErrValidationFailed)
	}

	if result := s.validator.ValidatePassword(input.Password, username, email); !result.Valid {
		return nil, &PasswordPolicyError{Violations: result.Violations}
	}

	passwordHash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	account := domain.Account{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Status:       domain.AccountStatusPendingVerification,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	storeCtx, cancel := boundContext(ctx, s.policy.StoreTimeout)
	defer cancel()

	var issued domain.IssuedToken
	err = s.tx.WithinTx(storeCtx, func(ctx context.Context, repos port.TxRepositories) error {
		if err := repos.Accounts.Create(ctx, account); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrAccountExists
			}
			return fmt.Errorf("create account: %w", err)
		}
		var err error
		issued, err = s.tokens.issueWith(ctx, repos.Tokens, account.ID, domain.TokenPurposeEmailVerification)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.dispatchVerification(ctx, account, issued)
	s.audit.Record(ctx, securityEvent(domain.EventAccountCreated, domain.EventCategoryAccount, domain.SeverityInfo,
		account.ID, input.Client, "account registered", map[string]any{"username": account.Username}))

	account.PasswordHash = ""
	return &RegisterResult{Account: account, VerificationExpiresAt: issued.Token.ExpiresAt}, nil
}

// VerifyEmail redeems a verification token and advances the account to pending_setup
// in the same transaction.
func (s *AuthService) VerifyEmail(ctx context.Context, token string, client domain.ClientMetadata) (*domain.Account, error) {
	storeCtx, cancel := boundContext(ctx, s.policy.StoreTimeout)
	defer cancel()

	var account *domain.Account
	err := s.tx.WithinTx(storeCtx, func(ctx context.Context, repos port.TxRepositories) error {
		accountID, err := s.tokens.redeemWith(ctx, repos.Tokens, token, domain.TokenPurposeEmailVerification)
		if err != nil {
			return err
		}
		account, err = repos.Accounts.GetByID(ctx, accountID)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}
		if err := transitionAccount(ctx, repos.Accounts, account, domain.AccountStatusPendingSetup, s.now().UTC()); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		s.recordTokenRejected(ctx, domain.TokenPurposeEmailVerification, client, err)
		return nil, err
	}

	s.audit.Record(ctx, securityEvent(domain.EventEmailVerified, domain.EventCategoryAccount, domain.SeverityInfo,
		account.ID, client, "email address verified", nil))

	account.PasswordHash = ""
	return account, nil
}

// ResendVerification reissues the verification link. The response never reveals whether
// the address is registered.
func (s *AuthService) ResendVerification(ctx context.Context, email string, client domain.ClientMetadata) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrValidationFailed)
	}

	if err := s.enforce(ctx, email, domain.RateLimitActionVerificationResend, client); err != nil {
		return err
	}
	if _, err := s.limiter.RecordAttempt(ctx, email, domain.RateLimitActionVerificationResend); err != nil {
		return err
	}

	storeCtx, cancel := boundContext(ctx, s.policy.StoreTimeout)
	defer cancel()

	account, err := s.accounts.GetByEmail(storeCtx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Debug("verification resend for unknown email", zap.String("email", logger.MaskEmail(email)))
			return nil
		}
		return fmt.Errorf("load account: %w", err)
	}
	if account.Status != domain.AccountStatusPendingVerification {
		return nil
	}

	issued, err := s.tokens.Issue(storeCtx, account.ID, domain.TokenPurposeEmailVerification)
	if err != nil {
		return err
	}

	s.dispatchVerification(ctx, *account, issued)
	s.audit.Record(ctx, securityEvent(domain.EventVerificationResent, domain.EventCategoryAccount, domain.SeverityInfo,
		account.ID, client, "verification link reissued", nil))
	return nil
}

// Login authenticates identifier and password and opens a session.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	identifier := strings.TrimSpace(input.Identifier)
	if identifier == "" || input.Password == "" {
		return nil, ErrInvalidCredentials
	}

	if err := s.enforce(ctx, identifier, domain.RateLimitActionLogin, input.Client); err != nil {
		s.metrics.ObserveLogin("rate_limited")
		return nil, err
	}

	storeCtx, cancel := boundContext(ctx, s.policy.StoreTimeout)
	defer cancel()

	account, err := s.accounts.GetByIdentifier(storeCtx, identifier)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("lookup account: %w", err)
		}
		if s.dummyHash != "" {
			_, _ = s.hasher.Verify(input.Password, s.dummyHash)
		}
		return nil, s.rejectLogin(ctx, identifier, nil, input.Client, "unknown_identifier")
	}

	// Username and email share one budget once the account is known.
	if alias, ok := accountAlias(identifier, account); ok {
		if err := s.enforce(ctx, alias, domain.RateLimitActionLogin, input.Client); err != nil {
			s.metrics.ObserveLogin("rate_limited")
			return nil, err
		}
	}

	ok, err := s.hasher.Verify(input.Password, account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, s.rejectLogin(ctx, identifier, account, input.Client, "invalid_password")
	}

	if !account.Status.CanLogin() {
		s.metrics.ObserveLogin("account_not_active")
		s.audit.Record(ctx, securityEvent(domain.EventLoginFailed, domain.EventCategoryAuthentication, domain.SeverityWarning,
			account.ID, input.Client, "login refused for account status",
			map[string]any{"identifier": identifier, "reason": "account_not_active", "status": string(account.Status)}))
		return nil, ErrAccountNotActive
	}

	now := s.now().UTC()
	if err := s.accounts.RecordLoginSuccess(storeCtx, account.ID, now); err != nil {
		return nil, fmt.Errorf("record login success: %w", err)
	}

	issued, err := s.sessions.Create(ctx, account.ID, input.Client)
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveLogin("success")
	s.audit.Record(ctx, securityEvent(domain.EventLoginSuccess, domain.EventCategoryAuthentication, domain.SeverityInfo,
		account.ID, input.Client, "login succeeded", map[string]any{"session_id": issued.Session.ID}))

	account.PasswordHash = ""
	account.FailedLoginAttempts = 0
	account.LastLoginAt = &now
	return &LoginResult{Account: *account, Token: issued.Token, Session: issued.Session}, nil
}

// rejectLogin records a failed attempt and applies the suspension policy. It always
// returns ErrInvalidCredentials unless a store call fails.
func (s *AuthService) rejectLogin(ctx context.Context, identifier string, account *domain.Account, client domain.ClientMetadata, reason string) error {
	s.metrics.ObserveLogin("invalid_credentials")
	if _, err := s.limiter.RecordAttempt(ctx, identifier, domain.RateLimitActionLogin); err != nil {
		return err
	}
	if alias, ok := accountAlias(identifier, account); ok {
		if _, err := s.limiter.RecordAttempt(ctx, alias, domain.RateLimitActionLogin); err != nil {
			return err
		}
	}

	metadata := map[string]any{"identifier": identifier, "reason": reason}
	if account == nil {
		s.audit.Record(ctx, securityEvent(domain.EventLoginFailed, domain.EventCategoryAuthentication, domain.SeverityWarning,
			"", client, "login failed", metadata))
		return ErrInvalidCredentials
	}

	storeCtx, cancel := boundContext(ctx, s.policy.StoreTimeout)
	defer cancel()

	now := s.now().UTC()
	attempts, err := s.accounts.RecordLoginFailure(storeCtx, account.ID, now)
	if err != nil {
		return fmt.Errorf("record login failure: %w", err)
	}
	metadata["failed_attempts"] = attempts
	s.audit.Record(ctx, securityEvent(domain.EventLoginFailed, domain.EventCategoryAuthentication, domain.SeverityWarning,
		account.ID, client, "login failed", metadata))

	if attempts >= s.policy.MaxFailedLogins && account.Status.CanTransitionTo(domain.AccountStatusSuspended) {
		if err := s.suspendForFailures(ctx, account, attempts, client); err != nil {
			return err
		}
	}
	return ErrInvalidCredentials
}

// accountAlias returns the account email when the caller logged in with a
// different identifier, so attempts can be counted against both keys.
func accountAlias(identifier string, account *domain.Account) (string, bool) {
	if account == nil || account.Email == "" {
		return "", false
	}
	if normalizeIdentifier(account.Email) == normalizeIdentifier(identifier) {
		return "", false
	}
	return account.Email, true
}

func (s *AuthService) suspendForFailures(ctx context.Context, account *domain.Account, attempts int, client domain.ClientMetadata) error {
	storeCtx, cancel := boundContext(ctx, s.policy.StoreTimeout)
	defer cancel()

	err := transitionAccount(storeCtx, s.accounts, account, domain.AccountStatusSuspended, s.now().UTC())
	if errors.Is(err, ErrConcurrentUpdate) {
		// Another request already moved the account; nothing left to do.
		return nil
	}
	if err != nil {
		return err
	}

	revoked, err := s.sessions.RevokeAll(ctx, account.ID, "account_suspended", client)
	if err != nil {
		return err
	}

	s.logger.Warn("account suspended after repeated login failures",
		zap.String("account_id", account.ID),
		zap.Int("failed_attempts", attempts),
	)
	s.audit.Record(ctx, securityEvent(domain.EventAccountSuspended, domain.EventCategoryAbuse, domain.SeverityCritical,
		account.ID, client, "account suspended after repeated login failures",
		map[string]any{"reason": "max_failed_logins", "failed_attempts": attempts, "sessions_revoked": revoked}))
	return nil
}

// Authenticate resolves a bearer session token and records the activity.
func (s *AuthService) Authenticate(ctx context.Context, token string, client domain.ClientMetadata) (*domain.Session, error) {
	session, err := s.sessions.Verify(ctx, token)
	if err == nil {
		err = s.sessions.Touch(ctx, token)
	}
	if err != nil {
		s.recordSessionRejected(ctx, session, client, err)
		return nil, err
	}
	return session, nil
}

func (s *AuthService) recordSessionRejected(ctx context.Context, session *domain.Session, client domain.ClientMetadata, err error) {
	kind := KindOf(err)
	switch kind {
	case KindSessionRevoked, KindSessionExpired, KindSessionIdleTimeout:
	default:
		return
	}
	accountID := ""
	if session != nil {
		accountID = session.AccountID
	}
	s.audit.Record(ctx, securityEvent(domain.EventSessionRejected, domain.EventCategorySession, domain.SeverityWarning,
		accountID, client, "session token rejected", map[string]any{"reason": string(kind)}))
}

// Logout revokes the session behind token.
func (s *AuthService) Logout(ctx context.Context, token string, client domain.ClientMetadata) error {
	return s.sessions.Revoke(ctx, token, client)
}

// LogoutAll revokes every session of the account and returns how many were active.
func (s *AuthService) LogoutAll(ctx context.Context, accountID string, client domain.ClientMetadata) (int, error) {
	return s.sessions.RevokeAll(ctx, accountID, "logout_all", client)
}

// ListSessions returns the account's usable sessions.
func (s *AuthService) ListSessions(ctx context.Context, accountID string) ([]domain.Session, error) {
	return s.sessions.ListActive(ctx, accountID)
}

// RevokeSession revokes one session owned by the account.
func (s *AuthService) RevokeSession(ctx context.Context, accountID, sessionID string, client domain.ClientMetadata) error {
	return s.sessions.RevokeByID(ctx, accountID, sessionID, client)
}

// enforce checks the limiter and audits a denial.
func (s *AuthService) enforce(ctx context.Context, identifier string, action domain.RateLimitAction, client domain.ClientMetadata) error {
	err := s.limiter.Enforce(ctx, identifier, action)
	var rateErr *RateLimitExceededError
	if errors.As(err, &rateErr) {
		s.metrics.ObserveRateLimited(string(action))
		s.audit.Record(ctx, securityEvent(domain.EventRateLimited, domain.EventCategoryAbuse, domain.SeverityWarning,
			"", client, "rate limit exceeded", map[string]any{
				"identifier":          identifier,
				"action":              string(action),
				"retry_after_seconds": int(rateErr.RetryAfter.Seconds()),
			}))
	}
	return err
}

func (s *AuthService) recordTokenRejected(ctx context.Context, purpose domain.TokenPurpose, client domain.ClientMetadata, err error) {
	kind := KindOf(err)
	switch kind {
	case KindTokenNotFound, KindTokenExpired, KindTokenAlreadyUsed:
	default:
		return
	}
	s.audit.Record(ctx, securityEvent(domain.EventTokenRejected, domain.EventCategoryCredential, domain.SeverityWarning,
		"", client, "token rejected", map[string]any{"purpose": string(purpose), "reason": string(kind)}))
}

func (s *AuthService) dispatchVerification(ctx context.Context, account domain.Account, issued domain.IssuedToken) {
	notification, err := s.composer.Verification(account.Email, account.Username, issued.Value, issued.Token.ExpiresAt)
	if err != nil {
		s.logger.Error("render verification notification failed", zap.String("account_id", account.ID), zap.Error(err))
		return
	}
	s.dispatch(ctx, account.ID, notification)
}

func (s *AuthService) dispatch(ctx context.Context, accountID string, notification port.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Dispatch(ctx, notification); err != nil {
		s.logger.Error("dispatch notification failed",
			zap.String("account_id", accountID),
			zap.String("kind", string(notification.Kind)),
			zap.Error(err),
		)
	}
}
