package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
	"github.com/iyyansoft/eventzgo-sub003/internal/core/port"
	"github.com/iyyansoft/eventzgo-sub003/internal/repository"
)

// AccountService drives onboarding and administrative status changes.
type AccountService struct {
	accounts     port.AccountRepository
	sessions     *SessionManager
	audit        *SecurityAuditLogger
	logger       *zap.Logger
	now          func() time.Time
	storeTimeout time.Duration
}

// NewAccountService constructs an AccountService.
func NewAccountService(accounts port.AccountRepository, sessions *SessionManager, audit *SecurityAuditLogger, storeTimeout time.Duration, logger *zap.Logger) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{
		accounts:     accounts,
		sessions:     sessions,
		audit:        audit,
		logger:       logger,
		now:          time.Now,
		storeTimeout: storeTimeout,
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *AccountService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Get returns the account without its password hash.
func (s *AccountService) Get(ctx context.Context, accountID string) (*domain.Account, error) {
	ctx, cancel := boundContext(ctx, s.storeTimeout)
	defer cancel()

	account, err := s.load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	account.PasswordHash = ""
	return account, nil
}

// CompleteSetup finishes onboarding, optionally routing the account through approval.
func (s *AccountService) CompleteSetup(ctx context.Context, accountID string, requireApproval bool, client domain.ClientMetadata) (*domain.Account, error) {
	target := domain.AccountStatusActive
	if requireApproval {
		target = domain.AccountStatusPendingApproval
	}
	return s.change(ctx, accountID, target, client, "onboarding completed", "", domain.EventAccountStatusChanged, domain.SeverityInfo, false)
}

// Approve activates an account waiting for administrator approval.
func (s *AccountService) Approve(ctx context.Context, accountID string, client domain.ClientMetadata) (*domain.Account, error) {
	return s.change(ctx, accountID, domain.AccountStatusActive, client, "account approved", "", domain.EventAccountStatusChanged, domain.SeverityInfo, false)
}

// Suspend restricts the account and revokes its sessions.
func (s *AccountService) Suspend(ctx context.Context, accountID, reason string, client domain.ClientMetadata) (*domain.Account, error) {
	return s.change(ctx, accountID, domain.AccountStatusSuspended, client, "account suspended", reason, domain.EventAccountSuspended, domain.SeverityWarning, true)
}

// Block restricts the account permanently until reinstated and revokes its sessions.
func (s *AccountService) Block(ctx context.Context, accountID, reason string, client domain.ClientMetadata) (*domain.Account, error) {
	return s.change(ctx, accountID, domain.AccountStatusBlocked, client, "account blocked", reason, domain.EventAccountBlocked, domain.SeverityCritical, true)
}

// Reinstate lifts a suspension or block.
func (s *AccountService) Reinstate(ctx context.Context, accountID string, client domain.ClientMetadata) (*domain.Account, error) {
	return s.change(ctx, accountID, domain.AccountStatusActive, client, "account reinstated", "", domain.EventAccountReinstated, domain.SeverityWarning, false)
}

func (s *AccountService) change(ctx context.Context, accountID string, to domain.AccountStatus, client domain.ClientMetadata, description, reason, eventType string, severity domain.Severity, revokeSessions bool) (*domain.Account, error) {
	storeCtx, cancel := boundContext(ctx, s.storeTimeout)
	defer cancel()

	account, err := s.load(storeCtx, accountID)
	if err != nil {
		return nil, err
	}
	from := account.Status
	if err := transitionAccount(storeCtx, s.accounts, account, to, s.now().UTC()); err != nil {
		return nil, err
	}

	metadata := map[string]any{"from": string(from), "to": string(to)}
	if eventType == domain.EventAccountReinstated {
		metadata = map[string]any{"previous_status": string(from)}
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		metadata["reason"] = reason
	}

	if revokeSessions && s.sessions != nil {
		revoked, err := s.sessions.RevokeAll(ctx, account.ID, string(to), client)
		if err != nil {
			return nil, err
		}
		metadata["sessions_revoked"] = revoked
	}

	s.logger.Info("account status changed",
		zap.String("account_id", account.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	s.audit.Record(ctx, securityEvent(eventType, domain.EventCategoryAccount, severity, account.ID, client, description, metadata))

	account.PasswordHash = ""
	return account, nil
}

func (s *AccountService) load(ctx context.Context, accountID string) (*domain.Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	return account, nil
}

// transitionAccount applies the transition table and a compare-and-set write.
// On success account.Status reflects the new state.
func transitionAccount(ctx context.Context, accounts port.AccountRepository, account *domain.Account, to domain.AccountStatus, at time.Time) error {
	if err := account.Status.ValidateTransition(to); err != nil {
		return err
	}
	if err := accounts.UpdateStatus(ctx, account.ID, account.Status, to, at); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return ErrConcurrentUpdate
		}
		return fmt.Errorf("update account status: %w", err)
	}
	account.Status = to
	account.UpdatedAt = at
	return nil
}
