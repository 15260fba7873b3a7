package domain

import (
	"errors"
	"fmt"
	"time"
)

// AccountStatus enumerates the lifecycle states of an account.
type AccountStatus string

const (
	AccountStatusPendingVerification AccountStatus = "pending_verification"
	AccountStatusPendingSetup        AccountStatus = "pending_setup"
	AccountStatusPendingApproval     AccountStatus = "pending_approval"
	AccountStatusActive              AccountStatus = "active"
	AccountStatusSuspended           AccountStatus = "suspended"
	AccountStatusBlocked             AccountStatus = "blocked"
)

// ErrInvalidStatusTransition indicates the requested status change is not allowed.
var ErrInvalidStatusTransition = errors.New("invalid account status transition")

// statusTransitions lists the allowed target states for every source state.
var statusTransitions = map[AccountStatus][]AccountStatus{
	AccountStatusPendingVerification: {AccountStatusPendingSetup, AccountStatusSuspended, AccountStatusBlocked},
	AccountStatusPendingSetup:        {AccountStatusPendingApproval, AccountStatusActive, AccountStatusSuspended, AccountStatusBlocked},
	AccountStatusPendingApproval:     {AccountStatusActive, AccountStatusSuspended, AccountStatusBlocked},
	AccountStatusActive:              {AccountStatusSuspended, AccountStatusBlocked},
	AccountStatusSuspended:           {AccountStatusActive, AccountStatusBlocked},
	AccountStatusBlocked:             {AccountStatusActive},
}

// ParseAccountStatus converts a persisted value into an AccountStatus.
func ParseAccountStatus(value string) (AccountStatus, error) {
	status := AccountStatus(value)
	if _, ok := statusTransitions[status]; !ok {
		return "", fmt.Errorf("unknown account status %q", value)
	}
	return status, nil
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s AccountStatus) CanTransitionTo(next AccountStatus) bool {
	for _, candidate := range statusTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidStatusTransition when s cannot move to next.
func (s AccountStatus) ValidateTransition(next AccountStatus) error {
	if !s.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, s, next)
	}
	return nil
}

// CanLogin reports whether an account in this status may open sessions.
func (s AccountStatus) CanLogin() bool {
	switch s {
	case AccountStatusPendingSetup, AccountStatusPendingApproval, AccountStatusActive:
		return true
	default:
		return false
	}
}

// Account mirrors the persisted representation in the accounts table.
type Account struct {
	ID                  string
	Username            string
	Email               string
	PasswordHash        string
	Status              AccountStatus
	FailedLoginAttempts int
	LastLoginAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// EmailLocalPart extracts the mailbox name from an email address. It returns
// an empty string when the address has no @ sign.
func EmailLocalPart(email string) string {
	for i := 0; i < len(email); i++ {
		if email[i] == '@' {
			return email[:i]
		}
	}
	return ""
}
