package usecase

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
	"github.com/iyyansoft/eventzgo-sub003/internal/infra/security"
)

var (
	// ErrValidationFailed indicates caller input broke a policy rule.
	ErrValidationFailed = errors.New("validation failed")
	// ErrRateLimited indicates too many attempts inside the current window.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidCredentials covers both unknown identifiers and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountNotActive indicates the account status does not permit the operation.
	ErrAccountNotActive = errors.New("account is not active")
	// ErrAccountNotFound indicates an administrative operation targeted a missing account.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists indicates the username or email is already registered.
	ErrAccountExists = errors.New("account already exists")
	// ErrConcurrentUpdate indicates the account changed between read and write.
	ErrConcurrentUpdate = errors.New("account was modified concurrently")

	ErrTokenNotFound    = errors.New("token not found")
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenAlreadyUsed = errors.New("token already used")

	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session expired")
	ErrSessionIdleTimeout = errors.New("session idle timeout")
	ErrSessionRevoked     = errors.New("session revoked")
)

// PasswordPolicyError carries every violated password rule.
type PasswordPolicyError struct {
	Violations []security.PasswordValidationError
}

func (e *PasswordPolicyError) Error() string {
	messages := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		messages = append(messages, v.Message)
	}
	return fmt.Sprintf("password does not meet policy: %s", strings.Join(messages, "; "))
}

// Is lets errors.Is(err, ErrValidationFailed) match.
func (e *PasswordPolicyError) Is(target error) bool {
	return target == ErrValidationFailed
}

// RateLimitExceededError indicates an action exceeded its configured policy.
type RateLimitExceededError struct {
	Action     domain.RateLimitAction
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return e.Message()
}

// Message renders the user facing retry hint.
func (e *RateLimitExceededError) Message() string {
	return retryMessage(e.RetryAfter)
}

// Is lets errors.Is(err, ErrRateLimited) match.
func (e *RateLimitExceededError) Is(target error) bool {
	return target == ErrRateLimited
}

func retryMessage(retryAfter time.Duration) string {
	minutes := int(math.Ceil(retryAfter.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	unit := "minutes"
	if minutes == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("too many attempts, try again in %d %s", minutes, unit)
}

// ErrorKind classifies expected failures. The empty kind marks an infrastructure failure.
type ErrorKind string

const (
	KindValidationFailed   ErrorKind = "ValidationFailed"
	KindRateLimited        ErrorKind = "RateLimited"
	KindInvalidCredentials ErrorKind = "InvalidCredentials"
	KindAccountNotActive   ErrorKind = "AccountNotActive"
	KindAccountNotFound    ErrorKind = "AccountNotFound"
	KindConflict           ErrorKind = "Conflict"
	KindTokenNotFound      ErrorKind = "TokenNotFound"
	KindTokenExpired       ErrorKind = "TokenExpired"
	KindTokenAlreadyUsed   ErrorKind = "TokenAlreadyUsed"
	KindSessionNotFound    ErrorKind = "SessionNotFound"
	KindSessionExpired     ErrorKind = "SessionExpired"
	KindSessionIdleTimeout ErrorKind = "SessionIdleTimeout"
	KindSessionRevoked     ErrorKind = "SessionRevoked"
)

var errorKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrValidationFailed, KindValidationFailed},
	{ErrRateLimited, KindRateLimited},
	{ErrInvalidCredentials, KindInvalidCredentials},
	{ErrAccountNotActive, KindAccountNotActive},
	{ErrAccountNotFound, KindAccountNotFound},
	{ErrAccountExists, KindConflict},
	{ErrConcurrentUpdate, KindConflict},
	{domain.ErrInvalidStatusTransition, KindConflict},
	{ErrTokenNotFound, KindTokenNotFound},
	{ErrTokenExpired, KindTokenExpired},
	{ErrTokenAlreadyUsed, KindTokenAlreadyUsed},
	{ErrSessionNotFound, KindSessionNotFound},
	{ErrSessionExpired, KindSessionExpired},
	{ErrSessionIdleTimeout, KindSessionIdleTimeout},
	{ErrSessionRevoked, KindSessionRevoked},
}

// KindOf maps err onto the failure taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, candidate := range errorKinds {
		if errors.Is(err, candidate.err) {
			return candidate.kind
		}
	}
	return ""
}
