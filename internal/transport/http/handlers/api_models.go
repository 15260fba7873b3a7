package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
	"github.com/iyyansoft/eventzgo-sub003/internal/transport/http/middleware"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	Details []string `json:"details,omitempty"`
	TraceID string   `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, code, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		Code:    code,
		TraceID: middleware.GetTraceID(c),
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// AccountSummary is the public view of an account. The password hash never leaves the service.
type AccountSummary struct {
	ID          string               `json:"id"`
	Username    string               `json:"username"`
	Email       string               `json:"email"`
	Status      domain.AccountStatus `json:"status"`
	LastLoginAt *time.Time           `json:"last_login_at,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

func newAccountSummary(account domain.Account) AccountSummary {
	return AccountSummary{
		ID:          account.ID,
		Username:    account.Username,
		Email:       account.Email,
		Status:      account.Status,
		LastLoginAt: account.LastLoginAt,
		CreatedAt:   account.CreatedAt,
	}
}

// AdminAccountView adds the failure counter for administrators.
type AdminAccountView struct {
	AccountSummary
	FailedLoginAttempts int       `json:"failed_login_attempts"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// SessionSummary describes a session without its bearer value.
type SessionSummary struct {
	ID             string    `json:"id"`
	IPAddress      *string   `json:"ip_address,omitempty"`
	UserAgent      *string   `json:"user_agent,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Current        bool      `json:"current"`
}

func newSessionSummary(session domain.Session, currentID string) SessionSummary {
	return SessionSummary{
		ID:             session.ID,
		IPAddress:      session.IPAddress,
		UserAgent:      session.UserAgent,
		CreatedAt:      session.CreatedAt,
		ExpiresAt:      session.ExpiresAt,
		LastActivityAt: session.LastActivityAt,
		Current:        session.ID == currentID,
	}
}

// RegistrationRequest defines the account registration payload.
type RegistrationRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegistrationResponse contains registration results and next steps.
type RegistrationResponse struct {
	Account               AccountSummary `json:"account"`
	VerificationExpiresAt time.Time      `json:"verification_expires_at"`
	Message               string         `json:"message"`
}

// TokenRequest carries a single-use token from an emailed link.
type TokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// EmailRequest carries an address for enumeration-resistant flows.
type EmailRequest struct {
	Email string `json:"email" binding:"required"`
}

// AccountResponse wraps a single account.
type AccountResponse struct {
	Account AccountSummary `json:"account"`
}

// LoginRequest defines the payload for the login endpoint. Identifier is a username or email.
type LoginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

// LoginResponse describes the response returned for a successful login.
type LoginResponse struct {
	Token     string         `json:"token"`
	TokenType string         `json:"token_type"`
	ExpiresAt time.Time      `json:"expires_at"`
	Account   AccountSummary `json:"account"`
	Session   SessionSummary `json:"session"`
}

// LogoutAllResponse reports how many sessions were closed.
type LogoutAllResponse struct {
	SessionsRevoked int `json:"sessions_revoked"`
}

// PasswordResetConfirmRequest completes a reset.
type PasswordResetConfirmRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// PasswordChangeRequest changes the password of the signed-in account.
type PasswordChangeRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// PasswordChangeResponse reports the sessions closed by a password change.
type PasswordChangeResponse struct {
	Message         string `json:"message"`
	SessionsRevoked int    `json:"sessions_revoked"`
}

// SessionListResponse lists the caller's active sessions.
type SessionListResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// StatusChangeRequest carries the administrator's reason for suspend and block.
type StatusChangeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// CompleteSetupRequest optionally overrides the configured approval requirement.
type CompleteSetupRequest struct {
	RequireApproval *bool `json:"require_approval"`
}

// HealthResponse describes the service health check payload.
type HealthResponse struct {
	Status    string            `json:"status"`
	StartedAt time.Time         `json:"started_at"`
	Checks    map[string]string `json:"checks,omitempty"`
}
