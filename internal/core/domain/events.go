package domain

import "time"

// Severity grades how urgently a security event needs attention.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// EventCategory groups security events for reporting.
type EventCategory string

const (
	EventCategoryAuthentication EventCategory = "authentication"
	EventCategoryAccount        EventCategory = "account"
	EventCategorySession        EventCategory = "session"
	EventCategoryCredential     EventCategory = "credential"
	EventCategoryAbuse          EventCategory = "abuse"
)

// Security event types. Metadata keys recorded per type:
//
//	account_created          username
//	login_success            session_id
//	login_failed             identifier, failed_attempts, reason
//	rate_limited             identifier, action, retry_after_seconds
//	account_suspended        reason, failed_attempts
//	account_blocked          reason
//	account_reinstated       previous_status
//	account_status_changed   from, to
//	session_created          session_id
//	session_revoked          session_id
//	sessions_revoked_all     count, reason
//	session_rejected         reason
//	password_reset           sessions_revoked
//	password_changed         sessions_revoked
//	token_rejected           purpose, reason
const (
	EventAccountCreated       = "account_created"
	EventEmailVerified        = "email_verified"
	EventVerificationResent   = "verification_resent"
	EventLoginSuccess         = "login_success"
	EventLoginFailed          = "login_failed"
	EventRateLimited          = "rate_limited"
	EventAccountSuspended     = "account_suspended"
	EventAccountBlocked       = "account_blocked"
	EventAccountReinstated    = "account_reinstated"
	EventAccountStatusChanged = "account_status_changed"
	EventSessionCreated       = "session_created"
	EventSessionRevoked       = "session_revoked"
	EventSessionsRevokedAll   = "sessions_revoked_all"
	EventSessionRejected      = "session_rejected"
	EventPasswordResetRequest = "password_reset_requested"
	EventPasswordReset        = "password_reset"
	EventPasswordChanged      = "password_changed"
	EventTokenRejected        = "token_rejected"
)

// SecurityEvent is an append-only audit entry.
type SecurityEvent struct {
	ID          string
	AccountID   *string
	EventType   string
	Category    EventCategory
	Description string
	IPAddress   *string
	UserAgent   *string
	Metadata    map[string]any
	Severity    Severity
	OccurredAt  time.Time
}
