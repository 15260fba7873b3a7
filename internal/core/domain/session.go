package domain

import "time"

// SessionState enumerates the observable states of a session at a given instant.
type SessionState string

const (
	SessionStateActive      SessionState = "active"
	SessionStateRevoked     SessionState = "revoked"
	SessionStateExpired     SessionState = "expired"
	SessionStateIdleTimeout SessionState = "idle_timeout"
)

// ClientMetadata carries advisory request attributes. None of it is trust-bearing.
type ClientMetadata struct {
	IPAddress         *string
	UserAgent         *string
	DeviceFingerprint *string
}

// Session represents one authenticated device or browser context.
// TokenHash is the SHA-256 digest of the bearer value handed to the client.
type Session struct {
	ID                string
	AccountID         string
	TokenHash         string
	IPAddress         *string
	UserAgent         *string
	DeviceFingerprint *string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	LastActivityAt    time.Time
	IsActive          bool
}

// State evaluates the session against the supplied clock and idle timeout.
// Revocation wins over expiry, and absolute expiry wins over idleness.
func (s Session) State(at time.Time, idleTimeout time.Duration) SessionState {
	if !s.IsActive {
		return SessionStateRevoked
	}
	if !at.Before(s.ExpiresAt) {
		return SessionStateExpired
	}
	if idleTimeout > 0 && at.Sub(s.LastActivityAt) >= idleTimeout {
		return SessionStateIdleTimeout
	}
	return SessionStateActive
}

// IsValid reports whether the session can authenticate a request at the supplied moment.
func (s Session) IsValid(at time.Time, idleTimeout time.Duration) bool {
	return s.State(at, idleTimeout) == SessionStateActive
}
