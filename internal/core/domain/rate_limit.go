package domain

import "time"

// RateLimitAction identifies the guarded operation a counter belongs to.
type RateLimitAction string

const (
	RateLimitActionLogin              RateLimitAction = "login"
	RateLimitActionPasswordReset      RateLimitAction = "password_reset"
	RateLimitActionAPICall            RateLimitAction = "api_call"
	RateLimitActionVerificationResend RateLimitAction = "verification_resend"
)

// RateLimitPolicy bounds the number of attempts inside a fixed window.
type RateLimitPolicy struct {
	MaxAttempts int
	Window      time.Duration
}

// RateLimitRecord counts attempts for one (identifier, action) pair.
type RateLimitRecord struct {
	Identifier  string
	Action      RateLimitAction
	Attempts    int
	WindowStart time.Time
	LastAttempt time.Time
}

// WindowExpired reports whether the window has fully elapsed at the supplied moment.
func (r RateLimitRecord) WindowExpired(at time.Time, window time.Duration) bool {
	return at.Sub(r.WindowStart) >= window
}

// WindowEnd returns the instant the current window closes.
func (r RateLimitRecord) WindowEnd(window time.Duration) time.Time {
	return r.WindowStart.Add(window)
}
