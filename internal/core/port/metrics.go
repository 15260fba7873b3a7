package port

// AuthMetrics records authentication outcomes for monitoring.
type AuthMetrics interface {
	ObserveLogin(outcome string)
	ObserveRateLimited(action string)
	ObserveToken(purpose, outcome string)
	ObserveSession(event string)
}
