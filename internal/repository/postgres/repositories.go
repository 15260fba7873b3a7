package postgres

// Repositories groups concrete PostgreSQL repository implementations.
type Repositories struct {
	Accounts       *AccountRepository
	Sessions       *SessionRepository
	Tokens         *TokenRepository
	RateLimits     *RateLimitRepository
	SecurityEvents *SecurityEventRepository
}

// NewRepositories wires all repositories backed by the provided database handle.
func NewRepositories(db DB) *Repositories {
	return &Repositories{
		Accounts:       NewAccountRepository(db),
		Sessions:       NewSessionRepository(db),
		Tokens:         NewTokenRepository(db),
		RateLimits:     NewRateLimitRepository(db),
		SecurityEvents: NewSecurityEventRepository(db),
	}
}
