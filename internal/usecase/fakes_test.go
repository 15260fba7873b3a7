package usecase

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
	"github.com/iyyansoft/eventzgo-sub003/internal/core/port"
	"github.com/iyyansoft/eventzgo-sub003/internal/repository"
)

const strongPassword = "Str0ng!Passw0rd"

var errStoreDown = errors.New("store unavailable")

// memStore is an in-memory stand-in for the PostgreSQL repositories. WithinTx
// serializes transactions and restores a snapshot when fn fails.
type memStore struct {
	mu       sync.Mutex
	txMu     sync.Mutex
	accounts map[string]domain.Account
	sessions map[string]domain.Session
	tokens   map[string]domain.Token
	limits   map[string]domain.RateLimitRecord
	events   []domain.SecurityEvent

	appendErr error
	limitErr  error
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[string]domain.Account),
		sessions: make(map[string]domain.Session),
		tokens:   make(map[string]domain.Token),
		limits:   make(map[string]domain.RateLimitRecord),
	}
}

func (s *memStore) Accounts() *memAccounts { return &memAccounts{s} }
func (s *memStore) Sessions() *memSessions { return &memSessions{s} }
func (s *memStore) Tokens() *memTokens { return &memTokens{s} }
func (s *memStore) RateLimits() *memRateLimits { return &memRateLimits{s} }
func (s *memStore) SecurityEvents() *memEventsRepo { return &memEventsRepo{s} }

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos port.TxRepositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	accounts := copyMap(s.accounts)
	sessions := copyMap(s.sessions)
	tokens := copyMap(s.tokens)
	s.mu.Unlock()

	err := fn(ctx, port.TxRepositories{Accounts: s.Accounts(), Sessions: s.Sessions(), Tokens: s.Tokens()})
	if err != nil {
		s.mu.Lock()
		s.accounts, s.sessions, s.tokens = accounts, sessions, tokens
		s.mu.Unlock()
	}
	return err
}

func (s *memStore) account(t *testing.T, id string) domain.Account {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		t.Fatalf("account %s not stored", id)
	}
	return account
}

func (s *memStore) token(hash string) (domain.Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[hash]
	return token, ok
}

func (s *memStore) tokenCount(accountID string, purpose domain.TokenPurpose) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, token := range s.tokens {
		if token.AccountID == accountID && token.Purpose == purpose {
			count++
		}
	}
	return count
}

func (s *memStore) eventsOfType(eventType string) []domain.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []domain.SecurityEvent
	for _, event := range s.events {
		if event.EventType == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func copyMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type memAccounts struct{ s *memStore }

func (r *memAccounts) Create(_ context.Context, account domain.Account) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.accounts {
		if strings.EqualFold(existing.Username, account.Username) || strings.EqualFold(existing.Email, account.Email) {
			return repository.ErrConflict
		}
	}
	r.s.accounts[account.ID] = account
	return nil
}

func (r *memAccounts) GetByID(_ context.Context, id string) (*domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	account, ok := r.s.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &account, nil
}

func (r *memAccounts) GetByIdentifier(_ context.Context, identifier string) (*domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, account := range r.s.accounts {
		if strings.EqualFold(account.Username, identifier) || strings.EqualFold(account.Email, identifier) {
			found := account
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memAccounts) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, account := range r.s.accounts {
		if strings.EqualFold(account.Email, email) {
			found := account
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memAccounts) UpdateStatus(_ context.Context, id string, from, to domain.AccountStatus, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	account, ok := r.s.accounts[id]
	if !ok || account.Status != from {
		return repository.ErrConflict
	}
	account.Status = to
	account.UpdatedAt = at
	r.s.accounts[id] = account
	return nil
}

func (r *memAccounts) RecordLoginFailure(_ context.Context, id string, at time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	account, ok := r.s.accounts[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	account.FailedLoginAttempts++
	account.UpdatedAt = at
	r.s.accounts[id] = account
	return account.FailedLoginAttempts, nil
}

func (r *memAccounts) RecordLoginSuccess(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	account, ok := r.s.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	account.FailedLoginAttempts = 0
	account.LastLoginAt = &at
	account.UpdatedAt = at
	r.s.accounts[id] = account
	return nil
}

func (r *memAccounts) UpdatePassword(_ context.Context, id string, passwordHash string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	account, ok := r.s.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	account.PasswordHash = passwordHash
	account.FailedLoginAttempts = 0
	account.UpdatedAt = at
	r.s.accounts[id] = account
	return nil
}

type memSessions struct{ s *memStore }

func (r *memSessions) Create(_ context.Context, session domain.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.sessions[session.TokenHash] = session
	return nil
}

func (r *memSessions) GetByTokenHash(_ context.Context, tokenHash string) (*domain.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	session, ok := r.s.sessions[tokenHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &session, nil
}

func (r *memSessions) Touch(_ context.Context, tokenHash string, at time.Time, idleCutoff time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	session, ok := r.s.sessions[tokenHash]
	if !ok || !session.IsActive || !session.ExpiresAt.After(at) || !session.LastActivityAt.After(idleCutoff) {
		return false, nil
	}
	session.LastActivityAt = at
	r.s.sessions[tokenHash] = session
	return true, nil
}

func (r *memSessions) Revoke(_ context.Context, tokenHash string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	session, ok := r.s.sessions[tokenHash]
	if !ok || !session.IsActive {
		return false, nil
	}
	session.IsActive = false
	r.s.sessions[tokenHash] = session
	return true, nil
}

func (r *memSessions) RevokeByID(_ context.Context, accountID, sessionID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for hash, session := range r.s.sessions {
		if session.ID == sessionID && session.AccountID == accountID && session.IsActive {
			session.IsActive = false
			r.s.sessions[hash] = session
			return true, nil
		}
	}
	return false, nil
}

func (r *memSessions) RevokeAllForAccount(_ context.Context, accountID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for hash, session := range r.s.sessions {
		if session.AccountID == accountID && session.IsActive {
			session.IsActive = false
			r.s.sessions[hash] = session
			count++
		}
	}
	return count, nil
}

func (r *memSessions) ListActiveByAccount(_ context.Context, accountID string, at time.Time) ([]domain.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var sessions []domain.Session
	for _, session := range r.s.sessions {
		if session.AccountID == accountID && session.IsActive && session.ExpiresAt.After(at) {
			sessions = append(sessions, session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActivityAt.After(sessions[j].LastActivityAt)
	})
	return sessions, nil
}

type memTokens struct{ s *memStore }

func (r *memTokens) Replace(_ context.Context, token domain.Token) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	removed := 0
	for hash, existing := range r.s.tokens {
		if existing.AccountID == token.AccountID && existing.Purpose == token.Purpose && !existing.Used {
			delete(r.s.tokens, hash)
			removed++
		}
	}
	r.s.tokens[token.TokenHash] = token
	return removed, nil
}

func (r *memTokens) Redeem(_ context.Context, tokenHash string, purpose domain.TokenPurpose, at time.Time) (*domain.Token, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	token, ok := r.s.tokens[tokenHash]
	if !ok || token.Purpose != purpose {
		return nil, false, repository.ErrNotFound
	}
	if token.Used || token.IsExpired(at) {
		return &token, false, nil
	}
	token.Used = true
	token.UsedAt = &at
	r.s.tokens[tokenHash] = token
	return &token, true, nil
}

type memRateLimits struct{ s *memStore }

func rateLimitKey(identifier string, action domain.RateLimitAction) string {
	return string(action) + ":" + identifier
}

func (r *memRateLimits) Get(_ context.Context, identifier string, action domain.RateLimitAction) (*domain.RateLimitRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.limitErr != nil {
		return nil, r.s.limitErr
	}
	record, ok := r.s.limits[rateLimitKey(identifier, action)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &record, nil
}

func (r *memRateLimits) Increment(_ context.Context, identifier string, action domain.RateLimitAction, window time.Duration, at time.Time) (domain.RateLimitRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.limitErr != nil {
		return domain.RateLimitRecord{}, r.s.limitErr
	}
	key := rateLimitKey(identifier, action)
	record, ok := r.s.limits[key]
	if !ok || record.WindowExpired(at, window) {
		record = domain.RateLimitRecord{Identifier: identifier, Action: action, WindowStart: at}
	}
	record.Attempts++
	record.LastAttempt = at
	r.s.limits[key] = record
	return record, nil
}

func (r *memRateLimits) PurgeStale(_ context.Context, lastAttemptBefore time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var purged int64
	for key, record := range r.s.limits {
		if record.LastAttempt.Before(lastAttemptBefore) {
			delete(r.s.limits, key)
			purged++
		}
	}
	return purged, nil
}

type memEventsRepo struct{ s *memStore }

func (r *memEventsRepo) Append(_ context.Context, event domain.SecurityEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.appendErr != nil {
		return r.s.appendErr
	}
	r.s.events = append(r.s.events, event)
	return nil
}

// plainHasher keeps tests fast; the Argon2 hasher has its own tests.
type plainHasher struct {
	verifies atomic.Int64
}

func (h *plainHasher) Hash(password string) (string, error) {
	return "plain$" + password, nil
}

func (h *plainHasher) Verify(password, encoded string) (bool, error) {
	h.verifies.Add(1)
	return encoded == "plain$"+password, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []port.Notification
}

func (n *recordingNotifier) Dispatch(_ context.Context, notification port.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// lastToken returns the raw token carried by the most recent notification of kind.
func (n *recordingNotifier) lastToken(t *testing.T, kind port.NotificationKind) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].Kind != kind {
			continue
		}
		parsed, err := url.Parse(n.sent[i].ActionURL)
		if err != nil {
			t.Fatalf("parse action url: %v", err)
		}
		token := parsed.Query().Get("token")
		if token == "" {
			t.Fatalf("action url %q carries no token", n.sent[i].ActionURL)
		}
		return token
	}
	t.Fatalf("no %s notification sent", kind)
	return ""
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.SecurityEvent
	err    error
}

func (p *recordingPublisher) PublishSecurityEvent(_ context.Context, event domain.SecurityEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

type recordingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counts: make(map[string]int)}
}

func (m *recordingMetrics) inc(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
}

func (m *recordingMetrics) get(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

func (m *recordingMetrics) ObserveLogin(outcome string) { m.inc("login:" + outcome) }
func (m *recordingMetrics) ObserveRateLimited(action string) { m.inc("rate_limited:" + action) }
func (m *recordingMetrics) ObserveToken(purpose, outcome string) {
	m.inc("token:" + purpose + ":" + outcome)
}
func (m *recordingMetrics) ObserveSession(event string) { m.inc("session:" + event) }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type envConfig struct {
	policies        map[domain.RateLimitAction]domain.RateLimitPolicy
	sessionPolicy   SessionPolicy
	maxFailedLogins int
}

type testEnv struct {
	store     *memStore
	clock     *testClock
	hasher    *plainHasher
	notifier  *recordingNotifier
	publisher *recordingPublisher
	metrics   *recordingMetrics
	limiter   *RateLimiter
	tokens    *TokenIssuer
	sessions  *SessionManager
	audit     *SecurityAuditLogger
	auth      *AuthService
	accounts  *AccountService
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, envConfig{})
}

func newTestEnvWith(t *testing.T, cfg envConfig) *testEnv {
	t.Helper()

	log := zaptest.NewLogger(t)
	env := &testEnv{
		store:     newMemStore(),
		clock:     newTestClock(),
		hasher:    &plainHasher{},
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
		metrics:   newRecordingMetrics(),
	}

	env.audit = NewSecurityAuditLogger(env.store.SecurityEvents(), env.publisher, log)
	env.audit.WithClock(env.clock.Now)

	env.limiter = NewRateLimiter(env.store.RateLimits(), cfg.policies, log)
	env.limiter.WithClock(env.clock.Now)

	env.tokens = NewTokenIssuer(env.store.Tokens(), nil, env.metrics, log)
	env.tokens.WithClock(env.clock.Now)

	env.sessions = NewSessionManager(env.store.Sessions(), env.audit, cfg.sessionPolicy, env.metrics, log)
	env.sessions.WithClock(env.clock.Now)

	auth, err := NewAuthService(AuthDependencies{
		Accounts:   env.store.Accounts(),
		Transactor: env.store,
		Hasher:     env.hasher,
		Limiter:    env.limiter,
		Tokens:     env.tokens,
		Sessions:   env.sessions,
		Audit:      env.audit,
		Notifier:   env.notifier,
		Composer:   NewNotificationComposer("https://app.example.com"),
		Metrics:    env.metrics,
	}, AuthPolicy{MaxFailedLogins: cfg.maxFailedLogins}, log)
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	auth.WithClock(env.clock.Now)
	env.auth = auth

	env.accounts = NewAccountService(env.store.Accounts(), env.sessions, env.audit, 0, log)
	env.accounts.WithClock(env.clock.Now)
	return env
}

// register creates an account and returns it with the raw verification token.
func (e *testEnv) register(t *testing.T, username, email string) (domain.Account, string) {
	t.Helper()
	result, err := e.auth.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    email,
		Password: strongPassword,
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", username, err)
	}
	return result.Account, e.notifier.lastToken(t, port.NotificationEmailVerification)
}

// verified registers an account and redeems its verification token.
func (e *testEnv) verified(t *testing.T, username, email string) domain.Account {
	t.Helper()
	account, token := e.register(t, username, email)
	if _, err := e.auth.VerifyEmail(context.Background(), token, domain.ClientMetadata{}); err != nil {
		t.Fatalf("VerifyEmail(%s): %v", username, err)
	}
	return e.store.account(t, account.ID)
}

func (e *testEnv) login(t *testing.T, identifier, password string) *LoginResult {
	t.Helper()
	result, err := e.auth.Login(context.Background(), LoginInput{Identifier: identifier, Password: password})
	if err != nil {
		t.Fatalf("Login(%s): %v", identifier, err)
	}
	return result
}

var (
	_ port.Transactor              = (*memStore)(nil)
	_ port.AccountRepository       = (*memAccounts)(nil)
	_ port.SessionRepository       = (*memSessions)(nil)
	_ port.TokenRepository         = (*memTokens)(nil)
	_ port.RateLimitStore          = (*memRateLimits)(nil)
	_ port.SecurityEventRepository = (*memEventsRepo)(nil)
)
