package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
	"github.com/iyyansoft/eventzgo-sub003/internal/infra/security"
	"github.com/iyyansoft/eventzgo-sub003/internal/transport/http/middleware"
	"github.com/iyyansoft/eventzgo-sub003/internal/usecase"
)

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func testAccount(status domain.AccountStatus) domain.Account {
	return domain.Account{
		ID:           "acc-1",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "argon2id$secret",
		Status:       status,
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}
}

// fakeAuth implements AuthService, PasswordService, SessionService and
// middleware.SessionAuthenticator with canned results.
type fakeAuth struct {
	err      error
	sessions []domain.Session

	lastRegister usecase.RegisterInput
	lastLogin    usecase.LoginInput
	lastChange   usecase.PasswordChangeInput
	lastToken    string
	revokedID    string
}

func (f *fakeAuth) Register(_ context.Context, input usecase.RegisterInput) (*usecase.RegisterResult, error) {
	f.lastRegister = input
	if f.err != nil {
		return nil, f.err
	}
	return &usecase.RegisterResult{
		Account:               testAccount(domain.AccountStatusPendingVerification),
		VerificationExpiresAt: testNow.Add(24 * time.Hour),
	}, nil
}

func (f *fakeAuth) VerifyEmail(_ context.Context, token string, _ domain.ClientMetadata) (*domain.Account, error) {
	f.lastToken = token
	if f.err != nil {
		return nil, f.err
	}
	account := testAccount(domain.AccountStatusPendingSetup)
	return &account, nil
}

func (f *fakeAuth) ResendVerification(context.Context, string, domain.ClientMetadata) error {
	return f.err
}

func (f *fakeAuth) Login(_ context.Context, input usecase.LoginInput) (*usecase.LoginResult, error) {
	f.lastLogin = input
	if f.err != nil {
		return nil, f.err
	}
	return &usecase.LoginResult{
		Account: testAccount(domain.AccountStatusActive),
		Token:   "opaque-session-token",
		Session: domain.Session{ID: "sess-1", AccountID: "acc-1", CreatedAt: testNow, ExpiresAt: testNow.Add(24 * time.Hour), LastActivityAt: testNow, IsActive: true},
	}, nil
}

func (f *fakeAuth) Logout(_ context.Context, token string, _ domain.ClientMetadata) error {
	f.lastToken = token
	return f.err
}

func (f *fakeAuth) LogoutAll(context.Context, string, domain.ClientMetadata) (int, error) {
	return 3, f.err
}

func (f *fakeAuth) RequestPasswordReset(context.Context, usecase.PasswordResetRequestInput) error {
	return f.err
}

func (f *fakeAuth) CompletePasswordReset(_ context.Context, input usecase.PasswordResetConfirmInput) (*usecase.PasswordChangeResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &usecase.PasswordChangeResult{AccountID: "acc-1", SessionsRevoked: 2}, nil
}

func (f *fakeAuth) ChangePassword(_ context.Context, input usecase.PasswordChangeInput) (*usecase.PasswordChangeResult, error) {
	f.lastChange = input
	if f.err != nil {
		return nil, f.err
	}
	return &usecase.PasswordChangeResult{AccountID: input.AccountID, SessionsRevoked: 4}, nil
}

func (f *fakeAuth) ListSessions(context.Context, string) ([]domain.Session, error) {
	return f.sessions, f.err
}

func (f *fakeAuth) RevokeSession(_ context.Context, _, sessionID string, _ domain.ClientMetadata) error {
	f.revokedID = sessionID
	return f.err
}

// Authenticate accepts any token except "bad".
func (f *fakeAuth) Authenticate(_ context.Context, token string, _ domain.ClientMetadata) (*domain.Session, error) {
	if token == "bad" {
		return nil, usecase.ErrSessionRevoked
	}
	return &domain.Session{ID: "sess-1", AccountID: "acc-1", IsActive: true}, nil
}

type fakeAccounts struct {
	err             error
	requireApproval bool
	reason          string
}

func (f *fakeAccounts) result(status domain.AccountStatus) (*domain.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	account := testAccount(status)
	account.PasswordHash = ""
	return &account, nil
}

func (f *fakeAccounts) Get(context.Context, string) (*domain.Account, error) {
	return f.result(domain.AccountStatusActive)
}

func (f *fakeAccounts) CompleteSetup(_ context.Context, _ string, requireApproval bool, _ domain.ClientMetadata) (*domain.Account, error) {
	f.requireApproval = requireApproval
	if requireApproval {
		return f.result(domain.AccountStatusPendingApproval)
	}
	return f.result(domain.AccountStatusActive)
}

func (f *fakeAccounts) Approve(context.Context, string, domain.ClientMetadata) (*domain.Account, error) {
	return f.result(domain.AccountStatusActive)
}

func (f *fakeAccounts) Suspend(_ context.Context, _, reason string, _ domain.ClientMetadata) (*domain.Account, error) {
	f.reason = reason
	return f.result(domain.AccountStatusSuspended)
}

func (f *fakeAccounts) Block(_ context.Context, _, reason string, _ domain.ClientMetadata) (*domain.Account, error) {
	f.reason = reason
	return f.result(domain.AccountStatusBlocked)
}

func (f *fakeAccounts) Reinstate(context.Context, string, domain.ClientMetadata) (*domain.Account, error) {
	return f.result(domain.AccountStatusActive)
}

func newTestRouter(t *testing.T, auth *fakeAuth, accounts *fakeAccounts) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zaptest.NewLogger(t)

	router := gin.New()
	router.Use(middleware.EnrichContext())
	requireSession := middleware.RequireSession(auth, log)

	api := router.Group("/api/v1")
	NewAuthHandler(auth, log).RegisterRoutes(api.Group("/auth"), requireSession)
	NewPasswordHandler(auth, log).RegisterRoutes(api.Group("/password"), requireSession)
	NewSessionHandler(auth, log).RegisterRoutes(api.Group("/sessions", requireSession))

	accountHandler := NewAccountHandler(accounts, false, log)
	accountHandler.RegisterSelfRoutes(api.Group("/account", requireSession))
	accountHandler.RegisterAdminRoutes(api.Group("/admin/accounts"))
	return router
}

func doJSON(router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var payload bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&payload).Encode(body)
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rr.Body.String(), err)
	}
	return out
}

func TestRegister(t *testing.T) {
	auth := &fakeAuth{}
	router := newTestRouter(t, auth, &fakeAccounts{})

	rr := doJSON(router, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "  alice ",
		"email":    "alice@example.com",
		"password": "Str0ng!Passw0rd",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if auth.lastRegister.Username != "alice" || auth.lastRegister.Client.IPAddress == nil {
		t.Fatalf("unexpected register input %+v", auth.lastRegister)
	}
	if strings.Contains(rr.Body.String(), "argon2id") {
		t.Fatal("password hash leaked into the response")
	}
	resp := decode[RegistrationResponse](t, rr)
	if resp.Account.Status != domain.AccountStatusPendingVerification {
		t.Fatalf("unexpected status %s", resp.Account.Status)
	}
}

func TestRegisterErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   map[string]string
		err    error
		status int
		code   string
	}{
		{"missing fields", map[string]string{"username": "alice"}, nil, http.StatusBadRequest, "invalid_payload"},
		{"weak password", map[string]string{"username": "alice", "email": "a@example.com", "password": "short"},
			&usecase.PasswordPolicyError{Violations: []security.PasswordValidationError{{Code: "min_length", Message: "password must be at least 8 characters long"}}},
			http.StatusBadRequest, "validation_failed"},
		{"duplicate", map[string]string{"username": "alice", "email": "a@example.com", "password": "Str0ng!Passw0rd"},
			usecase.ErrAccountExists, http.StatusConflict, "conflict"},
		{"store down", map[string]string{"username": "alice", "email": "a@example.com", "password": "Str0ng!Passw0rd"},
			errors.New("dial tcp: connection refused"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, &fakeAuth{err: tt.err}, &fakeAccounts{})
			rr := doJSON(router, http.MethodPost, "/api/v1/auth/register", "", tt.body)
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
			resp := decode[ErrorResponse](t, rr)
			if resp.Code != tt.code {
				t.Fatalf("expected code %s, got %s", tt.code, resp.Code)
			}
			if tt.code == "validation_failed" && (len(resp.Details) != 1 || !strings.Contains(resp.Details[0], "8 characters")) {
				t.Fatalf("expected violation details, got %+v", resp.Details)
			}
			if tt.code == "internal_error" && strings.Contains(rr.Body.String(), "connection refused") {
				t.Fatal("infrastructure detail leaked to the client")
			}
		})
	}
}

func TestLogin(t *testing.T) {
	auth := &fakeAuth{}
	router := newTestRouter(t, auth, &fakeAccounts{})

	rr := doJSON(router, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"identifier": "alice",
		"password":   "Str0ng!Passw0rd",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Fatal("login response must not be cached")
	}
	resp := decode[LoginResponse](t, rr)
	if resp.Token != "opaque-session-token" || resp.TokenType != "Bearer" || !resp.Session.Current {
		t.Fatalf("unexpected login response %+v", resp)
	}
	if auth.lastLogin.Identifier != "alice" {
		t.Fatalf("unexpected login input %+v", auth.lastLogin)
	}
}

func TestLoginErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{usecase.ErrInvalidCredentials, http.StatusUnauthorized},
		{fmt.Errorf("login: %w", usecase.ErrAccountNotActive), http.StatusForbidden},
		{&usecase.RateLimitExceededError{Action: domain.RateLimitActionLogin, RetryAfter: 14*time.Minute + 10*time.Second}, http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		router := newTestRouter(t, &fakeAuth{err: tt.err}, &fakeAccounts{})
		rr := doJSON(router, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"identifier": "alice", "password": "x"})
		if rr.Code != tt.status {
			t.Fatalf("%v: expected %d, got %d", tt.err, tt.status, rr.Code)
		}
		if tt.status == http.StatusTooManyRequests {
			if rr.Header().Get("Retry-After") != "850" {
				t.Fatalf("unexpected Retry-After %q", rr.Header().Get("Retry-After"))
			}
			problem := decode[middleware.ProblemDetails](t, rr)
			if problem.Detail != "too many attempts, try again in 15 minutes" {
				t.Fatalf("unexpected detail %q", problem.Detail)
			}
		}
	}
}

func TestVerifyEmailTokenErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{nil, http.StatusOK},
		{usecase.ErrTokenNotFound, http.StatusBadRequest},
		{usecase.ErrTokenExpired, http.StatusGone},
		{usecase.ErrTokenAlreadyUsed, http.StatusConflict},
	}
	for _, tt := range tests {
		auth := &fakeAuth{err: tt.err}
		router := newTestRouter(t, auth, &fakeAccounts{})
		rr := doJSON(router, http.MethodPost, "/api/v1/auth/verify-email", "", map[string]string{"token": " tok "})
		if rr.Code != tt.status {
			t.Fatalf("%v: expected %d, got %d", tt.err, tt.status, rr.Code)
		}
		if auth.lastToken != "tok" {
			t.Fatalf("token should be trimmed, got %q", auth.lastToken)
		}
	}
}

func TestLogoutUsesBearerToken(t *testing.T) {
	auth := &fakeAuth{}
	router := newTestRouter(t, auth, &fakeAccounts{})

	if rr := doJSON(router, http.MethodPost, "/api/v1/auth/logout", "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	rr := doJSON(router, http.MethodPost, "/api/v1/auth/logout", "live-token", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if auth.lastToken != "live-token" {
		t.Fatalf("logout should revoke the presented token, got %q", auth.lastToken)
	}

	rr = doJSON(router, http.MethodPost, "/api/v1/auth/logout-all", "live-token", nil)
	if rr.Code != http.StatusOK || decode[LogoutAllResponse](t, rr).SessionsRevoked != 3 {
		t.Fatalf("unexpected logout-all response %d %s", rr.Code, rr.Body.String())
	}
}

func TestPasswordEndpoints(t *testing.T) {
	auth := &fakeAuth{}
	router := newTestRouter(t, auth, &fakeAccounts{})

	rr := doJSON(router, http.MethodPost, "/api/v1/password/reset/request", "", map[string]string{"email": "nobody@example.com"})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}

	rr = doJSON(router, http.MethodPost, "/api/v1/password/reset/confirm", "", map[string]string{"token": "t", "new_password": "N3w!Secret#Phrase"})
	if rr.Code != http.StatusOK || decode[PasswordChangeResponse](t, rr).SessionsRevoked != 2 {
		t.Fatalf("unexpected confirm response %d %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(router, http.MethodPost, "/api/v1/password/change", "", map[string]string{"current_password": "a", "new_password": "b"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("change must require a session, got %d", rr.Code)
	}

	rr = doJSON(router, http.MethodPost, "/api/v1/password/change", "live-token", map[string]string{"current_password": "a", "new_password": "b"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if auth.lastChange.AccountID != "acc-1" {
		t.Fatalf("account id must come from the session, got %+v", auth.lastChange)
	}
}

func TestSessionEndpoints(t *testing.T) {
	auth := &fakeAuth{sessions: []domain.Session{
		{ID: "sess-1", AccountID: "acc-1", IsActive: true},
		{ID: "sess-2", AccountID: "acc-1", IsActive: true},
	}}
	router := newTestRouter(t, auth, &fakeAccounts{})

	rr := doJSON(router, http.MethodGet, "/api/v1/sessions", "live-token", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	list := decode[SessionListResponse](t, rr)
	if len(list.Sessions) != 2 || !list.Sessions[0].Current || list.Sessions[1].Current {
		t.Fatalf("unexpected session list %+v", list)
	}

	rr = doJSON(router, http.MethodDelete, "/api/v1/sessions/sess-2", "live-token", nil)
	if rr.Code != http.StatusNoContent || auth.revokedID != "sess-2" {
		t.Fatalf("unexpected revoke result %d %q", rr.Code, auth.revokedID)
	}

	auth.err = usecase.ErrSessionNotFound
	rr = doJSON(router, http.MethodDelete, "/api/v1/sessions/other", "live-token", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a foreign session, got %d", rr.Code)
	}

	rr = doJSON(router, http.MethodGet, "/api/v1/sessions", "bad", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a revoked session, got %d", rr.Code)
	}
}

func TestAccountEndpoints(t *testing.T) {
	accounts := &fakeAccounts{}
	router := newTestRouter(t, &fakeAuth{}, accounts)

	rr := doJSON(router, http.MethodPost, "/api/v1/account/complete-setup", "live-token", nil)
	if rr.Code != http.StatusOK || accounts.requireApproval {
		t.Fatalf("self-service setup should use the configured default, got %d approval=%v", rr.Code, accounts.requireApproval)
	}

	rr = doJSON(router, http.MethodPost, "/api/v1/admin/accounts/acc-1/complete-setup", "", map[string]bool{"require_approval": true})
	if rr.Code != http.StatusOK || !accounts.requireApproval {
		t.Fatalf("override not applied: %d approval=%v", rr.Code, accounts.requireApproval)
	}
	if decode[AdminAccountView](t, rr).Status != domain.AccountStatusPendingApproval {
		t.Fatal("expected pending_approval")
	}

	rr = doJSON(router, http.MethodPost, "/api/v1/admin/accounts/acc-1/suspend", "", map[string]string{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("suspend without reason should be rejected, got %d", rr.Code)
	}

	rr = doJSON(router, http.MethodPost, "/api/v1/admin/accounts/acc-1/block", "", map[string]string{"reason": " fraud "})
	if rr.Code != http.StatusOK || accounts.reason != "fraud" {
		t.Fatalf("unexpected block result %d %q", rr.Code, accounts.reason)
	}

	accounts.err = fmt.Errorf("%w: active -> pending_setup", domain.ErrInvalidStatusTransition)
	rr = doJSON(router, http.MethodPost, "/api/v1/admin/accounts/acc-1/approve", "", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("invalid transition should be 409, got %d", rr.Code)
	}

	accounts.err = usecase.ErrAccountNotFound
	rr = doJSON(router, http.MethodGet, "/api/v1/admin/accounts/missing", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHealthReadiness(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewHealthHandler(
		WithReadinessCheck("database", func(context.Context) error { return nil }),
		WithReadinessCheck("redis", func(context.Context) error { return errors.New("down") }),
	)
	router := gin.New()
	router.GET("/healthz", handler.Status)
	router.GET("/readyz", handler.Readiness)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("liveness should not depend on checks, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	resp := decode[HealthResponse](t, rr)
	if resp.Checks["database"] != "ok" || resp.Checks["redis"] != "unavailable" {
		t.Fatalf("unexpected checks %+v", resp.Checks)
	}
}
