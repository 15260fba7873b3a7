package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
	"github.com/iyyansoft/eventzgo-sub003/internal/infra/logger"
	"github.com/iyyansoft/eventzgo-sub003/internal/usecase"
)

// AdminKeyHeader carries the shared administrator key.
const AdminKeyHeader = "X-Admin-Key"

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	TraceID string `json:"trace_id,omitempty"`
}

func newErrorResponse(c *gin.Context, code, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		Code:    code,
		TraceID: GetTraceID(c),
	}
}

// SessionAuthenticator validates a bearer session token and records activity.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, token string, client domain.ClientMetadata) (*domain.Session, error)
}

// RequireSession validates the Authorization header against the session store
// and binds the account and session to the request.
func RequireSession(auth SessionAuthenticator, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.Header("WWW-Authenticate", `Bearer realm="auth"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "unauthenticated", "missing or malformed bearer token"))
			return
		}

		session, err := auth.Authenticate(c.Request.Context(), token, ClientMetadata(c))
		if err != nil {
			status, code, message := sessionFailure(err)
			if status == http.StatusInternalServerError {
				log.Error("session authentication failed",
					zap.String("request_id", logger.RequestIDFromContext(c.Request.Context())),
					zap.String("token", logger.MaskToken(token)),
					zap.Error(err),
				)
			}
			c.Header("WWW-Authenticate", `Bearer realm="auth", error="invalid_token"`)
			c.AbortWithStatusJSON(status, newErrorResponse(c, code, message))
			return
		}

		c.Set(AccountIDKey, session.AccountID)
		c.Set(sessionKey, session)
		c.Set(sessionTokenKey, token)

		c.Next()
	}
}

func sessionFailure(err error) (int, string, string) {
	switch usecase.KindOf(err) {
	case usecase.KindSessionNotFound:
		return http.StatusUnauthorized, "session_invalid", "invalid session"
	case usecase.KindSessionExpired:
		return http.StatusUnauthorized, "session_expired", "session expired"
	case usecase.KindSessionIdleTimeout:
		return http.StatusUnauthorized, "session_idle_timeout", "session timed out due to inactivity"
	case usecase.KindSessionRevoked:
		return http.StatusUnauthorized, "session_revoked", "session revoked"
	default:
		return http.StatusInternalServerError, "internal_error", "authentication failed"
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RequireAdminKey guards administrator routes with a shared key compared in
// constant time.
func RequireAdminKey(key string) gin.HandlerFunc {
	expected := []byte(key)

	return func(c *gin.Context) {
		provided := []byte(c.GetHeader(AdminKeyHeader))
		if len(expected) == 0 || subtle.ConstantTimeCompare(provided, expected) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden,
				newErrorResponse(c, "forbidden", "administrator key required"))
			return
		}
		c.Next()
	}
}
