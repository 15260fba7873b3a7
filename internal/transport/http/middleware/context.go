package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
)

const (
	// TraceIDHeader is the HTTP header name for trace ID
	TraceIDHeader = "X-Trace-ID"
	// DeviceFingerprintHeader carries the optional client-computed device fingerprint.
	DeviceFingerprintHeader = "X-Device-Fingerprint"

	TraceIDKey   = "trace_id"
	AccountIDKey = "account_id"

	sessionKey      = "session"
	sessionTokenKey = "session_token"
	clientKey       = "client_metadata"
)

// EnrichContext assigns a trace ID and captures the advisory client metadata
// passed to the services.
func EnrichContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := ""
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.IsValid() {
			traceID = sc.TraceID().String()
		}
		if traceID == "" {
			traceID = c.GetHeader(TraceIDHeader)
		}
		if traceID == "" {
			traceID = uuid.NewString()
		}

		c.Set(TraceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)
		c.Set(clientKey, clientMetadataFromRequest(c))

		c.Next()
	}
}

func clientMetadataFromRequest(c *gin.Context) domain.ClientMetadata {
	var meta domain.ClientMetadata
	if ip := c.ClientIP(); ip != "" {
		meta.IPAddress = &ip
	}
	if ua := strings.TrimSpace(c.Request.UserAgent()); ua != "" {
		meta.UserAgent = &ua
	}
	if fp := strings.TrimSpace(c.GetHeader(DeviceFingerprintHeader)); fp != "" {
		meta.DeviceFingerprint = &fp
	}
	return meta
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(c *gin.Context) string {
	return c.GetString(TraceIDKey)
}

// ClientMetadata returns the request's client metadata, computing it when
// EnrichContext did not run.
func ClientMetadata(c *gin.Context) domain.ClientMetadata {
	if value, ok := c.Get(clientKey); ok {
		if meta, ok := value.(domain.ClientMetadata); ok {
			return meta
		}
	}
	return clientMetadataFromRequest(c)
}

// AuthenticatedAccountID returns the account bound by RequireSession.
func AuthenticatedAccountID(c *gin.Context) (string, bool) {
	id := c.GetString(AccountIDKey)
	return id, id != ""
}

// CurrentSession returns the session bound by RequireSession.
func CurrentSession(c *gin.Context) (*domain.Session, bool) {
	value, ok := c.Get(sessionKey)
	if !ok {
		return nil, false
	}
	session, ok := value.(*domain.Session)
	return session, ok && session != nil
}

// SessionToken returns the bearer token that authenticated the request.
func SessionToken(c *gin.Context) string {
	return c.GetString(sessionTokenKey)
}
