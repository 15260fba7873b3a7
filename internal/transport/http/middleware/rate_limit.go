package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
	"github.com/iyyansoft/eventzgo-sub003/internal/usecase"
)

const (
	rateLimitProblemType  = "/errors/rate-limit-exceeded"
	rateLimitProblemTitle = "Rate Limit Exceeded"
)

// APIRateLimiter is the subset of the usecase rate limiter used per request.
type APIRateLimiter interface {
	Policy(action domain.RateLimitAction) (domain.RateLimitPolicy, bool)
	CheckAllowed(ctx context.Context, identifier string, action domain.RateLimitAction) (usecase.RateLimitDecision, error)
	RecordAttempt(ctx context.Context, identifier string, action domain.RateLimitAction) (domain.RateLimitRecord, error)
}

// ProblemDetails represents an RFC 9457 compatible error payload for rate limits.
type ProblemDetails struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail"`
	Instance   string `json:"instance"`
	RetryAfter int    `json:"retry_after"`
	TraceID    string `json:"trace_id,omitempty"`
}

// RateLimit counts every request against action, keyed by client IP. Store
// failures are logged; degradation decides whether the request is let through
// or answered with 503.
func RateLimit(limiter APIRateLimiter, action domain.RateLimitAction, degradation domain.DegradationPolicy, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	policy, ok := domain.RateLimitPolicy{}, false
	if limiter != nil {
		policy, ok = limiter.Policy(action)
	}

	degrade := func(c *gin.Context, msg string, err error) {
		log.Warn(msg,
			zap.String("action", string(action)),
			zap.String("degradation_policy", string(degradation.Mode())),
			zap.Error(err),
		)
		if !degradation.AllowsFallback() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				newErrorResponse(c, "rate_limit_unavailable", "request could not be admitted, try again later"))
			return
		}
		c.Next()
	}

	return func(c *gin.Context) {
		identifier := c.ClientIP()
		if !ok || identifier == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		decision, err := limiter.CheckAllowed(ctx, identifier, action)
		if err != nil {
			degrade(c, "rate limit check failed", err)
			return
		}
		if !decision.Allowed {
			headers := c.Writer.Header()
			headers.Set("X-RateLimit-Limit", strconv.Itoa(policy.MaxAttempts))
			headers.Set("X-RateLimit-Remaining", "0")
			WriteRateLimited(c, decision.Message, decision.RetryAfter)
			return
		}

		record, err := limiter.RecordAttempt(ctx, identifier, action)
		if err != nil {
			degrade(c, "rate limit record failed", err)
			return
		}

		headers := c.Writer.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(policy.MaxAttempts))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(max(policy.MaxAttempts-record.Attempts, 0)))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(record.WindowEnd(policy.Window).Unix(), 10))

		c.Next()
	}
}

// WriteRateLimited aborts with 429, a Retry-After header and a problem body.
func WriteRateLimited(c *gin.Context, message string, retryAfter time.Duration) {
	retrySeconds := int(math.Ceil(retryAfter.Seconds()))
	if retrySeconds < 0 {
		retrySeconds = 0
	}
	if message == "" {
		message = fmt.Sprintf("too many requests, try again in %d seconds", retrySeconds)
	}

	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	c.Header("Retry-After", strconv.Itoa(retrySeconds))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, ProblemDetails{
		Type:       rateLimitProblemType,
		Title:      rateLimitProblemTitle,
		Status:     http.StatusTooManyRequests,
		Detail:     message,
		Instance:   instance,
		RetryAfter: retrySeconds,
		TraceID:    GetTraceID(c),
	})
}
