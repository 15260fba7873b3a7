package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/iyyansoft/eventzgo-sub003/internal/transport/http/middleware"
	"github.com/iyyansoft/eventzgo-sub003/internal/usecase"
)

// errorCase is the HTTP rendering of one usecase error kind.
type errorCase struct {
	Status  int
	Code    string
	Message string
}

var errorCases = map[usecase.ErrorKind]errorCase{
	usecase.KindValidationFailed:   {http.StatusBadRequest, "validation_failed", "request validation failed"},
	usecase.KindInvalidCredentials: {http.StatusUnauthorized, "invalid_credentials", "invalid credentials"},
	usecase.KindAccountNotActive:   {http.StatusForbidden, "account_not_active", "account is not active"},
	usecase.KindAccountNotFound:    {http.StatusNotFound, "account_not_found", "account not found"},
	usecase.KindConflict:           {http.StatusConflict, "conflict", "request conflicts with the current state"},
	usecase.KindTokenNotFound:      {http.StatusBadRequest, "token_invalid", "invalid or unknown token"},
	usecase.KindTokenExpired:       {http.StatusGone, "token_expired", "token expired"},
	usecase.KindTokenAlreadyUsed:   {http.StatusConflict, "token_used", "token already used"},
	usecase.KindSessionNotFound:    {http.StatusNotFound, "session_not_found", "session not found"},
	usecase.KindSessionExpired:     {http.StatusUnauthorized, "session_expired", "session expired"},
	usecase.KindSessionIdleTimeout: {http.StatusUnauthorized, "session_idle_timeout", "session timed out due to inactivity"},
	usecase.KindSessionRevoked:     {http.StatusUnauthorized, "session_revoked", "session revoked"},
}

// RespondWithError renders err according to its kind. Unclassified errors are
// infrastructure failures: they are logged and answered with 500.
func RespondWithError(c *gin.Context, log *zap.Logger, err error) {
	kind := usecase.KindOf(err)

	if kind == usecase.KindRateLimited {
		var limited *usecase.RateLimitExceededError
		if errors.As(err, &limited) {
			middleware.WriteRateLimited(c, limited.Message(), limited.RetryAfter)
			return
		}
		middleware.WriteRateLimited(c, "", 0)
		return
	}

	cs, ok := errorCases[kind]
	if !ok {
		if log != nil {
			log.Error("request failed",
				zap.String("trace_id", middleware.GetTraceID(c)),
				zap.String("route", c.FullPath()),
				zap.Error(err),
			)
		}
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, NewErrorResponse(c, "internal_error", "internal server error"))
		return
	}

	response := NewErrorResponse(c, cs.Code, cs.Message)
	var policyErr *usecase.PasswordPolicyError
	switch {
	case errors.As(err, &policyErr):
		response.Error = "password does not meet requirements"
		for _, violation := range policyErr.Violations {
			response.Details = append(response.Details, violation.Message)
		}
	case kind == usecase.KindValidationFailed || kind == usecase.KindConflict:
		response.Error = err.Error()
	}

	c.AbortWithStatusJSON(cs.Status, response)
}

func respondBadPayload(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, NewErrorResponse(c, "invalid_payload", message))
}
