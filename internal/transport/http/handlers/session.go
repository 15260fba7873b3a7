package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
	"github.com/iyyansoft/eventzgo-sub003/internal/transport/http/middleware"
)

// SessionService lists and revokes the caller's own sessions.
type SessionService interface {
	ListSessions(ctx context.Context, accountID string) ([]domain.Session, error)
	RevokeSession(ctx context.Context, accountID, sessionID string, client domain.ClientMetadata) error
}

// SessionHandler exposes self-service session management.
type SessionHandler struct {
	sessions SessionService
	logger   *zap.Logger
}

// NewSessionHandler constructs a session handler.
func NewSessionHandler(sessions SessionService, log *zap.Logger) *SessionHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionHandler{sessions: sessions, logger: log}
}

// RegisterRoutes binds session routes. The group must already require a session.
func (h *SessionHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("", h.listSessions)
	r.GET("/current", h.currentSession)
	r.DELETE("/:session_id", h.revokeSession)
}

// ListSessions godoc
// @Summary List active sessions
// @Tags Sessions
// @Security BearerAuth
// @Produce json
// @Success 200 {object} SessionListResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/sessions [get]
func (h *SessionHandler) listSessions(c *gin.Context) {
	accountID, _ := middleware.AuthenticatedAccountID(c)
	current, _ := middleware.CurrentSession(c)

	sessions, err := h.sessions.ListSessions(c.Request.Context(), accountID)
	if err != nil {
		RespondWithError(c, h.logger, err)
		return
	}

	currentID := ""
	if current != nil {
		currentID = current.ID
	}
	summaries := make([]SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		summaries = append(summaries, newSessionSummary(session, currentID))
	}
	c.JSON(http.StatusOK, SessionListResponse{Sessions: summaries})
}

func (h *SessionHandler) currentSession(c *gin.Context) {
	current, ok := middleware.CurrentSession(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, NewErrorResponse(c, "unauthenticated", "authentication required"))
		return
	}
	c.JSON(http.StatusOK, newSessionSummary(*current, current.ID))
}

// RevokeSession godoc
// @Summary Revoke one of the caller's sessions
// @Tags Sessions
// @Security BearerAuth
// @Param session_id path string true "Session ID"
// @Success 204 {string} string ""
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/sessions/{session_id} [delete]
func (h *SessionHandler) revokeSession(c *gin.Context) {
	accountID, _ := middleware.AuthenticatedAccountID(c)
	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		respondBadPayload(c, "session_id is required")
		return
	}

	if err := h.sessions.RevokeSession(c.Request.Context(), accountID, sessionID, middleware.ClientMetadata(c)); err != nil {
		RespondWithError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
