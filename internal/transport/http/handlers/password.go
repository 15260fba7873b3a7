package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/iyyansoft/eventzgo-sub003/internal/transport/http/middleware"
	"github.com/iyyansoft/eventzgo-sub003/internal/usecase"
)

// PasswordService covers the reset and change flows.
type PasswordService interface {
	RequestPasswordReset(ctx context.Context, input usecase.PasswordResetRequestInput) error
	CompletePasswordReset(ctx context.Context, input usecase.PasswordResetConfirmInput) (*usecase.PasswordChangeResult, error)
	ChangePassword(ctx context.Context, input usecase.PasswordChangeInput) (*usecase.PasswordChangeResult, error)
}

// PasswordHandler handles password reset and change requests.
type PasswordHandler struct {
	passwords PasswordService
	logger    *zap.Logger
}

func NewPasswordHandler(passwords PasswordService, log *zap.Logger) *PasswordHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PasswordHandler{passwords: passwords, logger: log}
}

// RegisterRoutes binds /password routes. requireSession guards /change.
func (h *PasswordHandler) RegisterRoutes(r *gin.RouterGroup, requireSession gin.HandlerFunc) {
	r.POST("/reset/request", h.requestReset)
	r.POST("/reset/confirm", h.confirmReset)
	r.POST("/change", requireSession, h.changePassword)
}

// RequestReset godoc
// @Summary Request a password reset link
// @Description Always answers 202 so callers cannot learn which addresses are registered.
// @Tags Password
// @Accept json
// @Produce json
// @Param request body EmailRequest true "Account email"
// @Success 202 {object} MessageResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Router /api/v1/password/reset/request [post]
func (h *PasswordHandler) requestReset(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadPayload(c, "email is required")
		return
	}

	err := h.passwords.RequestPasswordReset(c.Request.Context(), usecase.PasswordResetRequestInput{
		Email:  req.Email,
		Client: middleware.ClientMetadata(c),
	})
	if err != nil {
		RespondWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusAccepted, MessageResponse{Message: "if an account exists for that address, a reset link has been sent"})
}

// ConfirmReset godoc
// @Summary Complete a password reset
// @Tags Password
// @Accept json
// @Produce json
// @Param request body PasswordResetConfirmRequest true "Reset token and new password"
// @Success 200 {object} PasswordChangeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /api/v1/password/reset/confirm [post]
func (h *PasswordHandler) confirmReset(c *gin.Context) {
	var req PasswordResetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadPayload(c, "token and new_password are required")
		return
	}

	result, err := h.passwords.CompletePasswordReset(c.Request.Context(), usecase.PasswordResetConfirmInput{
		Token:       req.Token,
		NewPassword: req.NewPassword,
		Client:      middleware.ClientMetadata(c),
	})
	if err != nil {
		RespondWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, PasswordChangeResponse{
		Message:         "password updated, please log in again",
		SessionsRevoked: result.SessionsRevoked,
	})
}

func (h *PasswordHandler) changePassword(c *gin.Context) {
	accountID, ok := middleware.AuthenticatedAccountID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, NewErrorResponse(c, "unauthenticated", "authentication required"))
		return
	}

	var req PasswordChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadPayload(c, "current_password and new_password are required")
		return
	}

	result, err := h.passwords.ChangePassword(c.Request.Context(), usecase.PasswordChangeInput{
		AccountID:       accountID,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		Client:          middleware.ClientMetadata(c),
	})
	if err != nil {
		RespondWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, PasswordChangeResponse{
		Message:         "password updated, please log in again",
		SessionsRevoked: result.SessionsRevoked,
	})
}
