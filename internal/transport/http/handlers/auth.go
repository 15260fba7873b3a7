package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
	"github.com/iyyansoft/eventzgo-sub003/internal/transport/http/middleware"
	"github.com/iyyansoft/eventzgo-sub003/internal/usecase"
)

// AuthService is the slice of the auth facade used by AuthHandler.
type AuthService interface {
	Register(ctx context.Context, input usecase.RegisterInput) (*usecase.RegisterResult, error)
	VerifyEmail(ctx context.Context, token string, client domain.ClientMetadata) (*domain.Account, error)
	ResendVerification(ctx context.Context, email string, client domain.ClientMetadata) error
	Login(ctx context.Context, input usecase.LoginInput) (*usecase.LoginResult, error)
	Logout(ctx context.Context, token string, client domain.ClientMetadata) error
	LogoutAll(ctx context.Context, accountID string, client domain.ClientMetadata) (int, error)
}

// AuthHandler exposes registration, verification and login endpoints.
type AuthHandler struct {
	auth   AuthService
	logger *zap.Logger
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth AuthService, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{auth: auth, logger: log}
}

// RegisterRoutes binds authentication routes. requireSession guards logout.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, requireSession gin.HandlerFunc) {
	r.POST("/register", h.register)
	r.POST("/verify-email", h.verifyEmail)
	r.POST("/verify-email/resend", h.resendVerification)
	r.POST("/login", h.login)
	r.POST("/logout", requireSession, h.logout)
	r.POST("/logout-all", requireSession, h.logoutAll)
}

// Register godoc
// @Summary Register a new account
// @Description Creates an account pending email verification and sends the verification link.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body RegistrationRequest true "Registration request payload"
// @Success 201 {object} RegistrationResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) register(c *gin.Context) {
	var req RegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadPayload(c, "username, email and password are required")
		return
	}

	result, err := h.auth.Register(c.Request.Context(), usecase.RegisterInput{
		Username: strings.TrimSpace(req.Username),
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
		Client:   middleware.ClientMetadata(c),
	})
	if err != nil {
		RespondWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, RegistrationResponse{
		Account:               newAccountSummary(result.Account),
		VerificationExpiresAt: result.VerificationExpiresAt,
		Message:               "check your inbox to verify your email address",
	})
}

// VerifyEmail godoc
// @Summary Verify an email address
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body TokenRequest true "Verification token"
// @Success 200 {object} AccountResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /api/v1/auth/verify-email [post]
func (h *AuthHandler) verifyEmail(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadPayload(c, "token is required")
		return
	}

	account, err := h.auth.VerifyEmail(c.Request.Context(), strings.TrimSpace(req.Token), middleware.ClientMetadata(c))
	if err != nil {
		RespondWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, AccountResponse{Account: newAccountSummary(*account)})
}

// The response is identical whether or not the address is registered.
func (h *AuthHandler) resendVerification(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadPayload(c, "email is required")
		return
	}

	if err := h.auth.ResendVerification(c.Request.Context(), req.Email, middleware.ClientMetadata(c)); err != nil {
		RespondWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusAccepted, MessageResponse{Message: "if the address is awaiting verification, a new link has been sent"})
}

// Login godoc
// @Summary Log in with username or email
// @Description Returns an opaque session token to be sent as a Bearer credential.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Credentials"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadPayload(c, "identifier and password are required")
		return
	}

	result, err := h.auth.Login(c.Request.Context(), usecase.LoginInput{
		Identifier: req.Identifier,
		Password:   req.Password,
		Client:     middleware.ClientMetadata(c),
	})
	if err != nil {
		RespondWithError(c, h.logger, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, LoginResponse{
		Token:     result.Token,
		TokenType: "Bearer",
		ExpiresAt: result.Session.ExpiresAt,
		Account:   newAccountSummary(result.Account),
		Session:   newSessionSummary(result.Session, result.Session.ID),
	})
}

// Logout godoc
// @Summary Logout the current session
// @Tags Authentication
// @Security BearerAuth
// @Success 204 {string} string ""
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) logout(c *gin.Context) {
	if err := h.auth.Logout(c.Request.Context(), middleware.SessionToken(c), middleware.ClientMetadata(c)); err != nil {
		RespondWithError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AuthHandler) logoutAll(c *gin.Context) {
	accountID, ok := middleware.AuthenticatedAccountID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, NewErrorResponse(c, "unauthenticated", "authentication required"))
		return
	}

	count, err := h.auth.LogoutAll(c.Request.Context(), accountID, middleware.ClientMetadata(c))
	if err != nil {
		RespondWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, LogoutAllResponse{SessionsRevoked: count})
}
