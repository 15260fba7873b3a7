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

// AccountService performs onboarding and administrative status changes.
type AccountService interface {
	Get(ctx context.Context, accountID string) (*domain.Account, error)
	CompleteSetup(ctx context.Context, accountID string, requireApproval bool, client domain.ClientMetadata) (*domain.Account, error)
	Approve(ctx context.Context, accountID string, client domain.ClientMetadata) (*domain.Account, error)
	Suspend(ctx context.Context, accountID, reason string, client domain.ClientMetadata) (*domain.Account, error)
	Block(ctx context.Context, accountID, reason string, client domain.ClientMetadata) (*domain.Account, error)
	Reinstate(ctx context.Context, accountID string, client domain.ClientMetadata) (*domain.Account, error)
}

// AccountHandler serves the signed-in account and the administrator account API.
type AccountHandler struct {
	accounts        AccountService
	requireApproval bool
	logger          *zap.Logger
}

// NewAccountHandler constructs an AccountHandler. requireApproval is the
// default applied when an administrator completes setup without an override.
func NewAccountHandler(accounts AccountService, requireApproval bool, log *zap.Logger) *AccountHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountHandler{accounts: accounts, requireApproval: requireApproval, logger: log}
}

// RegisterSelfRoutes binds /account routes. The group must already require a session.
func (h *AccountHandler) RegisterSelfRoutes(r *gin.RouterGroup) {
	r.GET("", h.me)
	r.POST("/complete-setup", h.completeOwnSetup)
}

// RegisterAdminRoutes binds /admin/accounts routes. The group must already
// require the administrator key.
func (h *AccountHandler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/:account_id", h.get)
	r.POST("/:account_id/complete-setup", h.completeSetup)
	r.POST("/:account_id/approve", h.approve)
	r.POST("/:account_id/suspend", h.suspend)
	r.POST("/:account_id/block", h.block)
	r.POST("/:account_id/reinstate", h.reinstate)
}

func (h *AccountHandler) me(c *gin.Context) {
	accountID, _ := middleware.AuthenticatedAccountID(c)
	account, err := h.accounts.Get(c.Request.Context(), accountID)
	if err != nil {
		RespondWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, AccountResponse{Account: newAccountSummary(*account)})
}

// CompleteOwnSetup godoc
// @Summary Finish onboarding for the signed-in account
// @Tags Account
// @Security BearerAuth
// @Produce json
// @Success 200 {object} AccountResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/account/complete-setup [post]
func (h *AccountHandler) completeOwnSetup(c *gin.Context) {
	accountID, _ := middleware.AuthenticatedAccountID(c)
	account, err := h.accounts.CompleteSetup(c.Request.Context(), accountID, h.requireApproval, middleware.ClientMetadata(c))
	if err != nil {
		RespondWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, AccountResponse{Account: newAccountSummary(*account)})
}

func (h *AccountHandler) get(c *gin.Context) {
	account, err := h.accounts.Get(c.Request.Context(), c.Param("account_id"))
	if err != nil {
		RespondWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, newAdminAccountView(*account))
}

func (h *AccountHandler) completeSetup(c *gin.Context) {
	var req CompleteSetupRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadPayload(c, "invalid complete-setup payload")
			return
		}
	}
	requireApproval := h.requireApproval
	if req.RequireApproval != nil {
		requireApproval = *req.RequireApproval
	}

	account, err := h.accounts.CompleteSetup(c.Request.Context(), c.Param("account_id"), requireApproval, middleware.ClientMetadata(c))
	h.respondAccount(c, account, err)
}

func (h *AccountHandler) approve(c *gin.Context) {
	account, err := h.accounts.Approve(c.Request.Context(), c.Param("account_id"), middleware.ClientMetadata(c))
	h.respondAccount(c, account, err)
}

// Suspend godoc
// @Summary Suspend an account and revoke its sessions
// @Tags Admin
// @Accept json
// @Produce json
// @Param account_id path string true "Account ID"
// @Param request body StatusChangeRequest true "Reason"
// @Success 200 {object} AdminAccountView
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/admin/accounts/{account_id}/suspend [post]
func (h *AccountHandler) suspend(c *gin.Context) {
	reason, ok := h.bindReason(c)
	if !ok {
		return
	}
	account, err := h.accounts.Suspend(c.Request.Context(), c.Param("account_id"), reason, middleware.ClientMetadata(c))
	h.respondAccount(c, account, err)
}

func (h *AccountHandler) block(c *gin.Context) {
	reason, ok := h.bindReason(c)
	if !ok {
		return
	}
	account, err := h.accounts.Block(c.Request.Context(), c.Param("account_id"), reason, middleware.ClientMetadata(c))
	h.respondAccount(c, account, err)
}

func (h *AccountHandler) reinstate(c *gin.Context) {
	account, err := h.accounts.Reinstate(c.Request.Context(), c.Param("account_id"), middleware.ClientMetadata(c))
	h.respondAccount(c, account, err)
}

func (h *AccountHandler) bindReason(c *gin.Context) (string, bool) {
	var req StatusChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Reason) == "" {
		respondBadPayload(c, "reason is required")
		return "", false
	}
	return strings.TrimSpace(req.Reason), true
}

func (h *AccountHandler) respondAccount(c *gin.Context, account *domain.Account, err error) {
	if err != nil {
		RespondWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, newAdminAccountView(*account))
}

func newAdminAccountView(account domain.Account) AdminAccountView {
	return AdminAccountView{
		AccountSummary:      newAccountSummary(account),
		FailedLoginAttempts: account.FailedLoginAttempts,
		UpdatedAt:           account.UpdatedAt,
	}
}
