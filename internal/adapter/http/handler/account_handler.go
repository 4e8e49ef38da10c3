package handler

import (
	"strconv"

	"timebank-escrow/internal/adapter/http/dto"
	"timebank-escrow/internal/core/ports"
	"timebank-escrow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AccountHandler handles balance, provisioning and inbox endpoints.
type AccountHandler struct {
	accountSvc ports.AccountService
	reporting  ports.ReportingService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountSvc ports.AccountService, reporting ports.ReportingService) *AccountHandler {
	return &AccountHandler{accountSvc: accountSvc, reporting: reporting}
}

// GetMe handles GET /api/v1/accounts/me.
func (h *AccountHandler) GetMe(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	account, err := h.accountSvc.Get(c.Request.Context(), actor.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.AccountResponse{
		UserID:  account.UserID.String(),
		Balance: account.Balance,
	})
}

// Open handles POST /api/v1/admin/accounts.
func (h *AccountHandler) Open(c *gin.Context) {
	var req dto.OpenAccountRequest
	if !bindJSON(c, &req) {
		return
	}

	// binding already checked the format
	userID := uuid.MustParse(req.UserID)

	account, err := h.accountSvc.Open(c.Request.Context(), userID, req.OpeningBalance)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.AccountResponse{
		UserID:  account.UserID.String(),
		Balance: account.Balance,
	})
}

// ListNotifications handles GET /api/v1/notifications.
func (h *AccountHandler) ListNotifications(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageLimit)))
	if limit < 1 || limit > maxPageLimit {
		limit = defaultPageLimit
	}

	items, err := h.reporting.ListNotifications(c.Request.Context(), actor.UserID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paged(c, dto.FromNotifications(items), limit, 0, len(items))
}
