package handler

import (
	"timebank-escrow/internal/adapter/http/dto"
	"timebank-escrow/internal/core/domain"
	"timebank-escrow/internal/core/ports"
	"timebank-escrow/pkg/response"

	"github.com/gin-gonic/gin"
)

// AdminHandler serves the operator dashboard and dispute rulings.
type AdminHandler struct {
	reporting ports.ReportingService
	resolver  ports.DisputeResolver
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(reporting ports.ReportingService, resolver ports.DisputeResolver) *AdminHandler {
	return &AdminHandler{reporting: reporting, resolver: resolver}
}

// ListActive handles GET /api/v1/admin/escrows/active.
func (h *AdminHandler) ListActive(c *gin.Context) {
	limit, offset := pageParams(c)

	records, err := h.reporting.ListActiveEscrows(c.Request.Context(), limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paged(c, dto.FromEscrows(records), limit, offset, len(records))
}

// Stats handles GET /api/v1/admin/stats.
func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := h.reporting.GetStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.StatsResponse{
		ActiveEscrows:     stats.ActiveEscrows,
		HeldEscrows:       stats.HeldEscrows,
		DisputedEscrows:   stats.DisputedEscrows,
		DisputesOpen:      stats.DisputesOpen,
		CreditsInFlight:   stats.CreditsInFlight,
		CreditsInAccounts: stats.CreditsInAccounts,
	})
}

// ResolveDispute handles POST /api/v1/admin/disputes/:id/resolve, where :id is the escrow id.
func (h *AdminHandler) ResolveDispute(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.ResolveDisputeRequest
	if !bindJSON(c, &req) {
		return
	}
	dto.SanitizeStruct(&req)

	result, err := h.resolver.Resolve(c.Request.Context(), ports.ResolveRequest{
		EscrowID: id,
		Decision: domain.Decision(req.Decision),
		Note:     req.ResolutionNote,
		Actor:    actor,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FromTransition(result))
}
