package handler

import (
	"context"

	"timebank-escrow/internal/adapter/http/dto"
	"timebank-escrow/internal/core/domain"
	"timebank-escrow/internal/core/ports"
	"timebank-escrow/pkg/apperror"
	"timebank-escrow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EscrowHandler handles the escrow lifecycle endpoints used by marketplace parties.
type EscrowHandler struct {
	ledger    ports.EscrowLedger
	resolver  ports.DisputeResolver
	reporting ports.ReportingService
}

// NewEscrowHandler creates a new EscrowHandler.
func NewEscrowHandler(ledger ports.EscrowLedger, resolver ports.DisputeResolver, reporting ports.ReportingService) *EscrowHandler {
	return &EscrowHandler{ledger: ledger, resolver: resolver, reporting: reporting}
}

// Create handles POST /api/v1/escrows.
func (h *EscrowHandler) Create(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var hdr dto.IdempotencyHeader
	if err := c.ShouldBindHeader(&hdr); err != nil {
		response.Error(c, apperror.Validation("invalid Idempotency-Key header"))
		return
	}

	var req dto.CreateEscrowRequest
	if !bindJSON(c, &req) {
		return
	}
	dto.SanitizeStruct(&req)

	freelancerID, err := uuid.Parse(req.FreelancerID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid freelancer_id"))
		return
	}
	serviceID, err := uuid.Parse(req.ServiceID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid service_id"))
		return
	}

	record, err := h.ledger.CreateEscrow(c.Request.Context(), ports.CreateEscrowRequest{
		Actor:          actor,
		ClientID:       actor.UserID,
		FreelancerID:   freelancerID,
		ServiceID:      serviceID,
		Amount:         req.Amount,
		Terms:          req.Terms,
		IdempotencyKey: hdr.Key,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.FromEscrow(record))
}

// Get handles GET /api/v1/escrows/:id.
func (h *EscrowHandler) Get(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	record, err := h.ledger.GetStatus(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !canView(actor, record) {
		response.Error(c, apperror.ErrUnauthorized("not a party to this escrow"))
		return
	}

	response.OK(c, dto.FromEscrow(record))
}

// Timeline handles GET /api/v1/escrows/:id/timeline.
func (h *EscrowHandler) Timeline(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	timeline, err := h.ledger.Timeline(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !canView(actor, timeline.Escrow) {
		response.Error(c, apperror.ErrUnauthorized("not a party to this escrow"))
		return
	}

	response.OK(c, dto.FromTimeline(timeline))
}

// Accept handles POST /api/v1/escrows/:id/accept.
func (h *EscrowHandler) Accept(c *gin.Context) {
	h.transition(c, h.ledger.Accept)
}

// Release handles POST /api/v1/escrows/:id/release.
func (h *EscrowHandler) Release(c *gin.Context) {
	h.transition(c, h.ledger.Release)
}

// Refund handles POST /api/v1/escrows/:id/refund.
func (h *EscrowHandler) Refund(c *gin.Context) {
	h.transition(c, h.ledger.Refund)
}

type transitionFunc func(ctx context.Context, id uuid.UUID, actor domain.Actor) (*domain.TransitionResult, error)

func (h *EscrowHandler) transition(c *gin.Context, fn transitionFunc) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := fn(c.Request.Context(), id, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FromTransition(result))
}

// OpenDispute handles POST /api/v1/escrows/:id/dispute.
func (h *EscrowHandler) OpenDispute(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.OpenDisputeRequest
	if !bindJSON(c, &req) {
		return
	}
	dto.SanitizeStruct(&req)

	dispute, err := h.ledger.OpenDispute(c.Request.Context(), id, req.Reason, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.FromDispute(dispute))
}

// GetDispute handles GET /api/v1/escrows/:id/dispute.
func (h *EscrowHandler) GetDispute(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	dispute, err := h.resolver.GetDispute(c.Request.Context(), id, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FromDispute(dispute))
}

// ListMine handles GET /api/v1/escrows.
func (h *EscrowHandler) ListMine(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	limit, offset := pageParams(c)

	records, err := h.reporting.ListPartyEscrows(c.Request.Context(), actor.UserID, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paged(c, dto.FromEscrows(records), limit, offset, len(records))
}

func canView(actor domain.Actor, record *domain.EscrowRecord) bool {
	return actor.IsAdmin() || record.IsParty(actor.UserID)
}
