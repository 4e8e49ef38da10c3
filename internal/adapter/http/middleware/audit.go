package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"timebank-escrow/internal/core/domain"
	"timebank-escrow/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditLog creates an audit middleware that logs successful write operations.
// It maps the matched route to an audit action. Dispute resolution is audited by
// the resolver itself and is not mapped here.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only audit successful write operations (status 2xx)
		if c.Writer.Status() < 200 || c.Writer.Status() >= 300 {
			return
		}
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead || c.Request.Method == http.MethodOptions {
			return
		}

		action, resourceType := mapRouteToAction(c.FullPath(), c.Request.Method)
		if action == "" {
			return
		}

		var actorID *uuid.UUID
		if actor, ok := ActorFrom(c); ok {
			actorID = actor.ID()
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"request_id": c.GetString(CtxRequestID),
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.New(),
			ActorID:      actorID,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   c.Param("id"),
			IPAddress:    c.ClientIP(),
			UserAgent:    c.Request.UserAgent(),
			Details:      string(details),
			CreatedAt:    time.Now().UTC(),
		})
	}
}

func mapRouteToAction(route, method string) (domain.AuditAction, string) {
	if method != http.MethodPost {
		return "", ""
	}
	switch route {
	case "/api/v1/escrows":
		return domain.AuditActionCreateEscrow, "escrow"
	case "/api/v1/escrows/:id/accept":
		return domain.AuditActionAcceptEscrow, "escrow"
	case "/api/v1/escrows/:id/release":
		return domain.AuditActionReleaseEscrow, "escrow"
	case "/api/v1/escrows/:id/refund":
		return domain.AuditActionRefundEscrow, "escrow"
	case "/api/v1/escrows/:id/dispute":
		return domain.AuditActionOpenDispute, "escrow"
	case "/api/v1/admin/accounts":
		return domain.AuditActionCreateAccount, "account"
	}
	return "", ""
}
