package handler

import (
	"timebank-escrow/internal/adapter/http/middleware"
	"timebank-escrow/internal/core/ports"
	"timebank-escrow/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const defaultMaxBodyBytes = 1 << 20

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Ledger         ports.EscrowLedger
	Resolver       ports.DisputeResolver
	AccountSvc     ports.AccountService
	ReportingSvc   ports.ReportingService
	TokenSvc       ports.TokenService
	RateLimitStore middleware.RateLimitStore // nil = rate limiting disabled
	AuditSvc       ports.AuditService        // nil = audit logging disabled
	HealthCheckers []ports.HealthChecker
	MaxBodyBytes   int64
	MetricsPath    string // empty = /metrics not exposed
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(maxBody))
	if deps.MetricsPath != "" {
		r.Use(metrics.Middleware())
	}

	// Audit logging (after response)
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	if deps.MetricsPath != "" {
		r.GET(deps.MetricsPath, gin.WrapH(metrics.Handler()))
	}

	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	v1 := r.Group("/api/v1", jwtAuth)

	escrowHandler := NewEscrowHandler(deps.Ledger, deps.Resolver, deps.ReportingSvc)
	escrows := v1.Group("/escrows")
	{
		escrows.POST("", rl("escrow_create"), escrowHandler.Create)
		escrows.GET("", rl("read"), escrowHandler.ListMine)
		escrows.GET("/:id", rl("read"), escrowHandler.Get)
		escrows.GET("/:id/timeline", rl("read"), escrowHandler.Timeline)
		escrows.GET("/:id/dispute", rl("read"), escrowHandler.GetDispute)
		escrows.POST("/:id/accept", rl("escrow_action"), escrowHandler.Accept)
		escrows.POST("/:id/release", rl("escrow_action"), escrowHandler.Release)
		escrows.POST("/:id/refund", rl("escrow_action"), escrowHandler.Refund)
		escrows.POST("/:id/dispute", rl("escrow_action"), escrowHandler.OpenDispute)
	}

	accountHandler := NewAccountHandler(deps.AccountSvc, deps.ReportingSvc)
	v1.GET("/accounts/me", rl("read"), accountHandler.GetMe)
	v1.GET("/notifications", rl("read"), accountHandler.ListNotifications)

	adminHandler := NewAdminHandler(deps.ReportingSvc, deps.Resolver)
	admin := v1.Group("/admin", middleware.RequireAdmin(), rl("admin"))
	{
		admin.GET("/escrows/active", adminHandler.ListActive)
		admin.GET("/stats", adminHandler.Stats)
		admin.POST("/disputes/:id/resolve", adminHandler.ResolveDispute)
		admin.POST("/accounts", accountHandler.Open)
	}

	return r
}
