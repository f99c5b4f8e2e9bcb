package main

import (
	"outbound-dialer/internal/httpapi"
	"outbound-dialer/internal/observability"
	"outbound-dialer/internal/rbac"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Route groups.
// Keep this file free of business logic. Handlers should delegate to internal modules.

func registerPublicRoutes(r *gin.Engine, h httpapi.Handlers, g prometheus.Gatherer) {
	r.GET("/healthz", h.Health)
	r.GET("/metrics", observability.Handler(g))

	// Provider webhooks. Authenticated by HMAC signature when a secret is configured.
	r.POST("/webhooks/provider", h.ProviderWebhook)

	// Token issuance for local tooling only.
	if h.AllowTokenIssue {
		r.POST("/v1/auth/token", h.IssueToken)
	}
}

func registerProtectedRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	v1 := r.Group("/v1")
	v1.Use(authMW)

	// Reads are open to every known role.
	read := v1.Group("")
	read.Use(rbac.RequireReader())
	{
		read.GET("/calls/:session_id", h.GetCall)
		read.GET("/bulk-calls/:id", h.GetBulk)
		read.GET("/bulk-calls/:id/report", h.GetBulkReport)
	}

	// Placing calls and controlling campaigns needs operator or admin.
	write := v1.Group("")
	write.Use(rbac.RequireOperator())
	{
		write.POST("/calls", h.TriggerCall)
		write.POST("/calls/:session_id/refresh", h.RefreshCall)
		write.POST("/bulk-calls", h.TriggerBulkCalls)
		write.POST("/bulk-calls/:id/pause", h.PauseBulk)
		write.POST("/bulk-calls/:id/resume", h.ResumeBulk)
	}
}
