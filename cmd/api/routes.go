package main

import (
	"net/http"
	"time"

	"campaign-dialer/internal/app"
	"campaign-dialer/internal/auth"
	"campaign-dialer/internal/httpapi"
	"campaign-dialer/internal/rbac"
	"campaign-dialer/pkg/utils"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app.App, hub *httpapi.Hub) {
	h := httpapi.Handlers{
		Auth:       a.Auth,
		Scripts:    a.Scripts,
		Leads:      a.Leads,
		Campaigns:  a.Campaigns,
		Calls:      a.Calls,
		Pacing:     a.Pacing,
		Aggregator: a.Aggregator,
		Audit:      a.Audit,
		Log:        a.Log,
	}

	// public
	r.GET("/healthz", h.Health)
	r.GET("/readyz", func(c *gin.Context) {
		if a.DB != nil {
			if err := utils.HealthCheck(c.Request.Context(), a.DB, 2*time.Second); err != nil {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "database unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// Executor callbacks authenticate with the shared secret, not operator tokens.
	hook := r.Group("/executor", httpapi.RequireExecutorSecret(a.Config.Executor.WebhookSecret))
	{
		hook.POST("/sessions/:id/events", h.ExecutorEvent)
		hook.POST("/sessions/:id/terminal", h.ExecutorTerminal)
		hook.POST("/inbound", h.ExecutorInbound)
	}

	r.POST("/v1/auth/refresh", h.Refresh)

	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(a.Auth))

	read := rbac.RequireAnyRole(rbac.RoleSupervisor, rbac.RoleAnalyst)
	write := rbac.RequireAnyRole(rbac.RoleSupervisor)

	v1.GET("/stream", read, hub.Serve)
	v1.GET("/audit", read, h.ListAudit)

	scripts := v1.Group("/scripts")
	{
		scripts.GET("", read, h.ListScripts)
		scripts.GET("/:id", read, h.GetScript)
		scripts.POST("", write, h.CreateScript)
		scripts.PUT("/:id", write, h.UpdateScript)
		scripts.POST("/:id/activate", write, h.ActivateScript)
	}

	leads := v1.Group("/leads")
	{
		leads.GET("", read, h.ListLeads)
		leads.GET("/:id", read, h.GetLead)
		leads.POST("", write, h.CreateLead)
		leads.POST("/import", write, h.ImportLeads)
		leads.PATCH("/:id", write, h.UpdateLead)
		leads.DELETE("/:id", write, h.DeleteLead)
	}

	campaigns := v1.Group("/campaigns")
	{
		campaigns.GET("", read, h.ListCampaigns)
		campaigns.GET("/:id", read, h.GetCampaign)
		campaigns.GET("/:id/stats", read, h.CampaignStats)
		campaigns.GET("/:id/runtime", read, h.CampaignRuntime)
		campaigns.POST("", write, h.CreateCampaign)
		campaigns.PATCH("/:id", write, h.UpdateCampaign)
		for _, op := range []string{"activate", "pause", "resume", "complete"} {
			campaigns.POST("/:id/"+op, write, h.CampaignLifecycle(op))
		}
	}

	calls := v1.Group("/calls")
	{
		calls.GET("", read, h.ListCalls)
		calls.GET("/:id", read, h.GetCall)
		calls.GET("/:id/events", read, h.CallEvents)
		calls.GET("/:id/ledger", read, h.CallLedger)
		calls.POST("", write, h.Dial)
		calls.POST("/:id/void", write, h.VoidCall)
		calls.POST("/:id/correct", write, h.CorrectCall)
	}

	rollups := v1.Group("/rollups")
	{
		rollups.GET("/costs", read, h.RollupCosts)
		rollups.GET("/dispositions", read, h.RollupDispositions)
		rollups.GET("/hourly", read, h.RollupHourly)
		rollups.GET("/scripts", read, h.RollupScripts)
		// Only admin passes an empty allow list.
		rollups.POST("/rebuild", rbac.RequireAnyRole(), h.RebuildRollups)
	}
}
