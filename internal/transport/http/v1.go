package http

import (
	"github.com/gin-gonic/gin"

	"github.com/dwarvesf/escrow-backend/internal/handler"
	"github.com/dwarvesf/escrow-backend/internal/utils/config"
	"github.com/dwarvesf/escrow-backend/internal/utils/logger"
)

func loadV1Routes(r *gin.Engine, h *handler.Handler, appConfig *config.AppConfig, logger *logger.Logger) {
	api := r.Group("/api")
	{
		api.GET("/transactions", h.TransactionHandler.GetTransactions)
		api.POST("/lock", h.EscrowHandler.Lock)
		api.POST("/unlock", h.EscrowHandler.Unlock)
		api.POST("/unlock/cancel", h.EscrowHandler.CancelUnlock)
		api.POST("/submit", h.EscrowHandler.Submit)
		api.POST("/webhook", h.WebhookHandler.Receive)
	}

	health := r.Group("/api/v1/health")
	{
		health.GET("/db", h.HealthHandler.Database)
		health.GET("/external", h.HealthHandler.External)
		health.GET("/jobs", h.HealthHandler.Jobs)
	}

	r.GET("/healthz", h.HealthHandler.Basic)
	r.GET("/metrics", h.MetricsHandler.Handler())

	logger.Debug("routes loaded", map[string]string{
		"environment": string(appConfig.Environment),
	})
}
