package handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/dwarvesf/escrow-backend/internal/builder"
	"github.com/dwarvesf/escrow-backend/internal/handler/escrow"
	"github.com/dwarvesf/escrow-backend/internal/handler/health"
	"github.com/dwarvesf/escrow-backend/internal/handler/metrics"
	"github.com/dwarvesf/escrow-backend/internal/handler/transaction"
	"github.com/dwarvesf/escrow-backend/internal/handler/webhook"
	"github.com/dwarvesf/escrow-backend/internal/ingestor"
	"github.com/dwarvesf/escrow-backend/internal/monitoring"
	"github.com/dwarvesf/escrow-backend/internal/orchestrator"
	"github.com/dwarvesf/escrow-backend/internal/reconciler"
	"github.com/dwarvesf/escrow-backend/internal/utils/config"
	"github.com/dwarvesf/escrow-backend/internal/utils/logger"
)

type Handler struct {
	TransactionHandler transaction.IHandler
	EscrowHandler      escrow.IHandler
	WebhookHandler     webhook.IHandler
	HealthHandler      health.IHealthHandler
	MetricsHandler     *metrics.MetricsHandler
}

// Deps are the services the HTTP surface delegates to.
type Deps struct {
	Reconciler       reconciler.IReconciler
	Orchestrator     orchestrator.IOrchestrator
	Ingestor         ingestor.IIngestor
	Builder          builder.IBuilder
	DB               *gorm.DB
	MetricsRegistry  *prometheus.Registry
	JobStatusManager *monitoring.JobStatusManager
}

func New(appConfig *config.AppConfig, logger *logger.Logger, deps Deps) *Handler {
	return &Handler{
		TransactionHandler: transaction.New(deps.Reconciler, logger),
		EscrowHandler:      escrow.New(deps.Orchestrator, logger),
		WebhookHandler:     webhook.New(deps.Ingestor, logger),
		HealthHandler:      health.New(appConfig, logger, deps.DB, deps.Builder, deps.JobStatusManager),
		MetricsHandler:     metrics.NewMetricsHandler(deps.MetricsRegistry),
	}
}
