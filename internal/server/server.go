package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"github.com/dwarvesf/escrow-backend/internal/builder"
	"github.com/dwarvesf/escrow-backend/internal/consts"
	"github.com/dwarvesf/escrow-backend/internal/handler"
	"github.com/dwarvesf/escrow-backend/internal/ingestor"
	"github.com/dwarvesf/escrow-backend/internal/monitoring"
	"github.com/dwarvesf/escrow-backend/internal/orchestrator"
	"github.com/dwarvesf/escrow-backend/internal/reconciler"
	"github.com/dwarvesf/escrow-backend/internal/store"
	"github.com/dwarvesf/escrow-backend/internal/store/database"
	httptransport "github.com/dwarvesf/escrow-backend/internal/transport/http"
	"github.com/dwarvesf/escrow-backend/internal/utils/config"
	"github.com/dwarvesf/escrow-backend/internal/utils/logger"
	"github.com/dwarvesf/escrow-backend/internal/utils/uptime"
	"github.com/dwarvesf/escrow-backend/internal/utils/vault"
)

const holdSweepTimeout = 30 * time.Second

func Init() {
	appConfig := config.New()
	logger := logger.New(appConfig.Environment)
	defer logger.Sync()

	if err := loadSecrets(appConfig, logger); err != nil {
		logger.Fatal("[Init][loadSecrets] failed to read secrets from vault", map[string]string{
			"error": err.Error(),
		})
	}

	db, err := database.Open(appConfig, logger)
	if err != nil {
		logger.Fatal("[Init][database.Open] failed to open database", map[string]string{
			"error": err.Error(),
		})
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	httpMetrics := monitoring.NewHTTPMetrics()
	httpMetrics.MustRegister(registry)
	externalMetrics := monitoring.NewExternalAPIMetrics()
	externalMetrics.MustRegister(registry)
	jobMetrics := monitoring.NewBackgroundJobMetrics()
	jobMetrics.MustRegister(registry)
	business := monitoring.NewBusinessMetricsRecorder(httpMetrics)

	txBuilder := monitoring.NewCircuitBreakerBuilderWithTimeout(
		builder.New(appConfig, logger),
		monitoring.BuilderCircuitBreakerConfig(),
		monitoring.BuilderTimeoutConfig(appConfig.Builder.Timeout),
		externalMetrics,
		logger,
	)

	rec := reconciler.New(db, store.New(), logger, reconciler.WithMetrics(business))
	orch := orchestrator.New(appConfig, rec, txBuilder, logger, orchestrator.WithMetrics(business))
	ing := ingestor.New(appConfig, rec, logger, ingestor.WithMetrics(business))

	jobStatusManager := monitoring.NewJobStatusManager(logger, jobMetrics)
	defer jobStatusManager.Stop()

	heartbeat := uptime.New(appConfig.Monitoring.UptimeWebhookURL, logger)
	holdSweep := monitoring.NewInstrumentedJob(consts.JobUnlockHoldRelease, func(ctx context.Context) error {
		if err := sweepUnlockHolds(ctx, orch, rec, jobMetrics, logger); err != nil {
			return err
		}
		heartbeat.Ping(ctx)
		return nil
	}, jobStatusManager, logger, holdSweepTimeout)

	c := cron.New()
	if _, err := c.AddJob(appConfig.Escrow.HoldSweepSpec, holdSweep); err != nil {
		logger.Fatal("[Init][cron.AddJob] invalid unlock hold sweep schedule", map[string]string{
			"spec":  appConfig.Escrow.HoldSweepSpec,
			"error": err.Error(),
		})
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	h := handler.New(appConfig, logger, handler.Deps{
		Reconciler:       rec,
		Orchestrator:     orch,
		Ingestor:         ing,
		Builder:          txBuilder,
		DB:               db,
		MetricsRegistry:  registry,
		JobStatusManager: jobStatusManager,
	})

	srv := &http.Server{
		Addr:              ":" + appConfig.ApiServer.Port,
		Handler:           httptransport.NewHttpServer(appConfig, logger, h, httpMetrics),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("http server listening", map[string]string{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("[Init][ListenAndServe] http server stopped", map[string]string{
				"error": err.Error(),
			})
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("[Init][Shutdown] graceful shutdown failed", map[string]string{
			"error": err.Error(),
		})
		os.Exit(1)
	}
}

// loadSecrets is a no-op unless VAULT_ADDR is set.
func loadSecrets(appConfig *config.AppConfig, logger *logger.Logger) error {
	if appConfig.Vault.Addr == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	vc, err := vault.New(ctx, vault.Config{
		Addr:         appConfig.Vault.Addr,
		KVSecretPath: appConfig.Vault.KVSecretPath,
		Role:         appConfig.Vault.Role,
		Token:        appConfig.Vault.Token,
	})
	if err != nil {
		return err
	}
	secrets, err := vc.Secrets(ctx)
	if err != nil {
		return err
	}

	applied := appConfig.ApplySecrets(secrets)
	logger.Info("secrets loaded from vault", map[string]string{
		"keys": strings.Join(applied, ","),
	})
	return nil
}

// sweepUnlockHolds releases expired unlock holds and refreshes the per-status gauge.
func sweepUnlockHolds(ctx context.Context, orch orchestrator.IOrchestrator, rec reconciler.IReconciler, metrics *monitoring.BackgroundJobMetrics, logger *logger.Logger) error {
	released, err := orch.ReleaseStaleUnlockHolds(ctx)
	if err != nil {
		return err
	}
	if released > 0 {
		logger.Info("released stale unlock holds", map[string]string{
			"released": strconv.Itoa(released),
		})
	}

	counts, err := rec.CountByStatus(ctx)
	if err != nil {
		return err
	}
	metrics.SetTransactionsByStatus(counts)
	return nil
}
