package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wolfman30/patient-sheets/cmd/mainconfig"
	"github.com/wolfman30/patient-sheets/internal/api/router"
	"github.com/wolfman30/patient-sheets/internal/app/bootstrap"
	"github.com/wolfman30/patient-sheets/internal/clinicdata"
	"github.com/wolfman30/patient-sheets/internal/compliance"
	appconfig "github.com/wolfman30/patient-sheets/internal/config"
	"github.com/wolfman30/patient-sheets/internal/http/handlers"
	"github.com/wolfman30/patient-sheets/internal/observability/metrics"
	"github.com/wolfman30/patient-sheets/internal/patients"
	"github.com/wolfman30/patient-sheets/internal/selection"
	"github.com/wolfman30/patient-sheets/internal/sheets"
	"github.com/wolfman30/patient-sheets/pkg/logging"
)

func main() {
	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting patient-sheets API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Durable state
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}
	store, storeCloser, err := bootstrap.BuildSelectionStore(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.Error("failed to open selection store", "error", err)
		os.Exit(1)
	}
	defer storeCloser.Close()
	selector := selection.NewSelector(store).WithLogger(logger)

	auditor, auditDB, err := bootstrap.BuildAuditService(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect audit database", "error", err)
		os.Exit(1)
	}
	if auditDB != nil {
		defer auditDB.Close()
	}

	// Spreadsheet session
	metricsHandler, sessionMetrics := setupSessionMetrics()
	session := bootstrap.BuildSession(cfg, bootstrap.SessionDeps{
		Selector: selector,
		Metrics:  sessionMetrics,
		Logger:   logger,
	})

	exporter, err := setupExporter(ctx, cfg, session, auditor, logger)
	if err != nil {
		logger.Error("failed to configure exports", "error", err)
		os.Exit(1)
	}

	// Initialize handlers
	patientService := patients.NewService(session, selector, auditor, logger)
	routerCfg := &router.Config{
		Logger:             logger,
		Session:            handlers.NewSessionHandler(session, cfg.ConsentTimeout, logger),
		Containers:         handlers.NewContainerHandler(session, auditor, logger),
		Patients:           patients.NewHandler(patientService, logger),
		Exports:            handlers.NewExportHandler(exporter, logger),
		Selection:          selector,
		StaffAuthSecret:    cfg.AuthJWTSecret,
		RateLimitPerSecond: cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
		MetricsHandler:     metricsHandler,
		MetricsToken:       cfg.MetricsToken,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}
	r := router.New(ctx, routerCfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(r, "patient-sheets-api"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Warm the client so the first staff request does not pay for it.
	go func() {
		if err := session.EnsureReady(ctx); err != nil {
			logger.Warn("spreadsheet client not ready", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// setupSessionMetrics registers session metrics on a dedicated registry and
// returns its scrape handler.
func setupSessionMetrics() (http.Handler, *metrics.SessionMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewSessionMetrics(reg)
}

// setupExporter returns a disabled exporter when EXPORT_BUCKET is unset.
func setupExporter(ctx context.Context, cfg *appconfig.Config, session *sheets.Session, auditor compliance.Auditor, logger *logging.Logger) (*clinicdata.Exporter, error) {
	exporterCfg := clinicdata.ExporterConfig{
		Bucket:    cfg.ExportBucket,
		Sheet:     session,
		Selection: session.Selector(),
		Auditor:   auditor,
		Logger:    logger,
	}
	if cfg.ExportBucket == "" {
		logger.Info("snapshot exports disabled")
		return clinicdata.NewExporter(exporterCfg), nil
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	exporterCfg.S3 = mainconfig.NewS3Client(awsCfg, cfg)
	return clinicdata.NewExporter(exporterCfg), nil
}
