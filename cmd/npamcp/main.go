package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/localrivet/npamcp"
	"github.com/localrivet/npamcp/internal/config"
	"github.com/localrivet/npamcp/internal/errortypes"
	"github.com/localrivet/npamcp/internal/logger"
	"github.com/localrivet/npamcp/internal/telemetry"
)

func main() {
	// Initialize logging first thing. Stdout carries the MCP stream.
	appLogger := logger.Setup(os.Getenv(config.EnvPrefix+"_LOG_LEVEL"), os.Getenv(config.EnvPrefix+"_LOG_FORMAT"), os.Stderr)
	appLogger.Info("npamcp MCP server - starting")

	cfg, err := config.LoadConfig()
	if err != nil {
		errortypes.LogError(appLogger, err)
		os.Exit(1)
	}

	appLogger = logger.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	appLogger.Info("Configuration loaded", "path", cfg.GetConfigPath())
	appLogger.Debug("Effective configuration", "config", cfg.Redacted())

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := npamcp.NewServer(npamcp.ServerOptions{
		Config:     cfg,
		Logger:     appLogger,
		Registerer: registry,
	})
	if err != nil {
		errortypes.LogError(appLogger, err)
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.Metrics.Addr != "" {
		metricsServer = startMetricsServer(cfg.Metrics.Addr, registry, appLogger)
	}

	setupSignalHandler(srv, metricsServer, appLogger)

	// Blocks until stdin is closed
	if err := srv.Start(); err != nil {
		errortypes.LogError(appLogger, errortypes.InternalError(err, "MCP server failed"))
		os.Exit(1)
	}
	shutdown(srv, metricsServer, appLogger)
}

// startMetricsServer serves /metrics in the background.
func startMetricsServer(addr string, gatherer prometheus.Gatherer, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler(gatherer))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("Serving metrics", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errortypes.LogError(log, errortypes.NetworkError(err, "metrics listener failed").WithField("addr", addr))
		}
	}()
	return httpServer
}

// setupSignalHandler sets up a signal handler for graceful shutdown.
func setupSignalHandler(srv *npamcp.Server, metricsServer *http.Server, log *slog.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Info("Received shutdown signal, terminating gracefully")
		shutdown(srv, metricsServer, log)
		os.Exit(0)
	}()
}

func shutdown(srv *npamcp.Server, metricsServer *http.Server, log *slog.Logger) {
	if err := srv.Stop(); err != nil {
		errortypes.LogError(log, err)
	}
	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Warn("Metrics listener did not shut down cleanly", "error", err)
		}
	}
	log.Info("Shutdown complete")
}
