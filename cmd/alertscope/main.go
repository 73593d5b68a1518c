package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alertscope/alertscope/internal/api"
	"github.com/alertscope/alertscope/internal/collector"
	"github.com/alertscope/alertscope/internal/config"
	"github.com/alertscope/alertscope/internal/connectors"
	"github.com/alertscope/alertscope/internal/engine"
	"github.com/alertscope/alertscope/internal/metrics"
	"github.com/alertscope/alertscope/internal/reasoning"
	"github.com/alertscope/alertscope/internal/registry"
	"github.com/alertscope/alertscope/internal/store"
	"github.com/alertscope/alertscope/internal/testdata"
	"github.com/alertscope/alertscope/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON, nil)
	logger.Info("starting alertscope", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Error("failed to open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()

	connOpts := connectors.Options{
		HealthTimeout: cfg.Connectors.HealthTimeout,
		QueryTimeout:  cfg.Connectors.QueryTimeout,
	}
	coordinator := collector.New(logger, testdata.NewProvider(), connOpts)
	reasoner := reasoning.NewClient(cfg.Reasoning, logger)
	reg := registry.New()

	analyzer := engine.NewAnalyzer(
		st,
		coordinator,
		reasoner,
		reg,
		logger,
		time.Duration(cfg.Analysis.DefaultTimeRangeMinutes)*time.Minute,
		cfg.Analysis.EventPacing,
	)

	handlers := api.NewHandlers(st, analyzer, reg, logger, connOpts)
	server := api.NewServer(cfg.Server, handlers.Router(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("alertscope stopped")
}
