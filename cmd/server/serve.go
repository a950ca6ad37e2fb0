package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/AnEntrypoint/A2F/internal/inference"
	"github.com/AnEntrypoint/A2F/internal/metrics"
	"github.com/AnEntrypoint/A2F/internal/server"
	"github.com/AnEntrypoint/A2F/internal/stream"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the streaming and HTTP servers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Logging)
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)

	logger.Info("Configuration loaded",
		slog.Bool("udp_enabled", cfg.Server.UDPEnabled),
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
		slog.Int("http_port", cfg.HTTP.Port),
		slog.Int("max_concurrent_streams", cfg.Server.MaxConcurrentStreams),
		slog.String("backend", cfg.Model.Backend),
		slog.String("model_path", cfg.Model.Path),
		slog.String("remote_endpoint", cfg.Model.Remote.Endpoint),
		slog.Float64("smoothing_factor", float64(cfg.Pipeline.SmoothingFactor)),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)

	runner, err := inference.Open(ctx, cfg.Model.BackendConfig(), logger, appMetrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := runner.Close(); err != nil {
			logger.Error("Error closing inference backend", slog.String("error", err.Error()))
		}
	}()
	logger.Info("Inference backend ready",
		slog.String("backend", cfg.Model.Backend),
		slog.Any("inputs", runner.InputNames()),
		slog.Any("outputs", runner.OutputNames()),
	)

	streamMgr, err := stream.NewManager(logger, runner, appMetrics, stream.ManagerConfig{
		Timeout:         cfg.Audio.GetStreamTimeoutDuration(),
		MaxSessions:     cfg.Server.MaxConcurrentStreams,
		MaxChunkSamples: cfg.Audio.MaxChunkSamples,
		Pipeline:        cfg.PipelineParams(),
	})
	if err != nil {
		return fmt.Errorf("failed to create stream manager: %w", err)
	}
	defer streamMgr.Stop()

	var udpServer *server.UDPServer
	if cfg.Server.UDPEnabled {
		udpServer = server.NewUDPServer(&cfg.Server, logger, streamMgr, appMetrics)
		if err := udpServer.Start(); err != nil {
			return err
		}
		defer func() {
			if err := udpServer.Stop(); err != nil {
				logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
			}
		}()
	}

	if cfg.HTTP.Enabled {
		httpServer := server.NewHTTPServer(cfg, logger, streamMgr, udpServer, runner, appMetrics, registry)
		if err := httpServer.Start(); err != nil {
			return err
		}
		// Stop accepting requests before sessions are torn down
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Stop(shutdownCtx); err != nil {
				logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
			}
		}()
	}

	if udpServer == nil && !cfg.HTTP.Enabled {
		return fmt.Errorf("nothing to serve: both UDP and HTTP are disabled")
	}

	logger.Info("Service started successfully, waiting for signals...")

	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	return nil
}
