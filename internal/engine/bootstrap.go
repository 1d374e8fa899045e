package engine

import (
	"context"
	"fmt"

	"typeinject/internal/config"
	"typeinject/internal/logging"
	"typeinject/internal/pipeline"
	"typeinject/internal/telemetry"
	"typeinject/internal/transport"
)

// Bootstrap starts the serve mode: the Rewriter gRPC service and /metrics.
func Bootstrap(ctx context.Context, cfg config.Config) (*Engine, error) {
	metrics := telemetry.New()

	// 1. transport server
	svc := &transport.Service{Marker: cfg.Marker, Observe: metrics.ObserveFile, Stages: metrics}
	srv, err := transport.StartServer(cfg.Server.Port, svc)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	// 2. metrics
	stopMetrics := metrics.Expose(cfg.Metrics.Port)

	logging.L().Info("engine: serving", "grpc", srv.Addr().String(), "metrics_port", cfg.Metrics.Port)
	return &Engine{
		transport:   srv,
		stopMetrics: stopMetrics,
	}, nil
}

// Generate runs the build-time pipeline once and, when configured, dumps the
// metrics to a textfile.
func Generate(ctx context.Context, cfg config.Config) (pipeline.Summary, error) {
	metrics := telemetry.New()
	runner, err := pipeline.Compile(cfg, metrics)
	if err != nil {
		return pipeline.Summary{}, fmt.Errorf("pipeline: %w", err)
	}
	defer runner.Close()

	sum, err := runner.Run(ctx)
	if cfg.Metrics.Textfile != "" {
		if werr := metrics.WriteTextfile(cfg.Metrics.Textfile); werr != nil {
			logging.L().Warn("engine: write metrics textfile", "path", cfg.Metrics.Textfile, "err", werr)
		}
	}
	return sum, err
}
