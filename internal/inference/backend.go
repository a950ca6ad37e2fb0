package inference

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AnEntrypoint/A2F/internal/metrics"
)

const (
	BackendONNX   = "onnx"
	BackendRemote = "remote"
)

// BackendConfig selects and configures a backend
type BackendConfig struct {
	Backend string
	ONNX    ONNXConfig
	Remote  RemoteConfig
}

// Open creates the configured backend
func Open(ctx context.Context, cfg BackendConfig, logger *slog.Logger, m *metrics.Metrics) (Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("backend", cfg.Backend)

	switch cfg.Backend {
	case BackendONNX, "":
		r, err := NewONNXRunner(cfg.ONNX, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open onnx backend: %w", err)
		}
		return r, nil
	case BackendRemote:
		r, err := NewRemoteRunner(ctx, cfg.Remote, logger, m)
		if err != nil {
			return nil, fmt.Errorf("failed to open remote backend: %w", err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown inference backend %q", cfg.Backend)
	}
}
