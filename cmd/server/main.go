// Package main provides the a2f service binary.
//
// Usage:
//
//	a2f [serve]              run the UDP, WebSocket and HTTP servers
//	a2f process <file>       print the aggregated blendshape frame of a clip
//	a2f layout               print the model output layout and blendshape names
//
// Configuration is read from --config (YAML). Secrets and model paths may be
// overridden from the environment or a .env file.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AnEntrypoint/A2F/internal/config"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "a2f"
	serviceVersion    = "1.0.0"
)

var (
	// Global flags
	configPath string
	envFile    string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "Audio to blendshape animation service",
	Long: `a2f converts speech audio into facial blendshape weights.

Live clients stream audio over UDP or WebSocket and receive one frame per
audio packet. Whole clips can be posted to /v1/process or converted offline
with 'a2f process'.`,
	Version:       serviceVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	// Running without a subcommand serves
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional .env file with secrets")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	rootCmd.AddCommand(serveCmd, processCmd, layoutCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig loads the .env file and the YAML configuration. A missing file
// at the default path falls back to built-in defaults.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnv(envFile); err != nil {
		return nil, err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		if configPath != defaultConfigPath || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = config.Default()
		cfg.ApplyEnv()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("default configuration invalid: %w", err)
		}
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
		if err := cfg.Logging.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Anything else is a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
