package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AnEntrypoint/A2F/internal/blendshape"
	"github.com/AnEntrypoint/A2F/internal/inference"
	"github.com/AnEntrypoint/A2F/internal/pipeline"
)

// Environment variables that override file values
const (
	EnvRemoteAPIKey = "A2F_REMOTE_API_KEY"
	EnvModelPath    = "A2F_MODEL_PATH"
	EnvORTLibrary   = "A2F_ORT_LIBRARY"
)

// Config represents the complete service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	HTTP     HTTPConfig     `yaml:"http"`
	Audio    AudioConfig    `yaml:"audio"`
	Model    ModelConfig    `yaml:"model"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains UDP server configuration
type ServerConfig struct {
	UDPEnabled           bool   `yaml:"udp_enabled"`
	UDPPort              int    `yaml:"udp_port"`
	BindAddress          string `yaml:"bind_address"`
	BufferSize           int    `yaml:"buffer_size"`
	MaxConcurrentStreams int    `yaml:"max_concurrent_streams"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port        int    `yaml:"port"`
	Address     string `yaml:"address"`
	Enabled     bool   `yaml:"enabled"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

// AudioConfig contains live stream parameters
type AudioConfig struct {
	StreamTimeout   int `yaml:"stream_timeout"`    // seconds
	MaxChunkSamples int `yaml:"max_chunk_samples"` // per audio packet, after resampling
}

// ModelConfig selects the inference backend and describes its output
type ModelConfig struct {
	Backend           string                   `yaml:"backend"`
	Path              string                   `yaml:"path"`
	SharedLibraryPath string                   `yaml:"shared_library_path"`
	UseGPU            bool                     `yaml:"use_gpu"`
	Layout            *blendshape.OutputLayout `yaml:"layout"`
	Remote            RemoteConfig             `yaml:"remote"`
}

// RemoteConfig contains remote inference server configuration
type RemoteConfig struct {
	Endpoint      string `yaml:"endpoint"`
	ModelName     string `yaml:"model_name"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// PipelineConfig contains blendshape post-processing parameters
type PipelineConfig struct {
	SmoothingFactor float32 `yaml:"smoothing_factor"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration that runs a local ONNX model with the
// HTTP API on :8080 and UDP ingest on :4444.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			UDPEnabled:           true,
			UDPPort:              4444,
			BindAddress:          "0.0.0.0",
			BufferSize:           65536,
			MaxConcurrentStreams: 100,
		},
		HTTP: HTTPConfig{
			Port:        8080,
			Address:     "0.0.0.0",
			Enabled:     true,
			MaxUploadMB: 32,
		},
		Audio: AudioConfig{
			StreamTimeout:   60,
			MaxChunkSamples: 16000,
		},
		Model: ModelConfig{
			Backend: inference.BackendONNX,
			Path:    "./models/a2f.onnx",
			Remote: RemoteConfig{
				ModelName:     "a2f",
				Timeout:       10,
				MaxRetries:    3,
				MaxConcurrent: 8,
			},
		},
		Pipeline: PipelineConfig{
			SmoothingFactor: blendshape.DefaultSmoothingFactor,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// LoadEnv loads variables from a .env file if present. Variables already
// set in the environment win.
func LoadEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load reads and parses the configuration file. Missing keys keep their
// Default values; environment overrides are applied before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides secrets and paths from the environment
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvRemoteAPIKey); v != "" {
		c.Model.Remote.APIKey = v
	}
	if v := os.Getenv(EnvModelPath); v != "" {
		c.Model.Path = v
	}
	if v := os.Getenv(EnvORTLibrary); v != "" {
		c.Model.SharedLibraryPath = v
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if !s.UDPEnabled {
		return nil
	}

	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
	}

	if s.MaxConcurrentStreams < 1 {
		return fmt.Errorf("max_concurrent_streams must be at least 1, got %d", s.MaxConcurrentStreams)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}

		if h.MaxUploadMB < 1 {
			return fmt.Errorf("max_upload_mb must be at least 1, got %d", h.MaxUploadMB)
		}
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.StreamTimeout < 1 {
		return fmt.Errorf("stream_timeout must be at least 1 second, got %d", a.StreamTimeout)
	}

	if a.MaxChunkSamples < 0 {
		return fmt.Errorf("max_chunk_samples cannot be negative, got %d", a.MaxChunkSamples)
	}

	return nil
}

// Validate validates model configuration
func (m *ModelConfig) Validate() error {
	switch m.Backend {
	case inference.BackendONNX:
		if m.Path == "" {
			return fmt.Errorf("path cannot be empty for the onnx backend")
		}
	case inference.BackendRemote:
		if err := m.Remote.Validate(); err != nil {
			return fmt.Errorf("remote: %w", err)
		}
	default:
		return fmt.Errorf("backend must be 'onnx' or 'remote', got '%s'", m.Backend)
	}

	if m.Layout != nil {
		if err := m.Layout.Validate(); err != nil {
			return fmt.Errorf("layout: %w", err)
		}
	}

	return nil
}

// Validate validates remote inference configuration
func (r *RemoteConfig) Validate() error {
	if r.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if r.ModelName == "" {
		return fmt.Errorf("model_name cannot be empty")
	}

	if r.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", r.Timeout)
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", r.MaxRetries)
	}

	if r.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", r.MaxConcurrent)
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.SmoothingFactor < 0 || p.SmoothingFactor > 1 {
		return fmt.Errorf("smoothing_factor must be between 0 and 1, got %f", p.SmoothingFactor)
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetStreamTimeoutDuration returns the stream timeout as a time.Duration
func (a *AudioConfig) GetStreamTimeoutDuration() time.Duration {
	return time.Duration(a.StreamTimeout) * time.Second
}

// GetTimeoutDuration returns the remote inference timeout as a time.Duration
func (r *RemoteConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(r.Timeout) * time.Second
}

// GetLayout returns the configured layout or the default one
func (m *ModelConfig) GetLayout() blendshape.OutputLayout {
	if m.Layout == nil {
		return blendshape.DefaultLayout
	}
	return *m.Layout
}

// BackendConfig maps the model section onto inference.Open parameters
func (m *ModelConfig) BackendConfig() inference.BackendConfig {
	return inference.BackendConfig{
		Backend: m.Backend,
		ONNX: inference.ONNXConfig{
			ModelPath:         m.Path,
			SharedLibraryPath: m.SharedLibraryPath,
			UseGPU:            m.UseGPU,
		},
		Remote: inference.RemoteConfig{
			Endpoint:      m.Remote.Endpoint,
			ModelName:     m.Remote.ModelName,
			APIKey:        m.Remote.APIKey,
			Timeout:       m.Remote.GetTimeoutDuration(),
			MaxRetries:    m.Remote.MaxRetries,
			MaxConcurrent: m.Remote.MaxConcurrent,
		},
	}
}

// PipelineParams builds the pipeline configuration
func (c *Config) PipelineParams() pipeline.Config {
	p := pipeline.DefaultConfig()
	p.Layout = c.Model.GetLayout()
	p.SmoothingFactor = c.Pipeline.SmoothingFactor
	return p
}

// Redacted returns a copy safe to expose over the API
func (c *Config) Redacted() Config {
	out := *c
	if out.Model.Remote.APIKey != "" {
		out.Model.Remote.APIKey = "***"
	}
	return out
}
