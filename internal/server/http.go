package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AnEntrypoint/A2F/internal/audio"
	"github.com/AnEntrypoint/A2F/internal/blendshape"
	"github.com/AnEntrypoint/A2F/internal/config"
	"github.com/AnEntrypoint/A2F/internal/inference"
	"github.com/AnEntrypoint/A2F/internal/metrics"
	"github.com/AnEntrypoint/A2F/internal/pipeline"
	"github.com/AnEntrypoint/A2F/internal/stream"
)

const (
	serviceName    = "a2f"
	serviceVersion = "1.0.0"

	requestIDHeader = "X-Request-ID"
)

// HTTPServer provides the batch processing API, the WebSocket stream
// endpoint and monitoring endpoints
type HTTPServer struct {
	server    *http.Server
	handler   http.Handler
	logger    *slog.Logger
	config    *config.Config
	streamMgr *stream.Manager
	udpServer *UDPServer
	ws        *WebSocketHandler
	runner    inference.Runner
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer

	// Server state
	startTime time.Time
	listener  net.Listener
	mu        sync.RWMutex
}

// ProcessResponse is the body returned by POST /v1/process
type ProcessResponse struct {
	RequestID       string                     `json:"request_id"`
	SampleRate      int                        `json:"sample_rate"`
	DurationSeconds float64                    `json:"duration_seconds"`
	ProcessingMs    int64                      `json:"processing_ms"`
	Result          blendshape.AggregateResult `json:"result"`
}

// NewHTTPServer creates a new HTTP API server. udpServer may be nil when UDP
// ingest is disabled; a nil gatherer serves the default Prometheus registry.
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger, streamMgr *stream.Manager,
	udpServer *UDPServer, runner inference.Runner, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		streamMgr: streamMgr,
		udpServer: udpServer,
		ws:        NewWebSocketHandler(NewPacketHandler(streamMgr, logger, m), streamMgr, logger),
		runner:    runner,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", appConfig.HTTP.Address, appConfig.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Stream sessions
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Audio processing
	mux.HandleFunc("/v1/process", h.withMetrics("/v1/process", h.handleProcess))
	mux.Handle("/v1/stream", h.ws)

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	if h.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Capture the status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.mu.Lock()
	h.listener = ln
	h.mu.Unlock()

	h.logger.Info("Starting HTTP API server",
		slog.String("address", ln.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound address, nil before Start
func (h *HTTPServer) Addr() net.Addr {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	components := map[string]interface{}{
		"stream_manager": map[string]interface{}{
			"status":         "running",
			"active_streams": h.streamMgr.GetActiveSessionCount(),
		},
		"inference": h.inferenceStatus(),
		"websocket": map[string]interface{}{
			"status":      "running",
			"connections": h.ws.Connections(),
		},
	}
	if h.udpServer != nil {
		udpStats := h.udpServer.GetStatistics()
		components["udp_server"] = map[string]interface{}{
			"status":            "running",
			"packets_received":  udpStats.PacketsReceived,
			"packets_processed": udpStats.PacketsProcessed,
			"parse_errors":      udpStats.ParseErrors,
			"queue_size":        udpStats.QueueSize,
		}
	}

	status := "healthy"
	if h.runner == nil {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": components,
	})
}

// inferenceStatus describes the backend for health and stats
func (h *HTTPServer) inferenceStatus() map[string]interface{} {
	if h.runner == nil {
		return map[string]interface{}{"status": "unavailable"}
	}

	status := map[string]interface{}{
		"status":  "running",
		"backend": h.config.Model.Backend,
		"inputs":  h.runner.InputNames(),
		"outputs": h.runner.OutputNames(),
	}
	if p, ok := h.runner.(interface{ Provider() string }); ok {
		status["provider"] = p.Provider()
	}
	if s, ok := h.runner.(interface{ GetStats() inference.ClientStats }); ok {
		status["remote"] = s.GetStats()
	}
	return status
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := h.streamMgr.GetAllSessions()
	sessionInfos := make([]stream.SessionInfo, 0, len(sessions))

	for _, session := range sessions {
		sessionInfos = append(sessionInfos, session.GetSessionInfo())
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_sessions": len(sessionInfos),
		"timestamp":      time.Now().UTC(),
		"sessions":       sessionInfos,
	})
}

// handleSessionDetail implements /sessions/{stream_id}. DELETE closes the
// stream.
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	streamIDStr := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if streamIDStr == "" {
		http.Error(w, "Stream ID required", http.StatusBadRequest)
		return
	}

	streamID, err := strconv.ParseUint(streamIDStr, 10, 32)
	if err != nil {
		http.Error(w, "Invalid stream ID", http.StatusBadRequest)
		return
	}

	session, exists := h.streamMgr.GetSession(uint32(streamID))
	if !exists {
		http.Error(w, "Stream not found", http.StatusNotFound)
		return
	}

	if r.Method == http.MethodDelete {
		h.streamMgr.RemoveSession(uint32(streamID))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, session.GetSessionInfo())
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := h.config.Redacted()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"server": map[string]interface{}{
			"udp_enabled":            cfg.Server.UDPEnabled,
			"udp_port":               cfg.Server.UDPPort,
			"bind_address":           cfg.Server.BindAddress,
			"buffer_size":            cfg.Server.BufferSize,
			"max_concurrent_streams": cfg.Server.MaxConcurrentStreams,
		},
		"http": map[string]interface{}{
			"address":       cfg.HTTP.Address,
			"port":          cfg.HTTP.Port,
			"max_upload_mb": cfg.HTTP.MaxUploadMB,
		},
		"audio": map[string]interface{}{
			"stream_timeout":    cfg.Audio.StreamTimeout,
			"max_chunk_samples": cfg.Audio.MaxChunkSamples,
			"sample_rate":       audio.SampleRate,
			"window_size":       audio.WindowSize,
			"hop_size":          audio.HopSize,
		},
		"model": map[string]interface{}{
			"backend":             cfg.Model.Backend,
			"path":                cfg.Model.Path,
			"shared_library_path": cfg.Model.SharedLibraryPath,
			"use_gpu":             cfg.Model.UseGPU,
			"layout":              cfg.Model.GetLayout(),
			"remote": map[string]interface{}{
				"endpoint":       cfg.Model.Remote.Endpoint,
				"model_name":     cfg.Model.Remote.ModelName,
				"api_key":        cfg.Model.Remote.APIKey,
				"timeout":        cfg.Model.Remote.Timeout,
				"max_retries":    cfg.Model.Remote.MaxRetries,
				"max_concurrent": cfg.Model.Remote.MaxConcurrent,
			},
		},
		"pipeline": map[string]interface{}{
			"smoothing_factor": cfg.Pipeline.SmoothingFactor,
		},
		"logging": map[string]interface{}{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
			"output": cfg.Logging.Output,
		},
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"inference": h.inferenceStatus(),
		"streams": map[string]interface{}{
			"active_count":          h.streamMgr.GetActiveSessionCount(),
			"websocket_connections": h.ws.Connections(),
		},
	}
	if h.udpServer != nil {
		stats["udp"] = h.udpServer.GetStatistics()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleProcess implements POST /v1/process. The clip arrives either as a
// multipart "file" field or as the raw request body; "format" overrides the
// file extension or content type and raw PCM needs "rate".
func (h *HTTPServer) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestID := r.Header.Get(requestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, requestID)
	logger := h.logger.With(slog.String("request_id", requestID))

	if h.runner == nil {
		http.Error(w, pipeline.ErrNotReady.Error(), http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(h.config.HTTP.MaxUploadMB)<<20)

	pcm, err := h.readAudio(r)
	if err != nil {
		status := http.StatusBadRequest
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			status = http.StatusRequestEntityTooLarge
		case errors.Is(err, audio.ErrUnsupportedFormat):
			status = http.StatusUnsupportedMediaType
		}
		logger.Warn("Rejected audio upload", slog.String("error", err.Error()))
		http.Error(w, err.Error(), status)
		return
	}

	p, err := pipeline.New(h.config.PipelineParams(), logger, h.metrics)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	p.Attach(inference.Shared(h.runner))
	defer p.Dispose()

	start := time.Now()
	result, err := p.ProcessFile(r.Context(), pcm.Samples, pcm.SampleRate)
	if err != nil {
		logger.Error("Batch processing failed", slog.String("error", err.Error()))
		http.Error(w, fmt.Sprintf("processing failed: %v", err), http.StatusBadGateway)
		return
	}

	logger.Info("Processed audio clip",
		slog.Float64("duration_seconds", pcm.Duration()),
		slog.Int("frame_count", result.FrameCount),
		slog.Duration("elapsed", time.Since(start)),
	)

	writeJSON(w, http.StatusOK, ProcessResponse{
		RequestID:       requestID,
		SampleRate:      pcm.SampleRate,
		DurationSeconds: pcm.Duration(),
		ProcessingMs:    time.Since(start).Milliseconds(),
		Result:          result,
	})
}

// readAudio decodes the uploaded clip from a multipart form or raw body
func (h *HTTPServer) readAudio(r *http.Request) (*audio.PCM, error) {
	query := r.URL.Query()
	formatName := query.Get("format")

	var body io.Reader = r.Body
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("missing multipart file field: %w", err)
		}
		defer file.Close()
		if formatName == "" {
			formatName = filepath.Ext(header.Filename)
		}
		body = file
	} else if formatName == "" {
		formatName = formatFromMediaType(mediaType)
	}

	if formatName == "" {
		return nil, fmt.Errorf("%w: specify ?format=wav|mp3|pcm16", audio.ErrUnsupportedFormat)
	}
	format, err := audio.ParseFormat(formatName)
	if err != nil {
		return nil, err
	}

	if format == audio.FormatPCM16 {
		rate, err := strconv.Atoi(query.Get("rate"))
		if err != nil {
			return nil, fmt.Errorf("raw PCM needs ?rate=, got %q", query.Get("rate"))
		}
		// Checked before the body is read
		if err := audio.ValidateSampleRate(rate); err != nil {
			return nil, err
		}
		return audio.DecodePCM16(body, rate)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	return audio.Decode(bytes.NewReader(data), format)
}

func formatFromMediaType(mediaType string) string {
	switch mediaType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/l16", "audio/pcm":
		return "pcm16"
	default:
		return ""
	}
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "A2F Blendshape Service",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                        "API documentation",
			"GET /health":                  "Service health check",
			"GET /sessions":                "List all active stream sessions",
			"GET /sessions/{stream_id}":    "Get detailed session information",
			"DELETE /sessions/{stream_id}": "Close a stream session",
			"GET /config":                  "Get service configuration",
			"GET /stats":                   "Get service statistics",
			"POST /v1/process":             "Convert an audio clip to one aggregated blendshape frame",
			"GET /v1/stream":               "WebSocket stream of binary packets",
			"GET /metrics":                 "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	sonic.ConfigDefault.NewEncoder(w).Encode(v)
}
