package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/AnEntrypoint/A2F/internal/metrics"
)

// RemoteConfig configures the KServe v2 HTTP backend
type RemoteConfig struct {
	Endpoint      string
	ModelName     string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	RetryBackoff  time.Duration // base delay, doubled per attempt

	// Inputs and Outputs skip the metadata request when both are set.
	Inputs  []string
	Outputs []string
}

// RemoteRunner runs inference on a KServe v2 compatible server
type RemoteRunner struct {
	config     RemoteConfig
	httpClient *http.Client
	semaphore  chan struct{} // Rate limiting semaphore
	logger     *slog.Logger
	metrics    *metrics.Metrics

	inputs  []string
	outputs []string

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu        sync.RWMutex
	closeOnce sync.Once
}

// ClientStats represents remote backend statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

type tensorMetadata struct {
	Name     string  `json:"name"`
	Datatype string  `json:"datatype"`
	Shape    []int64 `json:"shape"`
}

type modelMetadata struct {
	Name    string           `json:"name"`
	Inputs  []tensorMetadata `json:"inputs"`
	Outputs []tensorMetadata `json:"outputs"`
}

type inferTensor struct {
	Name     string    `json:"name"`
	Shape    []int64   `json:"shape"`
	Datatype string    `json:"datatype"`
	Data     []float32 `json:"data"`
}

type requestedOutput struct {
	Name string `json:"name"`
}

type inferRequest struct {
	ID      string            `json:"id"`
	Inputs  []inferTensor     `json:"inputs"`
	Outputs []requestedOutput `json:"outputs,omitempty"`
}

type inferResponse struct {
	ModelName string        `json:"model_name"`
	ID        string        `json:"id"`
	Outputs   []inferTensor `json:"outputs"`
}

// statusError is a non-2xx HTTP response
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.Code, e.Body)
}

// NewRemoteRunner creates the client and, unless names are configured,
// fetches the model metadata to learn its input and output names.
func NewRemoteRunner(ctx context.Context, config RemoteConfig, logger *slog.Logger, m *metrics.Metrics) (*RemoteRunner, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if _, err := url.ParseRequestURI(config.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", config.Endpoint, err)
	}
	if config.ModelName == "" {
		return nil, fmt.Errorf("model name cannot be empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}
	config.Endpoint = strings.TrimRight(config.Endpoint, "/")
	if logger == nil {
		logger = slog.Default()
	}

	r := &RemoteRunner{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		semaphore: make(chan struct{}, config.MaxConcurrent),
		logger:    logger,
		metrics:   m,
		inputs:    config.Inputs,
		outputs:   config.Outputs,
	}

	if len(r.inputs) == 0 || len(r.outputs) == 0 {
		meta, err := r.fetchMetadata(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch model metadata: %w", err)
		}
		r.inputs = names(meta.Inputs)
		r.outputs = names(meta.Outputs)
	}

	logger.Info("Remote inference backend ready",
		"endpoint", config.Endpoint,
		"model", config.ModelName,
		"inputs", r.inputs,
		"outputs", r.outputs)

	return r, nil
}

func names(tensors []tensorMetadata) []string {
	out := make([]string, len(tensors))
	for i, t := range tensors {
		out[i] = t.Name
	}
	return out
}

func (r *RemoteRunner) modelURL() string {
	return r.config.Endpoint + "/v2/models/" + url.PathEscape(r.config.ModelName)
}

func (r *RemoteRunner) fetchMetadata(ctx context.Context) (*modelMetadata, error) {
	body, err := r.do(ctx, http.MethodGet, r.modelURL(), nil)
	if err != nil {
		return nil, err
	}
	var meta modelMetadata
	if err := sonic.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata JSON: %w", err)
	}
	if len(meta.Outputs) == 0 {
		return nil, fmt.Errorf("model %q advertises no outputs", r.config.ModelName)
	}
	return &meta, nil
}

func (r *RemoteRunner) InputNames() []string  { return r.inputs }
func (r *RemoteRunner) OutputNames() []string { return r.outputs }

// Run sends one inference request, retrying transient failures
func (r *RemoteRunner) Run(ctx context.Context, inputs map[string]Tensor) (map[string]Tensor, error) {
	// Acquire semaphore for rate limiting
	select {
	case r.semaphore <- struct{}{}:
		defer func() { <-r.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	payload, err := r.encodeRequest(inputs)
	if err != nil {
		return nil, err
	}

	startTime := time.Now()
	r.incrementTotalRequests()

	var lastErr error

	// Retry loop with exponential backoff
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			r.incrementTotalRetries()
			r.metrics.RecordRemoteRetry()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * r.config.RetryBackoff
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				r.incrementFailedRequests()
				return nil, ctx.Err()
			}
		}

		outputs, err := r.doInfer(ctx, payload)
		if err == nil {
			r.incrementSuccessRequests()
			r.updateAvgResponseTime(time.Since(startTime))
			return outputs, nil
		}

		lastErr = err
		if !r.isRetryableError(err) {
			break
		}
		r.logger.Debug("Retrying remote inference", "attempt", attempt+1, "error", err)
	}

	r.incrementFailedRequests()
	return nil, fmt.Errorf("remote inference failed after %d attempts: %w", r.config.MaxRetries+1, lastErr)
}

func (r *RemoteRunner) encodeRequest(inputs map[string]Tensor) ([]byte, error) {
	req := inferRequest{ID: uuid.NewString()}

	// advertised order first, then anything extra the caller supplied
	seen := make(map[string]bool, len(inputs))
	for _, name := range r.inputs {
		if t, ok := inputs[name]; ok {
			req.Inputs = append(req.Inputs, inferTensor{Name: name, Shape: t.Shape, Datatype: "FP32", Data: t.Data})
			seen[name] = true
		}
	}
	for name, t := range inputs {
		if !seen[name] {
			req.Inputs = append(req.Inputs, inferTensor{Name: name, Shape: t.Shape, Datatype: "FP32", Data: t.Data})
		}
	}
	for _, name := range r.outputs {
		req.Outputs = append(req.Outputs, requestedOutput{Name: name})
	}

	payload, err := sonic.Marshal(&req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode inference request: %w", err)
	}
	return payload, nil
}

// doInfer performs a single inference request
func (r *RemoteRunner) doInfer(ctx context.Context, payload []byte) (map[string]Tensor, error) {
	body, err := r.do(ctx, http.MethodPost, r.modelURL()+"/infer", payload)
	if err != nil {
		return nil, err
	}

	var resp inferResponse
	if err := sonic.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	outputs := make(map[string]Tensor, len(resp.Outputs))
	for _, o := range resp.Outputs {
		if o.Datatype != "" && o.Datatype != "FP32" {
			return nil, fmt.Errorf("output %q has datatype %s, want FP32", o.Name, o.Datatype)
		}
		outputs[o.Name] = Tensor{Data: o.Data, Shape: o.Shape}
	}
	return outputs, nil
}

func (r *RemoteRunner) do(ctx context.Context, method, target string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if r.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.config.APIKey)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "A2F/1.0")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	return respBody, nil
}

// isRetryableError reports whether a failed attempt is worth repeating:
// 5xx and 429 responses, timeouts and network errors.
func (r *RemoteRunner) isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var se *statusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// Statistics methods
func (r *RemoteRunner) incrementTotalRequests() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalRequests++
}

func (r *RemoteRunner) incrementSuccessRequests() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successRequests++
}

func (r *RemoteRunner) incrementFailedRequests() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failedRequests++
}

func (r *RemoteRunner) incrementTotalRetries() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalRetries++
}

func (r *RemoteRunner) updateAvgResponseTime(responseTime time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Simple moving average
	if r.avgResponseTime == 0 {
		r.avgResponseTime = responseTime
	} else {
		r.avgResponseTime = (r.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (r *RemoteRunner) GetStats() ClientStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	successRate := float64(0)
	if r.totalRequests > 0 {
		successRate = float64(r.successRequests) / float64(r.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   r.totalRequests,
		SuccessRequests: r.successRequests,
		FailedRequests:  r.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    r.totalRetries,
		AvgResponseTime: r.avgResponseTime,
		ActiveRequests:  len(r.semaphore),
	}
}

// Close waits for in-flight requests and releases idle connections
func (r *RemoteRunner) Close() error {
	r.closeOnce.Do(func() {
		for i := 0; i < r.config.MaxConcurrent; i++ {
			r.semaphore <- struct{}{}
		}
		r.httpClient.CloseIdleConnections()
	})
	return nil
}
