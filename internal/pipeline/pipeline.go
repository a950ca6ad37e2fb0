package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AnEntrypoint/A2F/internal/audio"
	"github.com/AnEntrypoint/A2F/internal/blendshape"
	"github.com/AnEntrypoint/A2F/internal/inference"
	"github.com/AnEntrypoint/A2F/internal/metrics"
)

// ErrNotReady is returned when no inference runner is attached
var ErrNotReady = errors.New("pipeline not ready: no inference runner attached")

const (
	modeBatch     = "batch"
	modeStreaming = "streaming"
)

// Config holds pipeline parameters
type Config struct {
	Layout          blendshape.OutputLayout
	SmoothingFactor float32
	WindowSize      int
	HopSize         int
	// Clock stamps frames; defaults to time.Now.
	Clock func() time.Time
}

// DefaultConfig returns the 16 kHz model defaults
func DefaultConfig() Config {
	return Config{
		Layout:          blendshape.DefaultLayout,
		SmoothingFactor: blendshape.DefaultSmoothingFactor,
		WindowSize:      audio.WindowSize,
		HopSize:         audio.HopSize,
	}
}

// Pipeline converts audio to blendshape frames for a single stream
type Pipeline struct {
	runner   inference.Runner
	decoder  *blendshape.Decoder
	smoother *blendshape.Smoother
	windower *audio.Windower
	last     *blendshape.Frame

	clock   func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Statistics
	batchWindows      uint64
	streamingWindows  uint64
	warmupChunks      uint64
	inferenceFailures uint64
	filesProcessed    uint64
	lastProcessed     time.Time

	mu sync.Mutex
}

// Stats represents pipeline statistics
type Stats struct {
	Ready             bool      `json:"ready"`
	SmoothingFactor   float32   `json:"smoothing_factor"`
	WindowState       string    `json:"window_state"`
	BufferedSamples   int       `json:"buffered_samples"`
	BatchWindows      uint64    `json:"batch_windows"`
	StreamingWindows  uint64    `json:"streaming_windows"`
	WarmupChunks      uint64    `json:"warmup_chunks"`
	InferenceFailures uint64    `json:"inference_failures"`
	FilesProcessed    uint64    `json:"files_processed"`
	SamplesDropped    uint64    `json:"samples_dropped"`
	LastProcessed     time.Time `json:"last_processed"`
	LastAudio         time.Time `json:"last_audio"`
}

// New creates a pipeline. Attach a runner before processing audio.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Pipeline, error) {
	if cfg.WindowSize == 0 && cfg.HopSize == 0 {
		cfg.WindowSize, cfg.HopSize = audio.WindowSize, audio.HopSize
	}
	if cfg.Layout == (blendshape.OutputLayout{}) {
		cfg.Layout = blendshape.DefaultLayout
	}
	if err := cfg.Layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid output layout: %w", err)
	}

	windower, err := audio.NewWindower(cfg.WindowSize, cfg.HopSize)
	if err != nil {
		return nil, err
	}

	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		decoder:  blendshape.NewDecoder(cfg.Layout),
		smoother: blendshape.NewSmoother(cfg.SmoothingFactor),
		windower: windower,
		clock:    cfg.Clock,
		logger:   logger,
		metrics:  m,
	}, nil
}

// Attach sets the inference runner. The pipeline takes ownership and closes
// it on Dispose; wrap it with inference.Shared to keep it alive.
func (p *Pipeline) Attach(r inference.Runner) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runner = r
}

// Ready reports whether a runner is attached
func (p *Pipeline) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runner != nil
}

// ProcessFile scores a whole clip and averages the frames. Samples at any
// rate other than 16 kHz are resampled first; a trailing partial window is
// ignored. Streaming state is left untouched.
func (p *Pipeline) ProcessFile(ctx context.Context, samples []float32, sourceRate int) (blendshape.AggregateResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.runner == nil {
		return blendshape.AggregateResult{}, ErrNotReady
	}
	if err := audio.ValidateSampleRate(sourceRate); err != nil {
		return blendshape.AggregateResult{}, err
	}

	if sourceRate != audio.SampleRate {
		samples = audio.Resample(samples, sourceRate, audio.SampleRate)
	}

	windows := audio.SliceWindows(samples, p.windower.WindowSize(), p.windower.HopSize())
	frames := make([]blendshape.Frame, 0, len(windows))
	for i, window := range windows {
		raw, err := p.runWindow(ctx, window, modeBatch)
		if err != nil {
			p.logger.Error("Batch inference failed", "window_index", i, "windows", len(windows), "error", err)
			return blendshape.AggregateResult{}, err
		}
		frames = append(frames, p.decoder.Decode(raw, p.clock()))
		p.batchWindows++
	}

	result := blendshape.Aggregate(frames)
	if len(frames) == 0 {
		result.Timestamp = p.clock()
	}

	seconds := float64(len(samples)) / audio.SampleRate
	p.filesProcessed++
	p.lastProcessed = p.clock()
	p.metrics.RecordFileProcessed(seconds)

	p.logger.Debug("Processed clip",
		"source_rate", sourceRate,
		"duration_seconds", seconds,
		"windows", len(frames))

	return result, nil
}

// ProcessChunk appends 16 kHz samples to the stream. Until a full window is
// buffered it returns the previous frame, or an all-zero frame before the
// first inference. Once a window is available it scores exactly one window,
// smooths the result against the previous frame and returns it.
//
// If inference fails the chunk is discarded and the error is returned as is.
func (p *Pipeline) ProcessChunk(ctx context.Context, samples []float32) (blendshape.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.runner == nil {
		return blendshape.Frame{}, ErrNotReady
	}

	prevLen := p.windower.Size()
	p.windower.Append(samples)

	if !p.windower.Ready() {
		p.warmupChunks++
		p.metrics.RecordStreamingChunk("warmup")
		if p.last != nil {
			return p.last.Clone(), nil
		}
		return blendshape.EmptyFrame(p.clock()), nil
	}

	window, err := p.windower.Window()
	if err != nil {
		p.windower.Truncate(prevLen)
		return blendshape.Frame{}, err
	}

	raw, err := p.runWindow(ctx, window, modeStreaming)
	if err != nil {
		p.windower.Truncate(prevLen)
		p.metrics.RecordStreamingChunk("failed")
		p.logger.Warn("Streaming inference failed, chunk discarded",
			"chunk_samples", len(samples),
			"buffered_samples", prevLen,
			"error", err)
		return blendshape.Frame{}, err
	}

	dropped := p.windower.GetStats().SamplesDropped
	p.windower.Advance()
	if d := p.windower.GetStats().SamplesDropped - dropped; d > 0 {
		p.metrics.RecordSamplesDropped(d)
		p.logger.Debug("Dropped stream backlog", "samples", d)
	}

	frame := p.decoder.Decode(raw, p.clock())
	if p.last != nil {
		frame.Blendshapes = p.smoother.Smooth(p.last.Blendshapes, frame.Blendshapes)
	}

	p.last = &frame
	p.streamingWindows++
	p.lastProcessed = frame.Timestamp
	p.metrics.RecordStreamingChunk("inferred")

	return frame.Clone(), nil
}

// runWindow scores one window and returns the raw model output
func (p *Pipeline) runWindow(ctx context.Context, window []float32, mode string) ([]float32, error) {
	inputs := inference.BuildInputs(p.runner, window)

	start := time.Now()
	outputs, err := p.runner.Run(ctx, inputs)
	p.metrics.RecordInference(time.Since(start).Seconds(), err)
	if err != nil {
		p.inferenceFailures++
		return nil, err
	}

	raw, err := inference.FirstOutput(p.runner, outputs)
	if err != nil {
		p.inferenceFailures++
		return nil, fmt.Errorf("unusable model output: %w", err)
	}

	p.metrics.RecordWindow(mode)
	return raw, nil
}

// SetSmoothingFactor updates the streaming smoothing factor, clamped to [0,1]
func (p *Pipeline) SetSmoothingFactor(f float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.smoother.SetFactor(f)
}

// SmoothingFactor returns the current smoothing factor
func (p *Pipeline) SmoothingFactor() float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.smoother.Factor()
}

// Layout returns the output layout the decoder reads
func (p *Pipeline) Layout() blendshape.OutputLayout {
	return p.decoder.Layout()
}

// Dispose closes the runner and clears all stream state. Safe to call more
// than once; a disposed pipeline reports ErrNotReady until re-attached.
func (p *Pipeline) Dispose() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.runner != nil {
		err = p.runner.Close()
		p.runner = nil
	}
	p.windower.Reset()
	p.last = nil

	if err != nil {
		return fmt.Errorf("failed to close inference runner: %w", err)
	}
	return nil
}

// GetStats returns current pipeline statistics
func (p *Pipeline) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	ws := p.windower.GetStats()
	return Stats{
		Ready:             p.runner != nil,
		SmoothingFactor:   p.smoother.Factor(),
		WindowState:       ws.State,
		BufferedSamples:   ws.BufferedSamples,
		BatchWindows:      p.batchWindows,
		StreamingWindows:  p.streamingWindows,
		WarmupChunks:      p.warmupChunks,
		InferenceFailures: p.inferenceFailures,
		FilesProcessed:    p.filesProcessed,
		SamplesDropped:    ws.SamplesDropped,
		LastProcessed:     p.lastProcessed,
		LastAudio:         p.windower.GetLastUpdate(),
	}
}
