package audio

import (
	"fmt"
	"time"
)

// Window sizes used by the blendshape network at 16 kHz.
const (
	SampleRate = 16000 // internal processing rate
	WindowSize = 8320  // samples per inference window (520ms)
	HopSize    = 4160  // stride between windows (50% overlap)
)

// WindowState describes how full the rolling buffer is
type WindowState int

const (
	StateEmpty WindowState = iota
	StateFilling
	StateReady
)

func (s WindowState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateFilling:
		return "filling"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Windower keeps a rolling sample buffer and cuts fixed-length overlapping
// windows from its front. It is owned by a single stream and is not safe
// for concurrent use.
type Windower struct {
	windowSize int
	hopSize    int

	samples []float32

	// Statistics
	windowsConsumed uint64
	samplesAppended uint64
	samplesDropped  uint64
	lastUpdate      time.Time
}

// WindowerStats represents buffer statistics for monitoring
type WindowerStats struct {
	State           string `json:"state"`
	BufferedSamples int    `json:"buffered_samples"`
	WindowsConsumed uint64 `json:"windows_consumed"`
	SamplesAppended uint64 `json:"samples_appended"`
	SamplesDropped  uint64 `json:"samples_dropped"`
}

// NewWindower creates a rolling window buffer. The hop must be positive and
// shorter than the window so consecutive windows overlap.
func NewWindower(windowSize, hopSize int) (*Windower, error) {
	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}
	if hopSize <= 0 || hopSize >= windowSize {
		return nil, fmt.Errorf("hop size must be in (0, %d), got %d", windowSize, hopSize)
	}

	return &Windower{
		windowSize: windowSize,
		hopSize:    hopSize,
		samples:    make([]float32, 0, windowSize+hopSize),
	}, nil
}

// Append adds samples to the end of the buffer
func (w *Windower) Append(samples []float32) {
	w.samples = append(w.samples, samples...)
	w.samplesAppended += uint64(len(samples))
	w.lastUpdate = time.Now()
}

// Ready reports whether a full window is buffered
func (w *Windower) Ready() bool {
	return len(w.samples) >= w.windowSize
}

// State returns the buffer state
func (w *Windower) State() WindowState {
	switch {
	case len(w.samples) == 0:
		return StateEmpty
	case len(w.samples) < w.windowSize:
		return StateFilling
	default:
		return StateReady
	}
}

// Window copies the first window out of the buffer without consuming it
func (w *Windower) Window() ([]float32, error) {
	if len(w.samples) < w.windowSize {
		return nil, fmt.Errorf("not enough audio data: need %d samples, have %d",
			w.windowSize, len(w.samples))
	}

	window := make([]float32, w.windowSize)
	copy(window, w.samples[:w.windowSize])
	return window, nil
}

// Advance drops one hop from the front, keeping the overlap tail for the
// next window. If more than a window is still buffered afterwards, the
// oldest samples are discarded so the stream never falls behind real time.
func (w *Windower) Advance() {
	shift := w.hopSize
	if shift > len(w.samples) {
		shift = len(w.samples)
	}

	remaining := len(w.samples) - shift
	if remaining >= w.windowSize {
		keep := w.windowSize - w.hopSize
		w.samplesDropped += uint64(remaining - keep)
		shift = len(w.samples) - keep
		remaining = keep
	}

	copy(w.samples, w.samples[shift:])
	w.samples = w.samples[:remaining]
	w.windowsConsumed++
}

// Truncate shrinks the buffer back to n samples, undoing appends made past
// that point. Used to roll back a chunk whose inference failed.
func (w *Windower) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n >= len(w.samples) {
		return
	}
	w.samplesAppended -= uint64(len(w.samples) - n)
	w.samples = w.samples[:n]
}

// Reset empties the buffer and clears statistics
func (w *Windower) Reset() {
	w.samples = w.samples[:0]
	w.windowsConsumed = 0
	w.samplesAppended = 0
	w.samplesDropped = 0
	w.lastUpdate = time.Time{}
}

// Size returns the current number of buffered samples
func (w *Windower) Size() int {
	return len(w.samples)
}

// WindowSize returns the window length in samples
func (w *Windower) WindowSize() int {
	return w.windowSize
}

// HopSize returns the hop length in samples
func (w *Windower) HopSize() int {
	return w.hopSize
}

// GetLastUpdate returns the time of the last append
func (w *Windower) GetLastUpdate() time.Time {
	return w.lastUpdate
}

// GetStats returns current buffer statistics
func (w *Windower) GetStats() WindowerStats {
	return WindowerStats{
		State:           w.State().String(),
		BufferedSamples: len(w.samples),
		WindowsConsumed: w.windowsConsumed,
		SamplesAppended: w.samplesAppended,
		SamplesDropped:  w.samplesDropped,
	}
}

// CountWindows returns how many complete windows SliceWindows would yield
func CountWindows(length, windowSize, hopSize int) int {
	if length < windowSize || hopSize <= 0 {
		return 0
	}
	return (length-windowSize)/hopSize + 1
}

// SliceWindows cuts samples into windows starting at 0, hop, 2*hop, ...
// Trailing samples that don't fill a whole window are dropped. Windows are
// copies and may be retained by the caller.
func SliceWindows(samples []float32, windowSize, hopSize int) [][]float32 {
	n := CountWindows(len(samples), windowSize, hopSize)
	if n == 0 {
		return nil
	}
	windows := make([][]float32, 0, n)
	for start := 0; start+windowSize <= len(samples); start += hopSize {
		window := make([]float32, windowSize)
		copy(window, samples[start:start+windowSize])
		windows = append(windows, window)
	}
	return windows
}
