package inference

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig configures the in-process ONNX Runtime backend
type ONNXConfig struct {
	ModelPath         string
	SharedLibraryPath string
	UseGPU            bool
}

// ONNXRunner runs a model with ONNX Runtime
type ONNXRunner struct {
	session  *ort.DynamicAdvancedSession
	inputs   []string
	outputs  []string
	provider string

	closeOnce sync.Once
	closeErr  error
}

var (
	envMu   sync.Mutex
	envRefs int
)

// acquireEnvironment initialises the runtime for the first session
func acquireEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 && !ort.IsInitialized() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	envRefs++
	return nil
}

// releaseEnvironment tears the runtime down after the last session closes
func releaseEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 {
		return nil
	}
	envRefs--
	if envRefs == 0 {
		return ort.DestroyEnvironment()
	}
	return nil
}

// NewONNXRunner loads the model at cfg.ModelPath. With UseGPU it tries the
// CUDA provider first and falls back to CPU if that fails.
func NewONNXRunner(cfg ONNXConfig, logger *slog.Logger) (*ONNXRunner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("model path cannot be empty")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model not found at %s: %w", cfg.ModelPath, err)
	}

	if err := acquireEnvironment(cfg.SharedLibraryPath); err != nil {
		return nil, err
	}

	inputInfo, outputInfo, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		releaseEnvironment()
		return nil, fmt.Errorf("failed to read model inputs and outputs: %w", err)
	}

	r := &ONNXRunner{
		inputs:  make([]string, len(inputInfo)),
		outputs: make([]string, len(outputInfo)),
	}
	for i, info := range inputInfo {
		r.inputs[i] = info.Name
	}
	for i, info := range outputInfo {
		r.outputs[i] = info.Name
	}

	if cfg.UseGPU {
		session, err := r.newSession(cfg.ModelPath, true)
		if err == nil {
			r.session = session
			r.provider = "cuda"
		} else {
			logger.Warn("CUDA provider unavailable, falling back to CPU", "error", err)
		}
	}
	if r.session == nil {
		session, err := r.newSession(cfg.ModelPath, false)
		if err != nil {
			releaseEnvironment()
			return nil, fmt.Errorf("failed to create ONNX session: %w", err)
		}
		r.session = session
		r.provider = "cpu"
	}

	logger.Info("ONNX model loaded",
		"model_path", cfg.ModelPath,
		"provider", r.provider,
		"inputs", r.inputs,
		"outputs", r.outputs)

	return r, nil
}

func (r *ONNXRunner) newSession(modelPath string, cuda bool) (*ort.DynamicAdvancedSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if cuda {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("failed to create CUDA options: %w", err)
		}
		defer cudaOptions.Destroy()

		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			return nil, fmt.Errorf("failed to enable CUDA provider: %w", err)
		}
	}

	return ort.NewDynamicAdvancedSession(modelPath, r.inputs, r.outputs, options)
}

func (r *ONNXRunner) InputNames() []string  { return r.inputs }
func (r *ONNXRunner) OutputNames() []string { return r.outputs }

// Provider returns "cuda" or "cpu"
func (r *ONNXRunner) Provider() string { return r.provider }

// Run feeds every advertised input; inputs the caller omits get an error.
func (r *ONNXRunner) Run(ctx context.Context, inputs map[string]Tensor) (map[string]Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in := make([]ort.Value, len(r.inputs))
	defer destroyValues(in)
	for i, name := range r.inputs {
		t, ok := inputs[name]
		if !ok {
			return nil, fmt.Errorf("missing model input %q", name)
		}
		tensor, err := ort.NewTensor(ort.NewShape(t.Shape...), t.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to create tensor %q: %w", name, err)
		}
		in[i] = tensor
	}

	// nil outputs are allocated by the runtime
	out := make([]ort.Value, len(r.outputs))
	defer destroyValues(out)
	if err := r.session.Run(in, out); err != nil {
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}

	result := make(map[string]Tensor, len(out))
	for i, v := range out {
		tensor, ok := v.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("model output %q is not float32", r.outputs[i])
		}
		result[r.outputs[i]] = Tensor{
			Data:  append([]float32(nil), tensor.GetData()...),
			Shape: append([]int64(nil), tensor.GetShape()...),
		}
	}
	return result, nil
}

// Close destroys the session. Safe to call more than once.
func (r *ONNXRunner) Close() error {
	r.closeOnce.Do(func() {
		if r.session != nil {
			r.closeErr = r.session.Destroy()
		}
		if err := releaseEnvironment(); err != nil && r.closeErr == nil {
			r.closeErr = err
		}
	})
	return r.closeErr
}

func destroyValues(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}
