package inference

import (
	"context"
	"fmt"
)

// Tensor is a dense float32 tensor in row-major order
type Tensor struct {
	Data  []float32 `json:"data"`
	Shape []int64   `json:"shape"`
}

// NewTensor creates a tensor and checks that data fills the shape
func NewTensor(data []float32, shape ...int64) (Tensor, error) {
	n := int64(1)
	for _, d := range shape {
		if d < 0 {
			return Tensor{}, fmt.Errorf("negative dimension in shape %v", shape)
		}
		n *= d
	}
	if n != int64(len(data)) {
		return Tensor{}, fmt.Errorf("shape %v needs %d elements, got %d", shape, n, len(data))
	}
	return Tensor{Data: data, Shape: shape}, nil
}

// Runner runs a loaded model. Implementations must be safe for concurrent
// use by multiple pipelines.
type Runner interface {
	// InputNames returns the input tensor names the model advertises.
	InputNames() []string
	// OutputNames returns the output tensor names in model order.
	OutputNames() []string
	// Run scores one set of inputs.
	Run(ctx context.Context, inputs map[string]Tensor) (map[string]Tensor, error)
	// Close releases the model.
	Close() error
}

type sharedRunner struct {
	Runner
}

// Shared returns r with a no-op Close, for handing one model to many owners.
func Shared(r Runner) Runner {
	if r == nil {
		return nil
	}
	if _, ok := r.(sharedRunner); ok {
		return r
	}
	return sharedRunner{Runner: r}
}

func (sharedRunner) Close() error { return nil }
