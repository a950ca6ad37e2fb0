// Package inferencetest provides a scripted inference.Runner for tests.
package inferencetest

import (
	"context"
	"sync"

	"github.com/AnEntrypoint/A2F/internal/inference"
)

// Runner returns a fixed output for every call unless a hook overrides it.
type Runner struct {
	Inputs  []string
	Outputs []string

	// Output is returned under Outputs[0] (or "output" when Outputs is empty).
	Output []float32
	// Err, when set, fails every call.
	Err error
	// OnRun, when set, replaces Output and Err.
	OnRun func(call int, inputs map[string]inference.Tensor) ([]float32, error)

	mu     sync.Mutex
	calls  int
	closed int
	last   map[string]inference.Tensor
}

// New returns a runner with the usual audio/emotion inputs and one output.
func New(output []float32) *Runner {
	return &Runner{
		Inputs:  []string{"audio", "emotion"},
		Outputs: []string{"output"},
		Output:  output,
	}
}

// Zeros returns a runner whose output is width zeros.
func Zeros(width int) *Runner {
	return New(make([]float32, width))
}

func (r *Runner) InputNames() []string  { return r.Inputs }
func (r *Runner) OutputNames() []string { return r.Outputs }

func (r *Runner) Run(ctx context.Context, inputs map[string]inference.Tensor) (map[string]inference.Tensor, error) {
	r.mu.Lock()
	call := r.calls
	r.calls++
	r.last = inputs
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := r.Output, r.Err
	if r.OnRun != nil {
		out, err = r.OnRun(call, inputs)
	}
	if err != nil {
		return nil, err
	}

	name := "output"
	if len(r.Outputs) > 0 {
		name = r.Outputs[0]
	}
	data := append([]float32(nil), out...)
	return map[string]inference.Tensor{
		name: {Data: data, Shape: []int64{1, int64(len(data))}},
	}, nil
}

func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

// Calls returns how many times Run was invoked.
func (r *Runner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Closed returns how many times Close was invoked.
func (r *Runner) Closed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// LastInputs returns the inputs of the most recent call.
func (r *Runner) LastInputs() map[string]inference.Tensor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
