package inference

import (
	"fmt"
	"slices"
)

const (
	// AudioInput and FallbackInput are the preferred audio input names.
	AudioInput    = "audio"
	FallbackInput = "input"

	// EmotionInput is fed zeros when the model advertises it.
	EmotionInput = "emotion"
	EmotionSize  = 26
)

// AudioInputName picks the input that receives the audio window:
// "audio", then "input", then the first advertised name.
func AudioInputName(names []string) string {
	switch {
	case slices.Contains(names, AudioInput):
		return AudioInput
	case slices.Contains(names, FallbackInput):
		return FallbackInput
	case len(names) > 0:
		return names[0]
	default:
		return AudioInput
	}
}

// BuildInputs prepares the inputs for one window of 16 kHz samples.
// The audio tensor has shape [1, 1, len(window)].
func BuildInputs(r Runner, window []float32) map[string]Tensor {
	names := r.InputNames()

	inputs := map[string]Tensor{
		AudioInputName(names): {
			Data:  window,
			Shape: []int64{1, 1, int64(len(window))},
		},
	}
	if slices.Contains(names, EmotionInput) {
		inputs[EmotionInput] = Tensor{
			Data:  make([]float32, EmotionSize),
			Shape: []int64{1, 1, EmotionSize},
		}
	}
	return inputs
}

// FirstOutput returns the data of the first advertised output.
func FirstOutput(r Runner, outputs map[string]Tensor) ([]float32, error) {
	names := r.OutputNames()
	if len(names) == 0 {
		// single unnamed output
		if len(outputs) == 1 {
			for _, t := range outputs {
				return t.Data, nil
			}
		}
		return nil, fmt.Errorf("model advertises no outputs")
	}
	t, ok := outputs[names[0]]
	if !ok {
		return nil, fmt.Errorf("model output %q missing from result", names[0])
	}
	return t.Data, nil
}
