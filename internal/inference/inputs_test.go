package inference_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnEntrypoint/A2F/internal/inference"
	"github.com/AnEntrypoint/A2F/internal/inference/inferencetest"
)

func TestAudioInputName(t *testing.T) {
	tests := []struct {
		name     string
		inputs   []string
		expected string
	}{
		{"prefers audio", []string{"input", "audio"}, "audio"},
		{"falls back to input", []string{"emotion", "input"}, "input"},
		{"first advertised", []string{"wave", "emotion"}, "wave"},
		{"nothing advertised", nil, "audio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, inference.AudioInputName(tt.inputs))
		})
	}
}

func TestBuildInputsWithEmotion(t *testing.T) {
	r := inferencetest.Zeros(4)
	window := make([]float32, 8320)

	inputs := inference.BuildInputs(r, window)

	require.Contains(t, inputs, "audio")
	assert.Equal(t, []int64{1, 1, 8320}, inputs["audio"].Shape)
	assert.Len(t, inputs["audio"].Data, 8320)

	require.Contains(t, inputs, "emotion")
	assert.Equal(t, []int64{1, 1, 26}, inputs["emotion"].Shape)
	assert.Equal(t, make([]float32, 26), inputs["emotion"].Data)
}

func TestBuildInputsWithoutEmotion(t *testing.T) {
	r := inferencetest.Zeros(4)
	r.Inputs = []string{"input"}

	inputs := inference.BuildInputs(r, make([]float32, 16))

	assert.Len(t, inputs, 1)
	assert.Equal(t, []int64{1, 1, 16}, inputs["input"].Shape)
}

func TestFirstOutput(t *testing.T) {
	r := inferencetest.Zeros(4)
	r.Outputs = []string{"weights", "aux"}

	data, err := inference.FirstOutput(r, map[string]inference.Tensor{
		"aux":     {Data: []float32{9}},
		"weights": {Data: []float32{1, 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, data)

	_, err = inference.FirstOutput(r, map[string]inference.Tensor{"aux": {}})
	assert.ErrorContains(t, err, "missing")

	r.Outputs = nil
	data, err = inference.FirstOutput(r, map[string]inference.Tensor{"only": {Data: []float32{3}}})
	require.NoError(t, err)
	assert.Equal(t, []float32{3}, data)
}

func TestNewTensor(t *testing.T) {
	tensor, err := inference.NewTensor(make([]float32, 6), 1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, tensor.Shape)

	_, err = inference.NewTensor(make([]float32, 5), 1, 2, 3)
	assert.Error(t, err)

	_, err = inference.NewTensor(nil, -1)
	assert.Error(t, err)
}

func TestSharedIgnoresClose(t *testing.T) {
	r := inferencetest.Zeros(2)
	shared := inference.Shared(r)

	require.NoError(t, shared.Close())
	assert.Equal(t, 0, r.Closed())
	assert.Equal(t, r.InputNames(), shared.InputNames())

	assert.Equal(t, shared, inference.Shared(shared), "wrapping twice is a no-op")
	assert.Nil(t, inference.Shared(nil))
}
