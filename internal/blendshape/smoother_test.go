package blendshape

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weights(values ...float32) []Weight {
	out := make([]Weight, len(values))
	for i, v := range values {
		out[i] = Weight{Name: Names[i], Value: v}
	}
	return out
}

func TestSmootherFactorClamped(t *testing.T) {
	s := NewSmoother(1.7)
	assert.Equal(t, float32(1), s.Factor())

	s.SetFactor(-0.5)
	assert.Equal(t, float32(0), s.Factor())

	s.SetFactor(0.42)
	assert.Equal(t, float32(0.42), s.Factor())
}

func TestSmoothBlend(t *testing.T) {
	s := NewSmoother(0.3)
	prev := weights(1, 0, 0.5)
	curr := weights(0, 1, 0.5)

	out := s.Smooth(prev, curr)

	require.Len(t, out, 3)
	assert.InDelta(t, 0.3, out[0].Value, 1e-6)
	assert.InDelta(t, 0.7, out[1].Value, 1e-6)
	assert.InDelta(t, 0.5, out[2].Value, 1e-6)
	for i := range out {
		assert.Equal(t, curr[i].Name, out[i].Name)
	}
	// inputs untouched
	assert.Equal(t, float32(0), curr[0].Value)
}

func TestSmoothFixedPoint(t *testing.T) {
	frame := weights(0, 0.1, 0.25, 0.5, 0.9, 1)
	for _, alpha := range []float32{0, 0.3, 0.5, 0.77, 1} {
		out := NewSmoother(alpha).Smooth(frame, frame)
		for i := range frame {
			assert.InDelta(t, frame[i].Value, out[i].Value, 1e-6, "alpha %v index %d", alpha, i)
		}
	}
}

func TestSmoothPassThrough(t *testing.T) {
	s := NewSmoother(0.3)
	curr := weights(0.2, 0.4)

	assert.Equal(t, curr, s.Smooth(nil, curr))
	assert.Equal(t, curr, s.Smooth(weights(1, 1, 1), curr))
}

func TestSmoothExtremes(t *testing.T) {
	prev := weights(0.8)
	curr := weights(0.2)

	assert.InDelta(t, 0.2, NewSmoother(0).Smooth(prev, curr)[0].Value, 1e-6)
	assert.InDelta(t, 0.8, NewSmoother(1).Smooth(prev, curr)[0].Value, 1e-6)
}

func TestAggregateEmpty(t *testing.T) {
	res := Aggregate(nil)

	assert.Equal(t, 0, res.FrameCount)
	assert.Equal(t, float32(0), res.Jaw)
	assert.Nil(t, res.Eyes)
	require.Len(t, res.Blendshapes, Count)
	for i, w := range res.Blendshapes {
		assert.Equal(t, Names[i], w.Name)
		assert.Equal(t, float32(0), w.Value)
	}
}

func TestAggregateSingleFrame(t *testing.T) {
	frame := Frame{
		Blendshapes: weights(0.1, 0.6, 0.9),
		Jaw:         0.4,
		Eyes:        &EyeGaze{LeftX: 1, LeftY: 2, RightX: 3, RightY: 4},
		Timestamp:   time.Unix(10, 0),
	}

	res := Aggregate([]Frame{frame})

	assert.Equal(t, 1, res.FrameCount)
	assert.Equal(t, frame, res.Frame)
	// the result owns its own gaze copy
	assert.NotSame(t, frame.Eyes, res.Eyes)
}

func TestAggregateMeanAndLastEyes(t *testing.T) {
	frames := []Frame{
		{Blendshapes: weights(0, 1), Jaw: 0.2, Eyes: &EyeGaze{LeftX: 1}},
		{Blendshapes: weights(0.5, 0.5), Jaw: 0.4, Eyes: &EyeGaze{LeftX: 2}},
		{Blendshapes: weights(1, 0), Jaw: 0.6, Eyes: &EyeGaze{LeftX: 3, RightY: -1}},
	}

	res := Aggregate(frames)

	assert.Equal(t, 3, res.FrameCount)
	assert.InDelta(t, 0.5, res.Blendshapes[0].Value, 1e-6)
	assert.InDelta(t, 0.5, res.Blendshapes[1].Value, 1e-6)
	assert.InDelta(t, 0.4, res.Jaw, 1e-6)
	assert.Equal(t, EyeGaze{LeftX: 3, RightY: -1}, *res.Eyes)
}

func TestAggregateLastFrameWithoutEyes(t *testing.T) {
	frames := []Frame{
		{Blendshapes: weights(0.2), Eyes: &EyeGaze{LeftX: 1}},
		{Blendshapes: weights(0.4)},
	}

	assert.Nil(t, Aggregate(frames).Eyes)
}

func TestAggregateSkipsMismatchedFrames(t *testing.T) {
	frames := []Frame{
		{Blendshapes: weights(0.2, 0.4), Jaw: 0.3},
		{Blendshapes: weights(1), Jaw: 0.9},
		{Blendshapes: weights(0.4, 0.8), Jaw: 0.3},
	}

	res := Aggregate(frames)

	require.Len(t, res.Blendshapes, 2)
	assert.InDelta(t, 0.3, res.Blendshapes[0].Value, 1e-6)
	assert.InDelta(t, 0.6, res.Blendshapes[1].Value, 1e-6)
	// Jaw and count cover every frame, including the mismatched one
	assert.InDelta(t, 0.5, res.Jaw, 1e-6)
	assert.Equal(t, 3, res.FrameCount)
}

func TestFrameClone(t *testing.T) {
	f := Frame{Blendshapes: weights(0.1, 0.2), Eyes: &EyeGaze{LeftX: 1}}
	c := f.Clone()
	c.Blendshapes[0].Value = 0.9
	c.Eyes.LeftX = 5

	assert.Equal(t, float32(0.1), f.Blendshapes[0].Value)
	assert.Equal(t, float32(1), f.Eyes.LeftX)
}
