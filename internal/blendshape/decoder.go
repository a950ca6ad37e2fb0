package blendshape

import (
	"math"
	"time"
)

// inputScale compresses raw logits before the sigmoid.
const inputScale = 0.1

// Sigmoid is the logistic function.
func Sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

// Clamp01 bounds x to [0,1]. NaN maps to 0.
func Clamp01(x float32) float32 {
	if !(x > 0) {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func weight(v float32) float32 {
	return Clamp01(Sigmoid(v * inputScale))
}

// Decoder turns raw model output into a Frame.
type Decoder struct {
	layout OutputLayout
	names  []string
}

// NewDecoder creates a decoder for the given layout using the canonical names.
func NewDecoder(layout OutputLayout) *Decoder {
	return &Decoder{layout: layout, names: Names[:]}
}

// Layout returns the layout the decoder reads.
func (d *Decoder) Layout() OutputLayout {
	return d.layout
}

// Decode maps raw into a Frame. Missing indices read as zero, so a short
// output never fails.
func (d *Decoder) Decode(raw []float32, ts time.Time) Frame {
	at := func(i int) float32 {
		if i < 0 || i >= len(raw) {
			return 0
		}
		return raw[i]
	}

	n := len(d.names)
	if d.layout.Skin.Size < n {
		n = d.layout.Skin.Size
	}
	weights := make([]Weight, n)
	for i := 0; i < n; i++ {
		weights[i] = Weight{Name: d.names[i], Value: weight(at(d.layout.Skin.Offset + i))}
	}

	frame := Frame{
		Blendshapes: weights,
		Jaw:         weight(at(d.layout.Jaw.Offset)),
		Timestamp:   ts,
	}

	if d.layout.Eyes.Size > 0 {
		o := d.layout.Eyes.Offset
		frame.Eyes = &EyeGaze{
			LeftX:  at(o),
			LeftY:  at(o + 1),
			RightX: at(o + 2),
			RightY: at(o + 3),
		}
	}

	return frame
}
