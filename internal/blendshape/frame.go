package blendshape

import "time"

// Weight is one named blendshape value in [0,1].
type Weight struct {
	Name  string  `json:"name"`
	Value float32 `json:"value"`
}

// EyeGaze carries raw gaze offsets for both eyes. Values are not clamped.
type EyeGaze struct {
	LeftX  float32 `json:"left_x"`
	LeftY  float32 `json:"left_y"`
	RightX float32 `json:"right_x"`
	RightY float32 `json:"right_y"`
}

// Frame is the decoded result of one inference window.
type Frame struct {
	Blendshapes []Weight  `json:"blendshapes"`
	Jaw         float32   `json:"jaw"`
	Eyes        *EyeGaze  `json:"eyes,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// AggregateResult summarises a batch of frames.
type AggregateResult struct {
	Frame
	FrameCount int `json:"frame_count"`
}

// EmptyFrame returns a frame with every canonical blendshape at zero,
// jaw zero and no gaze.
func EmptyFrame(ts time.Time) Frame {
	weights := make([]Weight, Count)
	for i, name := range Names {
		weights[i] = Weight{Name: name}
	}
	return Frame{Blendshapes: weights, Timestamp: ts}
}

// Clone returns a deep copy so callers can't mutate shared state.
func (f Frame) Clone() Frame {
	out := f
	if f.Blendshapes != nil {
		out.Blendshapes = make([]Weight, len(f.Blendshapes))
		copy(out.Blendshapes, f.Blendshapes)
	}
	if f.Eyes != nil {
		eyes := *f.Eyes
		out.Eyes = &eyes
	}
	return out
}
