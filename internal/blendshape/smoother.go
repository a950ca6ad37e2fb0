package blendshape

// DefaultSmoothingFactor is the weight given to the previous frame.
const DefaultSmoothingFactor = 0.3

// Smoother is a single-pole low-pass filter applied per blendshape channel.
type Smoother struct {
	alpha float32
}

// NewSmoother creates a smoother with the given factor, clamped to [0,1].
func NewSmoother(alpha float32) *Smoother {
	s := &Smoother{}
	s.SetFactor(alpha)
	return s
}

// SetFactor updates alpha, clamped to [0,1].
func (s *Smoother) SetFactor(alpha float32) {
	s.alpha = Clamp01(alpha)
}

// Factor returns the current alpha.
func (s *Smoother) Factor() float32 {
	return s.alpha
}

// Smooth blends prev into curr by index. Channels are matched by position,
// so both slices must share the canonical order; a length mismatch or a
// missing prev returns curr untouched.
func (s *Smoother) Smooth(prev, curr []Weight) []Weight {
	if prev == nil || len(prev) != len(curr) {
		return curr
	}
	out := make([]Weight, len(curr))
	for i := range curr {
		out[i] = Weight{
			Name:  curr[i].Name,
			Value: Clamp01(prev[i].Value*s.alpha + curr[i].Value*(1-s.alpha)),
		}
	}
	return out
}
