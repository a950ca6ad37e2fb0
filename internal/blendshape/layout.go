package blendshape

import "fmt"

// Region is a contiguous slice of the raw model output.
type Region struct {
	Offset int `yaml:"offset" json:"offset"`
	Size   int `yaml:"size" json:"size"`
}

// End returns the first index past the region.
func (r Region) End() int {
	return r.Offset + r.Size
}

// OutputLayout describes where each signal lives in the flat model output.
// It is a property of the model version, not something inferred at runtime.
type OutputLayout struct {
	Skin   Region `yaml:"skin" json:"skin"`
	Tongue Region `yaml:"tongue" json:"tongue"`
	Jaw    Region `yaml:"jaw" json:"jaw"`
	Eyes   Region `yaml:"eyes" json:"eyes"`
}

// DefaultLayout matches the regression network shipped with the service:
// 140 skin values, 10 tongue, 15 jaw, 4 eye gaze.
var DefaultLayout = OutputLayout{
	Skin:   Region{Offset: 0, Size: 140},
	Tongue: Region{Offset: 140, Size: 10},
	Jaw:    Region{Offset: 150, Size: 15},
	Eyes:   Region{Offset: 165, Size: 4},
}

// Width is the minimum output length that covers every region.
func (l OutputLayout) Width() int {
	w := 0
	for _, r := range []Region{l.Skin, l.Tongue, l.Jaw, l.Eyes} {
		if r.End() > w {
			w = r.End()
		}
	}
	return w
}

// Validate checks that regions are well formed.
func (l OutputLayout) Validate() error {
	regions := map[string]Region{"skin": l.Skin, "tongue": l.Tongue, "jaw": l.Jaw, "eyes": l.Eyes}
	for name, r := range regions {
		if r.Offset < 0 {
			return fmt.Errorf("%s offset cannot be negative, got %d", name, r.Offset)
		}
		if r.Size < 0 {
			return fmt.Errorf("%s size cannot be negative, got %d", name, r.Size)
		}
	}
	if l.Jaw.Size < 1 {
		return fmt.Errorf("jaw region must hold at least 1 value, got %d", l.Jaw.Size)
	}
	if l.Eyes.Size != 0 && l.Eyes.Size != 4 {
		return fmt.Errorf("eyes region must hold 4 values, got %d", l.Eyes.Size)
	}
	return nil
}
