package blendshape

import "time"

// Aggregate reduces frames into one summary. Gaze is taken from the last
// frame because it is a pose rather than a signal worth averaging.
//
// Blendshapes are averaged index by index over the frames whose count matches
// the first frame; other frames are left out of that mean, as the smoother
// keeps the newer frame when counts differ. Jaw is a scalar every frame
// carries, so it is averaged over all frames, and FrameCount is len(frames).
func Aggregate(frames []Frame) AggregateResult {
	if len(frames) == 0 {
		return AggregateResult{Frame: EmptyFrame(time.Time{})}
	}

	first := frames[0]
	sums := make([]float64, len(first.Blendshapes))
	matched := 0
	var jawSum float64

	for _, f := range frames {
		jawSum += float64(f.Jaw)
		// Frames with a different cardinality can't be index-aligned.
		if len(f.Blendshapes) != len(sums) {
			continue
		}
		matched++
		for i, w := range f.Blendshapes {
			sums[i] += float64(w.Value)
		}
	}

	weights := make([]Weight, len(sums))
	for i := range sums {
		weights[i] = Weight{
			Name:  first.Blendshapes[i].Name,
			Value: Clamp01(float32(sums[i] / float64(matched))),
		}
	}

	last := frames[len(frames)-1]
	result := AggregateResult{
		Frame: Frame{
			Blendshapes: weights,
			Jaw:         Clamp01(float32(jawSum / float64(len(frames)))),
			Timestamp:   last.Timestamp,
		},
		FrameCount: len(frames),
	}
	if last.Eyes != nil {
		eyes := *last.Eyes
		result.Eyes = &eyes
	}
	return result
}
