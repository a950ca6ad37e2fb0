package audio

// Resample converts samples from one rate to another with linear
// interpolation. The output holds floor(len*toRate/fromRate) samples;
// positions at or past the last input sample repeat it instead of
// extrapolating. Non-positive rates yield nil.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate <= 0 || toRate <= 0 {
		return nil
	}
	if fromRate == toRate {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	outLen := int(int64(len(samples)) * int64(toRate) / int64(fromRate))
	out := make([]float32, outLen)
	if len(samples) == 0 {
		return out
	}

	ratio := float64(fromRate) / float64(toRate)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx] + (samples[idx+1]-samples[idx])*frac
	}
	return out
}

// StreamResampler is the chunked form of Resample. It keeps the output
// phase and the previous chunk's last sample, so feeding a stream in pieces
// yields the same samples as resampling it whole, except that output past
// the last received sample waits for the next chunk.
type StreamResampler struct {
	fromRate int64
	toRate   int64

	received int64 // input samples seen
	emitted  int64 // output samples produced
	tail     float32
}

// NewStreamResampler creates a resampler for one continuous stream.
// Rates must be positive.
func NewStreamResampler(fromRate, toRate int) *StreamResampler {
	return &StreamResampler{fromRate: int64(fromRate), toRate: int64(toRate)}
}

// Process consumes the next chunk and returns the output samples it
// completes.
func (r *StreamResampler) Process(samples []float32) []float32 {
	if len(samples) == 0 || r.fromRate <= 0 || r.toRate <= 0 {
		return nil
	}
	if r.fromRate == r.toRate {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	start := r.received // absolute index of samples[0]
	r.received += int64(len(samples))
	last := r.received - 1

	// samples[-1] is the previous chunk's tail
	at := func(i int64) float32 {
		if i < start {
			return r.tail
		}
		return samples[i-start]
	}

	out := make([]float32, 0, int64(len(samples))*r.toRate/r.fromRate+1)
	for {
		// Output n sits at input position n*from/to, kept exact in integers
		num := r.emitted * r.fromRate
		idx := num / r.toRate
		rem := num % r.toRate
		if idx > last || (idx == last && rem != 0) {
			break
		}

		v := at(idx)
		if rem != 0 {
			frac := float32(rem) / float32(r.toRate)
			v += (at(idx+1) - v) * frac
		}
		out = append(out, v)
		r.emitted++
	}

	r.tail = samples[len(samples)-1]
	return out
}

// Reset starts a new stream, forgetting phase and history.
func (r *StreamResampler) Reset() {
	r.received = 0
	r.emitted = 0
	r.tail = 0
}
