package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Accepted source rates. Resampling multiplies the sample count by
// SampleRate/rate, so the lower bound also caps that growth at 2x.
const (
	MinSampleRate = 8000
	MaxSampleRate = 192000
)

// ErrInvalidSampleRate is returned for source rates outside
// [MinSampleRate, MaxSampleRate].
var ErrInvalidSampleRate = errors.New("unsupported sample rate")

// ValidateSampleRate checks a client or file supplied sample rate
func ValidateSampleRate(rate int) error {
	if rate < MinSampleRate || rate > MaxSampleRate {
		return fmt.Errorf("%w: %d Hz, want %d-%d", ErrInvalidSampleRate, rate, MinSampleRate, MaxSampleRate)
	}
	return nil
}

// PCM is mono audio normalised to [-1, 1].
type PCM struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the clip length in seconds.
func (p *PCM) Duration() float64 {
	if p.SampleRate <= 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.SampleRate)
}

// PCM16ToFloat32 converts little-endian signed 16-bit samples to floats
func PCM16ToFloat32(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("audio data length must be even (got %d bytes)", len(data))
	}

	samples := make([]float32, len(data)/2)
	for i := range samples {
		// Convert bytes to int16 (little-endian for PCM-16)
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(s) / 32768
	}
	return samples, nil
}

// Float32LEToFloat32 decodes little-endian IEEE-754 float samples
func Float32LEToFloat32(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("audio data length must be a multiple of 4 (got %d bytes)", len(data))
	}

	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples, nil
}

// Float32ToPCM16 encodes floats as little-endian signed 16-bit samples,
// clipping anything outside [-1, 1].
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*32767)))
	}
	return out
}

// Float32ToLE encodes floats as little-endian IEEE-754 bytes
func Float32ToLE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// downmix averages interleaved channels into mono
func downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}
