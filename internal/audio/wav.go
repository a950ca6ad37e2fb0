package audio

import (
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV encodes mono float samples as a 16-bit PCM WAV file.
// Samples outside [-1, 1] are clipped.
func WriteWAV(w io.WriteSeeker, pcm *PCM) error {
	if pcm == nil || len(pcm.Samples) == 0 {
		return fmt.Errorf("cannot encode empty audio samples")
	}
	if pcm.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", pcm.SampleRate)
	}

	enc := wav.NewEncoder(w, pcm.SampleRate, 16, 1, 1) // 16-bit PCM mono
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: pcm.SampleRate},
		Data:           Float32ToInts(pcm.Samples),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize WAV header: %w", err)
	}
	return nil
}

// Float32ToInts scales normalised samples to the signed 16-bit range.
func Float32ToInts(samples []float32) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		out[i] = int(v)
	}
	return out
}
