package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// Format identifies an encoded audio container.
type Format string

const (
	FormatWAV   Format = "wav"
	FormatMP3   Format = "mp3"
	FormatPCM16 Format = "pcm16" // headerless little-endian 16-bit mono
)

// ErrUnsupportedFormat is returned for containers or encodings we can't decode.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// ParseFormat maps a name or file extension to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "wav", "wave":
		return FormatWAV, nil
	case "mp3":
		return FormatMP3, nil
	case "pcm", "pcm16", "raw", "s16le":
		return FormatPCM16, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// DecodeFile decodes the file at path, picking the decoder by extension.
// Headerless PCM needs an explicit rate, use DecodePCM16 for that.
func DecodeFile(path string) (*PCM, error) {
	format, err := ParseFormat(filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	if format == FormatPCM16 {
		return nil, fmt.Errorf("%w: raw PCM file %s needs a sample rate", ErrUnsupportedFormat, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file %s: %w", path, err)
	}
	defer f.Close()

	pcm, err := Decode(f, format)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return pcm, nil
}

// Decode reads a whole clip and returns mono samples at the source rate.
func Decode(r io.ReadSeeker, format Format) (*PCM, error) {
	var (
		pcm *PCM
		err error
	)
	switch format {
	case FormatWAV:
		pcm, err = decodeWAV(r)
	case FormatMP3:
		pcm, err = decodeMP3(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}
	if err := ValidateSampleRate(pcm.SampleRate); err != nil {
		return nil, err
	}
	return pcm, nil
}

// DecodePCM16 wraps headerless little-endian 16-bit mono audio.
func DecodePCM16(r io.Reader, sampleRate int) (*PCM, error) {
	if err := ValidateSampleRate(sampleRate); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCM data: %w", err)
	}
	samples, err := PCM16ToFloat32(data)
	if err != nil {
		return nil, err
	}
	return &PCM{Samples: samples, SampleRate: sampleRate}, nil
}

func decodeWAV(r io.ReadSeeker) (*PCM, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid WAV file", ErrUnsupportedFormat)
	}
	if decoder.WavAudioFormat != 1 {
		return nil, fmt.Errorf("%w: WAV audio format %d (only integer PCM)", ErrUnsupportedFormat, decoder.WavAudioFormat)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read PCM buffer: %w", err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("WAV file has no sample rate")
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(decoder.BitDepth)
	}

	return &PCM{
		Samples:    downmix(normalizeInts(buf, bitDepth), buf.Format.NumChannels),
		SampleRate: buf.Format.SampleRate,
	}, nil
}

// normalizeInts scales integer PCM to [-1, 1]. 8-bit WAV is unsigned.
func normalizeInts(buf *goaudio.IntBuffer, bitDepth int) []float32 {
	out := make([]float32, len(buf.Data))
	if bitDepth == 8 {
		for i, v := range buf.Data {
			out[i] = float32(v-128) / 128
		}
		return out
	}
	if bitDepth <= 0 || bitDepth > 32 {
		bitDepth = 16
	}
	scale := float32(int64(1) << uint(bitDepth-1))
	for i, v := range buf.Data {
		out[i] = float32(v) / scale
	}
	return out
}

func decodeMP3(r io.Reader) (*PCM, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create MP3 decoder: %w", err)
	}

	// go-mp3 always produces 16-bit little-endian stereo
	data, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("failed to decode MP3 stream: %w", err)
	}
	data = data[:len(data)-len(data)%4]

	stereo, err := PCM16ToFloat32(data)
	if err != nil {
		return nil, err
	}
	return &PCM{Samples: downmix(stereo, 2), SampleRate: decoder.SampleRate()}, nil
}
