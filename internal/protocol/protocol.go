package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/AnEntrypoint/A2F/internal/audio"
	"github.com/AnEntrypoint/A2F/internal/blendshape"
)

// Protocol constants
const (
	// Packet types
	PacketTypeStart = 0x01 // client → server, opens a stream
	PacketTypeAudio = 0x02 // client → server, audio samples
	PacketTypeFrame = 0x03 // server → client, blendshape frame
	PacketTypeStop  = 0x04 // client → server, closes a stream

	// Sample encodings
	EncodingNone    = 0x00
	EncodingPCM16   = 0x01 // signed 16-bit little-endian
	EncodingFloat32 = 0x02 // IEEE-754 float32 little-endian

	// Packet structure sizes
	HeaderSize             = 8  // 1 + 2 + 4 + 1 bytes
	StartPayloadSize       = 40 // 4 + 4 + 32 bytes
	AudioPayloadHeaderSize = 4  // Sequence number (4 bytes)
	FramePayloadHeaderSize = 34 // 4 + 8 + 4 + 1 + 16 + 1 bytes
	MaxPacketSize          = math.MaxUint16

	ClientIDSize = 32
	MaxWeights   = math.MaxUint8
)

// ErrUnknownPacketType is returned for packet types this protocol doesn't define
var ErrUnknownPacketType = errors.New("unknown packet type")

// Header represents the 8-byte packet header
// Layout: [PacketType:1][PacketLen:2][StreamID:4][Encoding:1]
type Header struct {
	PacketType uint8  // 0x01=Start, 0x02=Audio, 0x03=Frame, 0x04=Stop
	PacketLen  uint16 // Total packet size (header + payload)
	StreamID   uint32 // Unique stream identifier
	Encoding   uint8  // 0x01=PCM16, 0x02=Float32, 0x00 for packets without samples
}

// StartPayload represents the 40-byte start packet payload
// Layout: [SampleRate:4][SmoothingFactor:4][ClientID:32]
type StartPayload struct {
	SampleRate      uint32             // Rate of the audio that follows
	SmoothingFactor float32            // Outside [0,1] means server default
	ClientID        [ClientIDSize]byte // Null-terminated string (32 bytes)
}

// AudioPayload represents the audio packet payload
// Layout: [Sequence:4][AudioData:N]
type AudioPayload struct {
	Sequence  uint32 // Packet sequence number
	AudioData []byte // Encoded samples (variable length)
}

// FramePayload represents the frame packet payload. Weights follow the
// canonical blendshape order.
// Layout: [Sequence:4][TimestampMillis:8][Jaw:4][HasEyes:1][Eyes:16][Count:1][Weights:Count*4]
type FramePayload struct {
	Sequence        uint32
	TimestampMillis int64
	Jaw             float32
	HasEyes         bool
	Eyes            [4]float32 // leftX, leftY, rightX, rightY
	Weights         []float32
}

// ParsedPacket represents a fully parsed packet
type ParsedPacket struct {
	Header *Header
	Start  *StartPayload // Only set for start packets
	Audio  *AudioPayload // Only set for audio packets
	Frame  *FramePayload // Only set for frame packets
}

// ParseHeader parses the 8-byte packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	header := &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		StreamID:   binary.BigEndian.Uint32(data[3:7]),
		Encoding:   data[7],
	}

	return header, nil
}

// ParseStartPayload parses the 40-byte start packet payload
func ParseStartPayload(data []byte) (*StartPayload, error) {
	if len(data) < StartPayloadSize {
		return nil, fmt.Errorf("start payload too short: expected %d bytes, got %d",
			StartPayloadSize, len(data))
	}

	payload := &StartPayload{
		SampleRate:      binary.BigEndian.Uint32(data[0:4]),
		SmoothingFactor: math.Float32frombits(binary.BigEndian.Uint32(data[4:8])),
	}
	copy(payload.ClientID[:], data[8:8+ClientIDSize])

	return payload, nil
}

// ParseAudioPayload parses the audio packet payload (4-byte sequence + audio data)
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadHeaderSize, len(data))
	}

	payload := &AudioPayload{
		Sequence: binary.BigEndian.Uint32(data[0:4]),
	}

	// Copy audio data (remaining bytes after sequence)
	if len(data) > AudioPayloadHeaderSize {
		payload.AudioData = make([]byte, len(data)-AudioPayloadHeaderSize)
		copy(payload.AudioData, data[AudioPayloadHeaderSize:])
	}

	return payload, nil
}

// ParseFramePayload parses a frame packet payload
func ParseFramePayload(data []byte) (*FramePayload, error) {
	if len(data) < FramePayloadHeaderSize {
		return nil, fmt.Errorf("frame payload too short: expected at least %d bytes, got %d",
			FramePayloadHeaderSize, len(data))
	}

	payload := &FramePayload{
		Sequence:        binary.BigEndian.Uint32(data[0:4]),
		TimestampMillis: int64(binary.BigEndian.Uint64(data[4:12])),
		Jaw:             readFloat(data[12:16]),
		HasEyes:         data[16] != 0,
	}
	for i := range payload.Eyes {
		payload.Eyes[i] = readFloat(data[17+i*4:])
	}

	count := int(data[33])
	if len(data) != FramePayloadHeaderSize+count*4 {
		return nil, fmt.Errorf("frame payload size mismatch: %d weights need %d bytes, got %d",
			count, FramePayloadHeaderSize+count*4, len(data))
	}
	payload.Weights = make([]float32, count)
	for i := range payload.Weights {
		payload.Weights[i] = readFloat(data[FramePayloadHeaderSize+i*4:])
	}

	return payload, nil
}

// ParsePacket parses a complete packet (header + payload)
func ParsePacket(data []byte) (*ParsedPacket, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: expected at least %d bytes, got %d", HeaderSize, len(data))
	}

	// Parse header first
	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	// Validate packet length matches actual data
	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	// Validate header fields
	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payloadData := data[HeaderSize:]

	// Parse payload based on packet type
	switch header.PacketType {
	case PacketTypeStart:
		payload, err := ParseStartPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse start payload: %w", err)
		}
		packet.Start = payload

	case PacketTypeAudio:
		payload, err := ParseAudioPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Audio = payload

	case PacketTypeFrame:
		payload, err := ParseFramePayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse frame payload: %w", err)
		}
		packet.Frame = payload

	case PacketTypeStop:
		// no payload
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("%w: 0x%02x", ErrUnknownPacketType, header.PacketType)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	// Validate expected payload sizes
	payloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeStart:
		if payloadSize != StartPayloadSize {
			return fmt.Errorf("start packet payload size mismatch: expected %d, got %d",
				StartPayloadSize, payloadSize)
		}
		if !IsValidEncoding(header.Encoding) {
			return fmt.Errorf("invalid encoding: 0x%02x", header.Encoding)
		}
	case PacketTypeAudio:
		if payloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("audio packet payload too small: expected at least %d, got %d",
				AudioPayloadHeaderSize, payloadSize)
		}
		if !IsValidEncoding(header.Encoding) {
			return fmt.Errorf("invalid encoding: 0x%02x", header.Encoding)
		}
	case PacketTypeFrame:
		if payloadSize < FramePayloadHeaderSize {
			return fmt.Errorf("frame packet payload too small: expected at least %d, got %d",
				FramePayloadHeaderSize, payloadSize)
		}
	case PacketTypeStop:
		if payloadSize != 0 {
			return fmt.Errorf("stop packet must have no payload, got %d bytes", payloadSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype >= PacketTypeStart && ptype <= PacketTypeStop
}

// IsValidEncoding checks if the sample encoding is one we decode
func IsValidEncoding(enc uint8) bool {
	return enc == EncodingPCM16 || enc == EncodingFloat32
}

// DecodeSamples converts an audio payload to float samples
func DecodeSamples(encoding uint8, data []byte) ([]float32, error) {
	switch encoding {
	case EncodingPCM16:
		return audio.PCM16ToFloat32(data)
	case EncodingFloat32:
		return audio.Float32LEToFloat32(data)
	default:
		return nil, fmt.Errorf("invalid encoding: 0x%02x", encoding)
	}
}

// EncodeSamples converts float samples to an audio payload
func EncodeSamples(encoding uint8, samples []float32) ([]byte, error) {
	switch encoding {
	case EncodingPCM16:
		return audio.Float32ToPCM16(samples), nil
	case EncodingFloat32:
		return audio.Float32ToLE(samples), nil
	default:
		return nil, fmt.Errorf("invalid encoding: 0x%02x", encoding)
	}
}

// encodePacket prepends a header to payload
func encodePacket(ptype uint8, streamID uint32, encoding uint8, payload []byte) ([]byte, error) {
	total := HeaderSize + len(payload)
	if total > MaxPacketSize {
		return nil, fmt.Errorf("packet too large: %d bytes (maximum %d)", total, MaxPacketSize)
	}

	buf := make([]byte, total)
	buf[0] = ptype
	binary.BigEndian.PutUint16(buf[1:3], uint16(total))
	binary.BigEndian.PutUint32(buf[3:7], streamID)
	buf[7] = encoding
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// EncodeStart builds a start packet
func EncodeStart(streamID uint32, encoding uint8, start *StartPayload) []byte {
	payload := make([]byte, StartPayloadSize)
	binary.BigEndian.PutUint32(payload[0:4], start.SampleRate)
	binary.BigEndian.PutUint32(payload[4:8], math.Float32bits(start.SmoothingFactor))
	copy(payload[8:], start.ClientID[:])

	buf, _ := encodePacket(PacketTypeStart, streamID, encoding, payload)
	return buf
}

// EncodeAudio builds an audio packet from already encoded sample bytes
func EncodeAudio(streamID uint32, encoding uint8, sequence uint32, data []byte) ([]byte, error) {
	payload := make([]byte, AudioPayloadHeaderSize+len(data))
	binary.BigEndian.PutUint32(payload[0:4], sequence)
	copy(payload[AudioPayloadHeaderSize:], data)
	return encodePacket(PacketTypeAudio, streamID, encoding, payload)
}

// EncodeFrame builds a frame packet
func EncodeFrame(streamID uint32, frame *FramePayload) ([]byte, error) {
	if len(frame.Weights) > MaxWeights {
		return nil, fmt.Errorf("too many weights: %d (maximum %d)", len(frame.Weights), MaxWeights)
	}

	payload := make([]byte, FramePayloadHeaderSize+len(frame.Weights)*4)
	binary.BigEndian.PutUint32(payload[0:4], frame.Sequence)
	binary.BigEndian.PutUint64(payload[4:12], uint64(frame.TimestampMillis))
	writeFloat(payload[12:16], frame.Jaw)
	if frame.HasEyes {
		payload[16] = 1
	}
	for i, v := range frame.Eyes {
		writeFloat(payload[17+i*4:], v)
	}
	payload[33] = uint8(len(frame.Weights))
	for i, v := range frame.Weights {
		writeFloat(payload[FramePayloadHeaderSize+i*4:], v)
	}

	return encodePacket(PacketTypeFrame, streamID, EncodingNone, payload)
}

// EncodeStop builds a stop packet
func EncodeStop(streamID uint32) []byte {
	buf, _ := encodePacket(PacketTypeStop, streamID, EncodingNone, nil)
	return buf
}

// NewFramePayload converts a decoded frame for the wire
func NewFramePayload(sequence uint32, frame blendshape.Frame) *FramePayload {
	payload := &FramePayload{
		Sequence: sequence,
		Jaw:      frame.Jaw,
		Weights:  make([]float32, len(frame.Blendshapes)),
	}
	if !frame.Timestamp.IsZero() {
		payload.TimestampMillis = frame.Timestamp.UnixMilli()
	}
	if frame.Eyes != nil {
		payload.HasEyes = true
		payload.Eyes = [4]float32{frame.Eyes.LeftX, frame.Eyes.LeftY, frame.Eyes.RightX, frame.Eyes.RightY}
	}
	for i, w := range frame.Blendshapes {
		payload.Weights[i] = w.Value
	}
	return payload
}

// NewStartPayload builds a start payload; clientID is truncated to 31 bytes
func NewStartPayload(sampleRate uint32, smoothingFactor float32, clientID string) *StartPayload {
	s := &StartPayload{SampleRate: sampleRate, SmoothingFactor: smoothingFactor}
	copy(s.ClientID[:ClientIDSize-1], clientID)
	return s
}

// Smoothing returns the requested factor, or false when the client wants
// the server default.
func (s *StartPayload) Smoothing() (float32, bool) {
	f := s.SmoothingFactor
	if math.IsNaN(float64(f)) || f < 0 || f > 1 {
		return 0, false
	}
	return f, true
}

// ExtractString extracts a null-terminated string from a fixed-size byte array
func ExtractString(buf []byte) string {
	// Find null terminator
	nullPos := len(buf)
	for i, b := range buf {
		if b == 0 {
			nullPos = i
			break
		}
	}
	return string(buf[:nullPos])
}

// GetClientID extracts the client ID as a string
func (s *StartPayload) GetClientID() string {
	return ExtractString(s.ClientID[:])
}

func readFloat(b []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}

func writeFloat(b []byte, v float32) {
	binary.BigEndian.PutUint32(b, math.Float32bits(v))
}

// PacketTypeName returns a readable name for a packet type
func PacketTypeName(ptype uint8) string {
	switch ptype {
	case PacketTypeStart:
		return "Start"
	case PacketTypeAudio:
		return "Audio"
	case PacketTypeFrame:
		return "Frame"
	case PacketTypeStop:
		return "Stop"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", ptype)
	}
}

// EncodingName returns a readable name for a sample encoding
func EncodingName(enc uint8) string {
	switch enc {
	case EncodingNone:
		return "None"
	case EncodingPCM16:
		return "PCM16"
	case EncodingFloat32:
		return "Float32"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", enc)
	}
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	return fmt.Sprintf("Header{Type:%s, Len:%d, StreamID:%d, Encoding:%s}",
		PacketTypeName(h.PacketType), h.PacketLen, h.StreamID, EncodingName(h.Encoding))
}

// String returns a human-readable representation of the start payload
func (s *StartPayload) String() string {
	return fmt.Sprintf("StartPayload{SampleRate:%d, SmoothingFactor:%g, ClientID:%q}",
		s.SampleRate, s.SmoothingFactor, s.GetClientID())
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Sequence:%d, AudioDataLen:%d}", a.Sequence, len(a.AudioData))
}

// String returns a human-readable representation of the frame payload
func (f *FramePayload) String() string {
	return fmt.Sprintf("FramePayload{Sequence:%d, Timestamp:%d, Jaw:%g, HasEyes:%t, Weights:%d}",
		f.Sequence, f.TimestampMillis, f.Jaw, f.HasEyes, len(f.Weights))
}
