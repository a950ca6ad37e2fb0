// Package protocol implements the binary packet format spoken over UDP and
// WebSocket. Every packet starts with an 8-byte header (type, total length,
// stream id, sample encoding) followed by a type-specific payload: Start opens
// a stream, Audio carries samples, Frame carries one blendshape frame back to
// the client and Stop closes the stream. Multi-byte fields are big-endian;
// audio samples keep their little-endian PCM layout.
package protocol
