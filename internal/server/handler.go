package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AnEntrypoint/A2F/internal/metrics"
	"github.com/AnEntrypoint/A2F/internal/protocol"
	"github.com/AnEntrypoint/A2F/internal/stream"
)

// ErrUnexpectedPacket is returned for packets a client must not send
var ErrUnexpectedPacket = errors.New("unexpected packet from client")

// PacketHandler applies parsed packets to the stream manager. It is shared
// by the UDP and WebSocket transports.
type PacketHandler struct {
	streamMgr *stream.Manager
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Result describes what a packet did
type Result struct {
	Header *protocol.Header
	// Reply is a frame packet to send back, nil when there is nothing to send
	Reply []byte
}

// NewPacketHandler creates a packet handler
func NewPacketHandler(streamMgr *stream.Manager, logger *slog.Logger, m *metrics.Metrics) *PacketHandler {
	return &PacketHandler{
		streamMgr: streamMgr,
		logger:    logger,
		metrics:   m,
	}
}

// Handle parses one packet and applies it. Audio packets produce a frame
// packet carrying the audio's sequence number.
func (h *PacketHandler) Handle(ctx context.Context, data []byte) (*Result, error) {
	return h.handle(ctx, data, false)
}

// HandleExclusive is Handle except that a Start packet for a stream that
// already exists fails with stream.ErrSessionExists instead of restarting it.
func (h *PacketHandler) HandleExclusive(ctx context.Context, data []byte) (*Result, error) {
	return h.handle(ctx, data, true)
}

func (h *PacketHandler) handle(ctx context.Context, data []byte, exclusive bool) (*Result, error) {
	packet, err := protocol.ParsePacket(data)
	if err != nil {
		h.metrics.RecordParseError()
		return nil, err
	}
	h.metrics.RecordPacketProcessed()

	header := packet.Header
	result := &Result{Header: header}

	switch header.PacketType {
	case protocol.PacketTypeStart:
		create := h.streamMgr.CreateSession
		if exclusive {
			create = h.streamMgr.CreateExclusiveSession
		}
		session, err := create(header.StreamID, packet.Start, header.Encoding)
		if err != nil {
			return result, fmt.Errorf("failed to create stream session: %w", err)
		}
		h.logger.Debug("Start packet processed",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.String("client_id", session.ClientID),
			slog.Int("sample_rate", session.SampleRate),
		)

	case protocol.PacketTypeAudio:
		frame, err := h.streamMgr.ProcessAudio(ctx, header.StreamID, packet.Audio.Sequence, header.Encoding, packet.Audio.AudioData)
		if err != nil {
			return result, err
		}
		reply, err := protocol.EncodeFrame(header.StreamID, protocol.NewFramePayload(packet.Audio.Sequence, frame))
		if err != nil {
			return result, fmt.Errorf("failed to encode frame: %w", err)
		}
		result.Reply = reply

	case protocol.PacketTypeStop:
		if !h.streamMgr.RemoveSession(header.StreamID) {
			h.logger.Debug("Stop for unknown stream",
				slog.Uint64("stream_id", uint64(header.StreamID)),
			)
		}

	default:
		return result, fmt.Errorf("%w: %s", ErrUnexpectedPacket, protocol.PacketTypeName(header.PacketType))
	}

	return result, nil
}
