package server

import (
	"context"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnEntrypoint/A2F/internal/audio"
	"github.com/AnEntrypoint/A2F/internal/blendshape"
	"github.com/AnEntrypoint/A2F/internal/inference/inferencetest"
	"github.com/AnEntrypoint/A2F/internal/pipeline"
	"github.com/AnEntrypoint/A2F/internal/protocol"
	"github.com/AnEntrypoint/A2F/internal/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStreamManager(t *testing.T) (*stream.Manager, *inferencetest.Runner) {
	t.Helper()
	runner := inferencetest.Zeros(blendshape.DefaultLayout.Width())
	mgr, err := stream.NewManager(testLogger(), runner, nil, stream.ManagerConfig{
		Timeout:         time.Minute,
		CleanupInterval: time.Hour,
		Pipeline:        pipeline.DefaultConfig(),
	})
	require.NoError(t, err)
	t.Cleanup(mgr.Stop)
	return mgr, runner
}

func startPacket(streamID uint32) []byte {
	return protocol.EncodeStart(streamID, protocol.EncodingPCM16,
		protocol.NewStartPayload(audio.SampleRate, float32(math.NaN()), "test-client"))
}

func audioPacket(t *testing.T, streamID, seq uint32, samples int) []byte {
	t.Helper()
	packet, err := protocol.EncodeAudio(streamID, protocol.EncodingPCM16, seq, make([]byte, samples*2))
	require.NoError(t, err)
	return packet
}

func TestPacketHandlerLifecycle(t *testing.T) {
	mgr, runner := newTestStreamManager(t)
	h := NewPacketHandler(mgr, testLogger(), nil)
	ctx := context.Background()

	result, err := h.Handle(ctx, startPacket(42))
	require.NoError(t, err)
	assert.Nil(t, result.Reply)
	_, exists := mgr.GetSession(42)
	assert.True(t, exists)

	result, err = h.Handle(ctx, audioPacket(t, 42, 7, audio.WindowSize))
	require.NoError(t, err)
	require.NotNil(t, result.Reply)
	assert.Equal(t, 1, runner.Calls())

	reply, err := protocol.ParsePacket(result.Reply)
	require.NoError(t, err)
	assert.Equal(t, uint8(protocol.PacketTypeFrame), reply.Header.PacketType)
	assert.Equal(t, uint32(42), reply.Header.StreamID)
	require.NotNil(t, reply.Frame)
	assert.Equal(t, uint32(7), reply.Frame.Sequence)
	require.Len(t, reply.Frame.Weights, blendshape.Count)
	assert.InDelta(t, 0.5, reply.Frame.Weights[0], 1e-6)

	_, err = h.Handle(ctx, protocol.EncodeStop(42))
	require.NoError(t, err)
	_, exists = mgr.GetSession(42)
	assert.False(t, exists)
}

func TestPacketHandlerErrors(t *testing.T) {
	mgr, _ := newTestStreamManager(t)
	h := NewPacketHandler(mgr, testLogger(), nil)
	ctx := context.Background()

	// Unparseable packets yield no result
	result, err := h.Handle(ctx, []byte{0x01, 0x02})
	assert.Error(t, err)
	assert.Nil(t, result)

	// Audio for a stream that never started
	result, err = h.Handle(ctx, audioPacket(t, 9, 0, 160))
	assert.ErrorIs(t, err, stream.ErrSessionNotFound)
	require.NotNil(t, result)
	assert.Equal(t, uint32(9), result.Header.StreamID)

	// Clients don't send frames
	frame, err := protocol.EncodeFrame(9, protocol.NewFramePayload(0, blendshape.EmptyFrame(time.Now())))
	require.NoError(t, err)
	_, err = h.Handle(ctx, frame)
	assert.ErrorIs(t, err, ErrUnexpectedPacket)

	// Stop for an unknown stream is harmless
	_, err = h.Handle(ctx, protocol.EncodeStop(9))
	assert.NoError(t, err)
}

func TestPacketHandlerHandleExclusive(t *testing.T) {
	mgr, _ := newTestStreamManager(t)
	h := NewPacketHandler(mgr, testLogger(), nil)
	ctx := context.Background()

	_, err := h.HandleExclusive(ctx, startPacket(4))
	require.NoError(t, err)

	// A second exclusive start fails, a plain one restarts
	result, err := h.HandleExclusive(ctx, startPacket(4))
	assert.ErrorIs(t, err, stream.ErrSessionExists)
	require.NotNil(t, result)
	_, err = h.Handle(ctx, startPacket(4))
	assert.NoError(t, err)

	// Non-start packets behave like Handle
	result, err = h.HandleExclusive(ctx, audioPacket(t, 4, 0, audio.WindowSize))
	require.NoError(t, err)
	assert.NotNil(t, result.Reply)
}

func TestPacketHandlerRejectsInvalidRate(t *testing.T) {
	mgr, _ := newTestStreamManager(t)
	h := NewPacketHandler(mgr, testLogger(), nil)

	packet := protocol.EncodeStart(6, protocol.EncodingPCM16,
		protocol.NewStartPayload(1, float32(math.NaN()), "test-client"))
	_, err := h.Handle(context.Background(), packet)
	assert.ErrorIs(t, err, audio.ErrInvalidSampleRate)
	assert.Equal(t, 0, mgr.GetActiveSessionCount())
}
