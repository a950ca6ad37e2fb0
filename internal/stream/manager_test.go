package stream

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/AnEntrypoint/A2F/internal/audio"
	"github.com/AnEntrypoint/A2F/internal/blendshape"
	"github.com/AnEntrypoint/A2F/internal/inference/inferencetest"
	"github.com/AnEntrypoint/A2F/internal/pipeline"
	"github.com/AnEntrypoint/A2F/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// createTestManagerConfig creates a test configuration for the manager
func createTestManagerConfig() ManagerConfig {
	return ManagerConfig{
		Timeout:         60 * time.Second,
		CleanupInterval: time.Hour,
		Pipeline:        pipeline.DefaultConfig(),
	}
}

func createTestStartPayload(clientID string) *protocol.StartPayload {
	return protocol.NewStartPayload(16000, float32(math.NaN()), clientID)
}

func newTestManager(t *testing.T, config ManagerConfig) (*Manager, *inferencetest.Runner) {
	t.Helper()
	runner := inferencetest.Zeros(blendshape.DefaultLayout.Width())
	mgr, err := NewManager(testLogger(), runner, nil, config)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return mgr, runner
}

func pcm16Silence(samples int) []byte {
	return make([]byte, samples*2)
}

func TestNewManager(t *testing.T) {
	config := createTestManagerConfig()
	mgr, _ := newTestManager(t, config)
	defer mgr.Stop()

	if mgr.config.Timeout != config.Timeout {
		t.Errorf("Expected timeout %v, got %v", config.Timeout, mgr.config.Timeout)
	}

	if mgr.GetActiveSessionCount() != 0 {
		t.Errorf("Expected 0 active sessions, got %d", mgr.GetActiveSessionCount())
	}
}

func TestNewManagerValidation(t *testing.T) {
	runner := inferencetest.Zeros(blendshape.DefaultLayout.Width())

	if _, err := NewManager(testLogger(), nil, nil, createTestManagerConfig()); err == nil {
		t.Error("Expected error for nil runner")
	}

	config := createTestManagerConfig()
	config.Timeout = 0
	if _, err := NewManager(testLogger(), runner, nil, config); err == nil {
		t.Error("Expected error for zero timeout")
	}
}

func TestCreateSession(t *testing.T) {
	mgr, _ := newTestManager(t, createTestManagerConfig())
	defer mgr.Stop()

	session, err := mgr.CreateSession(12345, createTestStartPayload("avatar-1"), protocol.EncodingPCM16)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	if session.ID != 12345 {
		t.Errorf("Expected stream ID 12345, got %d", session.ID)
	}

	if session.ClientID != "avatar-1" {
		t.Errorf("Expected client ID 'avatar-1', got '%s'", session.ClientID)
	}

	if session.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", session.SampleRate)
	}

	if got := session.pipeline.SmoothingFactor(); got != blendshape.DefaultSmoothingFactor {
		t.Errorf("Expected default smoothing factor, got %v", got)
	}

	if mgr.GetActiveSessionCount() != 1 {
		t.Errorf("Expected 1 active session, got %d", mgr.GetActiveSessionCount())
	}
}

func TestCreateSessionDefaults(t *testing.T) {
	mgr, _ := newTestManager(t, createTestManagerConfig())
	defer mgr.Stop()

	start := protocol.NewStartPayload(0, 0.75, "client")
	session, err := mgr.CreateSession(1, start, protocol.EncodingNone)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	if session.SampleRate != audio.SampleRate {
		t.Errorf("Expected sample rate %d, got %d", audio.SampleRate, session.SampleRate)
	}
	if session.Encoding != protocol.EncodingPCM16 {
		t.Errorf("Expected PCM16 encoding, got %s", protocol.EncodingName(session.Encoding))
	}
	if got := session.pipeline.SmoothingFactor(); got != 0.75 {
		t.Errorf("Expected smoothing factor 0.75, got %v", got)
	}
}

func TestCreateSessionDuplicate(t *testing.T) {
	mgr, _ := newTestManager(t, createTestManagerConfig())
	defer mgr.Stop()

	session1, err := mgr.CreateSession(12345, createTestStartPayload("avatar-1"), protocol.EncodingPCM16)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	// Create session second time (should update existing)
	start2 := protocol.NewStartPayload(48000, 0.5, "avatar-2")
	session2, err := mgr.CreateSession(12345, start2, protocol.EncodingFloat32)
	if err != nil {
		t.Fatalf("Failed to create/update session: %v", err)
	}

	// Should return the same session instance
	if session1 != session2 {
		t.Error("Expected same session instance for duplicate stream ID")
	}

	if session2.ClientID != "avatar-2" {
		t.Errorf("Expected updated client ID 'avatar-2', got '%s'", session2.ClientID)
	}
	if session2.SampleRate != 48000 {
		t.Errorf("Expected updated sample rate 48000, got %d", session2.SampleRate)
	}
	if session2.Encoding != protocol.EncodingFloat32 {
		t.Errorf("Expected updated encoding float32, got %s", protocol.EncodingName(session2.Encoding))
	}
	if got := session2.pipeline.SmoothingFactor(); got != 0.5 {
		t.Errorf("Expected updated smoothing factor 0.5, got %v", got)
	}

	if mgr.GetActiveSessionCount() != 1 {
		t.Errorf("Expected 1 active session, got %d", mgr.GetActiveSessionCount())
	}
}

func TestCreateSessionLimit(t *testing.T) {
	config := createTestManagerConfig()
	config.MaxSessions = 1
	mgr, _ := newTestManager(t, config)
	defer mgr.Stop()

	if _, err := mgr.CreateSession(1, createTestStartPayload("a"), protocol.EncodingPCM16); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	_, err := mgr.CreateSession(2, createTestStartPayload("b"), protocol.EncodingPCM16)
	if !errors.Is(err, ErrTooManySessions) {
		t.Errorf("Expected ErrTooManySessions, got %v", err)
	}

	// Restarting an existing stream is not limited
	if _, err := mgr.CreateSession(1, createTestStartPayload("a"), protocol.EncodingPCM16); err != nil {
		t.Errorf("Expected restart of existing stream to succeed, got %v", err)
	}
}

func TestCreateSessionRejectsInvalidRate(t *testing.T) {
	mgr, _ := newTestManager(t, createTestManagerConfig())
	defer mgr.Stop()

	for _, rate := range []uint32{1, 7999, 192001, 1 << 30} {
		start := protocol.NewStartPayload(rate, float32(math.NaN()), "avatar")
		if _, err := mgr.CreateSession(9, start, protocol.EncodingPCM16); !errors.Is(err, audio.ErrInvalidSampleRate) {
			t.Errorf("rate %d: expected ErrInvalidSampleRate, got %v", rate, err)
		}
	}
	if mgr.GetActiveSessionCount() != 0 {
		t.Errorf("Expected no sessions, got %d", mgr.GetActiveSessionCount())
	}

	// Restarting a live stream with a bad rate leaves it untouched
	session, err := mgr.CreateSession(9, createTestStartPayload("avatar"), protocol.EncodingPCM16)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if _, err := mgr.CreateSession(9, protocol.NewStartPayload(1, 0.5, "avatar"), protocol.EncodingPCM16); err == nil {
		t.Error("Expected error for rate 1 on restart")
	}
	if session.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", session.SampleRate)
	}
}

func TestCreateExclusiveSession(t *testing.T) {
	mgr, _ := newTestManager(t, createTestManagerConfig())
	defer mgr.Stop()

	if _, err := mgr.CreateExclusiveSession(3, createTestStartPayload("a"), protocol.EncodingPCM16); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	_, err := mgr.CreateExclusiveSession(3, protocol.NewStartPayload(48000, 0.5, "b"), protocol.EncodingPCM16)
	if !errors.Is(err, ErrSessionExists) {
		t.Fatalf("Expected ErrSessionExists, got %v", err)
	}

	session, _ := mgr.GetSession(3)
	if session.ClientID != "a" || session.SampleRate != 16000 {
		t.Errorf("Expected session untouched, got client %q rate %d", session.ClientID, session.SampleRate)
	}
}

func TestCreateExclusiveSessionRace(t *testing.T) {
	mgr, _ := newTestManager(t, createTestManagerConfig())
	defer mgr.Stop()

	const contenders = 32
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		losses int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.CreateExclusiveSession(77, createTestStartPayload("avatar"), protocol.EncodingPCM16)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrSessionExists):
				losses++
			default:
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || losses != contenders-1 {
		t.Errorf("Expected 1 winner and %d losers, got %d and %d", contenders-1, wins, losses)
	}
	if mgr.GetActiveSessionCount() != 1 {
		t.Errorf("Expected 1 active session, got %d", mgr.GetActiveSessionCount())
	}
}

func TestGetSession(t *testing.T) {
	mgr, _ := newTestManager(t, createTestManagerConfig())
	defer mgr.Stop()

	originalSession, err := mgr.CreateSession(12345, createTestStartPayload("avatar"), protocol.EncodingPCM16)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	session, exists := mgr.GetSession(12345)
	if !exists {
		t.Error("Expected session to exist")
	}
	if session != originalSession {
		t.Error("Expected same session instance")
	}

	_, exists = mgr.GetSession(99999)
	if exists {
		t.Error("Expected session to not exist")
	}
}

func TestRemoveSession(t *testing.T) {
	mgr, runner := newTestManager(t, createTestManagerConfig())
	defer mgr.Stop()

	session, err := mgr.CreateSession(12345, createTestStartPayload("avatar"), protocol.EncodingPCM16)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	if !mgr.RemoveSession(12345) {
		t.Error("Expected RemoveSession to return true")
	}

	if mgr.GetActiveSessionCount() != 0 {
		t.Errorf("Expected 0 active sessions, got %d", mgr.GetActiveSessionCount())
	}

	if session.pipeline.Ready() {
		t.Error("Expected pipeline to be disposed")
	}

	if runner.Closed() != 0 {
		t.Errorf("Expected shared runner to stay open, closed %d times", runner.Closed())
	}

	if mgr.RemoveSession(12345) {
		t.Error("Expected second RemoveSession to return false")
	}
}

func TestProcessAudio(t *testing.T) {
	mgr, runner := newTestManager(t, createTestManagerConfig())
	defer mgr.Stop()

	if _, err := mgr.CreateSession(7, createTestStartPayload("avatar"), protocol.EncodingPCM16); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	ctx := context.Background()

	// Less than a window: neutral frame, no inference
	frame, err := mgr.ProcessAudio(ctx, 7, 0, protocol.EncodingPCM16, pcm16Silence(4160))
	if err != nil {
		t.Fatalf("ProcessAudio failed: %v", err)
	}
	if runner.Calls() != 0 {
		t.Errorf("Expected no inference during warm-up, got %d calls", runner.Calls())
	}
	if frame.Blendshapes[0].Value != 0 {
		t.Errorf("Expected neutral warm-up frame, got %v", frame.Blendshapes[0].Value)
	}

	// Second packet completes the window
	frame, err = mgr.ProcessAudio(ctx, 7, 1, protocol.EncodingNone, pcm16Silence(4160))
	if err != nil {
		t.Fatalf("ProcessAudio failed: %v", err)
	}
	if runner.Calls() != 1 {
		t.Errorf("Expected 1 inference call, got %d", runner.Calls())
	}
	if len(frame.Blendshapes) != blendshape.Count {
		t.Fatalf("Expected %d blendshapes, got %d", blendshape.Count, len(frame.Blendshapes))
	}
	if frame.Blendshapes[0].Value != 0.5 {
		t.Errorf("Expected sigmoid(0) = 0.5, got %v", frame.Blendshapes[0].Value)
	}

	session, _ := mgr.GetSession(7)
	info := session.GetSessionInfo()
	if info.PacketsReceived != 2 {
		t.Errorf("Expected 2 packets, got %d", info.PacketsReceived)
	}
	if info.FramesProduced != 2 {
		t.Errorf("Expected 2 frames, got %d", info.FramesProduced)
	}
	if info.Pipeline.StreamingWindows != 1 {
		t.Errorf("Expected 1 streaming window, got %d", info.Pipeline.StreamingWindows)
	}
}

func TestProcessAudioResamples(t *testing.T) {
	mgr, runner := newTestManager(t, createTestManagerConfig())
	defer mgr.Stop()

	start := protocol.NewStartPayload(48000, float32(math.NaN()), "avatar")
	if _, err := mgr.CreateSession(7, start, protocol.EncodingPCM16); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	// Output n reads input 3n, so 8320 samples at 48 kHz give 2774
	if _, err := mgr.ProcessAudio(context.Background(), 7, 0, protocol.EncodingPCM16, pcm16Silence(8320)); err != nil {
		t.Fatalf("ProcessAudio failed: %v", err)
	}

	session, _ := mgr.GetSession(7)
	if got := session.GetSessionInfo().Pipeline.BufferedSamples; got != 2774 {
		t.Errorf("Expected 2774 buffered samples, got %d", got)
	}
	if runner.Calls() != 0 {
		t.Errorf("Expected no inference, got %d calls", runner.Calls())
	}
}

func TestProcessAudioResamplesAcrossPackets(t *testing.T) {
	mgr, _ := newTestManager(t, createTestManagerConfig())
	defer mgr.Stop()

	start := protocol.NewStartPayload(22050, float32(math.NaN()), "avatar")
	if _, err := mgr.CreateSession(7, start, protocol.EncodingPCM16); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	// 20 packets of 512 resample like one 10240 sample stream. Per packet
	// rounding would lose 10 samples and give 7420.
	ctx := context.Background()
	for seq := uint32(0); seq < 20; seq++ {
		if _, err := mgr.ProcessAudio(ctx, 7, seq, protocol.EncodingPCM16, pcm16Silence(512)); err != nil {
			t.Fatalf("ProcessAudio(seq=%d) failed: %v", seq, err)
		}
	}

	session, _ := mgr.GetSession(7)
	if got := session.GetSessionInfo().Pipeline.BufferedSamples; got != 7430 {
		t.Errorf("Expected 7430 buffered samples, got %d", got)
	}
}

func TestProcessAudioTrimsBeforeResampling(t *testing.T) {
	config := createTestManagerConfig()
	config.MaxChunkSamples = 1000
	mgr, _ := newTestManager(t, config)
	defer mgr.Stop()

	start := protocol.NewStartPayload(48000, float32(math.NaN()), "avatar")
	if _, err := mgr.CreateSession(7, start, protocol.EncodingPCM16); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	// 1000 samples at 16 kHz is 3000 at 48 kHz
	if _, err := mgr.ProcessAudio(context.Background(), 7, 0, protocol.EncodingPCM16, pcm16Silence(6000)); err != nil {
		t.Fatalf("ProcessAudio failed: %v", err)
	}

	session, _ := mgr.GetSession(7)
	info := session.GetSessionInfo()
	if info.SamplesTrimmed != 3000 {
		t.Errorf("Expected 3000 trimmed samples, got %d", info.SamplesTrimmed)
	}
	if info.Pipeline.BufferedSamples != 1000 {
		t.Errorf("Expected 1000 buffered samples, got %d", info.Pipeline.BufferedSamples)
	}
}

func TestProcessAudioTrimsOversizedPackets(t *testing.T) {
	config := createTestManagerConfig()
	config.MaxChunkSamples = 1000
	mgr, _ := newTestManager(t, config)
	defer mgr.Stop()

	if _, err := mgr.CreateSession(7, createTestStartPayload("avatar"), protocol.EncodingPCM16); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	if _, err := mgr.ProcessAudio(context.Background(), 7, 0, protocol.EncodingPCM16, pcm16Silence(1500)); err != nil {
		t.Fatalf("ProcessAudio failed: %v", err)
	}

	session, _ := mgr.GetSession(7)
	info := session.GetSessionInfo()
	if info.SamplesTrimmed != 500 {
		t.Errorf("Expected 500 trimmed samples, got %d", info.SamplesTrimmed)
	}
	if info.Pipeline.BufferedSamples != 1000 {
		t.Errorf("Expected 1000 buffered samples, got %d", info.Pipeline.BufferedSamples)
	}
}

func TestProcessAudioSequenceGaps(t *testing.T) {
	mgr, _ := newTestManager(t, createTestManagerConfig())
	defer mgr.Stop()

	if _, err := mgr.CreateSession(7, createTestStartPayload("avatar"), protocol.EncodingPCM16); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	ctx := context.Background()
	for _, seq := range []uint32{0, 1, 4, 5, 3} {
		if _, err := mgr.ProcessAudio(ctx, 7, seq, protocol.EncodingPCM16, pcm16Silence(10)); err != nil {
			t.Fatalf("ProcessAudio(seq=%d) failed: %v", seq, err)
		}
	}

	session, _ := mgr.GetSession(7)
	info := session.GetSessionInfo()
	if info.SequenceGaps != 2 {
		t.Errorf("Expected 2 missing packets, got %d", info.SequenceGaps)
	}
	if info.LastSequence != 5 {
		t.Errorf("Expected last sequence 5, got %d", info.LastSequence)
	}
}

func TestProcessAudioSequenceWraps(t *testing.T) {
	tests := []struct {
		name     string
		seqs     []uint32
		wantGaps uint64
		wantLast uint32
	}{
		{"contiguous", []uint32{math.MaxUint32 - 1, math.MaxUint32, 0, 1}, 0, 1},
		{"gap across wrap", []uint32{math.MaxUint32 - 1, 1}, 2, 1},
		{"late before wrap", []uint32{math.MaxUint32, 0, math.MaxUint32}, 0, 0},
		{"duplicate", []uint32{5, 5, 6}, 0, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, _ := newTestManager(t, createTestManagerConfig())
			defer mgr.Stop()

			if _, err := mgr.CreateSession(7, createTestStartPayload("avatar"), protocol.EncodingPCM16); err != nil {
				t.Fatalf("Failed to create session: %v", err)
			}
			for _, seq := range tt.seqs {
				if _, err := mgr.ProcessAudio(context.Background(), 7, seq, protocol.EncodingPCM16, pcm16Silence(10)); err != nil {
					t.Fatalf("ProcessAudio(seq=%d) failed: %v", seq, err)
				}
			}

			session, _ := mgr.GetSession(7)
			info := session.GetSessionInfo()
			if info.SequenceGaps != tt.wantGaps {
				t.Errorf("Expected %d missing packets, got %d", tt.wantGaps, info.SequenceGaps)
			}
			if info.LastSequence != tt.wantLast {
				t.Errorf("Expected last sequence %d, got %d", tt.wantLast, info.LastSequence)
			}
			if info.PacketsReceived != uint64(len(tt.seqs)) {
				t.Errorf("Expected %d packets, got %d", len(tt.seqs), info.PacketsReceived)
			}
		})
	}
}

func TestProcessAudioErrors(t *testing.T) {
	mgr, runner := newTestManager(t, createTestManagerConfig())
	defer mgr.Stop()

	ctx := context.Background()

	_, err := mgr.ProcessAudio(ctx, 404, 0, protocol.EncodingPCM16, pcm16Silence(10))
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}

	if _, err := mgr.CreateSession(7, createTestStartPayload("avatar"), protocol.EncodingPCM16); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	// Odd byte count is not valid PCM16
	if _, err := mgr.ProcessAudio(ctx, 7, 0, protocol.EncodingPCM16, []byte{1, 2, 3}); err == nil {
		t.Error("Expected decode error for truncated PCM16 payload")
	}

	inferErr := errors.New("model exploded")
	runner.Err = inferErr
	_, err = mgr.ProcessAudio(ctx, 7, 1, protocol.EncodingPCM16, pcm16Silence(audio.WindowSize))
	if !errors.Is(err, inferErr) {
		t.Errorf("Expected inference error, got %v", err)
	}

	session, _ := mgr.GetSession(7)
	info := session.GetSessionInfo()
	if info.Failures != 1 {
		t.Errorf("Expected 1 failure, got %d", info.Failures)
	}
	if info.Pipeline.BufferedSamples != 0 {
		t.Errorf("Expected failed chunk to be discarded, got %d buffered samples", info.Pipeline.BufferedSamples)
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	config := createTestManagerConfig()
	config.Timeout = 50 * time.Millisecond
	mgr, _ := newTestManager(t, config)
	defer mgr.Stop()

	if _, err := mgr.CreateSession(1, createTestStartPayload("stale"), protocol.EncodingPCM16); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	fresh, err := mgr.CreateSession(2, createTestStartPayload("fresh"), protocol.EncodingPCM16)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	fresh.mu.Lock()
	fresh.LastActivity = time.Now()
	fresh.mu.Unlock()

	mgr.cleanupExpiredSessions()

	if _, exists := mgr.GetSession(1); exists {
		t.Error("Expected expired session to be removed")
	}
	if _, exists := mgr.GetSession(2); !exists {
		t.Error("Expected active session to survive cleanup")
	}
}

func TestCleanupRoutine(t *testing.T) {
	config := createTestManagerConfig()
	config.Timeout = 20 * time.Millisecond
	config.CleanupInterval = 10 * time.Millisecond
	mgr, _ := newTestManager(t, config)
	defer mgr.Stop()

	if _, err := mgr.CreateSession(1, createTestStartPayload("stale"), protocol.EncodingPCM16); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for mgr.GetActiveSessionCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if mgr.GetActiveSessionCount() != 0 {
		t.Error("Expected cleanup routine to expire the session")
	}
}

func TestGetAllSessions(t *testing.T) {
	mgr, _ := newTestManager(t, createTestManagerConfig())
	defer mgr.Stop()

	for _, id := range []uint32{1, 2, 3} {
		if _, err := mgr.CreateSession(id, createTestStartPayload("avatar"), protocol.EncodingPCM16); err != nil {
			t.Fatalf("Failed to create session %d: %v", id, err)
		}
	}

	sessions := mgr.GetAllSessions()
	if len(sessions) != 3 {
		t.Errorf("Expected 3 sessions, got %d", len(sessions))
	}
}

func TestConcurrentSessions(t *testing.T) {
	mgr, _ := newTestManager(t, createTestManagerConfig())
	defer mgr.Stop()

	const numGoroutines = 10
	const sessionsPerGoroutine = 10

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := 0; j < sessionsPerGoroutine; j++ {
				streamID := uint32(base*sessionsPerGoroutine + j)
				if _, err := mgr.CreateSession(streamID, createTestStartPayload("avatar"), protocol.EncodingPCM16); err != nil {
					t.Errorf("Failed to create session %d: %v", streamID, err)
					continue
				}
				if _, err := mgr.ProcessAudio(context.Background(), streamID, 0, protocol.EncodingPCM16, pcm16Silence(160)); err != nil {
					t.Errorf("ProcessAudio on %d failed: %v", streamID, err)
				}
			}
		}(i)
	}
	wg.Wait()

	expected := numGoroutines * sessionsPerGoroutine
	if mgr.GetActiveSessionCount() != expected {
		t.Errorf("Expected %d active sessions, got %d", expected, mgr.GetActiveSessionCount())
	}
}

func TestStopDisposesSessions(t *testing.T) {
	mgr, runner := newTestManager(t, createTestManagerConfig())

	session, err := mgr.CreateSession(1, createTestStartPayload("avatar"), protocol.EncodingPCM16)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	mgr.Stop()

	if mgr.GetActiveSessionCount() != 0 {
		t.Errorf("Expected 0 sessions after Stop, got %d", mgr.GetActiveSessionCount())
	}
	if session.pipeline.Ready() {
		t.Error("Expected pipeline to be disposed on Stop")
	}
	if runner.Closed() != 0 {
		t.Error("Expected Stop to leave the shared runner open")
	}
}
