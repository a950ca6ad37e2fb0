package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AnEntrypoint/A2F/internal/audio"
	"github.com/AnEntrypoint/A2F/internal/blendshape"
	"github.com/AnEntrypoint/A2F/internal/inference"
	"github.com/AnEntrypoint/A2F/internal/metrics"
	"github.com/AnEntrypoint/A2F/internal/pipeline"
	"github.com/AnEntrypoint/A2F/internal/protocol"
)

var (
	// ErrSessionNotFound is returned for audio on a stream that was never started
	ErrSessionNotFound = errors.New("stream session not found")
	// ErrTooManySessions is returned when max_concurrent_streams is reached
	ErrTooManySessions = errors.New("too many concurrent streams")
	// ErrSessionExists is returned by CreateExclusiveSession for a live stream
	ErrSessionExists = errors.New("stream session already exists")
)

// StreamSession is one client stream with its own pipeline
type StreamSession struct {
	ID           uint32
	ClientID     string
	SampleRate   int
	Encoding     uint8
	StartTime    time.Time
	LastActivity time.Time

	pipeline        *pipeline.Pipeline
	resampler       *audio.StreamResampler // nil at 16 kHz
	maxChunkSamples int
	metrics         *metrics.Metrics
	logger          *slog.Logger

	// Packet tracking
	packetsReceived uint64
	lastSequence    uint32
	sequenceGaps    uint64
	samplesTrimmed  uint64

	// Output tracking
	framesProduced uint64
	failures       uint64

	// Thread safety
	mu sync.RWMutex
}

// Manager manages all active stream sessions
type Manager struct {
	sessions map[uint32]*StreamSession
	mu       sync.RWMutex
	logger   *slog.Logger
	metrics  *metrics.Metrics
	runner   inference.Runner
	config   ManagerConfig

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// ManagerConfig contains configuration for the stream manager
type ManagerConfig struct {
	Timeout         time.Duration // idle time before a session expires
	CleanupInterval time.Duration // how often expiry runs, default 30s
	MaxSessions     int           // 0 means unlimited
	MaxChunkSamples int           // newest samples kept per packet, 0 means unlimited
	Pipeline        pipeline.Config
}

// NewManager creates a stream manager. Every session shares runner; the
// manager never closes it.
func NewManager(logger *slog.Logger, runner inference.Runner, m *metrics.Metrics, config ManagerConfig) (*Manager, error) {
	if runner == nil {
		return nil, fmt.Errorf("inference runner cannot be nil")
	}
	if config.Timeout <= 0 {
		return nil, fmt.Errorf("stream timeout must be positive, got %v", config.Timeout)
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions: make(map[uint32]*StreamSession),
		logger:   logger,
		metrics:  m,
		runner:   inference.Shared(runner),
		config:   config,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	// Start cleanup goroutine
	go mgr.startCleanupRoutine()

	return mgr, nil
}

// CreateSession opens a stream. Starting a stream that already exists
// updates its parameters and keeps its audio.
func (m *Manager) CreateSession(streamID uint32, start *protocol.StartPayload, encoding uint8) (*StreamSession, error) {
	return m.createSession(streamID, start, encoding, false)
}

// CreateExclusiveSession opens a stream only if it does not exist yet and
// returns ErrSessionExists otherwise. The check and the insert happen under
// one lock.
func (m *Manager) CreateExclusiveSession(streamID uint32, start *protocol.StartPayload, encoding uint8) (*StreamSession, error) {
	return m.createSession(streamID, start, encoding, true)
}

func (m *Manager) createSession(streamID uint32, start *protocol.StartPayload, encoding uint8, exclusive bool) (*StreamSession, error) {
	sampleRate := int(start.SampleRate)
	if sampleRate == 0 {
		sampleRate = audio.SampleRate
	}
	if err := audio.ValidateSampleRate(sampleRate); err != nil {
		return nil, err
	}
	if encoding == protocol.EncodingNone {
		encoding = protocol.EncodingPCM16
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Check if session already exists
	if existing, exists := m.sessions[streamID]; exists {
		if exclusive {
			return nil, fmt.Errorf("%w: %d", ErrSessionExists, streamID)
		}
		m.logger.Warn("Session already exists, updating parameters",
			slog.Uint64("stream_id", uint64(streamID)),
			slog.String("existing_client", existing.ClientID),
			slog.String("new_client", start.GetClientID()),
		)

		existing.mu.Lock()
		existing.ClientID = start.GetClientID()
		if existing.SampleRate != sampleRate {
			existing.SampleRate = sampleRate
			existing.resampler = newResampler(sampleRate)
		}
		existing.Encoding = encoding
		existing.LastActivity = time.Now()
		if f, ok := start.Smoothing(); ok {
			existing.pipeline.SetSmoothingFactor(f)
		}
		existing.mu.Unlock()

		return existing, nil
	}

	if m.config.MaxSessions > 0 && len(m.sessions) >= m.config.MaxSessions {
		return nil, fmt.Errorf("%w: limit is %d", ErrTooManySessions, m.config.MaxSessions)
	}

	logger := m.logger.With(slog.Uint64("stream_id", uint64(streamID)))

	p, err := pipeline.New(m.config.Pipeline, logger, m.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	p.Attach(m.runner)
	if f, ok := start.Smoothing(); ok {
		p.SetSmoothingFactor(f)
	}

	now := time.Now()
	session := &StreamSession{
		ID:              streamID,
		ClientID:        start.GetClientID(),
		SampleRate:      sampleRate,
		Encoding:        encoding,
		StartTime:       now,
		LastActivity:    now,
		pipeline:        p,
		resampler:       newResampler(sampleRate),
		maxChunkSamples: m.config.MaxChunkSamples,
		metrics:         m.metrics,
		logger:          logger,
	}

	m.sessions[streamID] = session
	m.metrics.RecordStreamCreated()
	m.metrics.SetActiveStreams(len(m.sessions))

	m.logger.Info("Created new stream session",
		slog.Uint64("stream_id", uint64(streamID)),
		slog.String("client_id", session.ClientID),
		slog.Int("sample_rate", sampleRate),
		slog.String("encoding", protocol.EncodingName(encoding)),
		slog.Float64("smoothing_factor", float64(p.SmoothingFactor())),
	)

	return session, nil
}

func newResampler(sampleRate int) *audio.StreamResampler {
	if sampleRate == audio.SampleRate {
		return nil
	}
	return audio.NewStreamResampler(sampleRate, audio.SampleRate)
}

// GetSession retrieves an existing stream session
func (m *Manager) GetSession(streamID uint32) (*StreamSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[streamID]
	return session, exists
}

// ProcessAudio routes an audio payload to its session
func (m *Manager) ProcessAudio(ctx context.Context, streamID, sequence uint32, encoding uint8, data []byte) (blendshape.Frame, error) {
	session, ok := m.GetSession(streamID)
	if !ok {
		return blendshape.Frame{}, fmt.Errorf("%w: %d", ErrSessionNotFound, streamID)
	}
	return session.ProcessAudio(ctx, sequence, encoding, data)
}

// GetActiveSessionCount returns the number of currently active sessions
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns a snapshot of all active sessions (for monitoring)
func (m *Manager) GetAllSessions() []*StreamSession {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*StreamSession, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}

	return sessions
}

// RemoveSession removes a stream session and disposes its pipeline
func (m *Manager) RemoveSession(streamID uint32) bool {
	m.mu.Lock()
	session, exists := m.sessions[streamID]
	if exists {
		delete(m.sessions, streamID)
		m.metrics.SetActiveStreams(len(m.sessions))
	}
	m.mu.Unlock()

	if !exists {
		return false
	}

	m.finalizeSession(session)
	return true
}

func (m *Manager) finalizeSession(session *StreamSession) {
	session.mu.Lock()
	err := session.pipeline.Dispose()
	duration := time.Since(session.StartTime)
	frames, failures, gaps := session.framesProduced, session.failures, session.sequenceGaps
	session.mu.Unlock()

	if err != nil {
		m.logger.Warn("Error disposing stream pipeline",
			slog.Uint64("stream_id", uint64(session.ID)),
			slog.String("error", err.Error()),
		)
	}
	m.metrics.RecordStreamDestroyed(duration.Seconds())

	m.logger.Info("Stream session removed",
		slog.Uint64("stream_id", uint64(session.ID)),
		slog.String("client_id", session.ClientID),
		slog.Duration("duration", duration),
		slog.Uint64("frames_produced", frames),
		slog.Uint64("failures", failures),
		slog.Uint64("sequence_gaps", gaps),
	)
}

// Stop removes every session and stops the cleanup routine
func (m *Manager) Stop() {
	m.logger.Info("Stopping stream manager...")

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[uint32]*StreamSession)
	m.metrics.SetActiveStreams(0)
	m.mu.Unlock()

	for _, session := range sessions {
		m.finalizeSession(session)
	}

	// Cancel context to stop cleanup routine
	m.cancel()

	// Wait for cleanup routine to finish
	<-m.cleanup

	m.logger.Info("Stream manager stopped",
		slog.Int("closed_sessions", len(sessions)),
	)
}

// startCleanupRoutine runs in a separate goroutine to clean up expired sessions
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	m.logger.Info("Stream cleanup routine started",
		slog.Duration("timeout", m.config.Timeout),
		slog.Duration("check_interval", m.config.CleanupInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Stream cleanup routine stopping")
			return

		case <-ticker.C:
			m.cleanupExpiredSessions()
		}
	}
}

// cleanupExpiredSessions removes sessions that have been inactive for too long
func (m *Manager) cleanupExpiredSessions() {
	now := time.Now()
	expiredSessions := make([]uint32, 0)

	// Find expired sessions
	m.mu.RLock()
	for streamID, session := range m.sessions {
		session.mu.RLock()
		lastActivity := session.LastActivity
		session.mu.RUnlock()

		if now.Sub(lastActivity) > m.config.Timeout {
			expiredSessions = append(expiredSessions, streamID)
		}
	}
	m.mu.RUnlock()

	// Remove expired sessions
	if len(expiredSessions) > 0 {
		m.logger.Info("Cleaning up expired sessions",
			slog.Int("expired_count", len(expiredSessions)),
		)

		for _, streamID := range expiredSessions {
			m.RemoveSession(streamID)
		}
	}
}

// ProcessAudio decodes one audio payload, brings it to 16 kHz and feeds it
// to the session pipeline. EncodingNone uses the encoding from Start.
// Calls on one session are serialised.
func (s *StreamSession) ProcessAudio(ctx context.Context, sequence uint32, encoding uint8, data []byte) (blendshape.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.LastActivity = time.Now()
	s.trackSequence(sequence)

	if encoding == protocol.EncodingNone {
		encoding = s.Encoding
	}
	samples, err := protocol.DecodeSamples(encoding, data)
	if err != nil {
		return blendshape.Frame{}, fmt.Errorf("failed to decode audio payload: %w", err)
	}

	// Trim at the client rate so an oversized packet is never resampled
	if s.maxChunkSamples > 0 {
		maxIn := s.maxChunkSamples * s.SampleRate / audio.SampleRate
		if maxIn < 1 {
			maxIn = 1
		}
		if len(samples) > maxIn {
			trimmed := len(samples) - maxIn
			samples = samples[trimmed:]
			s.samplesTrimmed += uint64(trimmed)
			// The kept audio is not contiguous with the last packet
			if s.resampler != nil {
				s.resampler.Reset()
			}
			s.logger.Debug("Trimmed oversized audio packet",
				slog.Uint64("sequence", uint64(sequence)),
				slog.Int("trimmed_samples", trimmed),
			)
		}
	}

	if s.resampler != nil {
		samples = s.resampler.Process(samples)
	}
	if s.maxChunkSamples > 0 && len(samples) > s.maxChunkSamples {
		samples = samples[len(samples)-s.maxChunkSamples:]
	}

	frame, err := s.pipeline.ProcessChunk(ctx, samples)
	if err != nil {
		s.failures++
		return blendshape.Frame{}, err
	}
	s.framesProduced++
	return frame, nil
}

// trackSequence counts packets missing between consecutive sequence numbers.
// Sequence numbers wrap, so ordering uses serial number arithmetic: a packet
// is ahead when it is less than half the sequence space past the last one.
// Must be called with s.mu held.
func (s *StreamSession) trackSequence(sequence uint32) {
	defer func() { s.packetsReceived++ }()

	if s.packetsReceived == 0 {
		s.lastSequence = sequence
		return
	}

	diff := sequence - s.lastSequence
	if diff == 0 || diff >= 1<<31 {
		// duplicate or late
		return
	}
	if missing := diff - 1; missing > 0 {
		s.sequenceGaps += uint64(missing)
		s.metrics.RecordSequenceGap(missing)
		s.logger.Debug("Sequence gap detected",
			slog.Uint64("expected", uint64(s.lastSequence+1)),
			slog.Uint64("received", uint64(sequence)),
		)
	}
	s.lastSequence = sequence
}

// SetSmoothingFactor changes the smoothing factor for future frames
func (s *StreamSession) SetSmoothingFactor(f float32) {
	s.pipeline.SetSmoothingFactor(f)
}

// GetSessionInfo returns a snapshot for monitoring and APIs
func (s *StreamSession) GetSessionInfo() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SessionInfo{
		StreamID:        s.ID,
		ClientID:        s.ClientID,
		SampleRate:      s.SampleRate,
		Encoding:        protocol.EncodingName(s.Encoding),
		StartTime:       s.StartTime,
		LastActivity:    s.LastActivity,
		Duration:        time.Since(s.StartTime),
		PacketsReceived: s.packetsReceived,
		LastSequence:    s.lastSequence,
		SequenceGaps:    s.sequenceGaps,
		SamplesTrimmed:  s.samplesTrimmed,
		FramesProduced:  s.framesProduced,
		Failures:        s.failures,
		Pipeline:        s.pipeline.GetStats(),
	}
}

// SessionInfo represents session information for monitoring and APIs
type SessionInfo struct {
	StreamID        uint32         `json:"stream_id"`
	ClientID        string         `json:"client_id"`
	SampleRate      int            `json:"sample_rate"`
	Encoding        string         `json:"encoding"`
	StartTime       time.Time      `json:"start_time"`
	LastActivity    time.Time      `json:"last_activity"`
	Duration        time.Duration  `json:"duration"`
	PacketsReceived uint64         `json:"packets_received"`
	LastSequence    uint32         `json:"last_sequence"`
	SequenceGaps    uint64         `json:"sequence_gaps"`
	SamplesTrimmed  uint64         `json:"samples_trimmed"`
	FramesProduced  uint64         `json:"frames_produced"`
	Failures        uint64         `json:"failures"`
	Pipeline        pipeline.Stats `json:"pipeline"`
}
