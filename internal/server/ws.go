package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AnEntrypoint/A2F/internal/audio"
	"github.com/AnEntrypoint/A2F/internal/protocol"
	"github.com/AnEntrypoint/A2F/internal/stream"
)

const wsWriteTimeout = 5 * time.Second

// WebSocketHandler carries the binary packet protocol over WebSocket. Each
// message is one packet; the first must be Start. A connection may only
// touch streams it started, and they are removed when it closes.
type WebSocketHandler struct {
	upgrader  websocket.Upgrader
	handler   *PacketHandler
	streamMgr *stream.Manager
	logger    *slog.Logger

	mu          sync.Mutex
	connections int
}

// NewWebSocketHandler creates a WebSocket endpoint on top of a packet handler
func NewWebSocketHandler(handler *PacketHandler, streamMgr *stream.Manager, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  protocol.MaxPacketSize,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		handler:   handler,
		streamMgr: streamMgr,
		logger:    logger,
	}
}

// Connections returns the number of open WebSocket connections
func (h *WebSocketHandler) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connections
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	conn.SetReadLimit(protocol.MaxPacketSize)

	h.mu.Lock()
	h.connections++
	h.mu.Unlock()

	logger := h.logger.With(slog.String("remote_addr", r.RemoteAddr))
	logger.Info("WebSocket client connected")

	owned := make(map[uint32]struct{})
	defer func() {
		for streamID := range owned {
			h.streamMgr.RemoveSession(streamID)
		}
		conn.Close()

		h.mu.Lock()
		h.connections--
		h.mu.Unlock()

		logger.Info("WebSocket client disconnected", slog.Int("streams_closed", len(owned)))
	}()

	if err := h.serve(r.Context(), conn, owned, logger); err != nil {
		logger.Warn("WebSocket connection closed with error", slog.String("error", err.Error()))
	}
}

func (h *WebSocketHandler) serve(ctx context.Context, conn *websocket.Conn, owned map[uint32]struct{}, logger *slog.Logger) error {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		if msgType != websocket.BinaryMessage {
			return closeWith(conn, websocket.CloseUnsupportedData, "packets must be binary messages")
		}

		header, err := protocol.ParseHeader(data)
		if err != nil {
			return closeWith(conn, websocket.CloseProtocolError, err.Error())
		}

		handle := h.handler.Handle
		if _, ok := owned[header.StreamID]; !ok {
			if header.PacketType != protocol.PacketTypeStart {
				return closeWith(conn, websocket.CloseProtocolError,
					fmt.Sprintf("stream %d must begin with a start packet", header.StreamID))
			}
			// Claiming a stream must not take over another connection's session
			handle = h.handler.HandleExclusive
		}

		result, err := handle(ctx, data)
		if result == nil {
			return closeWith(conn, websocket.CloseProtocolError, err.Error())
		}

		switch result.Header.PacketType {
		case protocol.PacketTypeStart:
			if err == nil {
				owned[header.StreamID] = struct{}{}
			}
		case protocol.PacketTypeStop:
			delete(owned, header.StreamID)
		}

		if err != nil {
			if errors.Is(err, stream.ErrSessionExists) {
				return closeWith(conn, websocket.ClosePolicyViolation,
					fmt.Sprintf("stream %d is in use", header.StreamID))
			}
			if errors.Is(err, ErrUnexpectedPacket) || errors.Is(err, stream.ErrTooManySessions) ||
				errors.Is(err, audio.ErrInvalidSampleRate) {
				return closeWith(conn, websocket.ClosePolicyViolation, err.Error())
			}
			// The stream survives a failed chunk
			logger.Warn("Failed to handle packet",
				slog.Uint64("stream_id", uint64(header.StreamID)),
				slog.String("packet_type", protocol.PacketTypeName(header.PacketType)),
				slog.String("error", err.Error()),
			)
			continue
		}

		if result.Reply != nil {
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, result.Reply); err != nil {
				return fmt.Errorf("failed to write frame: %w", err)
			}
		}
	}
}

// closeWith sends a close frame and returns the reason as an error
func closeWith(conn *websocket.Conn, code int, reason string) error {
	// Close reasons are limited to 123 bytes
	if len(reason) > 123 {
		reason = reason[:123]
	}
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
	return errors.New(reason)
}
