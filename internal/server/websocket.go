package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/asr-probe/internal/audio"
	"github.com/skypro1111/asr-probe/internal/metrics"
	"github.com/skypro1111/asr-probe/internal/protocol"
	"github.com/skypro1111/asr-probe/internal/vad"
)

// closeWait bounds how long a session waits for the client's close reply
const closeWait = 5 * time.Second

// WebSocketConfig contains the streaming endpoint configuration
type WebSocketConfig struct {
	Address         string
	Path            string
	PartialEvery    int // voiced chunks between partial results
	MaxMessageSize  int64
	ResponseLatency time.Duration // delay before the final result
	VADThreshold    float32
}

// streamResult is a result message in the format of the recognition service
type streamResult struct {
	Mode    string `json:"mode"`
	Text    string `json:"text"`
	WavName string `json:"wav_name"`
	IsFinal bool   `json:"is_final"`
}

// errorMessage carries no text so clients treat it as a control message
type errorMessage struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// WebSocketServer is the mock streaming recognition endpoint
type WebSocketServer struct {
	server     *http.Server
	listener   net.Listener
	upgrader   websocket.Upgrader
	config     WebSocketConfig
	logger     *slog.Logger
	registry   *Registry
	recognizer *Recognizer
	metrics    *metrics.Metrics

	// Hijacked connections are not tracked by http.Server
	wg      sync.WaitGroup
	conns   map[*websocket.Conn]struct{}
	connMu  sync.Mutex
	stopped bool
}

// NewWebSocketServer creates the streaming endpoint
func NewWebSocketServer(cfg WebSocketConfig, logger *slog.Logger, registry *Registry, recognizer *Recognizer, m *metrics.Metrics) *WebSocketServer {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.PartialEvery < 1 {
		cfg.PartialEvery = 1
	}

	s := &WebSocketServer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The service under test accepts any origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		config:     cfg,
		logger:     logger.With(slog.String("component", "websocket")),
		registry:   registry,
		recognizer: recognizer,
		metrics:    m,
		conns:      make(map[*websocket.Conn]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, s.handleUpgrade)

	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Start begins accepting WebSocket connections
func (s *WebSocketServer) Start() error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	s.listener = listener

	s.logger.Info("WebSocket server started",
		slog.String("address", listener.Addr().String()),
		slog.String("path", s.config.Path),
		slog.Int("partial_every", s.config.PartialEvery))

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("WebSocket server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound listener address
func (s *WebSocketServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// URL returns the ws:// URL clients should dial
func (s *WebSocketServer) URL() string {
	return fmt.Sprintf("ws://%s%s", s.Addr(), s.config.Path)
}

// Stop shuts the HTTP server down and closes open sessions
func (s *WebSocketServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping WebSocket server...")

	err := s.server.Shutdown(ctx)

	s.connMu.Lock()
	s.stopped = true
	for conn := range s.conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()

	s.logger.Info("WebSocket server stopped")

	return err
}

func (s *WebSocketServer) track(conn *websocket.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.stopped {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *WebSocketServer) untrack(conn *websocket.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
	s.wg.Done()
}

func (s *WebSocketServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error
		s.logger.Warn("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}

	if !s.track(conn) {
		conn.Close()
		return
	}
	defer s.untrack(conn)
	defer conn.Close()

	if s.config.MaxMessageSize > 0 {
		conn.SetReadLimit(s.config.MaxMessageSize)
	}

	session, err := s.registry.Create("websocket", r.RemoteAddr)
	if err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		return
	}
	defer s.registry.Finish(session.ID)

	s.serveSession(conn, session)
}

// serveSession handles client messages in order until the end signal or a
// read error
func (s *WebSocketServer) serveSession(conn *websocket.Conn, session *Session) {
	logger := s.logger.With(slog.String("session_id", session.ID))

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Session ended unexpectedly", slog.String("error", err.Error()))
			} else {
				logger.Debug("Session ended", slog.String("reason", err.Error()))
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			s.metrics.RecordFrameReceived("audio", len(data))
			session.record(MessageAudio, len(data))
			if err := s.handleAudio(conn, session, data); err != nil {
				logger.Warn("Failed to answer audio chunk", slog.String("error", err.Error()))
				return
			}

		case websocket.TextMessage:
			kind, start, parseErr := protocol.ParseControl(data)
			switch kind {
			case protocol.ControlStart:
				s.metrics.RecordFrameReceived("start", len(data))
				session.record(MessageStart, len(data))
				if !session.begin(start) {
					err = s.sendError(conn, session, "duplicate start signal")
					break
				}
				logger.Info("Session started",
					slog.String("mode", string(start.Mode)),
					slog.String("wav_name", start.WavName))

			case protocol.ControlEnd:
				s.metrics.RecordFrameReceived("end", len(data))
				session.record(MessageEnd, len(data))
				if session.Start() == nil {
					err = s.sendError(conn, session, "end signal before start signal")
					break
				}
				s.finish(conn, session, logger)
				return

			default:
				s.metrics.RecordFrameReceived("other", len(data))
				session.record(MessageOther, len(data))
				reason := "unrecognized control message"
				if parseErr != nil {
					reason = parseErr.Error()
				}
				err = s.sendError(conn, session, reason)
			}

			if err != nil {
				logger.Warn("Failed to answer control message", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// handleAudio stores a chunk and emits a partial every PartialEvery voiced chunks
func (s *WebSocketServer) handleAudio(conn *websocket.Conn, session *Session, data []byte) error {
	start := session.Start()
	if start == nil {
		return s.sendError(conn, session, "audio before start signal")
	}

	if err := session.recorder.Append(data); err != nil {
		return s.sendError(conn, session, err.Error())
	}

	if vad.Energy(audio.Samples(data)) < s.config.VADThreshold {
		return nil
	}

	if session.addVoiced()%s.config.PartialEvery != 0 {
		return nil
	}

	recognition, err := s.recognizer.Recognize(session.Audio())
	if err != nil {
		return s.sendError(conn, session, err.Error())
	}

	return s.sendResult(conn, session, streamResult{
		Mode:    onlineMode(start.Mode),
		Text:    recognition.Text,
		WavName: start.WavName,
		IsFinal: false,
	})
}

// finish sends the final result and closes the session normally
func (s *WebSocketServer) finish(conn *websocket.Conn, session *Session, logger *slog.Logger) {
	start := session.Start()

	if s.config.ResponseLatency > 0 {
		time.Sleep(s.config.ResponseLatency)
	}

	recognition, err := s.recognizer.Recognize(session.Audio())
	if err != nil {
		s.sendError(conn, session, err.Error())
	} else {
		err = s.sendResult(conn, session, streamResult{
			Mode:    offlineMode(start.Mode),
			Text:    recognition.Text,
			WavName: start.WavName,
			IsFinal: true,
		})
		if err != nil {
			logger.Warn("Failed to send final result", slog.String("error", err.Error()))
			return
		}
	}

	logger.Info("Final result sent",
		slog.String("text", recognition.Text),
		slog.Float64("audio_seconds", recognition.Duration.Seconds()))

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))

	// Wait for the client to answer the close frame
	conn.SetReadDeadline(time.Now().Add(closeWait))
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (s *WebSocketServer) sendResult(conn *websocket.Conn, session *Session, result streamResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	kind := "partial"
	if result.IsFinal {
		kind = "final"
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}

	session.countSent(kind)
	s.metrics.RecordResultSent(kind)
	return nil
}

func (s *WebSocketServer) sendError(conn *websocket.Conn, session *Session, reason string) error {
	data, err := json.Marshal(errorMessage{Success: false, Error: reason})
	if err != nil {
		return fmt.Errorf("failed to encode error message: %w", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}

	session.countSent("error")
	s.metrics.RecordResultSent("error")
	return nil
}

// onlineMode and offlineMode name the pass that produced a result
func onlineMode(mode protocol.Mode) string {
	if mode == protocol.Mode2Pass {
		return "2pass-online"
	}
	return string(mode)
}

func offlineMode(mode protocol.Mode) string {
	if mode == protocol.Mode2Pass {
		return "2pass-offline"
	}
	return string(mode)
}
