package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/asr-probe/internal/metrics"
	"github.com/skypro1111/asr-probe/internal/protocol"
)

// FramedConfig contains the length-prefixed TCP listener configuration
type FramedConfig struct {
	Address         string
	MaxRequestSize  int
	ResponseLatency time.Duration
}

// FramedResponse is the JSON payload of a response frame
type FramedResponse struct {
	Success     bool    `json:"success"`
	Text        string  `json:"text"`
	IsFinal     bool    `json:"is_final"`
	Duration    float64 `json:"duration"`
	VoicedRatio float64 `json:"voiced_ratio"`
	RequestID   string  `json:"request_id"`
	Error       string  `json:"error,omitempty"`
}

// FramedServer answers each request frame with one JSON response frame
type FramedServer struct {
	listener   net.Listener
	config     FramedConfig
	logger     *slog.Logger
	registry   *Registry
	recognizer *Recognizer
	metrics    *metrics.Metrics

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	conns  map[net.Conn]struct{}
	connMu sync.Mutex

	// Statistics
	connectionsAccepted uint64
	requestsReceived    uint64
	requestsProcessed   uint64
	frameErrors         uint64
	mu                  sync.RWMutex
}

// FramedStatistics represents framed listener statistics
type FramedStatistics struct {
	ConnectionsAccepted uint64 `json:"connections_accepted"`
	RequestsReceived    uint64 `json:"requests_received"`
	RequestsProcessed   uint64 `json:"requests_processed"`
	FrameErrors         uint64 `json:"frame_errors"`
	OpenConnections     int    `json:"open_connections"`
}

// NewFramedServer creates a new framed TCP server
func NewFramedServer(cfg FramedConfig, logger *slog.Logger, registry *Registry, recognizer *Recognizer, m *metrics.Metrics) *FramedServer {
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = protocol.DefaultMaxFrameSize
	}

	return &FramedServer{
		config:     cfg,
		logger:     logger.With(slog.String("component", "framed")),
		registry:   registry,
		recognizer: recognizer,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
		conns:      make(map[net.Conn]struct{}),
	}
}

// Start begins accepting connections
func (s *FramedServer) Start() error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	s.listener = listener

	s.logger.Info("Framed server started",
		slog.String("address", listener.Addr().String()),
		slog.Int("max_request_size", s.config.MaxRequestSize))

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the bound listener address
func (s *FramedServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every open connection
func (s *FramedServer) Stop() error {
	s.logger.Info("Stopping framed server...")

	s.cancel()

	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.logger.Warn("Error closing listener", slog.String("error", err.Error()))
		}
	}

	s.connMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()

	stats := s.GetStatistics()
	s.logger.Info("Framed server stopped",
		slog.Uint64("connections_accepted", stats.ConnectionsAccepted),
		slog.Uint64("requests_received", stats.RequestsReceived),
		slog.Uint64("requests_processed", stats.RequestsProcessed),
		slog.Uint64("frame_errors", stats.FrameErrors))

	return nil
}

// acceptLoop is the main connection accepting loop
func (s *FramedServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}

			if errors.Is(err, net.ErrClosed) {
				return
			}

			s.logger.Error("Failed to accept connection", slog.String("error", err.Error()))
			continue
		}

		if !s.track(conn) {
			conn.Close()
			return
		}

		s.mu.Lock()
		s.connectionsAccepted++
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *FramedServer) track(conn net.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.ctx.Err() != nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *FramedServer) untrack(conn net.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
}

// handleConn serves request frames until the client disconnects
func (s *FramedServer) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	remote := conn.RemoteAddr().String()

	session, err := s.registry.Create("framed", remote)
	if err != nil {
		s.logger.Warn("Rejecting connection", slog.String("remote_addr", remote), slog.String("error", err.Error()))
		s.writeResponse(conn, FramedResponse{Success: false, Error: err.Error(), RequestID: uuid.NewString()})
		return
	}
	defer s.registry.Finish(session.ID)

	logger := s.logger.With(slog.String("session_id", session.ID))

	for {
		payload, err := protocol.ReadFrame(conn, s.config.MaxRequestSize)
		if err != nil {
			s.handleReadError(conn, logger, err)
			return
		}

		s.mu.Lock()
		s.requestsReceived++
		s.mu.Unlock()

		session.record(MessageAudio, len(payload))
		s.metrics.RecordFrameReceived("request", len(payload))

		response := s.respond(session, payload)

		if s.config.ResponseLatency > 0 {
			select {
			case <-time.After(s.config.ResponseLatency):
			case <-s.ctx.Done():
				return
			}
		}

		if err := s.writeResponse(conn, response); err != nil {
			logger.Warn("Failed to write response", slog.String("error", err.Error()))
			return
		}

		if response.Success {
			session.countSent("final")
		} else {
			session.countSent("error")
		}

		s.mu.Lock()
		s.requestsProcessed++
		s.mu.Unlock()

		logger.Debug("Request processed",
			slog.String("request_id", response.RequestID),
			slog.Int("audio_size", len(payload)),
			slog.Bool("success", response.Success),
			slog.String("text", response.Text))
	}
}

// handleReadError logs why the read loop ended and answers oversized frames
func (s *FramedServer) handleReadError(conn net.Conn, logger *slog.Logger, err error) {
	switch {
	case s.ctx.Err() != nil:
	case errors.Is(err, protocol.ErrShortHeader):
		// Clean disconnect between frames
		logger.Debug("Client disconnected", slog.String("reason", err.Error()))
	case errors.Is(err, protocol.ErrFrameTooLarge):
		s.countFrameError()
		logger.Warn("Request too large", slog.String("error", err.Error()))
		s.writeResponse(conn, FramedResponse{Success: false, Error: err.Error(), RequestID: uuid.NewString()})
	case errors.Is(err, protocol.ErrTruncatedFrame):
		s.countFrameError()
		logger.Warn("Truncated request", slog.String("error", err.Error()))
	default:
		s.countFrameError()
		logger.Warn("Failed to read request", slog.String("error", err.Error()))
	}
}

// respond builds the response for one request payload
func (s *FramedServer) respond(session *Session, payload []byte) FramedResponse {
	response := FramedResponse{RequestID: uuid.NewString()}

	if len(payload) == 0 {
		response.Error = "empty audio"
		return response
	}

	if err := session.recorder.Append(payload); err != nil {
		response.Error = err.Error()
		return response
	}

	recognition, err := s.recognizer.Recognize(payload)
	if err != nil {
		response.Error = err.Error()
		return response
	}

	if recognition.HasVoice() {
		session.addVoiced()
	}

	response.Success = true
	response.Text = recognition.Text
	response.IsFinal = true
	response.Duration = recognition.Duration.Seconds()
	response.VoicedRatio = recognition.VoicedRatio

	return response
}

func (s *FramedServer) writeResponse(conn net.Conn, response FramedResponse) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}

	kind := "final"
	if !response.Success {
		kind = "error"
	}
	s.metrics.RecordResultSent(kind)

	return protocol.WriteFrame(conn, data)
}

func (s *FramedServer) countFrameError() {
	s.mu.Lock()
	s.frameErrors++
	s.mu.Unlock()
}

// GetStatistics returns current server statistics
func (s *FramedServer) GetStatistics() FramedStatistics {
	s.connMu.Lock()
	open := len(s.conns)
	s.connMu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	return FramedStatistics{
		ConnectionsAccepted: s.connectionsAccepted,
		RequestsReceived:    s.requestsReceived,
		RequestsProcessed:   s.requestsProcessed,
		FrameErrors:         s.frameErrors,
		OpenConnections:     open,
	}
}
