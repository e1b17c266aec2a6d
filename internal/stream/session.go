package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/asr-probe/internal/audio"
	"github.com/skypro1111/asr-probe/internal/failure"
	"github.com/skypro1111/asr-probe/internal/metrics"
	"github.com/skypro1111/asr-probe/internal/protocol"
)

// Config contains streaming session configuration
type Config struct {
	URL            string
	Header         http.Header
	ConnectTimeout time.Duration
	ChunkBytes     int
	PaceInterval   time.Duration // wall-clock wait after each chunk
	GracePeriod    time.Duration // wait between the last chunk and the end signal
	DrainTimeout   time.Duration // how long shutdown waits for the receiver
	WriteTimeout   time.Duration // 0 disables write deadlines
}

// Event is a server message delivered to the handler in arrival order
type Event struct {
	Seq        int
	Kind       protocol.ResultKind
	Result     *protocol.RecognitionResult
	ReceivedAt time.Time
	Elapsed    time.Duration // since the start signal
}

// Handler consumes events on the receiver goroutine
type Handler func(Event)

// Summary describes a finished or running session
type Summary struct {
	SessionID     string        `json:"session_id"`
	State         string        `json:"state"`
	ChunksSent    int           `json:"chunks_sent"`
	BytesSent     int64         `json:"bytes_sent"`
	Partials      int           `json:"partials"`
	Finals        int           `json:"finals"`
	Controls      int           `json:"controls"`
	ParseErrors   int           `json:"parse_errors"`
	DrainTimedOut bool          `json:"drain_timed_out"`
	FirstResult   time.Duration `json:"first_result"`
	Elapsed       time.Duration `json:"elapsed"`
	Transcript    []string      `json:"transcript"`
}

// Session is one streaming duplex connection. Writes are serialized by
// writeMu; only the receiver goroutine reads.
type Session struct {
	id      string
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	conn    *websocket.Conn
	writeMu sync.Mutex
	state   stateMachine

	receiving atomic.Bool
	closing   atomic.Bool
	endSent   atomic.Bool
	recvDone  chan struct{}
	closeOnce sync.Once

	startedAt time.Time

	// Statistics
	summary Summary
	statsMu sync.RWMutex
}

// Dial opens the WebSocket connection within the connect timeout. m may be nil.
func Dial(ctx context.Context, config Config, logger *slog.Logger, m *metrics.Metrics) (*Session, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("url cannot be empty")
	}

	if config.ChunkBytes <= 0 {
		return nil, fmt.Errorf("chunk bytes must be positive, got %d", config.ChunkBytes)
	}

	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}

	if config.DrainTimeout <= 0 {
		config.DrainTimeout = 5 * time.Second
	}

	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.NewString()
	logger = logger.With(slog.String("component", "stream"), slog.String("session_id", id))

	dialer := websocket.Dialer{
		NetDialContext:   (&net.Dialer{Timeout: config.ConnectTimeout}).DialContext,
		HandshakeTimeout: config.ConnectTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	conn, resp, err := dialer.DialContext(ctx, config.URL, config.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		m.RecordSessionError(string(failure.PhaseConnect))
		if resp != nil {
			err = fmt.Errorf("%w (http status %d)", err, resp.StatusCode)
		}
		return nil, failure.Connection(fmt.Sprintf("failed to connect to %s", config.URL), err)
	}

	s := &Session{
		id:       id,
		config:   config,
		logger:   logger,
		metrics:  m,
		conn:     conn,
		recvDone: make(chan struct{}),
		summary:  Summary{SessionID: id},
	}
	s.state.advance(StateConnected)

	logger.Debug("Connected", slog.String("url", config.URL))

	return s, nil
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return s.state.current()
}

// Handshake sends the start signal as a single text message. It must be the
// first message of the session.
func (s *Session) Handshake(start protocol.StartSignal) error {
	if state := s.state.current(); state != StateConnected {
		return failure.Protocol(failure.PhaseHandshake, fmt.Sprintf("handshake in state %s", state), ErrInvalidState)
	}

	if err := start.Validate(); err != nil {
		return failure.Protocol(failure.PhaseHandshake, "invalid start signal", err)
	}

	data, err := start.Marshal()
	if err != nil {
		return failure.Protocol(failure.PhaseHandshake, "failed to encode start signal", err)
	}

	if err := s.write(websocket.TextMessage, data); err != nil {
		return failure.IO(failure.PhaseHandshake, "failed to send start signal", err)
	}

	if err := s.state.advanceFrom(StateConnected, StateStreaming); err != nil {
		return failure.Protocol(failure.PhaseHandshake, "session closed during handshake", err)
	}

	s.statsMu.Lock()
	s.startedAt = time.Now()
	s.statsMu.Unlock()

	s.logger.Info("Session started",
		slog.String("mode", string(start.Mode)),
		slog.String("wav_name", start.WavName),
		slog.Any("chunk_size", start.ChunkSize),
		slog.Int("chunk_interval", start.ChunkInterval))

	return nil
}

// SendAudio streams src as binary chunks of ChunkBytes, waiting PaceInterval
// after each one. The last chunk may be short. On success the session moves
// to draining; the connection stays open.
func (s *Session) SendAudio(ctx context.Context, src io.Reader) error {
	if state := s.state.current(); state != StateStreaming {
		return failure.Protocol(failure.PhaseSend, fmt.Sprintf("send in state %s", state), ErrInvalidState)
	}

	chunker, err := audio.NewChunker(src, s.config.ChunkBytes)
	if err != nil {
		return failure.IO(failure.PhaseSend, "invalid audio source", err)
	}

	var pace *time.Timer
	if s.config.PaceInterval > 0 {
		pace = time.NewTimer(s.config.PaceInterval)
		pace.Stop()
		defer pace.Stop()
	}

	for {
		if err := ctx.Err(); err != nil {
			return failure.IO(failure.PhaseSend, "audio send cancelled", err)
		}

		chunk, err := chunker.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return failure.IO(failure.PhaseSend, "failed to read audio source", err)
		}

		if err := s.write(websocket.BinaryMessage, chunk); err != nil {
			return failure.IO(failure.PhaseSend, fmt.Sprintf("failed to send audio chunk %d", chunker.Chunks()), err)
		}
		s.recordChunk(len(chunk))

		if pace == nil {
			continue
		}

		pace.Reset(s.config.PaceInterval)
		select {
		case <-pace.C:
		case <-ctx.Done():
			return failure.IO(failure.PhaseSend, "audio send cancelled", ctx.Err())
		}
	}

	s.logger.Debug("Audio sent",
		slog.Int("chunks", chunker.Chunks()),
		slog.Int64("bytes", chunker.Bytes()))

	if err := s.state.advanceFrom(StateStreaming, StateDraining); err != nil {
		return failure.Protocol(failure.PhaseSend, "session closed while sending", err)
	}

	return nil
}

// Receive reads server messages until the connection closes and hands each
// decoded message to handler. Messages that fail to decode are logged,
// counted and skipped. Only one receiver may run per session.
func (s *Session) Receive(handler Handler) error {
	if !s.receiving.CompareAndSwap(false, true) {
		return failure.Protocol(failure.PhaseReceive, "receiver already running", ErrInvalidState)
	}
	return s.receive(handler)
}

func (s *Session) receive(handler Handler) error {
	defer close(s.recvDone)

	startedAt := s.startTime()
	seq := 0
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return s.receiveExit(err)
		}

		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		result, err := protocol.ParseResult(data)
		if err != nil {
			s.recordParseError()
			s.logger.Warn("Skipping undecodable message",
				slog.Int("bytes", len(data)),
				slog.String("error", err.Error()))
			continue
		}

		now := time.Now()
		event := Event{
			Seq:        seq,
			Kind:       result.Kind(),
			Result:     result,
			ReceivedAt: now,
			Elapsed:    now.Sub(startedAt),
		}
		seq++

		s.recordEvent(event)

		s.logger.Debug("Result received",
			slog.String("kind", event.Kind.String()),
			slog.String("text", result.GetText()),
			slog.Duration("elapsed", event.Elapsed))

		if handler != nil {
			handler(event)
		}
	}
}

// receiveExit decides whether a read error ends the session cleanly
func (s *Session) receiveExit(err error) error {
	if s.closing.Load() {
		return nil
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		s.logger.Debug("Server closed the connection", slog.String("reason", err.Error()))
		return nil
	}

	// A drop after the end signal loses nothing that was promised
	if s.endSent.Load() {
		s.logger.Warn("Connection lost while draining", slog.String("error", err.Error()))
		return nil
	}

	return failure.IO(failure.PhaseReceive, "connection lost", err)
}

// Shutdown waits the grace period, sends the end signal, waits up to
// DrainTimeout for the receiver and closes the connection. A receiver that
// outlives the drain timeout is logged, not returned as an error. Calling
// Shutdown on a closed session is a no-op.
func (s *Session) Shutdown(ctx context.Context) error {
	state := s.state.current()
	if state == StateClosed {
		return nil
	}

	var endErr error
	if state == StateStreaming || state == StateDraining {
		// Only a completed send earns the grace period
		if state == StateDraining && s.config.GracePeriod > 0 {
			s.wait(ctx, s.config.GracePeriod)
		}

		data, _ := protocol.EndSignal{}.Marshal()
		if err := s.write(websocket.TextMessage, data); err != nil {
			endErr = failure.IO(failure.PhaseShutdown, "failed to send end signal", err)
			s.logger.Warn("End signal not sent", slog.String("error", err.Error()))
		} else {
			s.endSent.Store(true)
		}

		if state == StateStreaming {
			if err := s.state.advanceFrom(StateStreaming, StateDraining); err != nil {
				s.logger.Debug("State not advanced after end signal", slog.String("error", err.Error()))
			}
		}
	}

	if s.receiving.Load() && endErr == nil {
		s.drain(ctx)
	}

	s.close()

	if s.receiving.Load() {
		// Closing the connection unblocks the reader
		<-s.recvDone
	}

	s.statsMu.Lock()
	if !s.startedAt.IsZero() {
		s.summary.Elapsed = time.Since(s.startedAt)
	}
	s.statsMu.Unlock()

	s.logger.Info("Session closed")

	return endErr
}

// drain waits for the receiver to finish on its own
func (s *Session) drain(ctx context.Context) {
	timer := time.NewTimer(s.config.DrainTimeout)
	defer timer.Stop()

	select {
	case <-s.recvDone:
	case <-timer.C:
		s.statsMu.Lock()
		s.summary.DrainTimedOut = true
		s.statsMu.Unlock()
		s.metrics.RecordDrainTimeout()
		s.logger.Warn("Receiver did not finish before drain timeout",
			slog.Duration("drain_timeout", s.config.DrainTimeout))
	case <-ctx.Done():
		s.logger.Warn("Drain interrupted", slog.String("error", ctx.Err().Error()))
	}
}

// Close closes the connection without the end signal exchange
func (s *Session) Close() error {
	s.close()
	if s.receiving.Load() {
		<-s.recvDone
	}
	return nil
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.closing.Store(true)

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		s.conn.Close()

		s.state.advance(StateClosed)
	})
}

// Run performs a complete session: handshake, then concurrent send and
// receive, then shutdown. Shutdown is attempted even when sending fails and
// both tasks are joined before Run returns.
func (s *Session) Run(ctx context.Context, start protocol.StartSignal, src io.Reader, handler Handler) (Summary, error) {
	if err := s.Handshake(start); err != nil {
		s.Close()
		return s.finish(err)
	}

	// Claimed before either task starts so shutdown always drains
	if !s.receiving.CompareAndSwap(false, true) {
		s.Close()
		return s.finish(failure.Protocol(failure.PhaseReceive, "receiver already running", ErrInvalidState))
	}

	var g errgroup.Group

	g.Go(func() error {
		return s.receive(handler)
	})

	g.Go(func() error {
		sendErr := s.SendAudio(ctx, src)
		if sendErr != nil {
			s.logger.Error("Sender failed", slog.String("error", sendErr.Error()))
		}

		shutdownErr := s.Shutdown(ctx)
		if sendErr != nil {
			return sendErr
		}
		return shutdownErr
	})

	return s.finish(g.Wait())
}

func (s *Session) finish(err error) (Summary, error) {
	summary := s.Summary()

	outcome := "ok"
	if err != nil {
		outcome = "error"
		s.metrics.RecordSessionError(string(failure.PhaseOf(err)))
	}
	s.metrics.RecordSession(outcome, summary.Elapsed)

	return summary, err
}

// Summary returns a snapshot of the session statistics
func (s *Session) Summary() Summary {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()

	summary := s.summary
	summary.State = s.state.current().String()
	summary.Transcript = append([]string(nil), s.summary.Transcript...)
	if summary.Elapsed == 0 && !s.startedAt.IsZero() {
		summary.Elapsed = time.Since(s.startedAt)
	}
	return summary
}

func (s *Session) startTime() time.Time {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.startedAt
}

func (s *Session) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.config.WriteTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	return s.conn.WriteMessage(messageType, data)
}

func (s *Session) wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Statistics helpers

func (s *Session) recordChunk(size int) {
	s.statsMu.Lock()
	s.summary.ChunksSent++
	s.summary.BytesSent += int64(size)
	s.statsMu.Unlock()

	s.metrics.RecordChunkSent(size)
}

func (s *Session) recordParseError() {
	s.statsMu.Lock()
	s.summary.ParseErrors++
	s.statsMu.Unlock()

	s.metrics.RecordParseError()
}

func (s *Session) recordEvent(event Event) {
	s.statsMu.Lock()
	switch event.Kind {
	case protocol.ResultPartial:
		s.summary.Partials++
	case protocol.ResultFinal:
		s.summary.Finals++
		s.summary.Transcript = append(s.summary.Transcript, event.Result.GetText())
	default:
		s.summary.Controls++
	}

	first := event.Kind != protocol.ResultControl && s.summary.FirstResult == 0
	if first {
		s.summary.FirstResult = event.Elapsed
	}
	s.statsMu.Unlock()

	s.metrics.RecordResult(event.Kind.String())
	if first {
		s.metrics.RecordFirstResult(event.Elapsed)
	}
}
