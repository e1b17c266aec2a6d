package framed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/asr-probe/internal/failure"
	"github.com/skypro1111/asr-probe/internal/metrics"
	"github.com/skypro1111/asr-probe/internal/protocol"
)

// Sentinels matchable with errors.Is on errors returned by SendRequest
var (
	ErrShortHeader       = protocol.ErrShortHeader
	ErrTruncatedResponse = protocol.ErrTruncatedFrame
	ErrMalformedResponse = protocol.ErrMalformedResult
	ErrResponseTooLarge  = protocol.ErrFrameTooLarge
	ErrNotConnected      = errors.New("not connected")
	ErrAlreadyConnected  = errors.New("already connected")
)

// Config contains framed client configuration
type Config struct {
	Address         string
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration // 0 waits forever unless ctx has a deadline
	MaxResponseSize int
}

// Response is a decoded server reply
type Response struct {
	Result  *protocol.RecognitionResult
	Raw     []byte
	Latency time.Duration
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	BytesSent       uint64        `json:"bytes_sent"`
	Connected       bool          `json:"connected"`
}

// Client is a length-prefixed TCP client owning a single connection
type Client struct {
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	conn      net.Conn
	connected atomic.Bool
	mu        sync.Mutex // serializes requests and guards conn

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	bytesSent       uint64
	avgResponseTime time.Duration
	statsMu         sync.RWMutex
}

// NewClient creates a framed client. m may be nil.
func NewClient(config Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address cannot be empty")
	}

	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}

	if config.MaxResponseSize <= 0 {
		config.MaxResponseSize = protocol.DefaultMaxFrameSize
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config:  config,
		logger:  logger.With(slog.String("component", "framed"), slog.String("address", config.Address)),
		metrics: m,
	}, nil
}

// Connect opens the TCP connection within the connect timeout
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return failure.Protocol(failure.PhaseConnect, "connect called twice", ErrAlreadyConnected)
	}

	dialer := net.Dialer{Timeout: c.config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.config.Address)
	if err != nil {
		c.metrics.RecordSessionError(string(failure.PhaseConnect))
		return failure.Connection(fmt.Sprintf("failed to connect to %s", c.config.Address), err)
	}

	c.conn = conn
	c.connected.Store(true)
	c.logger.Debug("Connected", slog.String("local", conn.LocalAddr().String()))

	return nil
}

// SendRequest sends audio as one frame and waits for the response frame
func (c *Client) SendRequest(ctx context.Context, audio []byte) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, failure.Protocol(failure.PhaseSend, "send before connect", ErrNotConnected)
	}

	startTime := time.Now()
	c.incrementTotalRequests(len(audio))

	response, err := c.roundTrip(ctx, audio)
	latency := time.Since(startTime)

	if err != nil {
		c.incrementFailedRequests()
		c.metrics.RecordFramedRequest(false, latency)
		c.metrics.RecordFramedError(string(failure.KindOf(err)))
		c.metrics.RecordSessionError(string(failure.PhaseOf(err)))
		c.logger.Warn("Request failed",
			slog.Int("bytes", len(audio)),
			slog.Duration("latency", latency),
			slog.String("error", err.Error()))
		return nil, err
	}

	response.Latency = latency
	c.incrementSuccessRequests(latency)
	c.metrics.RecordFramedRequest(response.Result.Succeeded(), latency)

	c.logger.Debug("Request completed",
		slog.Int("bytes", len(audio)),
		slog.Int("response_bytes", len(response.Raw)),
		slog.Duration("latency", latency))

	return response, nil
}

// roundTrip performs one write/read exchange. Called with mu held.
func (c *Client) roundTrip(ctx context.Context, audio []byte) (*Response, error) {
	conn := c.conn

	if err := conn.SetDeadline(c.deadline(ctx)); err != nil {
		c.closeLocked()
		return nil, failure.IO(failure.PhaseSend, "failed to set deadline", err)
	}
	defer conn.SetDeadline(time.Time{})

	// Unblock the exchange when ctx is cancelled
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := protocol.WriteFrame(conn, audio); err != nil {
		c.closeLocked()
		return nil, failure.IO(failure.PhaseSend, "failed to send request", causeOf(ctx, err))
	}

	payload, err := protocol.ReadFrame(conn, c.config.MaxResponseSize)
	if err != nil {
		// The stream position is unknown after a failed read
		c.closeLocked()
		return nil, classifyReadError(causeOf(ctx, err))
	}

	result, err := protocol.ParseResult(payload)
	if err != nil {
		return nil, failure.Protocol(failure.PhaseReceive, "malformed response", err)
	}

	return &Response{Result: result, Raw: payload}, nil
}

func classifyReadError(err error) error {
	switch {
	case errors.Is(err, protocol.ErrShortHeader):
		return failure.Protocol(failure.PhaseReceive, "short length header", err)
	case errors.Is(err, protocol.ErrTruncatedFrame):
		return failure.Protocol(failure.PhaseReceive, "truncated response", err)
	case errors.Is(err, protocol.ErrFrameTooLarge):
		return failure.Protocol(failure.PhaseReceive, "response too large", err)
	case isTimeout(err):
		return failure.IO(failure.PhaseReceive, "read timed out", err)
	default:
		return failure.IO(failure.PhaseReceive, "failed to read response", err)
	}
}

// causeOf prefers the context error when ctx ended the exchange
func causeOf(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// deadline returns the earlier of the ctx deadline and now + ReadTimeout
func (c *Client) deadline(ctx context.Context) time.Time {
	var deadline time.Time
	if c.config.ReadTimeout > 0 {
		deadline = time.Now().Add(c.config.ReadTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return deadline
}

// Disconnect closes the connection. Calling it again is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	c.connected.Store(false)
	c.logger.Debug("Disconnected")

	return err
}

// IsConnected reports whether the client holds an open connection
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Address returns the server address
func (c *Client) Address() string {
	return c.config.Address
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	connected := c.IsConnected()

	c.statsMu.RLock()
	defer c.statsMu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
		BytesSent:       c.bytesSent,
		Connected:       connected,
	}
}

// Statistics helpers

func (c *Client) incrementTotalRequests(size int) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.totalRequests++
	c.bytesSent += uint64(size)
}

func (c *Client) incrementSuccessRequests(latency time.Duration) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.successRequests++

	// Running mean over completed exchanges
	n := time.Duration(c.successRequests)
	c.avgResponseTime = c.avgResponseTime + (latency-c.avgResponseTime)/n
}

func (c *Client) incrementFailedRequests() {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.failedRequests++
}
