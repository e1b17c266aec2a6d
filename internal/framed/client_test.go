package framed

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/asr-probe/internal/failure"
	"github.com/skypro1111/asr-probe/internal/metrics"
	"github.com/skypro1111/asr-probe/internal/protocol"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// startServer accepts connections on an ephemeral port and hands each to handle
func startServer(t *testing.T, handle func(conn net.Conn)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var wg sync.WaitGroup
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer conn.Close()
				handle(conn)
			}()
		}
	}()

	t.Cleanup(func() {
		ln.Close()
		wg.Wait()
	})

	return ln.Addr().String()
}

// echoHandler answers every request with its length
func echoHandler(conn net.Conn) {
	for {
		payload, err := protocol.ReadFrame(conn, 0)
		if err != nil {
			return
		}
		response, _ := json.Marshal(map[string]any{
			"success": true,
			"text":    fmt.Sprintf("received %d bytes", len(payload)),
		})
		if err := protocol.WriteFrame(conn, response); err != nil {
			return
		}
	}
}

func newTestClient(t *testing.T, addr string, readTimeout time.Duration) *Client {
	t.Helper()

	client, err := NewClient(Config{
		Address:        addr,
		ConnectTimeout: time.Second,
		ReadTimeout:    readTimeout,
	}, discard, nil)
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { client.Disconnect() })

	return client
}

func TestSendRequestSuccess(t *testing.T) {
	addr := startServer(t, echoHandler)

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	client, err := NewClient(Config{Address: addr, ReadTimeout: time.Second}, discard, m)
	require.NoError(t, err)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	response, err := client.SendRequest(context.Background(), make([]byte, 64000))
	require.NoError(t, err)

	assert.True(t, response.Result.Succeeded())
	assert.Equal(t, "received 64000 bytes", response.Result.GetText())
	assert.Positive(t, response.Latency)

	stats := client.GetStats()
	assert.Equal(t, uint64(1), stats.TotalRequests)
	assert.Equal(t, uint64(1), stats.SuccessRequests)
	assert.Equal(t, uint64(64000), stats.BytesSent)
	assert.Equal(t, float64(100), stats.SuccessRate)
	assert.True(t, stats.Connected)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.FramedRequests.WithLabelValues("success")))
}

func TestSendRequestEmptyPayload(t *testing.T) {
	addr := startServer(t, echoHandler)
	client := newTestClient(t, addr, time.Second)

	response, err := client.SendRequest(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "received 0 bytes", response.Result.GetText())
}

func TestSendRequestFragmentedResponse(t *testing.T) {
	addr := startServer(t, func(conn net.Conn) {
		if _, err := protocol.ReadFrame(conn, 0); err != nil {
			return
		}
		frame, _ := protocol.EncodeFrame([]byte(`{"success":true,"text":"slow"}`))
		for _, b := range frame {
			if _, err := conn.Write([]byte{b}); err != nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
	})
	client := newTestClient(t, addr, 5*time.Second)

	response, err := client.SendRequest(context.Background(), []byte{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, "slow", response.Result.GetText())
}

func TestSendRequestSequential(t *testing.T) {
	addr := startServer(t, echoHandler)
	client := newTestClient(t, addr, time.Second)

	for i := 1; i <= 5; i++ {
		response, err := client.SendRequest(context.Background(), make([]byte, i*100))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("received %d bytes", i*100), response.Result.GetText())
	}
}

func TestSendRequestConcurrentCallersAreSerialized(t *testing.T) {
	addr := startServer(t, echoHandler)
	client := newTestClient(t, addr, 5*time.Second)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	texts := make([]string, 8)

	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			response, err := client.SendRequest(context.Background(), make([]byte, (i+1)*1000))
			errs[i] = err
			if err == nil {
				texts[i] = response.Result.GetText()
			}
		}(i)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("received %d bytes", (i+1)*1000), texts[i])
	}
	assert.Equal(t, uint64(8), client.GetStats().SuccessRequests)
}

func TestSendRequestProtocolErrors(t *testing.T) {
	tests := []struct {
		name     string
		respond  func(conn net.Conn)
		message  string
		sentinel error
		maxSize  int
		keepConn bool
	}{
		{
			name: "truncated response",
			respond: func(conn net.Conn) {
				frame := make([]byte, protocol.HeaderSize+50)
				binary.LittleEndian.PutUint32(frame, 100)
				conn.Write(frame)
			},
			message:  "truncated response",
			sentinel: ErrTruncatedResponse,
		},
		{
			name: "short length header",
			respond: func(conn net.Conn) {
				conn.Write([]byte{0x10, 0x00})
			},
			message:  "short length header",
			sentinel: ErrShortHeader,
		},
		{
			name:     "closed without reply",
			respond:  func(conn net.Conn) {},
			message:  "short length header",
			sentinel: ErrShortHeader,
		},
		{
			name: "malformed response",
			respond: func(conn net.Conn) {
				protocol.WriteFrame(conn, []byte("this is not json"))
			},
			message:  "malformed response",
			sentinel: ErrMalformedResponse,
			keepConn: true,
		},
		{
			name: "response too large",
			respond: func(conn net.Conn) {
				protocol.WriteFrame(conn, make([]byte, 1024))
			},
			message:  "response too large",
			sentinel: ErrResponseTooLarge,
			maxSize:  512,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := startServer(t, func(conn net.Conn) {
				// Drain the request so closing does not reset the connection
				if _, err := protocol.ReadFrame(conn, 0); err != nil {
					return
				}
				tt.respond(conn)
			})

			client, err := NewClient(Config{
				Address:         addr,
				ReadTimeout:     2 * time.Second,
				MaxResponseSize: tt.maxSize,
			}, discard, nil)
			require.NoError(t, err)
			require.NoError(t, client.Connect(context.Background()))
			defer client.Disconnect()

			_, err = client.SendRequest(context.Background(), make([]byte, 3200))
			require.Error(t, err)

			assert.True(t, failure.IsKind(err, failure.KindProtocol), "expected protocol error, got %v", err)
			assert.Equal(t, failure.PhaseReceive, failure.PhaseOf(err))
			assert.ErrorIs(t, err, tt.sentinel)

			var typed *failure.Error
			require.True(t, errors.As(err, &typed))
			assert.Equal(t, tt.message, typed.Message)

			assert.Equal(t, tt.keepConn, client.IsConnected())
			assert.Equal(t, uint64(1), client.GetStats().FailedRequests)
		})
	}
}

func TestSendRequestReadTimeout(t *testing.T) {
	release := make(chan struct{})
	addr := startServer(t, func(conn net.Conn) {
		protocol.ReadFrame(conn, 0)
		<-release
	})
	defer close(release)

	client := newTestClient(t, addr, 100*time.Millisecond)

	start := time.Now()
	_, err := client.SendRequest(context.Background(), make([]byte, 320))
	require.Error(t, err)

	assert.True(t, failure.IsKind(err, failure.KindIO), "expected io error, got %v", err)
	assert.Equal(t, failure.PhaseReceive, failure.PhaseOf(err))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, client.IsConnected())
}

func TestSendRequestContextCancel(t *testing.T) {
	release := make(chan struct{})
	addr := startServer(t, func(conn net.Conn) {
		protocol.ReadFrame(conn, 0)
		<-release
	})
	defer close(release)

	client := newTestClient(t, addr, 0)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := client.SendRequest(ctx, make([]byte, 320))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSendRequestNotConnected(t *testing.T) {
	client, err := NewClient(Config{Address: "127.0.0.1:1"}, discard, nil)
	require.NoError(t, err)

	_, err = client.SendRequest(context.Background(), []byte{1, 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, failure.IsKind(err, failure.KindProtocol))
}

func TestConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	client, err := NewClient(Config{Address: addr, ConnectTimeout: 2 * time.Second}, discard, nil)
	require.NoError(t, err)

	start := time.Now()
	err = client.Connect(context.Background())
	require.Error(t, err)

	assert.True(t, failure.IsKind(err, failure.KindConnection), "expected connection error, got %v", err)
	assert.Equal(t, failure.PhaseConnect, failure.PhaseOf(err))
	assert.Less(t, time.Since(start), 2*time.Second+500*time.Millisecond)
	assert.False(t, client.IsConnected())
}

func TestConnectTwice(t *testing.T) {
	addr := startServer(t, echoHandler)
	client := newTestClient(t, addr, time.Second)

	err := client.Connect(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyConnected)
	assert.True(t, client.IsConnected())
}

func TestDisconnectIdempotent(t *testing.T) {
	addr := startServer(t, echoHandler)
	client := newTestClient(t, addr, time.Second)

	assert.NoError(t, client.Disconnect())
	assert.NoError(t, client.Disconnect())
	assert.False(t, client.IsConnected())

	_, err := client.SendRequest(context.Background(), []byte{0, 0})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{}, discard, nil)
	assert.Error(t, err)

	client, err := NewClient(Config{Address: "localhost:10096"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, client.config.ConnectTimeout)
	assert.Equal(t, protocol.DefaultMaxFrameSize, client.config.MaxResponseSize)
	assert.Equal(t, "localhost:10096", client.Address())
}
