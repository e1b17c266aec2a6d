package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/asr-probe/internal/audio"
	"github.com/skypro1111/asr-probe/internal/metrics"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// mock bundles the servers of one test
type mock struct {
	registry  *Registry
	framed    *FramedServer
	websocket *WebSocketServer
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
}

type mockOptions struct {
	maxSessions  int
	partialEvery int
	maxRequest   int
}

func startMock(t *testing.T, opts mockOptions) *mock {
	t.Helper()

	if opts.maxSessions == 0 {
		opts.maxSessions = 10
	}
	if opts.partialEvery == 0 {
		opts.partialEvery = 3
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	registry := NewRegistry(discard, m, audio.Recognition, opts.maxSessions, time.Minute)
	t.Cleanup(registry.Stop)

	recognizer, err := NewRecognizer(audio.Recognition, 0.1, m)
	require.NoError(t, err)

	framed := NewFramedServer(FramedConfig{
		Address:        "127.0.0.1:0",
		MaxRequestSize: opts.maxRequest,
	}, discard, registry, recognizer, m)
	require.NoError(t, framed.Start())
	t.Cleanup(func() { framed.Stop() })

	ws := NewWebSocketServer(WebSocketConfig{
		Address:      "127.0.0.1:0",
		Path:         "/",
		PartialEvery: opts.partialEvery,
		VADThreshold: 0.1,
	}, discard, registry, recognizer, m)
	require.NoError(t, ws.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ws.Stop(ctx)
	})

	return &mock{
		registry:  registry,
		framed:    framed,
		websocket: ws,
		metrics:   m,
		gatherer:  reg,
	}
}

func tone(t *testing.T, d time.Duration) []byte {
	t.Helper()

	pcm, err := audio.GenerateTone(audio.DefaultToneFrequency, d, audio.DefaultToneAmplitude, audio.Recognition)
	require.NoError(t, err)
	return pcm
}

func decodeFramed(t *testing.T, raw []byte) FramedResponse {
	t.Helper()

	var response FramedResponse
	require.NoError(t, json.Unmarshal(raw, &response))
	return response
}
