package server

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/asr-probe/internal/audio"
	"github.com/skypro1111/asr-probe/internal/protocol"
	"github.com/skypro1111/asr-probe/internal/stream"
)

func dialStream(t *testing.T, m *mock) *stream.Session {
	t.Helper()

	session, err := stream.Dial(context.Background(), stream.Config{
		URL:            m.websocket.URL(),
		ConnectTimeout: time.Second,
		ChunkBytes:     audio.Recognition.ChunkBytes(100),
		GracePeriod:    10 * time.Millisecond,
		DrainTimeout:   5 * time.Second,
	}, discard, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	return session
}

func dialRaw(t *testing.T, m *mock) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(m.websocket.URL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readError(t *testing.T, conn *websocket.Conn) string {
	t.Helper()

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg errorMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.False(t, msg.Success)
	return msg.Error
}

func TestWebSocketSessionResults(t *testing.T) {
	m := startMock(t, mockOptions{partialEvery: 3})
	session := dialStream(t, m)

	start := protocol.NewStartSignal(protocol.Mode2Pass, "tone.wav").WithChunking([]int{5, 10, 5}, 10)

	var events []stream.Event
	summary, err := session.Run(context.Background(), start, bytes.NewReader(tone(t, time.Second)), func(e stream.Event) {
		events = append(events, e)
	})
	require.NoError(t, err)

	// 10 voiced chunks give partials after chunks 3, 6 and 9
	assert.Equal(t, 10, summary.ChunksSent)
	assert.Equal(t, 3, summary.Partials)
	assert.Equal(t, 1, summary.Finals)
	assert.Equal(t, []string{"voice 1.00s of 1.00s in 1 segments"}, summary.Transcript)

	require.Len(t, events, 4)
	assert.Equal(t, "2pass-online", events[0].Result.Mode)
	assert.Equal(t, "2pass-offline", events[3].Result.Mode)
	assert.Equal(t, "tone.wav", events[3].Result.WavName)

	sessions := m.registry.All()
	require.Len(t, sessions, 1)
	server := sessions[0]

	assert.Eventually(t, func() bool { return !server.Active() }, time.Second, 10*time.Millisecond)

	transcript := server.Transcript()
	require.Len(t, transcript, 12)
	assert.Equal(t, MessageStart, transcript[0].Kind)
	for _, msg := range transcript[1:11] {
		assert.Equal(t, MessageAudio, msg.Kind)
		assert.Equal(t, 3200, msg.Size)
	}
	assert.Equal(t, MessageEnd, transcript[11].Kind)

	info := server.GetSessionInfo()
	assert.Equal(t, "2pass", info.Mode)
	assert.Equal(t, 32000, info.AudioBytes)
	assert.Equal(t, 10, info.VoicedChunks)
	assert.Equal(t, 3, info.PartialsSent)
	assert.Equal(t, 1, info.FinalsSent)
}

func TestWebSocketSilenceHasNoPartials(t *testing.T) {
	m := startMock(t, mockOptions{partialEvery: 1})
	session := dialStream(t, m)

	silence := audio.GenerateSilence(500*time.Millisecond, audio.Recognition)
	summary, err := session.Run(context.Background(), protocol.NewStartSignal(protocol.ModeOnline, "silence.wav"), bytes.NewReader(silence), nil)
	require.NoError(t, err)

	assert.Equal(t, 5, summary.ChunksSent)
	assert.Zero(t, summary.Partials)
	assert.Equal(t, 1, summary.Finals)
	assert.Equal(t, []string{""}, summary.Transcript)
}

func TestWebSocketAudioBeforeStart(t *testing.T) {
	m := startMock(t, mockOptions{})
	conn := dialRaw(t, m)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, make([]byte, 320)))
	assert.Equal(t, "audio before start signal", readError(t, conn))

	end, _ := protocol.EndSignal{}.Marshal()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, end))
	assert.Equal(t, "end signal before start signal", readError(t, conn))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"hello":"world"}`)))
	assert.Equal(t, "unrecognized control message", readError(t, conn))

	sessions := m.registry.All()
	require.Len(t, sessions, 1)
	kinds := []MessageKind{}
	for _, msg := range sessions[0].Transcript() {
		kinds = append(kinds, msg.Kind)
	}
	assert.Equal(t, []MessageKind{MessageAudio, MessageEnd, MessageOther}, kinds)
	assert.Zero(t, sessions[0].GetSessionInfo().AudioBytes)
}

func TestWebSocketDuplicateStart(t *testing.T) {
	m := startMock(t, mockOptions{})
	conn := dialRaw(t, m)

	start, err := protocol.NewStartSignal(protocol.ModeOnline, "a.wav").Marshal()
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, start))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, start))
	assert.Equal(t, "duplicate start signal", readError(t, conn))
}

func TestWebSocketSessionLimit(t *testing.T) {
	m := startMock(t, mockOptions{maxSessions: 1})

	dialRaw(t, m)
	require.Eventually(t, func() bool { return m.registry.ActiveCount() == 1 }, time.Second, 10*time.Millisecond)

	second := dialRaw(t, m)
	_, _, err := second.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
}

func TestWebSocketStopClosesSessions(t *testing.T) {
	m := startMock(t, mockOptions{})
	conn := dialRaw(t, m)

	require.Eventually(t, func() bool { return m.registry.ActiveCount() == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.websocket.Stop(ctx))

	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Zero(t, m.registry.ActiveCount())
}
