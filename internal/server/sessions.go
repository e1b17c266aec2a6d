package server

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/asr-probe/internal/audio"
	"github.com/skypro1111/asr-probe/internal/metrics"
	"github.com/skypro1111/asr-probe/internal/protocol"
)

// ErrTooManySessions is returned when the active session limit is reached
var ErrTooManySessions = errors.New("too many active sessions")

// MessageKind classifies a client message in a session transcript
type MessageKind string

const (
	MessageStart MessageKind = "start"
	MessageAudio MessageKind = "audio"
	MessageEnd   MessageKind = "end"
	MessageOther MessageKind = "other"
)

// Message is one entry of a session transcript
type Message struct {
	Kind       MessageKind `json:"kind"`
	Size       int         `json:"size"`
	ReceivedAt time.Time   `json:"received_at"`
}

// Session is one client connection to the mock server, on either transport
type Session struct {
	ID         string
	Transport  string
	RemoteAddr string
	StartTime  time.Time

	recorder *audio.Recorder

	lastActivity time.Time
	endTime      time.Time
	start        *protocol.StartSignal
	transcript   []Message
	voicedChunks int
	partialsSent int
	finalsSent   int
	errorsSent   int

	mu sync.RWMutex
}

// SessionInfo represents session information for monitoring APIs
type SessionInfo struct {
	ID           string        `json:"id"`
	Transport    string        `json:"transport"`
	RemoteAddr   string        `json:"remote_addr"`
	Active       bool          `json:"active"`
	Mode         string        `json:"mode,omitempty"`
	WavName      string        `json:"wav_name,omitempty"`
	StartTime    time.Time     `json:"start_time"`
	LastActivity time.Time     `json:"last_activity"`
	Duration     time.Duration `json:"duration"`
	Messages     int           `json:"messages"`
	AudioChunks  int           `json:"audio_chunks"`
	AudioBytes   int           `json:"audio_bytes"`
	AudioSeconds float64       `json:"audio_seconds"`
	VoicedChunks int           `json:"voiced_chunks"`
	PartialsSent int           `json:"partials_sent"`
	FinalsSent   int           `json:"finals_sent"`
	ErrorsSent   int           `json:"errors_sent"`
}

func (s *Session) record(kind MessageKind, size int) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.transcript = append(s.transcript, Message{Kind: kind, Size: size, ReceivedAt: now})
	s.lastActivity = now
}

// begin stores the start signal; false if the session already started
func (s *Session) begin(start *protocol.StartSignal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.start != nil {
		return false
	}
	s.start = start
	return true
}

// Start returns the start signal, nil before the handshake
func (s *Session) Start() *protocol.StartSignal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.start
}

// Transcript returns the ordered client messages received so far
func (s *Session) Transcript() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.transcript...)
}

// Active reports whether the connection is still open
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endTime.IsZero()
}

// Audio returns the PCM received so far
func (s *Session) Audio() []byte {
	return s.recorder.Bytes()
}

// addVoiced counts a voiced chunk and returns the running total
func (s *Session) addVoiced() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voicedChunks++
	return s.voicedChunks
}

func (s *Session) countSent(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case "partial":
		s.partialsSent++
	case "final":
		s.finalsSent++
	default:
		s.errorsSent++
	}
}

// GetSessionInfo returns session information for monitoring
func (s *Session) GetSessionInfo() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	end := s.endTime
	if end.IsZero() {
		end = time.Now()
	}

	stats := s.recorder.GetStats()

	info := SessionInfo{
		ID:           s.ID,
		Transport:    s.Transport,
		RemoteAddr:   s.RemoteAddr,
		Active:       s.endTime.IsZero(),
		StartTime:    s.StartTime,
		LastActivity: s.lastActivity,
		Duration:     end.Sub(s.StartTime),
		Messages:     len(s.transcript),
		AudioChunks:  stats.Chunks,
		AudioBytes:   stats.Bytes,
		AudioSeconds: stats.DurationSec,
		VoicedChunks: s.voicedChunks,
		PartialsSent: s.partialsSent,
		FinalsSent:   s.finalsSent,
		ErrorsSent:   s.errorsSent,
	}

	if s.start != nil {
		info.Mode = string(s.start.Mode)
		info.WavName = s.start.WavName
	}

	return info
}

// Registry tracks the sessions of both mock transports. Finished sessions
// stay listed until their TTL expires.
type Registry struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
	metrics  *metrics.Metrics

	format    audio.Format
	maxActive int
	ttl       time.Duration

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewRegistry creates a registry and starts its cleanup routine
func NewRegistry(logger *slog.Logger, m *metrics.Metrics, format audio.Format, maxActive int, ttl time.Duration) *Registry {
	ctx, cancel := context.WithCancel(context.Background())

	r := &Registry{
		sessions:  make(map[string]*Session),
		logger:    logger.With(slog.String("component", "registry")),
		metrics:   m,
		format:    format,
		maxActive: maxActive,
		ttl:       ttl,
		ctx:       ctx,
		cancel:    cancel,
		cleanup:   make(chan struct{}),
	}

	go r.startCleanupRoutine()

	return r
}

// Create registers a new active session
func (r *Registry) Create(transport, remoteAddr string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeLocked() >= r.maxActive {
		return nil, ErrTooManySessions
	}

	id := uuid.NewString()
	now := time.Now()

	session := &Session{
		ID:           id,
		Transport:    transport,
		RemoteAddr:   remoteAddr,
		StartTime:    now,
		lastActivity: now,
		recorder:     audio.NewRecorder(id, r.format),
	}
	r.sessions[id] = session

	r.metrics.RecordConnection(transport)
	r.metrics.SetActiveSessions(r.activeLocked())

	r.logger.Info("Session opened",
		slog.String("session_id", id),
		slog.String("transport", transport),
		slog.String("remote_addr", remoteAddr))

	return session, nil
}

// Get retrieves a session by ID
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[id]
	return session, exists
}

// Finish marks a session as closed
func (r *Registry) Finish(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[id]
	if !exists {
		return
	}

	session.mu.Lock()
	if session.endTime.IsZero() {
		session.endTime = time.Now()
	}
	duration := session.endTime.Sub(session.StartTime)
	session.mu.Unlock()

	r.metrics.SetActiveSessions(r.activeLocked())

	r.logger.Info("Session closed",
		slog.String("session_id", id),
		slog.String("transport", session.Transport),
		slog.Duration("duration", duration),
		slog.Int("audio_bytes", session.recorder.Len()))
}

// Remove drops a session from the registry
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; !exists {
		return false
	}
	delete(r.sessions, id)

	r.metrics.SetActiveSessions(r.activeLocked())
	return true
}

// ActiveCount returns the number of open sessions
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeLocked()
}

// Count returns the number of listed sessions, open or finished
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// All returns a snapshot of all sessions ordered by start time
func (r *Registry) All() []*Session {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})

	return sessions
}

// Stop ends the cleanup routine
func (r *Registry) Stop() {
	r.cancel()
	<-r.cleanup

	r.logger.Info("Registry stopped", slog.Int("remaining_sessions", r.Count()))
}

func (r *Registry) activeLocked() int {
	active := 0
	for _, session := range r.sessions {
		if session.Active() {
			active++
		}
	}
	return active
}

// startCleanupRoutine runs in a separate goroutine to drop expired sessions
func (r *Registry) startCleanupRoutine() {
	defer close(r.cleanup)

	interval := r.ttl / 2
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.cleanupExpiredSessions(time.Now())
		}
	}
}

// cleanupExpiredSessions removes finished sessions older than the TTL
func (r *Registry) cleanupExpiredSessions(now time.Time) int {
	expired := make([]string, 0)

	r.mu.RLock()
	for id, session := range r.sessions {
		session.mu.RLock()
		endTime := session.endTime
		session.mu.RUnlock()

		if !endTime.IsZero() && now.Sub(endTime) > r.ttl {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	if len(expired) > 0 {
		r.logger.Debug("Cleaning up expired sessions", slog.Int("expired_count", len(expired)))
	}

	for _, id := range expired {
		r.Remove(id)
	}

	return len(expired)
}
