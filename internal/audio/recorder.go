package audio

import (
	"fmt"
	"sync"
	"time"
)

// Recorder accumulates the PCM chunks received by one session
type Recorder struct {
	sessionID string
	format    Format

	data       []byte
	chunks     int
	lastUpdate time.Time

	// Window used to hand samples to the VAD
	windowSize int

	mu sync.RWMutex
}

// RecorderStats represents recorder statistics for monitoring
type RecorderStats struct {
	SessionID   string  `json:"session_id"`
	Chunks      int     `json:"chunks"`
	Bytes       int     `json:"bytes"`
	DurationSec float64 `json:"duration_seconds"`
	Format      string  `json:"format"`
}

// NewRecorder creates a recorder for a session
func NewRecorder(sessionID string, format Format) *Recorder {
	return &Recorder{
		sessionID:  sessionID,
		format:     format,
		data:       make([]byte, 0, format.BytesPerSecond()*2), // Pre-allocate for 2 seconds
		lastUpdate: time.Now(),
		windowSize: format.SampleRate / 10, // 100ms
	}
}

// Append stores a chunk. Chunks must contain whole frames.
func (r *Recorder) Append(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if align := r.format.BlockAlign(); align > 0 && len(chunk)%align != 0 {
		return fmt.Errorf("audio data length must be a multiple of %d (got %d bytes)", align, len(chunk))
	}

	r.data = append(r.data, chunk...)
	r.chunks++
	r.lastUpdate = time.Now()

	return nil
}

// Bytes returns a copy of the recorded audio
func (r *Recorder) Bytes() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]byte, len(r.data))
	copy(out, r.data)
	return out
}

// Len returns the number of recorded bytes
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// Chunks returns the number of appended chunks
func (r *Recorder) Chunks() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chunks
}

// Duration returns the playback time of the recorded audio
func (r *Recorder) Duration() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.format.Duration(len(r.data))
}

// LastUpdate returns when audio was last appended
func (r *Recorder) LastUpdate() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastUpdate
}

// Window returns the samples of window index (100ms windows, no overlap)
func (r *Recorder) Window(index int) ([]int16, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	windowBytes := r.windowSize * r.format.BlockAlign()
	start := index * windowBytes
	end := start + windowBytes

	if index < 0 || end > len(r.data) {
		return nil, fmt.Errorf("not enough audio data: need %d bytes, have %d", end, len(r.data))
	}

	return Samples(r.data[start:end]), nil
}

// WAV returns the recorded audio wrapped in a WAV container
func (r *Recorder) WAV() ([]byte, error) {
	return EncodeWAV(r.Bytes(), r.format)
}

// Reset drops the recorded audio
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.data = r.data[:0]
	r.chunks = 0
}

// GetStats returns recorder statistics
func (r *Recorder) GetStats() RecorderStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RecorderStats{
		SessionID:   r.sessionID,
		Chunks:      r.chunks,
		Bytes:       len(r.data),
		DurationSec: r.format.Duration(len(r.data)).Seconds(),
		Format:      r.format.String(),
	}
}
