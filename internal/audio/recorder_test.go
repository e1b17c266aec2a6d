package audio

import (
	"sync"
	"testing"
	"time"
)

func TestRecorderAppend(t *testing.T) {
	r := NewRecorder("session-1", Recognition)

	if err := r.Append(make([]byte, 3200)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := r.Append(make([]byte, 400)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if r.Len() != 3600 {
		t.Errorf("Expected 3600 bytes, got %d", r.Len())
	}
	if r.Chunks() != 2 {
		t.Errorf("Expected 2 chunks, got %d", r.Chunks())
	}
	if r.Duration() != 112500*time.Microsecond {
		t.Errorf("Expected 112.5ms, got %v", r.Duration())
	}

	stats := r.GetStats()
	if stats.SessionID != "session-1" || stats.Bytes != 3600 || stats.Format != "16000Hz/16bit/1ch" {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestRecorderRejectsPartialFrames(t *testing.T) {
	r := NewRecorder("s", Recognition)
	if err := r.Append([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for odd-length chunk")
	}
	if r.Len() != 0 {
		t.Errorf("Expected empty recorder, got %d bytes", r.Len())
	}
}

func TestRecorderWindow(t *testing.T) {
	r := NewRecorder("s", Recognition)
	pcm, _ := GenerateTone(DefaultToneFrequency, 250*time.Millisecond, DefaultToneAmplitude, Recognition)
	_ = r.Append(pcm)

	window, err := r.Window(1)
	if err != nil {
		t.Fatalf("Window failed: %v", err)
	}
	if len(window) != 1600 {
		t.Errorf("Expected 1600 samples, got %d", len(window))
	}

	if _, err := r.Window(2); err == nil {
		t.Error("Expected error for incomplete window")
	}
}

func TestRecorderWAVAndReset(t *testing.T) {
	r := NewRecorder("s", Recognition)
	_ = r.Append(make([]byte, 320))

	data, err := r.WAV()
	if err != nil {
		t.Fatalf("WAV failed: %v", err)
	}
	clip, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if len(clip.Data) != 320 {
		t.Errorf("Expected 320 bytes, got %d", len(clip.Data))
	}

	r.Reset()
	if r.Len() != 0 || r.Chunks() != 0 {
		t.Error("Expected empty recorder after reset")
	}
}

func TestRecorderConcurrentAppend(t *testing.T) {
	r := NewRecorder("s", Recognition)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = r.Append(make([]byte, 320))
				_ = r.GetStats()
			}
		}()
	}
	wg.Wait()

	if r.Chunks() != 100 || r.Len() != 32000 {
		t.Errorf("Expected 100 chunks / 32000 bytes, got %d / %d", r.Chunks(), r.Len())
	}
}
