package vad

import (
	"testing"
	"time"

	"github.com/skypro1111/asr-probe/internal/audio"
)

func constantSamples(n int, value int16) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = value
	}
	return samples
}

func TestNewProcessor(t *testing.T) {
	processor, err := NewProcessor(0.5, 1600, 16000)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	if processor.GetThreshold() != 0.5 {
		t.Errorf("Expected threshold 0.5, got %f", processor.GetThreshold())
	}

	if processor.GetWindowSize() != 1600 {
		t.Errorf("Expected window size 1600, got %d", processor.GetWindowSize())
	}
}

func TestNewProcessorValidation(t *testing.T) {
	tests := []struct {
		name       string
		threshold  float32
		windowSize int
		sampleRate int
		expectErr  bool
	}{
		{name: "valid parameters", threshold: 0.5, windowSize: 512, sampleRate: 8000},
		{name: "threshold too low", threshold: -0.1, windowSize: 512, sampleRate: 8000, expectErr: true},
		{name: "threshold too high", threshold: 1.1, windowSize: 512, sampleRate: 8000, expectErr: true},
		{name: "zero window size", threshold: 0.5, windowSize: 0, sampleRate: 8000, expectErr: true},
		{name: "negative sample rate", threshold: 0.5, windowSize: 512, sampleRate: -1, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProcessor(tt.threshold, tt.windowSize, tt.sampleRate)
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestVoiceActivityDetection(t *testing.T) {
	processor, err := NewProcessor(0.5, 512, 8000)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	alternating := make([]int16, 512)
	for i := range alternating {
		if i%2 == 0 {
			alternating[i] = 6000
		} else {
			alternating[i] = -6000
		}
	}

	tests := []struct {
		name        string
		samples     []int16
		expectVoice bool
		probability float32
	}{
		{name: "silence", samples: make([]int16, 512), probability: 0},
		{name: "high energy", samples: constantSamples(512, 8000), expectVoice: true, probability: 0.8},
		{name: "low energy", samples: constantSamples(512, 100), probability: 0.01},
		{name: "alternating pattern", samples: alternating, expectVoice: true, probability: 0.6},
		{name: "clipped", samples: constantSamples(512, 30000), expectVoice: true, probability: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := processor.Process(tt.samples)
			if err != nil {
				t.Fatalf("Failed to process samples: %v", err)
			}

			if result.HasVoice != tt.expectVoice {
				t.Errorf("Expected hasVoice=%v, got %v (probability %.3f)", tt.expectVoice, result.HasVoice, result.Probability)
			}

			if diff := result.Probability - tt.probability; diff > 0.001 || diff < -0.001 {
				t.Errorf("Expected probability %.3f, got %.3f", tt.probability, result.Probability)
			}

			if result.Confidence < 0 || result.Confidence > 1 {
				t.Errorf("Invalid confidence: %f", result.Confidence)
			}
		})
	}
}

func TestProcessWrongSampleCount(t *testing.T) {
	processor, _ := NewProcessor(0.5, 512, 8000)

	if _, err := processor.Process(make([]int16, 256)); err == nil {
		t.Error("Expected error for wrong sample count")
	}
}

func TestAnalyzeSegments(t *testing.T) {
	processor, _ := NewProcessor(0.3, 1600, 16000) // 100ms windows

	tone, err := audio.GenerateTone(audio.DefaultToneFrequency, 300*time.Millisecond, audio.DefaultToneAmplitude, audio.Recognition)
	if err != nil {
		t.Fatalf("GenerateTone failed: %v", err)
	}
	silence := audio.GenerateSilence(200*time.Millisecond, audio.Recognition)

	// 200ms silence, 300ms tone, 200ms silence, 300ms tone, 50ms tail
	var pcm []byte
	pcm = append(pcm, silence...)
	pcm = append(pcm, tone...)
	pcm = append(pcm, silence...)
	pcm = append(pcm, tone...)
	pcm = append(pcm, make([]byte, 1600)...)

	analysis, err := processor.Analyze(pcm)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if analysis.Windows != 10 {
		t.Errorf("Expected 10 windows, got %d", analysis.Windows)
	}
	if analysis.Voiced != 6 {
		t.Errorf("Expected 6 voiced windows, got %d", analysis.Voiced)
	}
	if ratio := analysis.VoicedRatio(); ratio != 0.6 {
		t.Errorf("Expected voiced ratio 0.6, got %f", ratio)
	}

	if len(analysis.Segments) != 2 {
		t.Fatalf("Expected 2 segments, got %d", len(analysis.Segments))
	}

	expected := []VoiceSegment{
		{Start: 200 * time.Millisecond, End: 500 * time.Millisecond},
		{Start: 700 * time.Millisecond, End: time.Second},
	}
	for i, seg := range analysis.Segments {
		if seg.Start != expected[i].Start || seg.End != expected[i].End {
			t.Errorf("Segment %d: expected %v-%v, got %v-%v", i, expected[i].Start, expected[i].End, seg.Start, seg.End)
		}
		if seg.Duration() != 300*time.Millisecond {
			t.Errorf("Segment %d: expected 300ms, got %v", i, seg.Duration())
		}
	}
}

func TestAnalyzeEmpty(t *testing.T) {
	processor, _ := NewProcessor(0.5, 1600, 16000)

	analysis, err := processor.Analyze(nil)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if analysis.Windows != 0 || analysis.VoicedRatio() != 0 || len(analysis.Segments) != 0 {
		t.Errorf("Expected empty analysis, got %+v", analysis)
	}
}

func TestProcessorStats(t *testing.T) {
	processor, err := NewProcessor(0.6, 512, 8000)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	highEnergySamples := constantSamples(512, 8000)
	silenceSamples := make([]int16, 512)

	// Process alternating voice and silence
	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			processor.Process(highEnergySamples)
		} else {
			processor.Process(silenceSamples)
		}
	}

	stats := processor.GetStats()

	if stats.TotalWindows != 10 {
		t.Errorf("Expected 10 total windows, got %d", stats.TotalWindows)
	}

	if stats.VoiceWindows != 5 {
		t.Errorf("Expected 5 voice windows, got %d", stats.VoiceWindows)
	}

	if stats.VoicePercentage != 50 {
		t.Errorf("Expected 50%% voice, got %f", stats.VoicePercentage)
	}

	if stats.Threshold != 0.6 {
		t.Errorf("Expected threshold 0.6, got %f", stats.Threshold)
	}

	if stats.LastProcessed.IsZero() {
		t.Error("Expected non-zero last processed time")
	}
}

func TestUpdateThreshold(t *testing.T) {
	processor, err := NewProcessor(0.5, 512, 8000)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	err = processor.UpdateThreshold(0.7)
	if err != nil {
		t.Errorf("Failed to update threshold: %v", err)
	}

	if processor.GetThreshold() != 0.7 {
		t.Errorf("Expected threshold 0.7, got %f", processor.GetThreshold())
	}

	if err := processor.UpdateThreshold(-0.1); err == nil {
		t.Error("Expected error for negative threshold")
	}

	if err := processor.UpdateThreshold(1.1); err == nil {
		t.Error("Expected error for threshold > 1")
	}

	// Threshold should remain unchanged after invalid update
	if processor.GetThreshold() != 0.7 {
		t.Errorf("Threshold changed after invalid update: %f", processor.GetThreshold())
	}
}

func TestProcessorReset(t *testing.T) {
	processor, _ := NewProcessor(0.5, 512, 8000)
	processor.Process(constantSamples(512, 8000))

	processor.Reset()

	stats := processor.GetStats()
	if stats.TotalWindows != 0 || stats.VoiceWindows != 0 {
		t.Errorf("Expected zeroed stats after reset, got %+v", stats)
	}
	if !stats.LastProcessed.IsZero() {
		t.Error("Expected zero last processed time after reset")
	}
}
