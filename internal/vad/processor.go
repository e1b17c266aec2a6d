package vad

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/skypro1111/asr-probe/internal/audio"
)

// fullScaleEnergy is the RMS energy mapped to probability 1.0
const fullScaleEnergy = 10000.0

// Processor classifies 16-bit PCM windows as voiced or silent
type Processor struct {
	threshold  float32
	windowSize int // Samples per window
	sampleRate int

	// Statistics
	totalWindows  uint64
	voiceWindows  uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// Result represents the result of voice activity detection on one window
type Result struct {
	Probability float32 `json:"probability"` // Voice probability (0.0 - 1.0)
	HasVoice    bool    `json:"has_voice"`
	Confidence  float32 `json:"confidence"` // Distance from the threshold, scaled to 0-1
	WindowIndex int     `json:"window_index"`
}

// VoiceSegment is a continuous run of voiced windows, as offsets into the audio
type VoiceSegment struct {
	Start      time.Duration `json:"start"`
	End        time.Duration `json:"end"`
	Confidence float32       `json:"confidence"`
}

// Duration returns the length of the segment
func (s VoiceSegment) Duration() time.Duration {
	return s.End - s.Start
}

// Analysis summarizes a block of PCM
type Analysis struct {
	Windows  int            `json:"windows"`
	Voiced   int            `json:"voiced"`
	Segments []VoiceSegment `json:"segments"`
}

// VoicedRatio returns the share of voiced windows, 0 for empty input
func (a Analysis) VoicedRatio() float64 {
	if a.Windows == 0 {
		return 0
	}
	return float64(a.Voiced) / float64(a.Windows)
}

// ProcessorStats represents VAD processor statistics
type ProcessorStats struct {
	TotalWindows    uint64    `json:"total_windows"`
	VoiceWindows    uint64    `json:"voice_windows"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastProcessed   time.Time `json:"last_processed"`
	Threshold       float32   `json:"threshold"`
	WindowSize      int       `json:"window_size"`
}

// NewProcessor creates a new VAD processor
func NewProcessor(threshold float32, windowSize int, sampleRate int) (*Processor, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	return &Processor{
		threshold:  threshold,
		windowSize: windowSize,
		sampleRate: sampleRate,
	}, nil
}

// Process classifies one window of exactly windowSize samples
func (p *Processor) Process(samples []int16) (*Result, error) {
	if len(samples) != p.windowSize {
		return nil, fmt.Errorf("expected %d samples, got %d", p.windowSize, len(samples))
	}

	probability := Energy(samples)

	p.mu.Lock()
	defer p.mu.Unlock()

	hasVoice := probability >= p.threshold

	p.totalWindows++
	if hasVoice {
		p.voiceWindows++
	}
	p.lastProcessed = time.Now()

	// Higher when probability is far from threshold
	confidence := float32(math.Abs(float64(probability - p.threshold)))
	if confidence > 0.5 {
		confidence = 0.5
	}
	confidence = confidence * 2

	return &Result{
		Probability: probability,
		HasVoice:    hasVoice,
		Confidence:  confidence,
		WindowIndex: int(p.totalWindows - 1),
	}, nil
}

// Analyze splits 16-bit mono PCM into windows and returns the voiced
// segments. A trailing partial window is ignored.
func (p *Processor) Analyze(pcm []byte) (Analysis, error) {
	samples := audio.Samples(pcm)
	windows := len(samples) / p.windowSize

	analysis := Analysis{Windows: windows}

	var current *VoiceSegment
	for i := 0; i < windows; i++ {
		result, err := p.Process(samples[i*p.windowSize : (i+1)*p.windowSize])
		if err != nil {
			return Analysis{}, fmt.Errorf("failed to process window %d: %w", i, err)
		}

		offset := p.offset(i)

		if result.HasVoice {
			analysis.Voiced++
			if current == nil {
				current = &VoiceSegment{Start: offset, Confidence: result.Confidence}
			} else {
				current.Confidence = (current.Confidence + result.Confidence) / 2
			}
			continue
		}

		if current != nil {
			current.End = offset
			analysis.Segments = append(analysis.Segments, *current)
			current = nil
		}
	}

	// Close any remaining segment
	if current != nil {
		current.End = p.offset(windows)
		analysis.Segments = append(analysis.Segments, *current)
	}

	return analysis, nil
}

func (p *Processor) offset(window int) time.Duration {
	return time.Duration(int64(window) * int64(p.windowSize) * int64(time.Second) / int64(p.sampleRate))
}

// Energy returns the RMS energy of samples normalized to 0-1
func Energy(samples []int16) float32 {
	if len(samples) == 0 {
		return 0
	}

	var energy float64
	for _, sample := range samples {
		energy += float64(sample) * float64(sample)
	}
	energy = math.Sqrt(energy / float64(len(samples)))

	normalized := energy / fullScaleEnergy
	if normalized > 1.0 {
		normalized = 1.0
	}

	return float32(normalized)
}

// GetStats returns current processor statistics
func (p *Processor) GetStats() ProcessorStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	voicePercentage := float64(0)
	if p.totalWindows > 0 {
		voicePercentage = float64(p.voiceWindows) / float64(p.totalWindows) * 100
	}

	return ProcessorStats{
		TotalWindows:    p.totalWindows,
		VoiceWindows:    p.voiceWindows,
		VoicePercentage: voicePercentage,
		LastProcessed:   p.lastProcessed,
		Threshold:       p.threshold,
		WindowSize:      p.windowSize,
	}
}

// UpdateThreshold updates the voice detection threshold
func (p *Processor) UpdateThreshold(threshold float32) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.threshold = threshold
	return nil
}

// Reset resets the processor statistics
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalWindows = 0
	p.voiceWindows = 0
	p.lastProcessed = time.Time{}
}

// GetThreshold returns the current voice detection threshold
func (p *Processor) GetThreshold() float32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.threshold
}

// GetWindowSize returns the window size in samples
func (p *Processor) GetWindowSize() int {
	return p.windowSize
}
