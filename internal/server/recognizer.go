package server

import (
	"fmt"
	"time"

	"github.com/skypro1111/asr-probe/internal/audio"
	"github.com/skypro1111/asr-probe/internal/metrics"
	"github.com/skypro1111/asr-probe/internal/vad"
)

// Recognizer fabricates transcripts from signal energy. It never decodes
// speech: the text only reports how much of the audio carried voice.
type Recognizer struct {
	format    audio.Format
	threshold float32
	metrics   *metrics.Metrics
}

// Recognition is the outcome of analyzing one block of audio
type Recognition struct {
	Text        string
	Duration    time.Duration
	Voiced      time.Duration
	VoicedRatio float64
	Segments    int
}

// HasVoice reports whether any window was voiced
func (r Recognition) HasVoice() bool {
	return r.Segments > 0
}

// NewRecognizer creates a recognizer for mono 16-bit audio of the given format
func NewRecognizer(format audio.Format, threshold float32, m *metrics.Metrics) (*Recognizer, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audio format: %w", err)
	}

	if format.Channels != 1 || format.BitDepth != 16 {
		return nil, fmt.Errorf("only 16-bit mono audio is supported, got %s", format)
	}

	// Fail early on a bad threshold
	if _, err := vad.NewProcessor(threshold, windowSize(format), format.SampleRate); err != nil {
		return nil, err
	}

	return &Recognizer{
		format:    format,
		threshold: threshold,
		metrics:   m,
	}, nil
}

// Recognize analyzes pcm with a fresh VAD processor
func (r *Recognizer) Recognize(pcm []byte) (Recognition, error) {
	if len(pcm)%r.format.BlockAlign() != 0 {
		return Recognition{}, fmt.Errorf("audio length %d is not a multiple of %d", len(pcm), r.format.BlockAlign())
	}

	processor, err := vad.NewProcessor(r.threshold, windowSize(r.format), r.format.SampleRate)
	if err != nil {
		return Recognition{}, err
	}

	analysis, err := processor.Analyze(pcm)
	if err != nil {
		return Recognition{}, fmt.Errorf("voice activity detection failed: %w", err)
	}
	r.metrics.RecordVADWindows(analysis.Windows, analysis.Voiced)

	var voiced time.Duration
	for _, segment := range analysis.Segments {
		voiced += segment.Duration()
	}

	recognition := Recognition{
		Duration:    r.format.Duration(len(pcm)),
		Voiced:      voiced,
		VoicedRatio: analysis.VoicedRatio(),
		Segments:    len(analysis.Segments),
	}
	recognition.Text = describe(recognition)

	return recognition, nil
}

func describe(r Recognition) string {
	if !r.HasVoice() {
		return ""
	}
	return fmt.Sprintf("voice %.2fs of %.2fs in %d segments",
		r.Voiced.Seconds(), r.Duration.Seconds(), r.Segments)
}

// windowSize is 100ms of samples
func windowSize(f audio.Format) int {
	return f.SampleRate / 10
}
