package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Default tone parameters used by the synthetic scenarios
const (
	DefaultToneFrequency = 440.0
	DefaultToneAmplitude = 0.3
)

// GenerateTone renders a sine wave as 16-bit PCM. amplitude is relative to
// full scale and must be within [0, 1]. Every channel carries the same signal.
func GenerateTone(frequency float64, duration time.Duration, amplitude float64, f Format) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if f.BitDepth != 16 {
		return nil, fmt.Errorf("tone synthesis supports 16-bit PCM only, got %d-bit", f.BitDepth)
	}
	if amplitude < 0 || amplitude > 1 {
		return nil, fmt.Errorf("amplitude must be between 0 and 1, got %f", amplitude)
	}
	if frequency <= 0 {
		return nil, fmt.Errorf("frequency must be positive, got %f", frequency)
	}
	if duration < 0 {
		return nil, fmt.Errorf("duration must not be negative, got %v", duration)
	}

	frames := int(int64(f.SampleRate) * int64(duration) / int64(time.Second))
	pcm := make([]byte, frames*f.BlockAlign())

	for i := 0; i < frames; i++ {
		t := float64(i) / float64(f.SampleRate)
		sample := int16(amplitude * math.MaxInt16 * math.Sin(2*math.Pi*frequency*t))
		for ch := 0; ch < f.Channels; ch++ {
			offset := (i*f.Channels + ch) * 2
			binary.LittleEndian.PutUint16(pcm[offset:], uint16(sample))
		}
	}

	return pcm, nil
}

// GenerateSilence returns duration worth of zeroed PCM
func GenerateSilence(duration time.Duration, f Format) []byte {
	frames := int(int64(f.SampleRate) * int64(duration) / int64(time.Second))
	return make([]byte, frames*f.BlockAlign())
}

// Samples converts 16-bit little-endian PCM to samples. A trailing odd byte
// is ignored.
func Samples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}
