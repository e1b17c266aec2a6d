package audio

import (
	"fmt"
	"time"
)

// Format describes interleaved little-endian PCM audio
type Format struct {
	SampleRate int // Hz
	Channels   int
	BitDepth   int // bits per sample
}

// Recognition is the format the recognition service expects: 16 kHz, 16-bit, mono
var Recognition = Format{SampleRate: 16000, Channels: 1, BitDepth: 16}

// BytesPerSample returns the size of one sample of one channel
func (f Format) BytesPerSample() int {
	return f.BitDepth / 8
}

// BlockAlign returns the size of one frame (one sample for every channel)
func (f Format) BlockAlign() int {
	return f.BytesPerSample() * f.Channels
}

// BytesPerSecond returns the byte rate of the format
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.BlockAlign()
}

// ChunkBytes returns the nominal size of a chunk of the given duration:
// sampleRate * bytesPerSample * channels * chunkMs / 1000
func (f Format) ChunkBytes(chunkMs int) int {
	return f.SampleRate * f.BytesPerSample() * f.Channels * chunkMs / 1000
}

// Duration returns the playback time of n bytes
func (f Format) Duration(n int) time.Duration {
	rate := f.BytesPerSecond()
	if rate == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// Validate checks that the format can be chunked
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", f.Channels)
	}
	if f.BitDepth <= 0 || f.BitDepth%8 != 0 {
		return fmt.Errorf("bit depth must be a positive multiple of 8, got %d", f.BitDepth)
	}
	return nil
}

// String returns a human-readable representation of the format
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dbit/%dch", f.SampleRate, f.BitDepth, f.Channels)
}
