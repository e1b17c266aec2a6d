package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
)

const (
	wavHeaderSize  = 44
	riffHeaderSize = 12
	chunkHeadSize  = 8
	fmtChunkSize   = 16
	formatPCM      = 1
)

// WAVHeader represents the canonical 44-byte header written by EncodeWAV
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// fmtChunk is the body of the "fmt " chunk
type fmtChunk struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// Clip is decoded PCM audio together with its format
type Clip struct {
	Format Format
	Data   []byte // interleaved little-endian PCM
}

// Duration returns the playback time of the clip
func (c *Clip) Duration() float64 {
	return c.Format.Duration(len(c.Data)).Seconds()
}

// EncodeWAV wraps raw PCM bytes in a canonical WAV container
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	if len(pcm)%f.BlockAlign() != 0 {
		return nil, fmt.Errorf("pcm length %d is not a multiple of block align %d", len(pcm), f.BlockAlign())
	}

	dataSize := uint32(len(pcm))

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: fmtChunkSize,
		AudioFormat:   formatPCM,
		NumChannels:   uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.BytesPerSecond()),
		BlockAlign:    uint16(f.BlockAlign()),
		BitsPerSample: uint16(f.BitDepth),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	buf.Write(pcm)

	return buf.Bytes(), nil
}

// DecodeWAV extracts the PCM data of a RIFF/WAVE file. Chunks other than
// "fmt " and "data" (LIST, fact, ...) are skipped. Any PCM layout is accepted;
// callers decide whether a format mismatch matters.
func DecodeWAV(data []byte) (*Clip, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	var (
		format  *fmtChunk
		pcm     []byte
		hasData bool
	)

	for offset := riffHeaderSize; offset+chunkHeadSize <= len(data); {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + chunkHeadSize

		end := body + size
		if end > len(data) {
			if id != "data" {
				return nil, fmt.Errorf("invalid WAV file: %q chunk overruns file (%d > %d)", id, end, len(data))
			}
			// Streaming writers leave the data size unset; take what is there
			end = len(data)
		}

		switch id {
		case "fmt ":
			if size < fmtChunkSize {
				return nil, fmt.Errorf("invalid WAV file: fmt chunk too short (%d bytes)", size)
			}
			format = &fmtChunk{}
			if err := binary.Read(bytes.NewReader(data[body:end]), binary.LittleEndian, format); err != nil {
				return nil, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
		case "data":
			pcm = data[body:end]
			hasData = true
		}

		if hasData && format != nil {
			break
		}

		// Chunks are word aligned
		offset = end + size%2
	}

	if format == nil {
		return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if !hasData {
		return nil, fmt.Errorf("invalid WAV file: missing data chunk")
	}

	if format.AudioFormat != formatPCM {
		return nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", format.AudioFormat)
	}

	clip := &Clip{
		Format: Format{
			SampleRate: int(format.SampleRate),
			Channels:   int(format.NumChannels),
			BitDepth:   int(format.BitsPerSample),
		},
		Data: make([]byte, len(pcm)),
	}
	copy(clip.Data, pcm)

	if err := clip.Format.Validate(); err != nil {
		return nil, fmt.Errorf("invalid WAV format: %w", err)
	}

	return clip, nil
}

// LoadWAV reads and decodes a WAV file from disk
func LoadWAV(path string) (*Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV file %s: %w", path, err)
	}

	clip, err := DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode WAV file %s: %w", path, err)
	}

	return clip, nil
}

// ValidateWAV checks the RIFF/WAVE signature without decoding chunks
func ValidateWAV(data []byte) error {
	if len(data) < riffHeaderSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", riffHeaderSize, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	return nil
}

// WAVInfo describes a decoded WAV file
type WAVInfo struct {
	SampleRate    int     `json:"sample_rate"`
	Channels      int     `json:"channels"`
	BitsPerSample int     `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      int     `json:"data_size_bytes"`
	NumSamples    int     `json:"num_samples"`
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	clip, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}

	return &WAVInfo{
		SampleRate:    clip.Format.SampleRate,
		Channels:      clip.Format.Channels,
		BitsPerSample: clip.Format.BitDepth,
		Duration:      clip.Duration(),
		DataSize:      len(clip.Data),
		NumSamples:    len(clip.Data) / clip.Format.BlockAlign(),
	}, nil
}
