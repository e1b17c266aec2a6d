package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Framing constants
const (
	// HeaderSize is the 4-byte little-endian length prefix
	HeaderSize = 4

	// DefaultMaxFrameSize bounds a single payload (16 MiB)
	DefaultMaxFrameSize = 16 << 20
)

var (
	// ErrShortHeader is returned when the peer closes before 4 header bytes arrive
	ErrShortHeader = errors.New("short length header")
	// ErrTruncatedFrame is returned when the peer closes before length payload bytes arrive
	ErrTruncatedFrame = errors.New("truncated frame")
	// ErrFrameTooLarge is returned when the announced length exceeds the configured limit
	ErrFrameTooLarge = errors.New("frame too large")
)

// Header represents the length prefix of a frame
// Layout: [Length:4 LE]
type Header struct {
	Length uint32 // Payload size in bytes, prefix excluded
}

// ParseHeader parses the 4-byte length prefix
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrShortHeader, HeaderSize, len(data))
	}

	return &Header{Length: binary.LittleEndian.Uint32(data[:HeaderSize])}, nil
}

// EncodeFrame returns prefix and payload as one contiguous buffer
func EncodeFrame(payload []byte) ([]byte, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes does not fit a uint32 prefix", ErrFrameTooLarge, len(payload))
	}

	frame := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame[:HeaderSize], uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// DecodeFrame splits one frame off the front of data and returns its payload
// and the remaining bytes
func DecodeFrame(data []byte) (payload []byte, rest []byte, err error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, nil, err
	}

	end := uint64(HeaderSize) + uint64(header.Length)
	if uint64(len(data)) < end {
		return nil, nil, fmt.Errorf("%w: expected %d payload bytes, got %d",
			ErrTruncatedFrame, header.Length, len(data)-HeaderSize)
	}

	return data[HeaderSize:end], data[end:], nil
}

// WriteFrame writes prefix and payload as a single logical write. Partial
// writes are continued until the whole frame is out or the writer fails.
func WriteFrame(w io.Writer, payload []byte) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}

	for written := 0; written < len(frame); {
		n, err := w.Write(frame[written:])
		written += n
		if err != nil {
			return fmt.Errorf("write frame (%d of %d bytes): %w", written, len(frame), err)
		}
		if n == 0 {
			return fmt.Errorf("write frame (%d of %d bytes): %w", written, len(frame), io.ErrShortWrite)
		}
	}

	return nil
}

// ReadFrame reads exactly one frame, accumulating partial reads. maxSize <= 0
// disables the size check.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	var prefix [HeaderSize]byte
	n, err := io.ReadFull(r, prefix[:])
	if err != nil {
		if isEOF(err) {
			return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrShortHeader, HeaderSize, n)
		}
		return nil, err
	}

	header, err := ParseHeader(prefix[:])
	if err != nil {
		return nil, err
	}

	if maxSize > 0 && uint64(header.Length) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFrameTooLarge, header.Length, maxSize)
	}

	payload := make([]byte, header.Length)
	n, err = io.ReadFull(r, payload)
	if err != nil {
		if isEOF(err) {
			return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrTruncatedFrame, header.Length, n)
		}
		return nil, err
	}

	return payload, nil
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	return fmt.Sprintf("Header{Len:%d}", h.Length)
}
