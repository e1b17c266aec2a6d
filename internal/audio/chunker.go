package audio

import (
	"errors"
	"fmt"
	"io"
)

// Chunker splits a byte source into fixed-size chunks in source order. The
// last chunk may be shorter and is never padded. No empty chunk is produced.
type Chunker struct {
	src  io.Reader
	size int

	chunks int
	bytes  int64
	done   bool
}

// NewChunker creates a chunker reading size bytes at a time from src
func NewChunker(src io.Reader, size int) (*Chunker, error) {
	if src == nil {
		return nil, fmt.Errorf("chunk source is nil")
	}
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	return &Chunker{src: src, size: size}, nil
}

// Size returns the nominal chunk size
func (c *Chunker) Size() int {
	return c.size
}

// Next returns the next chunk, or io.EOF once the source is exhausted. Read
// errors other than end of input are returned as is and end the sequence.
func (c *Chunker) Next() ([]byte, error) {
	if c.done {
		return nil, io.EOF
	}

	buf := make([]byte, c.size)
	n, err := io.ReadFull(c.src, buf)

	switch {
	case err == nil:
	case errors.Is(err, io.ErrUnexpectedEOF):
		c.done = true
	case errors.Is(err, io.EOF):
		c.done = true
		return nil, io.EOF
	default:
		c.done = true
		return nil, err
	}

	c.chunks++
	c.bytes += int64(n)

	return buf[:n], nil
}

// Chunks returns the number of chunks produced so far
func (c *Chunker) Chunks() int {
	return c.chunks
}

// Bytes returns the number of bytes produced so far
func (c *Chunker) Bytes() int64 {
	return c.bytes
}

// ChunkCount returns ceil(n/size), the number of chunks n bytes split into
func ChunkCount(n, size int) int {
	if n <= 0 || size <= 0 {
		return 0
	}
	return (n + size - 1) / size
}

// SplitChunks splits data into size-byte slices that share data's backing
// array. The last slice holds the remainder.
func SplitChunks(data []byte, size int) [][]byte {
	if size <= 0 {
		return nil
	}

	chunks := make([][]byte, 0, ChunkCount(len(data), size))
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		chunks = append(chunks, data[start:end])
	}
	return chunks
}
