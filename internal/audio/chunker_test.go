package audio

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"
)

func collect(t *testing.T, c *Chunker) [][]byte {
	t.Helper()

	var chunks [][]byte
	for {
		chunk, err := c.Next()
		if errors.Is(err, io.EOF) {
			return chunks
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		chunks = append(chunks, chunk)
	}
}

func TestChunkerCompleteness(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		size      int
		chunks    int
		lastChunk int
	}{
		{name: "exact multiple", total: 16000, size: 3200, chunks: 5, lastChunk: 3200},
		{name: "remainder", total: 10000, size: 3200, chunks: 4, lastChunk: 400},
		{name: "smaller than chunk", total: 100, size: 3200, chunks: 1, lastChunk: 100},
		{name: "empty", total: 0, size: 3200, chunks: 0},
		{name: "single byte chunks", total: 7, size: 1, chunks: 7, lastChunk: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, tt.total)
			for i := range data {
				data[i] = byte(i % 251)
			}

			c, err := NewChunker(bytes.NewReader(data), tt.size)
			if err != nil {
				t.Fatalf("NewChunker failed: %v", err)
			}

			chunks := collect(t, c)
			if len(chunks) != tt.chunks {
				t.Fatalf("Expected %d chunks, got %d", tt.chunks, len(chunks))
			}
			if ChunkCount(tt.total, tt.size) != tt.chunks {
				t.Errorf("ChunkCount(%d, %d) = %d, want %d", tt.total, tt.size, ChunkCount(tt.total, tt.size), tt.chunks)
			}
			if tt.chunks > 0 && len(chunks[len(chunks)-1]) != tt.lastChunk {
				t.Errorf("Expected last chunk of %d bytes, got %d", tt.lastChunk, len(chunks[len(chunks)-1]))
			}
			if !bytes.Equal(bytes.Join(chunks, nil), data) {
				t.Error("Concatenated chunks differ from source")
			}
			if c.Chunks() != tt.chunks || c.Bytes() != int64(tt.total) {
				t.Errorf("Expected counters %d/%d, got %d/%d", tt.chunks, tt.total, c.Chunks(), c.Bytes())
			}
		})
	}
}

func TestChunkerShortReads(t *testing.T) {
	data := make([]byte, 16000)
	c, _ := NewChunker(iotest.HalfReader(bytes.NewReader(data)), 3200)

	chunks := collect(t, c)
	if len(chunks) != 5 {
		t.Fatalf("Expected 5 chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) != 3200 {
			t.Errorf("Chunk %d: expected 3200 bytes, got %d", i, len(chunk))
		}
	}
}

func TestChunkerSourceError(t *testing.T) {
	boom := errors.New("disk gone")
	src := io.MultiReader(bytes.NewReader(make([]byte, 3200)), iotest.ErrReader(boom))

	c, _ := NewChunker(src, 3200)

	if _, err := c.Next(); err != nil {
		t.Fatalf("First chunk failed: %v", err)
	}
	if _, err := c.Next(); !errors.Is(err, boom) {
		t.Fatalf("Expected source error, got %v", err)
	}
	if _, err := c.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF after error, got %v", err)
	}
}

func TestNewChunkerInvalid(t *testing.T) {
	if _, err := NewChunker(bytes.NewReader(nil), 0); err == nil {
		t.Error("Expected error for zero chunk size")
	}
	if _, err := NewChunker(nil, 10); err == nil {
		t.Error("Expected error for nil source")
	}
}

func TestSplitChunks(t *testing.T) {
	data := make([]byte, 10000)
	chunks := SplitChunks(data, 3200)

	if len(chunks) != 4 {
		t.Fatalf("Expected 4 chunks, got %d", len(chunks))
	}
	if len(chunks[3]) != 400 {
		t.Errorf("Expected last chunk of 400 bytes, got %d", len(chunks[3]))
	}
	if SplitChunks(nil, 3200) == nil {
		t.Error("Expected empty slice, got nil")
	}
	if SplitChunks(data, 0) != nil {
		t.Error("Expected nil for invalid size")
	}
}
