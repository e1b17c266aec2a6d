package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestStartSignalMarshal(t *testing.T) {
	tests := []struct {
		name     string
		signal   StartSignal
		expected string
	}{
		{
			name:     "online without chunking",
			signal:   NewStartSignal(ModeOnline, "t.wav"),
			expected: `{"mode":"online","wav_name":"t.wav","is_speaking":true}`,
		},
		{
			name:     "2pass with chunking",
			signal:   NewStartSignal(Mode2Pass, "s.wav").WithChunking([]int{5, 10, 5}, 10),
			expected: `{"mode":"2pass","wav_name":"s.wav","is_speaking":true,"chunk_size":[5,10,5],"chunk_interval":10}`,
		},
		{
			name: "hotwords",
			signal: StartSignal{
				Mode: ModeOnline, WavName: "h.wav", IsSpeaking: true, Hotwords: "阿里巴巴 20",
			},
			expected: `{"mode":"online","wav_name":"h.wav","is_speaking":true,"hotwords":"阿里巴巴 20"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.signal.Marshal()
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if string(data) != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, data)
			}
		})
	}
}

func TestStartSignalValidate(t *testing.T) {
	tests := []struct {
		name     string
		signal   StartSignal
		errorMsg string
	}{
		{name: "unknown mode", signal: NewStartSignal("offline", "a.wav"), errorMsg: "mode must be"},
		{name: "empty wav name", signal: NewStartSignal(ModeOnline, ""), errorMsg: "wav_name"},
		{name: "not speaking", signal: StartSignal{Mode: ModeOnline, WavName: "a.wav"}, errorMsg: "is_speaking"},
		{name: "short chunk size", signal: NewStartSignal(Mode2Pass, "a.wav").WithChunking([]int{5, 10}, 10), errorMsg: "3 elements"},
		{name: "negative chunk size", signal: NewStartSignal(Mode2Pass, "a.wav").WithChunking([]int{5, -1, 5}, 10), errorMsg: "chunk_size[1]"},
		{name: "negative interval", signal: NewStartSignal(Mode2Pass, "a.wav").WithChunking([]int{5, 10, 5}, -1), errorMsg: "chunk_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.signal.Validate()
			if err == nil {
				t.Fatal("Expected error but got none")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestWithChunkingCopies(t *testing.T) {
	sizes := []int{5, 10, 5}
	signal := NewStartSignal(Mode2Pass, "a.wav").WithChunking(sizes, 10)
	sizes[0] = 99

	if signal.ChunkSize[0] != 5 {
		t.Errorf("Expected chunk_size to be copied, got %v", signal.ChunkSize)
	}
}

func TestEndSignalMarshal(t *testing.T) {
	data, err := EndSignal{IsSpeaking: true}.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `{"is_speaking":false}` {
		t.Errorf("Expected end signal, got %s", data)
	}
}

func TestParseControl(t *testing.T) {
	start, _ := json.Marshal(NewStartSignal(Mode2Pass, "x.wav").WithChunking([]int{5, 10, 5}, 10))

	tests := []struct {
		name        string
		data        string
		expected    ControlKind
		expectError bool
	}{
		{name: "start", data: string(start), expected: ControlStart},
		{name: "end", data: `{"is_speaking":false}`, expected: ControlEnd},
		{name: "no is_speaking", data: `{"hello":"world"}`, expected: ControlUnknown},
		{name: "start without mode", data: `{"is_speaking":true,"wav_name":"a"}`, expected: ControlUnknown, expectError: true},
		{name: "not json", data: `not json`, expected: ControlUnknown, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, signal, err := ParseControl([]byte(tt.data))
			if tt.expectError != (err != nil) {
				t.Fatalf("Expected error=%v, got %v", tt.expectError, err)
			}
			if kind != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, kind)
			}
			if kind == ControlStart && (signal == nil || signal.Mode != Mode2Pass || signal.ChunkInterval != 10) {
				t.Errorf("Expected decoded 2pass start signal, got %+v", signal)
			}
		})
	}
}
