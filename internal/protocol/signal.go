package protocol

import (
	"encoding/json"
	"fmt"
)

// Mode selects the recognition pipeline requested by the StartSignal
type Mode string

const (
	ModeOnline Mode = "online"
	Mode2Pass  Mode = "2pass"
)

// ParseMode validates a mode name coming from flags or configuration
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeOnline, Mode2Pass:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("mode must be 'online' or '2pass', got '%s'", s)
	}
}

// StartSignal opens a recognition session. The chunking fields are optional:
// the two client variants seen in the field disagree on them, so they are
// omitted from the wire when unset.
type StartSignal struct {
	Mode          Mode   `json:"mode"`
	WavName       string `json:"wav_name"`
	IsSpeaking    bool   `json:"is_speaking"`
	ChunkSize     []int  `json:"chunk_size,omitempty"`
	ChunkInterval int    `json:"chunk_interval,omitempty"`
	Hotwords      string `json:"hotwords,omitempty"`
}

// EndSignal closes the utterance opened by a StartSignal
type EndSignal struct {
	IsSpeaking bool `json:"is_speaking"`
}

// NewStartSignal creates a StartSignal without chunking parameters
func NewStartSignal(mode Mode, wavName string) StartSignal {
	return StartSignal{
		Mode:       mode,
		WavName:    wavName,
		IsSpeaking: true,
	}
}

// WithChunking returns a copy carrying chunk_size and chunk_interval
func (s StartSignal) WithChunking(chunkSize []int, chunkInterval int) StartSignal {
	s.ChunkSize = append([]int(nil), chunkSize...)
	s.ChunkInterval = chunkInterval
	return s
}

// Validate checks the signal before it goes on the wire
func (s StartSignal) Validate() error {
	if _, err := ParseMode(string(s.Mode)); err != nil {
		return err
	}

	if s.WavName == "" {
		return fmt.Errorf("wav_name cannot be empty")
	}

	if !s.IsSpeaking {
		return fmt.Errorf("is_speaking must be true in a start signal")
	}

	if len(s.ChunkSize) != 0 && len(s.ChunkSize) != 3 {
		return fmt.Errorf("chunk_size must have 3 elements, got %d", len(s.ChunkSize))
	}
	for i, v := range s.ChunkSize {
		if v < 0 {
			return fmt.Errorf("chunk_size[%d] cannot be negative, got %d", i, v)
		}
	}

	if s.ChunkInterval < 0 {
		return fmt.Errorf("chunk_interval cannot be negative, got %d", s.ChunkInterval)
	}

	return nil
}

// Marshal validates and encodes the signal as a JSON text message
func (s StartSignal) Marshal() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid start signal: %w", err)
	}
	return json.Marshal(s)
}

// Marshal encodes the end signal; is_speaking is always false
func (EndSignal) Marshal() ([]byte, error) {
	return json.Marshal(EndSignal{IsSpeaking: false})
}

// ControlKind classifies a client text message
type ControlKind int

const (
	ControlUnknown ControlKind = iota
	ControlStart
	ControlEnd
)

// String returns the control kind name used in transcripts and logs
func (k ControlKind) String() string {
	switch k {
	case ControlStart:
		return "start"
	case ControlEnd:
		return "end"
	default:
		return "unknown"
	}
}

// ParseControl classifies a text message sent by a client. The decoded
// StartSignal is only returned for ControlStart.
func ParseControl(data []byte) (ControlKind, *StartSignal, error) {
	var probe struct {
		IsSpeaking *bool `json:"is_speaking"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ControlUnknown, nil, fmt.Errorf("failed to parse control message: %w", err)
	}

	if probe.IsSpeaking == nil {
		return ControlUnknown, nil, nil
	}

	if !*probe.IsSpeaking {
		return ControlEnd, nil, nil
	}

	var start StartSignal
	if err := json.Unmarshal(data, &start); err != nil {
		return ControlUnknown, nil, fmt.Errorf("failed to parse start signal: %w", err)
	}
	if err := start.Validate(); err != nil {
		return ControlUnknown, nil, fmt.Errorf("invalid start signal: %w", err)
	}

	return ControlStart, &start, nil
}

// String returns a human-readable representation of the start signal
func (s StartSignal) String() string {
	return fmt.Sprintf("StartSignal{Mode:%s, WavName:%q, ChunkSize:%v, ChunkInterval:%d, Hotwords:%q}",
		s.Mode, s.WavName, s.ChunkSize, s.ChunkInterval, s.Hotwords)
}
