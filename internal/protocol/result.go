package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrMalformedResult is returned for payloads that are not a UTF-8 JSON object
// or that carry a known field with the wrong type
var ErrMalformedResult = errors.New("malformed result")

// ResultKind classifies a server message
type ResultKind int

const (
	ResultControl ResultKind = iota // no text field
	ResultPartial
	ResultFinal
)

// String returns the kind name used in logs and metric labels
func (k ResultKind) String() string {
	switch k {
	case ResultPartial:
		return "partial"
	case ResultFinal:
		return "final"
	default:
		return "control"
	}
}

// RecognitionResult is a decoded server message. Optional fields are pointers
// so that absence stays distinguishable from the zero value. All fields,
// known or not, are kept in Fields.
type RecognitionResult struct {
	Text    *string
	IsFinal *bool
	Success *bool
	Error   string
	Mode    string
	WavName string

	Fields map[string]json.RawMessage
}

// ParseResult decodes a server message
func ParseResult(data []byte) (*RecognitionResult, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: payload is not valid UTF-8", ErrMalformedResult)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrMalformedResult)
	}

	result := &RecognitionResult{Fields: fields}

	var text string
	ok, err := decodeField(fields, "text", &text)
	if err != nil {
		return nil, err
	}
	if ok {
		result.Text = &text
	}

	var isFinal bool
	if ok, err = decodeField(fields, "is_final", &isFinal); err != nil {
		return nil, err
	}
	if ok {
		result.IsFinal = &isFinal
	}

	var success bool
	if ok, err = decodeField(fields, "success", &success); err != nil {
		return nil, err
	}
	if ok {
		result.Success = &success
	}

	if _, err := decodeField(fields, "error", &result.Error); err != nil {
		return nil, err
	}
	if _, err := decodeField(fields, "mode", &result.Mode); err != nil {
		return nil, err
	}
	if _, err := decodeField(fields, "wav_name", &result.WavName); err != nil {
		return nil, err
	}

	return result, nil
}

// decodeField decodes fields[name] into dst. A missing key or an explicit
// null counts as absent.
func decodeField(fields map[string]json.RawMessage, name string, dst any) (bool, error) {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("%w: field %q: %v", ErrMalformedResult, name, err)
	}
	return true, nil
}

// HasText reports whether the message carries a transcript
func (r *RecognitionResult) HasText() bool {
	return r.Text != nil
}

// GetText returns the transcript or "" for control messages
func (r *RecognitionResult) GetText() string {
	if r.Text == nil {
		return ""
	}
	return *r.Text
}

// Final reports whether the result is settled. A missing is_final counts as
// final.
func (r *RecognitionResult) Final() bool {
	return r.IsFinal == nil || *r.IsFinal
}

// Succeeded reports whether the server set success to true
func (r *RecognitionResult) Succeeded() bool {
	return r.Success != nil && *r.Success
}

// Kind classifies the message as control, partial or final
func (r *RecognitionResult) Kind() ResultKind {
	if !r.HasText() {
		return ResultControl
	}
	if r.Final() {
		return ResultFinal
	}
	return ResultPartial
}

// MarshalJSON re-encodes every received field
func (r *RecognitionResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Fields)
}

// String returns a human-readable representation of the result
func (r *RecognitionResult) String() string {
	data, err := r.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("RecognitionResult{Kind:%s, Text:%q}", r.Kind(), r.GetText())
	}
	return string(data)
}
