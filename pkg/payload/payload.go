package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Decode failure reasons.
const (
	ReasonInvalidUTF8 = "invalid_utf8"
	ReasonInvalidJSON = "invalid_json"
)

// Message is a decoded telemetry document. The bridge never interprets Value;
// it forwards Raw unchanged.
type Message struct {
	// Value holds the decoded JSON value: map[string]any, []any, string,
	// json.Number, bool or nil.
	Value any
	// Raw is a copy of the bytes the message was decoded from.
	Raw []byte
}

// MarshalJSON returns Raw when it is set and otherwise encodes Value.
// Numbers in Value keep their original textual form because Decode uses
// json.Number.
func (m Message) MarshalJSON() ([]byte, error) {
	if m.Raw != nil {
		return m.Raw, nil
	}
	return json.Marshal(m.Value)
}

// DecodeError is returned when a payload is not well formed UTF-8 JSON.
type DecodeError struct {
	Reason string
	Size   int
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode payload (%s, %d bytes): %v", e.Reason, e.Size, e.Err)
	}
	return fmt.Sprintf("decode payload (%s, %d bytes)", e.Reason, e.Size)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode interprets raw as UTF-8 text and then as a single JSON value.
// Any JSON value is accepted: objects, arrays and scalars all pass through.
func Decode(raw []byte) (Message, error) {
	if !utf8.Valid(raw) {
		return Message{}, &DecodeError{Reason: ReasonInvalidUTF8, Size: len(raw)}
	}
	// json.Valid rejects trailing data that a streaming decoder would leave unread.
	if !json.Valid(raw) {
		return Message{}, &DecodeError{Reason: ReasonInvalidJSON, Size: len(raw), Err: syntaxError(raw)}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Message{}, &DecodeError{Reason: ReasonInvalidJSON, Size: len(raw), Err: err}
	}

	rawCopy := make([]byte, len(raw))
	copy(rawCopy, raw)
	return Message{Value: v, Raw: rawCopy}, nil
}

// syntaxError recovers the positional error json.Valid does not report.
func syntaxError(raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return fmt.Errorf("unexpected data after top-level value")
}
