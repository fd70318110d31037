package payload

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_AcceptsAnyJSONValue(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
	}{
		{name: "object", raw: `{"temp": 21.5}`},
		{name: "nested object", raw: `{"device":{"id":"abc","readings":[1,2,3]},"ok":true}`},
		{name: "array", raw: `[1, "two", null]`},
		{name: "string", raw: `"hello"`},
		{name: "number", raw: `42`},
		{name: "null", raw: `null`},
		{name: "unicode", raw: `{"site":"Zürich ☀"}`},
		{name: "surrounding whitespace", raw: " \n{\"a\":1}\t "},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := Decode([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, []byte(tc.raw), msg.Raw)

			out, err := json.Marshal(msg)
			require.NoError(t, err)
			assert.JSONEq(t, tc.raw, string(out), "re-serialized value should be identical to the input")
		})
	}
}

func TestDecode_PreservesNumberText(t *testing.T) {
	msg, err := Decode([]byte(`{"big": 12345678901234567890, "temp": 21.50}`))
	require.NoError(t, err)

	out, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(out), "12345678901234567890")
	assert.Contains(t, string(out), "21.50")
}

func TestDecode_Failures(t *testing.T) {
	testCases := []struct {
		name   string
		raw    []byte
		reason string
	}{
		{name: "invalid json", raw: []byte("{invalid json"), reason: ReasonInvalidJSON},
		{name: "empty", raw: []byte{}, reason: ReasonInvalidJSON},
		{name: "trailing data", raw: []byte(`{"a":1} {"b":2}`), reason: ReasonInvalidJSON},
		{name: "plain text", raw: []byte("HTTP Uploader Heartbeat"), reason: ReasonInvalidJSON},
		{name: "invalid utf8", raw: []byte{'"', 0xff, 0xfe, '"'}, reason: ReasonInvalidUTF8},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := Decode(tc.raw)
			require.Error(t, err)
			assert.Nil(t, msg.Value)

			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr))
			assert.Equal(t, tc.reason, decodeErr.Reason)
			assert.Equal(t, len(tc.raw), decodeErr.Size)
		})
	}
}

func TestDecode_CopiesInput(t *testing.T) {
	raw := []byte(`{"a":1}`)
	msg, err := Decode(raw)
	require.NoError(t, err)

	raw[2] = 'b'
	assert.Equal(t, `{"a":1}`, string(msg.Raw))
}

func TestMessage_MarshalJSONReturnsRawBytes(t *testing.T) {
	raw := `{"z": "<b>a & b</b>", "a": 1, "a": 2}`
	msg, err := Decode([]byte(raw))
	require.NoError(t, err)

	out, err := msg.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, raw, string(out), "key order, duplicates and markup are kept")

	built := Message{Value: map[string]any{"a": json.Number("1")}}
	out, err = built.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(out))
}
