package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// payloadMaps encodes payloads through the batch encoder and decodes them
// back, which is how the sink sees them.
func payloadMaps(t *testing.T, payloads []Payload) []map[string]any {
	t.Helper()
	records := make([]Record, len(payloads))
	for i, p := range payloads {
		records[i] = Record{Time: fixedTime, Payload: p}
	}
	blob, err := EncodeBatch(records)
	require.NoError(t, err)
	decoded, err := DecodeBatch(blob)
	require.NoError(t, err)

	out := make([]map[string]any, 0, len(decoded))
	for _, d := range decoded {
		out = append(out, d.Payload)
	}
	return out
}

func TestJSONFramer_SingleObject(t *testing.T) {
	f := NewJSONFramer()
	input := []byte(`{"a":1}`)

	res := f.Frame(input)
	require.Equal(t, StatusComplete, res.Status)
	assert.Equal(t, len(input), res.Consumed)
	assert.Equal(t, []map[string]any{{"a": int64(1)}}, payloadMaps(t, res.Payloads))

	f.Reset()
	assert.True(t, f.Multiple())
	assert.Zero(t, f.Cursor())
	assert.Zero(t, f.Tokens())
}

func TestJSONFramer_ArrayIsWrapped(t *testing.T) {
	res := NewJSONFramer().Frame([]byte(`[1,2]`))
	require.Equal(t, StatusComplete, res.Status)
	assert.Equal(t, 5, res.Consumed)
	assert.Equal(t,
		[]map[string]any{{"msg": []any{int64(1), int64(2)}}},
		payloadMaps(t, res.Payloads))
}

func TestJSONFramer_ConcatenatedValues(t *testing.T) {
	input := []byte(`{"a":"x"} [true,null]` + "\n" + `{"b":{"c":[1.5,-2]}}`)
	res := NewJSONFramer().Frame(input)

	require.Equal(t, StatusComplete, res.Status)
	assert.Equal(t, len(input), res.Consumed)
	assert.Equal(t, []map[string]any{
		{"a": "x"},
		{"msg": []any{true, nil}},
		{"b": map[string]any{"c": []any{1.5, int64(-2)}}},
	}, payloadMaps(t, res.Payloads))
}

func TestJSONFramer_StructuralBytesInsideStrings(t *testing.T) {
	input := []byte(`{"k":"}]{[\"\\"}`)
	res := NewJSONFramer().Frame(input)

	require.Equal(t, StatusComplete, res.Status)
	assert.Equal(t, len(input), res.Consumed)
	assert.Equal(t, []map[string]any{{"k": `}]{["\`}}, payloadMaps(t, res.Payloads))
}

func TestJSONFramer_PartialResumesFromCursor(t *testing.T) {
	f := NewJSONFramer()
	full := []byte(`{"msg":"hello","n":42}`)

	res := f.Frame(full[:9])
	require.Equal(t, StatusPartial, res.Status)
	assert.Zero(t, res.Consumed)
	assert.Empty(t, res.Payloads)
	assert.Equal(t, 9, f.Cursor(), "progress is kept")

	res = f.Frame(full)
	require.Equal(t, StatusComplete, res.Status)
	assert.Equal(t, len(full), res.Consumed)
	assert.Equal(t, []map[string]any{{"msg": "hello", "n": int64(42)}}, payloadMaps(t, res.Payloads))
}

func TestJSONFramer_CompleteValuesBeforePartialTail(t *testing.T) {
	input := []byte(`{"a":1}{"b":`)
	res := NewJSONFramer().Frame(input)

	require.Equal(t, StatusComplete, res.Status)
	assert.Equal(t, 7, res.Consumed, "the unterminated value stays buffered")
	assert.Len(t, res.Payloads, 1)
}

func TestJSONFramer_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "top-level string", input: `"oops"`},
		{name: "top-level number", input: `42`},
		{name: "garbage", input: `hello`},
		{name: "mismatched brackets", input: `{"a":[1}`},
		{name: "invalid object body", input: `{"a" 1}`},
		{name: "bad value after good one", input: `{"a":1}"oops"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewJSONFramer().Frame([]byte(tt.input))
			assert.Equal(t, StatusMalformed, res.Status)
			assert.Empty(t, res.Payloads)
			assert.Zero(t, res.Consumed)
			assert.Error(t, res.Err)
		})
	}
}

func TestJSONFramer_EmptyAndWhitespace(t *testing.T) {
	f := NewJSONFramer()
	assert.Equal(t, StatusEmpty, f.Frame(nil).Status)
	assert.Equal(t, StatusEmpty, f.Frame([]byte(" \r\n\t")).Status)
}

func TestJSONFramer_SingleValueMode(t *testing.T) {
	f := NewJSONFramer()
	f.SetMultiple(false)

	res := f.Frame([]byte(`{"a":1}{"b":2}`))
	require.Equal(t, StatusComplete, res.Status)
	assert.Equal(t, 7, res.Consumed)
	assert.Len(t, res.Payloads, 1)

	f.Reset()
	assert.False(t, f.Multiple(), "mode survives Reset")
}
