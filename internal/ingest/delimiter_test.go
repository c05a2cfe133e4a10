package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textValues(t *testing.T, payloads []Payload) []string {
	t.Helper()
	out := make([]string, 0, len(payloads))
	for _, p := range payloads {
		tp, ok := p.(*TextPayload)
		require.True(t, ok, "payload %T", p)
		assert.Equal(t, TextKey, tp.Key)
		out = append(out, string(tp.Value))
	}
	return out
}

func TestDelimiterFramer(t *testing.T) {
	tests := []struct {
		name     string
		sep      string
		input    string
		want     []string
		consumed int
		status   Status
	}{
		{name: "all terminated", sep: ";", input: "a;b;c;", want: []string{"a", "b", "c"}, consumed: 6, status: StatusComplete},
		{name: "unterminated tail", sep: ";", input: "a;b;c", want: []string{"a", "b"}, consumed: 4, status: StatusComplete},
		{name: "leading separator stops scan", sep: ";", input: ";x", want: []string{}, consumed: 0, status: StatusPartial},
		{name: "empty segment mid-buffer stops scan", sep: ";", input: "a;;b;", want: []string{"a"}, consumed: 2, status: StatusComplete},
		{name: "no separator yet", sep: "\n", input: "partial line", want: []string{}, consumed: 0, status: StatusPartial},
		{name: "empty buffer", sep: "\n", input: "", want: []string{}, consumed: 0, status: StatusEmpty},
		{name: "multi-byte separator", sep: "\r\n", input: "one\r\ntwo\r\nthr", want: []string{"one", "two"}, consumed: 10, status: StatusComplete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewDelimiterFramer(tt.sep)
			require.NoError(t, err)

			res := f.Frame([]byte(tt.input))
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.consumed, res.Consumed)
			assert.Equal(t, tt.want, textValues(t, res.Payloads))
			assert.LessOrEqual(t, res.Consumed, len(tt.input))
		})
	}
}

func TestDelimiterFramer_SegmentsDoNotAliasBuffer(t *testing.T) {
	f, err := NewDelimiterFramer(";")
	require.NoError(t, err)

	buf := []byte("abc;")
	res := f.Frame(buf)
	copy(buf, "zzz")
	assert.Equal(t, []string{"abc"}, textValues(t, res.Payloads))
}

func TestNewDelimiterFramer_EmptySeparator(t *testing.T) {
	_, err := NewDelimiterFramer("")
	require.Error(t, err)
}

func TestUnescapeSeparator(t *testing.T) {
	got, err := UnescapeSeparator(`\r\n`)
	require.NoError(t, err)
	assert.Equal(t, "\r\n", got)

	got, err = UnescapeSeparator("|")
	require.NoError(t, err)
	assert.Equal(t, "|", got)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("none")
	require.NoError(t, err)
	assert.Equal(t, FormatDelimited, f)

	// same names the config validator accepts
	for _, name := range []string{"xml", "JSON", "delimited", "text", " none"} {
		_, err = ParseFormat(name)
		assert.Error(t, err, name)
	}
}
