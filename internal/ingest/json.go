package ingest

import (
	"fmt"

	"github.com/valyala/fastjson"
)

// JSONFramer incrementally locates top-level JSON values in the buffer.
//
// The scanner tracks string and container nesting so it can stop in the
// middle of a value and resume from the same byte on the next call. Each
// complete value is parsed with fastjson and normalized into a payload.
type JSONFramer struct {
	// multiple is sticky: Reset keeps it.
	multiple bool

	cursor   int
	start    int
	stack    []byte
	inString bool
	escaped  bool
	tokens   int
	lastByte int
	payloads []Payload
}

// NewJSONFramer returns a framer expecting multiple concatenated values.
func NewJSONFramer() *JSONFramer {
	f := &JSONFramer{multiple: true}
	f.Reset()
	return f
}

// SetMultiple switches between stopping after the first complete value and
// scanning every value in the buffer.
func (f *JSONFramer) SetMultiple(multiple bool) { f.multiple = multiple }

// Multiple reports whether the framer scans for more than one value.
func (f *JSONFramer) Multiple() bool { return f.multiple }

// Tokens returns the number of top-level values completed since Reset.
func (f *JSONFramer) Tokens() int { return f.tokens }

// Cursor returns the offset of the next byte to scan.
func (f *JSONFramer) Cursor() int { return f.cursor }

// Reset rewinds the scanner to the start of the buffer.
func (f *JSONFramer) Reset() {
	f.cursor = 0
	f.start = -1
	f.stack = f.stack[:0]
	f.inString = false
	f.escaped = false
	f.tokens = 0
	f.lastByte = 0
	f.payloads = nil
}

// Frame scans buf from the saved cursor. buf must start with the same bytes
// the previous call saw unless Reset was called in between.
func (f *JSONFramer) Frame(buf []byte) Result {
	for f.cursor < len(buf) {
		if !f.multiple && f.tokens > 0 {
			break
		}
		c := buf[f.cursor]

		if f.start < 0 {
			switch c {
			case ' ', '\t', '\r', '\n':
				f.cursor++
				continue
			case '{', '[':
				f.start = f.cursor
				f.stack = append(f.stack[:0], c)
				f.cursor++
				continue
			default:
				return f.malformed(fmt.Errorf("%w: unexpected %q at offset %d", errNotContainer, c, f.cursor))
			}
		}

		if f.inString {
			switch {
			case f.escaped:
				f.escaped = false
			case c == '\\':
				f.escaped = true
			case c == '"':
				f.inString = false
			}
			f.cursor++
			continue
		}

		switch c {
		case '"':
			f.inString = true
		case '{', '[':
			f.stack = append(f.stack, c)
		case '}', ']':
			open := f.stack[len(f.stack)-1]
			if (c == '}' && open != '{') || (c == ']' && open != '[') {
				return f.malformed(fmt.Errorf("mismatched %q at offset %d", c, f.cursor))
			}
			f.stack = f.stack[:len(f.stack)-1]
			if len(f.stack) == 0 {
				if err := f.complete(buf[f.start : f.cursor+1]); err != nil {
					return f.malformed(err)
				}
				f.lastByte = f.cursor + 1
				f.start = -1
			}
		}
		f.cursor++
	}

	if f.tokens > 0 {
		return Result{Payloads: f.payloads, Consumed: f.lastByte, Status: StatusComplete}
	}
	if f.start < 0 {
		return Result{Status: StatusEmpty}
	}
	return Result{Status: StatusPartial}
}

func (f *JSONFramer) complete(raw []byte) error {
	v, err := fastjson.ParseBytes(raw)
	if err != nil {
		return err
	}
	payload, err := NormalizeJSON(v)
	if err != nil {
		return err
	}
	f.payloads = append(f.payloads, payload)
	f.tokens++
	return nil
}

func (f *JSONFramer) malformed(err error) Result {
	f.payloads = nil
	return Result{Status: StatusMalformed, Err: err}
}
