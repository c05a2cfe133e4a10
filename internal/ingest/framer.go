package ingest

import (
	"fmt"
	"strconv"
	"strings"
)

// Format selects the framing strategy of a connection.
type Format int

const (
	FormatJSON Format = iota
	FormatDelimited
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatDelimited:
		return "none"
	default:
		return "format(" + strconv.Itoa(int(f)) + ")"
	}
}

// ParseFormat maps a configured format name to a Format. "none" selects the
// delimited text framer; an empty name means "json".
func ParseFormat(s string) (Format, error) {
	switch s {
	case "json", "":
		return FormatJSON, nil
	case "none":
		return FormatDelimited, nil
	default:
		return 0, fmt.Errorf("unknown format %q", s)
	}
}

// Status is the outcome of one framing pass.
type Status int

const (
	StatusEmpty Status = iota
	StatusPartial
	StatusComplete
	StatusMalformed
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusPartial:
		return "partial"
	case StatusComplete:
		return "complete"
	case StatusMalformed:
		return "malformed"
	default:
		return "status(" + strconv.Itoa(int(s)) + ")"
	}
}

// Result is what a framer extracted from the buffer.
type Result struct {
	Payloads []Payload
	// Consumed is the number of leading buffer bytes covered by Payloads.
	Consumed int
	Status   Status
	// Err describes a malformed buffer.
	Err error
}

// Framer extracts records from buffered bytes.
//
// Frame is called with the full buffer content on every read event and must
// not retain buf. Reset drops any progress kept between calls.
type Framer interface {
	Frame(buf []byte) Result
	Reset()
}

// NewFramer returns the framer for format.
func NewFramer(format Format, separator string) (Framer, error) {
	switch format {
	case FormatJSON:
		return NewJSONFramer(), nil
	case FormatDelimited:
		return NewDelimiterFramer(separator)
	default:
		return nil, fmt.Errorf("unsupported format %v", format)
	}
}

// UnescapeSeparator interprets Go escape sequences such as \n or \r\n in a
// configured separator.
func UnescapeSeparator(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	out, err := strconv.Unquote(`"` + strings.ReplaceAll(s, `"`, `\"`) + `"`)
	if err != nil {
		return "", fmt.Errorf("separator %q: %w", s, err)
	}
	return out, nil
}
