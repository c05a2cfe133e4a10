package ingest

import (
	"bytes"
	"errors"
)

// DelimiterFramer splits buffered text on a separator. Every terminated
// segment becomes a {"log": segment} record; an unterminated tail stays
// buffered.
type DelimiterFramer struct {
	sep []byte
}

// NewDelimiterFramer returns a framer splitting on separator.
func NewDelimiterFramer(separator string) (*DelimiterFramer, error) {
	if separator == "" {
		return nil, errors.New("empty separator")
	}
	return &DelimiterFramer{sep: []byte(separator)}, nil
}

// Frame emits one record per terminated segment. A zero-length segment
// stops the scan: nothing after it is emitted in this pass.
func (f *DelimiterFramer) Frame(buf []byte) Result {
	var res Result
	rest := buf
	for {
		i := bytes.Index(rest, f.sep)
		if i <= 0 {
			break
		}
		res.Payloads = append(res.Payloads, &TextPayload{
			Key:   TextKey,
			Value: bytes.Clone(rest[:i]),
		})
		res.Consumed += i + len(f.sep)
		rest = rest[i+len(f.sep):]
	}

	switch {
	case res.Consumed > 0:
		res.Status = StatusComplete
	case len(buf) == 0:
		res.Status = StatusEmpty
	default:
		res.Status = StatusPartial
	}
	return res
}

// Reset is a no-op: the delimiter framer keeps no state between passes.
func (f *DelimiterFramer) Reset() {}
