package ingest

import "errors"

var (
	// ErrIncompleteInput means the buffer does not hold a complete record yet.
	// Buffered bytes are kept for the next read event.
	ErrIncompleteInput = errors.New("incomplete input, waiting for more data")

	// ErrMalformedInput means the buffered bytes cannot be parsed in the
	// configured format. The buffered batch has been discarded.
	ErrMalformedInput = errors.New("malformed input")

	// ErrCapacityExceeded means growing the buffer would exceed its ceiling.
	ErrCapacityExceeded = errors.New("buffer capacity exceeded")

	// ErrIO means the read failed or the peer went away.
	ErrIO = errors.New("read failed")

	// ErrAllocation means the connection could not be set up.
	ErrAllocation = errors.New("connection allocation failed")
)

// IsFatal reports whether err requires the host to tear the connection down.
// Incomplete and malformed input are recovered by the connection itself.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrIncompleteInput) && !errors.Is(err, ErrMalformedInput)
}
