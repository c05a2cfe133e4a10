package ingest

import "fmt"

// Buffer is a growable contiguous byte arena with a hard capacity ceiling.
// One byte past the buffered data is always kept as a NUL pad, so the
// buffered length is strictly less than the capacity.
type Buffer struct {
	data   []byte
	length int
	chunk  int
	max    int
}

// NewBuffer allocates a buffer of chunk bytes that may grow by chunk
// increments up to max bytes.
func NewBuffer(chunk, max int) (*Buffer, error) {
	if chunk <= 1 || max < chunk {
		return nil, fmt.Errorf("%w: chunk size %d, max capacity %d", ErrAllocation, chunk, max)
	}
	return &Buffer{
		data:  make([]byte, chunk),
		chunk: chunk,
		max:   max,
	}, nil
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int { return b.length }

// Cap returns the allocated size, pad byte included.
func (b *Buffer) Cap() int { return len(b.data) }

// Bytes returns the buffered bytes. The slice is only valid until the next
// mutating call.
func (b *Buffer) Bytes() []byte { return b.data[:b.length] }

// Tail returns the writable space after the buffered bytes, excluding the
// pad byte.
func (b *Buffer) Tail() []byte { return b.data[b.length : len(b.data)-1] }

// EnsureCapacity makes room for additional bytes plus the pad byte.
func (b *Buffer) EnsureCapacity(additional int) error {
	required := b.length + additional + 1
	if required <= len(b.data) {
		return nil
	}
	if required > b.max {
		return fmt.Errorf("%w: need %d bytes, limit %d", ErrCapacityExceeded, required, b.max)
	}

	size := len(b.data)
	for size < required {
		size += b.chunk
	}
	if size > b.max {
		size = b.max
	}

	grown := make([]byte, size)
	copy(grown, b.data[:b.length])
	b.data = grown
	b.pad()
	return nil
}

// Advance marks n bytes written into Tail as buffered.
func (b *Buffer) Advance(n int) {
	if n < 0 || b.length+n >= len(b.data) {
		panic(fmt.Sprintf("ingest: advance %d past buffer (len %d, cap %d)", n, b.length, len(b.data)))
	}
	b.length += n
	b.pad()
}

// Append copies p after the buffered bytes, growing the buffer if needed.
func (b *Buffer) Append(p []byte) error {
	if err := b.EnsureCapacity(len(p)); err != nil {
		return err
	}
	copy(b.data[b.length:], p)
	b.Advance(len(p))
	return nil
}

// ConsumePrefix drops the first n buffered bytes and shifts the rest to the
// start of the buffer.
func (b *Buffer) ConsumePrefix(n int) {
	if n < 0 || n > b.length {
		panic(fmt.Sprintf("ingest: consume %d of %d buffered bytes", n, b.length))
	}
	if n == 0 {
		return
	}
	copy(b.data, b.data[n:b.length])
	b.length -= n
	b.pad()
}

// Reset discards all buffered bytes. The allocation is kept.
func (b *Buffer) Reset() {
	b.length = 0
	b.pad()
}

func (b *Buffer) pad() {
	b.data[b.length] = 0
}
