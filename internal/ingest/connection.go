// Package ingest turns a stream of inbound datagrams into timestamped records.
//
// A Connection owns the per-peer state: an accumulating buffer bounded by a
// capacity ceiling and the framer selected by the configured format. Each
// read event reads once into the buffer, frames as many records as the
// buffer holds, encodes them into one MessagePack batch for the sink and
// compacts the buffer.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/akave-ai/dgramlog/internal/metrics"
)

// Sink receives one encoded batch per successful read event.
type Sink interface {
	Append(tag string, data []byte) error
}

// Config is the read-only configuration of a connection.
type Config struct {
	Tag         string
	Format      Format
	Separator   string
	ChunkSize   int
	MaxCapacity int
}

// Event reports what one read event did.
type Event struct {
	// BytesRead is the raw byte count of the read, for host accounting.
	BytesRead int
	Records   int
	Consumed  int
	Status    Status
}

// Option customizes a Connection.
type Option func(*Connection)

// WithClock replaces the wall clock used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(c *Connection) { c.now = now }
}

// WithLogger sets the connection logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Connection) { c.logger = logger }
}

// WithMetrics records read events in m.
func WithMetrics(m *metrics.Ingest) Option {
	return func(c *Connection) { c.metrics = m }
}

// Connection is the ingestion state of one peer. It is not safe for
// concurrent use: the host must drive one read event at a time.
type Connection struct {
	peer    string
	cfg     Config
	buf     *Buffer
	framer  Framer
	sink    Sink
	now     func() time.Time
	logger  zerolog.Logger
	metrics *metrics.Ingest
}

// NewConnection allocates the buffer and framer for a new peer.
func NewConnection(peer string, cfg Config, sink Sink, opts ...Option) (*Connection, error) {
	if sink == nil {
		return nil, fmt.Errorf("%w: nil sink", ErrAllocation)
	}
	buf, err := NewBuffer(cfg.ChunkSize, cfg.MaxCapacity)
	if err != nil {
		return nil, err
	}
	framer, err := NewFramer(cfg.Format, cfg.Separator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocation, err)
	}

	c := &Connection{
		peer:   peer,
		cfg:    cfg,
		buf:    buf,
		framer: framer,
		sink:   sink,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("peer", peer).Str("tag", cfg.Tag).Logger()
	c.metrics.Opened(cfg.Tag)
	return c, nil
}

// Peer returns the peer address the connection was created for.
func (c *Connection) Peer() string { return c.peer }

// Buffered returns the bytes kept for the next read event.
func (c *Connection) Buffered() []byte { return c.buf.Bytes() }

// Capacity returns the current buffer allocation.
func (c *Connection) Capacity() int { return c.buf.Cap() }

// OnReadable handles one readiness signal by reading once from r.
//
// A nil error means a batch was emitted. ErrIncompleteInput and
// ErrMalformedInput are recoverable; any other error is fatal and the host
// must Close the connection.
func (c *Connection) OnReadable(r io.Reader) (Event, error) {
	var ev Event

	// Only bytes read within one event are stitched together in JSON mode.
	if c.cfg.Format == FormatJSON && c.buf.Len() > 0 {
		c.logger.Trace().Int("discarded", c.buf.Len()).Msg("dropping stale JSON bytes")
		c.rearm()
	}

	if err := c.buf.EnsureCapacity(c.cfg.ChunkSize); err != nil {
		c.logger.Trace().Int("limit_kb", c.cfg.MaxCapacity/1024).Msg("incoming data exceed limit")
		return ev, err
	}

	n, err := r.Read(c.buf.Tail())
	if n <= 0 {
		if err == nil {
			err = io.ErrNoProgress
		}
		return ev, fmt.Errorf("%w: %w", ErrIO, err)
	}
	ev.BytesRead = n
	c.logger.Trace().Int("read", n).Int("pre_len", c.buf.Len()).Int("now_len", c.buf.Len()+n).Msg("read")
	c.buf.Advance(n)
	c.metrics.Read(c.cfg.Tag, n)

	if b := c.buf.Bytes(); b[0] == '\r' || b[0] == '\n' {
		c.logger.Trace().Uint8("code", b[0]).Msg("skip one byte message")
		c.buf.ConsumePrefix(1)
	}

	res := c.framer.Frame(c.buf.Bytes())
	ev.Status = res.Status
	switch res.Status {
	case StatusEmpty, StatusPartial:
		c.logger.Debug().Stringer("status", res.Status).Msg("incomplete input, waiting for more data")
		c.metrics.Incomplete(c.cfg.Tag)
		return ev, ErrIncompleteInput
	case StatusMalformed:
		return ev, c.discard(res.Err)
	}

	records := make([]Record, len(res.Payloads))
	for i, p := range res.Payloads {
		records[i] = Record{Time: c.now(), Payload: p}
	}
	blob, err := EncodeBatch(records)
	if err != nil {
		ev.Status = StatusMalformed
		return ev, c.discard(err)
	}
	if len(records) > 0 {
		if err := c.sink.Append(c.cfg.Tag, blob); err != nil {
			c.logger.Warn().Err(err).Int("records", len(records)).Msg("sink rejected batch")
			c.metrics.SinkError(c.cfg.Tag)
		} else {
			c.metrics.Batch(c.cfg.Tag, len(records))
		}
	}

	c.buf.ConsumePrefix(res.Consumed)
	c.framer.Reset()

	ev.Records = len(records)
	ev.Consumed = res.Consumed
	return ev, nil
}

// Close releases the connection state. reason labels the teardown metric.
func (c *Connection) Close(reason string) {
	c.framer.Reset()
	c.buf.Reset()
	c.metrics.Closed(c.cfg.Tag, reason)
}

// TeardownReason maps a fatal read-event error to a teardown metric label.
func TeardownReason(err error) string {
	if errors.Is(err, ErrCapacityExceeded) {
		return metrics.ReasonCapacity
	}
	return metrics.ReasonIO
}

func (c *Connection) discard(cause error) error {
	c.logger.Warn().Err(cause).Int("discarded", c.buf.Len()).Msg("invalid message, skipping")
	c.metrics.Malformed(c.cfg.Tag)
	c.rearm()
	if cause == nil {
		return ErrMalformedInput
	}
	return fmt.Errorf("%w: %v", ErrMalformedInput, cause)
}

func (c *Connection) rearm() {
	c.buf.Reset()
	c.framer.Reset()
}
