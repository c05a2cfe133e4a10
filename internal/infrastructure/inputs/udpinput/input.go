// Package udpinput hosts the ingestion engine on a UDP socket.
package udpinput

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/akave-ai/dgramlog/internal/infrastructure/inputs"
	"github.com/akave-ai/dgramlog/internal/ingest"
	"github.com/akave-ai/dgramlog/internal/metrics"
)

const (
	// DefaultIdleTimeout is how long a silent peer keeps its buffer.
	DefaultIdleTimeout = 5 * time.Minute

	maxDatagramSize = 65535
	pollInterval    = time.Second
)

var _ inputs.ListenerInput = (*Input)(nil)

// Input reads datagrams from one UDP socket. A single goroutine reads the
// socket and drives every peer connection, so each connection sees one read
// event at a time.
type Input struct {
	listen string
	cfg    ingest.Config
	idle   time.Duration
	buffer inputs.InputBuffer

	logger  zerolog.Logger
	metrics *metrics.Ingest

	mu      sync.Mutex
	pc      net.PacketConn
	wg      sync.WaitGroup
	running atomic.Bool
	npeers  atomic.Int64

	// peers is owned by the serve goroutine.
	peers map[string]*peer
}

type peer struct {
	conn     *ingest.Connection
	lastSeen time.Time
}

// NewInput creates a UDP input bound to listen once started.
func NewInput(listen string, cfg ingest.Config, idle time.Duration, buffer inputs.InputBuffer, deps inputs.Deps) *Input {
	return &Input{
		listen:  listen,
		cfg:     cfg,
		idle:    idle,
		buffer:  buffer,
		logger:  deps.Logger.With().Str("component", "udp-input").Str("listen", listen).Logger(),
		metrics: deps.Metrics,
		peers:   make(map[string]*peer),
	}
}

// Addr returns the bound socket address, or "" before Start.
func (i *Input) Addr() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.pc == nil {
		return ""
	}
	return i.pc.LocalAddr().String()
}

// Peers returns the number of peers with live connection state.
func (i *Input) Peers() int { return int(i.npeers.Load()) }

func (i *Input) Start() error {
	if !i.running.CompareAndSwap(false, true) {
		return fmt.Errorf("udp input %s already running", i.listen)
	}
	pc, err := net.ListenPacket("udp", i.listen)
	if err != nil {
		i.running.Store(false)
		return fmt.Errorf("listen udp %s: %w", i.listen, err)
	}
	i.mu.Lock()
	i.pc = pc
	i.mu.Unlock()

	i.wg.Add(1)
	go i.serve(pc)
	i.logger.Info().
		Str("addr", pc.LocalAddr().String()).
		Stringer("format", i.cfg.Format).
		Int("chunk_size", i.cfg.ChunkSize).
		Int("buffer_size", i.cfg.MaxCapacity).
		Msg("listening")
	return nil
}

func (i *Input) Stop() error {
	if !i.running.CompareAndSwap(true, false) {
		return nil
	}
	i.mu.Lock()
	err := i.pc.Close()
	i.mu.Unlock()
	i.wg.Wait()
	return err
}

func (i *Input) serve(pc net.PacketConn) {
	defer i.wg.Done()

	scratch := make([]byte, maxDatagramSize)
	lastSweep := time.Now()
	for {
		_ = pc.SetReadDeadline(time.Now().Add(pollInterval))
		n, addr, err := pc.ReadFrom(scratch)
		now := time.Now()
		if err != nil {
			var ne net.Error
			switch {
			case errors.Is(err, net.ErrClosed):
				i.closeAll(metrics.ReasonStopped)
				return
			case errors.As(err, &ne) && ne.Timeout():
				// poll tick
			default:
				i.logger.Warn().Err(err).Msg("read error")
			}
		} else {
			i.dispatch(addr.String(), scratch[:n], now)
		}

		if now.Sub(lastSweep) >= pollInterval {
			i.sweep(now)
			lastSweep = now
		}
	}
}

// dispatch delivers one datagram to the connection of its peer.
func (i *Input) dispatch(key string, data []byte, now time.Time) {
	p, ok := i.peers[key]
	if !ok {
		conn, err := ingest.NewConnection(key, i.cfg, i.buffer,
			ingest.WithLogger(i.logger),
			ingest.WithMetrics(i.metrics))
		if err != nil {
			i.logger.Error().Err(err).Str("peer", key).Msg("could not allocate new connection")
			return
		}
		p = &peer{conn: conn}
		i.peers[key] = p
		i.npeers.Add(1)
	}
	p.lastSeen = now

	ev, err := p.conn.OnReadable(bytes.NewReader(data))
	if ev.BytesRead > 0 && ev.BytesRead < len(data) {
		i.logger.Debug().Str("peer", key).Int("size", len(data)).Int("read", ev.BytesRead).Msg("datagram truncated to read size")
		i.metrics.Truncated(i.cfg.Tag, len(data)-ev.BytesRead)
	}
	if ingest.IsFatal(err) {
		i.logger.Debug().Err(err).Str("peer", key).Msg("dropping peer connection")
		i.drop(key, p, ingest.TeardownReason(err))
		return
	}
	if ev.Records > 0 {
		i.logger.Trace().Str("peer", key).Int("records", ev.Records).Int("bytes", ev.BytesRead).Msg("batch appended")
	}
}

func (i *Input) sweep(now time.Time) {
	for key, p := range i.peers {
		if now.Sub(p.lastSeen) >= i.idle {
			i.drop(key, p, metrics.ReasonIdle)
		}
	}
}

func (i *Input) closeAll(reason string) {
	for key, p := range i.peers {
		i.drop(key, p, reason)
	}
}

func (i *Input) drop(key string, p *peer, reason string) {
	p.conn.Close(reason)
	delete(i.peers, key)
	i.npeers.Add(-1)
}
