// Package batcher accumulates encoded ingest batches per tag and uploads them
// to object storage as gzip compressed MessagePack objects.
package batcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"

	"github.com/akave-ai/dgramlog/internal/storage"
)

var ErrStopped = errors.New("batcher stopped")

const uploadTimeout = 30 * time.Second

// Uploader is the subset of storage.O3Client the batcher needs.
type Uploader interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

type BatcherConfig struct {
	// MaxBatchSize is the number of pending blobs that triggers an early flush.
	MaxBatchSize  int
	FlushInterval time.Duration
}

func DefaultBatcherConfig() BatcherConfig {
	return BatcherConfig{
		MaxBatchSize:  500,
		FlushInterval: 10 * time.Second,
	}
}

type BatcherOpts struct {
	// OnFlush is called after each successful upload.
	OnFlush  func(tag string, blobs int, key string)
	Logger   zerolog.Logger
	NewRelic *newrelic.Application
	Now      func() time.Time
}

// Batcher implements inputs.InputBuffer.
type Batcher struct {
	cfg  BatcherConfig
	up   Uploader
	opts BatcherOpts

	mu      sync.Mutex
	pending map[string][][]byte
	count   int
	stopped bool

	flushMu sync.Mutex
	kick    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewBatcher starts the flush loop. Zero config fields fall back to
// DefaultBatcherConfig.
func NewBatcher(cfg BatcherConfig, up Uploader, opts *BatcherOpts) *Batcher {
	def := DefaultBatcherConfig()
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = def.MaxBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	var o BatcherOpts
	if opts != nil {
		o = *opts
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	o.Logger = o.Logger.With().Str("component", "batcher").Logger()

	b := &Batcher{
		cfg:     cfg,
		up:      up,
		opts:    o,
		pending: make(map[string][][]byte),
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go b.run()
	return b
}

// Append queues a copy of data under tag.
func (b *Batcher) Append(tag string, data []byte) error {
	blob := append([]byte(nil), data...)

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrStopped
	}
	b.pending[tag] = append(b.pending[tag], blob)
	b.count++
	full := b.count >= b.cfg.MaxBatchSize
	b.mu.Unlock()

	if full {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Pending returns the number of blobs waiting for upload.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *Batcher) run() {
	defer close(b.done)
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
		case <-b.kick:
		}
		ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
		if err := b.Flush(ctx); err != nil {
			b.opts.Logger.Error().Err(err).Msg("flush failed")
		}
		cancel()
	}
}

// Flush uploads one object per pending tag. Blobs of a failed upload are
// dropped and the failure is returned.
func (b *Batcher) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	batch := b.pending
	b.pending = make(map[string][][]byte)
	b.count = 0
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	tags := make([]string, 0, len(batch))
	for tag := range batch {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	var errs []error
	for _, tag := range tags {
		if err := b.upload(ctx, tag, batch[tag]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Batcher) upload(ctx context.Context, tag string, blobs [][]byte) error {
	var txn *newrelic.Transaction
	if b.opts.NewRelic != nil {
		txn = b.opts.NewRelic.StartTransaction("batcher/flush")
		defer txn.End()
		txn.AddAttribute("tag", tag)
		txn.AddAttribute("blobs", len(blobs))
		ctx = newrelic.NewContext(ctx, txn)
	}

	body, err := storage.EncodeObject(blobs)
	if err != nil {
		txn.NoticeError(err)
		return fmt.Errorf("encode %s: %w", tag, err)
	}
	key := storage.KeyForBatch(tag, uuid.NewString(), b.opts.Now())

	seg := txn.StartSegment("o3/put")
	err = b.up.PutObject(ctx, key, body, storage.ContentType)
	seg.End()
	if err != nil {
		txn.NoticeError(err)
		b.opts.Logger.Warn().Err(err).Str("tag", tag).Int("blobs", len(blobs)).Msg("upload failed, batch dropped")
		return fmt.Errorf("upload %s: %w", tag, err)
	}

	b.opts.Logger.Info().Str("tag", tag).Str("key", key).Int("blobs", len(blobs)).Int("bytes", len(body)).Msg("uploaded")
	if b.opts.OnFlush != nil {
		b.opts.OnFlush(tag, len(blobs), key)
	}
	return nil
}

// Stop ends the flush loop and uploads whatever is still pending.
// Appends after Stop fail with ErrStopped.
func (b *Batcher) Stop() {
	b.once.Do(func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()

		close(b.stop)
		<-b.done

		ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
		defer cancel()
		if err := b.Flush(ctx); err != nil {
			b.opts.Logger.Error().Err(err).Msg("final flush failed")
		}
	})
}
