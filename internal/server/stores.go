package server

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/akave-ai/dgramlog/internal/ingest"
	"github.com/akave-ai/dgramlog/internal/model"
)

const defaultRecentRecords = 500

// RecentRecordsStore keeps the newest decoded records in a ring. It is an
// inputs.InputBuffer so it sees every batch the inputs produce.
type RecentRecordsStore struct {
	mu      sync.Mutex
	ring    []model.Record
	next    int
	full    bool
	batches int64
	records int64
	logger  zerolog.Logger
}

func NewRecentRecordsStore(capacity int, logger zerolog.Logger) *RecentRecordsStore {
	if capacity <= 0 {
		capacity = defaultRecentRecords
	}
	return &RecentRecordsStore{ring: make([]model.Record, capacity), logger: logger}
}

func (s *RecentRecordsStore) Append(tag string, data []byte) error {
	decoded, err := ingest.DecodeBatch(data)
	if err != nil {
		s.logger.Warn().Err(err).Str("tag", tag).Msg("undecodable batch")
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	for _, d := range decoded {
		s.ring[s.next] = model.Record{Tag: tag, Time: d.Time, Payload: d.Payload}
		s.next = (s.next + 1) % len(s.ring)
		if s.next == 0 {
			s.full = true
		}
		s.records++
	}
	return nil
}

// GetRecent returns up to limit records, newest first, optionally filtered by
// tag. A limit <= 0 returns everything held.
func (s *RecentRecordsStore) GetRecent(limit int, tag string) []model.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.next
	if s.full {
		n = len(s.ring)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]model.Record, 0, limit)
	for i := 1; i <= n && len(out) < limit; i++ {
		rec := s.ring[(s.next-i+len(s.ring))%len(s.ring)]
		if tag != "" && rec.Tag != tag {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Totals returns the number of batches and records seen since start.
func (s *RecentRecordsStore) Totals() (batches, records int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches, s.records
}

// UploadStatusStore tracks the last batcher upload for /records/status.
type UploadStatusStore struct {
	mu sync.Mutex
	st UploadStatus
}

type UploadStatus struct {
	BatcherOn bool
	LastAt    time.Time
	LastKey   string
	LastTag   string
	LastCount int
	Uploads   int64
}

func (s *UploadStatusStore) SetBatcherOn(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.BatcherOn = on
}

// SetLastFlush matches batcher.BatcherOpts.OnFlush.
func (s *UploadStatusStore) SetLastFlush(tag string, count int, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.LastAt = time.Now().UTC()
	s.st.LastTag = tag
	s.st.LastKey = key
	s.st.LastCount = count
	s.st.Uploads++
}

func (s *UploadStatusStore) Get() UploadStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}
