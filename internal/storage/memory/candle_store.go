package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"pumpfun-candles/internal/domain"
	"pumpfun-candles/internal/storage"
)

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu     sync.RWMutex
	series map[domain.SeriesKey]map[int64]*domain.Candle // bucket unix -> candle
	writes int
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		series: make(map[domain.SeriesKey]map[int64]*domain.Candle),
	}
}

// Upsert inserts or replaces a candle unless the stored revision is newer.
func (s *CandleStore) Upsert(_ context.Context, c *domain.Candle) error {
	if c == nil || c.Token == "" || !c.Resolution.Valid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := c.Series()
	buckets, ok := s.series[key]
	if !ok {
		buckets = make(map[int64]*domain.Candle)
		s.series[key] = buckets
	}

	bucket := c.Bucket.Unix()
	if existing, ok := buckets[bucket]; ok && existing.Revision > c.Revision {
		return nil
	}

	candleCopy := *c
	candleCopy.Bucket = c.Bucket.UTC()
	buckets[bucket] = &candleCopy
	s.writes++
	return nil
}

// GetRange retrieves candles with bucket in [from, to], ordered by bucket ASC.
func (s *CandleStore) GetRange(_ context.Context, token string, res domain.Resolution, from, to time.Time) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lo, hi := from.Unix(), to.Unix()
	var result []*domain.Candle
	for bucket, c := range s.series[domain.SeriesKey{Token: token, Resolution: res}] {
		if bucket >= lo && bucket <= hi {
			candleCopy := *c
			result = append(result, &candleCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Bucket.Before(result[j].Bucket)
	})
	return result, nil
}

// GetLatest retrieves the candle with the newest bucket. Returns ErrNotFound if none.
func (s *CandleStore) GetLatest(_ context.Context, token string, res domain.Resolution) (*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Candle
	for _, c := range s.series[domain.SeriesKey{Token: token, Resolution: res}] {
		if latest == nil || c.Bucket.After(latest.Bucket) {
			latest = c
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}

	candleCopy := *latest
	return &candleCopy, nil
}

// Writes returns the number of accepted upserts.
func (s *CandleStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

var _ storage.CandleStore = (*CandleStore)(nil)
