package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"pumpfun-candles/internal/domain"
	"pumpfun-candles/internal/logging"
)

// DefaultCacheWindow is how far back the cache is trusted for range reads.
const DefaultCacheWindow = 24 * time.Hour

// TieredCandleStore layers a recent-window cache and write-only mirrors
// over a primary store. Only primary failures are returned to callers;
// cache and mirror failures are logged.
type TieredCandleStore struct {
	primary CandleStore
	cache   CandleStore
	mirrors []CandleStore
	window  time.Duration
	logger  logrus.FieldLogger
	now     func() time.Time
}

// TieredOptions configures a TieredCandleStore.
type TieredOptions struct {
	Primary     CandleStore   // required
	Cache       CandleStore   // optional, serves reads inside CacheWindow
	Mirrors     []CandleStore // optional, receive every write
	CacheWindow time.Duration // default: 24h
	Logger      logrus.FieldLogger
}

// NewTieredCandleStore creates a TieredCandleStore.
func NewTieredCandleStore(opts TieredOptions) *TieredCandleStore {
	window := opts.CacheWindow
	if window <= 0 {
		window = DefaultCacheWindow
	}
	return &TieredCandleStore{
		primary: opts.Primary,
		cache:   opts.Cache,
		mirrors: opts.Mirrors,
		window:  window,
		logger:  logging.Component(opts.Logger, "storage"),
		now:     time.Now,
	}
}

var _ CandleStore = (*TieredCandleStore)(nil)

// Upsert writes to the cache, the primary and every mirror.
func (s *TieredCandleStore) Upsert(ctx context.Context, c *domain.Candle) error {
	if s.cache != nil {
		if err := s.cache.Upsert(ctx, c); err != nil {
			s.logger.WithError(err).WithField("token", c.Token).Warn("cache upsert failed")
		}
	}

	if err := s.primary.Upsert(ctx, c); err != nil {
		return err
	}

	for _, m := range s.mirrors {
		if err := m.Upsert(ctx, c); err != nil {
			s.logger.WithError(err).WithField("token", c.Token).Warn("mirror upsert failed")
		}
	}
	return nil
}

// GetRange serves windows that start inside the cache window from the cache,
// falling back to the primary on miss or error. When the cache holds only the
// tail of the window, as after an eviction or a cache restart, the head is
// read from the primary.
func (s *TieredCandleStore) GetRange(ctx context.Context, token string, res domain.Resolution, from, to time.Time) ([]*domain.Candle, error) {
	if s.cache == nil || from.Before(s.now().Add(-s.window)) {
		return s.primary.GetRange(ctx, token, res, from, to)
	}

	cached, err := s.cache.GetRange(ctx, token, res, from, to)
	if err != nil {
		s.logger.WithError(err).WithField("token", token).Debug("cache range read failed")
		return s.primary.GetRange(ctx, token, res, from, to)
	}
	if len(cached) == 0 {
		return s.primary.GetRange(ctx, token, res, from, to)
	}

	first := cached[0].Bucket
	if !first.After(from) {
		return cached, nil
	}
	head, err := s.primary.GetRange(ctx, token, res, from, first.Add(-time.Nanosecond))
	if err != nil {
		return nil, err
	}
	return append(head, cached...), nil
}

// GetLatest tries the cache first.
func (s *TieredCandleStore) GetLatest(ctx context.Context, token string, res domain.Resolution) (*domain.Candle, error) {
	if s.cache != nil {
		c, err := s.cache.GetLatest(ctx, token, res)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrNotFound) {
			s.logger.WithError(err).WithField("token", token).Debug("cache latest read failed")
		}
	}
	return s.primary.GetLatest(ctx, token, res)
}
