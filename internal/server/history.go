package server

import (
	"context"
	"sort"
	"time"

	"pumpfun-candles/internal/domain"
)

// loadRange reads stored candles in [from, to] and overlays the engine's open
// bucket, which is newer than anything persisted for the same bucket.
func (s *Server) loadRange(ctx context.Context, token string, res domain.Resolution, from, to time.Time) ([]domain.Candle, error) {
	stored, err := s.candles.GetRange(ctx, token, res, from, to)
	if err != nil {
		return nil, err
	}

	byBucket := make(map[int64]domain.Candle, len(stored)+1)
	for _, c := range stored {
		byBucket[c.Bucket.Unix()] = *c
	}

	if s.live != nil {
		if c, ok := s.live.Current(token, res); ok && !c.Bucket.Before(from) && !c.Bucket.After(to) {
			if prev, found := byBucket[c.Bucket.Unix()]; !found || c.Revision >= prev.Revision {
				byBucket[c.Bucket.Unix()] = c
			}
		}
	}

	out := make([]domain.Candle, 0, len(byBucket))
	for _, c := range byBucket {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })
	return out, nil
}

// history returns the bootstrap window of a series: up to limit buckets ending
// at the current bucket, with gaps filled.
func (s *Server) history(ctx context.Context, token string, res domain.Resolution, now time.Time, limit int) ([]domain.Candle, error) {
	end := res.BucketStart(now)
	if s.live != nil {
		if c, ok := s.live.Current(token, res); ok && c.Bucket.After(end) {
			end = c.Bucket
		}
	}
	from := res.Back(end, limit-1)

	candles, err := s.loadRange(ctx, token, res, from, end)
	if err != nil {
		return nil, err
	}
	filled := fillGaps(candles, res)
	if len(filled) > limit {
		filled = filled[len(filled)-limit:]
	}
	return filled, nil
}

// fillGaps inserts a flat, zero-volume candle at the previous close for every
// missing bucket between the first and last candle. Input must be sorted.
func fillGaps(candles []domain.Candle, res domain.Resolution) []domain.Candle {
	if len(candles) < 2 {
		return candles
	}

	out := make([]domain.Candle, 0, len(candles))
	out = append(out, candles[0])
	for _, c := range candles[1:] {
		prev := out[len(out)-1]
		for b := res.Next(prev.Bucket); b.Before(c.Bucket); b = res.Next(b) {
			out = append(out, domain.Candle{
				Token:      prev.Token,
				Resolution: res,
				Bucket:     b,
				Open:       prev.Close,
				High:       prev.Close,
				Low:        prev.Close,
				Close:      prev.Close,
				Final:      true,
			})
			prev = out[len(out)-1]
		}
		out = append(out, c)
	}
	return out
}
