package domain

import (
	"fmt"
	"time"
)

// CandleKey identifies a candle: one bucket of one token at one resolution.
// Bucket is the bucket start in Unix seconds so the key is comparable.
type CandleKey struct {
	Token      string
	Resolution Resolution
	Bucket     int64
}

// SeriesKey identifies the candle series of a token at one resolution.
type SeriesKey struct {
	Token      string
	Resolution Resolution
}

// Candle is the OHLCV summary of all trades of a token within one bucket.
// Corresponds to the candles table.
type Candle struct {
	Token      string
	Resolution Resolution
	Bucket     time.Time // bucket start, UTC

	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64

	Trades   uint32 // number of trades folded in
	Revision uint64 // monotonic per (token, resolution)
	Final    bool   // bucket closed, no further revisions expected
}

// NewCandle opens a candle from its first trade.
func NewCandle(token string, r Resolution, bucket time.Time, price, size float64) Candle {
	return Candle{
		Token:      token,
		Resolution: r,
		Bucket:     bucket.UTC(),
		Open:       price,
		High:       price,
		Low:        price,
		Close:      price,
		Volume:     size,
		Trades:     1,
	}
}

// Apply folds one more trade into the candle.
func (c *Candle) Apply(price, size float64) {
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
	c.Volume += size
	c.Trades++
}

// Key returns the candle's storage key.
func (c Candle) Key() CandleKey {
	return CandleKey{Token: c.Token, Resolution: c.Resolution, Bucket: c.Bucket.Unix()}
}

// Series returns the key of the series the candle belongs to.
func (c Candle) Series() SeriesKey {
	return SeriesKey{Token: c.Token, Resolution: c.Resolution}
}

// Check verifies the OHLCV invariants.
func (c Candle) Check() error {
	if c.Low > c.Open || c.Low > c.Close || c.High < c.Open || c.High < c.Close {
		return fmt.Errorf("candle %s/%s@%d: ohlc out of range o=%g h=%g l=%g c=%g",
			c.Token, c.Resolution, c.Bucket.Unix(), c.Open, c.High, c.Low, c.Close)
	}
	if c.Volume < 0 {
		return fmt.Errorf("candle %s/%s@%d: negative volume %g", c.Token, c.Resolution, c.Bucket.Unix(), c.Volume)
	}
	if !c.Resolution.BucketStart(c.Bucket).Equal(c.Bucket) {
		return fmt.Errorf("candle %s/%s@%d: bucket not aligned", c.Token, c.Resolution, c.Bucket.Unix())
	}
	return nil
}
