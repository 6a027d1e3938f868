package domain

import (
	"math"
	"time"
)

// Trade is a single executed trade observed on-chain. Ephemeral: trades are
// folded into candles and never stored individually.
type Trade struct {
	Mint      string    // token mint address
	Price     float64   // SOL per token
	Size      float64   // token amount, decimals applied
	Time      time.Time // block time of the trade
	Signature string    // transaction signature (optional)
	IsBuy     bool
}

// Validate checks that the trade can be folded into a candle.
func (t Trade) Validate() error {
	if t.Mint == "" {
		return ErrEmptyToken
	}
	if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) || t.Price <= 0 {
		return ErrInvalidPrice
	}
	if math.IsNaN(t.Size) || math.IsInf(t.Size, 0) || t.Size < 0 {
		return ErrInvalidSize
	}
	if t.Time.IsZero() || t.Time.Unix() <= 0 {
		return ErrInvalidTimestamp
	}
	return nil
}
