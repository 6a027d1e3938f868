package storage

import (
	"context"
	"time"

	"pumpfun-candles/internal/domain"
)

// CandleStore provides access to candles storage.
// Candles are keyed by (bucket, token, resolution) and written by upsert:
// a write carrying a lower revision than the stored row is ignored.
type CandleStore interface {
	// Upsert inserts or replaces a candle. Idempotent; older revisions never win.
	Upsert(ctx context.Context, c *domain.Candle) error

	// GetRange retrieves candles with bucket start in [from, to] (inclusive), ordered by bucket ASC.
	GetRange(ctx context.Context, token string, res domain.Resolution, from, to time.Time) ([]*domain.Candle, error)

	// GetLatest retrieves the candle with the newest bucket. Returns ErrNotFound if none.
	GetLatest(ctx context.Context, token string, res domain.Resolution) (*domain.Candle, error)
}

// TokenStore provides access to tokens storage.
type TokenStore interface {
	// InsertIfAbsent adds a token unless the mint exists. Reports whether a row was inserted.
	InsertIfAbsent(ctx context.Context, t *domain.Token) (bool, error)

	// UpdateMetadata sets name, symbol and uri. Returns ErrNotFound if the mint does not exist.
	UpdateMetadata(ctx context.Context, mint string, meta domain.TokenMetadata) error

	// Get retrieves a token by mint. Returns ErrNotFound if not exists.
	Get(ctx context.Context, mint string) (*domain.Token, error)

	// List retrieves all tokens ordered by created_at ASC, mint ASC.
	List(ctx context.Context) ([]*domain.Token, error)
}
