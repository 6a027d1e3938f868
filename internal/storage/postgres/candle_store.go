package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"pumpfun-candles/internal/domain"
	"pumpfun-candles/internal/storage"
)

// CandleStore implements storage.CandleStore using PostgreSQL.
type CandleStore struct {
	pool *Pool
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(pool *Pool) *CandleStore {
	return &CandleStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// Upsert inserts or replaces a candle. Rows with a higher revision are left untouched.
func (s *CandleStore) Upsert(ctx context.Context, c *domain.Candle) (err error) {
	if c == nil || c.Token == "" || !c.Resolution.Valid() {
		return storage.ErrInvalidInput
	}
	defer observe("upsert_candle", time.Now(), &err)

	query := `
		INSERT INTO candles (
			bucket, token, resolution, open, high, low, close, volume, trades, revision, finalized, updated_at
		) VALUES ($1, $2, $3::resolution, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (bucket, token, resolution) DO UPDATE SET
			open       = EXCLUDED.open,
			high       = EXCLUDED.high,
			low        = EXCLUDED.low,
			close      = EXCLUDED.close,
			volume     = EXCLUDED.volume,
			trades     = EXCLUDED.trades,
			revision   = EXCLUDED.revision,
			finalized  = EXCLUDED.finalized,
			updated_at = EXCLUDED.updated_at
		WHERE candles.revision <= EXCLUDED.revision
	`

	_, err = s.pool.Exec(ctx, query,
		c.Bucket.UTC(),
		c.Token,
		c.Resolution.Label(),
		c.Open,
		c.High,
		c.Low,
		c.Close,
		c.Volume,
		int32(c.Trades),
		int64(c.Revision),
		c.Final,
	)
	if err != nil {
		if isInvalidInputError(err) {
			return storage.ErrInvalidInput
		}
		return fmt.Errorf("upsert candle: %w", err)
	}
	return nil
}

// GetRange retrieves candles with bucket in [from, to] (inclusive), ordered by bucket ASC.
func (s *CandleStore) GetRange(ctx context.Context, token string, res domain.Resolution, from, to time.Time) (_ []*domain.Candle, err error) {
	defer observe("get_candle_range", time.Now(), &err)

	query := `
		SELECT bucket, token, resolution::text, open, high, low, close, volume, trades, revision, finalized
		FROM candles
		WHERE token = $1 AND resolution = $2::resolution AND bucket >= $3 AND bucket <= $4
		ORDER BY bucket ASC
	`

	rows, err := s.pool.Query(ctx, query, token, res.Label(), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query candle range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// GetLatest retrieves the candle with the newest bucket. Returns ErrNotFound if none.
func (s *CandleStore) GetLatest(ctx context.Context, token string, res domain.Resolution) (_ *domain.Candle, err error) {
	defer observe("get_latest_candle", time.Now(), &err)

	query := `
		SELECT bucket, token, resolution::text, open, high, low, close, volume, trades, revision, finalized
		FROM candles
		WHERE token = $1 AND resolution = $2::resolution
		ORDER BY bucket DESC
		LIMIT 1
	`

	row := s.pool.QueryRow(ctx, query, token, res.Label())
	c, err := scanCandle(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest candle: %w", err)
	}
	return c, nil
}

// scanCandle scans a single row into Candle.
func scanCandle(row pgx.Row) (*domain.Candle, error) {
	var (
		c        domain.Candle
		label    string
		trades   int32
		revision int64
	)

	err := row.Scan(
		&c.Bucket,
		&c.Token,
		&label,
		&c.Open,
		&c.High,
		&c.Low,
		&c.Close,
		&c.Volume,
		&trades,
		&revision,
		&c.Final,
	)
	if err != nil {
		return nil, err
	}

	res, err := domain.ParseResolution(label)
	if err != nil {
		return nil, err
	}
	c.Resolution = res
	c.Bucket = c.Bucket.UTC()
	c.Trades = uint32(trades)
	c.Revision = uint64(revision)
	return &c, nil
}

// scanCandles scans multiple rows into Candle slice.
func scanCandles(rows pgx.Rows) ([]*domain.Candle, error) {
	var result []*domain.Candle
	for rows.Next() {
		c, err := scanCandle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candles: %w", err)
	}
	return result, nil
}
