package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"pumpfun-candles/internal/domain"
	"pumpfun-candles/internal/storage"
)

// CandleStore implements storage.CandleStore on a ReplacingMergeTree table.
// Every upsert appends a row; the highest revision per key wins on read via FINAL.
type CandleStore struct {
	conn *Conn
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(conn *Conn) *CandleStore {
	return &CandleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// Upsert appends the candle revision.
func (s *CandleStore) Upsert(ctx context.Context, c *domain.Candle) (err error) {
	if c == nil || c.Token == "" || !c.Resolution.Valid() {
		return storage.ErrInvalidInput
	}
	defer observe("upsert_candle", time.Now(), &err)

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candles (
			token, resolution, bucket, open, high, low, close, volume, trades, revision, finalized
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		c.Token, c.Resolution.Label(), c.Bucket.UTC(),
		c.Open, c.High, c.Low, c.Close, c.Volume,
		c.Trades, c.Revision, c.Final,
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetRange retrieves candles with bucket in [from, to], ordered by bucket ASC.
func (s *CandleStore) GetRange(ctx context.Context, token string, res domain.Resolution, from, to time.Time) (_ []*domain.Candle, err error) {
	defer observe("get_candle_range", time.Now(), &err)

	query := `
		SELECT token, resolution, bucket, open, high, low, close, volume, trades, revision, finalized
		FROM candles FINAL
		WHERE token = ? AND resolution = ? AND bucket >= ? AND bucket <= ?
		ORDER BY bucket ASC
	`

	rows, err := s.conn.Query(ctx, query, token, res.Label(), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query candle range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// GetLatest retrieves the newest bucket for a series. Returns ErrNotFound if empty.
func (s *CandleStore) GetLatest(ctx context.Context, token string, res domain.Resolution) (_ *domain.Candle, err error) {
	defer observe("get_latest_candle", time.Now(), &err)

	query := `
		SELECT token, resolution, bucket, open, high, low, close, volume, trades, revision, finalized
		FROM candles FINAL
		WHERE token = ? AND resolution = ?
		ORDER BY bucket DESC
		LIMIT 1
	`

	rows, err := s.conn.Query(ctx, query, token, res.Label())
	if err != nil {
		return nil, fmt.Errorf("query latest candle: %w", err)
	}
	defer rows.Close()

	candles, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, storage.ErrNotFound
	}
	return candles[0], nil
}

// scanCandles scans rows into Candle slice.
func scanCandles(rows driver.Rows) ([]*domain.Candle, error) {
	var result []*domain.Candle
	for rows.Next() {
		var (
			c     domain.Candle
			label string
		)
		err := rows.Scan(
			&c.Token, &label, &c.Bucket,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
			&c.Trades, &c.Revision, &c.Final,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		res, err := domain.ParseResolution(label)
		if err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Resolution = res
		c.Bucket = c.Bucket.UTC()
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candles: %w", err)
	}
	return result, nil
}
