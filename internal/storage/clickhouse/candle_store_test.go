package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pumpfun-candles/internal/domain"
	"pumpfun-candles/internal/storage"
)

func chCandle(bucket time.Time, closePrice float64, revision uint64) *domain.Candle {
	return &domain.Candle{
		Token:      "mintA",
		Resolution: domain.M1,
		Bucket:     bucket,
		Open:       1,
		High:       closePrice,
		Low:        1,
		Close:      closePrice,
		Volume:     2,
		Trades:     2,
		Revision:   revision,
	}
}

func TestCandleStore_HighestRevisionWins(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewCandleStore(conn)
	ctx := context.Background()
	bucket := time.Unix(1_700_000_100, 0).UTC()

	require.NoError(t, store.Upsert(ctx, chCandle(bucket, 3, 2)))
	final := chCandle(bucket, 5, 4)
	final.Final = true
	require.NoError(t, store.Upsert(ctx, final))
	require.NoError(t, store.Upsert(ctx, chCandle(bucket, 4, 3)))

	got, err := store.GetLatest(ctx, "mintA", domain.M1)
	require.NoError(t, err)
	assert.True(t, got.Bucket.Equal(bucket))
	assert.Equal(t, 5.0, got.Close)
	assert.Equal(t, uint64(4), got.Revision)
	assert.True(t, got.Final)
	assert.Equal(t, domain.M1, got.Resolution)
}

func TestCandleStore_GetRange(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewCandleStore(conn)
	ctx := context.Background()
	base := time.Unix(1_700_000_100, 0).UTC()

	for i := 0; i < 4; i++ {
		require.NoError(t, store.Upsert(ctx, chCandle(base.Add(time.Duration(i)*time.Minute), float64(i+1), 1)))
	}

	got, err := store.GetRange(ctx, "mintA", domain.M1, base, base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 1.0, got[0].Close)
	assert.Equal(t, 3.0, got[2].Close)
}

func TestCandleStore_GetLatestNotFound(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := NewCandleStore(conn).GetLatest(context.Background(), "none", domain.D1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
