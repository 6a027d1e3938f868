package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"pumpfun-candles/internal/domain"
	"pumpfun-candles/internal/storage"
)

// setupTestRedis starts a Redis container and returns a connected client.
func setupTestRedis(t *testing.T) (*Client, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready to accept connections").WithStartupTimeout(60*time.Second),
				wait.ForListeningPort("6379/tcp"),
			),
		},
		Started: true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := NewClient(ctx, fmt.Sprintf("%s:%s", host, port.Port()), "", 0)
	require.NoError(t, err)

	return client, func() {
		client.Close()
		_ = container.Terminate(ctx)
	}
}

func cacheCandle(bucket time.Time, closePrice float64, revision uint64) *domain.Candle {
	return &domain.Candle{
		Token:      "mintA",
		Resolution: domain.S1,
		Bucket:     bucket,
		Open:       closePrice,
		High:       closePrice,
		Low:        closePrice,
		Close:      closePrice,
		Volume:     1,
		Trades:     1,
		Revision:   revision,
	}
}

func TestCandleCache_RevisionGuard(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	cache := NewCandleCache(client, time.Hour)
	ctx := context.Background()
	bucket := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, cache.Upsert(ctx, cacheCandle(bucket, 2, 5)))
	require.NoError(t, cache.Upsert(ctx, cacheCandle(bucket, 1, 3)))

	got, err := cache.GetLatest(ctx, "mintA", domain.S1)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.Close)
	assert.Equal(t, uint64(5), got.Revision)
	assert.True(t, got.Bucket.Equal(bucket))

	require.NoError(t, cache.Upsert(ctx, cacheCandle(bucket, 7, 6)))
	got, err = cache.GetLatest(ctx, "mintA", domain.S1)
	require.NoError(t, err)
	assert.Equal(t, 7.0, got.Close)

	all, err := cache.GetRange(ctx, "mintA", domain.S1, bucket, bucket)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCandleCache_RangeAndTrim(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	cache := NewCandleCache(client, time.Hour)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		require.NoError(t, cache.Upsert(ctx, cacheCandle(now.Add(time.Duration(i-3)*time.Second), float64(i), 1)))
	}
	// Older than the window: trimmed as soon as it is written.
	require.NoError(t, cache.Upsert(ctx, cacheCandle(now.Add(-2*time.Hour), 99, 1)))

	got, err := cache.GetRange(ctx, "mintA", domain.S1, now.Add(-3*time.Hour), now)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, c := range got {
		assert.Equal(t, float64(i), c.Close)
		assert.Equal(t, "mintA", c.Token)
	}
}

func TestCandleCache_GetLatestNotFound(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	_, err := NewCandleCache(client, 0).GetLatest(context.Background(), "none", domain.M1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
