package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"pumpfun-candles/internal/domain"
	"pumpfun-candles/internal/storage"
)

func testCandle(token string, bucket int64, price float64, revision uint64) *domain.Candle {
	c := domain.NewCandle(token, domain.M1, time.Unix(bucket, 0), price, 1)
	c.Revision = revision
	return &c
}

func TestCandleStore_UpsertAndGetRange(t *testing.T) {
	store := NewCandleStore()
	ctx := context.Background()

	for i, bucket := range []int64{1_700_000_160, 1_700_000_100, 1_700_000_220} {
		if err := store.Upsert(ctx, testCandle("mintA", bucket, float64(i+1), uint64(i+1))); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}
	// Different series must not leak into the range.
	if err := store.Upsert(ctx, testCandle("mintB", 1_700_000_100, 99, 1)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	result, err := store.GetRange(ctx, "mintA", domain.M1, time.Unix(1_700_000_100, 0), time.Unix(1_700_000_160, 0))
	if err != nil {
		t.Fatalf("GetRange failed: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(result))
	}
	if result[0].Bucket.Unix() != 1_700_000_100 || result[1].Bucket.Unix() != 1_700_000_160 {
		t.Errorf("unexpected order: %v, %v", result[0].Bucket, result[1].Bucket)
	}
}

func TestCandleStore_OlderRevisionIgnored(t *testing.T) {
	store := NewCandleStore()
	ctx := context.Background()

	if err := store.Upsert(ctx, testCandle("mintA", 1_700_000_100, 12, 5)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := store.Upsert(ctx, testCandle("mintA", 1_700_000_100, 10, 3)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	latest, err := store.GetLatest(ctx, "mintA", domain.M1)
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if latest.Close != 12 || latest.Revision != 5 {
		t.Errorf("older revision overwrote newer: close=%v rev=%d", latest.Close, latest.Revision)
	}

	// Same revision replays are idempotent.
	if err := store.Upsert(ctx, testCandle("mintA", 1_700_000_100, 12, 5)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	result, _ := store.GetRange(ctx, "mintA", domain.M1, time.Unix(0, 0), time.Unix(2_000_000_000, 0))
	if len(result) != 1 {
		t.Errorf("expected 1 candle after replay, got %d", len(result))
	}
}

func TestCandleStore_GetLatest(t *testing.T) {
	store := NewCandleStore()
	ctx := context.Background()

	_, err := store.GetLatest(ctx, "mintA", domain.M1)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	_ = store.Upsert(ctx, testCandle("mintA", 1_700_000_100, 1, 1))
	_ = store.Upsert(ctx, testCandle("mintA", 1_700_000_220, 2, 2))

	latest, err := store.GetLatest(ctx, "mintA", domain.M1)
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if latest.Bucket.Unix() != 1_700_000_220 {
		t.Errorf("expected newest bucket, got %v", latest.Bucket)
	}
}

func TestCandleStore_InvalidInput(t *testing.T) {
	store := NewCandleStore()
	if err := store.Upsert(context.Background(), nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if err := store.Upsert(context.Background(), &domain.Candle{Token: "x"}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for zero resolution, got %v", err)
	}
}
