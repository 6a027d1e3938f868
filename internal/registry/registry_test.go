package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pumpfun-candles/internal/domain"
	"pumpfun-candles/internal/storage/memory"
)

type fakeSource struct {
	mu    sync.Mutex
	meta  map[string]*domain.TokenMetadata
	calls []string
	err   error
}

func (f *fakeSource) Fetch(_ context.Context, mint string) (*domain.TokenMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, mint)
	if f.err != nil {
		return nil, f.err
	}
	return f.meta[mint], nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// start runs r until the test ends.
func start(t *testing.T, r *Registry) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// listed waits until the registry lists n tokens and returns them.
func listed(t *testing.T, r *Registry, n int) []Listing {
	t.Helper()
	var list []Listing
	require.Eventually(t, func() bool {
		var err error
		list, err = r.List(context.Background())
		return err == nil && len(list) == n
	}, 2*time.Second, 5*time.Millisecond)
	return list
}

func TestRegistry_UnseenTokenGetsPlaceholders(t *testing.T) {
	r := New(Options{Store: memory.NewTokenStore()})
	start(t, r)
	ctx := context.Background()

	assert.True(t, r.Observe(ctx, "mint1"))

	list := listed(t, r, 1)
	assert.Equal(t, domain.TokenMetadata{Name: "unknown", Symbol: "NAN", URI: "unknown"}, list[0].Metadata)

	raw, err := json.Marshal(list)
	require.NoError(t, err)
	assert.JSONEq(t, `[["mint1",{"name":"unknown","symbol":"NAN","uri":"unknown"}]]`, string(raw))
}

func TestRegistry_ConcurrentObserveSingleWinner(t *testing.T) {
	store := memory.NewTokenStore()
	r := New(Options{Store: store})
	start(t, r)
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Observe(ctx, "mint1") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	listed(t, r, 1)
}

func TestRegistry_ObserveWithMetadata(t *testing.T) {
	r := New(Options{Store: memory.NewTokenStore()})
	start(t, r)
	ctx := context.Background()

	meta := domain.TokenMetadata{Name: "Frog", Symbol: "FRG", URI: "ipfs://frog"}
	require.NoError(t, r.ObserveWithMetadata(ctx, "mint1", meta))

	// Already known from a trade: metadata is applied as an enrichment.
	r.Observe(ctx, "mint2")
	require.NoError(t, r.ObserveWithMetadata(ctx, "mint2", meta))

	require.Eventually(t, func() bool {
		list, err := r.List(ctx)
		if err != nil || len(list) != 2 {
			return false
		}
		return list[0].Metadata == meta && list[1].Metadata == meta
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRegistry_EnrichUnknownMint(t *testing.T) {
	r := New(Options{Store: memory.NewTokenStore()})
	err := r.Enrich(context.Background(), "missing", domain.TokenMetadata{Name: "x"})
	assert.Error(t, err)
}

func TestRegistry_BackgroundEnrichment(t *testing.T) {
	source := &fakeSource{meta: map[string]*domain.TokenMetadata{
		"mint1": {Name: "Frog", Symbol: "FRG", URI: "ipfs://frog"},
	}}
	r := New(Options{Store: memory.NewTokenStore(), Source: source, LookupRate: 1000, Burst: 10})
	start(t, r)
	ctx := context.Background()

	r.Observe(ctx, "mint1")
	r.Observe(ctx, "mint2") // no metadata account
	r.Observe(ctx, "mint1")

	require.Eventually(t, func() bool {
		list, err := r.List(ctx)
		if err != nil || len(list) != 2 {
			return false
		}
		return list[0].Metadata.Symbol == "FRG" || list[1].Metadata.Symbol == "FRG"
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return source.callCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestRegistry_LookupFailureKeepsPlaceholders(t *testing.T) {
	source := &fakeSource{err: errors.New("rpc down")}
	r := New(Options{Store: memory.NewTokenStore(), Source: source, LookupRate: 1000})
	start(t, r)
	ctx := context.Background()

	r.Observe(ctx, "mint1")
	require.Eventually(t, func() bool { return source.callCount() == 1 }, time.Second, 5*time.Millisecond)

	list := listed(t, r, 1)
	assert.Equal(t, "NAN", list[0].Metadata.Symbol)
}

func TestRegistry_LoadWarmsKnownMints(t *testing.T) {
	store := memory.NewTokenStore()
	ctx := context.Background()
	_, err := store.InsertIfAbsent(ctx, &domain.Token{Mint: "mint1"})
	require.NoError(t, err)

	r := New(Options{Store: store})
	require.NoError(t, r.Load(ctx))
	assert.False(t, r.Observe(ctx, "mint1"))
}

// stallingStore blocks inserts until the call's context expires.
type stallingStore struct {
	*memory.TokenStore
	inserts atomic.Int32
}

func (s *stallingStore) InsertIfAbsent(ctx context.Context, _ *domain.Token) (bool, error) {
	s.inserts.Add(1)
	<-ctx.Done()
	return false, ctx.Err()
}

func TestRegistry_SlowStoreNeverBlocksObserve(t *testing.T) {
	store := &stallingStore{TokenStore: memory.NewTokenStore()}
	r := New(Options{Store: store, StoreTimeout: 20 * time.Millisecond})
	start(t, r)
	ctx := context.Background()

	begin := time.Now()
	for i := 0; i < 30; i++ {
		assert.True(t, r.Observe(ctx, fmt.Sprintf("mint%d", i)))
	}
	assert.Less(t, time.Since(begin), 500*time.Millisecond)

	// A timed-out insert is forgotten, so a later sighting queues it again.
	require.Eventually(t, func() bool { return r.Observe(ctx, "mint0") }, 5*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, store.inserts.Load(), int32(2))
}

func TestRegistry_FullWriteQueue(t *testing.T) {
	r := New(Options{Store: memory.NewTokenStore(), WriteQueueSize: 1})
	ctx := context.Background()

	assert.True(t, r.Observe(ctx, "mint1"))
	assert.False(t, r.Observe(ctx, "mint2"))
	assert.ErrorIs(t, r.ObserveWithMetadata(ctx, "mint3", domain.TokenMetadata{Name: "x"}), ErrBacklogged)

	start(t, r)
	listed(t, r, 1)
	// Dropped mints were not remembered.
	require.Eventually(t, func() bool { return r.Observe(ctx, "mint2") }, time.Second, 5*time.Millisecond)
	listed(t, r, 2)
}

func TestRegistry_ShutdownFlushesQueuedTokens(t *testing.T) {
	store := memory.NewTokenStore()
	r := New(Options{Store: store})
	ctx := context.Background()

	r.Observe(ctx, "mint1")
	r.Observe(ctx, "mint2")

	runCtx, cancel := context.WithCancel(ctx)
	cancel()
	require.NoError(t, r.Run(runCtx))

	tokens, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, tokens, 2)
}
