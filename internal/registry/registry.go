// Package registry tracks every traded token and enriches it with metadata.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"pumpfun-candles/internal/domain"
	"pumpfun-candles/internal/logging"
	"pumpfun-candles/internal/observability"
	"pumpfun-candles/internal/storage"
)

// lookupTimeout bounds a single metadata fetch.
const lookupTimeout = 10 * time.Second

// flushTimeout bounds writing queued tokens on shutdown.
const flushTimeout = 5 * time.Second

// ErrBacklogged is returned when the token write queue is full.
var ErrBacklogged = errors.New("registry: token write queue full")

// MetadataSource looks up token metadata. Returns nil metadata if none exists.
type MetadataSource interface {
	Fetch(ctx context.Context, mint string) (*domain.TokenMetadata, error)
}

// Listing is a token as rendered to clients, placeholders applied.
// It encodes as a [mint, metadata] pair.
type Listing struct {
	Mint     string
	Metadata domain.TokenMetadata
}

// MarshalJSON encodes the listing as [mint, {name, symbol, uri}].
func (l Listing) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{l.Mint, l.Metadata})
}

// Options configures a Registry.
type Options struct {
	Store          storage.TokenStore
	Source         MetadataSource // optional, enables background enrichment
	LookupRate     float64        // lookups per second, Default: 5
	Burst          int            // Default: 5
	QueueSize      int            // pending enrichments, Default: 1024
	WriteQueueSize int            // pending token writes, Default: 4096
	StoreTimeout   time.Duration  // per store call, Default: 5s
	Logger         logrus.FieldLogger
}

// Registry records tokens on first sighting and enriches them in the background.
// Observations only touch memory; store writes and lookups happen in Run, so a
// slow store never holds up the caller. Known mints are cached so repeat
// observations are free.
type Registry struct {
	store        storage.TokenStore
	source       MetadataSource
	limiter      *rate.Limiter
	queue        chan string
	writes       chan tokenWrite
	storeTimeout time.Duration
	logger       logrus.FieldLogger
	known        sync.Map // mint -> struct{}
}

// tokenWrite is a pending insert; meta is set when the token came with metadata.
type tokenWrite struct {
	mint   string
	seenAt time.Time
	meta   *domain.TokenMetadata
}

// New creates a new Registry.
func New(opts Options) *Registry {
	lookupRate := opts.LookupRate
	if lookupRate <= 0 {
		lookupRate = 5
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 5
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	writeQueueSize := opts.WriteQueueSize
	if writeQueueSize <= 0 {
		writeQueueSize = 4096
	}
	storeTimeout := opts.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}

	return &Registry{
		store:        opts.Store,
		source:       opts.Source,
		limiter:      rate.NewLimiter(rate.Limit(lookupRate), burst),
		queue:        make(chan string, queueSize),
		writes:       make(chan tokenWrite, writeQueueSize),
		storeTimeout: storeTimeout,
		logger:       logging.Component(opts.Logger, "registry"),
	}
}

// Load marks every stored token as known and queues enrichment for those
// still missing metadata.
func (r *Registry) Load(ctx context.Context) error {
	tokens, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load tokens: %w", err)
	}
	for _, t := range tokens {
		r.known.Store(t.Mint, struct{}{})
		if t.Name == nil {
			r.enqueue(t.Mint)
		}
	}
	r.logger.WithField("tokens", len(tokens)).Info("token registry loaded")
	return nil
}

// Observe queues mint for insertion if it has not been seen before. Concurrent
// and repeated observations of the same mint are no-ops. Reports whether this
// call queued it. Never blocks.
func (r *Registry) Observe(_ context.Context, mint string) bool {
	if mint == "" {
		return false
	}
	if _, loaded := r.known.LoadOrStore(mint, struct{}{}); loaded {
		return false
	}
	if !r.queueWrite(tokenWrite{mint: mint, seenAt: time.Now()}) {
		// Forget it so the next trade retries.
		r.known.Delete(mint)
		return false
	}
	return true
}

// ObserveWithMetadata queues mint with known metadata. An existing token is
// enriched instead. Never blocks; returns ErrBacklogged if the queue is full.
func (r *Registry) ObserveWithMetadata(_ context.Context, mint string, meta domain.TokenMetadata) error {
	if mint == "" {
		return storage.ErrInvalidInput
	}
	_, loaded := r.known.LoadOrStore(mint, struct{}{})
	if !r.queueWrite(tokenWrite{mint: mint, seenAt: time.Now(), meta: &meta}) {
		if !loaded {
			r.known.Delete(mint)
		}
		return ErrBacklogged
	}
	return nil
}

func (r *Registry) queueWrite(w tokenWrite) bool {
	select {
	case r.writes <- w:
		return true
	default:
		observability.RecordTokenWrite("queue_full")
		r.logger.WithField("mint", w.mint).Debug("token write queue full, skipping")
		return false
	}
}

// Enrich sets the metadata of a known token.
func (r *Registry) Enrich(ctx context.Context, mint string, meta domain.TokenMetadata) error {
	if err := r.store.UpdateMetadata(ctx, mint, meta); err != nil {
		return fmt.Errorf("enrich token %s: %w", mint, err)
	}
	return nil
}

// List returns every token with placeholders for missing metadata.
func (r *Registry) List(ctx context.Context) ([]Listing, error) {
	tokens, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	out := make([]Listing, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, Listing{Mint: t.Mint, Metadata: t.Display()})
	}
	return out, nil
}

func (r *Registry) enqueue(mint string) {
	if r.source == nil {
		return
	}
	select {
	case r.queue <- mint:
		observability.UpdateEnrichmentQueue(len(r.queue))
	default:
		r.logger.WithField("mint", mint).Debug("enrichment queue full, skipping lookup")
	}
}

// Run writes queued tokens and performs rate-limited metadata lookups until
// ctx is cancelled. Tokens still queued at shutdown are written before it returns.
func (r *Registry) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.writeLoop(gctx)
		return nil
	})
	if r.source != nil {
		g.Go(func() error {
			r.enrichLoop(gctx)
			return nil
		})
	}
	return g.Wait()
}

func (r *Registry) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.flush(context.WithoutCancel(ctx))
			return
		case w := <-r.writes:
			r.write(ctx, w)
		}
	}
}

// flush writes whatever is queued, within flushTimeout.
func (r *Registry) flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	for {
		select {
		case w := <-r.writes:
			r.write(ctx, w)
		default:
			return
		}
	}
}

// write inserts a queued token; one carrying metadata enriches an existing row.
func (r *Registry) write(ctx context.Context, w tokenWrite) {
	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	logger := r.logger.WithField("mint", w.mint)

	token := domain.Token{Mint: w.mint, CreatedAt: w.seenAt}
	if w.meta != nil {
		token = token.WithMetadata(*w.meta)
	}
	inserted, err := r.store.InsertIfAbsent(ctx, &token)
	if err != nil {
		// Forget it so the next sighting retries.
		r.known.Delete(w.mint)
		observability.RecordTokenWrite("error")
		logger.WithError(err).Warn("failed to record token")
		return
	}
	observability.RecordTokenWrite("ok")

	switch {
	case inserted && w.meta == nil:
		observability.RecordTokenObserved()
		r.enqueue(w.mint)
	case inserted:
		observability.RecordTokenObserved()
	case w.meta != nil:
		if err := r.Enrich(ctx, w.mint, *w.meta); err != nil {
			logger.WithError(err).Warn("failed to store token metadata")
		}
	}
}

func (r *Registry) enrichLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case mint := <-r.queue:
			observability.UpdateEnrichmentQueue(len(r.queue))
			if err := r.limiter.Wait(ctx); err != nil {
				return
			}
			r.lookup(ctx, mint)
		}
	}
}

func (r *Registry) lookup(ctx context.Context, mint string) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	logger := r.logger.WithField("mint", mint)

	meta, err := r.source.Fetch(ctx, mint)
	if err != nil {
		observability.RecordMetadataLookup("error")
		logger.WithError(err).Debug("metadata lookup failed")
		return
	}
	if meta == nil {
		observability.RecordMetadataLookup("not_found")
		return
	}

	if err := r.Enrich(ctx, mint, *meta); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.WithError(err).Warn("failed to store metadata")
		}
		observability.RecordMetadataLookup("error")
		return
	}
	observability.RecordMetadataLookup("ok")
}
