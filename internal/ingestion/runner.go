package ingestion

import (
	"context"
	"hash/fnv"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"pumpfun-candles/internal/aggregation"
	"pumpfun-candles/internal/domain"
	"pumpfun-candles/internal/logging"
	"pumpfun-candles/internal/observability"
)

// TradeIngester folds trades into candles.
type TradeIngester interface {
	Ingest(t domain.Trade) aggregation.Outcome
}

// TokenObserver records tokens as they are seen.
type TokenObserver interface {
	Observe(ctx context.Context, mint string) bool
	ObserveWithMetadata(ctx context.Context, mint string, meta domain.TokenMetadata) error
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Sources    []Source
	Engine     TradeIngester
	Registry   TokenObserver // optional
	Workers    int           // Default: 4
	QueueSize  int           // per worker, Default: 1024
	MinBackoff time.Duration // Default: 1s
	MaxBackoff time.Duration // Default: 30s
	Logger     logrus.FieldLogger
}

// RunnerStats is a snapshot of runner counters.
type RunnerStats struct {
	Events     int64 `json:"events"`
	Trades     int64 `json:"trades"`
	Rejected   int64 `json:"rejected"`
	Tokens     int64 `json:"tokens"`
	Reconnects int64 `json:"reconnects"`
}

// Runner pulls events from every source and dispatches them to workers keyed
// by token, so events of one token are always handled in arrival order.
type Runner struct {
	sources    []Source
	engine     TradeIngester
	registry   TokenObserver
	queues     []chan Event
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     logrus.FieldLogger

	events     atomic.Int64
	trades     atomic.Int64
	rejected   atomic.Int64
	tokens     atomic.Int64
	reconnects atomic.Int64
}

// NewRunner creates a new ingestion runner.
func NewRunner(opts RunnerOptions) *Runner {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	minBackoff := opts.MinBackoff
	if minBackoff <= 0 {
		minBackoff = time.Second
	}
	maxBackoff := opts.MaxBackoff
	if maxBackoff < minBackoff {
		maxBackoff = max(30*time.Second, minBackoff)
	}

	queues := make([]chan Event, workers)
	for i := range queues {
		queues[i] = make(chan Event, queueSize)
	}

	return &Runner{
		sources:    opts.Sources,
		engine:     opts.Engine,
		registry:   opts.Registry,
		queues:     queues,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
		logger:     logging.Component(opts.Logger, "ingestion"),
	}
}

// Run consumes all sources until ctx is cancelled. Engine state survives
// upstream disconnects; sources are resubscribed with exponential backoff.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.WithFields(logrus.Fields{
		"sources": len(r.sources),
		"workers": len(r.queues),
	}).Info("starting ingestion runner")

	workers, workerCtx := errgroup.WithContext(context.WithoutCancel(ctx))
	for _, q := range r.queues {
		q := q
		workers.Go(func() error {
			r.work(workerCtx, q)
			return nil
		})
	}

	readers, readCtx := errgroup.WithContext(ctx)
	for _, src := range r.sources {
		src := src
		readers.Go(func() error {
			r.consume(readCtx, src)
			return nil
		})
	}
	_ = readers.Wait()

	// Sources are done; let workers finish what is queued.
	for _, q := range r.queues {
		close(q)
	}
	_ = workers.Wait()

	r.logger.Info("ingestion runner stopped")
	return nil
}

// consume keeps one source subscribed until ctx is done.
func (r *Runner) consume(ctx context.Context, src Source) {
	logger := r.logger.WithField("source", src.Name())
	backoff := r.minBackoff

	for {
		events, err := src.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).WithField("retry_in", backoff).Warn("subscribe failed")
		} else {
			logger.Info("source subscribed")
			if r.drain(ctx, events) {
				// The stream made progress; start over from the minimum delay.
				backoff = r.minBackoff
			}
			if ctx.Err() != nil {
				return
			}
			logger.WithField("retry_in", backoff).Warn("source stream ended, resubscribing")
		}

		r.reconnects.Add(1)
		observability.RecordSourceReconnect(src.Name())

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = min(backoff*2, r.maxBackoff)
	}
}

// drain dispatches events until the channel closes. Reports whether any event arrived.
func (r *Runner) drain(ctx context.Context, events <-chan Event) bool {
	received := false
	for {
		select {
		case <-ctx.Done():
			return received
		case ev, ok := <-events:
			if !ok {
				return received
			}
			received = true
			r.dispatch(ctx, ev)
		}
	}
}

func (r *Runner) dispatch(ctx context.Context, ev Event) {
	r.events.Add(1)
	q := r.queues[r.workerFor(ev.Mint())]
	select {
	case q <- ev:
	case <-ctx.Done():
	}
}

func (r *Runner) workerFor(mint string) int {
	h := fnv.New32a()
	h.Write([]byte(mint))
	return int(h.Sum32() % uint32(len(r.queues)))
}

func (r *Runner) work(ctx context.Context, q <-chan Event) {
	for ev := range q {
		r.handle(ctx, ev)
	}
}

func (r *Runner) handle(ctx context.Context, ev Event) {
	switch {
	case ev.Token != nil:
		r.tokens.Add(1)
		if r.registry == nil {
			return
		}
		if err := r.registry.ObserveWithMetadata(ctx, ev.Token.Mint, ev.Token.Metadata); err != nil {
			r.logger.WithError(err).WithField("mint", ev.Token.Mint).Warn("failed to record token metadata")
		}

	case ev.Trade != nil:
		out := r.engine.Ingest(*ev.Trade)
		if !out.Accepted() {
			r.rejected.Add(1)
			return
		}
		r.trades.Add(1)
		if r.registry != nil {
			r.registry.Observe(ctx, ev.Trade.Mint)
		}
	}
}

// Stats returns current runner statistics.
func (r *Runner) Stats() RunnerStats {
	return RunnerStats{
		Events:     r.events.Load(),
		Trades:     r.trades.Load(),
		Rejected:   r.rejected.Load(),
		Tokens:     r.tokens.Load(),
		Reconnects: r.reconnects.Load(),
	}
}
