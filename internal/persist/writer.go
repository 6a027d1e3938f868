// Package persist applies engine candle writes to a CandleStore off the hot path.
package persist

import (
	"context"
	"errors"
	"hash/fnv"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"pumpfun-candles/internal/domain"
	"pumpfun-candles/internal/logging"
	"pumpfun-candles/internal/observability"
	"pumpfun-candles/internal/storage"
)

// flushTimeout bounds the final drain on shutdown.
const flushTimeout = 10 * time.Second

// WriterOptions configures a Writer.
type WriterOptions struct {
	Store         storage.CandleStore
	Shards        int           // Default: 4
	QueueSize     int           // queued plus in-flight keys per shard, Default: 10000
	MaxRetries    int           // Default: 3
	RetryDelay    time.Duration // Default: 100ms, doubled per attempt
	MaxRetryDelay time.Duration // Default: 2s
	Logger        logrus.FieldLogger
}

// WriterStats is a snapshot of writer counters.
type WriterStats struct {
	Pending   int64  `json:"pending"`
	Written   uint64 `json:"written"`
	Coalesced uint64 `json:"coalesced"`
	Dropped   uint64 `json:"dropped"`
	Evicted   uint64 `json:"evicted"`
	Failed    uint64 `json:"failed"`
}

// Writer queues candle revisions and commits and upserts them in the background.
// Pending writes are coalesced per candle key, keeping the highest revision.
// A token always maps to the same shard and each shard is drained FIFO by one
// worker, so writes for a series reach the store in bucket order.
// A shard holds at most QueueSize keys, counting those being written. When it
// is full the oldest queued revision is evicted to make room; a commit may
// also evict the oldest queued commit, while a revision is then dropped.
type Writer struct {
	store         storage.CandleStore
	queueSize     int
	maxRetries    int
	retryDelay    time.Duration
	maxRetryDelay time.Duration
	logger        logrus.FieldLogger
	shards        []*writeShard

	pending   atomic.Int64
	written   atomic.Uint64
	coalesced atomic.Uint64
	dropped   atomic.Uint64
	evicted   atomic.Uint64
	failed    atomic.Uint64
}

type pendingWrite struct {
	candle domain.Candle
	commit bool
}

type writeShard struct {
	mu       sync.Mutex
	pending  map[domain.CandleKey]*pendingWrite
	order    []domain.CandleKey
	inflight int // keys taken by drain and not yet written
	notify   chan struct{}
}

// NewWriter creates a new Writer. Call Run to start draining.
func NewWriter(opts WriterOptions) *Writer {
	shards := opts.Shards
	if shards <= 0 {
		shards = 4
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 10000
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = 3
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 100 * time.Millisecond
	}
	maxRetryDelay := opts.MaxRetryDelay
	if maxRetryDelay <= 0 {
		maxRetryDelay = 2 * time.Second
	}

	w := &Writer{
		store:         opts.Store,
		queueSize:     queueSize,
		maxRetries:    maxRetries,
		retryDelay:    retryDelay,
		maxRetryDelay: maxRetryDelay,
		logger:        logging.Component(opts.Logger, "persist"),
		shards:        make([]*writeShard, shards),
	}
	for i := range w.shards {
		w.shards[i] = &writeShard{
			pending: make(map[domain.CandleKey]*pendingWrite),
			notify:  make(chan struct{}, 1),
		}
	}
	return w
}

// Revise queues a new revision of an open bucket.
func (w *Writer) Revise(c domain.Candle) {
	w.enqueue(c, false)
}

// Commit queues a finalized bucket.
func (w *Writer) Commit(c domain.Candle) {
	w.enqueue(c, true)
}

func (w *Writer) shardFor(token string) *writeShard {
	h := fnv.New32a()
	h.Write([]byte(token))
	return w.shards[h.Sum32()%uint32(len(w.shards))]
}

func (w *Writer) enqueue(c domain.Candle, commit bool) {
	sh := w.shardFor(c.Token)
	key := c.Key()

	sh.mu.Lock()
	if pw, ok := sh.pending[key]; ok {
		if c.Revision >= pw.candle.Revision {
			pw.candle = c
		}
		pw.commit = pw.commit || commit
		sh.mu.Unlock()
		w.coalesced.Add(1)
		return
	}
	if len(sh.pending)+sh.inflight >= w.queueSize && !w.evict(sh, commit) {
		sh.mu.Unlock()
		w.dropped.Add(1)
		observability.RecordCandleDropped("queue_full")
		return
	}
	sh.pending[key] = &pendingWrite{candle: c, commit: commit}
	sh.order = append(sh.order, key)
	sh.mu.Unlock()

	observability.UpdateWriteQueueDepth(int(w.pending.Add(1)))

	select {
	case sh.notify <- struct{}{}:
	default:
	}
}

// evict frees one slot of a full shard, preferring the oldest queued revision.
// Only an incoming commit may displace a queued commit. Caller holds sh.mu.
func (w *Writer) evict(sh *writeShard, commit bool) bool {
	victim := slices.IndexFunc(sh.order, func(k domain.CandleKey) bool {
		return !sh.pending[k].commit
	})
	if victim < 0 && commit && len(sh.order) > 0 {
		victim = 0
	}
	if victim < 0 {
		return false
	}

	key := sh.order[victim]
	delete(sh.pending, key)
	sh.order = slices.Delete(sh.order, victim, victim+1)
	w.pending.Add(-1)
	w.evicted.Add(1)
	observability.RecordCandleDropped("evicted")
	return true
}

// Run drains every shard until ctx is cancelled, then flushes what is left.
func (w *Writer) Run(ctx context.Context) error {
	w.logger.WithField("shards", len(w.shards)).Info("candle writer started")

	var wg sync.WaitGroup
	for _, sh := range w.shards {
		wg.Add(1)
		go func(sh *writeShard) {
			defer wg.Done()
			w.drainLoop(ctx, sh)
		}(sh)
	}
	wg.Wait()

	w.logger.WithField("written", w.written.Load()).Info("candle writer stopped")
	return nil
}

func (w *Writer) drainLoop(ctx context.Context, sh *writeShard) {
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
			w.drain(flushCtx, sh)
			cancel()
			return
		case <-sh.notify:
			// In-flight batches complete even if shutdown starts mid-drain.
			w.drain(context.WithoutCancel(ctx), sh)
		}
	}
}

// drain writes everything queued on sh at the time of the call.
func (w *Writer) drain(ctx context.Context, sh *writeShard) {
	sh.mu.Lock()
	order := sh.order
	pending := sh.pending
	sh.order = nil
	sh.pending = make(map[domain.CandleKey]*pendingWrite, len(pending))
	sh.inflight += len(order)
	sh.mu.Unlock()

	for _, key := range order {
		w.write(ctx, pending[key])

		sh.mu.Lock()
		sh.inflight--
		sh.mu.Unlock()
		observability.UpdateWriteQueueDepth(int(w.pending.Add(-1)))
	}
}

func (w *Writer) write(ctx context.Context, pw *pendingWrite) {
	op := "revise"
	if pw.commit {
		op = "commit"
	}

	delay := w.retryDelay
	var err error
	for attempt := 0; ; attempt++ {
		c := pw.candle
		err = w.store.Upsert(ctx, &c)
		observability.RecordCandleWrite(op, err)
		if err == nil {
			w.written.Add(1)
			return
		}
		if errors.Is(err, storage.ErrInvalidInput) || attempt >= w.maxRetries {
			break
		}

		observability.RecordCandleWriteRetry()
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(delay):
			delay = min(delay*2, w.maxRetryDelay)
			continue
		}
		break
	}

	w.failed.Add(1)
	observability.RecordCandleDropped("write_failed")
	w.logger.WithError(err).WithFields(logrus.Fields{
		"op":         op,
		"token":      pw.candle.Token,
		"resolution": pw.candle.Resolution.String(),
		"bucket":     pw.candle.Bucket.Unix(),
		"revision":   pw.candle.Revision,
	}).Warn("candle write dropped after retries")
}

// Stats returns a snapshot of writer counters.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Pending:   w.pending.Load(),
		Written:   w.written.Load(),
		Coalesced: w.coalesced.Load(),
		Dropped:   w.dropped.Load(),
		Evicted:   w.evicted.Load(),
		Failed:    w.failed.Load(),
	}
}
