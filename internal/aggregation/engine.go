// Package aggregation turns trades into OHLCV candles at every resolution.
package aggregation

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"pumpfun-candles/internal/domain"
	"pumpfun-candles/internal/logging"
	"pumpfun-candles/internal/observability"
)

// Sink receives candle writes. Implementations must not block.
type Sink interface {
	// Revise records a new revision of an open bucket.
	Revise(c domain.Candle)
	// Commit records a finalized bucket.
	Commit(c domain.Candle)
}

// Publisher receives live candle deltas. Implementations must not block.
type Publisher interface {
	Publish(c domain.Candle)
}

// ResolutionAction is the effect of a trade at one resolution.
type ResolutionAction struct {
	Resolution domain.Resolution
	Action     Action
}

// Outcome reports what Ingest did with a trade.
// Err is set, and Actions empty, when the trade was rejected as malformed.
type Outcome struct {
	Err     error
	Actions []ResolutionAction
}

// Accepted reports whether the trade passed validation.
func (o Outcome) Accepted() bool {
	return o.Err == nil
}

// Stats is a snapshot of engine counters.
type Stats struct {
	TradesIngested   uint64 `json:"trades_ingested"`
	TradesRejected   uint64 `json:"trades_rejected"`
	LateTrades       uint64 `json:"late_trades"`
	LateAmendments   uint64 `json:"late_amendments"`
	CandlesFinalized uint64 `json:"candles_finalized"`
	OpenSeries       int64  `json:"open_series"`
}

// Options configures an Engine.
type Options struct {
	Resolutions []domain.Resolution // Default: all six
	Shards      int                 // Default: 64
	LateGrace   time.Duration       // Default: 0, late trades are rejected

	// RevisionBase is the revision every series starts counting from.
	// Default: engine creation time in unix microseconds, so a restarted
	// process outranks the revisions it persisted before.
	RevisionBase uint64
	Sink         Sink
	Publisher    Publisher
	Logger       logrus.FieldLogger
}

// Engine owns the candle state of every (token, resolution) series.
// State is sharded by token hash; all resolutions of a token live in the same shard.
type Engine struct {
	resolutions  []domain.Resolution
	lateGrace    time.Duration
	revisionBase uint64
	sink         Sink
	publisher    Publisher
	logger       logrus.FieldLogger
	shards       []*shard

	ingested   atomic.Uint64
	rejected   atomic.Uint64
	late       atomic.Uint64
	amended    atomic.Uint64
	finalized  atomic.Uint64
	openSeries atomic.Int64
}

type shard struct {
	mu     sync.Mutex
	series map[domain.SeriesKey]*candleState
}

// NewEngine creates a new Engine.
func NewEngine(opts Options) *Engine {
	resolutions := opts.Resolutions
	if len(resolutions) == 0 {
		resolutions = domain.AllResolutions()
	}

	shards := opts.Shards
	if shards <= 0 {
		shards = 64
	}

	sink := opts.Sink
	if sink == nil {
		sink = nopSink{}
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = nopPublisher{}
	}

	revisionBase := opts.RevisionBase
	if revisionBase == 0 {
		revisionBase = uint64(time.Now().UnixMicro())
	}

	e := &Engine{
		resolutions:  resolutions,
		lateGrace:    opts.LateGrace,
		revisionBase: revisionBase,
		sink:         sink,
		publisher:    publisher,
		logger:       logging.Component(opts.Logger, "aggregation"),
		shards:       make([]*shard, shards),
	}
	for i := range e.shards {
		e.shards[i] = &shard{series: make(map[domain.SeriesKey]*candleState)}
	}
	return e
}

func (e *Engine) shardFor(token string) *shard {
	h := fnv.New32a()
	h.Write([]byte(token))
	return e.shards[h.Sum32()%uint32(len(e.shards))]
}

// Ingest folds a trade into every resolution. It never fails: malformed trades
// are counted and reported through Outcome.Err.
// Downstream hand-offs happen under the shard lock so per-series order is preserved.
func (e *Engine) Ingest(t domain.Trade) Outcome {
	if err := t.Validate(); err != nil {
		e.rejected.Add(1)
		observability.RecordTradeRejected(domain.RejectReason(err))
		e.logger.WithError(err).WithField("mint", t.Mint).Debug("trade rejected")
		return Outcome{Err: err}
	}
	t.Time = t.Time.UTC()

	out := Outcome{Actions: make([]ResolutionAction, 0, len(e.resolutions))}
	sh := e.shardFor(t.Mint)

	sh.mu.Lock()
	for _, r := range e.resolutions {
		bucket := r.BucketStart(t.Time)
		key := domain.SeriesKey{Token: t.Mint, Resolution: r}

		var tr transition
		st, ok := sh.series[key]
		if !ok {
			st, tr = newCandleState(t, r, bucket, e.revisionBase)
			sh.series[key] = st
			e.openSeries.Add(1)
			observability.RecordCandleOpened(r.String())
		} else {
			tr = st.apply(t, bucket, e.lateGrace)
		}
		e.emit(r, tr)
		out.Actions = append(out.Actions, ResolutionAction{Resolution: r, Action: tr.action})
	}
	sh.mu.Unlock()

	e.ingested.Add(1)
	observability.RecordTradeIngested(t.Time.Unix())
	observability.UpdateOpenSeries(int(e.openSeries.Load()))
	return out
}

func (e *Engine) emit(r domain.Resolution, tr transition) {
	switch tr.action {
	case ActionOpened, ActionRevised:
		e.sink.Revise(*tr.live)
		e.publisher.Publish(*tr.live)
	case ActionRolledOver:
		e.finalized.Add(1)
		observability.RecordCandleFinalized(r.String())
		observability.RecordCandleOpened(r.String())
		e.sink.Commit(*tr.finalized)
		e.publisher.Publish(*tr.finalized)
		e.sink.Revise(*tr.live)
		e.publisher.Publish(*tr.live)
	case ActionAmended:
		// Persistence only: viewers already moved past this bucket.
		e.amended.Add(1)
		observability.RecordLateAmendment(r.String())
		e.sink.Commit(*tr.finalized)
	case ActionLate:
		e.late.Add(1)
		observability.RecordLateTrade(r.String())
	}
}

// Current returns the open bucket of a series.
func (e *Engine) Current(token string, r domain.Resolution) (domain.Candle, bool) {
	sh := e.shardFor(token)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.series[domain.SeriesKey{Token: token, Resolution: r}]
	if !ok {
		return domain.Candle{}, false
	}
	return st.current, true
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		TradesIngested:   e.ingested.Load(),
		TradesRejected:   e.rejected.Load(),
		LateTrades:       e.late.Load(),
		LateAmendments:   e.amended.Load(),
		CandlesFinalized: e.finalized.Load(),
		OpenSeries:       e.openSeries.Load(),
	}
}

type nopSink struct{}

func (nopSink) Revise(domain.Candle) {}
func (nopSink) Commit(domain.Candle) {}

type nopPublisher struct{}

func (nopPublisher) Publish(domain.Candle) {}
