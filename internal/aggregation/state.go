package aggregation

import (
	"time"

	"pumpfun-candles/internal/domain"
)

// Action is what a trade did to one (token, resolution) series.
type Action uint8

const (
	ActionOpened     Action = iota + 1 // first trade of a series, bucket opened
	ActionRevised                      // folded into the open bucket
	ActionRolledOver                   // open bucket finalized, new bucket opened
	ActionLate                         // older than the open bucket, rejected
	ActionAmended                      // folded into the just-finalized bucket within the grace window
)

func (a Action) String() string {
	switch a {
	case ActionOpened:
		return "opened"
	case ActionRevised:
		return "revised"
	case ActionRolledOver:
		return "rolled_over"
	case ActionLate:
		return "late"
	case ActionAmended:
		return "amended"
	default:
		return "unknown"
	}
}

// candleState is the per (token, resolution) state machine.
// A series with no open bucket is never stored, so the zero state is NoOpenBucket.
type candleState struct {
	current      domain.Candle
	currentSpan  span
	previous     domain.Candle
	previousSpan span
	// hasPrevious is set once a bucket has been finalized.
	hasPrevious bool
	// newest is the latest trade timestamp folded into the series.
	newest   time.Time
	revision uint64
}

// span is the earliest and latest trade time folded into a bucket.
// Open and close follow trade timestamps: a trade earlier than every other in
// its bucket sets the open, one later than every other sets the close.
// Trades with equal timestamps keep arrival order.
type span struct {
	first, last time.Time
}

// fold applies a trade to c, ordering open and close by trade time.
func (sp *span) fold(c *domain.Candle, t domain.Trade) {
	prevClose := c.Close
	c.Apply(t.Price, t.Size)

	if t.Time.Before(sp.first) {
		sp.first = t.Time
		c.Open = t.Price
	}
	if t.Time.Before(sp.last) {
		c.Close = prevClose
	} else {
		sp.last = t.Time
	}
}

// transition is the effect of one trade on a series.
// finalized is set on rollover and amendment, live on every change broadcast to viewers.
type transition struct {
	action    Action
	finalized *domain.Candle
	live      *domain.Candle
}

// newCandleState opens a series. Its first revision is base+1.
func newCandleState(t domain.Trade, r domain.Resolution, bucket time.Time, base uint64) (*candleState, transition) {
	s := &candleState{newest: t.Time, revision: base, currentSpan: span{first: t.Time, last: t.Time}}
	s.current = domain.NewCandle(t.Mint, r, bucket, t.Price, t.Size)
	s.revision++
	s.current.Revision = s.revision
	live := s.current
	return s, transition{action: ActionOpened, live: &live}
}

// apply folds trade into the series. bucket is the trade's aligned bucket start.
func (s *candleState) apply(t domain.Trade, bucket time.Time, grace time.Duration) transition {
	switch {
	case bucket.Equal(s.current.Bucket):
		s.currentSpan.fold(&s.current, t)
		s.revision++
		s.current.Revision = s.revision
		s.touch(t.Time)
		live := s.current
		return transition{action: ActionRevised, live: &live}

	case bucket.After(s.current.Bucket):
		s.revision++
		s.current.Revision = s.revision
		s.current.Final = true
		s.previous, s.previousSpan = s.current, s.currentSpan
		s.hasPrevious = true
		final := s.previous

		s.current = domain.NewCandle(t.Mint, s.current.Resolution, bucket, t.Price, t.Size)
		s.currentSpan = span{first: t.Time, last: t.Time}
		s.revision++
		s.current.Revision = s.revision
		s.touch(t.Time)
		live := s.current
		return transition{action: ActionRolledOver, finalized: &final, live: &live}

	default:
		if grace > 0 && s.hasPrevious && bucket.Equal(s.previous.Bucket) && s.newest.Sub(t.Time) <= grace {
			s.previousSpan.fold(&s.previous, t)
			s.revision++
			s.previous.Revision = s.revision
			amended := s.previous
			return transition{action: ActionAmended, finalized: &amended}
		}
		return transition{action: ActionLate}
	}
}

func (s *candleState) touch(ts time.Time) {
	if ts.After(s.newest) {
		s.newest = ts
	}
}
