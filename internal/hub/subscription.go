package hub

import (
	"sync"

	"github.com/google/uuid"

	"pumpfun-candles/internal/domain"
)

// Subscription is one viewer's bounded queue of candle deltas for a topic.
// When the queue is full the oldest delta is dropped.
type Subscription struct {
	id    uuid.UUID
	topic Topic

	mu       sync.Mutex
	buf      []domain.Candle
	head     int
	size     int
	dropped  uint64
	streak   int // consecutive drops since the last Drain
	closed   bool
	notify   chan struct{}
	done     chan struct{}
	closeOne sync.Once
}

func newSubscription(topic Topic, queueSize int) *Subscription {
	return &Subscription{
		id:     uuid.New(),
		topic:  topic,
		buf:    make([]domain.Candle, queueSize),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// ID returns the subscription id.
func (s *Subscription) ID() uuid.UUID { return s.id }

// Topic returns the subscribed (token, resolution).
func (s *Subscription) Topic() Topic { return s.topic }

// Ready is signalled when deltas are queued.
func (s *Subscription) Ready() <-chan struct{} { return s.notify }

// Done is closed when the subscription is removed or evicted.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// push enqueues c without blocking. It reports whether the oldest delta was
// dropped to make room and the current drop streak.
func (s *Subscription) push(c domain.Candle) (dropped bool, streak int) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, 0
	}
	if s.size == len(s.buf) {
		dropped = true
		s.head = (s.head + 1) % len(s.buf)
		s.size--
		s.dropped++
		s.streak++
	}
	s.buf[(s.head+s.size)%len(s.buf)] = c
	s.size++
	streak = s.streak
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped, streak
}

// Drain appends all queued deltas to dst in publish order and returns it.
func (s *Subscription) Drain(dst []domain.Candle) []domain.Candle {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < s.size; i++ {
		dst = append(dst, s.buf[(s.head+i)%len(s.buf)])
	}
	s.head, s.size, s.streak = 0, 0, 0
	return dst
}

// Dropped returns the number of deltas dropped for this subscriber.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// close marks the subscription removed. Safe to call more than once.
func (s *Subscription) close() {
	s.closeOne.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
}
