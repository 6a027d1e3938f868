// Package hub fans live candle deltas out to subscribers filtered by (token, resolution).
package hub

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pumpfun-candles/internal/domain"
	"pumpfun-candles/internal/logging"
	"pumpfun-candles/internal/observability"
)

// Topic is the subscription filter.
type Topic struct {
	Token      string
	Resolution domain.Resolution
}

// Options configures a Hub.
type Options struct {
	Shards              int // Default: 32
	QueueSize           int // per subscriber, Default: 256
	MaxConsecutiveDrops int // evict after this many drops in a row, Default: 1024
	Logger              logrus.FieldLogger
}

// Stats is a snapshot of hub counters.
type Stats struct {
	Subscribers int64  `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	Evicted     uint64 `json:"evicted"`
}

// Hub is the registry of live subscriptions.
// Publish never blocks on a subscriber: deltas go into per-subscriber rings.
type Hub struct {
	queueSize int
	maxDrops  int
	logger    logrus.FieldLogger
	shards    []*hubShard

	subscribers atomic.Int64
	published   atomic.Uint64
	dropped     atomic.Uint64
	evicted     atomic.Uint64
}

type hubShard struct {
	mu     sync.RWMutex
	topics map[Topic]map[uuid.UUID]*Subscription
}

// New creates a new Hub.
func New(opts Options) *Hub {
	shards := opts.Shards
	if shards <= 0 {
		shards = 32
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	maxDrops := opts.MaxConsecutiveDrops
	if maxDrops <= 0 {
		maxDrops = 1024
	}

	h := &Hub{
		queueSize: queueSize,
		maxDrops:  maxDrops,
		logger:    logging.Component(opts.Logger, "hub"),
		shards:    make([]*hubShard, shards),
	}
	for i := range h.shards {
		h.shards[i] = &hubShard{topics: make(map[Topic]map[uuid.UUID]*Subscription)}
	}
	return h
}

func (h *Hub) shardFor(t Topic) *hubShard {
	f := fnv.New32a()
	f.Write([]byte(t.Token))
	f.Write([]byte{byte(t.Resolution)})
	return h.shards[f.Sum32()%uint32(len(h.shards))]
}

// Subscribe registers a new subscription for topic.
func (h *Hub) Subscribe(token string, res domain.Resolution) *Subscription {
	topic := Topic{Token: token, Resolution: res}
	sub := newSubscription(topic, h.queueSize)

	sh := h.shardFor(topic)
	sh.mu.Lock()
	subs, ok := sh.topics[topic]
	if !ok {
		subs = make(map[uuid.UUID]*Subscription)
		sh.topics[topic] = subs
	}
	subs[sub.id] = sub
	sh.mu.Unlock()

	observability.UpdateSubscribers(h.subscribers.Add(1))
	return sub
}

// Unsubscribe removes sub. Removing an unknown or already removed subscription is a no-op.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	if h.remove(sub) {
		observability.UpdateSubscribers(h.subscribers.Add(-1))
	}
	sub.close()
}

func (h *Hub) remove(sub *Subscription) bool {
	sh := h.shardFor(sub.topic)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	subs, ok := sh.topics[sub.topic]
	if !ok {
		return false
	}
	if _, ok := subs[sub.id]; !ok {
		return false
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(sh.topics, sub.topic)
	}
	return true
}

// Publish delivers c to every subscriber of its (token, resolution).
// Subscribers that have dropped MaxConsecutiveDrops deltas in a row are evicted.
func (h *Hub) Publish(c domain.Candle) {
	topic := Topic{Token: c.Token, Resolution: c.Resolution}
	sh := h.shardFor(topic)

	var evict []*Subscription
	sh.mu.RLock()
	for _, sub := range sh.topics[topic] {
		dropped, streak := sub.push(c)
		if dropped {
			h.dropped.Add(1)
			observability.RecordDeltaDropped()
		}
		if streak >= h.maxDrops {
			evict = append(evict, sub)
		}
	}
	sh.mu.RUnlock()

	h.published.Add(1)
	observability.RecordDeltaPublished()

	for _, sub := range evict {
		if !h.remove(sub) {
			continue
		}
		sub.close()
		observability.UpdateSubscribers(h.subscribers.Add(-1))
		h.evicted.Add(1)
		observability.RecordSubscriberEvicted()
		h.logger.WithFields(logrus.Fields{
			"subscription": sub.id.String(),
			"token":        topic.Token,
			"resolution":   topic.Resolution.String(),
		}).Warn("evicting slow subscriber")
	}
}

// Stats returns a snapshot of hub counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Subscribers: h.subscribers.Load(),
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
		Evicted:     h.evicted.Load(),
	}
}
