// Package fanout delivers committed auction changes to subscribers.
//
// Every subscription owns a bounded queue drained by its own goroutine, so events published for one
// auction reach each subscriber in publish order and a slow subscriber never blocks the publisher or
// its peers. When a queue is full the event is dropped for that subscriber only.
package fanout

import (
	"sync"
	"sync/atomic"

	"live-bidding/internal/metrics"
	model "live-bidding/internal/models"
	"live-bidding/utils"
)

const defaultBufferSize = 64

// Handler receives per-auction events
type Handler func(model.AuctionEvent)

// FeedHandler receives the global item list feed
type FeedHandler func(model.ItemListEvent)

type subKind int

const (
	kindAuction subKind = iota
	kindAll
	kindFeed
)

// Subscription is a registered handler; pass it to Unsubscribe to stop delivery
type Subscription struct {
	id        uint64
	kind      subKind
	auctionID string

	queue chan any
	done  chan struct{}
	once  sync.Once

	onEvent Handler
	onFeed  FeedHandler
}

// Done is closed once the subscription is removed
func (s *Subscription) Done() <-chan struct{} { return s.done }

// AuctionID is the auction the subscription follows, empty for feed and all-auction subscriptions
func (s *Subscription) AuctionID() string { return s.auctionID }

// Option configures a Hub
type Option func(*Hub)

// WithBufferSize sets the queue length of each subscription
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

type Hub struct {
	mu        sync.RWMutex
	nextID    uint64
	byAuction map[string]map[uint64]*Subscription
	all       map[uint64]*Subscription
	feed      map[uint64]*Subscription

	bufferSize int
	dropped    atomic.Uint64
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		byAuction:  make(map[string]map[uint64]*Subscription),
		all:        make(map[uint64]*Subscription),
		feed:       make(map[uint64]*Subscription),
		bufferSize: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers fn for the events of one auction
func (h *Hub) Subscribe(auctionID string, fn Handler) *Subscription {
	sub := h.newSubscription(kindAuction, auctionID)
	sub.onEvent = fn

	h.mu.Lock()
	subs, ok := h.byAuction[auctionID]
	if !ok {
		subs = make(map[uint64]*Subscription)
		h.byAuction[auctionID] = subs
	}
	subs[sub.id] = sub
	h.mu.Unlock()

	h.start(sub)
	return sub
}

// SubscribeAll registers fn for the events of every auction
func (h *Hub) SubscribeAll(fn Handler) *Subscription {
	sub := h.newSubscription(kindAll, "")
	sub.onEvent = fn

	h.mu.Lock()
	h.all[sub.id] = sub
	h.mu.Unlock()

	h.start(sub)
	return sub
}

// SubscribeFeed registers fn for item list updates
func (h *Hub) SubscribeFeed(fn FeedHandler) *Subscription {
	sub := h.newSubscription(kindFeed, "")
	sub.onFeed = fn

	h.mu.Lock()
	h.feed[sub.id] = sub
	h.mu.Unlock()

	h.start(sub)
	return sub
}

// Unsubscribe stops delivery to sub; queued events not yet handled may be discarded.
// Calling it more than once is harmless.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	switch sub.kind {
	case kindAuction:
		if subs, ok := h.byAuction[sub.auctionID]; ok {
			delete(subs, sub.id)
			if len(subs) == 0 {
				delete(h.byAuction, sub.auctionID)
			}
		}
	case kindAll:
		delete(h.all, sub.id)
	case kindFeed:
		delete(h.feed, sub.id)
	}
	h.mu.Unlock()

	sub.once.Do(func() {
		close(sub.done)
		metrics.SubscriberRemoved()
	})
}

// Close removes every subscription
func (h *Hub) Close() {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.all)+len(h.feed))
	for _, m := range h.byAuction {
		for _, s := range m {
			subs = append(subs, s)
		}
	}
	for _, s := range h.all {
		subs = append(subs, s)
	}
	for _, s := range h.feed {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		h.Unsubscribe(s)
	}
}

// PublishAuction enqueues ev for the auction's subscribers and the all-auction subscribers.
// It never blocks.
func (h *Hub) PublishAuction(ev model.AuctionEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.byAuction[ev.AuctionID] {
		h.enqueue(sub, ev)
	}
	for _, sub := range h.all {
		h.enqueue(sub, ev)
	}
}

// PublishItems enqueues ev for every feed subscriber. It never blocks.
func (h *Hub) PublishItems(ev model.ItemListEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.feed {
		h.enqueue(sub, ev)
	}
}

// Dropped returns how many deliveries were dropped on full queues
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Subscribers returns the number of live subscriptions
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := len(h.all) + len(h.feed)
	for _, subs := range h.byAuction {
		n += len(subs)
	}
	return n
}

func (h *Hub) newSubscription(kind subKind, auctionID string) *Subscription {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.mu.Unlock()

	return &Subscription{
		id:        id,
		kind:      kind,
		auctionID: auctionID,
		queue:     make(chan any, h.bufferSize),
		done:      make(chan struct{}),
	}
}

func (h *Hub) start(sub *Subscription) {
	metrics.SubscriberAdded()
	go h.deliver(sub)
}

func (h *Hub) enqueue(sub *Subscription, msg any) {
	select {
	case <-sub.done:
		return
	default:
	}

	select {
	case sub.queue <- msg:
	default:
		h.dropped.Add(1)
		metrics.FanoutDropped()
		utils.Warn("Subscriber queue full, event dropped", map[string]any{
			"subscription": sub.id,
			"auction_id":   sub.auctionID,
		})
	}
}

func (h *Hub) deliver(sub *Subscription) {
	for {
		select {
		case <-sub.done:
			return
		case msg := <-sub.queue:
			h.dispatch(sub, msg)
		}
	}
}

func (h *Hub) dispatch(sub *Subscription, msg any) {
	defer func() {
		if r := recover(); r != nil {
			utils.Error("Subscriber handler panicked", map[string]any{
				"subscription": sub.id,
				"panic":        r,
			})
		}
	}()

	switch m := msg.(type) {
	case model.AuctionEvent:
		if sub.onEvent != nil {
			sub.onEvent(m)
		}
	case model.ItemListEvent:
		if sub.onFeed != nil {
			sub.onFeed(m)
		}
	}
}
