package events

import (
	"sync"

	"stakeledger/core/types"
)

// Record is an event that has been committed to the outbox together with the
// ledger mutation that produced it.
type Record struct {
	Sequence  uint64       `json:"sequence"`
	Timestamp int64        `json:"timestamp"`
	Event     *types.Event `json:"event"`
}

// EventType satisfies the Event interface.
func (r Record) EventType() string {
	if r.Event == nil {
		return ""
	}
	return r.Event.Type
}

// Hub fans committed records out to live subscribers. Subscribers that fall
// behind by more than the buffer are disconnected and expected to resume from
// the outbox using their last seen sequence.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
	closed bool
}

// Subscription receives records published after it was created.
type Subscription struct {
	C <-chan Record

	ch   chan Record
	id   uint64
	hub  *Hub
	once sync.Once
}

// NewHub creates a hub whose subscriptions buffer up to buffer records.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[uint64]*Subscription), buffer: buffer}
}

// Subscribe registers a new live subscriber. The returned subscription's
// channel is closed when the subscriber is dropped or the hub shuts down.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Record, h.buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	h.nextID++
	sub.id = h.nextID
	h.subs[sub.id] = sub
	return sub
}

// Publish delivers records to every subscriber without blocking.
func (h *Hub) Publish(records ...Record) {
	if h == nil || len(records) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		for _, rec := range records {
			select {
			case sub.ch <- rec:
				continue
			default:
			}
			delete(h.subs, id)
			sub.once.Do(func() { close(sub.ch) })
			break
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.once.Do(func() { close(sub.ch) })
	}
}

// Close unregisters the subscription.
func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.hub.mu.Lock()
	delete(s.hub.subs, s.id)
	s.hub.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
}
