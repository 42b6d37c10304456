package audit

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsPublished = prometheus.NewCounter(prometheus.CounterOpts{Name: "audit_events_published_total"})
	eventsDropped   = prometheus.NewCounter(prometheus.CounterOpts{Name: "audit_events_dropped_total"})
)

func init() {
	prometheus.MustRegister(eventsPublished, eventsDropped)
}

const subscriberBuffer = 64

type Subscription struct {
	id int64
	C  <-chan Event
	ch chan Event
}

// Hub fans events out to live subscribers. Delivery is at-most-once:
// a subscriber whose buffer is full misses the event. No replay.
type Hub struct {
	mu     sync.RWMutex
	nextID int64
	subs   map[int64]*Subscription
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int64]*Subscription)}
}

func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	ch := make(chan Event, subscriberBuffer)
	sub := &Subscription{id: h.nextID, C: ch, ch: ch}
	h.subs[sub.id] = sub
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.id]; ok {
		delete(h.subs, sub.id)
		close(sub.ch)
	}
}

func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	eventsPublished.Inc()
	for _, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			eventsDropped.Inc()
		}
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
