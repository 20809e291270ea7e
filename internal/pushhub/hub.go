// Package pushhub fans out task change signals to subscribed observers. An
// event promises nothing beyond "something changed"; observers re-fetch full
// status on receipt, so a slow observer that misses intermediate signals still
// converges on the latest committed state.
package pushhub

import (
	"sync"
	"time"
)

// EventStatusChanged is the only event type the hub currently emits.
const EventStatusChanged = "status_changed"

// Event is a change signal. TaskID and Seq are advisory; consumers must not
// treat them as a substitute for re-fetching status.
type Event struct {
	Type   string    `json:"type"`
	Seq    uint64    `json:"seq"`
	TaskID string    `json:"task_id,omitempty"`
	At     time.Time `json:"at"`
}

// subscriberBuffer bounds how many undelivered signals a subscriber may hold
// before further signals coalesce into the ones already queued.
const subscriberBuffer = 16

// Hub distributes change signals to subscribers without blocking publishers.
type Hub struct {
	mu      sync.Mutex
	nextSeq uint64
	nextID  int
	subs    map[int]chan Event
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscription delivers change signals until canceled.
type Subscription struct {
	hub *Hub
	id  int
	ch  chan Event
}

// Subscribe registers a new observer.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	ch := make(chan Event, subscriberBuffer)
	h.subs[h.nextID] = ch
	return &Subscription{hub: h, id: h.nextID, ch: ch}
}

// Publish sends a change signal to every current subscriber. A subscriber
// whose buffer is full keeps its queued signals and loses this one; it has an
// undelivered "something changed" either way.
func (h *Hub) Publish(taskID string) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.nextSeq++
	evt := Event{Type: EventStatusChanged, Seq: h.nextSeq, TaskID: taskID, At: time.Now().UTC()}
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	h.mu.Unlock()
}

// Subscribers returns the current observer count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Events returns the signal channel. It is closed when the subscription is
// canceled.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close cancels the subscription.
func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.hub.mu.Lock()
	if _, ok := s.hub.subs[s.id]; ok {
		delete(s.hub.subs, s.id)
		close(s.ch)
	}
	s.hub.mu.Unlock()
	s.hub = nil
}
