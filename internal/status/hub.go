// Package status broadcasts the assistant's status and transcript to UI
// observers.
//
// A [Hub] is an explicitly owned broadcaster: the controller publishes into
// it, observers subscribe to it. Publishing never blocks. Each subscriber has
// a bounded buffer and misses events it is too slow to take. Late
// subscribers receive a [Snapshot] of the current status and the most recent
// transcript messages.
package status

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/pkg/types"
)

const (
	// DefaultHistoryLimit is the number of transcript messages kept for late
	// subscribers.
	DefaultHistoryLimit = 200

	defaultSubscriberBuffer = 64
)

// EventType discriminates [Event] payloads on the wire.
type EventType string

const (
	EventStatus  EventType = "status_update"
	EventMessage EventType = "new_message"
)

// Event is one broadcast item.
type Event struct {
	Type    EventType `json:"type"`
	Status  string    `json:"status,omitempty"`
	Sender  string    `json:"sender,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Transcript returns the message carried by a message event.
func (e Event) Transcript() types.TranscriptEvent {
	return types.TranscriptEvent{Sender: e.Sender, Message: e.Message, Time: e.Time}
}

// Snapshot is the state handed to a new subscriber.
type Snapshot struct {
	Status  string
	History []types.TranscriptEvent
}

// Option configures a [Hub].
type Option func(*Hub)

// WithHistoryLimit sets how many messages are kept. Default: 200.
func WithHistoryLimit(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.limit = n
		}
	}
}

// WithInitialStatus sets the status reported before anything is published.
// Default: empty.
func WithInitialStatus(label string) Option {
	return func(h *Hub) { h.status = label }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithClock overrides time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

type subscriber struct {
	ch      chan Event
	dropped int
}

// Hub is safe for concurrent use.
type Hub struct {
	limit   int
	metrics *observe.Metrics
	now     func() time.Time

	mu      sync.Mutex
	status  string
	history []types.TranscriptEvent
	subs    map[*subscriber]struct{}
}

// NewHub returns a Hub with no history.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		limit:  DefaultHistoryLimit,
		now:    time.Now,
		subs:   make(map[*subscriber]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// PublishStatus sets the current status and broadcasts it.
func (h *Hub) PublishStatus(label string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = label
	h.broadcast(Event{Type: EventStatus, Status: label, Time: h.now()})
}

// PublishMessage appends a transcript message and broadcasts it.
func (h *Hub) PublishMessage(sender, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ev := Event{Type: EventMessage, Sender: sender, Message: text, Time: h.now()}
	h.append(ev.Transcript())
	h.broadcast(ev)
}

// Seed preloads history without broadcasting, oldest first. Used to replay
// the journal after a restart.
func (h *Hub) Seed(events []types.TranscriptEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ev := range events {
		h.append(ev)
	}
}

// Status returns the current status.
func (h *Hub) Status() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// History returns a copy of the retained messages, oldest first.
func (h *Hub) History() []types.TranscriptEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.TranscriptEvent(nil), h.history...)
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Subscribe registers an observer. The snapshot and the subscription are
// taken atomically, so no event falls between them. The channel is closed by
// cancel, which is idempotent. buffer <= 0 selects a default of 64.
func (h *Hub) Subscribe(buffer int) (Snapshot, <-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	sub := &subscriber{ch: make(chan Event, buffer)}

	h.mu.Lock()
	snap := Snapshot{Status: h.status, History: append([]types.TranscriptEvent(nil), h.history...)}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	h.metrics.StatusSubscribers.Add(context.Background(), 1)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			close(sub.ch)
			dropped := sub.dropped
			h.mu.Unlock()
			h.metrics.StatusSubscribers.Add(context.Background(), -1)
			if dropped > 0 {
				slog.Debug("status subscriber missed events", "dropped", dropped)
			}
		})
	}
	return snap, sub.ch, cancel
}

// append adds ev to the history ring. Caller holds h.mu.
func (h *Hub) append(ev types.TranscriptEvent) {
	h.history = append(h.history, ev)
	if over := len(h.history) - h.limit; over > 0 {
		h.history = append(h.history[:0], h.history[over:]...)
	}
}

// broadcast delivers ev without blocking. Caller holds h.mu.
func (h *Hub) broadcast(ev Event) {
	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
			h.metrics.StatusDropped.Add(context.Background(), 1)
		}
	}
}
