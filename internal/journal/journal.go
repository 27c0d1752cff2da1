// Package journal archives the transcript so it survives restarts.
//
// A [Recorder] subscribes to the status hub and appends every transcript
// message to a [Store]. On startup [Replay] loads the most recent messages
// back into the hub so observers see the conversation that came before.
// Journaling is best effort: a failing store is logged and never stalls the
// assistant.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/jarvis/internal/status"
	"github.com/MrWong99/jarvis/pkg/types"
)

// Entry is one archived transcript message.
type Entry struct {
	// SessionID identifies the process run that produced the entry.
	SessionID string `json:"session_id"`

	Sender  string    `json:"sender"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Transcript converts e to the hub's event type.
func (e Entry) Transcript() types.TranscriptEvent {
	return types.TranscriptEvent{Sender: e.Sender, Message: e.Message, Time: e.Time}
}

// SearchOpts filters [Store.Search]. Zero values mean no filter.
type SearchOpts struct {
	SessionID string
	Sender    string
	After     time.Time
	Before    time.Time
	Limit     int
}

// Store persists transcript entries. Implementations must be safe for
// concurrent use.
type Store interface {
	// Append writes one entry.
	Append(ctx context.Context, e Entry) error

	// Recent returns up to limit of the newest entries, oldest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// Search returns entries whose message matches query as full text,
	// oldest first. An empty query matches everything.
	Search(ctx context.Context, query string, opts SearchOpts) ([]Entry, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

// Replay seeds hub with the newest limit entries from store.
func Replay(ctx context.Context, store Store, hub *status.Hub, limit int) error {
	entries, err := store.Recent(ctx, limit)
	if err != nil {
		return fmt.Errorf("journal: replay: %w", err)
	}
	events := make([]types.TranscriptEvent, len(entries))
	for i, e := range entries {
		events[i] = e.Transcript()
	}
	hub.Seed(events)
	slog.Info("journal: replayed transcript", "entries", len(events))
	return nil
}

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithSessionID overrides the generated session identifier.
func WithSessionID(id string) RecorderOption {
	return func(r *Recorder) { r.sessionID = id }
}

// WithWriteTimeout bounds each Append. Default: 5s.
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.timeout = d }
}

// WithBuffer sets the hub subscription buffer. Default: 256.
func WithBuffer(n int) RecorderOption {
	return func(r *Recorder) { r.buffer = n }
}

// Recorder copies hub messages into a Store.
type Recorder struct {
	store     Store
	hub       *status.Hub
	sessionID string
	timeout   time.Duration
	buffer    int

	events      <-chan status.Event
	unsubscribe func()
}

// NewRecorder returns a Recorder for hub and subscribes to it at once, so
// messages published before [Recorder.Run] starts are still archived, up to
// the buffer size. Status events are not archived.
func NewRecorder(store Store, hub *status.Hub, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:     store,
		hub:       hub,
		sessionID: uuid.NewString(),
		timeout:   5 * time.Second,
		buffer:    256,
	}
	for _, o := range opts {
		o(r)
	}
	_, r.events, r.unsubscribe = hub.Subscribe(r.buffer)
	return r
}

// SessionID returns the identifier stamped on every entry.
func (r *Recorder) SessionID() string { return r.sessionID }

// Run archives messages until ctx is cancelled and then unsubscribes. It
// always returns nil after cancellation; write failures are logged. Run may
// be called once.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-r.events:
			if !ok {
				return nil
			}
			if ev.Type != status.EventMessage {
				continue
			}
			r.write(ctx, Entry{SessionID: r.sessionID, Sender: ev.Sender, Message: ev.Message, Time: ev.Time})
		}
	}
}

func (r *Recorder) write(ctx context.Context, e Entry) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.store.Append(wctx, e); err != nil {
		slog.Warn("journal: append failed", "sender", e.Sender, "err", err)
	}
}
