// Package mock provides an in-memory [journal.Store] for tests.
//
// The store records every call and keeps appended entries in memory. Exported
// *Err fields make the corresponding method fail.
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/MrWong99/jarvis/internal/journal"
)

var _ journal.Store = (*Store)(nil)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method string
	Args   []any
}

// Store is a configurable, concurrency-safe test double.
type Store struct {
	mu      sync.Mutex
	calls   []Call
	entries []journal.Entry

	// AppendErr is returned by [Store.Append] when non-nil; the entry is
	// not stored.
	AppendErr error

	// RecentErr is returned by [Store.Recent] when non-nil.
	RecentErr error

	// SearchErr is returned by [Store.Search] when non-nil.
	SearchErr error

	// PingErr is returned by [Store.Ping].
	PingErr error
}

// Entries returns a copy of the stored entries, oldest first.
func (m *Store) Entries() []journal.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]journal.Entry(nil), m.entries...)
}

// Calls returns a copy of all recorded method invocations.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount returns how many times the named method was invoked.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Append implements [journal.Store].
func (m *Store) Append(_ context.Context, e journal.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Append", Args: []any{e}})
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.entries = append(m.entries, e)
	return nil
}

// Recent implements [journal.Store].
func (m *Store) Recent(_ context.Context, limit int) ([]journal.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Recent", Args: []any{limit}})
	if m.RecentErr != nil {
		return nil, m.RecentErr
	}
	start := max(len(m.entries)-limit, 0)
	return append([]journal.Entry{}, m.entries[start:]...), nil
}

// Search implements [journal.Store] with a case-insensitive substring match.
func (m *Store) Search(_ context.Context, query string, opts journal.SearchOpts) ([]journal.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Search", Args: []any{query, opts}})
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	out := []journal.Entry{}
	q := strings.ToLower(query)
	for _, e := range m.entries {
		switch {
		case q != "" && !strings.Contains(strings.ToLower(e.Message), q):
		case opts.SessionID != "" && e.SessionID != opts.SessionID:
		case opts.Sender != "" && e.Sender != opts.Sender:
		case !opts.After.IsZero() && !e.Time.After(opts.After):
		case !opts.Before.IsZero() && !e.Time.Before(opts.Before):
		default:
			out = append(out, e)
		}
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// Ping implements [journal.Store].
func (m *Store) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Ping"})
	return m.PingErr
}
