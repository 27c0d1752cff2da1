package journal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const maxSearchLimit = 500

// Handler serves GET requests for archived entries as a JSON array.
//
// Query parameters: q (full-text query), session, sender, after and before
// (RFC 3339), limit (default 50, max 500).
func Handler(store Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		opts := SearchOpts{
			SessionID: q.Get("session"),
			Sender:    q.Get("sender"),
			Limit:     50,
		}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			opts.Limit = min(n, maxSearchLimit)
		}
		for name, dst := range map[string]*time.Time{"after": &opts.After, "before": &opts.Before} {
			v := q.Get(name)
			if v == "" {
				continue
			}
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				http.Error(w, name+" must be an RFC 3339 timestamp", http.StatusBadRequest)
				return
			}
			*dst = ts
		}

		entries, err := store.Search(r.Context(), q.Get("q"), opts)
		if err != nil {
			slog.Warn("journal: search failed", "err", err)
			http.Error(w, "journal unavailable", http.StatusServiceUnavailable)
			return
		}
		if entries == nil {
			entries = []Entry{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(entries)
	})
}
