package status

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

//go:embed web
var webFS embed.FS

// ServerOption configures a [Server].
type ServerOption func(*Server)

// WithOriginPatterns allows cross-origin websocket connections from hosts
// matching the patterns (see websocket.AcceptOptions.OriginPatterns).
func WithOriginPatterns(patterns ...string) ServerOption {
	return func(s *Server) { s.origins = patterns }
}

// WithWriteTimeout bounds each websocket write. Default: 5s.
func WithWriteTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.writeTimeout = d }
}

// WithSubscriberBuffer sets the per-connection event buffer. Default: 64.
func WithSubscriberBuffer(n int) ServerOption {
	return func(s *Server) { s.buffer = n }
}

// Server exposes a [Hub] over HTTP: an embedded page at / and a websocket
// event stream at /ws.
type Server struct {
	hub          *Hub
	origins      []string
	writeTimeout time.Duration
	buffer       int
}

// NewServer returns a Server for hub.
func NewServer(hub *Hub, opts ...ServerOption) *Server {
	s := &Server{hub: hub, writeTimeout: 5 * time.Second, buffer: defaultSubscriberBuffer}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register mounts the page and the websocket endpoint on mux.
func (s *Server) Register(mux *http.ServeMux) {
	static, err := fs.Sub(webFS, "web")
	if err != nil {
		panic("status: embedded web assets missing: " + err.Error())
	}
	mux.Handle("GET /{$}", http.FileServerFS(static))
	mux.Handle("GET /app.js", http.FileServerFS(static))
	mux.HandleFunc("GET /ws", s.ServeWS)
}

// ServeWS upgrades the request and streams hub events as JSON text frames:
// first the current status, then the retained history, then live events.
// Client messages are ignored.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		slog.Debug("status: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	snap, events, cancel := s.hub.Subscribe(s.buffer)
	defer cancel()

	ctx := conn.CloseRead(r.Context())

	if err := s.write(ctx, conn, Event{Type: EventStatus, Status: snap.Status, Time: time.Now()}); err != nil {
		return
	}
	for _, m := range snap.History {
		if err := s.write(ctx, conn, Event{Type: EventMessage, Sender: m.Sender, Message: m.Message, Time: m.Time}); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := s.write(ctx, conn, ev); err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Debug("status: websocket write failed", "err", err)
				}
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
