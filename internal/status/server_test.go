package status_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/jarvis/internal/status"
)

func newServer(t *testing.T, h *status.Hub) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	status.NewServer(h).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) status.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var ev status.Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	return ev
}

func TestServer_SnapshotThenLiveEvents(t *testing.T) {
	t.Parallel()

	h := newHub(t)
	h.PublishStatus("Listening...")
	h.PublishMessage("Jarvis", "Hello. I am online and listening.")
	srv := newServer(t, h)
	conn := dial(t, srv)

	if ev := read(t, conn); ev.Type != status.EventStatus || ev.Status != "Listening..." {
		t.Errorf("first frame = %+v", ev)
	}
	if ev := read(t, conn); ev.Type != status.EventMessage || ev.Sender != "Jarvis" {
		t.Errorf("history frame = %+v", ev)
	}

	waitSubscribers(t, h, 1)
	h.PublishStatus("Recording...")
	if ev := read(t, conn); ev.Status != "Recording..." {
		t.Errorf("live frame = %+v", ev)
	}
}

func TestServer_WireFormat(t *testing.T) {
	t.Parallel()

	h := newHub(t)
	srv := newServer(t, h)
	conn := dial(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Errorf("message type = %v, want text", typ)
	}
	got := string(data)
	if !strings.Contains(got, `"type":"status_update"`) || !strings.Contains(got, `"status":"Starting..."`) {
		t.Errorf("payload = %s", got)
	}
	if strings.Contains(got, `"sender"`) {
		t.Errorf("status payload carries sender: %s", got)
	}
}

func TestServer_DisconnectUnsubscribes(t *testing.T) {
	t.Parallel()

	h := newHub(t)
	srv := newServer(t, h)
	conn := dial(t, srv)
	read(t, conn)
	waitSubscribers(t, h, 1)

	conn.Close(websocket.StatusNormalClosure, "")
	waitSubscribers(t, h, 0)
}

func TestServer_IndexPage(t *testing.T) {
	t.Parallel()

	srv := newServer(t, newHub(t))
	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `id="status"`) {
		t.Errorf("index page missing status element")
	}

	resp, err = http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatalf("GET /nope: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /nope = %d, want 404", resp.StatusCode)
	}
}

func waitSubscribers(t *testing.T, h *status.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.Subscribers() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Subscribers() = %d, want %d", h.Subscribers(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
