package status_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/status"
	"github.com/MrWong99/jarvis/pkg/types"
)

func newHub(t *testing.T, opts ...status.Option) *status.Hub {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return status.NewHub(append([]status.Option{status.WithMetrics(m)}, opts...)...)
}

func recv(t *testing.T, ch <-chan status.Event) status.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return status.Event{}
}

func TestHub_InitialStatus(t *testing.T) {
	t.Parallel()

	h := newHub(t)
	if got := h.Status(); got != "" {
		t.Errorf("Status() = %q, want empty", got)
	}
	if n := len(h.History()); n != 0 {
		t.Errorf("History() len = %d, want 0", n)
	}

	h = newHub(t, status.WithInitialStatus("Booting"))
	if got := h.Status(); got != "Booting" {
		t.Errorf("Status() = %q, want %q", got, "Booting")
	}
}

func TestHub_PublishAndSubscribe(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h := newHub(t, status.WithClock(func() time.Time { return fixed }))
	h.PublishStatus("Listening...")
	h.PublishMessage(types.SenderAssistant, "Hello.")

	snap, ch, cancel := h.Subscribe(4)
	defer cancel()

	if snap.Status != "Listening..." {
		t.Errorf("snapshot status = %q", snap.Status)
	}
	if len(snap.History) != 1 || snap.History[0].Message != "Hello." || !snap.History[0].Time.Equal(fixed) {
		t.Errorf("snapshot history = %+v", snap.History)
	}

	h.PublishStatus("Recording...")
	h.PublishMessage(types.SenderUser, "what time is it")

	ev := recv(t, ch)
	if ev.Type != status.EventStatus || ev.Status != "Recording..." {
		t.Errorf("first event = %+v", ev)
	}
	ev = recv(t, ch)
	if ev.Type != status.EventMessage || ev.Sender != types.SenderUser || ev.Message != "what time is it" {
		t.Errorf("second event = %+v", ev)
	}
	if h.Subscribers() != 1 {
		t.Errorf("Subscribers() = %d, want 1", h.Subscribers())
	}
}

func TestHub_HistoryIsBounded(t *testing.T) {
	t.Parallel()

	h := newHub(t, status.WithHistoryLimit(3))
	for i := range 5 {
		h.PublishMessage("You", fmt.Sprintf("m%d", i))
	}
	got := h.History()
	if len(got) != 3 {
		t.Fatalf("History() len = %d, want 3", len(got))
	}
	for i, want := range []string{"m2", "m3", "m4"} {
		if got[i].Message != want {
			t.Errorf("History()[%d] = %q, want %q", i, got[i].Message, want)
		}
	}
}

func TestHub_DefaultHistoryLimit(t *testing.T) {
	t.Parallel()

	h := newHub(t)
	for i := range status.DefaultHistoryLimit + 10 {
		h.PublishMessage("You", fmt.Sprint(i))
	}
	got := h.History()
	if len(got) != status.DefaultHistoryLimit {
		t.Fatalf("History() len = %d", len(got))
	}
	if got[0].Message != "10" {
		t.Errorf("oldest = %q, want 10", got[0].Message)
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()

	h := newHub(t)
	_, slow, cancelSlow := h.Subscribe(1)
	defer cancelSlow()
	_, fast, cancelFast := h.Subscribe(16)
	defer cancelFast()

	done := make(chan struct{})
	go func() {
		for i := range 10 {
			h.PublishStatus(fmt.Sprint(i))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	if ev := recv(t, slow); ev.Status != "0" {
		t.Errorf("slow subscriber first event = %q, want 0", ev.Status)
	}
	for i := range 10 {
		if ev := recv(t, fast); ev.Status != fmt.Sprint(i) {
			t.Errorf("fast subscriber event %d = %q", i, ev.Status)
		}
	}
	if h.Status() != "9" {
		t.Errorf("Status() = %q, want 9", h.Status())
	}
}

func TestHub_CancelClosesAndIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHub(t)
	_, ch, cancel := h.Subscribe(0)
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}
	if h.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d, want 0", h.Subscribers())
	}
	h.PublishStatus("after cancel")
}

func TestHub_Seed(t *testing.T) {
	t.Parallel()

	h := newHub(t, status.WithHistoryLimit(2))
	_, ch, cancel := h.Subscribe(4)
	defer cancel()

	h.Seed([]types.TranscriptEvent{
		{Sender: "You", Message: "a"},
		{Sender: "Jarvis", Message: "b"},
		{Sender: "You", Message: "c"},
	})

	got := h.History()
	if len(got) != 2 || got[0].Message != "b" || got[1].Message != "c" {
		t.Errorf("History() = %+v", got)
	}
	select {
	case ev := <-ch:
		t.Errorf("Seed broadcast %+v", ev)
	default:
	}
}

func TestHub_ConcurrentPublishers(t *testing.T) {
	t.Parallel()

	h := newHub(t, status.WithHistoryLimit(1000))
	_, ch, cancel := h.Subscribe(1000)
	defer cancel()

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				h.PublishMessage(fmt.Sprint(g), fmt.Sprint(i))
			}
		}()
	}
	wg.Wait()

	if n := len(h.History()); n != 400 {
		t.Errorf("History() len = %d, want 400", n)
	}
	if n := len(ch); n != 400 {
		t.Errorf("buffered events = %d, want 400", n)
	}
}
