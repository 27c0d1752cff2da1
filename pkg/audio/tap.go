package audio

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/jarvis/pkg/types"
)

// ErrTapBusy is returned by [Tap.Record] when a recording is already running.
var ErrTapBusy = errors.New("audio tap: recording already in progress")

// errCaptureStalled is wrapped in a DeviceError when frames stop arriving.
var errCaptureStalled = errors.New("no frames received")

// Tap records utterances from a running frame stream, so an utterance can be
// captured without reopening the input device. The owner of the stream offers
// every frame to [Tap.Feed]; while a recording is armed the Tap consumes it.
type Tap struct {
	format Format
	grace  time.Duration

	mu     sync.Mutex
	active *recording
}

type recording struct {
	buf  []byte
	need int
	done chan struct{}
}

// TapOption configures a [Tap].
type TapOption func(*Tap)

// WithStallGrace sets how long past the requested duration [Tap.Record]
// waits before concluding the stream has stalled. Default: 2s.
func WithStallGrace(d time.Duration) TapOption {
	return func(t *Tap) { t.grace = d }
}

// NewTap returns a Tap for frames in the given format.
func NewTap(format Format, opts ...TapOption) *Tap {
	t := &Tap{format: format, grace: 2 * time.Second}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Feed offers a frame to the Tap. It reports whether the frame was consumed
// by an armed recording. Safe to call from the capture callback.
func (t *Tap) Feed(frame AudioFrame) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.active
	if r == nil {
		return false
	}
	take := min(len(frame.Data), r.need-len(r.buf))
	r.buf = append(r.buf, frame.Data[:take]...)
	if len(r.buf) >= r.need {
		t.active = nil
		close(r.done)
	}
	return true
}

// Recording reports whether a recording is armed.
func (t *Tap) Recording() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active != nil
}

// Record arms the Tap and blocks until d of audio has been fed, ctx is
// cancelled, or the stream stalls. A stall yields a [types.DeviceError].
func (t *Tap) Record(ctx context.Context, d time.Duration) (Clip, error) {
	need := t.format.Bytes(d)
	if need <= 0 {
		return Clip{Format: t.format}, nil
	}

	r := &recording{buf: make([]byte, 0, need), need: need, done: make(chan struct{})}
	t.mu.Lock()
	if t.active != nil {
		t.mu.Unlock()
		return Clip{}, ErrTapBusy
	}
	t.active = r
	t.mu.Unlock()

	timer := time.NewTimer(d + t.grace)
	defer timer.Stop()

	select {
	case <-r.done:
		return Clip{Data: r.buf, Format: t.format}, nil
	case <-ctx.Done():
		t.disarm(r)
		return Clip{}, ctx.Err()
	case <-timer.C:
		t.disarm(r)
		return Clip{}, &types.DeviceError{Op: "capture", Err: errCaptureStalled}
	}
}

func (t *Tap) disarm(r *recording) {
	t.mu.Lock()
	if t.active == r {
		t.active = nil
	}
	t.mu.Unlock()
}
