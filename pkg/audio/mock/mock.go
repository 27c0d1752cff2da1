// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Player] for unit tests.
//
// Both mocks are safe for concurrent use. Exported fields control return
// values; call records can be inspected after the test drives the mock.
//
// Typical usage:
//
//	src := &mock.Source{}
//	_ = ctrl.Start(ctx)
//	src.Emit(frame) // runs the registered handler synchronously
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/jarvis/pkg/audio"
)

// ─── Source ──────────────────────────────────────────────────────────────────

// Source is a mock [audio.Source]. Frames are injected with [Source.Emit] and
// faults with [Source.Fault].
type Source struct {
	mu sync.Mutex

	// StartErr is returned by Start when non-nil.
	StartErr error

	// StopErr is returned by Stop when non-nil.
	StopErr error

	// StartCalls and StopCalls count invocations.
	StartCalls int
	StopCalls  int

	handler audio.FrameHandler
	running bool
	faults  chan error
}

var _ audio.Source = (*Source)(nil)

// Start implements [audio.Source].
func (s *Source) Start(_ context.Context, handler audio.FrameHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCalls++
	if s.StartErr != nil {
		return s.StartErr
	}
	s.handler = handler
	s.running = true
	return nil
}

// Stop implements [audio.Source].
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCalls++
	s.running = false
	return s.StopErr
}

// Faults implements [audio.Source].
func (s *Source) Faults() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faultChan()
}

// faultChan lazily creates the fault channel. s.mu must be held.
func (s *Source) faultChan() chan error {
	if s.faults == nil {
		s.faults = make(chan error, 1)
	}
	return s.faults
}

// Running reports whether the source has been started and not stopped.
func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Emit delivers frame to the registered handler synchronously. It returns
// false without calling the handler when the source is not running. Callers
// must not invoke Emit concurrently, mirroring a real device callback.
func (s *Source) Emit(frame audio.AudioFrame) bool {
	s.mu.Lock()
	h, running := s.handler, s.running
	s.mu.Unlock()
	if !running || h == nil {
		return false
	}
	h(frame)
	return true
}

// Fault reports err on the Faults channel and stops delivery.
func (s *Source) Fault(err error) {
	s.mu.Lock()
	ch := s.faultChan()
	s.running = false
	s.mu.Unlock()
	select {
	case ch <- err:
	default:
	}
}

// ─── Player ──────────────────────────────────────────────────────────────────

// Player is a mock [audio.Player].
type Player struct {
	mu sync.Mutex

	// PlayErr is returned by Play when non-nil.
	PlayErr error

	// PlayFunc, when set, runs inside Play before PlayErr is consulted. Use it
	// to block playback or observe the context.
	PlayFunc func(ctx context.Context, clip audio.Clip) error

	// Played records every clip passed to Play, in order.
	Played []audio.Clip

	// CloseCalls counts Close invocations.
	CloseCalls int
}

var _ audio.Player = (*Player)(nil)

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, clip audio.Clip) error {
	p.mu.Lock()
	p.Played = append(p.Played, clip)
	fn, perr := p.PlayFunc, p.PlayErr
	p.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, clip); err != nil {
			return err
		}
	}
	return perr
}

// Close implements [audio.Player].
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCalls++
	return nil
}

// PlayCount returns the number of Play calls so far.
func (p *Player) PlayCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Played)
}
