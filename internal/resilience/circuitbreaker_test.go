package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/jarvis/pkg/types"
)

var errWhisper = fmt.Errorf("whisper: %w: exit status 1", types.ErrTranscriptionFailed)

// trip drives cb open with n failing calls.
func trip(t *testing.T, cb *CircuitBreaker, n int) {
	t.Helper()
	for range n {
		_ = cb.Execute(func() error { return errWhisper })
	}
	if cb.State() != StateOpen {
		t.Fatalf("state after %d failures = %v, want open", n, cb.State())
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "stt/whisper"})
	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 3 {
		t.Errorf("defaults = %d/%v/%d, want 5/30s/3", cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
	if cb.isFailure == nil {
		t.Error("isFailure not defaulted")
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestErrCircuitOpen_IsCollaboratorUnavailable(t *testing.T) {
	t.Parallel()

	if !errors.Is(ErrCircuitOpen, types.ErrCollaboratorUnavailable) {
		t.Fatal("ErrCircuitOpen does not match types.ErrCollaboratorUnavailable")
	}

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "llm/ollama", MaxFailures: 1})
	trip(t, cb, 1)

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if called {
		t.Error("open breaker forwarded the call")
	}
	if !errors.Is(err, types.ErrCollaboratorUnavailable) {
		t.Errorf("err = %v, want types.ErrCollaboratorUnavailable", err)
	}
	if errors.Is(err, types.ErrTranscriptionFailed) {
		t.Error("rejection should not carry the last failure's category")
	}
}

func TestCircuitBreaker_ReturnsCollaboratorError(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "stt/whisper", MaxFailures: 3})
	err := cb.Execute(func() error { return errWhisper })
	if !errors.Is(err, types.ErrTranscriptionFailed) {
		t.Errorf("err = %v, want the collaborator's own error", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v after one of three failures, want closed", cb.State())
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "tts/piper", MaxFailures: 3})
	for range 2 {
		_ = cb.Execute(func() error { return errWhisper })
	}
	_ = cb.Execute(func() error { return nil })
	for range 2 {
		_ = cb.Execute(func() error { return errWhisper })
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed since failures were not consecutive", cb.State())
	}
}

func TestDefaultIsFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transcription failure", errWhisper, true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"unavailable", types.ErrCollaboratorUnavailable, true},
		{"cancelled turn", context.Canceled, false},
		{"wrapped cancel", fmt.Errorf("llm: %w", context.Canceled), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := DefaultIsFailure(tt.err); got != tt.want {
				t.Errorf("DefaultIsFailure(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestCircuitBreaker_CancelledTurnsDoNotTrip(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "llm/ollama", MaxFailures: 2})
	for range 5 {
		err := cb.Execute(func() error { return context.Canceled })
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled passed through", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after cancelled calls only", cb.State())
	}
}

func TestCircuitBreaker_CustomIsFailure(t *testing.T) {
	t.Parallel()

	// Silence is the speaker's fault, not the transcriber's.
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:        "stt/whisper",
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return !errors.Is(err, types.ErrNoSpeech) },
	})
	for range 3 {
		_ = cb.Execute(func() error { return types.ErrNoSpeech })
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v after no-speech results, want closed", cb.State())
	}
	trip(t, cb, 1)
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "tts/piper",
		MaxFailures:  2,
		ResetTimeout: 20 * time.Millisecond,
		HalfOpenMax:  2,
	})
	trip(t, cb, 2)

	time.Sleep(30 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state after reset timeout = %v, want half-open", cb.State())
	}
	for i := range 2 {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("trial call %d: %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v after successful trial calls, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "stt/whisper",
		MaxFailures:  1,
		ResetTimeout: 20 * time.Millisecond,
	})
	trip(t, cb, 1)
	time.Sleep(30 * time.Millisecond)

	if err := cb.Execute(func() error { return errWhisper }); !errors.Is(err, types.ErrTranscriptionFailed) {
		t.Fatalf("trial err = %v", err)
	}
	if cb.State() != StateOpen {
		t.Errorf("state = %v, want open again", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_HalfOpenCancelReturnsTrial(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "llm/ollama",
		MaxFailures:  1,
		ResetTimeout: 20 * time.Millisecond,
		HalfOpenMax:  1,
	})
	trip(t, cb, 1)
	time.Sleep(30 * time.Millisecond)

	// A turn cancelled mid-call neither closes nor reopens the breaker, and
	// the next turn still gets to try.
	_ = cb.Execute(func() error { return context.Canceled })
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v after cancelled trial, want half-open", cb.State())
	}
	called := false
	if err := cb.Execute(func() error { called = true; return nil }); err != nil {
		t.Fatalf("second trial: %v", err)
	}
	if !called {
		t.Fatal("second trial was rejected")
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "tts/piper", MaxFailures: 1, ResetTimeout: time.Hour})
	trip(t, cb, 1)
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v after Reset, want closed", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Errorf("Execute after Reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(7):      "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
