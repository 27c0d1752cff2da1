package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/pkg/types"
)

// backend is a named fake collaborator for fallback groups.
type backend string

// requestCounts reads jarvis.provider.requests as "provider/status" -> count.
func requestCounts(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "jarvis.provider.requests" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				p, _ := dp.Attributes.Value("provider")
				s, _ := dp.Attributes.Value("status")
				out[p.AsString()+"/"+s.AsString()] += dp.Value
			}
		}
	}
	return out
}

func newGroup(t *testing.T, cb CircuitBreakerConfig) (*FallbackGroup[backend], *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	fg := NewFallbackGroup(backend("whisper-cli"), "whisper-cli", FallbackConfig{
		CircuitBreaker: cb,
		Kind:           "stt",
		Metrics:        m,
	})
	fg.AddFallback("whisper-server", backend("whisper-server"))
	return fg, reader
}

func TestFallbackGroup_PrimaryAnswers(t *testing.T) {
	t.Parallel()

	fg, reader := newGroup(t, CircuitBreakerConfig{})
	got, err := ExecuteWithResult(context.Background(), fg, func(b backend) (string, error) {
		return "from " + string(b), nil
	})
	if err != nil || got != "from whisper-cli" {
		t.Fatalf("got %q, %v; want the primary's answer", got, err)
	}
	if c := requestCounts(t, reader); c["whisper-cli/ok"] != 1 || len(c) != 1 {
		t.Errorf("requests = %v, want one ok for whisper-cli", c)
	}
}

func TestFallbackGroup_FailsOver(t *testing.T) {
	t.Parallel()

	fg, reader := newGroup(t, CircuitBreakerConfig{})
	var tried []backend
	err := fg.Execute(context.Background(), func(b backend) error {
		tried = append(tried, b)
		if b == "whisper-cli" {
			return errWhisper
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(tried) != 2 || tried[1] != "whisper-server" {
		t.Errorf("tried = %v, want whisper-cli then whisper-server", tried)
	}
	c := requestCounts(t, reader)
	if c["whisper-cli/error"] != 1 || c["whisper-server/ok"] != 1 {
		t.Errorf("requests = %v", c)
	}
}

func TestFallbackGroup_AllFailKeepsCategory(t *testing.T) {
	t.Parallel()

	fg, _ := newGroup(t, CircuitBreakerConfig{})
	err := fg.Execute(context.Background(), func(backend) error { return errWhisper })
	if !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, types.ErrTranscriptionFailed) {
		t.Errorf("err = %v lost types.ErrTranscriptionFailed", err)
	}
}

func TestFallbackGroup_SkipsOpenCircuit(t *testing.T) {
	t.Parallel()

	fg, reader := newGroup(t, CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})
	for range 2 {
		_ = fg.Execute(context.Background(), func(b backend) error {
			if b == "whisper-cli" {
				return errWhisper
			}
			return nil
		})
	}

	var tried []backend
	if err := fg.Execute(context.Background(), func(b backend) error {
		tried = append(tried, b)
		return nil
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(tried) != 1 || tried[0] != "whisper-server" {
		t.Errorf("tried = %v, want only whisper-server while whisper-cli is open", tried)
	}
	if c := requestCounts(t, reader); c["whisper-cli/circuit_open"] != 1 {
		t.Errorf("requests = %v, want one circuit_open for whisper-cli", c)
	}
}

func TestFallbackGroup_EveryCircuitOpenIsUnavailable(t *testing.T) {
	t.Parallel()

	fg, _ := newGroup(t, CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	_ = fg.Execute(context.Background(), func(backend) error { return errWhisper })

	err := fg.Execute(context.Background(), func(backend) error {
		t.Error("called a backend behind an open circuit")
		return nil
	})
	if !errors.Is(err, types.ErrCollaboratorUnavailable) {
		t.Errorf("err = %v, want types.ErrCollaboratorUnavailable", err)
	}
}

func TestFallbackGroup_CancelledTurnDoesNotFailOver(t *testing.T) {
	t.Parallel()

	fg, reader := newGroup(t, CircuitBreakerConfig{})
	var tried []backend
	err := fg.Execute(context.Background(), func(b backend) error {
		tried = append(tried, b)
		return fmt.Errorf("whisper: %w", context.Canceled)
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want a bare cancellation", err)
	}
	if len(tried) != 1 {
		t.Errorf("tried = %v, want the primary only", tried)
	}
	if c := requestCounts(t, reader); c["whisper-cli/cancelled"] != 1 {
		t.Errorf("requests = %v, want one cancelled", c)
	}
}

func TestFallbackGroup_ExpiredTurnStopsFailover(t *testing.T) {
	t.Parallel()

	fg, _ := newGroup(t, CircuitBreakerConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var tried []backend
	err := fg.Execute(ctx, func(b backend) error {
		tried = append(tried, b)
		<-ctx.Done()
		return fmt.Errorf("whisper: %w", ctx.Err())
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want the primary's deadline error", err)
	}
	if len(tried) != 1 {
		t.Errorf("tried = %v, want no failover after the turn's deadline", tried)
	}
	// A timeout is still a verdict on the primary.
	if st := fg.entries[0].breaker.consecutiveFail; st != 1 {
		t.Errorf("primary failures = %d, want 1", st)
	}
}

func TestFallbackGroup_CustomClassifier(t *testing.T) {
	t.Parallel()

	fg, _ := newGroup(t, CircuitBreakerConfig{
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return !errors.Is(err, types.ErrNoSpeech) },
	})
	for range 3 {
		_ = fg.Execute(context.Background(), func(backend) error { return types.ErrNoSpeech })
	}
	if st := fg.entries[0].breaker.State(); st != StateClosed {
		t.Errorf("state = %v, want closed", st)
	}
}

func TestFallbackGroup_Names(t *testing.T) {
	t.Parallel()

	fg, _ := newGroup(t, CircuitBreakerConfig{})
	fg.AddFallback("whisper-native", "whisper-native")
	want := []string{"whisper-cli", "whisper-server", "whisper-native"}
	got := fg.Names()
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
