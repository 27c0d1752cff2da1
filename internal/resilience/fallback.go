package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/jarvis/internal/observe"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has an
// open circuit breaker. The last entry's error stays in the chain so callers
// can still match sentinels such as types.ErrTranscriptionFailed.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each entry's breaker. Its Name is
	// replaced by the entry name.
	CircuitBreaker CircuitBreakerConfig

	// Kind labels provider metrics ("llm", "stt", "tts").
	Kind string

	// Metrics receives provider request and error counts. Default:
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// fallbackEntry pairs a provider value with its dedicated circuit breaker.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup wraps a primary and zero or more fallback instances of the same
// provider type. When the primary fails (or its circuit breaker is open), the
// next healthy fallback is tried in registration order. Errors the breaker does
// not count as failures, such as cancellation, end the attempt at once.
//
// Register fallbacks before first use; Execute is safe for concurrent use.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a fallback provider. Fallbacks are tried in the order they
// are added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the entry names in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = e.name
	}
	return out
}

// Execute tries fn against each entry in order until one succeeds.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// Request statuses reported to [observe.Metrics.RecordProviderRequest].
const (
	statusOK        = "ok"
	statusError     = "error"
	statusOpen      = "circuit_open"
	statusCancelled = "cancelled"
)

// ExecuteWithResult tries fn against each entry in the group until one
// succeeds. Failover stops once ctx is done: the turn that asked has given
// up, so the next backend's answer would be discarded anyway. Every attempt
// is counted per provider and status.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	log := observe.Logger(ctx)
	for i := range fg.entries {
		entry := &fg.entries[i]
		if i > 0 && ctx.Err() != nil {
			log.Debug("turn ended, not failing over", "kind", fg.cfg.Kind, "provider", entry.name)
			return zero, lastErr
		}

		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			fg.cfg.Metrics.RecordProviderRequest(ctx, entry.name, fg.cfg.Kind, statusOK)
			return result, nil
		}
		lastErr = err
		switch {
		case errors.Is(err, ErrCircuitOpen):
			fg.cfg.Metrics.RecordProviderRequest(ctx, entry.name, fg.cfg.Kind, statusOpen)
			log.Debug("skipping provider (circuit open)", "kind", fg.cfg.Kind, "provider", entry.name)
		case !entry.breaker.isFailure(err):
			fg.cfg.Metrics.RecordProviderRequest(ctx, entry.name, fg.cfg.Kind, statusCancelled)
			return zero, err
		default:
			fg.cfg.Metrics.RecordProviderRequest(ctx, entry.name, fg.cfg.Kind, statusError)
			fg.cfg.Metrics.RecordProviderError(ctx, entry.name, fg.cfg.Kind)
			if i < len(fg.entries)-1 {
				log.Warn("provider failed, trying next",
					"kind", fg.cfg.Kind, "provider", entry.name, "err", err)
			}
		}
	}
	if len(fg.entries) == 1 {
		return zero, lastErr
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
