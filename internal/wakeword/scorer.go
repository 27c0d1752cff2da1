// Package wakeword turns per-frame model predictions into wake-word scores.
//
// A [Scorer] feeds frames to a [wakeword.Model], keeps a short rolling
// history per label and reports the latest (optionally smoothed) score.
// Silent frames skip inference. [Init] wraps model loading in an explicit
// [Outcome] so callers check once at startup whether detection is available.
package wakeword

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/provider/wakeword"
)

// historyLen is the number of predictions retained per label.
const historyLen = 30

// Score maps a wake-word label to a confidence in [0,1].
type Score map[string]float64

// Config controls scoring.
type Config struct {
	// Target is the only label the controller acts on. Required.
	Target string

	// Smoothing averages the last N predictions. Values below 2 report the
	// raw latest prediction.
	Smoothing int
}

// Scorer scores frames against a wake-word model. It is safe for concurrent
// use, though the capture path calls it from a single goroutine.
type Scorer struct {
	model wakeword.Model
	cfg   Config

	mu      sync.Mutex
	history map[string][]float64
}

// New returns a Scorer over model.
func New(model wakeword.Model, cfg Config) *Scorer {
	return &Scorer{
		model:   model,
		cfg:     cfg,
		history: make(map[string][]float64),
	}
}

// Target returns the configured target label.
func (s *Scorer) Target() string { return s.cfg.Target }

// Score feeds one frame to the model and returns the current score per
// label. A frame whose peak amplitude is zero returns a zero score for the
// target without running inference or touching the history.
func (s *Scorer) Score(ctx context.Context, frame audio.AudioFrame) (Score, error) {
	if frame.Peak() == 0 {
		return Score{s.cfg.Target: 0}, nil
	}

	preds, err := s.model.Predict(ctx, frame.Samples())
	if err != nil {
		return nil, fmt.Errorf("wakeword: predict: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(Score, len(preds))
	for label, p := range preds {
		h := append(s.history[label], clamp01(p))
		if len(h) > historyLen {
			h = h[len(h)-historyLen:]
		}
		s.history[label] = h
		out[label] = s.smoothed(h)
	}
	return out, nil
}

// Latest returns the most recent recorded prediction for label, or 0.
func (s *Scorer) Latest(label string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[label]
	if len(h) == 0 {
		return 0
	}
	return h[len(h)-1]
}

// Close releases the underlying model.
func (s *Scorer) Close() error { return s.model.Close() }

func (s *Scorer) smoothed(h []float64) float64 {
	n := s.cfg.Smoothing
	if n < 2 || len(h) == 1 {
		return h[len(h)-1]
	}
	n = min(n, len(h))
	var sum float64
	for _, v := range h[len(h)-n:] {
		sum += v
	}
	return sum / float64(n)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Outcome is the result of [Init]: either a ready Scorer or the reason
// detection is disabled.
type Outcome struct {
	scorer *Scorer
	reason error
}

// Ready returns an Outcome carrying a usable scorer.
func Ready(s *Scorer) Outcome { return Outcome{scorer: s} }

// Disabled returns an Outcome recording why detection is unavailable.
func Disabled(reason error) Outcome { return Outcome{reason: reason} }

// Scorer returns the scorer and true when detection is available.
func (o Outcome) Scorer() (*Scorer, bool) { return o.scorer, o.scorer != nil }

// Reason returns why detection is disabled, or nil when ready.
func (o Outcome) Reason() error { return o.reason }

// Init loads the model from provider and wraps it in a Scorer. Any failure,
// including a panic inside the provider, yields a Disabled outcome.
func Init(ctx context.Context, provider wakeword.Provider, cfg Config) (out Outcome) {
	if provider == nil {
		return Disabled(fmt.Errorf("wakeword: no provider configured"))
	}
	if cfg.Target == "" {
		return Disabled(fmt.Errorf("wakeword: no target label configured"))
	}
	defer func() {
		if r := recover(); r != nil {
			out = Disabled(fmt.Errorf("wakeword: model load panicked: %v", r))
		}
	}()

	model, err := provider.Load(ctx)
	if err != nil {
		return Disabled(fmt.Errorf("wakeword: load model: %w", err))
	}
	if model == nil {
		return Disabled(fmt.Errorf("wakeword: provider returned no model"))
	}

	labels := model.Labels()
	if !slices.Contains(labels, cfg.Target) {
		slog.Warn("wake word target is not among the loaded models; detection will never fire",
			"target", cfg.Target, "loaded", labels)
	} else {
		slog.Info("wake word model loaded", "target", cfg.Target, "loaded", labels)
	}
	return Ready(New(model, cfg))
}
