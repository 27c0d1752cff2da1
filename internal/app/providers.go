package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/jarvis/internal/config"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/resilience"
	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/provider/llm"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
	"github.com/MrWong99/jarvis/pkg/provider/tts"
	"github.com/MrWong99/jarvis/pkg/provider/wakeword"
)

// Providers holds one interface value per provider slot. A nil WakeWord
// disables detection; a nil Playback leaves replies text-only.
type Providers struct {
	LLM      llm.Provider
	STT      stt.Provider
	TTS      tts.Provider
	WakeWord wakeword.Provider
	Audio    audio.Source
	Playback audio.Player

	// closers release providers that hold processes, models or devices.
	closers []io.Closer
}

// Close releases every provider that implements [io.Closer].
func (p *Providers) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

func (p *Providers) track(v any) {
	if c, ok := v.(io.Closer); ok && c != nil {
		p.closers = append(p.closers, c)
	}
}

// BuildProviders instantiates every provider named in cfg using reg. llm, stt
// and tts entries with fallbacks are wrapped in circuit-breaking fallback
// groups. On error, providers created so far are closed.
func BuildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*Providers, error) {
	ps := &Providers{}
	if err := ps.build(cfg, reg, metrics); err != nil {
		if cerr := ps.Close(); cerr != nil {
			slog.Warn("closing partially built providers", "err", cerr)
		}
		return nil, err
	}
	return ps, nil
}

func (p *Providers) build(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) error {
	fb := func(kind string) resilience.FallbackConfig {
		return resilience.FallbackConfig{Kind: kind, Metrics: metrics}
	}

	var err error
	if p.LLM, err = buildGroup(p, "llm", cfg.Providers.LLM, reg.CreateLLM, func(primary llm.Provider, name string) fallbackGroup[llm.Provider] {
		return resilience.NewLLMFallback(primary, name, fb("llm"))
	}); err != nil {
		return err
	}
	if p.STT, err = buildGroup(p, "stt", cfg.Providers.STT, reg.CreateSTT, func(primary stt.Provider, name string) fallbackGroup[stt.Provider] {
		return resilience.NewSTTFallback(primary, name, fb("stt"))
	}); err != nil {
		return err
	}
	if p.TTS, err = buildGroup(p, "tts", cfg.Providers.TTS, reg.CreateTTS, func(primary tts.Provider, name string) fallbackGroup[tts.Provider] {
		return resilience.NewTTSFallback(primary, name, fb("tts"))
	}); err != nil {
		return err
	}

	if p.WakeWord, err = build(p, "wakeword", cfg.Providers.WakeWord, reg.CreateWakeWord); err != nil {
		return err
	}
	if p.Audio, err = build(p, "audio", cfg.Providers.Audio, reg.CreateAudio); err != nil {
		return err
	}
	if p.Playback, err = build(p, "playback", cfg.Providers.Playback, reg.CreatePlayback); err != nil {
		return err
	}
	return nil
}

// fallbackGroup is a resilience wrapper that also implements T.
type fallbackGroup[T any] interface {
	AddFallback(name string, provider T)
}

func build[T any](ps *Providers, kind string, entry config.ProviderEntry, create func(config.ProviderEntry) (T, error)) (T, error) {
	p, err := create(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("app: create %s provider %q: %w", kind, entry.Name, err)
	}
	ps.track(p)
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
	return p, nil
}

func buildGroup[T any](ps *Providers, kind string, entry config.ProviderEntry, create func(config.ProviderEntry) (T, error), wrap func(T, string) fallbackGroup[T]) (T, error) {
	var zero T
	primary, err := build(ps, kind, entry, create)
	if err != nil || len(entry.Fallbacks) == 0 {
		return primary, err
	}
	group := wrap(primary, entry.Name)
	for _, fe := range entry.Fallbacks {
		p, err := build(ps, kind+" fallback", fe, create)
		if err != nil {
			return zero, err
		}
		group.AddFallback(fe.Name, p)
	}
	wrapped, ok := group.(T)
	if !ok {
		return zero, fmt.Errorf("app: %s fallback group does not implement the provider interface", kind)
	}
	slog.Info("provider fallbacks enabled", "kind", kind, "count", len(entry.Fallbacks))
	return wrapped, nil
}
