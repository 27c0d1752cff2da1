package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/provider/llm"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
	"github.com/MrWong99/jarvis/pkg/provider/tts"
	"github.com/MrWong99/jarvis/pkg/provider/wakeword"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider of type T from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

// create looks up the factory under mu and calls it outside the lock.
func create[T any](mu *sync.RWMutex, f factories[T], entry ProviderEntry) (T, error) {
	mu.RLock()
	factory, ok := f.m[entry.Name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return factory(entry)
}

func (f factories[T]) names() []string {
	out := make([]string, 0, len(f.m))
	for name := range f.m {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	llm      factories[llm.Provider]
	stt      factories[stt.Provider]
	tts      factories[tts.Provider]
	wakeword factories[wakeword.Provider]
	audio    factories[audio.Source]
	playback factories[audio.Player]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:      newFactories[llm.Provider]("llm"),
		stt:      newFactories[stt.Provider]("stt"),
		tts:      newFactories[tts.Provider]("tts"),
		wakeword: newFactories[wakeword.Provider]("wakeword"),
		audio:    newFactories[audio.Source]("audio"),
		playback: newFactories[audio.Player]("playback"),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = factory
}

// RegisterSTT registers a transcriber factory under name.
func (r *Registry) RegisterSTT(name string, factory Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = factory
}

// RegisterTTS registers a synthesiser factory under name.
func (r *Registry) RegisterTTS(name string, factory Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.m[name] = factory
}

// RegisterWakeWord registers a wake-word model provider factory under name.
func (r *Registry) RegisterWakeWord(name string, factory Factory[wakeword.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wakeword.m[name] = factory
}

// RegisterAudio registers a capture source factory under name.
func (r *Registry) RegisterAudio(name string, factory Factory[audio.Source]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio.m[name] = factory
}

// RegisterPlayback registers a playback sink factory under name.
func (r *Registry) RegisterPlayback(name string, factory Factory[audio.Player]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playback.m[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(&r.mu, r.llm, entry)
}

// CreateSTT instantiates a transcriber.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(&r.mu, r.stt, entry)
}

// CreateTTS instantiates a synthesiser.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(&r.mu, r.tts, entry)
}

// CreateWakeWord instantiates a wake-word model provider.
func (r *Registry) CreateWakeWord(entry ProviderEntry) (wakeword.Provider, error) {
	return create(&r.mu, r.wakeword, entry)
}

// CreateAudio instantiates a capture source.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Source, error) {
	return create(&r.mu, r.audio, entry)
}

// CreatePlayback instantiates a playback sink.
func (r *Registry) CreatePlayback(entry ProviderEntry) (audio.Player, error) {
	return create(&r.mu, r.playback, entry)
}

// Names returns the registered provider names of kind, sorted. Unknown kinds
// yield nil.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "llm":
		return r.llm.names()
	case "stt":
		return r.stt.names()
	case "tts":
		return r.tts.names()
	case "wakeword":
		return r.wakeword.names()
	case "audio":
		return r.audio.names()
	case "playback":
		return r.playback.names()
	}
	return nil
}
