package main

import (
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/jarvis/internal/config"
	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/audio/malgo"
	"github.com/MrWong99/jarvis/pkg/audio/oto"
	"github.com/MrWong99/jarvis/pkg/provider/llm"
	"github.com/MrWong99/jarvis/pkg/provider/llm/anyllm"
	"github.com/MrWong99/jarvis/pkg/provider/llm/openai"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
	"github.com/MrWong99/jarvis/pkg/provider/stt/whisper"
	"github.com/MrWong99/jarvis/pkg/provider/tts"
	"github.com/MrWong99/jarvis/pkg/provider/tts/coqui"
	"github.com/MrWong99/jarvis/pkg/provider/tts/piper"
	"github.com/MrWong99/jarvis/pkg/provider/wakeword"
	"github.com/MrWong99/jarvis/pkg/provider/wakeword/oww"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// Hosted any-llm backends share the same pattern: optional APIKey +
	// optional BaseURL. Local servers only need the BaseURL.
	for _, name := range []string{"ollama", "llamacpp", "llamafile", "openai", "anthropic", "gemini", "mistral", "groq", "deepseek"} {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// openai-compatible talks to any server speaking the OpenAI chat API
	// (vLLM, LM Studio, LocalAI) through the official SDK.
	reg.RegisterLLM("openai-compatible", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if d := entry.Duration("timeout"); d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper-cli", func(entry config.ProviderEntry) (stt.Provider, error) {
		return whisper.NewCLI(
			whisper.WithExecutable(entry.Option("executable")),
			whisper.WithModelPath(entry.Model),
			whisper.WithCLILanguage(entry.Option("language")),
			whisper.WithThreads(entry.Int("threads")),
		)
	})

	reg.RegisterSTT("whisper-server", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []whisper.Option{whisper.WithModel(entry.Model)}
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if d := entry.Duration("timeout"); d > 0 {
			opts = append(opts, whisper.WithTimeout(d))
		}
		return whisper.NewServer(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.NativeOption
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("piper", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []piper.Option{
			piper.WithExecutable(entry.Option("executable")),
			piper.WithVoice(entry.Model),
		}
		if rate := entry.Int("rate"); rate > 0 {
			opts = append(opts, piper.WithRate(rate))
		}
		if _, ok := entry.Options["speaker"]; ok {
			opts = append(opts, piper.WithSpeaker(entry.Int("speaker")))
		}
		return piper.New(opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := entry.Option("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if speaker := entry.Option("speaker"); speaker != "" {
			opts = append(opts, coqui.WithSpeaker(speaker))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── Wake word ─────────────────────────────────────────────────────────────

	reg.RegisterWakeWord("openwakeword", func(entry config.ProviderEntry) (wakeword.Provider, error) {
		var opts []oww.Option
		if models := entry.Strings("models"); len(models) > 0 {
			opts = append(opts, oww.WithModels(models...))
		}
		if d := entry.Duration("predict_timeout"); d > 0 {
			opts = append(opts, oww.WithPredictTimeout(d))
		}
		if d := entry.Duration("redial_delay"); d > 0 {
			opts = append(opts, oww.WithRedialDelay(d))
		}
		return oww.New(entry.BaseURL, opts...)
	})

	// none disables detection; the UI still comes up.
	reg.RegisterWakeWord("none", func(config.ProviderEntry) (wakeword.Provider, error) {
		return nil, nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("malgo", func(entry config.ProviderEntry) (audio.Source, error) {
		opts := []malgo.Option{malgo.WithDevice(entry.Option("device"))}
		if ms := entry.Int("period_ms"); ms > 0 {
			opts = append(opts, malgo.WithPeriod(uint32(ms)))
		}
		return malgo.New(opts...), nil
	})

	reg.RegisterPlayback("oto", func(entry config.ProviderEntry) (audio.Player, error) {
		var opts []oto.Option
		if rate := entry.Int("sample_rate"); rate > 0 {
			opts = append(opts, oto.WithFormat(audio.Format{SampleRate: rate, Channels: 1}))
		}
		if d := entry.Duration("buffer"); d > 0 {
			opts = append(opts, oto.WithBufferSize(d))
		}
		return oto.New(opts...)
	})

	// none leaves replies text-only.
	reg.RegisterPlayback("none", func(config.ProviderEntry) (audio.Player, error) {
		return nil, nil
	})

	for _, kind := range []string{"llm", "stt", "tts", "wakeword", "audio", "playback"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}
