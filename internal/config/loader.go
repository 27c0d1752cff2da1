package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":      {"ollama", "llamacpp", "llamafile", "openai", "openai-compatible", "anthropic", "gemini", "mistral", "groq", "deepseek"},
	"stt":      {"whisper-cli", "whisper-server", "whisper-native"},
	"tts":      {"piper", "coqui"},
	"wakeword": {"openwakeword", "none"},
	"audio":    {"malgo"},
	"playback": {"oto", "none"},
}

// fallbackKinds are the provider kinds that may declare fallbacks.
var fallbackKinds = []string{"llm", "stt", "tts"}

// FallbackReasons are the valid keys of turn.fallbacks.
var FallbackReasons = []string{"no_speech", "capture_failed", "transcription_failed", "generation_failed", "empty_generation"}

// Load reads the YAML configuration file at path, applies defaults and
// returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected. An empty document yields
// the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Audio.StallGrace < 0 {
		errs = append(errs, fmt.Errorf("audio.stall_grace %v must not be negative", cfg.Audio.StallGrace))
	}

	if t := cfg.WakeWord.Threshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("wakeword.threshold %.2f is out of range (0, 1]", t))
	}
	if cfg.WakeWord.Smoothing < 0 {
		errs = append(errs, fmt.Errorf("wakeword.smoothing %d must not be negative", cfg.WakeWord.Smoothing))
	}
	if cfg.WakeWord.MaxScoreFailures < 0 {
		errs = append(errs, fmt.Errorf("wakeword.max_score_failures %d must not be negative", cfg.WakeWord.MaxScoreFailures))
	}

	if cfg.Turn.CaptureDuration < 0 {
		errs = append(errs, fmt.Errorf("turn.capture_duration %v must not be negative", cfg.Turn.CaptureDuration))
	}
	if cfg.Turn.MinTranscriptChars < 0 {
		errs = append(errs, fmt.Errorf("turn.min_transcript_chars %d must not be negative", cfg.Turn.MinTranscriptChars))
	}
	for reason := range cfg.Turn.Fallbacks {
		if !slices.Contains(FallbackReasons, reason) {
			errs = append(errs, fmt.Errorf("turn.fallbacks key %q is invalid; valid keys: %v", reason, FallbackReasons))
		}
	}

	if cfg.Assistant.Temperature < 0 || cfg.Assistant.Temperature > 2 {
		errs = append(errs, fmt.Errorf("assistant.temperature %.2f is out of range [0, 2]", cfg.Assistant.Temperature))
	}
	if cfg.Assistant.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("assistant.max_tokens %d must not be negative", cfg.Assistant.MaxTokens))
	}
	if cfg.Status.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("status.history_limit %d must not be negative", cfg.Status.HistoryLimit))
	}

	for kind, entry := range cfg.Providers.entries() {
		validateProviderName(kind, entry.Name)
		if len(entry.Fallbacks) > 0 && !slices.Contains(fallbackKinds, kind) {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks is not supported; only llm, stt and tts have fallbacks", kind))
		}
		for i, fb := range entry.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
			}
			if len(fb.Fallbacks) > 0 {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d] must not declare nested fallbacks", kind, i))
			}
			validateProviderName(kind, fb.Name)
		}
	}

	if cfg.Journal.PostgresDSN == "" {
		slog.Debug("journal.postgres_dsn is empty; the transcript will not survive restarts")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
