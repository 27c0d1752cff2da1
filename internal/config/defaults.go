package config

import "time"

// Defaults mirrored from the components that own them.
const (
	DefaultListenAddr       = ":5000"
	DefaultTarget           = "hey_jarvis"
	DefaultThreshold        = 0.25
	DefaultMaxScoreFailures = 25
	DefaultCaptureDuration  = 7 * time.Second
	DefaultMinTranscript    = 2
	DefaultStallGrace       = 2 * time.Second
	DefaultAssistantName    = "Jarvis"
	DefaultUserLabel        = "You"
	DefaultGreeting         = "Hello. I am online and listening."
	DefaultHistoryLimit     = 200
	DefaultServiceName      = "jarvis"

	DefaultSystemPrompt = "You are Jarvis, a helpful, witty, and slightly sarcastic AI assistant. " +
		"You are running locally on the user's computer. Keep your responses concise."
)

// Default provider selection when a kind is left empty.
var defaultProviders = map[string]string{
	"llm":      "ollama",
	"stt":      "whisper-cli",
	"tts":      "piper",
	"wakeword": "openwakeword",
	"audio":    "malgo",
	"playback": "oto",
}

// ApplyDefaults fills zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.StallGrace == 0 {
		cfg.Audio.StallGrace = DefaultStallGrace
	}

	if cfg.WakeWord.Target == "" {
		cfg.WakeWord.Target = DefaultTarget
	}
	if cfg.WakeWord.Threshold == 0 {
		cfg.WakeWord.Threshold = DefaultThreshold
	}
	if cfg.WakeWord.MaxScoreFailures == 0 {
		cfg.WakeWord.MaxScoreFailures = DefaultMaxScoreFailures
	}

	if cfg.Turn.CaptureDuration == 0 {
		cfg.Turn.CaptureDuration = DefaultCaptureDuration
	}
	if cfg.Turn.MinTranscriptChars == 0 {
		cfg.Turn.MinTranscriptChars = DefaultMinTranscript
	}

	if cfg.Assistant.Name == "" {
		cfg.Assistant.Name = DefaultAssistantName
	}
	if cfg.Assistant.UserLabel == "" {
		cfg.Assistant.UserLabel = DefaultUserLabel
	}
	if cfg.Assistant.Greeting == "" {
		cfg.Assistant.Greeting = DefaultGreeting
	}
	if cfg.Assistant.SystemPrompt == "" {
		cfg.Assistant.SystemPrompt = DefaultSystemPrompt
	}

	if cfg.Status.HistoryLimit == 0 {
		cfg.Status.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Journal.ReplayLimit == 0 {
		cfg.Journal.ReplayLimit = cfg.Status.HistoryLimit
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}

	for kind, entry := range cfg.Providers.entries() {
		if entry.Name == "" {
			entry.Name = defaultProviders[kind]
		}
	}
}

// entries returns pointers to each provider entry keyed by kind.
func (p *ProvidersConfig) entries() map[string]*ProviderEntry {
	return map[string]*ProviderEntry{
		"llm":      &p.LLM,
		"stt":      &p.STT,
		"tts":      &p.TTS,
		"wakeword": &p.WakeWord,
		"audio":    &p.Audio,
		"playback": &p.Playback,
	}
}
