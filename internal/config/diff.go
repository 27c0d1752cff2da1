package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdChanged bool
	NewThreshold     float64

	SystemPromptChanged bool
	NewSystemPrompt     string

	VocabularyChanged bool
	NewVocabulary     []string

	// RestartRequired lists settings that changed but only take effect on
	// restart.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable setting changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ThresholdChanged || d.SystemPromptChanged || d.VocabularyChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.WakeWord.Threshold != new.WakeWord.Threshold {
		d.ThresholdChanged = true
		d.NewThreshold = new.WakeWord.Threshold
	}
	if old.Assistant.SystemPrompt != new.Assistant.SystemPrompt {
		d.SystemPromptChanged = true
		d.NewSystemPrompt = new.Assistant.SystemPrompt
	}
	if !slices.Equal(old.Assistant.Vocabulary, new.Assistant.Vocabulary) {
		d.VocabularyChanged = true
		d.NewVocabulary = slices.Clone(new.Assistant.Vocabulary)
	}

	restart := func(name string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, name)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("wakeword.target", old.WakeWord.Target != new.WakeWord.Target)
	restart("turn.capture_duration", old.Turn.CaptureDuration != new.Turn.CaptureDuration)
	restart("journal.postgres_dsn", old.Journal.PostgresDSN != new.Journal.PostgresDSN)
	for kind, o := range old.Providers.entries() {
		n := new.Providers.entries()[kind]
		if o.Name != n.Name || o.Model != n.Model || o.BaseURL != n.BaseURL {
			d.RestartRequired = append(d.RestartRequired, "providers."+kind)
		}
	}
	slices.Sort(d.RestartRequired)
	return d
}
