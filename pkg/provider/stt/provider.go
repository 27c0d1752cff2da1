// Package stt defines the Provider interface for speech-to-text backends.
//
// Jarvis transcribes one fixed-length utterance per turn, so providers are
// batch engines: they take a captured [audio.Clip] and return plain text.
// Failures of the engine itself wrap [types.ErrTranscriptionFailed]; missing
// models or executables are reported as [types.ConfigurationError].
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"regexp"
	"strings"

	"github.com/MrWong99/jarvis/pkg/audio"
)

// Provider transcribes captured speech.
type Provider interface {
	// Transcribe returns the text spoken in clip. Silence yields an empty
	// string and a nil error.
	Transcribe(ctx context.Context, clip audio.Clip) (string, error)
}

// annotation matches non-speech markers emitted by whisper-family models,
// such as "[BLANK_AUDIO]", "[Music]" or "(wind blowing)".
var annotation = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)|\*[^*]*\*`)

// CleanTranscript strips non-speech annotations and collapses whitespace.
func CleanTranscript(text string) string {
	text = annotation.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(text), " ")
}
