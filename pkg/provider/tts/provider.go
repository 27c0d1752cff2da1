// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis engine (a local Piper binary or a
// Coqui TTS server) and renders one reply into a playable clip. Replies are
// short, so synthesis is batch: the whole text goes in, one clip comes out.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"strings"
	"unicode"

	"github.com/MrWong99/jarvis/pkg/audio"
)

// DefaultRate is the default speaking rate in words per minute.
const DefaultRate = 180

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text into a clip in the engine's native format.
	// Failures wrap types.ErrSynthesisFailed; an unreachable engine wraps
	// types.ErrCollaboratorUnavailable as well. Empty text yields an empty
	// clip and no error.
	Synthesize(ctx context.Context, text string) (audio.Clip, error)
}

// SplitSentences splits text on '.', '!' and '?' when followed by
// whitespace or the end of the text. Abbreviations such as "Dr.Who" and
// decimals such as "3.14" stay intact. Empty sentences are dropped.
func SplitSentences(text string) []string {
	var out []string
	for {
		idx := findSentenceBoundary(text)
		if idx < 0 {
			break
		}
		if s := strings.TrimSpace(text[:idx+1]); s != "" {
			out = append(out, s)
		}
		text = text[idx+1:]
	}
	if s := strings.TrimSpace(text); s != "" {
		out = append(out, s)
	}
	return out
}

func findSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}
