package tts_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/jarvis/pkg/provider/tts"
)

func TestSplitSentences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"single without terminator", "Hello there", []string{"Hello there"}},
		{"two sentences", "Good evening. How can I help?", []string{"Good evening.", "How can I help?"}},
		{"decimal stays intact", "Pi is 3.14 roughly. Yes!", []string{"Pi is 3.14 roughly.", "Yes!"}},
		{"trailing fragment", "Done. and then", []string{"Done.", "and then"}},
		{"whitespace only", "   ", nil},
		{"ellipsis", "Well... maybe.", []string{"Well...", "maybe."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tts.SplitSentences(tt.in); !slices.Equal(got, tt.want) {
				t.Errorf("SplitSentences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
