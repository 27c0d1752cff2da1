// Package transcript repairs known names and phrases that the transcription
// engine misheard, before the transcript reaches the language model.
//
// Correction is purely local: a sliding window of words is compared against
// a vocabulary with [phonetic.Matcher], longest windows first, and matched
// windows are replaced with the vocabulary's spelling. Punctuation around a
// window is preserved.
package transcript

import (
	"strings"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/jarvis/internal/transcript/phonetic"
)

// Correction records one replacement made by [Corrector.Correct].
type Correction struct {
	// Original is the misheard text, without surrounding punctuation.
	Original string

	// Corrected is the vocabulary spelling that replaced it.
	Corrected string

	// Confidence is the mean Jaro-Winkler similarity of the match.
	Confidence float64
}

// Corrector rewrites transcripts against a vocabulary. The vocabulary can be
// swapped at runtime with [Corrector.SetVocabulary]; Correct is safe for
// concurrent use.
type Corrector struct {
	matcher *phonetic.Matcher
	vocab   atomic.Pointer[phonetic.Vocabulary]
}

// NewCorrector returns a Corrector for the given phrases. opts tune the
// underlying matcher.
func NewCorrector(vocabulary []string, opts ...phonetic.Option) *Corrector {
	c := &Corrector{matcher: phonetic.New(opts...)}
	c.SetVocabulary(vocabulary)
	return c
}

// SetVocabulary replaces the vocabulary.
func (c *Corrector) SetVocabulary(vocabulary []string) {
	c.vocab.Store(phonetic.NewVocabulary(vocabulary))
}

// word is one whitespace-separated token split into its punctuation and core.
type word struct {
	lead, core, trail string
}

func splitWord(tok string) word {
	start := strings.IndexFunc(tok, isWordRune)
	if start < 0 {
		return word{lead: tok}
	}
	end := strings.LastIndexFunc(tok, isWordRune)
	_, size := utf8.DecodeRuneInString(tok[end:])
	end += size
	w := word{lead: tok[:start], core: tok[start:end], trail: tok[end:]}
	// Possessives keep their suffix: "jervis's" becomes "Jarvis's".
	for _, suffix := range []string{"'s", "’s"} {
		if base, ok := strings.CutSuffix(w.core, suffix); ok && base != "" {
			w.core, w.trail = base, suffix+w.trail
			break
		}
	}
	return w
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Correct returns text with misheard vocabulary replaced, plus the list of
// replacements made. Whitespace between words is normalised to single spaces.
// Windows that already equal a vocabulary phrase apart from case take the
// vocabulary's casing without being reported as corrections.
func (c *Corrector) Correct(text string) (string, []Correction) {
	vocab := c.vocab.Load()
	fields := strings.Fields(text)
	if vocab == nil || vocab.Len() == 0 || len(fields) == 0 {
		return text, nil
	}

	words := make([]word, len(fields))
	for i, f := range fields {
		words[i] = splitWord(f)
	}

	var (
		out         = make([]string, 0, len(words))
		corrections []Correction
	)
	for i := 0; i < len(words); {
		n, replacement, corr := c.matchAt(words, i, vocab)
		if n == 0 {
			out = append(out, fields[i])
			i++
			continue
		}
		out = append(out, words[i].lead+replacement+words[i+n-1].trail)
		if corr != nil {
			corrections = append(corrections, *corr)
		}
		i += n
	}
	return strings.Join(out, " "), corrections
}

// matchAt tries windows starting at words[i], longest first. It returns the
// window length consumed (0 for no match), the replacement text, and the
// correction to report, which is nil for case-only changes.
func (c *Corrector) matchAt(words []word, i int, vocab *phonetic.Vocabulary) (int, string, *Correction) {
	longest := min(vocab.MaxWords(), len(words)-i)
	for n := longest; n >= 1; n-- {
		window, ok := joinWindow(words[i : i+n])
		if !ok {
			continue
		}
		corrected, conf, matched := c.matcher.Match(window, vocab)
		if !matched {
			continue
		}
		if strings.EqualFold(corrected, window) {
			return n, corrected, nil
		}
		return n, corrected, &Correction{Original: window, Corrected: corrected, Confidence: conf}
	}
	return 0, "", nil
}

// joinWindow joins the cores of ws. Interior punctuation ("jarvis, stark")
// breaks a phrase, so such windows are rejected.
func joinWindow(ws []word) (string, bool) {
	parts := make([]string, len(ws))
	for k, w := range ws {
		if w.core == "" {
			return "", false
		}
		if k > 0 && w.lead != "" {
			return "", false
		}
		if k < len(ws)-1 && w.trail != "" {
			return "", false
		}
		parts[k] = w.core
	}
	return strings.Join(parts, " "), true
}
