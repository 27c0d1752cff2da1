// Package phonetic matches misheard words against a known vocabulary using
// Double Metaphone codes and Jaro-Winkler similarity.
//
// A phrase matches a vocabulary entry with the same number of words when
// every word position is accepted:
//
//   - the two words share a Double Metaphone code and their Jaro-Winkler
//     similarity reaches the phonetic threshold (default 0.70), or
//   - their similarity alone reaches the fuzzy threshold (default 0.85).
//
// Words shorter than three letters must match exactly; their codes are too
// short to carry signal. The entry with the highest mean similarity wins,
// phonetic matches ahead of purely fuzzy ones.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	minFuzzyLen = 3
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a word pair
// that shares a phonetic code. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a word pair
// without a shared phonetic code. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

type entry struct {
	text   string
	tokens []string
	codes  []codeSet
}

// Vocabulary is a precomputed set of known words and phrases. It is
// immutable and safe for concurrent use.
type Vocabulary struct {
	byWords  map[int][]entry
	maxWords int
	size     int
}

// NewVocabulary prepares phrases for matching. Blank phrases and duplicates
// (case-insensitive) are skipped.
func NewVocabulary(phrases []string) *Vocabulary {
	v := &Vocabulary{byWords: make(map[int][]entry)}
	seen := make(map[string]struct{}, len(phrases))
	for _, p := range phrases {
		p = strings.TrimSpace(p)
		lower := strings.ToLower(p)
		if p == "" {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}

		tokens := strings.Fields(lower)
		e := entry{text: p, tokens: tokens, codes: make([]codeSet, len(tokens))}
		for i, t := range tokens {
			e.codes[i] = codesFor(t)
		}
		v.byWords[len(tokens)] = append(v.byWords[len(tokens)], e)
		v.maxWords = max(v.maxWords, len(tokens))
		v.size++
	}
	return v
}

// MaxWords returns the word count of the longest phrase.
func (v *Vocabulary) MaxWords() int { return v.maxWords }

// Len returns the number of phrases.
func (v *Vocabulary) Len() int { return v.size }

// Match finds the vocabulary phrase most similar to phrase. Only phrases
// with the same word count are considered. When matched is false,
// corrected equals phrase and confidence is 0.
func (m *Matcher) Match(phrase string, v *Vocabulary) (corrected string, confidence float64, matched bool) {
	tokens := strings.Fields(strings.ToLower(phrase))
	if v == nil || len(tokens) == 0 {
		return phrase, 0, false
	}

	inputCodes := make([]codeSet, len(tokens))
	for i, t := range tokens {
		inputCodes[i] = codesFor(t)
	}

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, e := range v.byWords[len(tokens)] {
		score, phonetic, ok := m.score(tokens, inputCodes, e)
		if !ok {
			continue
		}
		if best == "" || (phonetic && !bestPhonetic) || (phonetic == bestPhonetic && score > bestScore) {
			best, bestScore, bestPhonetic = e.text, score, phonetic
		}
	}
	if best == "" {
		return phrase, 0, false
	}
	return best, bestScore, true
}

// score compares tokens against e position by position. It returns the mean
// similarity, whether every position shared a phonetic code, and whether
// every position was accepted.
func (m *Matcher) score(tokens []string, codes []codeSet, e entry) (float64, bool, bool) {
	var sum float64
	allPhonetic := true
	for i, t := range tokens {
		want := e.tokens[i]
		if t == want {
			sum++
			continue
		}
		if len(t) < minFuzzyLen || len(want) < minFuzzyLen {
			return 0, false, false
		}
		jw := matchr.JaroWinkler(t, want, false)
		phonetic := codes[i].overlaps(e.codes[i])
		switch {
		case phonetic && jw >= m.phoneticThreshold:
		case jw >= m.fuzzyThreshold:
			allPhonetic = false
		default:
			return 0, false, false
		}
		sum += jw
	}
	return sum / float64(len(tokens)), allPhonetic, true
}

// codeSet holds the primary and secondary Double Metaphone codes of a word.
// Empty codes are excluded.
type codeSet [2]string

func codesFor(word string) codeSet {
	p, s := matchr.DoubleMetaphone(word)
	return codeSet{p, s}
}

func (c codeSet) overlaps(o codeSet) bool {
	for _, a := range c {
		if a == "" {
			continue
		}
		for _, b := range o {
			if a == b {
				return true
			}
		}
	}
	return false
}
