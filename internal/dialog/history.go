package dialog

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/jarvis/pkg/provider/llm"
)

// History tracks the messages of a conversation and their estimated token
// cost, and compresses the oldest half into a summary when the estimate
// passes thresholdRatio × maxTokens.
//
// All methods are safe for concurrent use.
type History struct {
	maxTokens      int
	thresholdRatio float64
	summariser     Summariser

	mu            sync.Mutex
	currentTokens int
	messages      []llm.Message
	summaries     []string
}

// HistoryConfig configures a [History].
type HistoryConfig struct {
	// MaxTokens is the model's context window size.
	MaxTokens int

	// ThresholdRatio is the fraction of MaxTokens at which summarisation is
	// triggered. Defaults to 0.75 if zero or negative.
	ThresholdRatio float64

	// Summariser compresses older messages. When nil, the oldest messages
	// are dropped instead.
	Summariser Summariser
}

// NewHistory creates an empty [History].
func NewHistory(cfg HistoryConfig) *History {
	ratio := cfg.ThresholdRatio
	if ratio <= 0 {
		ratio = 0.75
	}
	return &History{
		maxTokens:      cfg.MaxTokens,
		thresholdRatio: ratio,
		summariser:     cfg.Summariser,
	}
}

// Add appends msgs. If the token estimate then exceeds the threshold, the
// oldest half of the messages is summarised and replaced. A summarisation
// error is returned but the messages stay appended.
func (h *History) Add(ctx context.Context, msgs ...llm.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, m := range msgs {
		h.messages = append(h.messages, m)
		h.currentTokens += estimateTokens(m)
	}

	threshold := int(float64(h.maxTokens) * h.thresholdRatio)
	if h.maxTokens > 0 && h.currentTokens > threshold && len(h.messages) > 1 {
		if err := h.compactOldest(ctx); err != nil {
			return fmt.Errorf("history auto-summarise: %w", err)
		}
	}
	return nil
}

// Messages returns the history with accumulated summaries prepended as
// system messages.
func (h *History) Messages() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	result := make([]llm.Message, 0, len(h.summaries)+len(h.messages))
	for _, s := range h.summaries {
		result = append(result, llm.Message{
			Role:    llm.RoleSystem,
			Content: "[Previous conversation summary]: " + s,
		})
	}
	return append(result, h.messages...)
}

// Len returns the number of unsummarised messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// TokenEstimate returns the current estimated token count, including
// summary tokens.
func (h *History) TokenEstimate() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentTokens
}

// Reset clears all messages and summaries.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
	h.summaries = nil
	h.currentTokens = 0
}

// compactOldest replaces the oldest half of messages with a summary.
// Must be called with h.mu held.
func (h *History) compactOldest(ctx context.Context) error {
	half := max(len(h.messages)/2, 1)
	oldest := make([]llm.Message, half)
	copy(oldest, h.messages[:half])

	var summary string
	if h.summariser != nil {
		// Release the lock for the (potentially slow) LLM call.
		h.mu.Unlock()
		s, err := h.summariser.Summarise(ctx, oldest)
		h.mu.Lock()
		if err != nil {
			return err
		}
		summary = s
	}

	// The slice may have grown while unlocked; the oldest half is still at
	// the front.
	removed := 0
	for _, m := range h.messages[:half] {
		removed += estimateTokens(m)
	}
	h.messages = append([]llm.Message(nil), h.messages[half:]...)
	h.currentTokens -= removed

	if summary != "" {
		h.summaries = append(h.summaries, summary)
		h.currentTokens += len(summary) / charsPerToken
	}
	return nil
}

// charsPerToken is the heuristic ratio used for token estimation.
const charsPerToken = 4

func estimateTokens(m llm.Message) int {
	chars := len(m.Content) + len(m.Role)
	tokens := chars / charsPerToken
	if tokens == 0 && chars > 0 {
		tokens = 1
	}
	return tokens
}
