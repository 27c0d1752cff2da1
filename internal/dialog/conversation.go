// Package dialog keeps the assistant's side of the conversation: the system
// prompt, the running message history and the call into the language model
// that turns a transcribed utterance into a reply.
//
// A failed or empty generation leaves the history exactly as it was before
// the call, so a retry starts from the same state.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/jarvis/pkg/provider/llm"
	"github.com/MrWong99/jarvis/pkg/types"
)

// DefaultSystemPrompt is used when no system prompt is configured.
const DefaultSystemPrompt = "You are Jarvis, a helpful, witty, and slightly sarcastic AI assistant. " +
	"You are running locally on the user's computer. Keep your responses concise."

// Config configures a [Conversation].
type Config struct {
	// SystemPrompt is sent with every request. Defaults to DefaultSystemPrompt.
	SystemPrompt string

	// Temperature and MaxTokens are forwarded to the provider; zero leaves the
	// provider default.
	Temperature float64
	MaxTokens   int

	// Summarise enables LLM summarisation of old turns once the history
	// approaches the model's context window. When false, old turns are
	// dropped instead.
	Summarise bool
}

// Conversation turns user utterances into assistant replies while keeping
// the history. It is safe for concurrent use, though the pipeline only ever
// calls it from one turn at a time.
type Conversation struct {
	provider    llm.Provider
	history     *History
	temperature float64
	maxTokens   int

	mu           sync.RWMutex
	systemPrompt string
}

// New creates a Conversation. A nil provider is allowed: every Respond then
// fails with [types.ErrCollaboratorUnavailable], which lets the assistant
// stay up and apologise when no model is configured.
func New(provider llm.Provider, cfg Config) *Conversation {
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}

	hcfg := HistoryConfig{MaxTokens: 8_192}
	if provider != nil {
		if caps := provider.Capabilities(); caps.ContextWindow > 0 {
			hcfg.MaxTokens = caps.ContextWindow
		}
		if cfg.Summarise {
			hcfg.Summariser = NewLLMSummariser(provider)
		}
	}

	return &Conversation{
		provider:     provider,
		history:      NewHistory(hcfg),
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		systemPrompt: prompt,
	}
}

// Respond generates the assistant's reply to text.
//
// On success the user message and the reply are appended to the history.
// Provider failures wrap [types.ErrCollaboratorUnavailable]; a reply that is
// empty after trimming wraps [types.ErrEmptyGeneration]. In both cases the
// history is unchanged. Cancellation of ctx is returned as is.
func (c *Conversation) Respond(ctx context.Context, text string) (string, error) {
	if c.provider == nil {
		return "", fmt.Errorf("dialog: %w: no language model configured", types.ErrCollaboratorUnavailable)
	}

	user := llm.Message{Role: llm.RoleUser, Content: text}
	req := llm.CompletionRequest{
		SystemPrompt: c.SystemPrompt(),
		Messages:     append(c.history.Messages(), user),
		Temperature:  c.temperature,
		MaxTokens:    c.maxTokens,
	}

	stream, err := c.provider.StreamCompletion(ctx, req)
	if err != nil {
		return "", c.wrapProviderErr(ctx, err)
	}
	reply, err := llm.Collect(ctx, stream)
	if err != nil {
		return "", c.wrapProviderErr(ctx, err)
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("dialog: %w", types.ErrEmptyGeneration)
	}

	if err := c.history.Add(ctx, user, llm.Message{Role: llm.RoleAssistant, Content: reply}); err != nil {
		slog.Warn("dialog: history compaction failed", "err", err)
	}
	return reply, nil
}

func (c *Conversation) wrapProviderErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	return fmt.Errorf("dialog: %w: %w", types.ErrCollaboratorUnavailable, err)
}

// SystemPrompt returns the prompt currently in use.
func (c *Conversation) SystemPrompt() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.systemPrompt
}

// SetSystemPrompt replaces the prompt for subsequent turns. An empty prompt
// restores DefaultSystemPrompt.
func (c *Conversation) SetSystemPrompt(prompt string) {
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.systemPrompt = prompt
}

// Len returns the number of messages in the history.
func (c *Conversation) Len() int {
	return c.history.Len()
}

// Messages returns a copy of the history, summaries first.
func (c *Conversation) Messages() []llm.Message {
	return c.history.Messages()
}

// Reset forgets the conversation.
func (c *Conversation) Reset() {
	c.history.Reset()
}
