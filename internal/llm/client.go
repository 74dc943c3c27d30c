// Package llm provides the chat-completion collaborator used by the agent and
// its OpenAI-compatible and Gemini implementations.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/easeaico/guild-memory-agent/internal/config"
)

// ErrEmptyResponse is returned when the model produced no choices at all.
var ErrEmptyResponse = errors.New("empty completion response")

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of an ordered chat prompt.
type Message struct {
	Role    string
	Content string
}

// Request describes a single completion call.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// ChatClient sends a prompt to a language model and returns its text.
// Implementations do not retry; deadlines come from ctx.
type ChatClient interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// New creates the client for the configured provider.
func New(ctx context.Context, cfg config.LLMConfig) (ChatClient, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg.APIKey)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
