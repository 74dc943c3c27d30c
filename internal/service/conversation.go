package service

import (
	"context"
	"fmt"

	"github.com/easeaico/guild-memory-agent/internal/memory"
)

// Conversation keeps a bounded window of each member's recent exchanges.
type Conversation struct {
	store      memory.Store
	maxHistory int
	maxLength  int
	errorReply string
}

// NewConversation creates conversation memory keeping maxHistory messages
// per member, each capped at maxLength runes. Exchanges whose reply equals
// errorReply are never recorded.
func NewConversation(store memory.Store, maxHistory, maxLength int, errorReply string) *Conversation {
	return &Conversation{
		store:      store,
		maxHistory: maxHistory,
		maxLength:  max(1, maxLength),
		errorReply: errorReply,
	}
}

// Record appends one exchange and evicts everything beyond the window.
// A nil reply, the error reply, a disabled window or a member who opted out
// of storage all make Record a no-op.
func (c *Conversation) Record(ctx context.Context, guildID, userID, userText string, reply *string) error {
	if c.maxHistory <= 0 || reply == nil || *reply == c.errorReply {
		return nil
	}

	privacy, err := c.store.GetPrivacy(ctx, guildID, userID)
	if err != nil {
		return fmt.Errorf("failed to load privacy settings: %w", err)
	}
	if !privacy.AllowStorage {
		return nil
	}

	if !isBlank(userText) {
		if err := c.store.AddConversationMessage(ctx, guildID, userID, memory.RoleUser, truncate(userText, c.maxLength)); err != nil {
			return fmt.Errorf("failed to store user message: %w", err)
		}
	}
	if err := c.store.AddConversationMessage(ctx, guildID, userID, memory.RoleAssistant, truncate(*reply, c.maxLength)); err != nil {
		return fmt.Errorf("failed to store reply: %w", err)
	}

	return c.Evict(ctx, guildID, userID, c.maxHistory)
}

// Evict keeps the keepLimit most recently inserted messages; keepLimit <= 0 clears them all.
func (c *Conversation) Evict(ctx context.Context, guildID, userID string, keepLimit int) error {
	if keepLimit <= 0 {
		if err := c.store.ClearConversation(ctx, guildID, userID); err != nil {
			return fmt.Errorf("failed to clear conversation: %w", err)
		}
		return nil
	}
	if err := c.store.TrimConversation(ctx, guildID, userID, keepLimit); err != nil {
		return fmt.Errorf("failed to trim conversation: %w", err)
	}
	return nil
}

// History returns up to limit recent messages, oldest first.
func (c *Conversation) History(ctx context.Context, guildID, userID string, limit int) ([]memory.ConversationMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	msgs, err := c.store.ListConversationMessages(ctx, guildID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return msgs, nil
}

// Forget deletes a member's whole conversation.
func (c *Conversation) Forget(ctx context.Context, guildID, userID string) error {
	return c.Evict(ctx, guildID, userID, 0)
}
