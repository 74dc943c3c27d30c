package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/easeaico/guild-memory-agent/internal/llm"
	"github.com/easeaico/guild-memory-agent/internal/memory"
)

// Audit excerpt limits.
const (
	previewEntries      = 8
	previewEntryLength  = 80
	previewLength       = 700
	promptExcerptLength = 400
	replyExcerptLength  = 600
)

const learnInstruction = `

STORING KNOWLEDGE:
If someone tells you something interesting about the server, the community or generally useful facts, you can store it by including [LEARN:your text here] in your answer.
The tag is removed automatically and the content is fact-checked before it is stored.
Example: "Nice, I'll remember that! [LEARN:The server was founded in 2020]"

NEVER store:
- Political statements
- Controversial opinions
- Insults or discrimination
- Obviously false facts
- Personal opinions presented as facts`

// promptContext is everything generateReply fed to the model, kept for the audit row.
type promptContext struct {
	messages        []llm.Message
	knowledge       []memory.KnowledgeEntry
	usedUserContext bool
	historyCount    int
}

func (p promptContext) knowledgeIDs() []int64 {
	ids := make([]int64, 0, len(p.knowledge))
	for _, e := range p.knowledge {
		ids = append(ids, e.ID)
	}
	return ids
}

// knowledgePreview renders the first entries as "#id text" joined by " | ".
func knowledgePreview(entries []memory.KnowledgeEntry) string {
	if len(entries) == 0 {
		return ""
	}
	parts := make([]string, 0, min(len(entries), previewEntries))
	for _, e := range entries[:min(len(entries), previewEntries)] {
		parts = append(parts, fmt.Sprintf("#%d %s", e.ID, truncate(e.Text, previewEntryLength)))
	}
	return truncate(strings.Join(parts, " | "), previewLength)
}

// buildPrompt assembles the ordered message list for one reply: instructions,
// the member note, guild knowledge, the member's own context and recent
// history, then the prompt itself. Context and history are only read when
// the member allows storage.
func (a *Agent) buildPrompt(ctx context.Context, guildID, userID, displayName, prompt string, allowStorage bool) (promptContext, error) {
	var pc promptContext

	pc.messages = append(pc.messages,
		llm.Message{Role: llm.RoleSystem, Content: a.systemPrompt + learnInstruction},
		llm.Message{Role: llm.RoleSystem, Content: fmt.Sprintf("User: %s (%s). Address the user by name occasionally.", displayName, userID)},
	)

	if a.ux.MaxKnowledgeEntries > 0 {
		entries, err := a.store.ListKnowledge(ctx, guildID, a.ux.MaxKnowledgeEntries)
		if err != nil {
			return pc, fmt.Errorf("failed to load knowledge: %w", err)
		}
		if len(entries) > 0 {
			var sb strings.Builder
			sb.WriteString("Server knowledge:")
			for _, e := range entries {
				sb.WriteString("\n- ")
				sb.WriteString(e.Text)
			}
			pc.messages = append(pc.messages, llm.Message{Role: llm.RoleSystem, Content: sb.String()})
			pc.knowledge = entries
		}
	}

	if allowStorage {
		userContext, ok, err := a.store.GetUserContext(ctx, guildID, userID)
		if err != nil {
			return pc, fmt.Errorf("failed to load user context: %w", err)
		}
		if ok && !isBlank(userContext) {
			pc.messages = append(pc.messages, llm.Message{
				Role:    llm.RoleSystem,
				Content: "User context (use only if relevant): " + userContext,
			})
			pc.usedUserContext = true
		}

		history, err := a.conversation.History(ctx, guildID, userID, a.ux.MaxConversationMessages)
		if err != nil {
			return pc, err
		}
		for _, m := range history {
			if isBlank(m.Content) {
				continue
			}
			var role string
			switch m.Role {
			case memory.RoleUser:
				role = llm.RoleUser
			case memory.RoleAssistant:
				role = llm.RoleAssistant
			default:
				continue
			}
			pc.messages = append(pc.messages, llm.Message{Role: role, Content: m.Content})
			pc.historyCount++
		}
	}

	pc.messages = append(pc.messages, llm.Message{Role: llm.RoleUser, Content: prompt})
	return pc, nil
}
