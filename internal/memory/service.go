package memory

import (
	"context"
	"fmt"
	"strings"

	adkmemory "google.golang.org/adk/memory"
	"google.golang.org/adk/session"
	"google.golang.org/genai"
)

const (
	defaultSearchLimit = 10
	// sessionMessageLimit caps a single stored turn ingested from an agent session.
	sessionMessageLimit = 1000
)

// Service exposes the store to ADK agents. The ADK app name is used as the
// guild and the session user id as the member.
type Service struct {
	store       Store
	searchLimit int
	keepLimit   int
}

// NewService creates a new memory service. keepLimit bounds the conversation
// rows kept per member after a session is ingested; zero disables ingestion.
func NewService(store Store, keepLimit int) *Service {
	return &Service{store: store, searchLimit: defaultSearchLimit, keepLimit: keepLimit}
}

// AddSession implements memory.Service interface.
// User and agent turns of the session are appended to the member's conversation
// memory when the member allows storage.
func (s *Service) AddSession(ctx context.Context, sess session.Session) error {
	if s.keepLimit <= 0 {
		return nil
	}

	guildID, userID := sess.AppName(), sess.UserID()
	privacy, err := s.store.GetPrivacy(ctx, guildID, userID)
	if err != nil {
		return fmt.Errorf("failed to load privacy for session: %w", err)
	}
	if !privacy.AllowStorage {
		return nil
	}

	added := 0
	for event := range sess.Events().All() {
		if event == nil || event.Content == nil {
			continue
		}
		text := strings.TrimSpace(strings.Join(extractTextFromContent([]*genai.Content{event.Content}), " "))
		if text == "" {
			continue
		}
		role := RoleAssistant
		if event.Author == "user" {
			role = RoleUser
		}
		if err := s.store.AddConversationMessage(ctx, guildID, userID, role, truncateRunes(text, sessionMessageLimit)); err != nil {
			return fmt.Errorf("failed to save session to memory: %w", err)
		}
		added++
	}

	if added == 0 {
		return nil
	}
	if err := s.store.TrimConversation(ctx, guildID, userID, s.keepLimit); err != nil {
		return fmt.Errorf("failed to trim session memory: %w", err)
	}
	return nil
}

// Search implements memory.Service interface.
// It answers from the guild knowledge base by substring match.
func (s *Service) Search(ctx context.Context, req *adkmemory.SearchRequest) (*adkmemory.SearchResponse, error) {
	entries, err := s.store.SearchKnowledge(ctx, req.AppName, req.Query, s.searchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to search knowledge: %w", err)
	}

	memories := make([]adkmemory.Entry, 0, len(entries))
	for _, e := range entries {
		memories = append(memories, adkmemory.Entry{
			Content:   genai.NewContentFromText(fmt.Sprintf("#%d %s", e.ID, e.Text), genai.RoleModel),
			Author:    e.Source,
			Timestamp: e.CreatedAt,
		})
	}

	return &adkmemory.SearchResponse{Memories: memories}, nil
}

// extractTextFromContent extracts text from genai.Content parts
func extractTextFromContent(content []*genai.Content) []string {
	var texts []string
	for _, c := range content {
		for _, part := range c.Parts {
			if part == nil {
				continue
			}
			if text := part.Text; text != "" {
				texts = append(texts, text)
			}
		}
	}
	return texts
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

var _ adkmemory.Service = (*Service)(nil)
