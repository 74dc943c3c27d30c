package tools

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"testing"
	"time"

	"github.com/easeaico/guild-memory-agent/internal/memory"
	"github.com/easeaico/guild-memory-agent/internal/service"
)

// MockCurator implements Curator for testing
type MockCurator struct {
	Entries    []memory.KnowledgeEntry
	Audit      *memory.ReplyAudit
	Err        error
	LastGuild  string
	LastLimit  int
	AddedTexts []string
}

func (m *MockCurator) SearchKnowledge(ctx context.Context, guildID, query string, limit int) ([]memory.KnowledgeEntry, error) {
	m.LastGuild, m.LastLimit = guildID, limit
	return m.Entries, m.Err
}

func (m *MockCurator) AddManualKnowledge(ctx context.Context, guildID, addedBy, text string) (memory.KnowledgeEntry, error) {
	m.LastGuild = guildID
	if m.Err != nil {
		return memory.KnowledgeEntry{}, m.Err
	}
	m.AddedTexts = append(m.AddedTexts, text)
	return memory.KnowledgeEntry{ID: 1, GuildID: guildID, Text: text, Confidence: 1, Source: memory.SourceManual, AddedBy: addedBy}, nil
}

func (m *MockCurator) ReviewKnowledge(ctx context.Context, guildID string, limit int) ([]memory.KnowledgeEntry, error) {
	m.LastGuild, m.LastLimit = guildID, limit
	return m.Entries, m.Err
}

func (m *MockCurator) LatestReply(ctx context.Context, guildID, userID string) (memory.ReplyAudit, error) {
	m.LastGuild = guildID
	if m.Err != nil {
		return memory.ReplyAudit{}, m.Err
	}
	if m.Audit == nil {
		return memory.ReplyAudit{}, fmt.Errorf("lookup: %w", service.ErrNoReply)
	}
	return *m.Audit, nil
}

func TestBuildTools(t *testing.T) {
	tools, err := BuildTools(ToolsConfig{Curator: &MockCurator{}, GuildID: "g1"})
	if err != nil {
		t.Fatalf("Failed to build tools: %v", err)
	}

	want := []string{"search_knowledge", "add_knowledge", "review_knowledge", "explain_last_reply"}
	if len(tools) != len(want) {
		t.Fatalf("Expected %d tools, got %d", len(want), len(tools))
	}
	for i, name := range want {
		if tools[i].Name() != name {
			t.Errorf("Tool %d: expected %q, got %q", i, name, tools[i].Name())
		}
	}

	if _, err := BuildTools(ToolsConfig{}); err == nil {
		t.Error("Expected error without a curator")
	}
}

func TestArgsSchemaTags(t *testing.T) {
	wordPrefix := regexp.MustCompile(`^\w+=`)
	for _, args := range []any{SearchKnowledgeArgs{}, AddKnowledgeArgs{}, ReviewKnowledgeArgs{}, ExplainLastReplyArgs{}} {
		typ := reflect.TypeOf(args)
		for i := 0; i < typ.NumField(); i++ {
			field := typ.Field(i)
			desc := field.Tag.Get("jsonschema")
			if desc == "" {
				t.Errorf("%s.%s: missing jsonschema description", typ.Name(), field.Name)
			}
			if wordPrefix.MatchString(desc) {
				t.Errorf("%s.%s: jsonschema tag must be plain text, got %q", typ.Name(), field.Name, desc)
			}
		}
	}
}

func TestSearchKnowledge(t *testing.T) {
	ctx := context.Background()
	curator := &MockCurator{Entries: []memory.KnowledgeEntry{
		{ID: 3, Text: "Movie night is on Fridays", Confidence: 0.8, Source: memory.SourceLearned, AddedBy: "u1"},
	}}

	res := searchKnowledge(ctx, curator, "g1", SearchKnowledgeArgs{Query: "  "})
	if res.Success || res.Error == "" {
		t.Errorf("Expected failure for blank query, got %+v", res)
	}

	res = searchKnowledge(ctx, curator, "g1", SearchKnowledgeArgs{Query: "movie", Limit: 500})
	if !res.Success || len(res.Data) != 1 {
		t.Fatalf("Expected one result, got %+v", res)
	}
	if res.Data[0].ID != 3 || res.Data[0].Source != memory.SourceLearned {
		t.Errorf("Unexpected item: %+v", res.Data[0])
	}
	if curator.LastGuild != "g1" || curator.LastLimit != maxLimit {
		t.Errorf("Expected guild g1 and limit %d, got %q and %d", maxLimit, curator.LastGuild, curator.LastLimit)
	}

	curator.Entries = nil
	res = searchKnowledge(ctx, curator, "g1", SearchKnowledgeArgs{Query: "none"})
	if !res.Success || res.Message == "" || curator.LastLimit != defaultLimit {
		t.Errorf("Expected empty success with default limit, got %+v (limit %d)", res, curator.LastLimit)
	}

	curator.Err = errors.New("db down")
	res = searchKnowledge(ctx, curator, "g1", SearchKnowledgeArgs{Query: "x"})
	if res.Success {
		t.Error("Expected failure when the store fails")
	}
}

func TestAddKnowledge(t *testing.T) {
	ctx := context.Background()
	curator := &MockCurator{}

	res := addKnowledge(ctx, curator, "g1", "operator", AddKnowledgeArgs{Text: "Rules are pinned"})
	if !res.Success || len(res.Data) != 1 {
		t.Fatalf("Expected success, got %+v", res)
	}
	if res.Data[0].AddedBy != "operator" || res.Data[0].Source != memory.SourceManual {
		t.Errorf("Unexpected item: %+v", res.Data[0])
	}

	curator.Err = service.ErrKnowledgeTooLong
	res = addKnowledge(ctx, curator, "g1", "operator", AddKnowledgeArgs{Text: "long"})
	if res.Success || res.Error == "" {
		t.Errorf("Expected failure, got %+v", res)
	}
}

func TestReviewKnowledge(t *testing.T) {
	ctx := context.Background()
	curator := &MockCurator{}

	res := reviewKnowledge(ctx, curator, "g1", ReviewKnowledgeArgs{})
	if !res.Success || res.Message != "Nothing to review." {
		t.Errorf("Expected empty review, got %+v", res)
	}

	curator.Entries = []memory.KnowledgeEntry{{ID: 9, Text: "shaky", Confidence: 0.4, Source: memory.SourceLearned}}
	res = reviewKnowledge(ctx, curator, "g1", ReviewKnowledgeArgs{Limit: 5})
	if !res.Success || len(res.Data) != 1 || curator.LastLimit != 5 {
		t.Errorf("Expected one entry with limit 5, got %+v (limit %d)", res, curator.LastLimit)
	}
}

func TestExplainLastReply(t *testing.T) {
	ctx := context.Background()
	curator := &MockCurator{}

	res := explainLastReply(ctx, curator, "g1", ExplainLastReplyArgs{})
	if res.Success {
		t.Error("Expected failure without user_id")
	}

	res = explainLastReply(ctx, curator, "g1", ExplainLastReplyArgs{UserID: "u1"})
	if res.Success || res.Error != "this member has not received a reply yet" {
		t.Errorf("Expected no-reply error, got %+v", res)
	}

	curator.Audit = &memory.ReplyAudit{
		Model:           "gpt-4o-mini",
		UsedUserContext: true,
		HistoryCount:    4,
		KnowledgeIDs:    []int64{5, 2},
		PromptExcerpt:   "when is movie night?",
		ResponseExcerpt: "Fridays!",
		LatencyMs:       420,
		CreatedAt:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	res = explainLastReply(ctx, curator, "g1", ExplainLastReplyArgs{UserID: "u1"})
	if !res.Success || res.Data == nil {
		t.Fatalf("Expected explanation, got %+v", res)
	}
	if res.Data.HistoryCount != 4 || len(res.Data.KnowledgeIDs) != 2 || res.Data.CreatedAt != "2024-05-01T12:00:00Z" {
		t.Errorf("Unexpected explanation: %+v", res.Data)
	}
}
