// Package tools defines ADK tool declarations for the knowledge curator agent.
// The tools let an operator inspect and curate a guild's knowledge base and
// replay how the agent built its latest reply to a member.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"

	"github.com/easeaico/guild-memory-agent/internal/memory"
	"github.com/easeaico/guild-memory-agent/internal/service"
)

const (
	defaultLimit = 10
	maxLimit     = 50
)

// Curator is the part of the agent the tools operate on.
type Curator interface {
	SearchKnowledge(ctx context.Context, guildID, query string, limit int) ([]memory.KnowledgeEntry, error)
	AddManualKnowledge(ctx context.Context, guildID, addedBy, text string) (memory.KnowledgeEntry, error)
	ReviewKnowledge(ctx context.Context, guildID string, limit int) ([]memory.KnowledgeEntry, error)
	LatestReply(ctx context.Context, guildID, userID string) (memory.ReplyAudit, error)
}

// ToolsConfig holds dependencies for creating tools.
type ToolsConfig struct {
	Curator Curator
	// GuildID pins every tool to one guild. When empty the ADK app name is used.
	GuildID string
}

func (c ToolsConfig) guild(ctx tool.Context) string {
	if c.GuildID != "" {
		return c.GuildID
	}
	return ctx.AppName()
}

// --- Tool Input/Output Structs ---

// SearchKnowledgeArgs is the input for search_knowledge tool.
type SearchKnowledgeArgs struct {
	Query string `json:"query" jsonschema:"Text to look for in stored facts (case-insensitive substring)"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of results (default 10)"`
}

// AddKnowledgeArgs is the input for add_knowledge tool.
type AddKnowledgeArgs struct {
	Text string `json:"text" jsonschema:"The fact to store verbatim"`
}

// ReviewKnowledgeArgs is the input for review_knowledge tool.
type ReviewKnowledgeArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of entries (default 10)"`
}

// ExplainLastReplyArgs is the input for explain_last_reply tool.
type ExplainLastReplyArgs struct {
	UserID string `json:"user_id" jsonschema:"Member whose most recent reply should be explained"`
}

// KnowledgeItem is a knowledge entry as returned to the model.
type KnowledgeItem struct {
	ID         int64   `json:"id"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	AddedBy    string  `json:"added_by"`
}

// ReplyExplanation describes how a reply was built.
type ReplyExplanation struct {
	Model            string  `json:"model"`
	UsedUserContext  bool    `json:"used_user_context"`
	HistoryCount     int     `json:"history_count"`
	KnowledgeIDs     []int64 `json:"knowledge_ids"`
	KnowledgePreview string  `json:"knowledge_preview,omitempty"`
	Prompt           string  `json:"prompt"`
	Response         string  `json:"response"`
	LatencyMs        int64   `json:"latency_ms"`
	CreatedAt        string  `json:"created_at"`
}

// KnowledgeResult is the output of the knowledge tools.
type KnowledgeResult struct {
	Success bool            `json:"success"`
	Data    []KnowledgeItem `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ExplainResult is the output for explain_last_reply tool.
type ExplainResult struct {
	Success bool              `json:"success"`
	Data    *ReplyExplanation `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// --- Tool Handlers ---

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return min(limit, maxLimit)
}

func toItems(entries []memory.KnowledgeEntry) []KnowledgeItem {
	items := make([]KnowledgeItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, KnowledgeItem{
			ID:         e.ID,
			Text:       e.Text,
			Confidence: e.Confidence,
			Source:     e.Source,
			AddedBy:    e.AddedBy,
		})
	}
	return items
}

func searchKnowledge(ctx context.Context, c Curator, guildID string, args SearchKnowledgeArgs) KnowledgeResult {
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return KnowledgeResult{Success: false, Error: "query is required"}
	}
	entries, err := c.SearchKnowledge(ctx, guildID, query, clampLimit(args.Limit))
	if err != nil {
		return KnowledgeResult{Success: false, Error: fmt.Sprintf("failed to search knowledge: %v", err)}
	}
	if len(entries) == 0 {
		return KnowledgeResult{Success: true, Message: "No matching knowledge found."}
	}
	return KnowledgeResult{Success: true, Data: toItems(entries)}
}

func addKnowledge(ctx context.Context, c Curator, guildID, addedBy string, args AddKnowledgeArgs) KnowledgeResult {
	entry, err := c.AddManualKnowledge(ctx, guildID, addedBy, args.Text)
	if err != nil {
		return KnowledgeResult{Success: false, Error: fmt.Sprintf("failed to add knowledge: %v", err)}
	}
	return KnowledgeResult{Success: true, Data: toItems([]memory.KnowledgeEntry{entry}), Message: "Knowledge stored."}
}

func reviewKnowledge(ctx context.Context, c Curator, guildID string, args ReviewKnowledgeArgs) KnowledgeResult {
	entries, err := c.ReviewKnowledge(ctx, guildID, clampLimit(args.Limit))
	if err != nil {
		return KnowledgeResult{Success: false, Error: fmt.Sprintf("failed to load review queue: %v", err)}
	}
	if len(entries) == 0 {
		return KnowledgeResult{Success: true, Message: "Nothing to review."}
	}
	return KnowledgeResult{Success: true, Data: toItems(entries)}
}

func explainLastReply(ctx context.Context, c Curator, guildID string, args ExplainLastReplyArgs) ExplainResult {
	userID := strings.TrimSpace(args.UserID)
	if userID == "" {
		return ExplainResult{Success: false, Error: "user_id is required"}
	}
	audit, err := c.LatestReply(ctx, guildID, userID)
	if err != nil {
		if errors.Is(err, service.ErrNoReply) {
			return ExplainResult{Success: false, Error: "this member has not received a reply yet"}
		}
		return ExplainResult{Success: false, Error: fmt.Sprintf("failed to load reply audit: %v", err)}
	}
	return ExplainResult{Success: true, Data: &ReplyExplanation{
		Model:            audit.Model,
		UsedUserContext:  audit.UsedUserContext,
		HistoryCount:     audit.HistoryCount,
		KnowledgeIDs:     audit.KnowledgeIDs,
		KnowledgePreview: audit.KnowledgePreview,
		Prompt:           audit.PromptExcerpt,
		Response:         audit.ResponseExcerpt,
		LatencyMs:        audit.LatencyMs,
		CreatedAt:        audit.CreatedAt.UTC().Format(time.RFC3339),
	}}
}

func createSearchKnowledgeTool(cfg ToolsConfig) (tool.Tool, error) {
	handler := func(ctx tool.Context, args SearchKnowledgeArgs) (KnowledgeResult, error) {
		return searchKnowledge(ctx, cfg.Curator, cfg.guild(ctx), args), nil
	}

	return functiontool.New(functiontool.Config{
		Name:        "search_knowledge",
		Description: "Searches the guild knowledge base for facts containing the query. Returns id, text, confidence and source of each match.",
	}, handler)
}

func createAddKnowledgeTool(cfg ToolsConfig) (tool.Tool, error) {
	handler := func(ctx tool.Context, args AddKnowledgeArgs) (KnowledgeResult, error) {
		return addKnowledge(ctx, cfg.Curator, cfg.guild(ctx), ctx.UserID(), args), nil
	}

	return functiontool.New(functiontool.Config{
		Name:        "add_knowledge",
		Description: "Stores a curated fact with full confidence. An existing fact with the same wording is promoted instead of duplicated.",
	}, handler)
}

func createReviewKnowledgeTool(cfg ToolsConfig) (tool.Tool, error) {
	handler := func(ctx tool.Context, args ReviewKnowledgeArgs) (KnowledgeResult, error) {
		return reviewKnowledge(ctx, cfg.Curator, cfg.guild(ctx), args), nil
	}

	return functiontool.New(functiontool.Config{
		Name:        "review_knowledge",
		Description: "Lists automatically learned facts with low confidence, least confident first, so they can be confirmed or removed.",
	}, handler)
}

func createExplainLastReplyTool(cfg ToolsConfig) (tool.Tool, error) {
	handler := func(ctx tool.Context, args ExplainLastReplyArgs) (ExplainResult, error) {
		return explainLastReply(ctx, cfg.Curator, cfg.guild(ctx), args), nil
	}

	return functiontool.New(functiontool.Config{
		Name:        "explain_last_reply",
		Description: "Explains the latest reply the agent gave a member: model, knowledge used, whether member context and history were included, and excerpts.",
	}, handler)
}

// BuildTools creates all curator tools with the given configuration.
func BuildTools(cfg ToolsConfig) ([]tool.Tool, error) {
	if cfg.Curator == nil {
		return nil, errors.New("tools: curator is required")
	}

	constructors := []struct {
		name   string
		create func(ToolsConfig) (tool.Tool, error)
	}{
		{"search_knowledge", createSearchKnowledgeTool},
		{"add_knowledge", createAddKnowledgeTool},
		{"review_knowledge", createReviewKnowledgeTool},
		{"explain_last_reply", createExplainLastReplyTool},
	}

	tools := make([]tool.Tool, 0, len(constructors))
	for _, c := range constructors {
		t, err := c.create(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s tool: %w", c.name, err)
		}
		tools = append(tools, t)
	}
	return tools, nil
}

var _ Curator = (*service.Agent)(nil)
