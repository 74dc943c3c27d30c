package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easeaico/guild-memory-agent/internal/config"
	"github.com/easeaico/guild-memory-agent/internal/memory"
)

func TestAddManualKnowledge(t *testing.T) {
	agent, store := newTestAgent(t, &scriptedClient{}, func(cfg *config.Config) {
		cfg.UX.MaxKnowledgeLength = 40
	})
	ctx := context.Background()

	_, err := agent.AddManualKnowledge(ctx, "g1", "mod", "   ")
	assert.ErrorIs(t, err, ErrEmptyKnowledge)

	_, err = agent.AddManualKnowledge(ctx, "g1", "mod", strings.Repeat("x", 41))
	assert.ErrorIs(t, err, ErrKnowledgeTooLong)

	// A learned fact is promoted when a moderator confirms it.
	learned, err := agent.merger.Merge(ctx, "g1", "bot", "Rules are pinned in #info", 0.6, memory.SourceLearned)
	require.NoError(t, err)

	entry, err := agent.AddManualKnowledge(ctx, "g1", "mod", "  rules are pinned in #INFO ")
	require.NoError(t, err)
	assert.Equal(t, learned.ID, entry.ID)
	assert.Equal(t, memory.SourceManual, entry.Source)
	assert.InDelta(t, 1.0, entry.Confidence, 1e-9)
	assert.Equal(t, "mod", entry.AddedBy)

	count, err := store.CountKnowledge(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReviewKnowledge(t *testing.T) {
	agent, _ := newTestAgent(t, &scriptedClient{}, func(cfg *config.Config) {
		cfg.UX.LowConfidenceThreshold = 0.65
	})
	ctx := context.Background()

	_, err := agent.merger.Merge(ctx, "g1", "bot", "shaky", 0.4, memory.SourceLearned)
	require.NoError(t, err)
	_, err = agent.merger.Merge(ctx, "g1", "bot", "solid", 0.9, memory.SourceLearned)
	require.NoError(t, err)
	_, err = agent.AddManualKnowledge(ctx, "g1", "mod", "curated")
	require.NoError(t, err)

	review, err := agent.ReviewKnowledge(ctx, "g1", 10)
	require.NoError(t, err)
	require.Len(t, review, 1)
	assert.Equal(t, "shaky", review[0].Text)

	removed, err := agent.RemoveKnowledge(ctx, "g1", review[0].ID)
	require.NoError(t, err)
	assert.True(t, removed)

	found, err := agent.SearchKnowledge(ctx, "g1", " SOL ", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "solid", found[0].Text)
}

func TestSetUserContext(t *testing.T) {
	agent, _ := newTestAgent(t, &scriptedClient{}, func(cfg *config.Config) {
		cfg.UX.MaxContextLength = 10
	})
	ctx := context.Background()

	assert.ErrorIs(t, agent.SetUserContext(ctx, "g1", "u1", "far too long text"), ErrContextTooLong)
	require.NoError(t, agent.SetUserContext(ctx, "g1", "u1", "Drummer"))

	text, ok, err := agent.UserContext(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Drummer", text)

	require.NoError(t, agent.SetPrivacy(ctx, memory.PrivacySettings{GuildID: "g1", UserID: "u1", AllowRecording: true}))
	assert.ErrorIs(t, agent.SetUserContext(ctx, "g1", "u1", "Singer"), ErrStorageDenied)

	require.NoError(t, agent.ClearUserContext(ctx, "g1", "u1"))
	_, ok, err = agent.UserContext(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRateLastReply(t *testing.T) {
	agent, _ := newTestAgent(t, &scriptedClient{respond: replies("hello", "")}, nil)
	ctx := context.Background()

	assert.ErrorIs(t, agent.RateLastReply(ctx, "g1", "u1", "good", ""), ErrNoReply)

	agent.GenerateReply(ctx, "g1", "u1", "Ana", "hi")

	assert.ErrorIs(t, agent.RateLastReply(ctx, "g1", "u1", "meh", ""), ErrInvalidRating)
	require.NoError(t, agent.RateLastReply(ctx, "g1", "u1", " GOOD ", "helpful"))
	require.NoError(t, agent.RateLastReply(ctx, "g1", "u1", "bad", ""))

	stats, err := agent.Stats(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FeedbackGood)
	assert.Equal(t, 1, stats.FeedbackBad)

	require.NoError(t, agent.SetPrivacy(ctx, memory.PrivacySettings{GuildID: "g1", UserID: "u1"}))
	assert.ErrorIs(t, agent.RateLastReply(ctx, "g1", "u1", "good", ""), ErrStorageDenied)
}

func TestStats(t *testing.T) {
	agent, _ := newTestAgent(t, &scriptedClient{respond: replies("hey", "")}, nil)
	ctx := context.Background()

	_, err := agent.AddManualKnowledge(ctx, "g1", "mod", "fact one")
	require.NoError(t, err)
	_, err = agent.merger.Merge(ctx, "g1", "bot", "fact two", 0.3, memory.SourceLearned)
	require.NoError(t, err)
	require.NoError(t, agent.SetUserContext(ctx, "g1", "u1", "ctx"))
	require.NoError(t, agent.Blacklist(ctx, "g1", "troll", "spam", "mod"))

	agent.HandleMention(ctx, Mention{GuildID: "g1", UserID: "u1", Text: "a"})
	agent.HandleMention(ctx, Mention{GuildID: "g1", UserID: "u2", Text: "b"})
	agent.HandleMention(ctx, Mention{GuildID: "g1", UserID: "u2", Text: "c"})

	stats, err := agent.Stats(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Knowledge)
	assert.Equal(t, 1, stats.LowConfidence)
	assert.Equal(t, 1, stats.Contexts)
	assert.Equal(t, 2, stats.Conversations)
	assert.Equal(t, 1, stats.Blacklisted)
	require.Len(t, stats.TopChatters, 2)
	assert.Equal(t, "u2", stats.TopChatters[0].UserID)

	list, err := agent.ListBlacklist(ctx, "g1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NoError(t, agent.Unblacklist(ctx, "g1", "troll"))

	require.NoError(t, agent.Conversation().Forget(ctx, "g1", "u2"))
	stats, err = agent.Stats(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Conversations)
	assert.Zero(t, stats.Blacklisted)
}
