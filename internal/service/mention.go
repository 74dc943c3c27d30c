package service

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Mention outcomes.
const (
	StatusReplied  = "replied"
	StatusIgnored  = "ignored"
	StatusCooldown = "cooldown"
)

const greetingPrompt = "Say hello and ask what's up."

// Mention is an inbound message addressed to the agent.
type Mention struct {
	GuildID     string
	UserID      string
	DisplayName string
	Text        string
}

// MentionResult is what the chat surface should post back. An empty Reply means stay silent.
type MentionResult struct {
	Reply  string `json:"reply,omitempty"`
	Status string `json:"status"`
}

// HandleMention gates a mention through the blacklist and the cooldown,
// answers it and records the exchange in conversation memory.
func (a *Agent) HandleMention(ctx context.Context, m Mention) MentionResult {
	logger := a.logger.With(zap.String("guild_id", m.GuildID), zap.String("user_id", m.UserID))

	blocked, err := a.store.IsBlacklisted(ctx, m.GuildID, m.UserID)
	if err != nil {
		logger.Error("failed to check blacklist", zap.Error(err))
		return MentionResult{Reply: a.ux.ErrorReply, Status: StatusReplied}
	}
	if blocked {
		return MentionResult{Status: StatusIgnored}
	}

	if !a.limiter.Allow(m.GuildID, m.UserID) {
		return MentionResult{Reply: strings.TrimSpace(a.ux.CooldownReply), Status: StatusCooldown}
	}

	userText := strings.TrimSpace(m.Text)
	prompt := userText
	if prompt == "" {
		prompt = greetingPrompt
	}
	prompt = truncate(prompt, a.ux.MaxUserMessageLength)

	a.countMessage(ctx, m.GuildID, m.UserID)

	name := m.DisplayName
	if isBlank(name) {
		name = m.UserID
	}
	reply := a.GenerateReply(ctx, m.GuildID, m.UserID, name, prompt)

	// Record even when the caller has already gone away.
	if err := a.conversation.Record(context.WithoutCancel(ctx), m.GuildID, m.UserID, truncate(userText, a.ux.MaxUserMessageLength), &reply); err != nil {
		logger.Warn("failed to record conversation", zap.Error(err))
	}

	return MentionResult{Reply: reply, Status: StatusReplied}
}

// countMessage bumps the activity counter of members who allow storage.
func (a *Agent) countMessage(ctx context.Context, guildID, userID string) {
	privacy, err := a.store.GetPrivacy(ctx, guildID, userID)
	if err != nil {
		a.logger.Warn("failed to load privacy settings", zap.Error(err))
		return
	}
	if !privacy.AllowStorage {
		return
	}
	if err := a.store.IncrementMessageCount(ctx, guildID, userID); err != nil {
		a.logger.Warn("failed to count message", zap.Error(err))
	}
}
