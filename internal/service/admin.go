package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/easeaico/guild-memory-agent/internal/memory"
)

var (
	// ErrStorageDenied is returned when a member opted out of storage.
	ErrStorageDenied = errors.New("storage is disabled for this member")

	// ErrContextTooLong is returned for member contexts above the configured length.
	ErrContextTooLong = errors.New("context text is too long")

	// ErrInvalidRating is returned for feedback that is neither good nor bad.
	ErrInvalidRating = errors.New("rating must be good or bad")

	// ErrNoReply is returned when a member has no audited reply yet.
	ErrNoReply = errors.New("no reply recorded yet")
)

const topChattersLimit = 5

// AddManualKnowledge stores a curated fact with full confidence, skipping
// the fact check. A learned duplicate is promoted to manual.
func (a *Agent) AddManualKnowledge(ctx context.Context, guildID, addedBy, text string) (memory.KnowledgeEntry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return memory.KnowledgeEntry{}, ErrEmptyKnowledge
	}
	if len([]rune(text)) > a.ux.MaxKnowledgeLength {
		return memory.KnowledgeEntry{}, fmt.Errorf("%w: max %d characters", ErrKnowledgeTooLong, a.ux.MaxKnowledgeLength)
	}
	return a.merger.Merge(ctx, guildID, addedBy, text, 1.0, memory.SourceManual)
}

// ListKnowledge returns the newest entries first.
func (a *Agent) ListKnowledge(ctx context.Context, guildID string, limit int) ([]memory.KnowledgeEntry, error) {
	return a.store.ListKnowledge(ctx, guildID, limit)
}

// SearchKnowledge finds entries containing query.
func (a *Agent) SearchKnowledge(ctx context.Context, guildID, query string, limit int) ([]memory.KnowledgeEntry, error) {
	return a.store.SearchKnowledge(ctx, guildID, strings.TrimSpace(query), limit)
}

// ReviewKnowledge lists learned entries at or below the low-confidence threshold.
func (a *Agent) ReviewKnowledge(ctx context.Context, guildID string, limit int) ([]memory.KnowledgeEntry, error) {
	return a.store.ListKnowledgeForReview(ctx, guildID, a.ux.LowConfidenceThreshold, limit)
}

// RemoveKnowledge deletes an entry and reports whether it existed.
func (a *Agent) RemoveKnowledge(ctx context.Context, guildID string, id int64) (bool, error) {
	return a.store.RemoveKnowledge(ctx, guildID, id)
}

// Privacy returns a member's settings, defaulting to allow.
func (a *Agent) Privacy(ctx context.Context, guildID, userID string) (memory.PrivacySettings, error) {
	return a.store.GetPrivacy(ctx, guildID, userID)
}

// SetPrivacy replaces a member's settings.
func (a *Agent) SetPrivacy(ctx context.Context, settings memory.PrivacySettings) error {
	return a.store.SetPrivacy(ctx, settings)
}

// SetUserContext stores free text the agent may use when answering the member.
func (a *Agent) SetUserContext(ctx context.Context, guildID, userID, text string) error {
	privacy, err := a.store.GetPrivacy(ctx, guildID, userID)
	if err != nil {
		return err
	}
	if !privacy.AllowStorage {
		return ErrStorageDenied
	}
	if len([]rune(text)) > a.ux.MaxContextLength {
		return fmt.Errorf("%w: max %d characters", ErrContextTooLong, a.ux.MaxContextLength)
	}
	return a.store.SetUserContext(ctx, guildID, userID, text)
}

// UserContext returns the member's stored context, if any.
func (a *Agent) UserContext(ctx context.Context, guildID, userID string) (string, bool, error) {
	return a.store.GetUserContext(ctx, guildID, userID)
}

// ClearUserContext removes the member's stored context.
func (a *Agent) ClearUserContext(ctx context.Context, guildID, userID string) error {
	return a.store.ClearUserContext(ctx, guildID, userID)
}

// Blacklist makes the agent ignore a member.
func (a *Agent) Blacklist(ctx context.Context, guildID, userID, reason, addedBy string) error {
	return a.store.AddBlacklist(ctx, memory.BlacklistEntry{
		GuildID:   guildID,
		UserID:    userID,
		Reason:    strings.TrimSpace(reason),
		AddedBy:   addedBy,
		CreatedAt: time.Now(),
	})
}

// Unblacklist lifts a blacklist entry.
func (a *Agent) Unblacklist(ctx context.Context, guildID, userID string) error {
	return a.store.RemoveBlacklist(ctx, guildID, userID)
}

// ListBlacklist returns blacklisted members.
func (a *Agent) ListBlacklist(ctx context.Context, guildID string, limit int) ([]memory.BlacklistEntry, error) {
	return a.store.ListBlacklist(ctx, guildID, limit)
}

// LatestReply returns the audit of the member's most recent reply.
func (a *Agent) LatestReply(ctx context.Context, guildID, userID string) (memory.ReplyAudit, error) {
	audit, ok, err := a.store.GetLatestReplyAudit(ctx, guildID, userID)
	if err != nil {
		return memory.ReplyAudit{}, err
	}
	if !ok {
		return memory.ReplyAudit{}, ErrNoReply
	}
	return audit, nil
}

// RateLastReply records good or bad feedback on the member's latest reply.
func (a *Agent) RateLastReply(ctx context.Context, guildID, userID, rating, reason string) error {
	privacy, err := a.store.GetPrivacy(ctx, guildID, userID)
	if err != nil {
		return err
	}
	if !privacy.AllowStorage {
		return ErrStorageDenied
	}

	rating = strings.ToLower(strings.TrimSpace(rating))
	if rating != memory.RatingGood && rating != memory.RatingBad {
		return ErrInvalidRating
	}
	if _, err := a.LatestReply(ctx, guildID, userID); err != nil {
		return err
	}

	return a.store.AddFeedback(ctx, memory.FeedbackRecord{
		GuildID:   guildID,
		UserID:    userID,
		Rating:    rating,
		Reason:    reason,
		CreatedAt: time.Now(),
	})
}

// GuildStats summarizes what the agent stores for a guild.
type GuildStats struct {
	Knowledge     int                       `json:"knowledge"`
	LowConfidence int                       `json:"low_confidence"`
	Contexts      int                       `json:"contexts"`
	Conversations int                       `json:"conversations"`
	Blacklisted   int                       `json:"blacklisted"`
	FeedbackGood  int                       `json:"feedback_good"`
	FeedbackBad   int                       `json:"feedback_bad"`
	TopChatters   []memory.UserMessageCount `json:"top_chatters"`
}

// Stats collects the guild counters. Feedback is counted over the configured window.
func (a *Agent) Stats(ctx context.Context, guildID string) (GuildStats, error) {
	var s GuildStats
	var err error

	if s.Knowledge, err = a.store.CountKnowledge(ctx, guildID); err != nil {
		return s, err
	}
	if s.LowConfidence, err = a.store.CountLowConfidenceKnowledge(ctx, guildID, a.ux.LowConfidenceThreshold); err != nil {
		return s, err
	}
	if s.Contexts, err = a.store.CountContexts(ctx, guildID); err != nil {
		return s, err
	}
	if s.Conversations, err = a.store.CountConversations(ctx, guildID); err != nil {
		return s, err
	}
	if s.Blacklisted, err = a.store.CountBlacklist(ctx, guildID); err != nil {
		return s, err
	}

	feedback, err := a.store.GetFeedbackStats(ctx, guildID, time.Now().Add(-a.ux.FeedbackWindow))
	if err != nil {
		return s, err
	}
	s.FeedbackGood, s.FeedbackBad = feedback.Good, feedback.Bad

	if s.TopChatters, err = a.store.ListTopChatters(ctx, guildID, topChattersLimit); err != nil {
		return s, err
	}
	return s, nil
}
