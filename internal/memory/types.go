// Package memory provides the durable store behind the guild agent: the shared
// knowledge base, per-member conversation memory, privacy flags, activity
// counters, feedback and the reply audit trail.
package memory

import (
	"strings"
	"time"
)

// Knowledge sources.
const (
	SourceManual  = "manual"
	SourceLearned = "learned"
)

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Feedback ratings.
const (
	RatingGood = "good"
	RatingBad  = "bad"
)

// KnowledgeEntry is a single fact of a guild's shared knowledge base.
type KnowledgeEntry struct {
	ID         int64
	GuildID    string
	Text       string
	Confidence float64
	Source     string
	AddedBy    string
	CreatedAt  time.Time
}

// ConversationMessage is one turn of a member's stored conversation.
type ConversationMessage struct {
	ID        int64
	GuildID   string
	UserID    string
	Role      string
	Content   string
	CreatedAt time.Time
}

// ReplyAudit records how a reply was built so it can be explained later.
type ReplyAudit struct {
	ID               int64
	GuildID          string
	UserID           string
	Model            string
	UsedUserContext  bool
	HistoryCount     int
	KnowledgeIDs     []int64
	KnowledgePreview string
	PromptExcerpt    string
	ResponseExcerpt  string
	LatencyMs        int64
	CreatedAt        time.Time
}

// PrivacySettings gates every identity-linked write.
type PrivacySettings struct {
	GuildID        string
	UserID         string
	AllowStorage   bool
	AllowRecording bool
}

// DefaultPrivacy is returned for members that never changed their settings.
func DefaultPrivacy(guildID, userID string) PrivacySettings {
	return PrivacySettings{GuildID: guildID, UserID: userID, AllowStorage: true, AllowRecording: true}
}

// FeedbackRecord is a single good/bad rating of a reply.
type FeedbackRecord struct {
	ID        int64
	GuildID   string
	UserID    string
	Rating    string
	Reason    string
	CreatedAt time.Time
}

// FeedbackStats aggregates feedback over a time window.
type FeedbackStats struct {
	Good int
	Bad  int
}

// BlacklistEntry marks a member the agent must ignore.
type BlacklistEntry struct {
	GuildID   string
	UserID    string
	Reason    string
	AddedBy   string
	CreatedAt time.Time
}

// VoiceNote is a text note a member left for the guild's voice channels.
type VoiceNote struct {
	ID        int64
	GuildID   string
	UserID    string
	Title     string
	Content   string
	CreatedAt time.Time
}

// VoiceRecording points at an audio file a member uploaded. Only the file name
// and its URL are kept; the audio itself stays with the chat platform.
type VoiceRecording struct {
	ID        int64
	GuildID   string
	UserID    string
	Title     string
	FileName  string
	FileURL   string
	CreatedAt time.Time
}

// UserMessageCount is one row of the activity leaderboard.
type UserMessageCount struct {
	UserID        string
	TotalMessages int64
}

// NormalizeText returns the deduplication key of a knowledge text.
// Matching is exact after trimming and case folding; near-duplicate phrasing
// is intentionally not merged.
func NormalizeText(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
