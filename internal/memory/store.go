package memory

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateKnowledge is returned by InsertKnowledge when an entry with the same
// normalized text already exists in the guild.
var ErrDuplicateKnowledge = errors.New("knowledge entry already exists")

// Store defines the contract for all persistence operations.
// Every query is scoped by guild, and by member where the data is identity-linked.
type Store interface {
	// FindKnowledge looks up the entry whose normalized text equals norm.
	FindKnowledge(ctx context.Context, guildID, norm string) (KnowledgeEntry, bool, error)

	// InsertKnowledge adds a new entry and returns its id.
	// It fails with ErrDuplicateKnowledge when the normalized text is taken.
	InsertKnowledge(ctx context.Context, entry KnowledgeEntry) (int64, error)

	// UpdateKnowledge overwrites confidence, source, added_by and created_at of entry.ID.
	UpdateKnowledge(ctx context.Context, entry KnowledgeEntry) error

	// ListKnowledge returns up to limit entries, most recently added first.
	ListKnowledge(ctx context.Context, guildID string, limit int) ([]KnowledgeEntry, error)

	// SearchKnowledge returns entries containing query, case-insensitively.
	SearchKnowledge(ctx context.Context, guildID, query string, limit int) ([]KnowledgeEntry, error)

	// ListKnowledgeForReview returns learned entries at or below maxConfidence, least confident first.
	ListKnowledgeForReview(ctx context.Context, guildID string, maxConfidence float64, limit int) ([]KnowledgeEntry, error)

	RemoveKnowledge(ctx context.Context, guildID string, id int64) (bool, error)
	CountKnowledge(ctx context.Context, guildID string) (int, error)
	CountLowConfidenceKnowledge(ctx context.Context, guildID string, threshold float64) (int, error)

	SetUserContext(ctx context.Context, guildID, userID, text string) error
	GetUserContext(ctx context.Context, guildID, userID string) (string, bool, error)
	ClearUserContext(ctx context.Context, guildID, userID string) error
	CountContexts(ctx context.Context, guildID string) (int, error)

	GetPrivacy(ctx context.Context, guildID, userID string) (PrivacySettings, error)
	SetPrivacy(ctx context.Context, settings PrivacySettings) error

	AddBlacklist(ctx context.Context, entry BlacklistEntry) error
	RemoveBlacklist(ctx context.Context, guildID, userID string) error
	IsBlacklisted(ctx context.Context, guildID, userID string) (bool, error)
	ListBlacklist(ctx context.Context, guildID string, limit int) ([]BlacklistEntry, error)
	CountBlacklist(ctx context.Context, guildID string) (int, error)

	AddConversationMessage(ctx context.Context, guildID, userID, role, content string) error

	// ListConversationMessages returns up to limit most recent messages, oldest first.
	ListConversationMessages(ctx context.Context, guildID, userID string, limit int) ([]ConversationMessage, error)

	// TrimConversation keeps the keepLimit most recently inserted messages.
	// keepLimit <= 0 deletes the whole conversation.
	TrimConversation(ctx context.Context, guildID, userID string, keepLimit int) error
	ClearConversation(ctx context.Context, guildID, userID string) error

	// CountConversations counts members with at least one stored message.
	CountConversations(ctx context.Context, guildID string) (int, error)

	SaveReplyAudit(ctx context.Context, audit ReplyAudit) error
	GetLatestReplyAudit(ctx context.Context, guildID, userID string) (ReplyAudit, bool, error)

	AddFeedback(ctx context.Context, record FeedbackRecord) error
	GetFeedbackStats(ctx context.Context, guildID string, since time.Time) (FeedbackStats, error)

	// AddVoiceNote stores a note and returns its id.
	AddVoiceNote(ctx context.Context, note VoiceNote) (int64, error)

	// ListVoiceNotes returns up to limit notes of the guild, newest first.
	ListVoiceNotes(ctx context.Context, guildID string, limit int) ([]VoiceNote, error)
	RemoveVoiceNote(ctx context.Context, guildID string, id int64) (bool, error)

	// AddVoiceRecording stores a recording reference and returns its id.
	AddVoiceRecording(ctx context.Context, rec VoiceRecording) (int64, error)

	// ListVoiceRecordings returns up to limit recordings of the guild, newest first.
	ListVoiceRecordings(ctx context.Context, guildID string, limit int) ([]VoiceRecording, error)
	GetVoiceRecording(ctx context.Context, guildID string, id int64) (VoiceRecording, bool, error)

	IncrementMessageCount(ctx context.Context, guildID, userID string) error
	ListTopChatters(ctx context.Context, guildID string, limit int) ([]UserMessageCount, error)

	// Close releases any resources held by the store.
	Close() error
}
