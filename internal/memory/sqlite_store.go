package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
// A single connection is kept open so writes are serialized by the pool and
// ":memory:" databases behave like one database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore connected to the given database path.
// The path should be a file path (e.g., "./data.db") or ":memory:" for in-memory database.
// It opens the database connection and verifies connectivity with a ping.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Verify connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// InitSchema creates the necessary tables if they don't exist.
func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS knowledge_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id TEXT NOT NULL,
			text TEXT NOT NULL,
			text_norm TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 1.0,
			source TEXT NOT NULL DEFAULT 'manual',
			added_by TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_knowledge_norm ON knowledge_entries(guild_id, text_norm);

		CREATE TABLE IF NOT EXISTS user_contexts (
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			context TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (guild_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS privacy_settings (
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			allow_storage INTEGER NOT NULL DEFAULT 1,
			allow_recording INTEGER NOT NULL DEFAULT 1,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (guild_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS ai_blacklist (
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			reason TEXT,
			added_by TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (guild_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS conversation_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversation_user ON conversation_messages(guild_id, user_id, id);

		CREATE TABLE IF NOT EXISTS response_feedback (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			rating TEXT NOT NULL,
			reason TEXT,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS ai_reply_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			model TEXT NOT NULL,
			used_user_context INTEGER NOT NULL,
			history_count INTEGER NOT NULL,
			knowledge_ids TEXT,
			knowledge_preview TEXT,
			prompt_excerpt TEXT,
			response_excerpt TEXT,
			latency_ms INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_user ON ai_reply_audit(guild_id, user_id, id);

		CREATE TABLE IF NOT EXISTS voice_notes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			title TEXT,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_voice_notes_guild ON voice_notes(guild_id, id);

		CREATE TABLE IF NOT EXISTS voice_recordings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			title TEXT,
			file_name TEXT NOT NULL,
			file_url TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_voice_recordings_guild ON voice_recordings(guild_id, id);

		CREATE TABLE IF NOT EXISTS user_message_counts (
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			total_messages INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (guild_id, user_id)
		);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// FindKnowledge looks up an entry by its normalized text.
func (s *SQLiteStore) FindKnowledge(ctx context.Context, guildID, norm string) (KnowledgeEntry, bool, error) {
	query := `
		SELECT id, guild_id, text, confidence, source, added_by, created_at
		FROM knowledge_entries
		WHERE guild_id = ? AND text_norm = ?
	`

	entry, err := scanKnowledge(s.db.QueryRowContext(ctx, query, guildID, norm))
	if errors.Is(err, sql.ErrNoRows) {
		return KnowledgeEntry{}, false, nil
	}
	if err != nil {
		return KnowledgeEntry{}, false, fmt.Errorf("failed to find knowledge: %w", err)
	}
	return entry, true, nil
}

// InsertKnowledge stores a new knowledge entry.
func (s *SQLiteStore) InsertKnowledge(ctx context.Context, entry KnowledgeEntry) (int64, error) {
	query := `
		INSERT INTO knowledge_entries (guild_id, text, text_norm, confidence, source, added_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		entry.GuildID, entry.Text, NormalizeText(entry.Text), entry.Confidence,
		entry.Source, entry.AddedBy, toMillis(entry.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, ErrDuplicateKnowledge
		}
		return 0, fmt.Errorf("failed to insert knowledge: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read knowledge id: %w", err)
	}
	return id, nil
}

// UpdateKnowledge applies a merge result to an existing entry.
func (s *SQLiteStore) UpdateKnowledge(ctx context.Context, entry KnowledgeEntry) error {
	query := `
		UPDATE knowledge_entries
		SET confidence = ?, source = ?, added_by = ?, created_at = ?
		WHERE guild_id = ? AND id = ?
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.Confidence, entry.Source, entry.AddedBy, toMillis(entry.CreatedAt), entry.GuildID, entry.ID)
	if err != nil {
		return fmt.Errorf("failed to update knowledge: %w", err)
	}
	return nil
}

// ListKnowledge returns the most recently added entries first.
func (s *SQLiteStore) ListKnowledge(ctx context.Context, guildID string, limit int) ([]KnowledgeEntry, error) {
	query := `
		SELECT id, guild_id, text, confidence, source, added_by, created_at
		FROM knowledge_entries
		WHERE guild_id = ?
		ORDER BY id DESC
		LIMIT ?
	`
	return s.queryKnowledge(ctx, query, guildID, limit)
}

// SearchKnowledge performs a case-insensitive substring search.
func (s *SQLiteStore) SearchKnowledge(ctx context.Context, guildID, query string, limit int) ([]KnowledgeEntry, error) {
	stmt := `
		SELECT id, guild_id, text, confidence, source, added_by, created_at
		FROM knowledge_entries
		WHERE guild_id = ? AND text_norm LIKE ? ESCAPE '\'
		ORDER BY id DESC
		LIMIT ?
	`
	return s.queryKnowledge(ctx, stmt, guildID, likePattern(query), limit)
}

// ListKnowledgeForReview returns learned entries with low confidence.
func (s *SQLiteStore) ListKnowledgeForReview(ctx context.Context, guildID string, maxConfidence float64, limit int) ([]KnowledgeEntry, error) {
	query := `
		SELECT id, guild_id, text, confidence, source, added_by, created_at
		FROM knowledge_entries
		WHERE guild_id = ? AND source = 'learned' AND confidence <= ?
		ORDER BY confidence ASC, id DESC
		LIMIT ?
	`
	return s.queryKnowledge(ctx, query, guildID, maxConfidence, limit)
}

func (s *SQLiteStore) queryKnowledge(ctx context.Context, query string, args ...any) ([]KnowledgeEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge: %w", err)
	}
	defer rows.Close()

	var entries []KnowledgeEntry
	for rows.Next() {
		entry, err := scanKnowledge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan knowledge: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating knowledge: %w", err)
	}

	return entries, nil
}

// RemoveKnowledge deletes an entry and reports whether it existed.
func (s *SQLiteStore) RemoveKnowledge(ctx context.Context, guildID string, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_entries WHERE guild_id = ? AND id = ?`, guildID, id)
	if err != nil {
		return false, fmt.Errorf("failed to remove knowledge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to remove knowledge: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) CountKnowledge(ctx context.Context, guildID string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM knowledge_entries WHERE guild_id = ?`, guildID)
}

func (s *SQLiteStore) CountLowConfidenceKnowledge(ctx context.Context, guildID string, threshold float64) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM knowledge_entries WHERE guild_id = ? AND source = 'learned' AND confidence <= ?`, guildID, threshold)
}

// SetUserContext stores or replaces a member's free-text context.
func (s *SQLiteStore) SetUserContext(ctx context.Context, guildID, userID, text string) error {
	query := `
		INSERT INTO user_contexts (guild_id, user_id, context, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(guild_id, user_id)
		DO UPDATE SET context = excluded.context, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, guildID, userID, text, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to store user context: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUserContext(ctx context.Context, guildID, userID string) (string, bool, error) {
	var text string
	err := s.db.QueryRowContext(ctx,
		`SELECT context FROM user_contexts WHERE guild_id = ? AND user_id = ?`, guildID, userID).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to fetch user context: %w", err)
	}
	return text, true, nil
}

func (s *SQLiteStore) ClearUserContext(ctx context.Context, guildID, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_contexts WHERE guild_id = ? AND user_id = ?`, guildID, userID); err != nil {
		return fmt.Errorf("failed to clear user context: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CountContexts(ctx context.Context, guildID string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM user_contexts WHERE guild_id = ?`, guildID)
}

// GetPrivacy returns the member's settings, allowing everything when none are stored.
func (s *SQLiteStore) GetPrivacy(ctx context.Context, guildID, userID string) (PrivacySettings, error) {
	settings := DefaultPrivacy(guildID, userID)
	var storage, recording int
	err := s.db.QueryRowContext(ctx,
		`SELECT allow_storage, allow_recording FROM privacy_settings WHERE guild_id = ? AND user_id = ?`,
		guildID, userID).Scan(&storage, &recording)
	if errors.Is(err, sql.ErrNoRows) {
		return settings, nil
	}
	if err != nil {
		return settings, fmt.Errorf("failed to fetch privacy settings: %w", err)
	}
	settings.AllowStorage = storage != 0
	settings.AllowRecording = recording != 0
	return settings, nil
}

func (s *SQLiteStore) SetPrivacy(ctx context.Context, settings PrivacySettings) error {
	query := `
		INSERT INTO privacy_settings (guild_id, user_id, allow_storage, allow_recording, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, user_id)
		DO UPDATE SET allow_storage = excluded.allow_storage,
		              allow_recording = excluded.allow_recording,
		              updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, settings.GuildID, settings.UserID,
		boolToInt(settings.AllowStorage), boolToInt(settings.AllowRecording), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to store privacy settings: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddBlacklist(ctx context.Context, entry BlacklistEntry) error {
	query := `
		INSERT INTO ai_blacklist (guild_id, user_id, reason, added_by, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, user_id)
		DO UPDATE SET reason = excluded.reason, added_by = excluded.added_by, created_at = excluded.created_at
	`
	_, err := s.db.ExecContext(ctx, query, entry.GuildID, entry.UserID, entry.Reason, entry.AddedBy, toMillis(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to add blacklist entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RemoveBlacklist(ctx context.Context, guildID, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ai_blacklist WHERE guild_id = ? AND user_id = ?`, guildID, userID); err != nil {
		return fmt.Errorf("failed to remove blacklist entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) IsBlacklisted(ctx context.Context, guildID, userID string) (bool, error) {
	n, err := s.count(ctx, `SELECT COUNT(*) FROM ai_blacklist WHERE guild_id = ? AND user_id = ?`, guildID, userID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListBlacklist(ctx context.Context, guildID string, limit int) ([]BlacklistEntry, error) {
	query := `
		SELECT guild_id, user_id, COALESCE(reason, ''), added_by, created_at
		FROM ai_blacklist
		WHERE guild_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list blacklist: %w", err)
	}
	defer rows.Close()

	var entries []BlacklistEntry
	for rows.Next() {
		var e BlacklistEntry
		var createdAt int64
		if err := rows.Scan(&e.GuildID, &e.UserID, &e.Reason, &e.AddedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan blacklist entry: %w", err)
		}
		e.CreatedAt = fromMillis(createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blacklist: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) CountBlacklist(ctx context.Context, guildID string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM ai_blacklist WHERE guild_id = ?`, guildID)
}

func (s *SQLiteStore) AddConversationMessage(ctx context.Context, guildID, userID, role, content string) error {
	query := `
		INSERT INTO conversation_messages (guild_id, user_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, guildID, userID, role, content, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to add conversation message: %w", err)
	}
	return nil
}

// ListConversationMessages returns the newest messages in chronological order.
func (s *SQLiteStore) ListConversationMessages(ctx context.Context, guildID, userID string, limit int) ([]ConversationMessage, error) {
	query := `
		SELECT id, guild_id, user_id, role, content, created_at
		FROM conversation_messages
		WHERE guild_id = ? AND user_id = ?
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, guildID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation messages: %w", err)
	}
	defer rows.Close()

	var messages []ConversationMessage
	for rows.Next() {
		var m ConversationMessage
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.GuildID, &m.UserID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation message: %w", err)
		}
		m.CreatedAt = fromMillis(createdAt)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversation messages: %w", err)
	}

	reverseMessages(messages)
	return messages, nil
}

// TrimConversation deletes everything but the keepLimit newest rows by insertion order.
func (s *SQLiteStore) TrimConversation(ctx context.Context, guildID, userID string, keepLimit int) error {
	if keepLimit <= 0 {
		return s.ClearConversation(ctx, guildID, userID)
	}
	query := `
		DELETE FROM conversation_messages
		WHERE guild_id = ? AND user_id = ?
		AND id NOT IN (
			SELECT id FROM conversation_messages
			WHERE guild_id = ? AND user_id = ?
			ORDER BY id DESC
			LIMIT ?
		)
	`
	if _, err := s.db.ExecContext(ctx, query, guildID, userID, guildID, userID, keepLimit); err != nil {
		return fmt.Errorf("failed to trim conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearConversation(ctx context.Context, guildID, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_messages WHERE guild_id = ? AND user_id = ?`, guildID, userID); err != nil {
		return fmt.Errorf("failed to clear conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CountConversations(ctx context.Context, guildID string) (int, error) {
	return s.count(ctx, `SELECT COUNT(DISTINCT user_id) FROM conversation_messages WHERE guild_id = ?`, guildID)
}

func (s *SQLiteStore) SaveReplyAudit(ctx context.Context, audit ReplyAudit) error {
	query := `
		INSERT INTO ai_reply_audit (guild_id, user_id, model, used_user_context, history_count,
			knowledge_ids, knowledge_preview, prompt_excerpt, response_excerpt, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		audit.GuildID, audit.UserID, audit.Model, boolToInt(audit.UsedUserContext), audit.HistoryCount,
		encodeIDs(audit.KnowledgeIDs), audit.KnowledgePreview, audit.PromptExcerpt, audit.ResponseExcerpt,
		audit.LatencyMs, toMillis(audit.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save reply audit: %w", err)
	}
	return nil
}

// GetLatestReplyAudit returns the newest audit row by id.
func (s *SQLiteStore) GetLatestReplyAudit(ctx context.Context, guildID, userID string) (ReplyAudit, bool, error) {
	query := `
		SELECT id, guild_id, user_id, model, used_user_context, history_count,
		       COALESCE(knowledge_ids, ''), COALESCE(knowledge_preview, ''),
		       COALESCE(prompt_excerpt, ''), COALESCE(response_excerpt, ''), latency_ms, created_at
		FROM ai_reply_audit
		WHERE guild_id = ? AND user_id = ?
		ORDER BY id DESC
		LIMIT 1
	`
	var a ReplyAudit
	var usedContext int
	var ids string
	var createdAt int64
	err := s.db.QueryRowContext(ctx, query, guildID, userID).Scan(
		&a.ID, &a.GuildID, &a.UserID, &a.Model, &usedContext, &a.HistoryCount,
		&ids, &a.KnowledgePreview, &a.PromptExcerpt, &a.ResponseExcerpt, &a.LatencyMs, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ReplyAudit{}, false, nil
	}
	if err != nil {
		return ReplyAudit{}, false, fmt.Errorf("failed to fetch reply audit: %w", err)
	}
	a.UsedUserContext = usedContext != 0
	a.KnowledgeIDs = decodeIDs(ids)
	a.CreatedAt = fromMillis(createdAt)
	return a, true, nil
}

func (s *SQLiteStore) AddFeedback(ctx context.Context, record FeedbackRecord) error {
	query := `
		INSERT INTO response_feedback (guild_id, user_id, rating, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, record.GuildID, record.UserID, record.Rating, record.Reason, toMillis(record.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to add feedback: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetFeedbackStats(ctx context.Context, guildID string, since time.Time) (FeedbackStats, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN rating = 'good' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN rating = 'bad' THEN 1 ELSE 0 END), 0)
		FROM response_feedback
		WHERE guild_id = ? AND created_at >= ?
	`
	var stats FeedbackStats
	if err := s.db.QueryRowContext(ctx, query, guildID, since.UnixMilli()).Scan(&stats.Good, &stats.Bad); err != nil {
		return FeedbackStats{}, fmt.Errorf("failed to fetch feedback stats: %w", err)
	}
	return stats, nil
}

func (s *SQLiteStore) AddVoiceNote(ctx context.Context, note VoiceNote) (int64, error) {
	query := `
		INSERT INTO voice_notes (guild_id, user_id, title, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	res, err := s.db.ExecContext(ctx, query, note.GuildID, note.UserID, note.Title, note.Content, toMillis(note.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to add voice note: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read voice note id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) ListVoiceNotes(ctx context.Context, guildID string, limit int) ([]VoiceNote, error) {
	query := `
		SELECT id, guild_id, user_id, COALESCE(title, ''), content, created_at
		FROM voice_notes
		WHERE guild_id = ?
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list voice notes: %w", err)
	}
	defer rows.Close()

	var notes []VoiceNote
	for rows.Next() {
		n, err := scanVoiceNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan voice note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating voice notes: %w", err)
	}
	return notes, nil
}

func (s *SQLiteStore) RemoveVoiceNote(ctx context.Context, guildID string, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM voice_notes WHERE guild_id = ? AND id = ?`, guildID, id)
	if err != nil {
		return false, fmt.Errorf("failed to remove voice note: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to remove voice note: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) AddVoiceRecording(ctx context.Context, rec VoiceRecording) (int64, error) {
	query := `
		INSERT INTO voice_recordings (guild_id, user_id, title, file_name, file_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	res, err := s.db.ExecContext(ctx, query, rec.GuildID, rec.UserID, rec.Title, rec.FileName, rec.FileURL, toMillis(rec.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to add voice recording: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read voice recording id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) ListVoiceRecordings(ctx context.Context, guildID string, limit int) ([]VoiceRecording, error) {
	query := `
		SELECT id, guild_id, user_id, COALESCE(title, ''), file_name, file_url, created_at
		FROM voice_recordings
		WHERE guild_id = ?
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list voice recordings: %w", err)
	}
	defer rows.Close()

	var recs []VoiceRecording
	for rows.Next() {
		r, err := scanVoiceRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan voice recording: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating voice recordings: %w", err)
	}
	return recs, nil
}

func (s *SQLiteStore) GetVoiceRecording(ctx context.Context, guildID string, id int64) (VoiceRecording, bool, error) {
	query := `
		SELECT id, guild_id, user_id, COALESCE(title, ''), file_name, file_url, created_at
		FROM voice_recordings
		WHERE guild_id = ? AND id = ?
	`
	r, err := scanVoiceRecording(s.db.QueryRowContext(ctx, query, guildID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return VoiceRecording{}, false, nil
	}
	if err != nil {
		return VoiceRecording{}, false, fmt.Errorf("failed to get voice recording: %w", err)
	}
	return r, true, nil
}

func (s *SQLiteStore) IncrementMessageCount(ctx context.Context, guildID, userID string) error {
	query := `
		INSERT INTO user_message_counts (guild_id, user_id, total_messages, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(guild_id, user_id)
		DO UPDATE SET total_messages = total_messages + 1, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, guildID, userID, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to increment message count: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListTopChatters(ctx context.Context, guildID string, limit int) ([]UserMessageCount, error) {
	query := `
		SELECT user_id, total_messages
		FROM user_message_counts
		WHERE guild_id = ?
		ORDER BY total_messages DESC, updated_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list top chatters: %w", err)
	}
	defer rows.Close()

	var top []UserMessageCount
	for rows.Next() {
		var c UserMessageCount
		if err := rows.Scan(&c.UserID, &c.TotalMessages); err != nil {
			return nil, fmt.Errorf("failed to scan message count: %w", err)
		}
		top = append(top, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message counts: %w", err)
	}
	return top, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return n, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanKnowledge(row rowScanner) (KnowledgeEntry, error) {
	var e KnowledgeEntry
	var createdAt int64
	if err := row.Scan(&e.ID, &e.GuildID, &e.Text, &e.Confidence, &e.Source, &e.AddedBy, &createdAt); err != nil {
		return KnowledgeEntry{}, err
	}
	e.CreatedAt = fromMillis(createdAt)
	return e, nil
}

func scanVoiceNote(row rowScanner) (VoiceNote, error) {
	var n VoiceNote
	var createdAt int64
	if err := row.Scan(&n.ID, &n.GuildID, &n.UserID, &n.Title, &n.Content, &createdAt); err != nil {
		return VoiceNote{}, err
	}
	n.CreatedAt = fromMillis(createdAt)
	return n, nil
}

func scanVoiceRecording(row rowScanner) (VoiceRecording, error) {
	var r VoiceRecording
	var createdAt int64
	if err := row.Scan(&r.ID, &r.GuildID, &r.UserID, &r.Title, &r.FileName, &r.FileURL, &createdAt); err != nil {
		return VoiceRecording{}, err
	}
	r.CreatedAt = fromMillis(createdAt)
	return r, nil
}

func reverseMessages(messages []ConversationMessage) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}

var _ Store = (*SQLiteStore)(nil)
