package httpapi

import (
	"time"

	"github.com/easeaico/guild-memory-agent/internal/memory"
)

// MentionRequest is the request body for POST /mentions.
type MentionRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Text        string `json:"text"`
}

// SummaryRequest is the request body for POST /summaries.
type SummaryRequest struct {
	UserID string   `json:"user_id"`
	Style  string   `json:"style"`
	Lines  []string `json:"lines"`
}

// SummaryResponse is the response body for POST /summaries.
type SummaryResponse struct {
	Summary string `json:"summary"`
}

// AddKnowledgeRequest is the request body for POST /knowledge.
type AddKnowledgeRequest struct {
	Text    string `json:"text"`
	AddedBy string `json:"added_by"`
}

// KnowledgeResponse is one knowledge entry.
type KnowledgeResponse struct {
	ID         int64     `json:"id"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
	AddedBy    string    `json:"added_by"`
	CreatedAt  time.Time `json:"created_at"`
}

func toKnowledge(entries []memory.KnowledgeEntry) []KnowledgeResponse {
	out := make([]KnowledgeResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, KnowledgeResponse{
			ID:         e.ID,
			Text:       e.Text,
			Confidence: e.Confidence,
			Source:     e.Source,
			AddedBy:    e.AddedBy,
			CreatedAt:  e.CreatedAt,
		})
	}
	return out
}

// PrivacyRequest is the request body for PUT /privacy. Omitted fields keep their value.
type PrivacyRequest struct {
	AllowStorage   *bool `json:"allow_storage"`
	AllowRecording *bool `json:"allow_recording"`
}

// PrivacyResponse describes a member's privacy settings.
type PrivacyResponse struct {
	AllowStorage   bool `json:"allow_storage"`
	AllowRecording bool `json:"allow_recording"`
}

// ContextRequest is the request body for PUT /context.
type ContextRequest struct {
	Context string `json:"context"`
}

// ContextResponse is the response body for GET /context.
type ContextResponse struct {
	Context string `json:"context"`
}

// WhyResponse explains the member's latest reply.
type WhyResponse struct {
	Model           string    `json:"model"`
	UsedUserContext bool      `json:"used_user_context"`
	HistoryCount    int       `json:"history_count"`
	KnowledgeIDs    []int64   `json:"knowledge_ids"`
	LatencyMs       int64     `json:"latency_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// SourcesResponse lists the knowledge behind the member's latest reply.
type SourcesResponse struct {
	KnowledgeIDs []int64 `json:"knowledge_ids"`
	Preview      string  `json:"preview"`
}

// FeedbackRequest is the request body for POST /feedback.
type FeedbackRequest struct {
	Rating string `json:"rating"`
	Reason string `json:"reason"`
}

// BlacklistRequest is the request body for POST /blacklist.
type BlacklistRequest struct {
	UserID  string `json:"user_id"`
	Reason  string `json:"reason"`
	AddedBy string `json:"added_by"`
}

// BlacklistResponse is one blacklist entry.
type BlacklistResponse struct {
	UserID    string    `json:"user_id"`
	Reason    string    `json:"reason"`
	AddedBy   string    `json:"added_by"`
	CreatedAt time.Time `json:"created_at"`
}

// VoiceNoteRequest is the request body for POST /users/:user/voice-notes.
type VoiceNoteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// VoiceNoteResponse is one voice note.
type VoiceNoteResponse struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func toVoiceNote(n memory.VoiceNote) VoiceNoteResponse {
	return VoiceNoteResponse{ID: n.ID, UserID: n.UserID, Title: n.Title, Content: n.Content, CreatedAt: n.CreatedAt}
}

// VoiceRecordingRequest is the request body for POST /users/:user/voice-recordings.
type VoiceRecordingRequest struct {
	Title    string `json:"title"`
	FileName string `json:"file_name"`
	FileURL  string `json:"file_url"`
}

// VoiceRecordingResponse is one stored recording reference.
type VoiceRecordingResponse struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title,omitempty"`
	FileName  string    `json:"file_name"`
	FileURL   string    `json:"file_url"`
	CreatedAt time.Time `json:"created_at"`
}

func toVoiceRecording(r memory.VoiceRecording) VoiceRecordingResponse {
	return VoiceRecordingResponse{ID: r.ID, UserID: r.UserID, Title: r.Title, FileName: r.FileName, FileURL: r.FileURL, CreatedAt: r.CreatedAt}
}

// StatusResponse is returned by endpoints without a payload.
type StatusResponse struct {
	Status string `json:"status"`
}
