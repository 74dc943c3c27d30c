package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/easeaico/guild-memory-agent/internal/config"
	"github.com/easeaico/guild-memory-agent/internal/llm"
	"github.com/easeaico/guild-memory-agent/internal/memory"
	"github.com/easeaico/guild-memory-agent/internal/service"
	"github.com/easeaico/guild-memory-agent/internal/worker"
)

// echoClient answers every completion with a fixed text.
type echoClient struct{ reply string }

func (c echoClient) Complete(ctx context.Context, req llm.Request) (string, error) {
	return c.reply, nil
}

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()

	store, err := memory.NewSQLiteStore(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InitSchema(ctx))

	pool := worker.New(1, 8, zaptest.NewLogger(t))
	t.Cleanup(func() { pool.Close(context.Background()) })

	cfg := config.Default()
	cfg.LLM.APIKey = "test"
	cfg.UX.Cooldown = 0
	cfg.UX.MaxKnowledgeLength = 50

	reg := prometheus.NewRegistry()
	agent := service.NewAgent(service.Deps{
		Config:     cfg,
		Store:      store,
		Client:     echoClient{reply: "Hello from the agent"},
		Pool:       pool,
		Registerer: reg,
		Logger:     zaptest.NewLogger(t),
	})

	server, err := NewServer(agent, reg, zaptest.NewLogger(t), cfg.HTTP)
	require.NoError(t, err)
	return server
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer(t *testing.T) {
	t.Run("returns error when agent is nil", func(t *testing.T) {
		_, err := NewServer(nil, nil, zap.NewNop(), config.HTTPConfig{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "agent cannot be nil")
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		pool := worker.New(1, 1, zap.NewNop())
		t.Cleanup(func() { pool.Close(context.Background()) })
		agent := service.NewAgent(service.Deps{Config: config.Default(), Pool: pool})
		_, err := NewServer(agent, nil, nil, config.HTTPConfig{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})
}

func TestHandleMention(t *testing.T) {
	s := setupTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/guilds/g1/mentions", MentionRequest{UserID: "u1", DisplayName: "Ana", Text: "hi"})
	assert.Equal(t, http.StatusOK, rec.Code)
	res := decode[service.MentionResult](t, rec)
	assert.Equal(t, service.StatusReplied, res.Status)
	assert.Equal(t, "Hello from the agent", res.Reply)

	rec = do(t, s, http.MethodPost, "/api/v1/guilds/g1/mentions", MentionRequest{Text: "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/guilds/g1/users/u1/why", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	why := decode[WhyResponse](t, rec)
	assert.Equal(t, "gpt-4o-mini", why.Model)
	assert.Empty(t, why.KnowledgeIDs)

	rec = do(t, s, http.MethodGet, "/api/v1/guilds/g1/users/nobody/why", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSummary(t *testing.T) {
	s := setupTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/guilds/g1/summaries", SummaryRequest{UserID: "u1", Lines: []string{"a", "b"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello from the agent", decode[SummaryResponse](t, rec).Summary)

	rec = do(t, s, http.MethodPost, "/api/v1/guilds/g1/summaries", SummaryRequest{UserID: "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKnowledgeEndpoints(t *testing.T) {
	s := setupTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/guilds/g1/knowledge", AddKnowledgeRequest{Text: "Movie night is on Fridays", AddedBy: "mod"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[KnowledgeResponse](t, rec)
	assert.Equal(t, memory.SourceManual, created.Source)

	rec = do(t, s, http.MethodPost, "/api/v1/guilds/g1/knowledge", AddKnowledgeRequest{Text: strings.Repeat("x", 51), AddedBy: "mod"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/guilds/g1/knowledge", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]KnowledgeResponse](t, rec), 1)

	rec = do(t, s, http.MethodGet, "/api/v1/guilds/g1/knowledge/search?q=movie", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]KnowledgeResponse](t, rec), 1)

	rec = do(t, s, http.MethodGet, "/api/v1/guilds/g1/knowledge/search", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/guilds/g1/knowledge/review", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]KnowledgeResponse](t, rec))

	path := "/api/v1/guilds/g1/knowledge/" + strconv.FormatInt(created.ID, 10)
	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodDelete, "/api/v1/guilds/g1/knowledge/abc", nil).Code)
}

func TestPrivacyAndContext(t *testing.T) {
	s := setupTestServer(t)
	base := "/api/v1/guilds/g1/users/u1"

	rec := do(t, s, http.MethodGet, base+"/privacy", nil)
	assert.Equal(t, PrivacyResponse{AllowStorage: true, AllowRecording: true}, decode[PrivacyResponse](t, rec))

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, base+"/context", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPut, base+"/context", ContextRequest{Context: "Plays bass"}).Code)

	rec = do(t, s, http.MethodGet, base+"/context", nil)
	assert.Equal(t, "Plays bass", decode[ContextResponse](t, rec).Context)

	deny := false
	rec = do(t, s, http.MethodPut, base+"/privacy", PrivacyRequest{AllowStorage: &deny})
	assert.Equal(t, PrivacyResponse{AllowStorage: false, AllowRecording: true}, decode[PrivacyResponse](t, rec))

	assert.Equal(t, http.StatusForbidden, do(t, s, http.MethodPut, base+"/context", ContextRequest{Context: "Sings"}).Code)
	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, base+"/context", nil).Code)
	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, base+"/conversation", nil).Code)
}

func TestFeedbackAndStats(t *testing.T) {
	s := setupTestServer(t)
	base := "/api/v1/guilds/g1/users/u1"

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPost, base+"/feedback", FeedbackRequest{Rating: "good"}).Code)

	do(t, s, http.MethodPost, "/api/v1/guilds/g1/mentions", MentionRequest{UserID: "u1", Text: "hi"})

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, base+"/feedback", FeedbackRequest{Rating: "meh"}).Code)
	assert.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, base+"/feedback", FeedbackRequest{Rating: "good"}).Code)

	rec := do(t, s, http.MethodGet, base+"/sources", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/guilds/g1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[service.GuildStats](t, rec)
	assert.Equal(t, 1, stats.FeedbackGood)
	assert.Equal(t, 1, stats.Conversations)
}

func TestBlacklistEndpoints(t *testing.T) {
	s := setupTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/guilds/g1/blacklist", BlacklistRequest{UserID: "troll", Reason: "spam", AddedBy: "mod"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/guilds/g1/blacklist", nil)
	list := decode[[]BlacklistResponse](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "troll", list[0].UserID)

	rec = do(t, s, http.MethodPost, "/api/v1/guilds/g1/mentions", MentionRequest{UserID: "troll", Text: "hi"})
	assert.Equal(t, service.StatusIgnored, decode[service.MentionResult](t, rec).Status)

	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, "/api/v1/guilds/g1/blacklist/troll", nil).Code)
	rec = do(t, s, http.MethodPost, "/api/v1/guilds/g1/mentions", MentionRequest{UserID: "troll", Text: "hi"})
	assert.Equal(t, service.StatusReplied, decode[service.MentionResult](t, rec).Status)
}

func TestHealthAndMetrics(t *testing.T) {
	s := setupTestServer(t)
	do(t, s, http.MethodPost, "/api/v1/guilds/g1/mentions", MentionRequest{UserID: "u1", Text: "hi"})

	rec := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[service.HealthStats](t, rec)
	assert.Equal(t, int64(1), health.TotalRequests)

	rec = do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "guild_agent_orchestrator_requests_total")
}

func TestVoiceEndpoints(t *testing.T) {
	s := setupTestServer(t)
	base := "/api/v1/guilds/g1/users/u1"

	rec := do(t, s, http.MethodPost, base+"/voice-notes", VoiceNoteRequest{Title: "Raid", Content: "Meet at 8"})
	require.Equal(t, http.StatusCreated, rec.Code)
	note := decode[VoiceNoteResponse](t, rec)
	assert.Equal(t, "u1", note.UserID)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, base+"/voice-notes", VoiceNoteRequest{}).Code)

	rec = do(t, s, http.MethodGet, "/api/v1/guilds/g1/voice-notes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]VoiceNoteResponse](t, rec), 1)

	path := "/api/v1/guilds/g1/voice-notes/" + strconv.FormatInt(note.ID, 10)
	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, path, nil).Code)

	rec = do(t, s, http.MethodPost, base+"/voice-recordings", VoiceRecordingRequest{FileName: "jam.ogg", FileURL: "https://cdn.example/jam.ogg"})
	require.Equal(t, http.StatusCreated, rec.Code)
	saved := decode[VoiceRecordingResponse](t, rec)

	rec = do(t, s, http.MethodGet, "/api/v1/guilds/g1/voice-recordings/"+strconv.FormatInt(saved.ID, 10), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://cdn.example/jam.ogg", decode[VoiceRecordingResponse](t, rec).FileURL)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/v1/guilds/g1/voice-recordings/999", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, base+"/voice-recordings", VoiceRecordingRequest{FileName: "x.ogg"}).Code)

	deny := false
	do(t, s, http.MethodPut, base+"/privacy", PrivacyRequest{AllowRecording: &deny})
	rec = do(t, s, http.MethodPost, base+"/voice-recordings", VoiceRecordingRequest{FileName: "b.ogg", FileURL: "https://cdn.example/b.ogg"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/guilds/g1/voice-recordings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]VoiceRecordingResponse](t, rec), 1)
}
