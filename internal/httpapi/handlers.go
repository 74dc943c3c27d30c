package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/easeaico/guild-memory-agent/internal/memory"
	"github.com/easeaico/guild-memory-agent/internal/service"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func limitParam(c echo.Context) int {
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}

// fail maps service errors to HTTP errors and logs unexpected ones.
func (s *Server) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrEmptyKnowledge),
		errors.Is(err, service.ErrKnowledgeTooLong),
		errors.Is(err, service.ErrContextTooLong),
		errors.Is(err, service.ErrInvalidRating),
		errors.Is(err, service.ErrEmptyVoiceNote),
		errors.Is(err, service.ErrInvalidRecording):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrStorageDenied),
		errors.Is(err, service.ErrRecordingDenied):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrNoReply),
		errors.Is(err, service.ErrNoRecording):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	s.logger.Error("request failed",
		zap.String("path", c.Path()),
		zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

// handleHealth returns the reply counters and worker pool state.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, s.agent.HealthStats())
}

func (s *Server) handleMention(c echo.Context) error {
	var req MentionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id field is required")
	}

	res := s.agent.HandleMention(c.Request().Context(), service.Mention{
		GuildID:     c.Param("guild"),
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		Text:        req.Text,
	})
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleSummary(c echo.Context) error {
	var req SummaryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id field is required")
	}
	if len(req.Lines) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "lines field is required")
	}

	summary := s.agent.SummarizeMessages(c.Request().Context(), c.Param("guild"), req.UserID, req.Style, req.Lines)
	return c.JSON(http.StatusOK, SummaryResponse{Summary: summary})
}

func (s *Server) handleListKnowledge(c echo.Context) error {
	entries, err := s.agent.ListKnowledge(c.Request().Context(), c.Param("guild"), limitParam(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, toKnowledge(entries))
}

func (s *Server) handleAddKnowledge(c echo.Context) error {
	var req AddKnowledgeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.AddedBy) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "added_by field is required")
	}

	entry, err := s.agent.AddManualKnowledge(c.Request().Context(), c.Param("guild"), req.AddedBy, req.Text)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, toKnowledge([]memory.KnowledgeEntry{entry})[0])
}

func (s *Server) handleSearchKnowledge(c echo.Context) error {
	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q parameter is required")
	}
	entries, err := s.agent.SearchKnowledge(c.Request().Context(), c.Param("guild"), query, limitParam(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, toKnowledge(entries))
}

func (s *Server) handleReviewKnowledge(c echo.Context) error {
	entries, err := s.agent.ReviewKnowledge(c.Request().Context(), c.Param("guild"), limitParam(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, toKnowledge(entries))
}

func (s *Server) handleRemoveKnowledge(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid knowledge id")
	}
	removed, err := s.agent.RemoveKnowledge(c.Request().Context(), c.Param("guild"), id)
	if err != nil {
		return s.fail(c, err)
	}
	if !removed {
		return echo.NewHTTPError(http.StatusNotFound, "knowledge entry not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGetPrivacy(c echo.Context) error {
	p, err := s.agent.Privacy(c.Request().Context(), c.Param("guild"), c.Param("user"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, PrivacyResponse{AllowStorage: p.AllowStorage, AllowRecording: p.AllowRecording})
}

func (s *Server) handleSetPrivacy(c echo.Context) error {
	var req PrivacyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	p, err := s.agent.Privacy(ctx, c.Param("guild"), c.Param("user"))
	if err != nil {
		return s.fail(c, err)
	}
	if req.AllowStorage != nil {
		p.AllowStorage = *req.AllowStorage
	}
	if req.AllowRecording != nil {
		p.AllowRecording = *req.AllowRecording
	}
	if err := s.agent.SetPrivacy(ctx, p); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, PrivacyResponse{AllowStorage: p.AllowStorage, AllowRecording: p.AllowRecording})
}

func (s *Server) handleGetContext(c echo.Context) error {
	text, ok, err := s.agent.UserContext(c.Request().Context(), c.Param("guild"), c.Param("user"))
	if err != nil {
		return s.fail(c, err)
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no context stored")
	}
	return c.JSON(http.StatusOK, ContextResponse{Context: text})
}

func (s *Server) handleSetContext(c echo.Context) error {
	var req ContextRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Context) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "context field is required")
	}
	if err := s.agent.SetUserContext(c.Request().Context(), c.Param("guild"), c.Param("user"), req.Context); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, StatusResponse{Status: "saved"})
}

func (s *Server) handleClearContext(c echo.Context) error {
	if err := s.agent.ClearUserContext(c.Request().Context(), c.Param("guild"), c.Param("user")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleForget(c echo.Context) error {
	if err := s.agent.Conversation().Forget(c.Request().Context(), c.Param("guild"), c.Param("user")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleWhy(c echo.Context) error {
	audit, err := s.agent.LatestReply(c.Request().Context(), c.Param("guild"), c.Param("user"))
	if err != nil {
		return s.fail(c, err)
	}
	ids := audit.KnowledgeIDs
	if ids == nil {
		ids = []int64{}
	}
	return c.JSON(http.StatusOK, WhyResponse{
		Model:           audit.Model,
		UsedUserContext: audit.UsedUserContext,
		HistoryCount:    audit.HistoryCount,
		KnowledgeIDs:    ids,
		LatencyMs:       audit.LatencyMs,
		CreatedAt:       audit.CreatedAt,
	})
}

func (s *Server) handleSources(c echo.Context) error {
	audit, err := s.agent.LatestReply(c.Request().Context(), c.Param("guild"), c.Param("user"))
	if err != nil {
		return s.fail(c, err)
	}
	ids := audit.KnowledgeIDs
	if ids == nil {
		ids = []int64{}
	}
	return c.JSON(http.StatusOK, SourcesResponse{KnowledgeIDs: ids, Preview: audit.KnowledgePreview})
}

func (s *Server) handleFeedback(c echo.Context) error {
	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.agent.RateLastReply(c.Request().Context(), c.Param("guild"), c.Param("user"), req.Rating, req.Reason); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, StatusResponse{Status: "recorded"})
}

func (s *Server) handleAddVoiceNote(c echo.Context) error {
	var req VoiceNoteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	note, err := s.agent.AddVoiceNote(c.Request().Context(), c.Param("guild"), c.Param("user"), req.Title, req.Content)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, toVoiceNote(note))
}

// handleListVoiceNotes lists the guild's notes; the service caps the limit at 20.
func (s *Server) handleListVoiceNotes(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	notes, err := s.agent.ListVoiceNotes(c.Request().Context(), c.Param("guild"), limit)
	if err != nil {
		return s.fail(c, err)
	}
	out := make([]VoiceNoteResponse, 0, len(notes))
	for _, n := range notes {
		out = append(out, toVoiceNote(n))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleRemoveVoiceNote(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid voice note id")
	}
	removed, err := s.agent.RemoveVoiceNote(c.Request().Context(), c.Param("guild"), id)
	if err != nil {
		return s.fail(c, err)
	}
	if !removed {
		return echo.NewHTTPError(http.StatusNotFound, "voice note not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSaveVoiceRecording(c echo.Context) error {
	var req VoiceRecordingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rec, err := s.agent.SaveVoiceRecording(c.Request().Context(), c.Param("guild"), c.Param("user"), req.Title, req.FileName, req.FileURL)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, toVoiceRecording(rec))
}

func (s *Server) handleListVoiceRecordings(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	recs, err := s.agent.ListVoiceRecordings(c.Request().Context(), c.Param("guild"), limit)
	if err != nil {
		return s.fail(c, err)
	}
	out := make([]VoiceRecordingResponse, 0, len(recs))
	for _, r := range recs {
		out = append(out, toVoiceRecording(r))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetVoiceRecording(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid recording id")
	}
	rec, err := s.agent.VoiceRecording(c.Request().Context(), c.Param("guild"), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, toVoiceRecording(rec))
}

func (s *Server) handleListBlacklist(c echo.Context) error {
	entries, err := s.agent.ListBlacklist(c.Request().Context(), c.Param("guild"), limitParam(c))
	if err != nil {
		return s.fail(c, err)
	}
	out := make([]BlacklistResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, BlacklistResponse{UserID: e.UserID, Reason: e.Reason, AddedBy: e.AddedBy, CreatedAt: e.CreatedAt})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleAddBlacklist(c echo.Context) error {
	var req BlacklistRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id field is required")
	}
	if err := s.agent.Blacklist(c.Request().Context(), c.Param("guild"), req.UserID, req.Reason, req.AddedBy); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, StatusResponse{Status: "blacklisted"})
}

func (s *Server) handleRemoveBlacklist(c echo.Context) error {
	if err := s.agent.Unblacklist(c.Request().Context(), c.Param("guild"), c.Param("user")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.agent.Stats(c.Request().Context(), c.Param("guild"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}
