// Package httpapi exposes the guild agent over HTTP. It stands in for a chat
// platform client: a bot process forwards mentions and commands here and
// posts the returned text.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/easeaico/guild-memory-agent/internal/config"
	"github.com/easeaico/guild-memory-agent/internal/service"
)

// Server provides the HTTP endpoints of the agent.
type Server struct {
	echo   *echo.Echo
	agent  *service.Agent
	logger *zap.Logger
	config config.HTTPConfig
}

// NewServer creates a new HTTP server. gatherer backs /metrics; nil uses the
// default Prometheus registry.
func NewServer(agent *service.Agent, gatherer prometheus.Gatherer, logger *zap.Logger, cfg config.HTTPConfig) (*Server, error) {
	if agent == nil {
		return nil, errors.New("agent cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	})

	s := &Server{
		echo:   e,
		agent:  agent,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes(gatherer)

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	g := s.echo.Group("/api/v1/guilds/:guild")
	g.POST("/mentions", s.handleMention)
	g.POST("/summaries", s.handleSummary)

	g.GET("/knowledge", s.handleListKnowledge)
	g.POST("/knowledge", s.handleAddKnowledge)
	g.GET("/knowledge/search", s.handleSearchKnowledge)
	g.GET("/knowledge/review", s.handleReviewKnowledge)
	g.DELETE("/knowledge/:id", s.handleRemoveKnowledge)

	u := g.Group("/users/:user")
	u.GET("/privacy", s.handleGetPrivacy)
	u.PUT("/privacy", s.handleSetPrivacy)
	u.GET("/context", s.handleGetContext)
	u.PUT("/context", s.handleSetContext)
	u.DELETE("/context", s.handleClearContext)
	u.DELETE("/conversation", s.handleForget)
	u.GET("/why", s.handleWhy)
	u.GET("/sources", s.handleSources)
	u.POST("/feedback", s.handleFeedback)
	u.POST("/voice-notes", s.handleAddVoiceNote)
	u.POST("/voice-recordings", s.handleSaveVoiceRecording)

	g.GET("/voice-notes", s.handleListVoiceNotes)
	g.DELETE("/voice-notes/:id", s.handleRemoveVoiceNote)
	g.GET("/voice-recordings", s.handleListVoiceRecordings)
	g.GET("/voice-recordings/:id", s.handleGetVoiceRecording)

	g.GET("/blacklist", s.handleListBlacklist)
	g.POST("/blacklist", s.handleAddBlacklist)
	g.DELETE("/blacklist/:user", s.handleRemoveBlacklist)

	g.GET("/stats", s.handleStats)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	addr := s.config.Addr()
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve http: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
