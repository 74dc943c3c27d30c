// Package service implements the guild agent: reply generation, the
// learn-verify-merge loop, conversation memory and the operations exposed to
// the chat surface.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/easeaico/guild-memory-agent/internal/config"
	"github.com/easeaico/guild-memory-agent/internal/llm"
	"github.com/easeaico/guild-memory-agent/internal/memory"
	"github.com/easeaico/guild-memory-agent/internal/ratelimit"
	"github.com/easeaico/guild-memory-agent/internal/worker"
)

const (
	summaryTemperature = 0.3
	summaryMinTokens   = 220
	summaryFailedReply = "Could not produce a summary."
	summaryStyleLength = 200

	// categoryCancelled labels replies whose caller stopped waiting.
	categoryCancelled = "cancelled"

	summaryInstruction = "You are a chat assistant. Create a precise summary. " +
		"First 4-8 bullet points, then an 'Action Items' block with clear TODOs. " +
		"If something is unclear write 'Unclear' instead of guessing."
)

// Learn outcomes reported to metrics.
const (
	learnStored   = "stored"
	learnRejected = "rejected"
	learnDropped  = "dropped"
	learnFailed   = "failed"
	learnTooLong  = "too_long"
)

// Deps are the collaborators of an Agent.
type Deps struct {
	Config     *config.Config
	Store      memory.Store
	Client     llm.ChatClient
	Pool       *worker.Pool
	Limiter    *ratelimit.Limiter
	Registerer prometheus.Registerer
	Logger     *zap.Logger
}

// Agent answers mentions, summarizes transcripts and grows the guild
// knowledge base from its own replies.
type Agent struct {
	store        memory.Store
	client       llm.ChatClient
	pool         *worker.Pool
	limiter      *ratelimit.Limiter
	verifier     *Verifier
	merger       *Merger
	conversation *Conversation
	health       *Health

	llm          config.LLMConfig
	ux           config.UXConfig
	systemPrompt string

	logger *zap.Logger
	tracer trace.Tracer
}

// NewAgent wires an Agent from its dependencies.
func NewAgent(deps Deps) *Agent {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := deps.Config
	systemPrompt := cfg.LLM.SystemPrompt
	if isBlank(systemPrompt) {
		systemPrompt = config.DefaultSystemPrompt
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = ratelimit.New(cfg.UX.Cooldown, cfg.RateLimit.MaxEntries)
	}

	return &Agent{
		store:        deps.Store,
		client:       deps.Client,
		pool:         deps.Pool,
		limiter:      limiter,
		verifier:     NewVerifier(deps.Client, cfg.LLM.Model, cfg.LLM.Timeout, logger.Named("verifier")),
		merger:       NewMerger(deps.Store),
		conversation: NewConversation(deps.Store, cfg.UX.MaxConversationMessages, cfg.UX.MaxConversationMessageLength, cfg.UX.ErrorReply),
		health:       NewHealth(deps.Pool, deps.Registerer),
		llm:          cfg.LLM,
		ux:           cfg.UX,
		systemPrompt: systemPrompt,
		logger:       logger.Named("orchestrator"),
		tracer:       tracer(),
	}
}

// HealthStats returns a snapshot of the request counters and the worker pool.
func (a *Agent) HealthStats() HealthStats {
	return a.health.Snapshot()
}

// Conversation exposes the agent's conversation memory.
func (a *Agent) Conversation() *Conversation {
	return a.conversation
}

// GenerateReply answers prompt on behalf of a member. It runs on the worker
// pool and always returns text: any failure yields the configured error reply.
func (a *Agent) GenerateReply(ctx context.Context, guildID, userID, displayName, prompt string) string {
	return a.await(ctx, worker.KindReply, func(taskCtx context.Context) string {
		return a.generateReply(taskCtx, guildID, userID, displayName, prompt)
	})
}

// SummarizeMessages summarizes lines (oldest first) in the given style. Like
// GenerateReply it never fails.
func (a *Agent) SummarizeMessages(ctx context.Context, guildID, userID, style string, lines []string) string {
	return a.await(ctx, worker.KindSummary, func(taskCtx context.Context) string {
		return a.summarize(taskCtx, guildID, userID, style, lines)
	})
}

// errCallerGone cancels a task whose caller stopped waiting for it.
var errCallerGone = errors.New("caller stopped waiting")

type requestStateKey struct{}

// requestState makes sure one request counts at most one error, whether the
// task or the abandoned caller notices the failure first.
type requestState struct {
	failed atomic.Bool
}

// await runs fn on the pool and waits for its text. A pool that cannot take
// the task before ctx ends counts as a failed request. When ctx ends first,
// the task context is cancelled with errCallerGone.
func (a *Agent) await(ctx context.Context, kind string, fn func(context.Context) string) string {
	span := trace.SpanFromContext(ctx)
	state := &requestState{}
	done := make(chan string, 1)

	_, err := a.pool.Submit(ctx, kind, func(poolCtx context.Context) {
		taskCtx, cancel := context.WithCancelCause(context.WithValue(poolCtx, requestStateKey{}, state))
		defer cancel(nil)
		stop := context.AfterFunc(ctx, func() { cancel(errCallerGone) })
		defer stop()

		done <- fn(trace.ContextWithSpan(taskCtx, span))
	})
	if err != nil {
		a.health.recordRequest(kind)
		a.health.recordError("pool")
		a.logger.Warn("failed to schedule task", zap.String("kind", kind), zap.Error(err))
		return a.ux.ErrorReply
	}

	select {
	case reply := <-done:
		return reply
	case <-ctx.Done():
		if state.failed.CompareAndSwap(false, true) {
			a.health.recordError(categoryCancelled)
		}
		a.logger.Warn("caller gave up waiting", zap.String("kind", kind), zap.Error(ctx.Err()))
		return a.ux.ErrorReply
	}
}

// recordFailure counts a failed request once and returns the category it was filed under.
func (a *Agent) recordFailure(ctx context.Context, err error) string {
	category := string(llm.Classify(err))
	if callerGone(ctx) {
		category = categoryCancelled
	}
	if st, ok := ctx.Value(requestStateKey{}).(*requestState); ok && !st.failed.CompareAndSwap(false, true) {
		return category
	}
	a.health.recordError(category)
	return category
}

// callerGone reports whether the task's caller stopped waiting.
func callerGone(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), errCallerGone)
}

func (a *Agent) generateReply(ctx context.Context, guildID, userID, displayName, prompt string) string {
	a.health.recordRequest(worker.KindReply)

	ctx, span := a.tracer.Start(ctx, "agent.generate_reply",
		trace.WithAttributes(attribute.String("guild_id", guildID), attribute.String("user_id", userID)))
	defer span.End()

	reply, err := a.tryGenerateReply(ctx, guildID, userID, displayName, prompt)
	if err != nil {
		category := a.recordFailure(ctx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, category)
		a.logger.Error("reply generation failed",
			zap.String("guild_id", guildID),
			zap.String("category", category),
			zap.String("error", llm.FirstLine(err)))
		return a.ux.ErrorReply
	}
	return reply
}

func (a *Agent) tryGenerateReply(ctx context.Context, guildID, userID, displayName, prompt string) (string, error) {
	privacy, err := a.store.GetPrivacy(ctx, guildID, userID)
	if err != nil {
		return "", fmt.Errorf("failed to load privacy settings: %w", err)
	}

	pc, err := a.buildPrompt(ctx, guildID, userID, displayName, prompt, privacy.AllowStorage)
	if err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := a.complete(ctx, llm.Request{
		Model:       a.llm.Model,
		Messages:    pc.messages,
		Temperature: a.llm.Temperature,
		MaxTokens:   a.llm.MaxTokens,
	})
	latency := time.Since(start)
	a.health.recordLatency(latency)
	if err != nil {
		return "", err
	}
	if isBlank(resp) {
		return "", llm.ErrEmptyResponse
	}

	clean := a.processLearning(guildID, userID, resp, privacy.AllowStorage)

	if privacy.AllowStorage && !callerGone(ctx) {
		audit := memory.ReplyAudit{
			GuildID:          guildID,
			UserID:           userID,
			Model:            a.llm.Model,
			UsedUserContext:  pc.usedUserContext,
			HistoryCount:     pc.historyCount,
			KnowledgeIDs:     pc.knowledgeIDs(),
			KnowledgePreview: knowledgePreview(pc.knowledge),
			PromptExcerpt:    truncate(prompt, promptExcerptLength),
			ResponseExcerpt:  truncate(clean, replyExcerptLength),
			LatencyMs:        latency.Milliseconds(),
			CreatedAt:        time.Now(),
		}
		if err := a.store.SaveReplyAudit(ctx, audit); err != nil {
			a.logger.Error("failed to save reply audit", zap.String("guild_id", guildID), zap.Error(err))
		}
	}

	return clean, nil
}

// complete calls the model under the configured per-call timeout.
func (a *Agent) complete(ctx context.Context, req llm.Request) (string, error) {
	return completeWithin(ctx, a.client, a.llm.Timeout, req)
}

// processLearning strips learn tags from resp and schedules a learn task for
// every fact the member allows storing. Tasks that find the queue full are dropped.
func (a *Agent) processLearning(guildID, userID, resp string, allowStorage bool) string {
	clean, facts := ExtractDirectives(resp)
	if !allowStorage {
		return clean
	}

	for _, fact := range facts {
		if len([]rune(fact)) > a.ux.MaxKnowledgeLength {
			a.health.recordLearn(learnTooLong)
			continue
		}
		if _, err := a.pool.TrySubmit(worker.KindLearn, func(ctx context.Context) {
			a.learn(ctx, guildID, userID, fact)
		}); err != nil {
			a.health.recordLearn(learnDropped)
			a.logger.Debug("learn task dropped", zap.String("guild_id", guildID), zap.Error(err))
		}
	}
	return clean
}

// learn fact-checks a candidate fact and merges it into the knowledge base when valid.
func (a *Agent) learn(ctx context.Context, guildID, userID, fact string) {
	logger := a.logger.Named("learn").With(zap.String("guild_id", guildID))

	verdict := a.verifier.FactCheck(ctx, fact)
	if !verdict.Valid {
		a.health.recordLearn(learnRejected)
		logger.Info("knowledge rejected", zap.String("fact", fact), zap.String("reason", verdict.Reason))
		return
	}

	entry, err := a.merger.Merge(ctx, guildID, userID, fact, verdict.Confidence, memory.SourceLearned)
	if err != nil {
		a.health.recordLearn(learnFailed)
		logger.Warn("failed to store learned knowledge", zap.Error(err))
		return
	}
	a.health.recordLearn(learnStored)
	logger.Info("knowledge learned",
		zap.Int64("knowledge_id", entry.ID),
		zap.Float64("confidence", entry.Confidence),
		zap.String("fact", fact))
}

func (a *Agent) summarize(ctx context.Context, guildID, userID, style string, lines []string) string {
	a.health.recordRequest(worker.KindSummary)

	ctx, span := a.tracer.Start(ctx, "agent.summarize",
		trace.WithAttributes(attribute.String("guild_id", guildID), attribute.Int("lines", len(lines))))
	defer span.End()

	if isBlank(style) {
		style = "neutral"
	}

	var sb strings.Builder
	sb.WriteString("Style: ")
	sb.WriteString(style)
	sb.WriteString("\nAnalyse the following messages (old -> new):\n\n")
	for _, line := range lines {
		if isBlank(line) {
			continue
		}
		sb.WriteString("- ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	privacy, err := a.store.GetPrivacy(ctx, guildID, userID)
	if err != nil {
		return a.failSummary(ctx, span, guildID, fmt.Errorf("failed to load privacy settings: %w", err))
	}

	start := time.Now()
	resp, err := a.complete(ctx, llm.Request{
		Model: a.llm.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: summaryInstruction},
			{Role: llm.RoleUser, Content: sb.String()},
		},
		Temperature: summaryTemperature,
		MaxTokens:   max(summaryMinTokens, a.llm.MaxTokens),
	})
	latency := time.Since(start)
	a.health.recordLatency(latency)
	if err != nil {
		return a.failSummary(ctx, span, guildID, err)
	}

	if privacy.AllowStorage && !callerGone(ctx) {
		audit := memory.ReplyAudit{
			GuildID:         guildID,
			UserID:          userID,
			Model:           a.llm.Model,
			PromptExcerpt:   truncate("summarize:"+style, summaryStyleLength),
			ResponseExcerpt: truncate(resp, replyExcerptLength),
			LatencyMs:       latency.Milliseconds(),
			CreatedAt:       time.Now(),
		}
		if err := a.store.SaveReplyAudit(ctx, audit); err != nil {
			a.logger.Error("failed to save summary audit", zap.String("guild_id", guildID), zap.Error(err))
		}
	}

	if isBlank(resp) {
		a.recordFailure(ctx, llm.ErrEmptyResponse)
		span.SetStatus(codes.Error, "empty summary")
		return summaryFailedReply
	}
	return strings.TrimSpace(resp)
}

func (a *Agent) failSummary(ctx context.Context, span trace.Span, guildID string, err error) string {
	category := a.recordFailure(ctx, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, category)
	a.logger.Error("summary failed",
		zap.String("guild_id", guildID),
		zap.String("category", category),
		zap.String("error", llm.FirstLine(err)))
	if errors.Is(err, llm.ErrEmptyResponse) {
		return summaryFailedReply
	}
	return a.ux.ErrorReply
}
