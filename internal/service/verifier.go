package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/easeaico/guild-memory-agent/internal/llm"
)

const (
	factCheckTemperature = 0.1
	factCheckMaxTokens   = 120

	// defaultValidConfidence is used when a statement is valid but carries no readable confidence.
	defaultValidConfidence = 0.55
)

const factCheckSystemPrompt = "You are a strict fact checker. Answer with JSON only."

const factCheckPromptTemplate = `You are a fact checker. Analyse the following statement and answer ONLY with a JSON object.

Rules:
- "valid": true if the statement is factually correct and worth remembering
- "valid": false if the statement is false, political, controversial, insulting, racist, sexist or an opinion
- "confidence": number from 0.0 to 1.0
- "reason": short justification (max 50 characters)

ALWAYS reject:
- Political topics (parties, politicians, elections, laws)
- Controversial topics (religion, abortion, gender debates)
- Conspiracy theories (flat earth, chemtrails, etc.)
- Insults or discrimination
- Subjective opinions disguised as facts
- False scientific claims

Statement: %q

Answer (JSON only, no other text):`

// Verdict is the outcome of a fact check.
type Verdict struct {
	Valid      bool
	Confidence float64
	Reason     string
}

// VerdictParser turns a fact-check answer into a Verdict.
type VerdictParser interface {
	Parse(response string) Verdict
}

var (
	validField      = regexp.MustCompile(`(?i)"valid"\s*:\s*(true|false)`)
	confidenceField = regexp.MustCompile(`"confidence"\s*:\s*(0(?:\.\d+)?|1(?:\.0+)?)`)
	reasonField     = regexp.MustCompile(`"reason"\s*:\s*"([^"]*)"`)
)

// TolerantParser extracts the verdict fields by pattern instead of decoding
// JSON, so prose around the object or a truncated answer still parses.
type TolerantParser struct{}

// Parse implements VerdictParser. Anything it cannot read is treated as invalid.
func (TolerantParser) Parse(response string) Verdict {
	if isBlank(response) {
		return Verdict{Valid: false, Confidence: 0, Reason: "empty response"}
	}

	m := validField.FindStringSubmatch(response)
	valid := m != nil && strings.EqualFold(m[1], "true")

	fallback := 0.0
	if valid {
		fallback = defaultValidConfidence
	}

	return Verdict{
		Valid:      valid,
		Confidence: parseConfidence(response, fallback),
		Reason:     parseReason(response),
	}
}

func parseConfidence(response string, fallback float64) float64 {
	m := confidenceField.FindStringSubmatch(response)
	if m == nil {
		return fallback
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return fallback
	}
	return min(1.0, max(0.0, v))
}

func parseReason(response string) string {
	m := reasonField.FindStringSubmatch(response)
	if m == nil {
		return "no reason"
	}
	return m[1]
}

// Verifier asks the language model whether a statement may enter the knowledge base.
type Verifier struct {
	client  llm.ChatClient
	model   string
	timeout time.Duration
	parser  VerdictParser
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewVerifier creates a verifier using the tolerant parser. Each fact check
// is bounded by timeout; zero leaves it to the caller's context.
func NewVerifier(client llm.ChatClient, model string, timeout time.Duration, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		client:  client,
		model:   model,
		timeout: timeout,
		parser:  TolerantParser{},
		logger:  logger,
		tracer:  tracer(),
	}
}

// WithParser replaces the response parser.
func (v *Verifier) WithParser(p VerdictParser) *Verifier {
	v.parser = p
	return v
}

// FactCheck never fails: transport errors and unreadable answers yield an invalid verdict.
func (v *Verifier) FactCheck(ctx context.Context, statement string) Verdict {
	ctx, span := v.tracer.Start(ctx, "verifier.fact_check")
	defer span.End()

	resp, err := completeWithin(ctx, v.client, v.timeout, llm.Request{
		Model: v.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: factCheckSystemPrompt},
			{Role: llm.RoleUser, Content: fmt.Sprintf(factCheckPromptTemplate, statement)},
		},
		Temperature: factCheckTemperature,
		MaxTokens:   factCheckMaxTokens,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fact check failed")
		v.logger.Warn("fact check request failed",
			zap.String("category", string(llm.Classify(err))),
			zap.String("error", llm.FirstLine(err)))
		return Verdict{Valid: false, Confidence: 0, Reason: "api error"}
	}

	verdict := v.parser.Parse(resp)
	span.SetAttributes(
		attribute.Bool("valid", verdict.Valid),
		attribute.Float64("confidence", verdict.Confidence),
	)
	return verdict
}

// completeWithin calls the model, bounded by timeout when it is positive.
func completeWithin(ctx context.Context, client llm.ChatClient, timeout time.Duration, req llm.Request) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return client.Complete(ctx, req)
}
