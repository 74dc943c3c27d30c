package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"google.golang.org/genai"
)

// fakeModel records the last langchaingo call.
type fakeModel struct {
	messages []llms.MessageContent
	opts     llms.CallOptions
	resp     *llms.ContentResponse
	err      error
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, opt := range options {
		opt(&f.opts)
	}
	return f.resp, f.err
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestOpenAIClient_Complete(t *testing.T) {
	model := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "hello there"}}}}
	client := &OpenAIClient{model: model}

	out, err := client.Complete(context.Background(), Request{
		Model: "gpt-4o-mini",
		Messages: []Message{
			{Role: RoleSystem, Content: "be nice"},
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hey"},
		},
		Temperature: 0.3,
		MaxTokens:   220,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", out)

	require.Len(t, model.messages, 3)
	assert.Equal(t, schema.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, schema.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, schema.ChatMessageTypeAI, model.messages[2].Role)
	assert.Equal(t, "gpt-4o-mini", model.opts.Model)
	assert.Equal(t, 220, model.opts.MaxTokens)
	assert.InDelta(t, 0.3, model.opts.Temperature, 1e-9)
}

func TestOpenAIClient_Errors(t *testing.T) {
	client := &OpenAIClient{model: &fakeModel{resp: &llms.ContentResponse{}}}
	_, err := client.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	assert.ErrorIs(t, err, ErrEmptyResponse)

	upstream := errors.New("API returned unexpected status code: 429")
	client = &OpenAIClient{model: &fakeModel{err: upstream}}
	_, err = client.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.ErrorIs(t, err, upstream)
	assert.Equal(t, CategoryRateLimited, Classify(err))
}

// fakeGenerator records the last genai call.
type fakeGenerator struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	resp     *genai.GenerateContentResponse
	err      error
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	f.config = config
	return f.resp, f.err
}

func TestGeminiClient_Complete(t *testing.T) {
	gen := &fakeGenerator{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText("pong", genai.RoleModel)}},
	}}
	client := &GeminiClient{models: gen}

	out, err := client.Complete(context.Background(), Request{
		Model: "gemini-2.5-flash",
		Messages: []Message{
			{Role: RoleSystem, Content: "rules"},
			{Role: RoleSystem, Content: "User: Ana (42)"},
			{Role: RoleUser, Content: "ping"},
			{Role: RoleAssistant, Content: "earlier"},
		},
		Temperature: 0.1,
		MaxTokens:   120,
	})
	require.NoError(t, err)
	assert.Equal(t, "pong", out)

	assert.Equal(t, "gemini-2.5-flash", gen.model)
	require.Len(t, gen.contents, 2)
	assert.Equal(t, genai.RoleUser, gen.contents[0].Role)
	assert.Equal(t, genai.RoleModel, gen.contents[1].Role)
	require.NotNil(t, gen.config.SystemInstruction)
	assert.Equal(t, "rules\n\nUser: Ana (42)", gen.config.SystemInstruction.Parts[0].Text)
	assert.Equal(t, int32(120), gen.config.MaxOutputTokens)
	require.NotNil(t, gen.config.Temperature)
	assert.InDelta(t, 0.1, *gen.config.Temperature, 1e-6)
}

func TestGeminiClient_EmptyResponse(t *testing.T) {
	client := &GeminiClient{models: &fakeGenerator{resp: &genai.GenerateContentResponse{}}}
	_, err := client.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

type statusErr struct{ code int }

func (e statusErr) Error() string   { return "upstream failure" }
func (e statusErr) StatusCode() int { return e.code }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, CategoryUnknown},
		{"status 401", statusErr{401}, CategoryAuthInvalid},
		{"status 403", statusErr{403}, CategoryForbidden},
		{"status 429", fmt.Errorf("wrapped: %w", statusErr{429}), CategoryRateLimited},
		{"status 502", statusErr{502}, CategoryServerUnavailable},
		{"status 418 falls back to message", statusErr{418}, CategoryUnknown},
		{"gemini api error", fmt.Errorf("failed to generate content: %w", genai.APIError{Code: 429, Message: "401 in text"}), CategoryRateLimited},
		{"gemini api error pointer", &genai.APIError{Code: 403, Status: "PERMISSION_DENIED"}, CategoryForbidden},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), CategoryTimeout},
		{"message 401", errors.New("status code: 401 invalid api key"), CategoryAuthInvalid},
		{"message 503", errors.New("503 Service Unavailable"), CategoryServerUnavailable},
		{"timed out", errors.New("request timed out"), CategoryTimeout},
		{"connection refused", errors.New("dial tcp: connect: connection refused"), CategoryNetworkUnreachable},
		{"context length", errors.New("This model's maximum context length is 8192 tokens"), CategoryContextTooLong},
		{"context_length code", errors.New("code: context_length_exceeded"), CategoryContextTooLong},
		{"quota", errors.New("insufficient_quota: billing"), CategoryQuotaExhausted},
		{"other", errors.New("boom"), CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "first", FirstLine(errors.New("first\nsecond")))
	assert.Equal(t, "single", FirstLine(errors.New("single")))
	assert.Equal(t, "", FirstLine(nil))
}
