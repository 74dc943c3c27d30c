package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/easeaico/guild-memory-agent/internal/config"
	"github.com/easeaico/guild-memory-agent/internal/llm"
	"github.com/easeaico/guild-memory-agent/internal/memory"
	"github.com/easeaico/guild-memory-agent/internal/worker"
)

// scriptedClient answers completions with a test-provided function and
// records every request it saw.
type scriptedClient struct {
	mu       sync.Mutex
	requests []llm.Request
	respond  func(req llm.Request) (string, error)
}

func (c *scriptedClient) Complete(ctx context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	respond := c.respond
	c.mu.Unlock()
	if respond == nil {
		return "", nil
	}
	return respond(req)
}

func (c *scriptedClient) replyRequests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []llm.Request
	for _, r := range c.requests {
		if !isFactCheck(r) {
			out = append(out, r)
		}
	}
	return out
}

func isFactCheck(req llm.Request) bool {
	return len(req.Messages) > 0 && req.Messages[0].Content == factCheckSystemPrompt
}

// replies returns reply for chat requests and verdict for fact checks.
func replies(reply, verdict string) func(llm.Request) (string, error) {
	return func(req llm.Request) (string, error) {
		if isFactCheck(req) {
			return verdict, nil
		}
		return reply, nil
	}
}

// splitClient sends fact checks and replies to different clients.
type splitClient struct {
	reply     llm.ChatClient
	factCheck llm.ChatClient
}

func (c splitClient) Complete(ctx context.Context, req llm.Request) (string, error) {
	if isFactCheck(req) {
		return c.factCheck.Complete(ctx, req)
	}
	return c.reply.Complete(ctx, req)
}

func newTestStore(t *testing.T) *memory.SQLiteStore {
	t.Helper()
	ctx := context.Background()

	store, err := memory.NewSQLiteStore(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InitSchema(ctx))
	return store
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.LLM.APIKey = "test"
	cfg.LLM.Model = "test-model"
	cfg.UX.Cooldown = 0
	return cfg
}

func newTestAgent(t *testing.T, client llm.ChatClient, mutate func(*config.Config)) (*Agent, *memory.SQLiteStore) {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	store := newTestStore(t)
	pool := worker.New(2, 32, zaptest.NewLogger(t))
	t.Cleanup(func() { pool.Close(context.Background()) })

	agent := NewAgent(Deps{
		Config: cfg,
		Store:  store,
		Client: client,
		Pool:   pool,
		Logger: zaptest.NewLogger(t),
	})
	return agent, store
}
