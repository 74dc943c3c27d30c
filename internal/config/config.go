// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides, e.g. AGENT_LLM_API_KEY -> llm.api_key.
const EnvPrefix = "AGENT_"

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	DBTypeSQLite   = "sqlite"
	DBTypePostgres = "postgres"
)

// DefaultSystemPrompt is used when llm.system_prompt is not configured.
const DefaultSystemPrompt = `You are a friendly, witty and relaxed community assistant.
Answer briefly, casually and helpfully. Use humour but stay kind.
Use server knowledge and member context only when it really fits and never mention the context directly.
Answer in the language of the message.`

// Config holds the application configuration.
type Config struct {
	LLM       LLMConfig       `koanf:"llm"`
	Database  DatabaseConfig  `koanf:"database"`
	UX        UXConfig        `koanf:"ux"`
	Worker    WorkerConfig    `koanf:"worker"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	HTTP      HTTPConfig      `koanf:"http"`
	Log       LogConfig       `koanf:"log"`
}

// LLMConfig configures the chat-completion backend.
type LLMConfig struct {
	Provider     string        `koanf:"provider"` // "openai" or "gemini"
	APIKey       string        `koanf:"api_key"`
	BaseURL      string        `koanf:"base_url"` // OpenAI-compatible endpoint, empty for the default
	Model        string        `koanf:"model"`
	Temperature  float64       `koanf:"temperature"`
	MaxTokens    int           `koanf:"max_tokens"`
	Timeout      time.Duration `koanf:"timeout"`
	SystemPrompt string        `koanf:"system_prompt"`
}

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	Type string `koanf:"type"` // "sqlite" or "postgres"
	URL  string `koanf:"url"`  // file path for sqlite, connection string for postgres
}

// UXConfig holds the reply limits and canned texts.
type UXConfig struct {
	Cooldown                     time.Duration `koanf:"cooldown"`
	CooldownReply                string        `koanf:"cooldown_reply"`
	ErrorReply                   string        `koanf:"error_reply"`
	MaxUserMessageLength         int           `koanf:"max_user_message_length"`
	MaxContextLength             int           `koanf:"max_context_length"`
	MaxKnowledgeLength           int           `koanf:"max_knowledge_length"`
	MaxKnowledgeEntries          int           `koanf:"max_knowledge_entries"`
	MaxConversationMessages      int           `koanf:"max_conversation_messages"`
	MaxConversationMessageLength int           `koanf:"max_conversation_message_length"`
	LowConfidenceThreshold       float64       `koanf:"low_confidence_threshold"`
	FeedbackWindow               time.Duration `koanf:"feedback_window"`
}

// WorkerConfig sizes the background worker pool.
type WorkerConfig struct {
	Workers   int `koanf:"workers"`
	QueueSize int `koanf:"queue_size"`
}

// RateLimitConfig bounds the cooldown tracker.
type RateLimitConfig struct {
	MaxEntries int `koanf:"max_entries"`
}

// HTTPConfig configures the HTTP gateway.
type HTTPConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns host:port.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // "json" or "console"
}

// Default returns the configuration used for every key that is not set.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:     ProviderOpenAI,
			Model:        "gpt-4o-mini",
			Temperature:  0.7,
			MaxTokens:    320,
			Timeout:      30 * time.Second,
			SystemPrompt: DefaultSystemPrompt,
		},
		Database: DatabaseConfig{
			Type: DBTypeSQLite,
			URL:  "data/agent.db",
		},
		UX: UXConfig{
			Cooldown:                     15 * time.Second,
			CooldownReply:                "Taking a quick breath. I'll be back in a few seconds.",
			ErrorReply:                   "Ugh, my head is smoking right now. Try again in a moment.",
			MaxUserMessageLength:         1200,
			MaxContextLength:             800,
			MaxKnowledgeLength:           1500,
			MaxKnowledgeEntries:          20,
			MaxConversationMessages:      12,
			MaxConversationMessageLength: 1000,
			LowConfidenceThreshold:       0.65,
			FeedbackWindow:               7 * 24 * time.Hour,
		},
		Worker: WorkerConfig{
			Workers:   2,
			QueueSize: 200,
		},
		RateLimit: RateLimitConfig{
			MaxEntries: 10000,
		},
		HTTP: HTTPConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from the optional YAML file at path, then applies
// environment overrides.
//
// Configuration precedence (highest to lowest):
//  1. AGENT_* environment variables (AGENT_LLM_API_KEY -> llm.api_key)
//  2. YAML config file
//  3. Legacy environment variables (DB_TYPE, DATABASE_URL, GOOGLE_API_KEY, OPENAI_API_KEY)
//  4. Defaults
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyLegacyEnv(k, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps AGENT_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// applyLegacyEnv fills keys that were not set explicitly from the variables
// earlier releases read.
func applyLegacyEnv(k *koanf.Koanf, cfg *Config) {
	if !k.Exists("database.type") {
		if v := os.Getenv("DB_TYPE"); v != "" {
			cfg.Database.Type = v
		}
	}
	if !k.Exists("database.url") {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			cfg.Database.URL = v
		}
	}
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case ProviderGemini:
			cfg.LLM.APIKey = os.Getenv("GOOGLE_API_KEY")
		case ProviderOpenAI:
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
}

// Validate checks the configuration for values the agent cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be %q or %q, got %q", ProviderOpenAI, ProviderGemini, c.LLM.Provider))
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, errors.New("llm.api_key is required"))
	}
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if c.LLM.MaxTokens <= 0 {
		errs = append(errs, errors.New("llm.max_tokens must be > 0"))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, errors.New("llm.timeout must be > 0"))
	}

	switch c.Database.Type {
	case DBTypeSQLite, DBTypePostgres:
	default:
		errs = append(errs, fmt.Errorf("database.type must be %q or %q, got %q", DBTypeSQLite, DBTypePostgres, c.Database.Type))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}

	if c.UX.MaxUserMessageLength <= 0 || c.UX.MaxContextLength <= 0 ||
		c.UX.MaxKnowledgeLength <= 0 || c.UX.MaxKnowledgeEntries <= 0 {
		errs = append(errs, errors.New("ux limits must be > 0"))
	}
	if c.UX.MaxConversationMessages < 0 || c.UX.MaxConversationMessageLength <= 0 {
		errs = append(errs, errors.New("conversation memory limits are invalid"))
	}
	if c.UX.LowConfidenceThreshold < 0 || c.UX.LowConfidenceThreshold > 1 {
		errs = append(errs, errors.New("ux.low_confidence_threshold must be within [0, 1]"))
	}

	if c.Worker.Workers < 1 {
		errs = append(errs, errors.New("worker.workers must be >= 1"))
	}
	if c.Worker.QueueSize < 1 {
		errs = append(errs, errors.New("worker.queue_size must be >= 1"))
	}
	if c.RateLimit.MaxEntries < 1 {
		errs = append(errs, errors.New("ratelimit.max_entries must be >= 1"))
	}

	return errors.Join(errs...)
}
