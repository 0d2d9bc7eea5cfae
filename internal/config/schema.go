// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for moltbot.
package config

import "time"

// Config is the top-level configuration structure. Duration fields are Go
// duration strings ("30s", "24h") and are parsed during Validate.
type Config struct {
	Logging      LoggingConfig      `yaml:"logging"`
	Lark         LarkConfig         `yaml:"lark"`
	Provider     ProviderConfig     `yaml:"provider"`
	Conversation ConversationConfig `yaml:"conversation"`
	Stream       StreamConfig       `yaml:"stream"`
	Retry        RetryConfig        `yaml:"retry"`
	Gateway      GatewayConfig      `yaml:"gateway"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// LarkConfig identifies the bot application and its event delivery mode.
type LarkConfig struct {
	AppID     string `yaml:"app_id"`
	AppSecret string `yaml:"app_secret"`
	BaseURL   string `yaml:"base_url"`

	// BotOpenID is the bot's own open_id, used to detect mentions and to
	// ignore its own messages.
	BotOpenID string `yaml:"bot_open_id"`

	// WSEndpoint enables the long-connection event stream when set.
	WSEndpoint string `yaml:"ws_endpoint"`

	// VerificationToken and EncryptKey secure the webhook delivery mode.
	VerificationToken string `yaml:"verification_token"`
	EncryptKey        string `yaml:"encrypt_key"`

	// RequireMention ignores group messages that do not mention the bot.
	RequireMention bool `yaml:"require_mention"`
}

// ProviderConfig selects and configures the LLM backend.
type ProviderConfig struct {
	// Backend is "openai" or "anthropic".
	Backend string `yaml:"backend"`

	SystemPrompt string `yaml:"system_prompt"`

	// Format is the outbound rendering: plain, rich_text, or card.
	Format string `yaml:"format"`

	OpenAI    OpenAIConfig    `yaml:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
}

// OpenAIConfig configures the OpenAI-compatible backend.
type OpenAIConfig struct {
	APIKey      string   `yaml:"api_key"`
	Model       string   `yaml:"model"`
	BaseURL     string   `yaml:"base_url"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"`
	Timeout     string   `yaml:"timeout"`
}

// AnthropicConfig configures the Anthropic backend.
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int    `yaml:"max_tokens"`
	Timeout   string `yaml:"timeout"`
}

// ConversationConfig bounds stored history.
type ConversationConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`

	// Path is the sqlite database file. Ignored for the memory backend.
	Path string `yaml:"path"`

	MaxHistory int    `yaml:"max_history"`
	MaxAge     string `yaml:"max_age"`

	// SweepSchedule is a 5-field cron expression for the expiry sweep.
	SweepSchedule string `yaml:"sweep_schedule"`
}

// StreamConfig tunes partial response emission.
type StreamConfig struct {
	ChunkThreshold int    `yaml:"chunk_threshold"`
	TimeThreshold  string `yaml:"time_threshold"`
	EnablePartials *bool  `yaml:"enable_partials"`
}

// RetryConfig tunes transient failure handling.
type RetryConfig struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialDelay      string  `yaml:"initial_delay"`
	MaxDelay          string  `yaml:"max_delay"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

// GatewayConfig configures the HTTP surface.
type GatewayConfig struct {
	// Listen is the bind address, e.g. ":8080". Empty disables the gateway.
	Listen string `yaml:"listen"`

	// AdminToken protects the conversation admin API. Empty disables it.
	AdminToken string `yaml:"admin_token"`
}

// applyDefaults fills zero-valued fields.
func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Provider.Backend == "" {
		c.Provider.Backend = "openai"
	}
	if c.Provider.Format == "" {
		c.Provider.Format = "card"
	}
	if c.Conversation.Backend == "" {
		c.Conversation.Backend = "memory"
	}
	if c.Conversation.MaxHistory == 0 {
		c.Conversation.MaxHistory = 10
	}
	if c.Conversation.MaxAge == "" {
		c.Conversation.MaxAge = "24h"
	}
	if c.Stream.ChunkThreshold == 0 {
		c.Stream.ChunkThreshold = 100
	}
	if c.Stream.TimeThreshold == "" {
		c.Stream.TimeThreshold = "1s"
	}
	if c.Stream.EnablePartials == nil {
		enabled := true
		c.Stream.EnablePartials = &enabled
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialDelay == "" {
		c.Retry.InitialDelay = "1s"
	}
	if c.Retry.MaxDelay == "" {
		c.Retry.MaxDelay = "30s"
	}
	if c.Retry.BackoffMultiplier == 0 {
		c.Retry.BackoffMultiplier = 2
	}
}

// MaxAgeDuration returns the parsed conversation retention window.
// Assumes Validate has been called.
func (c *ConversationConfig) MaxAgeDuration() time.Duration {
	return mustDuration(c.MaxAge, 24*time.Hour)
}

// TimeThresholdDuration returns the parsed partial emission interval.
func (c *StreamConfig) TimeThresholdDuration() time.Duration {
	return mustDuration(c.TimeThreshold, time.Second)
}

// InitialDelayDuration returns the parsed first backoff delay.
func (c *RetryConfig) InitialDelayDuration() time.Duration {
	return mustDuration(c.InitialDelay, time.Second)
}

// MaxDelayDuration returns the parsed backoff ceiling.
func (c *RetryConfig) MaxDelayDuration() time.Duration {
	return mustDuration(c.MaxDelay, 30*time.Second)
}

func mustDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
