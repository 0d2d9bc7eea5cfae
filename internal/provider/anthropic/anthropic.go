// Package anthropic implements an LLM backend on the Anthropic Messages
// API via the official SDK.
package anthropic

import (
	"context"
	"errors"
	"os"
	"time"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/wukaijin/moltbot-with-lark/internal/provider"
)

// defaultModel is the model used when none is specified.
// Pinned to a dated release for reproducibility.
const defaultModel = "claude-sonnet-4-5-20250929"

const defaultMaxTokens = 4096

// Config holds the settings for the Anthropic backend.
type Config struct {
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// defaults fills in zero-value fields with sensible defaults.
func (c *Config) defaults() {
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = defaultMaxTokens
	}
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	if c.Model == "" {
		return errors.New("anthropic: model must not be empty")
	}
	return nil
}

// Provider implements provider.Provider against the Anthropic Messages API.
type Provider struct {
	config Config
	client *sdkanthropic.Client
}

var _ provider.Provider = (*Provider)(nil)

// New creates a provider for the configured backend. The API key falls
// back to ANTHROPIC_API_KEY when not set in config.
func New(cfg Config) *Provider {
	cfg.defaults()

	apiKey := cfg.APIKey
	if apiKey == "" {
		if envKey, ok := os.LookupEnv("ANTHROPIC_API_KEY"); ok {
			apiKey = envKey
		}
	}

	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	// SDK-level retries are disabled; the bridge's retry executor owns
	// the backoff policy.
	opts = append(opts, option.WithMaxRetries(0))

	client := sdkanthropic.NewClient(opts...)
	return &Provider{config: cfg, client: &client}
}

// ModelName returns the configured model identifier.
func (p *Provider) ModelName() string {
	return p.config.Model
}

// Complete sends a synchronous completion request.
func (p *Provider) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	params := convertRequest(req, &p.config)

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return provider.CompletionResponse{}, mapError(err)
	}

	return convertResponse(msg), nil
}
