package config

import (
	"errors"
	"fmt"
	"time"
)

// Validate checks the structural validity of a Config. All problems are
// reported at once via errors.Join.
func Validate(cfg *Config) error {
	var errs []error

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: logging.level %q is not one of debug/info/warn/error", cfg.Logging.Level))
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: logging.format %q is not text or json", cfg.Logging.Format))
	}

	if cfg.Lark.AppID == "" {
		errs = append(errs, errors.New("config: lark.app_id is required"))
	}
	if cfg.Lark.AppSecret == "" {
		errs = append(errs, errors.New("config: lark.app_secret is required"))
	}
	if cfg.Lark.WSEndpoint == "" && cfg.Gateway.Listen == "" {
		errs = append(errs, errors.New("config: either lark.ws_endpoint or gateway.listen must be set to receive events"))
	}
	if cfg.Gateway.Listen != "" && cfg.Lark.WSEndpoint == "" && cfg.Lark.VerificationToken == "" {
		errs = append(errs, errors.New("config: lark.verification_token is required for webhook delivery"))
	}

	switch cfg.Provider.Backend {
	case "openai":
		if cfg.Provider.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("config: provider.openai.api_key is required"))
		}
		if cfg.Provider.OpenAI.Model == "" {
			errs = append(errs, errors.New("config: provider.openai.model is required"))
		}
		errs = append(errs, checkDuration("provider.openai.timeout", cfg.Provider.OpenAI.Timeout)...)
	case "anthropic":
		errs = append(errs, checkDuration("provider.anthropic.timeout", cfg.Provider.Anthropic.Timeout)...)
	default:
		errs = append(errs, fmt.Errorf("config: provider.backend %q is not openai or anthropic", cfg.Provider.Backend))
	}

	switch cfg.Provider.Format {
	case "plain", "rich_text", "card":
	default:
		errs = append(errs, fmt.Errorf("config: provider.format %q is not plain/rich_text/card", cfg.Provider.Format))
	}

	switch cfg.Conversation.Backend {
	case "memory":
	case "sqlite":
		if cfg.Conversation.Path == "" {
			errs = append(errs, errors.New("config: conversation.path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: conversation.backend %q is not memory or sqlite", cfg.Conversation.Backend))
	}
	if cfg.Conversation.MaxHistory < 0 {
		errs = append(errs, errors.New("config: conversation.max_history must not be negative"))
	}
	errs = append(errs, checkDuration("conversation.max_age", cfg.Conversation.MaxAge)...)

	if cfg.Stream.ChunkThreshold < 0 {
		errs = append(errs, errors.New("config: stream.chunk_threshold must not be negative"))
	}
	errs = append(errs, checkDuration("stream.time_threshold", cfg.Stream.TimeThreshold)...)

	if cfg.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("config: retry.max_attempts must be at least 1"))
	}
	if cfg.Retry.BackoffMultiplier < 1 {
		errs = append(errs, errors.New("config: retry.backoff_multiplier must be at least 1"))
	}
	errs = append(errs, checkDuration("retry.initial_delay", cfg.Retry.InitialDelay)...)
	errs = append(errs, checkDuration("retry.max_delay", cfg.Retry.MaxDelay)...)

	return errors.Join(errs...)
}

func checkDuration(field, value string) []error {
	if value == "" {
		return nil
	}
	if _, err := time.ParseDuration(value); err != nil {
		return []error{fmt.Errorf("config: %s: invalid duration %q", field, value)}
	}
	return nil
}
