package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/wukaijin/moltbot-with-lark/internal/bridge"
	"github.com/wukaijin/moltbot-with-lark/internal/config"
	"github.com/wukaijin/moltbot-with-lark/internal/conversation"
	"github.com/wukaijin/moltbot-with-lark/internal/cron"
	"github.com/wukaijin/moltbot-with-lark/internal/gateway"
	"github.com/wukaijin/moltbot-with-lark/internal/lark"
	"github.com/wukaijin/moltbot-with-lark/internal/logging"
	"github.com/wukaijin/moltbot-with-lark/internal/provider"
	"github.com/wukaijin/moltbot-with-lark/internal/provider/anthropic"
	"github.com/wukaijin/moltbot-with-lark/internal/provider/openai"
	"github.com/wukaijin/moltbot-with-lark/internal/retry"
	"github.com/wukaijin/moltbot-with-lark/internal/stream"
	"github.com/wukaijin/moltbot-with-lark/internal/transform"
)

// run wires every component from config and blocks until shutdown.
func run(cfg *config.Config) error {
	logger := newLogger(cfg)

	store, err := newStore(cfg.Conversation)
	if err != nil {
		return err
	}

	prov, err := newProvider(cfg.Provider)
	if err != nil {
		return err
	}

	client := lark.NewClient(cfg.Lark.AppID, cfg.Lark.AppSecret, cfg.Lark.BaseURL)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := bridge.NewMetrics(registry)

	b := bridge.New(store, prov, client, logger, metrics, bridge.Options{
		SystemPrompt:   cfg.Provider.SystemPrompt,
		Format:         transform.Format(cfg.Provider.Format),
		RequireMention: cfg.Lark.RequireMention,
		StreamPolicy: stream.Policy{
			ChunkThreshold: cfg.Stream.ChunkThreshold,
			TimeThreshold:  cfg.Stream.TimeThresholdDuration(),
			EnablePartials: *cfg.Stream.EnablePartials,
		},
		RetryPolicy: retry.Policy{
			MaxAttempts:       cfg.Retry.MaxAttempts,
			InitialDelay:      cfg.Retry.InitialDelayDuration(),
			MaxDelay:          cfg.Retry.MaxDelayDuration(),
			BackoffMultiplier: cfg.Retry.BackoffMultiplier,
			IsRetryable:       provider.IsRetryable,
		},
	})
	handler := b.LarkHandler(cfg.Lark.BotOpenID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := cron.NewScheduler(logger)
	if err := scheduler.RegisterJob(&cron.ConversationSweepJob{
		Store:        store,
		Logger:       logger,
		ScheduleExpr: cfg.Conversation.SweepSchedule,
	}); err != nil {
		return err
	}
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer func() { _ = scheduler.Stop(context.Background()) }()

	if cfg.Gateway.Listen != "" {
		var webhook http.Handler
		if cfg.Lark.VerificationToken != "" {
			webhook = lark.NewWebhookHandler(cfg.Lark.VerificationToken, cfg.Lark.EncryptKey, handler, logger)
		}
		gw := gateway.New(store, logger, gateway.Options{
			Listen:     cfg.Gateway.Listen,
			AdminToken: cfg.Gateway.AdminToken,
			Webhook:    webhook,
			Registry:   registry,
		})
		if err := gw.Start(); err != nil {
			return err
		}
		defer func() { _ = gw.Stop(context.Background()) }()
	}

	logger.Info("moltbot started",
		"backend", cfg.Provider.Backend,
		"model", prov.ModelName(),
		"conversation_backend", cfg.Conversation.Backend,
	)

	if cfg.Lark.WSEndpoint != "" {
		return ignoreCanceled(lark.NewEventStream(cfg.Lark.WSEndpoint, handler, logger).Run(ctx))
	}

	<-ctx.Done()
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// newLogger builds the slog handler chain from config. Every secret the
// config carries is registered with the redactor so it never reaches
// log output.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	if cfg.Logging.Format == "json" {
		inner = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		inner = slog.NewTextHandler(os.Stderr, opts)
	}

	redactor := logging.NewRedactor(
		cfg.Lark.AppSecret,
		cfg.Lark.VerificationToken,
		cfg.Lark.EncryptKey,
		cfg.Provider.OpenAI.APIKey,
		cfg.Provider.Anthropic.APIKey,
		cfg.Gateway.AdminToken,
	)
	return slog.New(logging.NewRedactingHandler(inner, redactor))
}

// newStore builds the conversation store from config.
func newStore(cfg config.ConversationConfig) (conversation.Store, error) {
	policy := conversation.Policy{
		MaxHistory: cfg.MaxHistory,
		MaxAge:     cfg.MaxAgeDuration(),
	}
	if cfg.Backend == "sqlite" {
		return conversation.OpenSQLiteStore(cfg.Path, policy)
	}
	return conversation.NewMemoryStore(policy), nil
}

// newProvider builds the LLM backend from config.
func newProvider(cfg config.ProviderConfig) (provider.Provider, error) {
	switch cfg.Backend {
	case "anthropic":
		return anthropic.New(anthropic.Config{
			APIKey:    cfg.Anthropic.APIKey,
			Model:     cfg.Anthropic.Model,
			BaseURL:   cfg.Anthropic.BaseURL,
			MaxTokens: cfg.Anthropic.MaxTokens,
			Timeout:   parseDuration(cfg.Anthropic.Timeout),
		}), nil
	case "openai":
		pcfg := openai.Config{
			APIKey:      cfg.OpenAI.APIKey,
			Model:       cfg.OpenAI.Model,
			BaseURL:     cfg.OpenAI.BaseURL,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
			Timeout:     parseDuration(cfg.OpenAI.Timeout),
		}
		if err := pcfg.Validate(); err != nil {
			return nil, err
		}
		return openai.New(pcfg), nil
	default:
		return nil, fmt.Errorf("unknown provider backend %q", cfg.Backend)
	}
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
