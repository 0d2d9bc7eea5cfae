// Package bridge wires the Lark channel to an LLM backend: it converts
// inbound messages into model input, streams the completion back as card
// updates, and records both turns in the conversation store.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wukaijin/moltbot-with-lark/internal/conversation"
	"github.com/wukaijin/moltbot-with-lark/internal/lark"
	"github.com/wukaijin/moltbot-with-lark/internal/provider"
	"github.com/wukaijin/moltbot-with-lark/internal/retry"
	"github.com/wukaijin/moltbot-with-lark/internal/stream"
	"github.com/wukaijin/moltbot-with-lark/internal/transform"
	"github.com/wukaijin/moltbot-with-lark/pkg/message"
)

// Sender delivers outbound messages to the platform. *lark.Client
// implements it.
type Sender interface {
	Send(ctx context.Context, msg message.OutboundMessage) (string, error)
	SendText(ctx context.Context, chatID, text string) (string, error)
	SendCard(ctx context.Context, chatID string, card *message.Card) (string, error)
	UpdateCard(ctx context.Context, messageID string, card *message.Card) error
}

var _ Sender = (*lark.Client)(nil)

// Options tunes bridge behaviour. Zero values fall back to defaults.
type Options struct {
	// SystemPrompt is prepended to every completion request. It is never
	// stored in conversation history.
	SystemPrompt string

	// Format selects the outbound rendering for final responses.
	Format transform.Format

	// RequireMention ignores group messages that do not mention the bot.
	RequireMention bool

	StreamPolicy stream.Policy
	RetryPolicy  retry.Policy
}

// Bridge orchestrates one channel/provider pair.
type Bridge struct {
	store    conversation.Store
	prov     provider.Provider
	sender   Sender
	executor *retry.Executor
	logger   *slog.Logger
	metrics  *Metrics
	opts     Options

	// One in-flight response per conversation; later messages in the same
	// conversation wait their turn.
	mu      sync.Mutex
	flights map[string]*sync.Mutex
}

// New creates a bridge. metrics may be nil to disable instrumentation.
func New(store conversation.Store, prov provider.Provider, sender Sender, logger *slog.Logger, metrics *Metrics, opts Options) *Bridge {
	if opts.Format == "" {
		opts.Format = transform.FormatCard
	}
	if opts.RetryPolicy.MaxAttempts == 0 {
		opts.RetryPolicy = retry.DefaultPolicy()
	}
	if opts.StreamPolicy == (stream.Policy{}) {
		opts.StreamPolicy = stream.DefaultPolicy()
	}
	return &Bridge{
		store:    store,
		prov:     prov,
		sender:   sender,
		executor: retry.NewExecutor(),
		logger:   logger,
		metrics:  metrics,
		opts:     opts,
		flights:  make(map[string]*sync.Mutex),
	}
}

// LarkHandler adapts the bridge to the Lark event stream. Events other
// than message receipt are ignored.
func (b *Bridge) LarkHandler(botOpenID string) lark.EventHandler {
	return func(ctx context.Context, ev *lark.Event) error {
		if ev.Header.EventType != lark.EventMessageReceive {
			return nil
		}
		msg, err := lark.ConvertInbound(ev, botOpenID)
		if err != nil {
			return err
		}
		return b.HandleInbound(ctx, msg)
	}
}

// HandleInbound processes one platform message end to end.
func (b *Bridge) HandleInbound(ctx context.Context, msg message.InboundMessage) error {
	if msg.Sender.Type == message.SenderBot {
		b.countInbound("ignored")
		return nil
	}
	if msg.IsGroup() && b.opts.RequireMention && (msg.Mentions == nil || !msg.Mentions.BotMentioned) {
		b.countInbound("ignored")
		return nil
	}

	if cmd := strings.TrimSpace(msg.TextContent()); cmd == "/clear" || cmd == "/reset" {
		return b.handleClear(ctx, msg)
	}

	input, err := transform.ToModelMessage(msg)
	if err != nil {
		b.countInbound("transform_error")
		b.logger.Warn("inbound message not convertible",
			"message_id", msg.ID,
			"error", err,
		)
		b.apologize(ctx, msg.Chat.ID, err)
		return nil
	}
	b.countInbound("accepted")

	conversationID := msg.Chat.ID
	lock := b.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	if b.metrics != nil {
		b.metrics.ActiveStreams.Inc()
		defer b.metrics.ActiveStreams.Dec()
		timer := prometheus.NewTimer(b.metrics.ResponseSeconds)
		defer timer.ObserveDuration()
	}

	result, err := b.respond(ctx, conversationID, input)
	if err != nil {
		b.reportFailure(ctx, msg.Chat.ID, err)
		return err
	}

	b.record(conversationID, input.Text, result.Text)

	if b.metrics != nil && result.Usage.CompletionTokens > 0 {
		b.metrics.ResponseTokens.Add(float64(result.Usage.CompletionTokens))
	}
	b.logger.Info("response delivered",
		"conversation_id", conversationID,
		"model", b.prov.ModelName(),
		"finish_reason", result.FinishReason,
		"completion_tokens", result.Usage.CompletionTokens,
	)
	return nil
}

// respond runs one completion stream and delivers it to the chat.
func (b *Bridge) respond(ctx context.Context, conversationID string, input transform.ModelInput) (stream.Result, error) {
	history, err := b.store.History(conversationID)
	if err != nil {
		return stream.Result{}, err
	}

	req := b.buildRequest(history, input.Text)

	chunks, err := retry.ExecuteValue(ctx, b.executor, b.opts.RetryPolicy, func(ctx context.Context) (<-chan provider.StreamChunk, error) {
		return b.prov.Stream(ctx, req)
	})
	if err != nil {
		return stream.Result{}, err
	}

	emitter := &cardEmitter{
		sender:  b.sender,
		chatID:  conversationID,
		format:  b.opts.Format,
		metrics: b.metrics,
	}
	proc := stream.New(conversationID, emitter.emit, b.opts.StreamPolicy, b.executor, b.opts.RetryPolicy)
	return proc.Process(ctx, chunks)
}

// buildRequest assembles the completion request: system prompt, stored
// history, then the new user turn.
func (b *Bridge) buildRequest(history []conversation.Message, userText string) provider.CompletionRequest {
	msgs := make([]provider.LLMMessage, 0, len(history)+2)
	if b.opts.SystemPrompt != "" {
		msgs = append(msgs, provider.LLMMessage{
			Role:    provider.MessageRoleSystem,
			Content: b.opts.SystemPrompt,
		})
	}
	for _, m := range history {
		msgs = append(msgs, provider.LLMMessage{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, provider.LLMMessage{
		Role:    provider.MessageRoleUser,
		Content: userText,
	})
	return provider.CompletionRequest{Messages: msgs}
}

// record appends the completed exchange to history. Both turns are written
// only after successful delivery so failed attempts leave no trace.
func (b *Bridge) record(conversationID, userText, assistantText string) {
	if err := b.store.Append(conversationID, conversation.Message{
		Role:    provider.MessageRoleUser,
		Content: userText,
	}); err != nil {
		b.logger.Error("append user turn", "conversation_id", conversationID, "error", err)
		return
	}
	if err := b.store.Append(conversationID, conversation.Message{
		Role:    provider.MessageRoleAssistant,
		Content: assistantText,
	}); err != nil {
		b.logger.Error("append assistant turn", "conversation_id", conversationID, "error", err)
	}
}

// handleClear wipes the conversation and confirms.
func (b *Bridge) handleClear(ctx context.Context, msg message.InboundMessage) error {
	b.countInbound("command")
	if err := b.store.Clear(msg.Chat.ID); err != nil {
		return err
	}
	_, err := b.sender.SendText(ctx, msg.Chat.ID, "Conversation history cleared.")
	return err
}

// reportFailure classifies a pipeline error, updates metrics, and tells
// the user something went wrong. Cancellation stays silent.
func (b *Bridge) reportFailure(ctx context.Context, chatID string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	kind := provider.Classify(err)
	if kind == provider.KindExhausted && b.metrics != nil {
		b.metrics.RetriesExhausted.Inc()
	}
	b.logger.Error("response failed",
		"conversation_id", chatID,
		"kind", kind,
		"error", err,
	)
	b.apologize(ctx, chatID, err)
}

// apologize sends a user-facing failure notice on a best-effort basis.
func (b *Bridge) apologize(ctx context.Context, chatID string, err error) {
	text := userFacingMessage(provider.Classify(err))
	if _, sendErr := b.sender.SendText(ctx, chatID, text); sendErr != nil {
		b.logger.Warn("failure notice not delivered", "conversation_id", chatID, "error", sendErr)
	}
}

// userFacingMessage maps an error kind to the text shown in chat.
func userFacingMessage(kind provider.Kind) string {
	switch kind {
	case provider.KindTransform:
		return "I couldn't read that message. Plain text works best."
	case provider.KindExhausted, provider.KindTransient:
		return "The model is temporarily unavailable. Please try again in a moment."
	default:
		return "Something went wrong handling that message."
	}
}

func (b *Bridge) conversationLock(conversationID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	lock, ok := b.flights[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		b.flights[conversationID] = lock
	}
	return lock
}

func (b *Bridge) countInbound(outcome string) {
	if b.metrics != nil {
		b.metrics.InboundMessages.WithLabelValues(outcome).Inc()
	}
}
