package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wukaijin/moltbot-with-lark/internal/conversation"
	"github.com/wukaijin/moltbot-with-lark/internal/provider"
	"github.com/wukaijin/moltbot-with-lark/internal/retry"
	"github.com/wukaijin/moltbot-with-lark/internal/stream"
	"github.com/wukaijin/moltbot-with-lark/internal/transform"
	"github.com/wukaijin/moltbot-with-lark/pkg/message"
)

// fakeSender records every delivery and can be made to fail.
type fakeSender struct {
	mu      sync.Mutex
	texts   []string
	cards   []string // rendered card text, creation order
	patches []string // patched card text, patch order
	sendErr error

	nextID int
}

func (s *fakeSender) Send(ctx context.Context, msg message.OutboundMessage) (string, error) {
	if msg.Card != nil {
		return s.SendCard(ctx, msg.Chat.ID, msg.Card)
	}
	return s.SendText(ctx, msg.Chat.ID, msg.TextContent())
}

func (s *fakeSender) SendText(_ context.Context, _ string, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return "", s.sendErr
	}
	s.texts = append(s.texts, text)
	return s.newID(), nil
}

func (s *fakeSender) SendCard(_ context.Context, _ string, card *message.Card) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return "", s.sendErr
	}
	s.cards = append(s.cards, cardText(card))
	return s.newID(), nil
}

func (s *fakeSender) UpdateCard(_ context.Context, _ string, card *message.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.patches = append(s.patches, cardText(card))
	return nil
}

func (s *fakeSender) newID() string {
	s.nextID++
	return fmt.Sprintf("om_%d", s.nextID)
}

func cardText(card *message.Card) string {
	var parts []string
	for _, el := range card.Elements {
		if el.Text != "" {
			parts = append(parts, el.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// fakeProvider replays scripted chunks and records requests.
type fakeProvider struct {
	chunks    []provider.StreamChunk
	streamErr error

	mu       sync.Mutex
	requests []provider.CompletionRequest
}

func (p *fakeProvider) Complete(context.Context, provider.CompletionRequest) (provider.CompletionResponse, error) {
	return provider.CompletionResponse{}, errors.New("not implemented")
}

func (p *fakeProvider) Stream(_ context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if p.streamErr != nil {
		return nil, p.streamErr
	}
	ch := make(chan provider.StreamChunk, len(p.chunks))
	for _, c := range p.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (p *fakeProvider) ModelName() string { return "fake-model" }

func textChunks(parts ...string) []provider.StreamChunk {
	chunks := make([]provider.StreamChunk, 0, len(parts)+1)
	for _, p := range parts {
		chunks = append(chunks, provider.StreamChunk{Content: p})
	}
	chunks = append(chunks, provider.StreamChunk{
		FinishReason: provider.FinishReasonStop,
		Usage:        &provider.TokenUsage{PromptTokens: 8, CompletionTokens: 4, TotalTokens: 12},
	})
	return chunks
}

func userMessage(chatID, text string) message.InboundMessage {
	return message.InboundMessage{
		ID:        "msg_1",
		Timestamp: time.Now(),
		Sender:    message.Sender{ID: "ou_user", Type: message.SenderUser},
		Chat:      message.Chat{ID: chatID, Type: message.ChatDM},
		Blocks:    []message.ContentBlock{message.NewTextBlock(text)},
	}
}

func newTestBridge(t *testing.T, prov *fakeProvider, sender *fakeSender, opts Options) (*Bridge, conversation.Store) {
	t.Helper()
	store := conversation.NewMemoryStore(conversation.DefaultPolicy())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := NewMetrics(prometheus.NewRegistry())
	if opts.RetryPolicy.MaxAttempts == 0 {
		opts.RetryPolicy = retry.Policy{
			MaxAttempts:       3,
			InitialDelay:      time.Microsecond,
			MaxDelay:          time.Microsecond,
			BackoffMultiplier: 2,
			IsRetryable:       provider.IsRetryable,
		}
	}
	return New(store, prov, sender, logger, metrics, opts), store
}

func TestHandleInbound_RecordsBothTurns(t *testing.T) {
	prov := &fakeProvider{chunks: textChunks("Hello", " there")}
	sender := &fakeSender{}
	b, store := newTestBridge(t, prov, sender, Options{SystemPrompt: "be brief"})

	if err := b.HandleInbound(context.Background(), userMessage("oc_1", "hi")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	history, err := store.History("oc_1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Role != provider.MessageRoleUser || history[0].Content != "hi" {
		t.Errorf("first turn = %+v", history[0])
	}
	if history[1].Role != provider.MessageRoleAssistant || history[1].Content != "Hello there" {
		t.Errorf("second turn = %+v", history[1])
	}
}

func TestHandleInbound_SystemPromptNotStored(t *testing.T) {
	prov := &fakeProvider{chunks: textChunks("ok")}
	sender := &fakeSender{}
	b, store := newTestBridge(t, prov, sender, Options{SystemPrompt: "be brief"})

	if err := b.HandleInbound(context.Background(), userMessage("oc_1", "hi")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	if len(prov.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(prov.requests))
	}
	msgs := prov.requests[0].Messages
	if msgs[0].Role != provider.MessageRoleSystem || msgs[0].Content != "be brief" {
		t.Errorf("first request message = %+v, want system prompt", msgs[0])
	}

	history, _ := store.History("oc_1")
	for _, m := range history {
		if m.Role == provider.MessageRoleSystem {
			t.Error("system prompt leaked into stored history")
		}
	}
}

func TestHandleInbound_HistoryFlowsIntoRequest(t *testing.T) {
	prov := &fakeProvider{chunks: textChunks("second answer")}
	sender := &fakeSender{}
	b, store := newTestBridge(t, prov, sender, Options{})

	_ = store.Append("oc_1", conversation.Message{Role: provider.MessageRoleUser, Content: "first question"})
	_ = store.Append("oc_1", conversation.Message{Role: provider.MessageRoleAssistant, Content: "first answer"})

	if err := b.HandleInbound(context.Background(), userMessage("oc_1", "second question")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	msgs := prov.requests[0].Messages
	if len(msgs) != 3 {
		t.Fatalf("request messages = %d, want 3", len(msgs))
	}
	if msgs[0].Content != "first question" || msgs[1].Content != "first answer" {
		t.Errorf("history not carried: %+v", msgs[:2])
	}
	if msgs[2].Content != "second question" {
		t.Errorf("last message = %+v, want the new turn", msgs[2])
	}
}

func TestHandleInbound_CardCreatedThenPatched(t *testing.T) {
	long := strings.Repeat("x", 120)
	prov := &fakeProvider{chunks: textChunks(long, "tail")}
	sender := &fakeSender{}
	b, _ := newTestBridge(t, prov, sender, Options{
		StreamPolicy: stream.Policy{ChunkThreshold: 100, TimeThreshold: time.Hour, EnablePartials: true},
	})

	if err := b.HandleInbound(context.Background(), userMessage("oc_1", "go")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	if len(sender.cards) != 1 {
		t.Fatalf("cards created = %d, want 1", len(sender.cards))
	}
	if sender.cards[0] != long {
		t.Errorf("partial card text = %q, want the first threshold crossing", sender.cards[0])
	}
	if len(sender.patches) != 1 || sender.patches[0] != long+"tail" {
		t.Errorf("patches = %v, want final full text", sender.patches)
	}
}

func TestHandleInbound_PartialsDisabledSendsOnce(t *testing.T) {
	prov := &fakeProvider{chunks: textChunks("all", " at", " once")}
	sender := &fakeSender{}
	b, _ := newTestBridge(t, prov, sender, Options{
		Format:       transform.FormatPlain,
		StreamPolicy: stream.Policy{ChunkThreshold: 1, TimeThreshold: time.Nanosecond, EnablePartials: false},
	})

	if err := b.HandleInbound(context.Background(), userMessage("oc_1", "go")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	if len(sender.cards) != 0 || len(sender.patches) != 0 {
		t.Errorf("cards/patches = %d/%d, want none", len(sender.cards), len(sender.patches))
	}
	if len(sender.texts) != 1 || sender.texts[0] != "all at once" {
		t.Errorf("texts = %v, want single full response", sender.texts)
	}
}

func TestHandleInbound_RichTextFinalIsRendered(t *testing.T) {
	prov := &fakeProvider{chunks: textChunks("be _fast_ here")}
	sender := &fakeSender{}
	b, _ := newTestBridge(t, prov, sender, Options{
		Format:       transform.FormatRichText,
		StreamPolicy: stream.Policy{ChunkThreshold: 1000, TimeThreshold: time.Hour, EnablePartials: false},
	})

	if err := b.HandleInbound(context.Background(), userMessage("oc_1", "go")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	// The final text passes through the platform rendering, so markdown
	// italics come out in Lark's dialect.
	if len(sender.texts) != 1 || sender.texts[0] != "be *fast* here" {
		t.Errorf("texts = %v, want the converted markdown", sender.texts)
	}
}

func TestHandleInbound_BotMessagesIgnored(t *testing.T) {
	prov := &fakeProvider{chunks: textChunks("never")}
	sender := &fakeSender{}
	b, _ := newTestBridge(t, prov, sender, Options{})

	msg := userMessage("oc_1", "hi")
	msg.Sender.Type = message.SenderBot

	if err := b.HandleInbound(context.Background(), msg); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(prov.requests) != 0 {
		t.Error("bot message reached the provider")
	}
}

func TestHandleInbound_GroupRequiresMention(t *testing.T) {
	prov := &fakeProvider{chunks: textChunks("hi")}
	sender := &fakeSender{}
	b, _ := newTestBridge(t, prov, sender, Options{RequireMention: true})

	msg := userMessage("oc_group", "hello all")
	msg.Chat.Type = message.ChatGroup

	if err := b.HandleInbound(context.Background(), msg); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(prov.requests) != 0 {
		t.Error("unmentioned group message reached the provider")
	}

	msg.Mentions = &message.Mentions{BotMentioned: true}
	if err := b.HandleInbound(context.Background(), msg); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(prov.requests) != 1 {
		t.Error("mentioned group message did not reach the provider")
	}
}

func TestHandleInbound_ClearCommand(t *testing.T) {
	prov := &fakeProvider{}
	sender := &fakeSender{}
	b, store := newTestBridge(t, prov, sender, Options{})

	_ = store.Append("oc_1", conversation.Message{Role: provider.MessageRoleUser, Content: "old"})

	if err := b.HandleInbound(context.Background(), userMessage("oc_1", "/clear")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	history, _ := store.History("oc_1")
	if history != nil {
		t.Errorf("history = %v, want cleared", history)
	}
	if len(sender.texts) != 1 || !strings.Contains(sender.texts[0], "cleared") {
		t.Errorf("texts = %v, want confirmation", sender.texts)
	}
	if len(prov.requests) != 0 {
		t.Error("command reached the provider")
	}
}

func TestHandleInbound_ProviderFailureLeavesNoHistory(t *testing.T) {
	prov := &fakeProvider{streamErr: provider.ErrAuth}
	sender := &fakeSender{}
	b, store := newTestBridge(t, prov, sender, Options{})

	err := b.HandleInbound(context.Background(), userMessage("oc_1", "hi"))
	if err == nil {
		t.Fatal("expected error for failing provider")
	}

	history, _ := store.History("oc_1")
	if history != nil {
		t.Errorf("history = %v, want empty after failure", history)
	}
	if len(sender.texts) != 1 {
		t.Fatalf("texts = %v, want one failure notice", sender.texts)
	}
}

func TestHandleInbound_TransientFailureExhaustsRetries(t *testing.T) {
	prov := &fakeProvider{streamErr: provider.ErrRateLimit}
	sender := &fakeSender{}
	b, _ := newTestBridge(t, prov, sender, Options{})

	err := b.HandleInbound(context.Background(), userMessage("oc_1", "hi"))

	var exhausted *retry.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if len(prov.requests) != 3 {
		t.Errorf("stream attempts = %d, want 3", len(prov.requests))
	}
}

func TestHandleInbound_UnreadableContentGetsNotice(t *testing.T) {
	prov := &fakeProvider{}
	sender := &fakeSender{}
	b, _ := newTestBridge(t, prov, sender, Options{})

	msg := userMessage("oc_1", "")
	msg.Blocks = nil

	if err := b.HandleInbound(context.Background(), msg); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(sender.texts) != 1 {
		t.Fatalf("texts = %v, want one notice", sender.texts)
	}
	if len(prov.requests) != 0 {
		t.Error("empty message reached the provider")
	}
}

func TestUserFacingMessage(t *testing.T) {
	if got := userFacingMessage(provider.KindTransform); !strings.Contains(got, "read") {
		t.Errorf("transform message = %q", got)
	}
	if userFacingMessage(provider.KindTransient) == userFacingMessage(provider.KindPermanent) {
		t.Error("transient and permanent failures should read differently")
	}
}
