package bridge

import (
	"context"

	"github.com/wukaijin/moltbot-with-lark/internal/transform"
	"github.com/wukaijin/moltbot-with-lark/pkg/message"
)

// cardEmitter delivers stream emissions to one chat. The first partial
// creates a card message; every later emission patches that same card with
// the full accumulated text, so out-of-date partials are simply replaced.
type cardEmitter struct {
	sender  Sender
	chatID  string
	format  transform.Format
	metrics *Metrics

	messageID string
}

func (e *cardEmitter) emit(ctx context.Context, _ string, content string, final bool) error {
	if final {
		defer e.count("final")
		return e.emitFinal(ctx, content)
	}
	defer e.count("partial")

	card := transform.RenderCard(content)
	if e.messageID == "" {
		id, err := e.sender.SendCard(ctx, e.chatID, card)
		if err != nil {
			return err
		}
		e.messageID = id
		return nil
	}
	return e.sender.UpdateCard(ctx, e.messageID, card)
}

func (e *cardEmitter) emitFinal(ctx context.Context, content string) error {
	// A card already on screen gets patched regardless of format, so the
	// conversation never ends on a stale partial.
	if e.messageID != "" {
		return e.sender.UpdateCard(ctx, e.messageID, transform.RenderCard(content))
	}

	// Nothing was streamed and there is nothing to say.
	if content == "" {
		return nil
	}

	out, err := transform.ToPlatformMessage(message.Chat{ID: e.chatID}, content, e.format)
	if err != nil {
		return err
	}
	_, err = e.sender.Send(ctx, out)
	return err
}

func (e *cardEmitter) count(kind string) {
	if e.metrics != nil {
		e.metrics.Emissions.WithLabelValues(kind).Inc()
	}
}
