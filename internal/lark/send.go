package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/wukaijin/moltbot-with-lark/pkg/message"
)

// sentMessage is the data payload of a message-create response.
type sentMessage struct {
	MessageID string `json:"message_id"`
}

// createMessageRequest is the message-create request body. Content is the
// JSON-encoded inner document, matching the Lark wire contract.
type createMessageRequest struct {
	ReceiveID string `json:"receive_id"`
	MsgType   string `json:"msg_type"`
	Content   string `json:"content"`
}

// patchMessageRequest replaces an interactive card's content wholesale.
type patchMessageRequest struct {
	Content string `json:"content"`
}

// SendText sends a plain text message to a chat and returns the platform
// message ID.
func (c *Client) SendText(ctx context.Context, chatID, text string) (string, error) {
	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("lark: marshal text content: %w", err)
	}
	return c.createMessage(ctx, chatID, "text", string(content))
}

// SendCard sends an interactive card message to a chat and returns the
// platform message ID.
func (c *Client) SendCard(ctx context.Context, chatID string, card *message.Card) (string, error) {
	content, err := renderCardJSON(card)
	if err != nil {
		return "", err
	}
	return c.createMessage(ctx, chatID, "interactive", content)
}

// UpdateCard replaces a previously sent card's content. Lark card patches
// are wholesale replacements, which is why partial emissions carry the
// entire accumulated buffer rather than deltas.
func (c *Client) UpdateCard(ctx context.Context, messageID string, card *message.Card) error {
	content, err := renderCardJSON(card)
	if err != nil {
		return err
	}
	_, err = do[struct{}](ctx, c, http.MethodPatch,
		"/open-apis/im/v1/messages/"+messageID,
		patchMessageRequest{Content: content})
	return err
}

// Send delivers an outbound message: card messages as interactive cards,
// block messages as text.
func (c *Client) Send(ctx context.Context, msg message.OutboundMessage) (string, error) {
	if msg.Card != nil {
		return c.SendCard(ctx, msg.Chat.ID, msg.Card)
	}
	return c.SendText(ctx, msg.Chat.ID, msg.TextContent())
}

func (c *Client) createMessage(ctx context.Context, chatID, msgType, content string) (string, error) {
	sent, err := do[sentMessage](ctx, c, http.MethodPost,
		"/open-apis/im/v1/messages?receive_id_type=chat_id",
		createMessageRequest{ReceiveID: chatID, MsgType: msgType, Content: content})
	if err != nil {
		return "", err
	}
	return sent.MessageID, nil
}

// cardDocument is the interactive-card wire shape.
type cardDocument struct {
	Config   cardConfig    `json:"config"`
	Header   *cardHeader   `json:"header,omitempty"`
	Elements []cardElement `json:"elements"`
}

type cardConfig struct {
	WideScreenMode bool `json:"wide_screen_mode"`
}

type cardHeader struct {
	Title cardText `json:"title"`
}

type cardElement struct {
	Tag  string    `json:"tag"`
	Text *cardText `json:"text,omitempty"`
}

type cardText struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

// renderCardJSON converts the platform-neutral card document into Lark
// interactive-card JSON.
func renderCardJSON(card *message.Card) (string, error) {
	doc := cardDocument{
		Config:   cardConfig{WideScreenMode: true},
		Elements: make([]cardElement, 0, len(card.Elements)),
	}
	if card.Title != "" {
		doc.Header = &cardHeader{Title: cardText{Tag: "plain_text", Content: card.Title}}
	}

	for _, el := range card.Elements {
		switch el.Type {
		case message.ElementDivider:
			doc.Elements = append(doc.Elements, cardElement{Tag: "hr"})
		case message.ElementHeading:
			doc.Elements = append(doc.Elements, cardElement{
				Tag:  "div",
				Text: &cardText{Tag: "lark_md", Content: "**" + el.Text + "**"},
			})
		default:
			doc.Elements = append(doc.Elements, cardElement{
				Tag:  "div",
				Text: &cardText{Tag: "lark_md", Content: el.Text},
			})
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("lark: marshal card: %w", err)
	}
	return string(data), nil
}
