package transform

import (
	"encoding/json"
	"strings"

	"github.com/wukaijin/moltbot-with-lark/pkg/message"
)

// larkPost is the wire shape of a Lark rich-text post document: lines of
// tagged runs.
type larkPost struct {
	Title   string          `json:"title,omitempty"`
	Content [][]larkPostRun `json:"content"`
}

// larkPostRun is one tagged run inside a post line.
type larkPostRun struct {
	Tag    string `json:"tag"`
	Text   string `json:"text,omitempty"`
	Href   string `json:"href,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// ToModelMessage converts an inbound platform message into the model's
// input shape: plain text (with mention markers joined as an @name prefix),
// a kind-tagged attachment list, and a context record.
func ToModelMessage(in message.InboundMessage) (ModelInput, error) {
	var textParts []string
	var attachments []Attachment

	for _, block := range in.Blocks {
		switch block.Type {
		case message.BlockText:
			if block.Text != "" {
				textParts = append(textParts, block.Text)
			}

		case message.BlockPost:
			text, err := flattenPost(block.Data)
			if err != nil {
				return ModelInput{}, err
			}
			if text != "" {
				textParts = append(textParts, text)
			}

		case message.BlockImage:
			attachments = append(attachments, Attachment{Kind: AttachmentImage, Key: block.ImageKey})

		case message.BlockFile:
			attachments = append(attachments, Attachment{Kind: AttachmentFile, Key: block.FileKey, FileName: block.FileName})

		case message.BlockRaw:
			// Unrecognized platform content is dropped, not an error: the
			// channel already tagged it as opaque.
		}
	}

	text := strings.Join(textParts, "\n")
	if prefix := mentionPrefix(in.Mentions); prefix != "" {
		if text != "" {
			text = prefix + " " + text
		} else {
			text = prefix
		}
	}

	if text == "" && len(attachments) == 0 {
		return ModelInput{}, &TransformError{Field: "blocks", Reason: "message contains no recognized content"}
	}

	return ModelInput{
		Text:        text,
		Attachments: attachments,
		Context: Context{
			ConversationID: in.Chat.ID,
			SenderID:       in.Sender.ID,
			SenderKind:     string(in.Sender.Type),
			Timestamp:      in.Timestamp,
			MessageID:      in.ID,
		},
	}, nil
}

// mentionPrefix renders mention markers as a space-joined "@name" prefix.
func mentionPrefix(m *message.Mentions) string {
	if m.IsEmpty() || len(m.Names) == 0 {
		return ""
	}
	parts := make([]string, 0, len(m.Names))
	for _, name := range m.Names {
		parts = append(parts, "@"+name)
	}
	return strings.Join(parts, " ")
}

// flattenPost extracts plain text from a Lark post document. Text and link
// runs contribute their text, mention runs contribute nothing here (they
// are carried separately in Mentions).
func flattenPost(data []byte) (string, error) {
	if len(data) == 0 {
		return "", &TransformError{Field: "post", Reason: "empty post document"}
	}

	var post larkPost
	if err := json.Unmarshal(data, &post); err != nil {
		return "", &TransformError{Field: "post", Reason: "unparseable post document", Cause: err}
	}

	var lines []string
	for _, line := range post.Content {
		var sb strings.Builder
		for _, run := range line {
			switch run.Tag {
			case "text", "a":
				sb.WriteString(run.Text)
			}
		}
		lines = append(lines, sb.String())
	}
	return strings.Join(lines, "\n"), nil
}
