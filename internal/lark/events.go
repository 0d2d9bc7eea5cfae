package lark

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wukaijin/moltbot-with-lark/pkg/message"
)

// EventMessageReceive is the event type for inbound chat messages.
const EventMessageReceive = "im.message.receive_v1"

// Event is the v2 event envelope delivered by webhook and websocket alike.
type Event struct {
	Schema string          `json:"schema"`
	Header EventHeader     `json:"header"`
	Event  json.RawMessage `json:"event"`
}

// EventHeader carries event routing metadata.
type EventHeader struct {
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	CreateTime string `json:"create_time"`
	Token      string `json:"token"`
	AppID      string `json:"app_id"`
}

// messageReceiveEvent is the im.message.receive_v1 payload.
type messageReceiveEvent struct {
	Sender struct {
		SenderID struct {
			OpenID string `json:"open_id"`
		} `json:"sender_id"`
		SenderType string `json:"sender_type"`
	} `json:"sender"`
	Message struct {
		MessageID   string `json:"message_id"`
		RootID      string `json:"root_id"`
		ParentID    string `json:"parent_id"`
		CreateTime  string `json:"create_time"`
		ChatID      string `json:"chat_id"`
		ChatType    string `json:"chat_type"`
		MessageType string `json:"message_type"`
		Content     string `json:"content"`
		Mentions    []struct {
			Key string `json:"key"`
			ID  struct {
				OpenID string `json:"open_id"`
			} `json:"id"`
			Name string `json:"name"`
		} `json:"mentions"`
	} `json:"message"`
}

// ConvertInbound transforms a message-receive event into the
// platform-agnostic inbound shape. botOpenID marks which mention counts as
// addressing the bot.
func ConvertInbound(ev *Event, botOpenID string) (message.InboundMessage, error) {
	if ev.Header.EventType != EventMessageReceive {
		return message.InboundMessage{}, fmt.Errorf("lark: unexpected event type %q", ev.Header.EventType)
	}

	var recv messageReceiveEvent
	if err := json.Unmarshal(ev.Event, &recv); err != nil {
		return message.InboundMessage{}, fmt.Errorf("lark: decode message event: %w", err)
	}

	inbound := message.InboundMessage{
		ID:        recv.Message.MessageID,
		Timestamp: parseMillis(recv.Message.CreateTime),
		Sender: message.Sender{
			ID:   recv.Sender.SenderID.OpenID,
			Type: mapSenderType(recv.Sender.SenderType),
		},
		Chat: message.Chat{
			ID:   recv.Message.ChatID,
			Type: mapChatType(recv.Message.ChatType),
		},
		RootID:   recv.Message.RootID,
		ParentID: recv.Message.ParentID,
		Raw:      ev.Event,
	}

	blocks, err := convertContent(recv.Message.MessageType, recv.Message.Content, mentionKeys(&recv))
	if err != nil {
		return message.InboundMessage{}, err
	}
	inbound.Blocks = blocks
	inbound.Mentions = extractMentions(&recv, botOpenID)

	return inbound, nil
}

// mentionKeys returns the placeholder keys ("@_user_1" ...) to strip from
// text content.
func mentionKeys(recv *messageReceiveEvent) []string {
	keys := make([]string, 0, len(recv.Message.Mentions))
	for _, m := range recv.Message.Mentions {
		keys = append(keys, m.Key)
	}
	return keys
}

// convertContent builds content blocks from the typed content document.
func convertContent(messageType, content string, mentionKeys []string) ([]message.ContentBlock, error) {
	switch messageType {
	case "text":
		var doc struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(content), &doc); err != nil {
			return nil, fmt.Errorf("lark: decode text content: %w", err)
		}
		text := stripMentionKeys(doc.Text, mentionKeys)
		if text == "" {
			return nil, nil
		}
		return []message.ContentBlock{message.NewTextBlock(text)}, nil

	case "post":
		return []message.ContentBlock{message.NewPostBlock(json.RawMessage(content))}, nil

	case "image":
		var doc struct {
			ImageKey string `json:"image_key"`
		}
		if err := json.Unmarshal([]byte(content), &doc); err != nil {
			return nil, fmt.Errorf("lark: decode image content: %w", err)
		}
		return []message.ContentBlock{message.NewImageBlock(doc.ImageKey)}, nil

	case "file":
		var doc struct {
			FileKey  string `json:"file_key"`
			FileName string `json:"file_name"`
		}
		if err := json.Unmarshal([]byte(content), &doc); err != nil {
			return nil, fmt.Errorf("lark: decode file content: %w", err)
		}
		return []message.ContentBlock{message.NewFileBlock(doc.FileKey, doc.FileName)}, nil

	default:
		return []message.ContentBlock{message.NewRawBlock(json.RawMessage(content))}, nil
	}
}

// stripMentionKeys removes mention placeholders and collapses the leftover
// whitespace.
func stripMentionKeys(text string, keys []string) string {
	for _, key := range keys {
		text = strings.ReplaceAll(text, key, "")
	}
	return strings.TrimSpace(strings.Join(strings.Fields(text), " "))
}

// extractMentions pulls mention metadata and detects bot mentions.
func extractMentions(recv *messageReceiveEvent, botOpenID string) *message.Mentions {
	if len(recv.Message.Mentions) == 0 {
		return nil
	}
	var mentions message.Mentions
	for _, m := range recv.Message.Mentions {
		if botOpenID != "" && m.ID.OpenID == botOpenID {
			mentions.BotMentioned = true
			continue
		}
		mentions.IDs = append(mentions.IDs, m.ID.OpenID)
		mentions.Names = append(mentions.Names, m.Name)
	}
	if mentions.IsEmpty() {
		return nil
	}
	return &mentions
}

// parseMillis converts a millisecond epoch string to a time. A malformed
// value yields the zero time rather than an error: timestamps are
// diagnostic, not load-bearing.
func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// mapSenderType converts Lark sender types to the message contract.
func mapSenderType(larkType string) message.SenderType {
	if larkType == "app" || larkType == "bot" {
		return message.SenderBot
	}
	return message.SenderUser
}

// mapChatType converts Lark chat types to the message contract.
func mapChatType(larkType string) message.ChatType {
	if larkType == "p2p" {
		return message.ChatDM
	}
	return message.ChatGroup
}
