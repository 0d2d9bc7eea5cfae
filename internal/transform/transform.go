// Package transform converts between the Lark message representation and
// the model's message representation, in both directions. All functions are
// pure and stateless; transformation failure is the only error condition.
package transform

import (
	"fmt"
	"time"

	"github.com/wukaijin/moltbot-with-lark/internal/provider"
)

// AttachmentKind tags a media reference by its content class.
type AttachmentKind string

// Attachment kinds.
const (
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment is a media reference extracted from a platform message.
type Attachment struct {
	Kind     AttachmentKind `json:"kind"`
	Key      string         `json:"key"`
	FileName string         `json:"file_name,omitempty"`
}

// Context identifies where a model input came from.
type Context struct {
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderKind     string    `json:"sender_kind"`
	Timestamp      time.Time `json:"timestamp"`
	MessageID      string    `json:"message_id"`
}

// ModelInput is the model-side representation of an inbound platform message.
type ModelInput struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Context     Context      `json:"context"`
}

// Format selects the outbound rendering applied to model response text.
type Format string

// Supported outbound formats.
const (
	FormatPlain    Format = "plain"
	FormatRichText Format = "rich_text"
	FormatCard     Format = "card"
)

// TransformError reports structured content that could not be parsed into
// the expected shape. It is never retryable.
type TransformError struct {
	Field  string
	Reason string
	Cause  error
}

func (e *TransformError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transform: %s: %s: %v", e.Field, e.Reason, e.Cause)
	}
	return fmt.Sprintf("transform: %s: %s", e.Field, e.Reason)
}

func (e *TransformError) Unwrap() error {
	return e.Cause
}

// ErrorKind implements provider.Classifiable.
func (e *TransformError) ErrorKind() provider.Kind {
	return provider.KindTransform
}
