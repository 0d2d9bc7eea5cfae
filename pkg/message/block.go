package message

import "encoding/json"

// ContentBlock is a flat union representing one piece of content inside a
// message. The Type field discriminates which fields are meaningful.
//
// Image and file blocks carry Lark media keys, not URLs: consumers must
// resolve a key through the platform client before the bytes are reachable.
type ContentBlock struct {
	Type     BlockType       `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageKey string          `json:"image_key,omitempty"`
	FileKey  string          `json:"file_key,omitempty"`
	FileName string          `json:"file_name,omitempty"`
	MIMEType string          `json:"mime_type,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// NewTextBlock creates a text content block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// NewPostBlock creates a rich-text post block carrying the raw post document.
func NewPostBlock(data json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockPost, Data: data}
}

// NewImageBlock creates an image content block from a Lark image key.
func NewImageBlock(imageKey string) ContentBlock {
	return ContentBlock{Type: BlockImage, ImageKey: imageKey}
}

// NewFileBlock creates a file content block from a Lark file key.
func NewFileBlock(fileKey, fileName string) ContentBlock {
	return ContentBlock{Type: BlockFile, FileKey: fileKey, FileName: fileName}
}

// NewRawBlock creates a raw block preserving unrecognized content as-is.
func NewRawBlock(data json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockRaw, Data: data}
}
