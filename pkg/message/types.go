// Package message defines the platform-agnostic data contract between the
// Lark channel and the bridge. It supports text, rich-text posts, media
// references, mentions, and structured cards.
package message

// ChatType indicates the kind of conversation.
type ChatType string

const (
	// ChatDM is a direct (one-to-one) conversation.
	ChatDM ChatType = "dm"
	// ChatGroup is a multi-participant group conversation.
	ChatGroup ChatType = "group"
)

// BlockType discriminates the variant stored in a ContentBlock.
type BlockType string

// Supported block types.
const (
	BlockText  BlockType = "text"
	BlockPost  BlockType = "post"
	BlockImage BlockType = "image"
	BlockFile  BlockType = "file"
	BlockRaw   BlockType = "raw"
)

// SenderType identifies what kind of actor authored a message.
type SenderType string

// Sender types.
const (
	SenderUser SenderType = "user"
	SenderBot  SenderType = "bot"
)

// Sender identifies the author of an inbound message.
type Sender struct {
	ID          string     `json:"id"`
	Type        SenderType `json:"type"`
	DisplayName string     `json:"display_name,omitempty"`
}

// Chat identifies the conversation a message belongs to.
type Chat struct {
	ID    string   `json:"id"`
	Type  ChatType `json:"type"`
	Title string   `json:"title,omitempty"`
}

// IsGroup reports whether the chat is a group conversation.
func (c Chat) IsGroup() bool {
	return c.Type == ChatGroup
}

// IsDirectMessage reports whether the chat is a direct message.
func (c Chat) IsDirectMessage() bool {
	return c.Type == ChatDM
}

// Mentions holds mention metadata extracted from an inbound message.
// IDs and Names are parallel: Names[i] is the display name for IDs[i].
type Mentions struct {
	IDs          []string `json:"ids,omitempty"`
	Names        []string `json:"names,omitempty"`
	BotMentioned bool     `json:"bot_mentioned,omitempty"`
}

// IsEmpty reports whether the mentions carry no information.
func (m *Mentions) IsEmpty() bool {
	return m == nil || (len(m.IDs) == 0 && len(m.Names) == 0 && !m.BotMentioned)
}

// textContent concatenates the text of all text blocks with newlines.
func textContent(blocks []ContentBlock) string {
	var out string
	for _, b := range blocks {
		if b.Type != BlockText {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += b.Text
	}
	return out
}

// hasMedia reports whether any block is an image or file reference.
func hasMedia(blocks []ContentBlock) bool {
	for _, b := range blocks {
		if b.Type == BlockImage || b.Type == BlockFile {
			return true
		}
	}
	return false
}
