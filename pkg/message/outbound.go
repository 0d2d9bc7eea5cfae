package message

// OutboundMessage represents a message to be sent through the Lark channel.
// Exactly one of Blocks or Card carries the content: card messages leave
// Blocks empty and vice versa.
type OutboundMessage struct {
	Chat   Chat           `json:"chat"`
	RootID string         `json:"root_id,omitempty"`
	Blocks []ContentBlock `json:"blocks,omitempty"`
	Card   *Card          `json:"card,omitempty"`
}

// NewTextMessage creates an outbound message with a single text block.
func NewTextMessage(chat Chat, text string) OutboundMessage {
	return OutboundMessage{
		Chat:   chat,
		Blocks: []ContentBlock{NewTextBlock(text)},
	}
}

// NewCardMessage creates an outbound message carrying a card document.
func NewCardMessage(chat Chat, card *Card) OutboundMessage {
	return OutboundMessage{Chat: chat, Card: card}
}

// TextContent returns the concatenated text of all text blocks.
func (m *OutboundMessage) TextContent() string {
	return textContent(m.Blocks)
}

// ElementType discriminates the variant stored in a CardElement.
type ElementType string

// Supported card element types.
const (
	ElementText    ElementType = "text"
	ElementHeading ElementType = "heading"
	ElementDivider ElementType = "divider"
)

// CardElement is one visual element of a card. Divider elements carry no text.
type CardElement struct {
	Type ElementType `json:"type"`
	Text string      `json:"text,omitempty"`
}

// Card is a platform-neutral structured card document. The Lark client
// renders it into interactive-card JSON at send time.
type Card struct {
	Title    string        `json:"title,omitempty"`
	Elements []CardElement `json:"elements"`
}

// TextElement creates a plain text card element.
func TextElement(text string) CardElement {
	return CardElement{Type: ElementText, Text: text}
}

// HeadingElement creates an emphasized heading card element.
func HeadingElement(text string) CardElement {
	return CardElement{Type: ElementHeading, Text: text}
}

// DividerElement creates a horizontal divider card element.
func DividerElement() CardElement {
	return CardElement{Type: ElementDivider}
}
