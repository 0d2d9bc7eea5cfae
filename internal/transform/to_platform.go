package transform

import (
	"strings"

	"github.com/wukaijin/moltbot-with-lark/pkg/message"
)

// ToPlatformMessage renders model response text into an outbound platform
// message in the requested format. Rendering is deterministic and never
// loses text content.
func ToPlatformMessage(chat message.Chat, text string, format Format) (message.OutboundMessage, error) {
	switch format {
	case FormatPlain:
		return message.NewTextMessage(chat, text), nil

	case FormatRichText:
		return message.NewTextMessage(chat, FormatLarkMarkdown(text)), nil

	case FormatCard:
		return message.NewCardMessage(chat, RenderCard(text)), nil

	default:
		return message.OutboundMessage{}, &TransformError{Field: "format", Reason: "unknown format " + string(format)}
	}
}

// RenderCard splits text by line and maps each line to a card element:
// blank line → divider, heading line (`# `, `## `) → heading element with
// the marker stripped, bullet line (`- `, `* `) → text element with the
// marker stripped, anything else → plain text element.
func RenderCard(text string) *message.Card {
	lines := strings.Split(text, "\n")
	elements := make([]message.CardElement, 0, len(lines))

	for _, line := range lines {
		switch {
		case strings.TrimSpace(line) == "":
			elements = append(elements, message.DividerElement())

		case strings.HasPrefix(line, "## "):
			elements = append(elements, message.HeadingElement(strings.TrimPrefix(line, "## ")))

		case strings.HasPrefix(line, "# "):
			elements = append(elements, message.HeadingElement(strings.TrimPrefix(line, "# ")))

		case strings.HasPrefix(line, "- "):
			elements = append(elements, message.TextElement(strings.TrimPrefix(line, "- ")))

		case strings.HasPrefix(line, "* "):
			elements = append(elements, message.TextElement(strings.TrimPrefix(line, "* ")))

		default:
			elements = append(elements, message.TextElement(line))
		}
	}

	return &message.Card{Elements: elements}
}

// FormatLarkMarkdown converts standard markdown to Lark's markdown dialect.
// Code fences and inline code pass through untouched; **bold** is kept;
// _italic_ becomes *italic*; [links](url) pass through. The output renders
// the same semantic emphasis as the input.
func FormatLarkMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	var result strings.Builder
	inCodeBlock := false

	for i, line := range lines {
		if i > 0 {
			result.WriteByte('\n')
		}

		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inCodeBlock = !inCodeBlock
			result.WriteString(line)
			continue
		}
		if inCodeBlock {
			result.WriteString(line)
			continue
		}

		result.WriteString(formatLine(line))
	}

	return result.String()
}

// formatLine processes a single line outside code fences.
func formatLine(line string) string {
	var result strings.Builder
	runes := []rune(line)
	n := len(runes)
	i := 0

	for i < n {
		// Inline code: ` ... ` passes through untouched.
		if runes[i] == '`' {
			end := findClosing(runes, i+1, '`')
			if end > 0 {
				result.WriteString(string(runes[i : end+1]))
				i = end + 1
				continue
			}
		}

		// Bold: **text** is the same token in Lark markdown.
		if i+1 < n && runes[i] == '*' && runes[i+1] == '*' {
			end := findDoubleClosing(runes, i+2, '*')
			if end > 0 {
				result.WriteString(string(runes[i : end+2]))
				i = end + 2
				continue
			}
		}

		// Italic: _text_ becomes *text* (Lark uses single asterisk).
		if runes[i] == '_' && (i+1 >= n || runes[i+1] != '_') {
			end := findClosing(runes, i+1, '_')
			if end > 0 {
				result.WriteByte('*')
				result.WriteString(string(runes[i+1 : end]))
				result.WriteByte('*')
				i = end + 1
				continue
			}
		}

		result.WriteRune(runes[i])
		i++
	}

	return result.String()
}

// findClosing finds the index of the closing delimiter starting from start.
// Returns -1 if not found.
func findClosing(runes []rune, start int, delim rune) int {
	for i := start; i < len(runes); i++ {
		if runes[i] == delim {
			return i
		}
	}
	return -1
}

// findDoubleClosing finds the index of a double-character closing delimiter
// starting from start. Returns the index of the first character of the
// closing pair, or -1 if not found.
func findDoubleClosing(runes []rune, start int, delim rune) int {
	for i := start; i < len(runes)-1; i++ {
		if runes[i] == delim && runes[i+1] == delim {
			return i
		}
	}
	return -1
}
