package knowledge

import (
	"strings"
	"unicode/utf8"
)

// maxFormattedMessageChars bounds each message body sent to external
// services; very long messages blow token budgets without adding signal.
const maxFormattedMessageChars = 2000

// truncateString shortens s to at most max bytes without splitting a rune,
// so truncated output stays valid UTF-8.
func truncateString(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// FormatConversationText renders a conversation as a single text blob:
// a title line followed by "User:"/"Assistant:" lines in message order,
// each body truncated to maxFormattedMessageChars. Pure function.
func FormatConversationText(conv ParsedConversation) string {
	var b strings.Builder
	b.WriteString("Title: ")
	b.WriteString(conv.Title)
	b.WriteString("\n\n")

	for _, msg := range conv.Messages {
		prefix := "Assistant:"
		if msg.Role == "user" {
			prefix = "User:"
		}
		content := msg.Content
		if len(content) > maxFormattedMessageChars {
			content = truncateString(content, maxFormattedMessageChars) + "..."
		}
		b.WriteString(prefix)
		b.WriteString(" ")
		b.WriteString(content)
		b.WriteString("\n\n")
	}

	return strings.TrimSuffix(b.String(), "\n")
}
