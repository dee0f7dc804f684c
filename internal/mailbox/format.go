package mailbox

import (
	"fmt"
	"strings"
)

// FormatForPrompt renders messages as a block a worker can read in its
// prompt or inbox, grouped by sender in first-seen order. Returns "" for no
// messages.
func FormatForPrompt(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}

	groups := make(map[string][]Message)
	var senders []string
	for _, msg := range messages {
		if _, ok := groups[msg.From]; !ok {
			senders = append(senders, msg.From)
		}
		groups[msg.From] = append(groups[msg.From], msg)
	}

	var b strings.Builder
	b.WriteString("<mailbox-messages>\n")
	for i, from := range senders {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[FROM %s]\n", from)
		for _, msg := range groups[from] {
			fmt.Fprintf(&b, "  (%s) %s\n", msg.ID, msg.Body)
		}
	}
	b.WriteString("</mailbox-messages>")
	return b.String()
}
