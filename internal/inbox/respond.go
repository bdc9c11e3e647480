package inbox

import (
	"fmt"
	"strings"
)

// ComposeReply renders the standardized acknowledgment sent for respond
// dispositions. The analyzer's explanation, when present, is quoted so the
// sender sees what was understood.
func ComposeReply(m Message, explanation string) string {
	var b strings.Builder

	name := senderName(m.Sender)
	fmt.Fprintf(&b, "Hello %s,\n\n", name)
	b.WriteString("Thank you for your message. ")
	b.WriteString("I have received your request and will follow up with a confirmed time shortly.\n")

	if explanation != "" {
		fmt.Fprintf(&b, "\nWhat I understood: %s\n", explanation)
	}

	b.WriteString("\nBest regards\n")
	return b.String()
}

// senderName extracts a display name from an address like
// "Jane Doe <jane@example.com>", falling back to the mailbox part.
func senderName(sender string) string {
	s := strings.TrimSpace(sender)
	if i := strings.IndexByte(s, '<'); i > 0 {
		return strings.Trim(strings.TrimSpace(s[:i]), `"`)
	}
	if i := strings.IndexByte(s, '@'); i > 0 {
		return s[:i]
	}
	if s == "" {
		return "there"
	}
	return s
}
