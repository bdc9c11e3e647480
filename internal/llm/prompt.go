package llm

import (
	"fmt"
	"strings"

	"github.com/itsvetkov1/Sentient-Inbox/internal/analysis"
)

const quickSystemPrompt = `You classify incoming email. Respond with a single JSON object and nothing else:
{"topic": "<meeting|unknown>", "requires_response": <true|false>, "disposition": "<respond|flag_for_action|ignore>", "explanation": "<one sentence>"}
Use topic "meeting" only for messages about scheduling, changing, or attending meetings. Do not wrap the JSON in a code fence.`

const deepSystemPrompt = `You decide how to handle a meeting-related email. Consider whether the sender needs an answer, whether the request is complete, and whether a standard acknowledgment suffices. Respond with exactly two lines:
Decision: <standard_response|flag_for_action|ignore>
Explanation: <one or two sentences justifying the decision>`

func quickUserPrompt(subject, sender, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\nSubject: %s\n\n%s", sender, subject, truncate(body, 4000))

	// Keyword hints give small models a head start without deciding for them.
	hints := analysis.DetectKeywords(subject, body)
	if len(hints.Topics) > 0 {
		fmt.Fprintf(&b, "\n\nKeyword hints: topics %s", strings.Join(hints.Topics, ", "))
		if hints.ResponseExpected {
			b.WriteString("; sender appears to expect a response")
		}
	} else if hints.ResponseExpected {
		b.WriteString("\n\nKeyword hints: sender appears to expect a response")
	}
	return b.String()
}

func deepUserPrompt(subject, sender, body string) string {
	return fmt.Sprintf("From: %s\nSubject: %s\n\n%s", sender, subject, truncate(body, 8000))
}

// truncate caps prompt size so oversized messages cannot blow the model's
// context window.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n[truncated]"
}
