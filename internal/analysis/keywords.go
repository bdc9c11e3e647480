package analysis

import (
	"sort"
	"strings"
)

// topicPatterns maps topic tags to the substrings that suggest them. A hit
// does not decide the classification; it is surfaced to the model as a hint
// and used by callers to shortcut obvious cases in prompts.
var topicPatterns = map[string][]string{
	"meeting": {
		"meeting", "meet", "appointment", "schedule", "calendar",
		"invite", "invitation", "call", "sync", "catch up", "catch-up",
		"discussion", "conference", "agenda", "reschedule",
	},
}

// responsePatterns suggest the sender expects an answer.
var responsePatterns = []string{
	"?", "please reply", "please respond", "let me know", "rsvp",
	"confirm", "your thoughts", "get back to me", "would you",
	"could you", "can you",
}

// KeywordHints is the result of pattern matching over a message, attached to
// classification prompts as additional context.
type KeywordHints struct {
	Topics           []string
	ResponseExpected bool
}

// DetectKeywords scans subject and body for topic and response patterns.
func DetectKeywords(subject, body string) KeywordHints {
	text := strings.ToLower(subject + "\n" + body)

	var hints KeywordHints
	for topic, patterns := range topicPatterns {
		for _, p := range patterns {
			if strings.Contains(text, p) {
				hints.Topics = append(hints.Topics, topic)
				break
			}
		}
	}
	sort.Strings(hints.Topics)
	for _, p := range responsePatterns {
		if strings.Contains(text, p) {
			hints.ResponseExpected = true
			break
		}
	}
	return hints
}
