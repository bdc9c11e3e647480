package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/itsvetkov1/Sentient-Inbox/internal/inbox"
)

// classification is the validated shape of a quick-classification response.
// The model is prompted to emit this as a JSON object.
type classification struct {
	Topic            string            `json:"topic"`
	RequiresResponse bool              `json:"requires_response"`
	Disposition      inbox.Disposition `json:"disposition"`
	Explanation      string            `json:"explanation"`
}

// deepAnalysis is the validated shape of a second-stage response. The model
// emits it as two labeled lines:
//
//	Decision: standard_response
//	Explanation: free text
type deepAnalysis struct {
	Decision    inbox.Disposition
	Explanation string
}

// parseClassification validates a raw quick-classification response. Any
// violation returns an error so the caller retries the stage.
func parseClassification(raw string) (classification, error) {
	raw = stripCodeFence(raw)
	if raw == "" {
		return classification{}, errors.New("empty content")
	}

	// Decode into a map first to distinguish absent fields from zero values.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return classification{}, fmt.Errorf("malformed JSON: %w", err)
	}
	for _, name := range []string{"topic", "requires_response", "disposition", "explanation"} {
		if _, ok := fields[name]; !ok {
			return classification{}, fmt.Errorf("missing required field %q", name)
		}
	}

	var c classification
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return classification{}, fmt.Errorf("malformed JSON: %w", err)
	}
	c.Disposition = normalizeDecision(string(c.Disposition))
	if !c.Disposition.Valid() || c.Disposition == inbox.DispositionError {
		return classification{}, fmt.Errorf("unknown disposition %q", c.Disposition)
	}
	if c.Topic == "" {
		return classification{}, errors.New("empty topic")
	}
	return c, nil
}

// parseDeepAnalysis validates a raw second-stage response.
func parseDeepAnalysis(raw string) (deepAnalysis, error) {
	raw = stripCodeFence(raw)
	if raw == "" {
		return deepAnalysis{}, errors.New("empty content")
	}

	var d deepAnalysis
	var haveDecision bool
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case hasLabel(line, "Decision:"):
			d.Decision = normalizeDecision(strings.TrimSpace(line[len("Decision:"):]))
			haveDecision = true
		case hasLabel(line, "Explanation:"):
			d.Explanation = strings.TrimSpace(line[len("Explanation:"):])
		}
	}
	if !haveDecision {
		return deepAnalysis{}, fmt.Errorf("missing required field %q", "decision")
	}
	if !d.Decision.Valid() || d.Decision == inbox.DispositionError {
		return deepAnalysis{}, fmt.Errorf("unknown decision %q", d.Decision)
	}
	if d.Explanation == "" {
		return deepAnalysis{}, fmt.Errorf("missing required field %q", "explanation")
	}
	return d, nil
}

// normalizeDecision maps model vocabulary onto the disposition set. Older
// prompts used "standard_response" for a plain reply.
func normalizeDecision(s string) inbox.Disposition {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "standard_response", "respond":
		return inbox.DispositionRespond
	case "flag_for_action", "flag":
		return inbox.DispositionFlag
	case "ignore":
		return inbox.DispositionIgnore
	default:
		return inbox.Disposition(s)
	}
}

func hasLabel(line, label string) bool {
	return len(line) >= len(label) && strings.EqualFold(line[:len(label)], label)
}

// stripCodeFence removes a surrounding markdown code fence, which models add
// despite instructions not to.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:] // drop the language tag line
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
