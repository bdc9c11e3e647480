package analysis

import (
	"context"
	"encoding/json"
	"fmt"
)

// KeywordClient is a model-free Client that answers both stages from the
// keyword tables alone. It exists for offline runs and integration tests
// where a real model endpoint is unavailable; its answers are deterministic
// and always well-formed.
type KeywordClient struct{}

// NewKeywordClient creates a keyword-only analysis client.
func NewKeywordClient() *KeywordClient {
	return &KeywordClient{}
}

func (c *KeywordClient) QuickClassify(_ context.Context, subject, _, body string) (string, error) {
	hints := DetectKeywords(subject, body)

	topic := "unknown"
	disposition := "ignore"
	explanation := "no topic keywords matched"
	if len(hints.Topics) > 0 {
		topic = hints.Topics[0]
		disposition = "flag_for_action"
		explanation = fmt.Sprintf("matched %s keywords", topic)
	}
	if hints.ResponseExpected && topic != "unknown" {
		disposition = "respond"
	}

	out, err := json.Marshal(map[string]any{
		"topic":             topic,
		"requires_response": hints.ResponseExpected,
		"disposition":       disposition,
		"explanation":       explanation,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (c *KeywordClient) DeepAnalyze(_ context.Context, subject, _, body string) (string, error) {
	hints := DetectKeywords(subject, body)
	if hints.ResponseExpected {
		return "Decision: standard_response\nExplanation: The sender appears to expect an answer.", nil
	}
	return "Decision: flag_for_action\nExplanation: No clear response expectation; leaving for review.", nil
}

var _ Client = (*KeywordClient)(nil)
