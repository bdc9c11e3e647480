package inbox

import (
	"context"
	"fmt"
)

// Topic tags produced by quick classification.
const (
	TopicMeeting = "meeting"
	TopicUnknown = "unknown"
)

// AnalysisError is the terminal outcome of an analysis stage whose retries
// were exhausted. It is carried as data in the stage result rather than
// returned as a Go error, so callers handle failure as an ordinary value.
type AnalysisError struct {
	Stage    string // "classify" or "deep_analysis"
	Attempts int
	Reason   string
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %s", e.Stage, e.Attempts, e.Reason)
}

// ClassificationResult is the outcome of the quick classification stage.
// Either Err is set and the remaining fields are zero, or Err is nil and the
// fields describe a validated classification.
type ClassificationResult struct {
	Topic            string
	RequiresResponse bool
	Suggested        Disposition
	Explanation      string
	Err              *AnalysisError
}

// Failed reports whether the stage ended in a terminal analysis error.
func (r ClassificationResult) Failed() bool { return r.Err != nil }

// DeepAnalysisResult is the outcome of the optional second-stage analysis.
type DeepAnalysisResult struct {
	Decision    Disposition
	Explanation string
	Err         *AnalysisError
}

func (r DeepAnalysisResult) Failed() bool { return r.Err != nil }

// Analyzer sequences calls to the external analysis collaborator, applying
// retry, backoff, and response validation. Both methods always return a
// result; a failed stage is reported through the result's Err field, never as
// a Go error.
type Analyzer interface {
	Classify(ctx context.Context, m Message) ClassificationResult
	AnalyzeDeep(ctx context.Context, m Message) DeepAnalysisResult
}
