// Package analysis sequences the two model stages that examine a message:
// a quick classification of every message, and a deeper second pass for
// meeting-related ones. The orchestrator owns retries, backoff, and response
// validation; the Client only knows how to talk to a model.
package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/itsvetkov1/Sentient-Inbox/internal/inbox"
)

// Client performs a single model call per method. Implementations return the
// raw model output; validation and retries belong to the orchestrator.
type Client interface {
	QuickClassify(ctx context.Context, subject, sender, body string) (string, error)
	DeepAnalyze(ctx context.Context, subject, sender, body string) (string, error)
}

// Config controls retry behavior for both stages.
type Config struct {
	MaxAttempts int           // total attempts per stage, including the first
	BackoffBase time.Duration // initial retry delay
	BackoffCap  time.Duration // maximum retry delay
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	return c
}

// Orchestrator implements inbox.Analyzer on top of a Client. A stage that
// exhausts its attempts produces a result carrying an AnalysisError; the
// orchestrator never returns a Go error to its callers.
type Orchestrator struct {
	client Client
	cfg    Config
	logger inbox.Logger
}

// NewOrchestrator creates an orchestrator around the given client.
func NewOrchestrator(client Client, cfg Config, logger inbox.Logger) *Orchestrator {
	if logger == nil {
		logger = inbox.NewNopLogger()
	}
	return &Orchestrator{client: client, cfg: cfg.withDefaults(), logger: logger}
}

// Classify runs quick classification with retries. An invalid or empty model
// response counts as a failed attempt.
func (o *Orchestrator) Classify(ctx context.Context, m inbox.Message) inbox.ClassificationResult {
	parsed, err := retryStage(ctx, o, "classify", m, func(ctx context.Context) (classification, error) {
		raw, err := o.client.QuickClassify(ctx, m.Subject, m.Sender, m.Body)
		if err != nil {
			return classification{}, err
		}
		return parseClassification(raw)
	})
	if err != nil {
		return inbox.ClassificationResult{Err: err}
	}
	return inbox.ClassificationResult{
		Topic:            parsed.Topic,
		RequiresResponse: parsed.RequiresResponse,
		Suggested:        parsed.Disposition,
		Explanation:      parsed.Explanation,
	}
}

// AnalyzeDeep runs the second-stage analysis with retries.
func (o *Orchestrator) AnalyzeDeep(ctx context.Context, m inbox.Message) inbox.DeepAnalysisResult {
	parsed, err := retryStage(ctx, o, "deep_analysis", m, func(ctx context.Context) (deepAnalysis, error) {
		raw, err := o.client.DeepAnalyze(ctx, m.Subject, m.Sender, m.Body)
		if err != nil {
			return deepAnalysis{}, err
		}
		return parseDeepAnalysis(raw)
	})
	if err != nil {
		return inbox.DeepAnalysisResult{Err: err}
	}
	return inbox.DeepAnalysisResult{
		Decision:    parsed.Decision,
		Explanation: parsed.Explanation,
	}
}

// retryStage runs op up to MaxAttempts times with exponential backoff. Context
// cancellation stops retrying immediately. The returned AnalysisError is nil
// on success.
func retryStage[T any](ctx context.Context, o *Orchestrator, stage string, m inbox.Message, op func(context.Context) (T, error)) (T, *inbox.AnalysisError) {
	attempts := 0
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.cfg.BackoffBase
	bo.MaxInterval = o.cfg.BackoffCap
	bo.MaxElapsedTime = 0

	result, err := backoff.RetryWithData(func() (T, error) {
		attempts++
		v, err := op(ctx)
		if err != nil {
			o.logger.Info("analysis attempt failed", "stage", stage, "message_id", m.ID, "attempt", attempts, "error", err)
		}
		return v, err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(o.cfg.MaxAttempts-1)), ctx))
	if err != nil {
		var zero T
		return zero, &inbox.AnalysisError{
			Stage:    stage,
			Attempts: attempts,
			Reason:   fmt.Sprintf("%v", err),
		}
	}
	return result, nil
}

// Compile-time check that Orchestrator implements the Analyzer interface
var _ inbox.Analyzer = (*Orchestrator)(nil)
