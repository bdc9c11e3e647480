package inbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
)

// PipelineConfig bounds the pipeline's concurrency and its retry behavior
// toward the mail collaborator and the store.
type PipelineConfig struct {
	Workers     int
	MaxAttempts int           // per mail/store operation
	BackoffBase time.Duration // first retry delay, doubling per attempt
	BackoffCap  time.Duration // upper bound on a single delay
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
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

// RunSummary reports the outcome of one processing cycle.
type RunSummary struct {
	mu        sync.Mutex
	Fetched   int
	Processed int
	Skipped   int
	Errors    int
	Messages  []string
}

func (s *RunSummary) processed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Processed++
}

func (s *RunSummary) skipped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Skipped++
}

func (s *RunSummary) failed(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errors++
	s.Messages = append(s.Messages, msg)
}

// Pipeline is the top-level coordinator. For each fetched message it checks
// deduplication, runs the two-stage analysis, decides a disposition, persists
// the record, and dispatches the matching mail action.
type Pipeline struct {
	mailbox  Mailbox
	analyzer Analyzer
	store    RecordStore
	engine   *DispositionEngine
	logger   Logger
	clock    Clock
	cfg      PipelineConfig
}

// NewPipeline creates a Pipeline with the provided collaborators.
func NewPipeline(mailbox Mailbox, analyzer Analyzer, store RecordStore, engine *DispositionEngine, logger Logger, clock Clock, cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		mailbox:  mailbox,
		analyzer: analyzer,
		store:    store,
		engine:   engine,
		logger:   logger,
		clock:    clock,
		cfg:      cfg.withDefaults(),
	}
}

// Run processes all currently unread messages, at most cfg.Workers at a time.
// Message-local failures are contained and counted in the summary; an error
// is returned only for store-wide failures that make continuing unsafe.
func (p *Pipeline) Run(ctx context.Context) (*RunSummary, error) {
	var msgs []Message
	err := p.retry(ctx, func() error {
		var ferr error
		msgs, ferr = p.mailbox.FetchUnread(ctx)
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("fetching unread messages: %w", err)
	}

	sum := &RunSummary{Fetched: len(msgs)}
	p.logger.Info("processing cycle started", "unread", len(msgs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for _, m := range msgs {
		g.Go(func() error {
			return p.processOne(gctx, m, sum)
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}

	p.logger.Info("processing cycle finished",
		"processed", sum.Processed, "skipped", sum.Skipped, "errors", sum.Errors)
	return sum, nil
}

// processOne handles a single message end to end. The returned error is
// non-nil only for store-write failures that persisted past retries; those
// abort the whole run rather than continue with an unrecordable store.
func (p *Pipeline) processOne(ctx context.Context, m Message, sum *RunSummary) error {
	fp := Fingerprint(m.Sender, m.Subject, m.Body)

	// Dedup check happens before any analysis call. A known fingerprint (or
	// an already-handled thread) is skipped entirely so analysis cost and
	// reply side effects are incurred at most once per fingerprint.
	if !p.store.Reserve(fp, m.ThreadID) {
		p.logger.Debug("duplicate skipped", "message_id", m.ID, "fingerprint", fp)
		sum.skipped()
		return nil
	}

	cls := p.analyzer.Classify(ctx, m)

	var deep *DeepAnalysisResult
	if !cls.Failed() && cls.Topic == TopicMeeting {
		d := p.analyzer.AnalyzeDeep(ctx, m)
		deep = &d
	}

	disp := p.engine.Decide(cls, deep)

	now := p.clock.Now()
	rec := &Record{
		Fingerprint:         fp,
		MessageID:           m.ID,
		ThreadID:            m.ThreadID,
		Sender:              m.Sender,
		Subject:             m.Subject,
		ReceivedAt:          m.ReceivedAt,
		Classification:      classificationTag(cls),
		Disposition:         disp,
		AnalysisExplanation: explanationFor(cls, deep),
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := p.put(ctx, rec); err != nil {
		p.store.Release(fp, m.ThreadID)
		return fmt.Errorf("persisting record for message %s: %w", m.ID, err)
	}

	p.logger.Info("message processed",
		"message_id", m.ID, "classification", rec.Classification, "disposition", string(disp))

	if err := p.dispatch(ctx, m, fp, disp, rec.AnalysisExplanation); err != nil {
		// The mail action failed past retries. The durable trace must say so:
		// rewrite the record's disposition to error before reporting.
		p.recordDispatchFailure(fp, err)
		sum.failed(fmt.Sprintf("message %s: %v", m.ID, err))
		return nil
	}

	sum.processed()
	return nil
}

// dispatch invokes the external mail action matching the disposition.
// An error disposition takes no action: the message stays unread so an
// operator sees it on the next pass.
func (p *Pipeline) dispatch(ctx context.Context, m Message, fp string, disp Disposition, explanation string) error {
	switch disp {
	case DispositionRespond:
		body := ComposeReply(m, explanation)
		if err := p.retry(ctx, func() error { return p.mailbox.SendReply(ctx, m.ID, body) }); err != nil {
			return fmt.Errorf("sending reply: %w", err)
		}
		if err := p.store.MarkResponseSent(fp); err != nil {
			return fmt.Errorf("recording sent response: %w", err)
		}
		if err := p.retry(ctx, func() error { return p.mailbox.MarkRead(ctx, m.ID) }); err != nil {
			return fmt.Errorf("marking read: %w", err)
		}
	case DispositionFlag:
		if err := p.retry(ctx, func() error { return p.mailbox.Flag(ctx, m.ID) }); err != nil {
			return fmt.Errorf("flagging: %w", err)
		}
	case DispositionIgnore:
		if err := p.retry(ctx, func() error { return p.mailbox.MarkRead(ctx, m.ID) }); err != nil {
			return fmt.Errorf("marking read: %w", err)
		}
	}
	return nil
}

// put persists a record, retrying transient store-write failures.
// Non-write errors (immutability violations) are not retried.
func (p *Pipeline) put(ctx context.Context, rec *Record) error {
	return p.retry(ctx, func() error {
		err := p.store.Put(rec)
		if err != nil && !errors.Is(err, ErrStoreWrite) {
			return backoff.Permanent(err)
		}
		return err
	})
}

// recordDispatchFailure rewrites an existing record with an error disposition
// after a mail action failed past retries. Best effort: the failure is
// already in the run summary, this just keeps the store honest.
func (p *Pipeline) recordDispatchFailure(fp string, cause error) {
	rec, err := p.store.Get(fp)
	if err != nil {
		p.logger.Error("fetching record after dispatch failure", "fingerprint", fp, "error", err)
		return
	}
	rec.Disposition = DispositionError
	rec.AnalysisExplanation = fmt.Sprintf("mail action failed: %v", cause)
	rec.UpdatedAt = p.clock.Now()
	if err := p.store.Put(rec); err != nil {
		p.logger.Error("recording dispatch failure", "fingerprint", fp, "error", err)
	}
}

// retry runs op with exponential backoff, doubling from BackoffBase up to
// BackoffCap, bounded to MaxAttempts attempts. Backoff waits abort promptly
// when ctx is cancelled.
func (p *Pipeline) retry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.BackoffBase
	bo.MaxInterval = p.cfg.BackoffCap
	bo.MaxElapsedTime = 0
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(p.cfg.MaxAttempts-1)), ctx))
}

func classificationTag(c ClassificationResult) string {
	if c.Topic == "" {
		return TopicUnknown
	}
	return c.Topic
}

// explanationFor picks the most specific explanation available: a stage
// error's reason, then the deep analysis, then the quick classification.
func explanationFor(c ClassificationResult, deep *DeepAnalysisResult) string {
	if c.Failed() {
		return c.Err.Error()
	}
	if deep != nil {
		if deep.Failed() {
			return deep.Err.Error()
		}
		if deep.Explanation != "" {
			return deep.Explanation
		}
	}
	return c.Explanation
}
