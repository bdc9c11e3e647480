package inbox_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/itsvetkov1/Sentient-Inbox/internal/analysis"
	"github.com/itsvetkov1/Sentient-Inbox/internal/inbox"
	"github.com/itsvetkov1/Sentient-Inbox/internal/mail"
	"github.com/itsvetkov1/Sentient-Inbox/internal/testutil"
)

const quickRespond = `{"topic":"meeting","requires_response":true,"disposition":"respond","explanation":"asks for a time"}`
const quickIgnore = `{"topic":"newsletter","requires_response":false,"disposition":"ignore","explanation":"bulk mail"}`
const deepRespond = "Decision: standard_response\nExplanation: clear time proposed"
const deepFlag = "Decision: flag_for_action\nExplanation: time is ambiguous"

func testMessage(n int) inbox.Message {
	return inbox.Message{
		ID:         fmt.Sprintf("<msg-%d@example.com>", n),
		ThreadID:   fmt.Sprintf("<thread-%d@example.com>", n),
		Sender:     fmt.Sprintf("Sender %d <sender%d@example.com>", n, n),
		Subject:    fmt.Sprintf("Subject %d", n),
		Body:       fmt.Sprintf("Can we meet on day %d?", n),
		ReceivedAt: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
	}
}

// newTestPipeline wires a pipeline around an in-memory mailbox and a scripted
// analyzer, backed by a real encrypted store in a temp directory.
func newTestPipeline(t *testing.T, mailbox *mail.MemoryMailbox, client *analysis.ScriptClient) (*inbox.Pipeline, inbox.RecordStore) {
	t.Helper()
	clock := testutil.FixedClock()
	s, _ := testutil.NewTestStore(t, clock)
	orch := analysis.NewOrchestrator(client, analysis.Config{MaxAttempts: 3, BackoffBase: time.Millisecond}, nil)
	p := inbox.NewPipeline(mailbox, orch, s, inbox.NewDispositionEngine(), inbox.NewNopLogger(), clock,
		inbox.PipelineConfig{Workers: 2, MaxAttempts: 2, BackoffBase: time.Millisecond})
	return p, s
}

func TestPipeline_RespondFlow(t *testing.T) {
	t.Parallel()
	m := testMessage(1)
	mailbox := mail.NewMemoryMailbox(m)
	client := analysis.NewScriptClient(
		[]analysis.ScriptStep{{Response: quickRespond}},
		[]analysis.ScriptStep{{Response: deepRespond}},
	)
	p, s := newTestPipeline(t, mailbox, client)

	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Fetched != 1 || sum.Processed != 1 || sum.Errors != 0 {
		t.Errorf("summary = %+v, want fetched=1 processed=1", sum)
	}

	reply, ok := mailbox.Reply(m.ID)
	if !ok {
		t.Fatal("no reply sent")
	}
	if !strings.Contains(reply, "Hello Sender 1,") {
		t.Errorf("reply = %q, want greeting for Sender 1", reply)
	}
	if !strings.Contains(reply, "clear time proposed") {
		t.Errorf("reply = %q, want deep explanation quoted", reply)
	}
	if !mailbox.IsRead(m.ID) {
		t.Error("message not marked read after reply")
	}

	rec, err := s.Get(inbox.Fingerprint(m.Sender, m.Subject, m.Body))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Disposition != inbox.DispositionRespond {
		t.Errorf("Disposition = %q, want respond", rec.Disposition)
	}
	if !rec.ResponseSent {
		t.Error("ResponseSent = false after successful reply")
	}
	if rec.Classification != "meeting" {
		t.Errorf("Classification = %q, want meeting", rec.Classification)
	}
}

func TestPipeline_FlagFlow(t *testing.T) {
	t.Parallel()
	m := testMessage(1)
	mailbox := mail.NewMemoryMailbox(m)
	client := analysis.NewScriptClient(
		[]analysis.ScriptStep{{Response: quickRespond}},
		[]analysis.ScriptStep{{Response: deepFlag}},
	)
	p, s := newTestPipeline(t, mailbox, client)

	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Processed != 1 {
		t.Errorf("Processed = %d, want 1", sum.Processed)
	}

	// Deep analysis overrode the quick suggestion: flagged, no reply,
	// left unread for human review.
	if !mailbox.IsFlagged(m.ID) {
		t.Error("message not flagged")
	}
	if mailbox.ReplyCount() != 0 {
		t.Errorf("ReplyCount() = %d, want 0", mailbox.ReplyCount())
	}
	if mailbox.IsRead(m.ID) {
		t.Error("flagged message marked read")
	}

	rec, err := s.Get(inbox.Fingerprint(m.Sender, m.Subject, m.Body))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Disposition != inbox.DispositionFlag {
		t.Errorf("Disposition = %q, want flag_for_action", rec.Disposition)
	}
}

func TestPipeline_IgnoreFlow(t *testing.T) {
	t.Parallel()
	m := testMessage(1)
	m.Body = "This week in gardening."
	mailbox := mail.NewMemoryMailbox(m)
	client := analysis.NewScriptClient(
		[]analysis.ScriptStep{{Response: quickIgnore}}, nil)
	p, s := newTestPipeline(t, mailbox, client)

	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Processed != 1 {
		t.Errorf("Processed = %d, want 1", sum.Processed)
	}

	// Non-meeting topics skip the deep stage entirely.
	if client.DeepCalls() != 0 {
		t.Errorf("DeepCalls() = %d, want 0", client.DeepCalls())
	}
	if !mailbox.IsRead(m.ID) {
		t.Error("ignored message not marked read")
	}
	if mailbox.ReplyCount() != 0 {
		t.Errorf("ReplyCount() = %d, want 0", mailbox.ReplyCount())
	}

	rec, err := s.Get(inbox.Fingerprint(m.Sender, m.Subject, m.Body))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Disposition != inbox.DispositionIgnore {
		t.Errorf("Disposition = %q, want ignore", rec.Disposition)
	}
}

func TestPipeline_DuplicateSkippedBeforeAnalysis(t *testing.T) {
	t.Parallel()
	m := testMessage(1)
	mailbox := mail.NewMemoryMailbox(m)
	client := analysis.NewScriptClient(
		[]analysis.ScriptStep{{Response: quickRespond}},
		[]analysis.ScriptStep{{Response: deepRespond}},
	)
	p, s := newTestPipeline(t, mailbox, client)

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	callsAfterFirst := client.QuickCalls()

	// Redeliver the same content under a new message ID.
	dup := m
	dup.ID = "<msg-1-redelivered@example.com>"
	mailbox.Add(dup)

	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if sum.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", sum.Skipped)
	}
	// The duplicate never reached the analyzer and never produced a
	// second reply.
	if client.QuickCalls() != callsAfterFirst {
		t.Errorf("QuickCalls() = %d, want %d (no analysis for duplicate)", client.QuickCalls(), callsAfterFirst)
	}
	if mailbox.ReplyCount() != 1 {
		t.Errorf("ReplyCount() = %d, want 1", mailbox.ReplyCount())
	}

	rec, err := s.Get(inbox.Fingerprint(m.Sender, m.Subject, m.Body))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.MessageID != m.ID {
		t.Errorf("MessageID = %q, want original %q", rec.MessageID, m.ID)
	}
}

func TestPipeline_SameRunDuplicates(t *testing.T) {
	t.Parallel()
	a := testMessage(1)
	b := testMessage(1)
	b.ID = "<msg-1-copy@example.com>"
	b.ThreadID = a.ThreadID
	mailbox := mail.NewMemoryMailbox(a, b)
	client := analysis.NewScriptClient(
		[]analysis.ScriptStep{{Response: quickRespond}},
		[]analysis.ScriptStep{{Response: deepRespond}},
	)
	p, _ := newTestPipeline(t, mailbox, client)

	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Processed != 1 || sum.Skipped != 1 {
		t.Errorf("summary = processed %d skipped %d, want 1/1", sum.Processed, sum.Skipped)
	}
	if mailbox.ReplyCount() != 1 {
		t.Errorf("ReplyCount() = %d, want exactly one reply", mailbox.ReplyCount())
	}
}

func TestPipeline_AnalysisFailureFlags(t *testing.T) {
	t.Parallel()
	m := testMessage(1)
	mailbox := mail.NewMemoryMailbox(m)
	client := analysis.NewScriptClient(
		[]analysis.ScriptStep{{Response: "garbage"}}, nil)
	p, s := newTestPipeline(t, mailbox, client)

	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Processed != 1 {
		t.Errorf("Processed = %d, want 1", sum.Processed)
	}
	if !mailbox.IsFlagged(m.ID) {
		t.Error("message not flagged after analysis failure")
	}

	rec, err := s.Get(inbox.Fingerprint(m.Sender, m.Subject, m.Body))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Disposition != inbox.DispositionFlag {
		t.Errorf("Disposition = %q, want flag_for_action", rec.Disposition)
	}
	if rec.Classification != "unknown" {
		t.Errorf("Classification = %q, want unknown", rec.Classification)
	}
	if !strings.Contains(rec.AnalysisExplanation, "classify failed after 3 attempt(s)") {
		t.Errorf("AnalysisExplanation = %q, want stage error", rec.AnalysisExplanation)
	}
}

func TestPipeline_DispatchFailureRewritesRecord(t *testing.T) {
	t.Parallel()
	m := testMessage(1)
	mailbox := mail.NewMemoryMailbox(m)
	mailbox.FailWith(errors.New("smtp unreachable"))
	client := analysis.NewScriptClient(
		[]analysis.ScriptStep{{Response: quickRespond}},
		[]analysis.ScriptStep{{Response: deepRespond}},
	)
	p, s := newTestPipeline(t, mailbox, client)

	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v, dispatch failures must not abort the run", err)
	}
	if sum.Errors != 1 {
		t.Errorf("Errors = %d, want 1", sum.Errors)
	}
	if len(sum.Messages) != 1 || !strings.Contains(sum.Messages[0], m.ID) {
		t.Errorf("Messages = %v, want failure naming %s", sum.Messages, m.ID)
	}

	rec, err := s.Get(inbox.Fingerprint(m.Sender, m.Subject, m.Body))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Disposition != inbox.DispositionError {
		t.Errorf("Disposition = %q, want error", rec.Disposition)
	}
	if !strings.Contains(rec.AnalysisExplanation, "mail action failed") {
		t.Errorf("AnalysisExplanation = %q, want mail action failure", rec.AnalysisExplanation)
	}
}

// failingStore rejects every Put so the run-abort path can be exercised.
type failingStore struct {
	inbox.RecordStore
}

func (s *failingStore) Put(*inbox.Record) error {
	return fmt.Errorf("%w: disk full", inbox.ErrStoreWrite)
}

func TestPipeline_PersistentStoreFailureAbortsRun(t *testing.T) {
	t.Parallel()
	m := testMessage(1)
	mailbox := mail.NewMemoryMailbox(m)
	client := analysis.NewScriptClient(
		[]analysis.ScriptStep{{Response: quickRespond}},
		[]analysis.ScriptStep{{Response: deepRespond}},
	)
	clock := testutil.FixedClock()
	real, _ := testutil.NewTestStore(t, clock)
	s := &failingStore{RecordStore: real}
	orch := analysis.NewOrchestrator(client, analysis.Config{MaxAttempts: 2, BackoffBase: time.Millisecond}, nil)
	p := inbox.NewPipeline(mailbox, orch, s, inbox.NewDispositionEngine(), inbox.NewNopLogger(), clock,
		inbox.PipelineConfig{Workers: 1, MaxAttempts: 2, BackoffBase: time.Millisecond})

	_, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("Run() succeeded, want store-write failure")
	}
	if !errors.Is(err, inbox.ErrStoreWrite) {
		t.Errorf("Run() error = %v, want ErrStoreWrite", err)
	}
	// The failed message sent no reply and the fingerprint was released
	// for a future attempt.
	if mailbox.ReplyCount() != 0 {
		t.Errorf("ReplyCount() = %d, want 0", mailbox.ReplyCount())
	}
	if !real.Reserve(inbox.Fingerprint(m.Sender, m.Subject, m.Body), m.ThreadID) {
		t.Error("fingerprint still reserved after put failure")
	}
}

func TestPipeline_EmptyMailbox(t *testing.T) {
	t.Parallel()
	mailbox := mail.NewMemoryMailbox()
	client := analysis.NewScriptClient(nil, nil)
	p, _ := newTestPipeline(t, mailbox, client)

	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Fetched != 0 || sum.Processed != 0 {
		t.Errorf("summary = %+v, want all zeros", sum)
	}
}
