package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/itsvetkov1/Sentient-Inbox/internal/inbox"
)

var testMessage = inbox.Message{
	ID:      "<msg-1@example.com>",
	Sender:  "Jane Doe <jane@example.com>",
	Subject: "Sync next week?",
	Body:    "Can we meet Tuesday at 2pm?",
}

const validQuick = `{"topic":"meeting","requires_response":true,"disposition":"respond","explanation":"asks for a time"}`
const validDeep = "Decision: standard_response\nExplanation: clear time proposed"

func fastConfig() Config {
	return Config{MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffCap: 2 * time.Millisecond}
}

func TestOrchestrator_ClassifyRetriesUntilValid(t *testing.T) {
	t.Parallel()
	client := NewScriptClient([]ScriptStep{
		{Response: ""},
		{Response: "{not json"},
		{Response: validQuick},
	}, nil)
	o := NewOrchestrator(client, fastConfig(), nil)

	res := o.Classify(context.Background(), testMessage)
	if res.Failed() {
		t.Fatalf("Classify() failed: %v", res.Err)
	}
	if res.Topic != "meeting" || res.Suggested != inbox.DispositionRespond || !res.RequiresResponse {
		t.Errorf("Classify() = %+v, want meeting/respond/true", res)
	}
	if client.QuickCalls() != 3 {
		t.Errorf("QuickCalls() = %d, want 3", client.QuickCalls())
	}
}

func TestOrchestrator_ClassifyExhaustsAttempts(t *testing.T) {
	t.Parallel()
	client := NewScriptClient([]ScriptStep{{Response: ""}}, nil)
	o := NewOrchestrator(client, fastConfig(), nil)

	res := o.Classify(context.Background(), testMessage)
	if !res.Failed() {
		t.Fatal("Classify() succeeded, want failure")
	}
	if res.Err.Stage != "classify" {
		t.Errorf("Err.Stage = %q, want classify", res.Err.Stage)
	}
	if res.Err.Attempts != 3 {
		t.Errorf("Err.Attempts = %d, want 3", res.Err.Attempts)
	}
	if !strings.Contains(res.Err.Reason, "empty content") {
		t.Errorf("Err.Reason = %q, want containing 'empty content'", res.Err.Reason)
	}
	if client.QuickCalls() != 3 {
		t.Errorf("QuickCalls() = %d, want 3", client.QuickCalls())
	}
}

func TestOrchestrator_ClassifyTransportError(t *testing.T) {
	t.Parallel()
	client := NewScriptClient([]ScriptStep{
		{Err: errors.New("connection reset")},
		{Response: validQuick},
	}, nil)
	o := NewOrchestrator(client, fastConfig(), nil)

	res := o.Classify(context.Background(), testMessage)
	if res.Failed() {
		t.Fatalf("Classify() failed: %v", res.Err)
	}
	if client.QuickCalls() != 2 {
		t.Errorf("QuickCalls() = %d, want 2", client.QuickCalls())
	}
}

func TestOrchestrator_AnalyzeDeep(t *testing.T) {
	t.Parallel()
	client := NewScriptClient(nil, []ScriptStep{
		{Response: "Decision: escalate\nExplanation: x"},
		{Response: validDeep},
	})
	o := NewOrchestrator(client, fastConfig(), nil)

	res := o.AnalyzeDeep(context.Background(), testMessage)
	if res.Failed() {
		t.Fatalf("AnalyzeDeep() failed: %v", res.Err)
	}
	if res.Decision != inbox.DispositionRespond {
		t.Errorf("Decision = %q, want respond", res.Decision)
	}
	if res.Explanation != "clear time proposed" {
		t.Errorf("Explanation = %q", res.Explanation)
	}
	if client.DeepCalls() != 2 {
		t.Errorf("DeepCalls() = %d, want 2", client.DeepCalls())
	}
}

func TestOrchestrator_AnalyzeDeepExhaustsAttempts(t *testing.T) {
	t.Parallel()
	client := NewScriptClient(nil, []ScriptStep{{Err: errors.New("model unavailable")}})
	o := NewOrchestrator(client, fastConfig(), nil)

	res := o.AnalyzeDeep(context.Background(), testMessage)
	if !res.Failed() {
		t.Fatal("AnalyzeDeep() succeeded, want failure")
	}
	if res.Err.Stage != "deep_analysis" {
		t.Errorf("Err.Stage = %q, want deep_analysis", res.Err.Stage)
	}
	if !strings.Contains(res.Err.Error(), "deep_analysis failed after 3 attempt(s)") {
		t.Errorf("Err.Error() = %q", res.Err.Error())
	}
}

func TestOrchestrator_CancelledContextStopsRetrying(t *testing.T) {
	t.Parallel()
	client := NewScriptClient([]ScriptStep{{Response: ""}}, nil)
	o := NewOrchestrator(client, Config{MaxAttempts: 10, BackoffBase: time.Minute}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := o.Classify(ctx, testMessage)
	if !res.Failed() {
		t.Fatal("Classify() with cancelled context succeeded, want failure")
	}
	if calls := client.QuickCalls(); calls > 1 {
		t.Errorf("QuickCalls() = %d, want at most 1", calls)
	}
}
