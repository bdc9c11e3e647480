package analysis

import (
	"strings"
	"testing"

	"github.com/itsvetkov1/Sentient-Inbox/internal/inbox"
)

func TestParseClassification(t *testing.T) {
	t.Parallel()

	valid := `{"topic":"meeting","requires_response":true,"disposition":"respond","explanation":"asks for a time"}`

	tests := []struct {
		name    string
		raw     string
		want    classification
		wantErr string
	}{
		{
			name: "valid",
			raw:  valid,
			want: classification{
				Topic:            "meeting",
				RequiresResponse: true,
				Disposition:      inbox.DispositionRespond,
				Explanation:      "asks for a time",
			},
		},
		{
			name: "code fenced",
			raw:  "```json\n" + valid + "\n```",
			want: classification{
				Topic:            "meeting",
				RequiresResponse: true,
				Disposition:      inbox.DispositionRespond,
				Explanation:      "asks for a time",
			},
		},
		{
			name: "standard_response normalized",
			raw:  `{"topic":"meeting","requires_response":true,"disposition":"standard_response","explanation":"x"}`,
			want: classification{
				Topic:            "meeting",
				RequiresResponse: true,
				Disposition:      inbox.DispositionRespond,
				Explanation:      "x",
			},
		},
		{
			name:    "empty content",
			raw:     "",
			wantErr: "empty content",
		},
		{
			name:    "malformed json",
			raw:     "{not json",
			wantErr: "malformed JSON",
		},
		{
			name:    "missing topic",
			raw:     `{"requires_response":true,"disposition":"respond","explanation":"x"}`,
			wantErr: `missing required field "topic"`,
		},
		{
			name:    "missing requires_response",
			raw:     `{"topic":"meeting","disposition":"respond","explanation":"x"}`,
			wantErr: `missing required field "requires_response"`,
		},
		{
			name:    "missing disposition",
			raw:     `{"topic":"meeting","requires_response":true,"explanation":"x"}`,
			wantErr: `missing required field "disposition"`,
		},
		{
			name:    "missing explanation",
			raw:     `{"topic":"meeting","requires_response":true,"disposition":"respond"}`,
			wantErr: `missing required field "explanation"`,
		},
		{
			name:    "unknown disposition",
			raw:     `{"topic":"meeting","requires_response":true,"disposition":"maybe","explanation":"x"}`,
			wantErr: `unknown disposition "maybe"`,
		},
		{
			name:    "error disposition rejected",
			raw:     `{"topic":"meeting","requires_response":true,"disposition":"error","explanation":"x"}`,
			wantErr: "unknown disposition",
		},
		{
			name:    "empty topic",
			raw:     `{"topic":"","requires_response":true,"disposition":"respond","explanation":"x"}`,
			wantErr: "empty topic",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseClassification(tt.raw)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("parseClassification() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseClassification() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("parseClassification() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseDeepAnalysis(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    deepAnalysis
		wantErr string
	}{
		{
			name: "valid",
			raw:  "Decision: standard_response\nExplanation: clear time proposed",
			want: deepAnalysis{Decision: inbox.DispositionRespond, Explanation: "clear time proposed"},
		},
		{
			name: "case insensitive labels",
			raw:  "decision: FLAG_FOR_ACTION\nexplanation: time is ambiguous",
			want: deepAnalysis{Decision: inbox.DispositionFlag, Explanation: "time is ambiguous"},
		},
		{
			name: "surrounding prose ignored",
			raw:  "Here is my analysis.\n\nDecision: ignore\nExplanation: automated notification\n\nHope that helps.",
			want: deepAnalysis{Decision: inbox.DispositionIgnore, Explanation: "automated notification"},
		},
		{
			name:    "missing decision",
			raw:     "Explanation: something",
			wantErr: `missing required field "decision"`,
		},
		{
			name:    "missing explanation",
			raw:     "Decision: respond",
			wantErr: `missing required field "explanation"`,
		},
		{
			name:    "unknown decision",
			raw:     "Decision: escalate\nExplanation: x",
			wantErr: `unknown decision "escalate"`,
		},
		{
			name:    "empty content",
			raw:     "   ",
			wantErr: "empty content",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseDeepAnalysis(tt.raw)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("parseDeepAnalysis() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseDeepAnalysis() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("parseDeepAnalysis() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fence", `{"a":1}`, `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"language tag", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"leading whitespace", "  ```json\n{\"a\":1}\n```  ", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := stripCodeFence(tt.in); got != tt.want {
				t.Errorf("stripCodeFence(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
