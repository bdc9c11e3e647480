package inbox

import (
	"strings"
	"testing"
)

func TestFingerprint_Normalization(t *testing.T) {
	t.Parallel()

	base := Fingerprint("jane@example.com", "Team sync", "Can we meet Tuesday?")

	tests := []struct {
		name    string
		sender  string
		subject string
		body    string
		same    bool
	}{
		{
			name:    "identical",
			sender:  "jane@example.com",
			subject: "Team sync",
			body:    "Can we meet Tuesday?",
			same:    true,
		},
		{
			name:    "case differences",
			sender:  "Jane@Example.COM",
			subject: "TEAM SYNC",
			body:    "CAN WE MEET TUESDAY?",
			same:    true,
		},
		{
			name:    "whitespace collapsed",
			sender:  "  jane@example.com ",
			subject: " Team sync ",
			body:    "Can   we\n\tmeet    Tuesday?",
			same:    true,
		},
		{
			name:    "different sender",
			sender:  "john@example.com",
			subject: "Team sync",
			body:    "Can we meet Tuesday?",
			same:    false,
		},
		{
			name:    "different body",
			sender:  "jane@example.com",
			subject: "Team sync",
			body:    "Can we meet Wednesday?",
			same:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Fingerprint(tt.sender, tt.subject, tt.body)
			if (got == base) != tt.same {
				t.Errorf("Fingerprint() match = %v, want %v", got == base, tt.same)
			}
		})
	}
}

func TestFingerprint_IgnoresMessageIdentity(t *testing.T) {
	t.Parallel()

	// Two deliveries of the same content fingerprint identically even
	// though their message IDs differ; dedup keys on content.
	a := Message{ID: "<a@example.com>", Sender: "jane@example.com", Subject: "Hi", Body: "Hello"}
	b := Message{ID: "<b@example.com>", Sender: "jane@example.com", Subject: "Hi", Body: "Hello"}

	fpA := Fingerprint(a.Sender, a.Subject, a.Body)
	fpB := Fingerprint(b.Sender, b.Subject, b.Body)
	if fpA != fpB {
		t.Errorf("fingerprints differ for identical content: %s vs %s", fpA, fpB)
	}
}

func TestFingerprint_Shape(t *testing.T) {
	t.Parallel()

	fp := Fingerprint("a@b.c", "s", "b")
	if len(fp) != 64 {
		t.Errorf("Fingerprint() length = %d, want 64 hex chars", len(fp))
	}
	if fp != strings.ToLower(fp) {
		t.Errorf("Fingerprint() = %s, want lowercase hex", fp)
	}
}

func TestDisposition_Valid(t *testing.T) {
	t.Parallel()

	for _, d := range []Disposition{DispositionRespond, DispositionFlag, DispositionIgnore, DispositionError} {
		if !d.Valid() {
			t.Errorf("Valid() = false for %q", d)
		}
	}
	for _, d := range []Disposition{"", "maybe", "RESPOND"} {
		if d.Valid() {
			t.Errorf("Valid() = true for %q", d)
		}
	}
}
