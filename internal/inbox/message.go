package inbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Message is one unread message as fetched from the mail collaborator.
type Message struct {
	ID         string
	ThreadID   string
	Sender     string
	Recipients []string
	Subject    string
	Body       string
	ReceivedAt time.Time
}

// Mailbox is the external mail collaborator surface. All methods are
// fallible; the pipeline retries transient failures with backoff.
type Mailbox interface {
	FetchUnread(ctx context.Context) ([]Message, error)
	MarkRead(ctx context.Context, id string) error
	SendReply(ctx context.Context, id string, body string) error
	Flag(ctx context.Context, id string) error
}

// Fingerprint derives the stable deduplication key for a message from its
// sender, subject, and normalized body. Two messages that differ only in
// external identifiers produce the same fingerprint.
func Fingerprint(sender, subject, body string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(sender))))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(subject))))
	h.Write([]byte{0})
	h.Write([]byte(normalizeBody(body)))
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeBody lowercases the body and collapses all runs of whitespace to a
// single space, so quoting/wrapping differences don't defeat deduplication.
func normalizeBody(body string) string {
	return strings.Join(strings.Fields(strings.ToLower(body)), " ")
}
