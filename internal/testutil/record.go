package testutil

import (
	"fmt"
	"time"

	"github.com/itsvetkov1/Sentient-Inbox/internal/inbox"
)

// NewTestRecord builds a stored record with plausible fields. n
// differentiates records from the same builder.
func NewTestRecord(n int, createdAt time.Time) *inbox.Record {
	sender := fmt.Sprintf("sender%d@example.com", n)
	subject := fmt.Sprintf("Subject %d", n)
	body := fmt.Sprintf("Body of message %d", n)
	return &inbox.Record{
		Fingerprint:         inbox.Fingerprint(sender, subject, body),
		MessageID:           fmt.Sprintf("<msg-%d@example.com>", n),
		ThreadID:            fmt.Sprintf("<thread-%d@example.com>", n),
		Sender:              sender,
		Subject:             subject,
		ReceivedAt:          createdAt,
		Classification:      "meeting",
		Disposition:         inbox.DispositionRespond,
		AnalysisExplanation: "scheduling request with a clear time",
		CreatedAt:           createdAt,
		UpdatedAt:           createdAt,
	}
}
