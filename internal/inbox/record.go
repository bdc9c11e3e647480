package inbox

import "time"

// Disposition is the final action decision for a message.
type Disposition string

const (
	DispositionRespond Disposition = "respond"
	DispositionFlag    Disposition = "flag_for_action"
	DispositionIgnore  Disposition = "ignore"
	DispositionError   Disposition = "error"
)

// Valid reports whether d is one of the defined dispositions.
func (d Disposition) Valid() bool {
	switch d {
	case DispositionRespond, DispositionFlag, DispositionIgnore, DispositionError:
		return true
	}
	return false
}

// Record is the durable trace of one processed message. Records are keyed by
// fingerprint and are immutable once written, except for the ResponseSent
// flag which may transition false→true exactly once.
type Record struct {
	Fingerprint         string      `json:"fingerprint"`
	MessageID           string      `json:"message_id"`
	ThreadID            string      `json:"thread_id,omitempty"`
	Sender              string      `json:"sender"`
	Subject             string      `json:"subject"`
	ReceivedAt          time.Time   `json:"received_at"`
	Classification      string      `json:"classification"`
	Disposition         Disposition `json:"disposition"`
	AnalysisExplanation string      `json:"analysis_explanation,omitempty"`
	ResponseSent        bool        `json:"response_sent"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// RecordStore is the slice of the secure record store the pipeline needs.
// The concrete store additionally exposes iteration, integrity verification,
// retention sweeps, and snapshot/restore; the pipeline never touches those.
type RecordStore interface {
	// Reserve atomically claims a fingerprint (and its thread, when known) in
	// the deduplication index. It returns false if either was already claimed,
	// in which case the message must be skipped before any analysis happens.
	Reserve(fingerprint, threadID string) bool

	// Release undoes a Reserve whose record could not be persisted.
	Release(fingerprint, threadID string)

	// Put encodes and durably writes a record, replacing any prior record
	// with the same fingerprint. Writes are crash-atomic per record.
	Put(r *Record) error

	// Get returns the record for a fingerprint, or ErrNotFound.
	Get(fingerprint string) (*Record, error)

	// MarkResponseSent flips ResponseSent to true for an existing record.
	// Calling it on a record that already has ResponseSent set is a no-op.
	MarkResponseSent(fingerprint string) error
}
