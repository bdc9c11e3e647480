package mail

import (
	"context"
	"fmt"
	"sync"

	"github.com/itsvetkov1/Sentient-Inbox/internal/inbox"
)

// MemoryMailbox is an in-memory Mailbox for testing. It serves a fixed set
// of messages and records every action taken against them.
type MemoryMailbox struct {
	mu       sync.Mutex
	unread   []inbox.Message
	read     map[string]bool
	flagged  map[string]bool
	replies  map[string]string // message ID -> reply body
	failWith error             // when set, every action fails with this error
}

// NewMemoryMailbox creates a mailbox serving the given messages as unread.
func NewMemoryMailbox(messages ...inbox.Message) *MemoryMailbox {
	return &MemoryMailbox{
		unread:  append([]inbox.Message(nil), messages...),
		read:    make(map[string]bool),
		flagged: make(map[string]bool),
		replies: make(map[string]string),
	}
}

// FailWith makes all subsequent actions (not fetches) return err. Test hook.
func (m *MemoryMailbox) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Add appends more unread messages.
func (m *MemoryMailbox) Add(messages ...inbox.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unread = append(m.unread, messages...)
}

// FetchUnread returns all messages not yet marked read.
func (m *MemoryMailbox) FetchUnread(_ context.Context) ([]inbox.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []inbox.Message
	for _, msg := range m.unread {
		if !m.read[msg.ID] {
			out = append(out, msg)
		}
	}
	return out, nil
}

// MarkRead marks a message as read.
func (m *MemoryMailbox) MarkRead(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if !m.has(id) {
		return fmt.Errorf("unknown message: %s", id)
	}
	m.read[id] = true
	return nil
}

// SendReply records a reply body for a message.
func (m *MemoryMailbox) SendReply(_ context.Context, id string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if !m.has(id) {
		return fmt.Errorf("unknown message: %s", id)
	}
	m.replies[id] = body
	return nil
}

// Flag marks a message as flagged.
func (m *MemoryMailbox) Flag(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if !m.has(id) {
		return fmt.Errorf("unknown message: %s", id)
	}
	m.flagged[id] = true
	return nil
}

// IsRead reports whether a message was marked read.
func (m *MemoryMailbox) IsRead(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read[id]
}

// IsFlagged reports whether a message was flagged.
func (m *MemoryMailbox) IsFlagged(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flagged[id]
}

// Reply returns the recorded reply body for a message, if any.
func (m *MemoryMailbox) Reply(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.replies[id]
	return body, ok
}

// ReplyCount returns how many replies were sent.
func (m *MemoryMailbox) ReplyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.replies)
}

func (m *MemoryMailbox) has(id string) bool {
	for _, msg := range m.unread {
		if msg.ID == id {
			return true
		}
	}
	return false
}

// Compile-time check that MemoryMailbox implements the Mailbox interface
var _ inbox.Mailbox = (*MemoryMailbox)(nil)
