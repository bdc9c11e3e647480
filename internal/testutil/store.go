package testutil

import (
	"testing"

	"github.com/itsvetkov1/Sentient-Inbox/internal/codec"
	"github.com/itsvetkov1/Sentient-Inbox/internal/inbox"
	"github.com/itsvetkov1/Sentient-Inbox/internal/keyring"
	"github.com/itsvetkov1/Sentient-Inbox/internal/store"
)

// TestPassphrase seals test keyrings.
const TestPassphrase = "test"

// NewTestKeyring creates a keyring in a temp directory with one generation.
func NewTestKeyring(t *testing.T, clock inbox.Clock) *keyring.Keyring {
	t.Helper()

	k, err := keyring.Open(t.TempDir()+"/history.age", TestPassphrase, clock)
	if err != nil {
		t.Fatalf("failed to open keyring: %v", err)
	}
	return k
}

// NewTestStore creates a record store in a temp directory backed by a fresh
// keyring.
func NewTestStore(t *testing.T, clock inbox.Clock) (*store.FileStore, *keyring.Keyring) {
	t.Helper()

	keys := NewTestKeyring(t, clock)
	s, err := store.Open(t.TempDir(), codec.New(keys), keys, inbox.NewNopLogger(), clock)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	return s, keys
}
