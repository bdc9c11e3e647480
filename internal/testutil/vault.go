package testutil

import (
	"github.com/itsvetkov1/Sentient-Inbox/internal/inbox"
	"github.com/itsvetkov1/Sentient-Inbox/internal/vault"
)

// NewTestVault creates an in-memory vault for testing.
func NewTestVault() inbox.Vault {
	return vault.NewMemoryVault("test")
}
