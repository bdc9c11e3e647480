package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/itsvetkov1/Sentient-Inbox/internal/inbox"
)

// MemoryVault is an in-memory implementation of the Vault interface, useful
// for testing and dry runs. Safe for concurrent use.
type MemoryVault struct {
	name      string
	mu        sync.RWMutex
	archives  map[string][]byte
	checksums map[string]string
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:      name,
		archives:  make(map[string][]byte),
		checksums: make(map[string]string),
	}
}

// PutSnapshot stores a snapshot archive and its checksum.
func (m *MemoryVault) PutSnapshot(_ context.Context, id string, r io.Reader, size int64, checksum string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.archives[id] = data
	m.checksums[id] = checksum
	return nil
}

// GetSnapshot retrieves a snapshot archive.
func (m *MemoryVault) GetSnapshot(_ context.Context, id string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.archives[id]
	if !ok {
		return fmt.Errorf("snapshot %s: %w", id, inbox.ErrNotFound)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// SnapshotChecksum returns the declared checksum for a snapshot.
func (m *MemoryVault) SnapshotChecksum(_ context.Context, id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sum, ok := m.checksums[id]
	if !ok {
		return "", fmt.Errorf("checksum for snapshot %s: %w", id, inbox.ErrNotFound)
	}
	return sum, nil
}

// ListSnapshots returns snapshot IDs in ascending order.
func (m *MemoryVault) ListSnapshots(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.archives))
	for id := range m.archives {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteSnapshot removes a snapshot and its checksum.
func (m *MemoryVault) DeleteSnapshot(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.archives, id)
	delete(m.checksums, id)
	return nil
}

// Corrupt flips a byte of a stored archive in place. Test hook.
func (m *MemoryVault) Corrupt(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if data, ok := m.archives[id]; ok && len(data) > 0 {
		data[len(data)/2] ^= 0xFF
	}
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup(_ context.Context) error {
	return nil
}

// Compile-time check that MemoryVault implements the Vault interface
var _ inbox.Vault = (*MemoryVault)(nil)
