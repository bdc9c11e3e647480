package vault

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/itsvetkov1/Sentient-Inbox/internal/inbox"
)

// FileSystemVault is a filesystem-based implementation of the Vault
// interface. It stores snapshots as files in a flat directory:
//
//	<root>/
//	  <id>.tar    (snapshot archive)
//	  <id>.sum    (declared checksum)
//
// The checksum file is written only after the archive has been atomically
// renamed into place, so a snapshot without its checksum is treated as
// absent — a partial write is never restorable.
type FileSystemVault struct {
	name string
	root string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}
	return &FileSystemVault{name: name, root: root}, nil
}

// PutSnapshot stores a snapshot archive and its checksum.
func (v *FileSystemVault) PutSnapshot(_ context.Context, id string, r io.Reader, size int64, checksum string) error {
	if err := v.writeFile(v.archivePath(id), r, size); err != nil {
		return err
	}
	if err := os.WriteFile(v.checksumPath(id), []byte(checksum), 0644); err != nil {
		return fmt.Errorf("writing checksum file: %w", err)
	}
	return nil
}

// GetSnapshot retrieves a snapshot archive and writes it to w.
func (v *FileSystemVault) GetSnapshot(_ context.Context, id string, w io.Writer) error {
	f, err := os.Open(v.archivePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("snapshot %s: %w", id, inbox.ErrNotFound)
		}
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	return nil
}

// SnapshotChecksum returns the declared checksum for a snapshot.
func (v *FileSystemVault) SnapshotChecksum(_ context.Context, id string) (string, error) {
	data, err := os.ReadFile(v.checksumPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("checksum for snapshot %s: %w", id, inbox.ErrNotFound)
		}
		return "", fmt.Errorf("reading checksum file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// ListSnapshots returns snapshot IDs in ascending order. Archives missing
// their checksum file are skipped: they were never fully stored.
func (v *FileSystemVault) ListSnapshots(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(v.root)
	if err != nil {
		return nil, fmt.Errorf("listing vault directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".tar") {
			continue
		}
		id := strings.TrimSuffix(name, ".tar")
		if _, err := os.Stat(v.checksumPath(id)); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteSnapshot removes a snapshot archive and its checksum.
func (v *FileSystemVault) DeleteSnapshot(_ context.Context, id string) error {
	// Checksum first: a checksum-less archive reads as absent.
	if err := os.Remove(v.checksumPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing checksum file: %w", err)
	}
	if err := os.Remove(v.archivePath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing snapshot archive: %w", err)
	}
	return nil
}

// ValidateSetup verifies that the vault directory is accessible.
func (v *FileSystemVault) ValidateSetup(_ context.Context) error {
	info, err := os.Stat(v.root)
	if err != nil {
		return fmt.Errorf("vault root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault root is not a directory: %s", v.root)
	}
	return nil
}

func (v *FileSystemVault) archivePath(id string) string {
	return filepath.Join(v.root, id+".tar")
}

func (v *FileSystemVault) checksumPath(id string) string {
	return filepath.Join(v.root, id+".sum")
}

// writeFile writes data from r to the specified path using atomic write (temp file + rename).
func (v *FileSystemVault) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that FileSystemVault implements the Vault interface
var _ inbox.Vault = (*FileSystemVault)(nil)
