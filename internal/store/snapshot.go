package store

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/itsvetkov1/Sentient-Inbox/internal/inbox"
)

// Snapshot IDs are UTC timestamps, so their lexical order is chronological.
const snapshotIDFormat = "20060102T150405Z"

// Snapshot captures the record collection and the sealed key history into a
// single checksummed archive and stores it in the vault. The store lock is
// held exclusively for the duration, so the archive is a consistent
// point-in-time copy and can never overlap a retention sweep.
func (s *FileStore) Snapshot(ctx context.Context, vault inbox.Vault) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.clock.Now().UTC().Format(snapshotIDFormat)

	tmp, err := os.CreateTemp("", "sentinel-snapshot-*.tar")
	if err != nil {
		return "", fmt.Errorf("creating snapshot temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	defer tmp.Close()

	hash := sha256.New()
	tw := tar.NewWriter(io.MultiWriter(tmp, hash))

	for _, fp := range s.listLocked() {
		if err := addTarFile(tw, "records/"+fp, filepath.Join(s.recordsDir, fp)); err != nil {
			return "", fmt.Errorf("archiving record %s: %w", fp, err)
		}
	}
	if err := addTarFile(tw, "keys", s.keys.Path()); err != nil {
		return "", fmt.Errorf("archiving key history: %w", err)
	}
	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("finalizing snapshot archive: %w", err)
	}

	info, err := tmp.Stat()
	if err != nil {
		return "", fmt.Errorf("stat snapshot archive: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewinding snapshot archive: %w", err)
	}

	checksum := hex.EncodeToString(hash.Sum(nil))
	if err := vault.PutSnapshot(ctx, id, tmp, info.Size(), checksum); err != nil {
		return "", fmt.Errorf("storing snapshot %s: %w", id, err)
	}

	s.logger.Info("snapshot stored", "id", id, "size", info.Size())
	return id, nil
}

// Restore replaces the record collection and key history with the contents
// of a snapshot. The archive's checksum is verified against the vault's
// declared value before anything is touched; a mismatch fails with
// ErrSnapshotCorrupted and leaves the store unchanged. No Put may proceed
// while a restore is in progress — the store lock is held throughout.
func (s *FileStore) Restore(ctx context.Context, vault inbox.Vault, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp("", "sentinel-restore-*.tar")
	if err != nil {
		return fmt.Errorf("creating restore temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	defer tmp.Close()

	hash := sha256.New()
	if err := vault.GetSnapshot(ctx, id, io.MultiWriter(tmp, hash)); err != nil {
		return fmt.Errorf("fetching snapshot %s: %w", id, err)
	}

	declared, err := vault.SnapshotChecksum(ctx, id)
	if err != nil {
		return fmt.Errorf("fetching snapshot checksum for %s: %w", id, err)
	}
	if actual := hex.EncodeToString(hash.Sum(nil)); actual != declared {
		return fmt.Errorf("snapshot %s checksum mismatch (declared %s, got %s): %w",
			id, declared, actual, inbox.ErrSnapshotCorrupted)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding snapshot archive: %w", err)
	}

	// Unpack next to the live records directory so the final swap is a rename.
	stageDir, err := os.MkdirTemp(s.dir, ".restore-*")
	if err != nil {
		return fmt.Errorf("creating restore staging directory: %w", err)
	}
	defer os.RemoveAll(stageDir)

	keysBlob, err := unpackSnapshot(tmp, stageDir)
	if err != nil {
		return fmt.Errorf("unpacking snapshot %s: %w", id, err)
	}
	if keysBlob == nil {
		return fmt.Errorf("snapshot %s has no key history: %w", id, inbox.ErrSnapshotCorrupted)
	}

	// Swap in the restored records, then the key history. The old records
	// directory and key blob are kept aside until both installs succeed, so
	// any failure rolls back to the pre-restore pairing — restored records
	// must never sit next to a key history from another point in time.
	oldKeys, err := os.ReadFile(s.keys.Path())
	if err != nil {
		return fmt.Errorf("reading current key history: %w", err)
	}
	oldDir := s.recordsDir + ".old"
	if err := os.RemoveAll(oldDir); err != nil {
		return fmt.Errorf("clearing previous restore leftovers: %w", err)
	}
	if err := os.Rename(s.recordsDir, oldDir); err != nil {
		return fmt.Errorf("setting aside current records: %w", err)
	}
	rollback := func() {
		os.RemoveAll(s.recordsDir)
		os.Rename(oldDir, s.recordsDir)
	}
	if err := os.Rename(filepath.Join(stageDir, "records"), s.recordsDir); err != nil {
		rollback()
		return fmt.Errorf("installing restored records: %w", err)
	}

	if err := writeFileAtomic(s.keys.Path(), keysBlob, 0600); err != nil {
		rollback()
		return fmt.Errorf("installing restored key history: %w", err)
	}
	if err := s.keys.Reload(); err != nil {
		writeFileAtomic(s.keys.Path(), oldKeys, 0600)
		s.keys.Reload()
		rollback()
		return fmt.Errorf("reloading restored key history: %w", err)
	}

	os.RemoveAll(oldDir)

	if err := s.rebuildIndexLocked(); err != nil {
		return err
	}
	s.logger.Info("snapshot restored", "id", id, "records", len(s.listLocked()))
	return nil
}

// PruneSnapshots deletes all but the keep most recent snapshots.
func PruneSnapshots(ctx context.Context, vault inbox.Vault, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}
	ids, err := vault.ListSnapshots(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing snapshots: %w", err)
	}
	if len(ids) <= keep {
		return 0, nil
	}
	pruned := 0
	for _, id := range ids[:len(ids)-keep] {
		if err := vault.DeleteSnapshot(ctx, id); err != nil {
			return pruned, fmt.Errorf("deleting snapshot %s: %w", id, err)
		}
		pruned++
	}
	return pruned, nil
}

func addTarFile(tw *tar.Writer, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Name:    name,
		Mode:    0600,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// unpackSnapshot extracts records/* entries into stageDir/records and
// returns the key history bytes. Entry names outside the expected layout
// are rejected.
func unpackSnapshot(r io.Reader, stageDir string) ([]byte, error) {
	recordsDir := filepath.Join(stageDir, "records")
	if err := os.MkdirAll(recordsDir, 0700); err != nil {
		return nil, err
	}

	var keysBlob []byte
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch {
		case hdr.Name == "keys":
			keysBlob, err = io.ReadAll(tr)
			if err != nil {
				return nil, err
			}
		case strings.HasPrefix(hdr.Name, "records/"):
			name := strings.TrimPrefix(hdr.Name, "records/")
			if name == "" || strings.ContainsAny(name, "/\\") {
				return nil, fmt.Errorf("unexpected archive entry %q", hdr.Name)
			}
			blob, err := io.ReadAll(tr)
			if err != nil {
				return nil, err
			}
			if err := os.WriteFile(filepath.Join(recordsDir, name), blob, 0600); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unexpected archive entry %q", hdr.Name)
		}
	}
	return keysBlob, nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	success = true
	return nil
}
