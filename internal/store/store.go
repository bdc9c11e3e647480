// Package store implements the durable encrypted record collection.
//
// Layout on disk:
//
//	<dir>/
//	  records/
//	    <fingerprint>    (one encrypted blob per record)
//
// Every write goes to a temporary file in the same directory followed by an
// atomic rename, so a crash mid-write leaves either the old record or the new
// record readable, never a truncated blob. Readers skip stray temp files.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/itsvetkov1/Sentient-Inbox/internal/codec"
	"github.com/itsvetkov1/Sentient-Inbox/internal/inbox"
	"github.com/itsvetkov1/Sentient-Inbox/internal/keyring"
)

// FileStore is the filesystem-backed secure record store.
type FileStore struct {
	// mu serializes all writes and is held exclusively across sweep,
	// snapshot, and restore, which replace store-wide state.
	mu         sync.RWMutex
	dir        string
	recordsDir string
	codec      *codec.Codec
	keys       *keyring.Keyring
	index      *Index
	logger     inbox.Logger
	clock      inbox.Clock
}

var _ inbox.RecordStore = (*FileStore)(nil)

// Open creates a FileStore rooted at dir and rebuilds the deduplication
// index by decoding every stored record. A record that names a generation
// the keyring no longer retains fails Open: proceeding would risk writing a
// duplicate reply for a message whose trace exists but cannot be read.
func Open(dir string, c *codec.Codec, keys *keyring.Keyring, logger inbox.Logger, clock inbox.Clock) (*FileStore, error) {
	recordsDir := filepath.Join(dir, "records")
	if err := os.MkdirAll(recordsDir, 0700); err != nil {
		return nil, fmt.Errorf("creating records directory: %w", err)
	}

	s := &FileStore{
		dir:        dir,
		recordsDir: recordsDir,
		codec:      c,
		keys:       keys,
		index:      NewIndex(),
		logger:     logger,
		clock:      clock,
	}
	if err := s.rebuildIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reserve claims a fingerprint and thread in the deduplication index.
func (s *FileStore) Reserve(fingerprint, threadID string) bool {
	return s.index.Reserve(fingerprint, threadID)
}

// Release undoes a Reserve whose record could not be persisted.
func (s *FileStore) Release(fingerprint, threadID string) {
	s.index.Release(fingerprint, threadID)
}

// Put encodes and durably writes a record, keyed by fingerprint.
//
// An existing record is immutable once written: the only permitted
// replacements are the ResponseSent false→true transition and an overwrite
// that records a pipeline failure (disposition error). I/O failures are
// reported as ErrStoreWrite so the pipeline can retry them.
func (s *FileStore) Put(r *inbox.Record) error {
	if r.Fingerprint == "" {
		return fmt.Errorf("record has no fingerprint")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, err := s.readRecord(r.Fingerprint); err == nil {
		if err := checkReplacement(existing, r); err != nil {
			return err
		}
	} else if !errors.Is(err, inbox.ErrNotFound) {
		return err
	}

	blob, err := s.codec.Encode(r)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", r.Fingerprint, err)
	}
	if err := s.writeBlob(r.Fingerprint, blob); err != nil {
		return err
	}

	s.index.Add(r.Fingerprint, r.ThreadID)
	s.logger.Debug("record stored", "fingerprint", r.Fingerprint, "disposition", string(r.Disposition))
	return nil
}

// Get returns the record for a fingerprint, or ErrNotFound.
func (s *FileStore) Get(fingerprint string) (*inbox.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readRecord(fingerprint)
}

// MarkResponseSent flips ResponseSent to true for an existing record.
// A record whose flag is already set is left untouched.
func (s *FileStore) MarkResponseSent(fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.readRecord(fingerprint)
	if err != nil {
		return err
	}
	if r.ResponseSent {
		return nil
	}
	r.ResponseSent = true
	r.UpdatedAt = s.clock.Now()

	blob, err := s.codec.Encode(r)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", fingerprint, err)
	}
	return s.writeBlob(fingerprint, blob)
}

// All returns a lazy, restartable iterator over every stored record. Each
// call makes one full pass in fingerprint order. Records that fail to decode
// are yielded as (nil, err); iteration continues past them.
func (s *FileStore) All() iter.Seq2[*inbox.Record, error] {
	return func(yield func(*inbox.Record, error) bool) {
		for _, fp := range s.fingerprints() {
			r, err := s.Get(fp)
			if err != nil {
				if errors.Is(err, inbox.ErrNotFound) {
					continue // removed between listing and read
				}
				if !yield(nil, fmt.Errorf("record %s: %w", fp, err)) {
					return
				}
				continue
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

// Count returns the number of stored records.
func (s *FileStore) Count() int {
	return len(s.fingerprints())
}

// VerifyIntegrity attempts to decode every stored record and returns the
// fingerprints that fail. It never mutates the store. An empty result means
// every record authenticated and decrypted cleanly.
func (s *FileStore) VerifyIntegrity() ([]string, error) {
	var corrupted []string
	for _, fp := range s.fingerprints() {
		_, err := s.Get(fp)
		switch {
		case err == nil, errors.Is(err, inbox.ErrNotFound):
		case errors.Is(err, inbox.ErrKeyUnavailable):
			// Not corruption: the record may be intact but the key history
			// has been truncated underneath it. Fatal, surfaced as-is.
			return corrupted, err
		default:
			corrupted = append(corrupted, fp)
		}
	}
	return corrupted, nil
}

// Sweep removes records created before horizon and rebuilds the index.
// It holds the store lock exclusively, so it cannot overlap a snapshot.
// Returns the number of records removed.
func (s *FileStore) Sweep(horizon time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, fp := range s.listLocked() {
		r, err := s.readRecord(fp)
		if err != nil {
			if errors.Is(err, inbox.ErrKeyUnavailable) {
				return removed, err
			}
			s.logger.Warn("sweep skipping unreadable record", "fingerprint", fp, "error", err)
			continue
		}
		if r.CreatedAt.Before(horizon) {
			if err := os.Remove(filepath.Join(s.recordsDir, fp)); err != nil {
				return removed, fmt.Errorf("removing expired record %s: %w", fp, err)
			}
			removed++
		}
	}

	if err := s.rebuildIndexLocked(); err != nil {
		return removed, err
	}
	s.logger.Info("retention sweep complete", "removed", removed)
	return removed, nil
}

// ReencryptAll re-encodes every record under the active key generation.
// Records already on the active generation are left untouched. After a full
// pass, retired generations are unreferenced and eligible for erasure.
func (s *FileStore) ReencryptAll() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := s.keys.Active()
	reencrypted := 0
	for _, fp := range s.listLocked() {
		blob, err := os.ReadFile(filepath.Join(s.recordsDir, fp))
		if err != nil {
			return reencrypted, fmt.Errorf("reading record %s: %w", fp, err)
		}
		gen, err := s.codec.Generation(blob)
		if err != nil {
			return reencrypted, fmt.Errorf("record %s: %w", fp, err)
		}
		if gen == active.Number {
			continue
		}
		r, err := s.codec.Decode(blob)
		if err != nil {
			return reencrypted, fmt.Errorf("record %s: %w", fp, err)
		}
		fresh, err := s.codec.EncodeWith(r, active)
		if err != nil {
			return reencrypted, fmt.Errorf("re-encoding record %s: %w", fp, err)
		}
		if err := s.writeBlob(fp, fresh); err != nil {
			return reencrypted, err
		}
		reencrypted++
	}
	return reencrypted, nil
}

// ReferencedGenerations returns the set of key generations that at least one
// stored record is still encrypted under.
func (s *FileStore) ReferencedGenerations() (map[uint64]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refs := make(map[uint64]bool)
	for _, fp := range s.listLocked() {
		blob, err := os.ReadFile(filepath.Join(s.recordsDir, fp))
		if err != nil {
			return nil, fmt.Errorf("reading record %s: %w", fp, err)
		}
		gen, err := s.codec.Generation(blob)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", fp, err)
		}
		refs[gen] = true
	}
	return refs, nil
}

// readRecord loads and decodes one record. Callers hold at least a read lock.
func (s *FileStore) readRecord(fingerprint string) (*inbox.Record, error) {
	blob, err := os.ReadFile(filepath.Join(s.recordsDir, fingerprint))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("record %s: %w", fingerprint, inbox.ErrNotFound)
		}
		return nil, fmt.Errorf("reading record %s: %w", fingerprint, err)
	}
	return s.codec.Decode(blob)
}

// writeBlob writes ciphertext via temp file + atomic rename. Callers hold
// the write lock.
func (s *FileStore) writeBlob(fingerprint string, blob []byte) error {
	tmp, err := os.CreateTemp(s.recordsDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", inbox.ErrStoreWrite, err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing record: %v", inbox.ErrStoreWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing temp file: %v", inbox.ErrStoreWrite, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.recordsDir, fingerprint)); err != nil {
		return fmt.Errorf("%w: replacing record: %v", inbox.ErrStoreWrite, err)
	}
	success = true
	return nil
}

// fingerprints lists stored fingerprints under a read lock.
func (s *FileStore) fingerprints() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked()
}

// listLocked lists stored fingerprints in sorted order, skipping temp files
// left by interrupted writes. Callers hold a lock.
func (s *FileStore) listLocked() []string {
	entries, err := os.ReadDir(s.recordsDir)
	if err != nil {
		s.logger.Error("listing records directory", "error", err)
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

func (s *FileStore) rebuildIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuildIndexLocked()
}

// rebuildIndexLocked decodes every record and indexes its fingerprint and
// thread. Records that fail authentication are indexed by filename alone —
// they still block duplicates, and VerifyIntegrity reports them. A missing
// key generation aborts: that is a fatal key-lifecycle fault.
func (s *FileStore) rebuildIndexLocked() error {
	ix := NewIndex()
	for _, fp := range s.listLocked() {
		r, err := s.readRecord(fp)
		if err != nil {
			if errors.Is(err, inbox.ErrKeyUnavailable) {
				return fmt.Errorf("rebuilding index: %w", err)
			}
			s.logger.Warn("indexing undecodable record by filename", "fingerprint", fp, "error", err)
			ix.Add(fp, "")
			continue
		}
		ix.Add(r.Fingerprint, r.ThreadID)
	}
	s.index = ix
	return nil
}

// checkReplacement enforces record immutability: once a disposition is
// written, the only changes allowed are flipping ResponseSent on and
// overwriting with an error disposition when a later pipeline step failed.
func checkReplacement(old, next *inbox.Record) error {
	if next.Disposition == inbox.DispositionError {
		return nil
	}
	same := old.MessageID == next.MessageID &&
		old.ThreadID == next.ThreadID &&
		old.Classification == next.Classification &&
		old.Disposition == next.Disposition &&
		old.AnalysisExplanation == next.AnalysisExplanation
	if !same {
		return fmt.Errorf("record %s is immutable once written", old.Fingerprint)
	}
	if old.ResponseSent && !next.ResponseSent {
		return fmt.Errorf("record %s: response_sent cannot be unset", old.Fingerprint)
	}
	return nil
}
