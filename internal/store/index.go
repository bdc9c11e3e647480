package store

import "sync"

// Index is the in-memory deduplication index: the set of fingerprints with a
// durable record, plus the threads those records belong to. It is rebuilt
// from the store at startup and kept current by Put. Safe for concurrent use.
type Index struct {
	mu           sync.Mutex
	fingerprints map[string]struct{}
	threads      map[string]struct{}
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		fingerprints: make(map[string]struct{}),
		threads:      make(map[string]struct{}),
	}
}

// Has reports whether a fingerprint is known.
func (ix *Index) Has(fingerprint string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, ok := ix.fingerprints[fingerprint]
	return ok
}

// Add records a fingerprint and, when non-empty, its thread.
func (ix *Index) Add(fingerprint, threadID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.add(fingerprint, threadID)
}

// Reserve atomically claims a fingerprint and thread. It returns false when
// either is already claimed — by a prior run's record or by a concurrent
// worker — so that duplicate messages are skipped before any analysis call.
func (ix *Index) Reserve(fingerprint, threadID string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.fingerprints[fingerprint]; ok {
		return false
	}
	if threadID != "" {
		if _, ok := ix.threads[threadID]; ok {
			return false
		}
	}
	ix.add(fingerprint, threadID)
	return true
}

// Release undoes a Reserve whose record was never persisted.
func (ix *Index) Release(fingerprint, threadID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.fingerprints, fingerprint)
	if threadID != "" {
		delete(ix.threads, threadID)
	}
}

// Len returns the number of indexed fingerprints.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.fingerprints)
}

func (ix *Index) add(fingerprint, threadID string) {
	ix.fingerprints[fingerprint] = struct{}{}
	if threadID != "" {
		ix.threads[threadID] = struct{}{}
	}
}
