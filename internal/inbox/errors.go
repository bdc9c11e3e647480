package inbox

import "errors"

// Sentinel errors for the storage and key-lifecycle layers. Callers classify
// with errors.Is; wrapped messages carry the specifics.
var (
	// ErrNotFound is returned when no record exists for a fingerprint.
	ErrNotFound = errors.New("record not found")

	// ErrKeyUnavailable is returned when the key history no longer holds a
	// generation that an existing record was encrypted under. This is fatal:
	// decrypting under a different key would produce garbage, so the caller
	// must surface it rather than fall back to the active key.
	ErrKeyUnavailable = errors.New("key generation unavailable")

	// ErrDecryptionFailed is returned when a stored record fails
	// authentication or names a generation the keyring has never issued.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrSnapshotCorrupted is returned when a snapshot's content does not
	// match its declared checksum. Restore refuses to apply it.
	ErrSnapshotCorrupted = errors.New("snapshot corrupted")

	// ErrStoreWrite is returned when persisting a record fails at the I/O
	// level. The pipeline retries; if the failure persists it aborts the run.
	ErrStoreWrite = errors.New("store write failed")
)
