package inbox

import (
	"context"
	"io"
)

// Vault provides an interface for snapshot storage backends. Snapshots are
// identified by timestamp IDs that sort chronologically, and each carries a
// declared checksum that restore verifies before applying anything.
// All operations stream through io.Reader/io.Writer.
type Vault interface {
	// PutSnapshot stores a snapshot archive under id. size is the number of
	// bytes that will be read from r; checksum is the hex SHA-256 of the
	// archive, stored alongside it for integrity verification on restore.
	// A snapshot must be fully written or not visible at all.
	PutSnapshot(ctx context.Context, id string, r io.Reader, size int64, checksum string) error

	// GetSnapshot retrieves the snapshot archive for id and writes it to w.
	GetSnapshot(ctx context.Context, id string, w io.Writer) error

	// SnapshotChecksum returns the checksum declared when id was stored.
	SnapshotChecksum(ctx context.Context, id string) (string, error)

	// ListSnapshots returns all snapshot IDs in ascending (oldest-first) order.
	ListSnapshots(ctx context.Context) ([]string, error)

	// DeleteSnapshot removes a snapshot and its checksum.
	DeleteSnapshot(ctx context.Context, id string) error

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup(ctx context.Context) error
}
