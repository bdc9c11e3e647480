package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/itsvetkov1/Sentient-Inbox/internal/codec"
	"github.com/itsvetkov1/Sentient-Inbox/internal/inbox"
	"github.com/itsvetkov1/Sentient-Inbox/internal/keyring"
	"github.com/itsvetkov1/Sentient-Inbox/internal/store"
	"github.com/itsvetkov1/Sentient-Inbox/internal/testutil"
	"github.com/itsvetkov1/Sentient-Inbox/internal/vault"
)

func TestFileStore_SnapshotRestore(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	v := testutil.NewTestVault()
	ctx := context.Background()

	recs := make([]*inbox.Record, 0, 3)
	for i := 1; i <= 3; i++ {
		rec := testutil.NewTestRecord(i, f.clock.Now())
		recs = append(recs, rec)
		if err := f.store.Put(rec); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	id, err := f.store.Snapshot(ctx, v)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if id == "" {
		t.Fatal("Snapshot() returned empty id")
	}

	// Drift the store away from the snapshot: add a record, then wipe
	// everything with a sweep whose horizon is in the future.
	extra := testutil.NewTestRecord(4, f.clock.Now())
	if err := f.store.Put(extra); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := f.store.Sweep(f.clock.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	if err := f.store.Restore(ctx, v, id); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	if f.store.Count() != len(recs) {
		t.Errorf("Count() after restore = %d, want %d", f.store.Count(), len(recs))
	}
	for _, rec := range recs {
		got, err := f.store.Get(rec.Fingerprint)
		if err != nil {
			t.Fatalf("Get(%s) error = %v", rec.Fingerprint, err)
		}
		if got.Subject != rec.Subject {
			t.Errorf("Get().Subject = %q, want %q", got.Subject, rec.Subject)
		}
	}
	if _, err := f.store.Get(extra.Fingerprint); !errors.Is(err, inbox.ErrNotFound) {
		t.Errorf("Get(post-snapshot record) error = %v, want ErrNotFound", err)
	}
}

func TestFileStore_RestoreRejectsCorruptedSnapshot(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	v := vault.NewMemoryVault("test")
	ctx := context.Background()

	rec := testutil.NewTestRecord(1, f.clock.Now())
	if err := f.store.Put(rec); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	id, err := f.store.Snapshot(ctx, v)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	v.Corrupt(id)

	if err := f.store.Restore(ctx, v, id); !errors.Is(err, inbox.ErrSnapshotCorrupted) {
		t.Fatalf("Restore() error = %v, want ErrSnapshotCorrupted", err)
	}

	// A failed restore leaves the live store untouched.
	got, err := f.store.Get(rec.Fingerprint)
	if err != nil {
		t.Fatalf("Get() after failed restore error = %v", err)
	}
	if got.Subject != rec.Subject {
		t.Errorf("Get().Subject = %q, want %q", got.Subject, rec.Subject)
	}
}

func TestFileStore_RestoreUnknownSnapshot(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	v := testutil.NewTestVault()

	err := f.store.Restore(context.Background(), v, "20250101T000000Z")
	if !errors.Is(err, inbox.ErrNotFound) {
		t.Errorf("Restore() error = %v, want ErrNotFound", err)
	}
}

func TestPruneSnapshots(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	v := testutil.NewTestVault()
	ctx := context.Background()

	if err := f.store.Put(testutil.NewTestRecord(1, f.clock.Now())); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// Snapshot ids carry second resolution, so advance between snapshots.
	ids := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		id, err := f.store.Snapshot(ctx, v)
		if err != nil {
			t.Fatalf("Snapshot() error = %v", err)
		}
		ids = append(ids, id)
		f.clock.Advance(time.Minute)
	}

	pruned, err := store.PruneSnapshots(ctx, v, 2)
	if err != nil {
		t.Fatalf("PruneSnapshots() error = %v", err)
	}
	if pruned != 2 {
		t.Errorf("PruneSnapshots() = %d, want 2", pruned)
	}

	remaining, err := v.ListSnapshots(ctx)
	if err != nil {
		t.Fatalf("ListSnapshots() error = %v", err)
	}
	want := ids[2:]
	if len(remaining) != len(want) {
		t.Fatalf("ListSnapshots() = %v, want %v", remaining, want)
	}
	for i := range want {
		if remaining[i] != want[i] {
			t.Errorf("ListSnapshots()[%d] = %s, want %s", i, remaining[i], want[i])
		}
	}

	// Nothing to prune when under the keep limit.
	if pruned, err := store.PruneSnapshots(ctx, v, 5); err != nil || pruned != 0 {
		t.Errorf("PruneSnapshots() under limit = (%d, %v), want (0, nil)", pruned, err)
	}
}

func TestFileStore_RestoreRollsBackOnKeyHistoryFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	v := testutil.NewTestVault()
	ctx := context.Background()

	mine := testutil.NewTestRecord(1, f.clock.Now())
	if err := f.store.Put(mine); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// Snapshot a store whose key history is sealed under a different
	// passphrase. The archive is intact, so fetch and checksum pass, but
	// reloading the restored key history fails.
	otherKeys, err := keyring.Open(t.TempDir()+"/history.age", "other-passphrase", f.clock)
	if err != nil {
		t.Fatalf("Open() keyring error = %v", err)
	}
	other, err := store.Open(t.TempDir(), codec.New(otherKeys), otherKeys, inbox.NewNopLogger(), f.clock)
	if err != nil {
		t.Fatalf("Open() store error = %v", err)
	}
	theirs := testutil.NewTestRecord(2, f.clock.Now())
	if err := other.Put(theirs); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	id, err := other.Snapshot(ctx, v)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	if err := f.store.Restore(ctx, v, id); err == nil {
		t.Fatal("Restore() with foreign key history succeeded, want error")
	}

	// The failed restore rolled back records and key history together: the
	// original record still decrypts and the foreign one never landed.
	got, err := f.store.Get(mine.Fingerprint)
	if err != nil {
		t.Fatalf("Get() after failed restore error = %v", err)
	}
	if got.Subject != mine.Subject {
		t.Errorf("Get().Subject = %q, want %q", got.Subject, mine.Subject)
	}
	if _, err := f.store.Get(theirs.Fingerprint); !errors.Is(err, inbox.ErrNotFound) {
		t.Errorf("Get(foreign record) error = %v, want ErrNotFound", err)
	}
	if got := f.keys.Active().Number; got != 1 {
		t.Errorf("Active().Number after rollback = %d, want 1", got)
	}
}

func TestFileStore_SnapshotRestoresKeyHistory(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	v := testutil.NewTestVault()
	ctx := context.Background()

	rec := testutil.NewTestRecord(1, f.clock.Now())
	if err := f.store.Put(rec); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	id, err := f.store.Snapshot(ctx, v)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	// Rotate after the snapshot. Restore brings the key history back to
	// the snapshotted state, so the old generation still decrypts.
	if _, err := f.keys.Rotate(); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if err := f.store.Restore(ctx, v, id); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	if got := f.keys.Active().Number; got != 1 {
		t.Errorf("Active().Number after restore = %d, want 1", got)
	}
	if _, err := f.store.Get(rec.Fingerprint); err != nil {
		t.Errorf("Get() after restore error = %v", err)
	}
}
