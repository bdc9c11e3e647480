// Package keyring owns the encryption key material and its rotation history.
//
// Each generation is an age X25519 identity. Records are encrypted toward the
// generation's recipient and decrypted with its identity, so retired
// generations must be retained until every record written under them has been
// re-encrypted. The history file itself is sealed with age's scrypt-based
// passphrase encryption, following the same discipline used for protecting
// a private key at rest.
package keyring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"filippo.io/age"

	"github.com/itsvetkov1/Sentient-Inbox/internal/inbox"
)

// Generation is one key-rotation epoch. Numbers increase monotonically and
// are never reused; the highest retained number is the active generation.
type Generation struct {
	Number      uint64    `json:"number"`
	ActivatedAt time.Time `json:"activated_at"`
	Recipient   string    `json:"recipient"`
	Secret      string    `json:"secret"`

	identity *age.X25519Identity
}

// Identity returns the parsed private identity for this generation.
func (g *Generation) Identity() age.Identity { return g.identity }

// AgeRecipient returns the parsed public recipient for this generation.
func (g *Generation) AgeRecipient() (age.Recipient, error) {
	return age.ParseX25519Recipient(g.Recipient)
}

// Keyring holds the active encryption key and the ordered history of retired
// generations. All mutation goes through a single-writer mutex: a rotation in
// progress is never observable as partially applied.
type Keyring struct {
	mu    sync.Mutex
	path  string
	pass  string
	clock inbox.Clock
	gens  []*Generation // ascending by Number; last entry is active
}

// Open loads the keyring from path, creating it with generation 1 if the file
// does not exist. The passphrase seals the history file at rest.
func Open(path, passphrase string, clock inbox.Clock) (*Keyring, error) {
	k := &Keyring{path: path, pass: passphrase, clock: clock}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		gen, err := k.newGeneration(1)
		if err != nil {
			return nil, err
		}
		k.gens = []*Generation{gen}
		if err := k.persist(k.gens); err != nil {
			return nil, fmt.Errorf("writing initial key history: %w", err)
		}
		return k, nil
	}

	if err := k.load(); err != nil {
		return nil, err
	}
	return k, nil
}

// Active returns the current encryption generation.
func (k *Keyring) Active() *Generation {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.gens[len(k.gens)-1]
}

// ForGeneration returns the generation numbered n.
//
// A number outside the range ever issued — zero, or above the highest —
// fails with ErrDecryptionFailed (such a tag cannot come from this keyring).
// A number inside the issued range but no longer retained fails with
// ErrKeyUnavailable: the history was truncated under a record that still
// references it, which is fatal for that record's read path and must never
// silently fall back to the active key.
func (k *Keyring) ForGeneration(n uint64) (*Generation, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	highest := k.gens[len(k.gens)-1].Number
	if n == 0 || n > highest {
		return nil, fmt.Errorf("generation %d was never issued: %w", n, inbox.ErrDecryptionFailed)
	}
	i := sort.Search(len(k.gens), func(i int) bool { return k.gens[i].Number >= n })
	if i < len(k.gens) && k.gens[i].Number == n {
		return k.gens[i], nil
	}
	return nil, fmt.Errorf("generation %d: %w", n, inbox.ErrKeyUnavailable)
}

// Rotate generates a new key, appends it as the active generation, and
// demotes the previous active key to history. The new history is persisted
// before it becomes visible, so a crash mid-rotation leaves the old state.
func (k *Keyring) Rotate() (uint64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	next := k.gens[len(k.gens)-1].Number + 1
	gen, err := k.newGeneration(next)
	if err != nil {
		return 0, err
	}

	gens := append(append([]*Generation{}, k.gens...), gen)
	if err := k.persist(gens); err != nil {
		return 0, fmt.Errorf("persisting rotated key history: %w", err)
	}

	k.gens = gens
	return next, nil
}

// Erasable returns the retired generation numbers not present in referenced.
// These are eligible for secure erasure: nothing in the store can still need
// them. The active generation is never erasable.
func (k *Keyring) Erasable(referenced map[uint64]bool) []uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()

	var out []uint64
	for _, g := range k.gens[:len(k.gens)-1] {
		if !referenced[g.Number] {
			out = append(out, g.Number)
		}
	}
	return out
}

// Compact drops retired generations not present in referenced and persists
// the shortened history. Callers must re-encrypt all records under the active
// generation first; Compact trusts the referenced set it is given.
func (k *Keyring) Compact(referenced map[uint64]bool) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	kept := make([]*Generation, 0, len(k.gens))
	for i, g := range k.gens {
		if i == len(k.gens)-1 || referenced[g.Number] {
			kept = append(kept, g)
		}
	}
	dropped := len(k.gens) - len(kept)
	if dropped == 0 {
		return 0, nil
	}

	if err := k.persist(kept); err != nil {
		return 0, fmt.Errorf("persisting compacted key history: %w", err)
	}
	k.gens = kept
	return dropped, nil
}

// Generations returns the retained generation numbers in ascending order.
func (k *Keyring) Generations() []uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()

	out := make([]uint64, len(k.gens))
	for i, g := range k.gens {
		out[i] = g.Number
	}
	return out
}

// Path returns the location of the sealed history file, for inclusion in
// snapshots.
func (k *Keyring) Path() string { return k.path }

// Reload re-reads the history file from disk, discarding in-memory state.
// Used after a snapshot restore replaces the file.
func (k *Keyring) Reload() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.loadLocked()
}

func (k *Keyring) newGeneration(n uint64) (*Generation, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}
	return &Generation{
		Number:      n,
		ActivatedAt: k.clock.Now().UTC(),
		Recipient:   identity.Recipient().String(),
		Secret:      identity.String(),
		identity:    identity,
	}, nil
}

type historyFile struct {
	Generations []*Generation `json:"generations"`
}

// persist seals the history with the passphrase and writes it atomically
// (temp file + rename) with 0600 permissions.
func (k *Keyring) persist(gens []*Generation) error {
	plaintext, err := json.Marshal(historyFile{Generations: gens})
	if err != nil {
		return fmt.Errorf("encoding key history: %w", err)
	}

	recipient, err := age.NewScryptRecipient(k.pass)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	var sealed bytes.Buffer
	w, err := age.Encrypt(&sealed, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return fmt.Errorf("sealing key history: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing sealed key history: %w", err)
	}

	dir := filepath.Dir(k.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".keys-*")
	if err != nil {
		return fmt.Errorf("creating temp key file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("restricting key file permissions: %w", err)
	}
	if _, err := tmp.Write(sealed.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("writing key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing key file: %w", err)
	}
	if err := os.Rename(tmpPath, k.path); err != nil {
		return fmt.Errorf("replacing key file: %w", err)
	}
	success = true
	return nil
}

func (k *Keyring) load() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.loadLocked()
}

func (k *Keyring) loadLocked() error {
	sealed, err := os.ReadFile(k.path)
	if err != nil {
		return fmt.Errorf("reading key history: %w", err)
	}

	identity, err := age.NewScryptIdentity(k.pass)
	if err != nil {
		return fmt.Errorf("creating scrypt identity: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(sealed), identity)
	if err != nil {
		return fmt.Errorf("unsealing key history (wrong passphrase?): %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading unsealed key history: %w", err)
	}

	var hf historyFile
	if err := json.Unmarshal(plaintext, &hf); err != nil {
		return fmt.Errorf("decoding key history: %w", err)
	}
	if len(hf.Generations) == 0 {
		return fmt.Errorf("key history is empty")
	}

	for _, g := range hf.Generations {
		id, err := age.ParseX25519Identity(g.Secret)
		if err != nil {
			return fmt.Errorf("parsing identity for generation %d: %w", g.Number, err)
		}
		g.identity = id
	}
	sort.Slice(hf.Generations, func(i, j int) bool {
		return hf.Generations[i].Number < hf.Generations[j].Number
	})

	k.gens = hf.Generations
	return nil
}
