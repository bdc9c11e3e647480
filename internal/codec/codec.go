// Package codec serializes and encrypts individual records.
//
// The wire form is a small header followed by an age ciphertext:
//
//	offset 0: magic "SIR1" (4 bytes)
//	offset 4: key generation number (8 bytes, big endian)
//	offset 12: age ciphertext of the JSON-encoded record
//
// Tagging the ciphertext with its generation lets decode look up the exact
// key a record was written under, regardless of how many rotations have
// happened since. age's format carries the per-encryption file key and
// authentication tags internally, so nonces are never reused across
// encryptions and tampering is detected on decrypt.
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/itsvetkov1/Sentient-Inbox/internal/inbox"
	"github.com/itsvetkov1/Sentient-Inbox/internal/keyring"
)

var magic = []byte("SIR1")

const headerLen = 4 + 8

// Codec encrypts and decrypts records against a keyring.
type Codec struct {
	keys *keyring.Keyring
}

// New creates a Codec backed by the given keyring.
func New(keys *keyring.Keyring) *Codec {
	return &Codec{keys: keys}
}

// Encode serializes r and encrypts it under the active generation, tagging
// the ciphertext with that generation's number.
func (c *Codec) Encode(r *inbox.Record) ([]byte, error) {
	gen := c.keys.Active()
	return c.EncodeWith(r, gen)
}

// EncodeWith serializes r and encrypts it under a specific generation.
// Used by re-encryption sweeps that bring old records onto the active key.
func (c *Codec) EncodeWith(r *inbox.Record, gen *keyring.Generation) ([]byte, error) {
	plaintext, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}

	recipient, err := gen.AgeRecipient()
	if err != nil {
		return nil, fmt.Errorf("parsing recipient for generation %d: %w", gen.Number, err)
	}

	var buf bytes.Buffer
	buf.Write(magic)
	var genTag [8]byte
	binary.BigEndian.PutUint64(genTag[:], gen.Number)
	buf.Write(genTag[:])

	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("encrypting record: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}

	return buf.Bytes(), nil
}

// Decode decrypts and deserializes a record, looking up the key by the
// generation tag in the header.
//
// Failures map onto the store error taxonomy: a mangled header, an unissued
// generation, or an authentication failure yield ErrDecryptionFailed; a
// generation that existed but is no longer retained yields ErrKeyUnavailable
// (fatal — see keyring.ForGeneration).
func (c *Codec) Decode(b []byte) (*inbox.Record, error) {
	gen, err := c.generationOf(b)
	if err != nil {
		return nil, err
	}

	r, err := age.Decrypt(bytes.NewReader(b[headerLen:]), gen.Identity())
	if err != nil {
		return nil, fmt.Errorf("decrypting record: %w: %v", inbox.ErrDecryptionFailed, err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted record: %w: %v", inbox.ErrDecryptionFailed, err)
	}

	var rec inbox.Record
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, fmt.Errorf("decoding record: %w: %v", inbox.ErrDecryptionFailed, err)
	}
	return &rec, nil
}

// Generation returns the key generation a ciphertext was written under
// without decrypting it.
func (c *Codec) Generation(b []byte) (uint64, error) {
	if len(b) < headerLen || !bytes.Equal(b[:4], magic) {
		return 0, fmt.Errorf("malformed record header: %w", inbox.ErrDecryptionFailed)
	}
	return binary.BigEndian.Uint64(b[4:12]), nil
}

func (c *Codec) generationOf(b []byte) (*keyring.Generation, error) {
	n, err := c.Generation(b)
	if err != nil {
		return nil, err
	}
	return c.keys.ForGeneration(n)
}
