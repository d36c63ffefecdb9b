package ledger

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/Institute-for-Folly/RECAP/internal/dayclock"
)

// IdentityLen is the width of an Identity in bytes.
const IdentityLen = 20

// DigestLen is the width of a content Digest in bytes.
const DigestLen = 32

// Identity is an opaque fixed-width principal identifier, rendered as a
// 0x-prefixed hex address.
type Identity [IdentityLen]byte

// ParseIdentity parses a hex identity with or without the 0x prefix.
func ParseIdentity(s string) (Identity, error) {
	var id Identity
	if err := decodeFixedHex(s, id[:]); err != nil {
		return Identity{}, fmt.Errorf("%w: identity: %v", ErrInvalidInput, err)
	}
	return id, nil
}

// MustParseIdentity is like ParseIdentity but panics on error.
func MustParseIdentity(s string) Identity {
	id, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id Identity) String() string { return "0x" + hex.EncodeToString(id[:]) }

// MarshalText implements encoding.TextMarshaler.
func (id Identity) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(b []byte) error {
	parsed, err := ParseIdentity(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Digest is the caller-supplied fingerprint of off-chain content. The ledger
// never interprets it beyond rejecting the all-zero value.
type Digest [DigestLen]byte

// ParseDigest parses a hex digest with or without the 0x prefix.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if err := decodeFixedHex(s, d[:]); err != nil {
		return Digest{}, fmt.Errorf("%w: content digest: %v", ErrInvalidInput, err)
	}
	return d, nil
}

// MustParseDigest is like ParseDigest but panics on error.
func MustParseDigest(s string) Digest {
	d, err := ParseDigest(s)
	if err != nil {
		panic(err)
	}
	return d
}

// IsZero reports whether every byte of the digest is zero.
func (d Digest) IsZero() bool { return d == Digest{} }

func (d Digest) String() string { return "0x" + hex.EncodeToString(d[:]) }

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(b []byte) error {
	parsed, err := ParseDigest(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func decodeFixedHex(s string, dst []byte) error {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(s) != 2*len(dst) {
		return fmt.Errorf("want %d hex characters, got %d", 2*len(dst), len(s))
	}
	if _, err := hex.Decode(dst, []byte(s)); err != nil {
		return err
	}
	return nil
}

// Record is an entry before the store has assigned its sequence index.
type Record struct {
	Identity      Identity
	DayID         dayclock.DayID
	ContentDigest Digest
	CreatedAt     time.Time
}

// Entry is an immutable, committed submission.
type Entry struct {
	Identity      Identity       `json:"identity"`
	DayID         dayclock.DayID `json:"day_id"`
	ContentDigest Digest         `json:"content_digest"`
	CreatedAt     time.Time      `json:"created_at"`
	SequenceIndex uint64         `json:"sequence_index"`
}

// At returns the entry that results from committing r at position seq.
func (r Record) At(seq uint64) Entry {
	return Entry{
		Identity:      r.Identity,
		DayID:         r.DayID,
		ContentDigest: r.ContentDigest,
		CreatedAt:     r.CreatedAt,
		SequenceIndex: seq,
	}
}

// DayKey is the uniqueness key of the per-day index.
type DayKey struct {
	Identity Identity
	DayID    dayclock.DayID
}

// Key returns the entry's uniqueness key.
func (e Entry) Key() DayKey { return DayKey{Identity: e.Identity, DayID: e.DayID} }
