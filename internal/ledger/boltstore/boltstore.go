// Package boltstore is a ledger.Store backed by a single bbolt file.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Institute-for-Folly/RECAP/internal/dayclock"
	"github.com/Institute-for-Folly/RECAP/internal/ledger"
)

var (
	entriesBucket = []byte("entries")
	daysBucket    = []byte("days")
)

// Store keeps the append-only log in the entries bucket, keyed by big-endian
// sequence index, and the per-day index in the days bucket. The entries
// bucket's sequence counter is the log length.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{entriesBucket, daysBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append implements ledger.Store.
func (s *Store) Append(_ context.Context, rec ledger.Record) (ledger.Entry, error) {
	var entry ledger.Entry
	err := s.db.Update(func(tx *bolt.Tx) error {
		days := tx.Bucket(daysBucket)
		dk := dayKey(rec.Identity, rec.DayID)
		if days.Get(dk) != nil {
			return ledger.ErrAlreadySubmittedToday
		}

		entries := tx.Bucket(entriesBucket)
		next, err := entries.NextSequence()
		if err != nil {
			return err
		}
		entry = rec.At(next - 1)

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		sk := seqKey(entry.SequenceIndex)
		if err := entries.Put(sk, data); err != nil {
			return err
		}
		return days.Put(dk, sk)
	})
	if err != nil {
		return ledger.Entry{}, err
	}
	return entry, nil
}

// Lookup implements ledger.Store.
func (s *Store) Lookup(_ context.Context, id ledger.Identity, day dayclock.DayID) (ledger.Entry, bool, error) {
	var (
		entry ledger.Entry
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		sk := tx.Bucket(daysBucket).Get(dayKey(id, day))
		if sk == nil {
			return nil
		}
		data := tx.Bucket(entriesBucket).Get(sk)
		if data == nil {
			return fmt.Errorf("day index points at missing entry %d", binary.BigEndian.Uint64(sk))
		}
		found = true
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return ledger.Entry{}, false, err
	}
	return entry, found, nil
}

// At implements ledger.Store.
func (s *Store) At(_ context.Context, index uint64) (ledger.Entry, bool, error) {
	var (
		entry ledger.Entry
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(entriesBucket).Get(seqKey(index))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return ledger.Entry{}, false, err
	}
	return entry, found, nil
}

// Len implements ledger.Store.
func (s *Store) Len(_ context.Context) (uint64, error) {
	var n uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(entriesBucket).Sequence()
		return nil
	})
	return n, err
}

// Range implements ledger.Store.
func (s *Store) Range(_ context.Context, from, to uint64) ([]ledger.Entry, error) {
	out := []ledger.Entry{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		if n := b.Sequence(); to > n {
			to = n
		}
		if from >= to {
			return nil
		}
		out = make([]ledger.Entry, 0, to-from)
		c := b.Cursor()
		for k, v := c.Seek(seqKey(from)); k != nil && binary.BigEndian.Uint64(k) < to; k, v = c.Next() {
			var e ledger.Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("failed to decode entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func dayKey(id ledger.Identity, day dayclock.DayID) []byte {
	k := make([]byte, ledger.IdentityLen+8)
	copy(k, id[:])
	binary.BigEndian.PutUint64(k[ledger.IdentityLen:], uint64(day))
	return k
}
