package ledger

import (
	"context"
	"sync"

	"github.com/Institute-for-Folly/RECAP/internal/dayclock"
)

// MemoryStore is an in-memory, thread-safe Store. The log and the index are
// guarded by one RWMutex so a reader can never see one without the other.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	index   map[DayKey]uint64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: make(map[DayKey]uint64)}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, rec Record) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := DayKey{Identity: rec.Identity, DayID: rec.DayID}
	if _, ok := s.index[key]; ok {
		return Entry{}, ErrAlreadySubmittedToday
	}

	entry := rec.At(uint64(len(s.entries)))
	s.entries = append(s.entries, entry)
	s.index[key] = entry.SequenceIndex
	return entry, nil
}

// Lookup implements Store.
func (s *MemoryStore) Lookup(_ context.Context, id Identity, day dayclock.DayID) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq, ok := s.index[DayKey{Identity: id, DayID: day}]
	if !ok {
		return Entry{}, false, nil
	}
	return s.entries[seq], true, nil
}

// At implements Store.
func (s *MemoryStore) At(_ context.Context, index uint64) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index >= uint64(len(s.entries)) {
		return Entry{}, false, nil
	}
	return s.entries[index], true, nil
}

// Len implements Store.
func (s *MemoryStore) Len(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.entries)), nil
}

// Range implements Store.
func (s *MemoryStore) Range(_ context.Context, from, to uint64) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n := uint64(len(s.entries)); to > n {
		to = n
	}
	if from >= to {
		return []Entry{}, nil
	}
	out := make([]Entry, to-from)
	copy(out, s.entries[from:to])
	return out, nil
}
