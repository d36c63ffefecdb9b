package ledger

import (
	"context"

	"github.com/Institute-for-Folly/RECAP/internal/dayclock"
)

// Store persists the log and the (identity, day) index.
//
// Append must assign SequenceIndex = current length, append the entry and
// register its DayKey as a single atomic unit, and must fail with
// ErrAlreadySubmittedToday (leaving the log untouched) when the key exists.
// A nil error from Append means the entry is durable for the backend's
// durability model. Readers must never observe the log and the index out of
// step.
type Store interface {
	Append(ctx context.Context, rec Record) (Entry, error)

	// Lookup returns the entry for the key, if any.
	Lookup(ctx context.Context, id Identity, day dayclock.DayID) (Entry, bool, error)

	// At returns the entry at the zero-based sequence index, if any.
	At(ctx context.Context, index uint64) (Entry, bool, error)

	// Len returns the number of committed entries.
	Len(ctx context.Context) (uint64, error)

	// Range returns the entries with from <= SequenceIndex < to in ascending
	// order. to is clamped to Len; from >= to yields an empty slice.
	Range(ctx context.Context, from, to uint64) ([]Entry, error)
}
