package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Institute-for-Folly/RECAP/internal/dayclock"
	"go.uber.org/zap"
)

// SubmissionLedger is the sole mutator of ledger state.
type SubmissionLedger struct {
	store  Store
	clock  dayclock.Clock
	logger *zap.Logger

	mu       sync.RWMutex
	notifier Notifier // nil = no notifications
}

// New creates a SubmissionLedger over store. clock decides day boundaries;
// pass dayclock.System{} in production.
func New(store Store, clock dayclock.Clock, logger *zap.Logger) *SubmissionLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubmissionLedger{store: store, clock: clock, logger: logger}
}

// SetNotifier configures where SubmissionRecorded events are sent. It may be
// called while submissions are in flight; each Submit uses the notifier set
// when its append completed.
func (l *SubmissionLedger) SetNotifier(n Notifier) {
	l.mu.Lock()
	l.notifier = n
	l.mu.Unlock()
}

// Clock returns the clock used for day boundaries.
func (l *SubmissionLedger) Clock() dayclock.Clock { return l.clock }

// Today returns the current DayID.
func (l *SubmissionLedger) Today() dayclock.DayID { return dayclock.Current(l.clock) }

// Submit records digest for id on the current day. The returned entry carries
// the assigned sequence index.
func (l *SubmissionLedger) Submit(ctx context.Context, id Identity, digest Digest) (Entry, error) {
	if digest.IsZero() {
		return Entry{}, fmt.Errorf("%w: content digest cannot be empty", ErrInvalidInput)
	}

	now := l.clock.Now().UTC()
	rec := Record{
		Identity:      id,
		DayID:         dayclock.FromTime(now),
		ContentDigest: digest,
		CreatedAt:     now,
	}

	entry, err := l.store.Append(ctx, rec)
	if err != nil {
		if errors.Is(err, ErrAlreadySubmittedToday) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("append entry: %w", err)
	}

	l.logger.Debug("submission recorded",
		zap.Uint64("seq", entry.SequenceIndex),
		zap.Stringer("identity", entry.Identity),
		zap.Int64("day_id", int64(entry.DayID)),
	)

	l.mu.RLock()
	n := l.notifier
	l.mu.RUnlock()
	if n != nil {
		n.Notify(ctx, eventFor(entry))
	}
	return entry, nil
}

// HasEntryForDay reports whether id has an entry for day.
func (l *SubmissionLedger) HasEntryForDay(ctx context.Context, id Identity, day dayclock.DayID) (bool, error) {
	_, ok, err := l.store.Lookup(ctx, id, day)
	if err != nil {
		return false, fmt.Errorf("lookup entry: %w", err)
	}
	return ok, nil
}

// GetEntryForDay returns the entry id recorded on day, or ErrNotFound.
func (l *SubmissionLedger) GetEntryForDay(ctx context.Context, id Identity, day dayclock.DayID) (Entry, error) {
	entry, ok, err := l.store.Lookup(ctx, id, day)
	if err != nil {
		return Entry{}, fmt.Errorf("lookup entry: %w", err)
	}
	if !ok {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

// CanSubmitToday reports whether id has not yet submitted on the current day.
func (l *SubmissionLedger) CanSubmitToday(ctx context.Context, id Identity) (bool, error) {
	has, err := l.HasEntryForDay(ctx, id, l.Today())
	if err != nil {
		return false, err
	}
	return !has, nil
}

// GetEntryAtIndex returns the entry at sequence index i, or ErrOutOfBounds.
func (l *SubmissionLedger) GetEntryAtIndex(ctx context.Context, i uint64) (Entry, error) {
	entry, ok, err := l.store.At(ctx, i)
	if err != nil {
		return Entry{}, fmt.Errorf("get entry %d: %w", i, err)
	}
	if !ok {
		return Entry{}, fmt.Errorf("%w: index %d", ErrOutOfBounds, i)
	}
	return entry, nil
}

// TotalEntries returns the current log length.
func (l *SubmissionLedger) TotalEntries(ctx context.Context) (uint64, error) {
	n, err := l.store.Len(ctx)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// EntriesRange returns entries with from <= SequenceIndex < to, ascending.
func (l *SubmissionLedger) EntriesRange(ctx context.Context, from, to uint64) ([]Entry, error) {
	entries, err := l.store.Range(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("range entries [%d,%d): %w", from, to, err)
	}
	return entries, nil
}
