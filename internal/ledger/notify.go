package ledger

import (
	"context"
	"time"

	"github.com/Institute-for-Folly/RECAP/internal/dayclock"
)

// EventSubmissionRecorded is the event type of SubmissionRecorded.
const EventSubmissionRecorded = "submission.recorded"

// SubmissionRecorded is emitted once for every successful Submit.
type SubmissionRecorded struct {
	Identity      Identity       `json:"identity"`
	DayID         dayclock.DayID `json:"day_id"`
	ContentDigest Digest         `json:"content_digest"`
	CreatedAt     time.Time      `json:"created_at"`
	SequenceIndex uint64         `json:"sequence_index"`
}

// Notifier receives SubmissionRecorded events after commit. Implementations
// must not block the caller for network I/O.
type Notifier interface {
	Notify(ctx context.Context, ev SubmissionRecorded)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, ev SubmissionRecorded)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, ev SubmissionRecorded) { f(ctx, ev) }

// MultiNotifier fans an event out to every non-nil notifier in order.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(ctx context.Context, ev SubmissionRecorded) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, ev)
		}
	}
}

func eventFor(e Entry) SubmissionRecorded {
	return SubmissionRecorded{
		Identity:      e.Identity,
		DayID:         e.DayID,
		ContentDigest: e.ContentDigest,
		CreatedAt:     e.CreatedAt,
		SequenceIndex: e.SequenceIndex,
	}
}
