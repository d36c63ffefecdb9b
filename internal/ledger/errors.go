package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned for a zero content digest or malformed
	// identities and digests.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadySubmittedToday is returned when the identity already has an
	// entry for the current day.
	ErrAlreadySubmittedToday = errors.New("already submitted today")

	// ErrNotFound is returned when an (identity, day) pair has no entry.
	ErrNotFound = errors.New("entry not found")

	// ErrOutOfBounds is returned for a log index at or beyond the log length.
	ErrOutOfBounds = errors.New("index out of bounds")

	// ErrOffsetOutOfBounds is returned when a pagination offset exceeds the
	// log length. It matches ErrOutOfBounds under errors.Is.
	ErrOffsetOutOfBounds = fmt.Errorf("offset: %w", ErrOutOfBounds)

	// ErrNotLeader is returned by replicated stores when this node cannot
	// accept writes. Errors wrapping it may also implement LeaderHinter.
	ErrNotLeader = errors.New("not the leader")
)

// LeaderHinter is implemented by errors that know where writes should go.
type LeaderHinter interface {
	LeaderAddr() string
}
