// Package streak derives consecutive-day submission counts from the ledger.
package streak

import (
	"context"
	"errors"
	"fmt"

	"github.com/Institute-for-Folly/RECAP/internal/dayclock"
	"github.com/Institute-for-Folly/RECAP/internal/ledger"
)

// DefaultMaxLookback bounds a backward walk when none is configured.
const DefaultMaxLookback = 365

// Source is the per-day read side of the ledger.
// *ledger.SubmissionLedger satisfies it.
type Source interface {
	HasEntryForDay(ctx context.Context, id ledger.Identity, day dayclock.DayID) (bool, error)
	GetEntryForDay(ctx context.Context, id ledger.Identity, day dayclock.DayID) (ledger.Entry, error)
}

// Calculator computes streaks. It holds no state of its own.
type Calculator struct {
	src         Source
	maxLookback int
}

// New returns a Calculator that walks back at most maxLookback days.
// A non-positive maxLookback selects DefaultMaxLookback.
func New(src Source, maxLookback int) *Calculator {
	if maxLookback <= 0 {
		maxLookback = DefaultMaxLookback
	}
	return &Calculator{src: src, maxLookback: maxLookback}
}

// MaxLookback returns the configured walk bound in days.
func (c *Calculator) MaxLookback() int { return c.maxLookback }

// Compute returns the number of consecutive days ending at asOf that id has
// an entry for. If asOf itself has no entry yet the walk starts at asOf-1,
// so a streak stays alive until the day is over. The result never exceeds
// MaxLookback. An asOf outside [dayclock.MinDay, dayclock.MaxDay] is
// ErrInvalidInput.
func (c *Calculator) Compute(ctx context.Context, id ledger.Identity, asOf dayclock.DayID) (int, error) {
	if !asOf.Valid() {
		return 0, fmt.Errorf("%w: day %d outside %d..%d", ledger.ErrInvalidInput, asOf, dayclock.MinDay, dayclock.MaxDay)
	}
	day := asOf
	has, err := c.src.HasEntryForDay(ctx, id, day)
	if err != nil {
		return 0, err
	}
	if !has {
		day--
	}

	count := 0
	for count < c.maxLookback {
		ok, err := c.src.HasEntryForDay(ctx, id, day)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		count++
		day--
	}
	return count, nil
}

// Day is one cell of an activity calendar.
type Day struct {
	DayID dayclock.DayID `json:"day_id"`
	Date  string         `json:"date"`
	Entry *ledger.Entry  `json:"entry,omitempty"`
}

// Submitted reports whether the day has an entry.
func (d Day) Submitted() bool { return d.Entry != nil }

// Calendar returns one Day per DayID in [from, to], ascending. Both ends must
// be valid days and the span may not exceed MaxLookback days.
func (c *Calculator) Calendar(ctx context.Context, id ledger.Identity, from, to dayclock.DayID) ([]Day, error) {
	if !from.Valid() || !to.Valid() {
		return nil, fmt.Errorf("%w: calendar range %d..%d outside %d..%d",
			ledger.ErrInvalidInput, from, to, dayclock.MinDay, dayclock.MaxDay)
	}
	if from > to {
		return nil, fmt.Errorf("%w: calendar range %d..%d is reversed", ledger.ErrInvalidInput, from, to)
	}
	// Both ends are bounded, so the difference cannot overflow.
	span := int(to-from) + 1
	if span > c.maxLookback {
		return nil, fmt.Errorf("%w: calendar span of %d days exceeds %d", ledger.ErrInvalidInput, span, c.maxLookback)
	}

	days := make([]Day, 0, span)
	for i := range span {
		d := from + dayclock.DayID(i)
		cell := Day{DayID: d, Date: d.Date()}
		e, err := c.src.GetEntryForDay(ctx, id, d)
		switch {
		case err == nil:
			cell.Entry = &e
		case errors.Is(err, ledger.ErrNotFound):
		default:
			return nil, err
		}
		days = append(days, cell)
	}
	return days, nil
}

// Tier names the milestone a streak length has reached.
type Tier string

const (
	TierNone      Tier = "none"
	TierBuilding  Tier = "building"
	TierWeek      Tier = "week"
	TierLegendary Tier = "legendary"
)

// TierFor maps a streak length onto its milestone.
func TierFor(n int) Tier {
	switch {
	case n <= 0:
		return TierNone
	case n < 7:
		return TierBuilding
	case n < 30:
		return TierWeek
	default:
		return TierLegendary
	}
}
