// Package dayclock maps wall-clock time onto discrete UTC calendar days.
//
// A DayID is floor(unix_seconds / 86400). It is the only notion of "day"
// used by the ledger: both the one-submission-per-day rule and streak
// boundaries are decided with it.
package dayclock

import "time"

// SecondsPerDay is the width of one DayID bucket.
const SecondsPerDay int64 = 86400

// DayID identifies a UTC calendar day.
type DayID int64

// MinDay and MaxDay are 0000-01-01 and 9999-12-31, the days Date can
// render. Day ids from clients outside this range are rejected.
const (
	MinDay DayID = -719528
	MaxDay DayID = 2932896
)

// Valid reports whether d lies in [MinDay, MaxDay].
func (d DayID) Valid() bool { return d >= MinDay && d <= MaxDay }

// Clock is a source of wall-clock time.
type Clock interface {
	Now() time.Time
}

// System reads the host clock.
type System struct{}

// Now implements Clock.
func (System) Now() time.Time { return time.Now().UTC() }

// FromTime returns the DayID containing t. Times before the Unix epoch map to
// negative days; the division floors rather than truncating toward zero.
func FromTime(t time.Time) DayID {
	secs := t.Unix()
	day := secs / SecondsPerDay
	if secs%SecondsPerDay < 0 {
		day--
	}
	return DayID(day)
}

// Current returns the DayID for the clock's present time.
func Current(c Clock) DayID {
	return FromTime(c.Now())
}

// Start returns the first instant of day d in UTC.
func (d DayID) Start() time.Time {
	return time.Unix(int64(d)*SecondsPerDay, 0).UTC()
}

// Date formats the day as YYYY-MM-DD.
func (d DayID) Date() string {
	return d.Start().Format(time.DateOnly)
}
