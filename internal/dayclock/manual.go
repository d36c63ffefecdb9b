package dayclock

import (
	"sync"
	"time"
)

// Manual is a Clock whose time only moves when told to. It is safe for
// concurrent use and is intended for tests and simulations.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock set to t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t.UTC()}
}

// NewManualAtDay returns a Manual clock set to the start of day d plus offset.
func NewManualAtDay(d DayID, offset time.Duration) *Manual {
	return NewManual(d.Start().Add(offset))
}

// Now implements Clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t.UTC()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// AdvanceDays moves the clock forward by n whole days.
func (m *Manual) AdvanceDays(n int) {
	m.Advance(time.Duration(n) * time.Duration(SecondsPerDay) * time.Second)
}
