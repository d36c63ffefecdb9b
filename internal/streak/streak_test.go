package streak_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Institute-for-Folly/RECAP/internal/dayclock"
	"github.com/Institute-for-Folly/RECAP/internal/ledger"
	"github.com/Institute-for-Folly/RECAP/internal/ledger/storetest"
	"github.com/Institute-for-Folly/RECAP/internal/streak"
)

var ctx = context.Background()

// submitOn records one entry for id on each of days.
func submitOn(t *testing.T, id ledger.Identity, days ...dayclock.DayID) *ledger.SubmissionLedger {
	t.Helper()
	clock := dayclock.NewManualAtDay(days[0], time.Hour)
	l := ledger.New(ledger.NewMemoryStore(), clock, nil)
	for _, d := range days {
		clock.Set(d.Start().Add(time.Hour))
		if _, err := l.Submit(ctx, id, storetest.Digest(byte(d))); err != nil {
			t.Fatalf("submit on day %d: %v", d, err)
		}
	}
	return l
}

func TestCompute_gapAndFallback(t *testing.T) {
	a := storetest.Identity(0xa)
	c := streak.New(submitOn(t, a, 10, 11, 12, 14), 0)

	tests := []struct {
		asOf dayclock.DayID
		want int
	}{
		{9, 0},
		{10, 1},
		{11, 2},
		{12, 3},
		{13, 3}, // no entry yet on 13, walk starts at 12
		{14, 1},
		{15, 1},
		{16, 0},
	}
	for _, tt := range tests {
		got, err := c.Compute(ctx, a, tt.asOf)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("Compute(A, %d) = %d, want %d", tt.asOf, got, tt.want)
		}
	}
}

func TestCompute_unknownIdentity(t *testing.T) {
	c := streak.New(submitOn(t, storetest.Identity(1), 5), 0)
	got, err := c.Compute(ctx, storetest.Identity(2), 5)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Errorf("Compute for identity with no entries = %d", got)
	}
}

func TestCompute_cappedByLookback(t *testing.T) {
	a := storetest.Identity(1)
	var days []dayclock.DayID
	for d := dayclock.DayID(100); d < 120; d++ {
		days = append(days, d)
	}
	l := submitOn(t, a, days...)

	got, err := streak.New(l, 5).Compute(ctx, a, 119)
	if err != nil {
		t.Fatal(err)
	}
	if got != 5 {
		t.Errorf("capped Compute = %d, want 5", got)
	}

	got, err = streak.New(l, 0).Compute(ctx, a, 119)
	if err != nil {
		t.Fatal(err)
	}
	if got != 20 {
		t.Errorf("uncapped Compute = %d, want 20", got)
	}
}

type countingSource struct {
	streak.Source
	calls int
}

func (s *countingSource) HasEntryForDay(ctx context.Context, id ledger.Identity, day dayclock.DayID) (bool, error) {
	s.calls++
	return s.Source.HasEntryForDay(ctx, id, day)
}

func TestCompute_costTracksStreakLength(t *testing.T) {
	a := storetest.Identity(1)
	src := &countingSource{Source: submitOn(t, a, 50, 51, 52)}
	if _, err := streak.New(src, 1000).Compute(ctx, a, 52); err != nil {
		t.Fatal(err)
	}
	// asOf probe, three hits, one miss.
	if src.calls > 5 {
		t.Errorf("Compute made %d lookups for a 3-day streak", src.calls)
	}
}

var errBackend = errors.New("backend down")

type brokenSource struct{ streak.Source }

func (brokenSource) HasEntryForDay(context.Context, ledger.Identity, dayclock.DayID) (bool, error) {
	return false, errBackend
}

func TestCompute_propagatesErrors(t *testing.T) {
	c := streak.New(brokenSource{}, 0)
	if _, err := c.Compute(ctx, storetest.Identity(1), 1); !errors.Is(err, errBackend) {
		t.Errorf("got %v, want errBackend", err)
	}
}

func TestCalendar(t *testing.T) {
	a := storetest.Identity(1)
	c := streak.New(submitOn(t, a, 20, 22), 30)

	days, err := c.Calendar(ctx, a, 19, 23)
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 5 {
		t.Fatalf("got %d days, want 5", len(days))
	}
	want := map[dayclock.DayID]bool{19: false, 20: true, 21: false, 22: true, 23: false}
	for i, d := range days {
		if d.DayID != dayclock.DayID(19+i) {
			t.Errorf("cell %d has day %d", i, d.DayID)
		}
		if d.Submitted() != want[d.DayID] {
			t.Errorf("day %d Submitted() = %v", d.DayID, d.Submitted())
		}
		if d.Date != d.DayID.Date() {
			t.Errorf("day %d Date = %q", d.DayID, d.Date)
		}
	}
	if days[1].Entry.ContentDigest != storetest.Digest(20) {
		t.Error("calendar cell does not carry the entry")
	}
}

func TestCalendar_invalidRange(t *testing.T) {
	c := streak.New(submitOn(t, storetest.Identity(1), 1), 10)

	if _, err := c.Calendar(ctx, storetest.Identity(1), 5, 4); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Errorf("reversed range: got %v", err)
	}
	if _, err := c.Calendar(ctx, storetest.Identity(1), 0, 10); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Errorf("11-day span with lookback 10: got %v", err)
	}
	if _, err := c.Calendar(ctx, storetest.Identity(1), 0, 9); err != nil {
		t.Errorf("10-day span with lookback 10: %v", err)
	}
}

func TestCalendar_extremeDays(t *testing.T) {
	id := storetest.Identity(1)
	c := streak.New(submitOn(t, id, 1), 10)

	tests := []struct {
		name     string
		from, to dayclock.DayID
	}{
		{"top of int64", math.MaxInt64 - 1, math.MaxInt64},
		{"whole int64 range", math.MinInt64, math.MaxInt64},
		{"bottom of int64", math.MinInt64, math.MinInt64 + 1},
		{"one past MaxDay", dayclock.MaxDay, dayclock.MaxDay + 1},
		{"one before MinDay", dayclock.MinDay - 1, dayclock.MinDay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			days, err := c.Calendar(ctx, id, tt.from, tt.to)
			if !errors.Is(err, ledger.ErrInvalidInput) {
				t.Errorf("Calendar(%d, %d) = %d days, %v; want ErrInvalidInput", tt.from, tt.to, len(days), err)
			}
		})
	}

	days, err := c.Calendar(ctx, id, dayclock.MaxDay-1, dayclock.MaxDay)
	if err != nil {
		t.Fatalf("last two valid days: %v", err)
	}
	if len(days) != 2 || days[0].Date != "9999-12-30" || days[1].Date != "9999-12-31" {
		t.Errorf("last two valid days = %+v", days)
	}

	days, err = c.Calendar(ctx, id, dayclock.MinDay, dayclock.MinDay+1)
	if err != nil || len(days) != 2 || days[0].Date != "0000-01-01" {
		t.Errorf("first two valid days = %+v, %v", days, err)
	}
}

func TestCompute_extremeDays(t *testing.T) {
	id := storetest.Identity(1)
	c := streak.New(submitOn(t, id, 1), 10)

	for _, asOf := range []dayclock.DayID{math.MinInt64, math.MaxInt64, dayclock.MaxDay + 1} {
		if _, err := c.Compute(ctx, id, asOf); !errors.Is(err, ledger.ErrInvalidInput) {
			t.Errorf("Compute(%d): got %v, want ErrInvalidInput", asOf, err)
		}
	}
	if n, err := c.Compute(ctx, id, dayclock.MinDay); err != nil || n != 0 {
		t.Errorf("Compute(MinDay) = %d, %v", n, err)
	}
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		n    int
		want streak.Tier
	}{
		{0, streak.TierNone},
		{1, streak.TierBuilding},
		{6, streak.TierBuilding},
		{7, streak.TierWeek},
		{29, streak.TierWeek},
		{30, streak.TierLegendary},
		{400, streak.TierLegendary},
	}
	for _, tt := range tests {
		if got := streak.TierFor(tt.n); got != tt.want {
			t.Errorf("TierFor(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
