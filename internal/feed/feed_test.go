package feed_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Institute-for-Folly/RECAP/internal/dayclock"
	"github.com/Institute-for-Folly/RECAP/internal/feed"
	"github.com/Institute-for-Folly/RECAP/internal/ledger"
	"github.com/Institute-for-Folly/RECAP/internal/ledger/storetest"
)

var ctx = context.Background()

// seed submits n entries from distinct identities on one day.
func seed(t *testing.T, n int) *ledger.SubmissionLedger {
	t.Helper()
	clock := dayclock.NewManualAtDay(100, time.Hour)
	l := ledger.New(ledger.NewMemoryStore(), clock, nil)
	for i := 0; i < n; i++ {
		if _, err := l.Submit(ctx, storetest.Identity(byte(i)), storetest.Digest(byte(i+1))); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Second)
	}
	return l
}

func seqs(entries []ledger.Entry) []uint64 {
	out := make([]uint64, len(entries))
	for i, e := range entries {
		out[i] = e.SequenceIndex
	}
	return out
}

func equal(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLatest(t *testing.T) {
	idx := feed.New(seed(t, 5))

	tests := []struct {
		name          string
		offset, limit uint64
		want          []uint64
	}{
		{"first page", 0, 2, []uint64{4, 3}},
		{"second page", 2, 2, []uint64{2, 1}},
		{"short last page", 4, 2, []uint64{0}},
		{"offset equals total", 5, 2, []uint64{}},
		{"limit larger than log", 0, 100, []uint64{4, 3, 2, 1, 0}},
		{"zero limit", 1, 0, []uint64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := idx.Latest(ctx, tt.offset, tt.limit)
			if err != nil {
				t.Fatal(err)
			}
			if got == nil {
				t.Fatal("Latest returned nil slice")
			}
			if !equal(seqs(got), tt.want) {
				t.Errorf("Latest(%d, %d) = %v, want %v", tt.offset, tt.limit, seqs(got), tt.want)
			}
		})
	}
}

func TestLatest_offsetOutOfBounds(t *testing.T) {
	idx := feed.New(seed(t, 5))
	_, err := idx.Latest(ctx, 6, 1)
	if !errors.Is(err, ledger.ErrOffsetOutOfBounds) {
		t.Fatalf("got %v, want ErrOffsetOutOfBounds", err)
	}
	if !errors.Is(err, ledger.ErrOutOfBounds) {
		t.Error("offset error should also match ErrOutOfBounds")
	}
}

func TestLatest_emptyLedger(t *testing.T) {
	idx := feed.New(seed(t, 0))
	got, err := idx.Latest(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("got %d entries from empty ledger", len(got))
	}
	if _, err := idx.Latest(ctx, 1, 10); !errors.Is(err, ledger.ErrOffsetOutOfBounds) {
		t.Errorf("offset 1 on empty ledger: got %v", err)
	}
}

func TestLatest_pagesCoverLogExactlyOnce(t *testing.T) {
	idx := feed.New(seed(t, 7))
	seen := make(map[uint64]int)
	for off := uint64(0); off < 7; off += 3 {
		page, err := idx.Latest(ctx, off, 3)
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range page {
			seen[e.SequenceIndex]++
		}
	}
	for i := uint64(0); i < 7; i++ {
		if seen[i] != 1 {
			t.Errorf("sequence %d seen %d times", i, seen[i])
		}
	}
}

func TestLatestPage_nextOffset(t *testing.T) {
	idx := feed.New(seed(t, 5))

	p, err := idx.LatestPage(ctx, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if p.Total != 5 || p.NextOffset == nil || *p.NextOffset != 2 {
		t.Errorf("first page = %+v", p)
	}

	p, err = idx.LatestPage(ctx, 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	if p.NextOffset != nil {
		t.Errorf("last page NextOffset = %d, want nil", *p.NextOffset)
	}
}
