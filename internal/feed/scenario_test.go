package feed_test

import (
	"errors"
	"testing"
	"time"

	"github.com/Institute-for-Folly/RECAP/internal/dayclock"
	"github.com/Institute-for-Folly/RECAP/internal/feed"
	"github.com/Institute-for-Folly/RECAP/internal/ledger"
	"github.com/Institute-for-Folly/RECAP/internal/ledger/storetest"
)

func TestDailyFlow(t *testing.T) {
	clock := dayclock.NewManualAtDay(100, 8*time.Hour)
	l := ledger.New(ledger.NewMemoryStore(), clock, nil)
	idx := feed.New(l)
	a := storetest.Identity(0xa)
	h1, h2 := storetest.Digest(1), storetest.Digest(2)

	if _, err := l.Submit(ctx, a, h1); err != nil {
		t.Fatal(err)
	}
	if n, _ := l.TotalEntries(ctx); n != 1 {
		t.Errorf("TotalEntries = %d, want 1", n)
	}
	if has, _ := l.HasEntryForDay(ctx, a, 100); !has {
		t.Error("HasEntryForDay(A, 100) = false")
	}
	if can, _ := l.CanSubmitToday(ctx, a); can {
		t.Error("CanSubmitToday(A) = true on day 100")
	}

	clock.AdvanceDays(1)
	if can, _ := l.CanSubmitToday(ctx, a); !can {
		t.Error("CanSubmitToday(A) = false on day 101")
	}
	if _, err := l.Submit(ctx, a, h2); err != nil {
		t.Fatal(err)
	}
	if n, _ := l.TotalEntries(ctx); n != 2 {
		t.Errorf("TotalEntries = %d, want 2", n)
	}

	latest, err := idx.Latest(ctx, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 1 || latest[0].ContentDigest != h2 {
		t.Errorf("Latest(0, 1) = %+v, want the H2 entry", latest)
	}
}

func TestRoundRobinFeed(t *testing.T) {
	clock := dayclock.NewManualAtDay(200, 8*time.Hour)
	l := ledger.New(ledger.NewMemoryStore(), clock, nil)
	idx := feed.New(l)
	ids := []ledger.Identity{storetest.Identity(0xa), storetest.Identity(0xb), storetest.Identity(0xc)}

	var fifth ledger.Entry
	for i := 0; i < 5; i++ {
		if i < 4 {
			clock.AdvanceDays(1)
		}
		e, err := l.Submit(ctx, ids[i%3], storetest.Digest(byte(i+1)))
		if err != nil {
			t.Fatalf("submit %d: %v", i+1, err)
		}
		fifth = e
	}

	page, err := idx.Latest(ctx, 0, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 3 {
		t.Fatalf("Latest(0, 3) has %d entries", len(page))
	}
	if page[0].SequenceIndex != fifth.SequenceIndex || page[0].ContentDigest != fifth.ContentDigest {
		t.Errorf("first element = %+v, want the 5th entry", page[0])
	}

	all, err := idx.Latest(ctx, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Errorf("Latest(0, 100) has %d entries, want 5", len(all))
	}

	if _, err := idx.Latest(ctx, 100, 10); !errors.Is(err, ledger.ErrOffsetOutOfBounds) {
		t.Errorf("Latest(100, 10): got %v, want ErrOffsetOutOfBounds", err)
	}
}
