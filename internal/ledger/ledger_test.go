package ledger_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Institute-for-Folly/RECAP/internal/dayclock"
	"github.com/Institute-for-Folly/RECAP/internal/ledger"
	"github.com/Institute-for-Folly/RECAP/internal/ledger/storetest"
)

var ctx = context.Background()

func newLedger(day dayclock.DayID) (*ledger.SubmissionLedger, *dayclock.Manual) {
	clock := dayclock.NewManualAtDay(day, 9*time.Hour)
	return ledger.New(ledger.NewMemoryStore(), clock, nil), clock
}

func TestSubmit_singleDay(t *testing.T) {
	l, clock := newLedger(10)
	a := storetest.Identity(0xa)
	h1, h2 := storetest.Digest(1), storetest.Digest(2)

	e, err := l.Submit(ctx, a, h1)
	if err != nil {
		t.Fatal(err)
	}
	if e.SequenceIndex != 0 || e.DayID != 10 {
		t.Errorf("entry = %+v, want seq 0 day 10", e)
	}
	if !e.CreatedAt.Equal(clock.Now()) {
		t.Errorf("CreatedAt = %v, want %v", e.CreatedAt, clock.Now())
	}

	if _, err := l.Submit(ctx, a, h2); !errors.Is(err, ledger.ErrAlreadySubmittedToday) {
		t.Fatalf("second submit: got %v, want ErrAlreadySubmittedToday", err)
	}

	got, err := l.GetEntryForDay(ctx, a, 10)
	if err != nil {
		t.Fatal(err)
	}
	if got.ContentDigest != h1 {
		t.Error("entry for day 10 does not carry the first digest")
	}

	n, err := l.TotalEntries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("TotalEntries = %d, want 1", n)
	}

	can, err := l.CanSubmitToday(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if can {
		t.Error("CanSubmitToday = true after submitting")
	}
}

func TestSubmit_zeroDigestRejected(t *testing.T) {
	l, _ := newLedger(10)
	a := storetest.Identity(1)

	_, err := l.Submit(ctx, a, ledger.Digest{})
	if !errors.Is(err, ledger.ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
	if n, _ := l.TotalEntries(ctx); n != 0 {
		t.Errorf("TotalEntries = %d after rejected submit", n)
	}
	if can, _ := l.CanSubmitToday(ctx, a); !can {
		t.Error("rejected submit consumed today's slot")
	}
}

func TestSubmit_nextDayAllowed(t *testing.T) {
	l, clock := newLedger(10)
	a := storetest.Identity(1)

	if _, err := l.Submit(ctx, a, storetest.Digest(1)); err != nil {
		t.Fatal(err)
	}
	clock.AdvanceDays(1)

	can, err := l.CanSubmitToday(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if !can {
		t.Fatal("CanSubmitToday = false on the next day")
	}
	e, err := l.Submit(ctx, a, storetest.Digest(1))
	if err != nil {
		t.Fatal(err)
	}
	if e.DayID != 11 || e.SequenceIndex != 1 {
		t.Errorf("entry = %+v, want day 11 seq 1", e)
	}
}

func TestSubmit_dayBoundary(t *testing.T) {
	clock := dayclock.NewManualAtDay(10, 24*time.Hour-time.Second)
	l := ledger.New(ledger.NewMemoryStore(), clock, nil)
	a := storetest.Identity(1)

	if _, err := l.Submit(ctx, a, storetest.Digest(1)); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Second)
	e, err := l.Submit(ctx, a, storetest.Digest(2))
	if err != nil {
		t.Fatalf("submit one second later, across midnight: %v", err)
	}
	if e.DayID != 11 {
		t.Errorf("DayID = %d, want 11", e.DayID)
	}
}

func TestGetEntryForDay_notFound(t *testing.T) {
	l, _ := newLedger(10)
	if _, err := l.GetEntryForDay(ctx, storetest.Identity(1), 10); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	has, err := l.HasEntryForDay(ctx, storetest.Identity(1), 10)
	if err != nil || has {
		t.Errorf("HasEntryForDay = %v, %v", has, err)
	}
}

func TestGetEntryAtIndex(t *testing.T) {
	l, clock := newLedger(10)
	ids := []ledger.Identity{storetest.Identity(1), storetest.Identity(2), storetest.Identity(3)}
	for i, id := range ids {
		if _, err := l.Submit(ctx, id, storetest.Digest(byte(i+1))); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Minute)
	}

	for i, id := range ids {
		e, err := l.GetEntryAtIndex(ctx, uint64(i))
		if err != nil {
			t.Fatal(err)
		}
		if e.Identity != id || e.SequenceIndex != uint64(i) {
			t.Errorf("index %d: got %+v", i, e)
		}
	}

	if _, err := l.GetEntryAtIndex(ctx, 3); !errors.Is(err, ledger.ErrOutOfBounds) {
		t.Errorf("index 3: got %v, want ErrOutOfBounds", err)
	}
}

func TestSubmit_notifiesOnce(t *testing.T) {
	l, _ := newLedger(10)
	var events []ledger.SubmissionRecorded
	l.SetNotifier(ledger.NotifierFunc(func(_ context.Context, ev ledger.SubmissionRecorded) {
		events = append(events, ev)
	}))

	a := storetest.Identity(1)
	if _, err := l.Submit(ctx, a, storetest.Digest(9)); err != nil {
		t.Fatal(err)
	}
	_, _ = l.Submit(ctx, a, storetest.Digest(8))
	_, _ = l.Submit(ctx, storetest.Identity(2), ledger.Digest{})

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Identity != a || ev.DayID != 10 || ev.ContentDigest != storetest.Digest(9) || ev.SequenceIndex != 0 {
		t.Errorf("event = %+v", ev)
	}
}

func TestSetNotifier_concurrentWithSubmit(t *testing.T) {
	l, _ := newLedger(10)
	var seen atomic.Int32
	count := ledger.NotifierFunc(func(context.Context, ledger.SubmissionRecorded) { seen.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(n byte) {
			defer wg.Done()
			if _, err := l.Submit(ctx, storetest.Identity(n), storetest.Digest(n)); err != nil {
				t.Errorf("submit %d: %v", n, err)
			}
		}(byte(i + 1))
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				l.SetNotifier(count)
			} else {
				l.SetNotifier(nil)
			}
		}(i)
	}
	wg.Wait()

	l.SetNotifier(count)
	before := seen.Load()
	if _, err := l.Submit(ctx, storetest.Identity(100), storetest.Digest(100)); err != nil {
		t.Fatal(err)
	}
	if seen.Load() != before+1 {
		t.Error("notifier set after concurrent swaps did not receive the event")
	}
}

func TestMultiNotifier_skipsNil(t *testing.T) {
	calls := 0
	n := ledger.MultiNotifier{
		nil,
		ledger.NotifierFunc(func(context.Context, ledger.SubmissionRecorded) { calls++ }),
		ledger.NotifierFunc(func(context.Context, ledger.SubmissionRecorded) { calls++ }),
	}
	n.Notify(ctx, ledger.SubmissionRecorded{})
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

type failingStore struct{ ledger.Store }

var errDisk = errors.New("disk on fire")

func (failingStore) Append(context.Context, ledger.Record) (ledger.Entry, error) {
	return ledger.Entry{}, errDisk
}

func TestSubmit_storeFailureWrapped(t *testing.T) {
	l := ledger.New(failingStore{ledger.NewMemoryStore()}, dayclock.NewManualAtDay(1, 0), nil)
	_, err := l.Submit(ctx, storetest.Identity(1), storetest.Digest(1))
	if !errors.Is(err, errDisk) {
		t.Fatalf("got %v, want wrapped errDisk", err)
	}
	if errors.Is(err, ledger.ErrAlreadySubmittedToday) || errors.Is(err, ledger.ErrInvalidInput) {
		t.Error("storage fault must not look like a domain error")
	}
}

func TestSubmit_concurrentSameIdentity(t *testing.T) {
	l, _ := newLedger(10)
	a := storetest.Identity(1)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := l.Submit(ctx, a, storetest.Digest(byte(i+1))); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if ok != 1 {
		t.Errorf("%d submits succeeded, want exactly 1", ok)
	}
	if n, _ := l.TotalEntries(ctx); n != 1 {
		t.Errorf("TotalEntries = %d, want 1", n)
	}
}
