// Package storetest is a conformance suite for ledger.Store implementations.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Institute-for-Folly/RECAP/internal/dayclock"
	"github.com/Institute-for-Folly/RECAP/internal/ledger"
)

// Factory returns a new, empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) ledger.Store

// Identity returns a deterministic identity whose last byte is n.
func Identity(n byte) ledger.Identity {
	var id ledger.Identity
	id[0] = 0xaa
	id[ledger.IdentityLen-1] = n
	return id
}

// Digest returns a deterministic non-zero digest whose first byte is n.
func Digest(n byte) ledger.Digest {
	var d ledger.Digest
	d[0] = n
	d[ledger.DigestLen-1] = 0x01
	return d
}

// Record builds a record for identity n on day.
func Record(n byte, day dayclock.DayID) ledger.Record {
	return ledger.Record{
		Identity:      Identity(n),
		DayID:         day,
		ContentDigest: Digest(n),
		CreatedAt:     day.Start().Add(time.Hour),
	}
}

// Run executes the full suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("AppendAssignsDenseSequence", func(t *testing.T) { testDenseSequence(t, newStore(t)) })
	t.Run("DuplicateKeyRejected", func(t *testing.T) { testDuplicate(t, newStore(t)) })
	t.Run("LookupAndAt", func(t *testing.T) { testLookupAndAt(t, newStore(t)) })
	t.Run("RangeClamps", func(t *testing.T) { testRange(t, newStore(t)) })
	t.Run("ConcurrentSameKey", func(t *testing.T) { testConcurrentSameKey(t, newStore(t)) })
	t.Run("ConcurrentDistinctKeys", func(t *testing.T) { testConcurrentDistinct(t, newStore(t)) })
}

func testDenseSequence(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		e, err := s.Append(ctx, Record(byte(i%3), dayclock.DayID(100+i)))
		if err != nil {
			t.Fatalf("Append #%d: %v", i, err)
		}
		if e.SequenceIndex != uint64(i) {
			t.Errorf("Append #%d: sequence %d, want %d", i, e.SequenceIndex, i)
		}
	}
	n, err := s.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("Len() = %d, want 5", n)
	}
}

func testDuplicate(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	if _, err := s.Append(ctx, Record(1, 10)); err != nil {
		t.Fatal(err)
	}

	dup := Record(1, 10)
	dup.ContentDigest = Digest(99)
	if _, err := s.Append(ctx, dup); !errors.Is(err, ledger.ErrAlreadySubmittedToday) {
		t.Fatalf("duplicate Append: got %v, want ErrAlreadySubmittedToday", err)
	}

	n, _ := s.Len(ctx)
	if n != 1 {
		t.Errorf("failed Append changed Len to %d", n)
	}

	e, ok, err := s.Lookup(ctx, Identity(1), 10)
	if err != nil || !ok {
		t.Fatalf("Lookup after duplicate: ok=%v err=%v", ok, err)
	}
	if e.ContentDigest != Digest(1) {
		t.Error("duplicate Append overwrote the original entry")
	}

	// Same day, other identity; same identity, next day.
	if _, err := s.Append(ctx, Record(2, 10)); err != nil {
		t.Errorf("other identity same day: %v", err)
	}
	if _, err := s.Append(ctx, Record(1, 11)); err != nil {
		t.Errorf("same identity next day: %v", err)
	}
}

func testLookupAndAt(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	want, err := s.Append(ctx, Record(7, 42))
	if err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.Lookup(ctx, Identity(7), 42)
	if err != nil || !ok {
		t.Fatalf("Lookup: ok=%v err=%v", ok, err)
	}
	assertEntry(t, got, want)

	if _, ok, err := s.Lookup(ctx, Identity(7), 43); err != nil || ok {
		t.Errorf("Lookup on empty day: ok=%v err=%v", ok, err)
	}

	got, ok, err = s.At(ctx, 0)
	if err != nil || !ok {
		t.Fatalf("At(0): ok=%v err=%v", ok, err)
	}
	assertEntry(t, got, want)

	if _, ok, err := s.At(ctx, 1); err != nil || ok {
		t.Errorf("At(1) past end: ok=%v err=%v", ok, err)
	}
}

func testRange(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := s.Append(ctx, Record(byte(i), 5)); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		from, to uint64
		want     []uint64
	}{
		{0, 4, []uint64{0, 1, 2, 3}},
		{1, 3, []uint64{1, 2}},
		{2, 100, []uint64{2, 3}},
		{3, 3, nil},
		{4, 2, nil},
		{10, 20, nil},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d-%d", tt.from, tt.to), func(t *testing.T) {
			got, err := s.Range(ctx, tt.from, tt.to)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Range(%d,%d) returned %d entries, want %d", tt.from, tt.to, len(got), len(tt.want))
			}
			for i, e := range got {
				if e.SequenceIndex != tt.want[i] {
					t.Errorf("entry %d: sequence %d, want %d", i, e.SequenceIndex, tt.want[i])
				}
			}
		})
	}
}

func testConcurrentSameKey(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	const workers = 16

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		dupes     int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := Record(1, 500)
			rec.ContentDigest = Digest(byte(i + 1))
			_, err := s.Append(ctx, rec)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ledger.ErrAlreadySubmittedToday):
				dupes++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 || dupes != workers-1 {
		t.Errorf("got %d successes and %d duplicates, want 1 and %d", successes, dupes, workers-1)
	}
	if n, _ := s.Len(ctx); n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
}

func testConcurrentDistinct(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	const workers = 20

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Append(ctx, Record(byte(i), 9)); err != nil {
				t.Errorf("Append identity %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	entries, err := s.Range(ctx, 0, workers)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != workers {
		t.Fatalf("Range returned %d entries, want %d", len(entries), workers)
	}
	seen := make(map[ledger.Identity]bool)
	for i, e := range entries {
		if e.SequenceIndex != uint64(i) {
			t.Errorf("position %d holds sequence %d", i, e.SequenceIndex)
		}
		found, ok, err := s.Lookup(ctx, e.Identity, e.DayID)
		if err != nil || !ok || found.SequenceIndex != e.SequenceIndex {
			t.Errorf("index disagrees with log at sequence %d", e.SequenceIndex)
		}
		if seen[e.Identity] {
			t.Errorf("identity %s appears twice", e.Identity)
		}
		seen[e.Identity] = true
	}
}

func assertEntry(t *testing.T, got, want ledger.Entry) {
	t.Helper()
	if got.Identity != want.Identity || got.DayID != want.DayID ||
		got.ContentDigest != want.ContentDigest || got.SequenceIndex != want.SequenceIndex {
		t.Errorf("entry mismatch: got %+v, want %+v", got, want)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt: got %v, want %v", got.CreatedAt, want.CreatedAt)
	}
}
