package boltstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Institute-for-Folly/RECAP/internal/ledger"
	"github.com/Institute-for-Folly/RECAP/internal/ledger/boltstore"
	"github.com/Institute-for-Folly/RECAP/internal/ledger/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.Store {
		s, err := boltstore.Open(filepath.Join(t.TempDir(), "recap.db"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestStore_survivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "recap.db")

	s, err := boltstore.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.Append(ctx, storetest.Record(byte(i), 77)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = boltstore.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	n, err := s.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("Len after reopen = %d, want 3", n)
	}
	if _, err := s.Append(ctx, storetest.Record(0, 77)); err == nil {
		t.Error("day index lost across reopen")
	}
	e, err := s.Append(ctx, storetest.Record(9, 77))
	if err != nil {
		t.Fatal(err)
	}
	if e.SequenceIndex != 3 {
		t.Errorf("sequence after reopen = %d, want 3", e.SequenceIndex)
	}
}
