package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpen_fullSyncSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "recap.sqlite")

	for i := 0; i < 2; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() #%d failed: %v", i+1, err)
		}

		// 2 = FULL.
		var sync int
		if err := s.db.QueryRowContext(ctx, "PRAGMA synchronous").Scan(&sync); err != nil {
			t.Fatal(err)
		}
		if sync != 2 {
			t.Errorf("open #%d: synchronous = %d, want 2 (FULL)", i+1, sync)
		}

		var mode string
		if err := s.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
			t.Fatal(err)
		}
		if mode != "wal" {
			t.Errorf("open #%d: journal_mode = %q, want wal", i+1, mode)
		}
		s.Close()
	}
}
