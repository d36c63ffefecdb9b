package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFiles(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("SELECT 1;"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoad_pairsAndOrders(t *testing.T) {
	dir := writeFiles(t,
		"002_feed_index.up.sql",
		"001_recap_entries.down.sql",
		"001_recap_entries.up.sql",
		"README.md",
	)

	got, err := load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d migrations, want 2", len(got))
	}
	if got[0].version != 1 || got[0].up != "001_recap_entries.up.sql" || got[0].down != "001_recap_entries.down.sql" {
		t.Errorf("first = %+v", got[0])
	}
	if got[0].name != "001_recap_entries" {
		t.Errorf("name = %q", got[0].name)
	}
	if got[1].version != 2 || got[1].down != "" {
		t.Errorf("second = %+v", got[1])
	}
}

func TestLoad_rejectsBadNames(t *testing.T) {
	for _, files := range [][]string{
		{"init.up.sql"},
		{"001_init.sql"},
		{"001_init.down.sql"},
	} {
		if _, err := load(writeFiles(t, files...)); err == nil {
			t.Errorf("load(%v) accepted", files)
		}
	}
}

func TestLoad_repositoryMigrations(t *testing.T) {
	got, err := load("../../migrations")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) == 0 || got[0].down == "" {
		t.Errorf("migrations = %+v", got)
	}
}
