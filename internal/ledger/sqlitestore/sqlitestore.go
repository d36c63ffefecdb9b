// Package sqlitestore is a ledger.Store backed by SQLite.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/Institute-for-Folly/RECAP/internal/dayclock"
	"github.com/Institute-for-Folly/RECAP/internal/ledger"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// Store keeps entries in one table whose UNIQUE(identity, day_id) constraint
// is the day index. A single connection serialises writers.
type Store struct {
	db *sql.DB
}

// dsnParams apply to every connection the pool opens. synchronous=FULL
// fsyncs the WAL on each commit, so a committed Append survives power loss.
const dsnParams = "_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000"

// Open creates or opens the database at path. Use ":memory:" for a
// throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?"+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set user_version: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append implements ledger.Store.
func (s *Store) Append(ctx context.Context, rec ledger.Record) (ledger.Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var seq uint64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq) + 1, 0) FROM entries`).Scan(&seq); err != nil {
		return ledger.Entry{}, fmt.Errorf("next seq: %w", err)
	}
	entry := rec.At(seq)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO entries (seq, identity, day_id, content_digest, created_at) VALUES (?, ?, ?, ?, ?)`,
		int64(entry.SequenceIndex), entry.Identity.String(), int64(entry.DayID),
		entry.ContentDigest.String(), entry.CreatedAt.UnixNano(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ledger.Entry{}, ledger.ErrAlreadySubmittedToday
		}
		return ledger.Entry{}, fmt.Errorf("insert entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ledger.Entry{}, fmt.Errorf("commit: %w", err)
	}
	return entry, nil
}

const selectEntry = `SELECT seq, identity, day_id, content_digest, created_at FROM entries`

// Lookup implements ledger.Store.
func (s *Store) Lookup(ctx context.Context, id ledger.Identity, day dayclock.DayID) (ledger.Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, selectEntry+` WHERE identity = ? AND day_id = ?`, id.String(), int64(day))
	return scanOne(row)
}

// At implements ledger.Store.
func (s *Store) At(ctx context.Context, index uint64) (ledger.Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, selectEntry+` WHERE seq = ?`, int64(index))
	return scanOne(row)
}

// Len implements ledger.Store.
func (s *Store) Len(ctx context.Context) (uint64, error) {
	var n uint64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// Range implements ledger.Store.
func (s *Store) Range(ctx context.Context, from, to uint64) ([]ledger.Entry, error) {
	out := []ledger.Entry{}
	if from >= to {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, selectEntry+` WHERE seq >= ? AND seq < ? ORDER BY seq`, int64(from), clampInt64(to))
	if err != nil {
		return nil, fmt.Errorf("query range: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row *sql.Row) (ledger.Entry, bool, error) {
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, err
	}
	return e, true, nil
}

func scanEntry(sc scanner) (ledger.Entry, error) {
	var (
		seq       int64
		identity  string
		day       int64
		digest    string
		createdAt int64
	)
	if err := sc.Scan(&seq, &identity, &day, &digest, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Entry{}, err
		}
		return ledger.Entry{}, fmt.Errorf("scan entry: %w", err)
	}

	id, err := ledger.ParseIdentity(identity)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("entry %d: %w", seq, err)
	}
	d, err := ledger.ParseDigest(digest)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("entry %d: %w", seq, err)
	}
	return ledger.Entry{
		Identity:      id,
		DayID:         dayclock.DayID(day),
		ContentDigest: d,
		CreatedAt:     time.Unix(0, createdAt).UTC(),
		SequenceIndex: uint64(seq),
	}, nil
}

func clampInt64(v uint64) int64 {
	const maxInt64 = 1<<63 - 1
	if v > maxInt64 {
		return maxInt64
	}
	return int64(v)
}
