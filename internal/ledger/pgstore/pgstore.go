// Package pgstore is a ledger.Store backed by PostgreSQL. The schema lives in
// migrations/ and is applied by cmd/migrate.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Institute-for-Folly/RECAP/internal/dayclock"
	"github.com/Institute-for-Folly/RECAP/internal/ledger"
)

// advisoryLockKey serialises Append across every recapd instance sharing the
// database. The value is arbitrary but must never change.
const advisoryLockKey = int64(2_024_100_401)

// Store implements ledger.Store.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New creates a Store backed by pool.
func New(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Append implements ledger.Store. The advisory lock makes the read of the
// tail and the insert a single critical section; the unique constraint is
// the backstop for the day index.
func (s *Store) Append(ctx context.Context, rec ledger.Record) (ledger.Entry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return ledger.Entry{}, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var seq int64
	if err := tx.QueryRow(ctx, "SELECT COALESCE(MAX(seq) + 1, 0) FROM recap_entries").Scan(&seq); err != nil {
		return ledger.Entry{}, fmt.Errorf("read ledger tail: %w", err)
	}

	// timestamptz keeps microseconds.
	rec.CreatedAt = rec.CreatedAt.UTC().Truncate(time.Microsecond)
	entry := rec.At(uint64(seq))

	if _, err := tx.Exec(ctx,
		`INSERT INTO recap_entries (seq, identity, day_id, content_digest, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		seq, entry.Identity[:], int64(entry.DayID), entry.ContentDigest[:], entry.CreatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ledger.Entry{}, ledger.ErrAlreadySubmittedToday
		}
		return ledger.Entry{}, fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return ledger.Entry{}, fmt.Errorf("commit ledger tx: %w", err)
	}

	s.logger.Debug("ledger entry appended",
		zap.Int64("seq", seq),
		zap.Int64("day_id", int64(entry.DayID)),
		zap.Stringer("identity", entry.Identity),
	)
	return entry, nil
}

const selectEntry = `SELECT seq, identity, day_id, content_digest, created_at FROM recap_entries`

// Lookup implements ledger.Store.
func (s *Store) Lookup(ctx context.Context, id ledger.Identity, day dayclock.DayID) (ledger.Entry, bool, error) {
	return s.one(ctx, selectEntry+" WHERE identity = $1 AND day_id = $2", id[:], int64(day))
}

// At implements ledger.Store.
func (s *Store) At(ctx context.Context, index uint64) (ledger.Entry, bool, error) {
	if index > 1<<63-1 {
		return ledger.Entry{}, false, nil
	}
	return s.one(ctx, selectEntry+" WHERE seq = $1", int64(index))
}

// Len implements ledger.Store.
func (s *Store) Len(ctx context.Context) (uint64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM recap_entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return uint64(n), nil
}

// Range implements ledger.Store.
func (s *Store) Range(ctx context.Context, from, to uint64) ([]ledger.Entry, error) {
	out := []ledger.Entry{}
	if from >= to || from > 1<<63-1 {
		return out, nil
	}
	if to > 1<<63-1 {
		to = 1<<63 - 1
	}

	rows, err := s.pool.Query(ctx, selectEntry+" WHERE seq >= $1 AND seq < $2 ORDER BY seq ASC", int64(from), int64(to))
	if err != nil {
		return nil, fmt.Errorf("query ledger range: %w", err)
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

func (s *Store) one(ctx context.Context, query string, args ...any) (ledger.Entry, bool, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, err
	}
	return e, true, nil
}

func scanEntry(row pgx.Row) (ledger.Entry, error) {
	var (
		seq       int64
		identity  []byte
		day       int64
		digest    []byte
		createdAt time.Time
	)
	if err := row.Scan(&seq, &identity, &day, &digest, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Entry{}, err
		}
		return ledger.Entry{}, fmt.Errorf("scan ledger row: %w", err)
	}

	var e ledger.Entry
	if len(identity) != ledger.IdentityLen || len(digest) != ledger.DigestLen {
		return ledger.Entry{}, fmt.Errorf("ledger row %d has malformed identity or digest", seq)
	}
	copy(e.Identity[:], identity)
	copy(e.ContentDigest[:], digest)
	e.DayID = dayclock.DayID(day)
	e.CreatedAt = createdAt.UTC()
	e.SequenceIndex = uint64(seq)
	return e, nil
}
