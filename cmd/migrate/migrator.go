package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type migration struct {
	version int64
	name    string
	up      string // file name
	down    string // file name, may be empty
}

type dirtyError struct{ version int64 }

func (e *dirtyError) Error() string { return fmt.Sprintf("migration %d is dirty", e.version) }

type migrator struct {
	db     *pgxpool.Pool
	dir    string
	logger *zap.Logger
}

func (m *migrator) ensureTable(ctx context.Context) error {
	if _, err := m.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version bigint NOT NULL,
			dirty   boolean NOT NULL,
			PRIMARY KEY (version)
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

// load pairs NNN_name.up.sql with NNN_name.down.sql, ordered by version.
func load(dir string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := make(map[int64]*migration)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		ver, err := versionFromFile(name)
		if err != nil {
			return nil, fmt.Errorf("parse version from %s: %w", name, err)
		}
		mg := byVersion[ver]
		if mg == nil {
			mg = &migration{version: ver}
			byVersion[ver] = mg
		}
		switch {
		case strings.HasSuffix(name, ".down.sql"):
			mg.down = name
		case strings.HasSuffix(name, ".up.sql"):
			mg.up = name
			mg.name = strings.TrimSuffix(name, ".up.sql")
		default:
			return nil, fmt.Errorf("%s: want NNN_name.up.sql or NNN_name.down.sql", name)
		}
	}

	out := make([]migration, 0, len(byVersion))
	for _, mg := range byVersion {
		if mg.up == "" {
			return nil, fmt.Errorf("migration %d has no up file", mg.version)
		}
		out = append(out, *mg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// versionFromFile extracts the leading integer: "001_recap_entries.up.sql" → 1.
func versionFromFile(filename string) (int64, error) {
	prefix, _, ok := strings.Cut(filename, "_")
	if !ok {
		return 0, fmt.Errorf("unexpected filename format")
	}
	return strconv.ParseInt(prefix, 10, 64)
}

// applied returns version → dirty.
func (m *migrator) applied(ctx context.Context) (map[int64]bool, error) {
	rows, err := m.db.Query(ctx, `SELECT version, dirty FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]bool)
	for rows.Next() {
		var v int64
		var dirty bool
		if err := rows.Scan(&v, &dirty); err != nil {
			return nil, err
		}
		out[v] = dirty
	}
	return out, rows.Err()
}

func (m *migrator) up(ctx context.Context) (int, error) {
	migrations, err := load(m.dir)
	if err != nil {
		return 0, err
	}
	state, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, mg := range migrations {
		dirty, done := state[mg.version]
		if dirty {
			return n, &dirtyError{version: mg.version}
		}
		if done {
			m.logger.Debug("skip migration", zap.String("file", mg.up))
			continue
		}
		if err := m.exec(ctx, mg.version, mg.up, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, dirty) VALUES ($1, false)`, mg.version)
			return err
		}); err != nil {
			return n, err
		}
		m.logger.Info("applied migration", zap.String("file", mg.up))
		n++
	}
	return n, nil
}

func (m *migrator) down(ctx context.Context) error {
	migrations, err := load(m.dir)
	if err != nil {
		return err
	}
	state, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for i := len(migrations) - 1; i >= 0; i-- {
		mg := migrations[i]
		dirty, done := state[mg.version]
		if !done {
			continue
		}
		if dirty {
			return &dirtyError{version: mg.version}
		}
		if mg.down == "" {
			return fmt.Errorf("migration %d has no down file", mg.version)
		}
		if err := m.exec(ctx, mg.version, mg.down, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, mg.version)
			return err
		}); err != nil {
			return err
		}
		m.logger.Info("reverted migration", zap.String("file", mg.down))
		return nil
	}
	m.logger.Info("nothing to revert")
	return nil
}

// exec runs file and record in one transaction. If the transaction fails
// the version is marked dirty so the failure stays visible.
func (m *migrator) exec(ctx context.Context, version int64, file string, record func(pgx.Tx) error) error {
	sql, err := os.ReadFile(filepath.Join(m.dir, file))
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}

	err = pgx.BeginFunc(ctx, m.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, string(sql)); err != nil {
			return err
		}
		return record(tx)
	})
	if err == nil {
		return nil
	}
	if _, markErr := m.db.Exec(ctx,
		`INSERT INTO schema_migrations (version, dirty) VALUES ($1, true)
		 ON CONFLICT (version) DO UPDATE SET dirty = true`, version,
	); markErr != nil {
		m.logger.Error("mark dirty", zap.Int64("version", version), zap.Error(markErr))
	}
	return fmt.Errorf("apply %s: %w", file, err)
}

func (m *migrator) status(ctx context.Context, w io.Writer) error {
	migrations, err := load(m.dir)
	if err != nil {
		return err
	}
	state, err := m.applied(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATE")
	for _, mg := range migrations {
		st := "pending"
		if dirty, ok := state[mg.version]; ok {
			st = "applied"
			if dirty {
				st = "dirty"
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", mg.version, mg.name, st)
	}
	return tw.Flush()
}
