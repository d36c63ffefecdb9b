package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Institute-for-Folly/RECAP/internal/config"
	"github.com/Institute-for-Folly/RECAP/internal/ledger"
	"github.com/Institute-for-Folly/RECAP/internal/ledger/boltstore"
	"github.com/Institute-for-Folly/RECAP/internal/ledger/pgstore"
	"github.com/Institute-for-Folly/RECAP/internal/ledger/sqlitestore"
)

// openStore returns the configured ledger store and a func releasing it.
func openStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (ledger.Store, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory storage; entries are lost on restart")
		return ledger.NewMemoryStore(), func() {}, nil

	case config.DriverBolt:
		if err := ensureDir(cfg.Path); err != nil {
			return nil, nil, err
		}
		s, err := boltstore.Open(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open bolt store: %w", err)
		}
		logger.Info("opened bolt store", zap.String("path", cfg.Path))
		return s, closer(s.Close, "bolt", logger), nil

	case config.DriverSQLite:
		if err := ensureDir(cfg.Path); err != nil {
			return nil, nil, err
		}
		s, err := sqlitestore.Open(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		logger.Info("opened sqlite store", zap.String("path", cfg.Path))
		return s, closer(s.Close, "sqlite", logger), nil

	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
		return pgstore.New(pool, logger.Named("pgstore")), pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create storage directory: %w", err)
	}
	return nil
}

func closer(fn func() error, name string, logger *zap.Logger) func() {
	return func() {
		if err := fn(); err != nil {
			logger.Error("close store", zap.String("driver", name), zap.Error(err))
		}
	}
}
