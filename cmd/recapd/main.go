package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Institute-for-Folly/RECAP/internal/api"
	"github.com/Institute-for-Folly/RECAP/internal/auth"
	"github.com/Institute-for-Folly/RECAP/internal/cluster"
	"github.com/Institute-for-Folly/RECAP/internal/config"
	"github.com/Institute-for-Folly/RECAP/internal/dayclock"
	"github.com/Institute-for-Folly/RECAP/internal/health"
	"github.com/Institute-for-Folly/RECAP/internal/ledger"
	"github.com/Institute-for-Folly/RECAP/internal/notify"
	"github.com/Institute-for-Folly/RECAP/internal/streak"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "recapd",
	Short:        "Daily recap ledger server",
	Version:      version,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg.Log.Development)
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		defer logger.Sync() //nolint:errcheck

		if err := run(cfg, logger); err != nil {
			logger.Error("recapd exited with error", zap.Error(err))
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default configs/recapd.yaml or ./recapd.yaml)")
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Storage ───────────────────────────────────────────────────────────────
	local, closeStore, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// ── Replication ───────────────────────────────────────────────────────────
	checker := health.New(health.Config{}, logger.Named("health"))
	checker.SetObserver(api.SetDependencyUp)
	checker.Add("storage", func(ctx context.Context) error {
		_, err := local.Len(ctx)
		return err
	})

	var (
		store ledger.Store = local
		node  *cluster.Node
	)
	if cfg.Cluster.Enabled {
		node = cluster.NewNode(cluster.Config{
			NodeID:       cfg.Cluster.NodeID,
			BindAddr:     cfg.Cluster.BindAddr,
			DataDir:      cfg.Cluster.DataDir,
			Bootstrap:    cfg.Cluster.Bootstrap,
			Peers:        cfg.Cluster.Peers,
			APIAddrs:     cfg.Cluster.APIAddrs,
			ApplyTimeout: cfg.Cluster.ApplyTimeout,
		}, local, logger.Named("cluster"))
		if err := node.Start(); err != nil {
			return fmt.Errorf("start raft node: %w", err)
		}
		defer func() {
			if err := node.Stop(); err != nil {
				logger.Error("raft shutdown", zap.Error(err))
			}
		}()
		store = cluster.NewStore(node, local)
		checker.Add("raft", node.Ready)
		logger.Info("raft node started",
			zap.String("node_id", cfg.Cluster.NodeID),
			zap.String("bind_addr", cfg.Cluster.BindAddr),
			zap.Bool("bootstrap", cfg.Cluster.Bootstrap),
		)
	}

	go checker.Run(ctx)
	ready := checker.Ready

	// ── Ledger + notifications ────────────────────────────────────────────────
	l := ledger.New(store, dayclock.System{}, logger.Named("ledger"))
	if n, err := l.TotalEntries(ctx); err == nil {
		api.SetLedgerEntries(n)
		logger.Info("ledger opened", zap.Uint64("entries", n), zap.Int64("day_id", int64(l.Today())))
	}

	hub := notify.NewHub(originChecker(cfg.Server.CORSOrigins), logger.Named("feed"))
	defer hub.Close()

	notifiers := ledger.MultiNotifier{hub}
	if len(cfg.Webhooks) > 0 {
		hooks := notify.NewWebhooks(cfg.Webhooks, logger.Named("webhooks"))
		hooks.SetMetricsRecorder(api.RecordWebhookDelivery)
		defer hooks.Close()
		notifiers = append(notifiers, hooks)
		logger.Info("webhooks configured", zap.Int("targets", len(cfg.Webhooks)))
	}
	l.SetNotifier(notifiers)

	streaks := streak.New(l, cfg.Streak.MaxLookbackDays)

	// ── Auth ──────────────────────────────────────────────────────────────────
	opts := api.Options{
		CORSOrigins:   cfg.Server.CORSOrigins,
		RateLimitRPS:  cfg.Server.RateLimitRPS,
		RateLimitIdle: cfg.Server.RateLimitIdle,
		MaxPageSize:   cfg.Server.MaxPageSize,
		Hub:           hub,
		Ready:         ready,
	}
	if cfg.Auth.Enabled() {
		tokens, err := auth.NewTokenIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.TokenTTL)
		if err != nil {
			return fmt.Errorf("token issuer: %w", err)
		}
		opts.Tokens = tokens
		opts.IssuePolicy = &auth.IssuePolicy{
			Allow:      cfg.Auth.AllowIssue,
			SecretHash: []byte(cfg.Auth.IssueSecretHash),
		}
		if cfg.Auth.AllowIssue && cfg.Auth.IssueSecretHash == "" {
			logger.Warn("token issuance is open to any caller; set auth.issue_secret_hash outside development")
		}
	} else {
		logger.Warn("auth disabled; submissions take the identity from the request body")
	}

	router := api.NewRouter(ctx, l, streaks, opts, logger)

	// ── gRPC health ───────────────────────────────────────────────────────────
	var grpcSrv *grpcHealth
	if cfg.Server.GRPCPort > 0 {
		grpcSrv, err = newGRPCHealth(cfg.Server.GRPCPort, ready, logger.Named("grpc"))
		if err != nil {
			return err
		}
		go grpcSrv.serve()
		go grpcSrv.watch(ctx, 5*time.Second)
	}

	// ── HTTP ──────────────────────────────────────────────────────────────────
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("recapd HTTP listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("storage", cfg.Storage.Driver),
			zap.String("version", version),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	select {
	case <-quit:
	case err := <-serveErr:
		return fmt.Errorf("HTTP listen: %w", err)
	}
	logger.Info("shutting down recapd...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	if grpcSrv != nil {
		grpcSrv.stop()
	}
	cancel()

	logger.Info("recapd stopped")
	return nil
}

// originChecker limits websocket upgrades to the configured CORS origins.
// Requests without an Origin header are accepted.
func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			return nil
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}
