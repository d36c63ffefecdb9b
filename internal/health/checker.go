// Package health tracks dependency probes for readiness reporting.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	// FailThreshold is the number of consecutive failures before a probe
	// is reported degraded.
	FailThreshold int
}

// Probe returns nil when the dependency is usable.
type Probe func(ctx context.Context) error

// Status of a single probe.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
)

// ObserverFunc is called after every probe run.
type ObserverFunc func(name string, healthy bool)

type probeState struct {
	probe     Probe
	failCount int
	lastErr   error
}

// Checker runs named probes periodically and reports readiness.
type Checker struct {
	mu       sync.Mutex
	probes   map[string]*probeState
	cfg      Config
	observer ObserverFunc // nil = disabled
	logger   *zap.Logger
}

// New creates a Checker with no probes.
func New(cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 5 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 2
	}
	return &Checker{
		probes: make(map[string]*probeState),
		cfg:    cfg,
		logger: logger,
	}
}

// Add registers a probe under name, replacing any previous one.
func (h *Checker) Add(name string, p Probe) {
	h.mu.Lock()
	h.probes[name] = &probeState{probe: p}
	h.mu.Unlock()
}

// SetObserver configures the per-run callback.
func (h *Checker) SetObserver(fn ObserverFunc) {
	h.mu.Lock()
	h.observer = fn
	h.mu.Unlock()
}

// Run checks immediately and then every CheckInterval until ctx is done.
func (h *Checker) Run(ctx context.Context) {
	h.CheckAll(ctx)

	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll runs every probe concurrently and records the outcome.
func (h *Checker) CheckAll(ctx context.Context) {
	h.mu.Lock()
	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.check(ctx, name)
		}()
	}
	wg.Wait()
}

func (h *Checker) check(ctx context.Context, name string) {
	h.mu.Lock()
	st, ok := h.probes[name]
	h.mu.Unlock()
	if !ok {
		return
	}

	pctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
	err := st.probe(pctx)
	cancel()

	h.mu.Lock()
	prevCount := st.failCount
	if err == nil {
		st.failCount = 0
	} else {
		st.failCount++
	}
	st.lastErr = err
	count := st.failCount
	observer := h.observer
	h.mu.Unlock()

	switch {
	case err == nil && prevCount >= h.cfg.FailThreshold:
		h.logger.Info("health: recovered", zap.String("probe", name))
	case err != nil && count == h.cfg.FailThreshold:
		h.logger.Warn("health: degraded",
			zap.String("probe", name),
			zap.Int("fail_count", count),
			zap.Error(err),
		)
	}

	if observer != nil {
		observer(name, count < h.cfg.FailThreshold)
	}
}

// Statuses returns the current status of every probe.
func (h *Checker) Statuses() map[string]Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]Status, len(h.probes))
	for name, st := range h.probes {
		out[name] = StatusHealthy
		if st.failCount >= h.cfg.FailThreshold {
			out[name] = StatusDegraded
		}
	}
	return out
}

// Ready returns nil when no probe is degraded. It reads recorded state and
// does not run probes.
func (h *Checker) Ready(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		st := h.probes[name]
		if st.failCount >= h.cfg.FailThreshold {
			errs = append(errs, fmt.Errorf("%s: %w", name, st.lastErr))
		}
	}
	return errors.Join(errs...)
}
