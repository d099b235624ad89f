// Package watchdog runs the periodic sweep over idle conversations:
// reminders, forced finalization, and expiry of old records.
package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/envoy/internal/engine"
	"github.com/MikeSquared-Agency/envoy/internal/session"
)

// Sweeper applies timeout policy to one user's conversation. Implemented by
// the engine; per-user locking and idempotent materialization live there.
type Sweeper interface {
	TrySweep(ctx context.Context, userID string, now time.Time, remindAfter, finalizeAfter time.Duration) (engine.SweepOutcome, []engine.Notification, error)
}

// Notifier delivers sweep-produced notifications to users.
type Notifier interface {
	Notify(ctx context.Context, n engine.Notification) error
}

type Config struct {
	RemindAfter   time.Duration
	FinalizeAfter time.Duration
	ActiveTTL     time.Duration // errored or unrecoverable actives
	TerminalTTL   time.Duration // completed and abandoned records
	ScanLimit     int
}

// Report summarizes one sweep pass.
type Report struct {
	SweptAt   time.Time `json:"swept_at"`
	Scanned   int       `json:"scanned"`
	Reminded  int       `json:"reminded"`
	Finalized int       `json:"finalized"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Purged    int       `json:"purged"`
}

type Watchdog struct {
	store    session.Store
	sweeper  Sweeper
	notifier Notifier
	cfg      Config
	logger   *slog.Logger

	mu   sync.Mutex
	last Report
}

func New(store session.Store, sweeper Sweeper, notifier Notifier, cfg Config, logger *slog.Logger) *Watchdog {
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = 100
	}
	return &Watchdog{store: store, sweeper: sweeper, notifier: notifier, cfg: cfg, logger: logger}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (w *Watchdog) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx, time.Now().UTC())
		}
	}
}

// Sweep runs one pass: stale conversations get reminded or finalized, one
// per user, then expired records are purged.
func (w *Watchdog) Sweep(ctx context.Context, now time.Time) Report {
	report := Report{SweptAt: now}

	stale, err := w.store.ScanStale(ctx, now.Add(-w.cfg.RemindAfter), w.cfg.ScanLimit)
	if err != nil {
		w.logger.Error("stale scan failed", "error", err)
		report.Failed++
		w.setLast(report)
		return report
	}

	seen := make(map[string]bool)
	for _, conv := range stale {
		if seen[conv.UserID] {
			continue
		}
		seen[conv.UserID] = true
		report.Scanned++

		outcome, notes, err := w.sweeper.TrySweep(ctx, conv.UserID, now, w.cfg.RemindAfter, w.cfg.FinalizeAfter)
		if err != nil {
			w.logger.Error("sweep failed", "user", conv.UserID, "error", err)
			report.Failed++
			continue
		}
		switch outcome {
		case engine.SweepReminded:
			report.Reminded++
		case engine.SweepFinalized:
			report.Finalized++
		case engine.SweepSkipped:
			report.Skipped++
		}
		w.deliver(ctx, notes)
	}

	purged, err := w.store.PurgeExpired(ctx, now.Add(-w.cfg.ActiveTTL), now.Add(-w.cfg.TerminalTTL))
	if err != nil {
		w.logger.Error("purge failed", "error", err)
		report.Failed++
	}
	report.Purged = purged

	w.logger.Info("sweep complete",
		"scanned", report.Scanned,
		"reminded", report.Reminded,
		"finalized", report.Finalized,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"purged", report.Purged)

	w.setLast(report)
	return report
}

// LastReport returns the most recent sweep's report, zero before any sweep.
func (w *Watchdog) LastReport() Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

func (w *Watchdog) deliver(ctx context.Context, notes []engine.Notification) {
	if w.notifier == nil {
		return
	}
	for _, n := range notes {
		if err := w.notifier.Notify(ctx, n); err != nil {
			w.logger.Warn("notification delivery failed", "user", n.UserID, "error", err)
		}
	}
}

func (w *Watchdog) setLast(r Report) {
	w.mu.Lock()
	w.last = r
	w.mu.Unlock()
}
