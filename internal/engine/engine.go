// Package engine runs the controller: four prioritized loops over a
// shared context of risk state, ledger, sizer, guardrails, and the
// exchange. Supervision of open positions always outranks the hunt for
// new ones.
package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ducle1408/futures-sentinel/internal/config"
	"github.com/ducle1408/futures-sentinel/internal/exchange"
	"github.com/ducle1408/futures-sentinel/internal/journal"
	"github.com/ducle1408/futures-sentinel/internal/logger"
	"github.com/ducle1408/futures-sentinel/internal/monitoring"
	"github.com/ducle1408/futures-sentinel/internal/notifications"
	"github.com/ducle1408/futures-sentinel/internal/position"
	"github.com/ducle1408/futures-sentinel/internal/regime"
	"github.com/ducle1408/futures-sentinel/internal/risk"
	"github.com/ducle1408/futures-sentinel/internal/scanner"
	"github.com/ducle1408/futures-sentinel/internal/state"
)

// Engine owns the controller lifecycle.
type Engine struct {
	cfg      *config.Config
	exchange exchange.Exchange
	riskSt   *risk.State
	guard    *risk.Guardrails
	corr     *risk.CorrelationTracker
	ledger   *position.Ledger
	cache    *scanner.Cache
	scanner  *scanner.Scanner
	detector *regime.Detector
	store    *state.Store
	journal  *journal.Journal
	health   *monitoring.HealthChecker
	notifier notifications.Notifier
	log      *logger.Logger
}

// Deps collects the injectable engine dependencies. Everything not set
// falls back to a no-op or a default.
type Deps struct {
	Exchange exchange.Exchange
	RiskSt   *risk.State
	Guard    *risk.Guardrails
	Corr     *risk.CorrelationTracker
	Ledger   *position.Ledger
	Cache    *scanner.Cache
	Scanner  *scanner.Scanner
	Detector *regime.Detector
	Store    *state.Store
	Journal  *journal.Journal
	Health   *monitoring.HealthChecker
	Notifier notifications.Notifier
	Log      *logger.Logger
}

// New wires an engine from its dependencies.
func New(cfg *config.Config, d Deps) (*Engine, error) {
	if d.Exchange == nil {
		return nil, fmt.Errorf("engine requires an exchange")
	}
	if d.Notifier == nil {
		d.Notifier = notifications.Nop{}
	}
	return &Engine{
		cfg:      cfg,
		exchange: d.Exchange,
		riskSt:   d.RiskSt,
		guard:    d.Guard,
		corr:     d.Corr,
		ledger:   d.Ledger,
		cache:    d.Cache,
		scanner:  d.Scanner,
		detector: d.Detector,
		store:    d.Store,
		journal:  d.Journal,
		health:   d.Health,
		notifier: d.Notifier,
		log:      d.Log,
	}, nil
}

// Run starts the loops and blocks until ctx is cancelled and shutdown
// completes. Supervision starts first with a head start and stops last,
// so open positions are never left unattended while other loops wind
// down.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.startup(ctx); err != nil {
		return err
	}

	sched := e.cfg.Scheduler
	supCtx, supCancel := context.WithCancel(context.Background())
	auxCtx, auxCancel := context.WithCancel(context.Background())
	defer supCancel()
	defer auxCancel()

	e.health.RegisterLoop("supervision", staleAllowance(sched.SupervisionInterval(), sched.StalenessMultiplier))
	e.health.RegisterLoop("scanning", staleAllowance(sched.ScanInterval(), sched.StalenessMultiplier))
	e.health.RegisterLoop("coordinator", staleAllowance(sched.CoordinatorInterval(), sched.StalenessMultiplier))
	e.health.RegisterLoop("persistence", staleAllowance(sched.PersistInterval(), sched.StalenessMultiplier))

	var g errgroup.Group
	g.Go(func() error {
		e.runLoop(supCtx, "supervision", sched.SupervisionInterval(), e.superviseTick)
		return nil
	})

	// Head start: supervision gets at least one pass before anything
	// else competes for API rate limit.
	select {
	case <-time.After(sched.SupervisionHeadStart()):
	case <-ctx.Done():
	}

	g.Go(func() error {
		e.runLoop(auxCtx, "scanning", sched.ScanInterval(), e.scanTick)
		return nil
	})
	g.Go(func() error {
		e.runLoop(auxCtx, "coordinator", sched.CoordinatorInterval(), e.coordinateTick)
		return nil
	})
	g.Go(func() error {
		e.runLoop(auxCtx, "persistence", sched.PersistInterval(), e.persistTick)
		return nil
	})
	g.Go(func() error {
		e.runLoop(auxCtx, "watchdog", sched.WatchdogInterval(), e.watchdogTick)
		return nil
	})

	<-ctx.Done()
	e.log.Info("shutdown requested, stopping scanning and coordination")
	auxCancel()

	// Final snapshot while supervision still runs, then stop it last.
	if err := e.persistTick(context.Background()); err != nil {
		e.log.Error("final snapshot failed: %v", err)
	}
	supCancel()
	g.Wait()

	if e.journal != nil {
		if closed := e.ledger.RecentClosed(0); len(closed) > 0 {
			if path, err := e.journal.ExportXLSX(closed); err != nil {
				e.log.Error("journal export failed: %v", err)
			} else {
				e.log.Info("session journal exported to %s", path)
			}
		}
	}

	e.log.Info("engine stopped with %d open positions under exchange-side stops", e.ledger.Count())
	return nil
}

// startup restores the last snapshot and reconciles it against the
// exchange before any loop runs.
func (e *Engine) startup(ctx context.Context) error {
	snap, found, err := e.store.Load()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if found {
		e.riskSt.Restore(snap.Risk)
		e.ledger.Restore(snap.Positions)
		e.log.Info("restored snapshot from %s: %d open positions", snap.SavedAt.Format(time.RFC3339), len(snap.Positions))
	} else {
		e.log.Info("no snapshot found, starting fresh")
	}

	balance, err := e.exchange.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("fetch balance: %w", err)
	}
	e.riskSt.UpdateBalance(balance.Total)

	exchangePositions, err := e.exchange.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}
	e.ledger.Reconcile(exchangePositions)

	if err := e.syncClock(ctx); err != nil {
		e.log.Warning("initial clock sync failed: %v", err)
	}

	e.log.Info("startup complete: balance=$%.2f open=%d", balance.Total, e.ledger.Count())
	return nil
}

// runLoop drives one named loop at its cadence. The first tick fires
// immediately; a tick that outlives the interval simply delays the next
// one rather than stacking.
func (e *Engine) runLoop(ctx context.Context, name string, interval time.Duration, tick func(context.Context) error) {
	e.log.Info("%s loop started (interval %s)", name, interval)
	for {
		if err := tick(ctx); err != nil && ctx.Err() == nil {
			e.log.Error("%s tick failed: %v", name, err)
			monitoring.RecordError(name)
		}
		e.health.Beat(name)
		monitoring.RecordLoopTick(name)

		if !sleepCtx(ctx, interval) {
			e.log.Info("%s loop stopped", name)
			return
		}
	}
}

// sleepCtx sleeps in short slices so cancellation is observed within a
// fraction of a second even on long intervals. Returns false when ctx
// ended.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	const slice = 250 * time.Millisecond
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		if remaining > slice {
			remaining = slice
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(remaining):
		}
	}
}

func staleAllowance(interval time.Duration, multiplier float64) time.Duration {
	return time.Duration(float64(interval) * multiplier * 2)
}
