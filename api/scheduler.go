/*
scheduler.go - Automated ledger reconciliation

PURPOSE:
  Periodically recomputes every account balance from its opening balance
  and its settled requests, and logs any account that has drifted. A
  drift means a compensation failed or someone wrote to the store behind
  the engine's back; it needs a human.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Keeps the last report for GET /api/admin/reconciliation
  - RunNow serves POST /api/admin/reconciliation

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewReconciliationScheduler(ledger.NewReconciler(store, store), logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - ledger/reconcile.go: The check itself
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/funds-engine/ledger"
	"go.uber.org/zap"
)

// ReconciliationScheduler runs ledger reconciliation on a timer.
type ReconciliationScheduler struct {
	Reconciler    *ledger.Reconciler
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	// runMu serializes passes; reportMu guards last.
	runMu    sync.Mutex
	reportMu sync.RWMutex
	last     *ledger.ReconciliationReport
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(reconciler *ledger.Reconciler, logger *zap.Logger) *ReconciliationScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationScheduler{
		Reconciler:    reconciler,
		Logger:        logger,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler. A second Start before Stop is a no-op.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || rs.CheckInterval <= 0 {
		rs.Logger.Info("reconciliation scheduler disabled")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker, rs.stop)

	rs.Logger.Info("reconciliation scheduler started", zap.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight pass.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.Logger.Info("reconciliation scheduler stopped")
	}
}

func (rs *ReconciliationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Run immediately on start
	rs.check(ctx)

	for {
		select {
		case <-ticker.C:
			rs.check(ctx)
		case <-stop:
			return
		}
	}
}

func (rs *ReconciliationScheduler) check(ctx context.Context) {
	if _, err := rs.RunNow(ctx); err != nil && ctx.Err() == nil {
		rs.Logger.Error("reconciliation failed", zap.Error(err))
	}
}

// RunNow runs one pass, stores and returns its report.
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) (*ledger.ReconciliationReport, error) {
	rs.runMu.Lock()
	defer rs.runMu.Unlock()

	report, err := rs.Reconciler.Check(ctx)
	if err != nil {
		return nil, err
	}

	rs.reportMu.Lock()
	rs.last = report
	rs.reportMu.Unlock()

	if report.Balanced() {
		rs.Logger.Info("ledger reconciled",
			zap.Int("accounts", report.AccountsChecked),
			zap.Int("requests", report.RequestsScanned))
		return report, nil
	}
	for _, d := range report.Drifts {
		rs.Logger.Error("ledger drift detected",
			zap.String("account_id", string(d.AccountID)),
			zap.String("expected", d.Expected.String()),
			zap.String("actual", d.Actual.String()),
			zap.String("drift", d.Drift.String()))
	}
	return report, nil
}

// LastReport returns the most recent report, or nil before the first pass.
func (rs *ReconciliationScheduler) LastReport() *ledger.ReconciliationReport {
	rs.reportMu.RLock()
	defer rs.reportMu.RUnlock()
	return rs.last
}
