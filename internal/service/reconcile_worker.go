package service

import (
	"context"
	"fmt"
	"time"

	"mysterypack/internal/logger"
)

// DefaultReconcileInterval is how often every account is checked against its
// transaction history.
const DefaultReconcileInterval = 10 * time.Minute

// ReconcileWorker periodically folds every ledger and reports drift.
type ReconcileWorker struct {
	ctx      context.Context
	cancel   context.CancelFunc
	ledger   *LedgerService
	interval time.Duration
	done     chan struct{}
}

// NewReconcileWorker creates a new reconciliation worker
func NewReconcileWorker(ledger *LedgerService, interval time.Duration) *ReconcileWorker {
	ctx, cancel := context.WithCancel(context.Background())
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	return &ReconcileWorker{
		ctx:      ctx,
		cancel:   cancel,
		ledger:   ledger,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the background worker
func (w *ReconcileWorker) Start() {
	logger.Info("reconcile_worker_started", fmt.Sprintf("interval=%s", w.interval))

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		// Run immediately on start
		w.RunOnce(w.ctx)
		for {
			select {
			case <-ticker.C:
				w.RunOnce(w.ctx)
			case <-w.ctx.Done():
				logger.Info("reconcile_worker_stopped", "")
				return
			}
		}
	}()
}

// Stop stops the worker and waits for a running pass to finish
func (w *ReconcileWorker) Stop() {
	w.cancel()
	<-w.done
}

// RunOnce reconciles every account and returns how many drifted.
func (w *ReconcileWorker) RunOnce(ctx context.Context) int {
	start := time.Now()
	drifted, checked, err := w.ledger.ReconcileAll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("reconcile_failed", err, "")
		}
		return len(drifted)
	}
	for _, r := range drifted {
		logger.Warn("reconcile_drift", fmt.Sprintf("user_id=%s transactions=%d materialized=%d folded=%d",
			r.UserID, r.Transactions, r.Materialized.Total, r.Folded.Total))
	}
	logger.Info("reconcile_pass", fmt.Sprintf("accounts=%d drifted=%d took=%s", checked, len(drifted), time.Since(start)))
	return len(drifted)
}
