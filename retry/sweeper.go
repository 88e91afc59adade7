package retry

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"

	"github.com/inboundr/art-framer-sub005/models"
)

const sweepLockKey = "fulfillment:retry:sweep"

// SweepStats aggregates one due-operation sweep.
type SweepStats struct {
	Scanned   int   `json:"scanned"`
	Completed int   `json:"completed"`
	Requeued  int   `json:"requeued"`
	Failed    int   `json:"failed"`
	Skipped   int   `json:"skipped"`
	Reclaimed int64 `json:"reclaimed"`
}

// ProcessDue runs the retry processor over every due pending operation.
// It is invoked by the poll loop, by cron through the admin surface, and by
// tests directly.
func (e *Engine) ProcessDue(ctx context.Context) SweepStats {
	var stats SweepStats
	db := e.DB.WithContext(ctx)
	now := time.Now().UTC()

	// Best-effort sweep lock. Redis being down must not stop the sweep;
	// correctness is carried by the per-operation claim.
	if e.Locker != nil {
		lock, err := e.Locker.Obtain(ctx, sweepLockKey, e.LockTimeout, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			return stats
		}
		if err == nil {
			defer func() { _ = lock.Release(context.WithoutCancel(ctx)) }()
		}
	}

	reclaimed, err := models.ReclaimStaleOperations(db, now.Add(-e.LockTimeout))
	if err != nil {
		e.logError("ProcessDue", "reclaiming stale processing operations", nil, err)
	}
	stats.Reclaimed = reclaimed

	// Fresh timestamp so rows reclaimed just above are already due.
	ops, err := models.FindDueOperations(db, time.Now().UTC(), e.BatchSize)
	if err != nil {
		e.logError("ProcessDue", "querying due operations", nil, err)
		return stats
	}
	stats.Scanned = len(ops)

	for _, op := range ops {
		select {
		case <-ctx.Done():
			return stats
		default:
		}
		switch e.processOne(ctx, op.ID) {
		case outcomeCompleted, outcomeAlreadyTerminal:
			stats.Completed++
		case outcomeRequeued:
			stats.Requeued++
		case outcomeFailed:
			stats.Failed++
		default:
			stats.Skipped++
		}
	}

	if stats.Scanned > 0 || stats.Reclaimed > 0 {
		e.Logger.WithFields(logrus.Fields{
			"field":     "RetryEngine",
			"scanned":   stats.Scanned,
			"completed": stats.Completed,
			"requeued":  stats.Requeued,
			"failed":    stats.Failed,
			"reclaimed": stats.Reclaimed,
		}).Info("sweep finished")
	}
	return stats
}

// Run polls for due operations until the context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		e.ProcessDue(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.PollInterval):
		}
	}
}
