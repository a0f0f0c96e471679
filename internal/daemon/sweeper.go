package daemon

import (
	"context"
	"log/slog"
	"time"
)

// stuckProcessingAge is the staleness threshold for recovering jobs stuck
// in "processing" after a crash (spec §4.5.6 step 1).
const stuckProcessingAge = 5 * time.Minute

// sweeperFailureThreshold is the number of consecutive sweeper-cycle
// failures that triggers a CRITICAL-level log (spec §4.5.6).
const sweeperFailureThreshold = 3

// runSweeper ticks every cfg.SweepInterval until ctx is cancelled, running
// one sweep cycle per tick. It never returns early on a single cycle's
// error — it logs and continues (this is the crash-recovery loop).
func (d *Daemon) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweepOnce(ctx)
		}
	}
}

// sweepOnce runs the three sweeper responsibilities in order: recover stuck
// processing jobs, process stale pending jobs serially, and purge
// irrecoverable failed tombstones.
func (d *Daemon) sweepOnce(ctx context.Context) {
	start := time.Now()
	cycleFailed := false

	if err := d.recoverStuckJobs(); err != nil {
		d.log.Error("daemon: sweeper: recover stuck jobs", slog.Any("error", err))
		cycleFailed = true
	}

	if err := d.processStaleJobs(ctx); err != nil {
		d.log.Error("daemon: sweeper: process stale jobs", slog.Any("error", err))
		cycleFailed = true
	}

	deleted, err := d.store.CleanupIrrecoverableFailed()
	if err != nil {
		d.log.Error("daemon: sweeper: cleanup irrecoverable failed", slog.Any("error", err))
		cycleFailed = true
	} else if deleted > 0 {
		d.log.Info("daemon: sweeper: purged irrecoverable failed jobs", slog.Int("deleted", deleted))
	}

	d.metrics.sweeperCycleDuration.Observe(time.Since(start).Seconds())

	// sweeperFailures tracks consecutive cycles containing a failure, not
	// sub-steps within one cycle — only a clean cycle clears it, so the
	// CRITICAL threshold in recordSweepFailure fires across real outages
	// rather than resetting every tick.
	if !cycleFailed {
		d.metrics.sweeperCyclesTotal.WithLabelValues("ok").Inc()
		d.sweeperFailures = 0
	} else {
		d.recordSweepFailure()
	}
}

// recoverStuckJobs reverts processing jobs older than stuckProcessingAge
// back to pending, keeping retries and history (spec §4.5.6 step 1 / S6).
func (d *Daemon) recoverStuckJobs() error {
	stuck, err := d.store.GetStuckProcessingJobs(stuckProcessingAge)
	if err != nil {
		return err
	}
	for _, job := range stuck {
		if err := d.store.RecoverStuckJob(job.JobID); err != nil {
			d.log.Error("daemon: recover stuck job", slog.String("job_id", job.JobID), slog.Any("error", err))
			continue
		}
		d.log.Info("daemon: recovered stuck job", slog.String("job_id", job.JobID))
	}
	return nil
}

// processStaleJobs processes stale pending jobs one at a time, to avoid
// flooding TEI/Qdrant with a thundering herd (spec §4.5.6 step 2 / §5).
func (d *Daemon) processStaleJobs(ctx context.Context) error {
	stale, err := d.store.GetStalePendingJobs(d.cfg.StaleAfter)
	if err != nil {
		return err
	}
	for _, job := range stale {
		d.processOne(ctx, job.JobID, nil)
	}
	return nil
}

// recordSweepFailure increments the consecutive-failure counter and emits a
// CRITICAL-level log once the threshold is crossed.
func (d *Daemon) recordSweepFailure() {
	d.sweeperFailures++
	d.metrics.sweeperCyclesTotal.WithLabelValues("error").Inc()
	if d.sweeperFailures >= sweeperFailureThreshold {
		d.log.Error("daemon: CRITICAL: sweeper failed repeatedly",
			slog.Int("consecutive_failures", d.sweeperFailures),
		)
	}
}
