package daemon

import (
	"context"
	"testing"

	"github.com/axon-embed/axon/internal/queue"
	"github.com/axon-embed/axon/internal/scrapeapi"
)

// TestRecoverStuckJobs_NoneYetStale verifies a freshly claimed job — not yet
// older than stuckProcessingAge — is left alone by a sweep.
func TestRecoverStuckJobs_NoneYetStale(t *testing.T) {
	t.Parallel()

	d, store := newTestDaemon(t, &fakeCrawler{}, &fakeEmbedder{})
	if _, err := store.Enqueue("stuck-1", "https://example.com", 3); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.TryClaim("stuck-1"); err != nil {
		t.Fatalf("TryClaim: %v", err)
	}

	if err := d.recoverStuckJobs(); err != nil {
		t.Fatalf("recoverStuckJobs: %v", err)
	}

	result := store.GetDetailed("stuck-1")
	if result.Job.Status != queue.StatusProcessing {
		t.Errorf("expected still processing (not yet stale), got %v", result.Job.Status)
	}
}

// TestStoreRecoverStuckJob verifies the store-level transition the sweeper
// relies on once a job is identified as stuck.
func TestStoreRecoverStuckJob(t *testing.T) {
	t.Parallel()

	store, err := queue.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("queue.NewStore: %v", err)
	}
	if _, err := store.Enqueue("stuck-2", "https://example.com", 3); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.TryClaim("stuck-2"); err != nil {
		t.Fatalf("TryClaim: %v", err)
	}

	if err := store.RecoverStuckJob("stuck-2"); err != nil {
		t.Fatalf("RecoverStuckJob: %v", err)
	}

	result := store.GetDetailed("stuck-2")
	if result.Job.Status != queue.StatusPending {
		t.Errorf("expected pending after recovery, got %v", result.Job.Status)
	}
}

// TestSweepOnce_ProcessesStaleJobs verifies stale pending jobs are run
// through processOne by the sweeper.
func TestSweepOnce_ProcessesStaleJobs(t *testing.T) {
	t.Parallel()

	crawler := &fakeCrawler{status: &scrapeapi.CrawlStatus{Status: "completed"}}
	embed := &fakeEmbedder{outcome: BatchOutcome{Succeeded: 0}}
	d, store := newTestDaemon(t, crawler, embed)

	if _, err := store.Enqueue("stale-1", "https://example.com", 3); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	stale, err := store.GetStalePendingJobs(0)
	if err != nil {
		t.Fatalf("GetStalePendingJobs: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("expected 1 stale job, got %d", len(stale))
	}

	d.cfg.StaleAfter = 0
	if err := d.processStaleJobs(context.Background()); err != nil {
		t.Fatalf("processStaleJobs: %v", err)
	}

	result := store.GetDetailed("stale-1")
	if result.Job.Status != queue.StatusCompleted {
		t.Errorf("expected completed, got %v", result.Job.Status)
	}
}

// TestRecordSweepFailure_LogsOnThreshold exercises the consecutive-failure
// counter path without asserting on log output (no observable side effect
// beyond the counter itself).
func TestRecordSweepFailure_LogsOnThreshold(t *testing.T) {
	t.Parallel()

	d, _ := newTestDaemon(t, &fakeCrawler{}, &fakeEmbedder{})

	for i := 0; i < sweeperFailureThreshold; i++ {
		d.recordSweepFailure()
	}
	if d.sweeperFailures != sweeperFailureThreshold {
		t.Errorf("expected %d consecutive failures, got %d", sweeperFailureThreshold, d.sweeperFailures)
	}

	d.sweeperFailures = 0
}

// TestSweepOnce_CleansUpAndResetsFailures verifies a full cycle clears the
// failure counter on success.
func TestSweepOnce_CleansUpAndResetsFailures(t *testing.T) {
	t.Parallel()

	d, _ := newTestDaemon(t, &fakeCrawler{}, &fakeEmbedder{})
	d.sweeperFailures = 2

	d.sweepOnce(context.Background())

	if d.sweeperFailures != 0 {
		t.Errorf("expected failure counter reset to 0, got %d", d.sweeperFailures)
	}
}
