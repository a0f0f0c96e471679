package queue

import (
	"errors"
	"os"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestValidJobID(t *testing.T) {
	cases := map[string]bool{
		"abc123":    true,
		"a-b_c":     true,
		"":          false,
		"has space": false,
		"has/slash": false,
	}
	for id, want := range cases {
		if got := ValidJobID(id); got != want {
			t.Errorf("ValidJobID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestEnqueueAndGetDetailed(t *testing.T) {
	store := newTestStore(t)

	job, err := store.Enqueue("job1", "https://example.com", 3)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.Status != StatusPending || job.Retries != 0 {
		t.Fatalf("unexpected initial job: %+v", job)
	}

	result := store.GetDetailed("job1")
	if result.Status != "found" {
		t.Fatalf("GetDetailed status = %q, want found", result.Status)
	}
	if result.Job.JobID != "job1" {
		t.Errorf("JobID = %q", result.Job.JobID)
	}
}

func TestGetDetailedNotFound(t *testing.T) {
	store := newTestStore(t)
	result := store.GetDetailed("missing")
	if result.Status != "not_found" {
		t.Errorf("status = %q, want not_found", result.Status)
	}
}

func TestGetDetailedCorrupted(t *testing.T) {
	store := newTestStore(t)
	if err := writeRawJob(store, "bad", `{"jobId":"bad","status":"pending","extraField":"nope"}`); err != nil {
		t.Fatal(err)
	}
	result := store.GetDetailed("bad")
	if result.Status != "corrupted" {
		t.Errorf("status = %q, want corrupted", result.Status)
	}
}

func writeRawJob(store *Store, jobID, raw string) error {
	return os.WriteFile(store.jobPath(jobID), []byte(raw), 0o600)
}

func TestTryClaimTransitionsPendingToProcessing(t *testing.T) {
	store := newTestStore(t)
	store.Enqueue("job1", "https://example.com", 3)

	claimed, err := store.TryClaim("job1")
	if err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	if !claimed {
		t.Fatal("expected claim to succeed")
	}

	result := store.GetDetailed("job1")
	if result.Job.Status != StatusProcessing {
		t.Errorf("status = %q, want processing", result.Job.Status)
	}
}

func TestTryClaimFailsWhenNotPending(t *testing.T) {
	store := newTestStore(t)
	store.Enqueue("job1", "https://example.com", 3)
	store.TryClaim("job1")

	claimed, err := store.TryClaim("job1")
	if err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	if claimed {
		t.Fatal("expected second claim to fail")
	}
}

func TestMarkFailedRetriesThenTerminal(t *testing.T) {
	store := newTestStore(t)
	store.Enqueue("job1", "https://example.com", 2)
	store.TryClaim("job1")

	if err := store.MarkFailed("job1", errors.New("boom")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	result := store.GetDetailed("job1")
	if result.Job.Status != StatusPending || result.Job.Retries != 1 {
		t.Fatalf("unexpected state after first failure: %+v", result.Job)
	}

	store.TryClaim("job1")
	if err := store.MarkFailed("job1", errors.New("boom again")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	result = store.GetDetailed("job1")
	if result.Job.Status != StatusFailed {
		t.Fatalf("expected terminal failed, got %+v", result.Job)
	}
}

func TestMarkPendingNoRetryDoesNotConsumeRetry(t *testing.T) {
	store := newTestStore(t)
	store.Enqueue("job1", "https://example.com", 3)
	store.TryClaim("job1")

	if err := store.MarkPendingNoRetry("job1", errors.New("crawl still running")); err != nil {
		t.Fatalf("MarkPendingNoRetry: %v", err)
	}
	result := store.GetDetailed("job1")
	if result.Job.Status != StatusPending || result.Job.Retries != 0 {
		t.Fatalf("expected retries untouched, got %+v", result.Job)
	}
}

func TestMarkCompletedIsTerminal(t *testing.T) {
	store := newTestStore(t)
	store.Enqueue("job1", "https://example.com", 3)
	store.TryClaim("job1")

	if err := store.MarkCompleted("job1"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	result := store.GetDetailed("job1")
	if result.Job.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", result.Job.Status)
	}
}

func TestUpdateProgressBounds(t *testing.T) {
	store := newTestStore(t)
	store.Enqueue("job1", "https://example.com", 3)

	if err := store.UpdateProgress("job1", 10, 6, 2); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	result := store.GetDetailed("job1")
	if *result.Job.ProcessedDocuments != 6 || *result.Job.FailedDocuments != 2 || *result.Job.TotalDocuments != 10 {
		t.Fatalf("unexpected progress: %+v", result.Job)
	}
}

func TestGetPendingJobsExcludesExhaustedRetries(t *testing.T) {
	store := newTestStore(t)
	store.Enqueue("job1", "https://a", 1)
	store.TryClaim("job1")
	store.MarkFailed("job1", errors.New("boom")) // retries=1 >= maxRetries=1 -> failed

	store.Enqueue("job2", "https://b", 3)

	pending, err := store.GetPendingJobs()
	if err != nil {
		t.Fatalf("GetPendingJobs: %v", err)
	}
	if len(pending) != 1 || pending[0].JobID != "job2" {
		t.Fatalf("pending = %+v, want only job2", pending)
	}
}

func TestGetStuckProcessingJobs(t *testing.T) {
	store := newTestStore(t)
	store.Enqueue("job1", "https://a", 3)
	store.TryClaim("job1")

	stuck, err := store.GetStuckProcessingJobs(0)
	if err != nil {
		t.Fatalf("GetStuckProcessingJobs: %v", err)
	}
	if len(stuck) != 0 {
		t.Fatalf("expected no stuck jobs immediately after claim, got %+v", stuck)
	}

	result := store.GetDetailed("job1")
	result.Job.UpdatedAt = time.Now().UTC().Add(-10 * time.Minute)
	store.writeAtomic(result.Job)

	stuck, err = store.GetStuckProcessingJobs(defaultStuckProcessingAge)
	if err != nil {
		t.Fatalf("GetStuckProcessingJobs: %v", err)
	}
	if len(stuck) != 1 {
		t.Fatalf("expected 1 stuck job, got %d", len(stuck))
	}
}

func TestRecoverStuckJob(t *testing.T) {
	store := newTestStore(t)
	store.Enqueue("job1", "https://a", 3)
	store.TryClaim("job1")

	if err := store.RecoverStuckJob("job1"); err != nil {
		t.Fatalf("RecoverStuckJob: %v", err)
	}
	result := store.GetDetailed("job1")
	if result.Job.Status != StatusPending {
		t.Errorf("status = %q, want pending", result.Job.Status)
	}
}

func TestCleanupIrrecoverableFailed(t *testing.T) {
	store := newTestStore(t)
	store.Enqueue("job1", "https://a", 1)
	store.TryClaim("job1")
	store.MarkFailed("job1", errors.New("Job not found upstream"))

	deleted, err := store.CleanupIrrecoverableFailed()
	if err != nil {
		t.Fatalf("CleanupIrrecoverableFailed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	if store.GetDetailed("job1").Status != "not_found" {
		t.Error("expected job1 to be gone")
	}
}

func TestListSkipsCorrupted(t *testing.T) {
	store := newTestStore(t)
	store.Enqueue("job1", "https://a", 3)
	writeRawJob(store, "bad", `{"jobId":"bad","unexpectedField":true}`)

	jobs, skipped, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 || skipped != 1 {
		t.Fatalf("jobs=%d skipped=%d, want 1 and 1", len(jobs), skipped)
	}
}

func TestLooksPermanentlyFailed(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"job not found upstream", true},
		{"Job Not Found", true},
		{"crawl timed out", false},
	}
	for _, tc := range cases {
		if got := LooksPermanentlyFailed(tc.msg); got != tc.want {
			t.Errorf("LooksPermanentlyFailed(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
}
