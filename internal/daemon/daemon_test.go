package daemon

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/axon-embed/axon/internal/queue"
)

// TestHandleWebhook_BadContentType verifies a non-JSON content type is
// rejected before the body is read.
func TestHandleWebhook_BadContentType(t *testing.T) {
	t.Parallel()

	d, _ := newTestDaemon(t, &fakeCrawler{}, &fakeEmbedder{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/crawl", bytes.NewBufferString("<xml/>"))
	req.Header.Set("Content-Type", "text/xml")
	w := httptest.NewRecorder()

	d.handleWebhook(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

// TestHandleWebhook_UnparseablePayload verifies a body with no identifiable
// jobId is rejected with 400.
func TestHandleWebhook_UnparseablePayload(t *testing.T) {
	t.Parallel()

	d, _ := newTestDaemon(t, &fakeCrawler{}, &fakeEmbedder{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/crawl", bytes.NewBufferString(`{"status":"completed"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	d.handleWebhook(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

// TestHandleWebhook_Accepted verifies a well-formed payload is accepted
// with 202 and eventually processed asynchronously.
func TestHandleWebhook_Accepted(t *testing.T) {
	t.Parallel()

	embed := &fakeEmbedder{outcome: BatchOutcome{Succeeded: 1}}
	d, store := newTestDaemon(t, &fakeCrawler{}, embed)
	if _, err := store.Enqueue("job-async", "https://example.com", 3); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	body := `{"jobId":"job-async","status":"completed","data":[{"url":"https://example.com/a","markdown":"# A"}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/crawl", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	d.handleWebhook(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		result := store.GetDetailed("job-async")
		if result.Status == "found" && result.Job.Status == queue.StatusCompleted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job was not processed within deadline")
}

// TestHandlePayload_IgnoresUnknownJob verifies a payload for a job id not
// in the queue is silently dropped.
func TestHandlePayload_IgnoresUnknownJob(t *testing.T) {
	t.Parallel()

	d, _ := newTestDaemon(t, &fakeCrawler{}, &fakeEmbedder{})

	d.handlePayload(context.Background(), extractedPayload{JobID: "nonexistent", Status: "completed"})
}

// TestHandlePayload_AlreadyCompleted verifies a webhook for an
// already-completed job is a no-op.
func TestHandlePayload_AlreadyCompleted(t *testing.T) {
	t.Parallel()

	d, store := newTestDaemon(t, &fakeCrawler{}, &fakeEmbedder{})
	if _, err := store.Enqueue("job-done", "https://example.com", 3); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := store.MarkCompleted("job-done"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	d.handlePayload(context.Background(), extractedPayload{JobID: "job-done", Status: "completed"})

	result := store.GetDetailed("job-done")
	if result.Job.Status != queue.StatusCompleted {
		t.Errorf("expected job to remain completed, got %v", result.Job.Status)
	}
}

// TestHandlePayload_FailedStatus verifies a failed-status webhook
// permanently fails the job without touching the crawler or embedder.
func TestHandlePayload_FailedStatus(t *testing.T) {
	t.Parallel()

	d, store := newTestDaemon(t, &fakeCrawler{}, &fakeEmbedder{})
	if _, err := store.Enqueue("job-fail", "https://example.com", 3); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	d.handlePayload(context.Background(), extractedPayload{JobID: "job-fail", Status: "failed"})

	result := store.GetDetailed("job-fail")
	if result.Job.Status != queue.StatusFailed || result.Job.Retries != result.Job.MaxRetries {
		t.Errorf("expected permanently failed job, got %+v", result.Job)
	}
}
