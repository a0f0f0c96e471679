package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/axon-embed/axon/internal/queue"
	"github.com/axon-embed/axon/internal/scrapeapi"
)

// progressFlushEvery throttles UpdateProgress disk writes during a batch
// (spec §4.5.7 step 8).
const progressFlushEvery = 10

// backoffBase and backoffMax bound the exponential-backoff figure computed
// purely for operator-facing logs on MarkFailed — the actual retry
// scheduling is driven by the sweeper's next stale-pending sweep, not a
// timer owned by this function.
const (
	backoffBase = 5 * time.Second
	backoffMax  = 10 * time.Minute
)

// processOne implements spec §4.5.7: claim, resolve config, fetch crawl
// status (or use webhook-supplied pages), embed, and settle the job's
// terminal/deferred state. webhookPages is nil when called from the
// sweeper, in which case processOne always re-fetches via the crawler.
func (d *Daemon) processOne(ctx context.Context, jobID string, webhookPages []scrapeapi.Page) {
	start := time.Now()
	log := d.log.With(slog.String("job_id", jobID))

	claimed, err := d.store.TryClaim(jobID)
	if err != nil {
		log.Error("daemon: claim job", slog.Any("error", err))
		return
	}
	if !claimed {
		return
	}

	defer func() {
		d.metrics.jobProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	if d.cfg.TEIURL == "" || d.cfg.QdrantURL == "" {
		log.Error("daemon: missing TEI or Qdrant URL, config error")
		if err := d.store.MarkConfigError(jobID, errors.New("TEI_URL or QDRANT_URL not configured")); err != nil {
			log.Error("daemon: mark config error", slog.Any("error", err))
		}
		d.metrics.jobsProcessedTotal.WithLabelValues("config_error").Inc()
		return
	}

	pages := webhookPages
	status := "completed"
	if pages == nil {
		crawlStatus, err := d.crawler.GetCrawlStatus(ctx, jobID)
		if err != nil {
			d.settleError(jobID, err, log)
			return
		}
		status = crawlStatus.Status
		pages = crawlStatus.Pages
	}

	switch status {
	case "failed", "cancelled":
		d.settleError(jobID, fmt.Errorf("Crawl %s, cannot embed", status), log)
		return
	case "completed":
		// fall through to embedding below.
	default:
		if err := d.store.MarkPendingNoRetry(jobID, fmt.Errorf("Crawl still %s", status)); err != nil {
			log.Error("daemon: mark pending (deferred)", slog.Any("error", err))
		}
		return
	}

	if len(pages) == 0 {
		if err := d.store.UpdateProgress(jobID, 0, 0, 0); err != nil {
			log.Warn("daemon: update zero progress", slog.Any("error", err))
		}
		if err := d.store.MarkCompleted(jobID); err != nil {
			log.Error("daemon: mark completed (no pages)", slog.Any("error", err))
			return
		}
		d.metrics.jobsProcessedTotal.WithLabelValues("completed").Inc()
		return
	}

	items := buildBatchItems(pages)
	total := len(items)

	done := 0
	outcome := d.embed.BatchEmbedItems(ctx, items, 0, func(current, _ int) {
		done = current
		if done%progressFlushEvery == 0 || done == total {
			if err := d.store.UpdateProgress(jobID, total, current, 0); err != nil {
				log.Warn("daemon: progress update", slog.Any("error", err))
			}
		}
	})

	if err := d.store.UpdateProgress(jobID, total, outcome.Succeeded, outcome.Failed); err != nil {
		log.Warn("daemon: final progress update", slog.Any("error", err))
	}

	if err := d.store.MarkCompleted(jobID); err != nil {
		log.Error("daemon: mark completed", slog.Any("error", err))
		return
	}

	log.Info("daemon: job completed",
		slog.Int("succeeded", outcome.Succeeded),
		slog.Int("failed", outcome.Failed),
		slog.Any("errors", outcome.Errors),
	)
	d.metrics.jobsProcessedTotal.WithLabelValues("completed").Inc()
}

// settleError classifies a processing error per spec §4.5.7 step 10 and
// applies the matching store transition.
func (d *Daemon) settleError(jobID string, cause error, log *slog.Logger) {
	var notFound *scrapeapi.JobNotFoundError
	switch {
	case errors.As(cause, &notFound) || queue.LooksPermanentlyFailed(cause.Error()):
		if err := d.store.MarkPermanentFailed(jobID, cause); err != nil {
			log.Error("daemon: mark permanent failed", slog.Any("error", err))
		}
		d.metrics.jobsProcessedTotal.WithLabelValues("failed").Inc()
	default:
		result := d.store.GetDetailed(jobID)
		retries := 0
		if result.Job != nil {
			retries = result.Job.Retries
		}
		backoff := computeBackoff(retries)
		log.Warn("daemon: job failed, will retry per sweeper",
			slog.Any("error", cause),
			slog.Duration("next_backoff_hint", backoff),
		)
		if err := d.store.MarkFailed(jobID, cause); err != nil {
			log.Error("daemon: mark failed", slog.Any("error", err))
		}
		d.metrics.jobsProcessedTotal.WithLabelValues("deferred").Inc()
	}
}

// computeBackoff returns min(base * 2^retries, max) — an operator-facing
// hint only; the sweeper, not a timer here, decides when a job is retried.
func computeBackoff(retries int) time.Duration {
	factor := math.Pow(2, float64(retries))
	d := time.Duration(float64(backoffBase) * factor)
	if d > backoffMax {
		return backoffMax
	}
	return d
}

// buildBatchItems converts crawl pages into embed items, skipping pages
// with no content and preferring markdown over HTML (spec §4.5.7 step 7).
func buildBatchItems(pages []scrapeapi.Page) []BatchItem {
	items := make([]BatchItem, 0, len(pages))
	for _, p := range pages {
		content := p.Markdown
		contentType := "markdown"
		if content == "" {
			content = p.HTML
			contentType = "html"
		}
		if content == "" {
			continue
		}

		docURL := p.SourceURL
		if docURL == "" {
			docURL = p.URL
		}
		if docURL == "" && p.Metadata != nil {
			if v, ok := p.Metadata["sourceURL"].(string); ok && v != "" {
				docURL = v
			} else if v, ok := p.Metadata["url"].(string); ok {
				docURL = v
			}
		}

		title := p.Title
		if title == "" && p.Metadata != nil {
			if v, ok := p.Metadata["title"].(string); ok {
				title = v
			}
		}

		items = append(items, BatchItem{Content: content, URL: docURL, Title: title, ContentType: contentType})
	}
	return items
}
