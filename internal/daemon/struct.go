package daemon

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/axon-embed/axon/internal/queue"
	"github.com/axon-embed/axon/internal/scrapeapi"
)

// Embedder is the subset of the embed pipeline the daemon depends on.
// Defined here so tests can inject a fake without live TEI/Qdrant.
type Embedder interface {
	BatchEmbedItems(ctx context.Context, items []BatchItem, concurrency int, onProgress func(current, total int)) BatchOutcome
}

// BatchItem is one document to embed, in the shape processOne builds from
// a crawl page.
type BatchItem struct {
	Content     string
	URL         string
	Title       string
	ContentType string // "markdown" or "html"
}

// BatchOutcome mirrors pipeline.BatchResult; declared locally to keep this
// package's dependency surface to interfaces only.
type BatchOutcome struct {
	Succeeded int
	Failed    int
	Errors    []string
}

// Crawler is the subset of the scraping API client the daemon depends on.
type Crawler interface {
	GetCrawlStatus(ctx context.Context, jobID string) (*scrapeapi.CrawlStatus, error)
}

// Config configures a Daemon.
type Config struct {
	// Host is the address the webhook HTTP server binds to. Defaults to
	// 127.0.0.1; only the literal BindAddress "0.0.0.0" overrides this.
	Host string
	// BindAddress is the raw AXON_EMBEDDER_BIND_ADDRESS value. Only
	// "0.0.0.0" has any effect.
	BindAddress string
	// Port is the TCP port the webhook server listens on (default 53000).
	Port int
	// WebhookPath is the HTTP path the crawl backend POSTs completions to
	// (default "/webhooks/crawl").
	WebhookPath string
	// TEIURL and QdrantURL are recorded so processOne can detect a missing
	// backend configuration and mark the job as a config error rather than
	// retrying forever (spec §4.5.7 step 2). The actual HTTP/gRPC calls go
	// through Embedder, which already has these baked in at construction;
	// this is validation-only.
	TEIURL     string
	QdrantURL  string
	Collection string
	// Secret authenticates inbound requests. If empty, a secret is
	// generated at startup (see New).
	Secret string
	// StaleAfter is the age after which a pending job is considered stale
	// and reprocessed by the sweeper without waiting for a webhook.
	// Defaults to 10 minutes.
	StaleAfter time.Duration
	// CleanupHorizon is how long a completed/failed job is kept before the
	// startup cleanup pass deletes it. Defaults to 24 hours.
	CleanupHorizon time.Duration
	// SweepInterval overrides the sweeper tick period. Defaults to
	// max(60s, StaleAfter/2).
	SweepInterval time.Duration
	// Logger is the structured logger used by the daemon and its handlers.
	Logger *slog.Logger
	// Registerer is the Prometheus registerer metrics are registered
	// against. Defaults to prometheus.DefaultRegisterer when nil.
	Registerer prometheus.Registerer
}

// Daemon is the background embedding daemon: HTTP webhook ingress, periodic
// sweeper, and per-job processing. One Daemon owns one queue directory and
// one (TEI, Qdrant, scraping API) backend set.
type Daemon struct {
	cfg     Config
	log     *slog.Logger
	store   *queue.Store
	crawler Crawler
	embed   Embedder
	metrics *metrics

	httpServer *http.Server
	stopRL     func()

	webhookConfigured bool
	secret            string

	sweeperFailures int
}
