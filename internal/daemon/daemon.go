package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/axon-embed/axon/internal/logging"
	"github.com/axon-embed/axon/internal/queue"
)

// Defaults per spec §6/§4.5.
const (
	defaultPort           = 53000
	defaultWebhookPath    = "/webhooks/crawl"
	defaultStaleAfter     = 10 * time.Minute
	defaultCleanupHorizon = 24 * time.Hour
	defaultSweepFloor     = 60 * time.Second
	// maxWebhookBodyBytes caps the inbound webhook body (spec §4.5.5).
	maxWebhookBodyBytes = 10 << 20
)

// New constructs a Daemon bound to store, crawler, and embed pipeline.
// If cfg.Secret is empty a fresh secret is generated and returned via
// Daemon.Secret so the caller can log it once.
func New(store *queue.Store, crawler Crawler, embed Embedder, cfg Config) (*Daemon, error) {
	if store == nil {
		return nil, fmt.Errorf("daemon: store must not be nil")
	}
	if crawler == nil {
		return nil, fmt.Errorf("daemon: crawler must not be nil")
	}
	if embed == nil {
		return nil, fmt.Errorf("daemon: embed pipeline must not be nil")
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = defaultWebhookPath
	}
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.CleanupHorizon == 0 {
		cfg.CleanupHorizon = defaultCleanupHorizon
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = cfg.StaleAfter / 2
		if cfg.SweepInterval < defaultSweepFloor {
			cfg.SweepInterval = defaultSweepFloor
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}

	host := "127.0.0.1"
	if cfg.BindAddress == "0.0.0.0" {
		host = "0.0.0.0"
	}
	if cfg.Host != "" {
		host = cfg.Host
	}
	cfg.Host = host

	secret := cfg.Secret
	webhookConfigured := secret != ""
	if secret == "" {
		generated, err := generateSecret()
		if err != nil {
			return nil, err
		}
		secret = generated
	}

	d := &Daemon{
		cfg:               cfg,
		log:               cfg.Logger,
		store:             store,
		crawler:           crawler,
		embed:             embed,
		metrics:           newMetrics(cfg.Registerer),
		secret:            secret,
		webhookConfigured: webhookConfigured,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", d.handleHealth)
	mux.HandleFunc("GET /status", requireSecret(d.secret, d.handleStatus))

	rl, stopRL := newRateLimiter(defaultWebhookRPS, defaultWebhookBurst, d.log)
	d.stopRL = stopRL
	mux.HandleFunc("POST "+cfg.WebhookPath, rl.middleware(requireSecret(d.secret, d.handleWebhook)))

	d.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: requestLogger(d.log, mux),
	}

	return d, nil
}

// Secret returns the webhook shared secret in effect — either the
// configured value or the one generated at construction time.
func (d *Daemon) Secret() string { return d.secret }

// Start runs the daemon's full lifecycle: startup cleanup, HTTP ingress,
// and the periodic sweeper. It blocks until ctx is cancelled, then performs
// a graceful shutdown, closing the HTTP server and stopping the sweeper.
// In-flight webhook-triggered processing is not drained — see spec §5.
func (d *Daemon) Start(ctx context.Context) error {
	deleted, err := d.store.CleanupOlderThan(d.cfg.CleanupHorizon)
	if err != nil {
		d.log.Error("daemon: startup cleanup failed", slog.Any("error", err))
	} else if deleted > 0 {
		d.log.Info("daemon: startup cleanup", slog.Int("deleted", deleted))
	}

	errCh := make(chan error, 1)
	go func() {
		d.log.Info("daemon: webhook listening",
			slog.String("addr", d.httpServer.Addr),
			slog.String("path", d.cfg.WebhookPath),
			slog.Bool("secret_configured", d.webhookConfigured),
		)
		if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		d.runSweeper(sweepCtx)
	}()

	select {
	case err := <-errCh:
		cancelSweep()
		<-sweepDone
		return fmt.Errorf("daemon: webhook server: %w", err)
	case <-ctx.Done():
		cancelSweep()
		<-sweepDone

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if d.stopRL != nil {
			d.stopRL()
		}
		if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("daemon: shutdown: %w", err)
		}
		return nil
	}
}

// handleWebhook is POST <webhook-path>. It validates the body size and
// content type, extracts job info tolerant of several payload shapes, and
// dispatches processing asynchronously — returning 202 before processing
// completes (spec §4.5.5/§5).
func (d *Daemon) handleWebhook(w http.ResponseWriter, r *http.Request) {
	log := logFrom(r)

	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		d.metrics.webhookRequestsTotal.WithLabelValues("bad_request").Inc()
		http.Error(w, "expected application/json", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		d.metrics.webhookRequestsTotal.WithLabelValues("bad_request").Inc()
		http.Error(w, "request body too large or unreadable", http.StatusBadRequest)
		return
	}

	payload, ok := extractJobInfo(body)
	if !ok {
		log.Warn("daemon: webhook payload unparseable or missing jobId")
		d.metrics.webhookRequestsTotal.WithLabelValues("bad_request").Inc()
		http.Error(w, "invalid or incomplete payload", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	d.metrics.webhookRequestsTotal.WithLabelValues("accepted").Inc()

	go d.handlePayload(context.Background(), payload)
}

// handlePayload applies the webhook's semantics: ignore unknown/completed
// jobs, terminally fail failed/cancelled crawls, and run processing for
// completed ones using the webhook's own pages when present.
func (d *Daemon) handlePayload(ctx context.Context, payload extractedPayload) {
	log := d.log.With(slog.String("job_id", payload.JobID))

	result := d.store.GetDetailed(payload.JobID)
	if result.Status != "found" {
		log.Info("daemon: webhook for unknown or corrupted job, ignoring", slog.String("status", result.Status))
		return
	}
	if result.Job.Status == queue.StatusCompleted {
		log.Info("daemon: webhook for already-completed job, ignoring")
		return
	}

	switch payload.Status {
	case "failed", "cancelled":
		if err := d.store.MarkPermanentFailed(payload.JobID, fmt.Errorf("Crawl %s", payload.Status)); err != nil {
			log.Error("daemon: mark permanent failed", slog.Any("error", err))
		}
		d.metrics.jobsProcessedTotal.WithLabelValues("failed").Inc()
		return
	case "completed":
		d.processOne(ctx, payload.JobID, payload.Pages)
	default:
		log.Debug("daemon: webhook status not terminal, leaving to sweeper", slog.String("status", payload.Status))
	}
}

// logFrom returns the request-scoped logger stamped by requestLogger.
func logFrom(r *http.Request) *slog.Logger {
	return logging.FromContext(r.Context())
}
