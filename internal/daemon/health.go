package daemon

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// healthResponse is the JSON body for GET /health.
type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// handleHealth serves the unauthenticated liveness probe.
func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok", Service: "embedder-daemon"})
}

// statusResponse is the JSON body for GET /status.
type statusResponse struct {
	WebhookConfigured bool  `json:"webhookConfigured"`
	PollingIntervalMs int64 `json:"pollingIntervalMs"`
	StaleThresholdMs  int64 `json:"staleThresholdMs"`
	PendingJobs       int   `json:"pendingJobs"`
	ProcessingJobs    int   `json:"processingJobs"`
}

// handleStatus serves the authenticated operational status endpoint.
func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobs, _, err := d.store.List()
	if err != nil {
		logFrom(r).Error("daemon: list jobs for /status", slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var pending, processing int
	for _, j := range jobs {
		switch j.Status {
		case "pending":
			pending++
		case "processing":
			processing++
		}
	}
	d.metrics.queueDepth.WithLabelValues("pending").Set(float64(pending))
	d.metrics.queueDepth.WithLabelValues("processing").Set(float64(processing))

	resp := statusResponse{
		WebhookConfigured: d.webhookConfigured,
		PollingIntervalMs: d.cfg.SweepInterval.Milliseconds(),
		StaleThresholdMs:  d.cfg.StaleAfter.Milliseconds(),
		PendingJobs:       pending,
		ProcessingJobs:    processing,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
