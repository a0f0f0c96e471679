// Package scrapeapi implements a thin client for the external scraping
// service: starting a crawl and polling its status. It follows the same
// small-HTTP-client-struct shape as internal/tei.
package scrapeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// defaultTimeout bounds every request this client makes.
const defaultTimeout = 30 * time.Second

// Page is one crawled document, as returned by the scraping API and by
// webhook payloads.
type Page struct {
	URL       string         `json:"url"`
	SourceURL string         `json:"sourceURL,omitempty"`
	Title     string         `json:"title,omitempty"`
	Markdown  string         `json:"markdown,omitempty"`
	HTML      string         `json:"html,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// CrawlStatus is the current state of a crawl job.
type CrawlStatus struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"` // pending, processing, completed, failed, cancelled
	Pages  []Page `json:"pages,omitempty"`
}

// Client talks to a single scraping API instance.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New constructs a Client for the given scraping API base URL. apiKey, if
// non-empty, is sent in-memory only on every request — it is never logged
// or persisted by this package.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// StartCrawlRequest describes a crawl to start.
type StartCrawlRequest struct {
	URL   string `json:"url"`
	Limit int    `json:"limit,omitempty"`
}

// StartCrawl begins a crawl and returns its job id.
func (c *Client) StartCrawl(ctx context.Context, req StartCrawlRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("scrapeapi: marshal start-crawl request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/crawl", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("scrapeapi: build start-crawl request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("scrapeapi: start crawl: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{Op: "startCrawl", StatusCode: resp.StatusCode}
	}

	var parsed struct {
		JobID string `json:"jobId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("scrapeapi: decode start-crawl response: %w", err)
	}
	return parsed.JobID, nil
}

// rawCrawlStatus is the wire shape documented in spec §6:
// getCrawlStatus(id) → {id, status, ..., data?: Document[]}. jobId/pages
// are also accepted, tolerantly, since backends have been seen to use
// either naming — the same tolerance the webhook payload extractor applies.
type rawCrawlStatus struct {
	ID     string `json:"id"`
	JobID  string `json:"jobId"`
	Status string `json:"status"`
	Data   []Page `json:"data"`
	Pages  []Page `json:"pages"`
}

// GetCrawlStatus polls the scraping API for a crawl's current status and pages.
func (c *Client) GetCrawlStatus(ctx context.Context, jobID string) (*CrawlStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/crawl/"+jobID, nil)
	if err != nil {
		return nil, fmt.Errorf("scrapeapi: build status request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("scrapeapi: get crawl status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &JobNotFoundError{JobID: jobID}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Op: "getCrawlStatus", StatusCode: resp.StatusCode}
	}

	var raw rawCrawlStatus
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("scrapeapi: decode crawl status: %w", err)
	}

	pages := raw.Data
	if len(pages) == 0 {
		pages = raw.Pages
	}

	return &CrawlStatus{
		JobID:  firstNonEmpty(raw.ID, raw.JobID, jobID),
		Status: raw.Status,
		Pages:  pages,
	}, nil
}

// firstNonEmpty returns the first non-empty string among vals.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (c *Client) setHeaders(r *http.Request) {
	r.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		r.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// StatusError reports a non-2xx, non-404 response from the scraping API.
type StatusError struct {
	Op         string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("scrapeapi: %s failed: status %d", e.Op, e.StatusCode)
}

// JobNotFoundError reports that the scraping API has no record of a job —
// the classifier the queue sweeper uses to purge irrecoverable failed jobs.
type JobNotFoundError struct {
	JobID string
}

func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("scrapeapi: job not found: %s", e.JobID)
}
