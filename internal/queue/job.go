// Package queue implements the durable, file-backed embed job queue: one
// JSON file per job under a queue directory, advisory-locked with an
// adjacent ".lock" file, mutated exclusively through a state machine that
// mirrors the crawl → embed lifecycle.
package queue

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// jobIDPattern is the only path-forming value accepted from outside the
// process; anything else is rejected to prevent path traversal.
var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidJobID reports whether id satisfies the job ID grammar.
func ValidJobID(id string) bool {
	return jobIDPattern.MatchString(id)
}

// Status is an EmbedJob's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// EmbedJob is the durable, on-disk job record. APIKey is in-memory only and
// is never marshalled — see marshalJob.
type EmbedJob struct {
	JobID  string `json:"jobId"`
	URL    string `json:"url"`
	Status Status `json:"status"`

	Retries    int `json:"retries"`
	MaxRetries int `json:"maxRetries"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	LastError string `json:"lastError,omitempty"`

	TotalDocuments    *int       `json:"totalDocuments,omitempty"`
	ProcessedDocuments *int      `json:"processedDocuments,omitempty"`
	FailedDocuments   *int       `json:"failedDocuments,omitempty"`
	ProgressUpdatedAt *time.Time `json:"progressUpdatedAt,omitempty"`

	// APIKey is never persisted. json:"-" enforces this at the encoding
	// layer in addition to the explicit strip in withJobLock's write path.
	APIKey string `json:"-"`
}

// Validate checks the invariants §3 requires of a job record: jobId
// grammar, retries bounds, and progress-counter bounds. A job failing
// Validate is treated as corrupted by its caller.
func (j *EmbedJob) Validate() error {
	if !ValidJobID(j.JobID) {
		return fmt.Errorf("queue: invalid jobId %q", j.JobID)
	}
	switch j.Status {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
	default:
		return fmt.Errorf("queue: invalid status %q", j.Status)
	}
	if j.Retries < 0 || j.Retries > j.MaxRetries {
		return fmt.Errorf("queue: retries %d out of bounds [0,%d]", j.Retries, j.MaxRetries)
	}
	if j.TotalDocuments != nil && j.ProcessedDocuments != nil && j.FailedDocuments != nil {
		if *j.ProcessedDocuments+*j.FailedDocuments > *j.TotalDocuments {
			return fmt.Errorf("queue: processed+failed documents exceed total")
		}
	}
	return nil
}

// marshalJob is the on-disk shape. A distinct type (rather than EmbedJob's
// own json tags) keeps the strict-schema guarantee explicit: only these
// fields are ever written, and APIKey never appears even by accident.
type marshalJob struct {
	JobID              string     `json:"jobId"`
	URL                string     `json:"url"`
	Status             Status     `json:"status"`
	Retries            int        `json:"retries"`
	MaxRetries         int        `json:"maxRetries"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	LastError          string     `json:"lastError,omitempty"`
	TotalDocuments     *int       `json:"totalDocuments,omitempty"`
	ProcessedDocuments *int       `json:"processedDocuments,omitempty"`
	FailedDocuments    *int       `json:"failedDocuments,omitempty"`
	ProgressUpdatedAt  *time.Time `json:"progressUpdatedAt,omitempty"`
}

func (j *EmbedJob) toDisk() marshalJob {
	return marshalJob{
		JobID: j.JobID, URL: j.URL, Status: j.Status,
		Retries: j.Retries, MaxRetries: j.MaxRetries,
		CreatedAt: j.CreatedAt, UpdatedAt: j.UpdatedAt,
		LastError:          j.LastError,
		TotalDocuments:     j.TotalDocuments,
		ProcessedDocuments: j.ProcessedDocuments,
		FailedDocuments:    j.FailedDocuments,
		ProgressUpdatedAt:  j.ProgressUpdatedAt,
	}
}

func fromDisk(raw []byte) (*EmbedJob, error) {
	var strict map[string]json.RawMessage
	if err := json.Unmarshal(raw, &strict); err != nil {
		return nil, fmt.Errorf("queue: parse job json: %w", err)
	}
	for key := range strict {
		if !allowedJobKeys[key] {
			return nil, fmt.Errorf("queue: unexpected field %q in job record", key)
		}
	}

	var disk marshalJob
	if err := json.Unmarshal(raw, &disk); err != nil {
		return nil, fmt.Errorf("queue: decode job: %w", err)
	}

	job := &EmbedJob{
		JobID: disk.JobID, URL: disk.URL, Status: disk.Status,
		Retries: disk.Retries, MaxRetries: disk.MaxRetries,
		CreatedAt: disk.CreatedAt, UpdatedAt: disk.UpdatedAt,
		LastError:          disk.LastError,
		TotalDocuments:     disk.TotalDocuments,
		ProcessedDocuments: disk.ProcessedDocuments,
		FailedDocuments:    disk.FailedDocuments,
		ProgressUpdatedAt:  disk.ProgressUpdatedAt,
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

var allowedJobKeys = map[string]bool{
	"jobId": true, "url": true, "status": true,
	"retries": true, "maxRetries": true,
	"createdAt": true, "updatedAt": true,
	"lastError": true,
	"totalDocuments": true, "processedDocuments": true,
	"failedDocuments": true, "progressUpdatedAt": true,
}

// NewJob constructs a fresh pending job with retries=0.
func NewJob(jobID, url string, maxRetries int) *EmbedJob {
	now := time.Now().UTC()
	return &EmbedJob{
		JobID: jobID, URL: url, Status: StatusPending,
		Retries: 0, MaxRetries: maxRetries,
		CreatedAt: now, UpdatedAt: now,
	}
}

func intPtr(v int) *int { return &v }
