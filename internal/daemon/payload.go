package daemon

import (
	"encoding/json"
	"strings"

	"github.com/axon-embed/axon/internal/scrapeapi"
)

// extractedPayload is the tolerant, concrete result of parsing an inbound
// webhook body. The crawl backend's payload shape is not fixed across
// event types, so extraction looks in several places for each field rather
// than assuming one schema.
type extractedPayload struct {
	JobID  string
	Status string // "", "completed", "failed", "cancelled"
	Pages  []scrapeapi.Page
}

// rawPayload is a loosely-typed view over the webhook body sufficient to
// probe every shape the backend is known to send.
type rawPayload struct {
	JobID  string          `json:"jobId"`
	ID     string          `json:"id"`
	Event  string          `json:"event"`
	Type   string          `json:"type"`
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Crawl  json.RawMessage `json:"crawl"`
}

type rawNested struct {
	JobID  string           `json:"jobId"`
	ID     string           `json:"id"`
	Status string           `json:"status"`
	Data   []scrapeapi.Page `json:"data"`
}

// extractJobInfo parses body into an extractedPayload, looking for jobId at
// the top level or under data/crawl, status either explicit or inferred
// from an event/type substring, and pages under data, data.data, or
// crawl.data. Returns ok=false if no jobId could be found anywhere — such a
// payload is dropped by the caller.
func extractJobInfo(body []byte) (extractedPayload, bool) {
	var raw rawPayload
	if err := json.Unmarshal(body, &raw); err != nil {
		return extractedPayload{}, false
	}

	out := extractedPayload{
		JobID:  firstNonEmpty(raw.JobID, raw.ID),
		Status: raw.Status,
	}

	var dataNested rawNested
	if len(raw.Data) > 0 {
		_ = json.Unmarshal(raw.Data, &dataNested)
		if out.JobID == "" {
			out.JobID = firstNonEmpty(dataNested.JobID, dataNested.ID)
		}
		if out.Status == "" {
			out.Status = dataNested.Status
		}
		if len(dataNested.Data) > 0 {
			out.Pages = dataNested.Data
		} else {
			var pages []scrapeapi.Page
			if err := json.Unmarshal(raw.Data, &pages); err == nil && len(pages) > 0 {
				out.Pages = pages
			}
		}
	}

	var crawlNested rawNested
	if len(raw.Crawl) > 0 {
		_ = json.Unmarshal(raw.Crawl, &crawlNested)
		if out.JobID == "" {
			out.JobID = firstNonEmpty(crawlNested.JobID, crawlNested.ID)
		}
		if out.Status == "" {
			out.Status = crawlNested.Status
		}
		if len(out.Pages) == 0 && len(crawlNested.Data) > 0 {
			out.Pages = crawlNested.Data
		}
	}

	if out.Status == "" {
		out.Status = statusFromEventString(firstNonEmpty(raw.Event, raw.Type))
	}

	if out.JobID == "" {
		return extractedPayload{}, false
	}

	return out, true
}

// statusFromEventString infers a crawl status from a free-form event/type
// string such as "crawl.completed" or "CRAWL_FAILED" by substring match.
func statusFromEventString(s string) string {
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "cancel"):
		return "cancelled"
	case strings.Contains(lower, "fail"):
		return "failed"
	case strings.Contains(lower, "complet"):
		return "completed"
	default:
		return ""
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
