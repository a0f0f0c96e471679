// Package pipeline implements the embed pipeline: given raw scraped content
// and its metadata, chunk it, embed the chunks, delete any existing points
// for the same URL, and upsert the fresh ones. It also exposes a batch form
// that runs many items concurrently with per-item success/failure
// accounting.
package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/axon-embed/axon/internal/chunker"
	"github.com/axon-embed/axon/internal/tei"
	"github.com/axon-embed/axon/internal/vectorstore"
)

// DefaultConcurrency is the default number of items batchEmbed processes in
// parallel.
const DefaultConcurrency = 10

// maxErrors bounds how many error messages batchEmbed retains.
const maxErrors = 10

// Embedder is the subset of the TEI client the pipeline depends on. Defined
// here so tests can substitute a fake without a live TEI instance.
type Embedder interface {
	GetInfo(ctx context.Context) (tei.Info, error)
	EmbedChunks(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the subset of the vector store the pipeline depends on. Defined
// here so tests can substitute a fake without a live Qdrant instance.
type Store interface {
	EnsureCollection(ctx context.Context, name string, dim uint64) error
	DeleteByURL(ctx context.Context, collection, url string) error
	UpsertPoints(ctx context.Context, collection string, points []vectorstore.Point) error
}

// Metadata describes one document to embed. URL is required; the rest are
// optional and, where absent, fall back to the zero value documented per
// field.
type Metadata struct {
	URL           string
	Title         string
	SourceCommand string
	ContentType   string
	// ScrapedAt is stamped onto every point's payload. Callers that know the
	// original crawl time should set it; otherwise autoEmbedInternal fills
	// in the processing time.
	ScrapedAt time.Time
	Extra     map[string]any
}

// Pipeline orchestrates chunk → embed → delete-by-url → upsert for a single
// Qdrant collection.
type Pipeline struct {
	tei        Embedder
	store      Store
	collection string
}

// New constructs a Pipeline writing into the given collection.
func New(embedder Embedder, store Store, collection string) *Pipeline {
	return &Pipeline{tei: embedder, store: store, collection: collection}
}

// AutoEmbed runs the single-item contract: chunk, embed, delete-by-url,
// upsert. Any error encountered is logged via errLog (if non-nil) and
// swallowed — this method never returns an error, so fire-and-forget
// callers are never interrupted by a transient upstream failure.
func (p *Pipeline) AutoEmbed(ctx context.Context, content string, meta Metadata, errLog func(error)) {
	if err := p.autoEmbedInternal(ctx, content, meta); err != nil {
		if errLog != nil {
			errLog(err)
		}
	}
}

// autoEmbedInternal is the throwing form used internally by AutoEmbed and by
// BatchEmbed (which needs to observe and count the error).
func (p *Pipeline) autoEmbedInternal(ctx context.Context, content string, meta Metadata) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	info, err := p.tei.GetInfo(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: get TEI info: %w", err)
	}

	if err := p.store.EnsureCollection(ctx, p.collection, uint64(info.Dimension)); err != nil {
		return fmt.Errorf("pipeline: ensure collection: %w", err)
	}

	chunks := chunker.Chunk(content)
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := p.tei.EmbedChunks(ctx, texts)
	if err != nil {
		return fmt.Errorf("pipeline: embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("pipeline: embed returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	if err := p.store.DeleteByURL(ctx, p.collection, meta.URL); err != nil {
		return fmt.Errorf("pipeline: delete existing points for %s: %w", meta.URL, err)
	}

	if meta.ScrapedAt.IsZero() {
		meta.ScrapedAt = time.Now().UTC()
	}
	points := buildPoints(chunks, vectors, meta)

	if err := p.store.UpsertPoints(ctx, p.collection, points); err != nil {
		return fmt.Errorf("pipeline: upsert points for %s: %w", meta.URL, err)
	}

	return nil
}

// buildPoints assembles QdrantPoints from chunks and their vectors, merging
// extra metadata without letting it override the core payload fields.
func buildPoints(chunks []chunker.Piece, vectors [][]float32, meta Metadata) []vectorstore.Point {
	domain := domainOf(meta.URL)
	total := len(chunks)

	points := make([]vectorstore.Point, 0, len(chunks))
	for i, c := range chunks {
		payload := map[string]any{}
		for k, v := range meta.Extra {
			payload[k] = v
		}
		payload["url"] = meta.URL
		payload["title"] = meta.Title
		payload["domain"] = domain
		payload["chunk_index"] = int64(i)
		payload["chunk_text"] = c.Text
		payload["chunk_header"] = c.Header
		payload["total_chunks"] = int64(total)
		payload["source_command"] = meta.SourceCommand
		payload["content_type"] = meta.ContentType
		payload["scraped_at"] = meta.ScrapedAt.Format(time.RFC3339)

		points = append(points, vectorstore.Point{
			ID:      uuid.NewString(),
			Vector:  vectors[i],
			Payload: payload,
		})
	}
	return points
}

// domainOf returns the host component of rawURL, or "unknown" if it fails to parse.
func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Hostname()
}

// Item is one unit of work for BatchEmbed.
type Item struct {
	Content  string
	Metadata Metadata
}

// BatchResult summarizes a BatchEmbed run.
type BatchResult struct {
	Succeeded int
	Failed    int
	Errors    []string
}

// BatchOptions configures BatchEmbed.
type BatchOptions struct {
	// Concurrency bounds how many items run autoEmbedInternal at once.
	// Defaults to DefaultConcurrency if zero.
	Concurrency int
	// OnProgress, if set, is called after each item settles with the
	// (current, total) count. Persistence throttling is the caller's
	// responsibility.
	OnProgress func(current, total int)
}

// BatchEmbed runs the throwing autoEmbedInternal form for every item with a
// semaphore limited to opts.Concurrency. It never returns an error: failures
// are counted and the first maxErrors messages ("{url}: {msg}") are
// retained. Returns once every item has settled.
func (p *Pipeline) BatchEmbed(ctx context.Context, items []Item, opts BatchOptions) BatchResult {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	result := BatchResult{}
	done := 0
	total := len(items)

	for _, item := range items {
		wg.Add(1)
		go func(item Item) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			err := p.autoEmbedInternal(ctx, item.Content, item.Metadata)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				if len(result.Errors) < maxErrors {
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", item.Metadata.URL, err.Error()))
				}
			} else {
				result.Succeeded++
			}
			done++
			if opts.OnProgress != nil {
				opts.OnProgress(done, total)
			}
		}(item)
	}

	wg.Wait()
	return result
}
