package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/axon-embed/axon/internal/tei"
	"github.com/axon-embed/axon/internal/vectorstore"
)

type fakeEmbedder struct {
	info       tei.Info
	infoErr    error
	embedErr   error
	dimPerText int
}

func (f *fakeEmbedder) GetInfo(ctx context.Context) (tei.Info, error) {
	if f.infoErr != nil {
		return tei.Info{}, f.infoErr
	}
	return f.info, nil
}

func (f *fakeEmbedder) EmbedChunks(ctx context.Context, texts []string) ([][]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = make([]float32, f.info.Dimension)
	}
	return vectors, nil
}

type fakeStore struct {
	mu          sync.Mutex
	ensured     []string
	deletedURLs []string
	upserted    []vectorstore.Point
	ensureErr   error
	deleteErr   error
	upsertErr   error
}

func (f *fakeStore) EnsureCollection(ctx context.Context, name string, dim uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, name)
	return f.ensureErr
}

func (f *fakeStore) DeleteByURL(ctx context.Context, collection, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedURLs = append(f.deletedURLs, url)
	return f.deleteErr
}

func (f *fakeStore) UpsertPoints(ctx context.Context, collection string, points []vectorstore.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, points...)
	return f.upsertErr
}

func TestAutoEmbedEmptyContentIsNoop(t *testing.T) {
	store := &fakeStore{}
	p := New(&fakeEmbedder{info: tei.Info{Dimension: 3}}, store, "docs")

	var gotErr error
	p.AutoEmbed(context.Background(), "   \n  ", Metadata{URL: "https://a/b"}, func(err error) { gotErr = err })

	if gotErr != nil {
		t.Fatalf("expected no error logged, got %v", gotErr)
	}
	if len(store.ensured) != 0 {
		t.Error("expected EnsureCollection not called for empty content")
	}
}

func TestAutoEmbedBuildsExpectedPoints(t *testing.T) {
	store := &fakeStore{}
	p := New(&fakeEmbedder{info: tei.Info{Dimension: 3}}, store, "docs")

	p.AutoEmbed(context.Background(), "# A\n\nfoo\n\n## B\n\nbar", Metadata{
		URL:           "https://a/b",
		SourceCommand: "crawl",
		ContentType:   "markdown",
	}, func(err error) { t.Fatalf("unexpected error: %v", err) })

	if len(store.ensured) != 1 || store.ensured[0] != "docs" {
		t.Fatalf("ensured = %v", store.ensured)
	}
	if len(store.deletedURLs) != 1 || store.deletedURLs[0] != "https://a/b" {
		t.Fatalf("deletedURLs = %v", store.deletedURLs)
	}
	if len(store.upserted) == 0 {
		t.Fatal("expected points to be upserted")
	}
	for i, pt := range store.upserted {
		if pt.Payload["url"] != "https://a/b" {
			t.Errorf("point %d url = %v", i, pt.Payload["url"])
		}
		if pt.Payload["domain"] != "a" {
			t.Errorf("point %d domain = %v, want a", i, pt.Payload["domain"])
		}
		if pt.Payload["total_chunks"] != int64(len(store.upserted)) {
			t.Errorf("point %d total_chunks = %v, want %d", i, pt.Payload["total_chunks"], len(store.upserted))
		}
		if pt.Payload["chunk_index"] != int64(i) {
			t.Errorf("point %d chunk_index = %v, want %d", i, pt.Payload["chunk_index"], i)
		}
	}
}

func TestAutoEmbedSwallowsErrors(t *testing.T) {
	p := New(&fakeEmbedder{infoErr: errors.New("tei down")}, &fakeStore{}, "docs")

	var gotErr error
	p.AutoEmbed(context.Background(), "hello world", Metadata{URL: "https://a/b"}, func(err error) { gotErr = err })

	if gotErr == nil {
		t.Fatal("expected error to be logged")
	}
}

func TestDomainOfUnparsableURL(t *testing.T) {
	if got := domainOf("://not a url"); got != "unknown" {
		t.Errorf("domainOf = %q, want unknown", got)
	}
	if got := domainOf("https://example.com/path"); got != "example.com" {
		t.Errorf("domainOf = %q, want example.com", got)
	}
}

func TestBatchEmbedAggregatesSuccessAndFailure(t *testing.T) {
	calls := 0
	store := &fakeStore{}
	embedder := &failingEveryOtherEmbedder{good: tei.Info{Dimension: 2}}
	p := New(embedder, store, "docs")

	items := make([]Item, 5)
	for i := range items {
		items[i] = Item{Content: "hello", Metadata: Metadata{URL: "https://a/b"}}
	}

	progressCalls := 0
	result := p.BatchEmbed(context.Background(), items, BatchOptions{
		Concurrency: 2,
		OnProgress: func(current, total int) {
			calls++
			progressCalls++
			if total != len(items) {
				t.Errorf("total = %d, want %d", total, len(items))
			}
		},
	})

	if result.Succeeded+result.Failed != len(items) {
		t.Fatalf("succeeded+failed = %d, want %d", result.Succeeded+result.Failed, len(items))
	}
	if progressCalls != len(items) {
		t.Errorf("progress calls = %d, want %d", progressCalls, len(items))
	}
	if len(result.Errors) > maxErrors {
		t.Errorf("len(Errors) = %d, want <= %d", len(result.Errors), maxErrors)
	}
}

// failingEveryOtherEmbedder fails GetInfo on every other call to exercise
// BatchEmbed's failure accounting without relying on goroutine ordering.
type failingEveryOtherEmbedder struct {
	mu   sync.Mutex
	n    int
	good tei.Info
}

func (f *failingEveryOtherEmbedder) GetInfo(ctx context.Context) (tei.Info, error) {
	f.mu.Lock()
	f.n++
	n := f.n
	f.mu.Unlock()
	if n%2 == 0 {
		return tei.Info{}, errors.New("simulated failure")
	}
	return f.good, nil
}

func (f *failingEveryOtherEmbedder) EmbedChunks(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = make([]float32, f.good.Dimension)
	}
	return vectors, nil
}
