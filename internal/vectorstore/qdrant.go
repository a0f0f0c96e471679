// Package vectorstore implements the Qdrant-backed vector store client:
// collection lifecycle (create + payload indexes, memoized per name),
// point upsert, delete by url/domain/all, vector query, and scrolled
// pagination. It talks to Qdrant over the official gRPC client rather than
// the raw REST surface.
package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/qdrant/go-client/qdrant"
)

// collectionNamePattern matches the valid collection-name grammar. Enforced
// at every boundary that accepts a name from outside the process.
var collectionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidCollectionName reports whether name satisfies the collection naming grammar.
func ValidCollectionName(name string) bool {
	return collectionNamePattern.MatchString(name)
}

// payloadIndexFields are the keyword indexes every collection gets.
var payloadIndexFields = []string{"url", "domain", "source_command"}

// Point is a vector plus its payload, ready for upsert.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Config holds connection parameters for a Qdrant instance.
type Config struct {
	// Host is the Qdrant server hostname.
	Host string
	// Port is the Qdrant gRPC port (default 6334).
	Port int
	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string
	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// Store is a Qdrant-backed vector store client. Safe for concurrent use.
type Store struct {
	client *qdrant.Client

	mu          sync.Mutex
	collections *lru.Cache // name -> dimension (uint64)
}

// New constructs a Store connected to the given Qdrant instance.
func New(cfg Config) (*Store, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: failed to create client: %w", err)
	}

	cache, err := lru.New(100)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: failed to create collection cache: %w", err)
	}

	return &Store{client: client, collections: cache}, nil
}

// Close closes the underlying gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// CollectionDimensionMismatchError is returned when an existing collection's
// stored vector size does not match the dimension the caller asserts.
type CollectionDimensionMismatchError struct {
	Collection string
	Want, Got  int
}

func (e *CollectionDimensionMismatchError) Error() string {
	return fmt.Sprintf("vectorstore: collection %q dimension mismatch: want %d, got %d", e.Collection, e.Want, e.Got)
}

// IndexCreationError aggregates failures from creating the keyword payload
// indexes; every failing field is reported, not just the first.
type IndexCreationError struct {
	Failures map[string]error
}

func (e *IndexCreationError) Error() string {
	return fmt.Sprintf("vectorstore: failed to create %d payload index(es): %v", len(e.Failures), e.Failures)
}

// EnsureCollection creates the named collection with the given vector
// dimension if it does not exist, then ensures keyword payload indexes on
// {url, domain, source_command}. Successful checks are memoized in an LRU
// cache (capacity 100) so repeated calls for the same (name, dimension) are
// network-free. A call for a name whose stored dimension differs from dim
// fails with CollectionDimensionMismatchError.
func (s *Store) EnsureCollection(ctx context.Context, name string, dim uint64) error {
	if !ValidCollectionName(name) {
		return fmt.Errorf("vectorstore: invalid collection name %q", name)
	}

	s.mu.Lock()
	if cached, ok := s.collections.Get(name); ok {
		cachedDim := cached.(uint64)
		s.mu.Unlock()
		if cachedDim != dim {
			return &CollectionDimensionMismatchError{Collection: name, Want: int(dim), Got: int(cachedDim)}
		}
		return nil
	}
	s.mu.Unlock()

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("vectorstore: check collection existence: %w", err)
	}

	if exists {
		info, err := s.client.GetCollectionInfo(ctx, name)
		if err != nil {
			return fmt.Errorf("vectorstore: get collection info: %w", err)
		}
		existingDim := collectionDimension(info)
		if existingDim != 0 && existingDim != dim {
			return &CollectionDimensionMismatchError{Collection: name, Want: int(dim), Got: int(existingDim)}
		}
	} else {
		if err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     dim,
				Distance: qdrant.Distance_Cosine,
			}),
		}); err != nil {
			return fmt.Errorf("vectorstore: create collection %q: %w", name, err)
		}
		if err := s.createPayloadIndexes(ctx, name); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.collections.Add(name, dim)
	s.mu.Unlock()

	return nil
}

// collectionDimension extracts the configured vector size from a
// CollectionInfo response, returning 0 if it cannot be determined (e.g. a
// multi-vector config without a single default).
func collectionDimension(info *qdrant.CollectionInfo) uint64 {
	params := info.GetConfig().GetParams()
	if params == nil {
		return 0
	}
	if single := params.GetVectorsConfig().GetParams(); single != nil {
		return single.GetSize()
	}
	return 0
}

// createPayloadIndexes creates keyword indexes on every field in
// payloadIndexFields concurrently, aggregating all failures (not just the
// first) into an IndexCreationError.
func (s *Store) createPayloadIndexes(ctx context.Context, collection string) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	failures := make(map[string]error)

	for _, field := range payloadIndexFields {
		wg.Add(1)
		go func(field string) {
			defer wg.Done()
			fieldType := qdrant.FieldType_FieldTypeKeyword
			_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
				CollectionName: collection,
				FieldName:      field,
				FieldType:      &fieldType,
			})
			if err != nil {
				mu.Lock()
				failures[field] = err
				mu.Unlock()
			}
		}(field)
	}
	wg.Wait()

	if len(failures) > 0 {
		return &IndexCreationError{Failures: failures}
	}
	return nil
}

// UpsertPoints writes points into the named collection.
func (s *Store) UpsertPoints(ctx context.Context, collection string, points []Point) error {
	if !ValidCollectionName(collection) {
		return fmt.Errorf("vectorstore: invalid collection name %q", collection)
	}
	if len(points) == 0 {
		return nil
	}

	converted := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		converted = append(converted, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(p.Payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         converted,
	})
	if err != nil {
		return fmt.Errorf("vectorstore: upsert into %q: %w", collection, err)
	}
	return nil
}

// fieldFilter builds a Filter matching documents where key == value.
func fieldFilter(key, value string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key:   key,
						Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
					},
				},
			},
		},
	}
}

// DeleteByURL removes every point in collection whose payload.url equals url.
// An empty url is a no-op — this prevents an accidental mass delete through
// a blank filter value.
func (s *Store) DeleteByURL(ctx context.Context, collection, docURL string) error {
	if docURL == "" {
		return nil
	}
	return s.deleteByFilter(ctx, collection, fieldFilter("url", docURL))
}

// DeleteByDomain removes every point in collection whose payload.domain
// equals domain. An empty domain is a no-op.
func (s *Store) DeleteByDomain(ctx context.Context, collection, domain string) error {
	if domain == "" {
		return nil
	}
	return s.deleteByFilter(ctx, collection, fieldFilter("domain", domain))
}

// DeleteAll removes every point in collection via an explicit empty-must
// filter (distinct from a nil filter, which this client never sends for
// delete operations).
func (s *Store) DeleteAll(ctx context.Context, collection string) error {
	return s.deleteByFilter(ctx, collection, &qdrant.Filter{})
}

func (s *Store) deleteByFilter(ctx context.Context, collection string, filter *qdrant.Filter) error {
	if !ValidCollectionName(collection) {
		return fmt.Errorf("vectorstore: invalid collection name %q", collection)
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: delete from %q: %w", collection, err)
	}
	return nil
}

// ScoredPoint is a query/scroll result row.
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload map[string]*qdrant.Value
}

// QueryPoints runs a vector similarity search, optionally restricted by a
// {domain, source_command} filter.
func (s *Store) QueryPoints(ctx context.Context, collection string, vector []float32, limit int, filterFields map[string]string) ([]ScoredPoint, error) {
	if !ValidCollectionName(collection) {
		return nil, fmt.Errorf("vectorstore: invalid collection name %q", collection)
	}

	lim := uint64(limit)
	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &lim,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(filterFields) > 0 {
		req.Filter = andFilter(filterFields)
	}

	results, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: query %q: %w", collection, err)
	}

	out := make([]ScoredPoint, 0, len(results))
	for _, r := range results {
		out = append(out, ScoredPoint{ID: pointIDString(r.Id), Score: r.Score, Payload: r.Payload})
	}
	return out, nil
}

func andFilter(fields map[string]string) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(fields))
	for k, v := range fields {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   k,
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Text{Text: v}},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conditions}
}

// scrollPageSize is the Qdrant scroll page size used by ScrollAll.
const scrollPageSize = 100

// ScrollByURL returns every point whose payload.url equals docURL, ordered
// by payload.chunk_index.
func (s *Store) ScrollByURL(ctx context.Context, collection, docURL string) ([]ScoredPoint, error) {
	points, err := s.scrollAllPages(ctx, collection, fieldFilter("url", docURL))
	if err != nil {
		return nil, err
	}
	sortByChunkIndex(points)
	return points, nil
}

// ScrollAll paginates through every point in collection matching the
// optional filter, using Qdrant's next_page_offset cursor until exhausted.
func (s *Store) ScrollAll(ctx context.Context, collection string, filterFields map[string]string) ([]ScoredPoint, error) {
	var filter *qdrant.Filter
	if len(filterFields) > 0 {
		filter = andFilter(filterFields)
	}
	return s.scrollAllPages(ctx, collection, filter)
}

func (s *Store) scrollAllPages(ctx context.Context, collection string, filter *qdrant.Filter) ([]ScoredPoint, error) {
	if !ValidCollectionName(collection) {
		return nil, fmt.Errorf("vectorstore: invalid collection name %q", collection)
	}

	var out []ScoredPoint
	var offset *qdrant.PointId
	// One point past the page is requested: Scroll's offset is the first
	// point it returns, so that extra point's id is the next page's cursor.
	limit := uint32(scrollPageSize + 1)

	for {
		req := &qdrant.ScrollPoints{
			CollectionName: collection,
			Filter:         filter,
			WithPayload:    qdrant.NewWithPayload(true),
			Limit:          &limit,
		}
		if offset != nil {
			req.Offset = offset
		}

		points, err := s.client.Scroll(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: scroll %q: %w", collection, err)
		}

		var next *qdrant.PointId
		if len(points) > scrollPageSize {
			next = points[scrollPageSize].Id
			points = points[:scrollPageSize]
		}

		for _, p := range points {
			out = append(out, ScoredPoint{ID: pointIDString(p.Id), Payload: p.Payload})
		}

		if next == nil {
			break
		}
		offset = next
	}

	return out, nil
}

func sortByChunkIndex(points []ScoredPoint) {
	for i := 1; i < len(points); i++ {
		for j := i; j > 0 && chunkIndexOf(points[j-1]) > chunkIndexOf(points[j]); j-- {
			points[j-1], points[j] = points[j], points[j-1]
		}
	}
}

func chunkIndexOf(p ScoredPoint) int64 {
	v, ok := p.Payload["chunk_index"]
	if !ok {
		return 0
	}
	return v.GetIntegerValue()
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

// CountPoints returns the total number of points in collection.
func (s *Store) CountPoints(ctx context.Context, collection string) (uint64, error) {
	return s.countByFilter(ctx, collection, nil)
}

// CountByURL returns the number of points whose payload.url equals docURL.
func (s *Store) CountByURL(ctx context.Context, collection, docURL string) (uint64, error) {
	return s.countByFilter(ctx, collection, fieldFilter("url", docURL))
}

// CountByDomain returns the number of points whose payload.domain equals domain.
func (s *Store) CountByDomain(ctx context.Context, collection, domain string) (uint64, error) {
	return s.countByFilter(ctx, collection, fieldFilter("domain", domain))
}

func (s *Store) countByFilter(ctx context.Context, collection string, filter *qdrant.Filter) (uint64, error) {
	if !ValidCollectionName(collection) {
		return 0, fmt.Errorf("vectorstore: invalid collection name %q", collection)
	}
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Filter:         filter,
	})
	if err != nil {
		return 0, fmt.Errorf("vectorstore: count %q: %w", collection, err)
	}
	return count, nil
}

// GetCollectionInfo returns the raw Qdrant collection info for collection.
func (s *Store) GetCollectionInfo(ctx context.Context, collection string) (*qdrant.CollectionInfo, error) {
	if !ValidCollectionName(collection) {
		return nil, fmt.Errorf("vectorstore: invalid collection name %q", collection)
	}
	info, err := s.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: get collection info %q: %w", collection, err)
	}
	return info, nil
}
