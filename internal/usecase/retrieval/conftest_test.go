package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragcache/internal/domain"
	domknow "github.com/kailas-cloud/ragcache/internal/domain/knowledge"
)

const testDim = 4

var errBoom = errors.New("boom")

// --- mockEmbedder ---

type mockEmbedder struct {
	EmbedFn func(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if m.EmbedFn != nil {
		return m.EmbedFn(ctx, text)
	}
	return domain.EmbeddingResult{Embedding: unitVector()}, nil
}

func unitVector() []float32 {
	v := make([]float32, testDim)
	v[0] = 1
	return v
}

// --- mockStore ---

type mockStore struct {
	mu                 sync.Mutex
	SimilaritySearchFn func(ctx context.Context, vec []float32, origin string, threshold float64, limit int) ([]domknow.Hit, error)
	limits             []int
	origins            []string
}

func (m *mockStore) SimilaritySearch(
	ctx context.Context, vec []float32, origin string, threshold float64, limit int,
) ([]domknow.Hit, error) {
	m.mu.Lock()
	m.limits = append(m.limits, limit)
	m.origins = append(m.origins, origin)
	m.mu.Unlock()
	if m.SimilaritySearchFn != nil {
		return m.SimilaritySearchFn(ctx, vec, origin, threshold, limit)
	}
	return nil, nil
}

func (m *mockStore) calledLimits() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.limits...)
}

// hitsStore returns the given hits as-is on every call, ignoring threshold
// and limit, so the retriever's own filtering is what gets tested.
func hitsStore(hits ...domknow.Hit) *mockStore {
	return &mockStore{
		SimilaritySearchFn: func(context.Context, []float32, string, float64, int) ([]domknow.Hit, error) {
			return append([]domknow.Hit(nil), hits...), nil
		},
	}
}

func internalHit(id string, sim float64) domknow.Hit {
	return domknow.Hit{
		Record: domknow.Record{
			ID:           id,
			Content:      "content " + id,
			Data:         map[string]any{"id": id},
			Embedding:    unitVector(),
			SourceOrigin: domknow.OriginInternal,
		},
		Similarity: sim,
	}
}

// --- mockExternal ---

type mockExternal struct {
	mu              sync.Mutex
	KeywordSearchFn func(ctx context.Context, query string, limit int) ([]domknow.ExternalDocument, error)
	calls           int
	limits          []int
}

func (m *mockExternal) KeywordSearch(ctx context.Context, query string, limit int) ([]domknow.ExternalDocument, error) {
	m.mu.Lock()
	m.calls++
	m.limits = append(m.limits, limit)
	m.mu.Unlock()
	if m.KeywordSearchFn != nil {
		return m.KeywordSearchFn(ctx, query, limit)
	}
	return nil, nil
}

func docsExternal(docs ...domknow.ExternalDocument) *mockExternal {
	return &mockExternal{
		KeywordSearchFn: func(_ context.Context, _ string, limit int) ([]domknow.ExternalDocument, error) {
			if len(docs) > limit {
				return append([]domknow.ExternalDocument(nil), docs[:limit]...), nil
			}
			return append([]domknow.ExternalDocument(nil), docs...), nil
		},
	}
}

func failingExternal(err error) *mockExternal {
	return &mockExternal{
		KeywordSearchFn: func(context.Context, string, int) ([]domknow.ExternalDocument, error) {
			return nil, err
		},
	}
}

func externalDocs(n int) []domknow.ExternalDocument {
	docs := make([]domknow.ExternalDocument, n)
	for i := range docs {
		docs[i] = domknow.ExternalDocument{
			ID:         "e" + string(rune('1'+i)),
			Content:    "external " + string(rune('1'+i)),
			SourceName: "wiki",
			Metadata:   map[string]any{"rank": i},
		}
	}
	return docs
}

// --- mockCache ---

type mockCache struct {
	mu       sync.Mutex
	LookupFn func(ctx context.Context, query string) ([]domknow.ExternalDocument, bool, error)
	StoreFn  func(ctx context.Context, query string, docs []domknow.ExternalDocument, ttl time.Duration) error
	stored   map[string][]domknow.ExternalDocument
	ttls     []time.Duration
}

func newMockCache() *mockCache {
	return &mockCache{stored: map[string][]domknow.ExternalDocument{}}
}

func (m *mockCache) Lookup(ctx context.Context, query string) ([]domknow.ExternalDocument, bool, error) {
	if m.LookupFn != nil {
		return m.LookupFn(ctx, query)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	docs, ok := m.stored[query]
	return docs, ok, nil
}

func (m *mockCache) Store(ctx context.Context, query string, docs []domknow.ExternalDocument, ttl time.Duration) error {
	if m.StoreFn != nil {
		return m.StoreFn(ctx, query, docs, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored[query] = docs
	m.ttls = append(m.ttls, ttl)
	return nil
}

// --- constructors ---

func testConfig(topK int) domain.RetrievalConfig {
	cfg := domain.DefaultRetrievalConfig()
	cfg.TopK = topK
	return cfg
}

func newTestCache(t *testing.T, embed Embedder, store VectorStore, cfg domain.RetrievalConfig, opts ...Option) *DynamicCache {
	t.Helper()
	s, err := NewDynamicCache(embed, store, cfg, testDim, zap.NewNop(), opts...)
	if err != nil {
		t.Fatalf("NewDynamicCache: %v", err)
	}
	return s
}
