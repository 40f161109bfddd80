package retrieval

import (
	"context"
	"time"

	"github.com/kailas-cloud/ragcache/internal/domain"
	domknow "github.com/kailas-cloud/ragcache/internal/domain/knowledge"
)

// Embedder vectorizes the query.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// VectorStore runs origin-filtered similarity search over knowledge records.
type VectorStore interface {
	SimilaritySearch(
		ctx context.Context, vec []float32, origin string, threshold float64, limit int,
	) ([]domknow.Hit, error)
}

// ExternalSearcher fetches keyword-matching candidates from a third-party API.
type ExternalSearcher interface {
	KeywordSearch(ctx context.Context, query string, limit int) ([]domknow.ExternalDocument, error)
}

// ExternalCache materializes external candidates per query.
type ExternalCache interface {
	Lookup(ctx context.Context, query string) ([]domknow.ExternalDocument, bool, error)
	Store(ctx context.Context, query string, docs []domknow.ExternalDocument, ttl time.Duration) error
}
