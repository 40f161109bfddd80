package ragcache

import (
	"context"
	"time"
)

// Embedder converts text to vector embeddings. Required.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// BatchEmbedder vectorizes multiple texts in a single API call.
// Optional: when the Embedder also implements it, Ingest uses it.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// EmbeddingResult carries the embedding vector and token counts.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// BatchEmbeddingResult carries multiple embedding vectors and aggregate token usage.
type BatchEmbeddingResult struct {
	Embeddings   [][]float32
	PromptTokens int
	TotalTokens  int
}

// ExternalSearcher is a keyword search API consulted next to internal knowledge.
type ExternalSearcher interface {
	KeywordSearch(ctx context.Context, query string, limit int) ([]ExternalDocument, error)
}

// ExternalDocument is one candidate returned by an ExternalSearcher.
// Documents without an ID, content or source are skipped.
type ExternalDocument struct {
	ID       string
	Content  string
	Source   string
	Metadata map[string]any
	Title    string
}

// Origin tells where a result came from.
type Origin string

// Origin constants.
const (
	OriginInternal Origin = "internal"
	OriginExternal Origin = "external"
)

// Result is a single ranked hit.
type Result struct {
	ID         string
	Content    string
	Data       map[string]any
	Title      string
	Similarity float64
	Origin     Origin
	Source     string
}

// Record is an internal knowledge passage to ingest.
// An empty ID gets a generated one.
type Record struct {
	ID      string
	Content string
	Data    map[string]any
	Title   string
}

// RetrievalSettings are the effective retrieval settings of a client.
type RetrievalSettings struct {
	TopK                int
	SimilarityThreshold float64
	CacheEnabled        bool
	CacheTTL            time.Duration
}
