package knowledge

import (
	"fmt"
	"strings"
	"time"

	"github.com/kailas-cloud/ragcache/internal/domain"
)

// OriginInternal tags curated knowledge. Only records with this origin
// take part in internal similarity search.
const OriginInternal = "internal"

// Record is a persisted unit of knowledge.
type Record struct {
	ID           string
	Content      string
	Data         map[string]any
	Embedding    []float32 // nil until computed
	Title        string
	SourceOrigin string
	ExternalID   string

	// Materialized cache bookkeeping for externally fetched records.
	IsCached       bool
	CacheExpiresAt time.Time
	LastFetchedAt  time.Time
	FetchCount     int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Hit is a record matched by similarity search.
type Hit struct {
	Record     Record
	Similarity float64
}

// Validate enforces the ingestion rules: non-empty content, a data payload,
// and an embedding of exactly dim elements.
func (r *Record) Validate(dim int) error {
	if strings.TrimSpace(r.Content) == "" {
		return fmt.Errorf("%w: content is required", domain.ErrInvalidRecord)
	}
	if r.Data == nil {
		return fmt.Errorf("%w: data is required", domain.ErrInvalidRecord)
	}
	if err := CheckDimension(r.Embedding, dim); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidRecord, err)
	}
	return nil
}

// HasValidEmbedding reports whether the record either has no embedding yet
// or one of exactly dim elements.
func (r *Record) HasValidEmbedding(dim int) bool {
	return r.Embedding == nil || len(r.Embedding) == dim
}

// IsStale reports whether a cached record must be refetched.
// Records that are not cached never go stale.
func (r *Record) IsStale(now time.Time) bool {
	if !r.IsCached {
		return false
	}
	return r.CacheExpiresAt.IsZero() || !r.CacheExpiresAt.After(now)
}

// CheckDimension returns ErrVectorDimMismatch unless len(vec) == dim.
func CheckDimension(vec []float32, dim int) error {
	if len(vec) != dim {
		return fmt.Errorf("%w: expected %d, got %d", domain.ErrVectorDimMismatch, dim, len(vec))
	}
	return nil
}
