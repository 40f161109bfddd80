package domain

import "time"

// KeyPrefix namespaces every key written by ragcache.
const KeyPrefix = "ragcache:"

// VectorConfig holds internal vectorization settings, not exposed to clients.
// The index always uses HNSW with cosine distance.
type VectorConfig struct {
	Model      string
	Dimensions int
}

// DefaultVectorConfig returns the default configuration for 768-dim text embeddings.
func DefaultVectorConfig() VectorConfig {
	return VectorConfig{
		Model:      "text-embedding-004",
		Dimensions: 768,
	}
}

// RetrievalConfig is the process-wide configuration of the dynamic cache.
type RetrievalConfig struct {
	TopK                int
	SimilarityThreshold float64
	CacheEnabled        bool
	CacheTTL            time.Duration
	OverFetch           int
	StageTimeout        time.Duration // 0 = rely on the caller's deadline
}

// DefaultRetrievalConfig returns the defaults: top 5, threshold 0.5, one-hour cache.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:                5,
		SimilarityThreshold: 0.5,
		CacheEnabled:        true,
		CacheTTL:            time.Hour,
		OverFetch:           20,
	}
}
