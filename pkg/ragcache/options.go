package ragcache

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	addrs    []string
	password string

	embedder Embedder
	external ExternalSearcher

	vectorDimensions int
	hnswM            int
	hnswEFConstruct  int

	topK         int
	threshold    *float64
	cacheEnabled *bool
	cacheTTL     time.Duration
	stageTimeout time.Duration

	logger     *slog.Logger
	metricsReg prometheus.Registerer
}

// WithValkey configures the Valkey instance holding knowledge and caches.
func WithValkey(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithEmbedder sets the text embedding provider. Required.
func WithEmbedder(e Embedder) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedder = e
	})
}

// WithExternalSearch enables the external stage. Without it, Search serves
// internal knowledge only.
func WithExternalSearch(s ExternalSearcher) Option {
	return optionFunc(func(c *clientConfig) {
		c.external = s
	})
}

// WithVectorDimensions sets the embedding dimension. Defaults to 768.
func WithVectorDimensions(dim int) Option {
	return optionFunc(func(c *clientConfig) {
		c.vectorDimensions = dim
	})
}

// WithHNSW configures HNSW index parameters (M and EF construction).
// Defaults: M=32, EFConstruct=400.
func WithHNSW(m, efConstruct int) Option {
	return optionFunc(func(c *clientConfig) {
		c.hnswM = m
		c.hnswEFConstruct = efConstruct
	})
}

// WithTopK sets the number of results Search returns at most. Default: 5.
func WithTopK(k int) Option {
	return optionFunc(func(c *clientConfig) {
		c.topK = k
	})
}

// WithSimilarityThreshold sets the minimum (exclusive) cosine similarity of
// internal results. Default: 0.5.
func WithSimilarityThreshold(th float64) Option {
	return optionFunc(func(c *clientConfig) {
		c.threshold = &th
	})
}

// WithExternalCache toggles materialization of external results.
// Default: enabled, one hour.
func WithExternalCache(enabled bool, ttl time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.cacheEnabled = &enabled
		c.cacheTTL = ttl
	})
}

// WithStageTimeout bounds each retrieval stage. Zero relies on the caller's deadline.
func WithStageTimeout(d time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.stageTimeout = d
	})
}

// WithLogger enables structured logging for SDK operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers SDK metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
