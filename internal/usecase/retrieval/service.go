package retrieval

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/ragcache/internal/domain"
	"github.com/kailas-cloud/ragcache/internal/domain/search/result"
	"github.com/kailas-cloud/ragcache/internal/logger"
	"github.com/kailas-cloud/ragcache/internal/metrics"
)

// DynamicCache blends internal vector search with external keyword search
// and returns a bounded, ranked, de-duplicated result list.
type DynamicCache struct {
	embed    Embedder
	store    VectorStore
	external ExternalSearcher
	cache    ExternalCache
	cfg      domain.RetrievalConfig
	dim      int
	logger   *zap.Logger
}

// Option customizes a DynamicCache.
type Option func(*DynamicCache)

// WithExternal enables the external stage.
func WithExternal(es ExternalSearcher) Option {
	return func(s *DynamicCache) { s.external = es }
}

// WithExternalCache backs the external stage with a materialized cache.
// It is consulted only when CacheEnabled is set.
func WithExternalCache(c ExternalCache) Option {
	return func(s *DynamicCache) { s.cache = c }
}

// NewDynamicCache validates cfg and wires the collaborators.
// Without WithExternal the external stage always yields nothing.
func NewDynamicCache(
	embed Embedder, store VectorStore, cfg domain.RetrievalConfig, dim int,
	logger *zap.Logger, opts ...Option,
) (*DynamicCache, error) {
	if embed == nil || store == nil {
		return nil, fmt.Errorf("%w: embedder and vector store are required", domain.ErrInvalidConfig)
	}
	if cfg.OverFetch == 0 {
		cfg.OverFetch = domain.DefaultRetrievalConfig().OverFetch
	}
	if err := validateConfig(cfg, dim); err != nil {
		return nil, err
	}

	s := &DynamicCache{embed: embed, store: store, cfg: cfg, dim: dim, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func validateConfig(cfg domain.RetrievalConfig, dim int) error {
	switch {
	case dim <= 0:
		return fmt.Errorf("%w: vector dimension must be positive, got %d", domain.ErrInvalidConfig, dim)
	case cfg.TopK <= 0:
		return fmt.Errorf("%w: top_k must be positive, got %d", domain.ErrInvalidConfig, cfg.TopK)
	case math.IsNaN(cfg.SimilarityThreshold) || cfg.SimilarityThreshold < -1 || cfg.SimilarityThreshold >= 1:
		return fmt.Errorf("%w: similarity threshold must be in [-1, 1), got %v",
			domain.ErrInvalidConfig, cfg.SimilarityThreshold)
	case cfg.SimilarityThreshold >= NominalExternalSimilarity:
		return fmt.Errorf("%w: nominal external similarity %v must exceed the similarity threshold %v",
			domain.ErrInvalidConfig, NominalExternalSimilarity, cfg.SimilarityThreshold)
	case cfg.CacheEnabled && cfg.CacheTTL <= 0:
		return fmt.Errorf("%w: cache ttl must be positive when caching is enabled", domain.ErrInvalidConfig)
	case cfg.OverFetch < 0:
		return fmt.Errorf("%w: over-fetch must not be negative, got %d", domain.ErrInvalidConfig, cfg.OverFetch)
	case cfg.StageTimeout < 0:
		return fmt.Errorf("%w: stage timeout must not be negative", domain.ErrInvalidConfig)
	}
	return nil
}

// Config returns the effective configuration.
func (s *DynamicCache) Config() domain.RetrievalConfig { return s.cfg }

// InternalLimit is the share of topK reserved for internal results: ceil(topK/2).
func InternalLimit(topK int) int {
	if topK <= 0 {
		return 0
	}
	return (topK + 1) / 2
}

// Search returns at most TopK results ranked by similarity. It never fails:
// a failed stage contributes nothing, and an orchestration failure falls back
// to internal results at the full TopK.
func (s *DynamicCache) Search(ctx context.Context, query string) []result.Result {
	start := time.Now()
	log := s.log(ctx)

	results, err := s.search(ctx, query)
	fallback := false
	if err != nil {
		fallback = true
		log.Warn("Retrieval orchestration failed, serving internal results only",
			zap.String("query", query),
			zap.Error(err),
		)
		metrics.RetrievalStageFailuresTotal.WithLabelValues(string(StageOrchestration), reason(err)).Inc()
		metrics.RetrievalFallbacksTotal.WithLabelValues("internal_only").Inc()
		results = s.internalOnly(ctx, query)
	}

	var internal, external int
	for _, r := range results {
		if r.Origin() == result.External {
			external++
		} else {
			internal++
		}
	}
	metrics.RetrievalResults.WithLabelValues("internal").Observe(float64(internal))
	metrics.RetrievalResults.WithLabelValues("external").Observe(float64(external))

	log.Info("Retrieval completed",
		zap.String("query", query),
		zap.Int("results", len(results)),
		zap.Int("internal", internal),
		zap.Int("external", external),
		zap.Bool("fallback", fallback),
		zap.Duration("duration", time.Since(start)),
	)
	return results
}

// search is the primary path: both stages concurrently, then merge.
func (s *DynamicCache) search(ctx context.Context, query string) (_ []result.Result, err error) {
	defer recoverStage(StageOrchestration, &err)

	topK := s.cfg.TopK
	var internal, external Outcome

	var g errgroup.Group
	g.Go(func() (err error) {
		defer recoverStage(StageInternal, &err)
		internal = s.SearchInternal(ctx, query, InternalLimit(topK))
		return nil
	})
	g.Go(func() (err error) {
		defer recoverStage(StageExternal, &err)
		external = s.SearchExternal(ctx, query, topK)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err //nolint:wrapcheck // already a StageError
	}

	return s.Merge(internal.OrEmpty(), external.OrEmpty(), topK), nil
}

// internalOnly is the last-resort path. It can only degrade to empty.
func (s *DynamicCache) internalOnly(ctx context.Context, query string) (out []result.Result) {
	defer func() {
		if r := recover(); r != nil {
			s.log(ctx).Error("Internal-only fallback failed", zap.String("query", query), zap.Any("panic", r))
			metrics.RetrievalStageFailuresTotal.WithLabelValues(string(StageFallback), "panic").Inc()
			out = nil
		}
	}()
	return s.SearchInternal(ctx, query, s.cfg.TopK).OrEmpty()
}

// stageContext bounds a stage by StageTimeout when one is configured.
func (s *DynamicCache) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StageTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.StageTimeout)
	}
	return ctx, func() {}
}

func (s *DynamicCache) log(ctx context.Context) *zap.Logger {
	return logger.FromContextOr(ctx, s.logger)
}

// absorb logs a stage failure and turns it into an empty outcome.
func (s *DynamicCache) absorb(ctx context.Context, stage Stage, query string, err error) Outcome {
	s.log(ctx).Warn("Retrieval stage failed",
		zap.String("stage", string(stage)),
		zap.String("query", query),
		zap.Error(err),
	)
	metrics.RetrievalStageFailuresTotal.WithLabelValues(string(stage), reason(err)).Inc()
	return failed(stage, err)
}

func observeStage(stage Stage, start time.Time) {
	metrics.RetrievalStageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
}
