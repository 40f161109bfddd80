package ragcache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragcache/internal/db"
	dbValkey "github.com/kailas-cloud/ragcache/internal/db/valkey"
	"github.com/kailas-cloud/ragcache/internal/domain"
	domknow "github.com/kailas-cloud/ragcache/internal/domain/knowledge"
	"github.com/kailas-cloud/ragcache/internal/domain/search/result"
	"github.com/kailas-cloud/ragcache/internal/repository/extcache"
	knowledgerepo "github.com/kailas-cloud/ragcache/internal/repository/knowledge"
	healthuc "github.com/kailas-cloud/ragcache/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/ragcache/internal/usecase/ingest"
	"github.com/kailas-cloud/ragcache/internal/usecase/retrieval"
)

const defaultReadinessTimeout = 10 * time.Second

// Внутренние интерфейсы для подмены в тестах.
type searchUseCase interface {
	Search(ctx context.Context, query string) []result.Result
	Config() domain.RetrievalConfig
}

type ingestUseCase interface {
	Ingest(ctx context.Context, inputs []ingestuc.Input) (int, error)
}

// Client is the ragcache SDK entry point. It is safe for concurrent use.
type Client struct {
	store     db.Store
	searchSvc searchUseCase
	ingestSvc ingestUseCase
	healthSvc healthUseCase
	obs       *observer
	closed    atomic.Bool
}

// New creates a Client, connects to Valkey and makes sure the knowledge index exists.
// The provided context is used for the readiness check and index creation.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		vectorDimensions: domain.DefaultVectorConfig().Dimensions,
	}
	for _, o := range opts {
		o.apply(cfg)
	}

	if len(cfg.addrs) == 0 {
		return nil, errors.New("ragcache: database address required (use WithValkey)")
	}
	if cfg.embedder == nil {
		return nil, errors.New("ragcache: embedder required (use WithEmbedder)")
	}

	retrievalCfg, err := cfg.retrieval()
	if err != nil {
		return nil, err
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	store, err := dbValkey.NewStore(dbValkey.Config{Addrs: cfg.addrs, Password: cfg.password})
	if err != nil {
		return nil, fmt.Errorf("ragcache: create valkey store: %w", err)
	}
	if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("ragcache: database not ready: %w", err)
	}

	c, err := wireClient(ctx, store, cfg, retrievalCfg, obs)
	if err != nil {
		store.Close()
		return nil, err
	}
	return c, nil
}

func (cfg *clientConfig) retrieval() (domain.RetrievalConfig, error) {
	rc := domain.DefaultRetrievalConfig()
	if cfg.topK != 0 {
		rc.TopK = cfg.topK
	}
	if cfg.threshold != nil {
		rc.SimilarityThreshold = *cfg.threshold
	}
	if cfg.cacheEnabled != nil {
		rc.CacheEnabled = *cfg.cacheEnabled
		if cfg.cacheTTL > 0 {
			rc.CacheTTL = cfg.cacheTTL
		}
	}
	rc.StageTimeout = cfg.stageTimeout
	if cfg.vectorDimensions <= 0 {
		return rc, fmt.Errorf("ragcache: %w: vector dimensions must be positive", domain.ErrInvalidConfig)
	}
	return rc, nil
}

func wireClient(
	ctx context.Context, store db.Store, cfg *clientConfig, rc domain.RetrievalConfig, obs *observer,
) (*Client, error) {
	logger := zap.NewNop()
	dim := cfg.vectorDimensions

	knowRepo := knowledgerepo.New(store, dim, logger)
	if cfg.hnswM > 0 || cfg.hnswEFConstruct > 0 {
		knowRepo = knowRepo.WithHNSW(knowledgerepo.HNSWConfig{
			M:           cfg.hnswM,
			EFConstruct: cfg.hnswEFConstruct,
		})
	}
	if err := knowRepo.EnsureIndex(ctx); err != nil {
		return nil, fmt.Errorf("ragcache: ensure index: %w", err)
	}

	emb := &embedderAdapter{inner: cfg.embedder}
	opts := []retrieval.Option{retrieval.WithExternalCache(extcache.New(store, knowRepo, logger))}
	if cfg.external != nil {
		opts = append(opts, retrieval.WithExternal(&externalAdapter{inner: cfg.external}))
	}

	searchSvc, err := retrieval.NewDynamicCache(emb, knowRepo, rc, dim, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("ragcache: %w", err)
	}

	return &Client{
		store:     store,
		searchSvc: searchSvc,
		ingestSvc: ingestuc.New(knowRepo, emb, dim, logger),
		healthSvc: healthuc.New(store, nil, nil, logger),
		obs:       obs,
	}, nil
}

// Close releases all resources. It is safe to call more than once.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	if c.store != nil {
		c.store.Close()
	}
}

// Ping checks database connectivity.
func (c *Client) Ping(ctx context.Context) (err error) {
	if c.closed.Load() {
		return ErrClosed
	}
	start := time.Now()
	defer func() { c.obs.observe("ping", start, err) }()

	if err = c.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Search returns up to TopK results for query, best first.
// The only errors are ErrClosed and an empty query; retrieval failures
// degrade to fewer results.
func (c *Client) Search(ctx context.Context, query string) (_ []Result, err error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	start := time.Now()
	defer func() { c.obs.observe("search", start, err) }()

	if query == "" {
		return nil, errors.New("ragcache: query must not be empty")
	}

	found := c.searchSvc.Search(ctx, query)
	out := make([]Result, len(found))
	for i := range found {
		out[i] = fromDomainResult(&found[i])
	}
	c.obs.observeResults(out)
	return out, nil
}

// Ingest embeds and stores internal knowledge. It returns the number of
// records written before the first storage failure.
func (c *Client) Ingest(ctx context.Context, records []Record) (_ int, err error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	start := time.Now()
	defer func() { c.obs.observe("ingest", start, err) }()

	inputs := make([]ingestuc.Input, len(records))
	for i, r := range records {
		inputs[i] = ingestuc.Input{ID: r.ID, Content: r.Content, Data: r.Data, Title: r.Title}
	}
	n, err := c.ingestSvc.Ingest(ctx, inputs)
	if err != nil {
		return n, fmt.Errorf("ingest: %w", err)
	}
	return n, nil
}

// Settings returns the effective retrieval settings.
func (c *Client) Settings() RetrievalSettings {
	rc := c.searchSvc.Config()
	return RetrievalSettings{
		TopK:                rc.TopK,
		SimilarityThreshold: rc.SimilarityThreshold,
		CacheEnabled:        rc.CacheEnabled,
		CacheTTL:            rc.CacheTTL,
	}
}

func fromDomainResult(r *result.Result) Result {
	origin := OriginInternal
	if r.Origin() == result.External {
		origin = OriginExternal
	}
	return Result{
		ID:         r.ID(),
		Content:    r.Content(),
		Data:       r.Data(),
		Title:      r.Title(),
		Similarity: r.Similarity(),
		Origin:     origin,
		Source:     r.Source(),
	}
}

// embedderAdapter wraps public Embedder to satisfy internal domain.Embedder.
type embedderAdapter struct {
	inner Embedder
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	r, err := a.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("%w: %w", domain.ErrEmbedding, err)
	}
	return domain.EmbeddingResult{
		Embedding:    r.Embedding,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}

// BatchEmbed uses the inner BatchEmbedder when available, one call per text otherwise.
func (a *embedderAdapter) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	be, ok := a.inner.(BatchEmbedder)
	if !ok {
		return domain.EmbedEach(ctx, a, texts)
	}
	r, err := be.BatchEmbed(ctx, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("%w: %w", domain.ErrEmbedding, err)
	}
	return domain.BatchEmbeddingResult{
		Embeddings:   r.Embeddings,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}

// externalAdapter wraps public ExternalSearcher to satisfy the retrieval contract.
type externalAdapter struct {
	inner ExternalSearcher
}

func (a *externalAdapter) KeywordSearch(
	ctx context.Context, query string, limit int,
) ([]domknow.ExternalDocument, error) {
	docs, err := a.inner.KeywordSearch(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	out := make([]domknow.ExternalDocument, len(docs))
	for i, d := range docs {
		out[i] = domknow.ExternalDocument{
			ID:         d.ID,
			Content:    d.Content,
			SourceName: d.Source,
			Metadata:   d.Metadata,
			Title:      d.Title,
		}
	}
	return out, nil
}
