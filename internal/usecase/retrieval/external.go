package retrieval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragcache/internal/domain"
	domknow "github.com/kailas-cloud/ragcache/internal/domain/knowledge"
	"github.com/kailas-cloud/ragcache/internal/domain/search/result"
	"github.com/kailas-cloud/ragcache/internal/metrics"
)

// NominalExternalSimilarity is the score given to every external result.
// External APIs return no score comparable to cosine similarity, so a fixed
// value above the internal threshold is used for ranking.
const NominalExternalSimilarity = 0.8

// SearchExternal returns up to limit external candidates, each scored with
// NominalExternalSimilarity, in the order the source returned them.
func (s *DynamicCache) SearchExternal(ctx context.Context, query string, limit int) Outcome {
	if limit <= 0 || s.external == nil {
		return Outcome{}
	}
	defer observeStage(StageExternal, time.Now())

	ctx, cancel := s.stageContext(ctx)
	defer cancel()

	docs, err := s.externalDocuments(ctx, query)
	if err != nil {
		return s.absorb(ctx, StageExternal, query, err)
	}
	if len(docs) == 0 {
		return Outcome{}
	}

	out := make([]result.Result, 0, min(len(docs), limit))
	for i := range docs {
		if len(out) == limit {
			break
		}
		d := &docs[i]
		r, err := result.NewExternal(d.ID, d.Content, d.SourceName, d.Metadata, d.Title, NominalExternalSimilarity)
		if err != nil {
			s.log(ctx).Debug("Skipping malformed external document", zap.Error(err))
			continue
		}
		out = append(out, r)
	}
	return Outcome{Results: out}
}

// externalDocuments serves the query from the materialized cache when it is
// enabled and fresh, otherwise over-fetches from the source and caches the answer.
func (s *DynamicCache) externalDocuments(ctx context.Context, query string) ([]domknow.ExternalDocument, error) {
	useCache := s.cfg.CacheEnabled && s.cache != nil

	if useCache {
		docs, ok, err := s.cache.Lookup(ctx, query)
		switch {
		case err != nil:
			s.log(ctx).Warn("External cache lookup failed", zap.String("query", query), zap.Error(err))
			metrics.ExternalCacheTotal.WithLabelValues("error").Inc()
		case ok:
			metrics.ExternalCacheTotal.WithLabelValues("hit").Inc()
			return docs, nil
		default:
			metrics.ExternalCacheTotal.WithLabelValues("miss").Inc()
		}
	}

	docs, err := s.external.KeywordSearch(ctx, query, s.cfg.OverFetch)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", as(domain.ErrExternalClient, err))
	}

	if useCache && len(docs) > 0 {
		if err := s.cache.Store(ctx, query, docs, s.cfg.CacheTTL); err != nil {
			s.log(ctx).Warn("External cache store failed", zap.String("query", query), zap.Error(err))
		}
	}
	return docs, nil
}
