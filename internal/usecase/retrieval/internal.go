package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragcache/internal/domain"
	domknow "github.com/kailas-cloud/ragcache/internal/domain/knowledge"
	"github.com/kailas-cloud/ragcache/internal/domain/search/result"
)

// SearchInternal embeds the query and returns up to limit internal records
// whose similarity is strictly above the threshold, best first.
func (s *DynamicCache) SearchInternal(ctx context.Context, query string, limit int) Outcome {
	if limit <= 0 {
		return Outcome{}
	}
	defer observeStage(StageInternal, time.Now())

	ctx, cancel := s.stageContext(ctx)
	defer cancel()

	emb, err := s.embed.Embed(ctx, query)
	if err != nil {
		return s.absorb(ctx, StageInternal, query, fmt.Errorf("embed query: %w", as(domain.ErrEmbedding, err)))
	}
	if err := domknow.CheckDimension(emb.Embedding, s.dim); err != nil {
		return s.absorb(ctx, StageInternal, query, fmt.Errorf("embed query: %w", as(domain.ErrEmbedding, err)))
	}

	threshold := s.cfg.SimilarityThreshold
	hits, err := s.store.SimilaritySearch(ctx, emb.Embedding, domknow.OriginInternal, threshold, limit)
	if err != nil {
		return s.absorb(ctx, StageInternal, query, fmt.Errorf("similarity search: %w", as(domain.ErrStoreQuery, err)))
	}

	out := make([]result.Result, 0, min(len(hits), limit))
	for i := range hits {
		h := &hits[i]
		if h.Similarity <= threshold {
			continue
		}
		if h.Record.SourceOrigin != domknow.OriginInternal || !h.Record.HasValidEmbedding(s.dim) {
			s.log(ctx).Debug("Skipping ineligible knowledge record",
				zap.String("id", h.Record.ID),
				zap.String("source_origin", h.Record.SourceOrigin),
				zap.Int("embedding_len", len(h.Record.Embedding)),
			)
			continue
		}
		r, err := result.NewInternal(h.Record.ID, h.Record.Content, h.Record.Data, h.Record.Title, h.Similarity)
		if err != nil {
			s.log(ctx).Debug("Skipping malformed knowledge record", zap.Error(err))
			continue
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity() > out[j].Similarity()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return Outcome{Results: out}
}
