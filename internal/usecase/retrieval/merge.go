package retrieval

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragcache/internal/domain"
	"github.com/kailas-cloud/ragcache/internal/domain/search/result"
	"github.com/kailas-cloud/ragcache/internal/metrics"
)

// Merge combines both stage outputs into at most topK results, ranked by
// similarity, with each id admitted once per origin. If the inputs cannot be
// ranked it falls back to internal followed by external, truncated to topK.
func (s *DynamicCache) Merge(internal, external []result.Result, topK int) []result.Result {
	out, err := rankSafe(internal, external, topK)
	if err == nil {
		return out
	}

	s.logger.Warn("Result merge failed, using naive concatenation",
		zap.Int("internal", len(internal)),
		zap.Int("external", len(external)),
		zap.Error(err),
	)
	metrics.RetrievalStageFailuresTotal.WithLabelValues(string(StageMerge), reason(err)).Inc()
	metrics.RetrievalFallbacksTotal.WithLabelValues("naive_merge").Inc()
	return concatTruncate(internal, external, topK)
}

func rankSafe(internal, external []result.Result, topK int) (out []result.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: panic: %v", domain.ErrMerge, r)
		}
	}()
	return rank(internal, external, topK)
}

// rank is the merge proper: tag, validate, stable sort, per-origin dedup.
func rank(internal, external []result.Result, topK int) ([]result.Result, error) {
	if topK <= 0 {
		return nil, nil
	}

	all := make([]result.Result, 0, len(internal)+len(external))
	all = appendTagged(all, internal, result.Internal)
	all = appendTagged(all, external, result.External)

	for i := range all {
		if all[i].ID() == "" {
			return nil, fmt.Errorf("%w: result %d has no id", domain.ErrMerge, i)
		}
		if sim := all[i].Similarity(); math.IsNaN(sim) || math.IsInf(sim, 0) {
			return nil, fmt.Errorf("%w: result %q has similarity %v", domain.ErrMerge, all[i].ID(), sim)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Similarity() > all[j].Similarity()
	})

	// Dedup is per origin: the same id may appear once as internal and once as external.
	seen := map[result.Origin]map[string]struct{}{
		result.Internal: {},
		result.External: {},
	}
	out := make([]result.Result, 0, min(topK, len(all)))
	for _, r := range all {
		if len(out) == topK {
			break
		}
		ids := seen[r.Origin()]
		if _, dup := ids[r.ID()]; dup {
			continue
		}
		ids[r.ID()] = struct{}{}
		out = append(out, r)
	}
	return out, nil
}

func appendTagged(dst, src []result.Result, origin result.Origin) []result.Result {
	for _, r := range src {
		if r.Origin() == result.Unknown {
			r = r.WithOrigin(origin)
		}
		dst = append(dst, r)
	}
	return dst
}

func concatTruncate(internal, external []result.Result, topK int) []result.Result {
	if topK <= 0 {
		return nil
	}
	out := make([]result.Result, 0, min(topK, len(internal)+len(external)))
	out = appendTagged(out, internal, result.Internal)
	out = appendTagged(out, external, result.External)
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}
