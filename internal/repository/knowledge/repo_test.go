package knowledge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/ragcache/internal/db"
	"github.com/kailas-cloud/ragcache/internal/domain"
	domknow "github.com/kailas-cloud/ragcache/internal/domain/knowledge"
)

func TestEnsureIndex_Creates(t *testing.T) {
	r, ms := newTestRepo(768)

	var created *db.IndexDefinition
	ms.createIndexFn = func(_ context.Context, def *db.IndexDefinition) error {
		created = def
		return nil
	}

	if err := r.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created == nil {
		t.Fatal("expected FT.CREATE")
	}
	if created.Name != "ragcache:knowledge:idx" {
		t.Errorf("index name = %q", created.Name)
	}
	if len(created.Prefixes) != 1 || created.Prefixes[0] != "ragcache:knowledge:" {
		t.Errorf("prefixes = %v", created.Prefixes)
	}
	var vec *db.IndexField
	for i := range created.Fields {
		if created.Fields[i].Type == db.IndexFieldVector {
			vec = &created.Fields[i]
		}
	}
	if vec == nil || vec.VectorDim != 768 || vec.VectorDistance != db.DistanceCosine {
		t.Errorf("unexpected vector field: %+v", vec)
	}
}

func TestEnsureIndex_AlreadyPresent(t *testing.T) {
	r, ms := newTestRepo(768)
	ms.indexExistsFn = func(_ context.Context, _ string) (bool, error) { return true, nil }
	ms.createIndexFn = func(_ context.Context, _ *db.IndexDefinition) error {
		t.Fatal("CreateIndex should not be called")
		return nil
	}
	if err := r.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureIndex_RaceIsNotAnError(t *testing.T) {
	r, ms := newTestRepo(768)
	ms.createIndexFn = func(_ context.Context, _ *db.IndexDefinition) error { return db.ErrIndexExists }
	if err := r.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpsert_WritesHash(t *testing.T) {
	r, ms := newTestRepo(2)

	var gotKey string
	var gotFields map[string]string
	ms.hreplaceFn = func(_ context.Context, key string, fields map[string]string) error {
		gotKey, gotFields = key, fields
		return nil
	}

	rec := &domknow.Record{
		ID:           "doc-1",
		Content:      "hello",
		Data:         map[string]any{"lang": "en"},
		Embedding:    []float32{0.5, 0.25},
		SourceOrigin: domknow.OriginInternal,
	}
	if err := r.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotKey != "ragcache:knowledge:doc-1" {
		t.Errorf("key = %q", gotKey)
	}
	if gotFields["source_origin"] != "internal" || gotFields["content"] != "hello" {
		t.Errorf("unexpected fields: %v", gotFields)
	}
	if len(gotFields["embedding"]) != 8 {
		t.Errorf("embedding blob length = %d, want 8", len(gotFields["embedding"]))
	}
	if gotFields["data"] != `{"lang":"en"}` {
		t.Errorf("data = %q", gotFields["data"])
	}
	if _, ok := gotFields["cache_expires_at"]; ok {
		t.Error("zero expiry should not be written")
	}
}

func TestUpsert_RequiresID(t *testing.T) {
	r, _ := newTestRepo(2)
	err := r.Upsert(context.Background(), &domknow.Record{Content: "x"})
	if !errors.Is(err, domain.ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	r, _ := newTestRepo(2)
	_, err := r.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGet_RoundTrip(t *testing.T) {
	r, ms := newTestRepo(2)
	withHashes(ms)

	now := time.UnixMilli(1_700_000_000_000).UTC()
	in := &domknow.Record{
		ID:             "ext:wiki:1",
		Content:        "body",
		Data:           map[string]any{"k": "v"},
		Title:          "T",
		SourceOrigin:   "wiki",
		ExternalID:     "1",
		IsCached:       true,
		CacheExpiresAt: now.Add(time.Hour),
		LastFetchedAt:  now,
		FetchCount:     3,
	}
	if err := r.Upsert(context.Background(), in); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	out, err := r.Get(context.Background(), "ext:wiki:1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.ExternalID != "1" || out.SourceOrigin != "wiki" || !out.IsCached || out.FetchCount != 3 {
		t.Errorf("unexpected record: %+v", out)
	}
	if !out.CacheExpiresAt.Equal(in.CacheExpiresAt) {
		t.Errorf("expiry = %v, want %v", out.CacheExpiresAt, in.CacheExpiresAt)
	}
	if out.Data["k"] != "v" {
		t.Errorf("data = %v", out.Data)
	}
}

func TestGetMany_MissingIsNil(t *testing.T) {
	r, ms := newTestRepo(2)
	ms.hgetAllMultiFn = func(_ context.Context, keys []string) ([]map[string]string, error) {
		if len(keys) != 2 {
			t.Fatalf("keys = %v", keys)
		}
		return []map[string]string{{"content": "a"}, {}}, nil
	}
	recs, err := r.GetMany(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if recs[0] == nil || recs[0].ID != "a" || recs[1] != nil {
		t.Errorf("unexpected records: %+v", recs)
	}
}

func TestSimilaritySearch_FiltersByOriginAndThreshold(t *testing.T) {
	r, ms := newTestRepo(2)

	ms.searchKNNFn = func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
		if len(q.Filters) != 1 || q.Filters[0].Field != "source_origin" || q.Filters[0].Value != "internal" {
			t.Errorf("unexpected filters: %+v", q.Filters)
		}
		if q.K != 3 {
			t.Errorf("K = %d, want 3", q.K)
		}
		return &db.SearchResult{Total: 3, Entries: []db.SearchEntry{
			{Key: "ragcache:knowledge:a", Score: 0.9, Fields: map[string]string{"content": "A"}},
			{Key: "ragcache:knowledge:b", Score: 0.5, Fields: map[string]string{"content": "B"}},
			{Key: "ragcache:knowledge:c", Score: 0.3, Fields: map[string]string{"content": "C"}},
		}}, nil
	}

	hits, err := r.SimilaritySearch(context.Background(), []float32{1, 0}, "internal", 0.5, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit above 0.5, got %d", len(hits))
	}
	if hits[0].Record.ID != "a" || hits[0].Record.Content != "A" {
		t.Errorf("unexpected hit: %+v", hits[0])
	}
}

func TestSimilaritySearch_ZeroLimit(t *testing.T) {
	r, ms := newTestRepo(2)
	ms.searchKNNFn = func(_ context.Context, _ *db.KNNQuery) (*db.SearchResult, error) {
		t.Fatal("SearchKNN should not be called")
		return nil, nil
	}
	hits, err := r.SimilaritySearch(context.Background(), []float32{1, 0}, "internal", 0.5, 0)
	if err != nil || hits != nil {
		t.Fatalf("expected nil, nil; got %v, %v", hits, err)
	}
}

func TestSimilaritySearch_StoreError(t *testing.T) {
	r, ms := newTestRepo(2)
	boom := errors.New("conn refused")
	ms.searchKNNFn = func(_ context.Context, _ *db.KNNQuery) (*db.SearchResult, error) {
		return nil, boom
	}
	if _, err := r.SimilaritySearch(context.Background(), []float32{1, 0}, "internal", 0.5, 2); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestUpsert_ReplacesPreviousVersion(t *testing.T) {
	r, ms := newTestRepo(2)
	withHashes(ms)
	ctx := context.Background()

	now := time.UnixMilli(1_700_000_000_000).UTC()
	first := &domknow.Record{
		ID:             "a",
		Content:        "v1",
		Data:           map[string]any{"k": "v"},
		Title:          "Old title",
		SourceOrigin:   "wiki",
		ExternalID:     "1",
		IsCached:       true,
		CacheExpiresAt: now.Add(time.Hour),
		LastFetchedAt:  now,
		FetchCount:     4,
	}
	if err := r.Upsert(ctx, first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	second := &domknow.Record{
		ID:           "a",
		Content:      "v2",
		Data:         map[string]any{"k": "v2"},
		SourceOrigin: domknow.OriginInternal,
	}
	if err := r.Upsert(ctx, second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := r.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "v2" || got.Title != "" {
		t.Errorf("content=%q title=%q, want v2 and empty title", got.Content, got.Title)
	}
	if got.ExternalID != "" || got.IsCached || !got.CacheExpiresAt.IsZero() || !got.LastFetchedAt.IsZero() {
		t.Errorf("cache fields survived: %+v", got)
	}
	if got.SourceOrigin != domknow.OriginInternal || got.FetchCount != 0 {
		t.Errorf("origin=%q fetch_count=%d", got.SourceOrigin, got.FetchCount)
	}
}

func TestUpsert_NilDataReadsBackNil(t *testing.T) {
	r, ms := newTestRepo(2)
	hashes := withHashes(ms)

	rec := &domknow.Record{ID: "ext:wiki:1", Content: "x", SourceOrigin: "wiki"}
	if err := r.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, ok := hashes["ragcache:knowledge:ext:wiki:1"]["data"]; ok {
		t.Error("nil data should not be written")
	}
	got, err := r.Get(context.Background(), "ext:wiki:1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Data != nil {
		t.Errorf("data = %#v, want nil", got.Data)
	}
}

func TestMarkFetched_BatchesUpdates(t *testing.T) {
	r, ms := newTestRepo(2)

	calls := 0
	var got []db.HashUpdate
	ms.hupdateMultiFn = func(_ context.Context, updates []db.HashUpdate) error {
		calls++
		got = updates
		return nil
	}

	now := time.UnixMilli(42_000)
	if err := r.MarkFetched(context.Background(), []string{"x", "y"}, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 || len(got) != 2 {
		t.Fatalf("calls=%d updates=%d, want one call with 2 updates", calls, len(got))
	}
	if got[0].Key != "ragcache:knowledge:x" || got[1].Key != "ragcache:knowledge:y" {
		t.Errorf("keys = %q, %q", got[0].Key, got[1].Key)
	}
	if got[0].Incr["fetch_count"] != 1 || got[0].Set["last_fetched_at"] != "42000" {
		t.Errorf("unexpected update: %+v", got[0])
	}
}

func TestMarkFetched_Empty(t *testing.T) {
	r, ms := newTestRepo(2)
	ms.hupdateMultiFn = func(context.Context, []db.HashUpdate) error {
		t.Fatal("HUpdateMulti should not be called")
		return nil
	}
	if err := r.MarkFetched(context.Background(), nil, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMarkFetched_StoreError(t *testing.T) {
	r, ms := newTestRepo(2)
	boom := errors.New("timeout")
	ms.hupdateMultiFn = func(context.Context, []db.HashUpdate) error { return boom }
	if err := r.MarkFetched(context.Background(), []string{"x"}, time.Now()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
