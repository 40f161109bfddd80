package knowledge

import (
	"context"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragcache/internal/db"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	hreplaceFn     func(ctx context.Context, key string, fields map[string]string) error
	hgetAllFn      func(ctx context.Context, key string) (map[string]string, error)
	hgetAllMultiFn func(ctx context.Context, keys []string) ([]map[string]string, error)
	hupdateMultiFn func(ctx context.Context, updates []db.HashUpdate) error
	createIndexFn  func(ctx context.Context, def *db.IndexDefinition) error
	indexExistsFn  func(ctx context.Context, name string) (bool, error)
	searchKNNFn    func(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
}

func (m *mockStore) HReplace(ctx context.Context, key string, fields map[string]string) error {
	if m.hreplaceFn != nil {
		return m.hreplaceFn(ctx, key, fields)
	}
	return nil
}

func (m *mockStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if m.hgetAllFn != nil {
		return m.hgetAllFn(ctx, key)
	}
	return map[string]string{}, nil
}

func (m *mockStore) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	if m.hgetAllMultiFn != nil {
		return m.hgetAllMultiFn(ctx, keys)
	}
	return make([]map[string]string, len(keys)), nil
}

func (m *mockStore) HUpdateMulti(ctx context.Context, updates []db.HashUpdate) error {
	if m.hupdateMultiFn != nil {
		return m.hupdateMultiFn(ctx, updates)
	}
	return nil
}

func (m *mockStore) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	if m.createIndexFn != nil {
		return m.createIndexFn(ctx, def)
	}
	return nil
}

func (m *mockStore) IndexExists(ctx context.Context, name string) (bool, error) {
	if m.indexExistsFn != nil {
		return m.indexExistsFn(ctx, name)
	}
	return false, nil
}

func (m *mockStore) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if m.searchKNNFn != nil {
		return m.searchKNNFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

// withHashes backs the hash operations of ms with an in-memory map.
func withHashes(ms *mockStore) map[string]map[string]string {
	hashes := map[string]map[string]string{}
	ms.hreplaceFn = func(_ context.Context, key string, fields map[string]string) error {
		cp := make(map[string]string, len(fields))
		for k, v := range fields {
			cp[k] = v
		}
		hashes[key] = cp
		return nil
	}
	ms.hgetAllFn = func(_ context.Context, key string) (map[string]string, error) {
		return hashes[key], nil
	}
	return hashes
}

func newTestRepo(dim int) (*Repo, *mockStore) {
	ms := &mockStore{}
	return New(ms, dim, zap.NewNop()), ms
}
