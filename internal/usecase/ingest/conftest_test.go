package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragcache/internal/domain"
	domknow "github.com/kailas-cloud/ragcache/internal/domain/knowledge"
)

const testDim = 3

type mockRepo struct {
	UpsertFn func(ctx context.Context, rec *domknow.Record) error
	records  []domknow.Record
}

func (m *mockRepo) Upsert(ctx context.Context, rec *domknow.Record) error {
	if m.UpsertFn != nil {
		if err := m.UpsertFn(ctx, rec); err != nil {
			return err
		}
	}
	m.records = append(m.records, *rec)
	return nil
}

type mockBatchEmbedder struct {
	BatchEmbedFn func(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error)
	batchCalls   int
}

func (m *mockBatchEmbedder) Embed(context.Context, string) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{Embedding: make([]float32, testDim)}, nil
}

func (m *mockBatchEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.batchCalls++
	if m.BatchEmbedFn != nil {
		return m.BatchEmbedFn(ctx, texts)
	}
	out := domain.BatchEmbeddingResult{Embeddings: make([][]float32, len(texts)), TotalTokens: len(texts)}
	for i := range texts {
		out.Embeddings[i] = []float32{float32(i), 1, 0}
	}
	return out, nil
}

var fixedNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func newTestService(repo *mockRepo, embed Embedder) *Service {
	s := New(repo, embed, testDim, zap.NewNop())
	s.now = func() time.Time { return fixedNow }
	return s
}
