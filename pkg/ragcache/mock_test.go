package ragcache

import (
	"context"

	"github.com/kailas-cloud/ragcache/internal/domain"
	"github.com/kailas-cloud/ragcache/internal/domain/search/result"
	healthuc "github.com/kailas-cloud/ragcache/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/ragcache/internal/usecase/ingest"
)

// --- searchUseCase mock ---

type mockSearchUC struct {
	searchFn func(ctx context.Context, query string) []result.Result
	cfg      domain.RetrievalConfig
}

func (m *mockSearchUC) Search(ctx context.Context, query string) []result.Result {
	return m.searchFn(ctx, query)
}

func (m *mockSearchUC) Config() domain.RetrievalConfig { return m.cfg }

// --- ingestUseCase mock ---

type mockIngestUC struct {
	ingestFn func(ctx context.Context, inputs []ingestuc.Input) (int, error)
}

func (m *mockIngestUC) Ingest(ctx context.Context, inputs []ingestuc.Input) (int, error) {
	return m.ingestFn(ctx, inputs)
}

// --- healthUseCase mock ---

type mockHealthUC struct {
	report healthuc.Report
}

func (m *mockHealthUC) Check(context.Context) healthuc.Report { return m.report }

// --- public interface mocks ---

type mockEmbedder struct {
	fn func(ctx context.Context, text string) (EmbeddingResult, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	return m.fn(ctx, text)
}

type mockBatchEmbedder struct {
	mockEmbedder
	batchFn func(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

func (m *mockBatchEmbedder) BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error) {
	return m.batchFn(ctx, texts)
}

type mockExternal struct {
	fn func(ctx context.Context, query string, limit int) ([]ExternalDocument, error)
}

func (m *mockExternal) KeywordSearch(ctx context.Context, query string, limit int) ([]ExternalDocument, error) {
	return m.fn(ctx, query, limit)
}

// --- helpers ---

func testClient(searchSvc searchUseCase, ingestSvc ingestUseCase, healthSvc healthUseCase) *Client {
	return &Client{
		searchSvc: searchSvc,
		ingestSvc: ingestSvc,
		healthSvc: healthSvc,
	}
}
