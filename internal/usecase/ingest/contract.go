package ingest

import (
	"context"

	"github.com/kailas-cloud/ragcache/internal/domain"
	domknow "github.com/kailas-cloud/ragcache/internal/domain/knowledge"
)

// Repository persists knowledge records.
type Repository interface {
	Upsert(ctx context.Context, rec *domknow.Record) error
}

// Embedder vectorizes passages.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
