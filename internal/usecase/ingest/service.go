package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragcache/internal/domain"
	domknow "github.com/kailas-cloud/ragcache/internal/domain/knowledge"
)

// MaxBatchSize caps the records accepted in one Ingest call.
const MaxBatchSize = 1000

// Input is one piece of internal knowledge to store.
type Input struct {
	ID      string // generated when empty
	Content string
	Data    map[string]any
	Title   string
}

// Service embeds and stores internal knowledge.
type Service struct {
	repo   Repository
	embed  Embedder
	dim    int
	now    func() time.Time
	logger *zap.Logger
}

// New creates an ingest service.
func New(repo Repository, embed Embedder, dim int, logger *zap.Logger) *Service {
	return &Service{repo: repo, embed: embed, dim: dim, now: time.Now, logger: logger}
}

// Ingest validates every input, embeds all of them and only then writes.
// A validation or embedding failure writes nothing. Returns the number of
// records written.
func (s *Service) Ingest(ctx context.Context, inputs []Input) (int, error) {
	if len(inputs) == 0 {
		return 0, fmt.Errorf("%w: no records", domain.ErrInvalidRecord)
	}
	if len(inputs) > MaxBatchSize {
		return 0, fmt.Errorf("%w: %d records exceeds batch limit %d", domain.ErrInvalidRecord, len(inputs), MaxBatchSize)
	}

	texts := make([]string, len(inputs))
	for i := range inputs {
		if strings.TrimSpace(inputs[i].Content) == "" {
			return 0, fmt.Errorf("%w: record %d: content is required", domain.ErrInvalidRecord, i)
		}
		if inputs[i].Data == nil {
			return 0, fmt.Errorf("%w: record %d: data is required", domain.ErrInvalidRecord, i)
		}
		if domknow.IsExternalID(inputs[i].ID) {
			return 0, fmt.Errorf("%w: record %d: id prefix %q is reserved for cached external documents",
				domain.ErrInvalidRecord, i, domknow.ExternalIDPrefix)
		}
		texts[i] = inputs[i].Content
	}

	emb, err := domain.EmbedBatch(ctx, s.embed, texts)
	if err != nil {
		return 0, fmt.Errorf("embed records: %w", err)
	}
	if len(emb.Embeddings) != len(inputs) {
		return 0, fmt.Errorf("%w: got %d vectors for %d records",
			domain.ErrEmbedding, len(emb.Embeddings), len(inputs))
	}

	now := s.now().UTC()
	records := make([]domknow.Record, len(inputs))
	for i := range inputs {
		id := inputs[i].ID
		if id == "" {
			id = uuid.NewString()
		}
		records[i] = domknow.Record{
			ID:           id,
			Content:      inputs[i].Content,
			Data:         inputs[i].Data,
			Embedding:    emb.Embeddings[i],
			Title:        inputs[i].Title,
			SourceOrigin: domknow.OriginInternal,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := records[i].Validate(s.dim); err != nil {
			return 0, fmt.Errorf("record %d: %w", i, err)
		}
	}

	for i := range records {
		if err := s.repo.Upsert(ctx, &records[i]); err != nil {
			s.logger.Error("Knowledge ingest interrupted",
				zap.Int("written", i),
				zap.Int("total", len(records)),
				zap.Error(err),
			)
			return i, fmt.Errorf("upsert record %q: %w", records[i].ID, err)
		}
	}

	s.logger.Info("Knowledge ingested",
		zap.Int("records", len(records)),
		zap.Int("tokens", emb.TotalTokens),
	)
	return len(records), nil
}
