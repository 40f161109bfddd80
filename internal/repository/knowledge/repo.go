package knowledge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragcache/internal/db"
	"github.com/kailas-cloud/ragcache/internal/domain"
	domknow "github.com/kailas-cloud/ragcache/internal/domain/knowledge"
)

var (
	keyPrefix = domain.KeyPrefix + "knowledge:"
	indexName = domain.KeyPrefix + "knowledge:idx"
)

// store is the consumer interface for knowledge records (ISP).
type store interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	HReplace(ctx context.Context, key string, fields map[string]string) error
	HUpdateMulti(ctx context.Context, updates []db.HashUpdate) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
}

// HNSWConfig HNSW index parameters.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// Repo stores knowledge records as hashes behind one vector index.
type Repo struct {
	store  store
	dim    int
	hnsw   HNSWConfig
	logger *zap.Logger
}

// New creates a knowledge repository for vectors of the given dimension.
func New(s store, dim int, logger *zap.Logger) *Repo {
	return &Repo{
		store:  s,
		dim:    dim,
		hnsw:   HNSWConfig{M: 32, EFConstruct: 400},
		logger: logger,
	}
}

// WithHNSW configures HNSW index parameters.
func (r *Repo) WithHNSW(cfg HNSWConfig) *Repo {
	if cfg.M > 0 {
		r.hnsw.M = cfg.M
	}
	if cfg.EFConstruct > 0 {
		r.hnsw.EFConstruct = cfg.EFConstruct
	}
	return r
}

// EnsureIndex creates the knowledge index if it does not exist yet.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, indexName)
	if err != nil {
		return fmt.Errorf("check index %s: %w", indexName, err)
	}
	if exists {
		return nil
	}

	def, err := db.NewIndex(indexName).
		Prefix(keyPrefix).
		Tag(fieldSourceOrigin).
		Numeric(fieldCacheExpiresAt).
		VectorHNSW(fieldEmbedding, r.dim, db.DistanceCosine, r.hnsw.M, r.hnsw.EFConstruct).
		Build()
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}

	if err := r.store.CreateIndex(ctx, def); err != nil {
		// lost a race with another replica
		if errors.Is(err, db.ErrIndexExists) {
			return nil
		}
		return fmt.Errorf("create index %s: %w", indexName, err)
	}
	r.logger.Info("Created knowledge index", zap.String("index", indexName), zap.Int("dim", r.dim))
	return nil
}

// Upsert replaces the record hash. Nothing of a previous version survives.
func (r *Repo) Upsert(ctx context.Context, rec *domknow.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is required: %w", domain.ErrInvalidRecord)
	}
	fields, err := buildHashFields(rec)
	if err != nil {
		return err
	}
	key := recordKey(rec.ID)
	if err := r.store.HReplace(ctx, key, fields); err != nil {
		return fmt.Errorf("replace %s: %w", key, err)
	}
	return nil
}

// Get returns a record by ID.
func (r *Repo) Get(ctx context.Context, id string) (*domknow.Record, error) {
	key := recordKey(id)
	m, err := r.store.HGetAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	if len(m) == 0 {
		return nil, domain.ErrNotFound
	}
	return parseHashFields(id, m)
}

// GetMany returns records in the order of ids. Missing records are nil.
func (r *Repo) GetMany(ctx context.Context, ids []string) ([]*domknow.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordKey(id)
	}

	maps, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("hgetall multi: %w", err)
	}

	out := make([]*domknow.Record, len(ids))
	for i, m := range maps {
		if len(m) == 0 {
			continue
		}
		rec, err := parseHashFields(ids[i], m)
		if err != nil {
			return nil, err
		}
		out[i] = rec
	}
	return out, nil
}

// SimilaritySearch returns up to limit records tagged with origin whose cosine
// similarity to vec is strictly above threshold, best first.
func (r *Repo) SimilaritySearch(
	ctx context.Context, vec []float32, origin string, threshold float64, limit int,
) ([]domknow.Hit, error) {
	if limit <= 0 {
		return nil, nil
	}

	res, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    indexName,
		VectorField:  fieldEmbedding,
		Filters:      []db.TagFilter{{Field: fieldSourceOrigin, Value: origin}},
		Vector:       vec,
		K:            limit,
		ReturnFields: searchReturnFields,
	})
	if err != nil {
		return nil, fmt.Errorf("knn search: %w", err)
	}

	hits := make([]domknow.Hit, 0, len(res.Entries))
	for _, e := range res.Entries {
		if e.Score <= threshold {
			continue
		}
		rec, err := parseHashFields(recordID(e.Key), e.Fields)
		if err != nil {
			r.logger.Warn("Skipping unreadable knowledge record", zap.String("key", e.Key), zap.Error(err))
			continue
		}
		hits = append(hits, domknow.Hit{Record: *rec, Similarity: e.Score})
	}
	return hits, nil
}

// MarkFetched bumps the fetch counter and last fetch time of each record
// in one round trip.
func (r *Repo) MarkFetched(ctx context.Context, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	ts := formatTime(now)
	updates := make([]db.HashUpdate, len(ids))
	for i, id := range ids {
		updates[i] = db.HashUpdate{
			Key:  recordKey(id),
			Incr: map[string]int64{fieldFetchCount: 1},
			Set:  map[string]string{fieldLastFetchedAt: ts, fieldUpdatedAt: ts},
		}
	}
	if err := r.store.HUpdateMulti(ctx, updates); err != nil {
		return fmt.Errorf("mark fetched: %w", err)
	}
	return nil
}

func recordKey(id string) string {
	return keyPrefix + id
}

func recordID(key string) string {
	if len(key) > len(keyPrefix) && key[:len(keyPrefix)] == keyPrefix {
		return key[len(keyPrefix):]
	}
	return key
}
