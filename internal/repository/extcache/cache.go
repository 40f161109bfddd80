package extcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragcache/internal/db"
	"github.com/kailas-cloud/ragcache/internal/domain"
	domknow "github.com/kailas-cloud/ragcache/internal/domain/knowledge"
)

var queryKeyPrefix = domain.KeyPrefix + "extq:"

// kvStore holds the query -> record ids index (ISP).
type kvStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// recordStore persists materialized documents as knowledge records.
type recordStore interface {
	Upsert(ctx context.Context, rec *domknow.Record) error
	GetMany(ctx context.Context, ids []string) ([]*domknow.Record, error)
	MarkFetched(ctx context.Context, ids []string, now time.Time) error
}

// Cache materializes external search results as cached knowledge records.
type Cache struct {
	kv      kvStore
	records recordStore
	now     func() time.Time
	logger  *zap.Logger
}

// New creates an external results cache.
func New(kv kvStore, records recordStore, logger *zap.Logger) *Cache {
	return &Cache{kv: kv, records: records, now: time.Now, logger: logger}
}

// Lookup returns the documents cached for query. The entry counts as a miss
// when the index is gone or any of its records is missing or stale.
func (c *Cache) Lookup(ctx context.Context, query string) ([]domknow.ExternalDocument, bool, error) {
	key := queryKey(query)
	raw, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", key, err)
	}
	if len(ids) == 0 {
		return nil, false, nil
	}

	recs, err := c.records.GetMany(ctx, ids)
	if err != nil {
		return nil, false, fmt.Errorf("load cached records: %w", err)
	}

	now := c.now()
	docs := make([]domknow.ExternalDocument, 0, len(recs))
	for _, rec := range recs {
		if rec == nil || rec.IsStale(now) {
			return nil, false, nil
		}
		docs = append(docs, domknow.FromRecord(rec))
	}

	if err := c.records.MarkFetched(ctx, ids, now); err != nil {
		c.logger.Warn("Failed to mark cached records fetched", zap.Int("count", len(ids)), zap.Error(err))
	}
	return docs, true, nil
}

// Store materializes docs with the given ttl and indexes them under query.
// An empty docs slice is not cached.
func (c *Cache) Store(ctx context.Context, query string, docs []domknow.ExternalDocument, ttl time.Duration) error {
	if len(docs) == 0 {
		return nil
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: cache ttl must be positive", domain.ErrInvalidConfig)
	}

	now := c.now()
	ids := make([]string, 0, len(docs))
	for i := range docs {
		rec := docs[i].ToRecord(now, ttl)
		if err := c.records.Upsert(ctx, &rec); err != nil {
			return fmt.Errorf("materialize %s: %w", rec.ID, err)
		}
		ids = append(ids, rec.ID)
	}

	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode query index: %w", err)
	}
	key := queryKey(query)
	if err := c.kv.SetWithTTL(ctx, key, raw, ttl); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func queryKey(query string) string {
	h := sha256.Sum256([]byte(query))
	return queryKeyPrefix + hex.EncodeToString(h[:])
}
