package extcache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragcache/internal/db"
	domknow "github.com/kailas-cloud/ragcache/internal/domain/knowledge"
)

// memKV is an in-memory kvStore.
type memKV struct {
	data  map[string][]byte
	ttls  map[string]time.Duration
	getFn func(ctx context.Context, key string) ([]byte, error)
}

func newMemKV() *memKV {
	return &memKV{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memKV) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	v, ok := m.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *memKV) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

// memRecords is an in-memory recordStore.
type memRecords struct {
	recs     map[string]*domknow.Record
	upsertFn func(ctx context.Context, rec *domknow.Record) error
	fetched  [][]string
	markErr  error
}

func newMemRecords() *memRecords {
	return &memRecords{recs: map[string]*domknow.Record{}}
}

func (m *memRecords) Upsert(ctx context.Context, rec *domknow.Record) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, rec)
	}
	cp := *rec
	m.recs[rec.ID] = &cp
	return nil
}

func (m *memRecords) GetMany(_ context.Context, ids []string) ([]*domknow.Record, error) {
	out := make([]*domknow.Record, len(ids))
	for i, id := range ids {
		out[i] = m.recs[id]
	}
	return out, nil
}

func (m *memRecords) MarkFetched(_ context.Context, ids []string, now time.Time) error {
	m.fetched = append(m.fetched, ids)
	if m.markErr != nil {
		return m.markErr
	}
	for _, id := range ids {
		rec := m.recs[id]
		rec.FetchCount++
		rec.LastFetchedAt = now
	}
	return nil
}

func newTestCache(now time.Time) (*Cache, *memKV, *memRecords) {
	kv := newMemKV()
	recs := newMemRecords()
	c := New(kv, recs, zap.NewNop())
	c.now = func() time.Time { return now }
	return c, kv, recs
}
