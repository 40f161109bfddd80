package knowledge

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	domknow "github.com/kailas-cloud/ragcache/internal/domain/knowledge"
)

// Hash field names of a stored knowledge record.
const (
	fieldID             = "id"
	fieldContent        = "content"
	fieldData           = "data"
	fieldTitle          = "title"
	fieldSourceOrigin   = "source_origin"
	fieldExternalID     = "external_id"
	fieldEmbedding      = "embedding"
	fieldIsCached       = "is_cached"
	fieldCacheExpiresAt = "cache_expires_at"
	fieldLastFetchedAt  = "last_fetched_at"
	fieldFetchCount     = "fetch_count"
	fieldCreatedAt      = "created_at"
	fieldUpdatedAt      = "updated_at"
)

var searchReturnFields = []string{
	fieldID, fieldContent, fieldData, fieldTitle, fieldSourceOrigin,
	fieldExternalID, fieldEmbedding, fieldIsCached, fieldCacheExpiresAt,
}

// buildHashFields flattens a record for HSET. Timestamps are unix milliseconds.
func buildHashFields(rec *domknow.Record) (map[string]string, error) {
	m := make(map[string]string, 13)
	m[fieldID] = rec.ID
	m[fieldContent] = rec.Content
	m[fieldSourceOrigin] = rec.SourceOrigin
	m[fieldIsCached] = strconv.FormatBool(rec.IsCached)
	m[fieldFetchCount] = strconv.FormatInt(rec.FetchCount, 10)

	// nil data is not written so it reads back as nil
	if rec.Data != nil {
		raw, err := json.Marshal(rec.Data)
		if err != nil {
			return nil, fmt.Errorf("marshal data of %s: %w", rec.ID, err)
		}
		m[fieldData] = string(raw)
	}

	if rec.Title != "" {
		m[fieldTitle] = rec.Title
	}
	if rec.ExternalID != "" {
		m[fieldExternalID] = rec.ExternalID
	}
	if len(rec.Embedding) > 0 {
		m[fieldEmbedding] = vectorToBytes(rec.Embedding)
	}
	if !rec.CacheExpiresAt.IsZero() {
		m[fieldCacheExpiresAt] = formatTime(rec.CacheExpiresAt)
	}
	if !rec.LastFetchedAt.IsZero() {
		m[fieldLastFetchedAt] = formatTime(rec.LastFetchedAt)
	}
	if !rec.CreatedAt.IsZero() {
		m[fieldCreatedAt] = formatTime(rec.CreatedAt)
	}
	if !rec.UpdatedAt.IsZero() {
		m[fieldUpdatedAt] = formatTime(rec.UpdatedAt)
	}
	return m, nil
}

// parseHashFields rebuilds a record from a hash or a search entry.
func parseHashFields(id string, m map[string]string) (*domknow.Record, error) {
	rec := &domknow.Record{
		ID:           id,
		Content:      m[fieldContent],
		Title:        m[fieldTitle],
		SourceOrigin: m[fieldSourceOrigin],
		ExternalID:   m[fieldExternalID],
	}
	if v := m[fieldID]; v != "" {
		rec.ID = v
	}

	if raw := m[fieldData]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.Data); err != nil {
			return nil, fmt.Errorf("unmarshal data of %s: %w", id, err)
		}
	}
	if raw, ok := m[fieldEmbedding]; ok && raw != "" {
		vec, err := bytesToVector(raw)
		if err != nil {
			return nil, fmt.Errorf("decode embedding of %s: %w", id, err)
		}
		rec.Embedding = vec
	}

	rec.IsCached, _ = strconv.ParseBool(m[fieldIsCached])
	rec.FetchCount, _ = strconv.ParseInt(m[fieldFetchCount], 10, 64)
	rec.CacheExpiresAt = parseTime(m[fieldCacheExpiresAt])
	rec.LastFetchedAt = parseTime(m[fieldLastFetchedAt])
	rec.CreatedAt = parseTime(m[fieldCreatedAt])
	rec.UpdatedAt = parseTime(m[fieldUpdatedAt])
	return rec, nil
}

func formatTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// vectorToBytes serializes []float32 to a binary string (4 bytes per float, little-endian).
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

// bytesToVector deserializes a binary string back to []float32.
func bytesToVector(s string) ([]float32, error) {
	b := []byte(s)
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob: len=%d (not multiple of 4)", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
