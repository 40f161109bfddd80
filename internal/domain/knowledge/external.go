package knowledge

import (
	"strings"
	"time"
)

// ExternalDocument is a keyword-search candidate returned by an external API.
type ExternalDocument struct {
	ID         string
	Content    string
	SourceName string
	Metadata   map[string]any
	Title      string
}

// ExternalIDPrefix starts the id of every materialized external record.
// Internal knowledge may not use it.
const ExternalIDPrefix = "ext:"

// RecordID returns the storage id of the materialized document.
// Source name keeps ids from different APIs apart.
func (d *ExternalDocument) RecordID() string {
	return ExternalIDPrefix + d.SourceName + ":" + d.ID
}

// IsExternalID reports whether id lies in the materialized external namespace.
func IsExternalID(id string) bool {
	return strings.HasPrefix(id, ExternalIDPrefix)
}

// ToRecord materializes the document as a cached record expiring after ttl.
func (d *ExternalDocument) ToRecord(now time.Time, ttl time.Duration) Record {
	return Record{
		ID:             d.RecordID(),
		Content:        d.Content,
		Data:           d.Metadata,
		Title:          d.Title,
		SourceOrigin:   d.SourceName,
		ExternalID:     d.ID,
		IsCached:       true,
		CacheExpiresAt: now.Add(ttl),
		LastFetchedAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// FromRecord rebuilds the external document from a materialized record.
func FromRecord(r *Record) ExternalDocument {
	return ExternalDocument{
		ID:         r.ExternalID,
		Content:    r.Content,
		SourceName: r.SourceOrigin,
		Metadata:   r.Data,
		Title:      r.Title,
	}
}
