package chi

import (
	"github.com/kailas-cloud/ragcache/internal/domain/search/result"
	"github.com/kailas-cloud/ragcache/internal/usecase/ingest"
	"github.com/kailas-cloud/ragcache/internal/usecase/usage"
)

// SearchRequest is the body of POST /v1/search.
type SearchRequest struct {
	Query string `json:"query"`
}

// SearchResultItem is one ranked result.
type SearchResultItem struct {
	ID           string         `json:"id"`
	Content      string         `json:"content"`
	Data         map[string]any `json:"data,omitempty"`
	Title        string         `json:"title,omitempty"`
	Similarity   float64        `json:"similarity"`
	SourceOrigin string         `json:"source_origin"`
	Source       string         `json:"source"`
}

// SearchResponse is the body of a successful search.
type SearchResponse struct {
	Results []SearchResultItem `json:"results"`
	Count   int                `json:"count"`
}

// KnowledgeRecord is one record of POST /v1/knowledge.
type KnowledgeRecord struct {
	ID      string         `json:"id,omitempty"`
	Content string         `json:"content"`
	Data    map[string]any `json:"data"`
	Title   string         `json:"title,omitempty"`
}

// IngestRequest is the body of POST /v1/knowledge.
type IngestRequest struct {
	Records []KnowledgeRecord `json:"records"`
}

// IngestResponse reports how many records were written.
type IngestResponse struct {
	Ingested int `json:"ingested"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version"`
}

// UsageResponse is the body of GET /v1/usage. Times are unix milliseconds.
type UsageResponse struct {
	Period          string `json:"period"`
	PeriodStart     int64  `json:"period_start"`
	PeriodEnd       int64  `json:"period_end"`
	TokensUsed      int64  `json:"tokens_used"`
	TokensLimit     int64  `json:"tokens_limit"`
	TokensRemaining int64  `json:"tokens_remaining"`
	Exhausted       bool   `json:"is_exhausted"`
}

func reportToResponse(r usage.Report) UsageResponse {
	return UsageResponse{
		Period:          string(r.Period),
		PeriodStart:     r.Start.UnixMilli(),
		PeriodEnd:       r.End.UnixMilli(),
		TokensUsed:      r.Used,
		TokensLimit:     r.Limit,
		TokensRemaining: r.Remaining,
		Exhausted:       r.Exhausted,
	}
}

func resultToItem(r *result.Result) SearchResultItem {
	return SearchResultItem{
		ID:           r.ID(),
		Content:      r.Content(),
		Data:         r.Data(),
		Title:        r.Title(),
		Similarity:   r.Similarity(),
		SourceOrigin: r.Origin().String(),
		Source:       r.Source(),
	}
}

func recordsToInputs(records []KnowledgeRecord) []ingest.Input {
	out := make([]ingest.Input, len(records))
	for i, rec := range records {
		out[i] = ingest.Input{ID: rec.ID, Content: rec.Content, Data: rec.Data, Title: rec.Title}
	}
	return out
}
