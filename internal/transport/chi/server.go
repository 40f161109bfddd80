package chi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	gochi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragcache/internal/domain/search/result"
	"github.com/kailas-cloud/ragcache/internal/logger"
	healthuc "github.com/kailas-cloud/ragcache/internal/usecase/health"
	"github.com/kailas-cloud/ragcache/internal/usecase/ingest"
	"github.com/kailas-cloud/ragcache/internal/usecase/usage"
	"github.com/kailas-cloud/ragcache/internal/version"
)

const (
	maxQueryLength   = 8192
	maxSearchBody    = 64 << 10
	maxKnowledgeBody = 16 << 20
)

// Searcher answers retrieval queries. It never fails.
type Searcher interface {
	Search(ctx context.Context, query string) []result.Result
}

// Ingester stores internal knowledge.
type Ingester interface {
	Ingest(ctx context.Context, inputs []ingest.Input) (int, error)
}

// HealthChecker reports dependency health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// UsageReporter reports embedding token usage.
type UsageReporter interface {
	GetReport(ctx context.Context, period usage.Period) usage.Report
}

// Server exposes the retrieval core over HTTP.
type Server struct {
	search        Searcher
	ingest        Ingester
	health        HealthChecker
	usage         UsageReporter
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	search Searcher, ingest Ingester, health HealthChecker, usage UsageReporter, logger *zap.Logger,
) *Server {
	return &Server{
		search:        search,
		ingest:        ingest,
		health:        health,
		usage:         usage,
		logger:        logger,
		errorHandlers: defaultErrorHandlers(),
	}
}

// Register mounts the API routes on r.
func (s *Server) Register(r gochi.Router) {
	r.Post("/v1/search", s.Search)
	r.Post("/v1/knowledge", s.IngestKnowledge)
	r.Get("/v1/usage", s.GetUsage)
	r.Get("/health", s.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed")
	})
}

// Search handles POST /v1/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !decodeBody(w, r, maxSearchBody, &req) {
		return
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "query is required")
		return
	}
	if utf8.RuneCountInString(query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "query is too long")
		return
	}

	results := s.search.Search(r.Context(), query)

	items := make([]SearchResultItem, len(results))
	for i := range results {
		items[i] = resultToItem(&results[i])
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: items, Count: len(items)})
}

// IngestKnowledge handles POST /v1/knowledge.
func (s *Server) IngestKnowledge(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if !decodeBody(w, r, maxKnowledgeBody, &req) {
		return
	}
	if len(req.Records) == 0 {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "records must not be empty")
		return
	}

	n, err := s.ingest.Ingest(r.Context(), recordsToInputs(req.Records))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, IngestResponse{Ingested: n})
}

// GetUsage handles GET /v1/usage.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	period, ok := usage.ParsePeriod(r.URL.Query().Get("period"))
	if !ok {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "period must be day or month")
		return
	}
	writeJSON(w, http.StatusOK, reportToResponse(s.usage.GetReport(r.Context(), period)))
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, HealthResponse{
		Status:  string(report.Status),
		Checks:  checks,
		Version: version.Version,
	})
}

func (s *Server) log(r *http.Request) *zap.Logger {
	return logger.FromContextOr(r.Context(), s.logger)
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
