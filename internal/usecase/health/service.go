package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates an optional dependency is down; search still answers.
	Degraded Status = "degraded"
	// Unhealthy indicates the vector store is down.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

const defaultCheckTimeout = 3 * time.Second

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	db       DBPinger
	optional map[string]Checker
	timeout  time.Duration
	logger   *zap.Logger
}

// New creates a Service. embedding and external may be nil.
func New(db DBPinger, embedding, external Checker, logger *zap.Logger) *Service {
	optional := make(map[string]Checker, 2)
	if embedding != nil {
		optional["embedding"] = embedding
	}
	if external != nil {
		optional["external"] = external
	}
	return &Service{db: db, optional: optional, timeout: defaultCheckTimeout, logger: logger}
}

// Check runs every check concurrently, each under its own timeout.
func (s *Service) Check(ctx context.Context) Report {
	var mu sync.Mutex
	checks := make(map[string]CheckResult, len(s.optional)+1)
	run := func(name string, fn func(context.Context) error) func() error {
		return func() error {
			cctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			res := CheckOK
			if err := fn(cctx); err != nil {
				s.logger.Warn("Health check failed", zap.String("component", name), zap.Error(err))
				res = CheckError
			}
			mu.Lock()
			checks[name] = res
			mu.Unlock()
			return nil
		}
	}

	var g errgroup.Group
	g.Go(run("database", s.db.Ping))
	for name, c := range s.optional {
		g.Go(run(name, c.HealthCheck))
	}
	_ = g.Wait()

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}
	if checks["database"] == CheckError {
		status = Unhealthy
	}
	return Report{Status: status, Checks: checks}
}
