package health

import "context"

// DBPinger checks vector store availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// Checker checks an optional dependency: the embedding provider or the external search API.
type Checker interface {
	HealthCheck(ctx context.Context) error
}
