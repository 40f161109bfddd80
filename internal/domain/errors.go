package domain

import "errors"

// Retrieval stage failures. Each one is absorbed at its own stage boundary
// and never reaches the caller of Search.
var (
	// ErrEmbedding signals that query or document embedding failed.
	ErrEmbedding = errors.New("embedding failed")
	// ErrStoreQuery signals a failed vector store query.
	ErrStoreQuery = errors.New("store query failed")
	// ErrExternalClient signals an unreachable, rate-limited or malformed external API.
	ErrExternalClient = errors.New("external client failed")
	// ErrMerge signals malformed input during result merging.
	ErrMerge = errors.New("merge failed")
	// ErrOrchestration signals an unexpected failure outside the retrieval stages.
	ErrOrchestration = errors.New("orchestration failed")
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrInvalidRecord signals a knowledge record that fails validation.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrInvalidConfig signals retrieval configuration that cannot be used.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrQuotaExceeded signals an exhausted embedding token budget.
	ErrQuotaExceeded = errors.New("embedding quota exceeded")
)
