package ragcache

import (
	"errors"

	"github.com/kailas-cloud/ragcache/internal/domain"
)

// ErrClosed is returned by every operation on a closed client.
var ErrClosed = errors.New("ragcache: client closed")

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrInvalidRecord     = domain.ErrInvalidRecord
	ErrInvalidConfig     = domain.ErrInvalidConfig
	ErrEmbedding         = domain.ErrEmbedding
	ErrVectorDimMismatch = domain.ErrVectorDimMismatch
	ErrRateLimited       = domain.ErrRateLimited
	ErrQuotaExceeded     = domain.ErrQuotaExceeded
)
