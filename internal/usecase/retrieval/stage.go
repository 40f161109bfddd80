package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/kailas-cloud/ragcache/internal/domain"
	"github.com/kailas-cloud/ragcache/internal/domain/search/result"
)

// Stage names a step of the retrieval pipeline.
type Stage string

// Pipeline stages, also used as metric labels.
const (
	StageInternal      Stage = "internal"
	StageExternal      Stage = "external"
	StageMerge         Stage = "merge"
	StageOrchestration Stage = "orchestration"
	StageFallback      Stage = "fallback"
)

// StageError is a failure absorbed at a stage boundary.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Outcome is the result of one retrieval stage. Err is set when the stage
// failed; Results is then empty.
type Outcome struct {
	Results []result.Result
	Err     error
}

// OrEmpty returns the results, or nil when the stage failed.
func (o Outcome) OrEmpty() []result.Result {
	if o.Err != nil {
		return nil
	}
	return o.Results
}

func failed(stage Stage, err error) Outcome {
	return Outcome{Err: &StageError{Stage: stage, Err: err}}
}

// as wraps err with sentinel unless it is already in the chain.
func as(sentinel, err error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// reason maps a stage error to a low-cardinality metric label.
func reason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, domain.ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrVectorDimMismatch):
		return "dimension"
	case errors.Is(err, domain.ErrEmbedding):
		return "embedding"
	case errors.Is(err, domain.ErrStoreQuery):
		return "store"
	case errors.Is(err, domain.ErrExternalClient):
		return "external"
	case errors.Is(err, domain.ErrMerge):
		return "merge"
	case errors.Is(err, domain.ErrOrchestration):
		return "orchestration"
	default:
		return "other"
	}
}

// recoverStage turns a panic inside a stage into an orchestration error.
func recoverStage(stage Stage, errp *error) {
	if r := recover(); r != nil {
		*errp = &StageError{Stage: stage, Err: fmt.Errorf("%w: panic: %v", domain.ErrOrchestration, r)}
	}
}
