package result

import (
	"errors"
	"fmt"
	"math"
)

// Origin tags where a result came from. It drives the per-origin
// de-duplication in the merger and is never persisted.
type Origin uint8

const (
	// Unknown is the zero value: the result has not been tagged yet.
	Unknown Origin = iota
	// Internal results come from the vector store.
	Internal
	// External results come from the external search API.
	External
)

// String returns the wire name of the origin.
func (o Origin) String() string {
	switch o {
	case Internal:
		return "internal"
	case External:
		return "external"
	default:
		return "unknown"
	}
}

// InternalSource is the source name reported for internal results.
const InternalSource = "internal"

// DefaultExternalTitle labels external results that arrive without a title.
const DefaultExternalTitle = "External Source"

// Result is a single ranked hit.
type Result struct {
	id         string
	content    string
	data       map[string]any
	title      string
	similarity float64
	origin     Origin
	source     string
}

// NewInternal creates an internal result with its true cosine similarity.
func NewInternal(id, content string, data map[string]any, title string, similarity float64) (Result, error) {
	if id == "" {
		return Result{}, errors.New("result id is required")
	}
	if math.IsNaN(similarity) || math.IsInf(similarity, 0) {
		return Result{}, fmt.Errorf("result %q: similarity must be finite", id)
	}
	return Result{
		id: id, content: content, data: data, title: title,
		similarity: similarity, origin: Internal, source: InternalSource,
	}, nil
}

// NewExternal creates an external result. External candidates carry a
// nominal similarity, not a score computed against the query.
func NewExternal(id, content, sourceName string, metadata map[string]any, title string, similarity float64) (Result, error) {
	if id == "" {
		return Result{}, errors.New("result id is required")
	}
	if sourceName == "" {
		return Result{}, fmt.Errorf("result %q: source name is required", id)
	}
	if math.IsNaN(similarity) || math.IsInf(similarity, 0) {
		return Result{}, fmt.Errorf("result %q: similarity must be finite", id)
	}
	if title == "" {
		title = DefaultExternalTitle
	}
	return Result{
		id: id, content: content, data: metadata, title: title,
		similarity: similarity, origin: External, source: sourceName,
	}, nil
}

// ID returns the result identifier.
func (r Result) ID() string { return r.id }

// Content returns the text body.
func (r Result) Content() string { return r.content }

// Data returns the structured payload (metadata for external results).
func (r Result) Data() map[string]any { return r.data }

// Title returns the display label, possibly empty for internal results.
func (r Result) Title() string { return r.title }

// Similarity returns the relevance score used for ranking.
func (r Result) Similarity() float64 { return r.similarity }

// Origin returns the origin tag.
func (r Result) Origin() Origin { return r.origin }

// Source returns the source name.
func (r Result) Source() string { return r.source }

// WithOrigin returns a copy tagged with o.
func (r Result) WithOrigin(o Origin) Result {
	r.origin = o
	return r
}
