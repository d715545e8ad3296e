// Package vector defines the namespaced vector store used for comment
// embeddings and the emotion reference set.
package vector

import (
	"context"
	"errors"
	"math"
)

// Store limits shared by all backends.
const (
	// MaxFetchBatch is the number of IDs fetched per round-trip.
	MaxFetchBatch = 1000
	// MaxListPage is the largest page ListByPrefix returns.
	MaxListPage = 1000
	// MaxTopK is the largest number of matches a query may request.
	MaxTopK = 10000
)

// ErrEmptyNamespace is returned when a call is made without a namespace.
var ErrEmptyNamespace = errors.New("vector: namespace is required")

// Record is one stored vector with its metadata.
type Record struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values,omitempty"`
	Metadata map[string]any `json:"metadata"`
}

// Match is one similarity query result. Score is in [0, 1].
type Match struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// UpsertResult reports how many records the store durably accepted.
type UpsertResult struct {
	UpsertedCount int `json:"upserted_count"`
}

// FetchStatus distinguishes the outcomes of a single-ID fetch.
type FetchStatus int

const (
	FetchNotFound FetchStatus = iota
	FetchFound
	FetchTransientError
)

func (s FetchStatus) String() string {
	switch s {
	case FetchFound:
		return "found"
	case FetchTransientError:
		return "transient_error"
	}
	return "not_found"
}

// FetchResult is the outcome of Fetch: Found(record) | NotFound | TransientError(err).
type FetchResult struct {
	Status FetchStatus
	Record Record
	Err    error
}

// Found builds a found result.
func Found(rec Record) FetchResult { return FetchResult{Status: FetchFound, Record: rec} }

// NotFound builds a not-found result.
func NotFound() FetchResult { return FetchResult{Status: FetchNotFound} }

// Transient builds a transient-error result.
func Transient(err error) FetchResult { return FetchResult{Status: FetchTransientError, Err: err} }

// QueryRequest describes a similarity query.
type QueryRequest struct {
	Vector          []float32
	TopK            int
	IncludeMetadata bool
	// Filter restricts matches to records whose metadata equals every entry.
	Filter map[string]any
}

// ListRequest describes one page of a prefix listing.
type ListRequest struct {
	Prefix          string
	Limit           int
	PaginationToken string
}

// ListPage is one page of IDs; NextToken is empty on the last page.
type ListPage struct {
	IDs       []string
	NextToken string
}

// NamespaceStats summarizes a namespace.
type NamespaceStats struct {
	VectorCount int64 `json:"vector_count"`
}

// IndexStats summarizes the whole index.
type IndexStats struct {
	Dimension  int                       `json:"dimension"`
	Namespaces map[string]NamespaceStats `json:"namespaces"`
}

// HealthStatus mirrors the store's readiness report.
type HealthStatus struct {
	Ready bool `json:"ready"`
}

// Store is a namespaced, content-addressed vector store. Every method takes
// the namespace explicitly; callers bind a tenant once with Scope.
type Store interface {
	Upsert(ctx context.Context, namespace string, records []Record) (UpsertResult, error)
	Fetch(ctx context.Context, namespace, id string) FetchResult
	// FetchMany returns the records found; missing IDs are absent from the map.
	FetchMany(ctx context.Context, namespace string, ids []string) (map[string]Record, error)
	Query(ctx context.Context, namespace string, req QueryRequest) ([]Match, error)
	ListByPrefix(ctx context.Context, namespace string, req ListRequest) (ListPage, error)
	Delete(ctx context.Context, namespace string, ids []string) error
	DescribeIndexStats(ctx context.Context) (IndexStats, error)
	Health(ctx context.Context) (HealthStatus, error)
}

// DistanceToSimilarity converts cosine distance (0 identical, 2 opposite)
// to a similarity in [0, 1].
func DistanceToSimilarity(distance float64) float64 {
	return clamp01(1.0 - (distance / 2.0))
}

// CosineSimilarity returns the cosine similarity of a and b mapped onto [0, 1].
// Mismatched or zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return DistanceToSimilarity(1 - cos)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// MetadataMatches reports whether meta contains every filter entry.
// Numbers compare by value regardless of their concrete type.
func MetadataMatches(meta, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := meta[k]
		if !ok {
			return false
		}
		if wf, ok := AsFloat(want); ok {
			gf, ok := AsFloat(got)
			if !ok || gf != wf {
				return false
			}
			continue
		}
		if got != want {
			return false
		}
	}
	return true
}

// AsFloat converts JSON-decoded or native numeric metadata to float64.
func AsFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case interface{ Float64() (float64, error) }:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

// AsInt64 converts numeric metadata to int64.
func AsInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case interface{ Int64() (int64, error) }:
		if n, err := x.Int64(); err == nil {
			return n, true
		}
	}
	f, ok := AsFloat(v)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// CopyMetadata returns a shallow copy of meta.
func CopyMetadata(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
