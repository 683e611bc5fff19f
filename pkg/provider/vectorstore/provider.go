// Package vectorstore defines the Store interface for voiceprint vector
// index backends.
//
// A Store persists named voiceprint vectors with their sample-count
// metadata and answers top-k cosine-similarity queries. Names are
// case-sensitive unique keys. Scores are raw cosine similarity in
// [-1, 1], larger meaning more similar.
//
// Implementations surface network errors to the caller unchanged; no
// adapter retries internally. All implementations must be safe for
// concurrent use.
package vectorstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no record exists under the
// requested name.
var ErrNotFound = errors.New("vectorstore: record not found")

// Record is a stored voiceprint: the current best-estimate embedding for
// one enrolled name, never a raw sample.
type Record struct {
	// Name is the unique, case-sensitive speaker name.
	Name string

	// Vector is the voiceprint embedding, unit L2 norm.
	Vector []float32

	// SampleCount is the number of weighted samples folded into Vector.
	// Monotonically non-decreasing over the life of a name.
	SampleCount int

	// CreatedAt is when the name was first enrolled.
	CreatedAt time.Time

	// UpdatedAt is when Vector was last replaced.
	UpdatedAt time.Time
}

// Match is one query result: an enrolled name and its cosine similarity
// to the query vector.
type Match struct {
	Name  string
	Score float64
}

// Store is the abstraction over any vector index backend.
type Store interface {
	// Upsert stores rec under rec.Name, replacing any prior record.
	Upsert(ctx context.Context, rec Record) error

	// Get fetches the record stored under name, or ErrNotFound.
	Get(ctx context.Context, name string) (*Record, error)

	// Delete removes the record stored under name. Deleting a missing
	// name is not an error.
	Delete(ctx context.Context, name string) error

	// Query returns up to k matches sorted by descending score.
	Query(ctx context.Context, vector []float32, k int) ([]Match, error)

	// ListAll returns every stored record. Vectors may be omitted by
	// backends where fetching them is expensive; Name, SampleCount and
	// timestamps are always populated.
	ListAll(ctx context.Context) ([]Record, error)

	// Ping verifies the backend is reachable. Used by readiness checks.
	Ping(ctx context.Context) error

	// Close releases connections. Calling Close more than once is safe.
	Close() error
}
