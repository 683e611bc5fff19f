// Package mock provides an in-memory test double for the
// vectorstore.Store interface.
//
// Unlike simple call recorders, Store actually stores records and
// answers queries with real cosine similarity, so matcher and registry
// tests exercise genuine ranking behaviour. Individual operations can
// still be forced to fail through the *Err fields.
package mock

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/voxident/pkg/provider/vectorstore"
)

// Store is a mock implementation of vectorstore.Store.
// The zero value is ready to use.
type Store struct {
	mu      sync.Mutex
	records map[string]vectorstore.Record

	// --- Forced failures ---

	// Err, if non-nil, is returned from every operation.
	Err error

	// UpsertErr, QueryErr and ListErr force failures on individual
	// operations without disabling the rest.
	UpsertErr error
	QueryErr  error
	ListErr   error

	// --- Call records (read after test) ---

	UpsertCalls []string
	QueryCalls  int
	DeleteCalls []string
}

var _ vectorstore.Store = (*Store)(nil)

// Upsert implements vectorstore.Store.
func (s *Store) Upsert(ctx context.Context, rec vectorstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpsertCalls = append(s.UpsertCalls, rec.Name)
	if s.Err != nil {
		return s.Err
	}
	if s.UpsertErr != nil {
		return s.UpsertErr
	}
	if s.records == nil {
		s.records = make(map[string]vectorstore.Record)
	}
	now := time.Now().UTC()
	if prev, ok := s.records[rec.Name]; ok {
		rec.CreatedAt = prev.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.Vector = append([]float32(nil), rec.Vector...)
	s.records[rec.Name] = rec
	return nil
}

// Get implements vectorstore.Store.
func (s *Store) Get(ctx context.Context, name string) (*vectorstore.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	rec, ok := s.records[name]
	if !ok {
		return nil, vectorstore.ErrNotFound
	}
	out := rec
	out.Vector = append([]float32(nil), rec.Vector...)
	return &out, nil
}

// Delete implements vectorstore.Store.
func (s *Store) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DeleteCalls = append(s.DeleteCalls, name)
	if s.Err != nil {
		return s.Err
	}
	delete(s.records, name)
	return nil
}

// Query implements vectorstore.Store with exact cosine similarity over
// the stored records.
func (s *Store) Query(ctx context.Context, vector []float32, k int) ([]vectorstore.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueryCalls++
	if s.Err != nil {
		return nil, s.Err
	}
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}
	matches := make([]vectorstore.Match, 0, len(s.records))
	for name, rec := range s.records {
		matches = append(matches, vectorstore.Match{Name: name, Score: Cosine(vector, rec.Vector)})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Name < matches[j].Name
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// ListAll implements vectorstore.Store.
func (s *Store) ListAll(ctx context.Context) ([]vectorstore.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	out := make([]vectorstore.Record, 0, len(s.records))
	for _, rec := range s.records {
		rec.Vector = append([]float32(nil), rec.Vector...)
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Ping implements vectorstore.Store.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Err
}

// Close implements vectorstore.Store.
func (s *Store) Close() error { return nil }

// Len reports the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Cosine computes the cosine similarity of two vectors. Zero vectors
// yield 0. Exported so tests can assert expected scores directly.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
