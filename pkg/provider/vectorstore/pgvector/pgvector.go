// Package pgvector provides a vectorstore.Store backed by PostgreSQL
// with the pgvector extension.
//
// Voiceprints live in a single table with a cosine HNSW index; top-k
// queries are expressed as `1 - (embedding <=> $1)` so callers see raw
// cosine similarity in [-1, 1].
package pgvector

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvec "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/voxident/pkg/provider/vectorstore"
)

// schema creates the voiceprints table and its cosine index. The
// dimension placeholder is filled at connect time so the table matches
// the configured embedding model.
const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS voiceprints (
    name         TEXT PRIMARY KEY,
    embedding    VECTOR(%d) NOT NULL,
    sample_count INTEGER NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS voiceprints_embedding_idx
    ON voiceprints USING hnsw (embedding vector_cosine_ops);`

// Compile-time assertion that Store implements vectorstore.Store.
var _ vectorstore.Store = (*Store)(nil)

// Store implements vectorstore.Store on a pgxpool connection pool.
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a connection pool for dsn, applies the schema for the
// given embedding dimension and returns the ready Store.
func Connect(ctx context.Context, dsn string, dimensions int) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("pgvector: dsn must not be empty")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("pgvector: invalid embedding dimensions %d", dimensions)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(schema, dimensions)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector: apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Upsert implements vectorstore.Store. created_at survives replacement;
// updated_at always moves forward.
func (s *Store) Upsert(ctx context.Context, rec vectorstore.Record) error {
	const q = `
		INSERT INTO voiceprints (name, embedding, sample_count, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (name) DO UPDATE SET
		    embedding    = EXCLUDED.embedding,
		    sample_count = EXCLUDED.sample_count,
		    updated_at   = now()`

	_, err := s.pool.Exec(ctx, q, rec.Name, pgvec.NewVector(rec.Vector), rec.SampleCount)
	if err != nil {
		return fmt.Errorf("pgvector: upsert %q: %w", rec.Name, err)
	}
	return nil
}

// Get implements vectorstore.Store.
func (s *Store) Get(ctx context.Context, name string) (*vectorstore.Record, error) {
	const q = `
		SELECT name, embedding, sample_count, created_at, updated_at
		FROM   voiceprints
		WHERE  name = $1`

	var (
		rec vectorstore.Record
		vec pgvec.Vector
	)
	err := s.pool.QueryRow(ctx, q, name).Scan(
		&rec.Name, &vec, &rec.SampleCount, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, vectorstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgvector: get %q: %w", name, err)
	}
	rec.Vector = vec.Slice()
	return &rec, nil
}

// Delete implements vectorstore.Store.
func (s *Store) Delete(ctx context.Context, name string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM voiceprints WHERE name = $1`, name); err != nil {
		return fmt.Errorf("pgvector: delete %q: %w", name, err)
	}
	return nil
}

// Query implements vectorstore.Store. pgvector's <=> operator returns
// cosine distance; similarity = 1 - distance.
func (s *Store) Query(ctx context.Context, vector []float32, k int) ([]vectorstore.Match, error) {
	const q = `
		SELECT name, 1 - (embedding <=> $1) AS score
		FROM   voiceprints
		ORDER  BY embedding <=> $1
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvec.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("pgvector: query: %w", err)
	}
	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (vectorstore.Match, error) {
		var m vectorstore.Match
		err := row.Scan(&m.Name, &m.Score)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("pgvector: scan matches: %w", err)
	}
	return matches, nil
}

// ListAll implements vectorstore.Store.
func (s *Store) ListAll(ctx context.Context) ([]vectorstore.Record, error) {
	const q = `
		SELECT name, embedding, sample_count, created_at, updated_at
		FROM   voiceprints
		ORDER  BY name`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("pgvector: list: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (vectorstore.Record, error) {
		var (
			rec vectorstore.Record
			vec pgvec.Vector
		)
		if err := row.Scan(&rec.Name, &vec, &rec.SampleCount, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return vectorstore.Record{}, err
		}
		rec.Vector = vec.Slice()
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("pgvector: scan records: %w", err)
	}
	return records, nil
}

// Ping implements vectorstore.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pgvector: ping: %w", err)
	}
	return nil
}

// Close implements vectorstore.Store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
