// Package pinecone provides a vectorstore.Store backed by the Pinecone
// data-plane REST API.
//
// The adapter talks directly to an index host ("https://<index>-<proj>
// .svc.<env>.pinecone.io") with a hand-rolled HTTP client. Sample counts
// and timestamps ride along as vector metadata. The index must be
// configured with the cosine metric so query scores land in [-1, 1].
//
// Usage:
//
//	st, err := pinecone.New(apiKey, indexHost)
//	matches, err := st.Query(ctx, vec, 5)
package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/MrWong99/voxident/pkg/provider/vectorstore"
)

const defaultTimeout = 30 * time.Second

// Compile-time assertion that Store implements vectorstore.Store.
var _ vectorstore.Store = (*Store)(nil)

// Option is a functional option for configuring a Store.
type Option func(*Store)

// WithNamespace scopes all operations to the given Pinecone namespace.
// Defaults to the index's default namespace.
func WithNamespace(ns string) Option {
	return func(s *Store) { s.namespace = ns }
}

// WithHTTPClient replaces the default HTTP client (30 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.httpClient = c }
}

// Store implements vectorstore.Store against one Pinecone index host.
// Safe for concurrent use.
type Store struct {
	apiKey     string
	host       string
	namespace  string
	httpClient *http.Client
}

// New creates a Store for the index at host authenticated with apiKey.
func New(apiKey, host string, opts ...Option) (*Store, error) {
	if apiKey == "" {
		return nil, errors.New("pinecone: apiKey must not be empty")
	}
	if host == "" {
		return nil, errors.New("pinecone: index host must not be empty")
	}
	s := &Store{
		apiKey:     apiKey,
		host:       host,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// vectorPayload is the wire shape of one vector in upsert and fetch.
type vectorPayload struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Upsert implements vectorstore.Store.
func (s *Store) Upsert(ctx context.Context, rec vectorstore.Record) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	body := map[string]any{
		"vectors": []vectorPayload{{
			ID:     rec.Name,
			Values: rec.Vector,
			Metadata: map[string]any{
				"sample_count": rec.SampleCount,
				"created_at":   createdAt.Format(time.RFC3339),
				"updated_at":   time.Now().UTC().Format(time.RFC3339),
			},
		}},
	}
	if s.namespace != "" {
		body["namespace"] = s.namespace
	}
	if err := s.post(ctx, "/vectors/upsert", body, nil); err != nil {
		return fmt.Errorf("pinecone: upsert %q: %w", rec.Name, err)
	}
	return nil
}

// Get implements vectorstore.Store via the fetch endpoint.
func (s *Store) Get(ctx context.Context, name string) (*vectorstore.Record, error) {
	q := url.Values{"ids": {name}}
	if s.namespace != "" {
		q.Set("namespace", s.namespace)
	}
	var resp struct {
		Vectors map[string]vectorPayload `json:"vectors"`
	}
	if err := s.get(ctx, "/vectors/fetch?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("pinecone: fetch %q: %w", name, err)
	}
	v, ok := resp.Vectors[name]
	if !ok {
		return nil, vectorstore.ErrNotFound
	}
	rec := recordFromPayload(v)
	return &rec, nil
}

// Delete implements vectorstore.Store.
func (s *Store) Delete(ctx context.Context, name string) error {
	body := map[string]any{"ids": []string{name}}
	if s.namespace != "" {
		body["namespace"] = s.namespace
	}
	if err := s.post(ctx, "/vectors/delete", body, nil); err != nil {
		return fmt.Errorf("pinecone: delete %q: %w", name, err)
	}
	return nil
}

// Query implements vectorstore.Store.
func (s *Store) Query(ctx context.Context, vector []float32, k int) ([]vectorstore.Match, error) {
	body := map[string]any{
		"vector":          vector,
		"topK":            k,
		"includeValues":   false,
		"includeMetadata": false,
	}
	if s.namespace != "" {
		body["namespace"] = s.namespace
	}
	var resp struct {
		Matches []struct {
			ID    string  `json:"id"`
			Score float64 `json:"score"`
		} `json:"matches"`
	}
	if err := s.post(ctx, "/query", body, &resp); err != nil {
		return nil, fmt.Errorf("pinecone: query: %w", err)
	}
	matches := make([]vectorstore.Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		matches = append(matches, vectorstore.Match{Name: m.ID, Score: m.Score})
	}
	return matches, nil
}

// ListAll implements vectorstore.Store. Pinecone's list endpoint returns
// IDs only, so each page of IDs is fetched back for its metadata.
func (s *Store) ListAll(ctx context.Context) ([]vectorstore.Record, error) {
	var records []vectorstore.Record
	token := ""
	for {
		q := url.Values{"limit": {"99"}}
		if s.namespace != "" {
			q.Set("namespace", s.namespace)
		}
		if token != "" {
			q.Set("paginationToken", token)
		}
		var page struct {
			Vectors []struct {
				ID string `json:"id"`
			} `json:"vectors"`
			Pagination struct {
				Next string `json:"next"`
			} `json:"pagination"`
		}
		if err := s.get(ctx, "/vectors/list?"+q.Encode(), &page); err != nil {
			return nil, fmt.Errorf("pinecone: list: %w", err)
		}
		if len(page.Vectors) > 0 {
			fetchQ := url.Values{}
			if s.namespace != "" {
				fetchQ.Set("namespace", s.namespace)
			}
			for _, v := range page.Vectors {
				fetchQ.Add("ids", v.ID)
			}
			var fetched struct {
				Vectors map[string]vectorPayload `json:"vectors"`
			}
			if err := s.get(ctx, "/vectors/fetch?"+fetchQ.Encode(), &fetched); err != nil {
				return nil, fmt.Errorf("pinecone: list fetch page: %w", err)
			}
			for _, v := range fetched.Vectors {
				records = append(records, recordFromPayload(v))
			}
		}
		token = page.Pagination.Next
		if token == "" {
			return records, nil
		}
	}
}

// Ping implements vectorstore.Store using the index stats endpoint.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.post(ctx, "/describe_index_stats", map[string]any{}, nil); err != nil {
		return fmt.Errorf("pinecone: ping: %w", err)
	}
	return nil
}

// Close implements vectorstore.Store. The HTTP client holds no
// per-store resources.
func (s *Store) Close() error { return nil }

// ── HTTP plumbing ────────────────────────────────────────────────────────────

func (s *Store) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.host+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, out)
}

func (s *Store) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.host+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return s.do(req, out)
}

func (s *Store) do(req *http.Request, out any) error {
	req.Header.Set("Api-Key", s.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// recordFromPayload converts a fetched vector into a Record, tolerating
// missing or malformed metadata from vectors written by other tools.
func recordFromPayload(v vectorPayload) vectorstore.Record {
	rec := vectorstore.Record{Name: v.ID, Vector: v.Values}
	if n, ok := v.Metadata["sample_count"].(float64); ok {
		rec.SampleCount = int(n)
	}
	if ts, ok := v.Metadata["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			rec.CreatedAt = t
		}
	}
	if ts, ok := v.Metadata["updated_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			rec.UpdatedAt = t
		}
	}
	return rec
}
