// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to feed controlled completions to the
// summary service without any network calls.
//
// Example:
//
//	p := &mock.Provider{Content: `{"executive_summary":"..."}`}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxident/pkg/provider/llm"
)

// Provider is a mock implementation of llm.Provider.
// Zero values cause Complete to return an empty response.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// CompleteFn, if non-nil, handles each call. It takes precedence
	// over Content and Err.
	CompleteFn func(ctx context.Context, req llm.Request) (*llm.Response, error)

	// Content is returned as the response content when CompleteFn is nil.
	Content string

	// Err, if non-nil, is returned as the error from Complete.
	Err error

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// --- Call records (read after test) ---

	// Requests records every request passed to Complete, in order.
	Requests []llm.Request
}

var _ llm.Provider = (*Provider)(nil)

// Complete records the call and returns the configured response.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.Requests = append(p.Requests, req)
	fn, content, err := p.CompleteFn, p.Content, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return &llm.Response{Content: content}, nil
}

// Name returns ProviderName, or "mock" when unset.
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ProviderName != "" {
		return p.ProviderName
	}
	return "mock"
}
