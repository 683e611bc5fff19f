// Package mock provides a test double for the diarize.Provider
// interface.
//
// Use Provider in unit tests to feed controlled transcripts to the
// identification pipeline without any network calls.
//
// Example:
//
//	p := &mock.Provider{Result: &diarize.Result{
//	    Utterances: []diarize.Utterance{{Speaker: "A", StartMS: 0, EndMS: 3000}},
//	    Language:   "en",
//	}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxident/pkg/provider/diarize"
)

// Provider is a mock implementation of diarize.Provider.
// Zero values cause Transcribe to return an empty Result.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// TranscribeFn, if non-nil, handles each call. It takes precedence
	// over Result and Err.
	TranscribeFn func(ctx context.Context, path string) (*diarize.Result, error)

	// Result is returned by Transcribe when TranscribeFn is nil.
	Result *diarize.Result

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Delay blocks Transcribe until it elapses or ctx is cancelled,
	// simulating a slow provider. Zero means return immediately.
	Delay func(ctx context.Context) error

	// --- Call records (read after test) ---

	// TranscribeCalls records the path passed to each call, in order.
	TranscribeCalls []string
}

var _ diarize.Provider = (*Provider)(nil)

// Transcribe records the call and returns the configured result.
func (p *Provider) Transcribe(ctx context.Context, path string) (*diarize.Result, error) {
	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, path)
	fn, res, err, delay := p.TranscribeFn, p.Result, p.Err, p.Delay
	p.mu.Unlock()

	if delay != nil {
		if derr := delay(ctx); derr != nil {
			return nil, derr
		}
	}
	if fn != nil {
		return fn(ctx, path)
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &diarize.Result{}, nil
	}
	out := *res
	out.Utterances = append([]diarize.Utterance(nil), res.Utterances...)
	return &out, nil
}
