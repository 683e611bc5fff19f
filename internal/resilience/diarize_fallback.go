package resilience

import (
	"context"

	"github.com/MrWong99/voxident/pkg/provider/diarize"
)

// DiarizeFallback implements [diarize.Provider] with automatic failover
// across multiple transcription backends. Each backend has its own
// circuit breaker; when the primary fails or its breaker is open, the
// next healthy fallback is tried.
type DiarizeFallback struct {
	group *FallbackGroup[diarize.Provider]
}

// Compile-time interface assertion.
var _ diarize.Provider = (*DiarizeFallback)(nil)

// NewDiarizeFallback creates a [DiarizeFallback] with primary as the
// preferred backend.
func NewDiarizeFallback(primary diarize.Provider, primaryName string, cfg FallbackConfig) *DiarizeFallback {
	return &DiarizeFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcription provider as a fallback.
func (f *DiarizeFallback) AddFallback(name string, provider diarize.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe uploads the audio to the first healthy backend and returns
// its diarized transcript. Speaker labels are provider-local either way,
// so a mid-sequence switch to a fallback stays invisible to callers.
func (f *DiarizeFallback) Transcribe(ctx context.Context, path string) (*diarize.Result, error) {
	return ExecuteWithResult(ctx, f.group, func(p diarize.Provider) (*diarize.Result, error) {
		return p.Transcribe(ctx, path)
	})
}
