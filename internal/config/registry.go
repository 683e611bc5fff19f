package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voxident/pkg/provider/diarize"
	"github.com/MrWong99/voxident/pkg/provider/llm"
	"github.com/MrWong99/voxident/pkg/provider/speaker"
	"github.com/MrWong99/voxident/pkg/provider/vad"
	"github.com/MrWong99/voxident/pkg/provider/vectorstore"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	diarize     map[string]func(ProviderEntry) (diarize.Provider, error)
	llm         map[string]func(ProviderEntry) (llm.Provider, error)
	vad         map[string]func(ProviderEntry) (vad.Detector, error)
	speaker     map[string]func(ProviderEntry) (speaker.Encoder, error)
	vectorstore map[string]func(context.Context, ProviderEntry) (vectorstore.Store, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		diarize:     make(map[string]func(ProviderEntry) (diarize.Provider, error)),
		llm:         make(map[string]func(ProviderEntry) (llm.Provider, error)),
		vad:         make(map[string]func(ProviderEntry) (vad.Detector, error)),
		speaker:     make(map[string]func(ProviderEntry) (speaker.Encoder, error)),
		vectorstore: make(map[string]func(context.Context, ProviderEntry) (vectorstore.Store, error)),
	}
}

// RegisterDiarize registers a diarized-transcription provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDiarize(name string, factory func(ProviderEntry) (diarize.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diarize[name] = factory
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterVAD registers a voice-activity detector factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Detector, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterSpeaker registers a speaker-embedding encoder factory under name.
func (r *Registry) RegisterSpeaker(name string, factory func(ProviderEntry) (speaker.Encoder, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speaker[name] = factory
}

// RegisterVectorStore registers a voiceprint store factory under name.
// Store factories take a context because backends like Postgres dial and
// apply schema during construction.
func (r *Registry) RegisterVectorStore(name string, factory func(context.Context, ProviderEntry) (vectorstore.Store, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vectorstore[name] = factory
}

// CreateDiarize instantiates a diarized-transcription provider using the
// factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateDiarize(entry ProviderEntry) (diarize.Provider, error) {
	r.mu.RLock()
	factory, ok := r.diarize[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: diarize/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVAD instantiates a voice-activity detector using the factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Detector, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSpeaker instantiates a speaker-embedding encoder using the factory registered under entry.Name.
func (r *Registry) CreateSpeaker(entry ProviderEntry) (speaker.Encoder, error) {
	r.mu.RLock()
	factory, ok := r.speaker[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: speaker/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVectorStore instantiates a voiceprint store using the factory registered under entry.Name.
func (r *Registry) CreateVectorStore(ctx context.Context, entry ProviderEntry) (vectorstore.Store, error) {
	r.mu.RLock()
	factory, ok := r.vectorstore[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vectorstore/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(ctx, entry)
}
