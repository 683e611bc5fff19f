package voiceprint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MirrorEntry is one speaker's row in the local mirror file.
type MirrorEntry struct {
	Samples   int       `json:"samples"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Mirror is the local speakers.json file: a fast, human-readable listing
// of the enrolled set. The vector store is the source of truth; the
// mirror is rebuilt from it whenever they disagree.
type Mirror struct {
	mu   sync.Mutex
	path string
}

// NewMirror creates a Mirror persisted at path.
func NewMirror(path string) *Mirror {
	return &Mirror{path: path}
}

// Read loads the mirror. A missing file yields an empty map.
func (m *Mirror) Read() (map[string]MirrorEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readLocked()
}

// Write atomically replaces the mirror with entries: the new content is
// written to a temp file in the same directory and renamed into place,
// so a crash never leaves a half-written mirror.
func (m *Mirror) Write(entries map[string]MirrorEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLocked(entries)
}

// Set updates a single speaker's entry.
func (m *Mirror) Set(name string, entry MirrorEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.readLocked()
	if err != nil {
		return err
	}
	entries[name] = entry
	return m.writeLocked(entries)
}

// Remove deletes a speaker's entry. Removing a missing name is a no-op.
func (m *Mirror) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.readLocked()
	if err != nil {
		return err
	}
	if _, ok := entries[name]; !ok {
		return nil
	}
	delete(entries, name)
	return m.writeLocked(entries)
}

func (m *Mirror) readLocked() (map[string]MirrorEntry, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]MirrorEntry), nil
	}
	if err != nil {
		return nil, fmt.Errorf("voiceprint: read mirror: %w", err)
	}

	entries := make(map[string]MirrorEntry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("voiceprint: parse mirror: %w", err)
	}
	return entries, nil
}

func (m *Mirror) writeLocked(entries map[string]MirrorEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("voiceprint: marshal mirror: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(m.path)
	tmp, err := os.CreateTemp(dir, ".speakers-*.json")
	if err != nil {
		return fmt.Errorf("voiceprint: create mirror temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("voiceprint: write mirror temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("voiceprint: close mirror temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("voiceprint: replace mirror: %w", err)
	}
	return nil
}
