package voiceprint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestMirror_ReadMissingFile(t *testing.T) {
	t.Parallel()
	m := NewMirror(filepath.Join(t.TempDir(), "speakers.json"))

	entries, err := m.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries, want empty map", len(entries))
	}
}

func TestMirror_SetAndRemove(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "speakers.json")
	m := NewMirror(path)

	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	if err := m.Set("Alice", MirrorEntry{Samples: 3, UpdatedAt: now}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := m.Set("Bob", MirrorEntry{Samples: 1, UpdatedAt: now}); err != nil {
		t.Fatalf("set: %v", err)
	}

	entries, err := m.Read()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries["Alice"].Samples != 3 {
		t.Errorf("entries = %+v", entries)
	}
	if !entries["Alice"].UpdatedAt.Equal(now) {
		t.Errorf("updated_at = %v, want %v", entries["Alice"].UpdatedAt, now)
	}

	if err := m.Remove("Alice"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	entries, _ = m.Read()
	if _, ok := entries["Alice"]; ok {
		t.Error("Alice still present after remove")
	}

	// Removing a missing name is a no-op.
	if err := m.Remove("Carol"); err != nil {
		t.Errorf("remove missing: %v", err)
	}
}

func TestMirror_FileShape(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "speakers.json")
	m := NewMirror(path)

	if err := m.Set("Alice", MirrorEntry{Samples: 3, UpdatedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("mirror is not a JSON object: %v", err)
	}
	if _, ok := raw["Alice"]["samples"]; !ok {
		t.Errorf("mirror entry missing samples field: %s", data)
	}
	if _, ok := raw["Alice"]["updated_at"]; !ok {
		t.Errorf("mirror entry missing updated_at field: %s", data)
	}
}

func TestMirror_WriteLeavesNoTempFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	m := NewMirror(filepath.Join(dir, "speakers.json"))

	if err := m.Write(map[string]MirrorEntry{"Alice": {Samples: 1}}); err != nil {
		t.Fatal(err)
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Name() != "speakers.json" {
		names := make([]string, 0, len(files))
		for _, f := range files {
			names = append(names, f.Name())
		}
		t.Errorf("dir contents = %v, want only speakers.json", names)
	}
}

func TestMirror_ConcurrentSets(t *testing.T) {
	t.Parallel()
	m := NewMirror(filepath.Join(t.TempDir(), "speakers.json"))

	var wg sync.WaitGroup
	names := []string{"Alice", "Bob", "Carol", "Dave"}
	for _, name := range names {
		for i := 1; i <= 5; i++ {
			wg.Add(1)
			go func(name string, samples int) {
				defer wg.Done()
				_ = m.Set(name, MirrorEntry{Samples: samples})
			}(name, i)
		}
	}
	wg.Wait()

	entries, err := m.Read()
	if err != nil {
		t.Fatalf("mirror corrupted by concurrent writes: %v", err)
	}
	if len(entries) != len(names) {
		t.Errorf("got %d entries, want %d", len(entries), len(names))
	}
}
