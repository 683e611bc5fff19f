// Package match resolves diarized speaker labels to enrolled names.
//
// Matching is competitive: every label queries the vector store for its
// nearest enrolled voiceprints, and a single minimum-cost assignment over
// all labels decides who may claim which name. This prevents two labels
// in one meeting from both being identified as the same person, which a
// naive per-label nearest-neighbor lookup regularly produces when one
// participant dominates the index.
package match

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/voxident/pkg/provider/vectorstore"
)

// Confidence is the tier assigned to one label's match.
type Confidence string

const (
	// ConfidenceHigh means the label won its name in the assignment with
	// both score and margin above threshold. The name is auto-assigned.
	ConfidenceHigh Confidence = "high"

	// ConfidenceMedium means the best score cleared the threshold but the
	// match is ambiguous; the caller must ask the user to confirm.
	ConfidenceMedium Confidence = "medium"

	// ConfidenceLow means no enrolled voiceprint is a plausible match.
	ConfidenceLow Confidence = "low"
)

// Config holds the matcher thresholds.
type Config struct {
	// HighScore is the minimum cosine similarity for any confident match.
	HighScore float64

	// HighMargin is the minimum lead over the runner-up name required to
	// auto-assign without confirmation.
	HighMargin float64

	// TopK is how many neighbors each label fetches from the store.
	TopK int
}

// DefaultConfig returns the canonical thresholds.
func DefaultConfig() Config {
	return Config{HighScore: 0.55, HighMargin: 0.10, TopK: 5}
}

// Candidate is one enrolled name with its similarity to a label.
type Candidate struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Result is the match outcome for one diarized label.
type Result struct {
	// Label is the diarization provider's speaker label.
	Label string

	// Confidence is the assigned tier.
	Confidence Confidence

	// AssignedName is set only for high confidence.
	AssignedName string

	// TopScore is the similarity to the assigned (or best) candidate.
	TopScore float64

	// Margin is TopScore minus the best score among the other names. With
	// a single candidate it equals TopScore.
	Margin float64

	// Candidates are the label's store neighbors, best first.
	Candidates []Candidate
}

// padCost fills matrix cells for (label, name) pairs the store never
// returned. Cosine similarity bottoms out at -1, so cost 2 makes such a
// pairing strictly worse than any observed one.
const padCost = 2.0

// Matcher runs the competitive assignment over a vector store.
// Thresholds may be swapped at runtime with [Matcher.SetConfig].
type Matcher struct {
	store vectorstore.Store

	mu  sync.RWMutex
	cfg Config
}

// New creates a Matcher. Zero-value cfg fields fall back to defaults.
func New(store vectorstore.Store, cfg Config) *Matcher {
	return &Matcher{store: store, cfg: withDefaults(cfg)}
}

// SetConfig replaces the thresholds. In-flight Match calls keep the
// snapshot they started with.
func (m *Matcher) SetConfig(cfg Config) {
	cfg = withDefaults(cfg)
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

func (m *Matcher) config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.HighScore == 0 {
		cfg.HighScore = def.HighScore
	}
	if cfg.HighMargin == 0 {
		cfg.HighMargin = def.HighMargin
	}
	if cfg.TopK == 0 {
		cfg.TopK = def.TopK
	}
	return cfg
}

// Match resolves every label's embedding against the enrolled set.
//
// All labels are matched in one call because the assignment is global:
// the outcome for one label depends on which names its peers claim. The
// returned map has an entry for every input label.
func (m *Matcher) Match(ctx context.Context, embeddings map[string][]float32) (map[string]*Result, error) {
	cfg := m.config()
	labels := make([]string, 0, len(embeddings))
	for l := range embeddings {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	// Per-label neighbor lists and the union of names they mention.
	neighbors := make(map[string][]Candidate, len(labels))
	nameIdx := make(map[string]int)
	var names []string
	for _, label := range labels {
		matches, err := m.store.Query(ctx, embeddings[label], cfg.TopK)
		if err != nil {
			return nil, fmt.Errorf("match: query neighbors for %s: %w", label, err)
		}
		cands := make([]Candidate, 0, len(matches))
		for _, mt := range matches {
			cands = append(cands, Candidate{Name: mt.Name, Score: mt.Score})
			if _, ok := nameIdx[mt.Name]; !ok {
				nameIdx[mt.Name] = len(names)
				names = append(names, mt.Name)
			}
		}
		neighbors[label] = cands
	}

	// assigned[label] = name the Hungarian step awarded, if any.
	assigned := make(map[string]string, len(labels))
	if len(names) > 0 {
		n := len(labels)
		if len(names) > n {
			n = len(names)
		}
		cost := make([][]float64, n)
		for i := range cost {
			cost[i] = make([]float64, n)
			for j := range cost[i] {
				cost[i][j] = padCost
			}
		}
		for i, label := range labels {
			for _, c := range neighbors[label] {
				cost[i][nameIdx[c.Name]] = 1 - c.Score
			}
		}
		cols := assign(cost)
		for i, label := range labels {
			j := cols[i]
			if j >= len(names) {
				continue // padding column, label stays unpaired
			}
			name := names[j]
			// The pairing only counts when the store actually returned
			// this name for this label; a padded cell means the solver
			// had nothing better, not that the pair is plausible.
			if scoreFor(neighbors[label], name) != nil {
				assigned[label] = name
			}
		}
	}

	results := make(map[string]*Result, len(labels))
	for _, label := range labels {
		results[label] = classify(cfg, label, neighbors[label], assigned[label])
	}
	return results, nil
}

// classify applies the tier rules for one label given its neighbor list
// and the name the assignment awarded it ("" when it lost or was padded).
func classify(cfg Config, label string, cands []Candidate, won string) *Result {
	res := &Result{Label: label, Confidence: ConfidenceLow, Candidates: cands}
	if len(cands) == 0 {
		return res
	}

	// Losers fall back to their own best candidate for scoring.
	name := won
	if name == "" {
		name = cands[0].Name
	}
	res.TopScore = *scoreFor(cands, name)
	res.Margin = res.TopScore - bestExcluding(cands, name)

	switch {
	case won != "" && res.TopScore >= cfg.HighScore && res.Margin >= cfg.HighMargin:
		res.Confidence = ConfidenceHigh
		res.AssignedName = won
	case res.TopScore >= cfg.HighScore:
		res.Confidence = ConfidenceMedium
	}
	return res
}

func scoreFor(cands []Candidate, name string) *float64 {
	for _, c := range cands {
		if c.Name == name {
			return &c.Score
		}
	}
	return nil
}

// bestExcluding returns the best score among candidates other than name,
// or 0 when name is the only candidate (so the margin defaults to the
// top score itself).
func bestExcluding(cands []Candidate, name string) float64 {
	for _, c := range cands {
		if c.Name != name {
			return c.Score
		}
	}
	return 0
}
