// Package summary turns a labeled meeting transcript into a structured
// summary via a chat-completion provider, and can share the result to a
// Slack channel.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/voxident/internal/errdefs"
	"github.com/MrWong99/voxident/internal/observe"
	"github.com/MrWong99/voxident/pkg/provider/llm"
)

// maxTranscriptChars caps the transcript handed to the model, roughly
// 12K tokens. Longer transcripts are cut with an explicit marker so the
// model knows the tail is missing.
const maxTranscriptChars = 50_000

const truncationMarker = "\n\n[Transcript truncated due to length...]"

// ActionItem is one task extracted from the meeting.
type ActionItem struct {
	Task     string `json:"task"`
	Assignee string `json:"assignee"`
}

// Summary is the structured meeting summary.
type Summary struct {
	ExecutiveSummary string       `json:"executive_summary"`
	ActionItems      []ActionItem `json:"action_items"`
	KeyDecisions     []string     `json:"key_decisions"`
	TopicsDiscussed  []string     `json:"topics_discussed"`
}

// Line is one labeled transcript turn.
type Line struct {
	// Speaker is the resolved display name, or the anonymous
	// "Unknown (<label>)" form.
	Speaker string

	// Text is the transcribed content.
	Text string
}

const systemPrompt = `You are a meeting notes assistant. Extract important information concisely, ordered by priority.

Analyze the transcript and provide:

1. **Executive Summary**: Covering the main purpose and key outcomes. Adjust the length based on topics covered in the transcript.

2. **Action Items**: List tasks in order of importance (most critical first).
   Format as JSON array:
   [{"assignee": "Name","task": "concise description with key details"}]
   - Assignee = whoever volunteered, was asked to do it, or proposed it, it can be more than one person.
   - If a speaker says "I'll do X", assign to that speaker
   - Skip trivial tasks
   - If no action items, return []

3. **Key Decisions**: List decisions in order of impact (most significant first).
   Return as JSON array of concise strings (under 15 words each).
   Skip minor or procedural decisions.

4. **Topics Discussed**: List main topics as short phrases (2-4 words each).

IMPORTANT: Prioritize quality over quantity. Be concise.
IMPORTANT: Speaker names appear before the colon (e.g., "Shaun:"). Always use that exact spelling for names, never phonetic variants from the transcript text.

Respond in JSON format:
{
  "executive_summary": "...",
  "action_items": [...],
  "key_decisions": [...],
  "topics_discussed": [...]
}`

// Generator produces summaries through an LLM provider.
type Generator struct {
	provider llm.Provider
	timeout  time.Duration
}

// NewGenerator creates a Generator. timeout bounds each provider call;
// zero means 60 seconds.
func NewGenerator(p llm.Provider, timeout time.Duration) *Generator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Generator{provider: p, timeout: timeout}
}

// Generate summarizes the transcript. An empty transcript is an
// InvalidInput error; provider failures surface as ProviderError or
// ProviderTimeout.
func (g *Generator) Generate(ctx context.Context, lines []Line) (*Summary, error) {
	transcript := FormatTranscript(lines)
	if strings.TrimSpace(transcript) == "" {
		return nil, errdefs.E(errdefs.KindInvalidInput, "no transcript content to summarize")
	}
	if len(transcript) > maxTranscriptChars {
		observe.Logger(ctx).Warn("transcript truncated for summary",
			"original_chars", len(transcript), "max_chars", maxTranscriptChars)
		transcript = transcript[:maxTranscriptChars] + truncationMarker
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.provider.Complete(ctx, llm.Request{
		System: systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: "Please summarize this meeting transcript:\n\n" + transcript},
		},
		JSONOnly: true,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errdefs.Wrap(errdefs.KindProviderTimeout, err, "summary provider %s timed out", g.provider.Name())
		}
		return nil, errdefs.Wrap(errdefs.KindProviderError, err, "summary provider %s", g.provider.Name())
	}

	var sum Summary
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &sum); err != nil {
		return nil, errdefs.Wrap(errdefs.KindProviderError, err, "summary provider %s returned malformed JSON", g.provider.Name())
	}

	observe.Logger(ctx).Info("summary generated",
		"provider", g.provider.Name(),
		"action_items", len(sum.ActionItems),
		"key_decisions", len(sum.KeyDecisions))
	return &sum, nil
}

// FormatTranscript renders lines as "Speaker: text", one turn per line.
func FormatTranscript(lines []Line) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", l.Speaker, l.Text)
	}
	return b.String()
}

// extractJSON strips a markdown code fence around s, if present. Models
// without a native JSON mode habitually wrap their output in one.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
