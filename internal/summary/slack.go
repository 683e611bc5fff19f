package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxident/internal/errdefs"
	"github.com/MrWong99/voxident/internal/observe"
)

const slackTimeout = 10 * time.Second

// SlackOption is a functional option for configuring the SlackNotifier.
type SlackOption func(*SlackNotifier)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) SlackOption {
	return func(n *SlackNotifier) {
		n.httpClient = c
	}
}

// SlackNotifier posts meeting summaries to a Slack incoming webhook.
// The webhook URL may be swapped at runtime with
// [SlackNotifier.SetWebhookURL].
type SlackNotifier struct {
	mu         sync.RWMutex
	webhookURL string

	httpClient *http.Client
}

// NewSlackNotifier creates a SlackNotifier. An empty webhook URL is
// allowed and leaves the notifier unconfigured; Send then fails and
// [SlackNotifier.Configured] reports false.
func NewSlackNotifier(webhookURL string, opts ...SlackOption) *SlackNotifier {
	n := &SlackNotifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: slackTimeout},
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// SetWebhookURL replaces the webhook target. An empty URL unconfigures
// the notifier.
func (n *SlackNotifier) SetWebhookURL(url string) {
	n.mu.Lock()
	n.webhookURL = url
	n.mu.Unlock()
}

func (n *SlackNotifier) webhook() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.webhookURL
}

// Configured reports whether a webhook URL is set.
func (n *SlackNotifier) Configured() bool { return n.webhook() != "" }

// ---- Block Kit payload types ----

type textObject struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type block struct {
	Type     string       `json:"type"`
	Text     *textObject  `json:"text,omitempty"`
	Elements []textObject `json:"elements,omitempty"`
}

type webhookPayload struct {
	Text   string  `json:"text"` // notification fallback
	Blocks []block `json:"blocks"`
}

// Send posts the summary to the configured webhook.
func (n *SlackNotifier) Send(ctx context.Context, sum *Summary, audioDurationMS int64, createdAt time.Time) error {
	url := n.webhook()
	if url == "" {
		return errdefs.E(errdefs.KindInvalidInput, "slack webhook not configured")
	}

	payload := webhookPayload{
		Text:   fallbackText(sum.ExecutiveSummary),
		Blocks: buildBlocks(sum, audioDurationMS, createdAt),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("summary: marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("summary: build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return errdefs.Wrap(errdefs.KindProviderError, err, "slack webhook unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errdefs.E(errdefs.KindProviderError, "slack returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	observe.Logger(ctx).Info("summary shared to slack", "status", resp.StatusCode)
	return nil
}

// buildBlocks renders the summary as Slack Block Kit blocks: a header,
// a meta line, the executive summary, then optional action-item,
// decision and topic sections.
func buildBlocks(sum *Summary, audioDurationMS int64, createdAt time.Time) []block {
	meta := fmt.Sprintf(":calendar: %s  |  :stopwatch: %dm %ds",
		createdAt.Format("January 2, 2006 at 3:04 PM"),
		audioDurationMS/60_000, audioDurationMS%60_000/1000)

	blocks := []block{
		{Type: "header", Text: &textObject{Type: "plain_text", Text: ":memo: Meeting Summary", Emoji: true}},
		{Type: "context", Elements: []textObject{{Type: "mrkdwn", Text: meta}}},
		{Type: "divider"},
		{Type: "section", Text: &textObject{Type: "mrkdwn", Text: "*Executive Summary*\n" + sum.ExecutiveSummary}},
	}

	if len(sum.ActionItems) > 0 {
		var lines []string
		for _, item := range sum.ActionItems {
			line := "• " + item.Task
			if item.Assignee != "" {
				line += " — _" + item.Assignee + "_"
			}
			lines = append(lines, line)
		}
		blocks = append(blocks,
			block{Type: "divider"},
			block{Type: "section", Text: &textObject{Type: "mrkdwn", Text: "*Action Items*\n" + strings.Join(lines, "\n")}},
		)
	}

	if len(sum.KeyDecisions) > 0 {
		var lines []string
		for _, d := range sum.KeyDecisions {
			lines = append(lines, "• "+d)
		}
		blocks = append(blocks,
			block{Type: "divider"},
			block{Type: "section", Text: &textObject{Type: "mrkdwn", Text: "*Key Decisions*\n" + strings.Join(lines, "\n")}},
		)
	}

	if len(sum.TopicsDiscussed) > 0 {
		blocks = append(blocks, block{Type: "context", Elements: []textObject{
			{Type: "mrkdwn", Text: ":speech_balloon: *Topics:* " + strings.Join(sum.TopicsDiscussed, ", ")},
		}})
	}
	return blocks
}

// fallbackText is the plain notification line shown where blocks don't
// render. Truncated on a rune boundary.
func fallbackText(execSummary string) string {
	const maxRunes = 150
	runes := []rune(execSummary)
	if len(runes) > maxRunes {
		execSummary = string(runes[:maxRunes]) + "..."
	}
	return "Meeting Summary: " + execSummary
}
