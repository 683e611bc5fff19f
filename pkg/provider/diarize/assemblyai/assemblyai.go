// Package assemblyai provides a diarize.Provider backed by the
// AssemblyAI REST API.
//
// The flow is upload → create transcript with speaker_labels → poll
// until the job completes. Polling interval and API endpoints are
// configurable for tests; the overall deadline comes from the caller's
// context.
//
// Usage:
//
//	p, err := assemblyai.New(apiKey)
//	res, err := p.Transcribe(ctx, "meeting.wav")
package assemblyai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/MrWong99/voxident/pkg/provider/diarize"
)

const (
	defaultBaseURL      = "https://api.assemblyai.com"
	defaultPollInterval = 3 * time.Second
)

// Compile-time assertion that Provider implements diarize.Provider.
var _ diarize.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the default API endpoint. Used by tests and
// regional deployments.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithLanguage pins the transcript language instead of letting the
// provider detect it.
func WithLanguage(code string) Option {
	return func(p *Provider) { p.language = code }
}

// WithPollInterval sets the delay between transcript status polls.
// Defaults to 3 s.
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) { p.pollInterval = d }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements diarize.Provider against the AssemblyAI API.
// Safe for concurrent use; each Transcribe call is an independent job.
type Provider struct {
	apiKey       string
	baseURL      string
	language     string
	pollInterval time.Duration
	httpClient   *http.Client
}

// New creates a Provider authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("assemblyai: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		pollInterval: defaultPollInterval,
		// No client-level timeout: polling runs until the caller's
		// context expires.
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// transcript is the subset of the transcript resource the adapter reads.
type transcript struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Error      string `json:"error"`
	Language   string `json:"language_code"`
	AudioDurS  float64 `json:"audio_duration"`
	Utterances []struct {
		Speaker string `json:"speaker"`
		Text    string `json:"text"`
		Start   int64  `json:"start"`
		End     int64  `json:"end"`
	} `json:"utterances"`
}

// Transcribe implements diarize.Provider.
func (p *Provider) Transcribe(ctx context.Context, path string) (*diarize.Result, error) {
	uploadURL, err := p.upload(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("assemblyai: upload: %w", err)
	}

	id, err := p.createTranscript(ctx, uploadURL)
	if err != nil {
		return nil, fmt.Errorf("assemblyai: create transcript: %w", err)
	}

	tr, err := p.poll(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &diarize.Result{
		Language:        tr.Language,
		AudioDurationMS: int64(tr.AudioDurS * 1000),
	}
	for _, u := range tr.Utterances {
		if u.End <= u.Start {
			continue
		}
		result.Utterances = append(result.Utterances, diarize.Utterance{
			Speaker: u.Speaker,
			Text:    u.Text,
			StartMS: u.Start,
			EndMS:   u.End,
		})
	}
	sort.SliceStable(result.Utterances, func(i, j int) bool {
		return result.Utterances[i].StartMS < result.Utterances[j].StartMS
	})
	return result, nil
}

// upload streams the file to the upload endpoint and returns the
// provider-hosted URL for it.
func (p *Provider) upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v2/upload", f)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	var resp struct {
		UploadURL string `json:"upload_url"`
	}
	if err := p.do(req, &resp); err != nil {
		return "", err
	}
	if resp.UploadURL == "" {
		return "", errors.New("empty upload_url in response")
	}
	return resp.UploadURL, nil
}

// createTranscript submits the transcription job with speaker labels on.
func (p *Provider) createTranscript(ctx context.Context, audioURL string) (string, error) {
	body := map[string]any{
		"audio_url":      audioURL,
		"speaker_labels": true,
	}
	if p.language != "" {
		body["language_code"] = p.language
	} else {
		body["language_detection"] = true
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v2/transcript", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var tr transcript
	if err := p.do(req, &tr); err != nil {
		return "", err
	}
	if tr.ID == "" {
		return "", errors.New("empty transcript id in response")
	}
	return tr.ID, nil
}

// poll fetches the transcript until its status leaves the queue.
func (p *Provider) poll(ctx context.Context, id string) (*transcript, error) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v2/transcript/"+id, nil)
		if err != nil {
			return nil, fmt.Errorf("assemblyai: poll: %w", err)
		}
		var tr transcript
		if err := p.do(req, &tr); err != nil {
			return nil, fmt.Errorf("assemblyai: poll: %w", err)
		}

		switch tr.Status {
		case "completed":
			return &tr, nil
		case "error":
			return nil, fmt.Errorf("assemblyai: transcription failed: %s", tr.Error)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("assemblyai: poll: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *Provider) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
