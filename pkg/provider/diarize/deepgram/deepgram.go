// Package deepgram provides a diarize.Provider backed by Deepgram's
// pre-recorded transcription API.
//
// Unlike AssemblyAI there is no job queue: one POST of the audio bytes
// with diarize=true&utterances=true returns the complete transcript.
// Deepgram labels speakers with small integers; the adapter renders them
// as "0", "1", ... so the rest of the system sees opaque strings.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"

	"github.com/MrWong99/voxident/pkg/provider/diarize"
)

const (
	defaultBaseURL = "https://api.deepgram.com"
	defaultModel   = "nova-2"
)

// Compile-time assertion that Provider implements diarize.Provider.
var _ diarize.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the default API endpoint.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// WithModel selects the transcription model. Defaults to "nova-2".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage pins the transcript language instead of letting the
// provider detect it.
func WithLanguage(code string) Option {
	return func(p *Provider) { p.language = code }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements diarize.Provider against the Deepgram API.
// Safe for concurrent use.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Provider authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		// The caller's context carries the deadline; a client-level
		// timeout would cut long recordings short.
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// response is the subset of Deepgram's pre-recorded response the
// adapter reads.
type response struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
		} `json:"channels"`
		Utterances []struct {
			Start      float64 `json:"start"`
			End        float64 `json:"end"`
			Transcript string  `json:"transcript"`
			Speaker    int     `json:"speaker"`
		} `json:"utterances"`
	} `json:"results"`
}

// Transcribe implements diarize.Provider.
func (p *Provider) Transcribe(ctx context.Context, path string) (*diarize.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("deepgram: open %s: %w", path, err)
	}
	defer f.Close()

	q := url.Values{
		"model":       {p.model},
		"diarize":     {"true"},
		"utterances":  {"true"},
		"punctuate":   {"true"},
		"smart_format": {"true"},
	}
	if p.language != "" {
		q.Set("language", p.language)
	} else {
		q.Set("detect_language", "true")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/listen?"+q.Encode(), f)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	httpResp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: transcribe: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, fmt.Errorf("deepgram: status %d: %s", httpResp.StatusCode, bytes.TrimSpace(detail))
	}

	var resp response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("deepgram: decode response: %w", err)
	}

	result := &diarize.Result{
		AudioDurationMS: int64(resp.Metadata.Duration * 1000),
	}
	if len(resp.Results.Channels) > 0 {
		result.Language = resp.Results.Channels[0].DetectedLanguage
	}
	if result.Language == "" {
		result.Language = p.language
	}
	for _, u := range resp.Results.Utterances {
		startMS := int64(u.Start * 1000)
		endMS := int64(u.End * 1000)
		if endMS <= startMS {
			continue
		}
		result.Utterances = append(result.Utterances, diarize.Utterance{
			Speaker: strconv.Itoa(u.Speaker),
			Text:    u.Transcript,
			StartMS: startMS,
			EndMS:   endMS,
		})
	}
	sort.SliceStable(result.Utterances, func(i, j int) bool {
		return result.Utterances[i].StartMS < result.Utterances[j].StartMS
	})
	return result, nil
}
