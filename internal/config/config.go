// Package config provides the configuration schema, loader, and provider
// registry for the voxident speaker-identification server.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the voxident server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps time.Duration with YAML support for values like "5m"
// or "15s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for voxident.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Matcher    MatcherConfig    `yaml:"matcher"`
	Stitching  StitchingConfig  `yaml:"stitching"`
	Enrollment EnrollmentConfig `yaml:"enrollment"`
	Sharing    SharingConfig    `yaml:"sharing"`
	Analytics  AnalyticsConfig  `yaml:"analytics"`
}

// ServerConfig holds network, logging, and storage settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// DataDir is the working directory for meeting audio and the speaker
	// mirror file. Wiped and recreated on startup.
	DataDir string `yaml:"data_dir"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline seam. Each entry selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	// Diarize is the diarized transcription provider ("assemblyai",
	// "deepgram").
	Diarize ProviderEntry `yaml:"diarize"`

	// LLM is the summary generation provider ("openai", "anthropic",
	// "ollama", ...).
	LLM ProviderEntry `yaml:"llm"`

	// VAD is the voice-activity-detection backend ("sherpa", "silero").
	VAD ProviderEntry `yaml:"vad"`

	// Speaker is the speaker-embedding backend ("sherpa").
	Speaker ProviderEntry `yaml:"speaker"`

	// VectorStore is the voiceprint index backend ("pgvector", "pinecone").
	VectorStore ProviderEntry `yaml:"vectorstore"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds. The Name field selects the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation.
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API, if any.
	// Usually left empty in YAML and filled from the environment.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider: a model name for remote
	// APIs ("gpt-4o-mini", "nova-2") or an ONNX file path for local
	// inference backends.
	Model string `yaml:"model"`

	// DSN is the database connection string for store-backed providers.
	DSN string `yaml:"dsn"`

	// IndexHost is the index endpoint for hosted vector stores.
	IndexHost string `yaml:"index_host"`

	// Dimensions is the embedding dimension for vector-store providers.
	Dimensions int `yaml:"dimensions"`

	// Options holds provider-specific values not covered by the standard
	// fields above.
	Options map[string]any `yaml:"options"`
}

// PipelineConfig tunes the identification job.
type PipelineConfig struct {
	// TranscribeTimeout bounds one diarized transcription call.
	TranscribeTimeout Duration `yaml:"transcribe_timeout"`

	// SummaryTimeout bounds one summary generation call.
	SummaryTimeout Duration `yaml:"summary_timeout"`

	// HeartbeatInterval is the SSE keep-alive cadence. Tuned to survive
	// typical reverse-proxy idle windows.
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`

	// SessionTTL is how long a finished meeting session may linger before
	// the sweeper reclaims it.
	SessionTTL Duration `yaml:"session_ttl"`

	// Workers bounds the per-speaker analysis fan-out.
	Workers int `yaml:"workers"`

	// ClipMaxMS caps playback clips.
	ClipMaxMS int64 `yaml:"clip_max_ms"`
}

// MatcherConfig tunes the competitive matcher.
type MatcherConfig struct {
	// HighScore is the minimum cosine similarity for a high-confidence
	// match.
	HighScore float64 `yaml:"high_score"`

	// HighMargin is the minimum lead over the runner-up for a
	// high-confidence match.
	HighMargin float64 `yaml:"high_margin"`

	// TopK is how many neighbours to pull per diarized speaker.
	TopK int `yaml:"top_k"`
}

// StitchingConfig tunes per-speaker segment selection.
type StitchingConfig struct {
	// TargetSpeechMS is the accumulated post-VAD speech target.
	TargetSpeechMS int64 `yaml:"target_speech_ms"`

	// MaxSingleMS clips a single long utterance.
	MaxSingleMS int64 `yaml:"max_single_ms"`

	// MinUtteranceMS gates which utterances may be stitched at all.
	MinUtteranceMS int64 `yaml:"min_utterance_ms"`

	// MaxCount bounds how many utterances one stitched sample may use.
	MaxCount int `yaml:"max_count"`

	// MinIdentificationMS is the speech floor below which a stitched
	// sample is flagged low quality.
	MinIdentificationMS int64 `yaml:"min_identification_ms"`
}

// EnrollmentConfig tunes voiceprint registration and updates.
type EnrollmentConfig struct {
	// MinRawMS is the minimum raw recording length for enrollment.
	MinRawMS int64 `yaml:"min_raw_ms"`

	// MinSpeechMS is the minimum post-VAD speech for enrollment.
	MinSpeechMS int64 `yaml:"min_speech_ms"`

	// EMAAlpha is the exponential-moving-average weight for updates past
	// the weighted-mean regime.
	EMAAlpha float64 `yaml:"ema_alpha"`

	// EMAMinSamples is the sample count at which updates switch from
	// weighted mean to EMA.
	EMAMinSamples int `yaml:"ema_min_samples"`

	// DefaultWeight is the sample weight of a direct enrollment upload.
	DefaultWeight int `yaml:"default_weight"`
}

// SharingConfig configures outbound summary sharing.
type SharingConfig struct {
	// SlackWebhookURL is the incoming-webhook target for summary sharing.
	// Empty disables the Slack endpoint.
	SlackWebhookURL string `yaml:"slack_webhook_url"`

	// AdminCode, when set, gates sharing endpoints behind an
	// X-Invite-Code header match.
	AdminCode string `yaml:"admin_code"`
}

// AnalyticsConfig configures the local analytics sink.
type AnalyticsConfig struct {
	// ConsentLogPath is the JSON-lines file for consent records.
	// Empty keeps consent records out of durable storage.
	ConsentLogPath string `yaml:"consent_log_path"`
}

// Default returns the canonical configuration defaults. Loading merges
// the YAML file over this base, so absent keys keep these values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
			DataDir:    "meeting_audio",
		},
		Pipeline: PipelineConfig{
			TranscribeTimeout: Duration(5 * time.Minute),
			SummaryTimeout:    Duration(60 * time.Second),
			HeartbeatInterval: Duration(15 * time.Second),
			SessionTTL:        Duration(time.Hour),
			Workers:           2,
			ClipMaxMS:         5000,
		},
		Matcher: MatcherConfig{
			HighScore:  0.55,
			HighMargin: 0.10,
			TopK:       5,
		},
		Stitching: StitchingConfig{
			TargetSpeechMS:      10_000,
			MaxSingleMS:         20_000,
			MinUtteranceMS:      2_000,
			MaxCount:            5,
			MinIdentificationMS: 8_000,
		},
		Enrollment: EnrollmentConfig{
			MinRawMS:      5_000,
			MinSpeechMS:   3_000,
			EMAAlpha:      0.3,
			EMAMinSamples: 4,
			DefaultWeight: 2,
		},
	}
}
