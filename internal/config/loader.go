package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"diarize":     {"assemblyai", "deepgram"},
	"llm":         {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"vad":         {"sherpa", "silero"},
	"speaker":     {"sherpa"},
	"vectorstore": {"pgvector", "pinecone"},
}

// Load reads the YAML configuration file at path, applies environment
// fallbacks, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the [Default] base,
// applies environment fallbacks, and validates the result. Useful in
// tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv fills secrets and endpoints from the environment where the
// YAML left them empty. YAML values always win over environment values.
func ApplyEnv(cfg *Config) {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}

	switch cfg.Providers.Diarize.Name {
	case "assemblyai":
		fill(&cfg.Providers.Diarize.APIKey, "ASSEMBLYAI_API_KEY")
	case "deepgram":
		fill(&cfg.Providers.Diarize.APIKey, "DEEPGRAM_API_KEY")
	}

	if cfg.Providers.LLM.Name == "openai" {
		fill(&cfg.Providers.LLM.APIKey, "OPENAI_API_KEY")
	}

	switch cfg.Providers.VectorStore.Name {
	case "pgvector":
		fill(&cfg.Providers.VectorStore.DSN, "PGVECTOR_DSN")
	case "pinecone":
		fill(&cfg.Providers.VectorStore.APIKey, "PINECONE_API_KEY")
		fill(&cfg.Providers.VectorStore.IndexHost, "PINECONE_INDEX_HOST")
	}

	fill(&cfg.Sharing.SlackWebhookURL, "SLACK_WEBHOOK_URL")
	fill(&cfg.Sharing.AdminCode, "VOXIDENT_ADMIN_CODE")
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, errors.New("server.data_dir is required"))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("diarize", cfg.Providers.Diarize.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("speaker", cfg.Providers.Speaker.Name)
	validateProviderName("vectorstore", cfg.Providers.VectorStore.Name)

	// Required seams. The pipeline cannot run without transcription,
	// speech detection, embeddings, and a voiceprint index.
	if cfg.Providers.Diarize.Name == "" {
		errs = append(errs, errors.New("providers.diarize.name is required"))
	}
	if cfg.Providers.VAD.Name == "" {
		errs = append(errs, errors.New("providers.vad.name is required"))
	}
	if cfg.Providers.Speaker.Name == "" {
		errs = append(errs, errors.New("providers.speaker.name is required"))
	}
	if cfg.Providers.VectorStore.Name == "" {
		errs = append(errs, errors.New("providers.vectorstore.name is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; meeting summaries will be unavailable")
	}

	// Per-provider requirements.
	switch cfg.Providers.Diarize.Name {
	case "assemblyai", "deepgram":
		if cfg.Providers.Diarize.APIKey == "" {
			errs = append(errs, fmt.Errorf("providers.diarize.api_key is required for %q (set %s)", cfg.Providers.Diarize.Name, diarizeKeyEnv(cfg.Providers.Diarize.Name)))
		}
	}
	if cfg.Providers.LLM.Name == "openai" && cfg.Providers.LLM.APIKey == "" {
		errs = append(errs, errors.New("providers.llm.api_key is required for \"openai\" (set OPENAI_API_KEY)"))
	}
	if cfg.Providers.VAD.Name != "" && cfg.Providers.VAD.Model == "" {
		errs = append(errs, errors.New("providers.vad.model is required (path to the VAD ONNX model)"))
	}
	if cfg.Providers.Speaker.Name != "" && cfg.Providers.Speaker.Model == "" {
		errs = append(errs, errors.New("providers.speaker.model is required (path to the speaker embedding ONNX model)"))
	}
	switch cfg.Providers.VectorStore.Name {
	case "pgvector":
		if cfg.Providers.VectorStore.DSN == "" {
			errs = append(errs, errors.New("providers.vectorstore.dsn is required for \"pgvector\" (set PGVECTOR_DSN)"))
		}
	case "pinecone":
		if cfg.Providers.VectorStore.APIKey == "" {
			errs = append(errs, errors.New("providers.vectorstore.api_key is required for \"pinecone\" (set PINECONE_API_KEY)"))
		}
		if cfg.Providers.VectorStore.IndexHost == "" {
			errs = append(errs, errors.New("providers.vectorstore.index_host is required for \"pinecone\" (set PINECONE_INDEX_HOST)"))
		}
	}
	if cfg.Providers.VectorStore.Dimensions < 0 {
		errs = append(errs, fmt.Errorf("providers.vectorstore.dimensions %d must not be negative", cfg.Providers.VectorStore.Dimensions))
	}

	// Matcher
	if cfg.Matcher.HighScore < -1 || cfg.Matcher.HighScore > 1 {
		errs = append(errs, fmt.Errorf("matcher.high_score %.2f is out of range [-1, 1]", cfg.Matcher.HighScore))
	}
	if cfg.Matcher.HighMargin < 0 || cfg.Matcher.HighMargin > 2 {
		errs = append(errs, fmt.Errorf("matcher.high_margin %.2f is out of range [0, 2]", cfg.Matcher.HighMargin))
	}
	if cfg.Matcher.TopK <= 0 {
		errs = append(errs, fmt.Errorf("matcher.top_k %d must be positive", cfg.Matcher.TopK))
	}

	// Stitching
	if cfg.Stitching.TargetSpeechMS <= 0 {
		errs = append(errs, fmt.Errorf("stitching.target_speech_ms %d must be positive", cfg.Stitching.TargetSpeechMS))
	}
	if cfg.Stitching.MaxSingleMS < cfg.Stitching.TargetSpeechMS {
		errs = append(errs, fmt.Errorf("stitching.max_single_ms %d must be at least stitching.target_speech_ms %d", cfg.Stitching.MaxSingleMS, cfg.Stitching.TargetSpeechMS))
	}
	if cfg.Stitching.MinUtteranceMS < 0 {
		errs = append(errs, fmt.Errorf("stitching.min_utterance_ms %d must not be negative", cfg.Stitching.MinUtteranceMS))
	}
	if cfg.Stitching.MaxCount <= 0 {
		errs = append(errs, fmt.Errorf("stitching.max_count %d must be positive", cfg.Stitching.MaxCount))
	}

	// Enrollment
	if cfg.Enrollment.EMAAlpha <= 0 || cfg.Enrollment.EMAAlpha >= 1 {
		errs = append(errs, fmt.Errorf("enrollment.ema_alpha %.2f is out of range (0, 1)", cfg.Enrollment.EMAAlpha))
	}
	if cfg.Enrollment.EMAMinSamples < 1 {
		errs = append(errs, fmt.Errorf("enrollment.ema_min_samples %d must be at least 1", cfg.Enrollment.EMAMinSamples))
	}
	if cfg.Enrollment.MinSpeechMS > cfg.Enrollment.MinRawMS {
		errs = append(errs, fmt.Errorf("enrollment.min_speech_ms %d must not exceed enrollment.min_raw_ms %d", cfg.Enrollment.MinSpeechMS, cfg.Enrollment.MinRawMS))
	}

	// Pipeline
	if cfg.Pipeline.Workers <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.workers %d must be positive", cfg.Pipeline.Workers))
	}
	if cfg.Pipeline.SessionTTL <= 0 {
		errs = append(errs, errors.New("pipeline.session_ttl must be positive"))
	}
	if cfg.Pipeline.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("pipeline.heartbeat_interval must be positive"))
	}
	if cfg.Pipeline.ClipMaxMS <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.clip_max_ms %d must be positive", cfg.Pipeline.ClipMaxMS))
	}

	// Sharing
	if cfg.Sharing.SlackWebhookURL == "" && cfg.Sharing.AdminCode != "" {
		slog.Warn("sharing.admin_code is set but sharing.slack_webhook_url is empty; the share endpoint stays disabled")
	}

	return errors.Join(errs...)
}

func diarizeKeyEnv(name string) string {
	if name == "deepgram" {
		return "DEEPGRAM_API_KEY"
	}
	return "ASSEMBLYAI_API_KEY"
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
