// Command voxident is the speaker-identification server: it enrolls
// voiceprints, identifies who spoke in uploaded meeting recordings, and
// summarizes the result.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxident/internal/analytics"
	"github.com/MrWong99/voxident/internal/clip"
	"github.com/MrWong99/voxident/internal/config"
	"github.com/MrWong99/voxident/internal/health"
	"github.com/MrWong99/voxident/internal/identify"
	"github.com/MrWong99/voxident/internal/match"
	"github.com/MrWong99/voxident/internal/observe"
	"github.com/MrWong99/voxident/internal/resilience"
	"github.com/MrWong99/voxident/internal/segment"
	"github.com/MrWong99/voxident/internal/server"
	"github.com/MrWong99/voxident/internal/session"
	"github.com/MrWong99/voxident/internal/summary"
	"github.com/MrWong99/voxident/internal/voiceprint"
	"github.com/MrWong99/voxident/pkg/audio"
	"github.com/MrWong99/voxident/pkg/provider/diarize"
	"github.com/MrWong99/voxident/pkg/provider/diarize/assemblyai"
	dgdiarize "github.com/MrWong99/voxident/pkg/provider/diarize/deepgram"
	"github.com/MrWong99/voxident/pkg/provider/llm"
	"github.com/MrWong99/voxident/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/voxident/pkg/provider/llm/openai"
	"github.com/MrWong99/voxident/pkg/provider/speaker"
	spksherpa "github.com/MrWong99/voxident/pkg/provider/speaker/sherpa"
	"github.com/MrWong99/voxident/pkg/provider/vad"
	vadsherpa "github.com/MrWong99/voxident/pkg/provider/vad/sherpa"
	"github.com/MrWong99/voxident/pkg/provider/vad/silero"
	"github.com/MrWong99/voxident/pkg/provider/vectorstore"
	"github.com/MrWong99/voxident/pkg/provider/vectorstore/pgvector"
	"github.com/MrWong99/voxident/pkg/provider/vectorstore/pinecone"
)

// sweepInterval is how often the session sweeper scans for expired
// meetings.
const sweepInterval = 5 * time.Minute

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// A .env file is optional; the environment always wins over YAML.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxident: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxident: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so a config reload can adjust it on
	// the running process.
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("voxident starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"data_dir", cfg.Server.DataDir,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voxident"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Data directory ────────────────────────────────────────────────────────
	// Meeting audio never survives a restart. The speaker mirror in the
	// same directory is rebuilt from the vector store below.
	if err := os.RemoveAll(cfg.Server.DataDir); err != nil {
		slog.Error("failed to clear data dir", "dir", cfg.Server.DataDir, "err", err)
		return 1
	}
	if err := os.MkdirAll(cfg.Server.DataDir, 0o755); err != nil {
		slog.Error("failed to create data dir", "dir", cfg.Server.DataDir, "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	defer providers.Store.Close()

	tk, err := audio.NewToolkit()
	if err != nil {
		slog.Error("audio toolkit unavailable", "err", err)
		return 1
	}

	// ── Pipeline wiring ───────────────────────────────────────────────────────
	gate := vad.NewGate(providers.VAD, audio.SampleRate)
	embedder := voiceprint.NewEmbedder(providers.Speaker, gate)
	mirror := voiceprint.NewMirror(filepath.Join(cfg.Server.DataDir, "speakers.json"))

	registry := voiceprint.NewRegistry(providers.Store, embedder, tk, gate, mirror, enrollConfig(cfg))
	if count, err := registry.SyncFromStore(ctx); err != nil {
		slog.Warn("speaker mirror sync failed; continuing with empty mirror", "err", err)
	} else {
		slog.Info("speaker mirror synced", "speakers", count)
	}

	selector := segment.NewSelector(tk, gate, stitchParams(cfg))
	matcher := match.New(providers.Store, matcherConfig(cfg))

	sessions := session.NewStore(cfg.Pipeline.SessionTTL.Std())
	go sessions.Run(ctx, sweepInterval)

	emitter := &analytics.Emitter{}
	var consent *analytics.ConsentLog // nil discards records
	if cfg.Analytics.ConsentLogPath != "" {
		consent = analytics.NewConsentLog(cfg.Analytics.ConsentLogPath)
	}
	runner := identify.NewRunner(providers.Diarize, tk, selector, embedder, matcher, sessions, emitter, identify.Config{
		DataDir:           cfg.Server.DataDir,
		TranscribeTimeout: cfg.Pipeline.TranscribeTimeout.Std(),
		Workers:           cfg.Pipeline.Workers,
	})

	var summarizer *summary.Generator
	if providers.LLM != nil {
		summarizer = summary.NewGenerator(providers.LLM, cfg.Pipeline.SummaryTimeout.Std())
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	slack := summary.NewSlackNotifier(cfg.Sharing.SlackWebhookURL)
	srv := server.New(server.Deps{
		Registry:   registry,
		Runner:     runner,
		Sessions:   sessions,
		Clips:      clip.NewBuilder(tk, gate, cfg.Pipeline.ClipMaxMS),
		Summarizer: summarizer,
		Slack:      slack,
		Consent:    consent,
		Emitter:    emitter,
		Health:     health.New(health.StoreChecker(providers.Store), health.BinaryChecker("ffmpeg")),
	}, server.Options{
		DataDir:           cfg.Server.DataDir,
		HeartbeatInterval: cfg.Pipeline.HeartbeatInterval.Std(),
		AdminCode:         cfg.Sharing.AdminCode,
	})

	// ── Config hot-reload ─────────────────────────────────────────────────────
	// Tunables (log level, matcher thresholds, stitching bounds, enrollment
	// parameters, sharing settings) follow edits to the config file without
	// a restart. Provider selection and server settings still need one.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if !d.Any() {
			return
		}
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.MatcherChanged {
			matcher.SetConfig(matcherConfig(new))
			slog.Info("matcher thresholds reloaded")
		}
		if d.StitchingChanged {
			selector.SetParams(stitchParams(new))
			slog.Info("stitching bounds reloaded")
		}
		if d.EnrollmentChanged {
			registry.SetConfig(enrollConfig(new))
			slog.Info("enrollment parameters reloaded")
		}
		if d.SharingChanged {
			slack.SetWebhookURL(new.Sharing.SlackWebhookURL)
			srv.SetAdminCode(new.Sharing.AdminCode)
			slog.Info("sharing settings reloaded")
		}
	})
	if err != nil {
		slog.Warn("config hot-reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(cfg.Server.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	slog.Info("server ready — press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)

	select {
	case err := <-errCh:
		slog.Error("server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	code := 0
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// providerSet holds the instantiated backends for every pipeline seam.
// All five are required: the server has no degraded mode.
type providerSet struct {
	Diarize diarize.Provider
	LLM     llm.Provider
	VAD     vad.Detector
	Speaker speaker.Encoder
	Store   vectorstore.Store
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the
// appropriate provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Diarized transcription ────────────────────────────────────────────────

	reg.RegisterDiarize("assemblyai", func(entry config.ProviderEntry) (diarize.Provider, error) {
		var opts []assemblyai.Option
		if entry.BaseURL != "" {
			opts = append(opts, assemblyai.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, assemblyai.WithLanguage(lang))
		}
		return assemblyai.New(entry.APIKey, opts...)
	})

	reg.RegisterDiarize("deepgram", func(entry config.ProviderEntry) (diarize.Provider, error) {
		var opts []dgdiarize.Option
		if entry.BaseURL != "" {
			opts = append(opts, dgdiarize.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, dgdiarize.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, dgdiarize.WithLanguage(lang))
		}
		return dgdiarize.New(entry.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai uses the native SDK; the rest go through any-llm. They share
	// the optional APIKey + optional BaseURL pattern.

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────
	// Model holds the ONNX file path for both local backends.

	reg.RegisterVAD("sherpa", func(entry config.ProviderEntry) (vad.Detector, error) {
		var opts []vadsherpa.Option
		if th := optFloat(entry.Options, "threshold"); th > 0 {
			opts = append(opts, vadsherpa.WithThreshold(float32(th)))
		}
		return vadsherpa.New(entry.Model, opts...)
	})

	reg.RegisterVAD("silero", func(entry config.ProviderEntry) (vad.Detector, error) {
		var opts []silero.Option
		if th := optFloat(entry.Options, "threshold"); th > 0 {
			opts = append(opts, silero.WithThreshold(float32(th)))
		}
		return silero.New(entry.Model, opts...)
	})

	// ── Speaker embeddings ────────────────────────────────────────────────────

	reg.RegisterSpeaker("sherpa", func(entry config.ProviderEntry) (speaker.Encoder, error) {
		return spksherpa.New(entry.Model)
	})

	// ── Vector store ──────────────────────────────────────────────────────────

	reg.RegisterVectorStore("pgvector", func(ctx context.Context, entry config.ProviderEntry) (vectorstore.Store, error) {
		return pgvector.Connect(ctx, entry.DSN, entry.Dimensions)
	})

	reg.RegisterVectorStore("pinecone", func(_ context.Context, entry config.ProviderEntry) (vectorstore.Store, error) {
		var opts []pinecone.Option
		if ns := optString(entry.Options, "namespace"); ns != "" {
			opts = append(opts, pinecone.WithNamespace(ns))
		}
		return pinecone.New(entry.APIKey, entry.IndexHost, opts...)
	})
}

// buildProviders instantiates every provider named in cfg using the
// registry. Any failure aborts startup.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*providerSet, error) {
	ps := &providerSet{}

	var err error
	if ps.Diarize, err = reg.CreateDiarize(cfg.Providers.Diarize); err != nil {
		return nil, fmt.Errorf("create diarize provider %q: %w", cfg.Providers.Diarize.Name, err)
	}
	slog.Info("provider created", "kind", "diarize", "name", cfg.Providers.Diarize.Name)

	// LLM is the one optional seam: without it summaries return 501.
	if cfg.Providers.LLM.Name != "" {
		if ps.LLM, err = reg.CreateLLM(cfg.Providers.LLM); err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
		}
		slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)
	}

	if ps.VAD, err = reg.CreateVAD(cfg.Providers.VAD); err != nil {
		return nil, fmt.Errorf("create vad provider %q: %w", cfg.Providers.VAD.Name, err)
	}
	slog.Info("provider created", "kind", "vad", "name", cfg.Providers.VAD.Name)

	if ps.Speaker, err = reg.CreateSpeaker(cfg.Providers.Speaker); err != nil {
		return nil, fmt.Errorf("create speaker provider %q: %w", cfg.Providers.Speaker.Name, err)
	}
	slog.Info("provider created", "kind", "speaker", "name", cfg.Providers.Speaker.Name)

	if ps.Store, err = reg.CreateVectorStore(ctx, cfg.Providers.VectorStore); err != nil {
		return nil, fmt.Errorf("create vectorstore provider %q: %w", cfg.Providers.VectorStore.Name, err)
	}
	slog.Info("provider created", "kind", "vectorstore", "name", cfg.Providers.VectorStore.Name)

	// The remote seams sit behind circuit breakers so a flapping backend
	// gets backed off instead of failing every upload individually.
	ps.Diarize = resilience.NewDiarizeFallback(ps.Diarize, cfg.Providers.Diarize.Name, resilience.FallbackConfig{})
	if ps.LLM != nil {
		ps.LLM = resilience.NewLLMFallback(ps.LLM, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voxident — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Diarize", cfg.Providers.Diarize.Name, cfg.Providers.Diarize.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("Speaker", cfg.Providers.Speaker.Name, "")
	printProvider("VectorStore", cfg.Providers.VectorStore.Name, "")
	if cfg.Sharing.SlackWebhookURL != "" {
		fmt.Printf("║  Slack sharing  : %-20s ║\n", "configured")
	} else {
		fmt.Printf("║  Slack sharing  : %-20s ║\n", "(disabled)")
	}
	fmt.Printf("║  Session TTL    : %-20s ║\n", cfg.Pipeline.SessionTTL.Std())
	fmt.Printf("║  Listen addr    : %-20s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 20 {
		value = value[:17] + "…"
	}
	fmt.Printf("║  %-13s  : %-20s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Config conversions ─────────────────────────────────────────────────────────

func matcherConfig(cfg *config.Config) match.Config {
	return match.Config{
		HighScore:  cfg.Matcher.HighScore,
		HighMargin: cfg.Matcher.HighMargin,
		TopK:       cfg.Matcher.TopK,
	}
}

func stitchParams(cfg *config.Config) segment.Params {
	return segment.Params{
		TargetSpeechMS:      cfg.Stitching.TargetSpeechMS,
		MaxSingleMS:         cfg.Stitching.MaxSingleMS,
		MinUtteranceMS:      cfg.Stitching.MinUtteranceMS,
		MaxCount:            cfg.Stitching.MaxCount,
		MinIdentificationMS: cfg.Stitching.MinIdentificationMS,
	}
}

func enrollConfig(cfg *config.Config) voiceprint.Config {
	return voiceprint.Config{
		MinRawMS:      cfg.Enrollment.MinRawMS,
		MinSpeechMS:   cfg.Enrollment.MinSpeechMS,
		EMAAlpha:      cfg.Enrollment.EMAAlpha,
		EMAMinSamples: cfg.Enrollment.EMAMinSamples,
		DefaultWeight: cfg.Enrollment.DefaultWeight,
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a
// string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optFloat extracts a numeric value from a provider Options map. YAML
// decodes bare numbers as int or float64 depending on the literal.
func optFloat(opts map[string]any, key string) float64 {
	if opts == nil {
		return 0
	}
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
