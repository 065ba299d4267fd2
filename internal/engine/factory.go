package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/nupi-ai/plugin-stt-local-funasr/internal/config"
	"github.com/nupi-ai/plugin-stt-local-funasr/internal/funasr"
	"github.com/nupi-ai/plugin-stt-local-funasr/internal/models"
	"github.com/nupi-ai/plugin-stt-local-funasr/internal/runtimews"
	"github.com/nupi-ai/plugin-stt-local-funasr/internal/sherpa"
)

// ErrNativeEngineUnavailable indicates that the in-process backend is not compiled in.
var ErrNativeEngineUnavailable = errors.New("engine: native backend unavailable")

// New loads the model set for the configured backend and returns an Engine.
// Load failures fall back to the stub engine and are returned alongside it,
// except an out-of-memory failure, which is returned without an engine.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (Engine, error) {
	manifest, err := models.DefaultManifest()
	if err != nil {
		return NewStubEngine(logger), err
	}
	return newEngineWithOptions(ctx, cfg, logger, engineOptions{manifest: manifest})
}

type engineOptions struct {
	manifest models.Manifest
	// factory replaces the backend selected by cfg.Backend.
	factory funasr.Factory
	lookup  func(string) (string, bool)
	setenv  func(string, string) error
}

func newEngineWithOptions(ctx context.Context, cfg config.Config, logger *slog.Logger, opts engineOptions) (Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.UseStubEngine || cfg.Backend == config.BackendStub {
		logger.Warn("stub engine forced by configuration")
		return NewStubEngine(logger), nil
	}

	cacheDir := cacheDirFor(cfg)
	factory := opts.factory
	if factory == nil {
		if len(opts.manifest.Models) == 0 {
			return NewStubEngine(logger), errors.New("models: manifest is empty")
		}
		if !sherpa.Available() && cfg.Backend == config.BackendSherpa {
			logger.Warn("native backend disabled at build time; using stub engine")
			return NewStubEngine(logger), ErrNativeEngineUnavailable
		}

		manager, err := models.NewManager(cacheDir, logger)
		if err != nil {
			logger.Warn("model manager unavailable; using stub engine", "error", err)
			return NewStubEngine(logger), err
		}
		factory, err = backendFactory(cfg, opts.manifest, manager, logger)
		if err != nil {
			logger.Warn("backend initialisation failed; using stub engine", "error", err)
			return NewStubEngine(logger), err
		}
	}

	loaded, err := funasr.LoadModels(ctx, funasr.LoadOptions{
		CacheDir:      cacheDir,
		StrideSamples: cfg.StrideSamples(),
		SampleRate:    cfg.SampleRate,
		Threads:       cfg.Threads,
		Lookup:        opts.lookup,
		Setenv:        opts.setenv,
	}, factory, logger)
	if err != nil {
		if funasr.IsOutOfMemory(err) {
			return nil, err
		}
		logger.Error("model loading failed; using stub engine", "error", err)
		return NewStubEngine(logger), err
	}

	engine := NewFunASREngine(loaded, funasr.SessionOptions{
		SampleRate: cfg.SampleRate,
		Chunk: funasr.ChunkConfig{
			ChunkSize:       cfg.ChunkSize,
			EncoderLookBack: cfg.EncoderLookBack,
			DecoderLookBack: cfg.DecoderLookBack,
		},
		Terminators:      funasr.NewTerminatorSet(cfg.SentenceTerminators),
		ContextSentences: cfg.ContextSentences,
		SilenceChunks:    cfg.SilenceChunks,
	}, cfg.Backend, logger)
	logger.Info("engine ready", "backend", cfg.Backend, "aligned", engine.Aligned())
	return engine, nil
}

// backendFactory builds the model factory for cfg.Backend. The runtime
// backend streams through the server and loads punctuation and timestamps in
// process.
func backendFactory(cfg config.Config, manifest models.Manifest, manager *models.Manager, logger *slog.Logger) (funasr.Factory, error) {
	local := sherpa.NewFactory(sherpa.Options{
		SampleRate: cfg.SampleRate,
		Threads:    cfg.Threads,
		Provider:   cfg.Provider,
		Resolve:    modelResolver(manifest, manager, cfg.Offline),
	}, logger)

	switch cfg.Backend {
	case config.BackendSherpa, "":
		return local, nil
	case config.BackendRuntime:
		remote, err := runtimews.NewFactory(runtimews.Options{URL: cfg.RuntimeURL}, logger)
		if err != nil {
			return nil, err
		}
		return funasr.CompositeFactory{
			Streaming:   remote,
			Punctuation: local,
			Alignment:   local,
		}, nil
	default:
		return nil, fmt.Errorf("engine: unknown backend %q", cfg.Backend)
	}
}

func modelResolver(manifest models.Manifest, manager *models.Manager, offline bool) sherpa.Resolver {
	return func(ctx context.Context, spec funasr.ModelSpec) (models.Paths, error) {
		model, err := manifest.Find(spec)
		if err != nil {
			return nil, err
		}
		return manager.Ensure(ctx, model, models.EnsureOptions{Offline: offline})
	}
}

func cacheDirFor(cfg config.Config) string {
	if dir := strings.TrimSpace(cfg.CacheDir); dir != "" {
		return dir
	}
	return filepath.Join(cfg.DataDir, "models")
}
