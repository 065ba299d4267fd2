package funasr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// MemoryHint is logged when the streaming model cannot fit in memory.
const MemoryHint = "not enough memory to load the streaming model; switch to a smaller FunASR model or another engine"

// LoadOptions configures LoadModels.
type LoadOptions struct {
	CacheDir      string
	StrideSamples int
	SampleRate    int
	// Threads caps the numeric library thread pools; defaults to 1.
	Threads int

	// Lookup and Setenv default to the process environment.
	Lookup func(string) (string, bool)
	Setenv func(string, string) error
}

// LoadModels applies runtime environment defaults and instantiates the
// streaming, punctuation and alignment models in sequence. A failing alignment
// model is tolerated and leaves Models.Alignment nil.
func LoadModels(ctx context.Context, opts LoadOptions, factory Factory, logger *slog.Logger) (*Models, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "funasr.loader")
	if factory == nil {
		return nil, fmt.Errorf("%w: factory is nil", ErrModelLoad)
	}

	applyEnvDefaults(opts, log)

	sampleRate := opts.SampleRate
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	log.Info("loading models",
		"cache_dir", opts.CacheDir,
		"stride_samples", opts.StrideSamples,
		"stride_ms", opts.StrideSamples*1000/sampleRate,
	)

	log.Info("loading streaming model", "model", StreamingSpec.String())
	streaming, err := factory.LoadStreaming(ctx, StreamingSpec)
	if err != nil {
		if IsOutOfMemory(err) {
			log.Error(MemoryHint, "model", StreamingSpec.String(), "error", err)
		} else {
			log.Error("model loading failed", "model", StreamingSpec.String(), "error", err)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrModelLoad, StreamingSpec.Name, err)
	}
	log.Info("streaming model loaded")

	log.Info("loading punctuation model", "model", PunctuationSpec.String())
	punctuation, err := factory.LoadPunctuation(ctx, PunctuationSpec)
	if err != nil {
		log.Error("model loading failed", "model", PunctuationSpec.String(), "error", err)
		_ = closeModel(streaming)
		return nil, fmt.Errorf("%w: %s: %w", ErrModelLoad, PunctuationSpec.Name, err)
	}
	log.Info("punctuation model loaded")

	models := &Models{Streaming: streaming, Punctuation: punctuation}

	log.Info("loading timestamp model", "model", AlignmentSpec.String())
	alignment, err := factory.LoadAlignment(ctx, AlignmentSpec)
	if err != nil {
		log.Warn("timestamp model load failed (optional)", "model", AlignmentSpec.String(), "error", err)
		return models, nil
	}
	models.Alignment = alignment
	log.Info("timestamp model loaded")
	return models, nil
}

// IsOutOfMemory reports whether err describes an allocation failure.
func IsOutOfMemory(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOutOfMemory) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not enough memory") || strings.Contains(msg, "out of memory")
}

func applyEnvDefaults(opts LoadOptions, log *slog.Logger) {
	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	setenv := opts.Setenv
	if setenv == nil {
		setenv = os.Setenv
	}
	threads := opts.Threads
	if threads <= 0 {
		threads = 1
	}

	setDefault := func(key, value string) {
		if _, ok := lookup(key); ok {
			return
		}
		if err := setenv(key, value); err != nil {
			log.Warn("failed to set environment default", "key", key, "error", err)
		}
	}

	if opts.CacheDir != "" {
		setDefault("MODELSCOPE_CACHE", opts.CacheDir)
		setDefault("MODELSCOPE_CACHE_HOME", opts.CacheDir)
	}
	setDefault("OMP_NUM_THREADS", fmt.Sprint(threads))
	setDefault("MKL_NUM_THREADS", fmt.Sprint(threads))
}
