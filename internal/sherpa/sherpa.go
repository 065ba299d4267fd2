// Package sherpa loads the FunASR model set in process through sherpa-onnx.
// The native implementation is compiled with the `sherpa` build tag; without
// it every load fails with ErrUnavailable.
package sherpa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nupi-ai/plugin-stt-local-funasr/internal/funasr"
	"github.com/nupi-ai/plugin-stt-local-funasr/internal/models"
)

// ErrUnavailable indicates the binary was built without the sherpa backend.
var ErrUnavailable = errors.New("sherpa: native backend unavailable")

// Resolver maps a model spec to its files on disk.
type Resolver func(ctx context.Context, spec funasr.ModelSpec) (models.Paths, error)

// PunctuationThreads is the thread count of the punctuation model.
// Options.Threads applies to the recognizers only.
const PunctuationThreads = 1

// Options configures the factory.
type Options struct {
	SampleRate int
	// Threads sets the recognizer thread count.
	Threads int
	// Provider is the onnxruntime execution provider ("cpu", "cuda", ...).
	Provider string
	Resolve  Resolver
}

// Factory implements funasr.Factory on top of sherpa-onnx.
type Factory struct {
	opts Options
	log  *slog.Logger
}

var _ funasr.Factory = (*Factory)(nil)

// NewFactory returns a factory. Missing options fall back to 16 kHz, one
// thread and the CPU provider.
func NewFactory(opts Options, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = funasr.DefaultSampleRate
	}
	if opts.Threads <= 0 {
		opts.Threads = 1
	}
	if opts.Threads > PunctuationThreads {
		logger.Debug("punctuation model runs with fewer threads than the recognizers",
			"component", "sherpa.Factory",
			"threads", opts.Threads,
			"punctuation_threads", PunctuationThreads,
		)
	}
	if opts.Provider == "" {
		opts.Provider = "cpu"
	}
	return &Factory{
		opts: opts,
		log:  logger.With("component", "sherpa.Factory"),
	}
}

func (f *Factory) paths(ctx context.Context, spec funasr.ModelSpec, roles ...string) (models.Paths, error) {
	if f.opts.Resolve == nil {
		return nil, fmt.Errorf("sherpa: no resolver configured for %s", spec)
	}
	paths, err := f.opts.Resolve(ctx, spec)
	if err != nil {
		return nil, err
	}
	for _, role := range roles {
		if paths[role] == "" {
			return nil, fmt.Errorf("sherpa: %s is missing the %q file", spec, role)
		}
	}
	return paths, nil
}

// spansFromStarts turns token start times in seconds into millisecond spans.
// Each token ends where the next one starts; the last ends at durationMs.
func spansFromStarts(starts []float32, durationMs int) []funasr.Span {
	if len(starts) == 0 {
		return nil
	}
	spans := make([]funasr.Span, len(starts))
	for i, start := range starts {
		spans[i].StartMs = int(start*1000 + 0.5)
	}
	for i := range spans {
		end := durationMs
		if i+1 < len(spans) {
			end = spans[i+1].StartMs
		}
		if end < spans[i].StartMs {
			end = spans[i].StartMs
		}
		spans[i].EndMs = end
	}
	return spans
}
