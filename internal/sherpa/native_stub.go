//go:build !sherpa

package sherpa

import (
	"context"

	"github.com/nupi-ai/plugin-stt-local-funasr/internal/funasr"
)

// Available reports whether the native backend is compiled in.
func Available() bool { return false }

// LoadStreaming returns ErrUnavailable when the backend is not built.
func (f *Factory) LoadStreaming(ctx context.Context, spec funasr.ModelSpec) (funasr.StreamingModel, error) {
	return nil, ErrUnavailable
}

// LoadPunctuation returns ErrUnavailable when the backend is not built.
func (f *Factory) LoadPunctuation(ctx context.Context, spec funasr.ModelSpec) (funasr.PunctuationModel, error) {
	return nil, ErrUnavailable
}

// LoadAlignment returns ErrUnavailable when the backend is not built.
func (f *Factory) LoadAlignment(ctx context.Context, spec funasr.ModelSpec) (funasr.AlignmentModel, error) {
	return nil, ErrUnavailable
}
