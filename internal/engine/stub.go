package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nupi-ai/plugin-stt-local-funasr/internal/adapterinfo"
	"github.com/nupi-ai/plugin-stt-local-funasr/internal/config"
	"github.com/nupi-ai/plugin-stt-local-funasr/internal/funasr"
)

// StubEngine produces deterministic transcripts without loading any model.
type StubEngine struct {
	log         *slog.Logger
	terminators funasr.TerminatorSet
}

// NewStubEngine returns an Engine that generates placeholder transcripts.
func NewStubEngine(logger *slog.Logger) *StubEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubEngine{
		log: logger.With(
			"component", "engine.stub",
			"adapter", adapterinfo.Info.Slug,
		),
		terminators: funasr.NewTerminatorSet(funasr.DefaultTerminators),
	}
}

// Open implements the Engine interface.
func (e *StubEngine) Open(opts StreamOptions) (Stream, error) {
	return &stubStream{
		log: e.log.With("session_id", opts.SessionID, "stream_id", opts.StreamID),
	}, nil
}

// Punctuate implements the Engine interface. Without a model the text comes
// back unchanged.
func (e *StubEngine) Punctuate(ctx context.Context, opts PunctuateOptions) string {
	if !opts.Incremental {
		return funasr.ApplyPunctuation(ctx, opts.Text, nil, e.log)
	}
	n := config.DefaultContextSentences
	if opts.ContextSentences != nil {
		n = *opts.ContextSentences
	}
	return funasr.ApplyIncrementalPunctuation(ctx, opts.Stable, opts.Text, nil, e.terminators, n, e.log)
}

// Aligned implements the Engine interface.
func (e *StubEngine) Aligned() bool { return false }

// Backend implements the Engine interface.
func (e *StubEngine) Backend() string { return config.BackendStub }

// Close implements the Engine interface.
func (e *StubEngine) Close() error {
	return nil
}

type stubStream struct {
	log        *slog.Logger
	totalBytes int
	pending    int
}

func (s *stubStream) TranscribeSegment(ctx context.Context, audio []byte, opts Options) ([]Result, error) {
	var results []Result
	if len(audio) > 0 {
		s.totalBytes += len(audio)
		s.pending += len(audio)
		s.log.Debug("stub transcript", "bytes", len(audio), "sequence", opts.Sequence, "final", opts.Final)
		results = append(results, Result{
			Text:       fmt.Sprintf("[stub] received %d bytes", len(audio)),
			Confidence: 0.42,
		})
	}
	if opts.Final {
		results = append(results, s.sentence(funasr.TriggerEnd)...)
	}
	return results, nil
}

func (s *stubStream) Commit(ctx context.Context) ([]Result, error) {
	return s.sentence(funasr.TriggerCommit), nil
}

func (s *stubStream) sentence(trigger string) []Result {
	if s.pending == 0 {
		return nil
	}
	text := fmt.Sprintf("[stub] sentence of %d bytes。", s.pending)
	s.pending = 0
	return []Result{{Text: text, Confidence: 1.0, Final: true, Trigger: trigger}}
}

func (s *stubStream) Reset(ctx context.Context) error {
	s.log.Debug("stub reset", "total_bytes", s.totalBytes)
	s.totalBytes = 0
	s.pending = 0
	return nil
}

func (s *stubStream) Flush(ctx context.Context, opts Options) ([]Result, error) {
	text := "[stub] stream closed"
	if s.totalBytes > 0 {
		text = fmt.Sprintf("[stub] total bytes %d", s.totalBytes)
	}
	s.log.Debug("stub flush", "total_bytes", s.totalBytes)
	s.totalBytes = 0
	s.pending = 0
	return []Result{
		{
			Text:       text,
			Confidence: 1.0,
			Final:      true,
		},
	}, nil
}

func (s *stubStream) Close() error { return nil }
