package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/nupi-ai/plugin-stt-local-funasr/internal/funasr"
)

// ErrEngineClosed is returned by Open after Close.
var ErrEngineClosed = errors.New("engine: closed")

// FunASREngine drives funasr sessions over a loaded model set.
type FunASREngine struct {
	models  *funasr.Models
	session funasr.SessionOptions
	backend string
	log     *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewFunASREngine takes ownership of models.
func NewFunASREngine(models *funasr.Models, opts funasr.SessionOptions, backend string, logger *slog.Logger) *FunASREngine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Terminators == nil {
		opts.Terminators = funasr.NewTerminatorSet(funasr.DefaultTerminators)
	}
	return &FunASREngine{
		models:  models,
		session: opts,
		backend: backend,
		log: logger.With(
			"component", "engine.funasr",
			"backend", backend,
		),
	}
}

// Open implements the Engine interface.
func (e *FunASREngine) Open(opts StreamOptions) (Stream, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	log := e.log.With("session_id", opts.SessionID, "stream_id", opts.StreamID)
	return &funasrStream{
		session: funasr.NewSession(e.models, e.session, log),
		log:     log,
	}, nil
}

// Punctuate implements the Engine interface.
func (e *FunASREngine) Punctuate(ctx context.Context, opts PunctuateOptions) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var model funasr.PunctuationModel
	if !e.closed && e.models != nil {
		model = e.models.Punctuation
	}
	if !opts.Incremental {
		return funasr.ApplyPunctuation(ctx, opts.Text, model, e.log)
	}
	n := e.session.ContextSentences
	if opts.ContextSentences != nil {
		n = *opts.ContextSentences
	}
	return funasr.ApplyIncrementalPunctuation(ctx, opts.Stable, opts.Text, model, e.session.Terminators, n, e.log)
}

// Aligned implements the Engine interface.
func (e *FunASREngine) Aligned() bool { return e.models.HasAlignment() }

// Backend implements the Engine interface.
func (e *FunASREngine) Backend() string { return e.backend }

// Close implements the Engine interface.
func (e *FunASREngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.models.Close()
}

type funasrStream struct {
	session *funasr.Session
	log     *slog.Logger
	// odd holds a trailing byte when a segment splits a sample.
	odd []byte
}

func (s *funasrStream) TranscribeSegment(ctx context.Context, audio []byte, opts Options) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var events []funasr.Event
	if len(audio) > 0 {
		events = s.session.Feed(ctx, funasr.PCM16ToFloat32(s.align(audio)))
	}
	if opts.Final {
		s.odd = nil
		events = append(events, s.session.EndUtterance(ctx)...)
	}
	return resultsFromEvents(events), nil
}

func (s *funasrStream) Commit(ctx context.Context) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return resultsFromEvents(s.session.Commit(ctx)), nil
}

func (s *funasrStream) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.odd = nil
	s.session.Reset()
	return nil
}

func (s *funasrStream) Flush(ctx context.Context, opts Options) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.odd = nil
	return resultsFromEvents(s.session.Finish(ctx)), nil
}

func (s *funasrStream) Close() error {
	return s.session.Close()
}

func (s *funasrStream) align(audio []byte) []byte {
	if len(s.odd) > 0 {
		joined := make([]byte, 0, len(s.odd)+len(audio))
		joined = append(joined, s.odd...)
		audio = append(joined, audio...)
		s.odd = nil
	}
	if len(audio)%2 == 1 {
		s.odd = []byte{audio[len(audio)-1]}
		audio = audio[:len(audio)-1]
	}
	return audio
}

func resultsFromEvents(events []funasr.Event) []Result {
	if len(events) == 0 {
		return nil
	}
	results := make([]Result, 0, len(events))
	for _, ev := range events {
		if ev.Text == "" {
			continue
		}
		results = append(results, Result{
			Text:     ev.Text,
			Final:    ev.Kind == funasr.EventSentence,
			FullText: ev.FullText,
			Duration: ev.Duration,
			Trigger:  ev.Trigger,
			Spans:    ev.Spans,
		})
	}
	return results
}
