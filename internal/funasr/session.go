package funasr

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// EventKind distinguishes session events.
type EventKind int

const (
	// EventPartial carries raw text recognised from the latest chunk.
	EventPartial EventKind = iota + 1
	// EventSentence carries a committed, punctuated sentence.
	EventSentence
)

func (k EventKind) String() string {
	switch k {
	case EventPartial:
		return "partial"
	case EventSentence:
		return "sentence_complete"
	default:
		return "unknown"
	}
}

// Sentence triggers reported on EventSentence.
const (
	TriggerCommit  = "commit"
	TriggerSilence = "silence"
	TriggerEnd     = "utterance_end"
)

// Event is emitted by a Session as audio is processed.
type Event struct {
	Kind EventKind
	Text string
	// FullText is the committed transcript followed by the pending text. Set on
	// partial events.
	FullText string
	// Duration is the audio behind a sentence event.
	Duration time.Duration
	// Trigger names what closed a sentence.
	Trigger string
	// Spans holds token timestamps for sentence events when the timestamp model is loaded.
	Spans []TokenSpan
}

// SessionOptions configures a Session.
type SessionOptions struct {
	SampleRate       int
	Chunk            ChunkConfig
	Terminators      TerminatorSet
	ContextSentences int
	// SilenceChunks commits the pending sentence after this many consecutive
	// chunks without new text. Zero disables auto-commit.
	SilenceChunks int
}

// Session drives one audio stream through the models. It is not safe for
// concurrent use.
type Session struct {
	models *Models
	opts   SessionOptions
	log    *slog.Logger

	cache     *Cache
	buffer    []float32
	utterance []float32
	stable    string
	pending   string
	samples   int
	silent    int
	finished  bool
}

// NewSession creates a session with an empty decoder cache.
func NewSession(models *Models, opts SessionOptions, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultSampleRate
	}
	if opts.Chunk.ChunkSize[1] <= 0 {
		opts.Chunk = DefaultChunkConfig()
	}
	if opts.Terminators == nil {
		opts.Terminators = NewTerminatorSet(DefaultTerminators)
	}
	return &Session{
		models: models,
		opts:   opts,
		log:    logger.With("component", "funasr.session"),
		cache:  NewCache(),
	}
}

// Stable returns the committed, punctuated transcript so far.
func (s *Session) Stable() string { return s.stable }

// Pending returns raw text that has not been committed yet.
func (s *Session) Pending() string { return s.pending }

// Feed buffers samples and runs recognition for every complete stride.
func (s *Session) Feed(ctx context.Context, samples []float32) []Event {
	if s.finished || len(samples) == 0 {
		return nil
	}
	s.buffer = append(s.buffer, samples...)

	stride := s.opts.Chunk.StrideSamples(s.opts.SampleRate)
	var events []Event
	for len(s.buffer) >= stride {
		chunk := s.buffer[:stride:stride]
		s.buffer = s.buffer[stride:]
		events = append(events, s.recognize(ctx, chunk, false)...)
	}
	if len(s.buffer) == 0 {
		s.buffer = nil
	}
	return events
}

// Commit punctuates the pending text against the committed transcript and
// appends it.
func (s *Session) Commit(ctx context.Context) []Event {
	return s.commit(ctx, TriggerCommit)
}

func (s *Session) commit(ctx context.Context, trigger string) []Event {
	if strings.TrimSpace(s.pending) == "" {
		s.pending = ""
		return nil
	}

	sentence := ApplyIncrementalPunctuation(ctx,
		s.stable,
		s.pending,
		s.punctuation(),
		s.opts.Terminators,
		s.opts.ContextSentences,
		s.log,
	)
	spans, _ := Align(ctx, s.utterance, s.opts.SampleRate, sentence, s.models, s.log)
	duration := time.Duration(s.samples) * time.Second / time.Duration(s.opts.SampleRate)

	s.stable += sentence
	s.pending = ""
	s.utterance = nil
	s.samples = 0
	s.silent = 0

	s.log.Debug("sentence committed",
		"trigger", trigger,
		"runes", len([]rune(sentence)),
		"duration_ms", duration.Milliseconds(),
		"spans", len(spans),
	)
	return []Event{{
		Kind:     EventSentence,
		Text:     sentence,
		Duration: duration,
		Trigger:  trigger,
		Spans:    spans,
	}}
}

// EndUtterance recognises the buffered audio as the end of an utterance,
// commits it, and prepares the next utterance with a fresh decoder cache. The
// committed transcript stays as punctuation context.
func (s *Session) EndUtterance(ctx context.Context) []Event {
	if s.finished {
		return nil
	}
	events := s.endUtterance(ctx)
	s.restart()
	return events
}

// Reset drops buffered audio, pending text and the committed transcript and
// restarts with a fresh decoder cache. The session stays usable.
func (s *Session) Reset() {
	if s.finished {
		return
	}
	s.restart()
	s.stable = ""
	s.log.Debug("session reset")
}

// Finish ends the last utterance and releases the decoder cache. Later calls
// return nil.
func (s *Session) Finish(ctx context.Context) []Event {
	if s.finished {
		return nil
	}
	events := s.endUtterance(ctx)

	s.finished = true
	s.releaseCache()
	return events
}

func (s *Session) endUtterance(ctx context.Context) []Event {
	tail := s.buffer
	s.buffer = nil

	events := s.recognize(ctx, tail, true)
	return append(events, s.commit(ctx, TriggerEnd)...)
}

func (s *Session) restart() {
	s.releaseCache()
	s.cache = NewCache()
	s.buffer = nil
	s.utterance = nil
	s.pending = ""
	s.samples = 0
	s.silent = 0
}

func (s *Session) releaseCache() {
	if err := s.cache.Close(); err != nil {
		s.log.Warn("failed to release decoder cache", "error", err)
	}
}

// Close releases the decoder cache without recognising buffered audio.
func (s *Session) Close() error {
	s.finished = true
	s.buffer = nil
	return s.cache.Close()
}

func (s *Session) recognize(ctx context.Context, chunk []float32, final bool) []Event {
	var streaming StreamingModel
	if s.models != nil {
		streaming = s.models.Streaming
	}
	if s.models != nil && s.models.HasAlignment() {
		s.utterance = append(s.utterance, chunk...)
	}
	s.samples += len(chunk)

	text := StreamingRecognition(ctx, chunk, streaming, s.cache, s.opts.Chunk, s.opts.SampleRate, final, s.log)
	if text == "" {
		if s.pending == "" {
			return nil
		}
		s.silent++
		if !final && s.opts.SilenceChunks > 0 && s.silent >= s.opts.SilenceChunks {
			return s.commit(ctx, TriggerSilence)
		}
		return nil
	}

	s.silent = 0
	s.pending += text
	return []Event{{Kind: EventPartial, Text: text, FullText: s.stable + s.pending}}
}

func (s *Session) punctuation() PunctuationModel {
	if s.models == nil {
		return nil
	}
	return s.models.Punctuation
}
