package engine

import (
	"context"
	"time"

	"github.com/nupi-ai/plugin-stt-local-funasr/internal/funasr"
)

// Engine opens transcription streams and restores punctuation, backed by the
// FunASR model set or a stub implementation.
type Engine interface {
	// Open starts a stream with its own decoder cache.
	Open(opts StreamOptions) (Stream, error)
	// Punctuate restores punctuation. It never fails; on any problem the input
	// text is returned.
	Punctuate(ctx context.Context, opts PunctuateOptions) string
	// Aligned reports whether sentence results carry token timestamps.
	Aligned() bool
	// Backend names the implementation ("sherpa", "runtime", "stub").
	Backend() string
	// Close releases underlying resources.
	Close() error
}

// Stream is one audio stream. It is not safe for concurrent use.
type Stream interface {
	// TranscribeSegment processes a chunk of PCM s16le audio and may emit zero
	// or more transcripts. A Final segment ends the current utterance; the
	// stream keeps accepting audio afterwards.
	TranscribeSegment(ctx context.Context, audio []byte, opts Options) ([]Result, error)
	// Commit closes the current sentence and emits it punctuated.
	Commit(ctx context.Context) ([]Result, error)
	// Reset drops buffered audio and the committed transcript without ending
	// the stream.
	Reset(ctx context.Context) error
	// Flush finalises the stream and emits any buffered transcripts.
	Flush(ctx context.Context, opts Options) ([]Result, error)
	// Close releases the stream without flushing.
	Close() error
}

// StreamOptions configures a stream.
type StreamOptions struct {
	SessionID string
	StreamID  string
	Language  string
}

// Options configures decoding for a segment or flush call.
type Options struct {
	Language string
	// Final marks the end of an utterance.
	Final bool
	// Sequence carries the original sequence number from the segment, when available.
	Sequence uint64
}

// PunctuateOptions selects full or incremental punctuation.
type PunctuateOptions struct {
	Text string
	// Stable is the already punctuated transcript used as context when Incremental is set.
	Stable      string
	Incremental bool
	// ContextSentences overrides the configured number of trailing sentences.
	ContextSentences *int
}

// Result represents a transcript produced by the engine.
type Result struct {
	Text       string
	Confidence float32
	// Final marks a committed, punctuated sentence.
	Final bool
	// FullText is the committed transcript plus pending text on partial results.
	FullText string
	// Duration is the audio behind a sentence.
	Duration time.Duration
	// Trigger names what closed a sentence.
	Trigger string
	Spans   []funasr.TokenSpan
}
