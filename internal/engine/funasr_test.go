package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nupi-ai/plugin-stt-local-funasr/internal/funasr"
)

// strideBytes is one 600 ms chunk of 16 kHz PCM16.
const strideBytes = 9600 * 2

func newTestEngine(streaming *scriptedStreaming) *FunASREngine {
	return NewFunASREngine(&funasr.Models{
		Streaming:   streaming,
		Punctuation: stopPunctuation{},
	}, funasr.SessionOptions{
		SampleRate:       16000,
		Chunk:            funasr.DefaultChunkConfig(),
		ContextSentences: 1,
	}, "sherpa", discardLogger())
}

func TestFunASRStreamEmitsPartialsAndSentences(t *testing.T) {
	streaming := &scriptedStreaming{texts: []string{"今天", "天气好"}}
	engine := newTestEngine(streaming)
	defer engine.Close()

	stream, err := engine.Open(StreamOptions{SessionID: "s", StreamID: "mic"})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	ctx := context.Background()

	results, err := stream.TranscribeSegment(ctx, make([]byte, 2*strideBytes), Options{Sequence: 1})
	if err != nil {
		t.Fatalf("TranscribeSegment error: %v", err)
	}
	if len(results) != 2 || results[0].Text != "今天" || results[1].Text != "天气好" {
		t.Fatalf("unexpected partial results %+v", results)
	}
	for _, res := range results {
		if res.Final {
			t.Fatalf("partial result marked final: %+v", res)
		}
	}

	results, err = stream.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit error: %v", err)
	}
	if len(results) != 1 || !results[0].Final || results[0].Text != "今天天气好。" {
		t.Fatalf("unexpected commit results %+v", results)
	}

	results, err = stream.Flush(ctx, Options{Final: true})
	if err != nil {
		t.Fatalf("Flush error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected nothing pending at flush, got %+v", results)
	}
	if streaming.finals != 1 {
		t.Fatalf("expected one final model call, got %d", streaming.finals)
	}
}

func TestFunASRStreamFinalSegmentEndsUtterance(t *testing.T) {
	streaming := &scriptedStreaming{texts: []string{"你好"}}
	engine := newTestEngine(streaming)
	stream, _ := engine.Open(StreamOptions{})

	results, err := stream.TranscribeSegment(context.Background(), make([]byte, 100), Options{Final: true})
	if err != nil {
		t.Fatalf("TranscribeSegment error: %v", err)
	}
	if len(results) != 2 || results[0].Final || !results[1].Final || results[1].Text != "你好。" {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestFunASRStreamContinuesAfterLastSegment(t *testing.T) {
	streaming := &scriptedStreaming{texts: []string{"你好", "", "今天", "天气", "好", ""}}
	engine := newTestEngine(streaming)
	defer engine.Close()
	stream, _ := engine.Open(StreamOptions{})
	ctx := context.Background()

	results, err := stream.TranscribeSegment(ctx, make([]byte, strideBytes), Options{Sequence: 1, Final: true})
	if err != nil {
		t.Fatalf("TranscribeSegment error: %v", err)
	}
	if len(results) != 2 || !results[1].Final || results[1].Text != "你好。" {
		t.Fatalf("unexpected first utterance %+v", results)
	}
	callsAfterLast := streaming.calls

	results, err = stream.TranscribeSegment(ctx, make([]byte, 3*strideBytes), Options{Sequence: 2})
	if err != nil {
		t.Fatalf("TranscribeSegment error: %v", err)
	}
	if got := streaming.calls - callsAfterLast; got != 3 {
		t.Fatalf("expected 3 model calls after the last segment, got %d", got)
	}
	if len(results) != 3 || results[2].FullText != "你好。今天天气好" {
		t.Fatalf("unexpected second utterance partials %+v", results)
	}

	results, err = stream.Flush(ctx, Options{Final: true})
	if err != nil {
		t.Fatalf("Flush error: %v", err)
	}
	if len(results) != 1 || !results[0].Final || results[0].Text != "今天天气好。" {
		t.Fatalf("unexpected flush results %+v", results)
	}
	if results[0].Duration != 1800*time.Millisecond {
		t.Fatalf("unexpected sentence duration %s", results[0].Duration)
	}
}

func TestFunASRStreamReset(t *testing.T) {
	streaming := &scriptedStreaming{texts: []string{"你好"}}
	engine := newTestEngine(streaming)
	defer engine.Close()
	stream, _ := engine.Open(StreamOptions{})
	ctx := context.Background()

	if _, err := stream.TranscribeSegment(ctx, make([]byte, strideBytes+1), Options{}); err != nil {
		t.Fatalf("TranscribeSegment error: %v", err)
	}
	if err := stream.Reset(ctx); err != nil {
		t.Fatalf("Reset error: %v", err)
	}
	if fs := stream.(*funasrStream); len(fs.odd) != 0 {
		t.Fatalf("expected carried byte to be dropped, got %v", fs.odd)
	}
	results, err := stream.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected nothing to commit after reset, got %+v", results)
	}
}

func TestFunASRStreamKeepsOddByte(t *testing.T) {
	stream := &funasrStream{}
	if got := stream.align([]byte{1, 2, 3}); len(got) != 2 {
		t.Fatalf("expected two bytes, got %v", got)
	}
	got := stream.align([]byte{4})
	if len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Fatalf("expected carried byte to lead, got %v", got)
	}
	if len(stream.odd) != 0 {
		t.Fatalf("expected no leftover, got %v", stream.odd)
	}
}

func TestFunASRStreamHonoursCancellation(t *testing.T) {
	engine := newTestEngine(&scriptedStreaming{})
	stream, _ := engine.Open(StreamOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := stream.TranscribeSegment(ctx, make([]byte, 10), Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFunASREnginePunctuate(t *testing.T) {
	engine := newTestEngine(&scriptedStreaming{})
	ctx := context.Background()

	if got := engine.Punctuate(ctx, PunctuateOptions{Text: "你好"}); got != "你好。" {
		t.Fatalf("full punctuation: got %q", got)
	}
	if got := engine.Punctuate(ctx, PunctuateOptions{Text: "   "}); got != "   " {
		t.Fatalf("blank input must come back unchanged, got %q", got)
	}

	got := engine.Punctuate(ctx, PunctuateOptions{Text: "再见", Stable: "你好。", Incremental: true})
	if got != "再见。" {
		t.Fatalf("incremental punctuation: got %q", got)
	}

	zero := 0
	got = engine.Punctuate(ctx, PunctuateOptions{Text: "再见", Stable: "你好。", Incremental: true, ContextSentences: &zero})
	if got != "再见。" {
		t.Fatalf("incremental punctuation without context: got %q", got)
	}
	if got := engine.Punctuate(ctx, PunctuateOptions{Text: " ", Incremental: true}); got != "" {
		t.Fatalf("blank incremental input must yield empty text, got %q", got)
	}
}

func TestFunASREngineClose(t *testing.T) {
	streaming := &scriptedStreaming{}
	engine := newTestEngine(streaming)
	if err := engine.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if !streaming.closed {
		t.Fatalf("expected streaming model to be closed")
	}
	if _, err := engine.Open(StreamOptions{}); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("expected ErrEngineClosed, got %v", err)
	}
	if got := engine.Punctuate(context.Background(), PunctuateOptions{Text: "你好"}); got != "你好" {
		t.Fatalf("closed engine must return text unchanged, got %q", got)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}

func TestStubStream(t *testing.T) {
	engine := NewStubEngine(discardLogger())
	stream, _ := engine.Open(StreamOptions{})
	ctx := context.Background()

	results, _ := stream.TranscribeSegment(ctx, []byte("test"), Options{Sequence: 1})
	if len(results) != 1 || results[0].Text != "[stub] received 4 bytes" || results[0].Final {
		t.Fatalf("unexpected results %+v", results)
	}
	results, _ = stream.Commit(ctx)
	if len(results) != 1 || !results[0].Final {
		t.Fatalf("expected one committed sentence, got %+v", results)
	}
	results, _ = stream.TranscribeSegment(ctx, []byte("ab"), Options{Sequence: 2, Final: true})
	if len(results) != 2 || !results[1].Final || results[1].Trigger != funasr.TriggerEnd {
		t.Fatalf("unexpected utterance end %+v", results)
	}
	results, _ = stream.Flush(ctx, Options{})
	if len(results) != 1 || results[0].Text != "[stub] total bytes 6" {
		t.Fatalf("unexpected flush %+v", results)
	}
	if err := stream.Reset(ctx); err != nil {
		t.Fatalf("Reset error: %v", err)
	}
	if got := engine.Punctuate(ctx, PunctuateOptions{Text: "你好", Stable: "早。", Incremental: true}); got != "你好" {
		t.Fatalf("stub punctuation must pass text through, got %q", got)
	}
}
