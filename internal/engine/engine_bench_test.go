package engine

import (
	"context"
	"testing"
)

func BenchmarkStubStreamTranscribeSegment(b *testing.B) {
	eng := NewStubEngine(discardLogger())
	stream, _ := eng.Open(StreamOptions{})
	audio := make([]byte, 1600)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := stream.TranscribeSegment(ctx, audio, Options{Sequence: uint64(i)}); err != nil {
			b.Fatalf("TranscribeSegment failed: %v", err)
		}
	}
	if _, err := stream.Flush(ctx, Options{}); err != nil {
		b.Fatalf("Flush failed: %v", err)
	}
}

func BenchmarkFunASRStreamTranscribeSegment(b *testing.B) {
	eng := newTestEngine(&scriptedStreaming{})
	stream, _ := eng.Open(StreamOptions{})
	audio := make([]byte, 3200)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := stream.TranscribeSegment(ctx, audio, Options{Sequence: uint64(i)}); err != nil {
			b.Fatalf("TranscribeSegment failed: %v", err)
		}
	}
}

func BenchmarkIncrementalPunctuate(b *testing.B) {
	eng := newTestEngine(&scriptedStreaming{})
	ctx := context.Background()
	opts := PunctuateOptions{Text: "明天见", Stable: "你好。今天天气很好。", Incremental: true}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = eng.Punctuate(ctx, opts)
	}
}
