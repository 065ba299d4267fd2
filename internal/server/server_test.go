package server_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/nupi-ai/plugin-stt-local-funasr/internal/api/sttv1"
	"github.com/nupi-ai/plugin-stt-local-funasr/internal/config"
	"github.com/nupi-ai/plugin-stt-local-funasr/internal/engine"
	"github.com/nupi-ai/plugin-stt-local-funasr/internal/funasr"
	"github.com/nupi-ai/plugin-stt-local-funasr/internal/server"
	"github.com/nupi-ai/plugin-stt-local-funasr/internal/telemetry"
)

const bufSize = 1024 * 1024

// strideBytes is one 600 ms chunk of 16 kHz PCM16.
const strideBytes = 9600 * 2

type scriptedStreaming struct {
	texts []string
}

func (s *scriptedStreaming) Generate(_ context.Context, req funasr.StreamRequest) (funasr.Records, error) {
	if len(s.texts) == 0 {
		return nil, nil
	}
	text := s.texts[0]
	s.texts = s.texts[1:]
	return funasr.Records{{Text: text}}, nil
}

type stopPunctuation struct{}

func (stopPunctuation) Punctuate(_ context.Context, text string) (funasr.Records, error) {
	return funasr.Records{{Text: text + "。"}}, nil
}

type fixedAlignment struct{}

func (fixedAlignment) Align(_ context.Context, _ []float32, _ int, text string) (funasr.Records, error) {
	return funasr.Records{{
		Tokens:     []string{"你", "好"},
		Timestamps: []funasr.Span{{StartMs: 0, EndMs: 120}, {StartMs: 120, EndMs: 300}},
	}}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.Config {
	return config.Config{
		ListenAddr: "bufconn",
		Language:   "zh",
		LogLevel:   "debug",
		SampleRate: 16000,
	}
}

func startServer(t *testing.T, ctx context.Context, cfg config.Config, eng engine.Engine, recorder *telemetry.Recorder) sttv1.SpeechToTextServiceClient {
	t.Helper()

	lis := bufconn.Listen(bufSize)
	t.Cleanup(func() { lis.Close() })

	grpcServer := grpc.NewServer()
	t.Cleanup(grpcServer.Stop)
	sttv1.RegisterSpeechToTextServiceServer(grpcServer, server.New(cfg, discardLogger(), eng, recorder))

	go func() {
		if err := grpcServer.Serve(lis); err != nil &&
			!errors.Is(err, grpc.ErrServerStopped) &&
			!errors.Is(err, net.ErrClosed) &&
			err.Error() != "closed" {
			t.Errorf("Serve() error: %v", err)
		}
	}()

	conn, err := grpc.DialContext(ctx, "bufconn",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("DialContext error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return sttv1.NewSpeechToTextServiceClient(conn)
}

func TestStreamRecognitionStub(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := startServer(t, ctx, testConfig(), engine.NewStubEngine(discardLogger()), nil)
	stream, err := client.StreamRecognition(ctx)
	if err != nil {
		t.Fatalf("StreamRecognition error: %v", err)
	}

	if err := stream.Send(&sttv1.StreamRecognitionRequest{
		SessionId: "session-1",
		StreamId:  "mic",
		Format: &sttv1.AudioFormat{
			Encoding:   "pcm_s16le",
			SampleRate: 16000,
			Channels:   1,
		},
	}); err != nil {
		t.Fatalf("Send init error: %v", err)
	}

	if err := stream.Send(&sttv1.StreamRecognitionRequest{
		Segment: &sttv1.Segment{
			Sequence: 1,
			Audio:    []byte("test"),
		},
	}); err != nil {
		t.Fatalf("Send segment error: %v", err)
	}

	if err := stream.Send(&sttv1.StreamRecognitionRequest{Flush: true}); err != nil {
		t.Fatalf("Send flush error: %v", err)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend error: %v", err)
	}

	resp1, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv 1 error: %v", err)
	}
	if got, want := resp1.GetSequence(), uint64(1); got != want {
		t.Fatalf("unexpected sequence: got %d, want %d", got, want)
	}
	if !strings.Contains(resp1.GetText(), "received 4 bytes") {
		t.Fatalf("unexpected transcript text: %q", resp1.GetText())
	}
	if resp1.GetFinal() {
		t.Fatalf("expected first transcript to be non-final")
	}
	if resp1.GetMetadata()["backend"] != config.BackendStub {
		t.Fatalf("unexpected metadata %v", resp1.GetMetadata())
	}

	resp2, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv 2 error: %v", err)
	}
	if !resp2.GetFinal() {
		t.Fatalf("expected second transcript to be final")
	}
	if resp2.GetText() != "[stub] total bytes 4" {
		t.Fatalf("unexpected final transcript: %q", resp2.GetText())
	}

	if _, err := stream.Recv(); err != io.EOF {
		t.Fatalf("expected EOF after flush, got %v", err)
	}
}

func TestStreamRecognitionCommitsSentences(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	models := &funasr.Models{
		Streaming:   &scriptedStreaming{texts: []string{"你", "好"}},
		Punctuation: stopPunctuation{},
		Alignment:   fixedAlignment{},
	}
	eng := engine.NewFunASREngine(models, funasr.SessionOptions{
		SampleRate:       16000,
		Chunk:            funasr.DefaultChunkConfig(),
		ContextSentences: 1,
	}, config.BackendSherpa, discardLogger())
	recorder := telemetry.NewRecorder(discardLogger())

	client := startServer(t, ctx, testConfig(), eng, recorder)
	stream, err := client.StreamRecognition(ctx)
	if err != nil {
		t.Fatalf("StreamRecognition error: %v", err)
	}

	for _, req := range []*sttv1.StreamRecognitionRequest{
		{StreamId: "mic", Segment: &sttv1.Segment{Sequence: 1, Audio: make([]byte, 2*strideBytes)}},
		{Commit: true},
		{Flush: true},
	} {
		if err := stream.Send(req); err != nil {
			t.Fatalf("Send error: %v", err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend error: %v", err)
	}

	var transcripts []*sttv1.Transcript
	for {
		tr, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv error: %v", err)
		}
		transcripts = append(transcripts, tr)
	}

	if len(transcripts) != 3 {
		t.Fatalf("expected two partials and one sentence, got %+v", transcripts)
	}
	if transcripts[0].GetText() != "你" || transcripts[1].GetText() != "好" || transcripts[0].GetFinal() {
		t.Fatalf("unexpected partials %+v %+v", transcripts[0], transcripts[1])
	}
	sentence := transcripts[2]
	if !sentence.GetFinal() || sentence.GetText() != "你好。" {
		t.Fatalf("unexpected sentence %+v", sentence)
	}
	if sentence.GetMetadata()["punctuated"] != "true" {
		t.Fatalf("expected punctuated metadata, got %v", sentence.GetMetadata())
	}
	if spans := sentence.GetSpans(); len(spans) != 2 || spans[1].Token != "好" || spans[1].EndMs != 300 {
		t.Fatalf("unexpected spans %+v", spans)
	}

	snapshot := recorder.Snapshot()
	if snapshot.TotalStreams != 1 || snapshot.TotalCommits != 1 || snapshot.TotalFlushes != 1 || snapshot.TotalFinalTranscripts != 1 {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func collectTranscripts(t *testing.T, stream sttv1.SpeechToTextService_StreamRecognitionClient) []*sttv1.Transcript {
	t.Helper()
	var transcripts []*sttv1.Transcript
	for {
		tr, err := stream.Recv()
		if err == io.EOF {
			return transcripts
		}
		if err != nil {
			t.Fatalf("Recv error: %v", err)
		}
		transcripts = append(transcripts, tr)
	}
}

func newScriptedEngine(texts ...string) engine.Engine {
	return engine.NewFunASREngine(&funasr.Models{
		Streaming:   &scriptedStreaming{texts: texts},
		Punctuation: stopPunctuation{},
	}, funasr.SessionOptions{
		SampleRate:       16000,
		Chunk:            funasr.DefaultChunkConfig(),
		ContextSentences: 1,
	}, config.BackendSherpa, discardLogger())
}

func TestStreamRecognitionContinuesAfterLastSegment(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := startServer(t, ctx, testConfig(), newScriptedEngine("你好", "", "再见", ""), nil)
	stream, err := client.StreamRecognition(ctx)
	if err != nil {
		t.Fatalf("StreamRecognition error: %v", err)
	}
	for _, req := range []*sttv1.StreamRecognitionRequest{
		{StreamId: "mic", Segment: &sttv1.Segment{Sequence: 1, Audio: make([]byte, strideBytes), Last: true}},
		{Segment: &sttv1.Segment{Sequence: 2, Audio: make([]byte, strideBytes)}},
		{Flush: true},
	} {
		if err := stream.Send(req); err != nil {
			t.Fatalf("Send error: %v", err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend error: %v", err)
	}

	transcripts := collectTranscripts(t, stream)
	if len(transcripts) != 4 {
		t.Fatalf("expected two utterances, got %+v", transcripts)
	}
	first := transcripts[1]
	if !first.GetFinal() || first.GetText() != "你好。" || first.GetTrigger() != "utterance_end" || first.GetAudioDurationMs() != 600 {
		t.Fatalf("unexpected first sentence %+v", first)
	}
	partial := transcripts[2]
	if partial.GetFinal() || partial.GetText() != "再见" || partial.GetFullText() != "你好。再见" || partial.GetSequence() != 2 {
		t.Fatalf("expected audio after the last segment to be transcribed, got %+v", partial)
	}
	if second := transcripts[3]; !second.GetFinal() || second.GetText() != "再见。" {
		t.Fatalf("unexpected second sentence %+v", second)
	}
}

func TestStreamRecognitionReset(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	recorder := telemetry.NewRecorder(discardLogger())
	client := startServer(t, ctx, testConfig(), newScriptedEngine("你好", "再见"), recorder)
	stream, err := client.StreamRecognition(ctx)
	if err != nil {
		t.Fatalf("StreamRecognition error: %v", err)
	}
	for _, req := range []*sttv1.StreamRecognitionRequest{
		{StreamId: "mic", Segment: &sttv1.Segment{Sequence: 1, Audio: make([]byte, strideBytes)}},
		{Reset: true, Segment: &sttv1.Segment{Sequence: 2, Audio: make([]byte, strideBytes)}},
		{Flush: true},
	} {
		if err := stream.Send(req); err != nil {
			t.Fatalf("Send error: %v", err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend error: %v", err)
	}

	transcripts := collectTranscripts(t, stream)
	if len(transcripts) != 3 {
		t.Fatalf("expected two partials and one sentence, got %+v", transcripts)
	}
	if got := transcripts[1].GetFullText(); got != "再见" {
		t.Fatalf("expected reset to drop earlier text, got full text %q", got)
	}
	if last := transcripts[2]; !last.GetFinal() || last.GetText() != "再见。" {
		t.Fatalf("unexpected sentence %+v", last)
	}
	if got := recorder.Snapshot().TotalResets; got != 1 {
		t.Fatalf("expected one recorded reset, got %d", got)
	}
}

func TestStreamRecognitionFlushesOnHalfClose(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	eng := engine.NewFunASREngine(&funasr.Models{
		Streaming:   &scriptedStreaming{texts: []string{"再见"}},
		Punctuation: stopPunctuation{},
	}, funasr.SessionOptions{}, config.BackendSherpa, discardLogger())

	client := startServer(t, ctx, testConfig(), eng, nil)
	stream, err := client.StreamRecognition(ctx)
	if err != nil {
		t.Fatalf("StreamRecognition error: %v", err)
	}
	if err := stream.Send(&sttv1.StreamRecognitionRequest{Segment: &sttv1.Segment{Sequence: 7, Audio: make([]byte, 320)}}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend error: %v", err)
	}

	var last *sttv1.Transcript
	for {
		tr, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv error: %v", err)
		}
		last = tr
	}
	if last == nil || !last.GetFinal() || last.GetText() != "再见。" || last.GetSequence() != 7 {
		t.Fatalf("expected final sentence on half-close, got %+v", last)
	}
}

func TestStreamRecognitionRejectsFormat(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := startServer(t, ctx, testConfig(), engine.NewStubEngine(discardLogger()), nil)
	stream, err := client.StreamRecognition(ctx)
	if err != nil {
		t.Fatalf("StreamRecognition error: %v", err)
	}
	if err := stream.Send(&sttv1.StreamRecognitionRequest{
		Format: &sttv1.AudioFormat{Encoding: "opus", SampleRate: 48000},
	}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if _, err := stream.Recv(); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestPunctuate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	eng := engine.NewFunASREngine(&funasr.Models{
		Streaming:   &scriptedStreaming{},
		Punctuation: stopPunctuation{},
	}, funasr.SessionOptions{ContextSentences: 1}, config.BackendSherpa, discardLogger())
	recorder := telemetry.NewRecorder(discardLogger())
	client := startServer(t, ctx, testConfig(), eng, recorder)

	resp, err := client.Punctuate(ctx, &sttv1.PunctuateRequest{Text: "你好"})
	if err != nil {
		t.Fatalf("Punctuate error: %v", err)
	}
	if resp.GetText() != "你好。" {
		t.Fatalf("unexpected text %q", resp.GetText())
	}

	resp, err = client.Punctuate(ctx, &sttv1.PunctuateRequest{Text: "  ", Incremental: true, StableText: "你好。"})
	if err != nil {
		t.Fatalf("Punctuate error: %v", err)
	}
	if resp.GetText() != "" {
		t.Fatalf("blank incremental input must yield empty text, got %q", resp.GetText())
	}

	negative := int32(-1)
	_, err = client.Punctuate(ctx, &sttv1.PunctuateRequest{Text: "你好", ContextSentences: &negative})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}

	if got := recorder.Snapshot().TotalPunctuations; got != 2 {
		t.Fatalf("expected two recorded punctuations, got %d", got)
	}
}
