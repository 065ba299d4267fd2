package runtimews

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nupi-ai/plugin-stt-local-funasr/internal/funasr"
)

// fakeRuntime answers every audio frame with one online result and the end of
// speech frame with a final result.
type fakeRuntime struct {
	mu     sync.Mutex
	starts []startFrame
	bytes  int
	// noFinal leaves the end of speech frame unanswered.
	noFinal bool
}

func (f *fakeRuntime) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		started := false
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch messageType {
			case websocket.BinaryMessage:
				f.mu.Lock()
				f.bytes += len(payload)
				f.mu.Unlock()
				conn.WriteJSON(message{Mode: "online", Text: "你好"})
			case websocket.TextMessage:
				if !started {
					var start startFrame
					if err := json.Unmarshal(payload, &start); err != nil {
						t.Errorf("decode start frame: %v", err)
						return
					}
					f.mu.Lock()
					f.starts = append(f.starts, start)
					f.mu.Unlock()
					started = true
					continue
				}
				if f.noFinal {
					continue
				}
				conn.WriteJSON(message{Mode: "online", Text: "世界", IsFinal: true})
			}
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGenerateStreamsOverOneConnection(t *testing.T) {
	runtime := &fakeRuntime{}
	srv := httptest.NewServer(runtime.handler(t))
	defer srv.Close()

	model := NewModel(Options{URL: wsURL(srv), ResultWait: time.Second}, discardLogger())
	cache := funasr.NewCache()
	ctx := context.Background()
	chunk := funasr.DefaultChunkConfig()

	records, err := model.Generate(ctx, funasr.StreamRequest{Audio: make([]float32, 960), SampleRate: 16000, Cache: cache, Chunk: chunk})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if len(records) != 1 || records[0].Text != "你好" {
		t.Fatalf("unexpected records %+v", records)
	}

	records, err = model.Generate(ctx, funasr.StreamRequest{SampleRate: 16000, Cache: cache, Chunk: chunk, Final: true})
	if err != nil {
		t.Fatalf("final Generate error: %v", err)
	}
	if len(records) != 1 || records[0].Text != "世界" {
		t.Fatalf("unexpected final records %+v", records)
	}
	if err := cache.Close(); err != nil {
		t.Fatalf("cache close: %v", err)
	}

	runtime.mu.Lock()
	defer runtime.mu.Unlock()
	if len(runtime.starts) != 1 {
		t.Fatalf("expected one start frame, got %d", len(runtime.starts))
	}
	start := runtime.starts[0]
	if start.Mode != "online" || !start.IsSpeaking || start.WavFormat != "pcm" || start.AudioFs != 16000 {
		t.Fatalf("unexpected start frame %+v", start)
	}
	if len(start.ChunkSize) != 3 || start.ChunkSize[1] != 10 || start.EncoderChunkLookBack != 4 || start.DecoderChunkLookBack != 1 {
		t.Fatalf("chunk config not forwarded: %+v", start)
	}
	if runtime.bytes != 1920 {
		t.Fatalf("expected 1920 PCM bytes, got %d", runtime.bytes)
	}
}

func TestGenerateThroughStreamingRecognition(t *testing.T) {
	runtime := &fakeRuntime{}
	srv := httptest.NewServer(runtime.handler(t))
	defer srv.Close()

	model := NewModel(Options{URL: wsURL(srv), ResultWait: time.Second}, discardLogger())
	cache := funasr.NewCache()
	defer cache.Close()

	got := funasr.StreamingRecognition(context.Background(), make([]float32, 160), model, cache, funasr.DefaultChunkConfig(), 16000, false, discardLogger())
	if got != "你好" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestGenerateFinalTimeout(t *testing.T) {
	runtime := &fakeRuntime{noFinal: true}
	srv := httptest.NewServer(runtime.handler(t))
	defer srv.Close()

	model := NewModel(Options{URL: wsURL(srv), FinalTimeout: 200 * time.Millisecond}, discardLogger())
	ctx := context.Background()

	cache := funasr.NewCache()
	defer cache.Close()
	records, err := model.Generate(ctx, funasr.StreamRequest{Audio: make([]float32, 960), SampleRate: 16000, Cache: cache, Final: true})
	if err != nil {
		t.Fatalf("expected received text to be kept, got error %v", err)
	}
	if len(records) != 1 || records[0].Text != "你好" {
		t.Fatalf("unexpected records %+v", records)
	}

	empty := funasr.NewCache()
	defer empty.Close()
	if _, err := model.Generate(ctx, funasr.StreamRequest{SampleRate: 16000, Cache: empty, Final: true}); err == nil {
		t.Fatalf("expected timeout error without any result")
	}
}

func TestNewFactoryRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"http://127.0.0.1:10095", "::"} {
		if _, err := NewFactory(Options{URL: raw}, nil); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestFactoryLoad(t *testing.T) {
	runtime := &fakeRuntime{}
	srv := httptest.NewServer(runtime.handler(t))
	defer srv.Close()

	factory, err := NewFactory(Options{URL: wsURL(srv)}, discardLogger())
	if err != nil {
		t.Fatalf("NewFactory error: %v", err)
	}
	if _, err := factory.LoadStreaming(context.Background(), funasr.StreamingSpec); err != nil {
		t.Fatalf("LoadStreaming error: %v", err)
	}
	if _, err := factory.LoadPunctuation(context.Background(), funasr.PunctuationSpec); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if _, err := factory.LoadAlignment(context.Background(), funasr.AlignmentSpec); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestFactoryLoadUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	factory, err := NewFactory(Options{URL: url, DialAttempts: 2, DialDelay: time.Millisecond}, discardLogger())
	if err != nil {
		t.Fatalf("NewFactory error: %v", err)
	}
	_, err = factory.LoadStreaming(context.Background(), funasr.StreamingSpec)
	if err == nil || !strings.Contains(err.Error(), "after 2 attempts") {
		t.Fatalf("expected dial failure, got %v", err)
	}
}
