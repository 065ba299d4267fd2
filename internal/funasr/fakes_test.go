package funasr

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

type fakeStreaming struct {
	outputs  []Records
	err      error
	panicMsg string
	requests []StreamRequest
	closed   bool
}

func (f *fakeStreaming) Generate(_ context.Context, req StreamRequest) (Records, error) {
	f.requests = append(f.requests, req)
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return nil, f.err
	}
	if req.Cache != nil && req.Cache.Empty() {
		req.Cache.SetState(&closerState{})
	}
	if len(f.outputs) == 0 {
		return nil, nil
	}
	out := f.outputs[0]
	f.outputs = f.outputs[1:]
	return out, nil
}

func (f *fakeStreaming) Close() error {
	f.closed = true
	return nil
}

type closerState struct {
	closed bool
}

func (c *closerState) Close() error {
	c.closed = true
	return nil
}

// fakePunctuation appends a full stop to its input unless fn is set.
type fakePunctuation struct {
	fn    func(string) (Records, error)
	calls []string
}

func (f *fakePunctuation) Punctuate(_ context.Context, text string) (Records, error) {
	f.calls = append(f.calls, text)
	if f.fn != nil {
		return f.fn(text)
	}
	return Records{{Text: text + "。"}}, nil
}

type fakeAlignment struct {
	err error
}

func (f *fakeAlignment) Align(_ context.Context, audio []float32, _ int, text string) (Records, error) {
	if f.err != nil {
		return nil, f.err
	}
	tokens := strings.Split(strings.TrimRight(text, "。"), "")
	spans := make([]Span, len(tokens))
	for i := range tokens {
		spans[i] = Span{StartMs: i * 100, EndMs: (i + 1) * 100}
	}
	return Records{{Text: text, Tokens: tokens, Timestamps: spans}}, nil
}

type fakeFactory struct {
	streaming      *fakeStreaming
	punctuation    *fakePunctuation
	alignment      *fakeAlignment
	streamingErr   error
	punctuationErr error
	alignmentErr   error
	loaded         []ModelSpec
}

func (f *fakeFactory) LoadStreaming(_ context.Context, spec ModelSpec) (StreamingModel, error) {
	f.loaded = append(f.loaded, spec)
	if f.streamingErr != nil {
		return nil, f.streamingErr
	}
	return f.streaming, nil
}

func (f *fakeFactory) LoadPunctuation(_ context.Context, spec ModelSpec) (PunctuationModel, error) {
	f.loaded = append(f.loaded, spec)
	if f.punctuationErr != nil {
		return nil, f.punctuationErr
	}
	return f.punctuation, nil
}

func (f *fakeFactory) LoadAlignment(_ context.Context, spec ModelSpec) (AlignmentModel, error) {
	f.loaded = append(f.loaded, spec)
	if f.alignmentErr != nil {
		return nil, f.alignmentErr
	}
	return f.alignment, nil
}

var errBoom = errors.New("boom")
