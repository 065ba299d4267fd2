//go:build sherpa

package sherpa

import (
	"context"
	"fmt"
	"strings"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/nupi-ai/plugin-stt-local-funasr/internal/funasr"
)

const featureDim = 80

// Available reports whether the native backend is compiled in.
func Available() bool { return true }

// LoadStreaming builds a streaming paraformer recognizer.
func (f *Factory) LoadStreaming(ctx context.Context, spec funasr.ModelSpec) (funasr.StreamingModel, error) {
	paths, err := f.paths(ctx, spec, "encoder", "decoder", "tokens")
	if err != nil {
		return nil, err
	}

	cfg := sherpa.OnlineRecognizerConfig{
		FeatConfig: sherpa.FeatureConfig{
			SampleRate: f.opts.SampleRate,
			FeatureDim: featureDim,
		},
		ModelConfig: sherpa.OnlineModelConfig{
			Paraformer: sherpa.OnlineParaformerModelConfig{
				Encoder: paths["encoder"],
				Decoder: paths["decoder"],
			},
			Tokens:     paths["tokens"],
			NumThreads: f.opts.Threads,
			Provider:   f.opts.Provider,
			ModelType:  "paraformer",
		},
		DecodingMethod: "greedy_search",
	}

	recognizer := sherpa.NewOnlineRecognizer(&cfg)
	if recognizer == nil {
		return nil, fmt.Errorf("sherpa: failed to create streaming recognizer for %s", spec)
	}
	f.log.Info("streaming recognizer ready", "model", spec.String(), "encoder", paths["encoder"])
	return &streamingModel{recognizer: recognizer, sampleRate: f.opts.SampleRate}, nil
}

// LoadPunctuation builds a ct-transformer punctuation model.
func (f *Factory) LoadPunctuation(ctx context.Context, spec funasr.ModelSpec) (funasr.PunctuationModel, error) {
	paths, err := f.paths(ctx, spec, "model")
	if err != nil {
		return nil, err
	}

	cfg := sherpa.OfflinePunctuationConfig{}
	cfg.Model.CtTransformer = paths["model"]
	cfg.Model.NumThreads = PunctuationThreads
	cfg.Model.Debug = 0
	cfg.Model.Provider = f.opts.Provider

	punct := sherpa.NewOfflinePunctuation(&cfg)
	if punct == nil {
		return nil, fmt.Errorf("sherpa: failed to create punctuation model for %s", spec)
	}
	f.log.Info("punctuation model ready", "model", spec.String(), "threads", PunctuationThreads)
	return &punctuationModel{punct: punct}, nil
}

// LoadAlignment builds an offline paraformer whose token timestamps serve as
// the alignment.
func (f *Factory) LoadAlignment(ctx context.Context, spec funasr.ModelSpec) (funasr.AlignmentModel, error) {
	paths, err := f.paths(ctx, spec, "model", "tokens")
	if err != nil {
		return nil, err
	}

	cfg := sherpa.OfflineRecognizerConfig{
		FeatConfig: sherpa.FeatureConfig{
			SampleRate: f.opts.SampleRate,
			FeatureDim: featureDim,
		},
		ModelConfig: sherpa.OfflineModelConfig{
			Paraformer: sherpa.OfflineParaformerModelConfig{
				Model: paths["model"],
			},
			Tokens:     paths["tokens"],
			NumThreads: f.opts.Threads,
			Provider:   f.opts.Provider,
		},
		DecodingMethod: "greedy_search",
	}

	recognizer := sherpa.NewOfflineRecognizer(&cfg)
	if recognizer == nil {
		return nil, fmt.Errorf("sherpa: failed to create timestamp recognizer for %s", spec)
	}
	f.log.Info("timestamp model ready", "model", spec.String())
	return &alignmentModel{recognizer: recognizer}, nil
}

type streamingModel struct {
	mu         sync.Mutex
	recognizer *sherpa.OnlineRecognizer
	sampleRate int
}

// onlineState is stored in the funasr cache for one stream.
type onlineState struct {
	stream  *sherpa.OnlineStream
	emitted string
}

func (s *onlineState) Close() error {
	if s.stream != nil {
		sherpa.DeleteOnlineStream(s.stream)
		s.stream = nil
	}
	return nil
}

func (m *streamingModel) Generate(ctx context.Context, req funasr.StreamRequest) (funasr.Records, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Cache == nil {
		return nil, fmt.Errorf("sherpa: streaming call without cache")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.recognizer == nil {
		return nil, fmt.Errorf("sherpa: streaming recognizer closed")
	}

	state, _ := req.Cache.State().(*onlineState)
	if state == nil {
		state = &onlineState{stream: sherpa.NewOnlineStream(m.recognizer)}
		req.Cache.SetState(state)
	}

	sampleRate := req.SampleRate
	if sampleRate <= 0 {
		sampleRate = m.sampleRate
	}
	if len(req.Audio) > 0 {
		state.stream.AcceptWaveform(sampleRate, req.Audio)
	}
	if req.Final {
		state.stream.InputFinished()
	}
	for m.recognizer.IsReady(state.stream) {
		m.recognizer.Decode(state.stream)
	}

	text := m.recognizer.GetResult(state.stream).Text
	delta := text
	if strings.HasPrefix(text, state.emitted) {
		delta = text[len(state.emitted):]
	}
	state.emitted = text

	if m.recognizer.IsEndpoint(state.stream) {
		m.recognizer.Reset(state.stream)
		state.emitted = ""
	}
	return funasr.Records{{Text: delta}}, nil
}

func (m *streamingModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recognizer != nil {
		sherpa.DeleteOnlineRecognizer(m.recognizer)
		m.recognizer = nil
	}
	return nil
}

type punctuationModel struct {
	mu    sync.Mutex
	punct *sherpa.OfflinePunctuation
}

func (m *punctuationModel) Punctuate(ctx context.Context, text string) (funasr.Records, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.punct == nil {
		return nil, fmt.Errorf("sherpa: punctuation model closed")
	}
	return funasr.Records{{Text: m.punct.AddPunct(text)}}, nil
}

func (m *punctuationModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.punct != nil {
		sherpa.DeleteOfflinePunc(m.punct)
		m.punct = nil
	}
	return nil
}

type alignmentModel struct {
	mu         sync.Mutex
	recognizer *sherpa.OfflineRecognizer
}

func (m *alignmentModel) Align(ctx context.Context, audio []float32, sampleRate int, text string) (funasr.Records, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recognizer == nil {
		return nil, fmt.Errorf("sherpa: timestamp model closed")
	}

	stream := sherpa.NewOfflineStream(m.recognizer)
	defer sherpa.DeleteOfflineStream(stream)
	stream.AcceptWaveform(sampleRate, audio)
	m.recognizer.Decode(stream)
	result := stream.GetResult()

	durationMs := len(audio) * 1000 / sampleRate
	return funasr.Records{{
		Text:       result.Text,
		Tokens:     result.Tokens,
		Timestamps: spansFromStarts(result.Timestamps, durationMs),
	}}, nil
}

func (m *alignmentModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(m.recognizer)
		m.recognizer = nil
	}
	return nil
}
