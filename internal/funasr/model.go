package funasr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrOutOfMemory marks a model load that failed because the host ran out of memory.
	ErrOutOfMemory = errors.New("funasr: not enough memory")
	// ErrModelLoad wraps every failure returned by LoadModels.
	ErrModelLoad = errors.New("funasr: model load failed")
)

// ModelSpec names a pretrained model and its pinned revision.
type ModelSpec struct {
	Name     string `yaml:"name" json:"name"`
	Revision string `yaml:"revision" json:"revision"`
}

func (s ModelSpec) String() string {
	if s.Revision == "" {
		return s.Name
	}
	return fmt.Sprintf("%s (%s)", s.Name, s.Revision)
}

// The fixed model set loaded by the adapter.
var (
	StreamingSpec   = ModelSpec{Name: "paraformer-zh-streaming", Revision: "v2.0.4"}
	PunctuationSpec = ModelSpec{Name: "ct-punc", Revision: "v2.0.4"}
	AlignmentSpec   = ModelSpec{Name: "fa-zh", Revision: "v2.0.4"}
)

// Span is a token time range in milliseconds.
type Span struct {
	StartMs int `json:"start_ms"`
	EndMs   int `json:"end_ms"`
}

// Record is a single result produced by a model call.
type Record struct {
	Text       string   `json:"text"`
	Value      string   `json:"value,omitempty"`
	Tokens     []string `json:"tokens,omitempty"`
	Timestamps []Span   `json:"timestamps,omitempty"`
}

// Records is the normalised output of a model call. Backends may answer with a
// single object or with a list of objects; both decode into Records.
type Records []Record

// UnmarshalJSON accepts either a JSON array of records or a single record.
func (r *Records) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*r = nil
		return nil
	}
	if trimmed[0] == '[' {
		var list []Record
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return err
		}
		*r = list
		return nil
	}
	var single Record
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return err
	}
	*r = Records{single}
	return nil
}

// StreamRequest carries one chunk of audio to a streaming model.
type StreamRequest struct {
	Audio      []float32
	SampleRate int
	Cache      *Cache
	Final      bool
	Chunk      ChunkConfig
}

// StreamingModel performs incremental recognition on successive audio chunks.
type StreamingModel interface {
	Generate(ctx context.Context, req StreamRequest) (Records, error)
}

// PunctuationModel restores punctuation in recognised text.
type PunctuationModel interface {
	Punctuate(ctx context.Context, text string) (Records, error)
}

// AlignmentModel produces token timestamps for an utterance.
type AlignmentModel interface {
	Align(ctx context.Context, audio []float32, sampleRate int, text string) (Records, error)
}

// Factory instantiates the pretrained models.
type Factory interface {
	LoadStreaming(ctx context.Context, spec ModelSpec) (StreamingModel, error)
	LoadPunctuation(ctx context.Context, spec ModelSpec) (PunctuationModel, error)
	LoadAlignment(ctx context.Context, spec ModelSpec) (AlignmentModel, error)
}

// CompositeFactory dispatches each model role to its own factory.
type CompositeFactory struct {
	Streaming   Factory
	Punctuation Factory
	Alignment   Factory
}

// LoadStreaming implements Factory.
func (f CompositeFactory) LoadStreaming(ctx context.Context, spec ModelSpec) (StreamingModel, error) {
	if f.Streaming == nil {
		return nil, errors.New("funasr: no streaming factory configured")
	}
	return f.Streaming.LoadStreaming(ctx, spec)
}

// LoadPunctuation implements Factory.
func (f CompositeFactory) LoadPunctuation(ctx context.Context, spec ModelSpec) (PunctuationModel, error) {
	if f.Punctuation == nil {
		return nil, errors.New("funasr: no punctuation factory configured")
	}
	return f.Punctuation.LoadPunctuation(ctx, spec)
}

// LoadAlignment implements Factory.
func (f CompositeFactory) LoadAlignment(ctx context.Context, spec ModelSpec) (AlignmentModel, error) {
	if f.Alignment == nil {
		return nil, errors.New("funasr: no alignment factory configured")
	}
	return f.Alignment.LoadAlignment(ctx, spec)
}

// Models holds the loaded model triple. Alignment is nil when the optional
// timestamp model could not be loaded.
type Models struct {
	Streaming   StreamingModel
	Punctuation PunctuationModel
	Alignment   AlignmentModel
}

// HasAlignment reports whether the timestamp model is available.
func (m *Models) HasAlignment() bool {
	return m != nil && m.Alignment != nil
}

// Close releases every model that implements io.Closer.
func (m *Models) Close() error {
	if m == nil {
		return nil
	}
	return errors.Join(
		closeModel(m.Streaming),
		closeModel(m.Punctuation),
		closeModel(m.Alignment),
	)
}

func closeModel(model any) error {
	if c, ok := model.(interface{ Close() error }); ok && c != nil {
		return c.Close()
	}
	return nil
}
