// Package sttv1 defines the speech-to-text service contract: request and
// response messages, a JSON wire codec, and the gRPC service descriptor.
package sttv1

// AudioFormat describes the PCM layout of segments.
type AudioFormat struct {
	Encoding   string `json:"encoding,omitempty"`
	SampleRate uint32 `json:"sample_rate,omitempty"`
	Channels   uint32 `json:"channels,omitempty"`
}

func (x *AudioFormat) GetEncoding() string {
	if x != nil {
		return x.Encoding
	}
	return ""
}

func (x *AudioFormat) GetSampleRate() uint32 {
	if x != nil {
		return x.SampleRate
	}
	return 0
}

func (x *AudioFormat) GetChannels() uint32 {
	if x != nil {
		return x.Channels
	}
	return 0
}

// Segment carries one chunk of audio.
type Segment struct {
	Sequence uint64 `json:"sequence"`
	Audio    []byte `json:"audio,omitempty"`
	Last     bool   `json:"last,omitempty"`
}

func (x *Segment) GetSequence() uint64 {
	if x != nil {
		return x.Sequence
	}
	return 0
}

func (x *Segment) GetAudio() []byte {
	if x != nil {
		return x.Audio
	}
	return nil
}

func (x *Segment) GetLast() bool {
	if x != nil {
		return x.Last
	}
	return false
}

// StreamRecognitionRequest is one client message of a recognition stream. The
// first message opens the stream; later ones carry audio or control flags.
type StreamRecognitionRequest struct {
	SessionId string            `json:"session_id,omitempty"`
	StreamId  string            `json:"stream_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Format    *AudioFormat      `json:"format,omitempty"`
	Segment   *Segment          `json:"segment,omitempty"`
	// Commit closes the current sentence.
	Commit bool `json:"commit,omitempty"`
	// Reset drops buffered audio and the committed transcript; the call stays open.
	Reset bool `json:"reset,omitempty"`
	// Flush finalises the stream; the server ends the call afterwards.
	Flush bool `json:"flush,omitempty"`
}

func (x *StreamRecognitionRequest) GetSessionId() string {
	if x != nil {
		return x.SessionId
	}
	return ""
}

func (x *StreamRecognitionRequest) GetStreamId() string {
	if x != nil {
		return x.StreamId
	}
	return ""
}

func (x *StreamRecognitionRequest) GetMetadata() map[string]string {
	if x != nil {
		return x.Metadata
	}
	return nil
}

func (x *StreamRecognitionRequest) GetFormat() *AudioFormat {
	if x != nil {
		return x.Format
	}
	return nil
}

func (x *StreamRecognitionRequest) GetSegment() *Segment {
	if x != nil {
		return x.Segment
	}
	return nil
}

func (x *StreamRecognitionRequest) GetCommit() bool {
	if x != nil {
		return x.Commit
	}
	return false
}

func (x *StreamRecognitionRequest) GetReset() bool {
	if x != nil {
		return x.Reset
	}
	return false
}

func (x *StreamRecognitionRequest) GetFlush() bool {
	if x != nil {
		return x.Flush
	}
	return false
}

// TokenSpan is a token with its position in the utterance audio.
type TokenSpan struct {
	Token   string `json:"token"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

// Transcript is one server message of a recognition stream.
type Transcript struct {
	Sequence   uint64            `json:"sequence"`
	Text       string            `json:"text"`
	Confidence float32           `json:"confidence,omitempty"`
	Final      bool              `json:"final,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Spans      []*TokenSpan      `json:"spans,omitempty"`
	// FullText is the committed transcript followed by the pending text.
	FullText string `json:"full_text,omitempty"`
	// AudioDurationMs is the audio behind a final transcript.
	AudioDurationMs int64 `json:"audio_duration_ms,omitempty"`
	// Trigger names what closed a final transcript: commit, silence or utterance_end.
	Trigger string `json:"trigger,omitempty"`
}

func (x *Transcript) GetSequence() uint64 {
	if x != nil {
		return x.Sequence
	}
	return 0
}

func (x *Transcript) GetText() string {
	if x != nil {
		return x.Text
	}
	return ""
}

func (x *Transcript) GetConfidence() float32 {
	if x != nil {
		return x.Confidence
	}
	return 0
}

func (x *Transcript) GetFinal() bool {
	if x != nil {
		return x.Final
	}
	return false
}

func (x *Transcript) GetMetadata() map[string]string {
	if x != nil {
		return x.Metadata
	}
	return nil
}

func (x *Transcript) GetSpans() []*TokenSpan {
	if x != nil {
		return x.Spans
	}
	return nil
}

func (x *Transcript) GetFullText() string {
	if x != nil {
		return x.FullText
	}
	return ""
}

func (x *Transcript) GetAudioDurationMs() int64 {
	if x != nil {
		return x.AudioDurationMs
	}
	return 0
}

func (x *Transcript) GetTrigger() string {
	if x != nil {
		return x.Trigger
	}
	return ""
}

// PunctuateRequest asks for punctuation of Text, optionally continuing
// StableText.
type PunctuateRequest struct {
	Text        string `json:"text"`
	StableText  string `json:"stable_text,omitempty"`
	Incremental bool   `json:"incremental,omitempty"`
	// ContextSentences overrides the server default when set.
	ContextSentences *int32 `json:"context_sentences,omitempty"`
}

func (x *PunctuateRequest) GetText() string {
	if x != nil {
		return x.Text
	}
	return ""
}

func (x *PunctuateRequest) GetStableText() string {
	if x != nil {
		return x.StableText
	}
	return ""
}

func (x *PunctuateRequest) GetIncremental() bool {
	if x != nil {
		return x.Incremental
	}
	return false
}

func (x *PunctuateRequest) GetContextSentences() *int32 {
	if x != nil {
		return x.ContextSentences
	}
	return nil
}

// PunctuateResponse carries the punctuated text.
type PunctuateResponse struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (x *PunctuateResponse) GetText() string {
	if x != nil {
		return x.Text
	}
	return ""
}

func (x *PunctuateResponse) GetMetadata() map[string]string {
	if x != nil {
		return x.Metadata
	}
	return nil
}
