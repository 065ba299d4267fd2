// Package runtimews streams audio to a FunASR runtime server over its
// websocket protocol and exposes it as a funasr.StreamingModel.
package runtimews

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/nupi-ai/plugin-stt-local-funasr/internal/funasr"
)

// ErrUnsupported is returned for model roles the runtime server does not serve.
var ErrUnsupported = errors.New("runtimews: model role not served by the runtime server")

const (
	defaultDialAttempts  = 3
	defaultDialDelay     = time.Second
	defaultResultWait    = 30 * time.Millisecond
	defaultFinalTimeout  = 5 * time.Second
	defaultChunkInterval = 10
	resultBuffer         = 64
)

// Options configures the websocket client.
type Options struct {
	URL           string
	ChunkInterval int
	ITN           bool
	DialAttempts  int
	DialDelay     time.Duration
	// ResultWait bounds how long a non-final call waits for the first result.
	ResultWait time.Duration
	// FinalTimeout bounds how long a final call waits for is_final.
	FinalTimeout time.Duration
	Dialer       *websocket.Dialer
}

func (o *Options) applyDefaults() {
	if o.ChunkInterval <= 0 {
		o.ChunkInterval = defaultChunkInterval
	}
	if o.DialAttempts <= 0 {
		o.DialAttempts = defaultDialAttempts
	}
	if o.DialDelay <= 0 {
		o.DialDelay = defaultDialDelay
	}
	if o.ResultWait <= 0 {
		o.ResultWait = defaultResultWait
	}
	if o.FinalTimeout <= 0 {
		o.FinalTimeout = defaultFinalTimeout
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
}

// Factory serves the streaming role from a runtime server.
type Factory struct {
	opts Options
	log  *slog.Logger
}

var _ funasr.Factory = (*Factory)(nil)

// NewFactory validates the endpoint URL.
func NewFactory(opts Options, logger *slog.Logger) (*Factory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("runtimews: invalid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("runtimews: unsupported URL scheme %q", u.Scheme)
	}
	opts.applyDefaults()
	return &Factory{opts: opts, log: logger.With("component", "runtimews", "url", opts.URL)}, nil
}

// LoadStreaming checks the server is reachable and returns a model bound to it.
func (f *Factory) LoadStreaming(ctx context.Context, spec funasr.ModelSpec) (funasr.StreamingModel, error) {
	conn, err := dial(ctx, f.opts, "probe-"+uuid.NewString())
	if err != nil {
		return nil, err
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "probe"))
	conn.Close()
	f.log.Info("runtime server reachable", "model", spec.String())
	return &Model{opts: f.opts, log: f.log}, nil
}

// LoadPunctuation is not served by the runtime server.
func (f *Factory) LoadPunctuation(ctx context.Context, spec funasr.ModelSpec) (funasr.PunctuationModel, error) {
	return nil, ErrUnsupported
}

// LoadAlignment is not served by the runtime server.
func (f *Factory) LoadAlignment(ctx context.Context, spec funasr.ModelSpec) (funasr.AlignmentModel, error) {
	return nil, ErrUnsupported
}

// Model is a streaming model backed by one websocket connection per cache.
type Model struct {
	opts Options
	log  *slog.Logger
}

// NewModel builds a model without probing the server.
func NewModel(opts Options, logger *slog.Logger) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()
	return &Model{opts: opts, log: logger.With("component", "runtimews")}
}

// Generate sends one chunk on the connection stored in req.Cache, opening it
// on first use, and returns the results received for it.
func (m *Model) Generate(ctx context.Context, req funasr.StreamRequest) (funasr.Records, error) {
	if req.Cache == nil {
		return nil, errors.New("runtimews: streaming call without cache")
	}

	sess, _ := req.Cache.State().(*session)
	if sess == nil {
		var err error
		sess, err = m.open(ctx, req)
		if err != nil {
			return nil, err
		}
		req.Cache.SetState(sess)
	}

	if len(req.Audio) > 0 {
		if err := sess.write(websocket.BinaryMessage, funasr.Float32ToPCM16(req.Audio)); err != nil {
			return nil, fmt.Errorf("runtimews: send audio: %w", err)
		}
	}
	if req.Final {
		payload, _ := json.Marshal(endFrame{IsSpeaking: false})
		if err := sess.write(websocket.TextMessage, payload); err != nil {
			return nil, fmt.Errorf("runtimews: send end of speech: %w", err)
		}
		return sess.collectFinal(ctx, m.opts.FinalTimeout)
	}
	return sess.collect(ctx, m.opts.ResultWait), nil
}

func (m *Model) open(ctx context.Context, req funasr.StreamRequest) (*session, error) {
	wavName := uuid.NewString()
	conn, err := dial(ctx, m.opts, wavName)
	if err != nil {
		return nil, err
	}

	sampleRate := req.SampleRate
	if sampleRate <= 0 {
		sampleRate = funasr.DefaultSampleRate
	}
	start := startFrame{
		Mode:                 "online",
		ChunkSize:            req.Chunk.ChunkSize[:],
		ChunkInterval:        m.opts.ChunkInterval,
		EncoderChunkLookBack: req.Chunk.EncoderLookBack,
		DecoderChunkLookBack: req.Chunk.DecoderLookBack,
		AudioFs:              sampleRate,
		WavName:              wavName,
		WavFormat:            "pcm",
		IsSpeaking:           true,
		ITN:                  m.opts.ITN,
	}
	if err := conn.WriteJSON(start); err != nil {
		conn.Close()
		return nil, fmt.Errorf("runtimews: send start frame: %w", err)
	}

	sess := &session{
		conn:    conn,
		results: make(chan message, resultBuffer),
		done:    make(chan struct{}),
		log:     m.log.With("wav_name", wavName),
	}
	sess.group.Go(sess.readLoop)
	m.log.Debug("runtime stream opened", "wav_name", wavName)
	return sess, nil
}

func dial(ctx context.Context, opts Options, wavName string) (*websocket.Conn, error) {
	var (
		conn *websocket.Conn
		err  error
	)
	for attempt := 1; attempt <= opts.DialAttempts; attempt++ {
		conn, _, err = opts.Dialer.DialContext(ctx, opts.URL, nil)
		if err == nil {
			return conn, nil
		}
		if attempt == opts.DialAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.DialDelay):
		}
	}
	if funasr.IsOutOfMemory(err) {
		return nil, fmt.Errorf("%w: %v", funasr.ErrOutOfMemory, err)
	}
	return nil, fmt.Errorf("runtimews: connect %s for %s failed after %d attempts: %w", opts.URL, wavName, opts.DialAttempts, err)
}

type startFrame struct {
	Mode                 string `json:"mode"`
	ChunkSize            []int  `json:"chunk_size"`
	ChunkInterval        int    `json:"chunk_interval"`
	EncoderChunkLookBack int    `json:"encoder_chunk_look_back"`
	DecoderChunkLookBack int    `json:"decoder_chunk_look_back"`
	AudioFs              int    `json:"audio_fs"`
	WavName              string `json:"wav_name"`
	WavFormat            string `json:"wav_format"`
	IsSpeaking           bool   `json:"is_speaking"`
	ITN                  bool   `json:"itn"`
}

type endFrame struct {
	IsSpeaking bool `json:"is_speaking"`
}

type message struct {
	Mode    string `json:"mode"`
	Text    string `json:"text"`
	WavName string `json:"wav_name"`
	IsFinal bool   `json:"is_final"`
}

// session is the cache state of one stream.
type session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	group   errgroup.Group
	results chan message
	done    chan struct{}
	log     *slog.Logger

	once sync.Once
}

func (s *session) readLoop() error {
	defer close(s.results)
	for {
		messageType, payload, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var msg message
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.log.Warn("dropping malformed runtime message", "error", err)
			continue
		}
		select {
		case s.results <- msg:
		case <-s.done:
			return nil
		}
	}
}

func (s *session) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

// collect waits up to wait for the first result, then drains whatever else is
// already buffered.
func (s *session) collect(ctx context.Context, wait time.Duration) funasr.Records {
	var out funasr.Records
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case msg, ok := <-s.results:
		if !ok {
			return nil
		}
		out = append(out, funasr.Record{Text: msg.Text})
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	}

	for {
		select {
		case msg, ok := <-s.results:
			if !ok {
				return out
			}
			out = append(out, funasr.Record{Text: msg.Text})
		default:
			return out
		}
	}
}

func (s *session) collectFinal(ctx context.Context, timeout time.Duration) (funasr.Records, error) {
	var out funasr.Records
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case msg, ok := <-s.results:
			if !ok {
				// the server may close right after its last message
				return out, nil
			}
			out = append(out, funasr.Record{Text: msg.Text})
			if msg.IsFinal {
				return out, nil
			}
		case <-timer.C:
			if len(out) > 0 {
				s.log.Warn("final result missing; keeping partial results", "timeout", timeout, "records", len(out))
				return out, nil
			}
			return out, fmt.Errorf("runtimews: no final result within %s", timeout)
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
}

// Close ends the stream and waits for the reader to exit.
func (s *session) Close() error {
	s.once.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		s.writeMu.Unlock()
		close(s.done)
		s.conn.Close()
		_ = s.group.Wait()
	})
	return nil
}
