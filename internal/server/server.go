package server

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nupi-ai/plugin-stt-local-funasr/internal/adapterinfo"
	"github.com/nupi-ai/plugin-stt-local-funasr/internal/api/sttv1"
	"github.com/nupi-ai/plugin-stt-local-funasr/internal/config"
	"github.com/nupi-ai/plugin-stt-local-funasr/internal/engine"
	"github.com/nupi-ai/plugin-stt-local-funasr/internal/telemetry"
)

const pcmEncoding = "pcm_s16le"

// Server implements the SpeechToTextService on top of an engine.
type Server struct {
	sttv1.UnimplementedSpeechToTextServiceServer

	cfg     config.Config
	log     *slog.Logger
	engine  engine.Engine
	metrics *telemetry.Recorder
}

// New returns a new Server instance.
func New(cfg config.Config, logger *slog.Logger, eng engine.Engine, metrics *telemetry.Recorder) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if eng == nil {
		panic("server: engine must not be nil")
	}
	if metrics == nil {
		metrics = telemetry.NewRecorder(logger)
	}
	return &Server{
		cfg: cfg,
		log: logger.With(
			"component", "server",
			"backend", eng.Backend(),
			"language", cfg.Language,
		),
		engine:  eng,
		metrics: metrics,
	}
}

// StreamRecognition consumes PCM segments and control messages and emits
// partial transcripts followed by punctuated sentences. A segment marked last
// ends the utterance; only flush or a client half-close ends the call.
func (s *Server) StreamRecognition(stream sttv1.SpeechToTextService_StreamRecognitionServer) (err error) {
	var (
		recognizer    engine.Stream
		streamMetrics *telemetry.StreamMetrics
		log           = s.log
		language      string
		sequence      uint64
	)
	ctx := stream.Context()
	defer func() {
		if recognizer != nil {
			if closeErr := recognizer.Close(); closeErr != nil {
				log.Warn("failed to close stream", "error", closeErr)
			}
		}
		if streamMetrics != nil {
			streamMetrics.Finish(err)
		}
	}()

	for {
		req, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				if recognizer == nil {
					return nil
				}
				// half-closed without flush: emit whatever is still pending
				return s.flush(ctx, stream, recognizer, sequence, language, streamMetrics)
			}
			log.Error("failed to receive request", "error", err)
			return err
		}
		if req == nil {
			continue
		}

		if recognizer == nil {
			if err := validateFormat(req.GetFormat(), s.cfg.SampleRate); err != nil {
				return err
			}
			sessionID := req.GetSessionId()
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			language = resolveLanguage(s.cfg.Language, req.GetMetadata())
			log = s.log.With("session_id", sessionID, "stream_id", req.GetStreamId())

			recognizer, err = s.engine.Open(engine.StreamOptions{
				SessionID: sessionID,
				StreamID:  req.GetStreamId(),
				Language:  language,
			})
			if err != nil {
				log.Error("failed to open stream", "error", err)
				return status.Error(codes.Unavailable, err.Error())
			}
			streamMetrics = s.metrics.StartStream(sessionID, req.GetStreamId(), req.GetMetadata())
			log.Info("stream opened",
				"metadata", req.GetMetadata(),
				"language", language,
			)
		}

		if req.GetReset() {
			streamMetrics.RecordReset()
			if err := recognizer.Reset(ctx); err != nil {
				log.Error("engine reset failure", "error", err)
				return err
			}
			log.Debug("stream reset")
		}

		segment := req.GetSegment()
		if segment != nil {
			sequence = segment.GetSequence()
		}

		if segment != nil && (len(segment.GetAudio()) > 0 || segment.GetLast()) {
			final := req.GetFlush() || segment.GetLast()
			streamMetrics.RecordSegment(sequence, len(segment.GetAudio()), final)
			start := time.Now()
			results, err := recognizer.TranscribeSegment(ctx, segment.GetAudio(), engine.Options{
				Language: language,
				Final:    segment.GetLast(),
				Sequence: sequence,
			})
			if err != nil {
				log.Error("engine segment failure", "error", err)
				return err
			}
			streamMetrics.RecordInferenceDuration(time.Since(start))
			if err := s.sendResults(stream, sequence, language, results, streamMetrics); err != nil {
				return err
			}
		}

		if req.GetCommit() {
			streamMetrics.RecordCommit()
			start := time.Now()
			results, err := recognizer.Commit(ctx)
			if err != nil {
				log.Error("engine commit failure", "error", err)
				return err
			}
			streamMetrics.RecordInferenceDuration(time.Since(start))
			if err := s.sendResults(stream, sequence, language, results, streamMetrics); err != nil {
				return err
			}
		}

		if req.GetFlush() {
			if err := s.flush(ctx, stream, recognizer, sequence, language, streamMetrics); err != nil {
				return err
			}
			log.Info("stream flushed")
			return nil
		}
	}
}

func (s *Server) flush(ctx context.Context, stream sttv1.SpeechToTextService_StreamRecognitionServer, recognizer engine.Stream, sequence uint64, language string, metrics *telemetry.StreamMetrics) error {
	metrics.RecordFlush()
	start := time.Now()
	results, err := recognizer.Flush(ctx, engine.Options{Language: language, Final: true, Sequence: sequence})
	if err != nil {
		s.log.Error("engine flush failure", "error", err)
		return err
	}
	metrics.RecordInferenceDuration(time.Since(start))
	return s.sendResults(stream, sequence, language, results, metrics)
}

func (s *Server) sendResults(stream sttv1.SpeechToTextService_StreamRecognitionServer, sequence uint64, language string, results []engine.Result, metrics *telemetry.StreamMetrics) error {
	for _, res := range results {
		metrics.RecordTranscript(sequence, res.Text, res.Final)
		transcript := &sttv1.Transcript{
			Sequence:        sequence,
			Text:            res.Text,
			Confidence:      res.Confidence,
			Final:           res.Final,
			Metadata:        adapterinfo.TranscriptMetadata(s.engine.Backend(), language, res.Final),
			FullText:        res.FullText,
			AudioDurationMs: res.Duration.Milliseconds(),
			Trigger:         res.Trigger,
		}
		for _, span := range res.Spans {
			transcript.Spans = append(transcript.Spans, &sttv1.TokenSpan{
				Token:   span.Token,
				StartMs: int64(span.StartMs),
				EndMs:   int64(span.EndMs),
			})
		}
		if err := stream.Send(transcript); err != nil {
			s.log.Error("failed to send transcript", "error", err)
			return err
		}
	}
	return nil
}

// Punctuate restores punctuation for a piece of text. Model failures return
// the text unchanged.
func (s *Server) Punctuate(ctx context.Context, req *sttv1.PunctuateRequest) (*sttv1.PunctuateResponse, error) {
	opts := engine.PunctuateOptions{
		Text:        req.GetText(),
		Stable:      req.GetStableText(),
		Incremental: req.GetIncremental(),
	}
	if n := req.GetContextSentences(); n != nil {
		if *n < 0 {
			return nil, status.Errorf(codes.InvalidArgument, "context_sentences must be >= 0, got %d", *n)
		}
		value := int(*n)
		opts.ContextSentences = &value
	}

	start := time.Now()
	text := s.engine.Punctuate(ctx, opts)
	s.metrics.RecordPunctuation(opts.Incremental, utf8.RuneCountInString(text), time.Since(start))

	return &sttv1.PunctuateResponse{
		Text:     text,
		Metadata: adapterinfo.TranscriptMetadata(s.engine.Backend(), s.cfg.Language, true),
	}, nil
}

func validateFormat(format *sttv1.AudioFormat, sampleRate int) error {
	if format == nil {
		return nil
	}
	if enc := format.GetEncoding(); enc != "" && !strings.EqualFold(enc, pcmEncoding) {
		return status.Errorf(codes.InvalidArgument, "unsupported encoding %q, want %s", enc, pcmEncoding)
	}
	if ch := format.GetChannels(); ch > 1 {
		return status.Errorf(codes.InvalidArgument, "unsupported channel count %d, want mono", ch)
	}
	if sr := format.GetSampleRate(); sr != 0 && sampleRate > 0 && int(sr) != sampleRate {
		return status.Errorf(codes.InvalidArgument, "unsupported sample rate %d, want %d", sr, sampleRate)
	}
	return nil
}
