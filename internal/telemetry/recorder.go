package telemetry

import (
	"log/slog"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// Recorder tracks adapter-level counters exposed through logs and the HTTP API.
type Recorder struct {
	log *slog.Logger

	totalStreams          atomic.Uint64
	activeStreams         atomic.Int64
	totalSegments         atomic.Uint64
	totalBytes            atomic.Uint64
	totalTranscripts      atomic.Uint64
	totalFinalTranscripts atomic.Uint64
	totalFlushes          atomic.Uint64
	totalCommits          atomic.Uint64
	totalResets           atomic.Uint64
	totalPunctuations     atomic.Uint64
	inferenceNanos        atomic.Int64
}

// Snapshot captures cumulative metrics recorded so far.
type Snapshot struct {
	TotalStreams          uint64        `json:"total_streams"`
	ActiveStreams         int64         `json:"active_streams"`
	TotalSegments         uint64        `json:"total_segments"`
	TotalBytes            uint64        `json:"total_bytes"`
	TotalTranscripts      uint64        `json:"total_transcripts"`
	TotalFinalTranscripts uint64        `json:"total_final_transcripts"`
	TotalFlushes          uint64        `json:"total_flushes"`
	TotalCommits          uint64        `json:"total_commits"`
	TotalResets           uint64        `json:"total_resets"`
	TotalPunctuations     uint64        `json:"total_punctuations"`
	InferenceTime         time.Duration `json:"inference_ns"`
}

// NewRecorder constructs a Recorder using the provided logger.
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		log: logger.With("component", "telemetry.Recorder"),
	}
}

// Snapshot returns an immutable view of the recorder totals.
func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		TotalStreams:          r.totalStreams.Load(),
		ActiveStreams:         r.activeStreams.Load(),
		TotalSegments:         r.totalSegments.Load(),
		TotalBytes:            r.totalBytes.Load(),
		TotalTranscripts:      r.totalTranscripts.Load(),
		TotalFinalTranscripts: r.totalFinalTranscripts.Load(),
		TotalFlushes:          r.totalFlushes.Load(),
		TotalCommits:          r.totalCommits.Load(),
		TotalResets:           r.totalResets.Load(),
		TotalPunctuations:     r.totalPunctuations.Load(),
		InferenceTime:         time.Duration(r.inferenceNanos.Load()),
	}
}

// StreamMetrics accumulates statistics for a single transcription stream.
type StreamMetrics struct {
	recorder *Recorder
	log      *slog.Logger

	sessionID string
	streamID  string
	metadata  map[string]string

	started          time.Time
	segments         int
	bytes            int
	transcripts      int
	finalTranscripts int
	flushes          int
	commits          int
	resets           int
	inference        time.Duration
	lastSequence     uint64
	closed           atomic.Bool
}

// StartStream initialises a StreamMetrics instance bound to the recorder.
func (r *Recorder) StartStream(sessionID, streamID string, metadata map[string]string) *StreamMetrics {
	if r == nil {
		return nil
	}

	clonedMetadata := cloneMetadata(metadata)

	streamLogger := r.log.With(
		"session_id", sessionID,
		"stream_id", streamID,
	)
	if len(clonedMetadata) > 0 {
		streamLogger = streamLogger.With("metadata", clonedMetadata)
	}

	r.totalStreams.Add(1)
	r.activeStreams.Add(1)

	return &StreamMetrics{
		recorder: r,
		log:      streamLogger,

		sessionID: sessionID,
		streamID:  streamID,
		metadata:  clonedMetadata,

		started: time.Now(),
	}
}

// RecordSegment updates counters for an incoming audio segment.
func (s *StreamMetrics) RecordSegment(sequence uint64, size int, final bool) {
	if s == nil || size <= 0 {
		return
	}
	s.segments++
	s.bytes += size
	s.lastSequence = sequence
	s.recorder.totalSegments.Add(1)
	s.recorder.totalBytes.Add(uint64(size))

	s.log.Debug("segment received",
		"sequence", sequence,
		"bytes", size,
		"final", final,
	)
}

// RecordTranscript stores statistics for an emitted transcript.
func (s *StreamMetrics) RecordTranscript(sequence uint64, text string, final bool) {
	if s == nil {
		return
	}
	s.transcripts++
	if final {
		s.finalTranscripts++
		s.recorder.totalFinalTranscripts.Add(1)
	}
	s.recorder.totalTranscripts.Add(1)

	s.log.Debug("transcript emitted",
		"sequence", sequence,
		"final", final,
		"chars", len(text),
		"runes", utf8.RuneCountInString(text),
	)
}

// RecordFlush increments counters for a stream flush event.
func (s *StreamMetrics) RecordFlush() {
	if s == nil {
		return
	}
	s.flushes++
	s.recorder.totalFlushes.Add(1)
}

// RecordCommit counts a sentence commit requested by the client.
func (s *StreamMetrics) RecordCommit() {
	if s == nil {
		return
	}
	s.commits++
	s.recorder.totalCommits.Add(1)
}

// RecordReset counts a client reset of the stream transcript.
func (s *StreamMetrics) RecordReset() {
	if s == nil {
		return
	}
	s.resets++
	s.recorder.totalResets.Add(1)
}

// RecordInferenceDuration accumulates time spent inside the engine.
func (s *StreamMetrics) RecordInferenceDuration(d time.Duration) {
	if s == nil || d <= 0 {
		return
	}
	s.inference += d
	s.recorder.inferenceNanos.Add(int64(d))
}

// RecordPunctuation counts a standalone punctuation request.
func (r *Recorder) RecordPunctuation(incremental bool, runes int, d time.Duration) {
	if r == nil {
		return
	}
	r.totalPunctuations.Add(1)
	if d > 0 {
		r.inferenceNanos.Add(int64(d))
	}
	r.log.Debug("punctuation served",
		"incremental", incremental,
		"runes", runes,
		"duration_ms", d.Milliseconds(),
	)
}

// Finish logs a summary and updates active stream counters.
func (s *StreamMetrics) Finish(err error) {
	if s == nil {
		return
	}
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	defer s.recorder.activeStreams.Add(-1)

	duration := time.Since(s.started)
	args := []any{
		"duration_ms", duration.Milliseconds(),
		"segments", s.segments,
		"bytes", s.bytes,
		"transcripts", s.transcripts,
		"final_transcripts", s.finalTranscripts,
		"flushes", s.flushes,
		"commits", s.commits,
		"resets", s.resets,
		"inference_ms", s.inference.Milliseconds(),
	}

	if err != nil {
		s.log.Error("stream completed with error", append(args, "error", err)...)
		return
	}

	s.log.Info("stream completed", args...)
}

func cloneMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
