package funasr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// StreamingRecognition feeds one audio chunk to the streaming model and returns
// the incremental text it produced. Failures are logged and reported as an
// empty string so a bad chunk never stops the caller's loop.
func StreamingRecognition(
	ctx context.Context,
	audio []float32,
	model StreamingModel,
	cache *Cache,
	chunk ChunkConfig,
	sampleRate int,
	final bool,
	logger *slog.Logger,
) (text string) {
	if logger == nil {
		logger = slog.Default()
	}
	if model == nil {
		logger.Error("streaming recognition failed", "component", "funasr", "error", "model is nil")
		return ""
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("streaming recognition failed",
				"component", "funasr",
				"error", fmt.Sprint(r),
				"samples", len(audio),
				"final", final,
			)
			text = ""
		}
	}()

	records, err := model.Generate(ctx, StreamRequest{
		Audio:      audio,
		SampleRate: sampleRate,
		Cache:      cache,
		Final:      final,
		Chunk:      chunk,
	})
	if err != nil {
		logger.Error("streaming recognition failed",
			"component", "funasr",
			"error", err,
			"samples", len(audio),
			"final", final,
		)
		return ""
	}

	var b strings.Builder
	for _, rec := range records {
		b.WriteString(rec.Text)
	}
	return strings.TrimSpace(b.String())
}
