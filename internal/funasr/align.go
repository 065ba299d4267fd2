package funasr

import (
	"context"
	"fmt"
	"log/slog"
)

// TokenSpan is one aligned token.
type TokenSpan struct {
	Token   string `json:"token"`
	StartMs int    `json:"start_ms"`
	EndMs   int    `json:"end_ms"`
}

// Align runs the optional timestamp model over an utterance. It reports false
// when the model is absent or the call fails.
func Align(ctx context.Context, audio []float32, sampleRate int, text string, models *Models, logger *slog.Logger) (spans []TokenSpan, ok bool) {
	if !models.HasAlignment() || len(audio) == 0 {
		return nil, false
	}
	if logger == nil {
		logger = slog.Default()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Warn("alignment failed", "component", "funasr", "error", fmt.Sprint(r))
			spans, ok = nil, false
		}
	}()

	records, err := models.Alignment.Align(ctx, audio, sampleRate, text)
	if err != nil {
		logger.Warn("alignment failed", "component", "funasr", "error", err)
		return nil, false
	}

	for _, rec := range records {
		for i, span := range rec.Timestamps {
			token := ""
			if i < len(rec.Tokens) {
				token = rec.Tokens[i]
			}
			spans = append(spans, TokenSpan{Token: token, StartMs: span.StartMs, EndMs: span.EndMs})
		}
	}
	return spans, true
}
