package funasr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultTerminators are the sentence-ending characters recognised in stable text.
const DefaultTerminators = "。！？!?.；;"

// TerminatorSet is the set of runes that end a sentence.
type TerminatorSet map[rune]struct{}

// NewTerminatorSet builds a set from every rune in chars.
func NewTerminatorSet(chars string) TerminatorSet {
	set := make(TerminatorSet, len(chars))
	for _, r := range chars {
		set[r] = struct{}{}
	}
	return set
}

// Contains reports whether r ends a sentence.
func (s TerminatorSet) Contains(r rune) bool {
	_, ok := s[r]
	return ok
}

// String returns the terminators in no particular order.
func (s TerminatorSet) String() string {
	var b strings.Builder
	for r := range s {
		b.WriteRune(r)
	}
	return b.String()
}

// ApplyPunctuation restores punctuation in text. The original text is returned
// when it is blank, when the model yields nothing usable, or when it fails.
func ApplyPunctuation(ctx context.Context, text string, model PunctuationModel, logger *slog.Logger) (out string) {
	if strings.TrimSpace(text) == "" {
		return text
	}
	if model == nil {
		return text
	}
	if logger == nil {
		logger = slog.Default()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Warn("punctuation failed", "component", "funasr", "error", fmt.Sprint(r))
			out = text
		}
	}()

	records, err := model.Punctuate(ctx, strings.TrimSpace(text))
	if err != nil {
		logger.Warn("punctuation failed", "component", "funasr", "error", err)
		return text
	}
	if len(records) == 0 {
		return text
	}

	punctuated := records[0].Text
	if punctuated == "" {
		punctuated = records[0].Value
	}
	punctuated = strings.TrimSpace(punctuated)
	if punctuated == "" {
		return text
	}
	return punctuated
}

// ApplyIncrementalPunctuation punctuates newRaw using the last contextSentences
// sentences of stable as leading context, and returns only the part that
// corresponds to newRaw.
func ApplyIncrementalPunctuation(
	ctx context.Context,
	stable string,
	newRaw string,
	model PunctuationModel,
	terminators TerminatorSet,
	contextSentences int,
	logger *slog.Logger,
) string {
	if strings.TrimSpace(newRaw) == "" {
		return ""
	}

	prefix := trailingContext(stable, terminators, contextSentences)
	punctuated := ApplyPunctuation(ctx, prefix+newRaw, model, logger)

	if prefix == "" {
		return punctuated
	}

	contextLen := len([]rune(prefix))
	runes := []rune(punctuated)
	if len(runes) > contextLen {
		return string(runes[contextLen:])
	}
	return newRaw
}

// trailingContext returns the suffix of stable starting after the Nth-from-last
// terminator, or the whole of stable when fewer than n terminators exist. It is
// empty when stable holds no terminator at all.
func trailingContext(stable string, terminators TerminatorSet, n int) string {
	if stable == "" || n <= 0 {
		return ""
	}

	runes := []rune(stable)
	var ends []int
	for i, r := range runes {
		if terminators.Contains(r) {
			ends = append(ends, i+1)
		}
	}
	if len(ends) == 0 {
		return ""
	}

	start := 0
	if len(ends) >= n {
		start = ends[len(ends)-n]
	}
	return string(runes[start:])
}
