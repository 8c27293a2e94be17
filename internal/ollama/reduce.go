// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jeranaias/rigrun-web/internal/model"
)

// =============================================================================
// REDUCTION
// =============================================================================

// reduce builds the final message from the accumulators.
//
// The answer accumulator wins when it has text. Otherwise think spans are
// stripped from the raw content, and the first span's inner text stands in
// for reasoning when no reasoning was routed.
func (d *Decoder) reduce() *ReducedResult {
	s := &d.state
	content := s.Answer.String()
	reasoning := s.Reasoning.String()

	if strings.TrimSpace(content) == "" && s.Raw.Len() > 0 {
		rest, first, found := splitThinkSpans(s.Raw.String())
		content = rest
		if found && strings.TrimSpace(reasoning) == "" {
			reasoning = first
		}
	}

	result := &ReducedResult{
		Content:        strings.TrimSpace(content),
		Reasoning:      strings.TrimSpace(StripThinkTags(reasoning)),
		Directives:     d.scanner.queries(),
		SkippedRecords: s.skipped,
	}
	result.Stats = d.stats(result.Content)
	return result
}

// stats derives token and timing figures. Server counters win; otherwise
// tokens are estimated at four characters each and speed is measured from
// the first received token.
func (d *Decoder) stats(content string) model.Stats {
	s := &d.state
	end := d.now()

	stats := model.Stats{
		Timestamp:    end,
		Model:        d.meta.Model,
		PromptTokens: s.promptEvalCount,
	}
	if stats.Model == "" {
		stats.Model = s.serverModel
	}

	if s.sawDone && s.evalCount > 0 {
		stats.TokenCount = s.evalCount
	} else {
		stats.TokenCount = utf8.RuneCountInString(content) / 4
		stats.Estimated = true
	}

	switch {
	case s.sawDone && s.evalCount > 0 && s.evalDuration > 0:
		stats.TokensPerSecond = float64(s.evalCount) / s.evalDuration.Seconds()
	case !s.FirstTokenAt.IsZero():
		if secs := end.Sub(s.FirstTokenAt).Seconds(); secs > 0 {
			stats.TokensPerSecond = float64(stats.TokenCount) / secs
		}
	}

	if !s.StartedAt.IsZero() {
		stats.ElapsedSeconds = end.Sub(s.StartedAt).Seconds()
		if !s.FirstTokenAt.IsZero() {
			stats.TTFTMillis = s.FirstTokenAt.Sub(s.StartedAt).Milliseconds()
		}
	}

	return stats
}

// Elapsed returns the wall-clock time since the request started.
func (s *StreamState) Elapsed(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(s.StartedAt)
}
