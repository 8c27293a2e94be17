// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package format

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/log"

	"github.com/jeranaias/rigrun-web/internal/model"
)

// =============================================================================
// TERMINAL RENDERER
// =============================================================================

const defaultWidth = 80

var (
	renderersMu sync.Mutex
	renderers   = map[int]*glamour.TermRenderer{}
)

func rendererFor(width int) *glamour.TermRenderer {
	renderersMu.Lock()
	defer renderersMu.Unlock()

	if r, ok := renderers[width]; ok {
		return r
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		log.Debug("MARKDOWN_RENDERER_FAILED", "width", width, "err", err)
		r = nil
	}
	renderers[width] = r
	return r
}

// Terminal renders Markdown for a terminal of the given width. It returns
// content unchanged when rendering fails.
func Terminal(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		return content
	}
	if width <= 0 {
		width = defaultWidth
	}
	r := rendererFor(width)
	if r == nil {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return out
}

// StatsLine summarises generation stats, for example
// "42 tokens · 12.3 tok/s · 3.4s · qwen3:1.7b".
func StatsLine(s *model.Stats) string {
	if s == nil {
		return ""
	}
	tokens := fmt.Sprintf("%d tokens", s.TokenCount)
	if s.Estimated {
		tokens = "~" + tokens
	}
	parts := []string{
		tokens,
		fmt.Sprintf("%.1f tok/s", s.TokensPerSecond),
		fmt.Sprintf("%.1fs", s.ElapsedSeconds),
	}
	if s.Model != "" {
		parts = append(parts, s.Model)
	}
	return strings.Join(parts, " · ")
}
