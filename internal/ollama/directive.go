// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"regexp"
	"strings"
)

// =============================================================================
// SEARCH DIRECTIVES
// =============================================================================

const (
	searchOpen  = "<search>"
	searchClose = "</search>"

	// maxDirectiveWindow bounds the text held while waiting for a closing tag.
	maxDirectiveWindow = 4096
)

var searchDirectiveRe = regexp.MustCompile(`(?is)<search>(.*?)</search>`)

// directiveScanner finds <search>query</search> spans in streamed text.
// Each query is reported once per response, compared case-insensitively.
type directiveScanner struct {
	window string
	seen   map[string]struct{}
	order  []string
}

func newDirectiveScanner() *directiveScanner {
	return &directiveScanner{seen: make(map[string]struct{})}
}

// scan appends newly arrived text and returns queries not reported before.
func (s *directiveScanner) scan(text string) []string {
	if text == "" {
		return nil
	}
	s.window += text

	var fresh []string
	matches := searchDirectiveRe.FindAllStringSubmatchIndex(s.window, -1)
	for _, m := range matches {
		query := strings.TrimSpace(s.window[m[2]:m[3]])
		if query == "" {
			continue
		}
		key := strings.ToLower(query)
		if _, dup := s.seen[key]; dup {
			continue
		}
		s.seen[key] = struct{}{}
		s.order = append(s.order, query)
		fresh = append(fresh, query)
	}
	if len(matches) > 0 {
		s.window = s.window[matches[len(matches)-1][1]:]
	}
	s.trim()
	return fresh
}

// trim keeps only text that may still complete a directive.
func (s *directiveScanner) trim() {
	lower := strings.ToLower(s.window)
	if i := strings.LastIndex(lower, searchOpen); i >= 0 {
		s.window = s.window[i:]
		if len(s.window) > maxDirectiveWindow {
			s.window = ""
		}
		return
	}
	// Keep a possible "<sear" prefix at the end.
	if i := strings.LastIndexByte(s.window, '<'); i >= 0 && len(s.window)-i < len(searchOpen) {
		if strings.HasPrefix(searchOpen, strings.ToLower(s.window[i:])) {
			s.window = s.window[i:]
			return
		}
	}
	s.window = ""
}

// queries returns every distinct query in first-seen order.
func (s *directiveScanner) queries() []string {
	return append([]string(nil), s.order...)
}
