// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"regexp"
	"strings"
)

// =============================================================================
// THINK-TAG ROUTING
// =============================================================================

var (
	openTags  = []string{"<think>", "<thinking>"}
	closeTags = []string{"</think>", "</thinking>"}
	allTags   = append(append([]string{}, openTags...), closeTags...)

	// thinkSpanRe matches a reasoning span; an unclosed span runs to the end.
	thinkSpanRe = regexp.MustCompile(`(?s)<(?:think|thinking)>(.*?)(?:</(?:think|thinking)>|\z)`)
)

// segment is a routed piece of content text.
type segment struct {
	reasoning bool
	text      string
}

// tagRouter splits content deltas into reasoning and answer text.
//
// A trailing fragment that could still grow into a tag is held in carry
// until the next delta decides it, so tags split across records are found.
type tagRouter struct {
	inThink bool
	carry   string
}

// route consumes one content delta.
func (r *tagRouter) route(text string) []segment {
	buf := r.carry + text
	r.carry = ""

	var out []segment
	for buf != "" {
		if r.inThink {
			idx, n := indexAny(buf, closeTags)
			if idx >= 0 {
				out = appendSegment(out, true, buf[:idx])
				buf = buf[idx+n:]
				r.inThink = false
				continue
			}
			keep := partialTagSuffix(buf, closeTags)
			out = appendSegment(out, true, buf[:len(buf)-keep])
			r.carry = buf[len(buf)-keep:]
			break
		}

		idx, n := indexAny(buf, openTags)
		if idx >= 0 {
			out = appendSegment(out, false, stripStrayCloseTags(buf[:idx]))
			buf = buf[idx+n:]
			r.inThink = true
			continue
		}
		keep := partialTagSuffix(buf, allTags)
		out = appendSegment(out, false, stripStrayCloseTags(buf[:len(buf)-keep]))
		r.carry = buf[len(buf)-keep:]
		break
	}
	return out
}

// flush releases held-back text at end of stream.
func (r *tagRouter) flush() []segment {
	if r.carry == "" {
		return nil
	}
	text := r.carry
	r.carry = ""
	return appendSegment(nil, r.inThink, text)
}

func appendSegment(out []segment, reasoning bool, text string) []segment {
	if text == "" {
		return out
	}
	return append(out, segment{reasoning: reasoning, text: text})
}

// indexAny returns the earliest position of any tag and that tag's length.
func indexAny(s string, tags []string) (int, int) {
	best, length := -1, 0
	for _, tag := range tags {
		if i := strings.Index(s, tag); i >= 0 && (best < 0 || i < best) {
			best, length = i, len(tag)
		}
	}
	return best, length
}

// partialTagSuffix returns the length of the longest suffix of s that is a
// proper prefix of one of tags.
func partialTagSuffix(s string, tags []string) int {
	start := strings.LastIndexByte(s, '<')
	if start < 0 {
		return 0
	}
	tail := s[start:]
	for _, tag := range tags {
		if len(tail) < len(tag) && strings.HasPrefix(tag, tail) {
			return len(tail)
		}
	}
	return 0
}

// stripStrayCloseTags drops closing tags that appear outside a span.
func stripStrayCloseTags(s string) string {
	if !strings.Contains(s, "</think") {
		return s
	}
	for _, tag := range closeTags {
		s = strings.ReplaceAll(s, tag, "")
	}
	return s
}

// StripThinkTags removes every think-tag marker, keeping the inner text.
func StripThinkTags(s string) string {
	for _, tag := range allTags {
		s = strings.ReplaceAll(s, tag, "")
	}
	return s
}

// splitThinkSpans removes reasoning spans from raw and returns the remaining
// text together with the inner text of the first span.
func splitThinkSpans(raw string) (rest string, first string, found bool) {
	if m := thinkSpanRe.FindStringSubmatch(raw); m != nil {
		first, found = m[1], true
	}
	rest = StripThinkTags(thinkSpanRe.ReplaceAllString(raw, ""))
	return rest, first, found
}
