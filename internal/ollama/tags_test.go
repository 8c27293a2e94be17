// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import "testing"

func TestPartialTagSuffix(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"hello", 0},
		{"hello <", 1},
		{"hello <thi", 4},
		{"hello <think", 6},
		{"hello <thinki", 7},
		{"x </th", 4},
		{"a < b", 0},
		{"<b>", 0},
	}

	for _, tc := range tests {
		if got := partialTagSuffix(tc.in, allTags); got != tc.want {
			t.Errorf("partialTagSuffix(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestTagRouter_Sequence(t *testing.T) {
	var r tagRouter
	var reasoning, answer string

	for _, delta := range []string{"a<think>b", "c</thi", "nking>d", "e"} {
		for _, seg := range r.route(delta) {
			if seg.reasoning {
				reasoning += seg.text
			} else {
				answer += seg.text
			}
		}
	}

	// A <think> opener may be closed by </thinking>; both spell the same channel.
	if reasoning != "bc" {
		t.Errorf("reasoning = %q, want %q", reasoning, "bc")
	}
	if answer != "ade" {
		t.Errorf("answer = %q, want %q", answer, "ade")
	}
}

func TestSplitThinkSpans(t *testing.T) {
	rest, first, found := splitThinkSpans("<think>one</think>mid<thinking>two</thinking>end")
	if !found || first != "one" {
		t.Errorf("first = %q found = %v", first, found)
	}
	if rest != "midend" {
		t.Errorf("rest = %q", rest)
	}

	rest, _, found = splitThinkSpans("no spans")
	if found || rest != "no spans" {
		t.Errorf("rest = %q found = %v", rest, found)
	}
}

func TestStripThinkTags(t *testing.T) {
	if got := StripThinkTags("<think>a</think><thinking>b</thinking>"); got != "ab" {
		t.Errorf("StripThinkTags() = %q", got)
	}
}
