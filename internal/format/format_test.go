// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package format

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-web/internal/model"
)

func TestHTML_EscapesFirst(t *testing.T) {
	out := HTML(`<script>alert("x")</script>`)
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "&lt;script&gt;")
}

func TestHTML_InlineMarkup(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"**bold** and *it*", "<strong>bold</strong> and <em>it</em>"},
		{"use `go test` now", `use <code class="inline-code">go test</code> now`},
		{"a\nb", "a<br>b"},
		{"`<b>`", `<code class="inline-code">&lt;b&gt;</code>`},
		{"", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, HTML(tc.in), "input %q", tc.in)
	}
}

func TestHTML_FencedBlock(t *testing.T) {
	out := HTML("Here:\n```go\nfmt.Println(\"<hi>\")\n```\ndone")

	assert.Contains(t, out, `<div class="code-block">`)
	assert.Contains(t, out, `<span class="code-language">go</span>`)
	assert.Contains(t, out, `class="language-go"`)
	assert.Contains(t, out, "copy-code-btn")
	assert.NotContains(t, out, `"<hi>"`)
	assert.Contains(t, out, "&lt;hi&gt;")
	assert.True(t, strings.HasPrefix(out, "Here:<br>"))
	assert.True(t, strings.HasSuffix(out, "<br>done"))

	// Newlines inside the block stay newlines.
	block := out[strings.Index(out, "<pre"):strings.Index(out, "</pre>")]
	assert.NotContains(t, block, "<br>")
}

func TestHTML_SingleTickBlocks(t *testing.T) {
	withLang := HTML("`python\nprint(1)\n`")
	assert.Contains(t, withLang, `<span class="code-language">python</span>`)

	bare := HTML("`\nplain <text>\n`")
	assert.Contains(t, bare, `<span class="code-language">text</span>`)
	assert.Contains(t, bare, "&lt;text&gt;")
}

func TestHTML_UnknownLanguageEscaped(t *testing.T) {
	out := HTML("```nosuchlang\n<tag> & stuff\n```")
	assert.Contains(t, out, "&lt;tag&gt; &amp; stuff")
}

func TestHTML_IgnoresSlotLookalikes(t *testing.T) {
	out := HTML("x\x000\x00y")
	assert.Equal(t, "x0y", out)
}

func TestWriteCodeCSS(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCodeCSS(&buf))
	assert.Contains(t, buf.String(), ".chroma")
}

func TestTerminal(t *testing.T) {
	assert.Equal(t, "", Terminal("", 80))

	out := Terminal("# Title\n\nSome **bold** text.", 60)
	assert.Contains(t, out, "Title")
	assert.Contains(t, out, "bold")
}

func TestStatsLine(t *testing.T) {
	s := &model.Stats{
		TokenCount:      42,
		TokensPerSecond: 12.345,
		ElapsedSeconds:  3.4,
		Timestamp:       time.Now(),
		Model:           "qwen3:1.7b",
	}
	assert.Equal(t, "42 tokens · 12.3 tok/s · 3.4s · qwen3:1.7b", StatsLine(s))

	s.Estimated = true
	s.Model = ""
	assert.Equal(t, "~42 tokens · 12.3 tok/s · 3.4s", StatsLine(s))

	assert.Equal(t, "", StatsLine(nil))
}
