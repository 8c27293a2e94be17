// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package format renders assistant message text for the browser and the
// terminal.
package format

import (
	"fmt"
	"html"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/google/uuid"
)

// =============================================================================
// PATTERNS
// =============================================================================

var (
	fencedBlock   = regexp.MustCompile("```(\\w+)?\\n?([\\s\\S]*?)```")
	tickLangBlock = regexp.MustCompile("`(\\w+)?\\n([\\s\\S]*?)\\n`")
	tickBlock     = regexp.MustCompile("`\\n([\\s\\S]*?)\\n`")
	inlineCode    = regexp.MustCompile("`([^`\\n]+)`")
	boldText      = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicText    = regexp.MustCompile(`\*(.*?)\*`)

	// slot marks where a rendered code block is restored after inline
	// formatting. NUL never survives escaping as anything else.
	slotPattern = regexp.MustCompile("\x00(\\d+)\x00")
)

// CodeStyle is the chroma style whose CSS classes the page ships.
const CodeStyle = "monokai"

var codeFormatter = chromahtml.New(
	chromahtml.WithClasses(true),
	chromahtml.PreventSurroundingPre(true),
)

// =============================================================================
// HTML RENDERER
// =============================================================================

// HTML converts message text to safe HTML. Code blocks get highlighted and
// wrapped in a container with a language label and copy button; the rest
// receives inline code, bold, italic and line breaks. Model text is always
// escaped before any markup is added.
func HTML(content string) string {
	if content == "" {
		return ""
	}
	content = strings.ReplaceAll(content, "\x00", "")

	var blocks []string
	stash := func(lang, code string) string {
		blocks = append(blocks, codeBlockHTML(lang, code))
		return fmt.Sprintf("\x00%d\x00", len(blocks)-1)
	}

	content = fencedBlock.ReplaceAllStringFunc(content, func(m string) string {
		sub := fencedBlock.FindStringSubmatch(m)
		return stash(sub[1], sub[2])
	})
	content = tickLangBlock.ReplaceAllStringFunc(content, func(m string) string {
		sub := tickLangBlock.FindStringSubmatch(m)
		return stash(sub[1], sub[2])
	})
	content = tickBlock.ReplaceAllStringFunc(content, func(m string) string {
		sub := tickBlock.FindStringSubmatch(m)
		return stash("", sub[1])
	})

	out := html.EscapeString(content)
	out = inlineCode.ReplaceAllString(out, `<code class="inline-code">$1</code>`)
	out = boldText.ReplaceAllString(out, "<strong>$1</strong>")
	out = italicText.ReplaceAllString(out, "<em>$1</em>")
	out = strings.ReplaceAll(out, "\n", "<br>")

	return slotPattern.ReplaceAllStringFunc(out, func(m string) string {
		i, err := strconv.Atoi(strings.Trim(m, "\x00"))
		if err != nil || i >= len(blocks) {
			return ""
		}
		return blocks[i]
	})
}

func codeBlockHTML(lang, code string) string {
	if lang == "" {
		lang = "text"
	}
	code = strings.TrimSpace(code)
	id := "code_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:9]

	var b strings.Builder
	b.WriteString(`<div class="code-block"><div class="code-header">`)
	fmt.Fprintf(&b, `<span class="code-language">%s</span>`, html.EscapeString(lang))
	fmt.Fprintf(&b, `<button class="copy-code-btn" data-code-id="%s" title="Copy code">Copy</button>`, id)
	b.WriteString(`</div>`)
	fmt.Fprintf(&b, `<pre class="chroma"><code id="%s" class="language-%s">`, id, html.EscapeString(lang))
	b.WriteString(highlightHTML(code, lang))
	b.WriteString(`</code></pre></div>`)
	return b.String()
}

// highlightHTML returns class-based highlighted markup for code, or the
// escaped code when no lexer applies.
func highlightHTML(code, lang string) string {
	lexer := lexers.Get(lang)
	if lexer == nil {
		return html.EscapeString(code)
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return html.EscapeString(code)
	}
	var b strings.Builder
	if err := codeFormatter.Format(&b, codeStyle(), iterator); err != nil {
		return html.EscapeString(code)
	}
	return b.String()
}

func codeStyle() *chroma.Style {
	if s := chromaStyles.Get(CodeStyle); s != nil {
		return s
	}
	return chromaStyles.Fallback
}

// WriteCodeCSS writes the stylesheet for the classes HTML emits.
func WriteCodeCSS(w io.Writer) error {
	return codeFormatter.WriteCSS(w, codeStyle())
}
