// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"html"
	"strings"

	"github.com/jeranaias/rigrun-web/internal/format"
	"github.com/jeranaias/rigrun-web/internal/model"
)

// HTMLExporter writes a self-contained page: styles and highlighted code are
// inlined and no script runs.
type HTMLExporter struct {
	options *Options
}

// NewHTMLExporter creates an HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &HTMLExporter{options: opts}
}

// Export implements Exporter.
func (e *HTMLExporter) Export(conv *model.Conversation) ([]byte, error) {
	if err := validate(conv); err != nil {
		return nil, err
	}

	var sb strings.Builder
	title := html.EscapeString(conv.GetTitle())

	sb.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	sb.WriteString("<meta charset=\"UTF-8\">\n")
	sb.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	fmt.Fprintf(&sb, "<title>%s</title>\n", title)
	sb.WriteString("<style>\n")
	sb.WriteString(e.css())
	if err := format.WriteCodeCSS(&sb); err != nil {
		return nil, fmt.Errorf("code stylesheet: %w", err)
	}
	sb.WriteString("</style>\n</head>\n")
	fmt.Fprintf(&sb, "<body class=\"theme-%s\">\n<main>\n", e.theme())

	fmt.Fprintf(&sb, "<header><h1>%s</h1><p class=\"meta\">%s · %d messages</p></header>\n",
		title, formatTimestamp(conv.CreatedAt), len(conv.Messages))

	for _, msg := range conv.Messages {
		sb.WriteString(e.renderMessage(msg))
	}

	fmt.Fprintf(&sb, "<footer>Exported from rigrun-web on %s</footer>\n",
		html.EscapeString(e.options.now().Format("January 2, 2006 at 3:04 PM")))
	sb.WriteString("</main>\n</body>\n</html>\n")

	return []byte(sb.String()), nil
}

// FileExtension implements Exporter.
func (e *HTMLExporter) FileExtension() string { return ".html" }

// MimeType implements Exporter.
func (e *HTMLExporter) MimeType() string { return "text/html; charset=utf-8" }

func (e *HTMLExporter) theme() string {
	if e.options.Theme == "light" {
		return "light"
	}
	return "dark"
}

func (e *HTMLExporter) renderMessage(msg *model.Message) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<section class=\"message %s\">\n", msg.Role)
	fmt.Fprintf(&sb, "<div class=\"role\">%s</div>\n", roleLabel(msg.Role))

	if e.options.IncludeReasoning && msg.HasReasoning() {
		fmt.Fprintf(&sb, "<details class=\"reasoning\"><summary>Reasoning</summary><div>%s</div></details>\n",
			format.HTML(msg.Reasoning))
	}

	fmt.Fprintf(&sb, "<div class=\"content\">%s</div>\n", format.HTML(msg.Content))

	if len(msg.Attachments) > 0 {
		sb.WriteString("<ul class=\"attachments\">")
		for _, att := range msg.Attachments {
			fmt.Fprintf(&sb, "<li>%s</li>", html.EscapeString(att.Name))
		}
		sb.WriteString("</ul>\n")
	}

	if e.options.IncludeStats && msg.Stats != nil {
		fmt.Fprintf(&sb, "<div class=\"stats\">%s</div>\n", html.EscapeString(format.StatsLine(msg.Stats)))
	}
	sb.WriteString("</section>\n")
	return sb.String()
}

func (e *HTMLExporter) css() string {
	return `body { margin: 0; font: 15px/1.6 system-ui, sans-serif; }
body.theme-dark { background: #16161e; color: #e4e4ef; --muted: #8b8ba7; --card: #1f1f2b; --accent: #a78bfa; }
body.theme-light { background: #f7f7fb; color: #1d1d27; --muted: #5e5e78; --card: #ffffff; --accent: #6d28d9; }
main { max-width: 860px; margin: 0 auto; padding: 2rem 1rem; }
header h1 { margin: 0; color: var(--accent); }
.meta, .stats, footer { color: var(--muted); font-size: 0.85em; }
.message { background: var(--card); border-radius: 8px; padding: 0.75rem 1rem; margin: 1rem 0; }
.message.user { border-left: 3px solid var(--accent); }
.role { font-weight: 600; margin-bottom: 0.25rem; }
.reasoning { color: var(--muted); margin-bottom: 0.5rem; }
.code-block { margin: 0.5rem 0; border-radius: 6px; overflow: hidden; }
.code-header { display: flex; justify-content: space-between; padding: 0.25rem 0.75rem; font-size: 0.8em; background: rgba(127,127,127,0.15); }
.code-header button { display: none; }
pre { margin: 0; padding: 0.75rem; overflow-x: auto; }
code { font-family: ui-monospace, monospace; }
footer { margin-top: 2rem; text-align: center; }
`
}
