// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders a single conversation as a standalone Markdown,
// HTML or JSON document.
package export

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-web/internal/model"
	"github.com/jeranaias/rigrun-web/internal/util"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter converts one conversation to a document format.
type Exporter interface {
	Export(conv *model.Conversation) ([]byte, error)
	// FileExtension includes the dot, e.g. ".md".
	FileExtension() string
	MimeType() string
}

// Options tune the rendered document.
type Options struct {
	IncludeStats     bool
	IncludeReasoning bool
	// Theme selects the HTML palette: "dark" or "light".
	Theme string
	// Now stamps the footer. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns the options used by the REPL and the server.
func DefaultOptions() *Options {
	return &Options{
		IncludeStats:     true,
		IncludeReasoning: false,
		Theme:            "dark",
		Now:              time.Now,
	}
}

func (o *Options) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// Formats lists the accepted format names.
var Formats = []string{"md", "html", "json"}

// ErrUnknownFormat is returned by ForFormat.
var ErrUnknownFormat = errors.New("unknown export format")

// ErrEmptyConversation is returned when there is nothing to export.
var ErrEmptyConversation = errors.New("conversation has no messages")

// ForFormat returns the exporter for a format name or file extension.
func ForFormat(name string, opts *Options) (Exporter, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), ".") {
	case "md", "markdown", "":
		return NewMarkdownExporter(opts), nil
	case "html", "htm":
		return NewHTMLExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	}
	return nil, fmt.Errorf("%w: %q (want %s)", ErrUnknownFormat, name, strings.Join(Formats, ", "))
}

func validate(conv *model.Conversation) error {
	if conv == nil || len(conv.Messages) == 0 {
		return ErrEmptyConversation
	}
	return nil
}

// =============================================================================
// FILES
// =============================================================================

// Filename builds "chat_<title>_<yyyymmdd_hhmmss><ext>" for conv.
func Filename(conv *model.Conversation, ext string, at time.Time) string {
	return fmt.Sprintf("chat_%s_%s%s", sanitizeFilename(conv.GetTitle()), at.Format("20060102_150405"), ext)
}

// ToFile renders conv and writes it to path. An empty path or a directory
// gets a generated filename. It returns the path written.
func ToFile(conv *model.Conversation, exporter Exporter, path string, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	content, err := exporter.Export(conv)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	if info, err := os.Stat(path); path == "" || (err == nil && info.IsDir()) {
		path = filepath.Join(path, Filename(conv, exporter.FileExtension(), opts.now()))
	}
	if err := util.AtomicWriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// Open hands a file or URL to the platform's default application.
func Open(target string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "windows":
		// The empty quoted argument is the window title.
		cmd = exec.Command("cmd", "/c", "start", `""`, target)
	case "darwin":
		cmd = exec.Command("open", target)
	case "linux", "freebsd", "openbsd":
		cmd = exec.Command("xdg-open", target)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}

// sanitizeFilename keeps a title usable as a file name on every platform.
func sanitizeFilename(s string) string {
	const maxLen = 50
	runes := []rune(strings.TrimSpace(s))
	if len(runes) > maxLen {
		runes = runes[:maxLen]
	}

	result := make([]rune, 0, len(runes))
	for _, r := range runes {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			result = append(result, '-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			result = append(result, '_')
		case r < 32 || r == 127:
			result = append(result, '-')
		default:
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return "chat"
	}
	return string(result)
}

func roleLabel(r model.Role) string {
	if r == model.RoleUser {
		return "You"
	}
	return "Assistant"
}

func formatTimestamp(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}
