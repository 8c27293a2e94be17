// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/jeranaias/rigrun-web/internal/ui/styles"
)

const (
	// DefaultTerminalWidth is used when the width cannot be detected.
	DefaultTerminalWidth = 80
	// MinTerminalWidth is the narrowest width content is wrapped to.
	MinTerminalWidth = 40
)

// Shared styles. Refreshed by applyTheme when the theme preference changes.
var (
	promptStyle  lipgloss.Style
	errorStyle   lipgloss.Style
	warningStyle lipgloss.Style
	successStyle lipgloss.Style
	dimStyle     lipgloss.Style
	titleStyle   lipgloss.Style
	commandStyle lipgloss.Style
)

func init() {
	lipgloss.SetColorProfile(ColorProfile())
	applyTheme(styles.NewTheme(""))
}

func applyTheme(t *styles.Theme) {
	promptStyle = t.Prompt
	errorStyle = t.Error
	warningStyle = t.Warning
	successStyle = t.Success
	dimStyle = t.Stats
	titleStyle = t.Title
	commandStyle = t.Command
}

// IsTTY reports whether stdin is a terminal.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// IsStdoutTTY reports whether stdout is a terminal.
func IsStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// TerminalWidth returns the stdout width clamped to MinTerminalWidth, or
// DefaultTerminalWidth when stdout is not a terminal.
func TerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return DefaultTerminalWidth
	}
	return max(width, MinTerminalWidth)
}

// ColorProfile honours NO_COLOR and FORCE_COLOR, then falls back to
// detecting the stdout terminal.
func ColorProfile() termenv.Profile {
	if os.Getenv("NO_COLOR") != "" {
		return termenv.Ascii
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return termenv.TrueColor
	}
	if !IsStdoutTTY() {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}
