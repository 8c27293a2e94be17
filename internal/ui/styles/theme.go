// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the styled components shared by the REPL and the TUI.
type Theme struct {
	Name         string
	Palette      Palette
	ColorProfile termenv.Profile

	Title     lipgloss.Style
	Prompt    lipgloss.Style
	UserLabel lipgloss.Style
	BotLabel  lipgloss.Style
	Reasoning lipgloss.Style
	Stats     lipgloss.Style
	Muted     lipgloss.Style
	Error     lipgloss.Style
	Warning   lipgloss.Style
	Success   lipgloss.Style
	Command   lipgloss.Style

	Header    lipgloss.Style
	StatusBar lipgloss.Style
	Input     lipgloss.Style
}

// NewTheme builds the styles for a theme preference.
func NewTheme(name string) *Theme {
	p := PaletteFor(name)
	t := &Theme{
		Name:         name,
		Palette:      p,
		ColorProfile: lipgloss.ColorProfile(),
	}

	t.Title = lipgloss.NewStyle().Foreground(p.Accent).Bold(true)
	t.Prompt = lipgloss.NewStyle().Foreground(p.User).Bold(true)
	t.UserLabel = lipgloss.NewStyle().Foreground(p.User).Bold(true)
	t.BotLabel = lipgloss.NewStyle().Foreground(p.Assistant).Bold(true)
	t.Reasoning = lipgloss.NewStyle().Foreground(p.Reasoning).Italic(true)
	t.Stats = lipgloss.NewStyle().Foreground(p.Muted).Faint(true)
	t.Muted = lipgloss.NewStyle().Foreground(p.Muted)
	t.Error = lipgloss.NewStyle().Foreground(p.Error).Bold(true)
	t.Warning = lipgloss.NewStyle().Foreground(p.Warning)
	t.Success = lipgloss.NewStyle().Foreground(p.Success)
	t.Command = lipgloss.NewStyle().Foreground(p.Accent)

	t.Header = lipgloss.NewStyle().
		Foreground(p.Accent).
		Bold(true).
		Padding(0, 1).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(p.Border)
	t.StatusBar = lipgloss.NewStyle().Foreground(p.Muted).Padding(0, 1)
	t.Input = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(p.Border)
	return t
}

// HasColor reports whether the terminal renders any color at all.
func (t *Theme) HasColor() bool {
	return t.ColorProfile != termenv.Ascii
}
