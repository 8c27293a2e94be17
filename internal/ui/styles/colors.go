// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import "github.com/charmbracelet/lipgloss"

// =============================================================================
// PALETTE
// =============================================================================

// Palette is the set of colors one theme uses.
type Palette struct {
	Accent    lipgloss.TerminalColor
	User      lipgloss.TerminalColor
	Assistant lipgloss.TerminalColor
	Reasoning lipgloss.TerminalColor
	Muted     lipgloss.TerminalColor
	Error     lipgloss.TerminalColor
	Warning   lipgloss.TerminalColor
	Success   lipgloss.TerminalColor
	Border    lipgloss.TerminalColor
}

// Purple - primary accent, assistant label
var Purple = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}

// Cyan - user label, prompts
var Cyan = lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}

// Emerald - success
var Emerald = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}

// Rose - errors
var Rose = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}

// Amber - warnings, cancellation
var Amber = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}

// TextMuted - secondary text, stats lines
var TextMuted = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}

// Overlay - borders
var Overlay = lipgloss.AdaptiveColor{Light: "#D1D5DB", Dark: "#45475A"}

var palettes = map[string]Palette{
	"dark": {
		Accent: Purple, User: Cyan, Assistant: Purple, Reasoning: TextMuted,
		Muted: TextMuted, Error: Rose, Warning: Amber, Success: Emerald, Border: Overlay,
	},
	"light": {
		Accent:    lipgloss.Color("#2563EB"),
		User:      lipgloss.Color("#0E7490"),
		Assistant: lipgloss.Color("#5B21B6"),
		Reasoning: lipgloss.Color("#6B7280"),
		Muted:     lipgloss.Color("#6B7280"),
		Error:     lipgloss.Color("#BE123C"),
		Warning:   lipgloss.Color("#B45309"),
		Success:   lipgloss.Color("#047857"),
		Border:    lipgloss.Color("#D1D5DB"),
	},
	"contrast-dark": {
		Accent:    lipgloss.Color("#FFD400"),
		User:      lipgloss.Color("#00FFFF"),
		Assistant: lipgloss.Color("#FFFFFF"),
		Reasoning: lipgloss.Color("#BBBBBB"),
		Muted:     lipgloss.Color("#BBBBBB"),
		Error:     lipgloss.Color("#FF5555"),
		Warning:   lipgloss.Color("#FFD400"),
		Success:   lipgloss.Color("#55FF55"),
		Border:    lipgloss.Color("#FFFFFF"),
	},
	"contrast-light": {
		Accent:    lipgloss.Color("#0040FF"),
		User:      lipgloss.Color("#000080"),
		Assistant: lipgloss.Color("#000000"),
		Reasoning: lipgloss.Color("#444444"),
		Muted:     lipgloss.Color("#444444"),
		Error:     lipgloss.Color("#B00000"),
		Warning:   lipgloss.Color("#8A4B00"),
		Success:   lipgloss.Color("#006400"),
		Border:    lipgloss.Color("#000000"),
	},
	"sepia": {
		Accent:    lipgloss.Color("#8B5A2B"),
		User:      lipgloss.Color("#6B4226"),
		Assistant: lipgloss.Color("#5B4636"),
		Reasoning: lipgloss.Color("#7D6A58"),
		Muted:     lipgloss.Color("#7D6A58"),
		Error:     lipgloss.Color("#A23B2A"),
		Warning:   lipgloss.Color("#A0522D"),
		Success:   lipgloss.Color("#556B2F"),
		Border:    lipgloss.Color("#C8B99A"),
	},
}

// PaletteFor returns the palette of a theme preference. Unknown names get
// the adaptive dark palette.
func PaletteFor(theme string) Palette {
	if p, ok := palettes[theme]; ok {
		return p
	}
	return palettes["dark"]
}
