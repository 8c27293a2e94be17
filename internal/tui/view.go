// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/rigrun-web/internal/util"
)

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Loading..."
	}

	modelName := m.modelName()
	if modelName == "" {
		modelName = "no model selected"
	}
	header := m.theme.Header.Width(m.width).Render(
		fmt.Sprintf("rigrun-web  %s", m.theme.Muted.Render(modelName)))

	status := m.status
	if status == "" {
		status = "enter send · esc cancel · ctrl+n new chat · ctrl+c quit"
	}
	if pending := len(m.ctrl.PendingAttachments()); pending > 0 {
		status = fmt.Sprintf("%d attached · %s", pending, status)
	}
	statusBar := m.theme.StatusBar.Render(util.TruncateWidth(status, max(m.width-2, 10)))

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		statusBar,
		m.theme.Input.Render(m.input.View()),
	)
}
