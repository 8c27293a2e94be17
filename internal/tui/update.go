// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/rigrun-web/internal/session"
	"github.com/jeranaias/rigrun-web/internal/ui/styles"
)

const inputHeight = 3

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}

	case eventMsg:
		m.handleEvent(session.Event(msg))
		if msg.Type == session.EventStarted {
			return m, tea.Batch(waitForEvent(m.events), m.spinner.Tick)
		}
		return m, waitForEvent(m.events)

	case eventsClosedMsg:
		m.quitting = true
		return m, tea.Quit

	case startedMsg:
		if msg.err != nil {
			m.setStatus("%v", msg.err)
			return m, nil
		}
		m.genID = msg.genID
		return m, nil

	case chatMsg:
		if msg.err != nil {
			m.setStatus("%v", msg.err)
			return m, nil
		}
		m.loadConversation(msg.conv)
		m.setStatus("chat %s", msg.conv.ID)
		return m, nil

	case spinner.TickMsg:
		if !m.generating {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refresh()
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	m.input.SetWidth(max(width-2, 10))
	// header (2 lines) + status bar (1) + input with border
	m.viewport.Width = width
	m.viewport.Height = max(height-inputHeight-5, 3)
	m.ready = true
	if conv := m.ctrl.ActiveChat(); conv != nil && !m.generating {
		m.loadConversation(conv)
		return
	}
	m.refresh()
}

// handleKey returns handled=false for keys the text area should see.
func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.generating {
			m.cancel()
			return nil, true
		}
		m.quitting = true
		return tea.Quit, true
	case tea.KeyEsc:
		if m.generating {
			m.cancel()
		}
		return nil, true
	case tea.KeyCtrlN:
		return m.newChat(), true
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return cmd, true
	case tea.KeyEnter:
		return m.submit(), true
	}
	return nil, false
}

func (m *Model) cancel() {
	if err := m.ctrl.Cancel(); err == nil {
		m.setStatus("cancelling...")
	}
}

func (m *Model) newChat() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		conv, err := ctrl.NewChat()
		return chatMsg{conv: conv, err: err}
	}
}

// submit sends the text area content or runs a slash command.
func (m *Model) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	m.input.Reset()

	if strings.HasPrefix(text, "/") {
		return m.command(text)
	}
	if m.generating {
		m.setStatus("%v", session.ErrBusy)
		return nil
	}

	ctx, ctrl, req := m.ctx, m.ctrl, session.SendRequest{Text: text, Model: m.opts.Model}
	return func() tea.Msg {
		genID, err := ctrl.Start(ctx, req)
		return startedMsg{genID: genID, err: err}
	}
}

func (m *Model) command(text string) tea.Cmd {
	fields := strings.Fields(text)
	switch fields[0] {
	case "/quit", "/q":
		m.quitting = true
		return tea.Quit
	case "/new":
		return m.newChat()
	case "/cancel":
		m.cancel()
	case "/model":
		if len(fields) < 2 {
			m.setStatus("model: %s", m.modelName())
			return nil
		}
		m.opts.Model = ""
		if _, err := m.prefs.Set("model", fields[1]); err != nil {
			m.setStatus("%v", err)
			return nil
		}
		m.setStatus("model set to %s", fields[1])
	default:
		m.setStatus("unknown command %s", fields[0])
	}
	return nil
}

// handleEvent folds one session event into the view.
func (m *Model) handleEvent(ev session.Event) {
	switch ev.Type {
	case session.EventStarted:
		m.genID = ev.GenerationID
		m.generating = true
		m.reasoning.Reset()
		m.answer.Reset()
		m.setStatus("generating with %s", m.modelName())
	case session.EventMessage:
		m.reload()
	case session.EventReasoning:
		if ev.GenerationID == m.genID {
			m.reasoning.WriteString(ev.Delta)
		}
	case session.EventAnswer:
		if ev.GenerationID == m.genID {
			m.answer.WriteString(ev.Delta)
		}
	case session.EventSearchQueued:
		m.setStatus("searching the web: %s", ev.Query)
	case session.EventSearch:
		if ev.Search != nil {
			m.setStatus("%d web results for %q", len(ev.Search.Results), ev.Search.Query)
		}
	case session.EventCompleted, session.EventCancelled, session.EventFailed:
		if ev.GenerationID != m.genID {
			break
		}
		m.generating = false
		m.setStatus("%s", ev.Type)
		m.reload()
		return
	case session.EventChat:
		if ev.ChatID != m.chatID {
			m.reload()
			return
		}
	case session.EventPreferences:
		if ev.Preferences != nil {
			m.theme = styles.NewTheme(ev.Preferences.Theme)
		}
	}
	m.refresh()
}

// reload rebuilds the transcript from the active conversation, which the
// store keeps as the source of truth.
func (m *Model) reload() {
	conv := m.ctrl.ActiveChat()
	if conv == nil {
		m.chatID = ""
		m.transcript = nil
		m.refresh()
		return
	}
	m.loadConversation(conv)
}
