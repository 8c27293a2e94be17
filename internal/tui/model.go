// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/rigrun-web/internal/format"
	"github.com/jeranaias/rigrun-web/internal/model"
	"github.com/jeranaias/rigrun-web/internal/session"
	"github.com/jeranaias/rigrun-web/internal/storage"
	"github.com/jeranaias/rigrun-web/internal/ui/styles"
)

// =============================================================================
// MESSAGES
// =============================================================================

// eventMsg carries one session event into Update.
type eventMsg session.Event

// eventsClosedMsg is sent once the subscription ends.
type eventsClosedMsg struct{}

// startedMsg reports the result of ctrl.Start.
type startedMsg struct {
	genID string
	err   error
}

// chatMsg reports the result of a chat command.
type chatMsg struct {
	conv *model.Conversation
	err  error
}

func waitForEvent(events <-chan session.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(ev)
	}
}

// =============================================================================
// MODEL
// =============================================================================

// Options configure the TUI.
type Options struct {
	// Model overrides the model preference for this session.
	Model string
	// Render turns Markdown into terminal text. Defaults to format.Terminal.
	Render func(content string, width int) string
}

// Model is the Bubble Tea model.
type Model struct {
	ctx   context.Context
	ctrl  *session.Controller
	prefs *storage.PreferenceStore
	opts  Options
	theme *styles.Theme

	events      <-chan session.Event
	unsubscribe func()

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model

	width  int
	height int
	ready  bool

	chatID     string
	transcript []string
	reasoning  strings.Builder
	answer     strings.Builder
	genID      string
	generating bool
	status     string
	quitting   bool
}

// New builds the model and subscribes to ctrl. Call Close when the program
// ends.
func New(ctx context.Context, ctrl *session.Controller, prefs *storage.PreferenceStore, opts Options) *Model {
	if opts.Render == nil {
		opts.Render = format.Terminal
	}

	input := textarea.New()
	input.Placeholder = "Type a message... (/new, /model NAME, /quit)"
	input.ShowLineNumbers = false
	input.CharLimit = 0
	input.SetHeight(3)
	input.KeyMap.InsertNewline.SetEnabled(false)
	input.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))

	m := &Model{
		ctx:      ctx,
		ctrl:     ctrl,
		prefs:    prefs,
		opts:     opts,
		theme:    styles.NewTheme(prefs.Get().Theme),
		input:    input,
		spinner:  sp,
		viewport: viewport.New(80, 20),
	}
	m.spinner.Style = m.theme.Title
	m.events, m.unsubscribe = ctrl.Subscribe()

	if conv := ctrl.ActiveChat(); conv != nil {
		m.loadConversation(conv)
	}
	return m
}

// Close releases the event subscription.
func (m *Model) Close() {
	m.unsubscribe()
}

// Run starts the full-screen program and blocks until it exits.
func Run(ctx context.Context, ctrl *session.Controller, prefs *storage.PreferenceStore, opts Options) error {
	m := New(ctx, ctrl, prefs, opts)
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, waitForEvent(m.events))
}

func (m *Model) modelName() string {
	if m.opts.Model != "" {
		return m.opts.Model
	}
	return m.prefs.Get().Model
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

func (m *Model) loadConversation(conv *model.Conversation) {
	m.chatID = conv.ID
	m.transcript = m.transcript[:0]
	for _, msg := range conv.Messages {
		m.appendMessage(msg)
	}
	m.refresh()
}

func (m *Model) contentWidth() int {
	return max(m.width-2, 20)
}

func (m *Model) appendMessage(msg *model.Message) {
	var b strings.Builder
	if msg.Role == model.RoleUser {
		b.WriteString(m.theme.UserLabel.Render("You") + "\n")
		b.WriteString(msg.Content)
		for _, a := range msg.Attachments {
			b.WriteString("\n" + m.theme.Muted.Render("[attached "+a.Name+"]"))
		}
	} else {
		b.WriteString(m.theme.BotLabel.Render("Assistant") + "\n")
		if m.prefs.Get().ShowThinking && msg.HasReasoning() {
			b.WriteString(m.theme.Reasoning.Render(msg.Reasoning) + "\n\n")
		}
		b.WriteString(strings.TrimRight(m.opts.Render(msg.Content, m.contentWidth()), "\n"))
		if msg.Stats != nil {
			b.WriteString("\n" + m.theme.Stats.Render(format.StatsLine(msg.Stats)))
		}
	}
	m.transcript = append(m.transcript, b.String())
}

// refresh rebuilds the viewport content and keeps it pinned to the bottom.
func (m *Model) refresh() {
	parts := append([]string(nil), m.transcript...)
	if m.generating {
		var live strings.Builder
		live.WriteString(m.theme.BotLabel.Render("Assistant") + " " + m.spinner.View() + "\n")
		if m.prefs.Get().ShowThinking && m.reasoning.Len() > 0 {
			live.WriteString(m.theme.Reasoning.Render(m.reasoning.String()) + "\n\n")
		}
		live.WriteString(m.answer.String())
		parts = append(parts, live.String())
	}
	if len(parts) == 0 {
		parts = append(parts, m.theme.Muted.Render("Start a conversation. Your chats are shared with the web UI."))
	}
	m.viewport.SetContent(strings.Join(parts, "\n\n"))
	m.viewport.GotoBottom()
}

func (m *Model) setStatus(f string, args ...any) {
	m.status = fmt.Sprintf(f, args...)
}
