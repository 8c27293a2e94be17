// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/peterh/liner"

	"github.com/jeranaias/rigrun-web/internal/attachment"
	"github.com/jeranaias/rigrun-web/internal/export"
	"github.com/jeranaias/rigrun-web/internal/format"
	"github.com/jeranaias/rigrun-web/internal/model"
	"github.com/jeranaias/rigrun-web/internal/session"
	"github.com/jeranaias/rigrun-web/internal/storage"
	"github.com/jeranaias/rigrun-web/internal/ui/styles"
)

// ModelLister lists the models installed on the local server.
type ModelLister interface {
	ListModels(ctx context.Context) ([]model.ModelInfo, error)
}

// REPLOptions configure a REPL.
type REPLOptions struct {
	Out io.Writer
	// Width wraps rendered Markdown. Zero detects the terminal width.
	Width int
	// Plain prints Markdown as-is instead of rendering it.
	Plain bool
	// HistoryFile keeps input history between runs. Empty disables it.
	HistoryFile string
	// Model overrides the model preference for this session.
	Model string
}

// REPL is the interactive line chat.
type REPL struct {
	ctrl   *session.Controller
	prefs  *storage.PreferenceStore
	models ModelLister
	opts   REPLOptions

	events      <-chan session.Event
	unsubscribe func()

	// interrupts delivers Ctrl+C while a generation runs.
	interrupts chan os.Signal

	outMu sync.Mutex
}

// NewREPL subscribes to ctrl and returns a REPL ready for Run.
func NewREPL(ctrl *session.Controller, prefs *storage.PreferenceStore, models ModelLister, opts REPLOptions) *REPL {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Width <= 0 {
		opts.Width = TerminalWidth()
	}
	r := &REPL{
		ctrl:       ctrl,
		prefs:      prefs,
		models:     models,
		opts:       opts,
		interrupts: make(chan os.Signal, 1),
	}
	r.events, r.unsubscribe = ctrl.Subscribe()
	applyTheme(styles.NewTheme(prefs.Get().Theme))
	return r
}

// Close releases the event subscription.
func (r *REPL) Close() {
	r.unsubscribe()
}

func (r *REPL) printf(format string, args ...any) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	fmt.Fprintf(r.opts.Out, format, args...)
}

func (r *REPL) println(s string) {
	r.printf("%s\n", s)
}

// =============================================================================
// MAIN LOOP
// =============================================================================

// Run reads lines until /quit, EOF, Ctrl+C at the prompt or ctx ends.
func (r *REPL) Run(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeCommand)

	if r.opts.HistoryFile != "" {
		if f, err := os.Open(r.opts.HistoryFile); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
		defer r.saveHistory(line)
	}

	r.printWelcome()

	for ctx.Err() == nil {
		input, err := line.Prompt("rigrun> ")
		if err != nil {
			if !errors.Is(err, liner.ErrPromptAborted) && !errors.Is(err, io.EOF) {
				return err
			}
			r.println("")
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		quit, err := r.Execute(ctx, input)
		if err != nil {
			r.outMu.Lock()
			DisplayError(r.opts.Out, err)
			r.outMu.Unlock()
		}
		if quit {
			return nil
		}
	}
	return ctx.Err()
}

func (r *REPL) saveHistory(line *liner.State) {
	if err := os.MkdirAll(filepath.Dir(r.opts.HistoryFile), 0o700); err != nil {
		return
	}
	f, err := os.Create(r.opts.HistoryFile)
	if err != nil {
		log.Debug("REPL_HISTORY_SAVE_FAILED", "err", err)
		return
	}
	defer f.Close()
	line.WriteHistory(f)
}

func (r *REPL) printWelcome() {
	prefs := r.prefs.Get()
	modelName := r.modelName()
	if modelName == "" {
		modelName = warningStyle.Render("none (use /models and /model NAME)")
	}
	r.println(titleStyle.Render("rigrun-web chat"))
	r.println(dimStyle.Render("model: ") + modelName + dimStyle.Render(fmt.Sprintf("  context: %v  web search: %v",
		prefs.UseConversationContext, prefs.WebSearch)))
	r.println(dimStyle.Render("Type /help for commands. Ctrl+C cancels a reply, Ctrl+D exits."))
	r.println("")
}

func (r *REPL) modelName() string {
	if r.opts.Model != "" {
		return r.opts.Model
	}
	return r.prefs.Get().Model
}

// =============================================================================
// COMMANDS
// =============================================================================

var replCommands = []string{
	"/new", "/chats", "/load", "/delete", "/model", "/models", "/attach",
	"/cancel", "/save", "/export", "/import", "/set", "/help", "/quit",
}

func completeCommand(line string) []string {
	if !strings.HasPrefix(line, "/") || strings.Contains(line, " ") {
		return nil
	}
	var out []string
	for _, c := range replCommands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	return out
}

// Execute runs one input line: a slash command or a message. It reports
// whether the REPL should exit.
func (r *REPL) Execute(ctx context.Context, input string) (bool, error) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			return true, nil
		}
		return false, r.generate(ctx, input)
	}

	fields := strings.Fields(input)
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "/quit", "/q", "/exit":
		return true, nil
	case "/help", "/h", "/?":
		r.printHelp()
	case "/new":
		conv, err := r.ctrl.NewChat()
		if err != nil {
			return false, err
		}
		r.println(successStyle.Render("New chat ") + conv.ID)
	case "/chats":
		r.println(storage.FormatChatList(r.ctrl.Chats()))
	case "/load":
		if len(args) != 1 {
			return false, &UsageError{Message: "load needs a chat id", Usage: "/load ID"}
		}
		conv, err := r.ctrl.LoadChat(args[0])
		if err != nil {
			return false, err
		}
		r.printConversation(conv)
	case "/delete":
		if len(args) != 1 {
			return false, &UsageError{Message: "delete needs a chat id", Usage: "/delete ID"}
		}
		if err := r.ctrl.DeleteChat(args[0]); err != nil {
			return false, err
		}
		r.println(successStyle.Render("Deleted ") + args[0])
	case "/model":
		return false, r.selectModel(args)
	case "/models":
		return false, r.listModels(ctx)
	case "/attach":
		return false, r.attach(ctx, args)
	case "/cancel":
		if err := r.ctrl.Cancel(); err != nil {
			return false, err
		}
	case "/save":
		return false, r.saveChat(args)
	case "/export":
		if len(args) != 1 {
			return false, &UsageError{Message: "export needs a file", Usage: "/export FILE"}
		}
		if err := ExportHistory(r.ctrl, args[0], r.opts.Out); err != nil {
			return false, err
		}
		r.println(successStyle.Render("Exported to ") + args[0])
	case "/import":
		if len(args) != 1 {
			return false, &UsageError{Message: "import needs a file", Usage: "/import FILE"}
		}
		n, err := ImportHistory(r.ctrl, args[0])
		if err != nil {
			return false, err
		}
		r.println(successStyle.Render(fmt.Sprintf("Imported %d chats", n)))
	case "/set":
		return false, r.setPreference(args)
	default:
		return false, &UsageError{Message: fmt.Sprintf("unknown command %s", cmd), Usage: "/help"}
	}
	return false, nil
}

// saveChat writes the active conversation with the export package. A lone
// argument with a known extension is taken as the path.
func (r *REPL) saveChat(args []string) error {
	if len(args) > 2 {
		return &UsageError{Message: "too many arguments", Usage: "/save [md|html|json] [PATH]"}
	}
	conv := r.ctrl.ActiveChat()
	if conv == nil {
		return export.ErrEmptyConversation
	}

	name, path := "md", ""
	switch len(args) {
	case 1:
		if ext := filepath.Ext(args[0]); ext != "" {
			name, path = ext, args[0]
		} else {
			name = args[0]
		}
	case 2:
		name, path = args[0], args[1]
	}

	opts := export.DefaultOptions()
	opts.IncludeReasoning = r.prefs.Get().ShowThinking
	exporter, err := export.ForFormat(name, opts)
	if err != nil {
		return &UsageError{Message: err.Error(), Usage: "/save [md|html|json] [PATH]"}
	}
	written, err := export.ToFile(conv, exporter, path, opts)
	if err != nil {
		return err
	}
	r.println(successStyle.Render("Saved to ") + written)
	return nil
}

func (r *REPL) printHelp() {
	r.println(titleStyle.Render("Chat commands"))
	help := [][2]string{
		{"/new", "Start a new chat"},
		{"/chats", "List chats"},
		{"/load ID", "Switch to a chat and print it"},
		{"/delete ID", "Delete a chat"},
		{"/model [NAME]", "Show or select the model"},
		{"/models", "List installed models"},
		{"/attach PATH...", "Stage files for the next message"},
		{"/cancel", "Cancel the running generation"},
		{"/save [FMT] [PATH]", "Save this chat as md, html or json"},
		{"/export FILE", "Export chat history"},
		{"/import FILE", "Import chat history"},
		{"/set [KEY VALUE]", "Show or change a preference"},
		{"/quit", "Exit"},
	}
	for _, h := range help {
		r.printf("  %-18s %s\n", commandStyle.Render(h[0]), h[1])
	}
}

func (r *REPL) selectModel(args []string) error {
	if len(args) == 0 {
		name := r.modelName()
		if name == "" {
			name = "(none)"
		}
		r.println("Model: " + name)
		return nil
	}
	r.opts.Model = ""
	if _, err := r.prefs.Set("model", args[0]); err != nil {
		return err
	}
	r.println(successStyle.Render("Model set to ") + args[0])
	return nil
}

func (r *REPL) listModels(ctx context.Context) error {
	models, err := r.models.ListModels(ctx)
	if err != nil {
		return err
	}
	r.printf("%s", FormatModels(models, r.modelName()))
	return nil
}

func (r *REPL) attach(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		pending := r.ctrl.PendingAttachments()
		if len(pending) == 0 {
			r.println("No attachments staged.")
		}
		for _, a := range pending {
			r.println("  " + a.Name)
		}
		return nil
	}

	files, err := ReadFiles(paths)
	if err != nil {
		return err
	}
	atts, err := r.ctrl.AddFiles(ctx, files)
	if err != nil {
		return err
	}
	for _, a := range atts {
		note := ""
		if a.Placeholder {
			note = warningStyle.Render(" (not readable, sent as a note)")
		}
		r.println(successStyle.Render("Attached ") + a.Name + note)
	}
	return nil
}

// ReadFiles loads paths for the attachment processor. MIME types are left
// for the processor to sniff.
func ReadFiles(paths []string) ([]attachment.File, error) {
	files := make([]attachment.File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		files = append(files, attachment.File{Name: filepath.Base(p), Data: data})
	}
	return files, nil
}

func (r *REPL) setPreference(args []string) error {
	if len(args) == 0 {
		doc := r.prefs.Document()
		for _, k := range storage.PreferenceKeys() {
			r.printf("  %-24s %v\n", k, doc[k])
		}
		return nil
	}
	if len(args) < 2 {
		return &UsageError{Message: "set needs a key and a value", Usage: "/set KEY VALUE"}
	}
	key, value := args[0], strings.Join(args[1:], " ")
	prefs, err := r.prefs.Set(key, value)
	if err != nil {
		return err
	}
	if key == "theme" {
		applyTheme(styles.NewTheme(prefs.Theme))
	}
	r.println(successStyle.Render("Set ") + key)
	return nil
}

// =============================================================================
// GENERATION
// =============================================================================

// generate sends text and prints the reply as it streams.
func (r *REPL) generate(ctx context.Context, text string) error {
	genID, err := r.ctrl.Start(ctx, session.SendRequest{Text: text, Model: r.opts.Model})
	if err != nil {
		return err
	}

	signal.Notify(r.interrupts, os.Interrupt)
	defer signal.Stop(r.interrupts)

	done := make(chan *model.Message, 1)
	go func() {
		msg, _ := r.ctrl.Wait(ctx)
		done <- msg
	}()

	showThinking := r.prefs.Get().ShowThinking
	var inReasoning, wroteAnswer bool
	r.println(dimStyle.Render("assistant:"))

	handle := func(ev session.Event) bool {
		if ev.Type == session.EventSearch {
			r.printSearch(ev)
			return false
		}
		if ev.GenerationID != genID {
			return false
		}
		switch ev.Type {
		case session.EventReasoning:
			if showThinking {
				inReasoning = true
				r.printf("%s", dimStyle.Render(ev.Delta))
			}
		case session.EventAnswer:
			if inReasoning {
				r.printf("\n\n")
				inReasoning = false
			}
			wroteAnswer = true
			r.printf("%s", ev.Delta)
		case session.EventSearchQueued:
			r.printf("%s", dimStyle.Render(fmt.Sprintf("\n[searching the web: %s]\n", ev.Query)))
		}
		if ev.Terminal() {
			r.printOutcome(ev.Type, ev.Message, wroteAnswer)
			return true
		}
		return false
	}

	for {
		select {
		case <-r.interrupts:
			if err := r.ctrl.Cancel(); err == nil {
				r.printf("%s", warningStyle.Render("\n[cancelling]"))
			}
		case ev, ok := <-r.events:
			if !ok || handle(ev) {
				return nil
			}
		case msg := <-done:
			// The terminal event is published before Wait returns; drain
			// what is buffered in case this case won the race.
			for {
				select {
				case ev, ok := <-r.events:
					if !ok || handle(ev) {
						return nil
					}
					continue
				default:
				}
				break
			}
			r.printOutcome(session.EventCompleted, msg, wroteAnswer)
			return nil
		}
	}
}

func (r *REPL) printOutcome(kind session.EventType, msg *model.Message, streamed bool) {
	r.println("")
	switch {
	case msg == nil:
	case kind == session.EventFailed:
		r.println(errorStyle.Render(msg.Content))
	case kind == session.EventCancelled && !streamed:
		r.println(warningStyle.Render(msg.Content))
	case kind == session.EventCancelled:
		r.println(warningStyle.Render("[cancelled]"))
	}
	if msg != nil && msg.Stats != nil {
		r.println(dimStyle.Render(format.StatsLine(msg.Stats)))
	}
	r.println("")
}

func (r *REPL) printSearch(ev session.Event) {
	if ev.Search == nil {
		return
	}
	r.printf("\n%s\n", dimStyle.Render(fmt.Sprintf("[web results for %q via %s]", ev.Search.Query, ev.Search.Provider)))
	for _, res := range ev.Search.Results {
		r.printf("  %s\n  %s\n", res.Title, dimStyle.Render(res.URL))
	}
}

func (r *REPL) printConversation(conv *model.Conversation) {
	r.println(titleStyle.Render(conv.GetTitle()))
	showThinking := r.prefs.Get().ShowThinking
	for _, m := range conv.Messages {
		label := dimStyle.Render("assistant:")
		if m.Role == model.RoleUser {
			label = promptStyle.Render("you:")
		}
		r.println(label)
		if showThinking && m.HasReasoning() {
			r.println(dimStyle.Render(m.Reasoning))
		}
		r.printf("%s\n", r.render(m.Content))
		if m.Stats != nil {
			r.println(dimStyle.Render(format.StatsLine(m.Stats)))
		}
	}
}

func (r *REPL) render(content string) string {
	if r.opts.Plain {
		return content
	}
	return strings.TrimRight(format.Terminal(content, r.opts.Width), "\n")
}
