// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-web/internal/attachment"
	"github.com/jeranaias/rigrun-web/internal/config"
	"github.com/jeranaias/rigrun-web/internal/model"
	"github.com/jeranaias/rigrun-web/internal/ollama"
	"github.com/jeranaias/rigrun-web/internal/session"
	"github.com/jeranaias/rigrun-web/internal/storage"
)

// =============================================================================
// ARG PARSER
// =============================================================================

func TestArgParser(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantSub    string
		wantFlags  map[string]string
		wantBools  []string
		wantSecond string
	}{
		{
			name:      "value flag with space",
			args:      []string{"chat", "--model", "qwen3:1.7b"},
			wantSub:   "chat",
			wantFlags: map[string]string{"model": "qwen3:1.7b"},
		},
		{
			name:      "value flag with equals",
			args:      []string{"--listen=0.0.0.0:9000", "serve"},
			wantSub:   "serve",
			wantFlags: map[string]string{"listen": "0.0.0.0:9000"},
		},
		{
			name:      "bool flag does not swallow command",
			args:      []string{"-v", "chat"},
			wantSub:   "chat",
			wantBools: []string{"v"},
		},
		{
			name:      "explicit bool",
			args:      []string{"models", "--json=true"},
			wantSub:   "models",
			wantBools: []string{"json"},
		},
		{
			name:       "double dash ends flags",
			args:       []string{"export", "--", "-weird-name.json"},
			wantSub:    "export",
			wantSecond: "-weird-name.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewArgParser(tt.args, valueFlags...)
			assert.Equal(t, tt.wantSub, p.Subcommand())
			for k, v := range tt.wantFlags {
				assert.Equal(t, v, p.Flag(k))
			}
			for _, b := range tt.wantBools {
				assert.True(t, p.BoolFlag(b), b)
			}
			if tt.wantSecond != "" {
				assert.Equal(t, tt.wantSecond, p.Positional(1))
			}
		})
	}
}

func TestArgParser_FalseBool(t *testing.T) {
	p := NewArgParser([]string{"--json=false"})
	assert.False(t, p.BoolFlag("json"))
	assert.True(t, p.HasFlag("json"))
}

func TestParseBoolString(t *testing.T) {
	for _, s := range []string{"true", "YES", "y", "1", "on"} {
		b, err := ParseBoolString(s)
		require.NoError(t, err)
		assert.True(t, b, s)
	}
	for _, s := range []string{"false", "no", "N", "0", "off"} {
		b, err := ParseBoolString(s)
		require.NoError(t, err)
		assert.False(t, b, s)
	}
	_, err := ParseBoolString("maybe")
	assert.Error(t, err)
}

// =============================================================================
// PARSE
// =============================================================================

func TestParse(t *testing.T) {
	cmd, args, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, CmdServe, cmd)

	cmd, args, err = Parse([]string{"serve", "-l", ":9000", "--open"})
	require.NoError(t, err)
	assert.Equal(t, CmdServe, cmd)
	assert.Equal(t, ":9000", args.Listen)
	assert.True(t, args.OpenBrowser)

	cmd, args, err = Parse([]string{"chat", "-m", "llama3.2"})
	require.NoError(t, err)
	assert.Equal(t, CmdChat, cmd)
	assert.Equal(t, "llama3.2", args.Model)

	cmd, args, err = Parse([]string{"export", "out.json"})
	require.NoError(t, err)
	assert.Equal(t, CmdExport, cmd)
	assert.Equal(t, "out.json", args.File)

	cmd, args, err = Parse([]string{"config"})
	require.NoError(t, err)
	assert.Equal(t, CmdConfig, cmd)
	assert.Equal(t, "show", args.Subcommand)

	cmd, _, err = Parse([]string{"--version"})
	require.NoError(t, err)
	assert.Equal(t, CmdVersion, cmd)

	cmd, _, err = Parse([]string{"models", "--help"})
	require.NoError(t, err)
	assert.Equal(t, CmdHelp, cmd)
}

func TestParse_Errors(t *testing.T) {
	for _, argv := range [][]string{
		{"bogus"},
		{"export"},
		{"import"},
		{"config", "delete"},
	} {
		_, _, err := Parse(argv)
		var usage *UsageError
		assert.ErrorAs(t, err, &usage, strings.Join(argv, " "))
		assert.Equal(t, ExitUsageError, ExitCode(err))
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCode(nil))
	assert.Equal(t, ExitGeneralError, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitNetworkError, ExitCode(&ollama.NetworkError{Op: "ping", Err: errors.New("refused")}))
	assert.Equal(t, ExitNotFoundError, ExitCode(storage.ErrConversationNotFound))
	assert.Equal(t, ExitConfigError, ExitCode(config.ValidateErrors{{Field: "server.listen", Message: "empty"}}))
}

// =============================================================================
// REPL
// =============================================================================

type streamFunc func(ctx context.Context, req *api.ChatRequest, sink ollama.EventSink) (*ollama.ReducedResult, error)

type fakeClient struct{ stream streamFunc }

func (f *fakeClient) StreamChat(ctx context.Context, req *api.ChatRequest, sink ollama.EventSink) (*ollama.ReducedResult, error) {
	return f.stream(ctx, req, sink)
}

func reply(reasoning, content string) streamFunc {
	return func(ctx context.Context, req *api.ChatRequest, sink ollama.EventSink) (*ollama.ReducedResult, error) {
		if reasoning != "" {
			sink(ollama.Event{Kind: ollama.EventReasoningDelta, Text: reasoning})
		}
		sink(ollama.Event{Kind: ollama.EventAnswerDelta, Text: content})
		res := &ollama.ReducedResult{Content: content, Reasoning: reasoning,
			Stats: model.Stats{TokenCount: 5, TokensPerSecond: 2.5, Model: req.Model}}
		sink(ollama.Event{Kind: ollama.EventCompleted, Result: res})
		return res, nil
	}
}

type fakeModels struct{ models []model.ModelInfo }

func (f fakeModels) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	return f.models, nil
}

type replFixture struct {
	repl  *REPL
	ctrl  *session.Controller
	prefs *storage.PreferenceStore
	out   *bytes.Buffer
}

func newREPL(t *testing.T, stream streamFunc) *replFixture {
	t.Helper()
	kv := storage.NewMemoryKV()
	prefs := storage.NewPreferenceStore(kv)
	require.NoError(t, prefs.Load())
	_, err := prefs.Set("model", "qwen3:1.7b")
	require.NoError(t, err)

	ctrl := session.New(session.Config{
		Client:      &fakeClient{stream: stream},
		Chats:       storage.NewChatStore(kv),
		Prefs:       prefs,
		Attachments: attachment.NewProcessor(nil),
	})
	out := &bytes.Buffer{}
	models := fakeModels{models: []model.ModelInfo{{Name: "qwen3:1.7b", Size: 1 << 30}, {Name: "llava"}}}
	r := NewREPL(ctrl, prefs, models, REPLOptions{Out: out, Width: 80, Plain: true})
	t.Cleanup(func() {
		r.Close()
		ctrl.Close()
	})
	return &replFixture{repl: r, ctrl: ctrl, prefs: prefs, out: out}
}

func (f *replFixture) exec(t *testing.T, line string) {
	t.Helper()
	quit, err := f.repl.Execute(context.Background(), line)
	require.NoError(t, err)
	require.False(t, quit)
}

func TestREPL_SendStreamsReply(t *testing.T) {
	f := newREPL(t, reply("pondering", "Hi there"))

	f.exec(t, "hello")

	out := f.out.String()
	assert.Contains(t, out, "pondering")
	assert.Contains(t, out, "Hi there")
	assert.Contains(t, out, "5 tokens")
	assert.Equal(t, session.Idle, f.ctrl.Phase())
}

func TestREPL_HidesReasoningWhenDisabled(t *testing.T) {
	f := newREPL(t, reply("pondering", "Hi there"))
	_, err := f.prefs.Set("showThinking", false)
	require.NoError(t, err)

	f.exec(t, "hello")
	assert.NotContains(t, f.out.String(), "pondering")
	assert.Contains(t, f.out.String(), "Hi there")
}

func TestREPL_FailureIsPrinted(t *testing.T) {
	f := newREPL(t, func(ctx context.Context, req *api.ChatRequest, sink ollama.EventSink) (*ollama.ReducedResult, error) {
		err := &ollama.NetworkError{Op: "chat", Err: errors.New("connection refused")}
		sink(ollama.Event{Kind: ollama.EventFailed, Err: err})
		return &ollama.ReducedResult{}, err
	})

	f.exec(t, "hello")
	assert.Contains(t, f.out.String(), "Please ensure Ollama is running.")
}

func TestREPL_ChatCommands(t *testing.T) {
	f := newREPL(t, reply("", "**bold** answer"))

	f.exec(t, "/new")
	f.exec(t, "first question")
	id := f.ctrl.Snapshot().ActiveChatID
	require.NotEmpty(t, id)

	f.out.Reset()
	f.exec(t, "/chats")
	assert.Contains(t, f.out.String(), "first question")

	f.out.Reset()
	f.exec(t, "/load "+id)
	assert.Contains(t, f.out.String(), "**bold** answer")

	f.exec(t, "/delete "+id)
	assert.Empty(t, f.ctrl.Chats())

	_, err := f.repl.Execute(context.Background(), "/load nope")
	assert.ErrorIs(t, err, storage.ErrConversationNotFound)
}

func TestREPL_ModelAndPreferences(t *testing.T) {
	f := newREPL(t, reply("", "ok"))

	f.exec(t, "/models")
	assert.Contains(t, f.out.String(), "llava")
	assert.Contains(t, f.out.String(), "1.0 GB")

	f.exec(t, "/model llava")
	assert.Equal(t, "llava", f.prefs.Get().Model)

	f.exec(t, "/set theme sepia")
	assert.Equal(t, "sepia", f.prefs.Get().Theme)

	f.exec(t, "/set webSearch on")
	assert.True(t, f.prefs.Get().WebSearch)

	_, err := f.repl.Execute(context.Background(), "/set theme neon")
	var prefErr *storage.PreferenceError
	assert.ErrorAs(t, err, &prefErr)

	f.out.Reset()
	f.exec(t, "/set")
	assert.Contains(t, f.out.String(), "useConversationContext")
}

func TestREPL_Attach(t *testing.T) {
	f := newREPL(t, reply("", "ok"))
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("remember the milk"), 0o600))

	f.exec(t, "/attach "+path)
	pending := f.ctrl.PendingAttachments()
	require.Len(t, pending, 1)
	assert.Equal(t, "notes.txt", pending[0].Name)

	_, err := f.repl.Execute(context.Background(), "/attach "+filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestREPL_ExportImport(t *testing.T) {
	f := newREPL(t, reply("", "ok"))
	f.exec(t, "hello")

	path := filepath.Join(t.TempDir(), "history.json")
	f.exec(t, "/export "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Len(t, doc["chats"], 1)

	f.exec(t, "/new")
	require.Len(t, f.ctrl.Chats(), 2)

	f.exec(t, "/import "+path)
	assert.Len(t, f.ctrl.Chats(), 1)
}

func TestREPL_SaveChat(t *testing.T) {
	f := newREPL(t, reply("", "**ok**"))
	f.exec(t, "hello")

	dir := t.TempDir()
	path := filepath.Join(dir, "chat.html")
	f.exec(t, "/save "+path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<strong>ok</strong>")

	f.exec(t, "/save json "+dir)
	matches, err := filepath.Glob(filepath.Join(dir, "chat_*.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	_, err = f.repl.Execute(context.Background(), "/save pdf")
	var usage *UsageError
	assert.ErrorAs(t, err, &usage)
}

func TestREPL_QuitAndUnknown(t *testing.T) {
	f := newREPL(t, reply("", "ok"))

	for _, line := range []string{"/quit", "/q", "exit"} {
		quit, err := f.repl.Execute(context.Background(), line)
		require.NoError(t, err)
		assert.True(t, quit, line)
	}

	_, err := f.repl.Execute(context.Background(), "/frobnicate")
	var usage *UsageError
	assert.ErrorAs(t, err, &usage)

	_, err = f.repl.Execute(context.Background(), "/cancel")
	assert.ErrorIs(t, err, session.ErrNotGenerating)
}

func TestCompleteCommand(t *testing.T) {
	assert.ElementsMatch(t, []string{"/model", "/models"}, completeCommand("/mod"))
	assert.Nil(t, completeCommand("hello"))
	assert.Nil(t, completeCommand("/load 1"))
}

// =============================================================================
// ONE-SHOT COMMANDS
// =============================================================================

func TestRunModels_JSON(t *testing.T) {
	var buf bytes.Buffer
	err := RunModels(context.Background(), &buf, fakeModels{}, "", true)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, []any{}, out["models"])
}

func TestFormatModels_Empty(t *testing.T) {
	assert.Contains(t, FormatModels(nil, ""), "ollama pull")
}

func TestRunConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("RIGRUN_WEB_HOME", home)
	cfg := config.Default()

	var buf bytes.Buffer
	require.NoError(t, RunConfig(&buf, "path", cfg, ""))
	assert.Equal(t, filepath.Join(home, "config.toml"), strings.TrimSpace(buf.String()))

	buf.Reset()
	require.NoError(t, RunConfig(&buf, "init", cfg, ""))
	loaded, err := config.LoadFromPath(filepath.Join(home, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, cfg.Server.Listen, loaded.Server.Listen)

	assert.Error(t, RunConfig(&buf, "init", cfg, ""), "init refuses to overwrite")

	buf.Reset()
	require.NoError(t, RunConfig(&buf, "show", cfg, ""))
	assert.Contains(t, buf.String(), "127.0.0.1:8080")
}
