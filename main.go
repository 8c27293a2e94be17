// rigrun-web - chat with local Ollama models from the browser or the terminal.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/jeranaias/rigrun-web/internal/attachment"
	"github.com/jeranaias/rigrun-web/internal/cli"
	"github.com/jeranaias/rigrun-web/internal/config"
	"github.com/jeranaias/rigrun-web/internal/export"
	"github.com/jeranaias/rigrun-web/internal/logging"
	"github.com/jeranaias/rigrun-web/internal/ollama"
	"github.com/jeranaias/rigrun-web/internal/search"
	"github.com/jeranaias/rigrun-web/internal/server"
	"github.com/jeranaias/rigrun-web/internal/session"
	"github.com/jeranaias/rigrun-web/internal/storage"
	"github.com/jeranaias/rigrun-web/internal/tui"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	cmd, args, err := cli.Parse(argv)
	if err != nil {
		cli.DisplayError(os.Stderr, err)
		return cli.ExitCode(err)
	}

	switch cmd {
	case cli.CmdHelp:
		cli.PrintUsage(os.Stdout)
		return cli.ExitSuccess
	case cli.CmdVersion:
		cli.PrintVersion(os.Stdout)
		return cli.ExitSuccess
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, cmd, args); err != nil {
		if errors.Is(err, context.Canceled) {
			return cli.ExitSuccess
		}
		cli.DisplayError(os.Stderr, err)
		return cli.ExitCode(err)
	}
	return cli.ExitSuccess
}

// =============================================================================
// CONFIGURATION
// =============================================================================

func loadConfig(args cli.Args) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		log.Warn("DOTENV_FAILED", "err", err)
	}
	if args.ConfigFile != "" {
		return config.LoadFromPath(args.ConfigFile)
	}
	return config.Load()
}

func setupLogging(cmd cli.Command, args cli.Args, cfg *config.Config) (func() error, error) {
	level := cfg.Logging.Level
	switch {
	case args.Verbose:
		level = "debug"
	case args.Quiet:
		level = "warn"
	}
	return logging.Setup(logging.Options{
		Level:      level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		JSON:       cfg.Logging.JSON,
		// The full-screen UI owns the terminal.
		Quiet: cmd == cli.CmdTUI,
	})
}

// =============================================================================
// APPLICATION
// =============================================================================

// app holds the wired components shared by every command.
type app struct {
	cfg    *config.Config
	kv     storage.KV
	chats  *storage.ChatStore
	prefs  *storage.PreferenceStore
	client *ollama.Client
	search *search.SideChannel
	ctrl   *session.Controller
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	dir, err := cfg.DataDir()
	if err != nil {
		return nil, err
	}
	kv, err := storage.Open(cfg.Storage.Backend, dir)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a := &app{cfg: cfg, kv: kv}
	a.chats = storage.NewChatStore(kv)
	if err := a.chats.Load(); err != nil {
		// History stays empty; the next save overwrites the bad document.
		log.Error("CHAT_HISTORY_INVALID", "err", err)
	}
	a.prefs = storage.NewPreferenceStore(kv)
	if err := a.prefs.Load(); err != nil {
		kv.Close()
		return nil, err
	}
	if fkv, ok := kv.(*storage.FileKV); ok {
		if err := fkv.Watch(ctx, storage.PreferencesKey, a.prefs.Reload); err != nil {
			log.Warn("PREFERENCES_WATCH_FAILED", "err", err)
		}
	}

	a.client = ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL: cfg.Ollama.URL,
		Timeout: cfg.Ollama.Timeout.Duration,
	})

	var processor *attachment.Processor
	if ocr, err := attachment.NewTesseractOCR(cfg.Attachments.TesseractPath); err == nil {
		processor = attachment.NewProcessor(ocr)
	} else {
		processor = attachment.NewProcessor(nil)
	}

	// The controller and the side channel refer to each other; the publish
	// hook reads a.ctrl only after both exist.
	a.search = search.NewSideChannel(search.SideChannelConfig{
		Provider: func() search.Provider {
			p := a.prefs.Get()
			return search.NewProvider(p.SearchEngine, p.SearchAPIKey, search.Options{
				Proxy:     p.SearchProxy,
				UserAgent: cfg.Search.UserAgent,
			})
		},
		Publish:       func(rs search.ResultSet) { a.ctrl.PublishSearch(rs) },
		Timeout:       cfg.Search.Timeout.Duration,
		RatePerSecond: cfg.Search.RatePerSecond,
	})

	a.ctrl = session.New(session.Config{
		Client:      a.client,
		Chats:       a.chats,
		Prefs:       a.prefs,
		Search:      a.search,
		Attachments: processor,
	})
	a.search.Start(ctx)
	return a, nil
}

func (a *app) Close() {
	if err := a.ctrl.Close(); err != nil {
		log.Warn("SESSION_CLOSE_FAILED", "err", err)
	}
	if err := a.kv.Close(); err != nil {
		log.Warn("STORAGE_CLOSE_FAILED", "err", err)
	}
}

// ensureOllama starts a local server when configured to. Failure is only
// logged: the UIs report an unreachable server on their own.
func (a *app) ensureOllama(ctx context.Context) {
	if !a.cfg.Ollama.AutoStart {
		return
	}
	startCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	if err := a.client.EnsureRunning(startCtx); err != nil {
		log.Warn("OLLAMA_UNAVAILABLE", "url", a.client.BaseURL(), "err", err)
	}
}

// selectModel applies a --model override to the stored preference.
func (a *app) selectModel(name string) error {
	if name == "" {
		return nil
	}
	_, err := a.prefs.Set("model", name)
	return err
}

// =============================================================================
// COMMANDS
// =============================================================================

func execute(ctx context.Context, cmd cli.Command, args cli.Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	if args.Listen != "" {
		cfg.Server.Listen = args.Listen
	}
	if args.OpenBrowser {
		cfg.Server.OpenBrowser = true
	}

	closeLog, err := setupLogging(cmd, args, cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	if cmd == cli.CmdConfig {
		return cli.RunConfig(os.Stdout, args.Subcommand, cfg, args.ConfigFile)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	switch cmd {
	case cli.CmdServe:
		if err := a.selectModel(args.Model); err != nil {
			return err
		}
		a.ensureOllama(ctx)
		return serve(ctx, a)

	case cli.CmdChat:
		a.ensureOllama(ctx)
		var history string
		if dir, err := config.ConfigDir(); err == nil {
			history = filepath.Join(dir, "chat_history")
		}
		repl := cli.NewREPL(a.ctrl, a.prefs, a.client, cli.REPLOptions{
			HistoryFile: history,
			Model:       args.Model,
		})
		defer repl.Close()
		return repl.Run(ctx)

	case cli.CmdTUI:
		a.ensureOllama(ctx)
		return tui.Run(ctx, a.ctrl, a.prefs, tui.Options{Model: args.Model})

	case cli.CmdModels:
		return cli.RunModels(ctx, os.Stdout, a.client, a.prefs.Get().Model, args.JSON)

	case cli.CmdExport:
		if err := cli.ExportHistory(a.ctrl, args.File, os.Stdout); err != nil {
			return err
		}
		if args.File != "-" {
			log.Info("HISTORY_EXPORTED", "path", args.File)
		}
		return nil

	case cli.CmdImport:
		n, err := cli.ImportHistory(a.ctrl, args.File)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Imported %d chats from %s\n", n, args.File)
		return nil
	}
	return &cli.UsageError{Message: fmt.Sprintf("unsupported command %s", cmd)}
}

func serve(ctx context.Context, a *app) error {
	srv := server.New(server.Options{
		Addr:           a.cfg.Server.Listen,
		MaxUploadBytes: int64(a.cfg.Attachments.MaxUploadMB) << 20,
		Version:        cli.Version,
	}, a.ctrl, a.client, a.prefs)

	if a.cfg.Server.OpenBrowser {
		go openBrowser(ctx, srv)
	}

	err := srv.ListenAndServe(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// openBrowser waits until the server answers, then opens the UI.
func openBrowser(ctx context.Context, srv *server.Server) {
	url := browserURL(srv.Addr())
	client := &http.Client{Timeout: time.Second}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			log.Warn("BROWSER_OPEN_SKIPPED", "url", url, "reason", "server not answering")
			return
		case <-ticker.C:
			resp, err := client.Get(url + "api/health")
			if err != nil {
				continue
			}
			resp.Body.Close()
			if err := export.Open(url); err != nil {
				log.Warn("BROWSER_OPEN_FAILED", "url", url, "err", err)
			}
			return
		}
	}
}

// browserURL maps a listen address onto a URL a local browser can reach.
func browserURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + "/"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/"
}
