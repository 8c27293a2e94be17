// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"runtime"
	"strings"
)

// Version information, overridden at build time with -ldflags.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command is the top-level command to execute.
type Command int

const (
	CmdServe Command = iota
	CmdChat
	CmdTUI
	CmdModels
	CmdExport
	CmdImport
	CmdConfig
	CmdVersion
	CmdHelp
)

var commandNames = map[string]Command{
	"serve":   CmdServe,
	"web":     CmdServe,
	"chat":    CmdChat,
	"tui":     CmdTUI,
	"models":  CmdModels,
	"export":  CmdExport,
	"import":  CmdImport,
	"config":  CmdConfig,
	"version": CmdVersion,
	"help":    CmdHelp,
}

func (c Command) String() string {
	for name, cmd := range commandNames {
		if cmd == c && name != "web" {
			return name
		}
	}
	return "unknown"
}

// Args holds the parsed command line.
type Args struct {
	// Global flags
	ConfigFile string
	Verbose    bool
	Quiet      bool
	Model      string

	// serve
	Listen      string
	OpenBrowser bool

	// models
	JSON bool

	// export, import
	File string

	// config
	Subcommand string
}

// valueFlags take an argument.
var valueFlags = []string{"config", "c", "model", "m", "listen", "l", "output", "o"}

const usageText = `rigrun-web - chat with local Ollama models from the browser or the terminal

Usage:
  rigrun-web [serve]              Start the web UI (default)
  rigrun-web chat                 Interactive chat in this terminal
  rigrun-web tui                  Full-screen terminal chat
  rigrun-web models [--json]      List installed models
  rigrun-web export FILE          Export chat history ("-" for stdout)
  rigrun-web import FILE          Import chat history, replacing the current one
  rigrun-web config [show|path|init]
  rigrun-web version
  rigrun-web help

Global flags:
  -c, --config FILE     Config file (default ~/.rigrun-web/config.toml)
  -m, --model NAME      Model for this session (overrides the preference)
  -v, --verbose         Debug logging
  -q, --quiet           Only warnings and errors

Serve flags:
  -l, --listen ADDR     Listen address (default 127.0.0.1:8080)
      --open            Open the browser once the server is up

Chat commands:
  /new                  Start a new chat
  /chats                List chats
  /load ID              Switch to a chat and print it
  /delete ID            Delete a chat
  /model [NAME]         Show or select the model
  /models               List installed models
  /attach PATH...       Stage files for the next message
  /cancel               Cancel the running generation (or Ctrl+C)
  /save [FMT] [PATH]    Save this chat as md, html or json
  /export FILE          Export chat history
  /import FILE          Import chat history
  /set [KEY VALUE]      Show or change a preference
  /help                 Show chat commands
  /quit                 Exit

Environment:
  RIGRUN_WEB_HOME               Configuration directory
  RIGRUN_WEB_LISTEN             Listen address
  RIGRUN_WEB_OLLAMA_URL         Ollama base URL
  RIGRUN_WEB_LOG_LEVEL          debug, info, warn or error
`

// PrintUsage writes the help text.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, usageText)
}

// PrintVersion writes version and build information.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "rigrun-web %s (commit %s, built %s, %s/%s)\n",
		Version, GitCommit, BuildDate, runtime.GOOS, runtime.GOARCH)
}

// Parse reads the command and its arguments from argv, which excludes the
// program name.
func Parse(argv []string) (Command, Args, error) {
	p := NewArgParser(argv, valueFlags...)

	args := Args{
		ConfigFile:  p.Flag("config", "c"),
		Model:       p.Flag("model", "m"),
		Listen:      p.Flag("listen", "l"),
		Verbose:     p.BoolFlag("verbose", "v"),
		Quiet:       p.BoolFlag("quiet", "q"),
		OpenBrowser: p.BoolFlag("open"),
		JSON:        p.BoolFlag("json"),
	}

	if p.BoolFlag("help", "h") {
		return CmdHelp, args, nil
	}
	if p.BoolFlag("version") {
		return CmdVersion, args, nil
	}

	name := strings.ToLower(p.Subcommand())
	if name == "" {
		return CmdServe, args, nil
	}
	cmd, ok := commandNames[name]
	if !ok {
		return CmdHelp, args, &UsageError{Message: fmt.Sprintf("unknown command %q", name)}
	}

	switch cmd {
	case CmdExport:
		args.File = p.Flag("output", "o")
		if args.File == "" {
			args.File = p.Positional(1)
		}
		if args.File == "" {
			return cmd, args, &UsageError{Message: "export needs a file", Usage: "rigrun-web export FILE"}
		}
	case CmdImport:
		args.File = p.Positional(1)
		if args.File == "" {
			return cmd, args, &UsageError{Message: "import needs a file", Usage: "rigrun-web import FILE"}
		}
	case CmdConfig:
		args.Subcommand = strings.ToLower(p.Positional(1))
		switch args.Subcommand {
		case "":
			args.Subcommand = "show"
		case "show", "path", "init":
		default:
			return cmd, args, &UsageError{
				Message: fmt.Sprintf("unknown config subcommand %q", args.Subcommand),
				Usage:   "rigrun-web config [show|path|init]",
			}
		}
	}
	return cmd, args, nil
}
