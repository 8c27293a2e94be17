// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli parses the rigrun-web command line and implements the
// terminal commands: the line REPL and the one-shot models, export, import
// and config commands.
//
// # Commands
//
//	rigrun-web [serve]          Start the web UI (default)
//	rigrun-web chat             Line REPL against the same history
//	rigrun-web tui              Full-screen terminal chat
//	rigrun-web models           List installed models
//	rigrun-web export FILE      Write the chat history document
//	rigrun-web import FILE      Replace the chat history
//	rigrun-web config [show|path|init]
//	rigrun-web version | help
//
// # REPL Commands
//
// Lines starting with "/" are commands; anything else is sent to the model.
// Ctrl+C during a generation cancels it; Ctrl+C or Ctrl+D at the prompt
// exits.
package cli
