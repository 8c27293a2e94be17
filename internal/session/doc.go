// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns the application state of a chat client: the active
// conversation, staged attachments and the single in-flight generation.
//
// # Generation Lifecycle
//
// A Controller moves between three states:
//
//	Idle -> Generating -> Idle
//	Idle -> Generating -> Cancelling -> Idle
//
// Send and Start are rejected with ErrBusy unless the controller is Idle.
// Cancel is rejected with ErrNotGenerating while Idle and is a no-op while
// already Cancelling. Every generation ends with exactly one assistant
// message appended to its conversation: the answer, the partial answer (or a
// cancellation marker), or an error notice.
//
// # Renderers
//
// Browser, REPL and TUI renderers call Subscribe and receive Events. Each
// subscriber has its own buffer. When a subscriber falls behind, its pending
// reasoning and answer deltas are merged into larger ones; every other event,
// including the one that ends a generation, is still delivered.
//
// # Usage
//
//	ctrl := session.New(session.Config{Client: client, Chats: chats, Prefs: prefs})
//	events, unsubscribe := ctrl.Subscribe()
//	defer unsubscribe()
//
//	msg, err := ctrl.Send(ctx, session.SendRequest{Text: "hello"})
package session
