// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tui is the full-screen terminal chat. It is a Bubble Tea program
// that renders the session event stream: a scrolling transcript, a spinner
// while a reply streams and a text area for the next message.
//
// # Keys
//
//	enter      send
//	ctrl+c     cancel the running reply, or quit when idle
//	esc        cancel the running reply
//	ctrl+n     new chat
//	pgup/pgdn  scroll
package tui
