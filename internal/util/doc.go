// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared by the storage, attachment and
// rendering layers.
//
//	// Persist a document without ever leaving a half-written file behind
//	err := util.AtomicWriteFile(path, data, 0o600)
//
//	// Cap extracted document text and mark the cut
//	text, cut := util.TruncateWithMarker(raw, 800_000, "\n[truncated]")
//
//	// Fit a chat title into a sidebar column
//	label := util.TruncateWidth(title, 24)
package util
