// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists chat history and preferences as two JSON
// documents in a key-value backend.
//
// # Backends
//
//   - FileKV: one <key>.json per document, atomic writes, fsnotify Watch
//   - SQLiteKV: a single kv table through modernc.org/sqlite
//   - MemoryKV: tests and ephemeral sessions
//
// # Documents
//
//	ollamaChatHistory  {"version":"1.0","lastUpdated":...,"chats":[...]}
//	ollamaPreferences  {"version":"1.0","lastUpdated":...,"theme":...}
package storage
