// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"time"
)

const (
	// DocumentVersion is written into every persisted document.
	DocumentVersion = "1.0"

	// ChatHistoryKey holds the chat history document.
	ChatHistoryKey = "ollamaChatHistory"

	// PreferencesKey holds the preferences document.
	PreferencesKey = "ollamaPreferences"
)

// envelope is the header shared by both documents.
type envelope struct {
	Version     string    `json:"version"`
	LastUpdated time.Time `json:"lastUpdated"`
}

func newEnvelope(now time.Time) envelope {
	return envelope{Version: DocumentVersion, LastUpdated: now.UTC()}
}
