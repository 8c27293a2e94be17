// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// MODEL INFO TYPE
// =============================================================================

// Capabilities lists what a served model advertises. Anything the server
// does not report is false; nothing is guessed from the model name.
type Capabilities struct {
	Vision   bool `json:"vision"`
	Tools    bool `json:"tools"`
	Thinking bool `json:"thinking"`
}

// ModelInfo describes a model discovered on the local server.
type ModelInfo struct {
	// Name is the tag used in API calls, e.g. "qwen3:1.7b"
	Name string `json:"name"`

	// Size of the model blob in bytes (0 when unknown)
	Size int64 `json:"size,omitempty"`

	// Capabilities is filled by a capability probe; nil until probed
	Capabilities *Capabilities `json:"capabilities,omitempty"`
}

// =============================================================================
// MODEL INFO METHODS
// =============================================================================

// CapabilitiesString returns a comma-separated list of model capabilities.
func (m ModelInfo) CapabilitiesString() string {
	if m.Capabilities == nil {
		return "Unknown"
	}

	caps := []string{}
	if m.Capabilities.Vision {
		caps = append(caps, "Vision")
	}
	if m.Capabilities.Tools {
		caps = append(caps, "Tools")
	}
	if m.Capabilities.Thinking {
		caps = append(caps, "Thinking")
	}

	if len(caps) == 0 {
		return "Text only"
	}
	return strings.Join(caps, ", ")
}

// SizeString returns a human-readable model size.
func (m ModelInfo) SizeString() string {
	switch {
	case m.Size <= 0:
		return "-"
	case m.Size >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(m.Size)/(1<<30))
	case m.Size >= 1<<20:
		return fmt.Sprintf("%d MB", m.Size/(1<<20))
	default:
		return fmt.Sprintf("%d KB", m.Size/(1<<10))
	}
}

// =============================================================================
// MODEL LOOKUP FUNCTIONS
// =============================================================================

// FindModel looks up a model by exact name, then by case-insensitive prefix.
func FindModel(models []ModelInfo, name string) (ModelInfo, bool) {
	for _, info := range models {
		if info.Name == name {
			return info, true
		}
	}

	lower := strings.ToLower(name)
	for _, info := range models {
		if strings.HasPrefix(strings.ToLower(info.Name), lower) {
			return info, true
		}
	}

	return ModelInfo{}, false
}

// ModelNames returns the sorted names of models.
func ModelNames(models []ModelInfo) []string {
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names
}
