// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"

	"github.com/jeranaias/rigrun-web/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrBusy is returned when a generation is already running.
	ErrBusy = errors.New("a response is already being generated")
	// ErrNotGenerating is returned by Cancel while idle.
	ErrNotGenerating = errors.New("no generation in progress")
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNoModel is returned when no model has been selected.
	ErrNoModel = errors.New("no model selected: choose a model first")
)

// =============================================================================
// STATE
// =============================================================================

// Phase is the generation state of the controller.
type Phase int

const (
	Idle Phase = iota
	Generating
	Cancelling
)

var phaseNames = [...]string{"idle", "generating", "cancelling"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// State is the application state held by a Controller.
type State struct {
	Phase        Phase              `json:"phase"`
	GenerationID string             `json:"generationId,omitempty"`
	ActiveChatID string             `json:"activeChatId,omitempty"`
	Pending      []model.Attachment `json:"pendingAttachments,omitempty"`
}

func (s State) clone() State {
	s.Pending = append([]model.Attachment(nil), s.Pending...)
	return s
}
