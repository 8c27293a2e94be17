// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"strings"
	"time"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// Valid reports whether r is one of the persisted roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is one turn of a conversation.
//
// The reasoning text is persisted under "thinking" so history files stay
// compatible with exports from the browser client.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Reasoning   string       `json:"thinking,omitempty"`
	Stats       *Stats       `json:"stats,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// NewUserMessage creates a user message carrying the given attachments.
func NewUserMessage(content string, attachments ...Attachment) *Message {
	msg := &Message{Role: RoleUser, Content: content}
	if len(attachments) > 0 {
		msg.Attachments = append([]Attachment(nil), attachments...)
	}
	return msg
}

// NewAssistantMessage creates a finished assistant message.
func NewAssistantMessage(content, reasoning string, stats *Stats) *Message {
	return &Message{
		Role:      RoleAssistant,
		Content:   content,
		Reasoning: reasoning,
		Stats:     stats,
	}
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	runes := []rune(m.Content)
	if len(runes) <= maxLen {
		return m.Content
	}
	return string(runes[:maxLen]) + "..."
}

// IsEmpty returns true if the message has neither content nor reasoning.
func (m *Message) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == "" && strings.TrimSpace(m.Reasoning) == ""
}

// HasReasoning reports whether a reasoning section should be shown.
func (m *Message) HasReasoning() bool {
	return strings.TrimSpace(m.Reasoning) != ""
}

// Images returns the base64 payloads of the image attachments in order.
func (m *Message) Images() []string {
	var out []string
	for _, a := range m.Attachments {
		if a.Kind == AttachmentImage {
			out = append(out, a.Payload)
		}
	}
	return out
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	if m.Stats != nil {
		s := *m.Stats
		c.Stats = &s
	}
	if m.Attachments != nil {
		c.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	return &c
}

// =============================================================================
// STATISTICS TYPE
// =============================================================================

// Stats holds the performance figures derived when a stream completes.
type Stats struct {
	TokenCount      int       `json:"tokenCount"`
	TokensPerSecond float64   `json:"tokensPerSecond"`
	ElapsedSeconds  float64   `json:"elapsedSeconds"`
	Timestamp       time.Time `json:"timestamp"`
	Model           string    `json:"model"`

	// Reported by the server on the final record when available.
	PromptTokens int   `json:"promptTokens,omitempty"`
	TTFTMillis   int64 `json:"timeToFirstTokenMs,omitempty"`

	// Estimated is true when TokenCount was approximated from text length.
	Estimated bool `json:"estimated,omitempty"`
}
