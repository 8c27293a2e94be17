// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"strconv"
	"time"
)

const (
	// DefaultTitle is shown until the first user message names the chat.
	DefaultTitle = "New Chat"

	// TitleMaxRunes is the number of characters kept from the first message.
	TitleMaxRunes = 40

	// IDPrefix starts every conversation id.
	IDPrefix = "chat_"
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds one chat thread with its ordered messages.
type Conversation struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"timestamp"`
	Messages  []*Message `json:"messages"`
}

// NewConversation creates an empty conversation stamped with the current time.
func NewConversation() *Conversation {
	return NewConversationAt(time.Now())
}

// NewConversationAt creates an empty conversation with an id derived from t.
func NewConversationAt(t time.Time) *Conversation {
	return &Conversation{
		ID:        GenerateID(t),
		Title:     DefaultTitle,
		CreatedAt: t,
		Messages:  make([]*Message, 0),
	}
}

// GenerateID returns the conversation id for a creation time.
func GenerateID(t time.Time) string {
	return IDPrefix + strconv.FormatInt(t.UnixMilli(), 10)
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// AddMessage appends a message. The first message names the conversation
// when it comes from the user; later messages never change the title.
func (c *Conversation) AddMessage(msg *Message) {
	c.Messages = append(c.Messages, msg)
	if len(c.Messages) == 1 && msg.Role == RoleUser {
		c.Title = TitleFrom(msg.Content)
	}
}

// TitleFrom derives a conversation title from message text.
func TitleFrom(content string) string {
	runes := []rune(content)
	if len(runes) <= TitleMaxRunes {
		return content
	}
	return string(runes[:TitleMaxRunes]) + "..."
}

// LastMessage returns the most recent message, or nil if empty.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// LastUserMessage returns the most recent user message.
func (c *Conversation) LastUserMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return c.Messages[i]
		}
	}
	return nil
}

// IsEmpty returns true if there are no messages.
func (c *Conversation) IsEmpty() bool {
	return len(c.Messages) == 0
}

// GetTitle returns the conversation title or the default.
func (c *Conversation) GetTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return DefaultTitle
}

// =============================================================================
// LISTING
// =============================================================================

// ConversationMeta holds lightweight metadata for listing.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"timestamp"`
	MessageCount int       `json:"messageCount"`
}

// GetMeta returns metadata about the conversation.
func (c *Conversation) GetMeta() ConversationMeta {
	return ConversationMeta{
		ID:           c.ID,
		Title:        c.GetTitle(),
		CreatedAt:    c.CreatedAt,
		MessageCount: len(c.Messages),
	}
}

// Clone creates a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	clone := &Conversation{
		ID:        c.ID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		Messages:  make([]*Message, len(c.Messages)),
	}
	for i, msg := range c.Messages {
		clone.Messages[i] = msg.Clone()
	}
	return clone
}
