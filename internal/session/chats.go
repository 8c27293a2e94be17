// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/jeranaias/rigrun-web/internal/attachment"
	"github.com/jeranaias/rigrun-web/internal/model"
)

// =============================================================================
// CHAT MANAGEMENT
// =============================================================================

func (c *Controller) setActive(id string) {
	c.mu.Lock()
	c.state.ActiveChatID = id
	c.mu.Unlock()
}

func (c *Controller) activeID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.ActiveChatID
}

func (c *Controller) publishChats(activeID string) {
	c.publish(Event{Type: EventChat, ChatID: activeID, Chats: c.cfg.Chats.List()})
}

// NewChat creates an empty conversation and makes it active.
func (c *Controller) NewChat() (*model.Conversation, error) {
	conv, err := c.cfg.Chats.Create()
	if err != nil {
		return nil, err
	}
	c.setActive(conv.ID)
	c.publishChats(conv.ID)
	return conv, nil
}

// LoadChat makes the conversation active and returns it.
func (c *Controller) LoadChat(id string) (*model.Conversation, error) {
	conv, err := c.cfg.Chats.Get(id)
	if err != nil {
		return nil, err
	}
	c.setActive(conv.ID)
	c.publishChats(conv.ID)
	return conv, nil
}

// DeleteChat removes a conversation. Deleting the active one activates the
// newest remaining conversation, if any.
func (c *Controller) DeleteChat(id string) error {
	if err := c.cfg.Chats.Delete(id); err != nil {
		return err
	}

	active := c.activeID()
	if active == id {
		active = ""
		if first := c.cfg.Chats.First(); first != nil {
			active = first.ID
		}
		c.setActive(active)
	}
	c.publishChats(active)
	return nil
}

// ActiveChat returns a copy of the active conversation, or nil.
func (c *Controller) ActiveChat() *model.Conversation {
	id := c.activeID()
	if id == "" {
		return nil
	}
	conv, err := c.cfg.Chats.Get(id)
	if err != nil {
		return nil
	}
	return conv
}

// Chat returns a copy of any conversation without changing the active one.
func (c *Controller) Chat(id string) (*model.Conversation, error) {
	return c.cfg.Chats.Get(id)
}

// Chats lists conversation metadata, newest first.
func (c *Controller) Chats() []model.ConversationMeta {
	return c.cfg.Chats.List()
}

// ExportHistory writes the chat history document to w.
func (c *Controller) ExportHistory(w io.Writer) error {
	return c.cfg.Chats.Export(w)
}

// ImportHistory replaces the history with the document read from r and
// activates its first conversation.
func (c *Controller) ImportHistory(r io.Reader) (int, error) {
	if c.Phase() != Idle {
		return 0, ErrBusy
	}
	n, err := c.cfg.Chats.Import(r)
	if err != nil {
		return 0, err
	}
	active := ""
	if first := c.cfg.Chats.First(); first != nil {
		active = first.ID
	}
	c.setActive(active)
	c.publishChats(active)
	log.Info("HISTORY_IMPORTED", "chats", n)
	return n, nil
}

// ClearAll deletes every conversation, drops staged attachments and resets
// preferences to their defaults.
func (c *Controller) ClearAll() error {
	if c.Phase() != Idle {
		return ErrBusy
	}
	var errs []error
	if err := c.cfg.Chats.Clear(); err != nil {
		errs = append(errs, fmt.Errorf("clear chats: %w", err))
	}
	if c.cfg.Prefs != nil {
		if _, err := c.cfg.Prefs.Reset(); err != nil {
			errs = append(errs, fmt.Errorf("reset preferences: %w", err))
		}
	}

	c.mu.Lock()
	c.state.ActiveChatID = ""
	c.state.Pending = nil
	c.mu.Unlock()

	c.publishChats("")
	c.publish(Event{Type: EventAttachments})
	log.Info("DATA_CLEARED")
	return errors.Join(errs...)
}

// =============================================================================
// ATTACHMENT STAGING
// =============================================================================

// AddFiles converts files and stages them for the next message.
func (c *Controller) AddFiles(ctx context.Context, files []attachment.File) ([]model.Attachment, error) {
	if c.cfg.Attachments == nil {
		return nil, errors.New("attachments are not enabled")
	}
	atts, err := c.cfg.Attachments.ProcessAll(ctx, files, attachment.Options{OCR: c.prefs().OCREnabled})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.state.Pending = append(c.state.Pending, atts...)
	pending := append([]model.Attachment(nil), c.state.Pending...)
	c.mu.Unlock()

	c.publish(Event{Type: EventAttachments, Attachments: pending})
	return atts, nil
}

// PendingAttachments returns the staged attachments.
func (c *Controller) PendingAttachments() []model.Attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Attachment(nil), c.state.Pending...)
}

// ClearAttachments drops the staged attachments.
func (c *Controller) ClearAttachments() {
	c.mu.Lock()
	c.state.Pending = nil
	c.mu.Unlock()
	c.publish(Event{Type: EventAttachments})
}
