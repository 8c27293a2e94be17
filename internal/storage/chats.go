// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/jeranaias/rigrun-web/internal/model"
	"github.com/jeranaias/rigrun-web/internal/util"
)

// =============================================================================
// CHAT HISTORY DOCUMENT
// =============================================================================

// ChatHistory is the persisted and exported chat document.
type ChatHistory struct {
	envelope
	Chats []*model.Conversation `json:"chats"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned when a conversation doesn't exist.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = &ConversationError{Message: "conversation not found"}

// ErrInvalidHistory is returned by Import when the document has no chats array.
var ErrInvalidHistory = &ConversationError{Message: "invalid chat history: missing chats array"}

// ConversationError is a chat store failure comparable with errors.Is.
type ConversationError struct {
	Message string
	ID      string
}

func (e *ConversationError) Error() string {
	if e.ID != "" {
		return e.Message + ": " + e.ID
	}
	return e.Message
}

// Is matches on Message so an error carrying an ID still matches the sentinel.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

func notFound(id string) error {
	return &ConversationError{Message: ErrConversationNotFound.Message, ID: id}
}

// =============================================================================
// CHAT STORE
// =============================================================================

// ChatStore is the ordered conversation list, newest first, backed by a KV
// document. Every mutation persists unless autosave is off, in which case
// Flush writes the pending state.
type ChatStore struct {
	mu       sync.RWMutex
	kv       KV
	chats    []*model.Conversation
	autoSave bool
	dirty    bool
	now      func() time.Time
}

// NewChatStore returns an empty store over kv. Call Load to read history.
func NewChatStore(kv KV) *ChatStore {
	return &ChatStore{kv: kv, autoSave: true, now: time.Now}
}

// Load replaces the in-memory list with the persisted document. A missing
// document is an empty history. A corrupt one leaves the history empty and
// returns an error wrapping ErrInvalidHistory.
func (s *ChatStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chats = nil
	data, err := s.kv.Get(ChatHistoryKey)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load chat history: %w", err)
	}

	chats, err := decodeHistory(data)
	if err != nil {
		return err
	}
	s.chats = chats
	log.Debug("CHAT_HISTORY_LOADED", "chats", len(chats))
	return nil
}

func decodeHistory(data []byte) ([]*model.Conversation, error) {
	var probe struct {
		Chats json.RawMessage `json:"chats"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHistory, err)
	}
	trimmed := strings.TrimSpace(string(probe.Chats))
	if !strings.HasPrefix(trimmed, "[") {
		return nil, ErrInvalidHistory
	}

	var chats []*model.Conversation
	if err := json.Unmarshal(probe.Chats, &chats); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHistory, err)
	}

	out := chats[:0]
	for _, c := range chats {
		if c == nil || c.ID == "" {
			continue
		}
		if c.Messages == nil {
			c.Messages = make([]*model.Message, 0)
		}
		out = append(out, c)
	}
	return out, nil
}

// SetAutoSave toggles persistence on every mutation. Turning it back on
// writes anything pending.
func (s *ChatStore) SetAutoSave(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoSave = on
	if on && s.dirty {
		return s.saveLocked()
	}
	return nil
}

// Flush persists the current list regardless of autosave.
func (s *ChatStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *ChatStore) saveLocked() error {
	data, err := json.Marshal(s.documentLocked())
	if err != nil {
		return fmt.Errorf("encode chat history: %w", err)
	}
	if err := s.kv.Set(ChatHistoryKey, data); err != nil {
		return fmt.Errorf("save chat history: %w", err)
	}
	s.dirty = false
	return nil
}

func (s *ChatStore) mutatedLocked() error {
	s.dirty = true
	if !s.autoSave {
		return nil
	}
	return s.saveLocked()
}

func (s *ChatStore) documentLocked() ChatHistory {
	chats := s.chats
	if chats == nil {
		chats = make([]*model.Conversation, 0)
	}
	return ChatHistory{envelope: newEnvelope(s.now()), Chats: chats}
}

// =============================================================================
// CONVERSATION OPERATIONS
// =============================================================================

// Create starts a new conversation at the front of the list.
func (s *ChatStore) Create() (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now()
	// Ids come from the millisecond clock; step past any collision.
	for s.indexLocked(model.GenerateID(at)) >= 0 {
		at = at.Add(time.Millisecond)
	}
	conv := model.NewConversationAt(at)
	s.chats = append([]*model.Conversation{conv}, s.chats...)
	log.Debug("CHAT_CREATED", "id", conv.ID)
	return conv.Clone(), s.mutatedLocked()
}

// Get returns a copy of the conversation.
func (s *ChatStore) Get(id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexLocked(id)
	if i < 0 {
		return nil, notFound(id)
	}
	return s.chats[i].Clone(), nil
}

// Append adds msg to the conversation and returns the updated copy. The
// first user message sets the title.
func (s *ChatStore) Append(id string, msg *model.Message) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return nil, notFound(id)
	}
	s.chats[i].AddMessage(msg.Clone())
	return s.chats[i].Clone(), s.mutatedLocked()
}

// Delete removes a conversation.
func (s *ChatStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return notFound(id)
	}
	s.chats = append(s.chats[:i], s.chats[i+1:]...)
	log.Debug("CHAT_DELETED", "id", id)
	return s.mutatedLocked()
}

// First returns a copy of the newest conversation, or nil.
func (s *ChatStore) First() *model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.chats) == 0 {
		return nil
	}
	return s.chats[0].Clone()
}

// List returns listing metadata, newest first.
func (s *ChatStore) List() []model.ConversationMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metas := make([]model.ConversationMeta, len(s.chats))
	for i, c := range s.chats {
		metas[i] = c.GetMeta()
	}
	return metas
}

// Len returns the number of conversations.
func (s *ChatStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chats)
}

// Search returns conversations whose title or any message contains query,
// case-insensitively.
func (s *ChatStore) Search(query string) []model.ConversationMeta {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return s.List()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []model.ConversationMeta
	for _, c := range s.chats {
		if conversationMatches(c, query) {
			results = append(results, c.GetMeta())
		}
	}
	return results
}

func conversationMatches(c *model.Conversation, query string) bool {
	if strings.Contains(strings.ToLower(c.Title), query) {
		return true
	}
	for _, m := range c.Messages {
		if strings.Contains(strings.ToLower(m.Content), query) {
			return true
		}
	}
	return false
}

func (s *ChatStore) indexLocked(id string) int {
	for i, c := range s.chats {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// =============================================================================
// IMPORT / EXPORT
// =============================================================================

// Export writes the history as indented JSON in the persisted shape.
func (s *ChatStore) Export(w io.Writer) error {
	s.mu.RLock()
	doc := s.documentLocked()
	s.mu.RUnlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("export chat history: %w", err)
	}
	return nil
}

// Import replaces the history with the document read from r and persists it.
// The current history is untouched when the document is invalid.
func (s *ChatStore) Import(r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("read import: %w", err)
	}
	chats, err := decodeHistory(data)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = chats
	log.Info("CHAT_HISTORY_IMPORTED", "chats", len(chats))
	return len(chats), s.saveLocked()
}

// Clear removes every conversation.
func (s *ChatStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = nil
	return s.mutatedLocked()
}

// =============================================================================
// SESSION LIST FORMATTING
// =============================================================================

// FormatChatList renders metadata as a fixed-width table for the terminal.
func FormatChatList(chats []model.ConversationMeta) string {
	if len(chats) == 0 {
		return "No chats found."
	}

	var sb strings.Builder
	sb.WriteString(util.PadRight("ID", 20) + " " + util.PadRight("Created", 17) + " " + util.PadRight("Msgs", 5) + " Title\n")
	sb.WriteString(strings.Repeat("-", 70) + "\n")
	for _, c := range chats {
		sb.WriteString(util.PadRight(util.TruncateWidth(c.ID, 20), 20) + " " +
			util.PadRight(c.CreatedAt.Local().Format("2006-01-02 15:04"), 17) + " " +
			util.PadRight(fmt.Sprint(c.MessageCount), 5) + " " +
			util.TruncateWidth(c.Title, 40) + "\n")
	}
	return sb.String()
}
