// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/ollama/ollama/api"

	"github.com/jeranaias/rigrun-web/internal/attachment"
	"github.com/jeranaias/rigrun-web/internal/model"
	"github.com/jeranaias/rigrun-web/internal/ollama"
	"github.com/jeranaias/rigrun-web/internal/search"
	"github.com/jeranaias/rigrun-web/internal/storage"
)

// CancelledMarker is stored when a cancelled generation produced nothing.
const CancelledMarker = "*Generation cancelled by user*"

// ChatClient streams one chat completion.
type ChatClient interface {
	StreamChat(ctx context.Context, req *api.ChatRequest, sink ollama.EventSink) (*ollama.ReducedResult, error)
}

// Searcher accepts search directives.
type Searcher interface {
	Submit(query string, origin search.Origin) bool
}

// Config wires a Controller. Search and Attachments may be nil.
type Config struct {
	Client      ChatClient
	Chats       *storage.ChatStore
	Prefs       *storage.PreferenceStore
	Search      Searcher
	Attachments *attachment.Processor
	Now         func() time.Time
}

// SendRequest is one user turn. An empty Model uses the model preference.
type SendRequest struct {
	Text  string
	Model string
}

// Controller serialises generations and routes their events to subscribers.
type Controller struct {
	cfg    Config
	broker *broker

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
	result *model.Message
}

// New returns an idle controller. It keeps the chat store's autosave in step
// with the autoSave preference.
func New(cfg Config) *Controller {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	c := &Controller{cfg: cfg, broker: newBroker()}

	if cfg.Prefs != nil {
		c.applyAutoSave(cfg.Prefs.Get())
		cfg.Prefs.OnChange(func(p storage.Preferences) {
			c.applyAutoSave(p)
			c.publish(Event{Type: EventPreferences, Preferences: &p})
		})
	}
	return c
}

func (c *Controller) applyAutoSave(p storage.Preferences) {
	if c.cfg.Chats == nil {
		return
	}
	if err := c.cfg.Chats.SetAutoSave(p.AutoSave); err != nil {
		log.Warn("CHAT_AUTOSAVE_FAILED", "err", err)
	}
}

// Subscribe registers a renderer. Call the returned function to detach.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	return c.broker.subscribe()
}

func (c *Controller) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = c.cfg.Now()
	}
	c.broker.publish(ev)
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Phase returns the generation state.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Phase
}

// =============================================================================
// GENERATION
// =============================================================================

// Send runs one generation to completion and returns the assistant message
// that was stored. Cancellation through Cancel or ctx is not an error.
func (c *Controller) Send(ctx context.Context, req SendRequest) (*model.Message, error) {
	if _, err := c.Start(ctx, req); err != nil {
		return nil, err
	}
	return c.Wait(ctx)
}

// Start persists the user turn and begins streaming in the background. ctx
// bounds the whole generation, not only the call. It returns the
// generation id.
func (c *Controller) Start(ctx context.Context, req SendRequest) (string, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	prefs := c.prefs()
	modelName := req.Model
	if modelName == "" {
		modelName = prefs.Model
	}
	if modelName == "" {
		return "", ErrNoModel
	}

	c.mu.Lock()
	if c.state.Phase != Idle {
		c.mu.Unlock()
		return "", ErrBusy
	}
	genID := uuid.NewString()
	genCtx, cancel := context.WithCancel(ctx)
	pending := c.state.Pending
	c.state.Phase = Generating
	c.state.GenerationID = genID
	c.state.Pending = nil
	c.cancel = cancel
	c.done = make(chan struct{})
	c.result = nil
	activeID := c.state.ActiveChatID
	c.mu.Unlock()

	chatReq, chatID, err := c.prepare(activeID, text, modelName, pending, prefs)
	if err != nil {
		close(c.finish(nil))
		return "", err
	}

	log.Info("GENERATION_STARTED", "id", genID, "chat", chatID, "model", modelName)
	c.publish(Event{Type: EventStarted, GenerationID: genID, ChatID: chatID})
	c.publish(Event{Type: EventAttachments})

	go c.run(genCtx, genID, chatID, chatReq)
	return genID, nil
}

// prepare makes sure a conversation is active, stores the user turn and
// builds the request.
func (c *Controller) prepare(activeID, text, modelName string, pending []model.Attachment, prefs storage.Preferences) (*api.ChatRequest, string, error) {
	var conv *model.Conversation
	var err error
	if activeID != "" {
		conv, err = c.cfg.Chats.Get(activeID)
	}
	if activeID == "" || err != nil {
		conv, err = c.cfg.Chats.Create()
		if conv == nil {
			return nil, "", fmt.Errorf("create chat: %w", err)
		}
		if err != nil {
			log.Warn("CHAT_SAVE_FAILED", "chat", conv.ID, "err", err)
		}
		c.setActive(conv.ID)
		c.publishChats(conv.ID)
	}

	chatID := conv.ID
	userMsg := model.NewUserMessage(text, pending...)
	conv, err = c.cfg.Chats.Append(chatID, userMsg)
	if conv == nil {
		return nil, chatID, fmt.Errorf("store message: %w", err)
	}
	// The turn is in memory; a failed write is retried on the next save.
	if err != nil {
		log.Warn("CHAT_SAVE_FAILED", "chat", chatID, "err", err)
	}
	c.publish(Event{Type: EventMessage, ChatID: chatID, Message: userMsg})

	chatReq, err := ollama.BuildChatRequest(ollama.ChatInput{
		Model:      modelName,
		History:    conv.Messages,
		Images:     userMsg.Images(),
		UseContext: prefs.UseConversationContext,
	})
	if err != nil {
		return nil, chatID, err
	}
	return chatReq, chatID, nil
}

func (c *Controller) run(ctx context.Context, genID, chatID string, req *api.ChatRequest) {
	var answer, reasoning strings.Builder

	sink := func(ev ollama.Event) {
		switch ev.Kind {
		case ollama.EventReasoningDelta:
			reasoning.WriteString(ev.Text)
			c.publish(Event{Type: EventReasoning, GenerationID: genID, ChatID: chatID,
				Delta: ev.Text, Reasoning: reasoning.String(), Answer: answer.String()})
		case ollama.EventAnswerDelta:
			answer.WriteString(ev.Text)
			c.publish(Event{Type: EventAnswer, GenerationID: genID, ChatID: chatID,
				Delta: ev.Text, Reasoning: reasoning.String(), Answer: answer.String()})
		case ollama.EventSearchDirective:
			c.searchDirective(genID, chatID, ev.Query)
		}
	}

	result, err := c.cfg.Client.StreamChat(ctx, req, sink)

	var msg *model.Message
	evType := EventCompleted
	errText := ""
	switch {
	case err == nil:
		msg = result.Message()
		log.Info("GENERATION_DONE", "id", genID, "tokens", msg.Stats.TokenCount, "tok_s", msg.Stats.TokensPerSecond)
	case ollama.IsCancelled(err):
		evType = EventCancelled
		if result.Empty() {
			msg = model.NewAssistantMessage(CancelledMarker, "", nil)
		} else {
			msg = result.Message()
		}
		log.Info("GENERATION_CANCELLED", "id", genID, "partial", !result.Empty())
	default:
		evType = EventFailed
		errText = err.Error()
		msg = model.NewAssistantMessage(ErrorMessage(err), "", nil)
		log.Error("GENERATION_FAILED", "id", genID, "err", err)
	}

	if _, err := c.cfg.Chats.Append(chatID, msg); err != nil {
		log.Warn("CHAT_APPEND_FAILED", "chat", chatID, "err", err)
	}
	done := c.finish(msg)
	c.publish(Event{Type: evType, GenerationID: genID, ChatID: chatID, Message: msg, Error: errText})
	c.publishChats(chatID)
	close(done)
}

// ErrorMessage is the assistant text stored for a failed generation.
func ErrorMessage(err error) string {
	detail := strings.TrimSuffix(strings.TrimSpace(err.Error()), ".")
	return "Error: " + detail + ". Please ensure Ollama is running."
}

func (c *Controller) searchDirective(genID, chatID, query string) {
	if c.cfg.Search == nil || !c.prefs().WebSearch {
		return
	}
	if c.cfg.Search.Submit(query, search.Origin{ChatID: chatID, GenerationID: genID}) {
		c.publish(Event{Type: EventSearchQueued, GenerationID: genID, ChatID: chatID, Query: query})
	}
}

// PublishSearch forwards side-channel results to subscribers, tagged with the
// chat and generation whose directive asked for them.
func (c *Controller) PublishSearch(rs search.ResultSet) {
	c.publish(Event{Type: EventSearch, GenerationID: rs.Origin.GenerationID, ChatID: rs.Origin.ChatID,
		Query: rs.Query, Search: &rs})
}

// finish returns the controller to Idle. The caller closes the returned
// channel to release waiters once the outcome has been published.
func (c *Controller) finish(msg *model.Message) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state.Phase = Idle
	c.state.GenerationID = ""
	c.result = msg
	done := c.done
	c.done = nil
	return done
}

// Cancel aborts the running generation.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state.Phase {
	case Idle:
		return ErrNotGenerating
	case Cancelling:
		return nil
	}
	c.state.Phase = Cancelling
	if c.cancel != nil {
		c.cancel()
	}
	log.Debug("GENERATION_CANCEL_REQUESTED", "id", c.state.GenerationID)
	return nil
}

// Wait blocks until the current generation ends and returns the message it
// stored. It returns immediately when idle.
func (c *Controller) Wait(ctx context.Context) (*model.Message, error) {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, nil
}

// Close cancels any generation, waits for it and flushes the chat store.
func (c *Controller) Close() error {
	if err := c.Cancel(); err == nil {
		_, _ = c.Wait(context.Background())
	}
	c.broker.close()
	if c.cfg.Chats == nil {
		return nil
	}
	return c.cfg.Chats.Flush()
}

func (c *Controller) prefs() storage.Preferences {
	if c.cfg.Prefs == nil {
		return storage.DefaultPreferences()
	}
	return c.cfg.Prefs.Get()
}
