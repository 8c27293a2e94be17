// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/jeranaias/rigrun-web/internal/model"
	"github.com/jeranaias/rigrun-web/internal/search"
	"github.com/jeranaias/rigrun-web/internal/storage"
)

// =============================================================================
// EVENTS
// =============================================================================

// EventType names a session event on the wire.
type EventType string

const (
	EventStarted      EventType = "started"
	EventReasoning    EventType = "reasoning"
	EventAnswer       EventType = "answer"
	EventSearchQueued EventType = "search_queued"
	EventSearch       EventType = "search_results"
	EventCompleted    EventType = "completed"
	EventCancelled    EventType = "cancelled"
	EventFailed       EventType = "failed"
	EventMessage      EventType = "message"
	EventChat         EventType = "chat"
	EventAttachments  EventType = "attachments"
	EventPreferences  EventType = "preferences"
)

// Event is delivered to every subscriber.
type Event struct {
	Type         EventType `json:"type"`
	GenerationID string    `json:"generationId,omitempty"`
	ChatID       string    `json:"chatId,omitempty"`
	Time         time.Time `json:"time"`

	// Delta is the new text of a reasoning or answer event; Reasoning and
	// Answer hold the running totals.
	Delta     string `json:"delta,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
	Answer    string `json:"answer,omitempty"`

	Query       string                   `json:"query,omitempty"`
	Search      *search.ResultSet        `json:"search,omitempty"`
	Message     *model.Message           `json:"message,omitempty"`
	Chats       []model.ConversationMeta `json:"chats,omitempty"`
	Attachments []model.Attachment       `json:"attachments,omitempty"`
	Preferences *storage.Preferences     `json:"preferences,omitempty"`
	Error       string                   `json:"error,omitempty"`
}

// Terminal reports whether the event ends a generation.
func (e Event) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventCancelled || e.Type == EventFailed
}

// delta reports whether the event carries streamed text.
func (e Event) delta() bool {
	return e.Type == EventReasoning || e.Type == EventAnswer
}

// =============================================================================
// BROKER
// =============================================================================

const (
	// subscriberBuffer is the per-subscriber queue length.
	subscriberBuffer = 256

	// deltaHeadroom slots stay free for events other than deltas, so a
	// subscriber that falls behind still sees the end of a generation.
	deltaHeadroom = 32

	// deliveryTimeout bounds how long a non-delta event waits for room.
	deliveryTimeout = 5 * time.Second
)

// subscriber queues events for one renderer. Deltas that do not fit are
// folded into a carried event whose Delta grows until there is room, so
// streamed text is coalesced, never lost.
type subscriber struct {
	ch   chan Event
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	closed   bool
	carry    map[EventType]Event
	carryGen string
}

func newSubscriber() *subscriber {
	return &subscriber{
		ch:   make(chan Event, subscriberBuffer),
		done: make(chan struct{}),
	}
}

// send delivers ev and reports false when it had to be dropped.
func (s *subscriber) send(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}

	if ev.delta() {
		if s.carryGen != ev.GenerationID {
			s.carry, s.carryGen = nil, ev.GenerationID
		}
		if held, ok := s.carry[ev.Type]; ok {
			ev.Delta = held.Delta + ev.Delta
			delete(s.carry, ev.Type)
		}
		if len(s.ch)+len(s.carry)+1 > cap(s.ch)-deltaHeadroom {
			if s.carry == nil {
				s.carry = make(map[EventType]Event, 2)
			}
			s.carry[ev.Type] = ev
			return true
		}
		// Only publishers write to ch and they hold s.mu, so the room
		// checked above is still there.
		for _, held := range s.carry {
			s.ch <- held
		}
		s.carry = nil
		s.ch <- ev
		return true
	}

	if ev.GenerationID != "" && ev.GenerationID == s.carryGen {
		for _, t := range []EventType{EventReasoning, EventAnswer} {
			if held, ok := s.carry[t]; ok && !s.deliver(held) {
				return false
			}
		}
		s.carry = nil
	}
	return s.deliver(ev)
}

// deliver waits up to deliveryTimeout for room. The caller holds s.mu.
func (s *subscriber) deliver(ev Event) bool {
	select {
	case s.ch <- ev:
		return true
	default:
	}
	timer := time.NewTimer(deliveryTimeout)
	defer timer.Stop()
	select {
	case s.ch <- ev:
		return true
	case <-s.done:
		return true
	case <-timer.C:
		return false
	}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
		close(s.ch)
	})
}

type broker struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
}

func newBroker() *broker {
	return &broker{subs: make(map[int]*subscriber)}
}

func (b *broker) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := newSubscriber()
	b.subs[id] = sub

	return sub.ch, func() {
		b.mu.Lock()
		_, ok := b.subs[id]
		delete(b.subs, id)
		b.mu.Unlock()
		if ok {
			sub.close()
		}
	}
}

func (b *broker) publish(ev Event) {
	b.mu.Lock()
	subs := make(map[int]*subscriber, len(b.subs))
	for id, sub := range b.subs {
		subs[id] = sub
	}
	b.mu.Unlock()

	for id, sub := range subs {
		if !sub.send(ev) {
			log.Warn("EVENT_DROPPED", "subscriber", id, "type", ev.Type)
		}
	}
}

func (b *broker) close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[int]*subscriber)
	b.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}
