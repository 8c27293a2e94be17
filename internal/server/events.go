// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/jeranaias/rigrun-web/internal/format"
	"github.com/jeranaias/rigrun-web/internal/session"
)

const (
	heartbeatInterval = 15 * time.Second
	wsWriteTimeout    = 10 * time.Second
	wsPongTimeout     = 60 * time.Second
	wsMaxMessage      = 4096

	// liveRenderInterval is the minimum gap between two re-renders of a
	// streaming reply on one connection.
	liveRenderInterval = 80 * time.Millisecond
)

// wireEvent is a session event with the text already rendered for display.
type wireEvent struct {
	session.Event
	HTML          string `json:"html,omitempty"`
	ReasoningHTML string `json:"reasoningHtml,omitempty"`
	StatsLine     string `json:"statsLine,omitempty"`

	Pending []attachmentSummary `json:"pending,omitempty"`
}

func renderEvent(ev session.Event) wireEvent {
	out := wireEvent{Event: ev}
	switch {
	case ev.Message != nil:
		rm := renderMessage(ev.Message)
		out.HTML, out.ReasoningHTML, out.StatsLine = rm.HTML, rm.ReasoningHTML, rm.StatsLine
	case ev.Type == session.EventAnswer || ev.Type == session.EventReasoning:
		out.HTML = format.HTML(ev.Answer)
		out.ReasoningHTML = format.HTML(ev.Reasoning)
		// The page renders from the totals; raw text is not sent.
		out.Delta, out.Answer, out.Reasoning = "", "", ""
	}
	// Attachment payloads can be large; the page only lists names.
	if ev.Type == session.EventAttachments {
		out.Pending = pendingSummary(ev.Attachments)
	}
	out.Attachments = nil
	return out
}

// liveThrottle limits how often one connection re-renders a streaming reply.
// Deltas arriving inside the interval are held; the newest one carries the
// running totals, so only its text is rendered once the interval has passed.
type liveThrottle struct {
	interval time.Duration
	last     time.Time
	pending  *session.Event
}

func newLiveThrottle(interval time.Duration) *liveThrottle {
	return &liveThrottle{interval: interval}
}

// offer returns the events to write now, in order.
func (t *liveThrottle) offer(ev session.Event, now time.Time) []session.Event {
	if ev.Type == session.EventAnswer || ev.Type == session.EventReasoning {
		if now.Sub(t.last) < t.interval {
			t.pending = &ev
			return nil
		}
		t.pending = nil
		t.last = now
		return []session.Event{ev}
	}

	var out []session.Event
	switch {
	case t.pending == nil:
	case ev.Terminal() && ev.GenerationID == t.pending.GenerationID:
		// The outcome carries the final text.
	default:
		out = append(out, *t.pending)
	}
	t.pending = nil
	return append(out, ev)
}

// flush returns a held delta once the interval has passed.
func (t *liveThrottle) flush(now time.Time) (session.Event, bool) {
	if t.pending == nil || now.Sub(t.last) < t.interval {
		return session.Event{}, false
	}
	ev := *t.pending
	t.pending = nil
	t.last = now
	return ev, true
}

func (s *Server) stateEvent() wireEvent {
	return wireEvent{Event: session.Event{
		Type:   "state",
		ChatID: s.ctrl.Snapshot().ActiveChatID,
		Chats:  s.ctrl.Chats(),
		Time:   time.Now(),
	}}
}

// ============================================================================
// SERVER-SENT EVENTS
// ============================================================================

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, unsubscribe := s.ctrl.Subscribe()
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, s.stateEvent()); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	throttle := newLiveThrottle(liveRenderInterval)
	flushTick := time.NewTicker(liveRenderInterval)
	defer flushTick.Stop()

	log.Debug("SSE_OPEN", "remote", r.RemoteAddr)
	defer log.Debug("SSE_CLOSED", "remote", r.RemoteAddr)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.genCtx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case now := <-flushTick.C:
			if ev, ok := throttle.flush(now); ok {
				if err := writeSSE(w, renderEvent(ev)); err != nil {
					return
				}
				flusher.Flush()
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			out := throttle.offer(ev, time.Now())
			for _, ev := range out {
				if err := writeSSE(w, renderEvent(ev)); err != nil {
					return
				}
			}
			if len(out) > 0 {
				flusher.Flush()
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, ev wireEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Warn("SSE_ENCODE_FAILED", "type", ev.Type, "err", err)
		return nil
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

// ============================================================================
// WEBSOCKET
// ============================================================================

type inboundMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Model string `json:"model,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("WS_UPGRADE_FAILED", "err", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := s.ctrl.Subscribe()
	defer unsubscribe()

	log.Debug("WS_OPEN", "remote", r.RemoteAddr)
	defer log.Debug("WS_CLOSED", "remote", r.RemoteAddr)

	replies := make(chan wireEvent, 8)
	closed := make(chan struct{})
	quit := make(chan struct{})
	defer close(quit)
	go s.readWebSocket(conn, replies, closed, quit)

	write := func(ev wireEvent) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(ev)
	}
	if err := write(s.stateEvent()); err != nil {
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	throttle := newLiveThrottle(liveRenderInterval)
	flushTick := time.NewTicker(liveRenderInterval)
	defer flushTick.Stop()

	for {
		select {
		case <-closed:
			return
		case <-s.genCtx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case ev := <-replies:
			if err := write(ev); err != nil {
				return
			}
		case now := <-flushTick.C:
			if ev, ok := throttle.flush(now); ok {
				if err := write(renderEvent(ev)); err != nil {
					return
				}
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			for _, ev := range throttle.offer(ev, time.Now()) {
				if err := write(renderEvent(ev)); err != nil {
					return
				}
			}
		}
	}
}

// readWebSocket handles client commands until the connection fails.
func (s *Server) readWebSocket(conn *websocket.Conn, replies chan<- wireEvent, closed chan<- struct{}, quit <-chan struct{}) {
	defer close(closed)

	conn.SetReadLimit(wsMaxMessage)
	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("WS_READ_FAILED", "err", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))

		var err error
		switch msg.Type {
		case "cancel":
			err = s.ctrl.Cancel()
		case "send":
			_, err = s.ctrl.Start(s.genCtx, session.SendRequest{Text: msg.Text, Model: msg.Model})
		case "ping":
		default:
			err = fmt.Errorf("unknown message type %q", msg.Type)
		}
		if err == nil {
			continue
		}
		select {
		case replies <- wireEvent{Event: session.Event{Type: "error", Error: err.Error(), Time: time.Now()}}:
		case <-quit:
			return
		}
	}
}
