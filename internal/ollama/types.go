// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"strings"
	"time"

	"github.com/jeranaias/rigrun-web/internal/model"
)

// =============================================================================
// WIRE RECORD
// =============================================================================

// streamRecord is one newline-delimited object of a /api/chat stream.
// Reasoning arrives as "thinking" from Ollama; some servers use "reasoning".
type streamRecord struct {
	Model   string `json:"model"`
	Message struct {
		Role      string `json:"role"`
		Content   string `json:"content"`
		Thinking  string `json:"thinking"`
		Reasoning string `json:"reasoning"`
	} `json:"message"`
	Done            bool  `json:"done"`
	EvalCount       int   `json:"eval_count"`
	EvalDuration    int64 `json:"eval_duration"`
	PromptEvalCount int   `json:"prompt_eval_count"`
}

func (r *streamRecord) reasoning() string {
	return r.Message.Thinking + r.Message.Reasoning
}

// =============================================================================
// EVENTS
// =============================================================================

// EventKind identifies a decoder event.
type EventKind int

const (
	EventReasoningDelta EventKind = iota + 1
	EventAnswerDelta
	EventSearchDirective
	EventCompleted
	EventCancelled
	EventFailed
)

var eventKindNames = map[EventKind]string{
	EventReasoningDelta:  "reasoning_delta",
	EventAnswerDelta:     "answer_delta",
	EventSearchDirective: "search_directive",
	EventCompleted:       "completed",
	EventCancelled:       "cancelled",
	EventFailed:          "failed",
}

// String returns the wire name of the event kind.
func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further events follow this kind.
func (k EventKind) Terminal() bool {
	return k == EventCompleted || k == EventCancelled || k == EventFailed
}

// Event is emitted by the decoder in network arrival order.
type Event struct {
	Kind EventKind

	// Text is the delta for reasoning and answer events.
	Text string

	// Query is set on search directives.
	Query string

	// Result is the reduced message on Completed, and the partial one on Cancelled.
	Result *ReducedResult

	// Err is set on Failed.
	Err error
}

// EventSink receives decoder events synchronously.
type EventSink func(Event)

// =============================================================================
// STREAM STATE
// =============================================================================

// Phase is where the decoder is within one response.
type Phase int

const (
	PhaseAwaitingFirstToken Phase = iota
	PhaseInReasoning
	PhaseInAnswer
	PhaseDone
	PhaseCancelled
	PhaseFailed
)

var phaseNames = [...]string{"awaiting_first_token", "in_reasoning", "in_answer", "done", "cancelled", "failed"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// StreamState is the transient state of one in-flight request.
// It is owned by a single Decoder and never shared.
type StreamState struct {
	Raw       strings.Builder
	Reasoning strings.Builder
	Answer    strings.Builder

	Phase        Phase
	TokenCount   int
	StartedAt    time.Time
	FirstTokenAt time.Time

	serverModel     string
	sawDone         bool
	evalCount       int
	evalDuration    time.Duration
	promptEvalCount int
	skipped         int
}

// RequestMeta carries request facts the reduction records verbatim.
type RequestMeta struct {
	Model     string
	StartedAt time.Time
}

// ReducedResult is the final message derived from a finished stream.
type ReducedResult struct {
	Content   string
	Reasoning string
	Stats     model.Stats

	// Directives lists the distinct search queries seen, in order.
	Directives []string

	// SkippedRecords counts malformed lines that were dropped.
	SkippedRecords int
}

// Message converts the result into a persisted assistant message.
func (r *ReducedResult) Message() *model.Message {
	stats := r.Stats
	return model.NewAssistantMessage(r.Content, r.Reasoning, &stats)
}

// Empty reports whether neither content nor reasoning arrived.
func (r *ReducedResult) Empty() bool {
	return r == nil || (strings.TrimSpace(r.Content) == "" && strings.TrimSpace(r.Reasoning) == "")
}
