// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// =============================================================================
// READER POOL
// =============================================================================

// streamBufferSize fits the typical record with room for long deltas.
const streamBufferSize = 32 * 1024

var readerPool = sync.Pool{
	New: func() interface{} {
		return bufio.NewReaderSize(nil, streamBufferSize)
	},
}

func acquireReader(r io.Reader) *bufio.Reader {
	br := readerPool.Get().(*bufio.Reader)
	br.Reset(r)
	return br
}

func releaseReader(br *bufio.Reader) {
	br.Reset(nil)
	readerPool.Put(br)
}

// =============================================================================
// DECODER
// =============================================================================

// Decoder turns one newline-delimited JSON chat stream into events and a
// reduced result. A Decoder is single use.
type Decoder struct {
	sink     EventSink
	now      func() time.Time
	state    StreamState
	router   tagRouter
	scanner  *directiveScanner
	meta     RequestMeta
	terminal bool
}

// NewDecoder creates a decoder that reports to sink. A nil sink discards events.
func NewDecoder(sink EventSink) *Decoder {
	if sink == nil {
		sink = func(Event) {}
	}
	return &Decoder{
		sink:    sink,
		now:     time.Now,
		scanner: newDirectiveScanner(),
	}
}

// Decode reads body until the final record, end of input, cancellation or a
// transport error. On cancellation it returns the partial result together
// with ErrCancelled.
func (d *Decoder) Decode(ctx context.Context, body io.Reader, meta RequestMeta) (*ReducedResult, error) {
	d.meta = meta
	d.state.StartedAt = meta.StartedAt
	if d.state.StartedAt.IsZero() {
		d.state.StartedAt = d.now()
	}

	br := acquireReader(body)
	defer releaseReader(br)

	lineNo := 0
	for {
		if ctx.Err() != nil {
			return d.cancel()
		}

		line, readErr := br.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			if done := d.handleLine(lineNo, line); done {
				return d.complete(), nil
			}
		}

		if readErr != nil {
			if ctx.Err() != nil {
				return d.cancel()
			}
			if errors.Is(readErr, io.EOF) {
				return d.complete(), nil
			}
			return d.fail(&NetworkError{Op: "read stream", Err: readErr})
		}
	}
}

// State exposes the accumulators for inspection after Decode returns.
func (d *Decoder) State() *StreamState {
	return &d.state
}

// handleLine processes one record and reports whether it was the last.
func (d *Decoder) handleLine(lineNo int, line []byte) bool {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return false
	}

	var rec streamRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		d.state.skipped++
		skip := &ParseSkip{Line: lineNo, Err: err}
		log.Debug("STREAM_RECORD_SKIPPED", "line", lineNo, "err", skip)
		return false
	}

	if rec.Model != "" {
		d.state.serverModel = rec.Model
	}

	var fresh bytes.Buffer
	if r := rec.reasoning(); r != "" {
		d.emitReasoning(r)
		fresh.WriteString(r)
	}

	if c := rec.Message.Content; c != "" {
		d.state.Raw.WriteString(c)
		d.state.TokenCount++
		for _, seg := range d.router.route(c) {
			d.emitSegment(seg)
			fresh.WriteString(seg.text)
		}
	}

	for _, q := range d.scanner.scan(fresh.String()) {
		d.sink(Event{Kind: EventSearchDirective, Query: q})
	}

	if rec.Done {
		d.state.sawDone = true
		d.state.evalCount = rec.EvalCount
		d.state.evalDuration = time.Duration(rec.EvalDuration)
		d.state.promptEvalCount = rec.PromptEvalCount
		return true
	}
	return false
}

func (d *Decoder) emitSegment(seg segment) {
	if seg.reasoning {
		d.emitReasoning(seg.text)
		return
	}
	d.markFirstToken()
	d.state.Phase = PhaseInAnswer
	d.state.Answer.WriteString(seg.text)
	d.sink(Event{Kind: EventAnswerDelta, Text: seg.text})
}

func (d *Decoder) emitReasoning(text string) {
	d.markFirstToken()
	d.state.Phase = PhaseInReasoning
	d.state.Reasoning.WriteString(text)
	d.sink(Event{Kind: EventReasoningDelta, Text: text})
}

func (d *Decoder) markFirstToken() {
	if d.state.FirstTokenAt.IsZero() {
		d.state.FirstTokenAt = d.now()
	}
}

// drain flushes text held back by the tag router.
func (d *Decoder) drain() {
	var fresh bytes.Buffer
	for _, seg := range d.router.flush() {
		d.emitSegment(seg)
		fresh.WriteString(seg.text)
	}
	for _, q := range d.scanner.scan(fresh.String()) {
		d.sink(Event{Kind: EventSearchDirective, Query: q})
	}
}

func (d *Decoder) complete() *ReducedResult {
	d.drain()
	result := d.reduce()
	d.state.Phase = PhaseDone
	d.finish(Event{Kind: EventCompleted, Result: result})
	log.Debug("STREAM_DONE", "model", result.Stats.Model, "tokens", result.Stats.TokenCount,
		"skipped", result.SkippedRecords)
	return result
}

// cancel stops without flushing held-back text; no deltas follow a cancel.
func (d *Decoder) cancel() (*ReducedResult, error) {
	result := d.reduce()
	d.state.Phase = PhaseCancelled
	d.finish(Event{Kind: EventCancelled, Result: result})
	return result, ErrCancelled
}

func (d *Decoder) fail(err error) (*ReducedResult, error) {
	result := d.reduce()
	d.state.Phase = PhaseFailed
	d.finish(Event{Kind: EventFailed, Err: err})
	return result, err
}

// finish emits the single terminal event.
func (d *Decoder) finish(ev Event) {
	if d.terminal {
		return
	}
	d.terminal = true
	d.sink(ev)
}
