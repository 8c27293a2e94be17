// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// HELPERS
// =============================================================================

type recorder struct {
	events []Event
}

func (r *recorder) sink(ev Event) {
	r.events = append(r.events, ev)
}

func (r *recorder) text(kind EventKind) string {
	var b strings.Builder
	for _, ev := range r.events {
		if ev.Kind == kind {
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}

func (r *recorder) count(kind EventKind) int {
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) queries() []string {
	var out []string
	for _, ev := range r.events {
		if ev.Kind == EventSearchDirective {
			out = append(out, ev.Query)
		}
	}
	return out
}

func (r *recorder) terminals() int {
	n := 0
	for _, ev := range r.events {
		if ev.Kind.Terminal() {
			n++
		}
	}
	return n
}

// fixedClock advances one second per call.
func fixedClock() func() time.Time {
	t := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func decodeLines(t *testing.T, lines ...string) (*ReducedResult, *recorder) {
	t.Helper()
	rec := &recorder{}
	dec := NewDecoder(rec.sink)
	dec.now = fixedClock()
	result, err := dec.Decode(context.Background(), strings.NewReader(strings.Join(lines, "\n")+"\n"),
		RequestMeta{Model: "qwen3:1.7b"})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return result, rec
}

func content(s string) string {
	return `{"message":{"role":"assistant","content":` + quote(s) + `},"done":false}`
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return `"` + r.Replace(s) + `"`
}

// =============================================================================
// CHANNEL DEMULTIPLEXING
// =============================================================================

func TestDecode_ThinkTagsAcrossRecords(t *testing.T) {
	result, rec := decodeLines(t,
		`{"message":{"content":"<think>"}}`,
		`{"message":{"content":"hi</think>"}}`,
		`{"message":{"content":"hello"}}`,
		`{"done":true}`,
	)

	if result.Reasoning != "hi" {
		t.Errorf("Reasoning = %q, want %q", result.Reasoning, "hi")
	}
	if result.Content != "hello" {
		t.Errorf("Content = %q, want %q", result.Content, "hello")
	}
	if rec.count(EventCompleted) != 1 {
		t.Errorf("Completed events = %d, want 1", rec.count(EventCompleted))
	}
}

func TestDecode_MalformedLineSkipped(t *testing.T) {
	result, _ := decodeLines(t,
		content("first "),
		`{"message":{"content":"broken`,
		content("second"),
		`{"done":true}`,
	)

	if result.Content != "first second" {
		t.Errorf("Content = %q, want %q", result.Content, "first second")
	}
	if result.SkippedRecords != 1 {
		t.Errorf("SkippedRecords = %d, want 1", result.SkippedRecords)
	}
}

func TestDecode_DedicatedReasoningFields(t *testing.T) {
	result, rec := decodeLines(t,
		`{"message":{"content":"","thinking":"step one. "}}`,
		`{"message":{"content":"","reasoning":"step two."}}`,
		`{"message":{"content":"answer"}}`,
		`{"done":true}`,
	)

	if result.Reasoning != "step one. step two." {
		t.Errorf("Reasoning = %q", result.Reasoning)
	}
	if result.Content != "answer" {
		t.Errorf("Content = %q", result.Content)
	}
	if got := rec.count(EventReasoningDelta); got != 2 {
		t.Errorf("ReasoningDelta events = %d, want 2", got)
	}
}

func TestDecode_MixedReasoningStyles(t *testing.T) {
	result, _ := decodeLines(t,
		`{"message":{"content":"","thinking":"native. "}}`,
		content("<thinking>tagged</thinking>final"),
		`{"done":true}`,
	)

	if result.Reasoning != "native. tagged" {
		t.Errorf("Reasoning = %q", result.Reasoning)
	}
	if result.Content != "final" {
		t.Errorf("Content = %q", result.Content)
	}
}

func TestDecode_TagSplitAcrossRecords(t *testing.T) {
	result, rec := decodeLines(t,
		content("<thi"),
		content("nk>deep thought</th"),
		content("ink>The answer"),
		content(" is 42."),
		`{"done":true}`,
	)

	if result.Reasoning != "deep thought" {
		t.Errorf("Reasoning = %q", result.Reasoning)
	}
	if result.Content != "The answer is 42." {
		t.Errorf("Content = %q", result.Content)
	}
	if strings.Contains(rec.text(EventAnswerDelta), "<") {
		t.Errorf("tag fragment leaked into answer deltas: %q", rec.text(EventAnswerDelta))
	}
}

func TestDecode_LessThanInAnswerIsKept(t *testing.T) {
	result, _ := decodeLines(t,
		content("if a <"),
		content(" b then"),
		content(" <b>bold</b>"),
		`{"done":true}`,
	)

	if result.Content != "if a < b then <b>bold</b>" {
		t.Errorf("Content = %q", result.Content)
	}
}

func TestDecode_TrailingFragmentFlushedAtEnd(t *testing.T) {
	result, rec := decodeLines(t, content("x <"))

	if result.Content != "x <" {
		t.Errorf("Content = %q, want %q", result.Content, "x <")
	}
	if rec.text(EventAnswerDelta) != "x <" {
		t.Errorf("answer deltas = %q", rec.text(EventAnswerDelta))
	}
}

func TestDecode_StrayClosingTagDropped(t *testing.T) {
	result, _ := decodeLines(t,
		`{"message":{"content":"","thinking":"native"}}`,
		content("</think>\n\nvisible"),
		`{"done":true}`,
	)

	if result.Content != "visible" {
		t.Errorf("Content = %q", result.Content)
	}
}

// =============================================================================
// DELTA / RESULT AGREEMENT
// =============================================================================

func TestDecode_DeltasMatchReducedResult(t *testing.T) {
	cases := [][]string{
		{content("plain answer")},
		{content("<think>a"), content("b</think>c"), content("d")},
		{content("<thinking>x</thinking>y<think>z</think>w")},
		{`{"message":{"content":"","thinking":"t1"}}`, content("<think>t2</think>"), content("ans")},
		{content("pre <think>mid</think> post")},
	}

	for i, lines := range cases {
		lines = append(lines, `{"done":true}`)
		result, rec := decodeLines(t, lines...)

		if got := strings.TrimSpace(rec.text(EventAnswerDelta)); got != result.Content {
			t.Errorf("case %d: answer deltas %q != content %q", i, got, result.Content)
		}
		if got := strings.TrimSpace(rec.text(EventReasoningDelta)); got != result.Reasoning {
			t.Errorf("case %d: reasoning deltas %q != reasoning %q", i, got, result.Reasoning)
		}
	}
}

func TestDecode_Idempotent(t *testing.T) {
	lines := []string{
		content("<think>plan</think>"),
		content("<search>go generics</search> result"),
		`{"done":true,"eval_count":12,"eval_duration":3000000000}`,
	}

	first, _ := decodeLines(t, lines...)
	second, _ := decodeLines(t, lines...)

	if first.Content != second.Content || first.Reasoning != second.Reasoning {
		t.Errorf("results differ: %+v vs %+v", first, second)
	}
	if first.Stats.TokenCount != second.Stats.TokenCount || first.Stats.TokensPerSecond != second.Stats.TokensPerSecond {
		t.Errorf("stats differ: %+v vs %+v", first.Stats, second.Stats)
	}
	if len(first.Directives) != 1 || first.Directives[0] != second.Directives[0] {
		t.Errorf("directives differ: %v vs %v", first.Directives, second.Directives)
	}
}

// =============================================================================
// SEARCH DIRECTIVES
// =============================================================================

func TestDecode_SearchDirectiveOncePerQuery(t *testing.T) {
	result, rec := decodeLines(t,
		content("Let me check <search>weather in Paris</search>."),
		content(" Again: <search>Weather in PARIS</search>"),
		`{"done":true}`,
	)

	if got := rec.queries(); len(got) != 1 || got[0] != "weather in Paris" {
		t.Errorf("directives = %v, want [weather in Paris]", got)
	}
	if len(result.Directives) != 1 {
		t.Errorf("result directives = %v", result.Directives)
	}
}

func TestDecode_SearchDirectiveSplitAcrossRecords(t *testing.T) {
	_, rec := decodeLines(t,
		content("<sea"),
		content("rch>golang release"),
		content(" notes</sear"),
		content("ch> done"),
		`{"done":true}`,
	)

	if got := rec.queries(); len(got) != 1 || got[0] != "golang release notes" {
		t.Errorf("directives = %v", got)
	}
}

func TestDecode_SearchDirectiveInReasoning(t *testing.T) {
	_, rec := decodeLines(t,
		`{"message":{"content":"","thinking":"I should <search>ollama api</search>"}}`,
		content("<search>second query</search>"),
		`{"done":true}`,
	)

	got := rec.queries()
	if len(got) != 2 || got[0] != "ollama api" || got[1] != "second query" {
		t.Errorf("directives = %v", got)
	}
}

func TestDirectiveScanner_IgnoresEmptyQuery(t *testing.T) {
	s := newDirectiveScanner()
	if got := s.scan("<search>   </search>"); len(got) != 0 {
		t.Errorf("scan() = %v, want none", got)
	}
}

// =============================================================================
// REDUCTION & STATISTICS
// =============================================================================

func TestDecode_FallbackWhenOnlyThinkSpans(t *testing.T) {
	result, _ := decodeLines(t,
		content("<think>only reasoning here</think>"),
		`{"done":true}`,
	)

	if result.Content != "" {
		t.Errorf("Content = %q, want empty", result.Content)
	}
	if result.Reasoning != "only reasoning here" {
		t.Errorf("Reasoning = %q", result.Reasoning)
	}
}

func TestDecode_UnclosedThinkSpan(t *testing.T) {
	result, _ := decodeLines(t, content("<think>still going"))

	if result.Content != "" {
		t.Errorf("Content = %q, want empty", result.Content)
	}
	if result.Reasoning != "still going" {
		t.Errorf("Reasoning = %q", result.Reasoning)
	}
}

func TestDecode_StatsFromServerCounters(t *testing.T) {
	result, _ := decodeLines(t,
		content("hello world"),
		`{"done":true,"eval_count":20,"eval_duration":2000000000,"prompt_eval_count":7}`,
	)

	s := result.Stats
	if s.TokenCount != 20 {
		t.Errorf("TokenCount = %d, want 20", s.TokenCount)
	}
	if s.TokensPerSecond != 10 {
		t.Errorf("TokensPerSecond = %v, want 10", s.TokensPerSecond)
	}
	if s.PromptTokens != 7 {
		t.Errorf("PromptTokens = %d, want 7", s.PromptTokens)
	}
	if s.Estimated {
		t.Error("Estimated = true for server counters")
	}
	if s.Model != "qwen3:1.7b" {
		t.Errorf("Model = %q", s.Model)
	}
}

func TestDecode_StatsEstimatedWithoutCounters(t *testing.T) {
	result, _ := decodeLines(t, content(strings.Repeat("a", 40)))

	s := result.Stats
	if s.TokenCount != 10 {
		t.Errorf("TokenCount = %d, want 10", s.TokenCount)
	}
	if !s.Estimated {
		t.Error("Estimated = false")
	}
	// fixedClock: start at +1s, first token at +2s, end at +3s.
	if s.TokensPerSecond != 10 {
		t.Errorf("TokensPerSecond = %v, want 10", s.TokensPerSecond)
	}
	if s.ElapsedSeconds != 2 {
		t.Errorf("ElapsedSeconds = %v, want 2", s.ElapsedSeconds)
	}
	if s.TTFTMillis != 1000 {
		t.Errorf("TTFTMillis = %d, want 1000", s.TTFTMillis)
	}
}

func TestDecode_StopsAtDone(t *testing.T) {
	result, rec := decodeLines(t,
		content("kept"),
		`{"done":true}`,
		content(" ignored"),
	)

	if result.Content != "kept" {
		t.Errorf("Content = %q", result.Content)
	}
	if rec.terminals() != 1 {
		t.Errorf("terminal events = %d, want 1", rec.terminals())
	}
}

// =============================================================================
// CANCELLATION & FAILURE
// =============================================================================

func TestDecode_CancelMidStream(t *testing.T) {
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{}

	cancelled := make(chan struct{})
	sink := func(ev Event) {
		rec.sink(ev)
		if ev.Kind == EventAnswerDelta {
			cancel()
			pw.CloseWithError(context.Canceled)
			close(cancelled)
		}
	}

	go func() {
		io.WriteString(pw, content("partial answer")+"\n")
	}()

	dec := NewDecoder(sink)
	result, err := dec.Decode(ctx, pr, RequestMeta{Model: "m"})
	<-cancelled

	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("ErrCancelled should match context.Canceled")
	}
	if result.Content != "partial answer" {
		t.Errorf("partial Content = %q", result.Content)
	}
	if rec.count(EventCancelled) != 1 || rec.count(EventFailed) != 0 {
		t.Errorf("events = %+v", rec.events)
	}
	last := rec.events[len(rec.events)-1]
	if last.Kind != EventCancelled {
		t.Errorf("last event = %v, want cancelled", last.Kind)
	}
	if dec.State().Phase != PhaseCancelled {
		t.Errorf("Phase = %v", dec.State().Phase)
	}
}

type failingReader struct {
	data string
	err  error
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.data == "" {
		return 0, f.err
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

func TestDecode_NetworkFailureMidStream(t *testing.T) {
	rec := &recorder{}
	dec := NewDecoder(rec.sink)
	body := &failingReader{data: content("half") + "\n", err: errors.New("connection reset")}

	_, err := dec.Decode(context.Background(), body, RequestMeta{})

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("err = %v, want NetworkError", err)
	}
	if rec.count(EventFailed) != 1 || rec.terminals() != 1 {
		t.Errorf("events = %+v", rec.events)
	}
	if dec.State().Phase != PhaseFailed {
		t.Errorf("Phase = %v", dec.State().Phase)
	}
}

func TestDecode_AlreadyCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &recorder{}

	result, err := NewDecoder(rec.sink).Decode(ctx, strings.NewReader(content("never")+"\n"), RequestMeta{})

	if !IsCancelled(err) {
		t.Fatalf("err = %v", err)
	}
	if !result.Empty() {
		t.Errorf("result = %+v, want empty", result)
	}
	if rec.count(EventAnswerDelta) != 0 {
		t.Error("deltas emitted after cancellation")
	}
}
