// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-web/internal/attachment"
	"github.com/jeranaias/rigrun-web/internal/model"
	"github.com/jeranaias/rigrun-web/internal/ollama"
	"github.com/jeranaias/rigrun-web/internal/session"
	"github.com/jeranaias/rigrun-web/internal/storage"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeModels struct {
	pingErr error
	models  []model.ModelInfo
	listErr error
}

func (f *fakeModels) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeModels) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	return f.models, f.listErr
}

func (f *fakeModels) Capabilities(ctx context.Context, name string) (model.Capabilities, error) {
	if name == "missing" {
		return model.Capabilities{}, &ollama.HTTPError{Status: http.StatusNotFound, Body: "model not found"}
	}
	return model.Capabilities{Vision: name == "llava"}, nil
}

type streamFunc func(ctx context.Context, req *api.ChatRequest, sink ollama.EventSink) (*ollama.ReducedResult, error)

type fakeClient struct{ stream streamFunc }

func (f *fakeClient) StreamChat(ctx context.Context, req *api.ChatRequest, sink ollama.EventSink) (*ollama.ReducedResult, error) {
	return f.stream(ctx, req, sink)
}

func reply(content string) streamFunc {
	return func(ctx context.Context, req *api.ChatRequest, sink ollama.EventSink) (*ollama.ReducedResult, error) {
		sink(ollama.Event{Kind: ollama.EventAnswerDelta, Text: content})
		res := &ollama.ReducedResult{Content: content, Stats: model.Stats{TokenCount: 2, Model: req.Model}}
		sink(ollama.Event{Kind: ollama.EventCompleted, Result: res})
		return res, nil
	}
}

func blocking(started chan<- struct{}) streamFunc {
	return func(ctx context.Context, req *api.ChatRequest, sink ollama.EventSink) (*ollama.ReducedResult, error) {
		close(started)
		<-ctx.Done()
		res := &ollama.ReducedResult{}
		sink(ollama.Event{Kind: ollama.EventCancelled, Result: res})
		return res, ollama.ErrCancelled
	}
}

type fixture struct {
	srv    *Server
	ctrl   *session.Controller
	prefs  *storage.PreferenceStore
	chats  *storage.ChatStore
	models *fakeModels
}

func newFixture(t *testing.T, stream streamFunc) *fixture {
	t.Helper()
	kv := storage.NewMemoryKV()
	chats := storage.NewChatStore(kv)
	prefs := storage.NewPreferenceStore(kv)
	require.NoError(t, prefs.Load())
	_, err := prefs.Set("model", "qwen3:1.7b")
	require.NoError(t, err)

	ctrl := session.New(session.Config{
		Client:      &fakeClient{stream: stream},
		Chats:       chats,
		Prefs:       prefs,
		Attachments: attachment.NewProcessor(nil),
	})
	models := &fakeModels{models: []model.ModelInfo{{Name: "qwen3:1.7b"}, {Name: "llava"}}}
	srv := New(Options{Version: "test"}, ctrl, models, prefs)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ctrl.Close()
	})
	return &fixture{srv: srv, ctrl: ctrl, prefs: prefs, chats: chats, models: models}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func waitIdle(t *testing.T, ctrl *session.Controller) *model.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := ctrl.Wait(ctx)
	require.NoError(t, err)
	return msg
}

// =============================================================================
// HEALTH & MODELS
// =============================================================================

func TestHealth(t *testing.T) {
	f := newFixture(t, reply("ok"))

	rec := f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["ok"])

	f.models.pingErr = &ollama.NetworkError{Op: "ping", Err: errors.New("connection refused")}
	rec = f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unreachable", decode(t, rec)["ollama"])
}

func TestModels(t *testing.T) {
	f := newFixture(t, reply("ok"))

	rec := f.do(t, http.MethodGet, "/api/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Len(t, body["models"], 2)
	assert.Equal(t, "qwen3:1.7b", body["selected"])

	f.models.listErr = &ollama.NetworkError{Op: "list models", Err: errors.New("connection refused")}
	rec = f.do(t, http.MethodGet, "/api/models", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCapabilities(t *testing.T) {
	f := newFixture(t, reply("ok"))

	rec := f.do(t, http.MethodGet, "/api/models/llava/capabilities", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	caps := decode(t, rec)["capabilities"].(map[string]any)
	assert.Equal(t, true, caps["vision"])

	rec = f.do(t, http.MethodGet, "/api/models/missing/capabilities", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// CHATS
// =============================================================================

func TestChats_CreateLoadDelete(t *testing.T) {
	f := newFixture(t, reply("ok"))

	rec := f.do(t, http.MethodPost, "/api/chats", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode(t, rec)["id"].(string)
	require.NotEmpty(t, id)

	rec = f.do(t, http.MethodGet, "/api/chats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Len(t, body["chats"], 1)
	assert.Equal(t, id, body["activeId"])

	rec = f.do(t, http.MethodGet, "/api/chats/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/chats/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/chats/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, f.chats.Len())
}

// =============================================================================
// GENERATION
// =============================================================================

func TestSend_AcceptedAndRendered(t *testing.T) {
	f := newFixture(t, reply("**done**"))

	rec := f.do(t, http.MethodPost, "/api/messages", map[string]string{"text": "hello"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decode(t, rec)
	assert.NotEmpty(t, body["generationId"])
	chatID := body["chatId"].(string)

	msg := waitIdle(t, f.ctrl)
	assert.Equal(t, "**done**", msg.Content)

	rec = f.do(t, http.MethodGet, "/api/chats/"+chatID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var chat renderedChat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chat))
	require.Len(t, chat.Messages, 2)
	assert.Contains(t, chat.Messages[1].HTML, "<strong>done</strong>")
	assert.Contains(t, chat.Messages[1].StatsLine, "2 tokens")
}

func TestExportChat(t *testing.T) {
	f := newFixture(t, reply("**done**"))

	rec := f.do(t, http.MethodPost, "/api/messages", map[string]string{"text": "hello"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	chatID := decode(t, rec)["chatId"].(string)
	waitIdle(t, f.ctrl)

	rec = f.do(t, http.MethodGet, "/api/chats/"+chatID+"/export?format=md", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/markdown")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".md")
	assert.Contains(t, rec.Body.String(), "**done**")

	rec = f.do(t, http.MethodGet, "/api/chats/"+chatID+"/export?format=html", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<strong>done</strong>")

	rec = f.do(t, http.MethodGet, "/api/chats/"+chatID+"/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/chats/nope/export", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	empty := f.do(t, http.MethodPost, "/api/chats", nil)
	emptyID := decode(t, empty)["id"].(string)
	rec = f.do(t, http.MethodGet, "/api/chats/"+emptyID+"/export", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSend_Validation(t *testing.T) {
	f := newFixture(t, reply("ok"))

	rec := f.do(t, http.MethodPost, "/api/messages", map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, err := f.prefs.Set("model", "")
	require.NoError(t, err)
	rec = f.do(t, http.MethodPost, "/api/messages", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader("{"))
	rr := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSend_BusyThenCancel(t *testing.T) {
	started := make(chan struct{})
	f := newFixture(t, blocking(started))

	rec := f.do(t, http.MethodPost, "/api/messages", map[string]string{"text": "one"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	<-started

	rec = f.do(t, http.MethodPost, "/api/messages", map[string]string{"text": "two"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/cancel", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	msg := waitIdle(t, f.ctrl)
	assert.Equal(t, session.CancelledMarker, msg.Content)

	rec = f.do(t, http.MethodPost, "/api/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

func TestUpload(t *testing.T) {
	f := newFixture(t, reply("ok"))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("files", "notes.txt")
	require.NoError(t, err)
	part.Write([]byte("some notes"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/attachments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	atts := decode(t, rec)["attachments"].([]any)
	require.Len(t, atts, 1)
	assert.Equal(t, "notes.txt", atts[0].(map[string]any)["name"])
	assert.Len(t, f.ctrl.PendingAttachments(), 1)

	rec = f.do(t, http.MethodDelete, "/api/attachments", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.ctrl.PendingAttachments())
}

func TestUpload_NoFiles(t *testing.T) {
	f := newFixture(t, reply("ok"))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/attachments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// PREFERENCES
// =============================================================================

func TestPreferences(t *testing.T) {
	f := newFixture(t, reply("ok"))

	rec := f.do(t, http.MethodGet, "/api/preferences", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "contrast-dark", decode(t, rec)["theme"])

	rec = f.do(t, http.MethodPut, "/api/preferences", map[string]any{"theme": "sepia", "compactMode": true, "version": "1.0"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sepia", f.prefs.Get().Theme)
	assert.True(t, f.prefs.Get().CompactMode)

	rec = f.do(t, http.MethodPut, "/api/preferences", map[string]any{"theme": "neon"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "sepia", f.prefs.Get().Theme)

	rec = f.do(t, http.MethodPut, "/api/preferences", map[string]any{"bogus": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/preferences/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, storage.DefaultPreferences(), f.prefs.Get())
}

// =============================================================================
// IMPORT / EXPORT
// =============================================================================

func TestExportHistory(t *testing.T) {
	f := newFixture(t, reply("ok"))
	_, err := f.ctrl.NewChat()
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/export/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), historyFilename)
	assert.Len(t, decode(t, rec)["chats"], 1)

	rec = f.do(t, http.MethodGet, "/api/export/preferences", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), preferencesFilename)
}

func TestImportHistory(t *testing.T) {
	f := newFixture(t, reply("ok"))

	req := httptest.NewRequest(http.MethodPost, "/api/import/history", strings.NewReader(`{"version":"1.0"}`))
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	doc := `{"chats":[{"id":"1700000000000","title":"Imported","messages":[]}]}`
	req = httptest.NewRequest(http.MethodPost, "/api/import/history", strings.NewReader(doc))
	rec = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["imported"])
	assert.Equal(t, "1700000000000", body["activeId"])
}

func TestClear(t *testing.T) {
	f := newFixture(t, reply("ok"))
	_, err := f.ctrl.NewChat()
	require.NoError(t, err)
	_, err = f.prefs.Set("theme", "light")
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, f.chats.Len())
	assert.Equal(t, "contrast-dark", f.prefs.Get().Theme)
}

// =============================================================================
// MIDDLEWARE & STATIC
// =============================================================================

func TestLocalOrigin(t *testing.T) {
	f := newFixture(t, reply("ok"))

	req := httptest.NewRequest(http.MethodPost, "/api/chats", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/chats", nil)
	req.Header.Set("Origin", "http://localhost:8080")
	rec = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	f := newFixture(t, reply("ok"))

	rec := f.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'self'")
	assert.Contains(t, rec.Body.String(), "/static/app.js")
}

func TestStaticAssets(t *testing.T) {
	f := newFixture(t, reply("ok"))

	rec := f.do(t, http.MethodGet, "/static/code.css", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/css")
	assert.Contains(t, rec.Body.String(), ".chroma")

	rec = f.do(t, http.MethodGet, "/static/app.js", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// EVENTS
// =============================================================================

func TestSSE_StateThenEvents(t *testing.T) {
	f := newFixture(t, reply("ok"))
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, map[string]any) {
		var name string
		var data map[string]any
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &data))
			case line == "" && name != "":
				return name, data
			}
		}
	}

	name, _ := readEvent()
	assert.Equal(t, "state", name)

	_, err = f.ctrl.NewChat()
	require.NoError(t, err)
	name, data := readEvent()
	assert.Equal(t, string(session.EventChat), name)
	assert.Len(t, data["chats"], 1)
}

func TestRenderEvent_DropsPayloads(t *testing.T) {
	ev := renderEvent(session.Event{
		Type:        session.EventAttachments,
		Attachments: []model.Attachment{{Kind: model.AttachmentImage, Name: "a.png", Payload: "AAAA"}},
	})
	assert.Nil(t, ev.Attachments)
	require.Len(t, ev.Pending, 1)
	assert.Equal(t, 4, ev.Pending[0].Size)

	ev = renderEvent(session.Event{Type: session.EventAnswer, Delta: "`", Answer: "`x`", Reasoning: "hm"})
	assert.Contains(t, ev.HTML, "<code")
	assert.Contains(t, ev.ReasoningHTML, "hm")
	assert.Empty(t, ev.Answer)
	assert.Empty(t, ev.Reasoning)
	assert.Empty(t, ev.Delta)
}

func TestLiveThrottle(t *testing.T) {
	start := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	at := func(ms int) time.Time { return start.Add(time.Duration(ms) * time.Millisecond) }
	delta := func(total string) session.Event {
		return session.Event{Type: session.EventAnswer, GenerationID: "g", Answer: total}
	}
	th := newLiveThrottle(80 * time.Millisecond)

	out := th.offer(delta("a"), at(0))
	require.Len(t, out, 1, "first delta renders at once")

	assert.Empty(t, th.offer(delta("ab"), at(10)))
	assert.Empty(t, th.offer(delta("abc"), at(20)))
	_, ok := th.flush(at(50))
	assert.False(t, ok, "interval not yet passed")

	ev, ok := th.flush(at(90))
	require.True(t, ok)
	assert.Equal(t, "abc", ev.Answer, "only the newest total is rendered")
	_, ok = th.flush(at(200))
	assert.False(t, ok)

	// A held delta is superseded by the outcome of its generation.
	assert.Empty(t, th.offer(delta("abcd"), at(100)))
	out = th.offer(session.Event{Type: session.EventCompleted, GenerationID: "g"}, at(110))
	require.Len(t, out, 1)
	assert.Equal(t, session.EventCompleted, out[0].Type)

	// Other events keep their order behind a held delta.
	th.offer(delta("x"), at(300))
	assert.Empty(t, th.offer(delta("xy"), at(310)))
	out = th.offer(session.Event{Type: session.EventSearchQueued, GenerationID: "g", Query: "q"}, at(320))
	require.Len(t, out, 2)
	assert.Equal(t, "xy", out[0].Answer)
	assert.Equal(t, session.EventSearchQueued, out[1].Type)
}

func TestLiveThrottle_LongReplyRendersBoundedTimes(t *testing.T) {
	start := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	th := newLiveThrottle(80 * time.Millisecond)

	rendered := 0
	total := ""
	// 2000 deltas one millisecond apart.
	for i := 0; i < 2000; i++ {
		total += "w"
		now := start.Add(time.Duration(i) * time.Millisecond)
		rendered += len(th.offer(session.Event{Type: session.EventAnswer, GenerationID: "g", Answer: total}, now))
		if _, ok := th.flush(now); ok {
			rendered++
		}
	}
	assert.LessOrEqual(t, rendered, 2000/80+1)
}
