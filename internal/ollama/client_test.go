// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/jeranaias/rigrun-web/internal/model"
)

func newTestClient(url string) *Client {
	return NewClientWithConfig(&ClientConfig{BaseURL: url, Timeout: 5 * time.Second})
}

// =============================================================================
// MODEL DISCOVERY
// =============================================================================

func TestClient_ListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		io.WriteString(w, `{"models":[{"name":"qwen3:1.7b","size":1500000000},{"name":"llava:7b"}]}`)
	}))
	defer srv.Close()

	models, err := newTestClient(srv.URL).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 2 || models[0].Name != "qwen3:1.7b" || models[1].Name != "llava:7b" {
		t.Errorf("models = %+v", models)
	}
	if models[0].Size != 1500000000 {
		t.Errorf("Size = %d", models[0].Size)
	}
}

func TestClient_ListModelsServerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).ListModels(context.Background())
	if !IsNotRunning(err) {
		t.Errorf("err = %v, want NetworkError", err)
	}
}

func TestClient_Capabilities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model != "llava:7b" {
			t.Errorf("show request model = %q err = %v", req.Model, err)
		}
		io.WriteString(w, `{"details":{"family":"llava"},"model_info":{"Capabilities":["vision"]},"capabilities":["completion","think"]}`)
	}))
	defer srv.Close()

	caps, err := newTestClient(srv.URL).Capabilities(context.Background(), "llava:7b")
	if err != nil {
		t.Fatalf("Capabilities() error = %v", err)
	}
	want := model.Capabilities{Vision: true, Thinking: true}
	if caps != want {
		t.Errorf("caps = %+v, want %+v", caps, want)
	}
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

func TestClient_StreamChat(t *testing.T) {
	var got api.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		io.WriteString(w, `{"model":"qwen3:1.7b","message":{"role":"assistant","content":"<think>hmm</think>"},"done":false}`+"\n")
		io.WriteString(w, `{"model":"qwen3:1.7b","message":{"role":"assistant","content":"Hi!"},"done":false}`+"\n")
		io.WriteString(w, `{"model":"qwen3:1.7b","message":{"role":"assistant","content":""},"done":true,"eval_count":3,"eval_duration":1500000000}`+"\n")
	}))
	defer srv.Close()

	req, err := BuildChatRequest(ChatInput{
		Model:      "qwen3:1.7b",
		History:    []*model.Message{model.NewUserMessage("hello")},
		UseContext: true,
	})
	if err != nil {
		t.Fatalf("BuildChatRequest() error = %v", err)
	}

	rec := &recorder{}
	result, err := newTestClient(srv.URL).StreamChat(context.Background(), req, rec.sink)
	if err != nil {
		t.Fatalf("StreamChat() error = %v", err)
	}

	if got.Model != "qwen3:1.7b" || got.Stream == nil || !*got.Stream {
		t.Errorf("request = %+v", got)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "hello" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if result.Content != "Hi!" || result.Reasoning != "hmm" {
		t.Errorf("result = %+v", result)
	}
	if result.Stats.TokenCount != 3 || result.Stats.TokensPerSecond != 2 {
		t.Errorf("stats = %+v", result.Stats)
	}
	if rec.count(EventCompleted) != 1 {
		t.Errorf("events = %+v", rec.events)
	}
}

func TestClient_StreamChatHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"model \"nope\" not found, try pulling it first"}`)
	}))
	defer srv.Close()

	rec := &recorder{}
	_, err := newTestClient(srv.URL).StreamChat(context.Background(), &api.ChatRequest{Model: "nope"}, rec.sink)

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want HTTPError", err)
	}
	if httpErr.Status != 404 || httpErr.Body == "" {
		t.Errorf("httpErr = %+v", httpErr)
	}
	if !IsModelNotFound(err) {
		t.Error("IsModelNotFound() = false")
	}
	if rec.count(EventFailed) != 1 || rec.terminals() != 1 {
		t.Errorf("events = %+v", rec.events)
	}
}

func TestClient_StreamChatUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	rec := &recorder{}
	_, err := newTestClient(url).StreamChat(context.Background(), &api.ChatRequest{Model: "m"}, rec.sink)

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("err = %v, want NetworkError", err)
	}
	if rec.count(EventFailed) != 1 {
		t.Errorf("events = %+v", rec.events)
	}
}

func TestClient_StreamChatCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"message":{"content":"partial"}}`+"\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	sink := func(ev Event) {
		rec.sink(ev)
		if ev.Kind == EventAnswerDelta {
			cancel()
		}
	}

	result, err := newTestClient(srv.URL).StreamChat(ctx, &api.ChatRequest{Model: "m"}, sink)
	if !IsCancelled(err) {
		t.Fatalf("err = %v, want cancellation", err)
	}
	if result == nil || result.Content != "partial" {
		t.Errorf("result = %+v", result)
	}
	if rec.count(EventCancelled) != 1 || rec.count(EventFailed) != 0 {
		t.Errorf("events = %+v", rec.events)
	}
}

// =============================================================================
// CAPABILITIES
// =============================================================================

func TestParseCapabilities(t *testing.T) {
	tests := []struct {
		name string
		body string
		want model.Capabilities
	}{
		{"top level", `{"capabilities":["completion","vision","tools"]}`, model.Capabilities{Vision: true, Tools: true}},
		{"nested any case", `{"a":{"b":[{"CAPABILITIES":["Thinking"]}]}}`, model.Capabilities{Thinking: true}},
		{"singular aliases", `{"capabilities":["tool","think"]}`, model.Capabilities{Tools: true, Thinking: true}},
		{"missing", `{"details":{"family":"qwen3"}}`, model.Capabilities{}},
		{"not an array", `{"capabilities":"vision"}`, model.Capabilities{}},
		{"invalid json", `not json`, model.Capabilities{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseCapabilities([]byte(tc.body)); got != tc.want {
				t.Errorf("ParseCapabilities() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

// =============================================================================
// REQUEST BUILDING
// =============================================================================

func TestBuildChatRequest_ContextPolicy(t *testing.T) {
	history := []*model.Message{
		model.NewUserMessage("first"),
		model.NewAssistantMessage("reply", "thoughts", nil),
		model.NewUserMessage("second"),
	}

	withCtx, err := BuildChatRequest(ChatInput{Model: "m", History: history, UseContext: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(withCtx.Messages) != 3 || withCtx.Messages[1].Content != "reply" {
		t.Errorf("with context = %+v", withCtx.Messages)
	}

	without, err := BuildChatRequest(ChatInput{Model: "m", History: history, UseContext: false})
	if err != nil {
		t.Fatal(err)
	}
	if len(without.Messages) != 1 || without.Messages[0].Content != "second" {
		t.Errorf("without context = %+v", without.Messages)
	}
	if without.Stream == nil || !*without.Stream {
		t.Error("stream must be true")
	}
}

func TestBuildChatRequest_ImagesOnTrailingUser(t *testing.T) {
	img := base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G'})
	history := []*model.Message{model.NewUserMessage("what is this?")}

	req, err := BuildChatRequest(ChatInput{Model: "m", History: history, Images: []string{img}, UseContext: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(req.Messages) != 1 || len(req.Messages[0].Images) != 1 {
		t.Fatalf("messages = %+v", req.Messages)
	}
	if string(req.Messages[0].Images[0]) != "\x89PNG" {
		t.Errorf("image bytes = %q", req.Messages[0].Images[0])
	}
}

func TestBuildChatRequest_SyntheticUserTurnForImages(t *testing.T) {
	img := base64.StdEncoding.EncodeToString([]byte("gif"))
	history := []*model.Message{
		model.NewUserMessage("q"),
		model.NewAssistantMessage("a", "", nil),
	}

	req, err := BuildChatRequest(ChatInput{Model: "m", History: history, Images: []string{img}, UseContext: true})
	if err != nil {
		t.Fatal(err)
	}
	last := req.Messages[len(req.Messages)-1]
	if len(req.Messages) != 3 || last.Role != "user" || last.Content != "" || len(last.Images) != 1 {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestBuildChatRequest_TextAttachmentsInPrompt(t *testing.T) {
	history := []*model.Message{model.NewUserMessage("summarise",
		model.Attachment{Kind: model.AttachmentText, Name: "notes.txt", Payload: "alpha"})}

	req, err := BuildChatRequest(ChatInput{Model: "m", History: history})
	if err != nil {
		t.Fatal(err)
	}
	if want := "summarise\n\n[Attachment: notes.txt]\nalpha\n[End of attachment]"; req.Messages[0].Content != want {
		t.Errorf("content = %q", req.Messages[0].Content)
	}
}

func TestBuildChatRequest_InvalidImage(t *testing.T) {
	_, err := BuildChatRequest(ChatInput{Model: "m", Images: []string{"!!not base64!!"}})
	if err == nil {
		t.Error("expected error for invalid base64")
	}
}
