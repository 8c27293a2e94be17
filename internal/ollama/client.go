// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ollama/ollama/api"

	"github.com/jeranaias/rigrun-web/internal/model"
)

// maxErrorBody caps how much of a failed response is kept for the message.
const maxErrorBody = 64 * 1024

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: http://127.0.0.1:11434)
	// Note: Uses explicit IPv4 address instead of localhost to avoid IPv6 resolution issues on Windows
	BaseURL string

	// Timeout for non-streaming requests (default: 30s). Streams are bounded
	// only by the caller's context.
	Timeout time.Duration
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL: "http://127.0.0.1:11434",
		Timeout: 30 * time.Second,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client speaks the Ollama chat, tags and show endpoints.
// The Client is safe for concurrent use.
type Client struct {
	config       *ClientConfig
	httpClient   *http.Client
	streamClient *http.Client
	now          func() time.Time
}

// NewClient creates a new Ollama client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new Ollama client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:11434"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		// SECURITY: TLS not required - Ollama runs locally on localhost (127.0.0.1) over HTTP
		streamClient: &http.Client{},
		now:          time.Now,
	}
}

// BaseURL returns the configured server URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// Ping verifies that the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, c.httpClient, http.MethodGet, "/", nil, "ping")
	if err != nil {
		return err
	}
	drainAndClose(resp.Body)
	return nil
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels returns the locally available models in server order.
func (c *Client) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	resp, err := c.do(ctx, c.httpClient, http.MethodGet, "/api/tags", nil, "list models")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result api.ListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Message: "failed to decode model list", Cause: err}
	}

	models := make([]model.ModelInfo, 0, len(result.Models))
	for _, m := range result.Models {
		models = append(models, model.ModelInfo{Name: m.Name, Size: m.Size})
	}
	return models, nil
}

// Capabilities probes what a model supports via /api/show.
func (c *Client) Capabilities(ctx context.Context, name string) (model.Capabilities, error) {
	body, err := json.Marshal(api.ShowRequest{Model: name})
	if err != nil {
		return model.Capabilities{}, &ClientError{Message: "failed to marshal request", Cause: err}
	}

	resp, err := c.do(ctx, c.httpClient, http.MethodPost, "/api/show", body, "show model")
	if err != nil {
		return model.Capabilities{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Capabilities{}, &NetworkError{Op: "show model", Err: err}
	}
	return ParseCapabilities(raw), nil
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// StreamChat posts req to /api/chat and decodes the response, reporting
// events to sink in arrival order. Exactly one terminal event is emitted.
func (c *Client) StreamChat(ctx context.Context, req *api.ChatRequest, sink EventSink) (*ReducedResult, error) {
	if sink == nil {
		sink = func(Event) {}
	}
	started := c.now()

	stream := true
	req.Stream = &stream
	body, err := json.Marshal(req)
	if err != nil {
		err = &ClientError{Message: "failed to marshal request", Cause: err}
		sink(Event{Kind: EventFailed, Err: err})
		return nil, err
	}

	log.Debug("CHAT_REQUEST", "model", req.Model, "messages", len(req.Messages))

	resp, err := c.do(ctx, c.streamClient, http.MethodPost, "/api/chat", body, "chat")
	if err != nil {
		if IsCancelled(err) {
			sink(Event{Kind: EventCancelled, Result: &ReducedResult{}})
			return &ReducedResult{}, ErrCancelled
		}
		sink(Event{Kind: EventFailed, Err: err})
		return nil, err
	}
	defer resp.Body.Close()

	dec := NewDecoder(sink)
	dec.now = c.now
	return dec.Decode(ctx, resp.Body, RequestMeta{Model: req.Model, StartedAt: started})
}

// =============================================================================
// TRANSPORT
// =============================================================================

// do sends a request and maps failures onto the error taxonomy: context
// cancellation becomes ErrCancelled, transport failures NetworkError and
// non-2xx answers HTTPError.
func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, body []byte, op string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return nil, &ClientError{Message: "failed to create request", Cause: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return nil, ErrCancelled
		}
		return nil, &NetworkError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, &HTTPError{Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}
	return resp, nil
}

// readErrorBody returns the leading part of a failed response body.
func readErrorBody(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(raw))
}

// Helper to drain response body
func drainAndClose(r io.ReadCloser) {
	io.Copy(io.Discard, r)
	r.Close()
}
