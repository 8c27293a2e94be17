// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package search runs the web lookups requested by <search> directives in
// model output.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MaxResults caps every result set.
const MaxResults = 5

// defaultUserAgent is sent when a provider has none configured.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// maxBody bounds provider responses.
const maxBody = 5 * 1024 * 1024

// Result is one hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Origin identifies the chat and generation whose directive asked for a
// lookup.
type Origin struct {
	ChatID       string `json:"chatId,omitempty"`
	GenerationID string `json:"generationId,omitempty"`
}

// ResultSet is what one lookup produced.
type ResultSet struct {
	Query    string   `json:"query"`
	Provider string   `json:"provider"`
	Results  []Result `json:"results"`
	Origin   Origin   `json:"origin"`
}

// Provider performs a lookup.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string) ([]Result, error)
}

// ErrMissingAPIKey is returned by keyed providers configured without a key.
var ErrMissingAPIKey = errors.New("search: API key required")

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider string
	Status   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("search: %s returned HTTP %d", e.Provider, e.Status)
}

// ProxiedURL prefixes target with proxy. An empty proxy leaves target as is.
func ProxiedURL(proxy, target string) string {
	proxy = strings.TrimSpace(proxy)
	if proxy == "" {
		return target
	}
	return proxy + target
}

// Options holds what every provider shares.
type Options struct {
	// Proxy is prepended to every outbound URL.
	Proxy     string
	UserAgent string
	Client    *http.Client
}

func (o Options) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return &http.Client{Timeout: 15 * time.Second}
}

// get fetches target through the proxy and returns at most maxBody bytes.
func (o Options) get(ctx context.Context, provider, target string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ProxiedURL(o.Proxy, target), nil)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	ua := o.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := o.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: %s: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, &StatusError{Provider: provider, Status: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBody))
}

func capResults(results []Result) []Result {
	if len(results) > MaxResults {
		return results[:MaxResults]
	}
	return results
}
