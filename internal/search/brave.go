// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
)

// BraveAPI is the Brave web search endpoint.
const BraveAPI = "https://api.search.brave.com/res/v1/web/search"

// Brave is the keyed provider.
type Brave struct {
	Options
	APIKey   string
	Endpoint string
}

// NewBrave returns the provider with the public endpoint.
func NewBrave(apiKey string, opts Options) *Brave {
	return &Brave{Options: opts, APIKey: apiKey, Endpoint: BraveAPI}
}

func (b *Brave) Name() string { return "brave" }

// Search implements Provider.
func (b *Brave) Search(ctx context.Context, query string) ([]Result, error) {
	if strings.TrimSpace(b.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	params := url.Values{"q": {query}, "count": {strconv.Itoa(MaxResults)}}
	header := http.Header{
		"Accept":               {"application/json"},
		"X-Subscription-Token": {b.APIKey},
	}
	body, err := b.get(ctx, b.Name(), b.Endpoint+"?"+params.Encode(), header)
	if err != nil {
		return nil, err
	}

	var results []Result
	gjson.GetBytes(body, "web.results").ForEach(func(_, r gjson.Result) bool {
		link := r.Get("url").String()
		if link == "" {
			return true
		}
		results = append(results, Result{
			Title:   stripMarkup(r.Get("title").String()),
			URL:     link,
			Snippet: stripMarkup(r.Get("description").String()),
		})
		return len(results) < MaxResults
	})
	return results, nil
}

// stripMarkup drops the <strong> highlighting Brave puts in snippets.
func stripMarkup(s string) string {
	if !strings.Contains(s, "<") && !strings.Contains(s, "&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return collapse(doc.Text())
}
