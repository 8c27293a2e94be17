// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"
)

const (
	// DuckDuckGoAPI is the instant-answer endpoint.
	DuckDuckGoAPI = "https://api.duckduckgo.com/"
	// DuckDuckGoHTML is the script-free results page used as fallback.
	DuckDuckGoHTML = "https://html.duckduckgo.com/html/"
)

// DuckDuckGo is the key-free provider. It asks the instant-answer API first
// and scrapes the HTML results page when that has nothing.
type DuckDuckGo struct {
	Options
	APIEndpoint  string
	HTMLEndpoint string
}

// NewDuckDuckGo returns the provider with the public endpoints.
func NewDuckDuckGo(opts Options) *DuckDuckGo {
	return &DuckDuckGo{Options: opts, APIEndpoint: DuckDuckGoAPI, HTMLEndpoint: DuckDuckGoHTML}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

// Search implements Provider.
func (d *DuckDuckGo) Search(ctx context.Context, query string) ([]Result, error) {
	results, err := d.instantAnswer(ctx, query)
	if err != nil {
		log.Debug("SEARCH_INSTANT_ANSWER_FAILED", "query", query, "err", err)
	}
	if len(results) > 0 {
		return capResults(results), nil
	}
	if d.HTMLEndpoint == "" {
		return nil, err
	}
	return d.htmlResults(ctx, query)
}

func (d *DuckDuckGo) instantAnswer(ctx context.Context, query string) ([]Result, error) {
	params := url.Values{
		"q":             {query},
		"format":        {"json"},
		"no_html":       {"1"},
		"skip_disambig": {"1"},
	}
	body, err := d.get(ctx, d.Name(), d.APIEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return parseInstantAnswer(body), nil
}

// parseInstantAnswer reads the abstract and then the related topics,
// flattening grouped topics.
func parseInstantAnswer(body []byte) []Result {
	if !gjson.ValidBytes(body) {
		return nil
	}
	doc := gjson.ParseBytes(body)

	var results []Result
	if text := doc.Get("AbstractText").String(); text != "" {
		title := doc.Get("Heading").String()
		if title == "" {
			title = doc.Get("AbstractSource").String()
		}
		results = append(results, Result{Title: title, URL: doc.Get("AbstractURL").String(), Snippet: text})
	}

	var walk func(topics gjson.Result)
	walk = func(topics gjson.Result) {
		topics.ForEach(func(_, topic gjson.Result) bool {
			if nested := topic.Get("Topics"); nested.IsArray() {
				walk(nested)
				return len(results) < MaxResults
			}
			text := topic.Get("Text").String()
			link := topic.Get("FirstURL").String()
			if text == "" || link == "" {
				return true
			}
			title, _, _ := strings.Cut(text, " - ")
			results = append(results, Result{Title: title, URL: link, Snippet: text})
			return len(results) < MaxResults
		})
	}
	walk(doc.Get("RelatedTopics"))
	return capResults(results)
}

func (d *DuckDuckGo) htmlResults(ctx context.Context, query string) ([]Result, error) {
	header := http.Header{"Accept": {"text/html,application/xhtml+xml"}}
	body, err := d.get(ctx, d.Name(), d.HTMLEndpoint+"?q="+url.QueryEscape(query), header)
	if err != nil {
		return nil, err
	}
	return parseResultsPage(body)
}

// parseResultsPage extracts hits from the HTML results page:
//
//	<div class="result">
//	  <a class="result__a" href="//duckduckgo.com/l/?uddg=URL">Title</a>
//	  <a class="result__snippet">Snippet</a>
//	</div>
func parseResultsPage(body []byte) ([]Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var results []Result
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		link := s.Find("a.result__a").First()
		href, _ := link.Attr("href")
		target := extractActualURL(href)
		title := collapse(link.Text())
		if target == "" || title == "" {
			return true
		}
		results = append(results, Result{
			Title:   title,
			URL:     target,
			Snippet: collapse(s.Find(".result__snippet").First().Text()),
		})
		return len(results) < MaxResults
	})
	return results, nil
}

// extractActualURL unwraps DuckDuckGo's //duckduckgo.com/l/?uddg= redirect.
func extractActualURL(href string) string {
	if strings.Contains(href, "uddg=") {
		if strings.HasPrefix(href, "//") {
			href = "https:" + href
		}
		parsed, err := url.Parse(href)
		if err != nil {
			return ""
		}
		if target := parsed.Query().Get("uddg"); target != "" {
			return target
		}
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
