// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/text/cases"
	"golang.org/x/time/rate"
)

// queueSize bounds pending lookups. Submissions beyond it are dropped.
const queueSize = 32

// SideChannelConfig wires a SideChannel.
type SideChannelConfig struct {
	// Provider is consulted per lookup so preference changes apply at once.
	// A nil provider skips the lookup.
	Provider func() Provider
	// Publish receives every successful, non-empty result set.
	Publish func(ResultSet)
	// Timeout bounds one lookup. Zero means 10s.
	Timeout time.Duration
	// RatePerSecond limits outbound lookups. Zero means unlimited.
	RatePerSecond float64
}

type job struct {
	query  string
	origin Origin
}

// SideChannel deduplicates search directives for the life of the process and
// runs the surviving lookups on one background worker.
type SideChannel struct {
	cfg     SideChannelConfig
	fold    cases.Caser
	limiter *rate.Limiter

	mu   sync.Mutex
	seen map[string]struct{}

	queue chan job
	wg    sync.WaitGroup
}

// NewSideChannel returns a channel ready for Start.
func NewSideChannel(cfg SideChannelConfig) *SideChannel {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &SideChannel{
		cfg:     cfg,
		fold:    cases.Fold(),
		limiter: rate.NewLimiter(limit, 1),
		seen:    make(map[string]struct{}),
		queue:   make(chan job, queueSize),
	}
}

// Start runs the worker until ctx ends.
func (s *SideChannel) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case j := <-s.queue:
				s.lookup(ctx, j)
			}
		}
	}()
}

// Wait blocks until the worker has exited.
func (s *SideChannel) Wait() {
	s.wg.Wait()
}

// normalize is the dedup key: trimmed and Unicode case-folded. A Caser is
// stateful, so callers hold s.mu.
func (s *SideChannel) normalize(query string) string {
	return s.fold.String(strings.TrimSpace(query))
}

// Submit queues query unless an equivalent query was queued before. It
// reports whether a lookup was queued. A query turned away by a full queue
// is not remembered, so a later directive can still run it.
func (s *SideChannel) Submit(query string, origin Origin) bool {
	query = strings.TrimSpace(query)

	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.normalize(query)
	if key == "" {
		return false
	}
	if _, dup := s.seen[key]; dup {
		log.Debug("SEARCH_DUPLICATE", "query", query)
		return false
	}

	select {
	case s.queue <- job{query: query, origin: origin}:
		s.seen[key] = struct{}{}
		log.Debug("SEARCH_QUEUED", "query", query, "chat", origin.ChatID)
		return true
	default:
		log.Warn("SEARCH_QUEUE_FULL", "query", query)
		return false
	}
}

// Seen reports whether an equivalent query was already submitted.
func (s *SideChannel) Seen(query string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[s.normalize(query)]
	return ok
}

func (s *SideChannel) lookup(ctx context.Context, j job) {
	var provider Provider
	if s.cfg.Provider != nil {
		provider = s.cfg.Provider()
	}
	if provider == nil {
		return
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	started := time.Now()
	results, err := provider.Search(lookupCtx, j.query)
	if err != nil {
		log.Warn("SEARCH_FAILED", "provider", provider.Name(), "query", j.query, "err", err)
		return
	}
	results = capResults(results)
	log.Info("SEARCH_DONE", "provider", provider.Name(), "query", j.query,
		"results", len(results), "ms", time.Since(started).Milliseconds())

	if len(results) == 0 || s.cfg.Publish == nil {
		return
	}
	s.cfg.Publish(ResultSet{Query: j.query, Provider: provider.Name(), Results: results, Origin: j.origin})
}

// NewProvider maps preference values onto a provider. Unknown engines fall
// back to DuckDuckGo.
func NewProvider(engine, apiKey string, opts Options) Provider {
	switch strings.ToLower(engine) {
	case "brave":
		return NewBrave(apiKey, opts)
	default:
		return NewDuckDuckGo(opts)
	}
}
