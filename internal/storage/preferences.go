// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// =============================================================================
// PREFERENCES
// =============================================================================

// Preferences is the flat option set edited from the settings panel.
type Preferences struct {
	Theme                  string `json:"theme"`
	Model                  string `json:"model"`
	ReadingDirection       string `json:"readingDirection"`
	FontSize               string `json:"fontSize"`
	ShowTimestamps         bool   `json:"showTimestamps"`
	AutoSave               bool   `json:"autoSave"`
	CompactMode            bool   `json:"compactMode"`
	ShowThinking           bool   `json:"showThinking"`
	UseConversationContext bool   `json:"useConversationContext"`
	WebSearch              bool   `json:"webSearch"`
	SearchEngine           string `json:"searchEngine"`
	SearchAPIKey           string `json:"searchApiKey"`
	SearchProxy            string `json:"searchProxy"`
	OCREnabled             bool   `json:"ocrEnabled"`
}

// DefaultPreferences returns the documented defaults.
func DefaultPreferences() Preferences {
	return Preferences{
		Theme:                  "contrast-dark",
		Model:                  "",
		ReadingDirection:       "ltr",
		FontSize:               "medium",
		ShowTimestamps:         true,
		AutoSave:               true,
		CompactMode:            false,
		ShowThinking:           true,
		UseConversationContext: true,
		WebSearch:              false,
		SearchEngine:           "duckduckgo",
		SearchAPIKey:           "",
		SearchProxy:            "",
		OCREnabled:             false,
	}
}

// Themes lists the accepted theme names.
var Themes = []string{"contrast-dark", "contrast-light", "dark", "light", "sepia"}

type prefKind int

const (
	prefString prefKind = iota
	prefBool
)

// prefField describes one preference key: its type, accepted values and
// accessors into the struct.
type prefField struct {
	kind    prefKind
	allowed []string
	get     func(*Preferences) any
	set     func(*Preferences, any)
}

func str(ptr func(*Preferences) *string, allowed ...string) prefField {
	return prefField{
		kind:    prefString,
		allowed: allowed,
		get:     func(p *Preferences) any { return *ptr(p) },
		set:     func(p *Preferences, v any) { *ptr(p) = v.(string) },
	}
}

func flag(ptr func(*Preferences) *bool) prefField {
	return prefField{
		kind: prefBool,
		get:  func(p *Preferences) any { return *ptr(p) },
		set:  func(p *Preferences, v any) { *ptr(p) = v.(bool) },
	}
}

var prefFields = map[string]prefField{
	"theme":                  str(func(p *Preferences) *string { return &p.Theme }, Themes...),
	"model":                  str(func(p *Preferences) *string { return &p.Model }),
	"readingDirection":       str(func(p *Preferences) *string { return &p.ReadingDirection }, "ltr", "rtl"),
	"fontSize":               str(func(p *Preferences) *string { return &p.FontSize }, "small", "medium", "large"),
	"showTimestamps":         flag(func(p *Preferences) *bool { return &p.ShowTimestamps }),
	"autoSave":               flag(func(p *Preferences) *bool { return &p.AutoSave }),
	"compactMode":            flag(func(p *Preferences) *bool { return &p.CompactMode }),
	"showThinking":           flag(func(p *Preferences) *bool { return &p.ShowThinking }),
	"useConversationContext": flag(func(p *Preferences) *bool { return &p.UseConversationContext }),
	"webSearch":              flag(func(p *Preferences) *bool { return &p.WebSearch }),
	"searchEngine":           str(func(p *Preferences) *string { return &p.SearchEngine }, "duckduckgo", "brave"),
	"searchApiKey":           str(func(p *Preferences) *string { return &p.SearchAPIKey }),
	"searchProxy":            str(func(p *Preferences) *string { return &p.SearchProxy }),
	"ocrEnabled":             flag(func(p *Preferences) *bool { return &p.OCREnabled }),
}

// PreferenceKeys returns every preference key, sorted.
func PreferenceKeys() []string {
	keys := make([]string, 0, len(prefFields))
	for k := range prefFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ErrUnknownPreference is returned by Set for a key outside the option set.
var ErrUnknownPreference = errors.New("unknown preference")

// PreferenceError reports a rejected value.
type PreferenceError struct {
	Key    string
	Reason string
}

func (e *PreferenceError) Error() string {
	return fmt.Sprintf("preference %s: %s", e.Key, e.Reason)
}

// coerce converts v to the field's type. Strings are accepted for booleans
// so the CLI can pass "true"/"false".
func (f prefField) coerce(key string, v any) (any, error) {
	switch f.kind {
	case prefBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return nil, &PreferenceError{Key: key, Reason: fmt.Sprintf("want true or false, got %q", b)}
			}
			return parsed, nil
		}
		return nil, &PreferenceError{Key: key, Reason: fmt.Sprintf("want a boolean, got %T", v)}
	default:
		s, ok := v.(string)
		if !ok {
			return nil, &PreferenceError{Key: key, Reason: fmt.Sprintf("want a string, got %T", v)}
		}
		if len(f.allowed) > 0 && !contains(f.allowed, s) {
			return nil, &PreferenceError{Key: key, Reason: fmt.Sprintf("%q is not one of %s", s, strings.Join(f.allowed, ", "))}
		}
		return s, nil
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Get returns the value stored under a preference key.
func (p Preferences) Get(key string) (any, bool) {
	f, ok := prefFields[key]
	if !ok {
		return nil, false
	}
	return f.get(&p), true
}

// preferencesFromMap overlays raw onto defaults, ignoring unknown keys and
// values of the wrong type or outside the allowed set.
func preferencesFromMap(raw map[string]any) Preferences {
	p := DefaultPreferences()
	for key, v := range raw {
		f, ok := prefFields[key]
		if !ok {
			continue
		}
		if f.kind == prefBool {
			if _, isBool := v.(bool); !isBool {
				continue
			}
		}
		val, err := f.coerce(key, v)
		if err != nil {
			continue
		}
		f.set(&p, val)
	}
	return p
}

// =============================================================================
// PREFERENCE STORE
// =============================================================================

// PreferenceStore loads, validates and persists Preferences as one document.
type PreferenceStore struct {
	mu       sync.RWMutex
	kv       KV
	prefs    Preferences
	now      func() time.Time
	onChange []func(Preferences)
}

// NewPreferenceStore returns a store holding defaults until Load is called.
func NewPreferenceStore(kv KV) *PreferenceStore {
	return &PreferenceStore{kv: kv, prefs: DefaultPreferences(), now: time.Now}
}

// Load reads the document. A missing document is created from defaults; an
// unreadable one is replaced by defaults with a warning.
func (s *PreferenceStore) Load() error {
	data, err := s.kv.Get(PreferencesKey)
	if errors.Is(err, ErrNotFound) {
		s.mu.Lock()
		s.prefs = DefaultPreferences()
		err := s.saveLocked()
		s.mu.Unlock()
		return err
	}
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	s.apply(data)
	return nil
}

// apply replaces the in-memory preferences with a decoded document.
func (s *PreferenceStore) apply(data []byte) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Warn("PREFERENCES_CORRUPT", "err", err)
		raw = nil
	}
	prefs := preferencesFromMap(raw)

	s.mu.Lock()
	changed := prefs != s.prefs
	s.prefs = prefs
	listeners := append([]func(Preferences){}, s.onChange...)
	s.mu.Unlock()

	if changed {
		for _, fn := range listeners {
			fn(prefs)
		}
	}
}

// Reload re-applies an externally written document, as delivered by a
// FileKV watch.
func (s *PreferenceStore) Reload(data []byte) {
	log.Info("PREFERENCES_RELOADED")
	s.apply(data)
}

// OnChange registers fn to run after every change with the new values.
func (s *PreferenceStore) OnChange(fn func(Preferences)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Get returns a copy of the current preferences.
func (s *PreferenceStore) Get() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs
}

// Set validates and applies one key, then persists the whole document.
func (s *PreferenceStore) Set(key string, value any) (Preferences, error) {
	f, ok := prefFields[key]
	if !ok {
		return s.Get(), fmt.Errorf("%w: %s", ErrUnknownPreference, key)
	}
	val, err := f.coerce(key, value)
	if err != nil {
		return s.Get(), err
	}

	s.mu.Lock()
	f.set(&s.prefs, val)
	prefs := s.prefs
	err = s.saveLocked()
	listeners := append([]func(Preferences){}, s.onChange...)
	s.mu.Unlock()

	if err != nil {
		return prefs, err
	}
	log.Debug("PREFERENCE_SET", "key", key)
	for _, fn := range listeners {
		fn(prefs)
	}
	return prefs, nil
}

// Update applies several keys at once. Nothing changes if any key fails.
func (s *PreferenceStore) Update(values map[string]any) (Preferences, error) {
	s.mu.Lock()
	next := s.prefs
	for key, value := range values {
		f, ok := prefFields[key]
		if !ok {
			s.mu.Unlock()
			return s.Get(), fmt.Errorf("%w: %s", ErrUnknownPreference, key)
		}
		val, err := f.coerce(key, value)
		if err != nil {
			s.mu.Unlock()
			return s.Get(), err
		}
		f.set(&next, val)
	}
	s.prefs = next
	err := s.saveLocked()
	listeners := append([]func(Preferences){}, s.onChange...)
	s.mu.Unlock()

	if err != nil {
		return next, err
	}
	for _, fn := range listeners {
		fn(next)
	}
	return next, nil
}

// Reset restores and persists the defaults.
func (s *PreferenceStore) Reset() (Preferences, error) {
	s.mu.Lock()
	s.prefs = DefaultPreferences()
	prefs := s.prefs
	err := s.saveLocked()
	listeners := append([]func(Preferences){}, s.onChange...)
	s.mu.Unlock()

	if err != nil {
		return prefs, err
	}
	for _, fn := range listeners {
		fn(prefs)
	}
	return prefs, nil
}

// Document returns the persisted form: the envelope plus every field.
func (s *PreferenceStore) Document() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.documentLocked()
}

func (s *PreferenceStore) documentLocked() map[string]any {
	env := newEnvelope(s.now())
	doc := map[string]any{
		"version":     env.Version,
		"lastUpdated": env.LastUpdated,
	}
	for key, f := range prefFields {
		doc[key] = f.get(&s.prefs)
	}
	return doc
}

func (s *PreferenceStore) saveLocked() error {
	data, err := json.Marshal(s.documentLocked())
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	if err := s.kv.Set(PreferencesKey, data); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}
