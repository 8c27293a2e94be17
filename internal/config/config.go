// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/rigrun-web/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the process configuration. Per-user chat preferences live in the
// preference store, not here.
type Config struct {
	Server      ServerConfig      `toml:"server" json:"server"`
	Ollama      OllamaConfig      `toml:"ollama" json:"ollama"`
	Storage     StorageConfig     `toml:"storage" json:"storage"`
	Search      SearchConfig      `toml:"search" json:"search"`
	Attachments AttachmentsConfig `toml:"attachments" json:"attachments"`
	Logging     LoggingConfig     `toml:"logging" json:"logging"`
}

// ServerConfig controls the HTTP front end.
type ServerConfig struct {
	// Listen is the host:port the web UI binds to.
	Listen string `toml:"listen" json:"listen"`
	// OpenBrowser launches the system browser once the server is up.
	OpenBrowser bool `toml:"open_browser" json:"open_browser"`
}

// OllamaConfig locates the model server.
type OllamaConfig struct {
	URL     string   `toml:"url" json:"url"`
	Timeout Duration `toml:"timeout" json:"timeout"`
	// AutoStart runs `ollama serve` when nothing answers at URL.
	AutoStart bool `toml:"auto_start" json:"auto_start"`
}

// StorageConfig selects where chats and preferences are kept.
type StorageConfig struct {
	// Backend is "file", "sqlite" or "memory".
	Backend string `toml:"backend" json:"backend"`
	// Dir holds the documents. Empty means <config dir>/data.
	Dir string `toml:"dir" json:"dir"`
}

// SearchConfig tunes the web search side channel.
type SearchConfig struct {
	Timeout       Duration `toml:"timeout" json:"timeout"`
	RatePerSecond float64  `toml:"rate_per_second" json:"rate_per_second"`
	UserAgent     string   `toml:"user_agent" json:"user_agent"`
}

// AttachmentsConfig bounds uploads and locates the OCR engine.
type AttachmentsConfig struct {
	MaxUploadMB   int    `toml:"max_upload_mb" json:"max_upload_mb"`
	TesseractPath string `toml:"tesseract_path" json:"tesseract_path"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `toml:"level" json:"level"`
	// File enables a rotating log file in addition to stderr.
	File       string `toml:"file" json:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups"`
	// JSON switches the formatter from text to JSON lines.
	JSON bool `toml:"json" json:"json"`
}

// Duration is a time.Duration written as "30s" in TOML and JSON.
type Duration struct {
	time.Duration
}

var (
	_ encoding.TextMarshaler   = Duration{}
	_ encoding.TextUnmarshaler = (*Duration)(nil)
)

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with every field at its default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: "127.0.0.1:8080",
		},
		Ollama: OllamaConfig{
			// Explicit IPv4 avoids slow localhost resolution on Windows.
			URL:     "http://127.0.0.1:11434",
			Timeout: Duration{30 * time.Second},
		},
		Storage: StorageConfig{
			Backend: "file",
		},
		Search: SearchConfig{
			Timeout:       Duration{10 * time.Second},
			RatePerSecond: 1,
			UserAgent:     "rigrun-web/1.0",
		},
		Attachments: AttachmentsConfig{
			MaxUploadMB:   32,
			TesseractPath: "tesseract",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the configuration directory, ~/.rigrun-web unless
// RIGRUN_WEB_HOME points elsewhere.
func ConfigDir() (string, error) {
	if dir := os.Getenv("RIGRUN_WEB_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigrun-web"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// DataDir returns the storage directory, resolving the empty default.
func (c *Config) DataDir() (string, error) {
	if c.Storage.Dir != "" {
		return expandHome(c.Storage.Dir), nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "data"), nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// LoadDotEnv reads .env from the working directory and the config directory.
// Variables already set in the environment win. Missing files are ignored.
func LoadDotEnv() error {
	paths := []string{".env"}
	if dir, err := ConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, ".env"))
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads config.toml, falling back to config.json and then to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	tomlPath, err := ConfigPathTOML()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(tomlPath); statErr == nil {
		return LoadFromPath(tomlPath)
	}

	jsonPath, err := ConfigPathJSON()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(jsonPath); statErr == nil {
		return LoadFromPath(jsonPath)
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads a specific file. The format follows the extension,
// TOML unless it ends in .json.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode JSON config %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to decode TOML config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			fmt.Fprintf(os.Stderr, "Warning: unknown config keys in %s: %s\n", path, strings.Join(keys, ", "))
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SetDefaults fills zero values left by a partial file.
func (c *Config) SetDefaults() {
	d := Default()
	if c.Server.Listen == "" {
		c.Server.Listen = d.Server.Listen
	}
	if c.Ollama.URL == "" {
		c.Ollama.URL = d.Ollama.URL
	}
	if c.Ollama.Timeout.Duration == 0 {
		c.Ollama.Timeout = d.Ollama.Timeout
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Search.Timeout.Duration == 0 {
		c.Search.Timeout = d.Search.Timeout
	}
	if c.Search.RatePerSecond == 0 {
		c.Search.RatePerSecond = d.Search.RatePerSecond
	}
	if c.Search.UserAgent == "" {
		c.Search.UserAgent = d.Search.UserAgent
	}
	if c.Attachments.MaxUploadMB == 0 {
		c.Attachments.MaxUploadMB = d.Attachments.MaxUploadMB
	}
	if c.Attachments.TesseractPath == "" {
		c.Attachments.TesseractPath = d.Attachments.TesseractPath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = d.Logging.MaxSizeMB
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg to the default TOML path.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg as TOML with owner-only permissions.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# rigrun-web configuration file\n")
	b.WriteString("# Generated by rigrun-web - edit with care\n\n")
	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError names a field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every failed field.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return "config validation failed: " + strings.Join(msgs, "; ")
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks every section and returns ValidateErrors when any fail.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		add("server.listen", fmt.Sprintf("must be host:port: %v", err))
	}

	if u, err := url.Parse(c.Ollama.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("ollama.url", "must be an http(s) URL")
	}
	if c.Ollama.Timeout.Duration < 0 {
		add("ollama.timeout", "must not be negative")
	}

	switch c.Storage.Backend {
	case "file", "sqlite", "memory":
	default:
		add("storage.backend", fmt.Sprintf("unknown backend %q (want file, sqlite or memory)", c.Storage.Backend))
	}

	if c.Search.RatePerSecond < 0 {
		add("search.rate_per_second", "must not be negative")
	}
	if c.Search.Timeout.Duration < 0 {
		add("search.timeout", "must not be negative")
	}

	if c.Attachments.MaxUploadMB < 1 || c.Attachments.MaxUploadMB > 1024 {
		add("attachments.max_upload_mb", "must be between 1 and 1024")
	}

	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		add("logging.level", fmt.Sprintf("unknown level %q", c.Logging.Level))
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 {
		add("logging", "rotation limits must not be negative")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported environment variables:
//   - RIGRUN_WEB_LISTEN: server.listen
//   - RIGRUN_WEB_OLLAMA_URL: ollama.url (OLLAMA_HOST is honoured when unset)
//   - RIGRUN_WEB_STORAGE: storage.backend
//   - RIGRUN_WEB_DATA_DIR: storage.dir
//   - RIGRUN_WEB_LOG_LEVEL: logging.level
//   - RIGRUN_WEB_LOG_FILE: logging.file
//   - RIGRUN_WEB_TESSERACT: attachments.tesseract_path
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("RIGRUN_WEB_LISTEN"); v != "" {
		c.Server.Listen = v
	}

	if v := os.Getenv("RIGRUN_WEB_OLLAMA_URL"); v != "" {
		c.Ollama.URL = v
	} else if host := os.Getenv("OLLAMA_HOST"); host != "" {
		if !strings.Contains(host, "://") {
			host = "http://" + host
		}
		c.Ollama.URL = host
	}

	if v := os.Getenv("RIGRUN_WEB_STORAGE"); v != "" {
		c.Storage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("RIGRUN_WEB_DATA_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := os.Getenv("RIGRUN_WEB_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("RIGRUN_WEB_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv("RIGRUN_WEB_TESSERACT"); v != "" {
		c.Attachments.TesseractPath = v
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a value by dot-notation key such as "ollama.url".
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	if d, ok := field.Interface().(Duration); ok {
		return d.String(), nil
	}
	return field.Interface(), nil
}

// Set assigns a value by dot-notation key. Strings are converted to the
// field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(key, ".")
	if key == "" || len(parts) == 0 {
		return reflect.Value{}, errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct || field.Type() == reflect.TypeOf(Duration{}) {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts snake_case or kebab-case to the Go field name.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		result.WriteString(strings.ToUpper(part[:1]))
		result.WriteString(strings.ToLower(part[1:]))
	}
	return result.String()
}

func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		if u, ok := field.Addr().Interface().(encoding.TextUnmarshaler); ok {
			if err := u.UnmarshalText([]byte(strVal)); err != nil {
				return fmt.Errorf("invalid value %q: %w", strVal, err)
			}
			return nil
		}
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			boolVal, err := strconv.ParseBool(strVal)
			if err != nil {
				boolVal = strings.EqualFold(strVal, "yes")
			}
			field.SetBool(boolVal)
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// Keys returns every settable key in dot notation.
func Keys() []string {
	var keys []string
	root := reflect.TypeOf(Config{})
	for i := 0; i < root.NumField(); i++ {
		section := root.Field(i)
		prefix := section.Tag.Get("toml")
		for j := 0; j < section.Type.NumField(); j++ {
			keys = append(keys, prefix+"."+section.Type.Field(j).Tag.Get("toml"))
		}
	}
	return keys
}

// Clone returns a copy. Config holds no reference types.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String renders the config as indented JSON for `config show`.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
