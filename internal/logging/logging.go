// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging configures the process-wide charmbracelet logger.
//
// Packages log through the package-level functions of
// github.com/charmbracelet/log using an EVENT_NAME message followed by
// key/value pairs:
//
//	log.Info("STREAM_DONE", "model", m, "tokens", n)
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects level, destinations and format.
type Options struct {
	Level string
	// File adds a rotating log file next to Console.
	File       string
	MaxSizeMB  int
	MaxBackups int
	JSON       bool
	// Console defaults to stderr. Set Quiet to log only to File.
	Console io.Writer
	Quiet   bool
}

// Setup installs the default logger. The returned close function flushes and
// closes the rotating file, if any.
func Setup(opts Options) (func() error, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var writers []io.Writer
	if !opts.Quiet {
		console := opts.Console
		if console == nil {
			console = os.Stderr
		}
		writers = append(writers, console)
	}

	closer := func() error { return nil }
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o700); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		rotating := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		}
		writers = append(writers, rotating)
		closer = rotating.Close
	}

	var out io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}

	logger := log.NewWithOptions(out, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          "rigrun-web",
	})
	if opts.JSON {
		logger.SetFormatter(log.JSONFormatter)
	}
	log.SetDefault(logger)
	return closer, nil
}

// ParseLevel maps a config level name onto a log.Level. Empty means info.
func ParseLevel(name string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return log.InfoLevel, nil
	case "debug":
		return log.DebugLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	default:
		return log.InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
}
