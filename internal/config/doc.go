// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads the rigrun-web process configuration.
//
// # Configuration Precedence
//
//   - Environment variables (RIGRUN_WEB_*, optionally seeded from .env)
//   - ~/.rigrun-web/config.toml
//   - ~/.rigrun-web/config.json
//   - Built-in defaults
//
// # Usage
//
//	if err := config.LoadDotEnv(); err != nil {
//	    log.Warn("DOTENV_FAILED", "err", err)
//	}
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal("CONFIG_INVALID", "err", err)
//	}
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
//	    BaseURL: cfg.Ollama.URL,
//	    Timeout: cfg.Ollama.Timeout.Duration,
//	})
package config
