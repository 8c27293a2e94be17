// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// =============================================================================
// SERVER STARTUP
// =============================================================================

// binEnv overrides executable discovery when set.
const binEnv = "OLLAMA_BIN"

// startupTimeout bounds how long a freshly launched server may take to answer.
const startupTimeout = 15 * time.Second

// EnsureRunning pings the server and, when it is unreachable and the URL is
// local, launches "ollama serve" in the background and waits for it.
func (c *Client) EnsureRunning(ctx context.Context) error {
	if err := c.Ping(ctx); err == nil {
		return nil
	} else if !IsNotRunning(err) {
		return err
	}
	return c.startServer(ctx)
}

// findOllamaExecutable checks $OLLAMA_BIN, then PATH, then the platform's
// usual install directories.
func findOllamaExecutable() (string, error) {
	if bin := os.Getenv(binEnv); bin != "" {
		if isExecutableFile(bin) {
			return bin, nil
		}
		return "", fmt.Errorf("%s=%q is not an executable file", binEnv, bin)
	}
	for _, name := range executableNames {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	for _, dir := range installDirs() {
		for _, name := range executableNames {
			if p := filepath.Join(dir, name); isExecutableFile(p) {
				return p, nil
			}
		}
	}
	return "", fmt.Errorf("%s not found in PATH or common installation directories", executableNames[0])
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (c *Client) startServer(ctx context.Context) error {
	path, err := findOllamaExecutable()
	if err != nil {
		return &ClientError{Message: "failed to find Ollama executable", Cause: err}
	}

	cmd := exec.Command(path, "serve")
	// Pass the environment through so GPU settings reach the server.
	cmd.Env = os.Environ()
	cmd.SysProcAttr = detachedProcAttr()

	if err := cmd.Start(); err != nil {
		return &ClientError{Message: fmt.Sprintf("failed to start Ollama (path: %s)", path), Cause: err}
	}
	if cmd.Process != nil {
		_ = cmd.Process.Release()
	}

	log.Info("OLLAMA_STARTING", "path", path)
	return c.waitReady(ctx, path)
}

// waitReady polls until the server answers or startupTimeout passes.
func (c *Client) waitReady(ctx context.Context, path string) error {
	start := time.Now()
	deadline := start.Add(startupTimeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastErr error
	for time.Now().Before(deadline) {
		checkCtx, cancel := context.WithTimeout(ctx, time.Second)
		lastErr = c.Ping(checkCtx)
		cancel()
		if lastErr == nil {
			log.Info("OLLAMA_STARTED", "elapsed", time.Since(start).Round(100*time.Millisecond))
			return nil
		}

		select {
		case <-ctx.Done():
			return &ClientError{Message: "Ollama startup cancelled", Cause: ctx.Err()}
		case <-ticker.C:
		}
	}

	return &ClientError{
		Message: fmt.Sprintf("Ollama started but not responding after %s (path: %s)", startupTimeout, path),
		Cause:   lastErr,
	}
}
