// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeranaias/rigrun-web/internal/config"
	"github.com/jeranaias/rigrun-web/internal/model"
	"github.com/jeranaias/rigrun-web/internal/util"
)

// HistoryPorter is the part of the session that moves the chat history
// document in and out.
type HistoryPorter interface {
	ExportHistory(w io.Writer) error
	ImportHistory(r io.Reader) (int, error)
}

// =============================================================================
// MODELS
// =============================================================================

// FormatModels renders the model list, marking selected.
func FormatModels(models []model.ModelInfo, selected string) string {
	if len(models) == 0 {
		return "No models installed. Pull one with: ollama pull qwen3:1.7b\n"
	}
	var sb strings.Builder
	for _, m := range models {
		marker := "  "
		name := util.PadRight(m.Name, 32)
		if m.Name == selected {
			marker = "* "
			name = successStyle.Render(name)
		}
		size := ""
		if m.Size > 0 {
			size = dimStyle.Render(formatBytes(m.Size))
		}
		sb.WriteString(strings.TrimRight(marker+name+" "+size, " ") + "\n")
	}
	return sb.String()
}

// RunModels lists installed models, as JSON when asJSON is set.
func RunModels(ctx context.Context, w io.Writer, lister ModelLister, selected string, asJSON bool) error {
	models, err := lister.ListModels(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		if models == nil {
			models = []model.ModelInfo{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"models": models, "selected": selected})
	}
	fmt.Fprint(w, FormatModels(models, selected))
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

// =============================================================================
// IMPORT / EXPORT
// =============================================================================

// ExportHistory writes the history document to path, or to stdout when
// path is "-".
func ExportHistory(p HistoryPorter, path string, stdout io.Writer) error {
	if path == "-" {
		return p.ExportHistory(stdout)
	}
	var sb strings.Builder
	if err := p.ExportHistory(&sb); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return util.AtomicWriteFile(path, []byte(sb.String()), 0o600)
}

// ImportHistory replaces the history with the document at path.
func ImportHistory(p HistoryPorter, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return p.ImportHistory(f)
}

// =============================================================================
// CONFIG
// =============================================================================

// RunConfig handles `config show|path|init`. path is the active config
// file, empty for the default location.
func RunConfig(w io.Writer, sub string, cfg *config.Config, path string) error {
	if path == "" {
		var err error
		if path, err = config.ConfigPathTOML(); err != nil {
			return err
		}
	}

	switch sub {
	case "", "show":
		fmt.Fprintln(w, cfg.String())
	case "path":
		fmt.Fprintln(w, path)
	case "init":
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err := config.SaveTOML(config.Default(), path); err != nil {
			return err
		}
		fmt.Fprintln(w, successStyle.Render("Wrote ")+path)
	default:
		return &UsageError{Message: fmt.Sprintf("unknown config subcommand %q", sub), Usage: "rigrun-web config [show|path|init]"}
	}
	return nil
}
