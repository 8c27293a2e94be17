// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package attachment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// ErrOCRUnavailable is returned when no OCR engine can be found.
var ErrOCRUnavailable = errors.New("ocr engine not available")

// OCR reads text from an image.
type OCR interface {
	Recognize(ctx context.Context, name string, data []byte) (string, error)
}

// TesseractOCR runs the tesseract command line tool.
type TesseractOCR struct {
	// Path is the binary name or location. Empty means "tesseract".
	Path string
	// Lang is passed as -l when set.
	Lang string
}

// NewTesseractOCR returns an OCR engine backed by the tesseract binary at
// path. It fails with ErrOCRUnavailable when the binary cannot be found.
func NewTesseractOCR(path string) (*TesseractOCR, error) {
	t := &TesseractOCR{Path: path}
	if _, err := t.binary(); err != nil {
		log.Debug("OCR_UNAVAILABLE", "path", path, "err", err)
		return nil, err
	}
	return t, nil
}

func (t *TesseractOCR) binary() (string, error) {
	path := t.Path
	if path == "" {
		path = "tesseract"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOCRUnavailable, err)
	}
	return resolved, nil
}

// Recognize writes data to a temporary file and returns tesseract's stdout.
func (t *TesseractOCR) Recognize(ctx context.Context, name string, data []byte) (string, error) {
	bin, err := t.binary()
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp("", "rigrun-ocr-*"+strings.ToLower(filepath.Ext(name)))
	if err != nil {
		return "", fmt.Errorf("create temp image: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	args := []string{tmp.Name(), "stdout"}
	if t.Lang != "" {
		args = append(args, "-l", t.Lang)
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("tesseract: %w", err)
		}
		return "", fmt.Errorf("tesseract: %s", msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}
