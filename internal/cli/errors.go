// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/rigrun-web/internal/config"
	"github.com/jeranaias/rigrun-web/internal/ollama"
	"github.com/jeranaias/rigrun-web/internal/storage"
)

// Exit codes.
const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitNetworkError  = 5
	ExitNotFoundError = 7
)

// UsageError reports a malformed command line.
type UsageError struct {
	Message string
	Usage   string
}

func (e *UsageError) Error() string {
	if e.Usage != "" {
		return e.Message + "\nUsage: " + e.Usage
	}
	return e.Message
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *UsageError
	if errors.As(err, &usage) {
		return ExitUsageError
	}
	var validation config.ValidateErrors
	var single config.ValidationError
	if errors.As(err, &validation) || errors.As(err, &single) {
		return ExitConfigError
	}
	if ollama.IsNetworkError(err) {
		return ExitNetworkError
	}
	if errors.Is(err, storage.ErrConversationNotFound) || ollama.IsModelNotFound(err) {
		return ExitNotFoundError
	}
	return ExitGeneralError
}

// DisplayError prints err in the error style.
func DisplayError(w io.Writer, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(w, "%s %v\n", errorStyle.Render("[Error]"), err)
	if ollama.IsNotRunning(err) {
		fmt.Fprintln(w, dimStyle.Render("Is Ollama running? Start it with: ollama serve"))
	}
}
