// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// HTTPError is returned when the server answers with a non-2xx status.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return "HTTP error " + strconv.Itoa(e.Status)
	}
	return "HTTP error " + strconv.Itoa(e.Status) + ": " + e.Body
}

// NetworkError wraps a transport failure such as an unreachable server or a
// connection dropped mid-stream.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ParseSkip describes one stream record that could not be parsed.
// It is logged and counted, never returned to callers.
type ParseSkip struct {
	Line int
	Err  error
}

func (e *ParseSkip) Error() string {
	return "skipped malformed record on line " + strconv.Itoa(e.Line) + ": " + e.Err.Error()
}

func (e *ParseSkip) Unwrap() error {
	return e.Err
}

// ClientError reports a response the client could not make sense of.
type ClientError struct {
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

type cancelledError struct{}

func (cancelledError) Error() string { return "generation cancelled" }

// Is lets errors.Is(err, context.Canceled) match a cancelled generation.
func (cancelledError) Is(target error) bool { return target == context.Canceled }

// ErrCancelled is returned when the caller's context ends a generation.
// Cancellation is a normal outcome, not a failure.
var ErrCancelled error = cancelledError{}

// =============================================================================
// HELPERS
// =============================================================================

// IsCancelled reports whether err is a user cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// IsHTTPError reports whether err carries a non-2xx response.
func IsHTTPError(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr)
}

// IsNetworkError reports whether err is a transport failure.
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// IsNotRunning reports whether err means the server could not be reached.
func IsNotRunning(err error) bool {
	return IsNetworkError(err)
}

// IsModelNotFound reports whether err is a 404 from the server.
func IsModelNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == 404
}
