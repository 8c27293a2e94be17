// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// The heart of the package is the stream Decoder: it reads the
// newline-delimited JSON body of /api/chat and splits it into reasoning
// text, answer text and <search> directives, then reduces the stream into
// one final message with performance statistics.
//
// # Key Types
//
//   - Client: model discovery, capability probe and streaming chat
//   - Decoder: turns a chat stream into Events and a ReducedResult
//   - Event: ReasoningDelta, AnswerDelta, SearchDirective and the terminal
//     Completed, Cancelled and Failed kinds
//   - HTTPError, NetworkError, ErrCancelled: the failure taxonomy
//
// # Usage
//
//	client := ollama.NewClient()
//	req, err := ollama.BuildChatRequest(ollama.ChatInput{
//	    Model:      "qwen3:1.7b",
//	    History:    conv.Messages,
//	    UseContext: true,
//	})
//	result, err := client.StreamChat(ctx, req, func(ev ollama.Event) {
//	    if ev.Kind == ollama.EventAnswerDelta {
//	        fmt.Print(ev.Text)
//	    }
//	})
//
// Malformed records are skipped, never fatal. Cancelling ctx ends the
// stream with a Cancelled event and the partial result.
package ollama
