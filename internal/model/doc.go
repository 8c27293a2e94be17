// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// These are the persisted shapes of the chat history document, so JSON
// field names match what the browser client exports and imports.
//
// # Key Types
//
//   - Conversation: one chat thread, titled from its first user message
//   - Message: a user or assistant turn with optional reasoning and stats
//   - Attachment: an image (base64) or extracted text sent with a turn
//   - ModelInfo: a locally served model and its probed capabilities
//
// # Usage
//
//	conv := model.NewConversation()
//	conv.AddMessage(model.NewUserMessage("Hello!"))
//	conv.AddMessage(model.NewAssistantMessage("Hi there.", "", nil))
package model
