// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"encoding/base64"
	"fmt"

	"github.com/ollama/ollama/api"

	"github.com/jeranaias/rigrun-web/internal/model"
)

// =============================================================================
// REQUEST BUILDING
// =============================================================================

// ChatInput is what the session hands over for one generation.
type ChatInput struct {
	Model string

	// History is the conversation ending with the new user turn.
	History []*model.Message

	// Images are base64 payloads for the trailing user turn.
	Images []string

	// UseContext sends the whole history instead of only the new turn.
	UseContext bool
}

// BuildChatRequest converts input into a streaming /api/chat body.
//
// Images go to the trailing user message; when the history does not end with
// a user message, a synthetic user turn carries them.
func BuildChatRequest(in ChatInput) (*api.ChatRequest, error) {
	images, err := decodeImages(in.Images)
	if err != nil {
		return nil, err
	}

	source := in.History
	if !in.UseContext {
		source = nil
		if last := lastOf(in.History); last != nil && last.Role == model.RoleUser {
			source = []*model.Message{last}
		}
	}

	messages := make([]api.Message, 0, len(source)+1)
	for _, m := range source {
		if !m.Role.Valid() {
			continue
		}
		content := m.Content
		if m.Role == model.RoleUser {
			content = model.ComposePrompt(m.Content, m.Attachments)
		}
		messages = append(messages, api.Message{Role: string(m.Role), Content: content})
	}

	if len(images) > 0 {
		if n := len(messages); n > 0 && messages[n-1].Role == string(model.RoleUser) {
			messages[n-1].Images = images
		} else {
			messages = append(messages, api.Message{Role: string(model.RoleUser), Images: images})
		}
	}

	stream := true
	return &api.ChatRequest{
		Model:    in.Model,
		Messages: messages,
		Stream:   &stream,
	}, nil
}

func decodeImages(payloads []string) ([]api.ImageData, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	out := make([]api.ImageData, 0, len(payloads))
	for i, p := range payloads {
		raw, err := base64.StdEncoding.DecodeString(p)
		if err != nil {
			return nil, fmt.Errorf("image %d is not valid base64: %w", i+1, err)
		}
		out = append(out, api.ImageData(raw))
	}
	return out, nil
}

func lastOf(msgs []*model.Message) *model.Message {
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}
