// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "strings"

// AttachmentKind distinguishes binary image payloads from extracted text.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentText  AttachmentKind = "text"
)

// Attachment is a user-selected file prepared for sending.
// Payload holds base64 for images and the extracted text otherwise.
type Attachment struct {
	Kind        AttachmentKind `json:"kind"`
	Name        string         `json:"name"`
	MimeType    string         `json:"mimeType"`
	Payload     string         `json:"payload"`
	Placeholder bool           `json:"placeholder,omitempty"`
}

// IsImage reports whether the attachment carries image data.
func (a Attachment) IsImage() bool {
	return a.Kind == AttachmentImage
}

// PromptBlock renders a text attachment for inclusion in the user turn.
func (a Attachment) PromptBlock() string {
	if a.Kind != AttachmentText {
		return ""
	}
	var b strings.Builder
	b.WriteString("[Attachment: ")
	b.WriteString(a.Name)
	b.WriteString("]\n")
	b.WriteString(a.Payload)
	b.WriteString("\n[End of attachment]")
	return b.String()
}

// ComposePrompt appends the text attachments of atts to text.
func ComposePrompt(text string, atts []Attachment) string {
	var b strings.Builder
	b.WriteString(text)
	for _, a := range atts {
		block := a.PromptBlock()
		if block == "" {
			continue
		}
		b.WriteString("\n\n")
		b.WriteString(block)
	}
	return b.String()
}
