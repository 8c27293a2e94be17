// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package attachment turns user-selected files into attachments: images as
// base64 payloads, documents as extracted text.
package attachment

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigrun-web/internal/model"
	"github.com/jeranaias/rigrun-web/internal/util"
)

const (
	// MaxTextBytes caps plain text files.
	MaxTextBytes = 512 * 1024
	// MaxDocumentChars caps text extracted from documents.
	MaxDocumentChars = 800_000
	// TruncatedMarker ends any capped text.
	TruncatedMarker = "\n[truncated]"

	// workers bounds concurrent extractions.
	workers = 4
)

// File is one upload.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// Options are the per-send switches.
type Options struct {
	// OCR adds a text attachment after every image when an OCR engine is set.
	OCR bool
}

// Processor dispatches files to extractors.
type Processor struct {
	// OCR reads text from images. Nil disables OCR regardless of Options.
	OCR OCR
}

// NewProcessor returns a processor using ocr, which may be nil.
func NewProcessor(ocr OCR) *Processor {
	return &Processor{OCR: ocr}
}

// ProcessAll converts files concurrently. The result keeps the input order,
// with any OCR attachment directly after its image. Extraction failures become
// placeholder attachments; only cancellation of ctx is returned as an error.
func (p *Processor) ProcessAll(ctx context.Context, files []File, opts Options) ([]model.Attachment, error) {
	perFile := make([][]model.Attachment, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range files {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			perFile[i] = p.Process(gctx, files[i], opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []model.Attachment
	for _, atts := range perFile {
		out = append(out, atts...)
	}
	return out, nil
}

// Process converts a single file. It returns one attachment, or two for an
// image with OCR.
func (p *Processor) Process(ctx context.Context, f File, opts Options) []model.Attachment {
	mimeType := f.MimeType
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = DetectMIME(f.Name, f.Data)
	}
	ext := strings.ToLower(filepath.Ext(f.Name))

	if strings.HasPrefix(mimeType, "image/") {
		return p.image(ctx, f, mimeType, opts)
	}

	kind := classify(mimeType, ext)
	log.Debug("ATTACHMENT_PROCESS", "name", f.Name, "mime", mimeType, "kind", kind)

	switch kind {
	case kindLegacy:
		return []model.Attachment{placeholder(f.Name, mimeType, legacyMessage(ext))}
	case kindText:
		text := util.TruncateBytes(string(f.Data), MaxTextBytes)
		if len(text) < len(f.Data) {
			text += TruncatedMarker
		}
		text = normalizeNewlines(text)
		return []model.Attachment{textAttachment(f.Name, mimeType, text)}
	case kindUnknown:
		msg := fmt.Sprintf("[Binary file %s (%s, %d bytes) cannot be attached as text.]", f.Name, mimeType, len(f.Data))
		return []model.Attachment{placeholder(f.Name, mimeType, msg)}
	}

	text, err := extractDocument(kind, f.Data)
	if err != nil {
		log.Warn("ATTACHMENT_EXTRACT_FAILED", "name", f.Name, "kind", kind, "err", err)
		msg := fmt.Sprintf("[Could not extract text from %s: %v]", f.Name, err)
		return []model.Attachment{placeholder(f.Name, mimeType, msg)}
	}
	text, cut := util.TruncateWithMarker(strings.TrimSpace(text), MaxDocumentChars, TruncatedMarker)
	if cut {
		log.Info("ATTACHMENT_TRUNCATED", "name", f.Name, "chars", MaxDocumentChars)
	}
	return []model.Attachment{textAttachment(f.Name, mimeType, text)}
}

func (p *Processor) image(ctx context.Context, f File, mimeType string, opts Options) []model.Attachment {
	out := []model.Attachment{{
		Kind:     model.AttachmentImage,
		Name:     f.Name,
		MimeType: mimeType,
		Payload:  base64.StdEncoding.EncodeToString(f.Data),
	}}
	if !opts.OCR || p.OCR == nil {
		return out
	}

	name := f.Name + " (OCR)"
	text, err := p.OCR.Recognize(ctx, f.Name, f.Data)
	switch {
	case err != nil:
		log.Warn("ATTACHMENT_OCR_FAILED", "name", f.Name, "err", err)
		out = append(out, placeholder(name, "text/plain", fmt.Sprintf("[OCR failed for %s: %v]", f.Name, err)))
	case strings.TrimSpace(text) == "":
		out = append(out, placeholder(name, "text/plain", fmt.Sprintf("[No text found in %s]", f.Name)))
	default:
		text, _ = util.TruncateWithMarker(strings.TrimSpace(text), MaxDocumentChars, TruncatedMarker)
		out = append(out, textAttachment(name, "text/plain", text))
	}
	return out
}

func textAttachment(name, mimeType, text string) model.Attachment {
	return model.Attachment{Kind: model.AttachmentText, Name: name, MimeType: mimeType, Payload: text}
}

func placeholder(name, mimeType, text string) model.Attachment {
	return model.Attachment{Kind: model.AttachmentText, Name: name, MimeType: mimeType, Payload: text, Placeholder: true}
}

func legacyMessage(ext string) string {
	modern := map[string]string{".doc": ".docx", ".ppt": ".pptx", ".xls": ".xlsx"}[ext]
	return fmt.Sprintf("[Legacy %s files are not supported. Save the file as %s and attach it again.]", ext, modern)
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
