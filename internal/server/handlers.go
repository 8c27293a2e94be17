// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"github.com/jeranaias/rigrun-web/internal/attachment"
	"github.com/jeranaias/rigrun-web/internal/export"
	"github.com/jeranaias/rigrun-web/internal/format"
	"github.com/jeranaias/rigrun-web/internal/model"
	"github.com/jeranaias/rigrun-web/internal/ollama"
	"github.com/jeranaias/rigrun-web/internal/session"
	"github.com/jeranaias/rigrun-web/internal/storage"
)

const (
	historyFilename     = "ollama-chat-history.json"
	preferencesFilename = "ollama-preferences.json"
)

// ============================================================================
// HEALTH & MODELS
// ============================================================================

type healthResponse struct {
	OK     bool   `json:"ok"`
	Ollama string `json:"ollama"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.models.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, healthResponse{Ollama: "unreachable", Error: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, healthResponse{OK: true, Ollama: "reachable"})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"state":   s.ctrl.Snapshot(),
		"version": s.opts.Version,
	})
}

func modelErrorStatus(err error) int {
	switch {
	case ollama.IsNotRunning(err):
		return http.StatusServiceUnavailable
	case ollama.IsModelNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.models.ListModels(r.Context())
	if err != nil {
		log.Warn("MODELS_FAILED", "err", err)
		respondError(w, modelErrorStatus(err), err.Error())
		return
	}
	if models == nil {
		models = []model.ModelInfo{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"models":   models,
		"selected": s.prefs.Get().Model,
	})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	caps, err := s.models.Capabilities(r.Context(), name)
	if err != nil {
		respondError(w, modelErrorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"model": name, "capabilities": caps})
}

// ============================================================================
// CHATS
// ============================================================================

// renderedMessage carries a stored message with its display HTML.
type renderedMessage struct {
	*model.Message
	HTML          string `json:"html"`
	ReasoningHTML string `json:"thinkingHtml,omitempty"`
	StatsLine     string `json:"statsLine,omitempty"`
}

func renderMessage(m *model.Message) renderedMessage {
	out := renderedMessage{Message: m, StatsLine: format.StatsLine(m.Stats)}
	if m.Role == model.RoleUser {
		out.HTML = format.HTML(m.Content)
	} else {
		out.HTML = format.HTML(ollama.StripThinkTags(m.Content))
	}
	if m.HasReasoning() {
		out.ReasoningHTML = format.HTML(m.Reasoning)
	}
	return out
}

type renderedChat struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Timestamp time.Time         `json:"timestamp"`
	Messages  []renderedMessage `json:"messages"`
}

func renderChat(c *model.Conversation) renderedChat {
	out := renderedChat{
		ID:        c.ID,
		Title:     c.GetTitle(),
		Timestamp: c.CreatedAt,
		Messages:  make([]renderedMessage, 0, len(c.Messages)),
	}
	for _, m := range c.Messages {
		out.Messages = append(out.Messages, renderMessage(m))
	}
	return out
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats := s.ctrl.Chats()
	if chats == nil {
		chats = []model.ConversationMeta{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"chats":    chats,
		"activeId": s.ctrl.Snapshot().ActiveChatID,
	})
}

func (s *Server) handleNewChat(w http.ResponseWriter, r *http.Request) {
	conv, err := s.ctrl.NewChat()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, renderChat(conv))
}

func (s *Server) handleLoadChat(w http.ResponseWriter, r *http.Request) {
	conv, err := s.ctrl.LoadChat(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, chatErrorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, renderChat(conv))
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.DeleteChat(chi.URLParam(r, "id")); err != nil {
		respondError(w, chatErrorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"deleted":  true,
		"activeId": s.ctrl.Snapshot().ActiveChatID,
	})
}

func chatErrorStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidHistory):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ============================================================================
// GENERATION
// ============================================================================

type sendRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	genID, err := s.ctrl.Start(s.genCtx, session.SendRequest{Text: req.Text, Model: req.Model})
	switch {
	case err == nil:
	case errors.Is(err, session.ErrBusy):
		respondError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, session.ErrEmptyMessage), errors.Is(err, session.ErrNoModel):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"generationId": genID,
		"chatId":       s.ctrl.Snapshot().ActiveChatID,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Cancel(); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": s.ctrl.Phase().String()})
}

// ============================================================================
// ATTACHMENTS
// ============================================================================

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		respondError(w, http.StatusBadRequest, "no files in field \"files\"")
		return
	}

	files := make([]attachment.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		mimeType, _, _ := mime.ParseMediaType(fh.Header.Get("Content-Type"))
		files = append(files, attachment.File{Name: fh.Filename, MimeType: mimeType, Data: data})
	}

	if _, err := s.ctrl.AddFiles(r.Context(), files); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"attachments": pendingSummary(s.ctrl.PendingAttachments())})
}

// attachmentSummary omits payloads, which can be megabytes of base64.
type attachmentSummary struct {
	Kind        model.AttachmentKind `json:"kind"`
	Name        string               `json:"name"`
	MimeType    string               `json:"mimeType"`
	Placeholder bool                 `json:"placeholder,omitempty"`
	Size        int                  `json:"size"`
}

func pendingSummary(atts []model.Attachment) []attachmentSummary {
	out := make([]attachmentSummary, 0, len(atts))
	for _, a := range atts {
		out = append(out, attachmentSummary{
			Kind:        a.Kind,
			Name:        a.Name,
			MimeType:    a.MimeType,
			Placeholder: a.Placeholder,
			Size:        len(a.Payload),
		})
	}
	return out
}

func (s *Server) handleClearAttachments(w http.ResponseWriter, r *http.Request) {
	s.ctrl.ClearAttachments()
	respondJSON(w, http.StatusOK, map[string]any{"attachments": []attachmentSummary{}})
}

// ============================================================================
// PREFERENCES
// ============================================================================

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.prefs.Document())
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var values map[string]any
	if err := decodeJSON(r, &values); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	delete(values, "version")
	delete(values, "lastUpdated")

	if _, err := s.prefs.Update(values); err != nil {
		var prefErr *storage.PreferenceError
		if errors.As(err, &prefErr) || errors.Is(err, storage.ErrUnknownPreference) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.prefs.Document())
}

func (s *Server) handleResetPreferences(w http.ResponseWriter, r *http.Request) {
	if _, err := s.prefs.Reset(); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.prefs.Document())
}

// ============================================================================
// IMPORT / EXPORT
// ============================================================================

func attachmentHeader(w http.ResponseWriter, filename string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
}

func (s *Server) handleExportHistory(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.ctrl.ExportHistory(&buf); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	attachmentHeader(w, historyFilename)
	w.Write(buf.Bytes())
}

// handleExportChat downloads one conversation as md, html or json.
func (s *Server) handleExportChat(w http.ResponseWriter, r *http.Request) {
	conv, err := s.ctrl.Chat(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, chatErrorStatus(err), err.Error())
		return
	}

	opts := export.DefaultOptions()
	opts.IncludeReasoning = r.URL.Query().Get("reasoning") == "true"
	if strings.Contains(s.prefs.Get().Theme, "light") {
		opts.Theme = "light"
	}
	exporter, err := export.ForFormat(r.URL.Query().Get("format"), opts)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := exporter.Export(conv)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	w.Header().Set("Content-Type", exporter.MimeType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q",
		export.Filename(conv, exporter.FileExtension(), time.Now())))
	w.Write(data)
}

func (s *Server) handleExportPreferences(w http.ResponseWriter, r *http.Request) {
	data, err := json.MarshalIndent(s.prefs.Document(), "", "  ")
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	attachmentHeader(w, preferencesFilename)
	w.Write(data)
}

func (s *Server) handleImportHistory(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	var body io.Reader = r.Body
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "multipart/form-data" {
		f, _, err := r.FormFile("file")
		if err != nil {
			respondError(w, http.StatusBadRequest, "missing file")
			return
		}
		defer f.Close()
		body = f
	}

	n, err := s.ctrl.ImportHistory(body)
	if err != nil {
		respondError(w, chatErrorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"imported": n,
		"activeId": s.ctrl.Snapshot().ActiveChatID,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.ClearAll(); err != nil {
		respondError(w, chatErrorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}
