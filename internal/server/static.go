// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"embed"
	"io/fs"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/jeranaias/rigrun-web/internal/format"
)

//go:embed static
var staticFiles embed.FS

func staticFS() fs.FS {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

func staticHandler() http.Handler {
	return http.StripPrefix("/static/", http.FileServer(http.FS(staticFS())))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(staticFS(), "index.html")
	if err != nil {
		respondError(w, http.StatusInternalServerError, "page missing")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

var (
	codeCSSOnce sync.Once
	codeCSS     []byte
)

func (s *Server) handleCodeCSS(w http.ResponseWriter, r *http.Request) {
	codeCSSOnce.Do(func() {
		var buf bytes.Buffer
		if err := format.WriteCodeCSS(&buf); err != nil {
			log.Warn("CODE_CSS_FAILED", "err", err)
		}
		codeCSS = buf.Bytes()
	})
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Write(codeCSS)
}
