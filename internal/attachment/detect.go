// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package attachment

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

type kind string

const (
	kindText    kind = "text"
	kindPDF     kind = "pdf"
	kindDOCX    kind = "docx"
	kindPPTX    kind = "pptx"
	kindXLSX    kind = "xlsx"
	kindCSV     kind = "csv"
	kindLegacy  kind = "legacy"
	kindUnknown kind = "unknown"
)

const (
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimePPTX = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// textExts are extensions attached verbatim whatever their sniffed type.
var textExts = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".json": true, ".xml": true,
	".yaml": true, ".yml": true, ".toml": true, ".ini": true, ".log": true,
	".html": true, ".htm": true, ".css": true, ".js": true, ".ts": true,
	".go": true, ".py": true, ".rs": true, ".java": true, ".c": true,
	".h": true, ".cpp": true, ".sh": true, ".sql": true, ".tsv": true,
}

// DetectMIME sniffs a MIME type from the first bytes of a file, falling back
// to its extension and finally to a UTF-8 check.
func DetectMIME(name string, head []byte) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".docx":
		return mimeDOCX
	case ".pptx":
		return mimePPTX
	case ".xlsx":
		return mimeXLSX
	}

	if len(head) > 512 {
		head = head[:512]
	}
	if m := http.DetectContentType(head); m != "application/octet-stream" && m != "application/zip" {
		return m
	}
	if ext != "" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			return byExt
		}
	}
	if len(head) > 0 && utf8.Valid(trimPartialRune(head)) {
		return "text/plain"
	}
	return "application/octet-stream"
}

// trimPartialRune drops a rune cut off by the sniff window.
func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		r, size := utf8.DecodeLastRune(b)
		if r != utf8.RuneError || size > 1 {
			return b
		}
		b = b[:len(b)-1]
	}
	return b
}

func classify(mimeType, ext string) kind {
	base := strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))

	switch ext {
	case ".pdf":
		return kindPDF
	case ".docx":
		return kindDOCX
	case ".pptx":
		return kindPPTX
	case ".xlsx":
		return kindXLSX
	case ".csv":
		return kindCSV
	case ".doc", ".ppt", ".xls":
		return kindLegacy
	}
	if textExts[ext] {
		return kindText
	}

	switch base {
	case "application/pdf":
		return kindPDF
	case mimeDOCX:
		return kindDOCX
	case mimePPTX:
		return kindPPTX
	case mimeXLSX:
		return kindXLSX
	case "text/csv":
		return kindCSV
	case "application/msword", "application/vnd.ms-powerpoint", "application/vnd.ms-excel":
		return kindLegacy
	case "application/json", "application/xml", "application/yaml", "application/x-yaml", "application/javascript":
		return kindText
	}
	if strings.HasPrefix(base, "text/") {
		return kindText
	}
	return kindUnknown
}
