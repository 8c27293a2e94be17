// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package attachment

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// maxZipEntry bounds a single decompressed part of an Office file.
const maxZipEntry = 64 << 20

var (
	errNoText    = errors.New("no extractable text")
	errEntrySize = errors.New("archive entry too large")

	slidePattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
)

func extractDocument(k kind, data []byte) (string, error) {
	switch k {
	case kindPDF:
		return extractPDF(data)
	case kindDOCX:
		return extractDOCX(data)
	case kindPPTX:
		return extractPPTX(data)
	case kindXLSX:
		return extractXLSX(data)
	case kindCSV:
		return extractCSV(data)
	}
	return "", fmt.Errorf("unsupported document kind %q", k)
}

// =============================================================================
// PDF
// =============================================================================

func extractPDF(data []byte) (text string, err error) {
	// The PDF reader panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	rdr, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var pages []string
	for i := 1; i <= rdr.NumPage(); i++ {
		pg := rdr.Page(i)
		if pg.V.IsNull() {
			continue
		}
		txt, err := pg.GetPlainText(nil)
		if err != nil {
			continue
		}
		if s := strings.TrimSpace(txt); s != "" {
			pages = append(pages, s)
		}
	}
	if len(pages) == 0 {
		return "", errNoText
	}
	return strings.Join(pages, "\n\n"), nil
}

// =============================================================================
// OFFICE OPEN XML
// =============================================================================

func openZip(data []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("not an office document: %w", err)
	}
	return zr, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxZipEntry {
		return nil, errEntrySize
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, maxZipEntry))
}

func findEntry(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// paragraphText walks WordprocessingML or DrawingML and returns the text of
// the t elements, one line per p element.
func paragraphText(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		b      strings.Builder
		line   strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				line.WriteByte('\t')
			case "br", "cr":
				line.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if s := strings.TrimRight(line.String(), " \t"); s != "" {
					b.WriteString(s)
					b.WriteByte('\n')
				}
				line.Reset()
			}
		case xml.CharData:
			if inText {
				line.Write(t)
			}
		}
	}
	if line.Len() > 0 {
		b.WriteString(line.String())
	}
	return strings.TrimSpace(b.String()), nil
}

func extractDOCX(data []byte) (string, error) {
	zr, err := openZip(data)
	if err != nil {
		return "", err
	}
	f := findEntry(zr, "word/document.xml")
	if f == nil {
		return "", errors.New("word/document.xml missing")
	}
	raw, err := readEntry(f)
	if err != nil {
		return "", err
	}
	text, err := paragraphText(raw)
	if err != nil {
		return "", fmt.Errorf("parse docx: %w", err)
	}
	if text == "" {
		return "", errNoText
	}
	return text, nil
}

type numberedEntry struct {
	n int
	f *zip.File
}

func numberedEntries(zr *zip.Reader, pattern *regexp.Regexp) []numberedEntry {
	var out []numberedEntry
	for _, f := range zr.File {
		m := pattern.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, numberedEntry{n: n, f: f})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].n < out[j].n })
	return out
}

func extractPPTX(data []byte) (string, error) {
	zr, err := openZip(data)
	if err != nil {
		return "", err
	}
	slides := numberedEntries(zr, slidePattern)
	if len(slides) == 0 {
		return "", errors.New("no slides found")
	}

	var parts []string
	for _, s := range slides {
		raw, err := readEntry(s.f)
		if err != nil {
			return "", err
		}
		text, err := paragraphText(raw)
		if err != nil {
			return "", fmt.Errorf("parse slide %d: %w", s.n, err)
		}
		if text == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("--- Slide %d ---\n%s", s.n, text))
	}
	if len(parts) == 0 {
		return "", errNoText
	}
	return strings.Join(parts, "\n\n"), nil
}

func extractXLSX(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data), excelize.Options{
		UnzipSizeLimit:    4 * maxZipEntry,
		UnzipXMLSizeLimit: maxZipEntry,
	})
	if err != nil {
		return "", fmt.Errorf("not a spreadsheet: %w", err)
	}
	defer f.Close()

	var parts []string
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", name, err)
		}
		var lines []string
		for _, row := range rows {
			if line := strings.TrimRight(strings.Join(row, "\t"), "\t"); line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("--- Sheet: %s ---\n%s", name, strings.Join(lines, "\n")))
	}
	if len(parts) == 0 {
		return "", errNoText
	}
	return strings.Join(parts, "\n\n"), nil
}

// =============================================================================
// CSV
// =============================================================================

func extractCSV(data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows []string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse csv: %w", err)
		}
		rows = append(rows, strings.Join(rec, "\t"))
	}
	if len(rows) == 0 {
		return "", errNoText
	}
	return strings.Join(rows, "\n"), nil
}
