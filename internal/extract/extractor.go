// Package extract imports question/answer entries from uploaded documents and exports
// knowledge bases to downloadable files.
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/lu4p/cat"

	"github.com/hyperjump/neurobot/internal/kb"
	"github.com/hyperjump/neurobot/internal/models"
)

// Formats lists the accepted upload extensions.
var Formats = []string{".json", ".txt", ".md", ".pdf", ".docx", ".odt", ".rtf", ".xlsx"}

// Importer turns uploaded files into entries.
type Importer struct{}

// NewImporter returns a new Importer.
func NewImporter() *Importer {
	return &Importer{}
}

// Parse reads the upload named name and returns its entries in file order. Incomplete
// pairs are dropped. Unsupported formats and files without any pair are kb.ErrInvalid.
func (im *Importer) Parse(name string, content []byte) ([]models.Entry, error) {
	ext := strings.ToLower(filepath.Ext(name))
	var (
		entries []models.Entry
		err     error
	)
	switch ext {
	case ".json":
		entries, err = parseJSON(content)
	case ".xlsx":
		entries, err = parseXLSX(content)
	case ".txt", ".md", ".pdf", ".docx", ".odt", ".rtf":
		var text string
		text, err = im.ExtractText(content, ext)
		if err == nil {
			entries = ParseBlocks(text)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q (accepted: %s)", kb.ErrInvalid, ext, strings.Join(Formats, ", "))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", kb.ErrInvalid, filepath.Base(name), err)
	}
	entries = complete(entries)
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no question/answer pairs found in %s", kb.ErrInvalid, filepath.Base(name))
	}
	return entries, nil
}

// ExtractText returns the plain text of a document. ext includes the leading dot.
func (im *Importer) ExtractText(content []byte, ext string) (string, error) {
	switch ext {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".odt", ".rtf":
		text, err := cat.FromBytes(content)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", strings.TrimPrefix(ext, "."), err)
		}
		return text, nil
	default:
		return extractPlain(content), nil
	}
}

func complete(in []models.Entry) []models.Entry {
	out := in[:0]
	for _, e := range in {
		if e.Validate() == nil {
			out = append(out, e.Normalize())
		}
	}
	return out
}

// parseJSON accepts the knowledge.json layout, a bare array of {question, answer}.
func parseJSON(content []byte) ([]models.Entry, error) {
	var entries []models.Entry
	if err := json.Unmarshal(bytes.TrimPrefix(content, []byte("\xef\xbb\xbf")), &entries); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return entries, nil
}

// extractPlain returns content as a string with invalid UTF-8 replaced.
func extractPlain(content []byte) string {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "�")
	}
	return string(content)
}

func extractPDF(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open PDF: %w", err)
	}
	var buf bytes.Buffer
	numPages := r.NumPage()
	for i := 0; i < numPages; i++ {
		page := r.Page(i + 1)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return "", fmt.Errorf("extract page %d: %w", i+1, err)
		}
		for _, row := range rows {
			for _, word := range row.Content {
				buf.WriteString(word.S)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String(), nil
}
