package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/hyperjump/neurobot/internal/kb"
	"github.com/hyperjump/neurobot/internal/models"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

// Export renders entries in format and returns the body with its content type.
func Export(entries []models.Entry, format string) ([]byte, string, error) {
	switch strings.ToLower(format) {
	case "", FormatJSON:
		body, err := ExportJSON(entries)
		return body, "application/json", err
	case FormatXLSX:
		body, err := ExportXLSX(entries)
		return body, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", err
	default:
		return nil, "", fmt.Errorf("%w: unsupported export format %q", kb.ErrInvalid, format)
	}
}

// ExportJSON renders entries in the knowledge.json layout without escaping HTML or
// non-ASCII text.
func ExportJSON(entries []models.Entry) ([]byte, error) {
	if entries == nil {
		entries = []models.Entry{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return nil, fmt.Errorf("encode entries: %w", err)
	}
	return buf.Bytes(), nil
}

// DownloadName returns "<safe kb name>_knowledge.<format>". Only letters, digits, spaces,
// dashes and underscores survive; spaces become underscores.
func DownloadName(kbName, format string) string {
	var b strings.Builder
	for _, r := range kbName {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	safe := strings.ReplaceAll(strings.TrimRight(b.String(), " "), " ", "_")
	if safe == "" {
		safe = "knowledge_base"
	}
	if format == "" {
		format = FormatJSON
	}
	return safe + "_knowledge." + strings.ToLower(format)
}
