// Package cli provides output helpers for the neurobot command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/neurobot/internal/kb"
	"github.com/hyperjump/neurobot/internal/models"
	"github.com/hyperjump/neurobot/pkg/utils"
)

// OutputFormat is the format of command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one line per result.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts text, compact or json.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
	}
}

// answerPreview bounds answers in text output.
const answerPreview = 200

// WriteSearchResults writes search results to w in the given format.
// Unknown formats fall back to text.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for _, r := range response.Results {
			fmt.Fprintf(w, "%d\t%.4f\t%s\n", r.Rank, r.Score, utils.CollapseSpace(r.Question))
		}
		return nil
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d results in %dms (knowledge base %s)\n\n", response.Total, response.QueryTime, response.KBID)
	for _, r := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f (Keyword: %.4f, Semantic: %.4f)\n",
			r.Rank, r.Score, r.KeywordScore, r.SemanticScore)
		fmt.Fprintf(w, "Q: %s\n", r.Question)
		fmt.Fprintf(w, "A: %s\n\n", utils.Truncate(r.Answer, answerPreview))
	}
}

// WriteSyncStats reports the outcome of syncing loc.
func WriteSyncStats(w io.Writer, loc kb.Location, stats kb.SyncStats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]any{"knowledge_base": loc.ID, "root": loc.Root, "sync": stats})
	}
	if stats.NoOp {
		fmt.Fprintf(w, "%s: up to date (%d vectors)\n", loc.ID, stats.Vectors)
		return nil
	}
	fmt.Fprintf(w, "%s: +%d -%d ~%d, %d vectors", loc.ID, stats.Added, stats.Removed, stats.Changed, stats.Vectors)
	if stats.Orphans > 0 {
		fmt.Fprintf(w, ", %d orphans", stats.Orphans)
	}
	if stats.Rebuilt {
		fmt.Fprint(w, ", rebuilt")
	}
	fmt.Fprintf(w, " in %s\n", stats.Duration.Round(time.Millisecond))
	return nil
}

// WriteKnowledgeBases lists the knowledge bases of a tenant, marking the current one.
func WriteKnowledgeBases(w io.Writer, list []kb.Summary, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, list)
	}
	for _, s := range list {
		mark := " "
		if s.IsCurrent {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %-24s %-32s %5d entries\n", mark, s.ID, s.Name, s.DocumentCount)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
