package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/neurobot/internal/kb"
	"github.com/hyperjump/neurobot/internal/models"
)

func sampleResponse() *models.SearchResponse {
	return &models.SearchResponse{
		KBID:      "default",
		Query:     "refund",
		QueryTime: 42,
		Total:     2,
		Results: []*models.SearchResult{
			{ID: 1, Rank: 1, Score: 0.9, KeywordScore: 0.9, Question: "How do I get a refund?", Answer: "Write to support & wait."},
			{ID: 2, Rank: 2, Score: 0.4, SemanticScore: 0.4, Question: "Refund   policy\n", Answer: strings.Repeat("x", 300)},
		},
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"JSON", OutputJSON, false},
		{" compact ", OutputCompact, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestWriteSearchResults_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResponse(), OutputJSON); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "support & wait") {
		t.Errorf("html escaped output:\n%s", buf.String())
	}
	var decoded models.SearchResponse
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Total != 2 || decoded.KBID != "default" || decoded.Results[0].Question != "How do I get a refund?" {
		t.Errorf("decoded: %+v", decoded)
	}
}

func TestWriteSearchResults_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResponse(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"Found 2 results", "42ms", "knowledge base default", "Rank: 1", "Q: How do I get a refund?", "A: Write to support"} {
		if !strings.Contains(out, sub) {
			t.Errorf("text output missing %q:\n%s", sub, out)
		}
	}
	if strings.Contains(out, strings.Repeat("x", 201)) {
		t.Error("long answer not truncated")
	}
}

func TestWriteSearchResults_compact(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResponse(), OutputCompact); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || lines[1] != "2\t0.4000\tRefund policy" {
		t.Errorf("compact lines: %q", lines)
	}
}

func TestWriteSearchResults_unknownFormatTreatedAsText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, &models.SearchResponse{}, OutputFormat("unknown")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Found 0 results") {
		t.Errorf("unknown format should fall back to text; got %q", buf.String())
	}
}

func TestWriteSyncStats(t *testing.T) {
	loc := kb.Location{Root: "/data/acme", ID: "sales"}
	tests := []struct {
		name  string
		stats kb.SyncStats
		want  string
	}{
		{"noop", kb.SyncStats{NoOp: true, Vectors: 4}, "sales: up to date (4 vectors)\n"},
		{"changes", kb.SyncStats{Added: 2, Removed: 1, Changed: 3, Vectors: 7, Duration: 1500 * time.Microsecond}, "sales: +2 -1 ~3, 7 vectors in 2ms\n"},
		{"rebuilt", kb.SyncStats{Added: 1, Orphans: 2, Rebuilt: true, Vectors: 1, Duration: time.Second}, "sales: +1 -0 ~0, 1 vectors, 2 orphans, rebuilt in 1s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteSyncStats(&buf, loc, tt.stats, OutputText); err != nil {
				t.Fatal(err)
			}
			if buf.String() != tt.want {
				t.Errorf("got %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestWriteKnowledgeBases(t *testing.T) {
	list := []kb.Summary{
		{Info: kb.Info{ID: "default", Name: "Default", DocumentCount: 3}},
		{Info: kb.Info{ID: "sales", Name: "Sales", DocumentCount: 1}, IsCurrent: true},
	}
	var buf bytes.Buffer
	if err := WriteKnowledgeBases(&buf, list, OutputText); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "* sales") || !strings.HasPrefix(lines[0], "  default") {
		t.Errorf("lines: %q", lines)
	}
}
