// Package ranking re-ranks knowledge base search hits with lexical signals from the
// question and answer text.
package ranking

import (
	"math"
	"strings"

	"github.com/hyperjump/neurobot/internal/models"
)

// MatchType represents the type of query match found.
type MatchType int

const (
	// MatchTypeNone indicates no match was found.
	MatchTypeNone MatchType = iota
	// MatchTypePartial indicates a partial match (some query terms matched).
	MatchTypePartial
	// MatchTypeAllWords indicates all query words matched but not as a phrase.
	MatchTypeAllWords
	// MatchTypePhrase indicates an exact phrase match or all words in order.
	MatchTypePhrase
	// MatchTypeExact indicates the question equals the query.
	MatchTypeExact
)

// String returns a string representation of the match type.
func (m MatchType) String() string {
	switch m {
	case MatchTypeNone:
		return "none"
	case MatchTypePartial:
		return "partial"
	case MatchTypeAllWords:
		return "all_words"
	case MatchTypePhrase:
		return "phrase"
	case MatchTypeExact:
		return "exact"
	default:
		return "unknown"
	}
}

// AnalyzedQuery holds the parsed and analyzed form of a search query.
type AnalyzedQuery struct {
	// Original is the original query string.
	Original string
	// Terms are the individual normalized tokens from the query.
	Terms []string
	// Phrases are exact phrase matches extracted from quoted strings.
	Phrases []string
	// NegatedTerms are terms that should be excluded (-term).
	NegatedTerms []string
}

// CorpusStats holds document frequencies of one knowledge base for IDF weighting.
type CorpusStats struct {
	TotalDocs      int
	DocFrequencies map[string]int
}

// NewCorpusStats counts, for every token, the number of entries containing it.
func NewCorpusStats(entries []models.Entry) *CorpusStats {
	stats := &CorpusStats{TotalDocs: len(entries), DocFrequencies: make(map[string]int)}
	for _, e := range entries {
		seen := make(map[string]bool)
		for _, tok := range Tokenize(e.Question + " " + e.Answer) {
			if !seen[tok] {
				seen[tok] = true
				stats.DocFrequencies[tok]++
			}
		}
	}
	return stats
}

// IDF returns a higher value for rare terms. Unknown terms count as rare.
func (c *CorpusStats) IDF(term string) float64 {
	if c == nil || c.TotalDocs == 0 {
		return 1
	}
	df := c.DocFrequencies[term]
	if df == 0 {
		df = 1
	}
	return 1 + math.Log(float64(c.TotalDocs)/float64(df))
}

// Tokenize lowercases s and splits it on anything that is not a letter or digit.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !isWordRune(r)
	})
}
