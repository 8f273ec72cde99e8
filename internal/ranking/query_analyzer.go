package ranking

import (
	"regexp"
	"strings"
	"unicode"
)

var phraseRegex = regexp.MustCompile(`"([^"]+)"`)

// QueryAnalyzer analyzes search queries to extract terms and phrases.
type QueryAnalyzer struct{}

// NewQueryAnalyzer creates a new QueryAnalyzer.
func NewQueryAnalyzer() *QueryAnalyzer {
	return &QueryAnalyzer{}
}

// Analyze parses a query string and returns an AnalyzedQuery.
func (qa *QueryAnalyzer) Analyze(query string) *AnalyzedQuery {
	result := &AnalyzedQuery{Original: query}
	remaining := qa.extractPhrases(query, result)
	qa.extractTerms(remaining, result)
	return result
}

// extractPhrases extracts double quoted phrases and returns the query without them.
func (qa *QueryAnalyzer) extractPhrases(query string, result *AnalyzedQuery) string {
	for _, match := range phraseRegex.FindAllStringSubmatch(query, -1) {
		if phrase := strings.Join(Tokenize(match[1]), " "); phrase != "" {
			result.Phrases = append(result.Phrases, phrase)
		}
	}
	return phraseRegex.ReplaceAllString(query, " ")
}

func (qa *QueryAnalyzer) extractTerms(query string, result *AnalyzedQuery) {
	for _, word := range strings.Fields(query) {
		if strings.EqualFold(word, "AND") || strings.EqualFold(word, "OR") {
			continue
		}
		if negated, ok := strings.CutPrefix(word, "-"); ok {
			result.NegatedTerms = append(result.NegatedTerms, Tokenize(negated)...)
			continue
		}
		result.Terms = append(result.Terms, Tokenize(word)...)
	}
}

// TokenizeForMatching returns the unique terms and phrase words of analyzed, in query order.
func (qa *QueryAnalyzer) TokenizeForMatching(analyzed *AnalyzedQuery) []string {
	seen := make(map[string]bool)
	tokens := make([]string, 0, len(analyzed.Terms))
	add := func(tok string) {
		if !seen[tok] {
			seen[tok] = true
			tokens = append(tokens, tok)
		}
	}
	for _, term := range analyzed.Terms {
		add(term)
	}
	for _, phrase := range analyzed.Phrases {
		for _, word := range strings.Fields(phrase) {
			add(word)
		}
	}
	return tokens
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// textIndex is the token view of one text used by the scorers.
type textIndex struct {
	tokens []string
	joined string
	counts map[string]int
}

func newTextIndex(text string) *textIndex {
	tokens := Tokenize(text)
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	return &textIndex{tokens: tokens, joined: " " + strings.Join(tokens, " ") + " ", counts: counts}
}

// countMatching counts terms present as whole tokens.
func (t *textIndex) countMatching(terms []string) int {
	n := 0
	for _, term := range terms {
		if t.counts[term] > 0 {
			n++
		}
	}
	return n
}

// hasPhrase reports whether the space-joined token sequence phrase occurs in order.
func (t *textIndex) hasPhrase(phrase string) bool {
	return phrase != "" && strings.Contains(t.joined, " "+phrase+" ")
}

// inOrder reports whether terms appear in order, not necessarily adjacent.
func (t *textIndex) inOrder(terms []string) bool {
	if len(terms) == 0 {
		return false
	}
	i := 0
	for _, tok := range t.tokens {
		if tok == terms[i] {
			i++
			if i == len(terms) {
				return true
			}
		}
	}
	return false
}

// prefixMatches counts terms that prefix some token without being equal to it.
func (t *textIndex) prefixMatches(terms []string) int {
	n := 0
	for _, term := range terms {
		if t.counts[term] > 0 {
			continue
		}
		for _, tok := range t.tokens {
			if strings.HasPrefix(tok, term) {
				n++
				break
			}
		}
	}
	return n
}

// firstPosition returns the token offset of the first matching term, or -1.
func (t *textIndex) firstPosition(terms []string) int {
	for i, tok := range t.tokens {
		for _, term := range terms {
			if tok == term {
				return i
			}
		}
	}
	return -1
}
