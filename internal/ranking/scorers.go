package ranking

import (
	"math"
	"strings"
)

// QuestionScorer scores how well the question of an entry matches the query.
type QuestionScorer struct {
	config *RankingConfig
}

// NewQuestionScorer creates a new QuestionScorer.
func NewQuestionScorer(config *RankingConfig) *QuestionScorer {
	return &QuestionScorer{config: config}
}

// Score returns the raw question score and the kind of match that produced it.
func (s *QuestionScorer) Score(query *AnalyzedQuery, terms []string, question string) (float64, MatchType) {
	if len(terms) == 0 {
		return 0, MatchTypeNone
	}
	idx := newTextIndex(question)

	if strings.Join(idx.tokens, " ") == strings.Join(terms, " ") {
		return s.config.ExactQuestionScore, MatchTypeExact
	}
	for _, phrase := range query.Phrases {
		if !idx.hasPhrase(phrase) {
			return s.partial(idx, terms)
		}
	}

	matched := idx.countMatching(terms)
	if matched == len(terms) {
		if idx.inOrder(terms) {
			return s.config.AllWordsInOrderScore, MatchTypePhrase
		}
		return s.config.AllWordsAnyOrderScore, MatchTypeAllWords
	}
	return s.partial(idx, terms)
}

// partial scales the any-order score by the share of terms found, counting prefix hits
// at the lower prefix score.
func (s *QuestionScorer) partial(idx *textIndex, terms []string) (float64, MatchType) {
	matched := idx.countMatching(terms)
	prefixed := idx.prefixMatches(terms)
	if matched == 0 && prefixed == 0 {
		return 0, MatchTypeNone
	}
	n := float64(len(terms))
	score := s.config.AllWordsAnyOrderScore*float64(matched)/n + s.config.PrefixMatchScore*float64(prefixed)/n
	return score, MatchTypePartial
}

// AnswerScorer scores the answer of an entry with phrase, coverage, TF-IDF and position signals.
type AnswerScorer struct {
	config *RankingConfig
}

// NewAnswerScorer creates a new AnswerScorer.
func NewAnswerScorer(config *RankingConfig) *AnswerScorer {
	return &AnswerScorer{config: config}
}

// Score returns the raw answer score and the kind of match that produced it.
func (s *AnswerScorer) Score(query *AnalyzedQuery, terms []string, answer string, stats *CorpusStats) (float64, MatchType) {
	if len(terms) == 0 {
		return 0, MatchTypeNone
	}
	idx := newTextIndex(answer)
	matched := idx.countMatching(terms)
	if matched == 0 {
		return 0, MatchTypeNone
	}

	var (
		score     float64
		matchType MatchType
	)
	switch {
	case s.hasAllPhrases(idx, query, terms):
		score, matchType = s.config.PhraseMatchScore, MatchTypePhrase
	case matched == len(terms):
		score, matchType = s.config.AllWordsContentScore, MatchTypeAllWords
	default:
		score = s.config.ScatteredWordsScore * float64(matched) / float64(len(terms))
		matchType = MatchTypePartial
	}

	if s.config.TFIDFEnabled {
		score *= s.tfidfMultiplier(idx, terms, stats)
	}
	if s.config.PositionBoostEnabled {
		if pos := idx.firstPosition(terms); pos >= 0 && pos < s.config.PositionBoostTokens {
			score *= s.config.PositionBoostMultiplier
		}
	}
	return score, matchType
}

// hasAllPhrases reports a phrase match: every quoted phrase present, or with no quoted
// phrases, the whole query present as a contiguous run of tokens.
func (s *AnswerScorer) hasAllPhrases(idx *textIndex, query *AnalyzedQuery, terms []string) bool {
	if len(query.Phrases) == 0 {
		return len(terms) > 1 && idx.hasPhrase(strings.Join(query.Terms, " "))
	}
	for _, phrase := range query.Phrases {
		if !idx.hasPhrase(phrase) {
			return false
		}
	}
	return true
}

// tfidfMultiplier averages the TF-IDF weight of matched terms into a multiplier in
// [1, MaxTFIDFMultiplier].
func (s *AnswerScorer) tfidfMultiplier(idx *textIndex, terms []string, stats *CorpusStats) float64 {
	if len(idx.tokens) == 0 {
		return 1
	}
	var sum float64
	for _, term := range terms {
		tf := idx.counts[term]
		if tf == 0 {
			continue
		}
		sum += (1 + math.Log(float64(tf))) * stats.IDF(term)
	}
	mult := 1 + sum/float64(len(terms))/4
	return math.Min(mult, s.config.MaxTFIDFMultiplier)
}
