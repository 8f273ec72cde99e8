package ranking

import (
	"math"
	"slices"

	"github.com/hyperjump/neurobot/internal/models"
)

// Ranker computes a lexical relevance score for entries against one query.
type Ranker struct {
	config         *RankingConfig
	analyzer       *QueryAnalyzer
	questionScorer *QuestionScorer
	answerScorer   *AnswerScorer
}

// NewRanker creates a ranker. A nil config uses DefaultRankingConfig.
func NewRanker(config *RankingConfig) *Ranker {
	if config == nil {
		config = DefaultRankingConfig()
	}
	return &Ranker{
		config:         config,
		analyzer:       NewQueryAnalyzer(),
		questionScorer: NewQuestionScorer(config),
		answerScorer:   NewAnswerScorer(config),
	}
}

// Scored is the lexical evaluation of one entry.
type Scored struct {
	Score     float64
	MatchType MatchType
}

// Query is an analyzed query bound to the corpus it is ranked against.
type Query struct {
	ranker   *Ranker
	analyzed *AnalyzedQuery
	terms    []string
	stats    *CorpusStats
}

// Prepare analyzes query once for scoring many entries of the same knowledge base.
func (r *Ranker) Prepare(query string, corpus []models.Entry) *Query {
	analyzed := r.analyzer.Analyze(query)
	return &Query{
		ranker:   r,
		analyzed: analyzed,
		terms:    r.analyzer.TokenizeForMatching(analyzed),
		stats:    NewCorpusStats(corpus),
	}
}

// Score returns the normalized lexical score of e in [0,1]. Entries containing a
// negated term score 0.
func (q *Query) Score(e models.Entry) Scored {
	if len(q.terms) == 0 {
		return Scored{}
	}
	if len(q.analyzed.NegatedTerms) > 0 {
		idx := newTextIndex(e.Question + " " + e.Answer)
		if idx.countMatching(q.analyzed.NegatedTerms) > 0 {
			return Scored{}
		}
	}

	cfg := q.ranker.config
	qScore, qType := q.ranker.questionScorer.Score(q.analyzed, q.terms, e.Question)
	aScore, aType := q.ranker.answerScorer.Score(q.analyzed, q.terms, e.Answer, q.stats)

	qNorm := math.Min(qScore/cfg.ExactQuestionScore, 1)
	aMax := cfg.PhraseMatchScore
	if cfg.TFIDFEnabled {
		aMax *= cfg.MaxTFIDFMultiplier
	}
	if cfg.PositionBoostEnabled {
		aMax *= cfg.PositionBoostMultiplier
	}
	aNorm := math.Min(aScore/aMax, 1)

	score := (cfg.QuestionWeight*qNorm + cfg.AnswerWeight*aNorm) / (cfg.QuestionWeight + cfg.AnswerWeight)
	matchType := max(qType, aType)
	if cfg.QueryQualityEnabled {
		score *= q.ranker.qualityMultiplier(matchType)
	}
	return Scored{Score: math.Min(score, 1), MatchType: matchType}
}

func (r *Ranker) qualityMultiplier(m MatchType) float64 {
	switch m {
	case MatchTypeExact, MatchTypePhrase:
		return r.config.PhraseMatchMultiplier
	case MatchTypeAllWords:
		return r.config.AllWordsMultiplier
	case MatchTypePartial:
		return r.config.PartialMatchMultiplier
	default:
		return 0
	}
}

// Blend mixes the lexical score into each result's score with weight w, then re-sorts
// by the blended score and renumbers ranks. Results must carry Question and Answer.
func (q *Query) Blend(results []*models.SearchResult, w float64) {
	if w <= 0 || len(results) == 0 {
		return
	}
	w = math.Min(w, 1)
	for _, r := range results {
		lex := q.Score(models.Entry{Question: r.Question, Answer: r.Answer})
		r.Score = (1-w)*r.Score + w*lex.Score
	}
	slices.SortStableFunc(results, func(a, b *models.SearchResult) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	for i, r := range results {
		r.Rank = i + 1
	}
}
