package ranking

// RankingConfig holds all configuration for the ranking system.
type RankingConfig struct {
	// Weights for the question and answer scorers.
	QuestionWeight float64 `yaml:"question_weight"` // default: 1.5
	AnswerWeight   float64 `yaml:"answer_weight"`   // default: 1.0

	// Question scoring values
	ExactQuestionScore    float64 `yaml:"exact_question_score"`      // default: 100
	AllWordsInOrderScore  float64 `yaml:"all_words_in_order_score"`  // default: 90
	AllWordsAnyOrderScore float64 `yaml:"all_words_any_order_score"` // default: 80
	PrefixMatchScore      float64 `yaml:"prefix_match_score"`        // default: 45

	// Answer scoring values
	PhraseMatchScore     float64 `yaml:"phrase_match_score"`      // default: 120
	AllWordsContentScore float64 `yaml:"all_words_content_score"` // default: 90
	ScatteredWordsScore  float64 `yaml:"scattered_words_score"`   // default: 70

	// TF-IDF settings
	MaxTFIDFMultiplier float64 `yaml:"max_tfidf_multiplier"` // default: 2.0
	TFIDFEnabled       bool    `yaml:"tfidf_enabled"`        // default: true

	// Position-based scoring: matches within the first PositionBoostTokens answer tokens.
	PositionBoostEnabled    bool    `yaml:"position_boost_enabled"`    // default: true
	PositionBoostTokens     int     `yaml:"position_boost_tokens"`     // default: 20
	PositionBoostMultiplier float64 `yaml:"position_boost_multiplier"` // default: 1.3

	// Query quality multipliers
	QueryQualityEnabled    bool    `yaml:"query_quality_enabled"`    // default: true
	PhraseMatchMultiplier  float64 `yaml:"phrase_match_multiplier"`  // default: 1.3
	AllWordsMultiplier     float64 `yaml:"all_words_multiplier"`     // default: 1.0
	PartialMatchMultiplier float64 `yaml:"partial_match_multiplier"` // default: 0.7
}

// DefaultRankingConfig returns the default ranking configuration.
func DefaultRankingConfig() *RankingConfig {
	return &RankingConfig{
		QuestionWeight: 1.5,
		AnswerWeight:   1.0,

		ExactQuestionScore:    100,
		AllWordsInOrderScore:  90,
		AllWordsAnyOrderScore: 80,
		PrefixMatchScore:      45,

		PhraseMatchScore:     120,
		AllWordsContentScore: 90,
		ScatteredWordsScore:  70,

		MaxTFIDFMultiplier: 2.0,
		TFIDFEnabled:       true,

		PositionBoostEnabled:    true,
		PositionBoostTokens:     20,
		PositionBoostMultiplier: 1.3,

		QueryQualityEnabled:    true,
		PhraseMatchMultiplier:  1.3,
		AllWordsMultiplier:     1.0,
		PartialMatchMultiplier: 0.7,
	}
}

// ApplyDefaults fills zero values from DefaultRankingConfig. Boolean toggles are left as set.
func (c *RankingConfig) ApplyDefaults() {
	d := DefaultRankingConfig()
	setDefault := func(v *float64, def float64) {
		if *v == 0 {
			*v = def
		}
	}
	setDefault(&c.QuestionWeight, d.QuestionWeight)
	setDefault(&c.AnswerWeight, d.AnswerWeight)
	setDefault(&c.ExactQuestionScore, d.ExactQuestionScore)
	setDefault(&c.AllWordsInOrderScore, d.AllWordsInOrderScore)
	setDefault(&c.AllWordsAnyOrderScore, d.AllWordsAnyOrderScore)
	setDefault(&c.PrefixMatchScore, d.PrefixMatchScore)
	setDefault(&c.PhraseMatchScore, d.PhraseMatchScore)
	setDefault(&c.AllWordsContentScore, d.AllWordsContentScore)
	setDefault(&c.ScatteredWordsScore, d.ScatteredWordsScore)
	setDefault(&c.MaxTFIDFMultiplier, d.MaxTFIDFMultiplier)
	setDefault(&c.PositionBoostMultiplier, d.PositionBoostMultiplier)
	setDefault(&c.PhraseMatchMultiplier, d.PhraseMatchMultiplier)
	setDefault(&c.AllWordsMultiplier, d.AllWordsMultiplier)
	setDefault(&c.PartialMatchMultiplier, d.PartialMatchMultiplier)
	if c.PositionBoostTokens == 0 {
		c.PositionBoostTokens = d.PositionBoostTokens
	}
}
