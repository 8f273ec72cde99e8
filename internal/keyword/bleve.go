package keyword

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/neurobot/internal/entryid"
	"github.com/hyperjump/neurobot/internal/models"
)

const (
	fieldQuestion = "question"
	fieldAnswer   = "answer"
)

var _ Index = (*BleveIndex)(nil)

// BleveIndex implements Index with an in-memory Bleve index. Knowledge bases are small and
// their entries file is the source of truth, so the index is rebuilt from entries rather than persisted.
type BleveIndex struct {
	index bleve.Index
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) works for mixed-language entries;
	// language analyzers would stem Cyrillic and Latin text inconsistently.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(fieldQuestion, textFieldMapping)
	docMapping.AddFieldMappingsAt(fieldAnswer, textFieldMapping)
	im.AddDocumentMapping("entry", docMapping)
	im.DefaultType = "entry"
	im.DefaultMapping = docMapping
	return im
}

// NewMemIndex creates an empty in-memory index.
func NewMemIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Build creates an in-memory index holding entries, keyed by entryid.Make(question).
func Build(ctx context.Context, entries []models.Entry) (*BleveIndex, error) {
	b, err := NewMemIndex()
	if err != nil {
		return nil, err
	}
	batch := b.index.NewBatch()
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			_ = b.Close()
			return nil, err
		}
		if err := batch.Index(docID(entryid.Make(e.Question)), document(e)); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("failed to index entry: %w", err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to index entries: %w", err)
	}
	return b, nil
}

func docID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func document(e models.Entry) map[string]interface{} {
	return map[string]interface{}{
		fieldQuestion: e.Question,
		fieldAnswer:   e.Answer,
	}
}

// Index indexes an entry under id, replacing any previous document.
func (b *BleveIndex) Index(ctx context.Context, id int64, e models.Entry) error {
	return b.index.Index(docID(id), document(e))
}

// Delete removes the document stored under id.
func (b *BleveIndex) Delete(ctx context.Context, id int64) error {
	return b.index.Delete(docID(id))
}

// DocCount returns the number of indexed entries.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close releases the index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// Search returns up to limit entries matching query.
// Question and answer matches are merged additively, with question scores multiplied by
// QuestionBoost. For multi-term queries, entries matching only some terms are penalized by
// (matched/total)^2, and entries containing the query as a phrase are multiplied by PhraseBoost.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]Result, error) {
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	questionBoost := 1.0
	phraseBoost := 1.0
	fuzzyEnabled := false
	fuzziness := 2
	if opts != nil {
		if opts.QuestionBoost > 0 {
			questionBoost = opts.QuestionBoost
		}
		if opts.PhraseBoost > 0 {
			phraseBoost = opts.PhraseBoost
		}
		fuzzyEnabled = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}
	terms := tokenizeQuery(query)

	questionScores, err := b.fieldScores(ctx, b.buildQuery(query, fuzzyEnabled, fuzziness, fieldQuestion), reqSize)
	if err != nil {
		return nil, err
	}
	answerScores, err := b.fieldScores(ctx, b.buildQuery(query, fuzzyEnabled, fuzziness, fieldAnswer), reqSize)
	if err != nil {
		return nil, err
	}

	coverage := map[string]int{}
	if len(terms) > 1 {
		coverage = b.termCoverage(ctx, terms, reqSize, fuzzyEnabled, fuzziness)
	}
	phrases := map[string]bool{}
	if phraseBoost > 1 && len(terms) > 1 {
		phrases = b.phraseMatches(ctx, query, reqSize)
	}

	scores := make(map[string]float64, len(questionScores)+len(answerScores))
	for id, s := range questionScores {
		scores[id] += s * questionBoost
	}
	for id, s := range answerScores {
		scores[id] += s
	}
	for id := range scores {
		if len(terms) > 1 {
			matched := coverage[id]
			if matched == 0 {
				matched = 1
			}
			c := float64(matched) / float64(len(terms))
			scores[id] *= c * c
		}
		if phrases[id] {
			scores[id] *= phraseBoost
		}
	}

	out := make([]Result, 0, len(scores))
	for key, s := range scores {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Result{ID: id, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *BleveIndex) fieldScores(ctx context.Context, q blevequery.Query, size int) (map[string]float64, error) {
	req := bleve.NewSearchRequest(q)
	req.Size = size
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	scores := make(map[string]float64, len(res.Hits))
	for _, hit := range res.Hits {
		scores[hit.ID] = hit.Score
	}
	return scores, nil
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildQuery returns a match query on field, or a disjunction of per-term fuzzy queries.
func (b *BleveIndex) buildQuery(queryStr string, fuzzy bool, fuzziness int, field string) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	if !fuzzy || len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		mq.SetField(field)
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// termCoverage counts how many query terms each entry matches in any field.
func (b *BleveIndex) termCoverage(ctx context.Context, terms []string, size int, fuzzy bool, fuzziness int) map[string]int {
	coverage := make(map[string]int)
	for _, term := range terms {
		var q blevequery.Query
		if fuzzy {
			fq := bleve.NewFuzzyQuery(term)
			fq.SetFuzziness(fuzziness)
			q = fq
		} else {
			q = bleve.NewMatchQuery(term)
		}
		req := bleve.NewSearchRequest(q)
		req.Size = size
		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			continue
		}
		for _, hit := range res.Hits {
			coverage[hit.ID]++
		}
	}
	return coverage
}

// phraseMatches returns the entries containing query as a phrase in either field.
func (b *BleveIndex) phraseMatches(ctx context.Context, query string, size int) map[string]bool {
	matches := make(map[string]bool)
	for _, field := range []string{fieldQuestion, fieldAnswer} {
		pq := bleve.NewMatchPhraseQuery(query)
		pq.SetField(field)
		req := bleve.NewSearchRequest(pq)
		req.Size = size
		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			continue
		}
		for _, hit := range res.Hits {
			matches[hit.ID] = true
		}
	}
	return matches
}
