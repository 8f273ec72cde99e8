package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/neurobot/internal/config"
	"github.com/hyperjump/neurobot/internal/indexer"
	"github.com/hyperjump/neurobot/internal/kb"
	"github.com/hyperjump/neurobot/internal/keyword"
	"github.com/hyperjump/neurobot/internal/metrics"
	"github.com/hyperjump/neurobot/internal/models"
	"github.com/hyperjump/neurobot/internal/ranking"
	"github.com/hyperjump/neurobot/pkg/utils"
)

// Engine runs hybrid (keyword + semantic) search over knowledge base snapshots.
type Engine struct {
	syncer  *indexer.Synchronizer
	config  *config.SearchConfig
	ranker  *ranking.Ranker
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = utils.LoggerOrNop(l) }
}

// WithMetrics records search latency in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a search engine reading snapshots from syncer.
func NewEngine(syncer *indexer.Synchronizer, cfg *config.SearchConfig, opts ...Option) *Engine {
	e := &Engine{syncer: syncer, config: cfg, ranker: ranking.NewRanker(nil), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search runs query against the knowledge base at loc. Both legs read the same snapshot,
// so keyword and semantic hits always resolve against one committed version of the entries.
func (e *Engine) Search(ctx context.Context, loc kb.Location, query *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	if err := query.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", kb.ErrInvalid, err)
	}

	snap, err := e.syncer.Snapshot(ctx, loc)
	if err != nil {
		return nil, err
	}

	keywordWeight, semanticWeight := e.weights(query)
	candidates := e.config.TopKCandidates
	if candidates < query.Limit {
		candidates = query.Limit
	}

	var (
		keywordResults  []keyword.Result
		semanticResults []*models.SearchResult
	)
	g, gctx := errgroup.WithContext(ctx)
	if query.KeywordEnabled {
		g.Go(func() error {
			idx, err := snap.Keyword(gctx)
			if err != nil {
				return fmt.Errorf("keyword index failed: %w", err)
			}
			results, err := idx.Search(gctx, query.Query, candidates, &keyword.SearchOptions{
				QuestionBoost: e.config.QuestionBoost,
				PhraseBoost:   e.config.PhraseBoost,
				FuzzyEnabled:  query.FuzzyEnabled,
			})
			if err != nil {
				return fmt.Errorf("keyword search failed: %w", err)
			}
			keywordResults = results
			return nil
		})
	}
	if query.SemanticEnabled {
		g.Go(func() error {
			results, err := e.syncer.SearchSnapshot(gctx, snap, query.Query, candidates)
			if err != nil {
				return err
			}
			semanticResults = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := Fuse(NormalizeKeywordScores(keywordResults), SemanticScores(semanticResults), keywordWeight, semanticWeight)
	if query.MinScore > 0 {
		filtered := fused[:0]
		for _, r := range fused {
			if r.Score >= query.MinScore {
				filtered = append(filtered, r)
			}
		}
		fused = filtered
	}

	results := make([]*models.SearchResult, 0, len(fused))
	for _, r := range fused {
		entry, ok := snap.Resolve(r.ID)
		if !ok {
			continue
		}
		results = append(results, &models.SearchResult{
			ID:            r.ID,
			Question:      entry.Question,
			Answer:        entry.Answer,
			Score:         r.Score,
			KeywordScore:  r.KeywordScore,
			SemanticScore: r.SemanticScore,
			Rank:          len(results) + 1,
		})
	}
	if e.config.RankingWeight > 0 {
		e.ranker.Prepare(query.Query, snap.Entries()).Blend(results, e.config.RankingWeight)
	}

	response := &models.SearchResponse{
		KBID:    loc.ID,
		Query:   query.Query,
		Results: results[:min(len(results), query.Limit)],
		Total:   len(results),
	}
	elapsed := time.Since(startTime)
	response.QueryTime = elapsed.Milliseconds()
	e.metrics.RecordSearch("hybrid", elapsed)
	e.logger.Debug("hybrid search",
		zap.String("kb", loc.ID),
		zap.Int("keyword_hits", len(keywordResults)),
		zap.Int("semantic_hits", len(semanticResults)),
		zap.Int("total", response.Total))
	return response, nil
}

// weights returns the fusion weights: the configured pair when both legs run,
// otherwise full weight on the single enabled leg.
func (e *Engine) weights(q *models.SearchQuery) (float64, float64) {
	switch {
	case q.KeywordEnabled && q.SemanticEnabled:
		return e.config.KeywordWeight, e.config.SemanticWeight
	case q.KeywordEnabled:
		return 1, 0
	default:
		return 0, 1
	}
}
