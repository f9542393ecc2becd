package orchestrator

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/lifeink/chronicle/internal/errors"
	"github.com/lifeink/chronicle/internal/observability"
	"github.com/lifeink/chronicle/store"
)

// relevanceBoost rewards a memory surfacing in both backends.
const relevanceBoost = 1.2

// SearchOption adjusts one search call.
type SearchOption func(*searchSettings)

type searchSettings struct {
	strategy store.RoutingStrategy
}

// WithStrategy bypasses the routing heuristic with an explicit strategy.
// This is the only path to hybrid_sequential, which the heuristic never
// selects on its own.
func WithStrategy(strategy store.RoutingStrategy) SearchOption {
	return func(s *searchSettings) { s.strategy = strategy }
}

// SearchMemories answers a query from the cache when possible, otherwise
// routes it to one or both backends and synthesizes the results.
func (o *Orchestrator) SearchMemories(ctx context.Context, query *store.ContextQuery, opts ...SearchOption) (*store.MemorySearchResult, error) {
	if query == nil || query.UserID == "" {
		return nil, errors.InvalidArgument("query userID is required")
	}
	reqCtx := observability.NewRequestContext(o.logger, "search_memories", query.UserID)
	var settings searchSettings
	for _, opt := range opts {
		opt(&settings)
	}

	decision := o.router.DetermineRouting(query)
	if settings.strategy != "" {
		decision = store.RoutingDecision{
			UseVector:  settings.strategy != store.StrategyGraphOnly,
			UseGraph:   settings.strategy != store.StrategyVectorOnly,
			Strategy:   settings.strategy,
			Confidence: 1.0,
			Reasoning:  "strategy forced by caller",
		}
	}

	if cached, ok := o.cache.GetCachedSearchResults(ctx, query); ok {
		o.metrics.recordSearch(decision.Strategy, 0, true)
		return cached, nil
	}

	start := time.Now()
	result, err := o.executeSearch(ctx, query, decision)
	if err != nil {
		return nil, err
	}

	o.cache.CacheSearchResults(ctx, query, result)
	o.metrics.recordSearch(decision.Strategy, time.Since(start), false)
	reqCtx.Debug("search completed",
		slog.String(observability.LogFieldStrategy, string(decision.Strategy)),
		slog.Int("results", result.TotalCount),
		slog.String("reasoning", decision.Reasoning),
		slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))
	return result, nil
}

func (o *Orchestrator) executeSearch(ctx context.Context, query *store.ContextQuery, decision store.RoutingDecision) (*store.MemorySearchResult, error) {
	switch decision.Strategy {
	case store.StrategyGraphOnly:
		return o.graph.Search(ctx, query)
	case store.StrategyHybridParallel:
		return o.searchParallel(ctx, query)
	case store.StrategyHybridSequential:
		return o.searchSequential(ctx, query)
	default:
		return o.vector.Search(ctx, query)
	}
}

type branchResult struct {
	result *store.MemorySearchResult
	err    error
	source store.SearchSource
}

// searchParallel issues both backend searches concurrently. One failing
// branch degrades to the other's results; both failing fails the search.
func (o *Orchestrator) searchParallel(ctx context.Context, query *store.ContextQuery) (*store.MemorySearchResult, error) {
	results := make(chan branchResult, 2)
	go func() {
		result, err := o.vector.Search(ctx, query)
		results <- branchResult{result: result, err: err, source: store.SourceVector}
	}()
	go func() {
		result, err := o.graph.Search(ctx, query)
		results <- branchResult{result: result, err: err, source: store.SourceGraph}
	}()

	var vectorResult, graphResult *store.MemorySearchResult
	var firstErr error
	for i := 0; i < 2; i++ {
		branch := <-results
		if branch.err != nil {
			o.logger.Warn("search branch failed",
				slog.String("source", string(branch.source)),
				slog.String("error", branch.err.Error()))
			if firstErr == nil {
				firstErr = branch.err
			}
			continue
		}
		if branch.source == store.SourceVector {
			vectorResult = branch.result
		} else {
			graphResult = branch.result
		}
	}

	switch {
	case vectorResult != nil && graphResult != nil:
		return synthesize(vectorResult, graphResult, query.Normalize()), nil
	case vectorResult != nil:
		return vectorResult, nil
	case graphResult != nil:
		return graphResult, nil
	default:
		return nil, firstErr
	}
}

// searchSequential tries the vector backend first and consults the graph
// backend only when the vector results fall under half the requested cap.
func (o *Orchestrator) searchSequential(ctx context.Context, query *store.ContextQuery) (*store.MemorySearchResult, error) {
	vectorResult, err := o.vector.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	limit := query.Normalize()
	if len(vectorResult.Memories)*2 >= limit {
		return vectorResult, nil
	}

	graphResult, err := o.graph.Search(ctx, query)
	if err != nil {
		o.logger.Warn("graph fallback failed, returning vector results",
			slog.String("error", err.Error()))
		return vectorResult, nil
	}
	return synthesize(vectorResult, graphResult, limit), nil
}

// synthesize unions two result sets by memory id. A memory present in both
// gets its relevance boosted by 20% (capped at 1.0); relationships are
// concatenated unchanged; queryTime is the max of the branch latencies since
// they ran concurrently.
func synthesize(vectorResult, graphResult *store.MemorySearchResult, limit int) *store.MemorySearchResult {
	merged := make(map[string]store.ScoredMemory, len(vectorResult.Memories)+len(graphResult.Memories))
	order := make([]string, 0, len(vectorResult.Memories)+len(graphResult.Memories))

	for _, scored := range vectorResult.Memories {
		if _, seen := merged[scored.Memory.ID]; !seen {
			order = append(order, scored.Memory.ID)
		}
		merged[scored.Memory.ID] = scored
	}
	for _, scored := range graphResult.Memories {
		if existing, seen := merged[scored.Memory.ID]; seen {
			boosted := existing.Relevance * relevanceBoost
			if boosted > 1.0 {
				boosted = 1.0
			}
			existing.Relevance = boosted
			merged[scored.Memory.ID] = existing
			continue
		}
		order = append(order, scored.Memory.ID)
		merged[scored.Memory.ID] = scored
	}

	memories := make([]store.ScoredMemory, 0, len(order))
	for _, id := range order {
		memories = append(memories, merged[id])
	}
	sort.SliceStable(memories, func(i, j int) bool {
		return memories[i].Relevance > memories[j].Relevance
	})
	if len(memories) > limit {
		memories = memories[:limit]
	}

	queryTime := vectorResult.QueryTime
	if graphResult.QueryTime > queryTime {
		queryTime = graphResult.QueryTime
	}

	relationships := make([]store.GraphRelationship, 0, len(vectorResult.Relationships)+len(graphResult.Relationships))
	relationships = append(relationships, vectorResult.Relationships...)
	relationships = append(relationships, graphResult.Relationships...)

	return &store.MemorySearchResult{
		Memories:      memories,
		Relationships: relationships,
		TotalCount:    len(memories),
		QueryTime:     queryTime,
		Source:        store.SourceHybrid,
	}
}
