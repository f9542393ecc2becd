// Package queryengine decides, per search query, which retrieval backends
// to consult. The heuristic is deterministic keyword matching, not ML, so
// the same query text and hints always produce the same decision.
package queryengine

import (
	"strings"

	"github.com/lifeink/chronicle/store"
)

// Keywords are the trigger terms for each routing signal. They are injected
// configuration rather than constants so deployments can localize or tune
// them without a rebuild.
type Keywords struct {
	Relationship []string
	Structure    []string
	Content      []string
}

// DefaultKeywords covers common English memoir phrasing.
func DefaultKeywords() Keywords {
	return Keywords{
		Relationship: []string{"character", "relationship", "family", "between"},
		Structure:    []string{"theme", "plot", "narrative", "chapter"},
		Content:      []string{"said", "felt", "happened", "remember"},
	}
}

// Router maps queries to routing decisions.
type Router struct {
	keywords Keywords
}

func NewRouter(keywords Keywords) *Router {
	return &Router{keywords: keywords}
}

// DetermineRouting picks a retrieval strategy for the query. Explicit backend
// hints win outright; otherwise the query text is scanned for relationship,
// structure, and content signals. Pure function of its input.
func (r *Router) DetermineRouting(query *store.ContextQuery) store.RoutingDecision {
	if query.IncludeVector && query.IncludeGraph {
		return store.RoutingDecision{
			UseVector:  true,
			UseGraph:   true,
			Strategy:   store.StrategyHybridParallel,
			Confidence: 1.0,
			Reasoning:  "both backends explicitly requested",
		}
	}
	if query.IncludeGraph {
		return store.RoutingDecision{
			UseGraph:   true,
			Strategy:   store.StrategyGraphOnly,
			Confidence: 1.0,
			Reasoning:  "graph backend explicitly requested",
		}
	}
	if query.IncludeVector {
		return store.RoutingDecision{
			UseVector:  true,
			Strategy:   store.StrategyVectorOnly,
			Confidence: 1.0,
			Reasoning:  "vector backend explicitly requested",
		}
	}

	text := strings.ToLower(query.Query)
	hasRelationship := containsAny(text, r.keywords.Relationship)
	hasStructure := containsAny(text, r.keywords.Structure)

	switch {
	case hasRelationship && hasStructure:
		return store.RoutingDecision{
			UseVector:  true,
			UseGraph:   true,
			Strategy:   store.StrategyHybridParallel,
			Confidence: 0.85,
			Reasoning:  "relationship and structure terms present",
		}
	case hasRelationship:
		return store.RoutingDecision{
			UseGraph:   true,
			Strategy:   store.StrategyGraphOnly,
			Confidence: 0.75,
			Reasoning:  "relationship terms present",
		}
	case hasStructure:
		return store.RoutingDecision{
			UseGraph:   true,
			Strategy:   store.StrategyGraphOnly,
			Confidence: 0.75,
			Reasoning:  "structure terms present",
		}
	case containsAny(text, r.keywords.Content):
		return store.RoutingDecision{
			UseVector:  true,
			Strategy:   store.StrategyVectorOnly,
			Confidence: 0.7,
			Reasoning:  "content terms present",
		}
	default:
		return store.RoutingDecision{
			UseVector:  true,
			Strategy:   store.StrategyVectorOnly,
			Confidence: 0.5,
			Reasoning:  "no routing signal, defaulting to semantic search",
		}
	}
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if term != "" && strings.Contains(text, strings.ToLower(term)) {
			return true
		}
	}
	return false
}
