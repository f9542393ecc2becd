// Package store defines the domain model shared by the chronicle engine
// components: versioned memories, search queries, and search results.
package store

import (
	"time"
)

// MemoryType is the enumerated category of a memory.
type MemoryType string

const (
	MemoryTypeEvent      MemoryType = "event"
	MemoryTypeEmotion    MemoryType = "emotion"
	MemoryTypeReflection MemoryType = "reflection"
)

// PrivacyLevel governs whether downstream consumers must treat content as
// sensitive.
type PrivacyLevel string

const (
	PrivacyPrivate PrivacyLevel = "private"
	PrivacyShared  PrivacyLevel = "shared"
	PrivacyPublic  PrivacyLevel = "public"
)

// VersionPreference records whether the user wants the latest version or a
// pinned one as the active projection.
type VersionPreference string

const (
	PreferLatest VersionPreference = "latest"
	PreferPinned VersionPreference = "pinned"
)

// NarrativeElements are the optional story attributes extracted from a
// version's content.
type NarrativeElements struct {
	Characters   []string `json:"characters,omitempty"`
	StoryBeat    string   `json:"storyBeat,omitempty"`
	ConflictType string   `json:"conflictType,omitempty"`
	Theme        string   `json:"theme,omitempty"`
	Setting      string   `json:"setting,omitempty"`
	Mood         string   `json:"mood,omitempty"`
}

// MemoryVersion is an immutable snapshot of a memory's content at one point
// in time. Versions are created exactly once per content change and never
// edited or deleted.
type MemoryVersion struct {
	ID                string            `json:"id"`
	Timestamp         time.Time         `json:"timestamp"`
	EmotionalTone     string            `json:"emotionalTone,omitempty"`
	Content           string            `json:"content"`
	Context           string            `json:"context,omitempty"`
	NarrativeElements NarrativeElements `json:"narrativeElements"`
	// Confidence is in [0,1].
	Confidence float64 `json:"confidence"`
}

// ResolutionAction is a resolution chosen or suggested for a contradiction.
type ResolutionAction string

const (
	ResolutionReplace ResolutionAction = "replace"
	ResolutionLayer   ResolutionAction = "layer"
	ResolutionExplore ResolutionAction = "explore"
	ResolutionMerge   ResolutionAction = "merge"
	ResolutionIgnore  ResolutionAction = "ignore"
)

// ContradictionType is the axis along which two memories conflict.
type ContradictionType string

const (
	ContradictionTimeline  ContradictionType = "timeline"
	ContradictionEmotion   ContradictionType = "emotion"
	ContradictionFact      ContradictionType = "fact"
	ContradictionCharacter ContradictionType = "character"
)

// Severity grades a contradiction.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ContradictionRef is the durable projection of a detected contradiction,
// denormalized onto the memory record.
type ContradictionRef struct {
	ID          string            `json:"id"`
	MemoryID    string            `json:"memoryId"`
	Type        ContradictionType `json:"type"`
	Description string            `json:"description"`
	Resolution  ResolutionAction  `json:"resolution,omitempty"`
	ResolvedAt  *time.Time        `json:"resolvedAt,omitempty"`
}

// NarrativeAnalysis carries derived narrative fields, recomputed
// opportunistically and not guaranteed fresh.
type NarrativeAnalysis struct {
	PlotProgression string    `json:"plotProgression,omitempty"`
	Coherence       float64   `json:"coherence,omitempty"`
	EmotionalArc    string    `json:"emotionalArc,omitempty"`
	AnalyzedAt      time.Time `json:"analyzedAt,omitempty"`
}

// Memory is an evolving narrative unit. Its Versions slice is an append-only
// log; Content mirrors the content of the version identified by
// ActiveVersion after every completed update.
type Memory struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	// Content is the denormalized active text kept for fast reads; engine
	// code derives the canonical value via ActiveContent.
	Content string `json:"content"`
	// Embedding is absent on records fetched purely from the graph path.
	Embedding          []float32          `json:"embedding,omitempty"`
	Type               MemoryType         `json:"type"`
	DocumentIDs        []string           `json:"documentIds,omitempty"`
	Timestamp          time.Time          `json:"timestamp"`
	Versions           []MemoryVersion    `json:"versions"`
	ActiveVersion      string             `json:"activeVersion"`
	UserPreference     VersionPreference  `json:"userPreference"`
	Contradictions     []ContradictionRef `json:"contradictions,omitempty"`
	PrivacyLevel       PrivacyLevel       `json:"privacyLevel"`
	EncryptionRequired bool               `json:"encryptionRequired"`
	NarrativeAnalysis  *NarrativeAnalysis `json:"narrativeAnalysis,omitempty"`
}

// FilterOperator is the closed set of operators supported by field filters.
type FilterOperator string

const (
	FilterEq       FilterOperator = "eq"
	FilterNeq      FilterOperator = "neq"
	FilterIn       FilterOperator = "in"
	FilterNin      FilterOperator = "nin"
	FilterContains FilterOperator = "contains"
)

// FieldFilter constrains a search by one field.
type FieldFilter struct {
	Field    string         `json:"field"`
	Operator FilterOperator `json:"operator"`
	Value    any            `json:"value"`
}

// TimeRange bounds a search in time. Zero values mean unbounded.
type TimeRange struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// Contains reports whether t falls inside the range.
func (r *TimeRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// ContextQuery is the input to memory search.
type ContextQuery struct {
	Query         string        `json:"query"`
	UserID        string        `json:"userId"`
	DocumentID    string        `json:"documentId,omitempty"`
	TimeRange     *TimeRange    `json:"timeRange,omitempty"`
	Filters       []FieldFilter `json:"filters,omitempty"`
	MaxResults    int           `json:"maxResults,omitempty"`
	IncludeVector bool          `json:"includeVector,omitempty"`
	IncludeGraph  bool          `json:"includeGraph,omitempty"`
}

const (
	// DefaultMaxResults applies when a query does not set a result cap.
	DefaultMaxResults = 10
	// MaxResultsCeiling bounds the result cap regardless of the query.
	MaxResultsCeiling = 100
)

// Normalize applies the default and ceiling result caps, returning the
// effective cap without mutating the query.
func (q *ContextQuery) Normalize() int {
	if q.MaxResults <= 0 {
		return DefaultMaxResults
	}
	if q.MaxResults > MaxResultsCeiling {
		return MaxResultsCeiling
	}
	return q.MaxResults
}

// GraphRelationship is a relationship edge flattened out of the graph store.
type GraphRelationship struct {
	ID         string         `json:"id"`
	FromNodeID string         `json:"fromNodeId"`
	ToNodeID   string         `json:"toNodeId"`
	Type       string         `json:"type"`
	Weight     float64        `json:"weight"`
	Properties map[string]any `json:"properties,omitempty"`
}

// SearchSource tags which backend(s) produced a search result.
type SearchSource string

const (
	SourceVector SearchSource = "vector"
	SourceGraph  SearchSource = "graph"
	SourceHybrid SearchSource = "hybrid"
)

// ScoredMemory pairs a memory with its relevance for ordering.
type ScoredMemory struct {
	Memory    *Memory `json:"memory"`
	Relevance float64 `json:"relevance"`
}

// MemorySearchResult is the output of a search: memories ordered by
// descending relevance plus any related graph relationships.
type MemorySearchResult struct {
	Memories      []ScoredMemory      `json:"memories"`
	Relationships []GraphRelationship `json:"relationships,omitempty"`
	TotalCount    int                 `json:"totalCount"`
	QueryTime     time.Duration       `json:"queryTime"`
	Source        SearchSource        `json:"source"`
}

// RoutingStrategy is the decision of which backend(s) answer a query.
type RoutingStrategy string

const (
	StrategyVectorOnly       RoutingStrategy = "vector_only"
	StrategyGraphOnly        RoutingStrategy = "graph_only"
	StrategyHybridParallel   RoutingStrategy = "hybrid_parallel"
	StrategyHybridSequential RoutingStrategy = "hybrid_sequential"
)

// RoutingDecision is the ephemeral outcome of query routing. Reasoning is
// for observability only.
type RoutingDecision struct {
	UseVector  bool            `json:"useVector"`
	UseGraph   bool            `json:"useGraph"`
	Strategy   RoutingStrategy `json:"strategy"`
	Confidence float64         `json:"confidence"`
	Reasoning  string          `json:"reasoning"`
}
