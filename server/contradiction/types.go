package contradiction

import (
	"time"

	"github.com/lifeink/chronicle/store"
)

// EnhancedContradiction is one detected inconsistency between the analyzed
// memory and a prior one, enriched with a resolution suggestion.
type EnhancedContradiction struct {
	ID                  string                  `json:"id"`
	MemoryID            string                  `json:"memoryId"`
	ConflictingMemoryID string                  `json:"conflictingMemoryId"`
	Type                store.ContradictionType `json:"type"`
	Description         string                  `json:"description"`
	Severity            store.Severity          `json:"severity"`
	Confidence          float64                 `json:"confidence"`
	Evidence            []string                `json:"evidence,omitempty"`
	Suggestion          *ResolutionSuggestion   `json:"suggestion,omitempty"`
}

// ResolutionSuggestion proposes how the user might reconcile a contradiction.
type ResolutionSuggestion struct {
	Action     store.ResolutionAction `json:"action"`
	Reasoning  string                 `json:"reasoning"`
	Confidence float64                `json:"confidence"`
}

// DetectionResult is the outcome of analyzing one memory against its
// semantic neighbors.
type DetectionResult struct {
	Contradictions    []EnhancedContradiction `json:"contradictions"`
	OverallConfidence float64                 `json:"overallConfidence"`
	CandidatesChecked int                     `json:"candidatesChecked"`
	AnalyzedAt        time.Time               `json:"analyzedAt"`
}

// Stats summarizes a user's contradiction history.
type Stats struct {
	Detected     int64                             `json:"detected"`
	Resolved     int64                             `json:"resolved"`
	Unresolved   int64                             `json:"unresolved"`
	ByType       map[store.ContradictionType]int64 `json:"byType"`
	BySeverity   map[store.Severity]int64          `json:"bySeverity"`
	ByResolution map[store.ResolutionAction]int64  `json:"byResolution"`
}

// ToneLexicon classifies emotional-tone tags into sentiment categories. The
// word lists are deployment configuration, not code.
type ToneLexicon struct {
	Positive []string
	Negative []string
}

// DefaultToneLexicon covers common English tone tags.
func DefaultToneLexicon() ToneLexicon {
	return ToneLexicon{
		Positive: []string{"happy", "joyful", "excited", "content", "warm", "hopeful", "grateful", "proud", "peaceful"},
		Negative: []string{"sad", "angry", "anxious", "afraid", "bitter", "lonely", "ashamed", "resentful", "grief"},
	}
}

type sentiment int

const (
	sentimentNeutral sentiment = iota
	sentimentPositive
	sentimentNegative
)

func (l ToneLexicon) classify(tone string) sentiment {
	for _, word := range l.Positive {
		if word == tone {
			return sentimentPositive
		}
	}
	for _, word := range l.Negative {
		if word == tone {
			return sentimentNegative
		}
	}
	return sentimentNeutral
}

// DefaultTemporalKeywords mark content as carrying a temporal claim.
func DefaultTemporalKeywords() []string {
	return []string{"yesterday", "today", "tomorrow", "last week", "last month", "last year", "ago", "when i was", "back then", "at the time"}
}
