package contradiction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeink/chronicle/plugin/ai"
	"github.com/lifeink/chronicle/store"
)

// fixedFinder returns a canned neighbor list.
type fixedFinder struct {
	neighbors []store.ScoredMemory
	err       error
}

func (f *fixedFinder) FindSimilar(context.Context, *store.Memory, float64, int) ([]store.ScoredMemory, error) {
	return f.neighbors, f.err
}

func memoryWithTone(content, tone string, at time.Time, characters ...string) *store.Memory {
	memory := store.NewMemory("user-1", content, store.MemoryTypeEmotion)
	memory.Timestamp = at
	memory.Versions[0].Timestamp = at
	memory.Versions[0].EmotionalTone = tone
	memory.Versions[0].NarrativeElements.Characters = characters
	return memory
}

func newEngine(finder SimilarityFinder, llm ai.LLMService) *Engine {
	return NewEngine(finder, llm, DefaultConfig(), nil)
}

func TestNoNeighborsMeansNoContradictions(t *testing.T) {
	engine := newEngine(&fixedFinder{}, &ai.MockLLMService{})

	result, err := engine.DetectContradictions(context.Background(), memoryWithTone("a fresh start", "hopeful", time.Now()))
	require.NoError(t, err)

	assert.Empty(t, result.Contradictions)
	assert.Equal(t, 1.0, result.OverallConfidence)
	assert.Equal(t, 0, result.CandidatesChecked)
}

func TestEmotionalCrossingWeeksApartIsHighSeverity(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	prior := memoryWithTone("the wedding was wonderful", "joyful", base)
	current := memoryWithTone("the wedding still stings", "bitter", base.Add(14*24*time.Hour))

	engine := newEngine(&fixedFinder{neighbors: []store.ScoredMemory{{Memory: prior, Relevance: 0.9}}},
		&ai.MockLLMService{Err: assert.AnError})

	result, err := engine.DetectContradictions(context.Background(), current)
	require.NoError(t, err)

	require.Len(t, result.Contradictions, 1)
	finding := result.Contradictions[0]
	assert.Equal(t, store.ContradictionEmotion, finding.Type)
	assert.Equal(t, store.SeverityHigh, finding.Severity)
	assert.Equal(t, prior.ID, finding.ConflictingMemoryID)
}

func TestEmotionalCrossingWithinDaysIsMedium(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	prior := memoryWithTone("furious after the call", "angry", base)
	current := memoryWithTone("we laughed about the call", "happy", base.Add(2*24*time.Hour))

	engine := newEngine(&fixedFinder{neighbors: []store.ScoredMemory{{Memory: prior, Relevance: 0.9}}},
		&ai.MockLLMService{Err: assert.AnError})

	result, err := engine.DetectContradictions(context.Background(), current)
	require.NoError(t, err)

	require.Len(t, result.Contradictions, 1)
	assert.Equal(t, store.SeverityMedium, result.Contradictions[0].Severity)
}

func TestTimelineCheckRequiresTemporalClaimsOnBothSides(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	prior := memoryWithTone("yesterday we moved into the house", "", base)
	current := memoryWithTone("yesterday we moved into the house, I am sure", "", base.Add(72*time.Hour))

	engine := newEngine(&fixedFinder{neighbors: []store.ScoredMemory{{Memory: prior, Relevance: 0.9}}},
		&ai.MockLLMService{Err: assert.AnError})

	result, err := engine.DetectContradictions(context.Background(), current)
	require.NoError(t, err)
	require.Len(t, result.Contradictions, 1)
	assert.Equal(t, store.ContradictionTimeline, result.Contradictions[0].Type)
	assert.Equal(t, store.SeverityMedium, result.Contradictions[0].Severity)

	// Without a temporal phrase in the new memory, no timeline finding.
	plain := memoryWithTone("we moved into the house", "", base.Add(72*time.Hour))
	result, err = engine.DetectContradictions(context.Background(), plain)
	require.NoError(t, err)
	assert.Empty(t, result.Contradictions)
}

func TestFactualFindingsComeFromSemanticService(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	prior := memoryWithTone("my grandfather died in 1998", "", base)
	current := memoryWithTone("my grandfather died in 2003", "", base.Add(48*time.Hour))

	llm := &ai.MockLLMService{Responses: []string{
		`[{"type":"fact","description":"conflicting death years","severity":"high","confidence":0.9,"evidence":["1998","2003"]}]`,
		`{"action":"explore","reasoning":"check records","confidence":0.8}`,
	}}
	engine := newEngine(&fixedFinder{neighbors: []store.ScoredMemory{{Memory: prior, Relevance: 0.95}}}, llm)

	result, err := engine.DetectContradictions(context.Background(), current)
	require.NoError(t, err)

	require.Len(t, result.Contradictions, 1)
	finding := result.Contradictions[0]
	assert.Equal(t, store.ContradictionFact, finding.Type)
	assert.Equal(t, store.SeverityHigh, finding.Severity)
	assert.Equal(t, 0.9, finding.Confidence)
	require.NotNil(t, finding.Suggestion)
	assert.Equal(t, store.ResolutionExplore, finding.Suggestion.Action)
	assert.Equal(t, 0.8, finding.Suggestion.Confidence)
}

func TestCharacterCheckOnlyRunsWithSharedCharacters(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	prior := memoryWithTone("Anna was generous that summer", "", base, "Anna")
	unrelated := memoryWithTone("Ben hiked alone", "", base, "Ben")
	current := memoryWithTone("Anna never shared anything", "", base.Add(48*time.Hour), "Anna")

	llm := &ai.MockLLMService{Responses: []string{`[]`}}
	engine := newEngine(&fixedFinder{neighbors: []store.ScoredMemory{
		{Memory: prior, Relevance: 0.9},
		{Memory: unrelated, Relevance: 0.8},
	}}, llm)

	_, err := engine.DetectContradictions(context.Background(), current)
	require.NoError(t, err)

	// Two factual prompts (one per neighbor) plus one character prompt for
	// the shared-character neighbor only.
	assert.Len(t, llm.Prompts, 3)
}

func TestLowConfidenceFindingsAreFiltered(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	prior := memoryWithTone("the house was blue", "", base)
	current := memoryWithTone("the house was green", "", base.Add(48*time.Hour))

	llm := &ai.MockLLMService{Responses: []string{
		`[{"type":"fact","description":"house color differs","severity":"low","confidence":0.2}]`,
	}}
	config := DefaultConfig()
	config.MinConfidence = 0.5
	engine := NewEngine(&fixedFinder{neighbors: []store.ScoredMemory{{Memory: prior, Relevance: 0.9}}}, llm, config, nil)

	result, err := engine.DetectContradictions(context.Background(), current)
	require.NoError(t, err)
	assert.Empty(t, result.Contradictions)

	for _, finding := range result.Contradictions {
		assert.GreaterOrEqual(t, finding.Confidence, config.MinConfidence)
	}
}

func TestSuggestionFallsBackDeterministically(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	prior := memoryWithTone("so proud that day", "proud", base)
	current := memoryWithTone("ashamed of that day", "ashamed", base.Add(30*24*time.Hour))

	engine := newEngine(&fixedFinder{neighbors: []store.ScoredMemory{{Memory: prior, Relevance: 0.9}}},
		&ai.MockLLMService{Err: assert.AnError})

	result, err := engine.DetectContradictions(context.Background(), current)
	require.NoError(t, err)

	require.Len(t, result.Contradictions, 1)
	suggestion := result.Contradictions[0].Suggestion
	require.NotNil(t, suggestion)
	assert.Equal(t, store.ResolutionLayer, suggestion.Action)
	assert.Equal(t, 0.5, suggestion.Confidence)
}

func TestOverallConfidenceBoostedByHighSeverity(t *testing.T) {
	contradictions := []EnhancedContradiction{
		{Severity: store.SeverityMedium, Confidence: 0.6},
		{Severity: store.SeverityHigh, Confidence: 0.6},
	}
	assert.InDelta(t, 0.72, overallConfidence(contradictions), 1e-9)

	// Without a high-severity finding, no boost.
	contradictions[1].Severity = store.SeverityLow
	assert.InDelta(t, 0.6, overallConfidence(contradictions), 1e-9)

	// Boost caps at 1.0.
	capped := []EnhancedContradiction{{Severity: store.SeverityHigh, Confidence: 0.95}}
	assert.Equal(t, 1.0, overallConfidence(capped))
}

func TestResolveContradictionAppendsVersionOnReplace(t *testing.T) {
	engine := newEngine(&fixedFinder{}, &ai.MockLLMService{})
	memory := memoryWithTone("the old account", "", time.Now())
	memory.Contradictions = []store.ContradictionRef{{
		ID:       "c-1",
		MemoryID: memory.ID,
		Type:     store.ContradictionFact,
	}}

	require.NoError(t, engine.ResolveContradiction(memory, "c-1", store.ResolutionReplace, "the corrected account"))

	assert.Len(t, memory.Versions, 2)
	assert.Equal(t, "the corrected account", memory.Content)
	require.NotNil(t, memory.Contradictions[0].ResolvedAt)
	assert.Equal(t, store.ResolutionReplace, memory.Contradictions[0].Resolution)

	// Resolving twice is rejected.
	assert.Error(t, engine.ResolveContradiction(memory, "c-1", store.ResolutionIgnore, ""))
	// Unknown ids are rejected.
	assert.Error(t, engine.ResolveContradiction(memory, "missing", store.ResolutionIgnore, ""))
}

func TestStatsTrackDetectionsAndResolutions(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	prior := memoryWithTone("joyful reunion", "joyful", base)
	current := memoryWithTone("bitter reunion", "bitter", base.Add(30*24*time.Hour))

	engine := newEngine(&fixedFinder{neighbors: []store.ScoredMemory{{Memory: prior, Relevance: 0.9}}},
		&ai.MockLLMService{Err: assert.AnError})

	_, err := engine.DetectContradictions(context.Background(), current)
	require.NoError(t, err)

	stats := engine.GetContradictionStats("user-1")
	assert.Equal(t, int64(1), stats.Detected)
	assert.Equal(t, int64(0), stats.Resolved)
	assert.Equal(t, int64(1), stats.Unresolved)
	assert.Equal(t, int64(1), stats.ByType[store.ContradictionEmotion])
	assert.Equal(t, int64(1), stats.BySeverity[store.SeverityHigh])

	current.Contradictions = []store.ContradictionRef{{ID: "c-1", MemoryID: current.ID, Type: store.ContradictionEmotion}}
	require.NoError(t, engine.ResolveContradiction(current, "c-1", store.ResolutionLayer, ""))

	stats = engine.GetContradictionStats("user-1")
	assert.Equal(t, int64(1), stats.Resolved)
	assert.Equal(t, int64(0), stats.Unresolved)
	assert.Equal(t, int64(1), stats.ByResolution[store.ResolutionLayer])

	// Unknown users get zeroed stats, not an error.
	empty := engine.GetContradictionStats("user-2")
	assert.Zero(t, empty.Detected)
}
