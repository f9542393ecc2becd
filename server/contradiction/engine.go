// Package contradiction detects and tracks inconsistencies between a user's
// memories. Deterministic timeline and emotional checks always run; factual
// and character checks lean on the semantic analysis service and silently
// yield nothing when it fails, so one broken sub-check never aborts the rest.
package contradiction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lifeink/chronicle/internal/errors"
	"github.com/lifeink/chronicle/plugin/ai"
	"github.com/lifeink/chronicle/store"
)

// SimilarityFinder is the slice of the similarity adapter the engine needs.
type SimilarityFinder interface {
	FindSimilar(ctx context.Context, memory *store.Memory, threshold float64, limit int) ([]store.ScoredMemory, error)
}

// Config tunes the detection pipeline.
type Config struct {
	// SimilarCandidates caps how many semantic neighbors are analyzed.
	SimilarCandidates int
	// SimilarityThreshold is the minimum similarity for a neighbor to count.
	SimilarityThreshold float64
	// MinConfidence filters weak findings out of the final result.
	MinConfidence float64
	// TimelineWindow is the timestamp gap beyond which co-temporal claims
	// conflict.
	TimelineWindow time.Duration

	TemporalKeywords []string
	Lexicon          ToneLexicon
}

func DefaultConfig() Config {
	return Config{
		SimilarCandidates:   5,
		SimilarityThreshold: 0.75,
		MinConfidence:       0.5,
		TimelineWindow:      24 * time.Hour,
		TemporalKeywords:    DefaultTemporalKeywords(),
		Lexicon:             DefaultToneLexicon(),
	}
}

const (
	timelineConfidence  = 0.6
	emotionalConfidence = 0.7
	// emotionalRecencyWindow separates high from medium severity crossings.
	emotionalRecencyWindow = 7 * 24 * time.Hour
	fallbackSuggestionConf = 0.5
	highSeverityBoost      = 1.2
)

type userStats struct {
	detected     int64
	resolved     int64
	byType       map[store.ContradictionType]int64
	bySeverity   map[store.Severity]int64
	byResolution map[store.ResolutionAction]int64
}

func newUserStats() *userStats {
	return &userStats{
		byType:       make(map[store.ContradictionType]int64),
		bySeverity:   make(map[store.Severity]int64),
		byResolution: make(map[store.ResolutionAction]int64),
	}
}

// Engine runs the detection pipeline and tracks per-user outcomes.
type Engine struct {
	finder SimilarityFinder
	llm    ai.LLMService
	config Config
	logger *slog.Logger

	mu    sync.Mutex
	stats map[string]*userStats
}

func NewEngine(finder SimilarityFinder, llm ai.LLMService, config Config, logger *slog.Logger) *Engine {
	if config.SimilarCandidates <= 0 {
		config.SimilarCandidates = DefaultConfig().SimilarCandidates
	}
	if config.TimelineWindow <= 0 {
		config.TimelineWindow = DefaultConfig().TimelineWindow
	}
	if len(config.TemporalKeywords) == 0 {
		config.TemporalKeywords = DefaultTemporalKeywords()
	}
	if len(config.Lexicon.Positive) == 0 && len(config.Lexicon.Negative) == 0 {
		config.Lexicon = DefaultToneLexicon()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		finder: finder,
		llm:    llm,
		config: config,
		logger: logger,
		stats:  make(map[string]*userStats),
	}
}

// DetectContradictions scores a memory against its semantic neighbors. A
// memory with no close neighbors is trivially consistent.
func (e *Engine) DetectContradictions(ctx context.Context, memory *store.Memory) (*DetectionResult, error) {
	neighbors, err := e.finder.FindSimilar(ctx, memory, e.config.SimilarityThreshold, e.config.SimilarCandidates)
	if err != nil {
		return nil, errors.BackendUnavailable("similarity", err)
	}

	result := &DetectionResult{
		Contradictions:    []EnhancedContradiction{},
		CandidatesChecked: len(neighbors),
		AnalyzedAt:        time.Now().UTC(),
	}
	if len(neighbors) == 0 {
		result.OverallConfidence = 1.0
		return result, nil
	}

	var findings []EnhancedContradiction
	for _, neighbor := range neighbors {
		prior := neighbor.Memory
		findings = append(findings, e.checkTimeline(memory, prior)...)
		findings = append(findings, e.checkEmotional(memory, prior)...)
		findings = append(findings, e.checkFactual(ctx, memory, prior)...)
		findings = append(findings, e.checkCharacter(ctx, memory, prior)...)
	}

	for _, finding := range findings {
		if finding.Confidence < e.config.MinConfidence {
			continue
		}
		finding.Suggestion = e.suggestResolution(ctx, memory, finding)
		result.Contradictions = append(result.Contradictions, finding)
	}

	result.OverallConfidence = overallConfidence(result.Contradictions)
	e.recordDetected(memory.UserID, result.Contradictions)
	return result, nil
}

// ResolveContradiction marks a contradiction on the memory as resolved. For
// replace and merge resolutions with replacement text, a new version is
// appended so the original account stays in the log.
func (e *Engine) ResolveContradiction(memory *store.Memory, contradictionID string, action store.ResolutionAction, newContent string) error {
	for i := range memory.Contradictions {
		ref := &memory.Contradictions[i]
		if ref.ID != contradictionID {
			continue
		}
		if ref.ResolvedAt != nil {
			return errors.InvalidArgument("contradiction already resolved")
		}

		if (action == store.ResolutionReplace || action == store.ResolutionMerge) && newContent != "" {
			memory.AppendVersion(newContent, fmt.Sprintf("resolved %s contradiction", ref.Type), "", store.NarrativeElements{}, 1.0)
		}
		now := time.Now().UTC()
		ref.Resolution = action
		ref.ResolvedAt = &now
		e.recordResolved(memory.UserID, action)
		return nil
	}
	return errors.NotFound("contradiction", contradictionID)
}

// GetContradictionStats reports the user's running totals.
func (e *Engine) GetContradictionStats(userID string) Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := Stats{
		ByType:       make(map[store.ContradictionType]int64),
		BySeverity:   make(map[store.Severity]int64),
		ByResolution: make(map[store.ResolutionAction]int64),
	}
	entry, ok := e.stats[userID]
	if !ok {
		return stats
	}
	stats.Detected = entry.detected
	stats.Resolved = entry.resolved
	stats.Unresolved = entry.detected - entry.resolved
	if stats.Unresolved < 0 {
		stats.Unresolved = 0
	}
	for contradictionType, count := range entry.byType {
		stats.ByType[contradictionType] = count
	}
	for severity, count := range entry.bySeverity {
		stats.BySeverity[severity] = count
	}
	for action, count := range entry.byResolution {
		stats.ByResolution[action] = count
	}
	return stats
}

// checkTimeline flags memories that both make temporal claims yet sit
// further apart than the configured window.
func (e *Engine) checkTimeline(memory, prior *store.Memory) []EnhancedContradiction {
	if !e.hasTemporalClaim(memory) || !e.hasTemporalClaim(prior) {
		return nil
	}
	gap := memory.Timestamp.Sub(prior.Timestamp)
	if gap < 0 {
		gap = -gap
	}
	if gap <= e.config.TimelineWindow {
		return nil
	}
	return []EnhancedContradiction{{
		ID:                  uuid.NewString(),
		MemoryID:            memory.ID,
		ConflictingMemoryID: prior.ID,
		Type:                store.ContradictionTimeline,
		Description:         fmt.Sprintf("temporal claims %s apart exceed the %s window", gap.Round(time.Hour), e.config.TimelineWindow),
		Severity:            store.SeverityMedium,
		Confidence:          timelineConfidence,
	}}
}

// checkEmotional flags positive/negative tone crossings. A crossing inside
// the recency window reads as a mood swing (medium); a settled feeling
// contradicted weeks later is the serious case (high).
func (e *Engine) checkEmotional(memory, prior *store.Memory) []EnhancedContradiction {
	current := e.config.Lexicon.classify(latestTone(memory))
	previous := e.config.Lexicon.classify(latestTone(prior))
	crossing := (current == sentimentPositive && previous == sentimentNegative) ||
		(current == sentimentNegative && previous == sentimentPositive)
	if !crossing {
		return nil
	}

	gap := memory.Timestamp.Sub(prior.Timestamp)
	if gap < 0 {
		gap = -gap
	}
	severity := store.SeverityMedium
	if gap > emotionalRecencyWindow {
		severity = store.SeverityHigh
	}
	return []EnhancedContradiction{{
		ID:                  uuid.NewString(),
		MemoryID:            memory.ID,
		ConflictingMemoryID: prior.ID,
		Type:                store.ContradictionEmotion,
		Description:         fmt.Sprintf("emotional tone flipped between %q and %q", latestTone(prior), latestTone(memory)),
		Severity:            severity,
		Confidence:          emotionalConfidence,
	}}
}

// llmFinding is the shape the semantic analysis service is asked to return.
type llmFinding struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Severity    string   `json:"severity"`
	Confidence  float64  `json:"confidence"`
	Evidence    []string `json:"evidence"`
}

const factualSystemPrompt = `You compare two personal memoir passages and list factual contradictions between them.
Respond with a JSON array of objects: {"type":"fact","description":...,"severity":"low|medium|high","confidence":0..1,"evidence":[...]}.
Respond with [] when the passages are consistent.`

const characterSystemPrompt = `You compare how two personal memoir passages portray the same people and list contradictions in those portrayals.
Respond with a JSON array of objects: {"type":"character","description":...,"severity":"low|medium|high","confidence":0..1,"evidence":[...]}.
Respond with [] when the portrayals are consistent.`

func (e *Engine) checkFactual(ctx context.Context, memory, prior *store.Memory) []EnhancedContradiction {
	return e.checkSemantic(ctx, memory, prior, factualSystemPrompt, store.ContradictionFact)
}

// checkCharacter only runs when the two memories mention a common character.
func (e *Engine) checkCharacter(ctx context.Context, memory, prior *store.Memory) []EnhancedContradiction {
	if !sharesCharacter(memory, prior) {
		return nil
	}
	return e.checkSemantic(ctx, memory, prior, characterSystemPrompt, store.ContradictionCharacter)
}

// checkSemantic delegates to the semantic analysis service. Any failure,
// including malformed output, degrades to no finding.
func (e *Engine) checkSemantic(ctx context.Context, memory, prior *store.Memory, systemPrompt string, contradictionType store.ContradictionType) []EnhancedContradiction {
	current, _ := memory.ActiveContent()
	previous, _ := prior.ActiveContent()
	user := fmt.Sprintf("Earlier memory (%s):\n%s\n\nNew memory (%s):\n%s",
		prior.Timestamp.Format(time.DateOnly), previous,
		memory.Timestamp.Format(time.DateOnly), current)

	raw, err := e.llm.Complete(ctx, systemPrompt, user)
	if err != nil {
		e.logger.Warn("semantic check skipped",
			slog.String("type", string(contradictionType)),
			slog.String("error", err.Error()))
		return nil
	}

	var parsed []llmFinding
	if !ai.ParseJSONObject(raw, &parsed) {
		e.logger.Warn("semantic check returned malformed output",
			slog.String("type", string(contradictionType)))
		return nil
	}

	findings := make([]EnhancedContradiction, 0, len(parsed))
	for _, finding := range parsed {
		if finding.Description == "" {
			continue
		}
		findings = append(findings, EnhancedContradiction{
			ID:                  uuid.NewString(),
			MemoryID:            memory.ID,
			ConflictingMemoryID: prior.ID,
			Type:                contradictionType,
			Description:         finding.Description,
			Severity:            severityFrom(finding.Severity),
			Confidence:          clamp01(finding.Confidence),
			Evidence:            finding.Evidence,
		})
	}
	return findings
}

const suggestionSystemPrompt = `You help a memoir writer reconcile a contradiction between two of their memories.
Respond with a JSON object {"action":"replace|layer|explore|merge|ignore","reasoning":...,"confidence":0..1}.`

// suggestResolution asks the semantic analysis service for advice, falling
// back to a deterministic default when it fails.
func (e *Engine) suggestResolution(ctx context.Context, memory *store.Memory, finding EnhancedContradiction) *ResolutionSuggestion {
	content, _ := memory.ActiveContent()
	user := fmt.Sprintf("Contradiction (%s, %s severity): %s\n\nMemory text:\n%s",
		finding.Type, finding.Severity, finding.Description, content)

	raw, err := e.llm.Complete(ctx, suggestionSystemPrompt, user)
	if err == nil {
		var suggestion ResolutionSuggestion
		if ai.ParseJSONObject(raw, &suggestion) && validAction(suggestion.Action) {
			suggestion.Confidence = clamp01(suggestion.Confidence)
			return &suggestion
		}
	}

	action := store.ResolutionExplore
	if finding.Type == store.ContradictionEmotion {
		action = store.ResolutionLayer
	}
	return &ResolutionSuggestion{
		Action:     action,
		Reasoning:  "suggestion service unavailable, defaulting by contradiction type",
		Confidence: fallbackSuggestionConf,
	}
}

func (e *Engine) hasTemporalClaim(memory *store.Memory) bool {
	content, ok := memory.ActiveContent()
	if !ok {
		return false
	}
	text := strings.ToLower(content)
	for _, keyword := range e.config.TemporalKeywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

func (e *Engine) recordDetected(userID string, contradictions []EnhancedContradiction) {
	if len(contradictions) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.stats[userID]
	if !ok {
		entry = newUserStats()
		e.stats[userID] = entry
	}
	entry.detected += int64(len(contradictions))
	for _, contradiction := range contradictions {
		entry.byType[contradiction.Type]++
		entry.bySeverity[contradiction.Severity]++
	}
}

func (e *Engine) recordResolved(userID string, action store.ResolutionAction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.stats[userID]
	if !ok {
		entry = newUserStats()
		e.stats[userID] = entry
	}
	entry.resolved++
	entry.byResolution[action]++
}

// overallConfidence is the mean finding confidence, boosted 20% when any
// finding is high severity, capped at 1.0.
func overallConfidence(contradictions []EnhancedContradiction) float64 {
	if len(contradictions) == 0 {
		return 1.0
	}
	sum := 0.0
	anyHigh := false
	for _, contradiction := range contradictions {
		sum += contradiction.Confidence
		if contradiction.Severity == store.SeverityHigh {
			anyHigh = true
		}
	}
	confidence := sum / float64(len(contradictions))
	if anyHigh {
		confidence *= highSeverityBoost
	}
	return clamp01(confidence)
}

func latestTone(memory *store.Memory) string {
	if version := memory.LatestVersion(); version != nil {
		return strings.ToLower(strings.TrimSpace(version.EmotionalTone))
	}
	return ""
}

func sharesCharacter(a, b *store.Memory) bool {
	mentioned := make(map[string]bool)
	for _, character := range a.MentionedCharacters() {
		mentioned[character] = true
	}
	for _, character := range b.MentionedCharacters() {
		if mentioned[character] {
			return true
		}
	}
	return false
}

func severityFrom(raw string) store.Severity {
	switch store.Severity(strings.ToLower(raw)) {
	case store.SeverityLow:
		return store.SeverityLow
	case store.SeverityHigh:
		return store.SeverityHigh
	default:
		return store.SeverityMedium
	}
}

func validAction(action store.ResolutionAction) bool {
	switch action {
	case store.ResolutionReplace, store.ResolutionLayer, store.ResolutionExplore,
		store.ResolutionMerge, store.ResolutionIgnore:
		return true
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
