package similarity

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/lifeink/chronicle/internal/errors"
	"github.com/lifeink/chronicle/plugin/ai"
	"github.com/lifeink/chronicle/store"
)

// Config tunes the similarity adapter.
type Config struct {
	// MinSimilarity drops search hits whose similarity falls below it.
	MinSimilarity float64
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{MinSimilarity: 0.3}
}

// Service is the similarity store adapter. It computes an embedding via the
// semantic service before every store and search call; embeddings supplied by
// callers are never trusted for search.
type Service struct {
	backend  VectorBackend
	embedder ai.EmbeddingService
	config   Config
}

// NewService creates a similarity adapter over the given backend.
func NewService(backend VectorBackend, embedder ai.EmbeddingService, cfg Config) *Service {
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = DefaultConfig().MinSimilarity
	}
	return &Service{backend: backend, embedder: embedder, config: cfg}
}

// Store embeds the memory's active content and upserts it.
func (s *Service) Store(ctx context.Context, memory *store.Memory) error {
	content, ok := memory.ActiveContent()
	if !ok {
		return errors.InvalidArgument("memory has no active version")
	}

	embedding, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return errors.SemanticServiceFailed("failed to embed memory content", err)
	}
	memory.Embedding = embedding

	meta := metadataFor(memory)
	if err := s.backend.Upsert(ctx,
		[]string{memory.ID},
		[][]float32{embedding},
		[]string{content},
		[]map[string]any{meta},
	); err != nil {
		return errors.BackendUnavailable("similarity", err)
	}
	return nil
}

// Update re-stores the memory: delete then store, so stale vectors never
// shadow the new content.
func (s *Service) Update(ctx context.Context, memory *store.Memory) error {
	if err := s.Delete(ctx, memory.ID); err != nil {
		return err
	}
	return s.Store(ctx, memory)
}

// Delete removes the memory's vector.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.backend.Delete(ctx, []string{id}); err != nil {
		return errors.BackendUnavailable("similarity", err)
	}
	return nil
}

// Search embeds the query text and returns memories above the configured
// similarity floor, best first. Relevance is 1 - distance.
func (s *Service) Search(ctx context.Context, query *store.ContextQuery) (*store.MemorySearchResult, error) {
	start := time.Now()
	limit := query.Normalize()

	embedding, err := s.embedder.Embed(ctx, query.Query)
	if err != nil {
		return nil, errors.SemanticServiceFailed("failed to embed search query", err)
	}

	hits, err := s.backend.Query(ctx, embedding, limit, filterFor(query))
	if err != nil {
		return nil, errors.BackendUnavailable("similarity", err)
	}

	memories := make([]store.ScoredMemory, 0, len(hits))
	for _, hit := range hits {
		similarity := 1 - hit.Distance
		if similarity < s.config.MinSimilarity {
			continue
		}
		memory := memoryFromHit(hit)
		if !matchesFilters(memory, query.Filters) {
			continue
		}
		memories = append(memories, store.ScoredMemory{Memory: memory, Relevance: similarity})
	}

	return &store.MemorySearchResult{
		Memories:   memories,
		TotalCount: len(memories),
		QueryTime:  time.Since(start),
		Source:     store.SourceVector,
	}, nil
}

// FindSimilar returns stored memories semantically close to the given one,
// excluding the memory itself.
func (s *Service) FindSimilar(ctx context.Context, memory *store.Memory, threshold float64, limit int) ([]store.ScoredMemory, error) {
	content, ok := memory.ActiveContent()
	if !ok {
		return nil, errors.InvalidArgument("memory has no active version")
	}

	embedding, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return nil, errors.SemanticServiceFailed("failed to embed memory content", err)
	}

	// +1 so the memory's own vector does not consume a slot.
	hits, err := s.backend.Query(ctx, embedding, limit+1, QueryFilter{UserID: memory.UserID})
	if err != nil {
		return nil, errors.BackendUnavailable("similarity", err)
	}

	similar := make([]store.ScoredMemory, 0, len(hits))
	for _, hit := range hits {
		if hit.ID == memory.ID {
			continue
		}
		similarity := 1 - hit.Distance
		if similarity < threshold {
			continue
		}
		similar = append(similar, store.ScoredMemory{Memory: memoryFromHit(hit), Relevance: similarity})
		if len(similar) >= limit {
			break
		}
	}
	return similar, nil
}

// HealthCheck probes the backing store.
func (s *Service) HealthCheck(ctx context.Context) error {
	return s.backend.HealthCheck(ctx)
}

func metadataFor(memory *store.Memory) map[string]any {
	meta := map[string]any{
		metaUserID:    memory.UserID,
		metaTimestamp: memory.Timestamp.Unix(),
		metaPrivacy:   string(memory.PrivacyLevel),
		metaEncrypted: memory.EncryptionRequired,
	}
	if memory.Type != "" {
		meta[metaMemoryType] = string(memory.Type)
	}
	if len(memory.DocumentIDs) > 0 {
		meta[metaDocumentIDs] = memory.DocumentIDs
	}
	if v, ok := memory.ActiveVersionRef(); ok {
		if v.EmotionalTone != "" {
			meta[metaTone] = v.EmotionalTone
		}
		if len(v.NarrativeElements.Characters) > 0 {
			meta[metaCharacters] = v.NarrativeElements.Characters
		}
		if v.NarrativeElements.Theme != "" {
			meta[metaTheme] = v.NarrativeElements.Theme
		}
		if v.NarrativeElements.Setting != "" {
			meta[metaSetting] = v.NarrativeElements.Setting
		}
	}
	return meta
}

func filterFor(query *store.ContextQuery) QueryFilter {
	filter := QueryFilter{
		UserID:     query.UserID,
		DocumentID: query.DocumentID,
	}
	if query.TimeRange != nil {
		if !query.TimeRange.Start.IsZero() {
			filter.StartTs = query.TimeRange.Start.Unix()
		}
		if !query.TimeRange.End.IsZero() {
			filter.EndTs = query.TimeRange.End.Unix()
		}
	}
	return filter
}

// memoryFromHit reconstructs a memory record from a backend hit. The record
// carries a single synthesized version holding the stored content; the full
// version log lives with the orchestrator's write path, not the index.
func memoryFromHit(hit QueryHit) *store.Memory {
	meta := hit.Metadata
	userID, _ := meta[metaUserID].(string)

	memory := store.NewMemory(userID, hit.Document, store.MemoryType(stringFromMeta(meta, metaMemoryType)))
	memory.ID = hit.ID
	memory.DocumentIDs = stringSliceFromMeta(meta[metaDocumentIDs])
	memory.PrivacyLevel = store.PrivacyLevel(stringFromMeta(meta, metaPrivacy))
	if encrypted, ok := meta[metaEncrypted].(bool); ok {
		memory.EncryptionRequired = encrypted
	}
	if ts := int64FromMeta(meta, metaTimestamp); ts > 0 {
		memory.Timestamp = time.Unix(ts, 0).UTC()
		memory.Versions[0].Timestamp = memory.Timestamp
	}
	if tone := stringFromMeta(meta, metaTone); tone != "" {
		memory.Versions[0].EmotionalTone = tone
	}
	memory.Versions[0].NarrativeElements = store.NarrativeElements{
		Characters: stringSliceFromMeta(meta[metaCharacters]),
		Theme:      stringFromMeta(meta, metaTheme),
		Setting:    stringFromMeta(meta, metaSetting),
	}
	return memory
}

// matchesFilters applies the field-filter operators against hit metadata
// surfaced on the reconstructed memory.
func matchesFilters(memory *store.Memory, filters []store.FieldFilter) bool {
	for _, filter := range filters {
		value := fieldValue(memory, filter.Field)
		if !evaluateFilter(value, filter) {
			return false
		}
	}
	return true
}

func fieldValue(memory *store.Memory, field string) string {
	switch field {
	case "type", "memory_type":
		return string(memory.Type)
	case "privacy_level", "privacyLevel":
		return string(memory.PrivacyLevel)
	case "content":
		return memory.Content
	case "emotional_tone", "emotionalTone":
		if v, ok := memory.ActiveVersionRef(); ok {
			return v.EmotionalTone
		}
		return ""
	case "theme":
		if v, ok := memory.ActiveVersionRef(); ok {
			return v.NarrativeElements.Theme
		}
		return ""
	default:
		slog.Debug("unknown filter field", "field", field)
		return ""
	}
}

func evaluateFilter(value string, filter store.FieldFilter) bool {
	switch filter.Operator {
	case store.FilterEq:
		return value == toString(filter.Value)
	case store.FilterNeq:
		return value != toString(filter.Value)
	case store.FilterContains:
		return strings.Contains(strings.ToLower(value), strings.ToLower(toString(filter.Value)))
	case store.FilterIn:
		return containsValue(filter.Value, value)
	case store.FilterNin:
		return !containsValue(filter.Value, value)
	default:
		return true
	}
}

func containsValue(candidates any, value string) bool {
	for _, candidate := range stringSliceFromMeta(candidates) {
		if candidate == value {
			return true
		}
	}
	return false
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func stringFromMeta(meta map[string]any, key string) string {
	if s, ok := meta[key].(string); ok {
		return s
	}
	return ""
}

func int64FromMeta(meta map[string]any, key string) int64 {
	switch v := meta[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
