package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lifeink/chronicle/internal/errors"
	"github.com/lifeink/chronicle/store"
)

// Statements issued by the adapter. Node merges are idempotent
// (create-if-absent); edge creation deliberately is not, so repeated Store
// calls without Update's prior edge deletion multiply edges.
const (
	stmtMergeMemory = `
		MERGE (m:Memory {id: $id})
		SET m.user_id = $user_id,
			m.content = $content,
			m.type = $type,
			m.timestamp = $timestamp,
			m.privacy_level = $privacy_level,
			m.emotional_tone = $emotional_tone,
			m.version_log = $version_log`

	stmtLinkDocument = `
		MATCH (m:Memory {id: $id})
		MERGE (d:Document {id: $document_id})
		CREATE (m)-[:BELONGS_TO]->(d)`

	stmtLinkCharacter = `
		MATCH (m:Memory {id: $id})
		MERGE (c:Character {user_id: $user_id, name: $name})
		CREATE (m)-[:MENTIONS]->(c)`

	stmtLinkTheme = `
		MATCH (m:Memory {id: $id})
		MERGE (t:Theme {user_id: $user_id, name: $name})
		CREATE (m)-[:EXPLORES]->(t)`

	stmtLinkSetting = `
		MATCH (m:Memory {id: $id})
		MERGE (s:Setting {user_id: $user_id, name: $name})
		CREATE (m)-[:TAKES_PLACE_IN]->(s)`

	stmtGetMemory = `
		MATCH (m:Memory {id: $id})
		RETURN m.id AS id, m.user_id AS user_id, m.content AS content,
			m.type AS type, m.timestamp AS timestamp,
			m.privacy_level AS privacy_level, m.emotional_tone AS emotional_tone,
			m.version_log AS version_log,
			[(m)-[:BELONGS_TO]->(d:Document) | d.id] AS document_ids,
			[(m)-[:MENTIONS]->(c:Character) | c.name] AS characters`

	stmtDeleteOutgoingEdges = `
		MATCH (m:Memory {id: $id})-[r]->()
		DELETE r`

	stmtDeleteMemory = `
		OPTIONAL MATCH (m:Memory {id: $id})
		WITH m
		DETACH DELETE m
		RETURN count(m) AS deleted`

	stmtCharacterRelationships = `
		MATCH (m:Memory)-[:MENTIONS]->(c:Character)
		WHERE m.user_id = $user_id AND ($name = '' OR c.name = $name)
		WITH c, count(m) AS mentions, collect(m.id) AS memory_ids
		OPTIONAL MATCH (c)<-[:MENTIONS]-(shared:Memory)-[:MENTIONS]->(other:Character)
		WHERE shared.user_id = $user_id AND other.name <> c.name
		RETURN c.name AS name, mentions, memory_ids,
			collect(DISTINCT other.name) AS co_characters
		ORDER BY mentions DESC`

	stmtThemeProgression = `
		MATCH (m:Memory)-[:EXPLORES]->(t:Theme {user_id: $user_id, name: $name})
		RETURN m.id AS id, m.content AS content, m.timestamp AS timestamp,
			m.emotional_tone AS emotional_tone
		ORDER BY m.timestamp ASC`
)

// CharacterRelationship summarizes how a character figures in a user's
// memories.
type CharacterRelationship struct {
	Character    string   `json:"character"`
	MentionCount int64    `json:"mentionCount"`
	MemoryIDs    []string `json:"memoryIds"`
	CoCharacters []string `json:"coCharacters"`
}

// ThemeBeat is one memory on a theme's chronological progression.
type ThemeBeat struct {
	MemoryID      string    `json:"memoryId"`
	Content       string    `json:"content"`
	Timestamp     time.Time `json:"timestamp"`
	EmotionalTone string    `json:"emotionalTone,omitempty"`
}

// versionLog is the state a node projection cannot express, persisted as a
// JSON property on the memory node: the append-only version history plus
// contradiction and preference bookkeeping.
type versionLog struct {
	Versions          []store.MemoryVersion    `json:"versions"`
	ActiveVersion     string                   `json:"activeVersion"`
	UserPreference    store.VersionPreference  `json:"userPreference,omitempty"`
	Contradictions    []store.ContradictionRef `json:"contradictions,omitempty"`
	NarrativeAnalysis *store.NarrativeAnalysis `json:"narrativeAnalysis,omitempty"`
}

// Service is the relationship store adapter.
type Service struct {
	backend Backend
}

// NewService creates a graph adapter over the given backend.
func NewService(backend Backend) *Service {
	return &Service{backend: backend}
}

// Store creates the memory node and links its structural attributes. Node
// merges are idempotent; edges are appended as-is.
func (s *Service) Store(ctx context.Context, memory *store.Memory) error {
	content, ok := memory.ActiveContent()
	if !ok {
		return errors.InvalidArgument("memory has no active version")
	}

	tone := ""
	var elements store.NarrativeElements
	if v, okVersion := memory.ActiveVersionRef(); okVersion {
		tone = v.EmotionalTone
		elements = v.NarrativeElements
	}

	log, err := json.Marshal(versionLog{
		Versions:          memory.Versions,
		ActiveVersion:     memory.ActiveVersion,
		UserPreference:    memory.UserPreference,
		Contradictions:    memory.Contradictions,
		NarrativeAnalysis: memory.NarrativeAnalysis,
	})
	if err != nil {
		return errors.InvalidArgument("memory version log is not serializable")
	}

	if _, err := s.backend.Write(ctx, stmtMergeMemory, map[string]any{
		"id":             memory.ID,
		"user_id":        memory.UserID,
		"content":        content,
		"type":           string(memory.Type),
		"timestamp":      memory.Timestamp.Unix(),
		"privacy_level":  string(memory.PrivacyLevel),
		"emotional_tone": tone,
		"version_log":    string(log),
	}); err != nil {
		return errors.BackendUnavailable("graph", err)
	}

	return s.linkAttributes(ctx, memory, elements)
}

// Update rewrites the memory node and its edges: all outgoing edges are
// deleted before recreation so stale attribute links never accumulate.
func (s *Service) Update(ctx context.Context, memory *store.Memory) error {
	if _, err := s.backend.Write(ctx, stmtDeleteOutgoingEdges, map[string]any{"id": memory.ID}); err != nil {
		return errors.BackendUnavailable("graph", err)
	}
	return s.Store(ctx, memory)
}

// Get reconstructs a memory from its node, rehydrating the full version log
// persisted alongside the projection. The result carries no embedding.
func (s *Service) Get(ctx context.Context, id string) (*store.Memory, error) {
	rows, err := s.backend.Read(ctx, stmtGetMemory, map[string]any{"id": id})
	if err != nil {
		return nil, errors.BackendUnavailable("graph", err)
	}
	if len(rows) == 0 {
		return nil, errors.NotFound("memory", id)
	}
	return memoryFromRow(rows[0]), nil
}

// Delete removes the memory node and all its edges. Unknown ids surface as a
// not-found condition.
func (s *Service) Delete(ctx context.Context, id string) error {
	rows, err := s.backend.Write(ctx, stmtDeleteMemory, map[string]any{"id": id})
	if err != nil {
		return errors.BackendUnavailable("graph", err)
	}
	if len(rows) > 0 && int64FromRow(rows[0], "deleted") == 0 {
		return errors.NotFound("memory", id)
	}
	return nil
}

// Search matches memory nodes against a predicate conjunction built from the
// query's scope, time range, and text. Results are reconstructed from node
// properties with no embedding and relevance fixed at 1.0, ordered by
// descending timestamp, so ranks are not comparable with the similarity
// adapter's.
func (s *Service) Search(ctx context.Context, query *store.ContextQuery) (*store.MemorySearchResult, error) {
	start := time.Now()
	cypher, params := buildSearchStatement(query)

	rows, err := s.backend.Read(ctx, cypher, params)
	if err != nil {
		return nil, errors.BackendUnavailable("graph", err)
	}

	memories := make([]store.ScoredMemory, 0, len(rows))
	var relationships []store.GraphRelationship
	for _, row := range rows {
		memory := memoryFromRow(row)
		memories = append(memories, store.ScoredMemory{Memory: memory, Relevance: 1.0})
		relationships = append(relationships, relationshipsFromRow(memory.ID, row)...)
	}

	return &store.MemorySearchResult{
		Memories:      memories,
		Relationships: relationships,
		TotalCount:    len(memories),
		QueryTime:     time.Since(start),
		Source:        store.SourceGraph,
	}, nil
}

// GetCharacterRelationships returns mention summaries for the user's
// characters, optionally narrowed to a single character.
func (s *Service) GetCharacterRelationships(ctx context.Context, userID, character string) ([]CharacterRelationship, error) {
	rows, err := s.backend.Read(ctx, stmtCharacterRelationships, map[string]any{
		"user_id": userID,
		"name":    character,
	})
	if err != nil {
		return nil, errors.BackendUnavailable("graph", err)
	}

	relationships := make([]CharacterRelationship, 0, len(rows))
	for _, row := range rows {
		relationships = append(relationships, CharacterRelationship{
			Character:    stringFromRow(row, "name"),
			MentionCount: int64FromRow(row, "mentions"),
			MemoryIDs:    stringSliceFromRow(row, "memory_ids"),
			CoCharacters: stringSliceFromRow(row, "co_characters"),
		})
	}
	return relationships, nil
}

// GetThemeProgression returns the chronological sequence of memories that
// explore a theme.
func (s *Service) GetThemeProgression(ctx context.Context, userID, theme string) ([]ThemeBeat, error) {
	rows, err := s.backend.Read(ctx, stmtThemeProgression, map[string]any{
		"user_id": userID,
		"name":    theme,
	})
	if err != nil {
		return nil, errors.BackendUnavailable("graph", err)
	}

	beats := make([]ThemeBeat, 0, len(rows))
	for _, row := range rows {
		beats = append(beats, ThemeBeat{
			MemoryID:      stringFromRow(row, "id"),
			Content:       stringFromRow(row, "content"),
			Timestamp:     time.Unix(int64FromRow(row, "timestamp"), 0).UTC(),
			EmotionalTone: stringFromRow(row, "emotional_tone"),
		})
	}
	return beats, nil
}

// HealthCheck probes the backing store.
func (s *Service) HealthCheck(ctx context.Context) error {
	return s.backend.HealthCheck(ctx)
}

func (s *Service) linkAttributes(ctx context.Context, memory *store.Memory, elements store.NarrativeElements) error {
	link := func(stmt string, params map[string]any) error {
		if _, err := s.backend.Write(ctx, stmt, params); err != nil {
			return errors.BackendUnavailable("graph", err)
		}
		return nil
	}

	for _, documentID := range memory.DocumentIDs {
		if err := link(stmtLinkDocument, map[string]any{"id": memory.ID, "document_id": documentID}); err != nil {
			return err
		}
	}
	for _, character := range elements.Characters {
		if err := link(stmtLinkCharacter, map[string]any{"id": memory.ID, "user_id": memory.UserID, "name": character}); err != nil {
			return err
		}
	}
	if elements.Theme != "" {
		if err := link(stmtLinkTheme, map[string]any{"id": memory.ID, "user_id": memory.UserID, "name": elements.Theme}); err != nil {
			return err
		}
	}
	if elements.Setting != "" {
		if err := link(stmtLinkSetting, map[string]any{"id": memory.ID, "user_id": memory.UserID, "name": elements.Setting}); err != nil {
			return err
		}
	}
	return nil
}

// buildSearchStatement assembles the predicate conjunction for Search.
func buildSearchStatement(query *store.ContextQuery) (string, map[string]any) {
	where := []string{"m.user_id = $user_id"}
	params := map[string]any{
		"user_id": query.UserID,
		"limit":   query.Normalize(),
	}

	if query.DocumentID != "" {
		where = append(where, "(m)-[:BELONGS_TO]->(:Document {id: $document_id})")
		params["document_id"] = query.DocumentID
	}
	if query.TimeRange != nil {
		if !query.TimeRange.Start.IsZero() {
			where = append(where, "m.timestamp >= $start_ts")
			params["start_ts"] = query.TimeRange.Start.Unix()
		}
		if !query.TimeRange.End.IsZero() {
			where = append(where, "m.timestamp <= $end_ts")
			params["end_ts"] = query.TimeRange.End.Unix()
		}
	}
	if strings.TrimSpace(query.Query) != "" {
		where = append(where, "toLower(m.content) CONTAINS toLower($text)")
		params["text"] = query.Query
	}

	cypher := fmt.Sprintf(`
		MATCH (m:Memory)
		WHERE %s
		RETURN m.id AS id, m.user_id AS user_id, m.content AS content,
			m.type AS type, m.timestamp AS timestamp,
			m.privacy_level AS privacy_level, m.emotional_tone AS emotional_tone,
			[(m)-[:BELONGS_TO]->(d:Document) | d.id] AS document_ids,
			[(m)-[:MENTIONS]->(c:Character) | c.name] AS characters,
			[(m)-[r]->(n) | {rel_type: type(r), target: coalesce(n.id, n.name)}] AS related
		ORDER BY m.timestamp DESC
		LIMIT $limit`, strings.Join(where, " AND "))
	return cypher, params
}

func memoryFromRow(row map[string]any) *store.Memory {
	memory := store.NewMemory(
		stringFromRow(row, "user_id"),
		stringFromRow(row, "content"),
		store.MemoryType(stringFromRow(row, "type")),
	)
	memory.ID = stringFromRow(row, "id")
	memory.DocumentIDs = stringSliceFromRow(row, "document_ids")
	memory.PrivacyLevel = store.PrivacyLevel(stringFromRow(row, "privacy_level"))
	if ts := int64FromRow(row, "timestamp"); ts > 0 {
		memory.Timestamp = time.Unix(ts, 0).UTC()
		memory.Versions[0].Timestamp = memory.Timestamp
	}
	memory.Versions[0].EmotionalTone = stringFromRow(row, "emotional_tone")
	memory.Versions[0].NarrativeElements.Characters = stringSliceFromRow(row, "characters")

	// Search rows carry no version_log; they stay single-version projections.
	if raw := stringFromRow(row, "version_log"); raw != "" {
		var log versionLog
		if err := json.Unmarshal([]byte(raw), &log); err == nil && len(log.Versions) > 0 {
			memory.Versions = log.Versions
			memory.ActiveVersion = log.ActiveVersion
			if log.UserPreference != "" {
				memory.UserPreference = log.UserPreference
			}
			memory.Contradictions = log.Contradictions
			memory.NarrativeAnalysis = log.NarrativeAnalysis
			if content, ok := memory.ActiveContent(); ok {
				memory.Content = content
			}
		}
	}
	return memory
}

func relationshipsFromRow(memoryID string, row map[string]any) []store.GraphRelationship {
	raw, ok := row["related"].([]any)
	if !ok {
		return nil
	}
	relationships := make([]store.GraphRelationship, 0, len(raw))
	for _, item := range raw {
		entry, okEntry := item.(map[string]any)
		if !okEntry {
			continue
		}
		relType, _ := entry["rel_type"].(string)
		target, _ := entry["target"].(string)
		if relType == "" || target == "" {
			continue
		}
		relationships = append(relationships, store.GraphRelationship{
			ID:         fmt.Sprintf("%s-%s-%s", memoryID, relType, target),
			FromNodeID: memoryID,
			ToNodeID:   target,
			Type:       relType,
			Weight:     1.0,
		})
	}
	return relationships
}

func stringFromRow(row map[string]any, key string) string {
	if s, ok := row[key].(string); ok {
		return s
	}
	return ""
}

func int64FromRow(row map[string]any, key string) int64 {
	switch v := row[key].(type) {
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

func stringSliceFromRow(row map[string]any, key string) []string {
	switch v := row[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
