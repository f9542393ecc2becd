package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeink/chronicle/internal/errors"
	"github.com/lifeink/chronicle/store"
)

func newTestMemory(userID, content string, characters []string) *store.Memory {
	memory := store.NewMemory(userID, content, store.MemoryTypeEvent)
	memory.DocumentIDs = []string{"doc-1"}
	memory.Versions[0].NarrativeElements = store.NarrativeElements{
		Characters: characters,
		Theme:      "belonging",
		Setting:    "harbor",
	}
	return memory
}

func TestStoreMergesSharedNodes(t *testing.T) {
	backend := NewMockBackend()
	service := NewService(backend)
	ctx := context.Background()

	first := newTestMemory("user-1", "walked the harbor with Anna", []string{"Anna"})
	second := newTestMemory("user-1", "Anna told me about the storm", []string{"Anna"})

	require.NoError(t, service.Store(ctx, first))
	require.NoError(t, service.Store(ctx, second))

	// Shared attribute nodes merge; edges accumulate per memory.
	assert.Equal(t, 2, backend.NodeCount(LabelMemory))
	assert.Equal(t, 1, backend.NodeCount(LabelCharacter))
	assert.Equal(t, 1, backend.NodeCount(LabelDocument))
	assert.Equal(t, 1, backend.NodeCount(LabelTheme))
	assert.Equal(t, 2, backend.EdgeCount(EdgeMentions))
	assert.Equal(t, 2, backend.EdgeCount(EdgeBelongsTo))
}

func TestStoreIsIdempotentOnNodesOnly(t *testing.T) {
	backend := NewMockBackend()
	service := NewService(backend)
	ctx := context.Background()

	memory := newTestMemory("user-1", "first snow", []string{"Papa"})
	require.NoError(t, service.Store(ctx, memory))
	require.NoError(t, service.Store(ctx, memory))

	assert.Equal(t, 1, backend.NodeCount(LabelMemory))
	assert.Equal(t, 1, backend.NodeCount(LabelCharacter))
	// Edge creation is not deduplicated: a bare re-store doubles the edges.
	assert.Equal(t, 2, backend.EdgeCount(EdgeMentions))
}

func TestUpdateRelinksWithoutAccumulating(t *testing.T) {
	backend := NewMockBackend()
	service := NewService(backend)
	ctx := context.Background()

	memory := newTestMemory("user-1", "dinner with Anna", []string{"Anna"})
	require.NoError(t, service.Store(ctx, memory))

	memory.AppendVersion("dinner with Anna and Ben", "ben joined later", "warm", store.NarrativeElements{
		Characters: []string{"Anna", "Ben"},
		Theme:      "belonging",
	}, 0.9)
	require.NoError(t, service.Update(ctx, memory))

	assert.Equal(t, 1, backend.NodeCount(LabelMemory))
	assert.Equal(t, 2, backend.NodeCount(LabelCharacter))
	assert.Equal(t, 2, backend.EdgeCount(EdgeMentions))
	// The first version's setting edge is gone after relinking.
	assert.Equal(t, 0, backend.EdgeCount(EdgeTakesPlaceIn))
}

func TestGetRehydratesFullVersionLog(t *testing.T) {
	backend := NewMockBackend()
	service := NewService(backend)
	ctx := context.Background()

	memory := newTestMemory("user-1", "first account", nil)
	memory.AppendVersion("second account", "revisited years later", "hopeful", store.NarrativeElements{}, 0.9)
	memory.Contradictions = []store.ContradictionRef{{
		ID:          "c-1",
		MemoryID:    "other-memory",
		Type:        store.ContradictionFact,
		Description: "dates disagree",
	}}
	require.NoError(t, service.Update(ctx, memory))

	got, err := service.Get(ctx, memory.ID)
	require.NoError(t, err)
	require.Len(t, got.Versions, 2)
	assert.Equal(t, "first account", got.Versions[0].Content)
	assert.Equal(t, "second account", got.Versions[1].Content)
	assert.Equal(t, memory.ActiveVersion, got.ActiveVersion)
	assert.Equal(t, "second account", got.Content)
	require.Len(t, got.Contradictions, 1)
	assert.Equal(t, store.ContradictionFact, got.Contradictions[0].Type)
}

func TestDeleteUnknownMemoryIsNotFound(t *testing.T) {
	service := NewService(NewMockBackend())

	err := service.Delete(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestDeleteRemovesNodeAndEdges(t *testing.T) {
	backend := NewMockBackend()
	service := NewService(backend)
	ctx := context.Background()

	memory := newTestMemory("user-1", "quiet morning", []string{"Anna"})
	require.NoError(t, service.Store(ctx, memory))
	require.NoError(t, service.Delete(ctx, memory.ID))

	assert.Equal(t, 0, backend.NodeCount(LabelMemory))
	assert.Equal(t, 0, backend.EdgeCount(EdgeMentions))
	// Attribute nodes survive deletion of one referencing memory.
	assert.Equal(t, 1, backend.NodeCount(LabelCharacter))
}

func TestSearchScopesAndOrders(t *testing.T) {
	backend := NewMockBackend()
	service := NewService(backend)
	ctx := context.Background()

	older := newTestMemory("user-1", "the old lighthouse", nil)
	older.Timestamp = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := newTestMemory("user-1", "back at the lighthouse with Anna", []string{"Anna"})
	newer.Timestamp = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	foreign := newTestMemory("user-2", "another lighthouse", nil)

	for _, memory := range []*store.Memory{older, newer, foreign} {
		require.NoError(t, service.Store(ctx, memory))
	}

	result, err := service.Search(ctx, &store.ContextQuery{
		Query:  "lighthouse",
		UserID: "user-1",
	})
	require.NoError(t, err)

	require.Len(t, result.Memories, 2)
	assert.Equal(t, store.SourceGraph, result.Source)
	assert.Equal(t, newer.ID, result.Memories[0].Memory.ID)
	assert.Equal(t, older.ID, result.Memories[1].Memory.ID)
	for _, scored := range result.Memories {
		assert.Equal(t, 1.0, scored.Relevance)
		assert.Nil(t, scored.Memory.Embedding)
	}
	assert.NotEmpty(t, result.Relationships)
}

func TestSearchTimeRangeAndDocumentScope(t *testing.T) {
	backend := NewMockBackend()
	service := NewService(backend)
	ctx := context.Background()

	inRange := newTestMemory("user-1", "spring cleaning", nil)
	inRange.Timestamp = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	outOfRange := newTestMemory("user-1", "winter cleaning", nil)
	outOfRange.Timestamp = time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, service.Store(ctx, inRange))
	require.NoError(t, service.Store(ctx, outOfRange))

	result, err := service.Search(ctx, &store.ContextQuery{
		UserID:     "user-1",
		DocumentID: "doc-1",
		TimeRange: &store.TimeRange{
			Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		},
	})
	require.NoError(t, err)

	require.Len(t, result.Memories, 1)
	assert.Equal(t, inRange.ID, result.Memories[0].Memory.ID)
}

func TestCharacterRelationships(t *testing.T) {
	backend := NewMockBackend()
	service := NewService(backend)
	ctx := context.Background()

	require.NoError(t, service.Store(ctx, newTestMemory("user-1", "Anna and Ben argued", []string{"Anna", "Ben"})))
	require.NoError(t, service.Store(ctx, newTestMemory("user-1", "Anna made peace", []string{"Anna"})))

	relationships, err := service.GetCharacterRelationships(ctx, "user-1", "")
	require.NoError(t, err)
	require.Len(t, relationships, 2)

	assert.Equal(t, "Anna", relationships[0].Character)
	assert.Equal(t, int64(2), relationships[0].MentionCount)
	assert.Equal(t, []string{"Ben"}, relationships[0].CoCharacters)

	only, err := service.GetCharacterRelationships(ctx, "user-1", "Ben")
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, "Ben", only[0].Character)
}

func TestThemeProgressionIsChronological(t *testing.T) {
	backend := NewMockBackend()
	service := NewService(backend)
	ctx := context.Background()

	late := newTestMemory("user-1", "finally felt at home", nil)
	late.Timestamp = time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	early := newTestMemory("user-1", "moved to the city alone", nil)
	early.Timestamp = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, service.Store(ctx, late))
	require.NoError(t, service.Store(ctx, early))

	beats, err := service.GetThemeProgression(ctx, "user-1", "belonging")
	require.NoError(t, err)
	require.Len(t, beats, 2)
	assert.Equal(t, early.ID, beats[0].MemoryID)
	assert.Equal(t, late.ID, beats[1].MemoryID)
}

func TestBackendFailureSurfacesAsUnavailable(t *testing.T) {
	backend := NewMockBackend()
	backend.Err = assert.AnError
	service := NewService(backend)

	err := service.Store(context.Background(), newTestMemory("user-1", "anything", nil))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeBackendUnavailable, errors.CodeOf(err))
}
