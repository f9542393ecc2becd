package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeink/chronicle/internal/errors"
	"github.com/lifeink/chronicle/plugin/ai"
	"github.com/lifeink/chronicle/server/contradiction"
	"github.com/lifeink/chronicle/server/queryengine"
	"github.com/lifeink/chronicle/store"
	"github.com/lifeink/chronicle/store/cache"
	"github.com/lifeink/chronicle/store/graph"
	"github.com/lifeink/chronicle/store/similarity"
)

type stubVector struct {
	mu           sync.Mutex
	stored       map[string]*store.Memory
	deleted      []string
	searchResult *store.MemorySearchResult
	searchCalls  int

	storeErr  error
	deleteErr error
	searchErr error
}

func newStubVector() *stubVector {
	return &stubVector{stored: make(map[string]*store.Memory)}
}

func (v *stubVector) Store(_ context.Context, memory *store.Memory) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.storeErr != nil {
		return v.storeErr
	}
	v.stored[memory.ID] = memory
	return nil
}

func (v *stubVector) Update(ctx context.Context, memory *store.Memory) error {
	return v.Store(ctx, memory)
}

func (v *stubVector) Delete(_ context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.deleteErr != nil {
		return v.deleteErr
	}
	v.deleted = append(v.deleted, id)
	delete(v.stored, id)
	return nil
}

func (v *stubVector) Search(context.Context, *store.ContextQuery) (*store.MemorySearchResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.searchCalls++
	if v.searchErr != nil {
		return nil, v.searchErr
	}
	if v.searchResult != nil {
		return v.searchResult, nil
	}
	return &store.MemorySearchResult{Source: store.SourceVector}, nil
}

func (v *stubVector) HealthCheck(context.Context) error { return nil }

type stubGraph struct {
	stubVector
	getErr error
}

func (g *stubGraph) Get(_ context.Context, id string) (*store.Memory, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.getErr != nil {
		return nil, g.getErr
	}
	if memory, ok := g.stored[id]; ok {
		return memory, nil
	}
	return nil, errors.NotFound("memory", id)
}

func (g *stubGraph) Search(ctx context.Context, query *store.ContextQuery) (*store.MemorySearchResult, error) {
	result, err := g.stubVector.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	if g.searchResult == nil {
		result.Source = store.SourceGraph
	}
	return result, nil
}

type stubDetector struct {
	result     *contradiction.DetectionResult
	err        error
	detections int
}

func (d *stubDetector) DetectContradictions(context.Context, *store.Memory) (*contradiction.DetectionResult, error) {
	d.detections++
	if d.err != nil {
		return nil, d.err
	}
	if d.result != nil {
		return d.result, nil
	}
	return &contradiction.DetectionResult{OverallConfidence: 1.0}, nil
}

func (d *stubDetector) ResolveContradiction(memory *store.Memory, contradictionID string, action store.ResolutionAction, newContent string) error {
	for i := range memory.Contradictions {
		if memory.Contradictions[i].ID == contradictionID {
			now := time.Now().UTC()
			memory.Contradictions[i].Resolution = action
			memory.Contradictions[i].ResolvedAt = &now
			if newContent != "" {
				memory.AppendVersion(newContent, "", "", store.NarrativeElements{}, 1.0)
			}
			return nil
		}
	}
	return errors.NotFound("contradiction", contradictionID)
}

func (d *stubDetector) GetContradictionStats(string) contradiction.Stats {
	return contradiction.Stats{}
}

type fixture struct {
	orch     *Orchestrator
	vector   *stubVector
	graph    *stubGraph
	detector *stubDetector
}

func newFixture() *fixture {
	vector := newStubVector()
	graph := &stubGraph{stubVector: stubVector{stored: make(map[string]*store.Memory)}}
	detector := &stubDetector{}
	cacheService := cache.NewService(cache.NewMemoryBackend(256), time.Hour, time.Minute, nil)
	orch := New(vector, graph, cacheService, queryengine.NewRouter(queryengine.DefaultKeywords()), detector, nil)
	return &fixture{orch: orch, vector: vector, graph: graph, detector: detector}
}

func scored(id string, relevance float64) store.ScoredMemory {
	memory := store.NewMemory("user-1", "content "+id, store.MemoryTypeEvent)
	memory.ID = id
	return store.ScoredMemory{Memory: memory, Relevance: relevance}
}

func TestStoreMemoryWritesBothStoresAndCache(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	memory, detection, err := f.orch.StoreMemory(ctx, StoreRequest{
		UserID:  "user-1",
		Content: "the day we moved",
		Type:    store.MemoryTypeEvent,
	})
	require.NoError(t, err)
	require.NotNil(t, detection)

	assert.Contains(t, f.vector.stored, memory.ID)
	assert.Contains(t, f.graph.stored, memory.ID)

	cached, err := f.orch.GetMemory(ctx, memory.ID)
	require.NoError(t, err)
	assert.Equal(t, memory.ID, cached.ID)

	metrics := f.orch.Metrics()
	assert.Equal(t, int64(1), metrics.MemoriesStored)
}

func TestStoreMemoryValidatesInput(t *testing.T) {
	f := newFixture()

	_, _, err := f.orch.StoreMemory(context.Background(), StoreRequest{Content: "x"})
	assert.Error(t, err)
	_, _, err = f.orch.StoreMemory(context.Background(), StoreRequest{UserID: "user-1"})
	assert.Error(t, err)
}

func TestStoreMemorySagaRollsBackVectorOnGraphFailure(t *testing.T) {
	f := newFixture()
	f.graph.storeErr = assert.AnError

	_, _, err := f.orch.StoreMemory(context.Background(), StoreRequest{
		UserID:  "user-1",
		Content: "doomed write",
		Type:    store.MemoryTypeEvent,
	})
	require.Error(t, err)

	// The compensating delete removed the similarity entry.
	assert.Empty(t, f.vector.stored)
	assert.Len(t, f.vector.deleted, 1)
	assert.Equal(t, int64(0), f.orch.Metrics().MemoriesStored)
}

func TestStoreMemoryProceedsWhenDetectionFails(t *testing.T) {
	f := newFixture()
	f.detector.err = assert.AnError

	memory, detection, err := f.orch.StoreMemory(context.Background(), StoreRequest{
		UserID:  "user-1",
		Content: "still stored",
		Type:    store.MemoryTypeEvent,
	})
	require.NoError(t, err)
	assert.Nil(t, detection)
	assert.Contains(t, f.vector.stored, memory.ID)
}

func TestUpdateMemoryAppendsVersionOnlyOnContentChange(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	memory, _, err := f.orch.StoreMemory(ctx, StoreRequest{
		UserID:  "user-1",
		Content: "original account",
		Type:    store.MemoryTypeEvent,
	})
	require.NoError(t, err)

	// Identical content: no new version.
	updated, _, err := f.orch.UpdateMemory(ctx, memory.ID, UpdateRequest{Content: "original account"})
	require.NoError(t, err)
	assert.Len(t, updated.Versions, 1)

	// Changed content: exactly one new version.
	updated, detection, err := f.orch.UpdateMemory(ctx, memory.ID, UpdateRequest{Content: "revised account"})
	require.NoError(t, err)
	require.NotNil(t, detection)
	assert.Len(t, updated.Versions, 2)
	assert.Equal(t, "revised account", updated.Content)

	require.NotNil(t, updated.NarrativeAnalysis)
	assert.Equal(t, "revision 2", updated.NarrativeAnalysis.PlotProgression)
	assert.InDelta(t, 1.0, updated.NarrativeAnalysis.Coherence, 0.001)

	metrics := f.orch.Metrics()
	assert.Equal(t, int64(1), metrics.VersionEvolutions)
}

func TestVersionLogSurvivesCacheEviction(t *testing.T) {
	ctx := context.Background()
	embedder := ai.NewMockEmbeddingService(8)
	vector := similarity.NewService(similarity.NewMockBackend(), embedder, similarity.DefaultConfig())
	graphStore := graph.NewService(graph.NewMockBackend())
	cacheService := cache.NewService(cache.NewMemoryBackend(64), time.Hour, time.Minute, nil)
	orch := New(vector, graphStore, cacheService,
		queryengine.NewRouter(queryengine.DefaultKeywords()), &stubDetector{}, nil)

	memory, _, err := orch.StoreMemory(ctx, StoreRequest{
		UserID:  "user-1",
		Content: "first account",
		Type:    store.MemoryTypeEvent,
	})
	require.NoError(t, err)

	_, _, err = orch.UpdateMemory(ctx, memory.ID, UpdateRequest{Content: "second account"})
	require.NoError(t, err)

	// Drop the cached record so the next read is cold.
	cacheService.InvalidateMemory(ctx, memory.ID)

	cold, err := orch.GetMemory(ctx, memory.ID)
	require.NoError(t, err)
	require.Len(t, cold.Versions, 2)
	assert.Equal(t, "first account", cold.Versions[0].Content)
	assert.Equal(t, "second account", cold.Content)

	updated, _, err := orch.UpdateMemory(ctx, memory.ID, UpdateRequest{Content: "third account"})
	require.NoError(t, err)
	require.Len(t, updated.Versions, 3)
	assert.Equal(t, "first account", updated.Versions[0].Content)
	assert.Equal(t, "second account", updated.Versions[1].Content)
}

func TestUpdateMemoryToneChangeAppendsVersion(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	memory, _, err := f.orch.StoreMemory(ctx, StoreRequest{
		UserID:        "user-1",
		Content:       "the reunion",
		Type:          store.MemoryTypeEmotion,
		EmotionalTone: "happy",
		Context:       "arrival day",
	})
	require.NoError(t, err)

	updated, _, err := f.orch.UpdateMemory(ctx, memory.ID, UpdateRequest{EmotionalTone: "bitter"})
	require.NoError(t, err)
	require.Len(t, updated.Versions, 2)

	// The original snapshot keeps its tone; the change lives in the new one.
	assert.Equal(t, "happy", updated.Versions[0].EmotionalTone)
	active, ok := updated.ActiveVersionRef()
	require.True(t, ok)
	assert.Equal(t, "bitter", active.EmotionalTone)
	assert.Equal(t, "arrival day", active.Context)
	assert.Equal(t, "the reunion", active.Content)
}

func TestUpdateMemoryRecordFieldsDoNotAppendVersions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	memory, _, err := f.orch.StoreMemory(ctx, StoreRequest{
		UserID:  "user-1",
		Content: "the reunion",
		Type:    store.MemoryTypeEvent,
	})
	require.NoError(t, err)

	updated, _, err := f.orch.UpdateMemory(ctx, memory.ID, UpdateRequest{
		DocumentIDs:    []string{"doc-9"},
		PrivacyLevel:   store.PrivacyShared,
		UserPreference: store.PreferPinned,
	})
	require.NoError(t, err)
	assert.Len(t, updated.Versions, 1)
	assert.Equal(t, []string{"doc-9"}, updated.DocumentIDs)
	assert.Equal(t, store.PrivacyShared, updated.PrivacyLevel)
	assert.Equal(t, store.PreferPinned, updated.UserPreference)
}

func TestUpdateGraphFailureKeepsSimilarityEntry(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	memory, _, err := f.orch.StoreMemory(ctx, StoreRequest{
		UserID:  "user-1",
		Content: "original account",
		Type:    store.MemoryTypeEvent,
	})
	require.NoError(t, err)

	f.graph.storeErr = assert.AnError
	_, _, err = f.orch.UpdateMemory(ctx, memory.ID, UpdateRequest{Content: "revised account"})
	require.Error(t, err)

	// No compensating delete on updates: the vector record stays.
	assert.Contains(t, f.vector.stored, memory.ID)
	assert.Empty(t, f.vector.deleted)
}

func TestUpdateMemoryContentChangeInvalidatesSearchCache(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	memory, _, err := f.orch.StoreMemory(ctx, StoreRequest{
		UserID:  "user-1",
		Content: "cached away",
		Type:    store.MemoryTypeEvent,
	})
	require.NoError(t, err)

	query := &store.ContextQuery{Query: "anything", UserID: "user-1"}
	f.vector.searchResult = &store.MemorySearchResult{
		Memories:   []store.ScoredMemory{scored("m-1", 0.8)},
		TotalCount: 1,
		Source:     store.SourceVector,
	}
	_, err = f.orch.SearchMemories(ctx, query)
	require.NoError(t, err)
	require.Equal(t, 1, f.vector.searchCalls)

	// Cache serves the repeat.
	_, err = f.orch.SearchMemories(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, 1, f.vector.searchCalls)

	// A content change flushes the user's search cache.
	_, _, err = f.orch.UpdateMemory(ctx, memory.ID, UpdateRequest{Content: "something new"})
	require.NoError(t, err)

	_, err = f.orch.SearchMemories(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, 2, f.vector.searchCalls)
}

func TestDeleteMemoryFansOutAndFailsOnEitherStore(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	memory, _, err := f.orch.StoreMemory(ctx, StoreRequest{
		UserID:  "user-1",
		Content: "to be deleted",
		Type:    store.MemoryTypeEvent,
	})
	require.NoError(t, err)

	require.NoError(t, f.orch.DeleteMemory(ctx, memory.ID, "user-1"))
	assert.NotContains(t, f.vector.stored, memory.ID)
	assert.NotContains(t, f.graph.stored, memory.ID)

	// A failing store fails the delete.
	f.graph.deleteErr = assert.AnError
	memory2, _, err := f.orch.StoreMemory(ctx, StoreRequest{
		UserID:  "user-1",
		Content: "sticky",
		Type:    store.MemoryTypeEvent,
	})
	require.NoError(t, err)
	assert.Error(t, f.orch.DeleteMemory(ctx, memory2.ID, "user-1"))
}

func TestHybridParallelSynthesisBoostsDualPresence(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.vector.searchResult = &store.MemorySearchResult{
		Memories:   []store.ScoredMemory{scored("both", 0.7), scored("vector-only", 0.9)},
		TotalCount: 2,
		QueryTime:  10 * time.Millisecond,
		Source:     store.SourceVector,
	}
	f.graph.searchResult = &store.MemorySearchResult{
		Memories: []store.ScoredMemory{scored("both", 1.0), scored("graph-only", 1.0)},
		Relationships: []store.GraphRelationship{
			{ID: "r-1", FromNodeID: "both", ToNodeID: "Anna", Type: "MENTIONS"},
		},
		TotalCount: 2,
		QueryTime:  25 * time.Millisecond,
		Source:     store.SourceGraph,
	}

	result, err := f.orch.SearchMemories(ctx, &store.ContextQuery{
		Query:         "family theme",
		UserID:        "user-1",
		IncludeVector: true,
		IncludeGraph:  true,
	})
	require.NoError(t, err)

	assert.Equal(t, store.SourceHybrid, result.Source)
	assert.Equal(t, 3, result.TotalCount)
	assert.Len(t, result.Relationships, 1)
	assert.Equal(t, 25*time.Millisecond, result.QueryTime)

	byID := make(map[string]float64)
	for _, scoredMemory := range result.Memories {
		byID[scoredMemory.Memory.ID] = scoredMemory.Relevance
	}
	assert.InDelta(t, 0.84, byID["both"], 1e-9) // 0.7 * 1.2
	assert.Equal(t, 0.9, byID["vector-only"])
	assert.Equal(t, 1.0, byID["graph-only"])
}

func TestSynthesisBoostIsCapped(t *testing.T) {
	vectorResult := &store.MemorySearchResult{
		Memories: []store.ScoredMemory{scored("m", 0.95)},
	}
	graphResult := &store.MemorySearchResult{
		Memories: []store.ScoredMemory{scored("m", 1.0)},
	}

	merged := synthesize(vectorResult, graphResult, 10)
	require.Len(t, merged.Memories, 1)
	assert.Equal(t, 1.0, merged.Memories[0].Relevance)
}

func TestHybridParallelDegradesWhenOneBranchFails(t *testing.T) {
	f := newFixture()
	f.graph.searchErr = assert.AnError
	f.vector.searchResult = &store.MemorySearchResult{
		Memories:   []store.ScoredMemory{scored("v", 0.8)},
		TotalCount: 1,
		Source:     store.SourceVector,
	}

	result, err := f.orch.SearchMemories(context.Background(), &store.ContextQuery{
		Query:         "anything",
		UserID:        "user-1",
		IncludeVector: true,
		IncludeGraph:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, store.SourceVector, result.Source)

	// Both branches failing fails the search.
	f.vector.searchErr = assert.AnError
	f.orch.cache.InvalidateUserSearchCache(context.Background(), "user-1")
	_, err = f.orch.SearchMemories(context.Background(), &store.ContextQuery{
		Query:         "something else",
		UserID:        "user-1",
		IncludeVector: true,
		IncludeGraph:  true,
	})
	assert.Error(t, err)
}

func TestHybridSequentialSkipsGraphWhenVectorSuffices(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.vector.searchResult = &store.MemorySearchResult{
		Memories: []store.ScoredMemory{
			scored("a", 0.9), scored("b", 0.8), scored("c", 0.7),
			scored("d", 0.6), scored("e", 0.5),
		},
		TotalCount: 5,
		Source:     store.SourceVector,
	}

	// 5 results meet half the cap of 10: the graph backend stays untouched.
	result, err := f.orch.SearchMemories(ctx,
		&store.ContextQuery{Query: "anything", UserID: "user-1", MaxResults: 10},
		WithStrategy(store.StrategyHybridSequential))
	require.NoError(t, err)

	assert.Equal(t, store.SourceVector, result.Source)
	assert.Equal(t, 0, f.graph.searchCalls)
}

func TestHybridSequentialFallsThroughToGraphWhenSparse(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.vector.searchResult = &store.MemorySearchResult{
		Memories:   []store.ScoredMemory{scored("a", 0.9)},
		TotalCount: 1,
		Source:     store.SourceVector,
	}
	f.graph.searchResult = &store.MemorySearchResult{
		Memories:   []store.ScoredMemory{scored("g", 1.0)},
		TotalCount: 1,
		Source:     store.SourceGraph,
	}

	result, err := f.orch.SearchMemories(ctx,
		&store.ContextQuery{Query: "anything", UserID: "user-1", MaxResults: 10},
		WithStrategy(store.StrategyHybridSequential))
	require.NoError(t, err)

	assert.Equal(t, store.SourceHybrid, result.Source)
	assert.Equal(t, 1, f.graph.searchCalls)
	assert.Equal(t, 2, result.TotalCount)
}

func TestResolveContradictionPersistsAndCounts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	memory, _, err := f.orch.StoreMemory(ctx, StoreRequest{
		UserID:  "user-1",
		Content: "conflicted account",
		Type:    store.MemoryTypeEvent,
	})
	require.NoError(t, err)

	memory.Contradictions = []store.ContradictionRef{{ID: "c-1", Type: store.ContradictionFact}}
	f.orch.cache.CacheMemory(ctx, memory)

	resolved, err := f.orch.ResolveContradiction(ctx, memory.ID, "c-1", store.ResolutionReplace, "settled account")
	require.NoError(t, err)

	assert.Equal(t, "settled account", resolved.Content)
	assert.NotNil(t, resolved.Contradictions[0].ResolvedAt)
	metrics := f.orch.Metrics()
	assert.Equal(t, int64(1), metrics.ContradictionsResolved)
	assert.Equal(t, int64(1), metrics.VersionEvolutions)
}

func TestMetricsTrackStrategyAndCache(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	query := &store.ContextQuery{Query: "nothing special", UserID: "user-1"}
	_, err := f.orch.SearchMemories(ctx, query)
	require.NoError(t, err)
	_, err = f.orch.SearchMemories(ctx, query)
	require.NoError(t, err)

	metrics := f.orch.Metrics()
	strategyMetrics := metrics.ByStrategy[store.StrategyVectorOnly]
	assert.Equal(t, int64(2), strategyMetrics.Searches)
	assert.Equal(t, int64(1), strategyMetrics.CacheServed)
	assert.Equal(t, int64(1), metrics.CacheHits)
}

func TestCacheServedSearchesDoNotDiluteLatencyAverage(t *testing.T) {
	tracker := newMetricsTracker()

	// A cache hit recorded before any backend-served search must not count
	// as a zero-latency sample.
	tracker.recordSearch(store.StrategyVectorOnly, 0, true)
	tracker.recordSearch(store.StrategyVectorOnly, 40*time.Millisecond, false)

	metrics := tracker.snapshot(0, 0)
	entry := metrics.ByStrategy[store.StrategyVectorOnly]
	assert.Equal(t, int64(2), entry.Searches)
	assert.Equal(t, int64(1), entry.CacheServed)
	assert.Equal(t, 40*time.Millisecond, entry.AvgLatency)
}

func TestHealthCheckProbesAllBackends(t *testing.T) {
	f := newFixture()

	report := f.orch.HealthCheck(context.Background())
	assert.True(t, report.Healthy())
	assert.NoError(t, report.Vector)
	assert.NoError(t, report.Graph)
	assert.NoError(t, report.Cache)
}

func TestHealthCheckIncludesSemanticProbe(t *testing.T) {
	f := newFixture()
	cacheService := cache.NewService(cache.NewMemoryBackend(256), time.Hour, time.Minute, nil)
	orch := New(f.vector, f.graph, cacheService, queryengine.NewRouter(queryengine.DefaultKeywords()), f.detector, nil,
		WithSemanticProbe(func(context.Context) error { return assert.AnError }))

	report := orch.HealthCheck(context.Background())
	assert.False(t, report.Healthy())
	assert.ErrorIs(t, report.Semantic, assert.AnError)
	assert.NoError(t, report.Vector)
}
