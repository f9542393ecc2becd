// Package orchestrator is the engine's top-level façade. It fans writes out
// to the similarity and relationship stores, routes searches, synthesizes
// hybrid results, and keeps running operational metrics.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lifeink/chronicle/internal/errors"
	"github.com/lifeink/chronicle/internal/observability"
	"github.com/lifeink/chronicle/server/contradiction"
	"github.com/lifeink/chronicle/server/queryengine"
	"github.com/lifeink/chronicle/store"
	"github.com/lifeink/chronicle/store/cache"
)

// VectorStore is the similarity adapter surface the orchestrator uses.
type VectorStore interface {
	Store(ctx context.Context, memory *store.Memory) error
	Update(ctx context.Context, memory *store.Memory) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query *store.ContextQuery) (*store.MemorySearchResult, error)
	HealthCheck(ctx context.Context) error
}

// GraphStore is the relationship adapter surface the orchestrator uses.
type GraphStore interface {
	Store(ctx context.Context, memory *store.Memory) error
	Update(ctx context.Context, memory *store.Memory) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*store.Memory, error)
	Search(ctx context.Context, query *store.ContextQuery) (*store.MemorySearchResult, error)
	HealthCheck(ctx context.Context) error
}

// Detector is the contradiction engine surface the orchestrator uses.
type Detector interface {
	DetectContradictions(ctx context.Context, memory *store.Memory) (*contradiction.DetectionResult, error)
	ResolveContradiction(memory *store.Memory, contradictionID string, action store.ResolutionAction, newContent string) error
	GetContradictionStats(userID string) contradiction.Stats
}

// StoreRequest carries everything needed to build a new memory.
type StoreRequest struct {
	UserID             string
	Content            string
	Type               store.MemoryType
	DocumentIDs        []string
	Context            string
	EmotionalTone      string
	NarrativeElements  store.NarrativeElements
	PrivacyLevel       store.PrivacyLevel
	EncryptionRequired bool
}

// UpdateRequest carries the mutable parts of an update. Versions are
// immutable snapshots, so any version-scoped field (content, context, tone,
// narrative elements) lands in a newly appended version; the remaining
// fields edit the memory record itself.
type UpdateRequest struct {
	Content           string
	Context           string
	EmotionalTone     string
	NarrativeElements *store.NarrativeElements
	Confidence        float64
	DocumentIDs       []string
	PrivacyLevel      store.PrivacyLevel
	UserPreference    store.VersionPreference
}

// Orchestrator coordinates the stores, the cache, the router, and the
// contradiction engine.
type Orchestrator struct {
	vector        VectorStore
	graph         GraphStore
	cache         *cache.Service
	router        *queryengine.Router
	detector      Detector
	logger        *slog.Logger
	metrics       *metricsTracker
	semanticProbe func(ctx context.Context) error
}

// Option configures optional orchestrator wiring.
type Option func(*Orchestrator)

// WithSemanticProbe adds the semantic service to the composite health check.
func WithSemanticProbe(probe func(ctx context.Context) error) Option {
	return func(o *Orchestrator) { o.semanticProbe = probe }
}

func New(vector VectorStore, graph GraphStore, cacheService *cache.Service, router *queryengine.Router, detector Detector, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		vector:   vector,
		graph:    graph,
		cache:    cacheService,
		router:   router,
		detector: detector,
		logger:   logger,
		metrics:  newMetricsTracker(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StoreMemory builds a versioned memory, scores it against near-duplicates,
// and persists it to both stores. The write is a saga: the similarity store
// goes first, and a graph failure compensates by deleting the similarity
// entry so the stores never silently diverge.
func (o *Orchestrator) StoreMemory(ctx context.Context, req StoreRequest) (*store.Memory, *contradiction.DetectionResult, error) {
	if req.UserID == "" {
		return nil, nil, errors.InvalidArgument("userID is required")
	}
	if req.Content == "" {
		return nil, nil, errors.InvalidArgument("content is required")
	}
	reqCtx := observability.NewRequestContext(o.logger, "store_memory", req.UserID)
	ctx = observability.WithRequestContext(ctx, reqCtx)

	memory := store.NewMemory(req.UserID, req.Content, req.Type)
	memory.DocumentIDs = req.DocumentIDs
	memory.PrivacyLevel = req.PrivacyLevel
	memory.EncryptionRequired = req.EncryptionRequired
	memory.Versions[0].Context = req.Context
	memory.Versions[0].EmotionalTone = req.EmotionalTone
	memory.Versions[0].NarrativeElements = req.NarrativeElements

	detection := o.detect(ctx, memory)

	if err := o.persistNew(ctx, memory); err != nil {
		reqCtx.Error("memory store failed", err,
			slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))
		return nil, nil, err
	}

	o.cache.CacheMemory(ctx, memory)
	o.cache.InvalidateUserSearchCache(ctx, memory.UserID)
	o.metrics.recordStore()
	reqCtx.Info("memory stored",
		slog.String("memory_id", memory.ID),
		slog.Int("contradictions", len(memory.Contradictions)),
		slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))
	return memory, detection, nil
}

// UpdateMemory appends a new version when any version-scoped field changed;
// existing versions are never edited in place. A content change additionally
// triggers a fresh contradiction check. Memory-level fields (documents,
// privacy, preference) are applied directly to the record.
func (o *Orchestrator) UpdateMemory(ctx context.Context, id string, req UpdateRequest) (*store.Memory, *contradiction.DetectionResult, error) {
	memory, err := o.GetMemory(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	reqCtx := observability.NewRequestContext(o.logger, "update_memory", memory.UserID)
	ctx = observability.WithRequestContext(ctx, reqCtx)

	active, _ := memory.ActiveContent()
	contentChanged := req.Content != "" && req.Content != active
	versionScoped := req.Context != "" || req.EmotionalTone != "" || req.NarrativeElements != nil

	versionAppended := false
	var detection *contradiction.DetectionResult
	if contentChanged {
		elements := store.NarrativeElements{}
		if req.NarrativeElements != nil {
			elements = *req.NarrativeElements
		}
		confidence := req.Confidence
		if confidence <= 0 {
			confidence = 1.0
		}
		memory.AppendVersion(req.Content, req.Context, req.EmotionalTone, elements, confidence)
		versionAppended = true
		detection = o.detect(ctx, memory)
	} else if versionScoped {
		// Same content, new framing: the change still lands in a fresh
		// snapshot, carrying forward whatever the request leaves unset.
		if version, ok := memory.ActiveVersionRef(); ok {
			versionContext := version.Context
			if req.Context != "" {
				versionContext = req.Context
			}
			tone := version.EmotionalTone
			if req.EmotionalTone != "" {
				tone = req.EmotionalTone
			}
			elements := version.NarrativeElements
			if req.NarrativeElements != nil {
				elements = *req.NarrativeElements
			}
			confidence := req.Confidence
			if confidence <= 0 {
				confidence = version.Confidence
			}
			memory.AppendVersion(active, versionContext, tone, elements, confidence)
			versionAppended = true
		}
	}
	if versionAppended {
		refreshNarrativeAnalysis(memory)
		o.metrics.recordVersionEvolution()
	}

	if req.DocumentIDs != nil {
		memory.DocumentIDs = req.DocumentIDs
	}
	if req.PrivacyLevel != "" {
		memory.PrivacyLevel = req.PrivacyLevel
	}
	if req.UserPreference != "" {
		memory.UserPreference = req.UserPreference
	}

	if err := o.persistExisting(ctx, memory); err != nil {
		return nil, nil, err
	}

	o.cache.CacheMemory(ctx, memory)
	if versionAppended {
		o.cache.InvalidateUserSearchCache(ctx, memory.UserID)
	}
	reqCtx.Info("memory updated",
		slog.String("memory_id", memory.ID),
		slog.Bool("content_changed", contentChanged),
		slog.Int("versions", len(memory.Versions)),
		slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))
	return memory, detection, nil
}

// DeleteMemory removes the memory from both stores concurrently and drops it
// from the cache. Either store failing fails the delete.
func (o *Orchestrator) DeleteMemory(ctx context.Context, id, userID string) error {
	reqCtx := observability.NewRequestContext(o.logger, "delete_memory", userID)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return o.vector.Delete(groupCtx, id) })
	group.Go(func() error { return o.graph.Delete(groupCtx, id) })
	if err := group.Wait(); err != nil {
		return err
	}

	o.cache.InvalidateMemory(ctx, id)
	if userID != "" {
		o.cache.InvalidateUserSearchCache(ctx, userID)
	}
	o.metrics.recordDelete()
	reqCtx.Info("memory deleted",
		slog.String("memory_id", id),
		slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))
	return nil
}

// GetMemory reads cache-first, falling back to the relationship store's node
// projection.
func (o *Orchestrator) GetMemory(ctx context.Context, id string) (*store.Memory, error) {
	if memory, ok := o.cache.GetCachedMemory(ctx, id); ok {
		return memory, nil
	}
	memory, err := o.graph.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	o.cache.CacheMemory(ctx, memory)
	return memory, nil
}

// ResolveContradiction applies a resolution to a memory's contradiction and
// persists the outcome to both stores.
func (o *Orchestrator) ResolveContradiction(ctx context.Context, memoryID, contradictionID string, action store.ResolutionAction, newContent string) (*store.Memory, error) {
	memory, err := o.GetMemory(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	versionsBefore := len(memory.Versions)

	if err := o.detector.ResolveContradiction(memory, contradictionID, action, newContent); err != nil {
		return nil, err
	}
	if len(memory.Versions) > versionsBefore {
		refreshNarrativeAnalysis(memory)
		o.metrics.recordVersionEvolution()
	}

	if err := o.persistExisting(ctx, memory); err != nil {
		return nil, err
	}

	o.cache.CacheMemory(ctx, memory)
	o.cache.InvalidateUserSearchCache(ctx, memory.UserID)
	o.metrics.recordResolution()
	return memory, nil
}

// GetContradictionStats reports the user's contradiction totals.
func (o *Orchestrator) GetContradictionStats(userID string) contradiction.Stats {
	return o.detector.GetContradictionStats(userID)
}

// Metrics snapshots the orchestrator's running counters.
func (o *Orchestrator) Metrics() Metrics {
	stats := o.cache.Stats()
	return o.metrics.snapshot(stats.Hits, stats.Misses)
}

// refreshNarrativeAnalysis recomputes the derived narrative fields from the
// version log after a version is appended.
func refreshNarrativeAnalysis(memory *store.Memory) {
	if len(memory.Versions) == 0 {
		return
	}
	sum := 0.0
	for _, version := range memory.Versions {
		sum += version.Confidence
	}
	analysis := &store.NarrativeAnalysis{
		Coherence:  sum / float64(len(memory.Versions)),
		AnalyzedAt: time.Now().UTC(),
	}
	first := memory.Versions[0].EmotionalTone
	last := memory.Versions[len(memory.Versions)-1].EmotionalTone
	switch {
	case first != "" && last != "" && first != last:
		analysis.EmotionalArc = fmt.Sprintf("%s to %s", first, last)
	case last != "":
		analysis.EmotionalArc = last
	}
	if len(memory.Versions) > 1 {
		analysis.PlotProgression = fmt.Sprintf("revision %d", len(memory.Versions))
	}
	memory.NarrativeAnalysis = analysis
}

// HealthReport is the composite health probe result.
type HealthReport struct {
	Vector   error
	Graph    error
	Cache    error
	Semantic error
}

// Healthy reports whether every backend probe succeeded.
func (r HealthReport) Healthy() bool {
	return r.Vector == nil && r.Graph == nil && r.Cache == nil && r.Semantic == nil
}

// HealthCheck probes every backend concurrently.
func (o *Orchestrator) HealthCheck(ctx context.Context) HealthReport {
	var report HealthReport
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { report.Vector = o.vector.HealthCheck(groupCtx); return nil })
	group.Go(func() error { report.Graph = o.graph.HealthCheck(groupCtx); return nil })
	group.Go(func() error { report.Cache = o.cache.HealthCheck(groupCtx); return nil })
	if o.semanticProbe != nil {
		group.Go(func() error { report.Semantic = o.semanticProbe(groupCtx); return nil })
	}
	_ = group.Wait()
	return report
}

// detect runs the contradiction check, degrading to nil on failure so a
// broken semantic pipeline never blocks writes.
func (o *Orchestrator) detect(ctx context.Context, memory *store.Memory) *contradiction.DetectionResult {
	detection, err := o.detector.DetectContradictions(ctx, memory)
	if err != nil {
		if reqCtx, ok := observability.FromContext(ctx); ok {
			reqCtx.Warn("contradiction check skipped", slog.String("memory_id", memory.ID),
				slog.String("error", err.Error()))
		} else {
			o.logger.Warn("contradiction check skipped",
				slog.String("memory_id", memory.ID),
				slog.String("error", err.Error()))
		}
		return nil
	}

	for _, finding := range detection.Contradictions {
		memory.Contradictions = append(memory.Contradictions, store.ContradictionRef{
			ID:          finding.ID,
			MemoryID:    finding.ConflictingMemoryID,
			Type:        finding.Type,
			Description: finding.Description,
		})
	}
	o.metrics.recordContradictions(len(detection.Contradictions))
	return detection
}

// persistNew runs the dual-write saga for a first store.
func (o *Orchestrator) persistNew(ctx context.Context, memory *store.Memory) error {
	if err := o.vector.Store(ctx, memory); err != nil {
		return err
	}
	if err := o.graph.Store(ctx, memory); err != nil {
		if compensateErr := o.vector.Delete(ctx, memory.ID); compensateErr != nil {
			return fmt.Errorf("graph store failed: %w (similarity compensation also failed: %v)", err, compensateErr)
		}
		return fmt.Errorf("graph store failed, similarity entry rolled back: %w", err)
	}
	return nil
}

// persistExisting writes an update to both stores. Unlike the first-store
// saga there is no compensating delete here: the record already exists on
// both sides, so deleting the similarity entry would trade a stale graph
// node for a missing vector. The error is surfaced and the next successful
// update reconverges both stores.
func (o *Orchestrator) persistExisting(ctx context.Context, memory *store.Memory) error {
	if err := o.vector.Update(ctx, memory); err != nil {
		return err
	}
	if err := o.graph.Update(ctx, memory); err != nil {
		return fmt.Errorf("graph update failed, stores diverge until the next update: %w", err)
	}
	return nil
}
