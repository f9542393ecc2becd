package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lifeink/chronicle/store"
)

const (
	// DefaultMemoryTTL applies to cached memories when no TTL is configured.
	DefaultMemoryTTL = time.Hour
	// DefaultSearchTTL applies to cached search results. Search entries
	// always use the tighter of the two TTLs.
	DefaultSearchTTL = 5 * time.Minute
)

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Errors int64 `json:"errors"`
}

// Service is the cache layer. Every operation is best effort: backend
// failures are logged and swallowed, a failing cache degrades to a cache
// that misses, and callers never see its errors.
type Service struct {
	backend   Backend
	memoryTTL time.Duration
	searchTTL time.Duration
	logger    *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// NewService wraps a backend with the caching policy. A zero TTL falls back
// to the package default.
func NewService(backend Backend, memoryTTL, searchTTL time.Duration, logger *slog.Logger) *Service {
	if memoryTTL <= 0 {
		memoryTTL = DefaultMemoryTTL
	}
	if searchTTL <= 0 {
		searchTTL = DefaultSearchTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		backend:   backend,
		memoryTTL: memoryTTL,
		searchTTL: searchTTL,
		logger:    logger,
	}
}

// CacheMemory stores a memory under its id key and records it in the user's
// memory index.
func (s *Service) CacheMemory(ctx context.Context, memory *store.Memory) {
	if memory == nil || memory.ID == "" {
		return
	}
	payload, err := json.Marshal(memory)
	if err != nil {
		s.warn("marshal memory for cache", err)
		return
	}

	key := MemoryKey(memory.ID)
	if err := s.backend.Set(ctx, key, payload, s.memoryTTL); err != nil {
		s.warn("cache memory", err)
		return
	}
	if err := s.backend.AddToSet(ctx, userMemoryIndexKey(memory.UserID), s.memoryTTL, key); err != nil {
		s.warn("index cached memory", err)
	}
	for _, documentID := range memory.DocumentIDs {
		if err := s.backend.AddToSet(ctx, userDocumentIndexKey(memory.UserID, documentID), s.memoryTTL, key); err != nil {
			s.warn("index cached memory by document", err)
		}
	}
}

// CacheMemories stores a batch of memories.
func (s *Service) CacheMemories(ctx context.Context, memories []*store.Memory) {
	for _, memory := range memories {
		s.CacheMemory(ctx, memory)
	}
}

// GetCachedMemories returns the subset of the requested memories present in
// the cache, keyed by id.
func (s *Service) GetCachedMemories(ctx context.Context, ids []string) map[string]*store.Memory {
	found := make(map[string]*store.Memory, len(ids))
	for _, id := range ids {
		if memory, ok := s.GetCachedMemory(ctx, id); ok {
			found[id] = memory
		}
	}
	return found
}

// GetCachedMemory returns a cached memory, or false on any miss or failure.
func (s *Service) GetCachedMemory(ctx context.Context, id string) (*store.Memory, bool) {
	payload, ok, err := s.backend.Get(ctx, MemoryKey(id))
	if err != nil {
		s.warn("read cached memory", err)
		s.errors.Add(1)
		return nil, false
	}
	if !ok {
		s.misses.Add(1)
		return nil, false
	}

	var memory store.Memory
	if err := json.Unmarshal(payload, &memory); err != nil {
		s.warn("decode cached memory", err)
		s.errors.Add(1)
		return nil, false
	}
	s.hits.Add(1)
	return &memory, true
}

// CacheSearchResults stores a result set under the query's derived key. The
// entry gets the tighter of the memory and search TTLs, so a search result
// never outlives the memories it contains.
func (s *Service) CacheSearchResults(ctx context.Context, query *store.ContextQuery, result *store.MemorySearchResult) {
	if query == nil || result == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		s.warn("marshal search result for cache", err)
		return
	}

	ttl := s.searchTTL
	if s.memoryTTL < ttl {
		ttl = s.memoryTTL
	}
	key := SearchKey(query.UserID, query)
	if err := s.backend.Set(ctx, key, payload, ttl); err != nil {
		s.warn("cache search result", err)
		return
	}
	if err := s.backend.AddToSet(ctx, userSearchIndexKey(query.UserID), ttl, key); err != nil {
		s.warn("index cached search", err)
	}
}

// GetCachedSearchResults returns a cached result set for an equivalent query.
func (s *Service) GetCachedSearchResults(ctx context.Context, query *store.ContextQuery) (*store.MemorySearchResult, bool) {
	if query == nil {
		return nil, false
	}
	payload, ok, err := s.backend.Get(ctx, SearchKey(query.UserID, query))
	if err != nil {
		s.warn("read cached search", err)
		s.errors.Add(1)
		return nil, false
	}
	if !ok {
		s.misses.Add(1)
		return nil, false
	}

	var result store.MemorySearchResult
	if err := json.Unmarshal(payload, &result); err != nil {
		s.warn("decode cached search", err)
		s.errors.Add(1)
		return nil, false
	}
	s.hits.Add(1)
	return &result, true
}

// InvalidateMemory drops a cached memory by id.
func (s *Service) InvalidateMemory(ctx context.Context, id string) {
	if err := s.backend.Delete(ctx, MemoryKey(id)); err != nil {
		s.warn("invalidate cached memory", err)
	}
}

// InvalidateUserSearchCache drops every cached search result for the user.
// Called after any write that could change what the user's searches return.
func (s *Service) InvalidateUserSearchCache(ctx context.Context, userID string) {
	indexKey := userSearchIndexKey(userID)
	keys, err := s.backend.SetMembers(ctx, indexKey)
	if err != nil {
		s.warn("list cached searches", err)
		return
	}
	if err := s.backend.Delete(ctx, append(keys, indexKey)...); err != nil {
		s.warn("invalidate cached searches", err)
	}
}

// InvalidateDocument drops every cached memory belonging to one document of
// the user, plus the user's search results.
func (s *Service) InvalidateDocument(ctx context.Context, userID, documentID string) {
	indexKey := userDocumentIndexKey(userID, documentID)
	keys, err := s.backend.SetMembers(ctx, indexKey)
	if err != nil {
		s.warn("list cached document memories", err)
		return
	}
	if err := s.backend.Delete(ctx, append(keys, indexKey)...); err != nil {
		s.warn("invalidate cached document memories", err)
	}
	s.InvalidateUserSearchCache(ctx, userID)
}

// InvalidateUser drops everything cached for the user.
func (s *Service) InvalidateUser(ctx context.Context, userID string) {
	s.InvalidateUserSearchCache(ctx, userID)

	indexKey := userMemoryIndexKey(userID)
	keys, err := s.backend.SetMembers(ctx, indexKey)
	if err != nil {
		s.warn("list cached memories", err)
		return
	}
	if err := s.backend.Delete(ctx, append(keys, indexKey)...); err != nil {
		s.warn("invalidate cached memories", err)
	}
}

// Stats snapshots hit/miss counters.
func (s *Service) Stats() Stats {
	return Stats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
		Errors: s.errors.Load(),
	}
}

// HealthCheck probes the backend. This is the one place cache errors
// propagate, so operators can see a degraded cache.
func (s *Service) HealthCheck(ctx context.Context) error {
	return s.backend.HealthCheck(ctx)
}

func (s *Service) warn(msg string, err error) {
	s.logger.Warn("cache degraded: "+msg, slog.String("error", err.Error()))
}
