package similarity

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MockBackend is an in-memory VectorBackend for testing. Similarity is
// cosine; distance is 1 - cosine to match the backend convention.
type MockBackend struct {
	mu      sync.RWMutex
	entries map[string]*mockEntry
	// Err, when set, is returned by every call.
	Err error
	// QueryCalls counts Query invocations.
	QueryCalls int
}

type mockEntry struct {
	Vector   []float32
	Document string
	Metadata map[string]any
}

// NewMockBackend creates an empty mock backend.
func NewMockBackend() *MockBackend {
	return &MockBackend{entries: make(map[string]*mockEntry)}
}

func (m *MockBackend) Upsert(_ context.Context, ids []string, embeddings [][]float32, documents []string, metadatas []map[string]any) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		m.entries[id] = &mockEntry{
			Vector:   embeddings[i],
			Document: documents[i],
			Metadata: metadatas[i],
		}
	}
	return nil
}

func (m *MockBackend) Delete(_ context.Context, ids []string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

func (m *MockBackend) Query(_ context.Context, embedding []float32, k int, filter QueryFilter) ([]QueryHit, error) {
	m.mu.Lock()
	m.QueryCalls++
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []QueryHit
	for id, entry := range m.entries {
		if !matchesQueryFilter(entry.Metadata, filter) {
			continue
		}
		hits = append(hits, QueryHit{
			ID:       id,
			Document: entry.Document,
			Metadata: entry.Metadata,
			Distance: 1 - cosineSimilarity(embedding, entry.Vector),
		})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *MockBackend) HealthCheck(context.Context) error {
	return m.Err
}

// Size returns the number of stored vectors.
func (m *MockBackend) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Has reports whether the id is stored.
func (m *MockBackend) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[id]
	return ok
}

func matchesQueryFilter(meta map[string]any, filter QueryFilter) bool {
	if filter.UserID != "" && stringFromMeta(meta, metaUserID) != filter.UserID {
		return false
	}
	if filter.MemoryType != "" && stringFromMeta(meta, metaMemoryType) != filter.MemoryType {
		return false
	}
	if filter.DocumentID != "" {
		found := false
		for _, docID := range stringSliceFromMeta(meta[metaDocumentIDs]) {
			if docID == filter.DocumentID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	ts := int64FromMeta(meta, metaTimestamp)
	if filter.StartTs > 0 && ts < filter.StartTs {
		return false
	}
	if filter.EndTs > 0 && ts > filter.EndTs {
		return false
	}
	return true
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ VectorBackend = (*MockBackend)(nil)
