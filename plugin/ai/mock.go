package ai

import (
	"context"
	"hash/fnv"
	"sync"
)

// MockEmbeddingService is a deterministic in-process EmbeddingService for
// testing. Identical texts produce identical vectors.
type MockEmbeddingService struct {
	Dim int
	// Err, when set, is returned by every call.
	Err error

	mu    sync.Mutex
	calls int
}

// NewMockEmbeddingService creates a mock with the given dimension.
func NewMockEmbeddingService(dim int) *MockEmbeddingService {
	if dim <= 0 {
		dim = 8
	}
	return &MockEmbeddingService{Dim: dim}
}

func (m *MockEmbeddingService) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	// Seed a small deterministic vector from the text hash.
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	vector := make([]float32, m.Dim)
	for i := range vector {
		seed = seed*6364136223846793005 + 1442695040888963407
		vector[i] = float32(seed%1000) / 1000.0
	}
	return vector, nil
}

func (m *MockEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func (m *MockEmbeddingService) Dimensions() int {
	return m.Dim
}

// Calls returns how many Embed calls were made.
func (m *MockEmbeddingService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockLLMService is a scripted LLMService for testing. Responses are served
// in order; after they run out the last one repeats.
type MockLLMService struct {
	Responses []string
	// Err, when set, is returned by every call.
	Err error

	mu      sync.Mutex
	Prompts []string
}

func (m *MockLLMService) Complete(_ context.Context, system, user string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, system+"\n"+user)
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Responses) == 0 {
		return "", nil
	}
	idx := len(m.Prompts) - 1
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return m.Responses[idx], nil
}

var (
	_ EmbeddingService = (*MockEmbeddingService)(nil)
	_ LLMService       = (*MockLLMService)(nil)
)
