package vectorstore

import (
	"context"
	"sort"
	"sync"

	"github.com/memorycore/memorycore/internal/domain/memcore"
)

// InMemoryStore is a memcore.VectorStore backed by a mutex-guarded map
// plus brute-force cosine similarity search, used in tests and small
// deployments instead of LanceDBStore.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memcore.Memory
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]*memcore.Memory)}
}

// Upsert stores or replaces a memory by id.
func (s *InMemoryStore) Upsert(ctx context.Context, memory *memcore.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *memory
	s.entries[memory.ID.String()] = &cp
	return nil
}

// Query performs cosine-similarity search over every stored memory,
// applying filter, and returns at most k results ordered by descending
// score.
func (s *InMemoryStore) Query(ctx context.Context, embedding []float32, k int, filter *memcore.SearchFilter) ([]*memcore.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		memory *memcore.Memory
		score  float32
	}
	var candidates []scored
	for _, m := range s.entries {
		if filter != nil {
			if filter.Type != "" && m.Type != filter.Type {
				continue
			}
			if filter.TimeRange != nil {
				if m.CreatedAt.Before(filter.TimeRange.Start) || m.CreatedAt.After(filter.TimeRange.End) {
					continue
				}
			}
		}
		score := cosineSimilarity(embedding, m.Embedding)
		if filter != nil && score < filter.MinScore {
			continue
		}
		candidates = append(candidates, scored{memory: m, score: score})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	results := make([]*memcore.Memory, len(candidates))
	for i, c := range candidates {
		cp := *c.memory
		cp.Score = c.score
		results[i] = &cp
	}
	return results, nil
}

// GetAll returns every stored memory, for maintenance passes.
func (s *InMemoryStore) GetAll(ctx context.Context) ([]*memcore.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*memcore.Memory, 0, len(s.entries))
	for _, m := range s.entries {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

// Delete removes the given ids. Missing ids are ignored.
func (s *InMemoryStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.entries, id)
	}
	return nil
}

// UpdateMetadata applies patch to every existing id, leaving missing ids
// untouched, and returns the count actually updated.
func (s *InMemoryStore) UpdateMetadata(ctx context.Context, ids []string, patch func(*memcore.Memory)) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, id := range ids {
		m, ok := s.entries[id]
		if !ok {
			continue
		}
		patch(m)
		count++
	}
	return count, nil
}

// cosineSimilarity computes a hand-rolled dot-product-over-norms score
// using Newton's-method sqrt rather than reaching for a numerics library
// for this one small computation.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (sqrtf(normA) * sqrtf(normB))
}

func sqrtf(x float32) float32 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 10; i++ {
		z = (z + x/z) / 2
	}
	return z
}
