package vectorindex

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Index using brute-force cosine similarity. It backs
// tests and small single-node deployments.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) Upsert(ctx context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	vec := make([]float32, len(entry.Vector))
	copy(vec, entry.Vector)
	entry.Vector = vec
	m.entries[entry.ChunkID] = entry
	return nil
}

func (m *Memory) Delete(ctx context.Context, chunkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, chunkID)
	return nil
}

func (m *Memory) DeleteTenant(ctx context.Context, tenantID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries {
		if e.TenantID == tenantID {
			delete(m.entries, id)
		}
	}
	return nil
}

func (m *Memory) Query(ctx context.Context, vector []float32, topK int, tenants []int64) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}

	allowed := make(map[int64]bool, len(tenants))
	for _, t := range tenants {
		allowed[t] = true
	}

	m.mu.RLock()
	matches := make([]Match, 0, len(m.entries))
	for _, e := range m.entries {
		if !allowed[e.TenantID] {
			continue
		}
		matches = append(matches, Match{
			ChunkID:  e.ChunkID,
			TenantID: e.TenantID,
			Score:    CosineSimilarity(vector, e.Vector),
		})
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ChunkID < matches[j].ChunkID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Len reports the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Has reports whether an entry exists for chunkID.
func (m *Memory) Has(chunkID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[chunkID]
	return ok
}
