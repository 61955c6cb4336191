package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/kotaeru/internal/models"
	"github.com/hyperjump/kotaeru/pkg/utils"
)

// MemoryStore is an in-memory vector store using brute-force cosine search.
// Suitable for tests and small corpora when no Qdrant server is available.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	dimensions int
	points     map[string]Point
}

// NewMemoryStore creates an empty in-memory vector store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

func (m *MemoryStore) EnsureCollection(ctx context.Context, collection string, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.collections[collection]; ok {
		if existing.dimensions != dimensions {
			return &models.DimensionMismatchError{Got: dimensions, Want: existing.dimensions}
		}
		return nil
	}
	m.collections[collection] = &memCollection{
		dimensions: dimensions,
		points:     make(map[string]Point),
	}
	return nil
}

func (m *MemoryStore) Upsert(ctx context.Context, collection string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[collection]
	if !ok {
		return fmt.Errorf("collection %q does not exist", collection)
	}
	for _, p := range points {
		if len(p.Vector) != coll.dimensions {
			return &models.DimensionMismatchError{Got: len(p.Vector), Want: coll.dimensions}
		}
		vec := make([]float32, coll.dimensions)
		copy(vec, p.Vector)
		stored := Point{ID: p.ID, Vector: vec}
		if p.Payload != nil {
			stored.Payload = make(map[string]string, len(p.Payload))
			for k, v := range p.Payload {
				stored.Payload[k] = v
			}
		}
		coll.points[p.ID] = stored
	}
	return nil
}

func (m *MemoryStore) Search(ctx context.Context, collection string, vector []float32, k int, filter map[string]string) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll, ok := m.collections[collection]
	if !ok {
		return nil, fmt.Errorf("collection %q does not exist", collection)
	}
	if len(vector) != coll.dimensions {
		return nil, &models.DimensionMismatchError{Got: len(vector), Want: coll.dimensions}
	}
	if k <= 0 || len(coll.points) == 0 {
		return nil, nil
	}
	hits := make([]Hit, 0, len(coll.points))
	for _, p := range coll.points {
		if !payloadMatches(p.Payload, filter) {
			continue
		}
		hits = append(hits, Hit{ID: p.ID, Score: utils.Cosine(vector, p.Vector), Payload: p.Payload})
	}
	// Score descending, then ID ascending so equal scores order deterministically.
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

func payloadMatches(payload, filter map[string]string) bool {
	for k, v := range filter {
		if payload[k] != v {
			return false
		}
	}
	return true
}

func (m *MemoryStore) DeletePoints(ctx context.Context, collection string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[collection]
	if !ok {
		return nil
	}
	for _, id := range ids {
		delete(coll.points, id)
	}
	return nil
}

func (m *MemoryStore) Count(ctx context.Context, collection string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll, ok := m.collections[collection]
	if !ok {
		return 0, nil
	}
	return len(coll.points), nil
}

func (m *MemoryStore) DeleteCollection(ctx context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, collection)
	return nil
}

// Close is a no-op for MemoryStore.
func (m *MemoryStore) Close() error {
	return nil
}
