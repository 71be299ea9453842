package openmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// InprocVectorStore keeps vectors in process memory, one collection per
// namespace with per-sector point maps. Search is exact brute-force cosine;
// at single-process scale this beats maintaining an ANN index and gives the
// tests a backend with no external dependencies.
type InprocVectorStore struct {
	mu          sync.RWMutex
	dim         int
	collections map[string]*inprocCollection // keyed by sanitized namespace
}

type inprocCollection struct {
	mu     sync.RWMutex
	points map[Sector]map[string][]float32 // sector -> memory id -> vector
}

// NewInprocVectorStore creates an empty in-process store for dim-sized vectors.
func NewInprocVectorStore(dim int) *InprocVectorStore {
	return &InprocVectorStore{
		dim:         dim,
		collections: make(map[string]*inprocCollection),
	}
}

// collection returns the namespace collection, creating it when create is set.
func (s *InprocVectorStore) collection(namespace string, create bool) *inprocCollection {
	key := SanitizeNamespace(namespace)

	s.mu.RLock()
	c := s.collections[key]
	s.mu.RUnlock()
	if c != nil || !create {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c = s.collections[key]; c == nil {
		c = &inprocCollection{points: make(map[Sector]map[string][]float32)}
		s.collections[key] = c
	}
	return c
}

// Upsert writes one point.
func (s *InprocVectorStore) Upsert(_ context.Context, p VectorPoint) error {
	if len(p.Vector) != s.dim {
		return fmt.Errorf("%w: dimension %d, want %d", ErrVectorStore, len(p.Vector), s.dim)
	}
	c := s.collection(p.Namespace, true)
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.points[p.Sector]
	if m == nil {
		m = make(map[string][]float32)
		c.points[p.Sector] = m
	}
	vec := make([]float32, len(p.Vector))
	copy(vec, p.Vector)
	m[p.MemoryID] = vec
	return nil
}

// BatchUpsert writes many points, grouping by namespace internally.
func (s *InprocVectorStore) BatchUpsert(ctx context.Context, points []VectorPoint) error {
	for _, p := range points {
		if err := s.Upsert(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Search returns the topN nearest points by cosine similarity.
// A missing collection yields an empty result.
func (s *InprocVectorStore) Search(_ context.Context, namespace string, sector Sector, query []float32, topN int) ([]VectorHit, error) {
	c := s.collection(namespace, false)
	if c == nil || topN <= 0 {
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	m := c.points[sector]
	if len(m) == 0 {
		return nil, nil
	}

	hits := make([]VectorHit, 0, len(m))
	for id, vec := range m {
		hits = append(hits, VectorHit{
			MemoryID: id,
			Sector:   sector,
			Score:    CosineSimilarity(query, vec),
			Vector:   vec,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topN {
		hits = hits[:topN]
	}
	return hits, nil
}

// Delete removes a memory's points; empty sector means all sectors.
func (s *InprocVectorStore) Delete(_ context.Context, namespace, memoryID string, sector Sector) error {
	c := s.collection(namespace, false)
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if sector != "" {
		delete(c.points[sector], memoryID)
		return nil
	}
	for _, m := range c.points {
		delete(m, memoryID)
	}
	return nil
}

// BatchDelete removes many memories' points.
func (s *InprocVectorStore) BatchDelete(ctx context.Context, namespace string, memoryIDs []string, sector Sector) error {
	for _, id := range memoryIDs {
		if err := s.Delete(ctx, namespace, id, sector); err != nil {
			return err
		}
	}
	return nil
}

// Vectors fetches stored vectors for a batch of memory ids.
func (s *InprocVectorStore) Vectors(_ context.Context, namespace string, sector Sector, memoryIDs []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(memoryIDs))
	c := s.collection(namespace, false)
	if c == nil {
		return out, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := c.points[sector]
	for _, id := range memoryIDs {
		if vec, ok := m[id]; ok {
			out[id] = vec
		}
	}
	return out, nil
}

// Stats reports point counts per namespace and sector.
func (s *InprocVectorStore) Stats(_ context.Context, namespace string) (map[string]map[Sector]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]map[Sector]int)
	want := ""
	if namespace != "" {
		want = SanitizeNamespace(namespace)
	}
	for key, c := range s.collections {
		if want != "" && key != want {
			continue
		}
		c.mu.RLock()
		counts := make(map[Sector]int, len(c.points))
		for sector, m := range c.points {
			counts[sector] = len(m)
		}
		c.mu.RUnlock()
		out[key] = counts
	}
	return out, nil
}

// Ping always succeeds for the in-process store.
func (s *InprocVectorStore) Ping(context.Context) error { return nil }

// Close releases all collections.
func (s *InprocVectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections = make(map[string]*inprocCollection)
	return nil
}
