package openmemory

import (
	"context"
	"strings"
)

// VectorPoint is one (memory, sector) embedding bound for a namespace
// collection.
type VectorPoint struct {
	Namespace string
	MemoryID  string
	Sector    Sector
	Vector    []float32
}

// VectorHit is one search result from a namespace collection.
type VectorHit struct {
	MemoryID string
	Sector   Sector
	Score    float64 // cosine similarity
	Vector   []float32
}

// VectorStore is a namespace-partitioned dense-vector index. Each namespace
// maps to its own physical collection; search in a collection that does not
// exist yet returns an empty result, never an error.
type VectorStore interface {
	// Upsert writes one point; idempotent on retry (the point key is
	// derived from memory id + sector).
	Upsert(ctx context.Context, p VectorPoint) error
	// BatchUpsert writes many points, grouping by namespace internally.
	BatchUpsert(ctx context.Context, points []VectorPoint) error
	// Search returns up to topN points of the sector nearest to query.
	Search(ctx context.Context, namespace string, sector Sector, query []float32, topN int) ([]VectorHit, error)
	// Delete removes a memory's points; empty sector means all sectors.
	Delete(ctx context.Context, namespace, memoryID string, sector Sector) error
	// BatchDelete removes many memories' points in one namespace.
	BatchDelete(ctx context.Context, namespace string, memoryIDs []string, sector Sector) error
	// Vectors fetches stored vectors for a batch of memory ids.
	Vectors(ctx context.Context, namespace string, sector Sector, memoryIDs []string) (map[string][]float32, error)
	// Stats reports point counts per namespace and sector. Empty
	// namespace means all known namespaces.
	Stats(ctx context.Context, namespace string) (map[string]map[Sector]int, error)
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// NewVectorStore constructs the configured backend.
func NewVectorStore(cfg *Config) (VectorStore, error) {
	switch cfg.VectorBackend {
	case "inproc":
		return NewInprocVectorStore(cfg.VecDim), nil
	case "qdrant":
		return NewQdrantVectorStore(cfg)
	default:
		return nil, validationf("unknown vector_backend %q", cfg.VectorBackend)
	}
}

// SanitizeNamespace maps a namespace label to a collection-safe name:
// bytes outside [A-Za-z0-9_-] become '_'. Distinct labels can collide
// after sanitization, which is why the metadata store keeps the original
// label authoritative.
func SanitizeNamespace(namespace string) string {
	var b strings.Builder
	b.Grow(len(namespace))
	for i := 0; i < len(namespace); i++ {
		c := namespace[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// CollectionName builds the physical collection name for a namespace.
func CollectionName(prefix, namespace string) string {
	return prefix + SanitizeNamespace(namespace)
}
