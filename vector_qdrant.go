package openmemory

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// HNSW parameters for new collections.
const (
	qdrantHnswM           = 16
	qdrantHnswEfConstruct = 100
)

// QdrantVectorStore keeps one qdrant collection per namespace. Isolation is
// structural: a search is scoped to a collection, so a filter bug can never
// leak points across tenants.
type QdrantVectorStore struct {
	client *qdrant.Client
	prefix string
	dim    int

	// created caches collection names already ensured, so steady-state
	// writes skip the existence round-trip.
	created sync.Map // collection name -> struct{}
}

// NewQdrantVectorStore connects to qdrant's gRPC endpoint. The URL form is
// "http(s)://host:port"; the port is qdrant's gRPC port (default 6334).
func NewQdrantVectorStore(cfg *Config) (*QdrantVectorStore, error) {
	u, err := url.Parse(cfg.QdrantURL)
	if err != nil {
		return nil, fmt.Errorf("openmemory: parse qdrant_url: %w", err)
	}
	port := 6334
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("openmemory: qdrant_url port: %w", err)
		}
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		APIKey: cfg.QdrantAPIKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("openmemory: qdrant client: %w", err)
	}

	return &QdrantVectorStore{
		client: client,
		prefix: cfg.CollectionPrefix,
		dim:    cfg.VecDim,
	}, nil
}

// pointID derives the deterministic point id for (memory, sector), so
// upsert retries land on the same point.
func pointID(memoryID string, sector Sector) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(memoryID+"/"+string(sector))).String()
}

// ensureCollection lazily creates the namespace collection with HNSW
// settings and payload indices on sector and memory_id.
func (s *QdrantVectorStore) ensureCollection(ctx context.Context, namespace string) (string, error) {
	name := CollectionName(s.prefix, namespace)
	if _, ok := s.created.Load(name); ok {
		return name, nil
	}

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return "", fmt.Errorf("%w: collection exists: %v", ErrVectorStore, err)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.dim),
				Distance: qdrant.Distance_Cosine,
			}),
			HnswConfig: &qdrant.HnswConfigDiff{
				M:           qdrant.PtrOf(uint64(qdrantHnswM)),
				EfConstruct: qdrant.PtrOf(uint64(qdrantHnswEfConstruct)),
			},
		})
		// Another writer may have created it between the check and here.
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return "", fmt.Errorf("%w: create collection: %v", ErrVectorStore, err)
		}
		for _, field := range []string{"sector", "memory_id"} {
			if _, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
				CollectionName: name,
				FieldName:      field,
				FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			}); err != nil {
				return "", fmt.Errorf("%w: field index %s: %v", ErrVectorStore, field, err)
			}
		}
	}

	s.created.Store(name, struct{}{})
	return name, nil
}

// collectionIfExists resolves the collection name without creating it.
// Returns "" when the collection does not exist.
func (s *QdrantVectorStore) collectionIfExists(ctx context.Context, namespace string) (string, error) {
	name := CollectionName(s.prefix, namespace)
	if _, ok := s.created.Load(name); ok {
		return name, nil
	}
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return "", fmt.Errorf("%w: collection exists: %v", ErrVectorStore, err)
	}
	if !exists {
		return "", nil
	}
	s.created.Store(name, struct{}{})
	return name, nil
}

func (s *QdrantVectorStore) toPoint(p VectorPoint) *qdrant.PointStruct {
	return &qdrant.PointStruct{
		Id:      qdrant.NewID(pointID(p.MemoryID, p.Sector)),
		Vectors: qdrant.NewVectors(p.Vector...),
		Payload: qdrant.NewValueMap(map[string]any{
			"memory_id": p.MemoryID,
			"sector":    string(p.Sector),
		}),
	}
}

// Upsert writes one point.
func (s *QdrantVectorStore) Upsert(ctx context.Context, p VectorPoint) error {
	return s.BatchUpsert(ctx, []VectorPoint{p})
}

// BatchUpsert writes many points, grouping by namespace internally.
func (s *QdrantVectorStore) BatchUpsert(ctx context.Context, points []VectorPoint) error {
	byNS := make(map[string][]*qdrant.PointStruct)
	for _, p := range points {
		if len(p.Vector) != s.dim {
			return fmt.Errorf("%w: dimension %d, want %d", ErrVectorStore, len(p.Vector), s.dim)
		}
		byNS[p.Namespace] = append(byNS[p.Namespace], s.toPoint(p))
	}
	for namespace, pts := range byNS {
		name, err := s.ensureCollection(ctx, namespace)
		if err != nil {
			return err
		}
		if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Points:         pts,
		}); err != nil {
			return fmt.Errorf("%w: upsert: %v", ErrVectorStore, err)
		}
	}
	return nil
}

// Search returns up to topN points of the sector nearest to query.
func (s *QdrantVectorStore) Search(ctx context.Context, namespace string, sector Sector, query []float32, topN int) ([]VectorHit, error) {
	name, err := s.collectionIfExists(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if name == "" || topN <= 0 {
		return nil, nil
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(query...),
		Limit:          qdrant.PtrOf(uint64(topN)),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("sector", string(sector))},
		},
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", ErrVectorStore, err)
	}

	hits := make([]VectorHit, 0, len(points))
	for _, pt := range points {
		payload := pt.GetPayload()
		hits = append(hits, VectorHit{
			MemoryID: payload["memory_id"].GetStringValue(),
			Sector:   Sector(payload["sector"].GetStringValue()),
			Score:    float64(pt.GetScore()),
		})
	}
	return hits, nil
}

// Delete removes a memory's points; empty sector means all sectors.
func (s *QdrantVectorStore) Delete(ctx context.Context, namespace, memoryID string, sector Sector) error {
	return s.BatchDelete(ctx, namespace, []string{memoryID}, sector)
}

// BatchDelete removes many memories' points by payload filter.
func (s *QdrantVectorStore) BatchDelete(ctx context.Context, namespace string, memoryIDs []string, sector Sector) error {
	name, err := s.collectionIfExists(ctx, namespace)
	if err != nil || name == "" {
		return err
	}

	for _, id := range memoryIDs {
		must := []*qdrant.Condition{qdrant.NewMatch("memory_id", id)}
		if sector != "" {
			must = append(must, qdrant.NewMatch("sector", string(sector)))
		}
		if _, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Points:         qdrant.NewPointsSelectorFilter(&qdrant.Filter{Must: must}),
		}); err != nil {
			return fmt.Errorf("%w: delete: %v", ErrVectorStore, err)
		}
	}
	return nil
}

// Vectors fetches stored vectors for a batch of memory ids.
func (s *QdrantVectorStore) Vectors(ctx context.Context, namespace string, sector Sector, memoryIDs []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(memoryIDs))
	name, err := s.collectionIfExists(ctx, namespace)
	if err != nil || name == "" {
		return out, err
	}

	ids := make([]*qdrant.PointId, len(memoryIDs))
	for i, id := range memoryIDs {
		ids[i] = qdrant.NewID(pointID(id, sector))
	}
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: name,
		Ids:            ids,
		WithVectors:    qdrant.NewWithVectors(true),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", ErrVectorStore, err)
	}
	for _, pt := range points {
		memID := pt.GetPayload()["memory_id"].GetStringValue()
		if data := pt.GetVectors().GetVector().GetData(); len(data) > 0 {
			out[memID] = data
		}
	}
	return out, nil
}

// Stats reports point counts per namespace collection and sector.
func (s *QdrantVectorStore) Stats(ctx context.Context, namespace string) (map[string]map[Sector]int, error) {
	var names []string
	if namespace != "" {
		name, err := s.collectionIfExists(ctx, namespace)
		if err != nil {
			return nil, err
		}
		if name != "" {
			names = append(names, name)
		}
	} else {
		all, err := s.client.ListCollections(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list collections: %v", ErrVectorStore, err)
		}
		for _, name := range all {
			if strings.HasPrefix(name, s.prefix) {
				names = append(names, name)
			}
		}
	}

	out := make(map[string]map[Sector]int, len(names))
	for _, name := range names {
		counts := make(map[Sector]int, len(AllSectors))
		for _, sector := range AllSectors {
			n, err := s.client.Count(ctx, &qdrant.CountPoints{
				CollectionName: name,
				Exact:          qdrant.PtrOf(true),
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{qdrant.NewMatch("sector", string(sector))},
				},
			})
			if err != nil {
				return nil, fmt.Errorf("%w: count: %v", ErrVectorStore, err)
			}
			if n > 0 {
				counts[sector] = int(n)
			}
		}
		out[strings.TrimPrefix(name, s.prefix)] = counts
	}
	return out, nil
}

// Ping verifies the qdrant endpoint is reachable.
func (s *QdrantVectorStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrVectorStore, err)
	}
	return nil
}

// Close tears down the gRPC connection.
func (s *QdrantVectorStore) Close() error {
	return s.client.Close()
}
