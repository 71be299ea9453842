package openmemory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testEngine(t *testing.T, mutate ...func(*Config)) *Engine {
	t.Helper()
	var cfg Config
	cfg.ApplyDefaults()
	cfg.VecDim = 64
	cfg.DBPath = filepath.Join(t.TempDir(), "openmemory.db")
	for _, m := range mutate {
		m(&cfg)
	}
	store, err := NewSQLiteStore(cfg.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	engine := NewEngineWith(cfg, store, NewInprocVectorStore(cfg.VecDim),
		NewSyntheticEmbedder(cfg.VecDim), zap.NewNop())
	t.Cleanup(func() { engine.Close() })
	return engine
}

// flakyEmbedder fails until marked healthy, then behaves like the
// synthetic embedder. Simulates a provider outage that later recovers.
type flakyEmbedder struct {
	healthy bool
	inner   *SyntheticEmbedder
}

func (f *flakyEmbedder) Embed(ctx context.Context, text, task string) ([]float32, error) {
	if !f.healthy {
		return nil, wrapOp("embed", ErrEmbed)
	}
	return f.inner.Embed(ctx, text, task)
}
func (f *flakyEmbedder) Dimension() int { return f.inner.Dimension() }

// outageEngine wires an engine whose provider starts out down.
func outageEngine(t *testing.T, mutate ...func(*Config)) (*Engine, *flakyEmbedder) {
	t.Helper()
	var cfg Config
	cfg.ApplyDefaults()
	cfg.VecDim = 64
	cfg.DBPath = filepath.Join(t.TempDir(), "openmemory.db")
	for _, m := range mutate {
		m(&cfg)
	}
	provider := &flakyEmbedder{inner: NewSyntheticEmbedder(cfg.VecDim)}
	store, err := NewSQLiteStore(cfg.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngineWith(cfg, store, NewInprocVectorStore(cfg.VecDim), provider, zap.NewNop())
	t.Cleanup(func() { e.Close() })
	return e, provider
}

func mustStore(t *testing.T, e *Engine, content string, namespaces ...string) *StoreResult {
	t.Helper()
	result, err := e.Store(context.Background(), StoreRequest{
		Content:    content,
		Namespaces: namespaces,
	})
	if err != nil {
		t.Fatal(err)
	}
	return result
}

func TestStoreAndQueryRoundTrip(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	target := mustStore(t, e, "The production rollout finished at noon without incidents")
	mustStore(t, e, "Cats sleep for most of the day")
	mustStore(t, e, "The moon orbits the earth every 27 days")

	result, err := e.Query(ctx, QueryRequest{
		Text: "The production rollout finished at noon without incidents",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Matches) == 0 {
		t.Fatal("expected at least one match")
	}
	if result.Matches[0].ID != target.ID {
		t.Errorf("expected %s first, got %s", target.ID, result.Matches[0].ID)
	}
	if result.Partial {
		t.Error("all sectors healthy, result must not be partial")
	}
}

func TestStoreValidation(t *testing.T) {
	e := testEngine(t)
	if _, err := e.Store(context.Background(), StoreRequest{}); !errors.Is(err, ErrValidation) {
		t.Errorf("empty content: expected ErrValidation, got %v", err)
	}
}

func TestStoreDefaultsToGlobalNamespace(t *testing.T) {
	e := testEngine(t)
	result := mustStore(t, e, "no namespace given")
	if len(result.Namespaces) != 1 || result.Namespaces[0] != DefaultNamespace {
		t.Errorf("expected global namespace, got %v", result.Namespaces)
	}
}

func TestStoreFallsBackToSyntheticEmbedding(t *testing.T) {
	e, _ := outageEngine(t, func(cfg *Config) {
		cfg.RegenerationEnabled = true
	})
	ctx := context.Background()

	result, err := e.Store(ctx, StoreRequest{Content: "survives the provider outage"})
	if err != nil {
		t.Fatalf("store must not stall on an embedding outage: %v", err)
	}

	total, err := e.store.StatTotal(ctx, "embed_fallback")
	if err != nil {
		t.Fatal(err)
	}
	if total < 1 {
		t.Errorf("expected an embed_fallback stat, got %d", total)
	}

	m, err := e.store.GetMemory(ctx, result.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !m.PendingEmbed {
		t.Error("fallback-embedded memory should be marked for re-embedding")
	}
	select {
	case queued := <-e.regenCh:
		if queued != result.ID {
			t.Errorf("queued %s, expected %s", queued, result.ID)
		}
	default:
		t.Error("fallback store should queue a re-embed")
	}
}

func TestQueryFailsWhenEmbedderDown(t *testing.T) {
	e, provider := outageEngine(t)
	ctx := context.Background()

	provider.healthy = true
	mustStore(t, e, "written while the provider was up")
	provider.healthy = false

	_, err := e.Query(ctx, QueryRequest{Text: "written while the provider was up"})
	if !errors.Is(err, ErrEmbed) {
		t.Errorf("query during an outage: expected ErrEmbed, got %v", err)
	}
}

func TestRegenerateReembedsAfterProviderRecovers(t *testing.T) {
	e, provider := outageEngine(t, func(cfg *Config) {
		cfg.RegenerationEnabled = true
	})
	ctx := context.Background()

	result, err := e.Store(ctx, StoreRequest{Content: "stored during the outage"})
	if err != nil {
		t.Fatal(err)
	}

	// Provider still down: regeneration retries but must keep the mark.
	if err := e.regenerate(ctx, result.ID); err != nil {
		t.Fatal(err)
	}
	m, _ := e.store.GetMemory(ctx, result.ID)
	if !m.PendingEmbed {
		t.Error("re-embed mark must survive a failed regeneration attempt")
	}

	provider.healthy = true
	if err := e.regenerate(ctx, result.ID); err != nil {
		t.Fatal(err)
	}
	m, _ = e.store.GetMemory(ctx, result.ID)
	if m.PendingEmbed {
		t.Error("recovered regeneration should clear the re-embed mark")
	}

	// With real vectors in place the memory is findable again.
	qr, err := e.Query(ctx, QueryRequest{Text: "stored during the outage"})
	if err != nil {
		t.Fatal(err)
	}
	if len(qr.Matches) == 0 || qr.Matches[0].ID != result.ID {
		t.Error("re-embedded memory should round-trip through query")
	}
}

func TestQueryNamespaceIsolation(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	a := mustStore(t, e, "tenant a keeps its secrets here", "tenant-a")
	mustStore(t, e, "tenant b keeps its secrets here", "tenant-b")

	result, err := e.Query(ctx, QueryRequest{
		Text:       "tenant a keeps its secrets here",
		Namespaces: []string{"tenant-a"},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range result.Matches {
		if m.ID != a.ID {
			t.Errorf("tenant-a query surfaced foreign memory %s", m.ID)
		}
	}
	if len(result.Matches) == 0 {
		t.Error("expected the tenant-a memory")
	}
}

func TestQueryValidation(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	if _, err := e.Query(ctx, QueryRequest{}); !errors.Is(err, ErrValidation) {
		t.Errorf("empty text: expected ErrValidation, got %v", err)
	}
	if _, err := e.Query(ctx, QueryRequest{Text: "x", Sectors: []Sector{"bogus"}}); !errors.Is(err, ErrValidation) {
		t.Errorf("bad sector: expected ErrValidation, got %v", err)
	}
}

func TestQueryKClamp(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		mustStore(t, e, "a note about kubernetes clusters and rollouts")
	}

	result, err := e.Query(ctx, QueryRequest{Text: "kubernetes clusters", K: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Matches) > 32 {
		t.Errorf("k must clamp to 32, got %d matches", len(result.Matches))
	}
}

func TestGetScopedByNamespace(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	result := mustStore(t, e, "scoped memory", "tenant-a")

	if _, err := e.Get(ctx, result.ID, []string{"tenant-a"}); err != nil {
		t.Fatal(err)
	}
	// Another tenant must not learn the memory exists.
	if _, err := e.Get(ctx, result.ID, []string{"tenant-b"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-tenant get: expected ErrNotFound, got %v", err)
	}
}

func TestUpdateContentReembeds(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	result := mustStore(t, e, "original content about databases")

	newContent := "entirely new content about distributed tracing"
	updated, err := e.Update(ctx, result.ID, UpdateRequest{Content: &newContent}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Content != newContent {
		t.Errorf("content not updated: %q", updated.Content)
	}

	q, err := e.Query(ctx, QueryRequest{Text: newContent})
	if err != nil {
		t.Fatal(err)
	}
	if len(q.Matches) == 0 || q.Matches[0].ID != result.ID {
		t.Error("updated content should be findable by its new text")
	}
}

func TestDeleteMemory(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	result := mustStore(t, e, "disposable memory")

	if err := e.Delete(ctx, result.ID, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Get(ctx, result.ID, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := e.Delete(ctx, result.ID, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete: expected ErrNotFound, got %v", err)
	}
}

func TestReinforceBoostsAndClamps(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	result := mustStore(t, e, "a useful memory")

	before, _ := e.Get(ctx, result.ID, nil)
	after, err := e.Reinforce(ctx, result.ID, 0.2)
	if err != nil {
		t.Fatal(err)
	}
	if after <= before.Salience {
		t.Errorf("reinforce must raise salience: %f -> %f", before.Salience, after)
	}

	for i := 0; i < 20; i++ {
		after, _ = e.Reinforce(ctx, result.ID, 0.3)
	}
	if after > 1.0 {
		t.Errorf("salience must clamp to 1.0, got %f", after)
	}
}

// failingVectorStore wraps the in-process store with injectable failures.
type failingVectorStore struct {
	*InprocVectorStore
	failUpserts bool
	failSector  Sector
}

func (f *failingVectorStore) Upsert(ctx context.Context, p VectorPoint) error {
	if f.failUpserts {
		return ErrVectorStore
	}
	return f.InprocVectorStore.Upsert(ctx, p)
}

func (f *failingVectorStore) BatchUpsert(ctx context.Context, points []VectorPoint) error {
	if f.failUpserts {
		return ErrVectorStore
	}
	return f.InprocVectorStore.BatchUpsert(ctx, points)
}

func (f *failingVectorStore) Search(ctx context.Context, namespace string, sector Sector, query []float32, topN int) ([]VectorHit, error) {
	if sector == f.failSector {
		return nil, ErrVectorStore
	}
	return f.InprocVectorStore.Search(ctx, namespace, sector, query, topN)
}

func testEngineWithVectors(t *testing.T, vectors VectorStore) *Engine {
	t.Helper()
	var cfg Config
	cfg.ApplyDefaults()
	cfg.VecDim = 64
	cfg.DBPath = filepath.Join(t.TempDir(), "openmemory.db")
	store, err := NewSQLiteStore(cfg.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	engine := NewEngineWith(cfg, store, vectors, NewSyntheticEmbedder(cfg.VecDim), zap.NewNop())
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestStoreCompensatesOnVectorFailure(t *testing.T) {
	fv := &failingVectorStore{InprocVectorStore: NewInprocVectorStore(64), failUpserts: true}
	e := testEngineWithVectors(t, fv)
	ctx := context.Background()

	_, err := e.Store(ctx, StoreRequest{Content: "doomed write"})
	if !errors.Is(err, ErrVectorStore) {
		t.Fatalf("expected ErrVectorStore, got %v", err)
	}

	// The metadata commit must have been rolled back.
	memories, err := e.List(ctx, DefaultNamespace, "", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(memories) != 0 {
		t.Errorf("compensating delete failed, %d rows remain", len(memories))
	}
}

func TestLenientStoreKeepsPendingMemory(t *testing.T) {
	fv := &failingVectorStore{InprocVectorStore: NewInprocVectorStore(64), failUpserts: true}
	e := testEngineWithVectors(t, fv)
	ctx := context.Background()

	result, err := e.Store(ctx, StoreRequest{Content: "lenient write", Lenient: true})
	if err != nil {
		t.Fatal(err)
	}
	if !result.PendingVector {
		t.Fatal("expected pending_vector on lenient failure")
	}

	m, err := e.Get(ctx, result.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !m.PendingVector {
		t.Error("pending flag not persisted")
	}

	// Pending memories must stay out of query results.
	fv.failUpserts = false
	q, err := e.Query(ctx, QueryRequest{Text: "lenient write"})
	if err != nil {
		t.Fatal(err)
	}
	for _, match := range q.Matches {
		if match.ID == result.ID {
			t.Error("pending memory leaked into query results")
		}
	}
}

func TestQueryPartialOnSectorFailure(t *testing.T) {
	fv := &failingVectorStore{InprocVectorStore: NewInprocVectorStore(64), failSector: SectorEpisodic}
	e := testEngineWithVectors(t, fv)
	ctx := context.Background()

	mustStore(t, e, "Paris is the capital of France")

	result, err := e.Query(ctx, QueryRequest{Text: "Paris is the capital of France"})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Partial {
		t.Error("expected partial flag when one sector search fails")
	}
	if len(result.Matches) == 0 {
		t.Error("healthy sectors should still produce matches")
	}
}

func TestWaypointExpansion(t *testing.T) {
	e := testEngine(t, func(cfg *Config) {
		// Keep weakly-matching memories out of the direct results so the
		// destination can only arrive through the edge.
		cfg.MinScore = 0.4
	})
	ctx := context.Background()

	src := mustStore(t, e, "The incident retro identified the flaky load balancer")
	dst := mustStore(t, e, "Unrelated gardening notes from last spring")

	if err := e.Link(ctx, src.ID, dst.ID, DefaultNamespace, 0.9); err != nil {
		t.Fatal(err)
	}

	result, err := e.Query(ctx, QueryRequest{
		Text: "The incident retro identified the flaky load balancer",
	})
	if err != nil {
		t.Fatal(err)
	}

	var found *QueryMatch
	for i := range result.Matches {
		if result.Matches[i].ID == dst.ID {
			found = &result.Matches[i]
		}
	}
	if found == nil {
		t.Fatal("expected waypoint destination in results")
	}
	if len(found.Path) != 1 || found.Path[0] != src.ID {
		t.Errorf("expected path through %s, got %v", src.ID, found.Path)
	}
	if found.Score >= result.Matches[0].Score {
		t.Error("expanded hit must score below its source")
	}
}

func TestLinkValidation(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	m := mustStore(t, e, "some memory")

	if err := e.Link(ctx, m.ID, m.ID, "", 0.5); !errors.Is(err, ErrValidation) {
		t.Errorf("self-link: expected ErrValidation, got %v", err)
	}
	if err := e.Link(ctx, m.ID, "missing", "", 0.5); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing endpoint: expected ErrNotFound, got %v", err)
	}
	if err := e.Link(ctx, m.ID, m.ID, "", 1.5); !errors.Is(err, ErrValidation) {
		t.Errorf("weight out of range: expected ErrValidation, got %v", err)
	}
}

func TestDecaySweepFingerprintsColdMemories(t *testing.T) {
	e := testEngine(t, func(cfg *Config) {
		cfg.EmbedMode = "advanced"
		cfg.UseSummaryOnly = true
	})
	ctx := context.Background()

	// Multi-sector content so fingerprinting has something to trim.
	result, err := e.Store(ctx, StoreRequest{
		Content: "Yesterday I visited Paris, which is the capital of France",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Sectors) < 2 {
		t.Fatalf("test needs a multi-sector memory, got %v", result.Sectors)
	}

	// Age the memory far past cold: 400 days at lambda 0.02 decays 0.5
	// to well under the 0.05 threshold.
	m, _ := e.store.GetMemory(ctx, result.ID)
	m.LastSeenAt = time.Now().AddDate(0, 0, -400).Unix()
	if err := e.store.UpdateMemory(ctx, m); err != nil {
		t.Fatal(err)
	}

	report, err := e.RunDecaySweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Fingerprinted != 1 {
		t.Fatalf("expected 1 fingerprinted memory, got %d", report.Fingerprinted)
	}

	got, err := e.store.GetMemory(ctx, result.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Fingerprinted {
		t.Error("fingerprinted flag not set")
	}
	if len(got.Sectors) != 1 || got.Sectors[0] != got.PrimarySector {
		t.Errorf("expected only the primary sector to survive, got %v", got.Sectors)
	}
	sectors, _ := e.store.VectorSectors(ctx, result.ID)
	if len(sectors) != 1 {
		t.Errorf("expected one vector row after trim, got %v", sectors)
	}
}

func TestDecaySweepLeavesWarmMemoriesAlone(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	result := mustStore(t, e, "freshly stored and warm")

	report, err := e.RunDecaySweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Fingerprinted != 0 {
		t.Errorf("fresh memory must not fingerprint, got %d", report.Fingerprinted)
	}
	m, _ := e.store.GetMemory(ctx, result.ID)
	if m.Fingerprinted {
		t.Error("warm memory was fingerprinted")
	}
}

func TestReflectionCreatesInsightAndWaypoints(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	notes := []string{
		"The deploy pipeline failed on the staging cluster again",
		"Another pipeline failure traced to the staging cluster DNS",
		"Staging cluster outage delayed the release pipeline",
		"Pipeline retries exhausted against the staging cluster",
		"The staging cluster ran out of disk during the pipeline run",
		"Flaky staging cluster nodes broke the pipeline twice",
		"Pipeline timeouts correlate with staging cluster load",
		"The staging cluster upgrade stabilized the pipeline briefly",
		"Yet another pipeline incident on the staging cluster",
	}
	for _, n := range notes {
		mustStore(t, e, n, "ops")
	}

	report, err := e.RunReflection(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Insights == 0 {
		t.Fatal("expected at least one insight")
	}

	insights, err := e.store.ListMemories(ctx, "ops", SectorReflective, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(insights) == 0 {
		t.Fatal("reflective memory not stored")
	}

	us, err := e.UserSummaryFor(ctx, "ops")
	if err != nil {
		t.Fatal(err)
	}
	if us.Summary == "" {
		t.Error("user summary not rebuilt after reflection")
	}

	// A second pass over the same corpus must not duplicate the insight.
	again, err := e.RunReflection(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again.Insights != 0 {
		t.Errorf("duplicate insights created on stable corpus: %d", again.Insights)
	}
}

func TestDeleteNamespaceRemovesMemories(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	solo := mustStore(t, e, "only in the doomed namespace", "doomed")
	if err := e.DeleteNamespace(ctx, "doomed"); err != nil {
		t.Fatal(err)
	}

	if _, err := e.Get(ctx, solo.ID, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("memory should be gone with its namespace, got %v", err)
	}
	if _, _, err := e.GetNamespaceInfo(ctx, "doomed"); !errors.Is(err, ErrNotFound) {
		t.Errorf("namespace record should be gone, got %v", err)
	}
}

func TestEngineClosed(t *testing.T) {
	e := testEngine(t)
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if _, err := e.Store(ctx, StoreRequest{Content: "x"}); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("store after close: expected ErrEngineClosed, got %v", err)
	}
	if _, err := e.Query(ctx, QueryRequest{Text: "x"}); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("query after close: expected ErrEngineClosed, got %v", err)
	}
	// Double close is a no-op.
	if err := e.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestMinSalienceFilter(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	result := mustStore(t, e, "a memory with default salience")

	q, err := e.Query(ctx, QueryRequest{
		Text:        "a memory with default salience",
		MinSalience: 0.9,
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range q.Matches {
		if m.ID == result.ID {
			t.Error("memory below min_salience leaked through")
		}
	}
}

func TestTagFilter(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	tagged, err := e.Store(ctx, StoreRequest{
		Content: "tagged memory about incident response",
		Tags:    []string{"incident", "ops"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Store(ctx, StoreRequest{
		Content: "untagged memory about incident response",
	}); err != nil {
		t.Fatal(err)
	}

	q, err := e.Query(ctx, QueryRequest{
		Text: "incident response",
		Tags: []string{"incident"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(q.Matches) != 1 || q.Matches[0].ID != tagged.ID {
		t.Errorf("tag filter failed: %v", q.Matches)
	}
}
