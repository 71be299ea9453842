package openmemory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testMemory(namespaces ...string) *Memory {
	if len(namespaces) == 0 {
		namespaces = []string{DefaultNamespace}
	}
	now := time.Now().Unix()
	return &Memory{
		ID:            NewID(),
		Content:       "The rollout finished at noon.",
		Summary:       "The rollout finished at noon.",
		Namespaces:    namespaces,
		Tags:          []string{"ops"},
		Metadata:      map[string]string{"source": "test"},
		PrimarySector: SectorEpisodic,
		Sectors:       []Sector{SectorEpisodic, SectorSemantic},
		Salience:      0.5,
		DecayLambda:   0.005,
		DecayScore:    0.5,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastSeenAt:    now,
	}
}

func TestCommitAndGetMemory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	m := testMemory()

	if err := s.CommitMemory(ctx, m, 64); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetMemory(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != m.Content {
		t.Errorf("content mismatch: %q vs %q", got.Content, m.Content)
	}
	if got.PrimarySector != SectorEpisodic {
		t.Errorf("expected episodic, got %s", got.PrimarySector)
	}
	if len(got.Sectors) != 2 {
		t.Errorf("expected 2 sectors, got %v", got.Sectors)
	}
	if got.Metadata["source"] != "test" {
		t.Errorf("metadata lost: %v", got.Metadata)
	}

	sectors, err := s.VectorSectors(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(sectors) != 2 {
		t.Errorf("expected 2 vector rows, got %v", sectors)
	}
}

func TestCommitMemoryRecordsVectorDimension(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	m := testMemory()

	if err := s.CommitMemory(ctx, m, 768); err != nil {
		t.Fatal(err)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT dim FROM vectors WHERE memory_id = ?`), m.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		var dim int
		if err := rows.Scan(&dim); err != nil {
			t.Fatal(err)
		}
		if dim != 768 {
			t.Errorf("vector row recorded dim %d, expected 768", dim)
		}
		count++
	}
	if count == 0 {
		t.Fatal("no vector rows written")
	}

	if err := s.ReplaceVectorRows(ctx, m, 768); err != nil {
		t.Fatal(err)
	}
	var dim int
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT dim FROM vectors WHERE memory_id = ? LIMIT 1`), m.ID)
	if err := row.Scan(&dim); err != nil {
		t.Fatal(err)
	}
	if dim != 768 {
		t.Errorf("replaced vector row recorded dim %d, expected 768", dim)
	}
}

func TestGetMemoryNotFound(t *testing.T) {
	s := testStore(t)
	if _, err := s.GetMemory(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetMemoriesBatch(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a, b := testMemory(), testMemory()
	for _, m := range []*Memory{a, b} {
		if err := s.CommitMemory(ctx, m, 64); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.GetMemories(ctx, []string{a.ID, b.ID, "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 hits, got %d", len(got))
	}
	if got[a.ID] == nil || got[b.ID] == nil {
		t.Error("missing expected memories in batch result")
	}
}

func TestUpdateMemory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	m := testMemory()
	if err := s.CommitMemory(ctx, m, 64); err != nil {
		t.Fatal(err)
	}

	m.Salience = 0.9
	m.Fingerprinted = true
	if err := s.UpdateMemory(ctx, m); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetMemory(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Salience != 0.9 {
		t.Errorf("salience not updated: %f", got.Salience)
	}
	if !got.Fingerprinted {
		t.Error("fingerprinted flag not persisted")
	}
}

func TestDeleteMemoryCascades(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	m := testMemory()
	if err := s.CommitMemory(ctx, m, 64); err != nil {
		t.Fatal(err)
	}
	other := testMemory()
	if err := s.CommitMemory(ctx, other, 64); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertWaypoint(ctx, m.ID, DefaultNamespace, other.ID, 0.8); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteMemory(ctx, m.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetMemory(ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("memory row survived delete: %v", err)
	}
	sectors, _ := s.VectorSectors(ctx, m.ID)
	if len(sectors) != 0 {
		t.Errorf("vector rows survived delete: %v", sectors)
	}
	if _, err := s.GetWaypoint(ctx, m.ID, DefaultNamespace); !errors.Is(err, ErrNotFound) {
		t.Errorf("waypoint survived delete: %v", err)
	}

	if err := s.DeleteMemory(ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete should report not found, got %v", err)
	}
}

func TestListMemoriesBySectorAndNamespace(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	ep := testMemory("work")
	sem := testMemory("work")
	sem.PrimarySector = SectorSemantic
	other := testMemory("home")
	for _, m := range []*Memory{ep, sem, other} {
		if err := s.CommitMemory(ctx, m, 64); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListMemories(ctx, "work", "", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 work memories, got %d", len(all))
	}

	semOnly, err := s.ListMemories(ctx, "work", SectorSemantic, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(semOnly) != 1 || semOnly[0].ID != sem.ID {
		t.Errorf("sector filter failed: %v", semOnly)
	}
}

func TestNamespaceLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.EnsureNamespace(ctx, "tenant-a"); err != nil {
		t.Fatal(err)
	}
	// Second ensure is a no-op, not an error.
	if err := s.EnsureNamespace(ctx, "tenant-a"); err != nil {
		t.Fatal(err)
	}

	g, err := s.GetNamespace(ctx, "tenant-a")
	if err != nil {
		t.Fatal(err)
	}
	if !g.Active {
		t.Error("new namespace should be active")
	}

	g.Description = "team A"
	if err := s.UpdateNamespace(ctx, g); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetNamespace(ctx, "tenant-a")
	if got.Description != "team A" {
		t.Errorf("description not persisted: %q", got.Description)
	}
}

func TestDeleteNamespaceRelabelsSharedMemories(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	s.EnsureNamespace(ctx, "a")
	s.EnsureNamespace(ctx, "b")

	solo := testMemory("a")
	shared := testMemory("a", "b")
	for _, m := range []*Memory{solo, shared} {
		if err := s.CommitMemory(ctx, m, 64); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := s.DeleteNamespace(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || removed[0] != solo.ID {
		t.Errorf("expected only the solo memory removed, got %v", removed)
	}

	if _, err := s.GetMemory(ctx, solo.ID); !errors.Is(err, ErrNotFound) {
		t.Error("solo memory should be gone")
	}
	got, err := s.GetMemory(ctx, shared.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Namespaces) != 1 || got.Namespaces[0] != "b" {
		t.Errorf("shared memory should keep namespace b, got %v", got.Namespaces)
	}
}

func TestWaypointUpsertReplaces(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpsertWaypoint(ctx, "src", "ns", "dst1", 0.5); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertWaypoint(ctx, "src", "ns", "dst2", 0.7); err != nil {
		t.Fatal(err)
	}

	w, err := s.GetWaypoint(ctx, "src", "ns")
	if err != nil {
		t.Fatal(err)
	}
	if w.DstID != "dst2" || w.Weight != 0.7 {
		t.Errorf("upsert did not replace: %+v", w)
	}

	batch, err := s.WaypointsFrom(ctx, []string{"src", "other"}, "ns")
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 1 || batch["src"].DstID != "dst2" {
		t.Errorf("batch lookup wrong: %v", batch)
	}
}

func TestStatsAppendAndRead(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.AppendStat(ctx, "fingerprint", 3)
	s.AppendStat(ctx, "fingerprint", 2)
	s.AppendStat(ctx, "reflection", 1)

	total, err := s.StatTotal(ctx, "fingerprint")
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 {
		t.Errorf("expected total 5, got %d", total)
	}

	entries, err := s.ReadStats(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Errorf("expected 3 entries, got %d", len(entries))
	}
}

func TestUserSummaryUpsert(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpsertUserSummary(ctx, &UserSummary{Namespace: "ns", Summary: "v1", ReflectionCount: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertUserSummary(ctx, &UserSummary{Namespace: "ns", Summary: "v2", ReflectionCount: 2}); err != nil {
		t.Fatal(err)
	}

	us, err := s.GetUserSummary(ctx, "ns")
	if err != nil {
		t.Fatal(err)
	}
	if us.Summary != "v2" || us.ReflectionCount != 2 {
		t.Errorf("upsert did not replace: %+v", us)
	}
}

func TestCorpusStats(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := s.CommitMemory(ctx, testMemory(), 64); err != nil {
			t.Fatal(err)
		}
	}
	count, avgLen, err := s.CorpusStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("expected 3 documents, got %d", count)
	}
	if avgLen <= 0 {
		t.Errorf("expected positive average length, got %f", avgLen)
	}
}
