package openmemory

import (
	"context"
	"strings"
	"testing"
	"time"
)

// coldMemory stores a multi-sector memory, ages it past the cold threshold,
// and runs a sweep so it comes back fingerprinted.
func coldMemory(t *testing.T, e *Engine) string {
	t.Helper()
	ctx := context.Background()

	result, err := e.Store(ctx, StoreRequest{
		Content: "Yesterday I visited Paris, which is the capital of France",
	})
	if err != nil {
		t.Fatal(err)
	}

	m, err := e.store.GetMemory(ctx, result.ID)
	if err != nil {
		t.Fatal(err)
	}
	m.LastSeenAt = time.Now().AddDate(0, 0, -400).Unix()
	if err := e.store.UpdateMemory(ctx, m); err != nil {
		t.Fatal(err)
	}
	if _, err := e.RunDecaySweep(ctx); err != nil {
		t.Fatal(err)
	}

	got, err := e.store.GetMemory(ctx, result.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Fingerprinted {
		t.Fatal("setup failed: memory not fingerprinted")
	}
	return result.ID
}

func TestRegenerateRestoresSectorCoverage(t *testing.T) {
	e := testEngine(t, func(cfg *Config) {
		cfg.EmbedMode = "advanced"
		cfg.UseSummaryOnly = true
		cfg.RegenerationEnabled = true
	})
	ctx := context.Background()
	id := coldMemory(t, e)

	if err := e.regenerate(ctx, id); err != nil {
		t.Fatal(err)
	}

	m, err := e.store.GetMemory(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if m.Fingerprinted {
		t.Error("regeneration must clear the fingerprint flag")
	}
	sectors, err := e.store.VectorSectors(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(sectors) != len(m.Sectors) {
		t.Errorf("vector rows (%v) out of step with sectors (%v)", sectors, m.Sectors)
	}

	total, err := e.store.StatTotal(ctx, "regeneration")
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Errorf("expected one regeneration stat, got %d", total)
	}
}

func TestReinforceQueuesRegeneration(t *testing.T) {
	e := testEngine(t, func(cfg *Config) {
		cfg.EmbedMode = "advanced"
		cfg.RegenerationEnabled = true
	})
	ctx := context.Background()
	id := coldMemory(t, e)

	if _, err := e.Reinforce(ctx, id, 0.5); err != nil {
		t.Fatal(err)
	}

	select {
	case queued := <-e.regenCh:
		if queued != id {
			t.Errorf("queued %s, expected %s", queued, id)
		}
	default:
		t.Error("reinforcing a cold memory above threshold should queue regeneration")
	}
}

func TestFingerprintDefaultModeKeepsContentAndSectors(t *testing.T) {
	e := testEngine(t, func(cfg *Config) {
		cfg.EmbedMode = "advanced"
	})
	ctx := context.Background()

	original := "Yesterday I visited Paris, which is the capital of France"
	result, err := e.Store(ctx, StoreRequest{Content: original})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Sectors) < 2 {
		t.Fatalf("test needs a multi-sector memory, got %v", result.Sectors)
	}

	m, _ := e.store.GetMemory(ctx, result.ID)
	m.LastSeenAt = time.Now().AddDate(0, 0, -400).Unix()
	if err := e.store.UpdateMemory(ctx, m); err != nil {
		t.Fatal(err)
	}
	if _, err := e.RunDecaySweep(ctx); err != nil {
		t.Fatal(err)
	}

	got, err := e.store.GetMemory(ctx, result.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Fingerprinted {
		t.Fatal("cold memory should carry the fingerprint flag")
	}
	// Without summary-only mode the flag is the whole effect: the full
	// content and every sector vector stay in place.
	if got.Content != original {
		t.Errorf("content must survive fingerprinting: got %q", got.Content)
	}
	if len(got.Sectors) != len(result.Sectors) {
		t.Errorf("sector coverage shrank from %v to %v", result.Sectors, got.Sectors)
	}
	sectors, err := e.store.VectorSectors(ctx, result.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(sectors) != len(result.Sectors) {
		t.Errorf("vector rows shrank from %d to %v", len(result.Sectors), sectors)
	}
}

func TestFingerprintArchivesAndRegenerateRestoresContent(t *testing.T) {
	e := testEngine(t, func(cfg *Config) {
		cfg.UseSummaryOnly = true
		cfg.RegenerationEnabled = true
		cfg.CompressionEnabled = true
		cfg.CompressionMinLength = 16
	})
	ctx := context.Background()

	original := "Yesterday I visited Paris, which is the capital of France. " +
		strings.Repeat("The trip notes kept going for pages and pages. ", 10)
	result, err := e.Store(ctx, StoreRequest{Content: original})
	if err != nil {
		t.Fatal(err)
	}

	m, _ := e.store.GetMemory(ctx, result.ID)
	m.LastSeenAt = time.Now().AddDate(0, 0, -400).Unix()
	if err := e.store.UpdateMemory(ctx, m); err != nil {
		t.Fatal(err)
	}
	if _, err := e.RunDecaySweep(ctx); err != nil {
		t.Fatal(err)
	}

	cold, _ := e.store.GetMemory(ctx, result.ID)
	if !cold.Fingerprinted {
		t.Fatal("memory should be fingerprinted")
	}
	if cold.Content == original {
		t.Error("fingerprinting should shrink content to the summary")
	}
	if len(cold.ColdContent) == 0 {
		t.Fatal("full content should be archived when compression is on")
	}
	if len(cold.ColdContent) >= len(original) {
		t.Errorf("archive not compressed: %d bytes vs %d original",
			len(cold.ColdContent), len(original))
	}

	if err := e.regenerate(ctx, result.ID); err != nil {
		t.Fatal(err)
	}
	warm, _ := e.store.GetMemory(ctx, result.ID)
	if warm.Content != original {
		t.Error("regeneration should restore the archived content")
	}
	if len(warm.ColdContent) != 0 {
		t.Error("archive should be cleared after regeneration")
	}
}

func TestDecaySweepRecordsStats(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	mustStore(t, e, "warm memory one")
	mustStore(t, e, "warm memory two")

	if _, err := e.RunDecaySweep(ctx); err != nil {
		t.Fatal(err)
	}

	total, err := e.store.StatTotal(ctx, "decay_sweep")
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Errorf("expected 2 swept memories recorded, got %d", total)
	}
}

func TestDecaySweepRematerializesDecayScore(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	result := mustStore(t, e, "a memory that will age a little")

	m, _ := e.store.GetMemory(ctx, result.ID)
	m.LastSeenAt = time.Now().AddDate(0, 0, -30).Unix()
	if err := e.store.UpdateMemory(ctx, m); err != nil {
		t.Fatal(err)
	}

	if _, err := e.RunDecaySweep(ctx); err != nil {
		t.Fatal(err)
	}

	got, _ := e.store.GetMemory(ctx, result.ID)
	if got.DecayScore >= got.Salience {
		t.Errorf("decay score should drop below base salience: %f vs %f",
			got.DecayScore, got.Salience)
	}
	if got.Fingerprinted {
		t.Error("30 days is not cold enough to fingerprint")
	}
}
