package openmemory

import "testing"

func TestClassifyEpisodic(t *testing.T) {
	r := NewSectorRouter("simple")
	primary, active := r.Classify("Yesterday I visited the new office and met with the platform team", nil)
	if primary != SectorEpisodic {
		t.Errorf("expected episodic, got %s", primary)
	}
	if len(active) != 1 || active[0] != primary {
		t.Errorf("simple mode should activate only the primary, got %v", active)
	}
}

func TestClassifySemantic(t *testing.T) {
	r := NewSectorRouter("simple")
	primary, _ := r.Classify("Paris is the capital of France", nil)
	if primary != SectorSemantic {
		t.Errorf("expected semantic, got %s", primary)
	}
}

func TestClassifyProcedural(t *testing.T) {
	r := NewSectorRouter("simple")
	primary, _ := r.Classify("How to deploy: step 1, build the image. Step 2, push it. Finally run the rollout.", nil)
	if primary != SectorProcedural {
		t.Errorf("expected procedural, got %s", primary)
	}
}

func TestClassifyEmotional(t *testing.T) {
	r := NewSectorRouter("simple")
	primary, _ := r.Classify("I felt so happy and grateful after the launch went well", nil)
	if primary != SectorEmotional {
		t.Errorf("expected emotional, got %s", primary)
	}
}

func TestClassifyReflective(t *testing.T) {
	r := NewSectorRouter("simple")
	primary, _ := r.Classify("Looking back, I realize I tend to overcommit at the start of projects", nil)
	if primary != SectorReflective {
		t.Errorf("expected reflective, got %s", primary)
	}
}

func TestClassifyDefaultsToSemantic(t *testing.T) {
	r := NewSectorRouter("simple")
	primary, active := r.Classify("zxqvw blorp", nil)
	if primary != SectorSemantic {
		t.Errorf("no-signal content should default to semantic, got %s", primary)
	}
	if len(active) != 1 {
		t.Errorf("expected single active sector, got %v", active)
	}
}

func TestClassifyTagHint(t *testing.T) {
	r := NewSectorRouter("simple")
	primary, _ := r.Classify("zxqvw blorp", []string{"emotional"})
	if primary != SectorEmotional {
		t.Errorf("tag hint should win on neutral content, got %s", primary)
	}
}

func TestClassifyAdvancedMultiSector(t *testing.T) {
	r := NewSectorRouter("advanced")
	primary, active := r.Classify(
		"Yesterday I learned how to configure the cluster. First, install the CLI, then run the setup. I felt proud when it worked.",
		nil,
	)
	if len(active) < 2 {
		t.Fatalf("expected multiple active sectors, got %v", active)
	}
	found := false
	for _, s := range active {
		if s == primary {
			found = true
		}
	}
	if !found {
		t.Errorf("active set %v must contain the primary %s", active, primary)
	}
}

func TestClassifyActiveContainsPrimaryAlways(t *testing.T) {
	r := NewSectorRouter("advanced")
	for _, content := range []string{
		"Paris is the capital of France",
		"no signals here at all",
		"I feel anxious about tomorrow's meeting that happened last week",
	} {
		primary, active := r.Classify(content, nil)
		ok := false
		for _, s := range active {
			if s == primary {
				ok = true
			}
		}
		if !ok {
			t.Errorf("content %q: active %v missing primary %s", content, active, primary)
		}
	}
}
