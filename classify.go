package openmemory

import (
	"regexp"
	"strings"
)

// SectorRouter classifies a memory into one or more cognitive sectors
// using keyword density, structural cues, and explicit tag hints.
type SectorRouter struct {
	// advanced mode activates every sector whose score reaches
	// activeRatio of the primary score; simple mode activates only
	// the primary.
	advanced    bool
	activeRatio float64
}

// NewSectorRouter creates a router. mode is "simple" or "advanced".
func NewSectorRouter(mode string) *SectorRouter {
	return &SectorRouter{
		advanced:    mode == "advanced",
		activeRatio: 0.4,
	}
}

// Keyword tables per sector. Hits accumulate 0.3 each, like the
// heuristic the scoring was tuned against.
var sectorSignals = map[Sector][]string{
	SectorEpisodic: {
		"yesterday", "today", "last week", "last time", "this morning",
		"remember when", "happened", "visited", "attended", "met with",
		"earlier", "that time", "the other day", "first time", "went to",
	},
	SectorSemantic: {
		"is a", "is the", "are the", "means", "defined as", "consists of",
		"capital of", "works at", "lives in", "known as", "always",
		"usually", "fact", "located in", "belongs to",
	},
	SectorProcedural: {
		"how to", "step", "first,", "then,", "finally", "instructions",
		"procedure", "method", "technique", "install", "configure",
		"run the", "click", "press", "execute",
	},
	SectorEmotional: {
		"feel", "felt", "love", "hate", "happy", "sad", "angry", "excited",
		"nervous", "anxious", "afraid", "grateful", "frustrated", "proud",
		"miss", "enjoy", "worried",
	},
	SectorReflective: {
		"i think", "i realize", "i notice", "i wonder", "pattern",
		"tend to", "seem to", "in general", "looking back", "suggests",
		"implies", "learned that", "insight", "overall",
	},
}

// Structural cue patterns.
var (
	dateRe       = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4}|january|february|march|april|june|july|august|september|october|november|december)\b`)
	stepRe       = regexp.MustCompile(`(?m)^\s*(step\s+\d+|\d+[.)]\s)`)
	imperativeRe = regexp.MustCompile(`(?i)^(open|close|run|install|add|remove|set|create|delete|start|stop|check|use|type|select)\b`)
	firstPersonRe = regexp.MustCompile(`(?i)\bi (think|believe|realize|notice|feel like|keep|should|learned)\b`)
)

// Classify scores each sector and returns the primary plus the active set.
// active always contains primary; sectors ⊇ {primary} is an invariant the
// write path relies on. Ties break by the fixed AllSectors priority order.
func (r *SectorRouter) Classify(content string, tags []string) (primary Sector, active []Sector) {
	lower := strings.ToLower(content)

	scores := make(map[Sector]float64, 5)

	// (a) keyword hit density
	for sector, signals := range sectorSignals {
		for _, s := range signals {
			if strings.Contains(lower, s) {
				scores[sector] += 0.3
			}
		}
	}

	// (b) structural cues
	if dateRe.MatchString(lower) {
		scores[SectorEpisodic] += 0.3
	}
	if stepRe.MatchString(content) || imperativeRe.MatchString(strings.TrimSpace(content)) {
		scores[SectorProcedural] += 0.3
	}
	if firstPersonRe.MatchString(content) {
		scores[SectorReflective] += 0.3
	}

	// (c) explicit tag hints: a tag naming a sector is a strong vote
	for _, tag := range tags {
		if s := Sector(strings.ToLower(tag)); ValidSector(s) {
			scores[s] += 0.6
		}
	}

	// Primary = argmax, ties broken by fixed priority order.
	primary = SectorSemantic
	best := 0.0
	for _, sector := range AllSectors {
		if scores[sector] > best {
			best = scores[sector]
			primary = sector
		}
	}

	if !r.advanced || best == 0 {
		return primary, []Sector{primary}
	}

	threshold := best * r.activeRatio
	for _, sector := range AllSectors {
		if sector == primary {
			active = append(active, sector)
			continue
		}
		if scores[sector] >= threshold && scores[sector] > 0 {
			active = append(active, sector)
		}
	}
	return primary, active
}
