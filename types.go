package openmemory

// Sector represents one of the 5 cognitive memory sectors.
type Sector string

const (
	SectorEpisodic   Sector = "episodic"   // Events, temporal experiences
	SectorSemantic   Sector = "semantic"   // Facts, knowledge
	SectorProcedural Sector = "procedural" // Skills, how-to
	SectorEmotional  Sector = "emotional"  // Feelings, sentiments
	SectorReflective Sector = "reflective" // Insights, meta-cognition
)

// AllSectors lists every sector in tie-break priority order:
// when a memory scores equally across sectors, the earlier one wins.
var AllSectors = []Sector{
	SectorSemantic,
	SectorEpisodic,
	SectorProcedural,
	SectorReflective,
	SectorEmotional,
}

// ValidSector reports whether s names a known sector.
func ValidSector(s Sector) bool {
	switch s {
	case SectorEpisodic, SectorSemantic, SectorProcedural, SectorEmotional, SectorReflective:
		return true
	}
	return false
}

// SectorDecayLambda maps each sector to its exponential decay rate (per day).
// Lower lambda = slower decay (memories persist longer).
var SectorDecayLambda = map[Sector]float64{
	SectorEpisodic:   0.005, // hot — events linger long
	SectorSemantic:   0.02,  // warm — facts persist
	SectorProcedural: 0.02,  // warm
	SectorEmotional:  0.005, // hot — feelings persist
	SectorReflective: 0.05,  // cold — derived insights fade fastest
}

// SectorDefaultSalience maps each sector to the initial salience assigned
// to a freshly stored memory whose primary sector it is.
var SectorDefaultSalience = map[Sector]float64{
	SectorEpisodic:   0.5,
	SectorSemantic:   0.5,
	SectorProcedural: 0.5,
	SectorEmotional:  0.55,
	SectorReflective: 0.6,
}

// DefaultNamespace is used whenever a request omits namespaces.
const DefaultNamespace = "global"

// Memory is the core memory record stored in the metadata store.
// Vector payloads live in the vector store, one point per (memory, sector)
// within each namespace collection.
type Memory struct {
	ID            string            `json:"id"`
	Content       string            `json:"content"`
	Summary       string            `json:"summary,omitempty"`
	Namespaces    []string          `json:"namespaces"`
	Tags          []string          `json:"tags,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	PrimarySector Sector            `json:"primary_sector"`
	Sectors       []Sector          `json:"sectors"`
	Salience      float64           `json:"salience"` // 0.0 – 1.0
	DecayLambda   float64           `json:"decay_lambda"`
	DecayScore    float64           `json:"decay_score"` // last materialized salience_now
	CreatedAt     int64             `json:"created_at"`  // unix seconds
	UpdatedAt     int64             `json:"updated_at"`
	LastSeenAt    int64             `json:"last_seen_at"`
	Fingerprinted bool              `json:"fingerprinted,omitempty"`
	PendingVector bool              `json:"pending_vector,omitempty"`
	// PendingEmbed marks a memory stored with synthetic fallback vectors;
	// regeneration re-embeds it once the provider recovers.
	PendingEmbed bool `json:"pending_embed,omitempty"`
	// ColdContent holds the gzipped original content of a fingerprinted
	// memory when compression is on, so regeneration can restore it.
	ColdContent []byte `json:"-"`
}

// HasSector reports whether the memory carries a vector for s.
func (m *Memory) HasSector(s Sector) bool {
	for _, sec := range m.Sectors {
		if sec == s {
			return true
		}
	}
	return false
}

// InNamespace reports whether the memory belongs to any of the given namespaces.
func (m *Memory) InNamespace(namespaces []string) bool {
	for _, ns := range namespaces {
		for _, own := range m.Namespaces {
			if ns == own {
				return true
			}
		}
	}
	return false
}

// StoreRequest describes a single ingest operation.
type StoreRequest struct {
	Content    string            `json:"content"`
	Namespaces []string          `json:"namespaces,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	// Lenient writes return Accepted with PendingVector set instead of
	// failing when the vector store is unreachable.
	Lenient bool `json:"lenient,omitempty"`
}

// StoreResult is returned by a successful ingest.
type StoreResult struct {
	ID            string   `json:"id"`
	PrimarySector Sector   `json:"primary_sector"`
	Sectors       []Sector `json:"sectors"`
	Namespaces    []string `json:"namespaces"`
	PendingVector bool     `json:"pending_vector,omitempty"`
}

// QueryRequest describes a retrieval operation.
type QueryRequest struct {
	Text        string   `json:"query"`
	K           int      `json:"k,omitempty"` // clamped to [1, 32], default 8
	Namespaces  []string `json:"namespaces,omitempty"`
	Sectors     []Sector `json:"sectors,omitempty"`
	MinSalience float64  `json:"min_salience,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// QueryMatch is one scored retrieval hit.
type QueryMatch struct {
	ID            string   `json:"id"`
	Score         float64  `json:"score"`
	PrimarySector Sector   `json:"primary_sector"` // winning sector for this hit
	Sectors       []Sector `json:"sectors"`        // sectors that produced hits
	Salience      float64  `json:"salience"`       // decayed to query time
	LastSeenAt    int64    `json:"last_seen_at"`
	Content       string   `json:"content"`
	Path          []string `json:"path,omitempty"` // waypoint hops that surfaced this hit
	Fingerprinted bool     `json:"fingerprinted,omitempty"`
}

// QueryResult carries the ranked matches plus a partial-failure warning.
type QueryResult struct {
	Matches []QueryMatch `json:"matches"`
	// Partial is set when one or more sector searches failed and the
	// result was assembled from the sectors that succeeded.
	Partial bool `json:"partial,omitempty"`
}

// NamespaceGroup is a tenant/isolation label, auto-created on first reference.
type NamespaceGroup struct {
	Namespace       string `json:"namespace"`
	Description     string `json:"description,omitempty"`
	OntologyProfile string `json:"ontology_profile,omitempty"`
	MetadataJSON    string `json:"metadata_json,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
	Active          bool   `json:"active"`
}

// Waypoint is a directed weighted edge between two memories in a namespace.
// Each memory has at most one outbound waypoint per namespace.
type Waypoint struct {
	SrcID     string  `json:"src_id"`
	DstID     string  `json:"dst_id"`
	Namespace string  `json:"namespace"`
	Weight    float64 `json:"weight"`
	CreatedAt int64   `json:"created_at"`
	UpdatedAt int64   `json:"updated_at"`
}

// TemporalFact is a (subject, predicate, object) assertion valid over a
// time interval. ValidTo == 0 means currently valid.
type TemporalFact struct {
	ID         string  `json:"id"`
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Namespace  string  `json:"namespace"`
	ValidFrom  int64   `json:"valid_from"`
	ValidTo    int64   `json:"valid_to,omitempty"`
	Confidence float64 `json:"confidence"`
}

// StatEntry records one maintenance operation.
type StatEntry struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
	TS    int64  `json:"ts"`
}

// UserSummary is the per-namespace digest rebuilt by the reflection job.
type UserSummary struct {
	Namespace       string `json:"namespace"`
	Summary         string `json:"summary"`
	ReflectionCount int    `json:"reflection_count"`
	UpdatedAt       int64  `json:"updated_at"`
}
