package openmemory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Engine ties the metadata store, vector store, embedder, and sector router
// together behind the public memory operations. One Engine serves all
// namespaces; isolation happens below it, in per-namespace collections and
// namespace-scoped SQL.
type Engine struct {
	cfg     Config
	log     *zap.Logger
	store   *Store
	vectors VectorStore
	embed   Embedder
	// fallback produces deterministic vectors when the provider is down,
	// so writes never stall on an embedding outage.
	fallback *SyntheticEmbedder
	router   *SectorRouter

	locks   idLocks
	nsReg   *namespaceRegistry
	queries *semaphore.Weighted

	regenCh chan string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewEngine builds an engine from configuration, opening the configured
// metadata backend, vector backend, and embedding provider.
func NewEngine(cfg Config, log *zap.Logger) (*Engine, error) {
	store, err := NewMetadataStore(&cfg)
	if err != nil {
		return nil, err
	}
	vectors, err := NewVectorStore(&cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	embed, err := NewEmbedder(&cfg)
	if err != nil {
		store.Close()
		vectors.Close()
		return nil, err
	}
	return NewEngineWith(cfg, store, vectors, embed, log), nil
}

// NewEngineWith wires an engine from pre-built components. Background
// workers do not run until Start.
func NewEngineWith(cfg Config, store *Store, vectors VectorStore, embed Embedder, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:      cfg,
		log:      log,
		store:    store,
		vectors:  vectors,
		embed:    embed,
		fallback: NewSyntheticEmbedder(cfg.VecDim),
		router:   NewSectorRouter(cfg.EmbedMode),
		nsReg:    newNamespaceRegistry(),
		queries:  semaphore.NewWeighted(int64(cfg.MaxActive)),
		regenCh:  make(chan string, 256),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the decay, reflection, and regeneration workers.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.decayLoop()
	if e.cfg.AutoReflect {
		e.wg.Add(1)
		go e.reflectLoop()
	}
	if e.cfg.RegenerationEnabled {
		e.wg.Add(1)
		go e.regenerationLoop()
	}
}

// Close stops the workers and releases both stores. Idempotent.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.cancel()
	e.wg.Wait()
	verr := e.vectors.Close()
	serr := e.store.Close()
	if serr != nil {
		return serr
	}
	return verr
}

func (e *Engine) checkOpen() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return nil
}

// ensureNamespaces creates any namespaces not yet known, first touch wins.
func (e *Engine) ensureNamespaces(ctx context.Context, namespaces []string) error {
	for _, ns := range namespaces {
		if e.nsReg.Known(ns) {
			continue
		}
		if err := e.store.EnsureNamespace(ctx, ns); err != nil {
			return err
		}
		e.nsReg.Mark(ns)
	}
	return nil
}

// embedText calls the configured provider, falling back to the synthetic
// embedder when it fails so writes never stall on an embedding outage.
// Queries do not use the fallback; they fail instead.
func (e *Engine) embedText(ctx context.Context, text, taskType string) ([]float32, bool) {
	vec, err := e.embed.Embed(ctx, text, taskType)
	if err == nil && len(vec) == e.cfg.VecDim {
		return vec, false
	}
	if err != nil {
		e.log.Warn("embedding provider failed, using synthetic fallback",
			zap.String("provider", e.cfg.Embeddings), zap.Error(err))
	}
	vec, _ = e.fallback.Embed(ctx, text, taskType)
	e.store.AppendStat(ctx, "embed_fallback", 1)
	return vec, true
}

// Store ingests one memory: classify, embed per active sector, commit
// metadata, then upsert vectors. Metadata commits before vectors; a vector
// failure rolls the memory back unless the request is lenient, in which
// case the row stays with pending_vector set for later regeneration.
func (e *Engine) Store(ctx context.Context, req StoreRequest) (*StoreResult, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if req.Content == "" {
		return nil, validationf("content must not be empty")
	}
	namespaces := req.Namespaces
	if len(namespaces) == 0 {
		namespaces = []string{DefaultNamespace}
	}
	if err := e.ensureNamespaces(ctx, namespaces); err != nil {
		return nil, wrapOp("store", err)
	}

	primary, active := e.router.Classify(req.Content, req.Tags)
	now := time.Now().Unix()
	m := &Memory{
		ID:            NewID(),
		Content:       req.Content,
		Summary:       LayeredSummary(req.Content, e.cfg.SummaryLayers, e.cfg.SummaryMaxLength),
		Namespaces:    namespaces,
		Tags:          req.Tags,
		Metadata:      req.Metadata,
		PrimarySector: primary,
		Sectors:       active,
		Salience:      SectorDefaultSalience[primary],
		DecayLambda:   SectorDecayLambda[primary],
		CreatedAt:     now,
		UpdatedAt:     now,
		LastSeenAt:    now,
	}
	m.DecayScore = m.Salience

	points, usedFallback := e.buildPoints(ctx, m)
	if usedFallback {
		// Synthetic vectors keep the write available; the mark gets the
		// memory re-embedded once the provider recovers.
		m.PendingEmbed = true
		e.log.Debug("stored with synthetic vectors", zap.String("id", m.ID))
	}

	if err := e.store.CommitMemory(ctx, m, e.cfg.VecDim); err != nil {
		return nil, err
	}

	if err := e.vectors.BatchUpsert(ctx, points); err != nil {
		if req.Lenient {
			m.PendingVector = true
			if uerr := e.store.UpdateMemory(ctx, m); uerr != nil {
				e.log.Error("pending_vector flag update failed",
					zap.String("id", m.ID), zap.Error(uerr))
			}
			e.log.Warn("vector upsert failed, memory kept pending",
				zap.String("id", m.ID), zap.Error(err))
		} else {
			// Compensate: the metadata commit must not outlive the vectors.
			if derr := e.store.DeleteMemory(ctx, m.ID); derr != nil {
				e.log.Error("compensating delete failed",
					zap.String("id", m.ID), zap.Error(derr))
			}
			return nil, wrapOp("store", err)
		}
	}

	if usedFallback {
		e.queueRegeneration(m.ID)
	}

	e.log.Info("memory stored",
		zap.String("id", m.ID),
		zap.String("primary_sector", string(m.PrimarySector)),
		zap.Int("sectors", len(m.Sectors)),
		zap.Strings("namespaces", m.Namespaces),
		zap.Bool("pending_vector", m.PendingVector),
	)
	return &StoreResult{
		ID:            m.ID,
		PrimarySector: m.PrimarySector,
		Sectors:       m.Sectors,
		Namespaces:    m.Namespaces,
		PendingVector: m.PendingVector,
	}, nil
}

// buildPoints embeds the memory content once per active sector (advanced
// mode) or once overall (simple mode), fanned out across namespaces.
// Advanced mode issues the per-sector calls concurrently when embed_parallel
// is on, otherwise sequentially with the configured inter-call delay.
func (e *Engine) buildPoints(ctx context.Context, m *Memory) ([]VectorPoint, bool) {
	text := m.Content
	if e.cfg.UseSummaryOnly && m.Summary != "" {
		text = m.Summary
	}

	usedFallback := false
	bySector := make(map[Sector][]float32, len(m.Sectors))
	switch {
	case e.cfg.EmbedMode == "advanced" && e.cfg.EmbedParallel:
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		for _, sector := range m.Sectors {
			sector := sector
			g.Go(func() error {
				vec, fb := e.embedText(gctx, sectorPrompt(sector, text), TaskDocument)
				mu.Lock()
				bySector[sector] = vec
				usedFallback = usedFallback || fb
				mu.Unlock()
				return nil
			})
		}
		g.Wait()
	case e.cfg.EmbedMode == "advanced":
		for i, sector := range m.Sectors {
			if i > 0 && e.cfg.EmbedDelayMS > 0 {
				time.Sleep(time.Duration(e.cfg.EmbedDelayMS) * time.Millisecond)
			}
			vec, fb := e.embedText(ctx, sectorPrompt(sector, text), TaskDocument)
			usedFallback = usedFallback || fb
			bySector[sector] = vec
		}
	default:
		vec, fb := e.embedText(ctx, text, TaskDocument)
		usedFallback = fb
		for _, sector := range m.Sectors {
			bySector[sector] = vec
		}
	}

	var points []VectorPoint
	for _, ns := range m.Namespaces {
		for _, sector := range m.Sectors {
			points = append(points, VectorPoint{
				Namespace: ns,
				MemoryID:  m.ID,
				Sector:    sector,
				Vector:    bySector[sector],
			})
		}
	}
	return points, usedFallback
}

// candidate accumulates per-memory evidence across sector searches.
type candidate struct {
	bestCos    float64
	bestSector Sector
	sectors    []Sector
}

// Query runs hybrid retrieval: per-sector vector search fan-out, metadata
// join, hybrid scoring, waypoint expansion, and final ranking. Sector
// search failures degrade to a partial result instead of failing the query.
func (e *Engine) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if req.Text == "" {
		return nil, validationf("query text must not be empty")
	}
	k := req.K
	if k == 0 {
		k = 8
	}
	if k < 1 {
		k = 1
	}
	if k > 32 {
		k = 32
	}
	namespaces := req.Namespaces
	if len(namespaces) == 0 {
		namespaces = []string{DefaultNamespace}
	}
	sectors := req.Sectors
	if len(sectors) == 0 {
		sectors = AllSectors
	}
	for _, s := range sectors {
		if !ValidSector(s) {
			return nil, validationf("unknown sector %q", s)
		}
	}

	// Cap concurrent queries; FIFO admission via the weighted semaphore.
	if err := e.queries.Acquire(ctx, 1); err != nil {
		return nil, wrapOp("query", err)
	}
	defer e.queries.Release(1)

	// Queries never degrade to synthetic vectors; a provider outage fails
	// the query outright rather than returning silently wrong matches.
	queryVec, err := e.embed.Embed(ctx, req.Text, TaskQuery)
	if err != nil {
		return nil, wrapOp("query", err)
	}
	if len(queryVec) != e.cfg.VecDim {
		return nil, wrapOp("query", fmt.Errorf("%w: provider returned dimension %d, expected %d",
			ErrEmbed, len(queryVec), e.cfg.VecDim))
	}
	queryTokens := Tokenize(req.Text)

	topN := k * e.cfg.CacheSegments
	if floor := 1000 / len(sectors); topN < floor {
		topN = floor
	}
	if e.cfg.SegSize > 0 && topN > e.cfg.SegSize {
		topN = e.cfg.SegSize
	}

	partial := false
	cands := make(map[string]*candidate)
	for _, ns := range namespaces {
		for _, sector := range sectors {
			hits, err := e.vectors.Search(ctx, ns, sector, queryVec, topN)
			if err != nil {
				e.log.Warn("sector search failed",
					zap.String("namespace", ns),
					zap.String("sector", string(sector)),
					zap.Error(err))
				partial = true
				continue
			}
			for _, h := range hits {
				c := cands[h.MemoryID]
				if c == nil {
					c = &candidate{bestCos: -2}
					cands[h.MemoryID] = c
				}
				if h.Score > c.bestCos {
					c.bestCos = h.Score
					c.bestSector = sector
				}
				c.sectors = appendSector(c.sectors, sector)
			}
		}
	}
	if len(cands) == 0 {
		return &QueryResult{Matches: []QueryMatch{}, Partial: partial}, nil
	}

	ids := make([]string, 0, len(cands))
	for id := range cands {
		ids = append(ids, id)
	}
	memories, err := e.store.GetMemories(ctx, ids)
	if err != nil {
		return nil, wrapOp("query", err)
	}

	matches := e.scoreCandidates(ctx, cands, memories, namespaces, queryTokens, req)

	matches = e.expandWaypoints(ctx, matches, namespaces, queryTokens, req)

	sortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}

	if e.cfg.ReinforceOnQuery && len(matches) > 0 {
		seen := make([]string, len(matches))
		for i, m := range matches {
			seen[i] = m.ID
		}
		go e.reinforceMany(seen)
	}

	return &QueryResult{Matches: matches, Partial: partial}, nil
}

// scoreCandidates joins vector hits against metadata, applies request
// filters, and computes the hybrid score per surviving candidate.
func (e *Engine) scoreCandidates(ctx context.Context, cands map[string]*candidate,
	memories map[string]*Memory, namespaces []string, queryTokens []string,
	req QueryRequest) []QueryMatch {

	now := time.Now()

	count, avgLen, err := e.store.CorpusStats(ctx)
	if err != nil {
		e.log.Warn("corpus stats unavailable", zap.Error(err))
	}
	corpus := &bm25Corpus{docCount: count, avgDocLen: avgLen, df: make(map[string]int)}
	docTokens := make(map[string][]string, len(memories))
	for id, m := range memories {
		toks := Tokenize(m.Content)
		docTokens[id] = toks
		present := make(map[string]bool, len(toks))
		for _, t := range toks {
			present[t] = true
		}
		for _, q := range queryTokens {
			if present[q] {
				corpus.df[q]++
			}
		}
	}

	var matches []QueryMatch
	for id, c := range cands {
		m := memories[id]
		if m == nil || m.PendingVector {
			continue
		}
		if !m.InNamespace(namespaces) {
			continue
		}
		if !hasAllTags(m.Tags, req.Tags) {
			continue
		}
		salNow := SalienceNow(m.Salience, m.DecayLambda, m.LastSeenAt, now)
		if salNow < req.MinSalience {
			continue
		}

		score := HybridScore(e.cfg.Weights,
			c.bestCos,
			KeywordBoost(queryTokens, m.Content, e.cfg.KeywordMinLength, e.cfg.KeywordBoost),
			corpus.BM25(queryTokens, docTokens[id]),
			salNow,
			Recency(m.LastSeenAt, now),
		)
		if score < e.cfg.MinScore {
			continue
		}

		matches = append(matches, QueryMatch{
			ID:            id,
			Score:         score,
			PrimarySector: c.bestSector,
			Sectors:       c.sectors,
			Salience:      salNow,
			LastSeenAt:    m.LastSeenAt,
			Content:       m.Content,
			Fingerprinted: m.Fingerprinted,
		})
	}
	return matches
}

// expandWaypoints follows the outbound edge of every strong match and pulls
// the destination in with a weight-damped score, recording the hop path.
func (e *Engine) expandWaypoints(ctx context.Context, matches []QueryMatch,
	namespaces []string, queryTokens []string, req QueryRequest) []QueryMatch {

	var srcs []string
	bySrc := make(map[string]*QueryMatch, len(matches))
	present := make(map[string]bool, len(matches))
	for i := range matches {
		present[matches[i].ID] = true
		if matches[i].Score >= e.cfg.ExpandThreshold {
			srcs = append(srcs, matches[i].ID)
			bySrc[matches[i].ID] = &matches[i]
		}
	}
	if len(srcs) == 0 {
		return matches
	}

	for _, ns := range namespaces {
		edges, err := e.store.WaypointsFrom(ctx, srcs, ns)
		if err != nil {
			e.log.Warn("waypoint lookup failed", zap.String("namespace", ns), zap.Error(err))
			continue
		}
		var dstIDs []string
		for _, w := range edges {
			if !present[w.DstID] {
				dstIDs = append(dstIDs, w.DstID)
			}
		}
		if len(dstIDs) == 0 {
			continue
		}
		dsts, err := e.store.GetMemories(ctx, dstIDs)
		if err != nil {
			continue
		}
		now := time.Now()
		for _, w := range edges {
			src := bySrc[w.SrcID]
			dst := dsts[w.DstID]
			if src == nil || dst == nil || present[w.DstID] || dst.PendingVector {
				continue
			}
			if !dst.InNamespace(namespaces) || !hasAllTags(dst.Tags, req.Tags) {
				continue
			}
			salNow := SalienceNow(dst.Salience, dst.DecayLambda, dst.LastSeenAt, now)
			if salNow < req.MinSalience {
				continue
			}
			score := src.Score * w.Weight
			if score < e.cfg.MinScore {
				continue
			}
			present[w.DstID] = true
			matches = append(matches, QueryMatch{
				ID:            w.DstID,
				Score:         score,
				PrimarySector: dst.PrimarySector,
				Sectors:       dst.Sectors,
				Salience:      salNow,
				LastSeenAt:    dst.LastSeenAt,
				Content:       dst.Content,
				Path:          append(append([]string{}, src.Path...), w.SrcID),
				Fingerprinted: dst.Fingerprinted,
			})
		}
	}
	return matches
}

// sortMatches ranks by score, then decayed salience, then recency.
func sortMatches(matches []QueryMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].Salience != matches[j].Salience {
			return matches[i].Salience > matches[j].Salience
		}
		return matches[i].LastSeenAt > matches[j].LastSeenAt
	})
}

func appendSector(sectors []Sector, s Sector) []Sector {
	for _, have := range sectors {
		if have == s {
			return sectors
		}
	}
	return append(sectors, s)
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Get loads one memory. When namespaces are given, a memory outside all of
// them reads as not found, so existence never leaks across tenants.
func (e *Engine) Get(ctx context.Context, id string, namespaces []string) (*Memory, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	m, err := e.store.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(namespaces) > 0 && !m.InNamespace(namespaces) {
		return nil, ErrNotFound
	}
	return m, nil
}

// List pages through a namespace's memories, newest first.
func (e *Engine) List(ctx context.Context, namespace string, sector Sector, limit, offset int) ([]*Memory, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if sector != "" && !ValidSector(sector) {
		return nil, validationf("unknown sector %q", sector)
	}
	return e.store.ListMemories(ctx, namespace, sector, limit, offset)
}

// UpdateRequest carries the mutable memory fields. Nil fields stay as-is.
type UpdateRequest struct {
	Content  *string           `json:"content,omitempty"`
	Tags     []string          `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Salience *float64          `json:"salience,omitempty"`
}

// Update rewrites a memory's mutable fields. A content change re-summarizes
// and re-embeds every active sector across all of the memory's namespaces.
func (e *Engine) Update(ctx context.Context, id string, req UpdateRequest, namespaces []string) (*Memory, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if req.Salience != nil && (*req.Salience < 0 || *req.Salience > 1) {
		return nil, validationf("salience %v outside [0, 1]", *req.Salience)
	}

	e.locks.Lock(id)
	defer e.locks.Unlock(id)

	m, err := e.Get(ctx, id, namespaces)
	if err != nil {
		return nil, err
	}

	reembed := false
	if req.Content != nil && *req.Content != m.Content {
		if *req.Content == "" {
			return nil, validationf("content must not be empty")
		}
		m.Content = *req.Content
		m.Summary = LayeredSummary(m.Content, e.cfg.SummaryLayers, e.cfg.SummaryMaxLength)
		m.Fingerprinted = false
		m.ColdContent = nil
		reembed = true
	}
	if req.Tags != nil {
		m.Tags = req.Tags
	}
	if req.Metadata != nil {
		m.Metadata = req.Metadata
	}
	if req.Salience != nil {
		m.Salience = *req.Salience
		m.DecayScore = *req.Salience
	}
	m.LastSeenAt = time.Now().Unix()

	var points []VectorPoint
	if reembed {
		var usedFallback bool
		points, usedFallback = e.buildPoints(ctx, m)
		m.PendingEmbed = usedFallback
	}

	if err := e.store.UpdateMemory(ctx, m); err != nil {
		return nil, err
	}
	if reembed {
		if err := e.vectors.BatchUpsert(ctx, points); err != nil {
			e.log.Warn("re-embed upsert failed", zap.String("id", id), zap.Error(err))
		}
		if m.PendingEmbed {
			e.queueRegeneration(id)
		}
	}
	return m, nil
}

// Delete removes a memory everywhere: metadata row, join rows, waypoints,
// and its vector points in every namespace collection.
func (e *Engine) Delete(ctx context.Context, id string, namespaces []string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	e.locks.Lock(id)
	defer e.locks.Unlock(id)

	m, err := e.Get(ctx, id, namespaces)
	if err != nil {
		return err
	}
	if err := e.store.DeleteMemory(ctx, id); err != nil {
		return err
	}
	for _, ns := range m.Namespaces {
		if err := e.vectors.Delete(ctx, ns, id, ""); err != nil {
			e.log.Warn("vector delete failed",
				zap.String("id", id), zap.String("namespace", ns), zap.Error(err))
		}
	}
	e.log.Info("memory deleted", zap.String("id", id))
	return nil
}

// --- Namespace operations ---

// CreateNamespace registers a namespace explicitly with optional metadata.
func (e *Engine) CreateNamespace(ctx context.Context, g *NamespaceGroup) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if g.Namespace == "" {
		return validationf("namespace must not be empty")
	}
	if err := e.store.EnsureNamespace(ctx, g.Namespace); err != nil {
		return err
	}
	e.nsReg.Mark(g.Namespace)
	if g.Description != "" || g.OntologyProfile != "" || g.MetadataJSON != "" {
		g.Active = true
		return e.store.UpdateNamespace(ctx, g)
	}
	return nil
}

// GetNamespaceInfo returns the namespace record plus its memory count.
func (e *Engine) GetNamespaceInfo(ctx context.Context, namespace string) (*NamespaceGroup, int, error) {
	if err := e.checkOpen(); err != nil {
		return nil, 0, err
	}
	g, err := e.store.GetNamespace(ctx, namespace)
	if err != nil {
		return nil, 0, err
	}
	n, err := e.store.CountMemories(ctx, namespace)
	if err != nil {
		return nil, 0, err
	}
	return g, n, nil
}

// SectorBreakdown reports vector point counts per sector for a namespace.
func (e *Engine) SectorBreakdown(ctx context.Context, namespace string) (map[Sector]int, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	stats, err := e.vectors.Stats(ctx, namespace)
	if err != nil {
		return nil, err
	}
	return stats[SanitizeNamespace(namespace)], nil
}

// ListNamespaces returns all registered namespaces.
func (e *Engine) ListNamespaces(ctx context.Context) ([]NamespaceGroup, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.store.ListNamespaces(ctx)
}

// UpdateNamespace rewrites a namespace record.
func (e *Engine) UpdateNamespace(ctx context.Context, g *NamespaceGroup) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	return e.store.UpdateNamespace(ctx, g)
}

// DeleteNamespace removes a namespace and everything scoped to it: the
// record, join rows, waypoints, facts, summaries, vector points, and every
// memory that belonged only to this namespace.
func (e *Engine) DeleteNamespace(ctx context.Context, namespace string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if _, err := e.store.GetNamespace(ctx, namespace); err != nil {
		return err
	}
	ids, err := e.store.MemoryIDs(ctx, namespace)
	if err != nil {
		return err
	}
	if _, err := e.store.DeleteNamespace(ctx, namespace); err != nil {
		return err
	}
	if len(ids) > 0 {
		if err := e.vectors.BatchDelete(ctx, namespace, ids, ""); err != nil {
			e.log.Warn("namespace vector cleanup failed",
				zap.String("namespace", namespace), zap.Error(err))
		}
	}
	e.nsReg.Forget(namespace)
	e.log.Info("namespace deleted",
		zap.String("namespace", namespace), zap.Int("memories", len(ids)))
	return nil
}

// --- Temporal facts (store passthroughs with open-state checks) ---

func (e *Engine) AddFact(ctx context.Context, f *TemporalFact) (string, error) {
	if err := e.checkOpen(); err != nil {
		return "", err
	}
	return e.store.InsertFact(ctx, f)
}

func (e *Engine) FactsAt(ctx context.Context, filter FactFilter) ([]TemporalFact, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.store.FactsAt(ctx, filter)
}

func (e *Engine) FactTimeline(ctx context.Context, subject, namespace string) ([]TemporalFact, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.store.Timeline(ctx, subject, namespace)
}

func (e *Engine) SearchFacts(ctx context.Context, pattern, namespace string, limit int) ([]TemporalFact, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if pattern == "" {
		return nil, validationf("search pattern must not be empty")
	}
	return e.store.SearchFacts(ctx, pattern, namespace, limit)
}

func (e *Engine) DeleteFact(ctx context.Context, id string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	return e.store.DeleteFact(ctx, id)
}

// --- Health / stats ---

// HealthReport is the engine-wide status snapshot.
type HealthReport struct {
	Status        string `json:"status"` // ok | degraded
	MetadataStore string `json:"metadata_store"`
	VectorStore   string `json:"vector_store"`
	Embeddings    string `json:"embeddings"`
	Tier          Tier   `json:"tier"`
}

// Health pings both stores and reports overall status.
func (e *Engine) Health(ctx context.Context) *HealthReport {
	r := &HealthReport{
		Status:        "ok",
		MetadataStore: "ok",
		VectorStore:   "ok",
		Embeddings:    e.cfg.Embeddings,
		Tier:          e.cfg.Tier,
	}
	if e.closed.Load() {
		r.Status = "closed"
		return r
	}
	if err := e.store.Ping(ctx); err != nil {
		r.MetadataStore = err.Error()
		r.Status = "degraded"
	}
	if err := e.vectors.Ping(ctx); err != nil {
		r.VectorStore = err.Error()
		r.Status = "degraded"
	}
	return r
}

// UserSummaryFor returns the reflection-maintained digest for a namespace.
func (e *Engine) UserSummaryFor(ctx context.Context, namespace string) (*UserSummary, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	us, err := e.store.GetUserSummary(ctx, namespace)
	if errors.Is(err, ErrNotFound) {
		return &UserSummary{Namespace: namespace}, nil
	}
	return us, err
}

// Stats returns maintenance counters recorded since the given unix time.
func (e *Engine) Stats(ctx context.Context, since int64) ([]StatEntry, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.store.ReadStats(ctx, since)
}

// Link creates or replaces the outbound waypoint of src toward dst.
func (e *Engine) Link(ctx context.Context, srcID, dstID, namespace string, weight float64) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if weight < 0 || weight > 1 {
		return validationf("weight %v outside [0, 1]", weight)
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if srcID == dstID {
		return validationf("waypoint cannot self-link")
	}
	for _, id := range []string{srcID, dstID} {
		if _, err := e.store.GetMemory(ctx, id); err != nil {
			return fmt.Errorf("waypoint endpoint %s: %w", id, err)
		}
	}
	return e.store.UpsertWaypoint(ctx, srcID, namespace, dstID, weight)
}
