package openmemory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Reflection mines clusters of related memories per namespace and writes
// one reflective memory per coherent cluster, linked back to its members
// through waypoints. Near-duplicate insights are suppressed so repeated
// runs over a stable corpus converge instead of piling up.

const (
	reflectBatchSize    = 200
	reflectMinCluster   = 3
	reflectDedupOverlap = 0.85
)

// ReflectionReport summarizes one reflection pass.
type ReflectionReport struct {
	Namespaces int `json:"namespaces"`
	Clusters   int `json:"clusters"`
	Insights   int `json:"insights"`
}

// reflectLoop runs periodic reflection passes until the engine closes.
func (e *Engine) reflectLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.ReflectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			report, err := e.RunReflection(e.ctx)
			if err != nil {
				e.log.Error("reflection failed", zap.Error(err))
				continue
			}
			if report.Insights > 0 {
				e.log.Info("reflection complete",
					zap.Int("namespaces", report.Namespaces),
					zap.Int("clusters", report.Clusters),
					zap.Int("insights", report.Insights))
			}
		}
	}
}

// RunReflection reflects over every namespace with enough material.
func (e *Engine) RunReflection(ctx context.Context) (*ReflectionReport, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	groups, err := e.store.ListNamespaces(ctx)
	if err != nil {
		return nil, wrapOp("reflection", err)
	}

	report := &ReflectionReport{Namespaces: len(groups)}
	for _, g := range groups {
		clusters, insights, err := e.reflectNamespace(ctx, g.Namespace)
		if err != nil {
			e.log.Warn("namespace reflection failed",
				zap.String("namespace", g.Namespace), zap.Error(err))
			continue
		}
		report.Clusters += clusters
		report.Insights += insights
	}
	if report.Insights > 0 {
		e.store.AppendStat(ctx, "reflection", int64(report.Insights))
	}
	return report, nil
}

func (e *Engine) reflectNamespace(ctx context.Context, namespace string) (clusters, insights int, err error) {
	memories, err := e.store.ListMemories(ctx, namespace, "", reflectBatchSize, 0)
	if err != nil {
		return 0, 0, err
	}

	// Reflect over source material only; feeding prior reflections back in
	// would compound them.
	var source []*Memory
	for _, m := range memories {
		if m.PrimarySector != SectorReflective && !m.PendingVector {
			source = append(source, m)
		}
	}
	if len(source) < e.cfg.ReflectMinMemories {
		return 0, 0, nil
	}

	vecs, err := e.memoryVectors(ctx, namespace, source)
	if err != nil {
		return 0, 0, err
	}

	maxClusters := len(source) / e.cfg.ReflectMinMemories
	if maxClusters < 1 {
		maxClusters = 1
	}
	assigned := clusterByFarthestPoint(source, vecs, maxClusters)

	existing := e.existingInsightTokens(ctx, namespace)

	for _, members := range assigned {
		if len(members) < reflectMinCluster {
			continue
		}
		clusters++
		coherence := clusterCoherence(members)
		insight := composeInsight(members)

		toks := Tokenize(insight)
		if isDuplicateInsight(toks, existing) {
			continue
		}
		existing = append(existing, toks)

		result, err := e.Store(ctx, StoreRequest{
			Content:    insight,
			Namespaces: []string{namespace},
			Tags:       []string{"reflective"},
		})
		if err != nil {
			e.log.Warn("insight store failed", zap.String("namespace", namespace), zap.Error(err))
			continue
		}
		insights++

		for _, m := range members {
			if err := e.store.UpsertWaypoint(ctx, m.ID, namespace, result.ID, coherence); err != nil {
				e.log.Warn("insight waypoint failed",
					zap.String("src", m.ID), zap.Error(err))
			}
		}
	}

	if insights > 0 {
		if err := e.rebuildUserSummary(ctx, namespace); err != nil {
			e.log.Warn("user summary rebuild failed",
				zap.String("namespace", namespace), zap.Error(err))
		}
	}
	return clusters, insights, nil
}

// memoryVectors fetches each memory's primary-sector vector, batched by sector.
func (e *Engine) memoryVectors(ctx context.Context, namespace string, memories []*Memory) (map[string][]float32, error) {
	bySector := make(map[Sector][]string)
	for _, m := range memories {
		bySector[m.PrimarySector] = append(bySector[m.PrimarySector], m.ID)
	}
	out := make(map[string][]float32, len(memories))
	for sector, ids := range bySector {
		vecs, err := e.vectors.Vectors(ctx, namespace, sector, ids)
		if err != nil {
			return nil, err
		}
		for id, v := range vecs {
			out[id] = v
		}
	}
	return out, nil
}

// clusterByFarthestPoint seeds up to maxClusters centers greedily (each new
// seed is the memory farthest from all current seeds) and assigns every
// memory to its nearest seed. Memories without a vector are skipped.
func clusterByFarthestPoint(memories []*Memory, vecs map[string][]float32, maxClusters int) [][]*Memory {
	var pool []*Memory
	for _, m := range memories {
		if len(vecs[m.ID]) > 0 {
			pool = append(pool, m)
		}
	}
	if len(pool) == 0 {
		return nil
	}
	if maxClusters > len(pool) {
		maxClusters = len(pool)
	}

	seeds := []*Memory{pool[0]}
	for len(seeds) < maxClusters {
		var farthest *Memory
		best := 2.0
		for _, m := range pool {
			nearest := -2.0
			for _, s := range seeds {
				if s.ID == m.ID {
					nearest = 2.0
					break
				}
				if sim := CosineSimilarity(vecs[m.ID], vecs[s.ID]); sim > nearest {
					nearest = sim
				}
			}
			// The best next seed is the one least similar to any seed.
			if nearest < best {
				best = nearest
				farthest = m
			}
		}
		if farthest == nil {
			break
		}
		seeds = append(seeds, farthest)
	}

	clusters := make([][]*Memory, len(seeds))
	for _, m := range pool {
		bestIdx, bestSim := 0, -2.0
		for i, s := range seeds {
			if sim := CosineSimilarity(vecs[m.ID], vecs[s.ID]); sim > bestSim {
				bestSim = sim
				bestIdx = i
			}
		}
		clusters[bestIdx] = append(clusters[bestIdx], m)
	}
	return clusters
}

// clusterCoherence is the mean pairwise token overlap across members,
// in [0, 1]. Single-member clusters score 0.
func clusterCoherence(members []*Memory) float64 {
	if len(members) < 2 {
		return 0
	}
	tokens := make([][]string, len(members))
	for i, m := range members {
		tokens[i] = Tokenize(m.Content)
	}
	var sum float64
	pairs := 0
	for i := 0; i < len(tokens); i++ {
		for j := i + 1; j < len(tokens); j++ {
			sum += tokenOverlap(tokens[i], tokens[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}

// tokenOverlap is the Jaccard similarity of two token sets.
func tokenOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}
	inter := 0
	for t := range setA {
		if setB[t] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// composeInsight builds the reflective content for a cluster from its
// shared keywords. Deterministic, so dedupe across runs is meaningful.
func composeInsight(members []*Memory) string {
	var all strings.Builder
	for _, m := range members {
		all.WriteString(m.Content)
		all.WriteByte(' ')
	}
	keywords := TopKeywords(all.String(), 5)
	theme := "these memories"
	if len(keywords) > 0 {
		theme = strings.Join(keywords, ", ")
	}
	return fmt.Sprintf("I notice a recurring theme around %s across %d related memories.",
		theme, len(members))
}

// isDuplicateInsight reports whether the candidate overlaps an existing
// insight beyond the dedupe threshold.
func isDuplicateInsight(candidate []string, existing [][]string) bool {
	for _, toks := range existing {
		if tokenOverlap(candidate, toks) >= reflectDedupOverlap {
			return true
		}
	}
	return false
}

// existingInsightTokens loads the token sets of prior reflective memories.
func (e *Engine) existingInsightTokens(ctx context.Context, namespace string) [][]string {
	prior, err := e.store.ListMemories(ctx, namespace, SectorReflective, reflectBatchSize, 0)
	if err != nil {
		return nil
	}
	out := make([][]string, 0, len(prior))
	for _, m := range prior {
		out = append(out, Tokenize(m.Content))
	}
	return out
}

// rebuildUserSummary regenerates the namespace digest from the newest
// reflective memories.
func (e *Engine) rebuildUserSummary(ctx context.Context, namespace string) error {
	insights, err := e.store.ListMemories(ctx, namespace, SectorReflective, 5, 0)
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, m := range insights {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(Summarize(m.Content, e.cfg.SummaryMaxLength))
	}
	return e.store.UpsertUserSummary(ctx, &UserSummary{
		Namespace:       namespace,
		Summary:         b.String(),
		ReflectionCount: len(insights),
	})
}
