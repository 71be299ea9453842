package openmemory

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DecayReport summarizes one sweep.
type DecayReport struct {
	Namespaces    int `json:"namespaces"`
	Swept         int `json:"swept"`
	Fingerprinted int `json:"fingerprinted"`
}

// decayLoop runs periodic sweeps until the engine closes.
func (e *Engine) decayLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.DecayInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			report, err := e.RunDecaySweep(e.ctx)
			if err != nil {
				e.log.Error("decay sweep failed", zap.Error(err))
				continue
			}
			e.log.Info("decay sweep complete",
				zap.Int("namespaces", report.Namespaces),
				zap.Int("swept", report.Swept),
				zap.Int("fingerprinted", report.Fingerprinted))
		}
	}
}

// RunDecaySweep rematerializes decay scores for every memory and
// fingerprints the ones that fell below the cold threshold. Namespaces are
// distributed round-robin across the configured worker count.
func (e *Engine) RunDecaySweep(ctx context.Context) (*DecayReport, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	groups, err := e.store.ListNamespaces(ctx)
	if err != nil {
		return nil, wrapOp("decay_sweep", err)
	}

	workers := e.cfg.DecayThreads
	if workers < 1 {
		workers = 1
	}
	buckets := make([][]string, workers)
	for i, g := range groups {
		buckets[i%workers] = append(buckets[i%workers], g.Namespace)
	}

	var (
		g             errgroup.Group
		swept         = make([]int, workers)
		fingerprinted = make([]int, workers)
	)
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			for _, ns := range buckets[w] {
				s, f, err := e.decayNamespace(ctx, ns)
				if err != nil {
					return err
				}
				swept[w] += s
				fingerprinted[w] += f
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, wrapOp("decay_sweep", err)
	}

	report := &DecayReport{Namespaces: len(groups)}
	for w := 0; w < workers; w++ {
		report.Swept += swept[w]
		report.Fingerprinted += fingerprinted[w]
	}
	e.store.AppendStat(ctx, "decay_sweep", int64(report.Swept))
	if report.Fingerprinted > 0 {
		e.store.AppendStat(ctx, "fingerprint", int64(report.Fingerprinted))
	}
	return report, nil
}

func (e *Engine) decayNamespace(ctx context.Context, namespace string) (swept, cold int, err error) {
	ids, err := e.store.MemoryIDs(ctx, namespace)
	if err != nil {
		return 0, 0, err
	}
	now := time.Now()
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return swept, cold, ctx.Err()
		default:
		}

		e.locks.Lock(id)
		m, err := e.store.GetMemory(ctx, id)
		if err != nil {
			e.locks.Unlock(id)
			continue
		}
		salNow := SalienceNow(m.Salience, m.DecayLambda, m.LastSeenAt, now)
		m.DecayScore = salNow
		if salNow < e.cfg.ColdThreshold && !m.Fingerprinted {
			e.fingerprint(ctx, m)
			cold++
		} else if err := e.store.UpdateMemory(ctx, m); err != nil {
			e.log.Warn("decay update failed", zap.String("id", id), zap.Error(err))
		}
		if m.PendingEmbed {
			e.queueRegeneration(id)
		}
		e.locks.Unlock(id)
		swept++
	}
	return swept, cold, nil
}

// fingerprint marks a cold memory. In summary-only mode it also shrinks the
// memory's footprint: content is replaced by its summary (the original
// gzipped into cold_content when compression is on) and non-primary sector
// vectors are dropped. Otherwise only the flag flips and the content and
// sector coverage stay intact. Caller holds the id lock.
func (e *Engine) fingerprint(ctx context.Context, m *Memory) {
	m.Fingerprinted = true

	if e.cfg.UseSummaryOnly {
		if m.Summary != "" && m.Summary != m.Content {
			if blob, ok := CompressContent(&e.cfg, m.Content); ok {
				m.ColdContent = blob
			}
			m.Content = m.Summary
		}
		for _, sector := range m.Sectors {
			if sector == m.PrimarySector {
				continue
			}
			for _, ns := range m.Namespaces {
				if err := e.vectors.Delete(ctx, ns, m.ID, sector); err != nil {
					e.log.Warn("fingerprint vector trim failed",
						zap.String("id", m.ID), zap.String("sector", string(sector)), zap.Error(err))
				}
			}
			if err := e.store.DeleteVectorRows(ctx, m.ID, sector); err != nil {
				e.log.Warn("fingerprint vector row trim failed",
					zap.String("id", m.ID), zap.Error(err))
			}
		}
		m.Sectors = []Sector{m.PrimarySector}
	}

	if err := e.store.UpdateMemory(ctx, m); err != nil {
		e.log.Warn("fingerprint update failed", zap.String("id", m.ID), zap.Error(err))
		return
	}
	e.log.Debug("memory fingerprinted", zap.String("id", m.ID))
}

// queueRegeneration schedules a fingerprinted or fallback-embedded memory
// for re-embedding. Drops the request when the queue is full; the next
// reinforcement or sweep retries.
func (e *Engine) queueRegeneration(id string) {
	if !e.cfg.RegenerationEnabled {
		return
	}
	select {
	case e.regenCh <- id:
	default:
		e.log.Debug("regeneration queue full", zap.String("id", id))
	}
}

// regenerationLoop re-embeds fingerprinted memories that warmed back up.
func (e *Engine) regenerationLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case id := <-e.regenCh:
			if err := e.regenerate(e.ctx, id); err != nil {
				e.log.Warn("regeneration failed", zap.String("id", id), zap.Error(err))
			}
		}
	}
}

// regenerate restores a fingerprinted memory to full sector coverage and
// re-embeds memories written with fallback vectors: inflate the archived
// content if present, reclassify, re-embed every active sector, and clear
// the flags.
func (e *Engine) regenerate(ctx context.Context, id string) error {
	e.locks.Lock(id)
	defer e.locks.Unlock(id)

	m, err := e.store.GetMemory(ctx, id)
	if err != nil {
		return err
	}
	if !m.Fingerprinted && !m.PendingVector && !m.PendingEmbed {
		return nil
	}

	if len(m.ColdContent) > 0 {
		if content, err := DecompressContent(m.ColdContent, true); err == nil {
			m.Content = content
		} else {
			e.log.Warn("cold content inflate failed", zap.String("id", id), zap.Error(err))
		}
		m.ColdContent = nil
	}

	primary, active := e.router.Classify(m.Content, m.Tags)
	m.PrimarySector = primary
	m.Sectors = active
	m.Fingerprinted = false
	m.PendingVector = false

	// If the provider is still down the rebuild falls back to synthetic
	// vectors again, so the re-embed mark must survive for the next attempt.
	points, usedFallback := e.buildPoints(ctx, m)
	m.PendingEmbed = usedFallback
	if err := e.vectors.BatchUpsert(ctx, points); err != nil {
		return err
	}
	if err := e.store.UpdateMemory(ctx, m); err != nil {
		return err
	}
	if err := e.store.ReplaceVectorRows(ctx, m, e.cfg.VecDim); err != nil {
		return err
	}
	e.store.AppendStat(ctx, "regeneration", 1)
	e.log.Info("memory regenerated", zap.String("id", id),
		zap.Int("sectors", len(m.Sectors)))
	return nil
}
