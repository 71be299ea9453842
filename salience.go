package openmemory

import (
	"context"
	"time"

	"go.uber.org/zap"
)

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Reinforce boosts a memory's salience and resets its decay clock. The new
// salience is the decayed value plus boost, clamped to [0, 1], so repeated
// reinforcement converges instead of pinning everything at the ceiling.
// Returns the new salience. boost ≤ 0 uses the configured default.
func (e *Engine) Reinforce(ctx context.Context, id string, boost float64) (float64, error) {
	if err := e.checkOpen(); err != nil {
		return 0, err
	}
	if boost <= 0 {
		boost = e.cfg.ReinforceBoost
	}

	e.locks.Lock(id)
	defer e.locks.Unlock(id)

	m, err := e.store.GetMemory(ctx, id)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	decayed := SalienceNow(m.Salience, m.DecayLambda, m.LastSeenAt, now)
	m.Salience = clamp01(decayed + boost)
	m.DecayScore = m.Salience
	m.LastSeenAt = now.Unix()

	if err := e.store.UpdateMemory(ctx, m); err != nil {
		return 0, err
	}

	// A reinforced cold memory is worth re-expanding, and a touched
	// fallback-embedded memory is worth another re-embed attempt.
	if (m.Fingerprinted && m.Salience >= e.cfg.ColdThreshold) || m.PendingEmbed {
		e.queueRegeneration(id)
	}
	return m.Salience, nil
}

// reinforceMany applies the default boost to each id, detached from the
// query that surfaced them. Failures are logged and skipped.
func (e *Engine) reinforceMany(ids []string) {
	ctx, cancel := context.WithTimeout(e.ctx, 30*time.Second)
	defer cancel()
	for _, id := range ids {
		if _, err := e.Reinforce(ctx, id, 0); err != nil {
			e.log.Debug("query reinforcement skipped",
				zap.String("id", id), zap.Error(err))
		}
	}
}
