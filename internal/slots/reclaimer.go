package slots

import (
	"context"
	"fmt"
	"time"

	"github.com/snapguard-io/snapguard/internal/logging"
	"github.com/snapguard-io/snapguard/internal/lsn"
)

// DefaultEvictWait bounds a single wait for an owner to release its slot.
const DefaultEvictWait = time.Second

// ReclaimerConfig configures the slot reclaimer.
type ReclaimerConfig struct {
	// EvictWait bounds each wait for an owner to release a slot after
	// being signaled. Default: DefaultEvictWait.
	EvictWait time.Duration

	// DryRun logs the slots that would be dropped without dropping them.
	DryRun bool
}

// ReclaimStats summarizes one reclaim pass.
type ReclaimStats struct {
	// Targeted counts slots whose restart LSN was below the cutoff.
	Targeted int
	// Dropped counts successful drops.
	Dropped int
	// Failed counts drops that hit ErrSlotBusyOrMissing or another error.
	Failed int
	// Terminations counts owner termination signals sent.
	Terminations int
}

// Reclaimer drops logical slots whose restart LSN lags behind a cutoff,
// evicting the current owner first when the slot is actively held.
type Reclaimer struct {
	registry Registry
	signaler ProcessSignaler
	config   ReclaimerConfig
}

// NewReclaimer creates a Reclaimer over the given registry.
func NewReclaimer(registry Registry, signaler ProcessSignaler, config ReclaimerConfig) *Reclaimer {
	if config.EvictWait <= 0 {
		config.EvictWait = DefaultEvictWait
	}
	return &Reclaimer{
		registry: registry,
		signaler: signaler,
		config:   config,
	}
}

// Reclaim drops every in-use logical slot whose restart LSN is strictly
// below cutoff. Each targeted slot is processed exactly once per call; a
// drop that fails because the slot was reacquired or already removed is
// logged and abandoned until the next cycle. Reclaim returns early with
// ctx.Err() when canceled, so shutdown latency is bounded by one eviction
// wait rather than the slot population.
func (r *Reclaimer) Reclaim(ctx context.Context, cutoff lsn.LSN) (ReclaimStats, error) {
	var stats ReclaimStats
	if cutoff == lsn.Zero {
		return stats, nil
	}

	err := r.registry.ForEach(ctx, func(s Slot) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		view := s.View()
		if !view.InUse || !view.IsLogical {
			return nil
		}
		if view.RestartLSN >= cutoff {
			return nil
		}

		stats.Targeted++
		log := logging.FromCtx(ctx).With(map[string]any{
			"slot":       view.Name,
			"restartLsn": view.RestartLSN.String(),
			"cutoffLsn":  cutoff.String(),
		})

		if r.config.DryRun {
			log.Info("dry run: slot below cutoff, would drop")
			return nil
		}

		log.Info("dropping slot with restart lsn below cutoff")
		return r.reclaimSlot(ctx, s, view.Name, log, &stats)
	})
	if err != nil {
		return stats, fmt.Errorf("reclaim slots: %w", err)
	}
	return stats, nil
}

// reclaimSlot drives one slot to a terminal state: check the owner, evict it
// if present, drop once the slot is unowned. The owner can reacquire the
// slot between the signal and the drop attempt, so ownership is re-read
// fresh on every pass and the wait is bounded to guarantee the signal is
// re-issued against an unresponsive owner.
func (r *Reclaimer) reclaimSlot(ctx context.Context, s Slot, name string, log *logging.Logger, stats *ReclaimStats) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pid, err := s.ActiveOwnerPID(ctx)
		if err != nil {
			stats.Failed++
			log.Warnf("failed to read slot owner, leaving slot for next cycle", map[string]any{
				"error": err.Error(),
			})
			return nil
		}

		if pid == 0 {
			s.CancelPendingWait()
			if err := r.registry.Drop(ctx, name, true); err != nil {
				stats.Failed++
				log.Warnf("failed to drop slot", map[string]any{
					"error": err.Error(),
				})
				return nil
			}
			stats.Dropped++
			log.Info("slot dropped")
			return nil
		}

		stats.Terminations++
		log.Infof("terminating slot owner", map[string]any{
			"ownerPid": pid,
		})
		if err := r.signaler.Terminate(ctx, pid); err != nil {
			// Best-effort; the bounded wait below absorbs a miss.
			log.Debugf("terminate signal failed", map[string]any{
				"ownerPid": pid,
				"error":    err.Error(),
			})
		}

		if err := s.WaitForRelease(ctx, r.config.EvictWait); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}
