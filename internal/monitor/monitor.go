// Package monitor implements the retention-enforcement monitor loop: scan
// the snapshot directory, compute the quota cutoff, reclaim lagging slots,
// sleep until the next cycle or an external wake-up.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snapguard-io/snapguard/internal/config"
	"github.com/snapguard-io/snapguard/internal/logging"
	"github.com/snapguard-io/snapguard/internal/lsn"
	"github.com/snapguard-io/snapguard/internal/metrics"
	"github.com/snapguard-io/snapguard/internal/slots"
	"github.com/snapguard-io/snapguard/internal/snapshots"
)

// Options wires the monitor's collaborators.
type Options struct {
	// Config supplies the quotas and intervals, re-read at the top of
	// each cycle when a reload is pending.
	Config *config.Manager

	// Registry is the replication slot registry.
	Registry slots.Registry

	// Signaler delivers termination signals to slot owners.
	Signaler slots.ProcessSignaler

	// Metrics is optional; nil disables recording.
	Metrics *metrics.MonitorMetrics

	// Logger defaults to the global logger.
	Logger *logging.Logger
}

// Monitor runs the periodic retention check as a single background task.
// It is the only actor evaluating quotas, but it contends with independent
// actors creating snapshots, creating and dropping slots, and owning slots.
type Monitor struct {
	cfg      *config.Manager
	registry slots.Registry
	signaler slots.ProcessSignaler
	metrics  *metrics.MonitorMetrics
	logger   *logging.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	wakeCh  chan struct{}
	cancel  context.CancelFunc
}

// New creates a Monitor from the given options.
func New(opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Global()
	}
	return &Monitor{
		cfg:      opts.Config,
		registry: opts.Registry,
		signaler: opts.Signaler,
		metrics:  opts.Metrics,
		logger:   logger,
		wakeCh:   make(chan struct{}, 1),
	}
}

// Start begins the monitor background loop.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	go m.run(ctx)
}

// Stop requests termination and waits for the loop to exit. Cancellation
// propagates into an in-flight eviction wait, so shutdown latency is bounded
// by a single slot's wait, not the slot population.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	close(m.stopCh)
	m.cancel()
	m.mu.Unlock()

	<-m.doneCh

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

// Wake interrupts the current sleep so the next cycle starts immediately.
// Used after marking a config reload pending. Wakes coalesce.
func (m *Monitor) Wake() {
	select {
	case m.wakeCh <- struct{}{}:
	default:
	}
}

// Done returns a channel closed when the loop exits. A close without a Stop
// call means the loop crashed; the supervisor restarts it.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doneCh
}

// run is the main monitor loop.
func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)
	defer func() {
		if r := recover(); r != nil {
			// The monitor itself is unhealthy; surface loudly and let
			// the supervisor restart it.
			m.logger.Errorf("monitor crashed", map[string]any{
				"panic": fmt.Sprint(r),
			})
		}
	}()

	for {
		cfg, reloaded, err := m.cfg.ReloadIfPending()
		if err != nil {
			m.logger.Errorf("config reload failed, keeping previous config", map[string]any{
				"error": err.Error(),
			})
		}
		if reloaded {
			m.logger.Infof("configuration reloaded", map[string]any{
				"maxSnapFiles": cfg.Snapshots.MaxSnapFiles,
				"maxDirSizeKB": cfg.Snapshots.MaxDirSizeKB,
			})
		}

		cycleLog := m.logger.With(map[string]any{"cycleId": uuid.NewString()})
		if m.metrics != nil {
			// Counted up front: cycles_total is attempts, so it never
			// reads below cycle_errors_total.
			m.metrics.Cycles.Inc()
		}
		if err := m.Cycle(logging.WithLoggerCtx(ctx, cycleLog), cfg); err != nil {
			if m.metrics != nil {
				m.metrics.CycleErrors.Inc()
			}
			cycleLog.Errorf("monitor cycle failed", map[string]any{
				"error": err.Error(),
			})
		}

		timer := time.NewTimer(time.Duration(cfg.Monitor.CheckIntervalMs) * time.Millisecond)
		select {
		case <-m.stopCh:
			timer.Stop()
			return
		case <-m.wakeCh:
			timer.Stop()
		case <-timer.C:
		}

		select {
		case <-m.stopCh:
			return
		default:
		}
	}
}

// Cycle runs one scan + cutoff + reclaim pass. Exported for one-shot check
// mode and tests; the background loop calls it once per wake-up. A scan
// failure aborts the cycle without touching any slot.
func (m *Monitor) Cycle(ctx context.Context, cfg *config.Config) error {
	log := logging.FromCtx(ctx)

	descs, err := snapshots.Scan(ctx, cfg.Snapshots.Dir)
	if err != nil {
		return err
	}
	totalBytes := snapshots.TotalSize(descs)
	if m.metrics != nil {
		m.metrics.RecordScan(len(descs), totalBytes)
	}
	log.Debugf("scanned snapshot directory", map[string]any{
		"dir":        cfg.Snapshots.Dir,
		"files":      len(descs),
		"totalBytes": totalBytes,
	})

	cutoff := snapshots.Cutoff(ctx, descs, snapshots.Quota{
		MaxFiles:     cfg.Snapshots.MaxSnapFiles,
		MaxDirSizeKB: cfg.Snapshots.MaxDirSizeKB,
	})
	if m.metrics != nil {
		m.metrics.RecordCutoff(uint64(cutoff))
	}
	if cutoff == lsn.Zero {
		return nil
	}

	reclaimer := slots.NewReclaimer(m.registry, m.signaler, slots.ReclaimerConfig{
		EvictWait: time.Duration(cfg.Monitor.EvictWaitMs) * time.Millisecond,
		DryRun:    cfg.Monitor.DryRun,
	})
	stats, err := reclaimer.Reclaim(ctx, cutoff)
	if m.metrics != nil {
		m.metrics.RecordReclaim(stats.Dropped, stats.Failed, stats.Terminations)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	if stats.Targeted > 0 {
		log.Infof("reclaim pass complete", map[string]any{
			"cutoffLsn":    cutoff.String(),
			"targeted":     stats.Targeted,
			"dropped":      stats.Dropped,
			"failed":       stats.Failed,
			"terminations": stats.Terminations,
		})
	}
	return nil
}
