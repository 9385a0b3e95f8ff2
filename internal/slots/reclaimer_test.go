package slots

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapguard-io/snapguard/internal/lsn"
)

// fakeSignaler records termination requests and can run a hook per signal.
type fakeSignaler struct {
	mu     sync.Mutex
	pids   []int
	onKill func(pid int)
}

func (f *fakeSignaler) Terminate(_ context.Context, pid int) error {
	f.mu.Lock()
	f.pids = append(f.pids, pid)
	hook := f.onKill
	f.mu.Unlock()
	if hook != nil {
		hook(pid)
	}
	return nil
}

func (f *fakeSignaler) signals() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pids)
}

func TestReclaimNoCutoff(t *testing.T) {
	reg := NewMemoryRegistry()
	reg.Create("lagging", true, lsn.LSN(1), 0)

	rec := NewReclaimer(reg, &fakeSignaler{}, ReclaimerConfig{})
	stats, err := rec.Reclaim(context.Background(), lsn.Zero)
	require.NoError(t, err)
	assert.Zero(t, stats.Targeted)
	assert.Equal(t, 0, reg.DropAttempts("lagging"))
}

func TestReclaimSkipsCompliantSlots(t *testing.T) {
	reg := NewMemoryRegistry()
	reg.Create("at-cutoff", true, lsn.LSN(100), 0)
	reg.Create("ahead", true, lsn.LSN(500), 0)

	rec := NewReclaimer(reg, &fakeSignaler{}, ReclaimerConfig{})
	stats, err := rec.Reclaim(context.Background(), lsn.LSN(100))
	require.NoError(t, err)

	assert.Zero(t, stats.Targeted)
	assert.Equal(t, 0, reg.DropAttempts("at-cutoff"))
	assert.Equal(t, 0, reg.DropAttempts("ahead"))
	assert.True(t, reg.Exists("at-cutoff"))
	assert.True(t, reg.Exists("ahead"))
}

func TestReclaimSkipsPhysicalSlots(t *testing.T) {
	reg := NewMemoryRegistry()
	reg.Create("physical", false, lsn.LSN(1), 0)

	rec := NewReclaimer(reg, &fakeSignaler{}, ReclaimerConfig{})
	stats, err := rec.Reclaim(context.Background(), lsn.LSN(100))
	require.NoError(t, err)

	assert.Zero(t, stats.Targeted)
	assert.True(t, reg.Exists("physical"))
}

func TestReclaimDropsUnownedSlotExactlyOnce(t *testing.T) {
	reg := NewMemoryRegistry()
	reg.Create("lagging", true, lsn.LSN(1), 0)
	sig := &fakeSignaler{}

	rec := NewReclaimer(reg, sig, ReclaimerConfig{})
	stats, err := rec.Reclaim(context.Background(), lsn.LSN(100))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Targeted)
	assert.Equal(t, 1, stats.Dropped)
	assert.Equal(t, 1, reg.DropAttempts("lagging"))
	assert.False(t, reg.Exists("lagging"))
	assert.Zero(t, sig.signals())
}

func TestReclaimEvictsOwnerThenDrops(t *testing.T) {
	reg := NewMemoryRegistry()
	reg.Create("held", true, lsn.LSN(1), 1234)

	// The owner terminates promptly in response to the first signal.
	sig := &fakeSignaler{}
	sig.onKill = func(pid int) {
		go reg.SetOwner("held", 0)
	}

	rec := NewReclaimer(reg, sig, ReclaimerConfig{EvictWait: 200 * time.Millisecond})
	stats, err := rec.Reclaim(context.Background(), lsn.LSN(100))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Dropped)
	assert.GreaterOrEqual(t, stats.Terminations, 1)
	assert.LessOrEqual(t, stats.Terminations, 2)
	assert.False(t, reg.Exists("held"))
	require.GreaterOrEqual(t, sig.signals(), 1)
	assert.Equal(t, 1234, sig.pids[0])
}

func TestReclaimStubbornOwnerIsResignaledAndCancelable(t *testing.T) {
	reg := NewMemoryRegistry()
	reg.Create("stubborn", true, lsn.LSN(1), 4321)
	sig := &fakeSignaler{}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	rec := NewReclaimer(reg, sig, ReclaimerConfig{EvictWait: 20 * time.Millisecond})

	done := make(chan struct{})
	var stats ReclaimStats
	var err error
	go func() {
		stats, err = rec.Reclaim(ctx, lsn.LSN(100))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reclaim did not return after context cancellation")
	}

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	// The signal is re-issued once per wait interval.
	assert.GreaterOrEqual(t, stats.Terminations, 2)
	assert.True(t, reg.Exists("stubborn"))
	assert.Equal(t, 0, reg.DropAttempts("stubborn"))
}

// reacquiringRegistry simulates an owner grabbing the slot back in the
// window between the owner check and the drop attempt.
type reacquiringRegistry struct {
	*MemoryRegistry
	reacquirePID int
}

func (r *reacquiringRegistry) Drop(ctx context.Context, name string, waitForRelease bool) error {
	r.SetOwner(name, r.reacquirePID)
	return r.MemoryRegistry.Drop(ctx, name, waitForRelease)
}

func TestReclaimDropConflictIsTerminal(t *testing.T) {
	reg := &reacquiringRegistry{MemoryRegistry: NewMemoryRegistry(), reacquirePID: 777}
	reg.Create("contested", true, lsn.LSN(1), 0)

	rec := NewReclaimer(reg, &fakeSignaler{}, ReclaimerConfig{})
	stats, err := rec.Reclaim(context.Background(), lsn.LSN(100))
	require.NoError(t, err)

	// One drop attempt, no retry within the cycle; the slot survives for
	// the next cycle's fresh evaluation.
	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.Dropped)
	assert.Equal(t, 1, reg.DropAttempts("contested"))
	assert.True(t, reg.Exists("contested"))
}

func TestReclaimDropMissingSlotIsTerminal(t *testing.T) {
	reg := NewMemoryRegistry()
	reg.Create("vanishing", true, lsn.LSN(1), 0)

	rec := NewReclaimer(&droppedElsewhereRegistry{reg}, &fakeSignaler{}, ReclaimerConfig{})
	stats, err := rec.Reclaim(context.Background(), lsn.LSN(100))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.Dropped)
}

// droppedElsewhereRegistry simulates another actor dropping the slot first.
type droppedElsewhereRegistry struct {
	*MemoryRegistry
}

func (r *droppedElsewhereRegistry) Drop(ctx context.Context, name string, waitForRelease bool) error {
	_ = r.MemoryRegistry.Drop(ctx, name, waitForRelease)
	return ErrSlotBusyOrMissing
}

func TestReclaimDryRun(t *testing.T) {
	reg := NewMemoryRegistry()
	reg.Create("lagging", true, lsn.LSN(1), 0)

	rec := NewReclaimer(reg, &fakeSignaler{}, ReclaimerConfig{DryRun: true})
	stats, err := rec.Reclaim(context.Background(), lsn.LSN(100))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Targeted)
	assert.Zero(t, stats.Dropped)
	assert.Equal(t, 0, reg.DropAttempts("lagging"))
	assert.True(t, reg.Exists("lagging"))
}

func TestReclaimProcessesAllTargets(t *testing.T) {
	reg := NewMemoryRegistry()
	reg.Create("a", true, lsn.LSN(1), 0)
	reg.Create("b", true, lsn.LSN(2), 0)
	reg.Create("c", true, lsn.LSN(50), 0)

	rec := NewReclaimer(reg, &fakeSignaler{}, ReclaimerConfig{})
	stats, err := rec.Reclaim(context.Background(), lsn.LSN(10))
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Targeted)
	assert.Equal(t, 2, stats.Dropped)
	assert.False(t, reg.Exists("a"))
	assert.False(t, reg.Exists("b"))
	assert.True(t, reg.Exists("c"))
}

func TestMemoryRegistryDropUnknownSlot(t *testing.T) {
	reg := NewMemoryRegistry()
	err := reg.Drop(context.Background(), "ghost", true)
	assert.True(t, errors.Is(err, ErrSlotBusyOrMissing))
}
