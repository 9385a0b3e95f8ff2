// Package slots defines the replication slot registry collaborator and the
// reclaimer that drives quota-violating slots through revoke-or-evict.
package slots

import (
	"context"
	"errors"
	"time"

	"github.com/snapguard-io/snapguard/internal/lsn"
)

// ErrSlotBusyOrMissing reports that a drop failed because the slot was
// reacquired by an owner or already removed by another actor. The reclaimer
// treats this as terminal for the cycle: the next cycle re-derives slot
// state from scratch instead of retrying against a moving target.
var ErrSlotBusyOrMissing = errors.New("slot busy or missing")

// SlotView is the point-in-time snapshot of a slot taken under the
// registry's shared lock during ForEach.
type SlotView struct {
	Name       string
	InUse      bool
	IsLogical  bool
	RestartLSN lsn.LSN
}

// Slot exposes one replication slot to the reclaimer. View returns the state
// captured at enumeration time; ActiveOwnerPID re-reads the owner fresh on
// every call, which the eviction loop relies on.
type Slot interface {
	// View returns the slot state captured when the slot was enumerated.
	View() SlotView

	// ActiveOwnerPID returns the PID of the process currently streaming
	// from the slot, or 0 if the slot is unowned. Always a fresh read.
	ActiveOwnerPID(ctx context.Context) (int, error)

	// WaitForRelease blocks until the slot's owner releases it, the
	// timeout elapses, or ctx is canceled. A timeout is not an error;
	// callers re-check ownership either way.
	WaitForRelease(ctx context.Context, timeout time.Duration) error

	// CancelPendingWait releases any wait registration made by
	// WaitForRelease. Called before a drop attempt.
	CancelPendingWait()
}

// Registry is the replication slot registry collaborator. The monitor only
// reads slot state and issues drops; it never creates slots.
type Registry interface {
	// ForEach visits every slot. The visit callback must not block on
	// registry-internal locks; each Slot re-acquires what it needs.
	// Returning an error from visit stops the iteration.
	ForEach(ctx context.Context, visit func(Slot) error) error

	// Drop removes the named slot. waitForRelease asks the registry to
	// wait for an active owner instead of failing immediately; a drop of
	// a reacquired or already-removed slot fails with
	// ErrSlotBusyOrMissing.
	Drop(ctx context.Context, name string, waitForRelease bool) error
}

// ProcessSignaler delivers termination signals to slot owner processes.
// Delivery is best-effort: the caller cannot assume the owner received the
// signal or will act on it promptly.
type ProcessSignaler interface {
	Terminate(ctx context.Context, pid int) error
}
