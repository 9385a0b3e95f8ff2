package slots

import (
	"context"
	"sync"
	"time"

	"github.com/snapguard-io/snapguard/internal/lsn"
)

// MemoryRegistry is an in-process Registry backed by a map. It is used by
// tests and by the monitor's dry-run tooling; the locking mirrors the real
// registry's shape (a coarse lock for membership, a per-slot lock for owner
// and restart position) so the reclaimer exercises the same discipline
// against it.
type MemoryRegistry struct {
	mu    sync.RWMutex
	slots map[string]*memorySlot

	dropMu       sync.Mutex
	dropAttempts map[string]int
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		slots:        make(map[string]*memorySlot),
		dropAttempts: make(map[string]int),
	}
}

type memorySlot struct {
	mu         sync.Mutex
	name       string
	inUse      bool
	isLogical  bool
	restartLSN lsn.LSN
	ownerPID   int
	releaseCh  chan struct{}
}

// Create adds a slot to the registry.
func (r *MemoryRegistry) Create(name string, isLogical bool, restartLSN lsn.LSN, ownerPID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[name] = &memorySlot{
		name:       name,
		inUse:      true,
		isLogical:  isLogical,
		restartLSN: restartLSN,
		ownerPID:   ownerPID,
		releaseCh:  make(chan struct{}),
	}
}

// SetOwner updates a slot's owner PID. Setting it to zero wakes any waiter
// blocked in WaitForRelease.
func (r *MemoryRegistry) SetOwner(name string, pid int) {
	r.mu.RLock()
	s := r.slots[name]
	r.mu.RUnlock()
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ownerPID = pid
	if pid == 0 {
		close(s.releaseCh)
		s.releaseCh = make(chan struct{})
	}
}

// Owner returns a slot's current owner PID, or zero if absent.
func (r *MemoryRegistry) Owner(name string) int {
	r.mu.RLock()
	s := r.slots[name]
	r.mu.RUnlock()
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownerPID
}

// Exists reports whether the named slot is present.
func (r *MemoryRegistry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.slots[name]
	return ok
}

// DropAttempts returns how many times Drop was called for the named slot.
func (r *MemoryRegistry) DropAttempts(name string) int {
	r.dropMu.Lock()
	defer r.dropMu.Unlock()
	return r.dropAttempts[name]
}

// ForEach visits a point-in-time snapshot of the slot population. The
// coarse lock is released before any visit so a blocking wait inside the
// callback never starves other registry users.
func (r *MemoryRegistry) ForEach(ctx context.Context, visit func(Slot) error) error {
	r.mu.RLock()
	snapshot := make([]*memorySlot, 0, len(r.slots))
	for _, s := range r.slots {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	for _, s := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := visit(&memorySlotHandle{slot: s, view: s.view()}); err != nil {
			return err
		}
	}
	return nil
}

// Drop removes the named slot. It fails with ErrSlotBusyOrMissing when the
// slot is gone or has been reacquired since the caller last looked.
func (r *MemoryRegistry) Drop(_ context.Context, name string, _ bool) error {
	r.dropMu.Lock()
	r.dropAttempts[name]++
	r.dropMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[name]
	if !ok {
		return ErrSlotBusyOrMissing
	}

	s.mu.Lock()
	owned := s.ownerPID != 0
	s.mu.Unlock()
	if owned {
		return ErrSlotBusyOrMissing
	}

	delete(r.slots, name)
	return nil
}

func (s *memorySlot) view() SlotView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SlotView{
		Name:       s.name,
		InUse:      s.inUse,
		IsLogical:  s.isLogical,
		RestartLSN: s.restartLSN,
	}
}

// memorySlotHandle is the Slot handed to the reclaimer: a captured view plus
// live access to the underlying slot record.
type memorySlotHandle struct {
	slot *memorySlot
	view SlotView
}

func (h *memorySlotHandle) View() SlotView {
	return h.view
}

func (h *memorySlotHandle) ActiveOwnerPID(_ context.Context) (int, error) {
	h.slot.mu.Lock()
	defer h.slot.mu.Unlock()
	return h.slot.ownerPID, nil
}

func (h *memorySlotHandle) WaitForRelease(ctx context.Context, timeout time.Duration) error {
	h.slot.mu.Lock()
	ch := h.slot.releaseCh
	h.slot.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *memorySlotHandle) CancelPendingWait() {}
