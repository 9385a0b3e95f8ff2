// Package pg implements the slot registry collaborator against a live
// PostgreSQL server over SQL. The registry's coarse and per-slot locking is
// the server's own; this adapter only issues reads of pg_replication_slots
// plus the drop and terminate calls.
package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snapguard-io/snapguard/internal/lsn"
	"github.com/snapguard-io/snapguard/internal/slots"
)

// Postgres error codes returned by pg_drop_replication_slot.
const (
	codeUndefinedObject = "42704"
	codeObjectInUse     = "55006"
)

// ownerPollInterval is the granularity at which WaitForRelease re-reads
// active_pid. The server has no push notification for slot release over SQL.
const ownerPollInterval = 100 * time.Millisecond

// Registry is a slots.Registry backed by a PostgreSQL connection pool. It
// also implements slots.ProcessSignaler via pg_terminate_backend, so owner
// eviction works without host-level signal access.
type Registry struct {
	pool *pgxpool.Pool
}

// New connects to the server at dsn and verifies the connection.
func New(ctx context.Context, dsn string) (*Registry, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Registry{pool: pool}, nil
}

// Close releases the connection pool.
func (r *Registry) Close() {
	r.pool.Close()
}

// ForEach visits every replication slot. The full row set is read before
// any visit so the reclaimer's per-slot waits never hold a server cursor
// open.
func (r *Registry) ForEach(ctx context.Context, visit func(slots.Slot) error) error {
	rows, err := r.pool.Query(ctx, `
		SELECT slot_name,
		       slot_type,
		       coalesce(active_pid, 0),
		       coalesce(restart_lsn::text, '0/0')
		FROM pg_replication_slots`)
	if err != nil {
		return fmt.Errorf("list replication slots: %w", err)
	}

	var views []slots.SlotView
	for rows.Next() {
		var (
			name       string
			slotType   string
			activePID  int
			restartLSN string
		)
		if err := rows.Scan(&name, &slotType, &activePID, &restartLSN); err != nil {
			rows.Close()
			return fmt.Errorf("scan replication slot row: %w", err)
		}
		view, err := slotView(name, slotType, restartLSN)
		if err != nil {
			rows.Close()
			return err
		}
		views = append(views, view)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list replication slots: %w", err)
	}

	for _, view := range views {
		if err := visit(&pgSlot{registry: r, view: view}); err != nil {
			return err
		}
	}
	return nil
}

// Drop removes the named slot via pg_drop_replication_slot. A slot that is
// active or already gone maps to slots.ErrSlotBusyOrMissing. The server-side
// drop does not take a wait flag over SQL; waitForRelease is accepted for
// interface compatibility.
func (r *Registry) Drop(ctx context.Context, name string, _ bool) error {
	_, err := r.pool.Exec(ctx, `SELECT pg_drop_replication_slot($1)`, name)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUndefinedObject, codeObjectInUse:
			return fmt.Errorf("%w: %s", slots.ErrSlotBusyOrMissing, pgErr.Message)
		}
	}
	return fmt.Errorf("drop slot %s: %w", name, err)
}

// Terminate asks the server to terminate the backend streaming from a slot.
func (r *Registry) Terminate(ctx context.Context, pid int) error {
	_, err := r.pool.Exec(ctx, `SELECT pg_terminate_backend($1)`, pid)
	if err != nil {
		return fmt.Errorf("terminate backend %d: %w", pid, err)
	}
	return nil
}

// slotView builds a SlotView from a pg_replication_slots row. Every row in
// the view corresponds to an allocated slot, so InUse is always true here.
func slotView(name, slotType, restartLSN string) (slots.SlotView, error) {
	restart, err := lsn.Parse(restartLSN)
	if err != nil {
		return slots.SlotView{}, fmt.Errorf("slot %s: %w", name, err)
	}
	return slots.SlotView{
		Name:       name,
		InUse:      true,
		IsLogical:  slotType == "logical",
		RestartLSN: restart,
	}, nil
}

// pgSlot exposes one slot row to the reclaimer with live owner re-reads.
type pgSlot struct {
	registry *Registry
	view     slots.SlotView
}

func (s *pgSlot) View() slots.SlotView {
	return s.view
}

// ActiveOwnerPID re-reads the slot's active backend PID. A slot that has
// disappeared reads as unowned; the subsequent drop attempt reports the
// conflict.
func (s *pgSlot) ActiveOwnerPID(ctx context.Context) (int, error) {
	var pid int
	err := s.registry.pool.QueryRow(ctx,
		`SELECT coalesce(active_pid, 0) FROM pg_replication_slots WHERE slot_name = $1`,
		s.view.Name).Scan(&pid)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read owner of slot %s: %w", s.view.Name, err)
	}
	return pid, nil
}

// WaitForRelease polls the slot's owner until it reads zero, the timeout
// elapses, or ctx is canceled. Timeout is not an error.
func (s *pgSlot) WaitForRelease(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(ownerPollInterval)
	defer ticker.Stop()

	for {
		pid, err := s.ActiveOwnerPID(ctx)
		if err == nil && pid == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CancelPendingWait is a no-op: the poll-based wait holds no registration.
func (s *pgSlot) CancelPendingWait() {}
