package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/blakecragen/cluster/internal/common"
	"github.com/blakecragen/cluster/internal/store"
	"github.com/blakecragen/cluster/internal/worker"
)

// Registry tracks worker liveness. A worker is "online" exactly while its
// record exists; eviction is deletion. One staleness threshold is applied
// uniformly by reads and by the background pruner.
type Registry struct {
	workers    store.WorkerStore
	staleAfter time.Duration
	now        func() time.Time
}

func New(workers store.WorkerStore, staleAfter time.Duration) *Registry {
	return &Registry{
		workers:    workers,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Register upserts the worker record and stamps a fresh heartbeat.
// Registering the same id again overwrites the prior record.
func (r *Registry) Register(ctx context.Context, d worker.Descriptor) (*worker.Worker, error) {
	w := &worker.Worker{
		ID:            d.ID,
		Hostname:      d.Hostname,
		Addr:          d.Addr,
		OS:            d.OS,
		Arch:          d.Arch,
		TaskRunner:    d.TaskRunner,
		LastHeartbeat: r.now().UTC(),
	}
	if err := r.workers.Upsert(ctx, w); err != nil {
		return nil, err
	}
	slog.Info("worker registered", "worker_id", w.ID, "hostname", w.Hostname, "task_runner", w.TaskRunner)
	return w, nil
}

// Heartbeat refreshes a worker's last-heartbeat timestamp. at may be zero,
// in which case the registry stamps its own current time. A heartbeat for an
// unknown id fails; it does not re-create the worker, even when it races an
// eviction. The store enforces that atomically, so there is no read first.
func (r *Registry) Heartbeat(ctx context.Context, id string, at time.Time) error {
	if at.IsZero() {
		at = r.now()
	}
	if err := r.workers.SetHeartbeat(ctx, id, at.UTC()); err != nil {
		if common.IsNotFound(err) {
			return fmt.Errorf("%s: %w", id, common.ErrNotRegistered)
		}
		return err
	}
	return nil
}

// ListActive returns every live worker, sorted by id. Records whose
// heartbeat is older than the staleness threshold (or unparseable, which
// decodes as the zero time) are deleted during the scan and excluded.
func (r *Registry) ListActive(ctx context.Context) ([]*worker.Worker, error) {
	all, err := r.workers.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := r.now().Add(-r.staleAfter)
	active := make([]*worker.Worker, 0, len(all))
	for _, w := range all {
		if w.LastHeartbeat.Before(cutoff) {
			if err := r.workers.Delete(ctx, w.ID); err != nil {
				slog.Warn("failed to evict stale worker", "worker_id", w.ID, "err", err)
				continue
			}
			slog.Info("evicted stale worker", "worker_id", w.ID, "last_heartbeat", w.LastHeartbeat)
			continue
		}
		active = append(active, w)
	}
	sort.Slice(active, func(i, k int) bool { return active[i].ID < active[k].ID })
	return active, nil
}

// Sweep evicts every stale record. Errors on individual records are logged
// and the sweep continues; deleting an already deleted record is fine.
func (r *Registry) Sweep(ctx context.Context) int {
	all, err := r.workers.ListAll(ctx)
	if err != nil {
		slog.Warn("prune scan failed", "err", err)
		return 0
	}

	cutoff := r.now().Add(-r.staleAfter)
	evicted := 0
	for _, w := range all {
		if !w.LastHeartbeat.Before(cutoff) {
			continue
		}
		if err := r.workers.Delete(ctx, w.ID); err != nil {
			slog.Warn("failed to evict stale worker", "worker_id", w.ID, "err", err)
			continue
		}
		slog.Info("evicted stale worker", "worker_id", w.ID, "last_heartbeat", w.LastHeartbeat)
		evicted++
	}
	return evicted
}

// Clear removes every worker record, used by purge.
func (r *Registry) Clear(ctx context.Context) (int, error) {
	return r.workers.Clear(ctx)
}
