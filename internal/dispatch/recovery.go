package dispatch

import (
	"context"
	"log/slog"

	"github.com/blakecragen/cluster/internal/job"
)

// Recover reconciles persisted job records against queue membership. Every
// record still in status queued but missing from its priority sequence is
// re-enqueued. Run once, synchronously, before the engine accepts traffic.
//
// Idempotent: a second run enqueues nothing. Jobs in status claimed are
// deliberately left alone; there is no lease expiry, so a job claimed by a
// worker that died stays claimed until deleted.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	all, err := e.jobs.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	members := make(map[job.Priority]map[string]bool, len(job.Priorities))
	for _, p := range job.Priorities {
		ids, err := e.queues.Members(ctx, p)
		if err != nil {
			return 0, err
		}
		set := make(map[string]bool, len(ids))
		for _, id := range ids {
			set[id.String()] = true
		}
		members[p] = set
	}

	restored := 0
	for _, j := range all {
		if j.Status != job.StatusQueued {
			continue
		}
		if members[j.Priority][j.ID.String()] {
			continue
		}
		if err := e.queues.Enqueue(ctx, j.Priority, j.ID); err != nil {
			return restored, err
		}
		restored++
	}

	if restored > 0 {
		slog.Info("restored queued jobs on startup", "count", restored)
	}
	return restored, nil
}
