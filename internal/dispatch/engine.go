package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/blakecragen/cluster/internal/common"
	"github.com/blakecragen/cluster/internal/job"
	"github.com/blakecragen/cluster/internal/storage"
	"github.com/blakecragen/cluster/internal/store"
	"github.com/google/uuid"
)

// Engine is the job dispatch and lifecycle core. It owns the job records,
// the priority queue set, and the blob references; job execution itself
// happens in worker processes outside this package.
type Engine struct {
	jobs   store.JobStore
	queues store.QueueSet
	blobs  storage.BlobStore
	now    func() time.Time
}

func NewEngine(jobs store.JobStore, queues store.QueueSet, blobs storage.BlobStore) *Engine {
	return &Engine{
		jobs:   jobs,
		queues: queues,
		blobs:  blobs,
		now:    time.Now,
	}
}

// Submit stores the input payload, creates the job record, and enqueues the
// id at its priority level. Storage failures here are hard failures; a job
// must not exist half-created.
func (e *Engine) Submit(ctx context.Context, filename string, data []byte, priority job.Priority, contentType string) (*job.Job, error) {
	if !priority.Valid() {
		return nil, common.ValidationError{Field: "priority", Message: "must be 0, 1, or 2"}
	}
	if len(data) == 0 {
		return nil, common.ValidationError{Field: "file", Message: "no file provided"}
	}

	id := uuid.New()
	inputRef := id.String() + "/" + sanitizeFilename(filename)
	if err := e.blobs.Put(ctx, storage.BucketInputs, inputRef, data, contentType); err != nil {
		return nil, common.WrapStorage("store input", err)
	}

	j := &job.Job{
		ID:       id,
		Priority: priority,
		Status:   job.StatusQueued,
		InputRef: inputRef,
		QueuedAt: e.now().UTC(),
	}
	if err := e.jobs.Create(ctx, j); err != nil {
		return nil, err
	}
	if err := e.queues.Enqueue(ctx, priority, id); err != nil {
		return nil, err
	}

	slog.Info("job submitted", "job_id", id, "priority", priority, "input_ref", inputRef)
	return j, nil
}

// Claim atomically pops the highest-priority pending id and assigns it to
// workerAddr. Returns (nil, nil) when every queue is empty; that is a normal
// outcome, not an error. A popped id whose record has vanished is skipped
// and the next candidate is tried.
func (e *Engine) Claim(ctx context.Context, workerAddr string) (*job.Job, error) {
	for {
		id, _, ok, err := e.queues.DequeueHighest(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}

		j, err := e.jobs.Get(ctx, id)
		if common.IsNotFound(err) {
			// Deleted while still queued; its list entry is stale.
			slog.Warn("popped id with no job record, skipping", "job_id", id)
			continue
		}
		if err != nil {
			return nil, err
		}

		now := e.now().UTC()
		status := job.StatusClaimed
		updated, err := e.jobs.UpdateFields(ctx, j.ID, store.JobUpdate{
			Status:    &status,
			ClaimedAt: &now,
			ClaimedBy: &workerAddr,
		})
		if common.IsNotFound(err) {
			// Deleted between the read and the claim write; try the next.
			slog.Warn("job record vanished before claim, skipping", "job_id", j.ID)
			continue
		}
		if err != nil {
			return nil, err
		}

		slog.Info("job claimed", "job_id", j.ID, "priority", j.Priority, "claimed_by", workerAddr)
		return updated, nil
	}
}

// ReportResult stores the result payload and completes the job. By
// convention the job should be in status claimed; this is not enforced as a
// hard precondition.
func (e *Engine) ReportResult(ctx context.Context, id uuid.UUID, filename string, data []byte, contentType string) (*job.Job, error) {
	if len(data) == 0 {
		return nil, common.ValidationError{Field: "file", Message: "no file provided"}
	}

	j, err := e.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".bin"
	}
	resultRef := id.String() + "/result" + ext
	if err := e.blobs.Put(ctx, storage.BucketResults, resultRef, data, contentType); err != nil {
		return nil, common.WrapStorage("store result", err)
	}

	now := e.now().UTC()
	status := job.StatusCompleted
	collected := false
	upd := store.JobUpdate{
		Status:      &status,
		ResultRef:   &resultRef,
		CompletedAt: &now,
		Collected:   &collected,
	}
	if j.ClaimedAt != nil {
		elapsed := now.Sub(*j.ClaimedAt).Seconds()
		if elapsed < 0 {
			elapsed = 0
		}
		upd.ElapsedSeconds = &elapsed
	}

	updated, err := e.jobs.UpdateFields(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	slog.Info("job completed", "job_id", id, "result_ref", resultRef, "elapsed_seconds", updated.ElapsedSeconds)
	return updated, nil
}

// DownloadResult returns the result payload and marks the job collected, as
// a side effect the submitter relies on.
func (e *Engine) DownloadResult(ctx context.Context, id uuid.UUID) ([]byte, string, error) {
	j, err := e.jobs.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if j.ResultRef == "" {
		return nil, "", fmt.Errorf("result for job %s: %w", id, common.ErrNotFound)
	}

	data, err := e.blobs.Get(ctx, storage.BucketResults, j.ResultRef)
	if err != nil {
		return nil, "", err
	}

	collected := true
	if _, err := e.jobs.UpdateFields(ctx, id, store.JobUpdate{Collected: &collected}); err != nil {
		return nil, "", err
	}
	return data, j.ResultRef, nil
}

// MarkCollected flags a completed job's result as retrieved. Calling it
// again on an already collected job is a no-op success.
func (e *Engine) MarkCollected(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	j, err := e.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Status != job.StatusCompleted {
		return nil, fmt.Errorf("job %s is %s, not completed: %w", id, j.Status, common.ErrInvalidState)
	}
	if j.Collected {
		return j, nil
	}
	collected := true
	return e.jobs.UpdateFields(ctx, id, store.JobUpdate{Collected: &collected})
}

// DeleteJob removes the job from whichever queue it may still occupy,
// deletes the record, and best-effort deletes the associated blobs. Blob
// delete failures are logged, not propagated.
func (e *Engine) DeleteJob(ctx context.Context, id uuid.UUID) error {
	j, err := e.jobs.Get(ctx, id)
	if err != nil {
		return err
	}

	for _, p := range job.Priorities {
		if err := e.queues.Remove(ctx, p, id); err != nil {
			return err
		}
	}
	if err := e.jobs.Delete(ctx, id); err != nil {
		return err
	}

	if j.InputRef != "" {
		if err := e.blobs.Delete(ctx, storage.BucketInputs, j.InputRef); err != nil {
			slog.Warn("failed to delete input blob", "job_id", id, "key", j.InputRef, "err", err)
		}
	}
	if j.ResultRef != "" {
		if err := e.blobs.Delete(ctx, storage.BucketResults, j.ResultRef); err != nil {
			slog.Warn("failed to delete result blob", "job_id", id, "key", j.ResultRef, "err", err)
		}
	}

	slog.Info("job deleted", "job_id", id)
	return nil
}

// ListQueue returns the queued job records grouped by priority, in queue
// order.
func (e *Engine) ListQueue(ctx context.Context) (map[job.Priority][]*job.Job, error) {
	out := make(map[job.Priority][]*job.Job, len(job.Priorities))
	for _, p := range job.Priorities {
		ids, err := e.queues.Members(ctx, p)
		if err != nil {
			return nil, err
		}
		jobs := make([]*job.Job, 0, len(ids))
		for _, id := range ids {
			j, err := e.jobs.Get(ctx, id)
			if common.IsNotFound(err) {
				continue
			}
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, j)
		}
		out[p] = jobs
	}
	return out, nil
}

// ListClaimedOrCompleted returns every claimed or completed job, ordered by
// priority then queue time.
func (e *Engine) ListClaimedOrCompleted(ctx context.Context) ([]*job.Job, error) {
	all, err := e.jobs.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*job.Job, 0, len(all))
	for _, j := range all {
		if j.Status == job.StatusClaimed || j.Status == job.StatusCompleted {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Priority != out[k].Priority {
			return out[i].Priority < out[k].Priority
		}
		return out[i].QueuedAt.Before(out[k].QueuedAt)
	})
	return out, nil
}

// PurgeAll deletes every job record, empties the queues, and removes every
// object from both buckets. Returns job and blob counts. Blob errors are
// logged and the purge continues.
func (e *Engine) PurgeAll(ctx context.Context) (jobsDeleted, blobsDeleted int, err error) {
	all, err := e.jobs.ListAll(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, j := range all {
		if err := e.jobs.Delete(ctx, j.ID); err != nil {
			return jobsDeleted, blobsDeleted, err
		}
		jobsDeleted++
	}
	if err := e.queues.Clear(ctx); err != nil {
		return jobsDeleted, blobsDeleted, err
	}

	for _, bucket := range storage.Buckets {
		keys, err := e.blobs.List(ctx, bucket)
		if err != nil {
			slog.Warn("failed to list bucket during purge", "bucket", bucket, "err", err)
			continue
		}
		for _, key := range keys {
			if err := e.blobs.Delete(ctx, bucket, key); err != nil {
				slog.Warn("failed to delete blob during purge", "bucket", bucket, "key", key, "err", err)
				continue
			}
			blobsDeleted++
		}
	}

	slog.Info("purge complete", "jobs_deleted", jobsDeleted, "blobs_deleted", blobsDeleted)
	return jobsDeleted, blobsDeleted, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	if base == "." || base == "/" || base == "" {
		return "input.bin"
	}
	return base
}
