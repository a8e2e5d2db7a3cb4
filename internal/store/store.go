package store

import (
	"context"
	"time"

	"github.com/blakecragen/cluster/internal/job"
	"github.com/blakecragen/cluster/internal/worker"
	"github.com/google/uuid"
)

// JobStore is the source of truth for job records. Every mutating call is
// durable before it returns; callers rely on that for crash recovery.
type JobStore interface {
	// Create persists a new record. Returns common.ErrConflict if the id
	// already exists.
	Create(ctx context.Context, j *job.Job) error
	// Get returns common.ErrJobNotFound when no record exists.
	Get(ctx context.Context, id uuid.UUID) (*job.Job, error)
	// UpdateFields merges the set fields of upd into the record and returns
	// the updated job. Unset fields are left untouched. Returns
	// common.ErrJobNotFound when no record exists; the existence check and
	// the write happen as one atomic step, so an update racing a Delete
	// fails instead of recreating a partial record.
	UpdateFields(ctx context.Context, id uuid.UUID, upd JobUpdate) (*job.Job, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListAll(ctx context.Context) ([]*job.Job, error)
}

// JobUpdate is a partial job record. Nil fields are not written.
type JobUpdate struct {
	Status         *job.Status
	ClaimedBy      *string
	ClaimedAt      *time.Time
	ResultRef      *string
	CompletedAt    *time.Time
	Collected      *bool
	ElapsedSeconds *float64
}

// QueueSet holds the three per-priority id sequences. Membership here is
// transient and must always be interpreted together with the JobStore status.
//
// DequeueHighest is the one operation that needs true mutual exclusion: it
// must pop the head of the lowest-numbered non-empty sequence as a single
// atomic step across all three sequences, linearizable under concurrent
// callers. The Redis implementation uses a server-side script, the memory
// implementation a single lock.
type QueueSet interface {
	// Enqueue appends id to the tail of the priority's sequence.
	Enqueue(ctx context.Context, p job.Priority, id uuid.UUID) error
	// DequeueHighest pops the head of the first non-empty sequence, checked
	// in order 0, 1, 2. ok is false when all sequences are empty.
	DequeueHighest(ctx context.Context) (id uuid.UUID, p job.Priority, ok bool, err error)
	// Remove deletes id from anywhere in the priority's sequence. No-op if
	// absent.
	Remove(ctx context.Context, p job.Priority, id uuid.UUID) error
	// Members returns the current sequence for one priority, head first.
	Members(ctx context.Context, p job.Priority) ([]uuid.UUID, error)
	// Clear empties all three sequences.
	Clear(ctx context.Context) error
}

// WorkerStore holds worker records keyed by worker id.
type WorkerStore interface {
	// Upsert overwrites any existing record with the same id.
	Upsert(ctx context.Context, w *worker.Worker) error
	// Get returns common.ErrWorkerNotFound when no record exists.
	Get(ctx context.Context, id string) (*worker.Worker, error)
	// SetHeartbeat updates only the last-heartbeat timestamp. Returns
	// common.ErrWorkerNotFound when no record exists; the existence check
	// and the write are one atomic step, so a heartbeat racing an eviction
	// fails instead of resurrecting a partial record.
	SetHeartbeat(ctx context.Context, id string, at time.Time) error
	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error
	// ListAll returns every record. A record whose persisted heartbeat could
	// not be parsed is returned with a zero LastHeartbeat so that scans can
	// evict it.
	ListAll(ctx context.Context) ([]*worker.Worker, error)
	// Clear removes every record and reports how many were removed.
	Clear(ctx context.Context) (int, error)
}
