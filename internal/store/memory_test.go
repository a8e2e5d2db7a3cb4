package store

import (
	"context"
	"testing"
	"time"

	"github.com/blakecragen/cluster/internal/common"
	"github.com/blakecragen/cluster/internal/job"
	"github.com/blakecragen/cluster/internal/worker"
	"github.com/google/uuid"
)

func TestMemJobStore_CreateGetDelete(t *testing.T) {
	s := NewMemJobStore()
	ctx := context.Background()

	j := &job.Job{
		ID:       uuid.New(),
		Priority: job.PriorityNormal,
		Status:   job.StatusQueued,
		InputRef: "in/a.zip",
		QueuedAt: time.Now().UTC(),
	}
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := s.Create(ctx, j); !common.IsConflict(err) {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}

	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.InputRef != j.InputRef || got.Status != job.StatusQueued {
		t.Fatalf("unexpected job %+v", got)
	}

	if err := s.Delete(ctx, j.ID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := s.Get(ctx, j.ID); !common.IsNotFound(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestMemJobStore_UpdateFieldsMergesPartial(t *testing.T) {
	s := NewMemJobStore()
	ctx := context.Background()

	j := &job.Job{
		ID:       uuid.New(),
		Priority: job.PriorityHigh,
		Status:   job.StatusQueued,
		InputRef: "in/b.zip",
		QueuedAt: time.Now().UTC(),
	}
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	now := time.Now().UTC()
	status := job.StatusClaimed
	by := "10.0.0.7"
	updated, err := s.UpdateFields(ctx, j.ID, JobUpdate{
		Status:    &status,
		ClaimedAt: &now,
		ClaimedBy: &by,
	})
	if err != nil {
		t.Fatalf("UpdateFields error: %v", err)
	}
	if updated.Status != job.StatusClaimed || updated.ClaimedBy != by {
		t.Fatalf("update not applied: %+v", updated)
	}
	// untouched fields survive
	if updated.InputRef != j.InputRef || updated.Priority != job.PriorityHigh {
		t.Fatalf("unset fields were clobbered: %+v", updated)
	}

	if _, err := s.UpdateFields(ctx, uuid.New(), JobUpdate{Status: &status}); !common.IsNotFound(err) {
		t.Fatalf("expected not found for unknown id, got %v", err)
	}
}

func TestMemQueueSet_PriorityPrecedenceAndFIFO(t *testing.T) {
	q := NewMemQueueSet()
	ctx := context.Background()

	low1, low2 := uuid.New(), uuid.New()
	high := uuid.New()

	// low-priority entries land first, high-priority afterwards
	mustEnqueue(t, q, job.PriorityLow, low1)
	mustEnqueue(t, q, job.PriorityLow, low2)
	mustEnqueue(t, q, job.PriorityHigh, high)

	want := []uuid.UUID{high, low1, low2}
	for i, expected := range want {
		id, _, ok, err := q.DequeueHighest(ctx)
		if err != nil {
			t.Fatalf("DequeueHighest error: %v", err)
		}
		if !ok {
			t.Fatalf("queue empty at pop %d", i)
		}
		if id != expected {
			t.Fatalf("pop %d: got %s, want %s", i, id, expected)
		}
	}

	if _, _, ok, _ := q.DequeueHighest(ctx); ok {
		t.Fatal("expected empty queue")
	}
}

func TestMemQueueSet_RemoveIsNoOpWhenAbsent(t *testing.T) {
	q := NewMemQueueSet()
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	mustEnqueue(t, q, job.PriorityNormal, a)
	mustEnqueue(t, q, job.PriorityNormal, b)

	if err := q.Remove(ctx, job.PriorityNormal, a); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	// removing again, and from the wrong priority, is fine
	if err := q.Remove(ctx, job.PriorityNormal, a); err != nil {
		t.Fatalf("second Remove error: %v", err)
	}
	if err := q.Remove(ctx, job.PriorityHigh, b); err != nil {
		t.Fatalf("wrong-priority Remove error: %v", err)
	}

	members, err := q.Members(ctx, job.PriorityNormal)
	if err != nil {
		t.Fatalf("Members error: %v", err)
	}
	if len(members) != 1 || members[0] != b {
		t.Fatalf("unexpected members %v", members)
	}
}

func TestMemWorkerStore_UpsertHeartbeatClear(t *testing.T) {
	s := NewMemWorkerStore()
	ctx := context.Background()

	w := &worker.Worker{ID: "pi-01", Hostname: "pi-01", LastHeartbeat: time.Now().UTC()}
	if err := s.Upsert(ctx, w); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	later := time.Now().Add(time.Minute).UTC()
	if err := s.SetHeartbeat(ctx, "pi-01", later); err != nil {
		t.Fatalf("SetHeartbeat error: %v", err)
	}
	got, err := s.Get(ctx, "pi-01")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !got.LastHeartbeat.Equal(later) {
		t.Fatalf("heartbeat not updated: %v", got.LastHeartbeat)
	}

	if _, err := s.Get(ctx, "pi-02"); !common.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	// a heartbeat for a missing record fails instead of creating one
	if err := s.SetHeartbeat(ctx, "pi-02", later); !common.IsNotFound(err) {
		t.Fatalf("expected not found from SetHeartbeat, got %v", err)
	}
	if _, err := s.Get(ctx, "pi-02"); !common.IsNotFound(err) {
		t.Fatalf("SetHeartbeat created a record: %v", err)
	}
	// deleting a missing record is not an error
	if err := s.Delete(ctx, "pi-02"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}

	n, err := s.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 cleared, got %d", n)
	}
}

func mustEnqueue(t *testing.T, q QueueSet, p job.Priority, id uuid.UUID) {
	t.Helper()
	if err := q.Enqueue(context.Background(), p, id); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
}
