package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/blakecragen/cluster/internal/common"
	"github.com/blakecragen/cluster/internal/job"
	"github.com/blakecragen/cluster/internal/worker"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func getTestRedisClient(t *testing.T) *redis.Client {
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Skipf("Skipping Redis test: invalid Redis URL: %v", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping Redis test: Redis not available: %v", err)
	}

	return client
}

func testPrefix() string {
	return "test:" + uuid.New().String()[:8] + ":"
}

func cleanupPrefix(t *testing.T, client *redis.Client, prefix string) {
	t.Helper()
	ctx := context.Background()
	iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		client.Del(ctx, iter.Val())
	}
}

func TestRedisQueueSet_PopOrder(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)
	defer client.Close()

	prefix := testPrefix()
	defer cleanupPrefix(t, client, prefix)

	q := NewRedisQueueSet(client, prefix)
	ctx := context.Background()

	normal1, normal2 := uuid.New(), uuid.New()
	high := uuid.New()

	if err := q.Enqueue(ctx, job.PriorityNormal, normal1); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if err := q.Enqueue(ctx, job.PriorityNormal, normal2); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if err := q.Enqueue(ctx, job.PriorityHigh, high); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	id, p, ok, err := q.DequeueHighest(ctx)
	if err != nil || !ok {
		t.Fatalf("DequeueHighest: ok=%v err=%v", ok, err)
	}
	if id != high || p != job.PriorityHigh {
		t.Fatalf("expected high-priority pop first, got %s at %d", id, p)
	}

	// FIFO within the normal level
	id, _, ok, err = q.DequeueHighest(ctx)
	if err != nil || !ok || id != normal1 {
		t.Fatalf("expected %s, got %s (ok=%v err=%v)", normal1, id, ok, err)
	}
	id, _, ok, err = q.DequeueHighest(ctx)
	if err != nil || !ok || id != normal2 {
		t.Fatalf("expected %s, got %s (ok=%v err=%v)", normal2, id, ok, err)
	}

	_, _, ok, err = q.DequeueHighest(ctx)
	if err != nil {
		t.Fatalf("DequeueHighest error on empty: %v", err)
	}
	if ok {
		t.Fatal("expected empty queue")
	}
}

func TestRedisJobStore_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)
	defer client.Close()

	prefix := testPrefix()
	defer cleanupPrefix(t, client, prefix)

	s := NewRedisJobStore(client, prefix)
	ctx := context.Background()

	j := &job.Job{
		ID:       uuid.New(),
		Priority: job.PriorityLow,
		Status:   job.StatusQueued,
		InputRef: "in/test.zip",
		QueuedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := s.Create(ctx, j); !common.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}

	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Status != job.StatusQueued || got.InputRef != j.InputRef || !got.QueuedAt.Equal(j.QueuedAt) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.ClaimedAt != nil || got.CompletedAt != nil {
		t.Fatalf("unset timestamps should stay nil: %+v", got)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	status := job.StatusClaimed
	by := "192.168.1.50"
	updated, err := s.UpdateFields(ctx, j.ID, JobUpdate{Status: &status, ClaimedAt: &now, ClaimedBy: &by})
	if err != nil {
		t.Fatalf("UpdateFields error: %v", err)
	}
	if updated.Status != job.StatusClaimed || updated.ClaimedBy != by || updated.ClaimedAt == nil {
		t.Fatalf("update mismatch: %+v", updated)
	}
	if updated.InputRef != j.InputRef {
		t.Fatalf("partial update clobbered input_ref: %+v", updated)
	}

	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll error: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 job, got %d", len(all))
	}
}

func TestRedisJobStore_UpdateAfterDeleteDoesNotResurrect(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)
	defer client.Close()

	prefix := testPrefix()
	defer cleanupPrefix(t, client, prefix)

	s := NewRedisJobStore(client, prefix)
	ctx := context.Background()

	j := &job.Job{
		ID:       uuid.New(),
		Priority: job.PriorityNormal,
		Status:   job.StatusQueued,
		InputRef: "in/test.zip",
		QueuedAt: time.Now().UTC(),
	}
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := s.Delete(ctx, j.ID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}

	// an update losing the race against a delete must fail, not write a
	// partial hash back
	collected := true
	if _, err := s.UpdateFields(ctx, j.ID, JobUpdate{Collected: &collected}); !common.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	exists, err := client.Exists(ctx, prefix+"job:"+j.ID.String()).Result()
	if err != nil {
		t.Fatalf("Exists error: %v", err)
	}
	if exists != 0 {
		t.Fatal("update recreated the deleted job hash")
	}
	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll error: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no jobs, got %+v", all)
	}
}

func TestRedisJobStore_ListAllSkipsUndecodableHash(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)
	defer client.Close()

	prefix := testPrefix()
	defer cleanupPrefix(t, client, prefix)

	s := NewRedisJobStore(client, prefix)
	ctx := context.Background()

	good := &job.Job{
		ID:       uuid.New(),
		Priority: job.PriorityHigh,
		Status:   job.StatusQueued,
		InputRef: "in/good.zip",
		QueuedAt: time.Now().UTC(),
	}
	if err := s.Create(ctx, good); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	// a hash with no id field, as a crashed writer might leave behind
	if err := client.HSet(ctx, prefix+"job:garbage", "collected", "true").Err(); err != nil {
		t.Fatalf("HSet error: %v", err)
	}

	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll should skip the bad hash, got %v", err)
	}
	if len(all) != 1 || all[0].ID != good.ID {
		t.Fatalf("expected only the good job, got %+v", all)
	}
}

func TestRedisWorkerStore_HeartbeatAfterDeleteDoesNotResurrect(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)
	defer client.Close()

	prefix := testPrefix()
	defer cleanupPrefix(t, client, prefix)

	s := NewRedisWorkerStore(client, prefix)
	ctx := context.Background()

	w := &worker.Worker{ID: "pi-01", Hostname: "pi-01", LastHeartbeat: time.Now().UTC()}
	if err := s.Upsert(ctx, w); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	if err := s.Delete(ctx, "pi-01"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}

	// a heartbeat losing the race against an eviction must fail, not leave a
	// one-field hash with an empty descriptor
	if err := s.SetHeartbeat(ctx, "pi-01", time.Now().UTC()); !common.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	exists, err := client.Exists(ctx, prefix+"worker:pi-01").Result()
	if err != nil {
		t.Fatalf("Exists error: %v", err)
	}
	if exists != 0 {
		t.Fatal("heartbeat recreated the deleted worker hash")
	}
	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll error: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no workers, got %+v", all)
	}
}
