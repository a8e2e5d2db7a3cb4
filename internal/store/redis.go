package store

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/blakecragen/cluster/internal/common"
	"github.com/blakecragen/cluster/internal/job"
	"github.com/blakecragen/cluster/internal/worker"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const timeLayout = time.RFC3339Nano

// RedisJobStore keeps each job as a flat Redis hash under <prefix>job:<id>.
type RedisJobStore struct {
	client *redis.Client
	prefix string
}

func NewRedisJobStore(client *redis.Client, prefix string) *RedisJobStore {
	return &RedisJobStore{client: client, prefix: prefix}
}

func (s *RedisJobStore) key(id uuid.UUID) string {
	return s.prefix + "job:" + id.String()
}

func (s *RedisJobStore) Create(ctx context.Context, j *job.Job) error {
	key := s.key(j.ID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return common.WrapStorage("create job", err)
	}
	if exists > 0 {
		return fmt.Errorf("job %s: %w", j.ID, common.ErrConflict)
	}
	if err := s.client.HSet(ctx, key, encodeJob(j)).Err(); err != nil {
		return common.WrapStorage("create job", err)
	}
	return nil
}

func (s *RedisJobStore) Get(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, common.WrapStorage("get job", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%s: %w", id, common.ErrJobNotFound)
	}
	return decodeJob(fields)
}

// hsetIfExists writes field/value pairs only when the hash still exists, so
// an update racing a delete fails instead of recreating a partial hash.
var hsetIfExists = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
for i = 1, #ARGV, 2 do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
return 1
`)

func (s *RedisJobStore) UpdateFields(ctx context.Context, id uuid.UUID, upd JobUpdate) (*job.Job, error) {
	args := make([]any, 0, 14)
	for field, value := range encodeUpdate(upd) {
		args = append(args, field, value)
	}

	n, err := hsetIfExists.Run(ctx, s.client, []string{s.key(id)}, args...).Int()
	if err != nil {
		return nil, common.WrapStorage("update job", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%s: %w", id, common.ErrJobNotFound)
	}
	return s.Get(ctx, id)
}

func (s *RedisJobStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return common.WrapStorage("delete job", err)
	}
	return nil
}

func (s *RedisJobStore) ListAll(ctx context.Context) ([]*job.Job, error) {
	var jobs []*job.Job
	iter := s.client.Scan(ctx, 0, s.prefix+"job:*", 100).Iterator()
	for iter.Next(ctx) {
		fields, err := s.client.HGetAll(ctx, iter.Val()).Result()
		if err != nil {
			return nil, common.WrapStorage("list jobs", err)
		}
		if len(fields) == 0 {
			continue // deleted between scan and read
		}
		j, err := decodeJob(fields)
		if err != nil {
			// One bad hash must not take down every scan-based caller.
			slog.Warn("skipping undecodable job hash", "key", iter.Val(), "err", err)
			continue
		}
		jobs = append(jobs, j)
	}
	if err := iter.Err(); err != nil {
		return nil, common.WrapStorage("list jobs", err)
	}
	return jobs, nil
}

func encodeJob(j *job.Job) map[string]any {
	fields := map[string]any{
		"id":        j.ID.String(),
		"priority":  int(j.Priority),
		"status":    string(j.Status),
		"input_ref": j.InputRef,
		"queued_at": j.QueuedAt.UTC().Format(timeLayout),
		"collected": strconv.FormatBool(j.Collected),
	}
	if j.ClaimedAt != nil {
		fields["claimed_at"] = j.ClaimedAt.UTC().Format(timeLayout)
	}
	if j.CompletedAt != nil {
		fields["completed_at"] = j.CompletedAt.UTC().Format(timeLayout)
	}
	if j.ClaimedBy != "" {
		fields["claimed_by"] = j.ClaimedBy
	}
	if j.ResultRef != "" {
		fields["result_ref"] = j.ResultRef
	}
	if j.ElapsedSeconds > 0 {
		fields["elapsed_seconds"] = strconv.FormatFloat(j.ElapsedSeconds, 'f', -1, 64)
	}
	return fields
}

func encodeUpdate(upd JobUpdate) map[string]any {
	fields := map[string]any{}
	if upd.Status != nil {
		fields["status"] = string(*upd.Status)
	}
	if upd.ClaimedBy != nil {
		fields["claimed_by"] = *upd.ClaimedBy
	}
	if upd.ClaimedAt != nil {
		fields["claimed_at"] = upd.ClaimedAt.UTC().Format(timeLayout)
	}
	if upd.ResultRef != nil {
		fields["result_ref"] = *upd.ResultRef
	}
	if upd.CompletedAt != nil {
		fields["completed_at"] = upd.CompletedAt.UTC().Format(timeLayout)
	}
	if upd.Collected != nil {
		fields["collected"] = strconv.FormatBool(*upd.Collected)
	}
	if upd.ElapsedSeconds != nil {
		fields["elapsed_seconds"] = strconv.FormatFloat(*upd.ElapsedSeconds, 'f', -1, 64)
	}
	return fields
}

func decodeJob(fields map[string]string) (*job.Job, error) {
	id, err := uuid.Parse(fields["id"])
	if err != nil {
		return nil, fmt.Errorf("bad job id %q: %w", fields["id"], err)
	}
	prio, err := job.ParsePriority(fields["priority"])
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}
	status, err := job.ParseStatus(fields["status"])
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}

	j := &job.Job{
		ID:        id,
		Priority:  prio,
		Status:    status,
		InputRef:  fields["input_ref"],
		ResultRef: fields["result_ref"],
		ClaimedBy: fields["claimed_by"],
		Collected: fields["collected"] == "true",
	}
	if v := fields["queued_at"]; v != "" {
		t, err := time.Parse(timeLayout, v)
		if err != nil {
			return nil, fmt.Errorf("job %s: bad queued_at: %w", id, err)
		}
		j.QueuedAt = t
	}
	if v := fields["claimed_at"]; v != "" {
		t, err := time.Parse(timeLayout, v)
		if err != nil {
			return nil, fmt.Errorf("job %s: bad claimed_at: %w", id, err)
		}
		j.ClaimedAt = &t
	}
	if v := fields["completed_at"]; v != "" {
		t, err := time.Parse(timeLayout, v)
		if err != nil {
			return nil, fmt.Errorf("job %s: bad completed_at: %w", id, err)
		}
		j.CompletedAt = &t
	}
	if v := fields["elapsed_seconds"]; v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			j.ElapsedSeconds = f
		}
	}
	return j, nil
}

// popHighest pops the head of the first non-empty list, checked in the order
// the keys are given. Runs server-side so concurrent claimers serialize on a
// single atomic step instead of racing three independent pops.
var popHighest = redis.NewScript(`
for i = 1, #KEYS do
	local id = redis.call('LPOP', KEYS[i])
	if id then
		return {i, id}
	end
end
return false
`)

// RedisQueueSet keeps one Redis list per priority under <prefix>queue:prio:<n>.
type RedisQueueSet struct {
	client *redis.Client
	prefix string
}

func NewRedisQueueSet(client *redis.Client, prefix string) *RedisQueueSet {
	return &RedisQueueSet{client: client, prefix: prefix}
}

func (q *RedisQueueSet) key(p job.Priority) string {
	return fmt.Sprintf("%squeue:prio:%d", q.prefix, int(p))
}

func (q *RedisQueueSet) keys() []string {
	out := make([]string, 0, len(job.Priorities))
	for _, p := range job.Priorities {
		out = append(out, q.key(p))
	}
	return out
}

func (q *RedisQueueSet) Enqueue(ctx context.Context, p job.Priority, id uuid.UUID) error {
	if err := q.client.RPush(ctx, q.key(p), id.String()).Err(); err != nil {
		return common.WrapStorage("enqueue", err)
	}
	return nil
}

func (q *RedisQueueSet) DequeueHighest(ctx context.Context) (uuid.UUID, job.Priority, bool, error) {
	res, err := popHighest.Run(ctx, q.client, q.keys()).Result()
	if err == redis.Nil {
		return uuid.Nil, 0, false, nil
	}
	if err != nil {
		return uuid.Nil, 0, false, common.WrapStorage("dequeue", err)
	}

	pair, ok := res.([]interface{})
	if !ok || len(pair) != 2 {
		return uuid.Nil, 0, false, fmt.Errorf("dequeue: unexpected script reply %v", res)
	}
	idx, ok := pair[0].(int64)
	if !ok || idx < 1 || int(idx) > len(job.Priorities) {
		return uuid.Nil, 0, false, fmt.Errorf("dequeue: unexpected script index %v", pair[0])
	}
	raw, ok := pair[1].(string)
	if !ok {
		return uuid.Nil, 0, false, fmt.Errorf("dequeue: unexpected script value %v", pair[1])
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, 0, false, fmt.Errorf("dequeue: bad id %q: %w", raw, err)
	}
	return id, job.Priorities[idx-1], true, nil
}

func (q *RedisQueueSet) Remove(ctx context.Context, p job.Priority, id uuid.UUID) error {
	if err := q.client.LRem(ctx, q.key(p), 0, id.String()).Err(); err != nil {
		return common.WrapStorage("queue remove", err)
	}
	return nil
}

func (q *RedisQueueSet) Members(ctx context.Context, p job.Priority) ([]uuid.UUID, error) {
	raw, err := q.client.LRange(ctx, q.key(p), 0, -1).Result()
	if err != nil {
		return nil, common.WrapStorage("queue members", err)
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, v := range raw {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("queue members: bad id %q: %w", v, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (q *RedisQueueSet) Clear(ctx context.Context) error {
	if err := q.client.Del(ctx, q.keys()...).Err(); err != nil {
		return common.WrapStorage("queue clear", err)
	}
	return nil
}

// RedisWorkerStore keeps each worker as a hash under <prefix>worker:<id>.
type RedisWorkerStore struct {
	client *redis.Client
	prefix string
}

func NewRedisWorkerStore(client *redis.Client, prefix string) *RedisWorkerStore {
	return &RedisWorkerStore{client: client, prefix: prefix}
}

func (s *RedisWorkerStore) key(id string) string {
	return s.prefix + "worker:" + id
}

func (s *RedisWorkerStore) Upsert(ctx context.Context, w *worker.Worker) error {
	fields := map[string]any{
		"worker_id":      w.ID,
		"hostname":       w.Hostname,
		"addr":           w.Addr,
		"os":             w.OS,
		"arch":           w.Arch,
		"task_runner":    w.TaskRunner,
		"last_heartbeat": w.LastHeartbeat.UTC().Format(timeLayout),
	}
	// Del+HSet so a re-registration fully replaces the prior record.
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(w.ID))
	pipe.HSet(ctx, s.key(w.ID), fields)
	if _, err := pipe.Exec(ctx); err != nil {
		return common.WrapStorage("upsert worker", err)
	}
	return nil
}

func (s *RedisWorkerStore) Get(ctx context.Context, id string) (*worker.Worker, error) {
	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, common.WrapStorage("get worker", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%s: %w", id, common.ErrWorkerNotFound)
	}
	return decodeWorker(fields), nil
}

// setHeartbeat refreshes last_heartbeat only while the worker hash exists.
// A heartbeat that loses the race against an eviction must not resurrect
// the record as a one-field hash with no descriptor.
var setHeartbeat = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	redis.call('HSET', KEYS[1], 'last_heartbeat', ARGV[1])
	return 1
end
return 0
`)

func (s *RedisWorkerStore) SetHeartbeat(ctx context.Context, id string, at time.Time) error {
	n, err := setHeartbeat.Run(ctx, s.client, []string{s.key(id)}, at.UTC().Format(timeLayout)).Int()
	if err != nil {
		return common.WrapStorage("set heartbeat", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, common.ErrWorkerNotFound)
	}
	return nil
}

func (s *RedisWorkerStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return common.WrapStorage("delete worker", err)
	}
	return nil
}

func (s *RedisWorkerStore) ListAll(ctx context.Context) ([]*worker.Worker, error) {
	var workers []*worker.Worker
	iter := s.client.Scan(ctx, 0, s.prefix+"worker:*", 100).Iterator()
	for iter.Next(ctx) {
		fields, err := s.client.HGetAll(ctx, iter.Val()).Result()
		if err != nil {
			return nil, common.WrapStorage("list workers", err)
		}
		if len(fields) == 0 {
			continue
		}
		workers = append(workers, decodeWorker(fields))
	}
	if err := iter.Err(); err != nil {
		return nil, common.WrapStorage("list workers", err)
	}
	return workers, nil
}

func (s *RedisWorkerStore) Clear(ctx context.Context) (int, error) {
	deleted := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"worker:*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, common.WrapStorage("clear workers", err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, common.WrapStorage("clear workers", err)
	}
	return deleted, nil
}

func decodeWorker(fields map[string]string) *worker.Worker {
	w := &worker.Worker{
		ID:         fields["worker_id"],
		Hostname:   fields["hostname"],
		Addr:       fields["addr"],
		OS:         fields["os"],
		Arch:       fields["arch"],
		TaskRunner: fields["task_runner"],
	}
	// An unparseable heartbeat decodes to the zero time, which every
	// staleness scan treats as expired and evicts.
	if t, err := time.Parse(timeLayout, fields["last_heartbeat"]); err == nil {
		w.LastHeartbeat = t
	}
	return w
}
