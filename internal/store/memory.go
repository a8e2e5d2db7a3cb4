package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blakecragen/cluster/internal/common"
	"github.com/blakecragen/cluster/internal/job"
	"github.com/blakecragen/cluster/internal/worker"
	"github.com/google/uuid"
)

// MemJobStore is an in-process JobStore used by tests and single-node mode.
type MemJobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*job.Job
}

func NewMemJobStore() *MemJobStore {
	return &MemJobStore{jobs: make(map[uuid.UUID]*job.Job)}
}

func (s *MemJobStore) Create(ctx context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; ok {
		return fmt.Errorf("job %s: %w", j.ID, common.ErrConflict)
	}
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *MemJobStore) Get(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, common.ErrJobNotFound)
	}
	cp := *j
	return &cp, nil
}

func (s *MemJobStore) UpdateFields(ctx context.Context, id uuid.UUID, upd JobUpdate) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, common.ErrJobNotFound)
	}
	if upd.Status != nil {
		j.Status = *upd.Status
	}
	if upd.ClaimedBy != nil {
		j.ClaimedBy = *upd.ClaimedBy
	}
	if upd.ClaimedAt != nil {
		t := *upd.ClaimedAt
		j.ClaimedAt = &t
	}
	if upd.ResultRef != nil {
		j.ResultRef = *upd.ResultRef
	}
	if upd.CompletedAt != nil {
		t := *upd.CompletedAt
		j.CompletedAt = &t
	}
	if upd.Collected != nil {
		j.Collected = *upd.Collected
	}
	if upd.ElapsedSeconds != nil {
		j.ElapsedSeconds = *upd.ElapsedSeconds
	}
	cp := *j
	return &cp, nil
}

func (s *MemJobStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *MemJobStore) ListAll(ctx context.Context) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*job.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

// MemQueueSet holds the three priority sequences behind a single lock, so
// DequeueHighest is one atomic step across all of them.
type MemQueueSet struct {
	mu     sync.Mutex
	queues map[job.Priority][]uuid.UUID
}

func NewMemQueueSet() *MemQueueSet {
	return &MemQueueSet{queues: make(map[job.Priority][]uuid.UUID)}
}

func (q *MemQueueSet) Enqueue(ctx context.Context, p job.Priority, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[p] = append(q.queues[p], id)
	return nil
}

func (q *MemQueueSet) DequeueHighest(ctx context.Context) (uuid.UUID, job.Priority, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range job.Priorities {
		if ids := q.queues[p]; len(ids) > 0 {
			id := ids[0]
			q.queues[p] = ids[1:]
			return id, p, true, nil
		}
	}
	return uuid.Nil, 0, false, nil
}

func (q *MemQueueSet) Remove(ctx context.Context, p job.Priority, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := q.queues[p]
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	q.queues[p] = out
	return nil
}

func (q *MemQueueSet) Members(ctx context.Context, p job.Priority) ([]uuid.UUID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]uuid.UUID, len(q.queues[p]))
	copy(out, q.queues[p])
	return out, nil
}

func (q *MemQueueSet) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues = make(map[job.Priority][]uuid.UUID)
	return nil
}

// MemWorkerStore is an in-process WorkerStore.
type MemWorkerStore struct {
	mu      sync.RWMutex
	workers map[string]*worker.Worker
}

func NewMemWorkerStore() *MemWorkerStore {
	return &MemWorkerStore{workers: make(map[string]*worker.Worker)}
}

func (s *MemWorkerStore) Upsert(ctx context.Context, w *worker.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.workers[w.ID] = &cp
	return nil
}

func (s *MemWorkerStore) Get(ctx context.Context, id string) (*worker.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, common.ErrWorkerNotFound)
	}
	cp := *w
	return &cp, nil
}

func (s *MemWorkerStore) SetHeartbeat(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, common.ErrWorkerNotFound)
	}
	w.LastHeartbeat = at
	return nil
}

func (s *MemWorkerStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workers, id)
	return nil
}

func (s *MemWorkerStore) ListAll(ctx context.Context) ([]*worker.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*worker.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		cp := *w
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemWorkerStore) Clear(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.workers)
	s.workers = make(map[string]*worker.Worker)
	return n, nil
}
