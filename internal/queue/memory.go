package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/brandgen/internal/domain"
)

type memoryJob struct {
	job       domain.Job
	heartbeat time.Time
}

// MemoryStore is an in-process Store for tests and single-process runs
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*memoryJob
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*memoryJob),
		now:  time.Now,
	}
}

func (s *MemoryStore) Insert(ctx context.Context, job *domain.Job) (*domain.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.IdempotencyKey != nil {
		for _, mj := range s.jobs {
			if mj.job.IdempotencyKey != nil && *mj.job.IdempotencyKey == *job.IdempotencyKey {
				existing := mj.job
				return &existing, false, nil
			}
		}
	}

	stored := *job
	stored.Status = domain.JobStatusPending
	s.jobs[job.JobID] = &memoryJob{job: stored}

	return &stored, true, nil
}

func (s *MemoryStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mj, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	job := mj.job
	return &job, nil
}

func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Job
	for _, mj := range s.jobs {
		j := mj.job
		if filter.UserID != "" && j.UserID != filter.UserID {
			continue
		}
		if filter.JobType != "" && string(j.JobType) != filter.JobType {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if c := filter.Cursor; c != nil && !before(j, c) {
			continue
		}
		out = append(out, j)
	}

	sort.Slice(out, func(i, k int) bool {
		if out[i].EnqueuedAt.Equal(out[k].EnqueuedAt) {
			return out[i].JobID > out[k].JobID
		}
		return out[i].EnqueuedAt.After(out[k].EnqueuedAt)
	})

	if filter.PageSize > 0 && len(out) > filter.PageSize+1 {
		out = out[:filter.PageSize+1]
	}
	return out, nil
}

// before reports whether j sorts after c in newest-first order
func before(j domain.Job, c *Cursor) bool {
	if j.EnqueuedAt.Equal(c.EnqueuedAt) {
		return j.JobID < c.JobID
	}
	return j.EnqueuedAt.Before(c.EnqueuedAt)
}

func (s *MemoryStore) Claim(ctx context.Context, workerID string, limit int) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*memoryJob
	for _, mj := range s.jobs {
		if mj.job.Status == domain.JobStatusPending {
			pending = append(pending, mj)
		}
	}
	sort.Slice(pending, func(i, k int) bool {
		if pending[i].job.EnqueuedAt.Equal(pending[k].job.EnqueuedAt) {
			return pending[i].job.JobID < pending[k].job.JobID
		}
		return pending[i].job.EnqueuedAt.Before(pending[k].job.EnqueuedAt)
	})

	if len(pending) > limit {
		pending = pending[:limit]
	}

	now := s.now()
	claimed := make([]*domain.Job, 0, len(pending))
	for _, mj := range pending {
		wid := workerID
		claimedAt := now
		mj.job.Status = domain.JobStatusRunning
		mj.job.WorkerID = &wid
		mj.job.ClaimedAt = &claimedAt
		mj.heartbeat = now

		job := mj.job
		claimed = append(claimed, &job)
	}
	return claimed, nil
}

func (s *MemoryStore) Heartbeat(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mj, ok := s.jobs[jobID]; ok && mj.job.Status == domain.JobStatusRunning {
		mj.heartbeat = s.now()
	}
	return nil
}

func (s *MemoryStore) RecoverStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-staleAfter)
	n := 0
	for _, mj := range s.jobs {
		if mj.job.Status == domain.JobStatusRunning && mj.heartbeat.Before(cutoff) {
			mj.job.Status = domain.JobStatusPending
			mj.job.WorkerID = nil
			mj.job.ClaimedAt = nil
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Delete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return nil
}

// Len returns the number of stored jobs
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
