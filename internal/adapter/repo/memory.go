package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"admint/internal/domain"
)

// JobRepositoryMemory is a mutex-guarded in-memory domain.JobRepository.
// It backs tests and single-process setups without PostgreSQL; jobs are
// deep-copied on every boundary so callers never share mutable state.
type JobRepositoryMemory struct {
	mu      sync.Mutex
	jobs    map[string]*domain.GenerationJob
	claimed map[string]bool
	cancels map[string]bool
	touched map[string]time.Time
}

// NewJobRepositoryMemory creates an empty in-memory repository.
func NewJobRepositoryMemory() *JobRepositoryMemory {
	return &JobRepositoryMemory{
		jobs:    map[string]*domain.GenerationJob{},
		claimed: map[string]bool{},
		cancels: map[string]bool{},
		touched: map[string]time.Time{},
	}
}

var _ domain.JobRepository = (*JobRepositoryMemory)(nil)

func (r *JobRepositoryMemory) Create(ctx context.Context, job *domain.GenerationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = cloneJob(job)
	r.touched[job.ID] = time.Now()
	return nil
}

func (r *JobRepositoryMemory) Update(ctx context.Context, job *domain.GenerationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		return domain.ErrNotFound
	}
	r.jobs[job.ID] = cloneJob(job)
	r.touched[job.ID] = time.Now()
	return nil
}

func (r *JobRepositoryMemory) GetByID(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(job), nil
}

func (r *JobRepositoryMemory) ClaimPending(ctx context.Context) (*domain.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var candidates []*domain.GenerationJob
	for id, job := range r.jobs {
		if job.Status == domain.JobStatusPending && !r.claimed[id] {
			candidates = append(candidates, job)
		}
	}
	if len(candidates) == 0 {
		return nil, domain.ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	r.claimed[candidates[0].ID] = true
	return cloneJob(candidates[0]), nil
}

func (r *JobRepositoryMemory) ReclaimStale(ctx context.Context, olderThan time.Duration) (*domain.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var candidates []*domain.GenerationJob
	for id, job := range r.jobs {
		if job.Status == domain.JobStatusRunning && r.touched[id].Before(cutoff) {
			candidates = append(candidates, job)
		}
	}
	if len(candidates) == 0 {
		return nil, domain.ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool {
		return r.touched[candidates[i].ID].Before(r.touched[candidates[j].ID])
	})
	r.touched[candidates[0].ID] = time.Now()
	return cloneJob(candidates[0]), nil
}

func (r *JobRepositoryMemory) RequestCancel(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[jobID]; !ok {
		return domain.ErrNotFound
	}
	r.cancels[jobID] = true
	return nil
}

func (r *JobRepositoryMemory) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[jobID]; !ok {
		return false, domain.ErrNotFound
	}
	return r.cancels[jobID], nil
}

func cloneJob(job *domain.GenerationJob) *domain.GenerationJob {
	cp := *job
	cp.ReferenceImages = append([]string(nil), job.ReferenceImages...)
	cp.Warnings = append([]string(nil), job.Warnings...)
	cp.Entities = append([]domain.EntityDescription(nil), job.Entities...)
	cp.Scenes = make([]domain.Scene, len(job.Scenes))
	for i, s := range job.Scenes {
		sc := s
		sc.EntityRefs = append([]string(nil), s.EntityRefs...)
		if s.Score != nil {
			v := *s.Score
			sc.Score = &v
		}
		cp.Scenes[i] = sc
	}
	if job.Story != nil {
		st := *job.Story
		cp.Story = &st
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
