package pipeline

import (
	"context"
	"time"

	"admint/internal/domain"
)

// SceneStatus is the per-scene slice of a job snapshot.
type SceneStatus struct {
	Index    int      `json:"index"`
	Duration int      `json:"duration_seconds"`
	Status   string   `json:"status"`
	Attempts int      `json:"attempts"`
	Score    *float64 `json:"score,omitempty"`
	Model    string   `json:"model,omitempty"`
}

// Snapshot is the externally visible state of a generation job at a point
// in time. It is assembled from persisted state only, so it is safe to read
// while the pipeline is mid-flight.
type Snapshot struct {
	JobID       string        `json:"job_id"`
	Status      string        `json:"status"`
	Stage       string        `json:"stage"`
	Progress    int           `json:"progress"`
	Scenes      []SceneStatus `json:"scenes,omitempty"`
	CostUSD     float64       `json:"cost_usd"`
	Warnings    []string      `json:"warnings,omitempty"`
	ResultPath  string        `json:"result_path,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Status reports the current snapshot for a job.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*Snapshot, error) {
	job, err := o.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return snapshotOf(job), nil
}

// Cancel records a cancellation request. The running pipeline observes the
// flag at its next stage or batch boundary; work already in flight finishes.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	job, err := o.repo.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return domain.ErrInvalidTransition
	}
	return o.repo.RequestCancel(ctx, jobID)
}

func snapshotOf(job *domain.GenerationJob) *Snapshot {
	snap := &Snapshot{
		JobID:       job.ID,
		Status:      string(job.Status),
		Stage:       string(job.Stage),
		Progress:    job.Progress,
		CostUSD:     job.CostUSD,
		Warnings:    job.Warnings,
		ResultPath:  job.ResultPath,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
	}
	for _, s := range job.Scenes {
		snap.Scenes = append(snap.Scenes, SceneStatus{
			Index:    s.Index,
			Duration: s.Duration,
			Status:   string(s.Status),
			Attempts: s.Attempts,
			Score:    s.Score,
			Model:    s.ServedByModel,
		})
	}
	return snap
}
