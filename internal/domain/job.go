package domain

import (
	"fmt"
	"time"
)

// Stage enumerates the ordered pipeline stages a generation job moves through.
type Stage string

const (
	StagePlanningStory    Stage = "planning_story"
	StagePlanningScenes   Stage = "planning_scenes"
	StageGeneratingAssets Stage = "generating_assets"
	StageStitching        Stage = "stitching"
	StageCompleted        Stage = "completed"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// GenerationJob is the aggregate for one end-to-end ad generation request.
// It is mutated exclusively by the pipeline orchestrator; terminal states
// are immutable.
type GenerationJob struct {
	ID              string
	UserID          string
	Prompt          string
	TargetDuration  int // seconds
	ReferenceImages []string
	ProductName     string

	Stage      Stage
	Status     JobStatus
	Progress   int // 0-100, monotonically non-decreasing while running
	CostUSD    float64
	Story      *Story
	Scenes     []Scene
	Entities   []EntityDescription
	Warnings   []string
	ResultPath string
	Error      string

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// SetProgress raises the job progress. Progress never moves backwards while
// the job is running.
func (j *GenerationJob) SetProgress(p int) {
	if p > 100 {
		p = 100
	}
	if p > j.Progress {
		j.Progress = p
	}
}

// Transition moves the job to a new status, enforcing the one-directional
// lifecycle pending -> running -> {completed|failed|cancelled}.
func (j *GenerationJob) Transition(next JobStatus) error {
	if j.Status.Terminal() {
		return fmt.Errorf("job %s: %w: status %s is terminal", j.ID, ErrInvalidTransition, j.Status)
	}
	switch next {
	case JobStatusRunning:
		if j.Status != JobStatusPending {
			return fmt.Errorf("job %s: %w: %s -> %s", j.ID, ErrInvalidTransition, j.Status, next)
		}
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		// Any non-terminal state may end.
	default:
		return fmt.Errorf("job %s: %w: unknown status %q", j.ID, ErrInvalidTransition, next)
	}
	j.Status = next
	if next.Terminal() {
		now := time.Now().UTC()
		j.CompletedAt = &now
	}
	return nil
}

// Warn appends a non-fatal degradation note to the job.
func (j *GenerationJob) Warn(msg string) {
	j.Warnings = append(j.Warnings, msg)
}

// AddCost accumulates provider spend onto the job.
func (j *GenerationJob) AddCost(usd float64) {
	if usd > 0 {
		j.CostUSD += usd
	}
}

// Story is the LLM-generated narrative for a job plus its structural
// metadata. Regenerated wholesale on user feedback, never partially mutated.
type Story struct {
	Narrative string `json:"narrative"`
	Framework string `json:"framework"`
	Journey   bool   `json:"journey"`
}
