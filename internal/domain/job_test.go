package domain

import (
	"errors"
	"testing"
)

func TestTransitionLifecycle(t *testing.T) {
	job := &GenerationJob{ID: "j1", Status: JobStatusPending}

	if err := job.Transition(JobStatusRunning); err != nil {
		t.Fatalf("pending -> running: %v", err)
	}
	if err := job.Transition(JobStatusCompleted); err != nil {
		t.Fatalf("running -> completed: %v", err)
	}
	if job.CompletedAt == nil {
		t.Fatal("terminal transition did not stamp completed_at")
	}
	if err := job.Transition(JobStatusRunning); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("terminal state accepted a transition: %v", err)
	}
}

func TestTransitionRejectsSkippingPending(t *testing.T) {
	job := &GenerationJob{ID: "j1", Status: JobStatusRunning}
	if err := job.Transition(JobStatusRunning); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("running -> running accepted: %v", err)
	}
}

func TestPendingJobMayEndDirectly(t *testing.T) {
	// Input validation fails jobs before they ever run.
	job := &GenerationJob{ID: "j1", Status: JobStatusPending}
	if err := job.Transition(JobStatusFailed); err != nil {
		t.Fatalf("pending -> failed: %v", err)
	}
}

func TestSetProgressNeverRegresses(t *testing.T) {
	job := &GenerationJob{}
	job.SetProgress(40)
	job.SetProgress(20)
	if job.Progress != 40 {
		t.Fatalf("progress = %d, want 40", job.Progress)
	}
	job.SetProgress(150)
	if job.Progress != 100 {
		t.Fatalf("progress = %d, want capped at 100", job.Progress)
	}
}

func TestAddCostIgnoresNonPositive(t *testing.T) {
	job := &GenerationJob{}
	job.AddCost(0.5)
	job.AddCost(-1)
	job.AddCost(0)
	if job.CostUSD != 0.5 {
		t.Fatalf("cost = %v, want 0.5", job.CostUSD)
	}
}

func TestDecideMode(t *testing.T) {
	if got := DecideMode(true, true); got != ModeReferenceConditioned {
		t.Fatalf("DecideMode(true, true) = %s", got)
	}
	if got := DecideMode(true, false); got != ModeFrameConditioned {
		t.Fatalf("DecideMode(true, false) = %s", got)
	}
	if got := DecideMode(false, true); got != ModeFrameConditioned {
		t.Fatalf("DecideMode(false, true) = %s", got)
	}
}
