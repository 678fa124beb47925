package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"admint/internal/domain"
)

func TestMemoryClaimPendingOldestFirst(t *testing.T) {
	r := NewJobRepositoryMemory()
	ctx := context.Background()
	base := time.Now().UTC()
	offsets := map[string]time.Duration{"oldest": 0, "middle": time.Minute, "newer": 2 * time.Minute}
	for _, id := range []string{"newer", "oldest", "middle"} {
		if err := r.Create(ctx, &domain.GenerationJob{
			ID:        id,
			Status:    domain.JobStatusPending,
			CreatedAt: base.Add(offsets[id]),
		}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	first, err := r.ClaimPending(ctx)
	if err != nil {
		t.Fatalf("ClaimPending: %v", err)
	}
	if first.ID != "oldest" {
		t.Fatalf("claimed %s, want oldest", first.ID)
	}
	second, err := r.ClaimPending(ctx)
	if err != nil {
		t.Fatalf("ClaimPending: %v", err)
	}
	if second.ID != "middle" {
		t.Fatalf("claimed %s, want middle (oldest already claimed)", second.ID)
	}
}

func TestMemoryClaimPendingEmpty(t *testing.T) {
	r := NewJobRepositoryMemory()
	if _, err := r.ClaimPending(context.Background()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ClaimPending on empty repo = %v, want ErrNotFound", err)
	}
}

func TestMemoryReclaimStale(t *testing.T) {
	r := NewJobRepositoryMemory()
	ctx := context.Background()
	if err := r.Create(ctx, &domain.GenerationJob{ID: "abandoned", Status: domain.JobStatusRunning}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.Create(ctx, &domain.GenerationJob{ID: "queued", Status: domain.JobStatusPending}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Recently-touched running jobs belong to a live worker.
	if _, err := r.ReclaimStale(ctx, time.Hour); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ReclaimStale with fresh jobs = %v, want ErrNotFound", err)
	}

	time.Sleep(10 * time.Millisecond)
	job, err := r.ReclaimStale(ctx, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}
	if job.ID != "abandoned" {
		t.Fatalf("reclaimed %s, want the stale running job", job.ID)
	}

	// Reclaiming refreshes the job, so it is not handed out twice.
	if _, err := r.ReclaimStale(ctx, 5*time.Millisecond); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second ReclaimStale = %v, want ErrNotFound", err)
	}
}

func TestMemoryCancelFlag(t *testing.T) {
	r := NewJobRepositoryMemory()
	ctx := context.Background()
	if err := r.Create(ctx, &domain.GenerationJob{ID: "j1", Status: domain.JobStatusPending}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	requested, err := r.CancelRequested(ctx, "j1")
	if err != nil || requested {
		t.Fatalf("CancelRequested before request = %v, %v", requested, err)
	}
	if err := r.RequestCancel(ctx, "j1"); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	requested, err = r.CancelRequested(ctx, "j1")
	if err != nil || !requested {
		t.Fatalf("CancelRequested after request = %v, %v", requested, err)
	}
	if err := r.RequestCancel(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("RequestCancel on missing job = %v, want ErrNotFound", err)
	}
}

func TestMemoryGetReturnsIsolatedCopy(t *testing.T) {
	r := NewJobRepositoryMemory()
	ctx := context.Background()
	job := &domain.GenerationJob{
		ID:     "j1",
		Status: domain.JobStatusPending,
		Scenes: []domain.Scene{{Index: 0, Prompt: "original"}},
	}
	if err := r.Create(ctx, job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := r.GetByID(ctx, "j1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	got.Scenes[0].Prompt = "mutated"
	got.Warnings = append(got.Warnings, "local note")

	again, err := r.GetByID(ctx, "j1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if again.Scenes[0].Prompt != "original" {
		t.Fatal("mutation through a returned copy leaked into the repository")
	}
	if len(again.Warnings) != 0 {
		t.Fatal("appended warning leaked into the repository")
	}
}

func TestMemoryUpdateMissingJob(t *testing.T) {
	r := NewJobRepositoryMemory()
	err := r.Update(context.Background(), &domain.GenerationJob{ID: "ghost"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Update missing = %v, want ErrNotFound", err)
	}
}
