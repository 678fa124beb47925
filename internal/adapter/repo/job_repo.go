package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"admint/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL. The nested
// aggregate parts (story, scenes, entities, warnings) travel as JSONB so the
// whole job state survives restarts without a table per collection.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.GenerationJob) error {
	doc, err := marshalJob(job)
	if err != nil {
		return err
	}
	query := `
INSERT INTO generation_jobs
  (id, user_id, prompt, target_duration, reference_images, product_name,
   stage, status, progress, cost_usd, story_json, scenes_json, entities_json,
   warnings_json, result_path, error_message)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16);
`
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.Prompt,
		job.TargetDuration,
		doc.refImages,
		job.ProductName,
		job.Stage,
		job.Status,
		job.Progress,
		job.CostUSD,
		doc.story,
		doc.scenes,
		doc.entities,
		doc.warnings,
		job.ResultPath,
		job.Error,
	)
	return err
}

// Update persists the full mutable aggregate state.
func (r *JobRepositoryPG) Update(ctx context.Context, job *domain.GenerationJob) error {
	doc, err := marshalJob(job)
	if err != nil {
		return err
	}
	query := `
UPDATE generation_jobs
SET stage = $2,
    status = $3,
    progress = $4,
    cost_usd = $5,
    story_json = $6,
    scenes_json = $7,
    entities_json = $8,
    warnings_json = $9,
    result_path = $10,
    error_message = $11,
    target_duration = $12,
    completed_at = $13,
    updated_at = NOW()
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query,
		job.ID,
		job.Stage,
		job.Status,
		job.Progress,
		job.CostUSD,
		doc.story,
		doc.scenes,
		doc.entities,
		doc.warnings,
		job.ResultPath,
		job.Error,
		job.TargetDuration,
		job.CompletedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	query := `
SELECT id, user_id, prompt, target_duration, reference_images, product_name,
       stage, status, progress, cost_usd, story_json, scenes_json,
       entities_json, warnings_json, result_path, error_message,
       created_at, completed_at
FROM generation_jobs
WHERE id = $1;
`
	return r.scanJob(r.pool.QueryRow(ctx, query, jobID))
}

// ClaimPending atomically takes the oldest unclaimed pending job. SKIP LOCKED
// keeps concurrent workers from claiming the same row.
func (r *JobRepositoryPG) ClaimPending(ctx context.Context) (*domain.GenerationJob, error) {
	query := `
UPDATE generation_jobs
SET claimed_at = NOW()
WHERE id = (
    SELECT id FROM generation_jobs
    WHERE status = 'pending' AND claimed_at IS NULL
    ORDER BY created_at
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING id, user_id, prompt, target_duration, reference_images, product_name,
          stage, status, progress, cost_usd, story_json, scenes_json,
          entities_json, warnings_json, result_path, error_message,
          created_at, completed_at;
`
	return r.scanJob(r.pool.QueryRow(ctx, query))
}

// ReclaimStale takes over a running job whose last persist is older than
// olderThan, which means its worker died mid-pipeline. The aggregate is
// persisted after every stage and scene batch, so the new claimer resumes
// from the last completed boundary.
func (r *JobRepositoryPG) ReclaimStale(ctx context.Context, olderThan time.Duration) (*domain.GenerationJob, error) {
	query := `
UPDATE generation_jobs
SET claimed_at = NOW()
WHERE id = (
    SELECT id FROM generation_jobs
    WHERE status = 'running' AND updated_at < NOW() - $1
    ORDER BY updated_at
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING id, user_id, prompt, target_duration, reference_images, product_name,
          stage, status, progress, cost_usd, story_json, scenes_json,
          entities_json, warnings_json, result_path, error_message,
          created_at, completed_at;
`
	return r.scanJob(r.pool.QueryRow(ctx, query, olderThan))
}

// RequestCancel sets the cooperative cancellation flag for a job.
func (r *JobRepositoryPG) RequestCancel(ctx context.Context, jobID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE generation_jobs SET cancel_requested = TRUE, updated_at = NOW() WHERE id = $1;`, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CancelRequested reports the cancellation flag.
func (r *JobRepositoryPG) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	var requested bool
	err := r.pool.QueryRow(ctx,
		`SELECT cancel_requested FROM generation_jobs WHERE id = $1;`, jobID).Scan(&requested)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, domain.ErrNotFound
	}
	return requested, err
}

type jobDoc struct {
	story     []byte
	scenes    []byte
	entities  []byte
	warnings  []byte
	refImages []byte
}

func marshalJob(job *domain.GenerationJob) (jobDoc, error) {
	var doc jobDoc
	var err error
	if job.Story != nil {
		if doc.story, err = json.Marshal(job.Story); err != nil {
			return doc, fmt.Errorf("marshal story: %w", err)
		}
	}
	if doc.scenes, err = json.Marshal(job.Scenes); err != nil {
		return doc, fmt.Errorf("marshal scenes: %w", err)
	}
	if doc.entities, err = json.Marshal(job.Entities); err != nil {
		return doc, fmt.Errorf("marshal entities: %w", err)
	}
	if doc.warnings, err = json.Marshal(job.Warnings); err != nil {
		return doc, fmt.Errorf("marshal warnings: %w", err)
	}
	if doc.refImages, err = json.Marshal(job.ReferenceImages); err != nil {
		return doc, fmt.Errorf("marshal reference images: %w", err)
	}
	return doc, nil
}

func (r *JobRepositoryPG) scanJob(row pgx.Row) (*domain.GenerationJob, error) {
	var (
		job       domain.GenerationJob
		story     []byte
		scenes    []byte
		entities  []byte
		warnings  []byte
		refImages []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Prompt,
		&job.TargetDuration,
		&refImages,
		&job.ProductName,
		&job.Stage,
		&job.Status,
		&job.Progress,
		&job.CostUSD,
		&story,
		&scenes,
		&entities,
		&warnings,
		&job.ResultPath,
		&job.Error,
		&job.CreatedAt,
		&job.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if len(story) > 0 {
		job.Story = &domain.Story{}
		if err := json.Unmarshal(story, job.Story); err != nil {
			return nil, fmt.Errorf("unmarshal story: %w", err)
		}
	}
	for _, col := range []struct {
		raw []byte
		dst any
	}{
		{scenes, &job.Scenes},
		{entities, &job.Entities},
		{warnings, &job.Warnings},
		{refImages, &job.ReferenceImages},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dst); err != nil {
			return nil, fmt.Errorf("unmarshal job document: %w", err)
		}
	}
	return &job, nil
}
