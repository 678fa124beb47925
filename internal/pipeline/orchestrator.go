// Package pipeline drives a generation job through its stages: story
// planning, scene planning, per-scene asset generation with quality-gated
// retries, and final stitching. The orchestrator is the only writer of job
// state; scene workers report back over a result channel.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"admint/internal/consistency"
	"admint/internal/domain"
	"admint/internal/infra"
	"admint/internal/planner"
	"admint/internal/prompt"
	"admint/internal/providers/llm"
	"admint/internal/providers/media"
	"admint/internal/scoring"
	"admint/internal/stitch"
)

// Exporter is the stitching surface the orchestrator consumes.
type Exporter interface {
	Export(ctx context.Context, in stitch.Input) (string, []string, error)
}

// Orchestrator runs generation jobs end to end.
type Orchestrator struct {
	repo       domain.JobRepository
	llmPlanner llm.Planner
	media      media.Generator
	scorer     *scoring.Scorer
	exporter   Exporter
	cfg        Config
	logger     infra.Logger
	outDir     string
}

// New wires an orchestrator.
func New(repo domain.JobRepository, llmPlanner llm.Planner, gen media.Generator, scorer *scoring.Scorer, exporter Exporter, outDir string, cfg Config, logger infra.Logger) (*Orchestrator, error) {
	if repo == nil || llmPlanner == nil || gen == nil || scorer == nil || exporter == nil {
		return nil, errors.New("pipeline: all collaborators are required")
	}
	if cfg.SceneBatchSize <= 0 {
		cfg.SceneBatchSize = 1
	}
	return &Orchestrator{
		repo:       repo,
		llmPlanner: llmPlanner,
		media:      gen,
		scorer:     scorer,
		exporter:   exporter,
		cfg:        cfg,
		logger:     logger,
		outDir:     outDir,
	}, nil
}

// Progress checkpoints per stage; asset generation interpolates between
// its floor and ceiling as scenes complete.
const (
	progressStoryDone  = 10
	progressScenesDone = 20
	progressAssetsCeil = 85
	progressDone       = 100
)

// Run takes a job to a terminal state. Pending jobs are validated and
// started; running jobs are resumed at their persisted stage, which is how
// a reclaimed job from a dead worker continues. Input errors are rejected
// before the job enters running; every terminal state carries a classified,
// user-readable message.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.repo.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	switch job.Status {
	case domain.JobStatusPending:
		if err := o.validateInput(job); err != nil {
			job.Error = err.Error()
			_ = job.Transition(domain.JobStatusFailed)
			if persistErr := o.repo.Update(ctx, job); persistErr != nil {
				return persistErr
			}
			return err
		}
		if err := job.Transition(domain.JobStatusRunning); err != nil {
			return err
		}
		job.Stage = domain.StagePlanningStory
		if err := o.repo.Update(ctx, job); err != nil {
			return err
		}
		o.logger.Info().Str("job_id", job.ID).Int("duration", job.TargetDuration).Msg("pipeline: job started")
	case domain.JobStatusRunning:
		o.logger.Info().Str("job_id", job.ID).Str("stage", string(job.Stage)).Msg("pipeline: resuming job at persisted stage")
	default:
		return fmt.Errorf("job %s: %w: cannot run from status %s", jobID, domain.ErrInvalidTransition, job.Status)
	}

	stages := []struct {
		stage domain.Stage
		run   func(context.Context, *domain.GenerationJob) error
	}{
		{domain.StagePlanningStory, o.planStory},
		{domain.StagePlanningScenes, o.planScenes},
		{domain.StageGeneratingAssets, o.generateAssets},
		{domain.StageStitching, o.stitchFinal},
	}
	start := 0
	for i, s := range stages {
		if s.stage == job.Stage {
			start = i
			break
		}
	}
	for _, stage := range stages[start:] {
		cancelled, err := o.checkCancelled(ctx, job)
		if err != nil {
			return o.fail(ctx, job, "internal error checking cancellation", err)
		}
		if cancelled {
			return o.cancel(ctx, job)
		}
		if err := stage.run(ctx, job); err != nil {
			if errors.Is(err, domain.ErrJobCancelled) {
				return o.cancel(ctx, job)
			}
			return o.fail(ctx, job, err.Error(), err)
		}
	}

	job.SetProgress(progressDone)
	job.Stage = domain.StageCompleted
	if err := job.Transition(domain.JobStatusCompleted); err != nil {
		return err
	}
	if err := o.repo.Update(ctx, job); err != nil {
		return err
	}
	o.logger.Info().
		Str("job_id", job.ID).
		Str("result", job.ResultPath).
		Float64("cost_usd", job.CostUSD).
		Int("warnings", len(job.Warnings)).
		Msg("pipeline: job completed")
	return nil
}

func (o *Orchestrator) validateInput(job *domain.GenerationJob) error {
	if strings.TrimSpace(job.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", domain.ErrInvalidPrompt)
	}
	if job.TargetDuration == 0 {
		job.TargetDuration = o.cfg.DefaultDurationSeconds
	}
	if job.TargetDuration < o.cfg.MinDurationSeconds || job.TargetDuration > o.cfg.MaxDurationSeconds {
		return fmt.Errorf("%w: target duration %ds outside allowed range %d-%ds",
			domain.ErrInvalidDuration, job.TargetDuration, o.cfg.MinDurationSeconds, o.cfg.MaxDurationSeconds)
	}
	return nil
}

func (o *Orchestrator) planStory(ctx context.Context, job *domain.GenerationJob) error {
	job.Stage = domain.StagePlanningStory
	story, err := o.llmPlanner.PlanStory(ctx, llm.StoryRequest{
		Prompt:         job.Prompt,
		TargetDuration: job.TargetDuration,
		ProductName:    job.ProductName,
	})
	if err != nil {
		return fmt.Errorf("story generation failed: %w", err)
	}
	job.Story = story
	job.SetProgress(progressStoryDone)
	return o.repo.Update(ctx, job)
}

// RefineStory regenerates the job's story wholesale from user feedback.
// Only pending jobs can be refined; a running pipeline owns its story.
func (o *Orchestrator) RefineStory(ctx context.Context, jobID, feedback string) (*domain.Story, error) {
	job, err := o.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusPending {
		return nil, fmt.Errorf("job %s: %w: refine requires a pending job", jobID, domain.ErrInvalidTransition)
	}
	previous := ""
	if job.Story != nil {
		previous = job.Story.Narrative
	}
	story, err := o.llmPlanner.PlanStory(ctx, llm.StoryRequest{
		Prompt:         job.Prompt,
		TargetDuration: job.TargetDuration,
		ProductName:    job.ProductName,
		Feedback:       feedback,
		PreviousStory:  previous,
	})
	if err != nil {
		return nil, fmt.Errorf("story refinement failed: %w", err)
	}
	job.Story = story
	job.Scenes = nil
	if err := o.repo.Update(ctx, job); err != nil {
		return nil, err
	}
	return story, nil
}

func (o *Orchestrator) planScenes(ctx context.Context, job *domain.GenerationJob) error {
	job.Stage = domain.StagePlanningScenes

	plan, err := planner.PlanDurations(job.TargetDuration, o.cfg.Planner)
	if err != nil {
		return fmt.Errorf("scene planning failed: %w", err)
	}
	job.Story.Journey = plan.Journey

	fragments, err := o.llmPlanner.PlanFragments(ctx, llm.FragmentRequest{
		Story:       *job.Story,
		Durations:   plan.Durations,
		ProductName: job.ProductName,
	})
	if err != nil {
		return fmt.Errorf("scene breakdown failed: %w", err)
	}

	// A resumed job keeps the entity descriptions it already derived; the
	// injected text must stay byte-identical across the restart.
	var registry *consistency.Registry
	if len(job.Entities) > 0 {
		registry = consistency.Load(job.Entities)
	} else {
		registry = o.deriveEntities(ctx, job)
	}
	entityIDs := make([]string, 0, len(registry.All()))
	for _, e := range registry.All() {
		entityIDs = append(entityIDs, e.ID)
	}
	job.Entities = registry.All()

	hasRefs := len(job.ReferenceImages) > 0
	job.Scenes = make([]domain.Scene, len(fragments))
	for i, frag := range fragments {
		scene := domain.Scene{
			Index:      i,
			Duration:   plan.Durations[i],
			Fragment:   frag,
			EntityRefs: entityIDs,
			Status:     domain.SceneStatusPlanned,
		}
		entities, resolveErr := registry.Resolve(scene.EntityRefs)
		if resolveErr != nil {
			return fmt.Errorf("scene %d: %w", i, resolveErr)
		}
		out, asmErr := prompt.Assemble(prompt.Input{
			Fragment:           frag,
			Entities:           entities,
			HasReferenceImages: hasRefs,
			Register:           o.cfg.Register,
		})
		if asmErr != nil {
			return fmt.Errorf("scene %d prompt assembly failed: %w", i, asmErr)
		}
		scene.Prompt = out.Prompt
		scene.NegativePrompt = out.NegativePrompt
		scene.Mode = out.Mode
		job.Scenes[i] = scene
	}

	o.refineAlignment(ctx, job)

	job.SetProgress(progressScenesDone)
	return o.repo.Update(ctx, job)
}

// deriveEntities builds the job's consistency registry. Derivation failure
// is a known quality degradation, not a job failure: the pipeline continues
// without a consistency record and says so in the warning list.
func (o *Orchestrator) deriveEntities(ctx context.Context, job *domain.GenerationJob) *consistency.Registry {
	registry := consistency.NewRegistry()
	story := job.Story.Narrative

	if job.ProductName != "" {
		if _, err := registry.Derive(ctx, o.llmPlanner, story, domain.EntityKindProduct, job.ProductName, job.ReferenceImages); err != nil {
			o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("pipeline: product entity derivation failed")
			job.Warn(fmt.Sprintf("product consistency unavailable: %v", err))
		}
	}

	characterImages := job.ReferenceImages
	if job.ProductName != "" {
		// Reference images accompany the product; the character is
		// invented from the story.
		characterImages = nil
	}
	if _, err := registry.Derive(ctx, o.llmPlanner, story, domain.EntityKindCharacter, "protagonist", characterImages); err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("pipeline: character entity derivation failed")
		job.Warn(fmt.Sprintf("character consistency unavailable: %v", err))
	}
	return registry
}

// refineAlignment runs the optional cross-scene coherence pass. Skipped for
// plans above the configured scene count; any failure or tampering with the
// verbatim entity blocks keeps the original prompts.
func (o *Orchestrator) refineAlignment(ctx context.Context, job *domain.GenerationJob) {
	if o.cfg.AlignmentMaxScenes <= 0 || len(job.Scenes) > o.cfg.AlignmentMaxScenes {
		return
	}
	prompts := make([]string, len(job.Scenes))
	for i, s := range job.Scenes {
		prompts[i] = s.Prompt
	}
	refined, err := o.llmPlanner.RefineAlignment(ctx, job.Story.Narrative, prompts)
	if err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("pipeline: alignment refinement failed, keeping original prompts")
		job.Warn("cross-scene alignment refinement skipped after model failure")
		return
	}
	for i := range job.Scenes {
		if entityBlocksIntact(job.Scenes[i].Prompt, refined[i]) {
			job.Scenes[i].Prompt = refined[i]
		} else {
			o.logger.Warn().Int("scene", i).Str("job_id", job.ID).Msg("pipeline: refinement altered entity block, keeping original prompt")
		}
	}
}

// entityBlocksIntact verifies the refinement preserved every verbatim
// "maintain EXACT appearance" block from the original prompt.
func entityBlocksIntact(original, refined string) bool {
	for _, marker := range []string{"CHARACTER (maintain EXACT appearance): ", "PRODUCT (maintain EXACT appearance): "} {
		idx := strings.Index(original, marker)
		for idx >= 0 {
			rest := original[idx:]
			end := strings.Index(rest, "\n\n")
			block := rest
			if end >= 0 {
				block = rest[:end]
			}
			if !strings.Contains(refined, block) {
				return false
			}
			next := strings.Index(original[idx+len(marker):], marker)
			if next < 0 {
				break
			}
			idx = idx + len(marker) + next
		}
	}
	return true
}

type sceneResult struct {
	index    int
	path     string
	score    *float64
	attempts int
	model    string
	cost     float64
	warnings []string
	failed   bool
	failMsg  string
}

func (o *Orchestrator) generateAssets(ctx context.Context, job *domain.GenerationJob) error {
	job.Stage = domain.StageGeneratingAssets
	if err := o.repo.Update(ctx, job); err != nil {
		return err
	}

	total := len(job.Scenes)
	completed := 0
	for start := 0; start < total; start += o.cfg.SceneBatchSize {
		cancelled, err := o.checkCancelled(ctx, job)
		if err != nil {
			return err
		}
		if cancelled {
			// Artifacts from finished batches stay referenced on the job.
			return domain.ErrJobCancelled
		}

		end := start + o.cfg.SceneBatchSize
		if end > total {
			end = total
		}
		results := make(chan sceneResult, end-start)
		var g errgroup.Group
		for i := start; i < end; i++ {
			scene := job.Scenes[i]
			g.Go(func() error {
				results <- o.runScene(ctx, job.ID, scene, job.ReferenceImages)
				return nil
			})
		}
		_ = g.Wait()
		close(results)

		// Single-writer: only this loop touches job state.
		for r := range results {
			scene := &job.Scenes[r.index]
			scene.Attempts = r.attempts
			job.AddCost(r.cost)
			for _, w := range r.warnings {
				job.Warn(w)
			}
			if r.failed {
				scene.Status = domain.SceneStatusFailed
				job.Warn(fmt.Sprintf("scene %d failed: %s", r.index, r.failMsg))
			} else {
				scene.Status = domain.SceneStatusGenerated
				scene.ArtifactPath = r.path
				scene.Score = r.score
				scene.ServedByModel = r.model
			}
			completed++
			job.SetProgress(progressScenesDone + (progressAssetsCeil-progressScenesDone)*completed/total)
		}
		if err := o.repo.Update(ctx, job); err != nil {
			return err
		}
	}

	succeeded := 0
	for _, s := range job.Scenes {
		if s.Status == domain.SceneStatusGenerated {
			succeeded++
		}
	}
	if succeeded == 0 {
		return fmt.Errorf("asset generation failed: %w", domain.ErrNoScenesSucceeded)
	}
	return nil
}

// runScene executes one scene sub-pipeline: generate, score, and loop while
// the quality verdict asks for regeneration. It never touches shared job
// state; everything flows back through the result.
func (o *Orchestrator) runScene(ctx context.Context, jobID string, scene domain.Scene, refImages []string) sceneResult {
	result := sceneResult{index: scene.Index}
	policy := scoring.RetryPolicy{PassThreshold: o.cfg.PassThreshold, MaxAttempts: o.cfg.MaxSceneAttempts}

	type attemptArtifact struct {
		path  string
		model string
	}
	var (
		assessments []*domain.QualityAssessment
		// Keyed by attempt number: artifact paths are attempt-unique in
		// storage, and the winning assessment is looked up by its attempt.
		artifacts = map[int]attemptArtifact{}
	)

	for attempt := 1; attempt <= o.cfg.MaxSceneAttempts; attempt++ {
		gen, err := o.media.Generate(ctx, media.GenerateRequest{
			JobID:          jobID,
			SceneIndex:     scene.Index,
			Attempt:        attempt,
			Prompt:         scene.Prompt,
			NegativePrompt: scene.NegativePrompt,
			Params: media.Params{
				DurationSeconds: scene.Duration,
				AspectRatio:     o.cfg.AspectRatio,
				Resolution:      o.cfg.Resolution,
				Seed:            o.cfg.Seed,
				ReferenceImages: refImagesFor(scene, refImages),
				Mode:            scene.Mode,
			},
		})
		result.attempts = attempt
		if err != nil {
			// The adapter already exhausted retries and fallbacks.
			if len(assessments) > 0 {
				break
			}
			result.failed = true
			result.failMsg = err.Error()
			return result
		}
		result.cost += gen.CostUSD

		assessment, scoreErr := o.scorer.Score(ctx, scoring.Artifact{
			Path:     gen.FilePath,
			Prompt:   scene.Prompt,
			IsVideo:  true,
			Duration: scene.Duration,
		}, attempt)
		if scoreErr != nil {
			// Unscoreable artifacts are a degradation, not a failure.
			result.warnings = append(result.warnings, fmt.Sprintf("scene %d attempt %d unscoreable: %v", scene.Index, attempt, scoreErr))
			result.path = gen.FilePath
			result.model = gen.Model
			return result
		}
		assessments = append(assessments, assessment)
		artifacts[attempt] = attemptArtifact{path: gen.FilePath, model: gen.Model}

		if !policy.Judge(assessment) {
			break
		}
		o.logger.Debug().
			Str("job_id", jobID).
			Int("scene", scene.Index).
			Int("attempt", attempt).
			Float64("score", assessment.Overall).
			Msg("pipeline: scene below quality threshold, regenerating")
	}

	best := policy.BestOf(assessments)
	if best == nil {
		result.failed = true
		result.failMsg = "no artifact produced"
		return result
	}
	chosen := artifacts[best.Attempt]
	score := best.Overall
	result.path = chosen.path
	result.model = chosen.model
	result.score = &score
	if !best.Passed {
		result.warnings = append(result.warnings,
			fmt.Sprintf("scene %d below quality threshold after %d attempts, kept best score %.0f", scene.Index, best.Attempt, best.Overall))
	}
	return result
}

// refImagesFor hands the job's reference images to the generator only for
// reference-conditioned scenes; frame-conditioned scenes must not carry them.
func refImagesFor(scene domain.Scene, refImages []string) []string {
	if scene.Mode != domain.ModeReferenceConditioned {
		return nil
	}
	return refImages
}

func (o *Orchestrator) stitchFinal(ctx context.Context, job *domain.GenerationJob) error {
	job.Stage = domain.StageStitching
	job.SetProgress(progressAssetsCeil)
	if err := o.repo.Update(ctx, job); err != nil {
		return err
	}

	clips := make([]stitch.Clip, len(job.Scenes))
	for i, s := range job.Scenes {
		clips[i] = stitch.Clip{Index: s.Index, Path: s.ArtifactPath}
	}
	out := filepath.Join(o.outDir, job.ID, "final.mp4")
	resultPath, warnings, err := o.exporter.Export(ctx, stitch.Input{
		Clips:      clips,
		OutputPath: out,
		WorkDir:    filepath.Join(o.outDir, job.ID),
	})
	for _, w := range warnings {
		job.Warn(w)
	}
	if err != nil {
		return fmt.Errorf("stitching failed: %w", err)
	}
	job.ResultPath = resultPath
	return o.repo.Update(ctx, job)
}

func (o *Orchestrator) checkCancelled(ctx context.Context, job *domain.GenerationJob) (bool, error) {
	if ctx.Err() != nil {
		return true, nil
	}
	return o.repo.CancelRequested(ctx, job.ID)
}

func (o *Orchestrator) cancel(ctx context.Context, job *domain.GenerationJob) error {
	if err := job.Transition(domain.JobStatusCancelled); err != nil {
		return err
	}
	// Deliberate stop: no error message, partial artifacts retained.
	if err := o.repo.Update(ctx, job); err != nil {
		return err
	}
	o.logger.Info().Str("job_id", job.ID).Msg("pipeline: job cancelled")
	return domain.ErrJobCancelled
}

func (o *Orchestrator) fail(ctx context.Context, job *domain.GenerationJob, msg string, cause error) error {
	job.Error = msg
	if err := job.Transition(domain.JobStatusFailed); err != nil {
		return err
	}
	if err := o.repo.Update(ctx, job); err != nil {
		return err
	}
	o.logger.Error().Err(cause).Str("job_id", job.ID).Str("stage", string(job.Stage)).Msg("pipeline: job failed")
	return cause
}
