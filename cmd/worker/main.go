package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"admint/internal/adapter/repo"
	"admint/internal/domain"
	"admint/internal/infra"
	"admint/internal/pipeline"
	"admint/internal/providers/llm"
	"admint/internal/providers/media"
	"admint/internal/scoring"
	"admint/internal/stitch"
	"admint/internal/storage"
)

// modelCatalog holds the generation parameters per known Replicate model.
// Chain entries not listed here still work with unconstrained parameters
// and unattributed cost.
var modelCatalog = map[string]media.ModelConfig{
	"wan-video/wan-2.1-i2v": {
		Name:                "wan-video/wan-2.1-i2v",
		AllowedDurations:    []int{4, 6, 8},
		AllowedAspectRatios: []string{"16:9", "9:16", "1:1"},
		CostPerSecond:       0.035,
	},
	"minimax/video-01": {
		Name:                "minimax/video-01",
		AllowedDurations:    []int{4, 6},
		AllowedAspectRatios: []string{"16:9", "9:16"},
		CostPerSecond:       0.050,
	},
	"kwaivgi/kling-v1.6-standard": {
		Name:                "kwaivgi/kling-v1.6-standard",
		AllowedDurations:    []int{4, 6, 8},
		AllowedAspectRatios: []string{"16:9", "9:16", "1:1"},
		CostPerSecond:       0.028,
	},
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	jobs := repo.NewJobRepository(pool)

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	planner, err := llm.NewClient(llm.Options{
		APIKey:     cfg.OpenAIAPIKey,
		Model:      cfg.OpenAIModel,
		BaseURL:    cfg.OpenAIBaseURL,
		HTTPClient: httpClient,
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure llm client")
	}

	replicate, err := media.NewReplicateClient(media.ReplicateOptions{
		APIToken:   cfg.ReplicateAPIToken,
		BaseURL:    cfg.ReplicateBaseURL,
		HTTPClient: httpClient,
		Store:      fileStore,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure replicate client")
	}
	generator, err := media.NewAdapter(replicate, buildChain(cfg.VideoModelChain), media.DefaultRetryPolicy(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure media adapter")
	}

	scorer := scoring.NewScorer(
		scoring.NewFuncMetric(scoring.MetricPreference, artifactPreference),
		scoring.NewUnavailableMetric(scoring.MetricAlignment),
		scoring.NewUnavailableMetric(scoring.MetricTemporal),
		scoring.NewUnavailableMetric(scoring.MetricAesthetic),
	)

	exporter := stitch.NewExporter(stitch.ExecRunner{}, cfg.FFmpegPath, logger)

	pipeCfg := pipeline.DefaultConfig()
	pipeCfg.SceneBatchSize = cfg.SceneBatchSize
	pipeCfg.PassThreshold = float64(cfg.PassThreshold)
	pipeCfg.MaxSceneAttempts = cfg.MaxSceneAttempts
	pipeCfg.AlignmentMaxScenes = cfg.AlignmentMaxScenes
	pipeCfg.AspectRatio = cfg.AspectRatio
	pipeCfg.Resolution = cfg.Resolution

	orchestrator, err := pipeline.New(jobs, planner, generator, scorer, exporter,
		filepath.Join(storagePath, "renders"), pipeCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure pipeline")
	}

	logger.Info().
		Strs("models", cfg.VideoModelChain).
		Dur("poll_interval", cfg.JobPollInterval).
		Msg("worker: started")

	runLoop(ctx, jobs, orchestrator, cfg.JobPollInterval, cfg.StaleClaimAfter, logger)
	logger.Info().Msg("worker: shutting down")
}

// buildChain resolves configured model names against the catalog, keeping
// the configured order. The first entry is the primary model.
func buildChain(names []string) []media.ModelConfig {
	chain := make([]media.ModelConfig, 0, len(names))
	for _, name := range names {
		if m, ok := modelCatalog[name]; ok {
			chain = append(chain, m)
			continue
		}
		chain = append(chain, media.ModelConfig{Name: name})
	}
	return chain
}

// runLoop claims pending jobs one at a time until the context ends. When no
// pending job exists it looks for a stale running job left behind by a dead
// worker and resumes it. A job failure is recorded on the job itself; the
// loop keeps going.
func runLoop(ctx context.Context, jobs domain.JobRepository, orchestrator *pipeline.Orchestrator, interval, staleAfter time.Duration, logger infra.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		job, err := jobs.ClaimPending(ctx)
		if errors.Is(err, domain.ErrNotFound) {
			job, err = jobs.ReclaimStale(ctx, staleAfter)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err == nil {
				logger.Warn().Str("job_id", job.ID).Str("stage", string(job.Stage)).Msg("worker: reclaimed stale job")
			}
		}
		if err != nil {
			if ctx.Err() == nil {
				logger.Error().Err(err).Msg("worker: claim failed")
			}
			continue
		}

		if err := orchestrator.Run(ctx, job.ID); err != nil {
			if errors.Is(err, domain.ErrJobCancelled) {
				continue
			}
			logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: job ended with error")
		}
	}
}

// artifactPreference is a local stand-in for a hosted preference model: it
// rejects missing or implausibly small artifacts and otherwise reports a
// flat acceptable score.
func artifactPreference(ctx context.Context, art scoring.Artifact) (float64, error) {
	info, err := os.Stat(art.Path)
	if err != nil {
		return 0, nil
	}
	if info.Size() < 16*1024 {
		return 30, nil
	}
	return 75, nil
}
