// Package media wraps outbound calls to hosted generative-media models with
// parameter validation, bounded retries and an ordered model fallback chain.
// It owns no business logic beyond request shaping and resilience.
package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"admint/internal/domain"
)

// Params are the structured generation parameters, constrained to each
// model's allowed value sets before any network call is made.
type Params struct {
	DurationSeconds int
	AspectRatio     string
	Resolution      string
	Seed            *int64
	ReferenceImages []string
	Mode            domain.GenerationMode
}

// ModelConfig describes one model in the fallback chain.
type ModelConfig struct {
	// Name is the provider model reference, e.g. "wan-video/wan-2.1-i2v".
	Name                string
	AllowedDurations    []int
	AllowedAspectRatios []string
	// CostPerSecond prices a second of compute for cost attribution.
	CostPerSecond float64
}

// ValidateParams rejects parameter values outside the model's allowed sets.
func (m ModelConfig) ValidateParams(p Params) error {
	if len(m.AllowedDurations) > 0 && !containsInt(m.AllowedDurations, p.DurationSeconds) {
		return fmt.Errorf("duration %ds not in allowed set %v for model %s", p.DurationSeconds, m.AllowedDurations, m.Name)
	}
	if len(m.AllowedAspectRatios) > 0 && p.AspectRatio != "" && !containsString(m.AllowedAspectRatios, p.AspectRatio) {
		return fmt.Errorf("aspect ratio %q not in allowed set %v for model %s", p.AspectRatio, m.AllowedAspectRatios, m.Name)
	}
	if p.Mode == domain.ModeReferenceConditioned && len(p.ReferenceImages) == 0 {
		return fmt.Errorf("reference-conditioned generation requires reference images")
	}
	return nil
}

// GenerateRequest is one artifact generation call. Attempt distinguishes
// regenerations of the same scene so their artifacts never share a storage
// key.
type GenerateRequest struct {
	JobID          string
	SceneIndex     int
	Attempt        int
	Prompt         string
	NegativePrompt string
	Params         Params
}

// Result is a locally-available artifact plus its attributed cost and the
// model that actually served the request.
type Result struct {
	FilePath string
	CostUSD  float64
	Model    string
}

// Generator is the adapter surface the orchestrator consumes.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Result, error)
}

// Prediction is the provider's view of one finished generation.
type Prediction struct {
	OutputURL      string
	PredictSeconds float64
}

// PredictionClient runs one model call against the hosted provider.
type PredictionClient interface {
	Predict(ctx context.Context, model string, input map[string]any) (*Prediction, error)
	// Download fetches the artifact into local storage and returns its path.
	Download(ctx context.Context, url, key string) (string, error)
}

// Adapter drives the fallback chain with the injected retry policy.
type Adapter struct {
	client PredictionClient
	chain  []ModelConfig
	policy RetryPolicy
	logger zerolog.Logger
}

// NewAdapter builds an adapter over an ordered model chain; the first entry
// is the primary model.
func NewAdapter(client PredictionClient, chain []ModelConfig, policy RetryPolicy, logger zerolog.Logger) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("media: prediction client is required")
	}
	if len(chain) == 0 {
		return nil, errors.New("media: at least one model is required")
	}
	return &Adapter{client: client, chain: chain, policy: policy, logger: logger}, nil
}

// Generate runs the request against the primary model, retrying per the
// policy, then walks the fallback chain. Parameters invalid for the primary
// model are an input error reported before any network call; a fallback
// model that cannot accept the parameters is skipped with a log entry.
func (a *Adapter) Generate(ctx context.Context, req GenerateRequest) (*Result, error) {
	if req.Prompt == "" {
		return nil, &ProviderError{Class: ClassInput, Model: a.chain[0].Name, Err: errors.New("empty prompt")}
	}
	if err := a.chain[0].ValidateParams(req.Params); err != nil {
		return nil, &ProviderError{Class: ClassInput, Model: a.chain[0].Name, Err: err}
	}

	var lastErr error
	for i, model := range a.chain {
		if i > 0 {
			if err := model.ValidateParams(req.Params); err != nil {
				a.logger.Warn().Str("model", model.Name).Err(err).Msg("media: fallback model skipped, params out of range")
				continue
			}
			a.logger.Info().
				Str("job_id", req.JobID).
				Int("scene", req.SceneIndex).
				Str("model", model.Name).
				Msg("media: falling back to alternate model")
		}
		result, err := a.generateWithModel(ctx, model, req)
		if err == nil {
			a.logger.Info().
				Str("job_id", req.JobID).
				Int("scene", req.SceneIndex).
				Str("model", model.Name).
				Float64("cost_usd", result.CostUSD).
				Msg("media: generation served")
			return result, nil
		}
		lastErr = err
		if Classify(err) == ClassInput {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("all models exhausted: %w", lastErr)
}

func (a *Adapter) generateWithModel(ctx context.Context, model ModelConfig, req GenerateRequest) (*Result, error) {
	input := buildInput(req)
	attempt := 0
	for {
		attempt++
		pred, err := a.client.Predict(ctx, model.Name, input)
		if err == nil {
			key := fmt.Sprintf("generated/%s/scene-%02d-a%d-%s.mp4", req.JobID, req.SceneIndex, req.Attempt, sanitizeModelName(model.Name))
			path, dlErr := a.client.Download(ctx, pred.OutputURL, key)
			if dlErr != nil {
				return nil, fmt.Errorf("download artifact: %w", dlErr)
			}
			return &Result{
				FilePath: path,
				CostUSD:  attributeCost(model, pred, req.Params),
				Model:    model.Name,
			}, nil
		}

		class := Classify(err)
		budget := a.policy.AttemptsFor(class)
		a.logger.Warn().
			Str("model", model.Name).
			Str("class", class.String()).
			Int("attempt", attempt).
			Int("budget", budget).
			Err(err).
			Msg("media: generation attempt failed")
		if class == ClassInput {
			return nil, err
		}
		if attempt >= budget {
			return nil, err
		}
		if sleepErr := a.policy.sleep(ctx, a.policy.Delay(attempt)); sleepErr != nil {
			return nil, sleepErr
		}
	}
}

func buildInput(req GenerateRequest) map[string]any {
	input := map[string]any{
		"prompt":   req.Prompt,
		"duration": req.Params.DurationSeconds,
	}
	if req.NegativePrompt != "" {
		input["negative_prompt"] = req.NegativePrompt
	}
	if req.Params.AspectRatio != "" {
		input["aspect_ratio"] = req.Params.AspectRatio
	}
	if req.Params.Resolution != "" {
		input["resolution"] = req.Params.Resolution
	}
	if req.Params.Seed != nil {
		input["seed"] = *req.Params.Seed
	}
	if req.Params.Mode == domain.ModeReferenceConditioned {
		input["reference_images"] = req.Params.ReferenceImages
	}
	return input
}

// attributeCost prices the call from the provider-reported compute time,
// falling back to the requested clip duration when the provider omits it.
func attributeCost(model ModelConfig, pred *Prediction, params Params) float64 {
	seconds := pred.PredictSeconds
	if seconds <= 0 {
		seconds = float64(params.DurationSeconds)
	}
	return seconds * model.CostPerSecond
}

func sanitizeModelName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func containsInt(vals []int, v int) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(vals []string, v string) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}
	return false
}

var _ Generator = (*Adapter)(nil)
