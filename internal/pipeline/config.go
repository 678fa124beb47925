package pipeline

import (
	"admint/internal/planner"
	"admint/internal/prompt"
)

// Config carries the orchestrator's tunables. Defaults match production;
// embedders override individual fields.
type Config struct {
	// Accepted target duration range in seconds. A zero duration on the
	// job takes the default instead of failing.
	MinDurationSeconds     int
	MaxDurationSeconds     int
	DefaultDurationSeconds int

	Planner planner.Config

	// SceneBatchSize bounds concurrent scene sub-pipelines. Unbounded
	// parallelism defeats per-scene progress reporting and widens the
	// blast radius of a rate-limit error.
	SceneBatchSize int

	AspectRatio string
	Resolution  string
	Register    prompt.Register

	// PassThreshold and MaxSceneAttempts drive the quality retry loop;
	// an exhausted budget falls back to the best-scoring attempt.
	PassThreshold    float64
	MaxSceneAttempts int

	// AlignmentMaxScenes bounds the cross-scene refinement pass; plans
	// with more scenes skip it. Zero disables the pass entirely.
	AlignmentMaxScenes int

	// Seed, when set, is passed through to every generation call for
	// reproducible output on models that honor it.
	Seed *int64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MinDurationSeconds:     4,
		MaxDurationSeconds:     120,
		DefaultDurationSeconds: 15,
		Planner:                planner.DefaultConfig(),
		SceneBatchSize:         2,
		AspectRatio:            "16:9",
		Register:               prompt.RegisterConcise,
		PassThreshold:          70,
		MaxSceneAttempts:       3,
		AlignmentMaxScenes:     6,
	}
}
