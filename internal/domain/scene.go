package domain

import "admint/internal/domain/jsoncfg"

// SceneStatus enumerates per-scene outcomes within a running job.
type SceneStatus string

const (
	SceneStatusPlanned   SceneStatus = "planned"
	SceneStatusGenerated SceneStatus = "generated"
	SceneStatusFailed    SceneStatus = "failed"
)

// GenerationMode selects how a scene's video call is conditioned: on
// reference images of the subject, or on explicit start/end frames.
type GenerationMode string

const (
	ModeReferenceConditioned GenerationMode = "reference_conditioned"
	ModeFrameConditioned     GenerationMode = "frame_conditioned"
)

// DecideMode picks the generation mode for a scene once, from the two
// inputs that determine it. Call sites must not re-derive the mode ad hoc.
func DecideMode(hasReferenceImages, subjectPresent bool) GenerationMode {
	if hasReferenceImages && subjectPresent {
		return ModeReferenceConditioned
	}
	return ModeFrameConditioned
}

// Scene is one timed segment of the final video. Index order is playback
// order. Scenes are never deleted, only marked failed.
type Scene struct {
	Index          int              `json:"index"`
	Duration       int              `json:"duration"` // seconds, one of the allowed buckets
	Fragment       jsoncfg.Fragment `json:"fragment"`
	EntityRefs     []string         `json:"entity_refs"`
	Prompt         string           `json:"prompt"`
	NegativePrompt string           `json:"negative_prompt"`
	Mode           GenerationMode   `json:"mode"`
	ArtifactPath   string           `json:"artifact_path,omitempty"`
	Score          *float64         `json:"score,omitempty"`
	Attempts       int              `json:"attempts"`
	Status         SceneStatus      `json:"status"`
	ServedByModel  string           `json:"served_by_model,omitempty"`
}
