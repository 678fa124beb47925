package domain

// MetricScore is one named sub-score of a quality assessment.
type MetricScore struct {
	Name      string  `json:"name"`
	Score     float64 `json:"score"` // 0-100
	Available bool    `json:"available"`
}

// QualityAssessment is the scored evaluation of one generated artifact.
// Attempt numbers for the same artifact are strictly increasing.
type QualityAssessment struct {
	ArtifactPath string        `json:"artifact_path"`
	SubScores    []MetricScore `json:"sub_scores"`
	Overall      float64       `json:"overall"`
	Passed       bool          `json:"passed"`
	Attempt      int           `json:"attempt"`
}
