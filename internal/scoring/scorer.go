// Package scoring computes reproducible quality verdicts for generated
// artifacts and owns the retry / best-of-N selection policy built on them.
package scoring

import (
	"context"
	"fmt"
	"sort"

	"admint/internal/domain"
)

// Artifact is the scorer's view of one generated file plus its origin.
type Artifact struct {
	Path     string
	Prompt   string
	IsVideo  bool
	Duration int
}

// Metric scores one artifact on a single named axis in [0, 100]. A metric
// whose backing model is not loaded in the current environment reports
// Available() == false; its sub-score records the neutral default and is
// excluded from the weighted overall.
type Metric interface {
	Name() string
	Available() bool
	Score(ctx context.Context, art Artifact) (float64, error)
}

// NeutralScore is recorded for unavailable metrics.
const NeutralScore = 50.0

// Metric weights, renormalized over whichever metrics are available.
var defaultWeights = map[string]float64{
	MetricPreference: 0.50,
	MetricAlignment:  0.25,
	MetricTemporal:   0.15,
	MetricAesthetic:  0.10,
}

// customMetricWeight is assigned to metrics registered under a name outside
// the canonical set, so an embedder's own metric contributes to the overall
// instead of silently carrying weight zero.
const customMetricWeight = 0.10

// Canonical metric names.
const (
	MetricPreference = "preference"
	MetricAlignment  = "alignment"
	MetricTemporal   = "temporal_consistency"
	MetricAesthetic  = "aesthetic"
)

// Scorer evaluates artifacts against a registry of metrics.
type Scorer struct {
	metrics map[string]Metric
	weights map[string]float64
}

// NewScorer builds a scorer over the given metrics. Canonical metric names
// take the default weights; other names get customMetricWeight.
func NewScorer(metrics ...Metric) *Scorer {
	s := &Scorer{
		metrics: make(map[string]Metric, len(metrics)),
		weights: make(map[string]float64, len(metrics)),
	}
	for _, m := range metrics {
		s.metrics[m.Name()] = m
		if w, ok := defaultWeights[m.Name()]; ok {
			s.weights[m.Name()] = w
		} else {
			s.weights[m.Name()] = customMetricWeight
		}
	}
	return s
}

// Score computes the named sub-scores and the weighted overall for one
// artifact. When no names are given, every registered metric runs. If every
// requested metric is unavailable the call fails; there is nothing to
// renormalize over.
func (s *Scorer) Score(ctx context.Context, art Artifact, attempt int, names ...string) (*domain.QualityAssessment, error) {
	if len(names) == 0 {
		names = make([]string, 0, len(s.metrics))
		for name := range s.metrics {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	assessment := &domain.QualityAssessment{
		ArtifactPath: art.Path,
		Attempt:      attempt,
	}
	var weighted, weightSum float64
	for _, name := range names {
		m, ok := s.metrics[name]
		if !ok {
			return nil, fmt.Errorf("metric %q not registered", name)
		}
		if !m.Available() {
			assessment.SubScores = append(assessment.SubScores, domain.MetricScore{
				Name:      name,
				Score:     NeutralScore,
				Available: false,
			})
			continue
		}
		score, err := m.Score(ctx, art)
		if err != nil {
			return nil, fmt.Errorf("metric %q: %w", name, err)
		}
		score = clamp(score)
		assessment.SubScores = append(assessment.SubScores, domain.MetricScore{
			Name:      name,
			Score:     score,
			Available: true,
		})
		w := s.weights[name]
		weighted += score * w
		weightSum += w
	}
	if weightSum == 0 {
		return nil, fmt.Errorf("no requested metric is available")
	}
	assessment.Overall = weighted / weightSum
	return assessment, nil
}

// Rank sorts assessments descending by overall score. The sort is stable so
// ties resolve to the earliest-generated attempt, keeping selection
// deterministic.
func Rank(assessments []*domain.QualityAssessment) []*domain.QualityAssessment {
	ranked := append([]*domain.QualityAssessment(nil), assessments...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Overall > ranked[j].Overall
	})
	return ranked
}

// RetryPolicy is the caller-facing regeneration policy: retry while below
// the pass threshold and under the attempt budget, then settle for the best
// attempt seen.
type RetryPolicy struct {
	PassThreshold float64
	MaxAttempts   int
}

// Judge stamps the pass verdict onto an assessment and reports whether the
// caller should request another generation.
func (p RetryPolicy) Judge(assessment *domain.QualityAssessment) (regenerate bool) {
	assessment.Passed = assessment.Overall >= p.PassThreshold
	return !assessment.Passed && assessment.Attempt < p.MaxAttempts
}

// BestOf picks the winning assessment from all attempts for one scene.
// Used when the attempt budget is exhausted without a pass.
func (p RetryPolicy) BestOf(assessments []*domain.QualityAssessment) *domain.QualityAssessment {
	if len(assessments) == 0 {
		return nil
	}
	return Rank(assessments)[0]
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
