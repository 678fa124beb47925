// Package planner decides how a target video duration is divided into
// scenes, constrained to the duration buckets the downstream video models
// accept.
package planner

import "fmt"

// Config carries the numeric policy for scene planning.
type Config struct {
	// MinScenes is the narrative floor; ads shorter than three beats read
	// as a single static shot.
	MinScenes int
	// Buckets are the allowed per-scene durations in seconds, descending.
	Buckets []int
	// MinAvgSeconds is the practical floor for average scene length. When
	// ceil(duration/maxBucket) would push the average below it, the scene
	// count is clamped down and the duration overshoot accepted.
	MinAvgSeconds int
	// JourneyThreshold is the scene count at or above which the narrative
	// structure switches from the fixed setup/usage/result template to a
	// generated journey structure.
	JourneyThreshold int
}

// DefaultConfig mirrors the constraints of the supported video models.
func DefaultConfig() Config {
	return Config{
		MinScenes:        3,
		Buckets:          []int{8, 6, 4},
		MinAvgSeconds:    3,
		JourneyThreshold: 6,
	}
}

// Plan is the planner's output: how many scenes, each scene's duration
// bucket in playback order, and whether the journey narrative structure
// applies. The journey flag must be threaded into the LLM scene
// instructions explicitly; it is never re-inferred from the count.
type Plan struct {
	SceneCount int
	Durations  []int
	Journey    bool
}

// Total returns the summed planned duration in seconds.
func (p Plan) Total() int {
	total := 0
	for _, d := range p.Durations {
		total += d
	}
	return total
}

// PlanDurations computes the scene count and per-bucket allocation for a
// target duration.
func PlanDurations(targetSeconds int, cfg Config) (Plan, error) {
	if targetSeconds <= 0 {
		return Plan{}, fmt.Errorf("target duration must be positive, got %d", targetSeconds)
	}
	if len(cfg.Buckets) == 0 {
		return Plan{}, fmt.Errorf("no duration buckets configured")
	}
	maxBucket := cfg.Buckets[0]
	minBucket := cfg.Buckets[len(cfg.Buckets)-1]

	count := ceilDiv(targetSeconds, maxBucket)
	if count < cfg.MinScenes {
		count = cfg.MinScenes
	}
	// Degenerate-count clamp: avoid scenes averaging below the practical
	// minimum, accepting overshoot instead.
	if cfg.MinAvgSeconds > 0 && targetSeconds/count < cfg.MinAvgSeconds {
		clamped := targetSeconds / cfg.MinAvgSeconds
		if clamped < 1 {
			clamped = 1
		}
		count = clamped
	}

	durations := make([]int, count)
	remaining := targetSeconds
	for i := 0; i < count; i++ {
		scenesLeft := count - i - 1
		if scenesLeft == 0 {
			durations[i] = closestBucket(remaining, cfg.Buckets)
			break
		}
		// Greedy: largest bucket that still leaves every later scene at
		// least the smallest bucket.
		chosen := minBucket
		for _, b := range cfg.Buckets {
			if remaining-b >= scenesLeft*minBucket {
				chosen = b
				break
			}
		}
		durations[i] = chosen
		remaining -= chosen
	}

	return Plan{
		SceneCount: count,
		Durations:  durations,
		Journey:    cfg.JourneyThreshold > 0 && count >= cfg.JourneyThreshold,
	}, nil
}

// closestBucket picks the allowed bucket nearest to want, favoring the
// larger bucket on a tie so the final cut does not undershoot.
func closestBucket(want int, buckets []int) int {
	best := buckets[0]
	bestDist := abs(want - best)
	for _, b := range buckets[1:] {
		d := abs(want - b)
		if d < bestDist {
			best = b
			bestDist = d
		}
	}
	return best
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
