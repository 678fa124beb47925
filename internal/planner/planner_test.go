package planner

import "testing"

func TestPlanSixtySecondsUsesJourneyStructure(t *testing.T) {
	plan, err := PlanDurations(60, DefaultConfig())
	if err != nil {
		t.Fatalf("PlanDurations returned error: %v", err)
	}
	if plan.SceneCount != 8 {
		t.Fatalf("SceneCount = %d, want 8", plan.SceneCount)
	}
	if !plan.Journey {
		t.Fatal("expected journey structure for 8 scenes")
	}
	if total := plan.Total(); total < 51 || total > 69 {
		t.Fatalf("Total = %d, want within [51, 69]", total)
	}
}

func TestPlanFifteenSecondsClampsToMinimumScenes(t *testing.T) {
	plan, err := PlanDurations(15, DefaultConfig())
	if err != nil {
		t.Fatalf("PlanDurations returned error: %v", err)
	}
	if plan.SceneCount != 3 {
		t.Fatalf("SceneCount = %d, want 3 (minimum)", plan.SceneCount)
	}
	if plan.Journey {
		t.Fatal("three scenes should keep the classic template")
	}
}

func TestPlanDurationConservation(t *testing.T) {
	cfg := DefaultConfig()
	for _, target := range []int{12, 15, 24, 30, 45, 60, 90, 120} {
		plan, err := PlanDurations(target, cfg)
		if err != nil {
			t.Fatalf("PlanDurations(%d) returned error: %v", target, err)
		}
		total := plan.Total()
		lo := float64(target) * 0.85
		hi := float64(target) * 1.15
		if float64(total) < lo || float64(total) > hi {
			t.Errorf("PlanDurations(%d): total %d outside [%.1f, %.1f]", target, total, lo, hi)
		}
		if plan.SceneCount < cfg.MinScenes && target >= cfg.MinScenes*cfg.MinAvgSeconds {
			t.Errorf("PlanDurations(%d): scene count %d below minimum", target, plan.SceneCount)
		}
		for _, d := range plan.Durations {
			if !contains(cfg.Buckets, d) {
				t.Errorf("PlanDurations(%d): duration %d not an allowed bucket", target, d)
			}
		}
	}
}

func TestPlanClampsDegenerateSceneCount(t *testing.T) {
	plan, err := PlanDurations(5, DefaultConfig())
	if err != nil {
		t.Fatalf("PlanDurations returned error: %v", err)
	}
	// Three scenes would average under 3s; accept overshoot with one scene.
	if plan.SceneCount != 1 {
		t.Fatalf("SceneCount = %d, want 1", plan.SceneCount)
	}
	if plan.Durations[0] < 4 {
		t.Fatalf("duration %d below smallest bucket", plan.Durations[0])
	}
}

func TestPlanRejectsNonPositiveDuration(t *testing.T) {
	if _, err := PlanDurations(0, DefaultConfig()); err == nil {
		t.Fatal("expected error for zero duration")
	}
}

func contains(vals []int, v int) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}
	return false
}
