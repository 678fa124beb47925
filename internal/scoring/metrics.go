package scoring

import "context"

// FuncMetric adapts a scoring function into a Metric.
type FuncMetric struct {
	name string
	fn   func(ctx context.Context, art Artifact) (float64, error)
}

// NewFuncMetric wraps fn as an always-available metric.
func NewFuncMetric(name string, fn func(ctx context.Context, art Artifact) (float64, error)) FuncMetric {
	return FuncMetric{name: name, fn: fn}
}

func (m FuncMetric) Name() string    { return m.name }
func (m FuncMetric) Available() bool { return true }

func (m FuncMetric) Score(ctx context.Context, art Artifact) (float64, error) {
	return m.fn(ctx, art)
}

// UnavailableMetric registers a metric name whose backing model is not
// loaded in this environment. It contributes the neutral default sub-score
// and is excluded from the weighted overall.
type UnavailableMetric struct {
	name string
}

// NewUnavailableMetric declares name as present-but-unavailable.
func NewUnavailableMetric(name string) UnavailableMetric {
	return UnavailableMetric{name: name}
}

func (m UnavailableMetric) Name() string    { return m.name }
func (m UnavailableMetric) Available() bool { return false }

func (m UnavailableMetric) Score(ctx context.Context, art Artifact) (float64, error) {
	return NeutralScore, nil
}

var (
	_ Metric = FuncMetric{}
	_ Metric = UnavailableMetric{}
)
