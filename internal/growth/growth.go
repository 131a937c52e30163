// Package growth compares window aggregates over time and
// classifies the direction, magnitude, and strength of change per
// tracked metric.
package growth

import (
	"github.com/amplihq/usagelens/internal/stats"
	"github.com/amplihq/usagelens/internal/window"
)

// Direction classifies a metric's movement between windows.
type Direction string

const (
	Improving Direction = "improving"
	Declining Direction = "declining"
	Stable    Direction = "stable"
)

// Metric names a tracked window-level metric.
type Metric string

const (
	MetricSessionCount    Metric = "session_count"
	MetricToolDiversity   Metric = "tool_diversity"
	MetricErrorRate       Metric = "error_rate"
	MetricDelegationRatio Metric = "delegation_ratio"
)

// Tracked lists the metrics analyzed per window, in report order.
var Tracked = []Metric{
	MetricSessionCount,
	MetricToolDiversity,
	MetricErrorRate,
	MetricDelegationRatio,
}

// higherIsBetter declares each metric's polarity. Polarity is
// fixed per metric, never inferred from data.
var higherIsBetter = map[Metric]bool{
	MetricSessionCount:    true,
	MetricToolDiversity:   true,
	MetricErrorRate:       false,
	MetricDelegationRatio: true,
}

// Value extracts the metric's value from a window aggregate.
func (m Metric) Value(w *window.Metrics) float64 {
	switch m {
	case MetricSessionCount:
		return float64(w.SessionCount)
	case MetricToolDiversity:
		return w.AvgToolDiversity
	case MetricErrorRate:
		return w.AvgErrorRate
	case MetricDelegationRatio:
		return w.AvgDelegationRatio
	}
	return 0
}

// Signal is the growth classification for one metric in one
// window. RecentChange and TrendStrength are nil when undefined:
// no predecessor window, a zero-valued predecessor, or a series
// too short for a meaningful correlation.
type Signal struct {
	Metric    Metric    `json:"metric"`
	Direction Direction `json:"trend_direction"`

	// RecentChange is the signed percent change versus the
	// immediately preceding window.
	RecentChange *float64 `json:"recent_change"`

	// NewActivity marks the previous-is-zero, current-is-nonzero
	// case, which has no defined percentage.
	NewActivity bool `json:"new_activity,omitempty"`

	// TrendStrength is the Pearson correlation of window index
	// versus value over the trailing series.
	TrendStrength *float64 `json:"trend_strength"`
}

// Config holds the analyzer thresholds.
type Config struct {
	// ImproveThreshold is the percent change past which movement
	// in the metric's good direction counts as improving.
	ImproveThreshold float64
	// DeclineThreshold is the (negative) percent change past
	// which movement in the bad direction counts as declining.
	DeclineThreshold float64
	// MinTrendPoints is the series length below which
	// TrendStrength is left nil.
	MinTrendPoints int
}

// DefaultConfig mirrors the documented defaults: ±5% cutoffs and
// a three-window floor for trend strength.
func DefaultConfig() Config {
	return Config{
		ImproveThreshold: 5.0,
		DeclineThreshold: -5.0,
		MinTrendPoints:   3,
	}
}

// Analyze produces the growth signal for metric m over series,
// ordered oldest first. The last element is the current window;
// nil entries stand for windows with no recorded sessions.
func Analyze(m Metric, series []*window.Metrics, cfg Config) Signal {
	sig := Signal{Metric: m, Direction: Stable}
	if len(series) == 0 {
		return sig
	}

	current := series[len(series)-1]
	cur := 0.0
	if current != nil {
		cur = m.Value(current)
	}

	if len(series) >= 2 {
		prevWindow := series[len(series)-2]
		prev := 0.0
		if prevWindow != nil {
			prev = m.Value(prevWindow)
		}
		switch {
		case prevWindow == nil:
			// No predecessor: change undefined, direction stable.
		case prev == 0 && cur != 0:
			sig.NewActivity = true
		case prev != 0:
			change := (cur - prev) / prev * 100
			sig.RecentChange = &change
			sig.Direction = classify(m, change, cfg)
		default:
			zero := 0.0
			sig.RecentChange = &zero
		}
	}

	sig.TrendStrength = trendStrength(m, series, cfg.MinTrendPoints)
	return sig
}

// classify maps a signed percent change to a direction using the
// metric's polarity.
func classify(m Metric, change float64, cfg Config) Direction {
	good := change
	if !higherIsBetter[m] {
		good = -change
	}
	switch {
	case good > cfg.ImproveThreshold:
		return Improving
	case good < cfg.DeclineThreshold:
		return Declining
	default:
		return Stable
	}
}

// trendStrength correlates window index with metric value over
// the windows present in series. Missing windows contribute a
// zero value at their index so gaps register as inactivity rather
// than being skipped.
func trendStrength(m Metric, series []*window.Metrics, minPoints int) *float64 {
	if minPoints < 2 {
		minPoints = 2
	}
	if len(series) < minPoints {
		return nil
	}
	xs := make([]float64, len(series))
	ys := make([]float64, len(series))
	for i, w := range series {
		xs[i] = float64(i)
		if w != nil {
			ys[i] = m.Value(w)
		}
	}
	r := stats.Pearson(xs, ys)
	return &r
}
