package growth

import (
	"math"
	"testing"

	"github.com/amplihq/usagelens/internal/window"
)

// win builds a minimal window aggregate with the given error rate
// and session count.
func win(count int, errorRate float64) *window.Metrics {
	return &window.Metrics{
		SubjectID:    "local",
		Granularity:  window.Weekly,
		SessionCount: count,
		AvgErrorRate: errorRate,
	}
}

func TestAnalyzeNoPredecessor(t *testing.T) {
	sig := Analyze(MetricErrorRate, []*window.Metrics{win(5, 0.1)}, DefaultConfig())

	if sig.RecentChange != nil {
		t.Errorf("RecentChange = %v, want nil", *sig.RecentChange)
	}
	if sig.Direction != Stable {
		t.Errorf("Direction = %q, want stable", sig.Direction)
	}
	if sig.TrendStrength != nil {
		t.Errorf("TrendStrength = %v, want nil below 3 windows", *sig.TrendStrength)
	}
}

func TestAnalyzeEmptySeries(t *testing.T) {
	sig := Analyze(MetricErrorRate, nil, DefaultConfig())
	if sig.Direction != Stable || sig.RecentChange != nil || sig.TrendStrength != nil {
		t.Errorf("empty series should be fully stable/nil, got %+v", sig)
	}
}

func TestAnalyzeErrorRateImproving(t *testing.T) {
	// Window A: avg_error_rate 0.10; window B: 0.05. Lower is
	// better, so a -50% change is improving.
	series := []*window.Metrics{win(8, 0.10), win(12, 0.05)}
	sig := Analyze(MetricErrorRate, series, DefaultConfig())

	if sig.RecentChange == nil {
		t.Fatal("RecentChange is nil, want -50")
	}
	if math.Abs(*sig.RecentChange - -50) > 1e-9 {
		t.Errorf("RecentChange = %v, want -50", *sig.RecentChange)
	}
	if sig.Direction != Improving {
		t.Errorf("Direction = %q, want improving", sig.Direction)
	}
}

func TestAnalyzeHigherIsBetterPolarity(t *testing.T) {
	tests := []struct {
		name   string
		prev   float64
		cur    float64
		metric Metric
		want   Direction
	}{
		{"session count up is improving", 8, 12, MetricSessionCount, Improving},
		{"session count down is declining", 12, 8, MetricSessionCount, Declining},
		{"error rate up is declining", 0.05, 0.10, MetricErrorRate, Declining},
		{"small change is stable", 100, 103, MetricSessionCount, Stable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var series []*window.Metrics
			if tt.metric == MetricErrorRate {
				series = []*window.Metrics{win(10, tt.prev), win(10, tt.cur)}
			} else {
				series = []*window.Metrics{win(int(tt.prev), 0), win(int(tt.cur), 0)}
			}
			sig := Analyze(tt.metric, series, DefaultConfig())
			if sig.Direction != tt.want {
				t.Errorf("Direction = %q, want %q", sig.Direction, tt.want)
			}
		})
	}
}

func TestAnalyzeNewActivity(t *testing.T) {
	// Previous window exists but recorded zero: no defined
	// percentage, flagged as new activity rather than infinite.
	series := []*window.Metrics{win(10, 0), win(10, 0.2)}
	sig := Analyze(MetricErrorRate, series, DefaultConfig())

	if sig.RecentChange != nil {
		t.Errorf("RecentChange = %v, want nil", *sig.RecentChange)
	}
	if !sig.NewActivity {
		t.Error("NewActivity = false, want true")
	}
	if sig.Direction != Stable {
		t.Errorf("Direction = %q, want stable", sig.Direction)
	}
}

func TestAnalyzeMissingPredecessorWindow(t *testing.T) {
	series := []*window.Metrics{nil, win(10, 0.2)}
	sig := Analyze(MetricErrorRate, series, DefaultConfig())

	if sig.RecentChange != nil {
		t.Errorf("RecentChange = %v, want nil for absent predecessor", *sig.RecentChange)
	}
	if sig.Direction != Stable {
		t.Errorf("Direction = %q, want stable", sig.Direction)
	}
}

func TestAnalyzeBothZero(t *testing.T) {
	series := []*window.Metrics{win(10, 0), win(10, 0)}
	sig := Analyze(MetricErrorRate, series, DefaultConfig())

	if sig.RecentChange == nil || *sig.RecentChange != 0 {
		t.Errorf("RecentChange = %v, want 0", sig.RecentChange)
	}
	if sig.Direction != Stable {
		t.Errorf("Direction = %q, want stable", sig.Direction)
	}
}

func TestTrendStrength(t *testing.T) {
	// Strictly rising session counts over four windows: perfect
	// positive correlation.
	series := []*window.Metrics{win(2, 0), win(4, 0), win(6, 0), win(8, 0)}
	sig := Analyze(MetricSessionCount, series, DefaultConfig())

	if sig.TrendStrength == nil {
		t.Fatal("TrendStrength is nil, want 1.0")
	}
	if math.Abs(*sig.TrendStrength-1) > 1e-9 {
		t.Errorf("TrendStrength = %v, want 1.0", *sig.TrendStrength)
	}
}

func TestTrendStrengthZeroVariance(t *testing.T) {
	series := []*window.Metrics{win(5, 0), win(5, 0), win(5, 0)}
	sig := Analyze(MetricSessionCount, series, DefaultConfig())

	if sig.TrendStrength == nil {
		t.Fatal("TrendStrength is nil, want 0.0")
	}
	if *sig.TrendStrength != 0 {
		t.Errorf("TrendStrength = %v, want 0.0 for flat series", *sig.TrendStrength)
	}
}

func TestTrendStrengthCountsGapsAsZero(t *testing.T) {
	series := []*window.Metrics{win(4, 0), nil, win(8, 0)}
	sig := Analyze(MetricSessionCount, series, DefaultConfig())

	if sig.TrendStrength == nil {
		t.Fatal("TrendStrength is nil, want a value over 3 points")
	}
	// (4, 0, 8) over indexes (0, 1, 2) correlates weakly positive.
	if *sig.TrendStrength <= 0 || *sig.TrendStrength >= 1 {
		t.Errorf("TrendStrength = %v, want in (0, 1)", *sig.TrendStrength)
	}
}
