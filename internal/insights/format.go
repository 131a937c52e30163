package insights

import (
	"fmt"
	"strings"

	"github.com/amplihq/usagelens/internal/growth"
)

// FormatReport renders a report as the conversational plain-text
// summary the CLI prints.
func FormatReport(r *Report) string {
	var b strings.Builder

	switch r.Growth.OverallTrend {
	case growth.Improving:
		b.WriteString("You're showing strong growth!\n\n")
	case growth.Declining:
		b.WriteString("Let's look at this period and find opportunities to improve.\n\n")
	default:
		b.WriteString("Here's your summary:\n\n")
	}

	if r.InsufficientData {
		b.WriteString(r.Summary)
		b.WriteString("\n")
		return b.String()
	}

	sessions := r.Metrics.Sessions
	fmt.Fprintf(&b, "This Period vs Last:\n")
	fmt.Fprintf(&b, "- %d sessions (%s)\n", sessions.Count, changeLabel(sessions.VsPrev))

	tools := r.Metrics.ToolSophistication
	fmt.Fprintf(&b, "- %d different tools used\n", tools.UniqueTools)

	eff := r.Metrics.Effectiveness
	fmt.Fprintf(&b, "- Delegation ratio: %.0f%%\n", eff.DelegationRatio*100)
	fmt.Fprintf(&b, "- Error rate: %.0f%%\n", eff.ErrorRate*100)
	fmt.Fprintf(&b, "- Avg session duration: %.0fmin\n", eff.AvgSessionDurationSeconds/60)

	if len(tools.TopTools) > 0 {
		b.WriteString("\nTop Tools:\n")
		for i, t := range tools.TopTools {
			fmt.Fprintf(&b, "%d. %s (%d calls)\n", i+1, t.Name, t.Count)
		}
	}

	if len(r.Tips) > 0 {
		fmt.Fprintf(&b, "\n%d Tips for Improvement:\n", len(r.Tips))
		shown := r.Tips
		if len(shown) > 3 {
			shown = shown[:3]
		}
		for _, tip := range shown {
			fmt.Fprintf(&b, "\n[%s] %s\n", strings.ToUpper(string(tip.Priority)), tip.Category)
			fmt.Fprintf(&b, "Observation: %s\n", tip.Observation)
			fmt.Fprintf(&b, "Recommendation: %s\n", tip.Recommendation)
			if tip.ExpectedBenefit != "" {
				fmt.Fprintf(&b, "Expected benefit: %s\n", tip.ExpectedBenefit)
			}
		}
	}

	if r.Growth.OverallTrend != growth.Stable {
		fmt.Fprintf(&b, "\nOverall trend: %s\n", capitalize(string(r.Growth.OverallTrend)))
	}
	return b.String()
}

// FormatToolUsage renders the tool usage breakdown.
func FormatToolUsage(u *ToolUsage) string {
	var b strings.Builder
	b.WriteString("Your Tool Usage:\n\n")
	fmt.Fprintf(&b, "Total tool calls: %d\n", u.TotalCalls)
	fmt.Fprintf(&b, "Unique tools: %d\n\n", u.UniqueTools)

	b.WriteString("Top Tools:\n")
	for i, t := range u.TopTools {
		pct := 0.0
		if u.TotalCalls > 0 {
			pct = float64(t.Count) / float64(u.TotalCalls) * 100
		}
		fmt.Fprintf(&b, "%d. %s: %d calls (%.0f%%)\n", i+1, t.Name, t.Count, pct)
	}
	return b.String()
}

// FormatGrowth renders the latest-vs-previous growth comparison.
func FormatGrowth(g *GrowthSummary) string {
	var b strings.Builder
	b.WriteString("Your Growth:\n\n")
	fmt.Fprintf(&b, "Sessions: %d (was %d last period)\n", g.CurrentSessions, g.PreviousSessions)
	for _, sig := range g.Signals {
		fmt.Fprintf(&b, "%s: %s", metricLabel(sig.Metric), changeLabel(sig.RecentChange))
		if sig.NewActivity {
			b.WriteString(" (new activity)")
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nOverall trend: %s\n", capitalize(string(g.OverallTrend)))
	return b.String()
}

func metricLabel(m growth.Metric) string {
	switch m {
	case growth.MetricSessionCount:
		return "Session growth"
	case growth.MetricToolDiversity:
		return "Tool diversity growth"
	case growth.MetricDelegationRatio:
		return "Delegation growth"
	case growth.MetricErrorRate:
		return "Error rate change"
	}
	return string(m)
}

func changeLabel(pct *float64) string {
	if pct == nil {
		return "N/A"
	}
	return fmt.Sprintf("%+.0f%%", *pct)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
