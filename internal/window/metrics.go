package window

import (
	"sort"

	"github.com/amplihq/usagelens/internal/metrics"
	"github.com/amplihq/usagelens/internal/session"
)

// Metrics is the aggregate for one (subject, window) pair. Counters
// are exact sums over the sessions currently attributed to the
// window; the Avg fields are streaming means maintained by Apply
// and Retract.
type Metrics struct {
	SubjectID   string      `json:"subject_id"`
	Key         string      `json:"window_key"`
	Granularity Granularity `json:"granularity"`

	SessionCount         int   `json:"session_count"`
	TotalDurationSeconds int64 `json:"total_duration_seconds"`
	TotalTurns           int   `json:"total_turns"`
	TotalToolCalls       int   `json:"total_tool_calls"`
	TotalDelegations     int   `json:"total_delegations"`
	TotalErrors          int   `json:"total_errors"`

	// ToolCalls is the key-wise sum of the member sessions'
	// tool-call maps. Tools retracted back to zero are removed.
	ToolCalls map[string]int `json:"tool_calls"`

	AvgToolDiversity   float64 `json:"avg_tool_diversity"`
	AvgErrorRate       float64 `json:"avg_error_rate"`
	AvgDelegationRatio float64 `json:"avg_delegation_ratio"`
	AvgSessionDuration float64 `json:"avg_session_duration"`
}

// NewMetrics returns a zeroed aggregate for the given row identity.
func NewMetrics(subjectID, key string, g Granularity) *Metrics {
	return &Metrics{
		SubjectID:   subjectID,
		Key:         key,
		Granularity: g,
		ToolCalls:   make(map[string]int),
	}
}

// streamingAdd folds x into a running mean over n values,
// returning the mean over n+1.
func streamingAdd(avg float64, n int, x float64) float64 {
	return avg + (x-avg)/float64(n+1)
}

// streamingRemove undoes streamingAdd: given the mean over n
// values, removes x and returns the mean over n-1. The mean
// resets to 0 when the last value is removed.
func streamingRemove(avg float64, n int, x float64) float64 {
	if n <= 1 {
		return 0
	}
	return (avg*float64(n) - x) / float64(n-1)
}

// Apply folds one session into the aggregate.
func (w *Metrics) Apply(sm *metrics.SessionMetrics, n *session.Normalized) {
	w.TotalDurationSeconds += n.DurationSeconds()
	w.TotalTurns += n.TurnCount
	w.TotalToolCalls += n.ToolCallCount
	w.TotalDelegations += n.DelegationCount
	w.TotalErrors += n.ErrorCount

	if w.ToolCalls == nil {
		w.ToolCalls = make(map[string]int)
	}
	for tool, count := range n.ToolCalls {
		w.ToolCalls[tool] += count
	}

	c := w.SessionCount
	w.AvgToolDiversity = streamingAdd(w.AvgToolDiversity, c, sm.ToolDiversityScore)
	w.AvgErrorRate = streamingAdd(w.AvgErrorRate, c, sm.ErrorRate)
	w.AvgDelegationRatio = streamingAdd(w.AvgDelegationRatio, c, sm.DelegationRatio)
	w.AvgSessionDuration = streamingAdd(
		w.AvgSessionDuration, c, float64(n.DurationSeconds()),
	)
	w.SessionCount = c + 1
}

// Retract removes a previously applied session's contribution.
// Callers are responsible for only retracting sessions that are
// recorded as members of this window.
func (w *Metrics) Retract(sm *metrics.SessionMetrics, n *session.Normalized) {
	w.TotalDurationSeconds -= n.DurationSeconds()
	w.TotalTurns -= n.TurnCount
	w.TotalToolCalls -= n.ToolCallCount
	w.TotalDelegations -= n.DelegationCount
	w.TotalErrors -= n.ErrorCount

	for tool, count := range n.ToolCalls {
		if rest := w.ToolCalls[tool] - count; rest > 0 {
			w.ToolCalls[tool] = rest
		} else {
			delete(w.ToolCalls, tool)
		}
	}

	c := w.SessionCount
	w.AvgToolDiversity = streamingRemove(w.AvgToolDiversity, c, sm.ToolDiversityScore)
	w.AvgErrorRate = streamingRemove(w.AvgErrorRate, c, sm.ErrorRate)
	w.AvgDelegationRatio = streamingRemove(w.AvgDelegationRatio, c, sm.DelegationRatio)
	w.AvgSessionDuration = streamingRemove(
		w.AvgSessionDuration, c, float64(n.DurationSeconds()),
	)
	w.SessionCount = c - 1
}

// UniqueTools returns the number of distinct tools used in the
// window.
func (w *Metrics) UniqueTools() int {
	return len(w.ToolCalls)
}

// ToolUse is one entry in a ranked tool breakdown.
type ToolUse struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// RankTools orders a tool-call map by count descending, name
// ascending on ties, keeping at most n entries.
func RankTools(counts map[string]int, n int) []ToolUse {
	ranked := make([]ToolUse, 0, len(counts))
	for name, count := range counts {
		ranked = append(ranked, ToolUse{Name: name, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Name < ranked[j].Name
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// TopTools returns the window's ranked tool usage, at most n
// entries.
func (w *Metrics) TopTools(n int) []ToolUse {
	return RankTools(w.ToolCalls, n)
}

// Member pairs a session with its computed metrics for folding.
type Member struct {
	Session *session.Normalized
	Metrics *metrics.SessionMetrics
}

// Fold recomputes the aggregate for a window from scratch. Used by
// the reconciliation job and tests to verify the incremental
// invariant; never on the ingest path.
func Fold(subjectID, key string, g Granularity, members []Member) *Metrics {
	w := NewMetrics(subjectID, key, g)
	for _, m := range members {
		w.Apply(m.Metrics, m.Session)
	}
	return w
}
