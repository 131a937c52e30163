// Package metrics converts normalized session records into
// per-session behavioral metrics.
package metrics

import (
	"time"

	"github.com/amplihq/usagelens/internal/session"
	"github.com/amplihq/usagelens/internal/stats"
)

// SessionMetrics is the computed metrics record for one session.
// It is created exactly once per session id and never mutated;
// reprocessing the same id replaces the row wholesale.
type SessionMetrics struct {
	SessionID  string    `json:"session_id"`
	ComputedAt time.Time `json:"computed_at"`

	// ToolDiversityScore is the Shannon entropy in bits of the
	// session's tool-call distribution.
	ToolDiversityScore float64 `json:"tool_diversity_score"`

	TimePerTurn      float64 `json:"time_per_turn"`
	ToolCallsPerTurn float64 `json:"tool_calls_per_turn"`

	// ErrorRate is errors over tool calls plus turns. Delegations
	// are not counted as separate actions; the same denominator
	// is used everywhere error rates are compared.
	ErrorRate float64 `json:"error_rate"`

	DelegationRatio  float64        `json:"delegation_ratio"`
	CompletionStatus session.Status `json:"completion_status"`
}

// Compute derives SessionMetrics from one normalized session.
// The record is validated first; a malformed session is reported,
// never clamped. Aside from ComputedAt the output depends only on
// the input, so recomputation is idempotent.
func Compute(n *session.Normalized, now time.Time) (SessionMetrics, error) {
	if err := n.Validate(); err != nil {
		return SessionMetrics{}, err
	}

	m := SessionMetrics{
		SessionID:          n.SessionID,
		ComputedAt:         now.UTC(),
		ToolDiversityScore: stats.Entropy(n.ToolCalls),
		CompletionStatus:   n.Status,
	}

	if n.TurnCount > 0 {
		m.TimePerTurn = float64(n.DurationSeconds()) / float64(n.TurnCount)
		m.ToolCallsPerTurn = float64(n.ToolCallCount) / float64(n.TurnCount)
	}

	m.ErrorRate = float64(n.ErrorCount) /
		float64(max(n.ToolCallCount+n.TurnCount, 1))
	m.DelegationRatio = float64(n.DelegationCount) /
		float64(max(n.ToolCallCount, 1))

	return m, nil
}
