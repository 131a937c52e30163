// Package tips evaluates declarative rules against a subject's
// metrics and growth signals to produce prioritized, actionable
// suggestions. Generation is pluggable: the rule engine is the
// default Generator, with an agent-CLI-backed alternative behind
// the same interface.
package tips

import (
	"context"
	"time"

	"github.com/amplihq/usagelens/internal/growth"
	"github.com/amplihq/usagelens/internal/window"
)

// Priority orders tips. High sorts first.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// rank maps priorities to sort order; unknown priorities sort last.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	}
	return 3
}

// Tip is one generated suggestion. Lifecycle flags are mutated
// only by explicit user feedback; the log itself is append-only.
type Tip struct {
	ID          string    `json:"tip_id"`
	SubjectID   string    `json:"subject_id"`
	GeneratedAt time.Time `json:"generated_at"`

	Category        string   `json:"category"`
	Priority        Priority `json:"priority"`
	Observation     string   `json:"observation"`
	Recommendation  string   `json:"recommendation"`
	ExpectedBenefit string   `json:"expected_benefit"`

	// TriggeredBy lists the session ids behind the observation.
	TriggeredBy []string `json:"triggered_by,omitempty"`

	Shown     bool  `json:"shown_to_user"`
	Dismissed bool  `json:"dismissed"`
	Helpful   *bool `json:"marked_helpful"`
}

// Inputs bundles what a Generator evaluates: the subject's
// current window, its predecessor (nil for the first window), the
// growth signals per tracked metric, and the current window's
// member session ids.
type Inputs struct {
	SubjectID  string
	Current    *window.Metrics
	Previous   *window.Metrics
	Signals    map[growth.Metric]growth.Signal
	SessionIDs []string
}

// Generator produces tips from metrics and growth signals.
type Generator interface {
	Generate(ctx context.Context, in Inputs) ([]Tip, error)
}
