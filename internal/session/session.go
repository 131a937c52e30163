// Package session defines the normalized session record handed to
// the metrics pipeline by external normalizers, along with its
// validation rules and wire decoding.
package session

import (
	"fmt"
	"time"
)

// Status is the terminal state of a session.
type Status string

const (
	StatusCompleted       Status = "completed"
	StatusAbandoned       Status = "abandoned"
	StatusErrorTerminated Status = "error_terminated"
)

// validStatuses lists the accepted terminal states.
var validStatuses = map[Status]bool{
	StatusCompleted:       true,
	StatusAbandoned:       true,
	StatusErrorTerminated: true,
}

// Normalized is one session record as produced by an external
// normalizer. It is immutable input: the pipeline never mutates
// a Normalized after validation.
type Normalized struct {
	SessionID string    `json:"session_id"`
	SubjectID string    `json:"subject_id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	TurnCount       int `json:"turn_count"`
	ToolCallCount   int `json:"tool_call_count"`
	ErrorCount      int `json:"error_count"`
	DelegationCount int `json:"delegation_count"`

	// ToolCalls maps tool name to call count. Values must sum
	// to ToolCallCount.
	ToolCalls map[string]int `json:"tool_calls"`

	FilesTouched int    `json:"files_touched"`
	Status       Status `json:"status"`
}

// DurationSeconds returns the session length in whole seconds.
func (n *Normalized) DurationSeconds() int64 {
	return int64(n.EndedAt.Sub(n.StartedAt) / time.Second)
}

// ValidationError reports a malformed or inconsistent session
// record. The session is rejected at ingestion and never
// partially applied.
type ValidationError struct {
	SessionID string
	Field     string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf(
		"invalid session %s: %s: %s",
		e.SessionID, e.Field, e.Reason,
	)
}

func invalid(id, field, reason string) error {
	return &ValidationError{
		SessionID: id, Field: field, Reason: reason,
	}
}

// Validate checks the record invariants: identity fields present,
// counters non-negative, timestamps ordered, status recognized,
// and the tool-call map summing to ToolCallCount.
func (n *Normalized) Validate() error {
	if n.SessionID == "" {
		return invalid(n.SessionID, "session_id", "empty")
	}
	if n.SubjectID == "" {
		return invalid(n.SessionID, "subject_id", "empty")
	}
	if n.StartedAt.IsZero() {
		return invalid(n.SessionID, "started_at", "missing")
	}
	if n.EndedAt.Before(n.StartedAt) {
		return invalid(
			n.SessionID, "ended_at", "before started_at",
		)
	}

	counters := []struct {
		name string
		val  int
	}{
		{"turn_count", n.TurnCount},
		{"tool_call_count", n.ToolCallCount},
		{"error_count", n.ErrorCount},
		{"delegation_count", n.DelegationCount},
		{"files_touched", n.FilesTouched},
	}
	for _, c := range counters {
		if c.val < 0 {
			return invalid(n.SessionID, c.name, "negative")
		}
	}

	sum := 0
	for name, count := range n.ToolCalls {
		if count < 0 {
			return invalid(
				n.SessionID, "tool_calls",
				fmt.Sprintf("negative count for %q", name),
			)
		}
		sum += count
	}
	if sum != n.ToolCallCount {
		return invalid(
			n.SessionID, "tool_calls",
			fmt.Sprintf(
				"counts sum to %d, tool_call_count is %d",
				sum, n.ToolCallCount,
			),
		)
	}

	if !validStatuses[n.Status] {
		return invalid(
			n.SessionID, "status",
			fmt.Sprintf("unrecognized %q", n.Status),
		)
	}
	return nil
}
