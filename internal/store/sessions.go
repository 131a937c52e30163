package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/amplihq/usagelens/internal/metrics"
	"github.com/amplihq/usagelens/internal/session"
	"github.com/amplihq/usagelens/internal/timeutil"
)

const sessionCols = `session_id, subject_id, started_at, ended_at,
	turn_count, tool_call_count, error_count, delegation_count,
	tool_calls, files_touched, status`

// scanSession scans sessionCols into a Normalized record.
func scanSession(rs rowScanner) (session.Normalized, error) {
	var n session.Normalized
	var startedAt, endedAt, toolJSON string
	err := rs.Scan(
		&n.SessionID, &n.SubjectID, &startedAt, &endedAt,
		&n.TurnCount, &n.ToolCallCount, &n.ErrorCount,
		&n.DelegationCount, &toolJSON, &n.FilesTouched, &n.Status,
	)
	if err != nil {
		return session.Normalized{}, err
	}
	if t, ok := timeutil.Parse(startedAt); ok {
		n.StartedAt = t
	}
	if t, ok := timeutil.Parse(endedAt); ok {
		n.EndedAt = t
	}
	if err := json.Unmarshal([]byte(toolJSON), &n.ToolCalls); err != nil {
		return session.Normalized{}, fmt.Errorf("decoding tool_calls: %w", err)
	}
	return n, nil
}

// saveSessionTx replaces the session row and its metrics row.
func saveSessionTx(tx *sql.Tx, n *session.Normalized, sm *metrics.SessionMetrics) error {
	toolJSON, err := json.Marshal(n.ToolCalls)
	if err != nil {
		return fmt.Errorf("encoding tool_calls: %w", err)
	}

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO sessions (`+sessionCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.SessionID, n.SubjectID,
		timeutil.Format(n.StartedAt), timeutil.Format(n.EndedAt),
		n.TurnCount, n.ToolCallCount, n.ErrorCount,
		n.DelegationCount, string(toolJSON), n.FilesTouched,
		string(n.Status),
	)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO session_metrics (
			session_id, computed_at, tool_diversity_score,
			time_per_turn, tool_calls_per_turn, error_rate,
			delegation_ratio, completion_status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sm.SessionID, timeutil.Format(sm.ComputedAt),
		sm.ToolDiversityScore, sm.TimePerTurn,
		sm.ToolCallsPerTurn, sm.ErrorRate,
		sm.DelegationRatio, string(sm.CompletionStatus),
	)
	if err != nil {
		return fmt.Errorf("saving session metrics: %w", err)
	}
	return nil
}

// getSessionTx loads one session with its metrics inside a write
// transaction; used by the correction path to retract the stored
// contribution.
func getSessionTx(tx *sql.Tx, sessionID string) (*session.Normalized, *metrics.SessionMetrics, error) {
	row := tx.QueryRow(
		`SELECT `+sessionCols+` FROM sessions WHERE session_id = ?`,
		sessionID,
	)
	n, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading session: %w", err)
	}

	sm, err := scanSessionMetrics(tx.QueryRow(`
		SELECT session_id, computed_at, tool_diversity_score,
			time_per_turn, tool_calls_per_turn, error_rate,
			delegation_ratio, completion_status
		FROM session_metrics WHERE session_id = ?`, sessionID))
	if err != nil {
		return nil, nil, fmt.Errorf("loading session metrics: %w", err)
	}
	return &n, sm, nil
}

func scanSessionMetrics(rs rowScanner) (*metrics.SessionMetrics, error) {
	var sm metrics.SessionMetrics
	var computedAt, status string
	err := rs.Scan(
		&sm.SessionID, &computedAt, &sm.ToolDiversityScore,
		&sm.TimePerTurn, &sm.ToolCallsPerTurn, &sm.ErrorRate,
		&sm.DelegationRatio, &status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if t, ok := timeutil.Parse(computedAt); ok {
		sm.ComputedAt = t
	}
	sm.CompletionStatus = session.Status(status)
	return &sm, nil
}

// GetSession returns a session and its metrics, or nils when the
// id is unknown.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*session.Normalized, *metrics.SessionMetrics, error) {
	row := s.reader.QueryRowContext(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE session_id = ?`,
		sessionID,
	)
	n, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading session: %w", err)
	}

	sm, err := scanSessionMetrics(s.reader.QueryRowContext(ctx, `
		SELECT session_id, computed_at, tool_diversity_score,
			time_per_turn, tool_calls_per_turn, error_rate,
			delegation_ratio, completion_status
		FROM session_metrics WHERE session_id = ?`, sessionID))
	if err != nil {
		return nil, nil, fmt.Errorf("loading session metrics: %w", err)
	}
	return &n, sm, nil
}

// SessionCount returns the number of stored sessions for the
// subject ("" = all subjects).
func (s *Store) SessionCount(ctx context.Context, subjectID string) (int, error) {
	query := "SELECT COUNT(*) FROM sessions"
	var args []any
	if subjectID != "" {
		query += " WHERE subject_id = ?"
		args = append(args, subjectID)
	}
	var count int
	if err := s.reader.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	return count, nil
}
