package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/amplihq/usagelens/internal/metrics"
	"github.com/amplihq/usagelens/internal/session"
	"github.com/amplihq/usagelens/internal/window"
)

const windowCols = `subject_id, granularity, window_key,
	session_count, total_duration_seconds, total_turns,
	total_tool_calls, total_delegations, total_errors,
	tool_calls, avg_tool_diversity, avg_error_rate,
	avg_delegation_ratio, avg_session_duration`

func scanWindow(rs rowScanner) (*window.Metrics, error) {
	var w window.Metrics
	var toolJSON string
	err := rs.Scan(
		&w.SubjectID, &w.Granularity, &w.Key,
		&w.SessionCount, &w.TotalDurationSeconds, &w.TotalTurns,
		&w.TotalToolCalls, &w.TotalDelegations, &w.TotalErrors,
		&toolJSON, &w.AvgToolDiversity, &w.AvgErrorRate,
		&w.AvgDelegationRatio, &w.AvgSessionDuration,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(toolJSON), &w.ToolCalls); err != nil {
		return nil, fmt.Errorf("decoding window tool_calls: %w", err)
	}
	if w.ToolCalls == nil {
		w.ToolCalls = make(map[string]int)
	}
	return &w, nil
}

// getWindowTx loads one window row inside a transaction, or nil
// when the window has no row yet.
func getWindowTx(tx *sql.Tx, subjectID string, g window.Granularity, key string) (*window.Metrics, error) {
	row := tx.QueryRow(`
		SELECT `+windowCols+` FROM window_metrics
		WHERE subject_id = ? AND granularity = ? AND window_key = ?`,
		subjectID, string(g), key,
	)
	w, err := scanWindow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading window: %w", err)
	}
	return w, nil
}

// putWindowTx replaces the window row in place. Windows that drop
// back to zero sessions keep their row; an all-zero row and an
// absent row read the same to consumers.
func putWindowTx(tx *sql.Tx, w *window.Metrics) error {
	toolJSON, err := json.Marshal(w.ToolCalls)
	if err != nil {
		return fmt.Errorf("encoding window tool_calls: %w", err)
	}
	_, err = tx.Exec(`
		INSERT OR REPLACE INTO window_metrics (`+windowCols+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))`,
		w.SubjectID, string(w.Granularity), w.Key,
		w.SessionCount, w.TotalDurationSeconds, w.TotalTurns,
		w.TotalToolCalls, w.TotalDelegations, w.TotalErrors,
		string(toolJSON), w.AvgToolDiversity, w.AvgErrorRate,
		w.AvgDelegationRatio, w.AvgSessionDuration,
	)
	if err != nil {
		return fmt.Errorf("saving window: %w", err)
	}
	return nil
}

// ApplySession persists a session with its metrics and folds it
// into its window, all in one transaction. A session id already
// recorded as a window member is rejected with
// ErrDuplicateSession and nothing is applied.
func (s *Store) ApplySession(
	n *session.Normalized, sm *metrics.SessionMetrics,
	g window.Granularity,
) (*window.Metrics, error) {
	key := g.Key(n.StartedAt)
	var updated *window.Metrics

	err := s.Update(func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRow(`
			SELECT window_key FROM window_sessions
			WHERE granularity = ? AND session_id = ?`,
			string(g), n.SessionID,
		).Scan(&existing)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", ErrDuplicateSession, n.SessionID)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("checking window membership: %w", err)
		}

		if err := saveSessionTx(tx, n, sm); err != nil {
			return err
		}

		w, err := getWindowTx(tx, n.SubjectID, g, key)
		if err != nil {
			return err
		}
		if w == nil {
			w = window.NewMetrics(n.SubjectID, key, g)
		}
		w.Apply(sm, n)
		if err := putWindowTx(tx, w); err != nil {
			return err
		}

		if _, err := tx.Exec(`
			INSERT INTO window_sessions
				(granularity, session_id, subject_id, window_key)
			VALUES (?, ?, ?, ?)`,
			string(g), n.SessionID, n.SubjectID, key,
		); err != nil {
			return fmt.Errorf("recording window membership: %w", err)
		}

		updated = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ReapplySession is the correction path: it retracts the stored
// contribution of n.SessionID from its current window, then
// applies the corrected record, which may land in a different
// window. The whole retract-then-reapply runs in one transaction.
func (s *Store) ReapplySession(
	n *session.Normalized, sm *metrics.SessionMetrics,
	g window.Granularity,
) (*window.Metrics, error) {
	newKey := g.Key(n.StartedAt)
	var updated *window.Metrics

	err := s.Update(func(tx *sql.Tx) error {
		var oldKey, oldSubject string
		err := tx.QueryRow(`
			SELECT window_key, subject_id FROM window_sessions
			WHERE granularity = ? AND session_id = ?`,
			string(g), n.SessionID,
		).Scan(&oldKey, &oldSubject)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrUnknownSession, n.SessionID)
		}
		if err != nil {
			return fmt.Errorf("checking window membership: %w", err)
		}

		oldSession, oldMetrics, err := getSessionTx(tx, n.SessionID)
		if err != nil {
			return err
		}
		if oldSession == nil || oldMetrics == nil {
			return fmt.Errorf(
				"window member %s has no stored session", n.SessionID,
			)
		}

		oldWin, err := getWindowTx(tx, oldSubject, g, oldKey)
		if err != nil {
			return err
		}
		if oldWin == nil {
			return fmt.Errorf(
				"window %s/%s missing for member %s",
				oldSubject, oldKey, n.SessionID,
			)
		}
		oldWin.Retract(oldMetrics, oldSession)
		if err := putWindowTx(tx, oldWin); err != nil {
			return err
		}
		if _, err := tx.Exec(`
			DELETE FROM window_sessions
			WHERE granularity = ? AND session_id = ?`,
			string(g), n.SessionID,
		); err != nil {
			return fmt.Errorf("removing window membership: %w", err)
		}

		if err := saveSessionTx(tx, n, sm); err != nil {
			return err
		}

		newWin := oldWin
		if n.SubjectID != oldSubject || newKey != oldKey {
			newWin, err = getWindowTx(tx, n.SubjectID, g, newKey)
			if err != nil {
				return err
			}
			if newWin == nil {
				newWin = window.NewMetrics(n.SubjectID, newKey, g)
			}
		}
		newWin.Apply(sm, n)
		if err := putWindowTx(tx, newWin); err != nil {
			return err
		}

		if _, err := tx.Exec(`
			INSERT INTO window_sessions
				(granularity, session_id, subject_id, window_key)
			VALUES (?, ?, ?, ?)`,
			string(g), n.SessionID, n.SubjectID, newKey,
		); err != nil {
			return fmt.Errorf("recording window membership: %w", err)
		}

		updated = newWin
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// GetWindow returns one window aggregate, or nil when the window
// has no sessions. A row retracted back to zero sessions reads the
// same as an absent row.
func (s *Store) GetWindow(ctx context.Context, subjectID string, g window.Granularity, key string) (*window.Metrics, error) {
	row := s.reader.QueryRowContext(ctx, `
		SELECT `+windowCols+` FROM window_metrics
		WHERE subject_id = ? AND granularity = ? AND window_key = ?`,
		subjectID, string(g), key,
	)
	w, err := scanWindow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading window: %w", err)
	}
	if w.SessionCount == 0 {
		return nil, nil
	}
	return w, nil
}

// GetWindows returns aggregates aligned with keys; absent windows
// yield nil entries.
func (s *Store) GetWindows(ctx context.Context, subjectID string, g window.Granularity, keys []string) ([]*window.Metrics, error) {
	out := make([]*window.Metrics, len(keys))
	for i, key := range keys {
		w, err := s.GetWindow(ctx, subjectID, g, key)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

// ListWindowKeys returns the subject's window keys for one
// granularity in chronological order.
func (s *Store) ListWindowKeys(ctx context.Context, subjectID string, g window.Granularity) ([]string, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT window_key FROM window_metrics
		WHERE subject_id = ? AND granularity = ? AND session_count > 0
		ORDER BY window_key`,
		subjectID, string(g),
	)
	if err != nil {
		return nil, fmt.Errorf("listing window keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scanning window key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating window keys: %w", err)
	}
	return keys, nil
}

// WindowSessionIDs returns the session ids currently attributed
// to a window, ordered by id for determinism.
func (s *Store) WindowSessionIDs(ctx context.Context, subjectID string, g window.Granularity, key string) ([]string, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT session_id FROM window_sessions
		WHERE subject_id = ? AND granularity = ? AND window_key = ?
		ORDER BY session_id`,
		subjectID, string(g), key,
	)
	if err != nil {
		return nil, fmt.Errorf("listing window members: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning member id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating window members: %w", err)
	}
	return ids, nil
}

// WindowMembers loads the full session + metrics pairs attributed
// to a window, for reconciliation.
func (s *Store) WindowMembers(ctx context.Context, subjectID string, g window.Granularity, key string) ([]window.Member, error) {
	ids, err := s.WindowSessionIDs(ctx, subjectID, g, key)
	if err != nil {
		return nil, err
	}
	members := make([]window.Member, 0, len(ids))
	for _, id := range ids {
		n, sm, err := s.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if n == nil || sm == nil {
			return nil, fmt.Errorf("window member %s has no stored session", id)
		}
		members = append(members, window.Member{Session: n, Metrics: sm})
	}
	return members, nil
}

// ToolUsage sums tool-call maps across all of the subject's
// windows of one granularity. Windows partition the subject's
// sessions, so this equals the all-time per-tool totals.
func (s *Store) ToolUsage(ctx context.Context, subjectID string, g window.Granularity) (map[string]int, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT tool_calls FROM window_metrics
		WHERE subject_id = ? AND granularity = ?`,
		subjectID, string(g),
	)
	if err != nil {
		return nil, fmt.Errorf("querying tool usage: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int)
	for rows.Next() {
		var toolJSON string
		if err := rows.Scan(&toolJSON); err != nil {
			return nil, fmt.Errorf("scanning tool usage: %w", err)
		}
		var m map[string]int
		if err := json.Unmarshal([]byte(toolJSON), &m); err != nil {
			return nil, fmt.Errorf("decoding tool usage: %w", err)
		}
		for tool, count := range m {
			totals[tool] += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tool usage: %w", err)
	}
	return totals, nil
}
