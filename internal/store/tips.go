package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/amplihq/usagelens/internal/tips"
	"github.com/amplihq/usagelens/internal/timeutil"
)

const tipCols = `tip_id, subject_id, generated_at, category,
	priority, observation, recommendation, expected_benefit,
	triggered_by, shown_to_user, dismissed, marked_helpful`

func scanTip(rs rowScanner) (tips.Tip, error) {
	var t tips.Tip
	var generatedAt, triggeredJSON string
	var helpful sql.NullBool
	err := rs.Scan(
		&t.ID, &t.SubjectID, &generatedAt, &t.Category,
		&t.Priority, &t.Observation, &t.Recommendation,
		&t.ExpectedBenefit, &triggeredJSON, &t.Shown,
		&t.Dismissed, &helpful,
	)
	if err != nil {
		return tips.Tip{}, err
	}
	if ts, ok := timeutil.Parse(generatedAt); ok {
		t.GeneratedAt = ts
	}
	if err := json.Unmarshal([]byte(triggeredJSON), &t.TriggeredBy); err != nil {
		return tips.Tip{}, fmt.Errorf("decoding triggered_by: %w", err)
	}
	if helpful.Valid {
		v := helpful.Bool
		t.Helpful = &v
	}
	return t, nil
}

// SaveTips appends generated tips to the log.
func (s *Store) SaveTips(items []tips.Tip) error {
	if len(items) == 0 {
		return nil
	}
	return s.Update(func(tx *sql.Tx) error {
		for _, t := range items {
			triggeredJSON, err := json.Marshal(t.TriggeredBy)
			if err != nil {
				return fmt.Errorf("encoding triggered_by: %w", err)
			}
			var helpful any
			if t.Helpful != nil {
				helpful = *t.Helpful
			}
			if _, err := tx.Exec(`
				INSERT INTO tips (`+tipCols+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				t.ID, t.SubjectID, timeutil.Format(t.GeneratedAt),
				t.Category, string(t.Priority), t.Observation,
				t.Recommendation, t.ExpectedBenefit,
				string(triggeredJSON), t.Shown, t.Dismissed, helpful,
			); err != nil {
				return fmt.Errorf("saving tip %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

// ListTips returns the subject's tips, newest first.
func (s *Store) ListTips(ctx context.Context, subjectID string, limit int) ([]tips.Tip, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.reader.QueryContext(ctx, `
		SELECT `+tipCols+` FROM tips
		WHERE subject_id = ?
		ORDER BY generated_at DESC, tip_id
		LIMIT ?`,
		subjectID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing tips: %w", err)
	}
	defer rows.Close()

	var out []tips.Tip
	for rows.Next() {
		t, err := scanTip(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tip: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tips: %w", err)
	}
	return out, nil
}

// TipFeedback carries one explicit user feedback action. Nil
// fields leave the corresponding flag untouched.
type TipFeedback struct {
	Shown     *bool `json:"shown"`
	Dismissed *bool `json:"dismissed"`
	Helpful   *bool `json:"helpful"`
}

// SetTipFeedback mutates a tip's lifecycle flags. Returns false
// when the tip id is unknown.
func (s *Store) SetTipFeedback(tipID string, fb TipFeedback) (bool, error) {
	found := false
	err := s.Update(func(tx *sql.Tx) error {
		set := ""
		var args []any
		appendSet := func(col string, v any) {
			if set != "" {
				set += ", "
			}
			set += col + " = ?"
			args = append(args, v)
		}
		if fb.Shown != nil {
			appendSet("shown_to_user", *fb.Shown)
		}
		if fb.Dismissed != nil {
			appendSet("dismissed", *fb.Dismissed)
		}
		if fb.Helpful != nil {
			appendSet("marked_helpful", *fb.Helpful)
		}
		if set == "" {
			// Nothing to change; still report whether the tip exists.
			var one int
			err := tx.QueryRow(
				"SELECT 1 FROM tips WHERE tip_id = ?", tipID,
			).Scan(&one)
			if err == nil {
				found = true
				return nil
			}
			if err == sql.ErrNoRows {
				return nil
			}
			return fmt.Errorf("checking tip: %w", err)
		}

		args = append(args, tipID)
		res, err := tx.Exec(
			"UPDATE tips SET "+set+" WHERE tip_id = ?", args...,
		)
		if err != nil {
			return fmt.Errorf("updating tip %s: %w", tipID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking tip update: %w", err)
		}
		found = affected > 0
		return nil
	})
	return found, err
}
