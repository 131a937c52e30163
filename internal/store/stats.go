package store

import (
	"context"
	"fmt"
)

// Stats holds database-wide counts for the health endpoint.
type Stats struct {
	SessionCount int `json:"session_count"`
	SubjectCount int `json:"subject_count"`
	WindowCount  int `json:"window_count"`
	TipCount     int `json:"tip_count"`
}

// GetStats returns database statistics.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	const query = `
		SELECT
			(SELECT COUNT(*) FROM sessions),
			(SELECT COUNT(DISTINCT subject_id) FROM sessions),
			(SELECT COUNT(*) FROM window_metrics),
			(SELECT COUNT(*) FROM tips)`

	var st Stats
	err := s.reader.QueryRowContext(ctx, query).Scan(
		&st.SessionCount,
		&st.SubjectCount,
		&st.WindowCount,
		&st.TipCount,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("fetching stats: %w", err)
	}
	return st, nil
}

// Subjects lists every subject with at least one stored session,
// ordered by id.
func (s *Store) Subjects(ctx context.Context) ([]string, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT DISTINCT subject_id FROM sessions ORDER BY subject_id`)
	if err != nil {
		return nil, fmt.Errorf("listing subjects: %w", err)
	}
	defer rows.Close()

	var subjects []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning subject id: %w", err)
		}
		subjects = append(subjects, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subjects: %w", err)
	}
	return subjects, nil
}
