package store

import (
	"fmt"
	"time"
)

// InsertGenerationRun records one Content Generator invocation, whatever
// its outcome, for operational visibility (spec §4.4 step 8).
func (s *Store) InsertGenerationRun(r GenerationRun) error {
	started := r.StartedAt
	if started.IsZero() {
		started = time.Now().UTC()
	}
	finished := r.FinishedAt
	if finished.IsZero() {
		finished = started
	}

	_, err := s.db.Exec(`
		INSERT INTO generation_runs (job, started_at, finished_at, status, output_path, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.Job, started.Format(time.RFC3339Nano), finished.Format(time.RFC3339Nano), r.Status, r.OutputPath, r.Error)
	if err != nil {
		return fmt.Errorf("store: insert generation run: %w", err)
	}
	return nil
}

// ListRecentGenerationRuns returns the last n generation_runs rows for
// job, most recent first. Neither the now-playing nor the metrics export
// calls it; it serves tests and operator tooling.
func (s *Store) ListRecentGenerationRuns(job string, n int) ([]GenerationRun, error) {
	rows, err := s.db.Query(`
		SELECT id, job, started_at, finished_at, status, output_path, error
		FROM generation_runs
		WHERE job = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, job, n)
	if err != nil {
		return nil, fmt.Errorf("store: list generation runs: %w", err)
	}
	defer rows.Close()

	var out []GenerationRun
	for rows.Next() {
		var (
			r                   GenerationRun
			startedAt, finished string
		)
		if err := rows.Scan(&r.ID, &r.Job, &startedAt, &finished, &r.Status, &r.OutputPath, &r.Error); err != nil {
			return nil, fmt.Errorf("store: scan generation run: %w", err)
		}
		r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("store: parse started_at: %w", err)
		}
		r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished)
		if err != nil {
			return nil, fmt.Errorf("store: parse finished_at: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
