package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ForceBreakArmedKey is the scheduler_state key the Drop-In Watcher
// claims via MarkScheduled when it observes the force_break trigger
// file, and that recorder.Recorder clears once the resulting break or
// bumper play is actually observed (spec §4.9).
const ForceBreakArmedKey = "force_break:armed"

// MarkScheduled is the once-only claim used by the scheduler tasks and
// by the Drop-In Watcher's force-break arming (the supervisor's missed-
// fire catch-up uses ReadState/SetState instead): it performs an atomic
// set-if-absent on key, returning claimed=true only if this call is the
// one that created the row. A task calls this before doing
// its work so that a crash-and-restart, or two overlapping ticks of the
// same wall-clock slot, never runs the task twice.
func (s *Store) MarkScheduled(key string) (claimed bool, err error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.Exec(`
		INSERT INTO scheduler_state (key, value, updated_at)
		VALUES (?, '1', ?)
		ON CONFLICT(key) DO NOTHING
	`, key, now)
	if err != nil {
		return false, fmt.Errorf("store: mark scheduled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: mark scheduled rows affected: %w", err)
	}
	return n == 1, nil
}

// ReadState returns the stored value for key, or ("", false, nil) if
// absent.
func (s *Store) ReadState(key string) (value string, ok bool, err error) {
	err = s.db.QueryRow(`SELECT value FROM scheduler_state WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("store: read state: %w", err)
	}
	return value, true, nil
}

// SetState unconditionally upserts a value for key, used for state that
// is informational rather than a once-only claim (e.g. the supervisor's
// last-fire timestamps and the now-playing export's stream start).
func (s *Store) SetState(key, value string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(`
		INSERT INTO scheduler_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, now)
	if err != nil {
		return fmt.Errorf("store: set state: %w", err)
	}
	return nil
}

// DeleteState removes a key, used when clearing a one-shot flag (e.g.
// force_break's trigger, consumed on the next break start).
func (s *Store) DeleteState(key string) error {
	_, err := s.db.Exec(`DELETE FROM scheduler_state WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("store: delete state: %w", err)
	}
	return nil
}

// PruneSchedulerState deletes keys not updated within the retention
// window, bounding growth of once-only markers (spec §4.2
// scheduler_state_ttl, default 48h).
func (s *Store) PruneSchedulerState(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.Exec(`DELETE FROM scheduler_state WHERE updated_at < ?`, cutoff.Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("store: prune scheduler state: %w", err)
	}
	return res.RowsAffected()
}
