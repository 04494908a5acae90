package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RecordPlay appends an immutable play-history row. assetID may be a
// store Asset.ID or a synthetic filename-stem (optionally suffixed with
// "#<rid>") for content the store never ingested as an Asset, per
// spec §4.6's classification of on_track events.
func (s *Store) RecordPlay(assetID string, src Source, playedAt time.Time) error {
	if playedAt.IsZero() {
		playedAt = time.Now().UTC()
	}
	hourBucket := playedAt.Truncate(time.Hour)

	_, err := s.db.Exec(`
		INSERT INTO play_history (asset_id, played_at, source, hour_bucket)
		VALUES (?, ?, ?, ?)
	`, assetID, playedAt.Format(time.RFC3339Nano), string(src), hourBucket.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: record play: %w", err)
	}
	return nil
}

// RecentlyPlayedIDs returns the asset IDs of the last n plays from the
// given source, most recent first, for anti-repetition checks (spec
// §4.5 music_enqueue's anti_repeat_window).
func (s *Store) RecentlyPlayedIDs(src Source, n int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT asset_id FROM play_history
		WHERE source = ?
		ORDER BY played_at DESC
		LIMIT ?
	`, string(src), n)
	if err != nil {
		return nil, fmt.Errorf("store: recently played: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan play history: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// FindPlayByAssetID returns the most recent play-history row with an
// exact asset-id match for the given source, used by the now-playing
// export's rid-based break/bumper lookup (spec's resolution of the
// "30-second window" ambiguity: match on the exact synthetic id
// instead of a time window, which cannot mis-attribute a stale replay).
func (s *Store) FindPlayByAssetID(assetID string, src Source) (PlayHistory, bool, error) {
	var (
		h          PlayHistory
		srcStr     string
		playedAt   string
		hourBucket string
	)
	err := s.db.QueryRow(`
		SELECT id, asset_id, played_at, source, hour_bucket FROM play_history
		WHERE asset_id = ? AND source = ?
		ORDER BY played_at DESC
		LIMIT 1
	`, assetID, string(src)).Scan(&h.ID, &h.AssetID, &playedAt, &srcStr, &hourBucket)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PlayHistory{}, false, nil
		}
		return PlayHistory{}, false, fmt.Errorf("store: find play by asset id: %w", err)
	}
	h.Source = Source(srcStr)
	if h.PlayedAt, err = time.Parse(time.RFC3339Nano, playedAt); err != nil {
		return PlayHistory{}, false, fmt.Errorf("store: parse played_at: %w", err)
	}
	if h.HourBucket, err = time.Parse(time.RFC3339Nano, hourBucket); err != nil {
		return PlayHistory{}, false, fmt.Errorf("store: parse hour_bucket: %w", err)
	}
	return h, true, nil
}

// RecentPlayHistory returns the last n plays across every source, most
// recent first, for the now-playing snapshot's history tail (spec §6).
func (s *Store) RecentPlayHistory(n int) ([]PlayHistory, error) {
	rows, err := s.db.Query(`
		SELECT id, asset_id, played_at, source, hour_bucket FROM play_history
		ORDER BY played_at DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent play history: %w", err)
	}
	defer rows.Close()

	var out []PlayHistory
	for rows.Next() {
		var (
			h          PlayHistory
			src        string
			playedAt   string
			hourBucket string
		)
		if err := rows.Scan(&h.ID, &h.AssetID, &playedAt, &src, &hourBucket); err != nil {
			return nil, fmt.Errorf("store: scan recent play history: %w", err)
		}
		h.Source = Source(src)
		if h.PlayedAt, err = time.Parse(time.RFC3339Nano, playedAt); err != nil {
			return nil, fmt.Errorf("store: parse played_at: %w", err)
		}
		if h.HourBucket, err = time.Parse(time.RFC3339Nano, hourBucket); err != nil {
			return nil, fmt.Errorf("store: parse hour_bucket: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// PrunePlayHistory deletes play-history rows played more than olderThan
// ago and returns how many rows it removed. Nothing in the daemon calls
// it; the live system only ever appends play history.
func (s *Store) PrunePlayHistory(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.Exec(`DELETE FROM play_history WHERE played_at < ?`, cutoff.Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("store: prune play history: %w", err)
	}
	return res.RowsAffected()
}

// LastPlayedAt returns the most recent played_at timestamp for the given
// source, used by the now-playing export's track-start match of a music
// row (spec §4.5 now_playing_export). The zero time is returned if no
// play exists.
func (s *Store) LastPlayedAt(src Source) (time.Time, error) {
	var raw string
	err := s.db.QueryRow(`
		SELECT played_at FROM play_history
		WHERE source = ?
		ORDER BY played_at DESC
		LIMIT 1
	`, string(src)).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("store: last played: %w", err)
	}
	return time.Parse(time.RFC3339Nano, raw)
}
