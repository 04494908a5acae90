package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// InsertAsset records a newly-ingested audio artifact. The asset's ID is
// a content hash and therefore unique; inserting an ID that already
// exists returns ErrDuplicateAsset rather than silently upserting, since
// a duplicate hash means the caller re-scanned a file it already knows
// about.
func (s *Store) InsertAsset(a Asset) error {
	if a.DurationSeconds <= 0 {
		return ErrInvalidAsset{Reason: "duration must be positive"}
	}
	switch a.Kind {
	case KindMusic, KindBreak, KindBumper, KindBed, KindSafety:
	default:
		return ErrInvalidAsset{Reason: "unknown kind: " + string(a.Kind)}
	}

	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO assets (id, path, kind, duration_seconds, lufs, true_peak_dbtp, energy_level, title, artist, album, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Path, string(a.Kind), a.DurationSeconds, a.LUFS, a.TruePeakDBTP, a.EnergyLevel, a.Title, a.Artist, a.Album, created.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueConstraint(err) {
			return ErrDuplicateAsset{ID: a.ID}
		}
		return fmt.Errorf("store: insert asset: %w", err)
	}
	return nil
}

// LookupAssetByPath returns the asset registered at the given filesystem
// path, or sql.ErrNoRows if none exists.
func (s *Store) LookupAssetByPath(path string) (Asset, error) {
	return s.scanAssetRow(s.db.QueryRow(`
		SELECT id, path, kind, duration_seconds, lufs, true_peak_dbtp, energy_level, title, artist, album, created_at
		FROM assets WHERE path = ?
	`, path))
}

// LookupAssetByID returns the asset with the given content-hash ID, or
// sql.ErrNoRows if none exists.
func (s *Store) LookupAssetByID(id string) (Asset, error) {
	return s.scanAssetRow(s.db.QueryRow(`
		SELECT id, path, kind, duration_seconds, lufs, true_peak_dbtp, energy_level, title, artist, album, created_at
		FROM assets WHERE id = ?
	`, id))
}

// ListAssetsByKind returns every asset of the given kind, ordered by path
// for deterministic pagination by callers.
func (s *Store) ListAssetsByKind(kind AssetKind) ([]Asset, error) {
	rows, err := s.db.Query(`
		SELECT id, path, kind, duration_seconds, lufs, true_peak_dbtp, energy_level, title, artist, album, created_at
		FROM assets WHERE kind = ? ORDER BY path
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("store: list assets: %w", err)
	}
	defer rows.Close()

	var out []Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanAssetRow(row *sql.Row) (Asset, error) {
	return scanAsset(row)
}

func scanAsset(row rowScanner) (Asset, error) {
	var (
		a         Asset
		kind      string
		createdAt string
	)
	if err := row.Scan(&a.ID, &a.Path, &kind, &a.DurationSeconds, &a.LUFS, &a.TruePeakDBTP, &a.EnergyLevel, &a.Title, &a.Artist, &a.Album, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Asset{}, err
		}
		return Asset{}, fmt.Errorf("store: scan asset: %w", err)
	}
	a.Kind = AssetKind(kind)
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Asset{}, fmt.Errorf("store: parse created_at: %w", err)
	}
	a.CreatedAt = t
	return a, nil
}

func isUniqueConstraint(err error) bool {
	// modernc.org/sqlite reports constraint violations with this
	// substring; there is no typed sentinel exported for it.
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
