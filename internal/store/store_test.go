package store

import (
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "radiod.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// INV-STORE-001: asset insert/lookup round-trips every field.
func TestStore_AssetRoundtrip_INV_STORE_001(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	energy := 42
	a := Asset{
		ID:              "hash-abc123",
		Path:            "/srv/radio/assets/music/track.mp3",
		Kind:            KindMusic,
		DurationSeconds: 210.5,
		LUFS:            -16.2,
		TruePeakDBTP:    -1.1,
		EnergyLevel:     &energy,
		Title:           "Track",
		Artist:          "Artist",
		Album:           "Album",
		CreatedAt:       time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, s.InsertAsset(a))

	got, err := s.LookupAssetByID(a.ID)
	require.NoError(t, err)
	require.Equal(t, a.ID, got.ID)
	require.Equal(t, a.Path, got.Path)
	require.Equal(t, a.Kind, got.Kind)
	require.InDelta(t, a.DurationSeconds, got.DurationSeconds, 0.001)
	require.NotNil(t, got.EnergyLevel)
	require.Equal(t, energy, *got.EnergyLevel)

	byPath, err := s.LookupAssetByPath(a.Path)
	require.NoError(t, err)
	require.Equal(t, a.ID, byPath.ID)
}

// INV-STORE-002: duplicate asset IDs are rejected, not upserted.
func TestStore_InsertAsset_DuplicateRejected_INV_STORE_002(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	a := Asset{ID: "dup-1", Path: "/a.mp3", Kind: KindMusic, DurationSeconds: 10, LUFS: -16, TruePeakDBTP: -1}
	require.NoError(t, s.InsertAsset(a))

	a2 := a
	a2.Path = "/b.mp3"
	err := s.InsertAsset(a2)
	require.Error(t, err)
	var dupErr ErrDuplicateAsset
	require.ErrorAs(t, err, &dupErr)
	require.Equal(t, "dup-1", dupErr.ID)
}

func TestStore_InsertAsset_InvalidRejected(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	err := s.InsertAsset(Asset{ID: "x", Path: "/x.mp3", Kind: KindMusic, DurationSeconds: 0})
	require.Error(t, err)
	var invalidErr ErrInvalidAsset
	require.ErrorAs(t, err, &invalidErr)

	err = s.InsertAsset(Asset{ID: "y", Path: "/y.mp3", Kind: "unknown", DurationSeconds: 5})
	require.ErrorAs(t, err, &invalidErr)
}

func TestStore_LookupAsset_NotFound(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	_, err := s.LookupAssetByID("missing")
	require.True(t, errors.Is(err, sql.ErrNoRows))
}

// INV-STORE-003: play history orders most-recent-first and respects the
// per-source limit used by the anti-repetition window.
func TestStore_PlayHistory_RecentOrdering_INV_STORE_003(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"track-1", "track-2", "track-3"} {
		require.NoError(t, s.RecordPlay(id, SourceMusic, base.Add(time.Duration(i)*time.Minute)))
	}
	require.NoError(t, s.RecordPlay("override-1", SourceOverride, base))

	recent, err := s.RecentlyPlayedIDs(SourceMusic, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"track-3", "track-2"}, recent)

	last, err := s.LastPlayedAt(SourceMusic)
	require.NoError(t, err)
	require.True(t, last.Equal(base.Add(2*time.Minute)))
}

func TestStore_LastPlayedAt_NoRows(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	last, err := s.LastPlayedAt(SourceBreak)
	require.NoError(t, err)
	require.True(t, last.IsZero())
}

func TestStore_PrunePlayHistory(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	old := time.Now().UTC().Add(-72 * time.Hour)
	require.NoError(t, s.RecordPlay("stale", SourceMusic, old))
	require.NoError(t, s.RecordPlay("fresh", SourceMusic, time.Now().UTC()))

	n, err := s.PrunePlayHistory(48 * time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	recent, err := s.RecentlyPlayedIDs(SourceMusic, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"fresh"}, recent)
}

// INV-STORE-004: MarkScheduled is a set-if-absent; the first call claims
// the slot and a second call with the same key is told it did not.
func TestStore_MarkScheduled_SetIfAbsent_INV_STORE_004(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	claimed, err := s.MarkScheduled("break_generate:2026-07-30T12:50")
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = s.MarkScheduled("break_generate:2026-07-30T12:50")
	require.NoError(t, err)
	require.False(t, claimed)
}

func TestStore_MarkScheduled_ConcurrentRace(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	const n = 16
	var wg sync.WaitGroup
	claims := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			claimed, err := s.MarkScheduled("station_id:12:14")
			require.NoError(t, err)
			claims[i] = claimed
		}(i)
	}
	wg.Wait()

	var claimedCount int
	for _, c := range claims {
		if c {
			claimedCount++
		}
	}
	require.Equal(t, 1, claimedCount)
}

func TestStore_SetStateAndDelete(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	require.NoError(t, s.SetState("force_break_armed", "1"))
	val, ok, err := s.ReadState("force_break_armed")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", val)

	require.NoError(t, s.SetState("force_break_armed", "0"))
	val, ok, err = s.ReadState("force_break_armed")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "0", val)

	require.NoError(t, s.DeleteState("force_break_armed"))
	_, ok, err = s.ReadState("force_break_armed")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_PruneSchedulerState(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	require.NoError(t, s.SetState("stale_key", "1"))
	_, err := s.db.Exec(`UPDATE scheduler_state SET updated_at = ? WHERE key = ?`,
		time.Now().UTC().Add(-72*time.Hour).Format(time.RFC3339Nano), "stale_key")
	require.NoError(t, err)

	require.NoError(t, s.SetState("fresh_key", "1"))

	n, err := s.PruneSchedulerState(48 * time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, ok, err := s.ReadState("stale_key")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = s.ReadState("fresh_key")
	require.NoError(t, err)
	require.True(t, ok)
}

// INV-STORE-005: generation runs are recorded and retrieved in
// most-recent-first order per job.
func TestStore_GenerationRuns_INV_STORE_005(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	base := time.Now().UTC()
	require.NoError(t, s.InsertGenerationRun(GenerationRun{
		Job: "break", StartedAt: base, FinishedAt: base.Add(time.Second),
		Status: "ok", OutputPath: "/srv/radio/state/next.break",
	}))
	require.NoError(t, s.InsertGenerationRun(GenerationRun{
		Job: "break", StartedAt: base.Add(time.Minute), FinishedAt: base.Add(time.Minute + time.Second),
		Status: "fail", OutputPath: "", Error: "provider chain exhausted",
	}))
	require.NoError(t, s.InsertGenerationRun(GenerationRun{
		Job: "station_id", StartedAt: base, FinishedAt: base, Status: "ok",
	}))

	runs, err := s.ListRecentGenerationRuns("break", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "fail", runs[0].Status)
	require.Equal(t, "ok", runs[1].Status)
}

// INV-STORE-006: schema migration is idempotent — opening an existing
// store twice does not error or reapply the schema.
func TestStore_Migrate_Idempotent_INV_STORE_006(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "radiod.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.InsertAsset(Asset{ID: "a", Path: "/a.mp3", Kind: KindMusic, DurationSeconds: 1, LUFS: -16, TruePeakDBTP: -1}))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.LookupAssetByID("a")
	require.NoError(t, err)
	require.Equal(t, "a", got.ID)
}

// INV-STORE-007: WAL mode allows concurrent readers while a write is in
// flight.
func TestStore_WAL_ConcurrentReadWrite_INV_STORE_007(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	require.NoError(t, s.InsertAsset(Asset{ID: "seed", Path: "/seed.mp3", Kind: KindMusic, DurationSeconds: 1, LUFS: -16, TruePeakDBTP: -1}))

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.LookupAssetByID("seed"); err != nil {
				errs <- err
			}
		}()
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.RecordPlay("seed", SourceMusic, time.Now().UTC()); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected concurrent error: %v", err)
	}
}
