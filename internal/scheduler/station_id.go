package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/airwaveops/radiod/internal/store"
)

// StationIDSchedule fires at the top of every minute but only acts in
// the minutes configured in Sched.StationIDMinutes (14, 29, 44 by
// default), guarded by MarkScheduled per hour+target so a delayed or
// repeated tick never double-fires the same slot (spec §4.5.4).
func (t *Tasks) StationIDSchedule(ctx context.Context) TaskResult {
	now := t.now()
	if now.Second() != 0 {
		return skipped()
	}

	// StationIDMinutes holds the minute the task *fires* on (14/29/44);
	// the schedule slot it's filling is the one right after (15/30/45),
	// which is what the guard key and spec §4.5.4/S4 name.
	target := -1
	for _, m := range t.Sched.StationIDMinutes {
		if m == now.Minute() {
			target = m + 1
			break
		}
	}
	if target == -1 {
		return skipped()
	}

	key := fmt.Sprintf("station_id:%s:%d", now.Format("2006-01-02T15"), target)
	claimed, err := t.Store.MarkScheduled(key)
	if err != nil {
		return fail(fmt.Errorf("station id: mark scheduled: %w", err))
	}
	if !claimed {
		return skipped()
	}

	bumper, err := t.pickBumper()
	if err != nil {
		return fail(fmt.Errorf("station id: pick bumper: %w", err))
	}

	if _, err := t.Engine.Push(ctx, "breaks", bumper.Path); err != nil {
		return fail(fmt.Errorf("station id: push: %w", err))
	}
	return ok()
}

// pickBumper selects a random bumper asset, excluding the one played
// most recently so the same jingle never repeats back-to-back.
func (t *Tasks) pickBumper() (store.Asset, error) {
	assets, err := t.Store.ListAssetsByKind(store.KindBumper)
	if err != nil {
		return store.Asset{}, err
	}
	if len(assets) == 0 {
		return store.Asset{}, fmt.Errorf("no bumper assets available")
	}
	if len(assets) == 1 {
		return assets[0], nil
	}

	recent, err := t.Store.RecentlyPlayedIDs(store.SourceBumper, 1)
	if err != nil {
		return store.Asset{}, err
	}
	// The Play Recorder stores bumper plays under the file stem, or
	// "<stem>#<rid>", rather than the asset ID, so match on the stem too.
	var lastID, lastStem string
	if len(recent) > 0 {
		lastID = recent[0]
		lastStem, _, _ = strings.Cut(lastID, "#")
	}

	pool := make([]store.Asset, 0, len(assets))
	for _, a := range assets {
		if a.ID != lastID && fileStem(a.Path) != lastStem {
			pool = append(pool, a)
		}
	}
	if len(pool) == 0 {
		pool = assets
	}
	return pool[rand.Intn(len(pool))], nil
}
