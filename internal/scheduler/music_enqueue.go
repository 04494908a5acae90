package scheduler

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/airwaveops/radiod/internal/store"
)

// energyTargetForHour is the fixed time-of-day energy curve referenced
// by spec §4.5.1: low energy overnight, ramping through the morning,
// peaking mid-afternoon, tapering into the evening.
func energyTargetForHour(hour int) int {
	curve := [24]int{
		20, 15, 15, 15, 20, 30, // 00-05
		45, 60, 70, 75, 75, 80, // 06-11
		80, 75, 75, 70, 70, 65, // 12-17
		60, 55, 50, 45, 35, 25, // 18-23
	}
	return curve[hour%24]
}

// MusicEnqueue tops up the music queue when it runs low, preferring
// candidates the station hasn't played recently and, among those,
// candidates whose energy is closest to the time-of-day curve; energy
// orders the pool but never removes a candidate from it (spec §4.5.1).
func (t *Tasks) MusicEnqueue(ctx context.Context) TaskResult {
	qlen, err := t.Engine.QueueLength(ctx, "music")
	if err != nil {
		return fail(fmt.Errorf("music enqueue: queue length: %w", err))
	}
	if qlen >= t.Sched.MusicMinQueueLen {
		return skipped()
	}

	candidates, err := t.Store.ListAssetsByKind(store.KindMusic)
	if err != nil {
		return fail(fmt.Errorf("music enqueue: list candidates: %w", err))
	}
	if len(candidates) == 0 {
		return fail(fmt.Errorf("music enqueue: no music assets available"))
	}

	need := t.Sched.MusicTargetFill - qlen
	if need <= 0 {
		return skipped()
	}

	pool, err := t.excludeRecentlyPlayed(candidates)
	if err != nil {
		return fail(fmt.Errorf("music enqueue: exclude recent: %w", err))
	}

	selected := selectWithEnergyPreference(pool, need, energyTargetForHour(t.now().Hour()))

	for _, a := range selected {
		if _, err := t.Engine.Push(ctx, "music", a.Path); err != nil {
			return fail(fmt.Errorf("music enqueue: push %s: %w", a.Path, err))
		}
	}
	return ok()
}

// excludeRecentlyPlayed relaxes the anti-repetition window
// progressively (20 → 10 → 5 → none) so the pool is never emptied by the
// exclusion (spec §4.5.1).
func (t *Tasks) excludeRecentlyPlayed(candidates []store.Asset) ([]store.Asset, error) {
	for _, window := range []int{t.Sched.AntiRepeatWindow, 10, 5, 0} {
		if window == 0 {
			return candidates, nil
		}
		recent, err := t.Store.RecentlyPlayedIDs(store.SourceMusic, window)
		if err != nil {
			return nil, err
		}
		excluded := make(map[string]bool, len(recent))
		for _, id := range recent {
			excluded[id] = true
		}
		pool := make([]store.Asset, 0, len(candidates))
		for _, a := range candidates {
			if !excluded[a.ID] {
				pool = append(pool, a)
			}
		}
		if len(pool) > 0 {
			return pool, nil
		}
	}
	return candidates, nil
}

// selectWithEnergyPreference picks up to n assets uniformly at random,
// with a soft preference for candidates whose energy level is closest
// to target. Ties are broken randomly; candidates without an energy
// level rank after every candidate that has one.
func selectWithEnergyPreference(pool []store.Asset, n int, target int) []store.Asset {
	if n <= 0 || len(pool) == 0 {
		return nil
	}
	shuffled := make([]store.Asset, len(pool))
	copy(shuffled, pool)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	// Stable sort by energy distance; the preceding shuffle supplies
	// the random tie-break since sortByEnergyDistance, an insertion sort,
	// preserves shuffled order among equal distances.
	sortByEnergyDistance(shuffled, target)

	if n > len(shuffled) {
		n = len(shuffled)
	}
	return shuffled[:n]
}

func sortByEnergyDistance(assets []store.Asset, target int) {
	distance := func(a store.Asset) int {
		if a.EnergyLevel == nil {
			return 1 << 30 // no preference info: sorts after every scored candidate
		}
		d := *a.EnergyLevel - target
		if d < 0 {
			d = -d
		}
		return d
	}
	for i := 1; i < len(assets); i++ {
		for j := i; j > 0 && distance(assets[j]) < distance(assets[j-1]); j-- {
			assets[j], assets[j-1] = assets[j-1], assets[j]
		}
	}
}
