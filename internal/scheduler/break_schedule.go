package scheduler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// BreakSchedule fires every 5 minutes but only acts in the first five
// minutes of the hour (spec §4.5.3), guarded by MarkScheduled so a
// supervisor restart or a delayed tick never double-schedules the same
// hour's break. It resolves the freshest available break artifact —
// next.break if published within the freshness window, else
// last_good.break, else the configured bumper — and pushes it onto the
// breaks queue, then best-effort archives a copy.
func (t *Tasks) BreakSchedule(ctx context.Context) TaskResult {
	now := t.now()
	if now.Minute() >= 5 {
		return skipped()
	}

	hourBucket := now.Truncate(time.Hour).Format("2006-01-02T15")
	claimed, err := t.Store.MarkScheduled("break:" + hourBucket)
	if err != nil {
		return fail(fmt.Errorf("break schedule: mark scheduled: %w", err))
	}
	if !claimed {
		return skipped()
	}

	return t.pushBreak(ctx, now)
}

// ForceBreak pushes a break immediately, bypassing the five-minute
// window and per-hour guard. Called by the Drop-In Watcher when it
// observes drops/force_break/trigger (spec §4.9): the flag schedules a
// break right after the current track ends, not at the next aligned
// BreakSchedule tick.
func (t *Tasks) ForceBreak(ctx context.Context) TaskResult {
	return t.pushBreak(ctx, t.now())
}

// pushBreak resolves the freshest break artifact, pushes it to the
// engine's breaks queue, and best-effort archives a copy.
func (t *Tasks) pushBreak(ctx context.Context, now time.Time) TaskResult {
	path, err := t.resolveBreakArtifact(now)
	if err != nil {
		return fail(fmt.Errorf("break schedule: resolve artifact: %w", err))
	}

	if _, err := t.Engine.Push(ctx, "breaks", path); err != nil {
		return fail(fmt.Errorf("break schedule: push: %w", err))
	}

	t.archiveBreak(path, now)
	return ok()
}

// resolveBreakArtifact implements the freshness fallback chain: next.break
// if it was published within the configured window, else last_good.break,
// else the operator-configured bumper (spec §4.5.3).
func (t *Tasks) resolveBreakArtifact(now time.Time) (string, error) {
	nextPath := filepath.Join(t.Paths.BreaksDir, "next.break")
	if info, err := os.Stat(nextPath); err == nil {
		if now.Sub(info.ModTime()) <= t.Sched.BreakFreshWindow {
			return nextPath, nil
		}
	}

	lastGoodPath := filepath.Join(t.Paths.BreaksDir, "last_good.break")
	if _, err := os.Stat(lastGoodPath); err == nil {
		return lastGoodPath, nil
	}

	if t.BumperPath == "" {
		return "", fmt.Errorf("no next.break, no last_good.break, and no bumper configured")
	}
	return t.BumperPath, nil
}

// archiveBreak copies the scheduled artifact into the hourly archive
// directory on a best-effort basis; a failure here must never fail the
// task, since the break has already been pushed to air.
func (t *Tasks) archiveBreak(srcPath string, now time.Time) {
	dir := filepath.Join(t.Paths.ArchiveDir, now.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	dst := filepath.Join(dir, now.Format("15")+"00.mp3")

	src, err := os.Open(srcPath)
	if err != nil {
		return
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return
	}
	defer out.Close()

	_, _ = io.Copy(out, src)
}
