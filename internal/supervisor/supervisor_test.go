package supervisor

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/airwaveops/radiod/internal/scheduler"
	"github.com/airwaveops/radiod/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "radiod.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// INV-SUPERVISOR-001: a missed scheduled instant (last fire older than
// one period) triggers exactly one immediate catch-up run at startup.
func TestCatchUpIfMissed_FiresOnceForStalePastFire_INV_SUPERVISOR_001(t *testing.T) {
	st := testStore(t)
	require.NoError(t, st.SetState(lastFireKey("demo"), time.Now().Add(-time.Hour).Format(time.RFC3339)))

	var runs int32
	sup, err := New(st, filepath.Join(t.TempDir(), "jobs.jsonl"), []Trigger{{
		Name:   "demo",
		Period: time.Minute,
		Fn: func(ctx context.Context) scheduler.TaskResult {
			atomic.AddInt32(&runs, 1)
			return scheduler.TaskResult{Status: scheduler.TaskOK}
		},
	}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	sup.catchUpIfMissed(ctx, sup.Triggers[0])
	cancel()

	require.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

// INV-SUPERVISOR-002: a recent last-fire (within one period) does not
// trigger a catch-up run.
func TestCatchUpIfMissed_SkipsWhenRecentlyFired_INV_SUPERVISOR_002(t *testing.T) {
	st := testStore(t)
	require.NoError(t, st.SetState(lastFireKey("demo"), time.Now().Add(-10*time.Second).Format(time.RFC3339)))

	var runs int32
	sup, err := New(st, filepath.Join(t.TempDir(), "jobs.jsonl"), []Trigger{{
		Name:   "demo",
		Period: time.Minute,
		Fn: func(ctx context.Context) scheduler.TaskResult {
			atomic.AddInt32(&runs, 1)
			return scheduler.TaskResult{Status: scheduler.TaskOK}
		},
	}})
	require.NoError(t, err)

	sup.catchUpIfMissed(context.Background(), sup.Triggers[0])
	require.Equal(t, int32(0), atomic.LoadInt32(&runs))
}

// INV-SUPERVISOR-003: a panicking task is recovered and recorded as a
// failed run rather than crashing the supervisor.
func TestRunOnce_RecoversPanickingTask_INV_SUPERVISOR_003(t *testing.T) {
	st := testStore(t)
	jobsPath := filepath.Join(t.TempDir(), "jobs.jsonl")
	sup, err := New(st, jobsPath, []Trigger{{
		Name:   "boom",
		Period: time.Minute,
		Fn: func(ctx context.Context) scheduler.TaskResult {
			panic("kaboom")
		},
	}})
	require.NoError(t, err)

	require.NotPanics(t, func() {
		sup.runOnce(context.Background(), sup.Triggers[0])
	})
	require.NoError(t, sup.jobLog.Close())

	data, err := os.ReadFile(jobsPath)
	require.NoError(t, err)
	require.Contains(t, string(data), `"status":"fail"`)
	require.Contains(t, string(data), "kaboom")
}

func TestJobLogger_WritesOneLinePerRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.jsonl")
	jl, err := newJobLogger(path)
	require.NoError(t, err)

	jl.Record(jobRun{Task: "a", Status: "ok", Duration: 5 * time.Millisecond})
	jl.Record(jobRun{Task: "b", Status: "fail", Duration: time.Second, Err: errBoom})
	require.NoError(t, jl.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 2)
}

func TestNextAligned_RoundsUpToPeriodBoundary(t *testing.T) {
	now := time.Date(2026, 7, 30, 14, 7, 12, 0, time.UTC)
	next := nextAligned(now, 5*time.Minute)
	require.Equal(t, time.Date(2026, 7, 30, 14, 10, 0, 0, time.UTC), next)
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
