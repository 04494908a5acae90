// Package supervisor owns the scheduler's wall-clock-aligned triggers
// (spec §4.8): each registered task fires at canonical instants
// (:00, :05, …, never "start + N·period"), catches up exactly once if
// the host was down across a scheduled instant, and is isolated so a
// panic or error in one task never stops the others or the supervisor
// itself.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/airwaveops/radiod/internal/log"
	"github.com/airwaveops/radiod/internal/scheduler"
	"github.com/airwaveops/radiod/internal/store"
)

// TaskFunc is the shape every scheduler task function satisfies.
type TaskFunc func(ctx context.Context) scheduler.TaskResult

// Trigger binds a task to its wall-clock period and a per-run deadline.
type Trigger struct {
	Name     string
	Period   time.Duration
	Deadline time.Duration
	Fn       TaskFunc
}

// Supervisor runs a set of Triggers, each in its own goroutine, logging
// every run as a JSON line and persisting last-fire times so missed
// instants can be caught up exactly once on the next start.
type Supervisor struct {
	Store    *store.Store
	Triggers []Trigger
	Clock    func() time.Time
	jobLog   *jobLogger
	wg       sync.WaitGroup
}

// New builds a Supervisor. jobsLogPath is the JSON-lines file every
// task run is appended to (spec §4.8's structured logging requirement).
func New(st *store.Store, jobsLogPath string, triggers []Trigger) (*Supervisor, error) {
	jl, err := newJobLogger(jobsLogPath)
	if err != nil {
		return nil, fmt.Errorf("supervisor: open jobs log: %w", err)
	}
	return &Supervisor{
		Store:    st,
		Triggers: triggers,
		jobLog:   jl,
	}, nil
}

func (s *Supervisor) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// Run starts every trigger's loop and blocks until ctx is cancelled,
// then waits for in-flight task runs to reach a clean boundary.
func (s *Supervisor) Run(ctx context.Context) {
	for _, trig := range s.Triggers {
		trig := trig
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runTrigger(ctx, trig)
		}()
	}
	<-ctx.Done()
	s.wg.Wait()
	_ = s.jobLog.Close()
}

func (s *Supervisor) runTrigger(ctx context.Context, trig Trigger) {
	s.catchUpIfMissed(ctx, trig)
	if ctx.Err() != nil {
		return
	}

	for {
		next := nextAligned(s.now(), trig.Period)
		wait := next.Sub(s.now())
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.runOnce(ctx, trig)
	}
}

// catchUpIfMissed fires trig.Fn immediately, exactly once, if the
// recorded last-fire time is more than one period in the past — the
// "persistent" missed-fire behavior of spec §4.8. Two missed instants
// still yield only one catch-up fire because the guard only checks
// whether *any* instant was missed, not how many.
func (s *Supervisor) catchUpIfMissed(ctx context.Context, trig Trigger) {
	key := lastFireKey(trig.Name)
	raw, ok, err := s.Store.ReadState(key)
	if err != nil || !ok {
		_ = s.Store.SetState(key, s.now().Format(time.RFC3339))
		return
	}

	last, err := time.Parse(time.RFC3339, raw)
	if err != nil || s.now().Sub(last) <= trig.Period {
		return
	}

	s.runOnce(ctx, trig)
}

func (s *Supervisor) runOnce(ctx context.Context, trig Trigger) {
	deadline := trig.Deadline
	if deadline == 0 {
		deadline = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := s.now()
	result := runIsolated(runCtx, trig.Fn)
	duration := time.Since(start)

	_ = s.Store.SetState(lastFireKey(trig.Name), s.now().Format(time.RFC3339))
	s.jobLog.Record(jobRun{
		Task:     trig.Name,
		Status:   string(result.Status),
		Duration: duration,
		Err:      result.Err,
	})

	evt := log.WithComponent("supervisor").Info()
	if result.Status == scheduler.TaskFail {
		evt = log.WithComponent("supervisor").Warn()
	}
	evt.Str("task", trig.Name).Str("status", string(result.Status)).Dur("duration", duration).
		AnErr("error", result.Err).Msg("task run")
}

// runIsolated recovers from a panicking task so one bad task never
// takes the supervisor down (spec §4.8 task isolation).
func runIsolated(ctx context.Context, fn TaskFunc) (result scheduler.TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			result = scheduler.TaskResult{Status: scheduler.TaskFail, Err: fmt.Errorf("task panicked: %v", r)}
		}
	}()
	return fn(ctx)
}

// nextAligned returns the next canonical instant at or after now for
// the given period (e.g. period=5m aligns to :00,:05,:10,…). Go's
// Truncate operates on absolute time since an epoch that is itself a
// whole number of minutes away from any wall-clock boundary, so this
// holds for any period that evenly divides an hour.
func nextAligned(now time.Time, period time.Duration) time.Time {
	truncated := now.Truncate(period)
	if truncated.Equal(now) {
		return now
	}
	return truncated.Add(period)
}

func lastFireKey(task string) string {
	return "supervisor:last_fire:" + task
}
