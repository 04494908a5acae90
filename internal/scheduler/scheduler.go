// Package scheduler implements the five idempotent periodic tasks of
// spec §4.5, plus the supplemental metrics export. Each task is a pure
// function of (wall clock, Store, audio engine) that reads, decides,
// acts, and returns — no task holds state across runs except via the
// Store's SchedulerState table.
package scheduler

import (
	"time"

	"github.com/airwaveops/radiod/internal/config"
	"github.com/airwaveops/radiod/internal/content"
	"github.com/airwaveops/radiod/internal/engineclient"
	"github.com/airwaveops/radiod/internal/store"
)

// TaskStatus is the outcome the supervisor records for a task run.
type TaskStatus string

const (
	TaskOK      TaskStatus = "ok"
	TaskFail    TaskStatus = "fail"
	TaskSkipped TaskStatus = "skipped"
)

// TaskResult is returned by every task function.
type TaskResult struct {
	Status TaskStatus
	Err    error
}

func ok() TaskResult            { return TaskResult{Status: TaskOK} }
func skipped() TaskResult       { return TaskResult{Status: TaskSkipped} }
func fail(err error) TaskResult { return TaskResult{Status: TaskFail, Err: err} }

// Clock abstracts wall-clock time so tests can drive scheduling
// decisions without sleeping.
type Clock func() time.Time

// Tasks bundles the five scheduler tasks (plus metrics export) with
// their shared dependencies.
type Tasks struct {
	Clock              Clock
	Store              *store.Store
	Engine             *engineclient.Client
	Paths              config.Paths
	Sched              config.SchedulerConfig
	Content            *content.Generator
	NowPlayingExporter *Exporter
	BumperPath         string
}

// New builds a Tasks bundle from its dependencies.
func New(clock Clock, st *store.Store, engine *engineclient.Client, paths config.Paths, sched config.SchedulerConfig, gen *content.Generator, exporter *Exporter, bumperPath string) *Tasks {
	return &Tasks{
		Clock:              clock,
		Store:              st,
		Engine:             engine,
		Paths:              paths,
		Sched:              sched,
		Content:            gen,
		NowPlayingExporter: exporter,
		BumperPath:         bumperPath,
	}
}

func (t *Tasks) now() time.Time {
	if t.Clock != nil {
		return t.Clock()
	}
	return time.Now()
}
