// Package dropin implements the Drop-In Watcher (spec §4.9): an
// fsnotify-driven watcher over the operator drop directories that lets
// a human override the schedule without touching the database —
// dropping a file into drops/queue pushes it onto the engine's
// override queue, and creating the trigger file drops/force_break/trigger
// arms an immediate break.
package dropin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/airwaveops/radiod/internal/engineclient"
	"github.com/airwaveops/radiod/internal/log"
	"github.com/airwaveops/radiod/internal/scheduler"
	"github.com/airwaveops/radiod/internal/store"
)

// ForceBreaker is the subset of scheduler.Tasks the watcher needs to
// arm an immediate break; a narrow interface keeps tests free of a
// full Tasks bundle.
type ForceBreaker interface {
	ForceBreak(ctx context.Context) scheduler.TaskResult
}

// Watcher watches drops/queue for newly dropped override files and
// drops/force_break for the trigger file, acting on each as it appears.
type Watcher struct {
	QueueDir       string
	ProcessedDir   string
	ForceBreakFile string
	Store          *store.Store
	Engine         *engineclient.Client
	Tasks          ForceBreaker
	watcher        *fsnotify.Watcher
}

// New builds a Watcher. Both queueDir and the force-break trigger's
// parent directory must already exist; fsnotify.Add fails on a
// directory that doesn't.
func New(queueDir, processedDir, forceBreakFile string, st *store.Store, engine *engineclient.Client, tasks ForceBreaker) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("dropin: new fsnotify watcher: %w", err)
	}
	if err := fw.Add(queueDir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("dropin: watch queue dir %s: %w", queueDir, err)
	}
	forceBreakDir := filepath.Dir(forceBreakFile)
	if err := fw.Add(forceBreakDir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("dropin: watch force-break dir %s: %w", forceBreakDir, err)
	}

	return &Watcher{
		QueueDir:       queueDir,
		ProcessedDir:   processedDir,
		ForceBreakFile: forceBreakFile,
		Store:          st,
		Engine:         engine,
		Tasks:          tasks,
		watcher:        fw,
	}, nil
}

// Run processes fsnotify events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer func() { _ = w.watcher.Close() }()
	logger := log.WithComponent("dropin")

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event, logger)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("fsnotify watcher error")
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event, logger zerolog.Logger) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	if event.Name == w.ForceBreakFile {
		w.handleForceBreak(ctx, logger)
		return
	}

	if filepath.Dir(event.Name) == w.QueueDir {
		w.handleQueueDrop(ctx, event.Name, logger)
	}
}

// handleQueueDrop implements the ordering invariant called out in
// spec §4.9: move the file into ProcessedDir first, THEN push the
// processed path to the engine. Pushing before the move races the
// engine reading a file that is mid-rename out from under it.
func (w *Watcher) handleQueueDrop(ctx context.Context, srcPath string, logger zerolog.Logger) {
	if info, err := os.Stat(srcPath); err != nil || info.IsDir() {
		return
	}

	destPath := filepath.Join(w.ProcessedDir, filepath.Base(srcPath))
	if err := os.Rename(srcPath, destPath); err != nil {
		logger.Error().Err(err).Str("path", srcPath).Msg("move dropped file to processed")
		return
	}

	if _, err := w.Engine.Push(ctx, "override", destPath); err != nil {
		logger.Error().Err(err).Str("path", destPath).Msg("push dropped file to override queue")
		return
	}
	logger.Info().Str("path", destPath).Msg("dropped file pushed to override queue")
}

// handleForceBreak arms an immediate break exactly once per pending
// trigger: it claims store.ForceBreakArmedKey via MarkScheduled before
// pushing, so a stray second event from the same touch (a single
// `touch` typically fires both a Create and a Write) or a second touch
// before the first break has played never schedules a duplicate break.
// The trigger file itself is left in place — it, and the armed flag,
// are cleared only once the Play Recorder observes the resulting break
// or bumper play actually start (spec §4.9), never merely on being
// read here.
func (w *Watcher) handleForceBreak(ctx context.Context, logger zerolog.Logger) {
	claimed, err := w.Store.MarkScheduled(store.ForceBreakArmedKey)
	if err != nil {
		logger.Error().Err(err).Msg("force break: mark scheduled")
		return
	}
	if !claimed {
		return
	}

	result := w.Tasks.ForceBreak(ctx)
	if result.Status == scheduler.TaskFail {
		logger.Error().Err(result.Err).Msg("force break")
		return
	}
	logger.Info().Msg("force break triggered")
}
