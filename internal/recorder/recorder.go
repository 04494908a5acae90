// Package recorder implements the Play Recorder (spec §4.6): classify
// the track the audio engine just finished starting, append it to
// PlayHistory, and trigger the now-playing export in-process so the
// export completes before the recorder returns.
package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/airwaveops/radiod/internal/engineclient"
	"github.com/airwaveops/radiod/internal/scheduler"
	"github.com/airwaveops/radiod/internal/store"
)

// Recorder bundles the dependencies needed to record one play event.
type Recorder struct {
	Store          *store.Store
	Engine         *engineclient.Client
	Exporter       *scheduler.Exporter
	Budget         time.Duration // soft deadline; spec: never block the engine longer than ~1s
	ForceBreakFile string        // drops/force_break/trigger; cleared once a break/bumper play is observed
}

func New(st *store.Store, engine *engineclient.Client, exporter *scheduler.Exporter) *Recorder {
	return &Recorder{
		Store:    st,
		Engine:   engine,
		Exporter: exporter,
		Budget:   900 * time.Millisecond,
	}
}

// Record implements the on_track hook contract: classify source by
// queue name (overriding the path-substring guess if they disagree),
// compute the asset id, append PlayHistory, then trigger the
// now-playing export in-process.
func (r *Recorder) Record(ctx context.Context, filename, queueName string) error {
	ctx, cancel := context.WithTimeout(ctx, r.Budget)
	defer cancel()

	source := classify(filename, queueName)
	assetID, err := r.computeAssetID(ctx, filename, source)
	if err != nil {
		return fmt.Errorf("recorder: compute asset id: %w", err)
	}

	if err := r.Store.RecordPlay(assetID, source, time.Now().UTC()); err != nil {
		return fmt.Errorf("recorder: record play: %w", err)
	}

	if source == store.SourceBreak || source == store.SourceBumper {
		r.clearForceBreakFlag()
	}

	if r.Exporter != nil {
		if err := r.Exporter.RecordTrackStart(ctx); err != nil {
			return fmt.Errorf("recorder: now-playing export: %w", err)
		}
	}
	return nil
}

// classify derives the play source, preferring the queue name the
// engine reports the track came from and falling back to the path
// substring only when the queue name itself is ambiguous (spec §4.6
// step 1: "classify by queue name and path substring, overriding path
// substring if ambiguous").
func classify(path, queueName string) store.Source {
	switch queueName {
	case "music":
		return store.SourceMusic
	case "breaks":
		return classifyByPath(path)
	case "override":
		return store.SourceOverride
	default:
		return classifyByPath(path)
	}
}

func classifyByPath(path string) store.Source {
	switch {
	case strings.Contains(path, "/bumpers/"):
		return store.SourceBumper
	case strings.Contains(path, "/breaks/"):
		return store.SourceBreak
	default:
		return store.SourceMusic
	}
}

// computeAssetID resolves the canonical identifier stored in
// PlayHistory: a content hash for music (looked up by path in the
// Store), or a "<stem>#<rid>" synthetic id for break/bumper sources.
// The rid is read back from the engine's current metadata for the
// playing source so it matches exactly what NowPlayingExport will
// later look up (spec's resolution of the 30-second-window ambiguity).
func (r *Recorder) computeAssetID(ctx context.Context, path string, source store.Source) (string, error) {
	if source == store.SourceMusic {
		asset, err := r.Store.LookupAssetByPath(path)
		if err != nil {
			return fileStem(path), nil
		}
		return asset.ID, nil
	}

	stem := fileStem(path)
	if r.Engine == nil {
		return stem, nil
	}
	meta, err := r.Engine.CurrentMetadata(ctx, "primary")
	if err != nil || meta["rid"] == "" {
		return stem, nil
	}
	return stem + "#" + meta["rid"], nil
}

// clearForceBreakFlag removes the force-break trigger file and the
// Drop-In Watcher's armed claim once a break or bumper play has
// actually started — spec §4.9: the flag is cleared only on this
// observed event, never when it is merely read or set.
func (r *Recorder) clearForceBreakFlag() {
	if r.ForceBreakFile != "" {
		_ = os.Remove(r.ForceBreakFile)
	}
	if r.Store != nil {
		_ = r.Store.DeleteState(store.ForceBreakArmedKey)
	}
}

func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
