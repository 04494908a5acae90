package scheduler

import (
	"bytes"
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/airwaveops/radiod/internal/engineclient"
	"github.com/airwaveops/radiod/internal/icecaststats"
	"github.com/airwaveops/radiod/internal/log"
	"github.com/airwaveops/radiod/internal/snapshot"
	"github.com/airwaveops/radiod/internal/store"
)

const streamStartStateKey = "stream_start_iso8601"

// Exporter composes and publishes the NowPlayingSnapshot (spec §4.5.5,
// §6). It is invoked two ways, per the resolved fallback-export-race
// open question: the Play Recorder calls RecordTrackStart in-process
// immediately after a play event, re-reading the engine and
// recomputing the whole snapshot; the 2-minute scheduler fallback task
// calls Fallback, which never re-reads the engine and only asks Push
// Fan-Out to re-read and broadcast the snapshot already on disk.
type Exporter struct {
	Store              *store.Store
	Engine             *engineclient.Client
	Icecast            *icecaststats.Client
	Clock              Clock
	Path               string // public/now_playing.json
	NotifyURL          string // http://<push-fanout-listen-addr>/notify, empty disables
	IcecastMount       string
	BitrateKbps        int
	SampleRateHz       int
	CrossfadeMusicSec  float64
	CrossfadeBreaksSec float64
	HTTPClient         *http.Client
}

func NewExporter(st *store.Store, engine *engineclient.Client, ice *icecaststats.Client, clock Clock, path, notifyURL string) *Exporter {
	return &Exporter{
		Store:      st,
		Engine:     engine,
		Icecast:    ice,
		Clock:      clock,
		Path:       path,
		NotifyURL:  notifyURL,
		HTTPClient: &http.Client{Timeout: 2 * time.Second},
	}
}

func (e *Exporter) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

// RecordTrackStart recomposes the snapshot from current engine state,
// writes it to disk, and sends Push Fan-Out an empty-bodied notify so
// it re-reads and broadcasts that file. Called by the Play Recorder
// directly after RecordPlay.
func (e *Exporter) RecordTrackStart(ctx context.Context) error {
	snap, err := e.compose(ctx)
	if err != nil {
		return err
	}
	if err := snapshot.Write(e.Path, snap); err != nil {
		return err
	}
	e.notify(nil)
	return nil
}

// Fallback re-broadcasts the existing on-disk snapshot without
// touching the engine (spec's resolution of the fallback-export race:
// the fallback timer must never race the Play Recorder's own write).
func (e *Exporter) Fallback(ctx context.Context) error {
	e.notify([]byte("{}"))
	return nil
}

// NowPlayingExport is the 2-minute fallback scheduler task (spec
// §4.5.5). It never recomputes; it only nudges Push Fan-Out to
// re-broadcast the snapshot already on disk, covering listeners who
// connected since the last track-start export.
func (t *Tasks) NowPlayingExport(ctx context.Context) TaskResult {
	if t.NowPlayingExporter == nil {
		return skipped()
	}
	if err := t.NowPlayingExporter.Fallback(ctx); err != nil {
		return fail(err)
	}
	return ok()
}

func (e *Exporter) compose(ctx context.Context) (snapshot.Snapshot, error) {
	now := e.now()

	current, err := e.currentTrack(ctx, now)
	if err != nil {
		return snapshot.Snapshot{}, err
	}

	breaksQueue, err := e.queueTracks(ctx, "breaks", store.SourceBreak)
	if err != nil {
		breaksQueue = nil
	}
	musicQueue, err := e.queueTracks(ctx, "music", store.SourceMusic)
	if err != nil {
		musicQueue = nil
	}

	history := e.recentHistory()

	listeners := 0
	if e.Icecast != nil {
		listeners = e.Icecast.ListenerCount(ctx, e.IcecastMount)
	}

	streamStart := e.streamStart(now)

	return snapshot.Snapshot{
		UpdatedAt:    now.UTC().Format(time.RFC3339),
		SystemStatus: snapshot.StatusOnline,
		Crossfade: snapshot.Crossfade{
			MusicSec:  e.CrossfadeMusicSec,
			BreaksSec: e.CrossfadeBreaksSec,
		},
		Current:     current,
		BreaksQueue: breaksQueue,
		MusicQueue:  musicQueue,
		History:     history,
		Stream: snapshot.Stream{
			Listeners:          listeners,
			Bitrate:            e.BitrateKbps,
			SampleRate:         e.SampleRateHz,
			StreamStartISO8601: streamStart,
		},
	}, nil
}

// currentTrack reads the engine's primary-mount metadata (filename,
// rid) and resolves the matching play-history row. Music matches by
// asset path within a 10-minute window (tracks run long enough that
// this can't mis-attribute). Break/bumper sources match on the exact
// synthetic asset id "<stem>#<rid>" instead of a time window: since the
// id embeds the engine's own request id, it cannot collide with a
// stale replay of the same station-ID file the way a bare time window
// could (this spec's resolution of that ambiguity).
func (e *Exporter) currentTrack(ctx context.Context, now time.Time) (snapshot.Track, error) {
	meta, err := e.Engine.CurrentMetadata(ctx, "primary")
	if err != nil {
		return snapshot.Track{}, err
	}

	source := classifySource(meta["filename"])
	track := e.matchHistoryRow(source, meta, now)
	if track.Title == "" && (source == store.SourceBreak || source == store.SourceBumper) {
		time.Sleep(100 * time.Millisecond)
		track = e.matchHistoryRow(source, meta, now)
	}
	if track.Title == "" {
		track = e.synthesizeTrack(meta, source)
	}
	return track, nil
}

func classifySource(path string) store.Source {
	switch {
	case strings.Contains(path, "/breaks/"):
		return store.SourceBreak
	case strings.Contains(path, "/bumpers/"):
		return store.SourceBumper
	default:
		return store.SourceMusic
	}
}

func (e *Exporter) matchHistoryRow(source store.Source, meta map[string]string, now time.Time) snapshot.Track {
	if source == store.SourceBreak || source == store.SourceBumper {
		return e.matchByRid(source, meta)
	}
	return e.matchMusicByPath(meta, now)
}

// matchByRid looks up the play-history row whose synthetic asset id is
// exactly "<stem>#<rid>", where rid is the engine's current request id
// for the playing file.
func (e *Exporter) matchByRid(source store.Source, meta map[string]string) snapshot.Track {
	rid := meta["rid"]
	if rid == "" {
		return snapshot.Track{}
	}
	stem := fileStem(meta["filename"])
	assetID := stem + "#" + rid

	row, found, err := e.Store.FindPlayByAssetID(assetID, source)
	if err != nil || !found {
		return snapshot.Track{}
	}
	return snapshot.Track{
		Title:    firstNonEmpty(meta["title"], stem),
		Artist:   meta["artist"],
		PlayedAt: row.PlayedAt.UTC().Format(time.RFC3339),
		Source:   string(source),
	}
}

func (e *Exporter) matchMusicByPath(meta map[string]string, now time.Time) snapshot.Track {
	const window = 10 * time.Minute

	lastAt, err := e.Store.LastPlayedAt(store.SourceMusic)
	if err != nil || lastAt.IsZero() || now.Sub(lastAt) > window {
		return snapshot.Track{}
	}

	ids, err := e.Store.RecentlyPlayedIDs(store.SourceMusic, 1)
	if err != nil || len(ids) == 0 {
		return snapshot.Track{}
	}

	asset, err := e.Store.LookupAssetByID(ids[0])
	if err != nil || asset.Path != meta["filename"] {
		return snapshot.Track{}
	}
	return snapshot.Track{
		AssetID:     asset.ID,
		Title:       firstNonEmpty(asset.Title, meta["title"]),
		Artist:      firstNonEmpty(asset.Artist, meta["artist"]),
		Album:       asset.Album,
		DurationSec: asset.DurationSeconds,
		PlayedAt:    lastAt.UTC().Format(time.RFC3339),
		Source:      string(store.SourceMusic),
		Kind:        string(asset.Kind),
	}
}

// synthesizeTrack builds a best-effort Current entry from bare engine
// metadata when no history row could be matched even after the retry.
// The file is not probed, so DurationSec stays zero, and the artist is
// the engine's artist tag rather than the station name.
func (e *Exporter) synthesizeTrack(meta map[string]string, source store.Source) snapshot.Track {
	return snapshot.Track{
		Title:  firstNonEmpty(meta["title"], fileStem(meta["filename"])),
		Artist: meta["artist"],
		Source: string(source),
	}
}

func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (e *Exporter) queueTracks(ctx context.Context, queue string, source store.Source) ([]snapshot.Track, error) {
	ids, err := e.Engine.QueueList(ctx, queue)
	if err != nil {
		return nil, err
	}
	tracks := make([]snapshot.Track, 0, len(ids))
	for _, rid := range ids {
		meta, err := e.Engine.RequestMetadata(ctx, rid)
		if err != nil {
			continue
		}
		tracks = append(tracks, snapshot.Track{
			Title:  meta["title"],
			Artist: meta["artist"],
			Source: string(source),
		})
	}
	return tracks, nil
}

func (e *Exporter) recentHistory() []snapshot.HistoryEntry {
	rows, err := e.Store.RecentPlayHistory(15)
	if err != nil {
		return nil
	}
	out := make([]snapshot.HistoryEntry, 0, len(rows))
	for _, h := range rows {
		entry := snapshot.HistoryEntry{
			PlayedAt: h.PlayedAt.UTC().Format(time.RFC3339),
			Source:   string(h.Source),
		}
		if asset, err := e.Store.LookupAssetByID(h.AssetID); err == nil {
			entry.Title = asset.Title
			entry.Artist = asset.Artist
		}
		out = append(out, entry)
	}
	return out
}

// streamStart returns the persisted stream-start timestamp, recording
// now as the start the first time this is ever called (the process's
// first export after a cold start of the whole station).
func (e *Exporter) streamStart(now time.Time) string {
	val, found, err := e.Store.ReadState(streamStartStateKey)
	if err == nil && found {
		return val
	}
	iso := now.UTC().Format(time.RFC3339)
	_ = e.Store.SetState(streamStartStateKey, iso)
	return iso
}

// notify POSTs to the Push Fan-Out service so connected listeners get
// an immediate update instead of waiting for their next reconnect
// (spec §4.7). A body that is empty or has no system_status field (as
// "{}") makes Push Fan-Out re-read the on-disk snapshot and broadcast
// that; a body with system_status is broadcast as it is. Failure is
// logged, never fatal.
func (e *Exporter) notify(body []byte) {
	if e.NotifyURL == "" {
		return
	}
	logger := log.WithComponent("scheduler")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.NotifyURL, bytes.NewReader(body))
	if err != nil {
		logger.Warn().Err(err).Msg("push fan-out notify: build request failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		logger.Warn().Err(err).Msg("push fan-out notify failed")
		return
	}
	_ = resp.Body.Close()
}
