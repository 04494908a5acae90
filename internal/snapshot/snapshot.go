// Package snapshot defines the public now-playing document (spec §6)
// and the atomic write/read primitives shared by the now-playing export
// scheduler task and the Push Fan-Out service.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// Crossfade carries the configured crossfade durations for the two
// queue kinds that crossfade into each other.
type Crossfade struct {
	MusicSec  float64 `json:"music_sec"`
	BreaksSec float64 `json:"breaks_sec"`
}

// Track describes one playing or queued item. AssetID and PlayedAt are
// populated only for Current (and are omitted, per spec §6, for queued
// entries).
type Track struct {
	AssetID     string  `json:"asset_id,omitempty"`
	Title       string  `json:"title"`
	Artist      string  `json:"artist"`
	Album       string  `json:"album,omitempty"`
	DurationSec float64 `json:"duration_sec,omitempty"`
	PlayedAt    string  `json:"played_at,omitempty"`
	Source      string  `json:"source"`
	Kind        string  `json:"kind,omitempty"`
}

// HistoryEntry is one row of the recent-plays tail.
type HistoryEntry struct {
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	PlayedAt string `json:"played_at"`
	Source   string `json:"source"`
}

// Stream carries the live-stream stats block.
type Stream struct {
	Listeners          int    `json:"listeners"`
	Bitrate            int    `json:"bitrate"`
	SampleRate         int    `json:"samplerate"`
	StreamStartISO8601 string `json:"stream_start_iso8601"`
}

// SystemStatus enumerates the only two listener-visible status values
// (spec §6): the snapshot never reports subsystem degradation beyond
// this.
type SystemStatus string

const (
	StatusOnline     SystemStatus = "online"
	StatusRestarting SystemStatus = "restarting"
)

// Snapshot is the exact public document published at
// public/now_playing.json.
type Snapshot struct {
	UpdatedAt    string         `json:"updated_at"`
	SystemStatus SystemStatus   `json:"system_status"`
	Crossfade    Crossfade      `json:"crossfade"`
	Current      Track          `json:"current"`
	BreaksQueue  []Track        `json:"breaks_queue"`
	MusicQueue   []Track        `json:"music_queue"`
	History      []HistoryEntry `json:"history"`
	Stream       Stream         `json:"stream"`
}

const (
	maxBreaksQueue = 3
	maxMusicQueue  = 5
	maxHistory     = 15
)

// Clamp truncates the queue slices to the limits spec §6 mandates, so a
// caller can build a snapshot without re-deriving the bounds everywhere.
func (s *Snapshot) Clamp() {
	if len(s.BreaksQueue) > maxBreaksQueue {
		s.BreaksQueue = s.BreaksQueue[:maxBreaksQueue]
	}
	if len(s.MusicQueue) > maxMusicQueue {
		s.MusicQueue = s.MusicQueue[:maxMusicQueue]
	}
	if len(s.History) > maxHistory {
		s.History = s.History[:maxHistory]
	}
}

// Write publishes the snapshot atomically: marshal, write to a temp
// file in the same directory as path, then rename over path. No reader
// can ever observe a partial write (spec §6, S5).
func Write(path string, s Snapshot) error {
	s.Clamp()
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("snapshot: mkdir: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("snapshot: atomic write: %w", err)
	}
	return nil
}

// Read loads the snapshot from path. Because writes are always atomic
// rename-overs, a concurrent Read always observes a complete, valid
// JSON document — either the prior one or the new one.
func Read(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: read: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: unmarshal: %w", err)
	}
	return s, nil
}
