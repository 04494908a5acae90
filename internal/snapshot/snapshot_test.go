package snapshot

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleSnapshot() Snapshot {
	return Snapshot{
		UpdatedAt:    time.Now().UTC().Format(time.RFC3339),
		SystemStatus: StatusOnline,
		Crossfade:    Crossfade{MusicSec: 3, BreaksSec: 1.5},
		Current: Track{
			AssetID: "abc123", Title: "Track", Artist: "Artist", Album: "Album",
			DurationSec: 210, PlayedAt: time.Now().UTC().Format(time.RFC3339),
			Source: "music", Kind: "music",
		},
		BreaksQueue: []Track{{Title: "Break 1", Source: "break"}},
		MusicQueue:  []Track{{Title: "Next 1", Source: "music"}, {Title: "Next 2", Source: "music"}},
		History:     []HistoryEntry{{Title: "Past", Artist: "Artist", PlayedAt: time.Now().UTC().Format(time.RFC3339), Source: "music"}},
		Stream:      Stream{Listeners: 12, Bitrate: 128, SampleRate: 44100, StreamStartISO8601: time.Now().UTC().Format(time.RFC3339)},
	}
}

// INV-SNAPSHOT-001: write then read round-trips field-for-field.
func TestSnapshot_WriteRead_Roundtrip_INV_SNAPSHOT_001(t *testing.T) {
	path := filepath.Join(t.TempDir(), "now_playing.json")
	s := sampleSnapshot()

	require.NoError(t, Write(path, s))
	got, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, s, got)
}

// INV-SNAPSHOT-002: queue and history slices are clamped to the spec's
// limits (3 breaks, 5 music, 15 history) on write.
func TestSnapshot_Write_ClampsQueueLengths_INV_SNAPSHOT_002(t *testing.T) {
	path := filepath.Join(t.TempDir(), "now_playing.json")
	s := sampleSnapshot()
	for i := 0; i < 10; i++ {
		s.BreaksQueue = append(s.BreaksQueue, Track{Title: "extra break"})
		s.MusicQueue = append(s.MusicQueue, Track{Title: "extra music"})
	}
	for i := 0; i < 30; i++ {
		s.History = append(s.History, HistoryEntry{Title: "extra history"})
	}

	require.NoError(t, Write(path, s))
	got, err := Read(path)
	require.NoError(t, err)
	require.LessOrEqual(t, len(got.BreaksQueue), maxBreaksQueue)
	require.LessOrEqual(t, len(got.MusicQueue), maxMusicQueue)
	require.LessOrEqual(t, len(got.History), maxHistory)
}

// INV-SNAPSHOT-003: a writer and many concurrent readers never see a
// partial or unparseable document.
func TestSnapshot_ConcurrentReadWrite_NeverPartial_INV_SNAPSHOT_003(t *testing.T) {
	path := filepath.Join(t.TempDir(), "now_playing.json")
	s := sampleSnapshot()
	require.NoError(t, Write(path, s))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			s.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
			_ = Write(path, s)
		}
		close(stop)
	}()

	errs := make(chan error, 50)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, err := Read(path); err != nil {
					errs <- err
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected read error during concurrent write: %v", err)
	}
}

func TestSnapshot_Read_MissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
