package content

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/airwaveops/radiod/internal/config"
	"github.com/airwaveops/radiod/internal/radioerr"
	"github.com/airwaveops/radiod/internal/store"
)

func newTestGenerator(t *testing.T) (*Generator, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "radiod.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	paths := config.Paths{
		BreaksDir: filepath.Join(dir, "breaks"),
		StateDir:  filepath.Join(dir, "state"),
	}
	require.NoError(t, os.MkdirAll(paths.BreaksDir, 0o755))
	require.NoError(t, os.MkdirAll(paths.StateDir, 0o755))

	cfg := config.ContentConfig{
		TargetWordMin:      10,
		TargetWordMax:      40,
		MaxLengthRetries:   2,
		RecentPhraseLimit:  20,
		TargetLUFS:         -18,
		TargetTruePeak:     -1,
		StationIdentity:    "Test Radio",
		AnnouncerPersona:   "Robo",
		GenerationDeadline: 5 * time.Second,
	}

	g := New(cfg, paths, st, nil, nil)
	return g, st
}

// INV-CONTENT-001: kill switch file present short-circuits generation
// with status skipped and no provider calls.
func TestGenerator_Generate_KillSwitch_INV_CONTENT_001(t *testing.T) {
	g, st := newTestGenerator(t)
	g.paths.KillGenFile = filepath.Join(t.TempDir(), "kill_generation")
	require.NoError(t, os.WriteFile(g.paths.KillGenFile, []byte("1"), 0o644))

	res := g.Generate(context.Background(), "break")
	require.Equal(t, StatusSkipped, res.Status)

	runs, err := st.ListRecentGenerationRuns("break", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "skipped", runs[0].Status)
}

func TestTemplatedScript_UsesGatheredInputs(t *testing.T) {
	g, _ := newTestGenerator(t)
	out := g.templatedScript(Inputs{Weather: "sunny and 72F", News: []string{"local election results in"}})
	require.Contains(t, out, "Test Radio")
	require.Contains(t, out, "sunny and 72F")
	require.Contains(t, out, "local election results in")
}

func TestWordCountAndDistance(t *testing.T) {
	require.Equal(t, 3, wordCount("one two three"))
	require.Equal(t, 0, distanceFromRange(20, 10, 30))
	require.Equal(t, 5, distanceFromRange(5, 10, 30))
	require.Equal(t, 5, distanceFromRange(35, 10, 30))
}

// INV-CONTENT-002: the recent-phrase log round-trips and respects the
// configured limit.
func TestPhraseLog_AppendAndRead_INV_CONTENT_002(t *testing.T) {
	g, _ := newTestGenerator(t)
	g.cfg.RecentPhraseLimit = 2

	require.NoError(t, g.appendRecentPhrases([]string{"phrase one", "phrase two", "phrase three"}))

	got, err := g.readRecentPhrases()
	require.NoError(t, err)
	require.Equal(t, []string{"phrase two", "phrase three"}, got)
}

func TestPhraseLog_MissingFileReturnsEmpty(t *testing.T) {
	g, _ := newTestGenerator(t)
	got, err := g.readRecentPhrases()
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestExtractPhrases_SplitsOnSentenceBoundaries(t *testing.T) {
	phrases := extractPhrases("Hello there. How are you? Great weather today!")
	require.Equal(t, []string{"Hello there", "How are you", "Great weather today"}, phrases)
}

// INV-CONTENT-003: publish renames an existing next.<kind> to
// last_good.<kind> before installing the new artifact.
func TestPublish_DemotesExistingNextToLastGood_INV_CONTENT_003(t *testing.T) {
	g, _ := newTestGenerator(t)

	nextPath := filepath.Join(g.paths.BreaksDir, "next.break")
	require.NoError(t, os.WriteFile(nextPath, []byte("old content"), 0o644))

	mixed := filepath.Join(t.TempDir(), "mixed.mp3")
	require.NoError(t, os.WriteFile(mixed, []byte("new content"), 0o644))

	out, err := g.publish("break", mixed)
	require.NoError(t, err)
	require.Equal(t, nextPath, out)

	newContent, err := os.ReadFile(nextPath)
	require.NoError(t, err)
	require.Equal(t, "new content", string(newContent))

	lastGoodContent, err := os.ReadFile(filepath.Join(g.paths.BreaksDir, "last_good.break"))
	require.NoError(t, err)
	require.Equal(t, "old content", string(lastGoodContent))
}

func TestPublish_FirstRunHasNoLastGood(t *testing.T) {
	g, _ := newTestGenerator(t)

	mixed := filepath.Join(t.TempDir(), "mixed.mp3")
	require.NoError(t, os.WriteFile(mixed, []byte("content"), 0o644))

	out, err := g.publish("station_id", mixed)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(g.paths.BreaksDir, "last_good.station_id"))
	require.True(t, os.IsNotExist(err))
	require.FileExists(t, out)
}

// INV-CONTENT-004: gatherInputs aborts with noInput only when both
// weather and news are unavailable.
func TestGatherInputs_NoInput_WhenBothFail_INV_CONTENT_004(t *testing.T) {
	g, _ := newTestGenerator(t)
	g.cfg.WeatherURL = ""
	g.cfg.NewsFeeds = nil

	_, err := g.gatherInputs(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, radioerr.NoInput)
}

func TestBuildMixArgs_SubstitutesPlaceholders(t *testing.T) {
	args := buildMixArgs([]string{"-i", "{voice}", "-bed", "{bed}", "-o", "{out}"}, map[string]string{
		"{voice}": "/tmp/voice.raw",
		"{bed}":   "/tmp/bed.mp3",
		"{out}":   "/tmp/out.mp3",
	})
	require.Equal(t, []string{"-i", "/tmp/voice.raw", "-bed", "/tmp/bed.mp3", "-o", "/tmp/out.mp3"}, args)
}
