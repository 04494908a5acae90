package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAreInvalidWithoutProviders(t *testing.T) {
	_, err := Load("")
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
station_name: "KRAD"
station_timezone: "America/Chicago"
base_dir: ` + dir + `
scheduler:
  music_min_queue_len: 5
script_providers:
  - name: primary
    kind: openai
    priority: 0
tts_providers:
  - name: primary
    kind: elevenlabs
    priority: 0
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "KRAD", cfg.StationName)
	require.Equal(t, "America/Chicago", cfg.StationTimezone)
	require.Equal(t, 5, cfg.Scheduler.MusicMinQueueLen)
	require.Equal(t, dir, cfg.Paths.Base)
	require.Len(t, cfg.ScriptProviders, 1)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
station_name: "KRAD"
script_providers:
  - {name: a, kind: openai}
tts_providers:
  - {name: a, kind: elevenlabs}
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))
	t.Setenv("RADIOD_STATION_NAME", "WENV")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "WENV", cfg.StationName)
}

func TestDerivePaths(t *testing.T) {
	p := derivePaths("/srv/radio")
	require.Equal(t, "/srv/radio/assets/music", p.MusicDir)
	require.Equal(t, "/srv/radio/assets/breaks/archive", p.ArchiveDir)
	require.Equal(t, "/srv/radio/public/now_playing.json", p.NowPlayingJSON)
}
