package content

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/airwaveops/radiod/internal/log"
	"github.com/airwaveops/radiod/internal/store"
)

// mixRunner invokes the external audio-mixing command; tests substitute
// a stub so they never shell out.
type mixRunner interface {
	Run(ctx context.Context, name string, args []string) error
}

type execMixRunner struct{}

// mixNiceness is the scheduling priority increment applied to the mix
// subprocess so it never starves the audio engine (spec §4.8 resource
// policy). Higher niceness means lower scheduling priority.
const mixNiceness = 10

func (execMixRunner) Run(ctx context.Context, name string, args []string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("mix command failed to start: %w", err)
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, cmd.Process.Pid, mixNiceness); err != nil {
		log.WithComponent("content").Warn().Err(err).Msg("failed to lower mix subprocess priority")
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("mix command exited non-zero: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// pickBed selects a bed asset uniformly at random from the Store's
// assets of kind bed (spec §4.4 step 6: "a randomly selected bed asset").
func (g *Generator) pickBed() (string, error) {
	assets, err := g.store.ListAssetsByKind(store.KindBed)
	if err != nil {
		return "", fmt.Errorf("content: list bed assets: %w", err)
	}
	if len(assets) == 0 {
		return "", fmt.Errorf("content: no bed assets available")
	}
	return assets[g.rng.Intn(len(assets))].Path, nil
}

// mix combines the voice track with the bed asset via the external mix
// command, applying preroll, fade-in/out, sidechain ducking, and
// loudness normalization to the configured target (spec §4.4 step 6).
// The generator only builds the argument list and interprets the exit
// code; the DSP itself is out of scope.
func (g *Generator) mix(ctx context.Context, voicePath, bedPath string) (string, error) {
	outPath := filepath.Join(os.TempDir(), fmt.Sprintf("radiod-mix-%d.mp3", rand.Int63()))

	args := buildMixArgs(g.cfg.MixArgsTemplate, map[string]string{
		"{voice}": voicePath,
		"{bed}":   bedPath,
		"{out}":   outPath,
		"{lufs}":  strconv.FormatFloat(g.cfg.TargetLUFS, 'f', 1, 64),
		"{peak}":  strconv.FormatFloat(g.cfg.TargetTruePeak, 'f', 1, 64),
	})

	if err := g.mixCommand.Run(ctx, g.cfg.MixCommand, args); err != nil {
		return "", err
	}
	if _, err := os.Stat(outPath); err != nil {
		return "", fmt.Errorf("content: mix command reported success but produced no output: %w", err)
	}
	return outPath, nil
}

func buildMixArgs(template []string, subs map[string]string) []string {
	args := make([]string, len(template))
	for i, t := range template {
		out := t
		for k, v := range subs {
			out = strings.ReplaceAll(out, k, v)
		}
		args[i] = out
	}
	return args
}
