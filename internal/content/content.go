// Package content implements the Content Generator (spec §4.4): it
// gathers weather and news, synthesizes a break script and its voice
// track, mixes them with a bed asset via an external command, and
// atomically publishes the result as next.<kind>.
package content

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/airwaveops/radiod/internal/config"
	"github.com/airwaveops/radiod/internal/log"
	"github.com/airwaveops/radiod/internal/provider"
	"github.com/airwaveops/radiod/internal/radioerr"
	"github.com/airwaveops/radiod/internal/store"
)

// Status is the outcome recorded in a GenerationRun row.
type Status string

const (
	StatusOK      Status = "ok"
	StatusFail    Status = "fail"
	StatusSkipped Status = "skipped"
)

// Result is what one Generate call returns.
type Result struct {
	Status     Status
	OutputPath string
	Err        error
}

// Generator orchestrates one break-content generation run.
type Generator struct {
	cfg   config.ContentConfig
	paths config.Paths

	scripts   *provider.ScriptProviderSet
	voices    *provider.VoiceProviderSet
	scriptCfg []config.Provider
	voiceCfg  []config.Provider

	store *store.Store

	httpGet    httpFetcher
	mixCommand mixRunner
	rng        *rand.Rand
}

// New constructs a Generator wired to the configured provider chains,
// store, and filesystem layout.
func New(cfg config.ContentConfig, paths config.Paths, st *store.Store, scriptProviders, voiceProviders []config.Provider) *Generator {
	chainCfg := provider.DefaultChainConfig()
	return &Generator{
		cfg:        cfg,
		paths:      paths,
		scripts:    provider.NewScriptProviderSet(chainCfg, scriptProviders),
		voices:     provider.NewVoiceProviderSet(chainCfg, voiceProviders),
		scriptCfg:  scriptProviders,
		voiceCfg:   voiceProviders,
		store:      st,
		httpGet:    defaultHTTPFetcher{},
		mixCommand: execMixRunner{},
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Generate runs one end-to-end generation for the given break kind
// ("break" for the hourly slot, "station_id" for the ID jingle).
func (g *Generator) Generate(ctx context.Context, job string) Result {
	start := time.Now().UTC()
	logger := log.WithContext(ctx, log.WithComponent("content"))

	if g.killSwitchArmed() {
		logger.Info().Str("job", job).Msg("kill switch armed, skipping generation")
		g.recordRun(job, start, StatusSkipped, "", nil)
		return Result{Status: StatusSkipped}
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.GenerationDeadline)
	defer cancel()

	res := g.run(ctx, job)
	g.recordRun(job, start, res.Status, res.OutputPath, res.Err)
	return res
}

func (g *Generator) run(ctx context.Context, job string) Result {
	logger := log.WithContext(ctx, log.WithComponent("content"))

	inputs, err := g.gatherInputs(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("gather inputs failed")
		return Result{Status: StatusFail, Err: fmt.Errorf("%w: %v", radioerr.NoInput, err)}
	}

	recentPhrases, err := g.readRecentPhrases()
	if err != nil {
		logger.Warn().Err(err).Msg("recent phrase log unreadable, continuing without negative context")
		recentPhrases = nil
	}

	script, err := g.synthesizeScript(ctx, inputs, recentPhrases)
	if err != nil {
		return Result{Status: StatusFail, Err: err}
	}

	voiceAudio, err := g.synthesizeVoice(ctx, script)
	if err != nil {
		// The mix step hasn't run yet here — this is the TTS provider
		// chain exhausted, the same external-source-exhaustion kind as
		// gatherInputs above, not a mix-command failure.
		return Result{Status: StatusFail, Err: fmt.Errorf("%w: %v", radioerr.NoInput, err)}
	}

	voicePath, err := writeTempAudio(voiceAudio)
	if err != nil {
		return Result{Status: StatusFail, Err: err}
	}
	defer os.Remove(voicePath)

	bedPath, err := g.pickBed()
	if err != nil {
		return Result{Status: StatusFail, Err: err}
	}

	mixedPath, err := g.mix(ctx, voicePath, bedPath)
	if err != nil {
		return Result{Status: StatusFail, Err: fmt.Errorf("%w: %v", radioerr.MixFailed, err)}
	}
	defer os.Remove(mixedPath)

	outputPath, err := g.publish(job, mixedPath)
	if err != nil {
		return Result{Status: StatusFail, Err: err}
	}

	if err := g.appendRecentPhrases(extractPhrases(script)); err != nil {
		logger.Warn().Err(err).Msg("failed to append recent phrase log")
	}

	return Result{Status: StatusOK, OutputPath: outputPath}
}

func (g *Generator) killSwitchArmed() bool {
	_, err := os.Stat(g.paths.KillGenFile)
	return err == nil
}

func (g *Generator) recordRun(job string, start time.Time, status Status, outputPath string, runErr error) {
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	_ = g.store.InsertGenerationRun(store.GenerationRun{
		Job:        job,
		StartedAt:  start,
		FinishedAt: time.Now().UTC(),
		Status:     string(status),
		OutputPath: outputPath,
		Error:      errMsg,
	})
}
