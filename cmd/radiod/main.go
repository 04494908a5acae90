// Command radiod is the single-host radio orchestrator daemon: it
// wires together the Store, the audio engine client, the five
// wall-clock-aligned scheduler tasks plus the metrics export, the Push
// Fan-Out SSE service, and
// the Drop-In Watcher, then runs until signalled to stop.
//
// On SIGINT/SIGTERM it cancels the run context and gives in-flight work
// up to a ~10s grace window (spec §5) to reach a clean boundary before
// the process exits regardless.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/airwaveops/radiod/internal/config"
	"github.com/airwaveops/radiod/internal/content"
	"github.com/airwaveops/radiod/internal/dropin"
	"github.com/airwaveops/radiod/internal/engineclient"
	"github.com/airwaveops/radiod/internal/icecaststats"
	"github.com/airwaveops/radiod/internal/log"
	"github.com/airwaveops/radiod/internal/pushfanout"
	"github.com/airwaveops/radiod/internal/scheduler"
	"github.com/airwaveops/radiod/internal/store"
	"github.com/airwaveops/radiod/internal/supervisor"
)

var Version = "dev"

// shutdownGrace bounds how long running tasks get to reach a clean
// boundary after a stop signal before the process exits anyway.
const shutdownGrace = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to radiod config file")
	flag.StringVar(configPath, "c", "", "path to radiod config file (shorthand)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "radiod: load config: %v\n", err)
		return 1
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "radiod", Version: Version})
	logger := log.WithComponent("radiod")

	st, err := store.Open(cfg.Paths.DBPath)
	if err != nil {
		logger.Error().Err(err).Msg("open store")
		return 1
	}
	defer st.Close()

	engine := engineclient.New(engineclient.DefaultConfig(cfg.EngineSocketPath))

	var ice *icecaststats.Client
	if cfg.IcecastStatusURL != "" {
		ice = icecaststats.New(cfg.IcecastStatusURL)
	}
	notifyURL := ""
	if cfg.PushFanOut.ListenAddr != "" {
		notifyURL = "http://" + cfg.PushFanOut.ListenAddr + "/notify"
	}
	exporter := scheduler.NewExporter(st, engine, ice, nil, cfg.Paths.NowPlayingJSON, notifyURL)
	exporter.IcecastMount = cfg.IcecastMount
	exporter.BitrateKbps = cfg.StreamBitrateKbps
	exporter.SampleRateHz = cfg.StreamSampleRateHz

	gen := content.New(cfg.Content, cfg.Paths, st, cfg.ScriptProviders, cfg.TTSProviders)

	tasks := scheduler.New(nil, st, engine, cfg.Paths, cfg.Scheduler, gen, exporter, cfg.BumperPath)

	sup, err := supervisor.New(st, cfg.Paths.JobsLog, []supervisor.Trigger{
		{Name: "music_enqueue", Period: time.Minute, Deadline: 30 * time.Second, Fn: tasks.MusicEnqueue},
		{Name: "break_generate", Period: time.Minute, Deadline: cfg.Content.GenerationDeadline, Fn: tasks.BreakGenerate},
		{Name: "break_schedule", Period: 5 * time.Minute, Deadline: 30 * time.Second, Fn: tasks.BreakSchedule},
		{Name: "station_id_schedule", Period: time.Minute, Deadline: 30 * time.Second, Fn: tasks.StationIDSchedule},
		{Name: "now_playing_export", Period: cfg.Scheduler.NowPlayingFallback, Deadline: 15 * time.Second, Fn: tasks.NowPlayingExport},
		{Name: "metrics_export", Period: time.Minute, Deadline: 15 * time.Second, Fn: tasks.MetricsExport},
	})
	if err != nil {
		logger.Error().Err(err).Msg("build supervisor")
		return 1
	}

	pushSrv := pushfanout.New(cfg.PushFanOut, cfg.Paths.NowPlayingJSON)

	watcher, err := dropin.New(cfg.Paths.DropsQueueDir, cfg.Paths.DropsProcessed, cfg.Paths.ForceBreakFile, st, engine, tasks)
	if err != nil {
		logger.Error().Err(err).Msg("build drop-in watcher")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		sup.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		watcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := pushSrv.Run(); err != nil {
			logger.Error().Err(err).Msg("push fan-out server")
		}
	}()

	logger.Info().Str("push_fanout_addr", cfg.PushFanOut.ListenAddr).Msg("radiod started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received, draining tasks")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = pushSrv.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("shutdown complete")
	case <-time.After(shutdownGrace):
		logger.Warn().Msg("shutdown grace window elapsed, exiting")
	}
	return 0
}
