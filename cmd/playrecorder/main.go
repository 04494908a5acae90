// Command playrecorder is the Play Recorder (spec §4.6): the audio
// engine's on_track hook spawns this process once per track start,
// passing the file's path and the queue it played from as arguments.
//
// Exit codes:
//
//	0  play recorded (and now-playing export attempted)
//	1  recording failed
//	2  usage error (wrong argument count)
//
// The engine waits for this process to exit before resuming, so it
// never runs longer than its own soft budget (see recorder.Recorder.Budget).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/airwaveops/radiod/internal/config"
	"github.com/airwaveops/radiod/internal/engineclient"
	"github.com/airwaveops/radiod/internal/icecaststats"
	"github.com/airwaveops/radiod/internal/log"
	"github.com/airwaveops/radiod/internal/recorder"
	"github.com/airwaveops/radiod/internal/scheduler"
	"github.com/airwaveops/radiod/internal/store"
)

var Version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("playrecorder", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to radiod config file")
	fs.StringVar(configPath, "c", "", "path to radiod config file (shorthand)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	rest := fs.Args()
	if len(rest) != 2 {
		fmt.Fprintln(os.Stderr, "usage: playrecorder [-config path] <filename> <queue>")
		return 2
	}
	filename, queueName := rest[0], rest[1]

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "playrecorder: load config: %v\n", err)
		return 1
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "playrecorder", Version: Version})
	logger := log.WithComponent("playrecorder")

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

	rec := recorder.New(st, engine, exporter)
	rec.ForceBreakFile = cfg.Paths.ForceBreakFile

	ctx, cancel := context.WithTimeout(context.Background(), rec.Budget+500*time.Millisecond)
	defer cancel()

	if err := rec.Record(ctx, filename, queueName); err != nil {
		logger.Error().Err(err).Str("filename", filename).Str("queue", queueName).Msg("record play")
		return 1
	}

	logger.Info().Str("filename", filename).Str("queue", queueName).Msg("play recorded")
	return 0
}
