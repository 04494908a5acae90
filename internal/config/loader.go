package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML-shaped overlay read from the config file. Only
// fields the operator wants to override need be present; zero-value
// fields are left untouched by the merge.
type fileConfig struct {
	StationName      string `yaml:"station_name"`
	StationTimezone  string `yaml:"station_timezone"`
	LogLevel         string `yaml:"log_level"`
	BaseDir          string `yaml:"base_dir"`
	EngineSocketPath string `yaml:"engine_socket_path"`
	BumperPath       string `yaml:"bumper_path"`

	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Content    ContentConfig    `yaml:"content"`
	PushFanOut PushFanOutConfig `yaml:"push_fanout"`

	ScriptProviders []Provider `yaml:"script_providers"`
	TTSProviders    []Provider `yaml:"tts_providers"`
}

// Defaults returns the built-in configuration baseline, matching the
// numeric thresholds spelled out in spec §4.5 and §4.4.
func Defaults() Config {
	base := ParseString("RADIOD_BASE_DIR", "/var/lib/radiod")
	cfg := Config{
		StationName:     "radiod",
		StationTimezone: "UTC",
		LogLevel:        "info",
		LogService:      "radiod",

		EngineSocketPath:  "/run/liquidsoap/radiod.sock",
		EngineDialTimeout: 2 * time.Second,
		EngineOpTimeout:   2 * time.Second,

		StreamBitrateKbps:  192,
		StreamSampleRateHz: 44100,

		Scheduler: SchedulerConfig{
			MusicMinQueueLen:    3,
			MusicTargetFill:     8,
			AntiRepeatWindow:    20,
			BreakFreshWindow:    65 * time.Minute,
			BreakGenerateMinute: 50,
			StationIDMinutes:    []int{14, 29, 44},
			NowPlayingFallback:  2 * time.Minute,
			StateRetention:      48 * time.Hour,
		},
		Content: ContentConfig{
			FetchTimeout:       10 * time.Second,
			TargetWordMin:      60,
			TargetWordMax:      160,
			MaxLengthRetries:   2,
			RecentPhraseLimit:  20,
			TargetLUFS:         -18.0,
			TargetTruePeak:     -1.0,
			GenerationDeadline: 180 * time.Second,
		},
		PushFanOut: PushFanOutConfig{
			ListenAddr:        "127.0.0.1:8420",
			KeepaliveEvery:    30 * time.Second,
			ClientSendTimeout: 2 * time.Second,
			ClientBufferLen:   16,
		},
	}
	cfg.Paths = derivePaths(base)
	return cfg
}

// Load builds the Config with precedence environment > file > defaults,
// validates it, and returns ErrInvalidConfig if a required setting is
// missing or malformed.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			fc, err := loadFile(path)
			if err != nil {
				return Config{}, fmt.Errorf("%w: %s", ErrInvalidConfig, err)
			}
			mergeFile(&cfg, fc)
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("%w: stat config file: %s", ErrInvalidConfig, err)
		}
	}

	applyEnvOverrides(&cfg)
	cfg.Paths = derivePaths(cfg.Paths.Base)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config file: %w", err)
	}
	return fc, nil
}

func mergeFile(cfg *Config, fc fileConfig) {
	if fc.StationName != "" {
		cfg.StationName = fc.StationName
	}
	if fc.StationTimezone != "" {
		cfg.StationTimezone = fc.StationTimezone
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.BaseDir != "" {
		cfg.Paths.Base = fc.BaseDir
	}
	if fc.EngineSocketPath != "" {
		cfg.EngineSocketPath = fc.EngineSocketPath
	}
	if fc.BumperPath != "" {
		cfg.BumperPath = fc.BumperPath
	}
	mergeScheduler(&cfg.Scheduler, fc.Scheduler)
	mergeContent(&cfg.Content, fc.Content)
	mergePushFanOut(&cfg.PushFanOut, fc.PushFanOut)
	if len(fc.ScriptProviders) > 0 {
		cfg.ScriptProviders = fc.ScriptProviders
	}
	if len(fc.TTSProviders) > 0 {
		cfg.TTSProviders = fc.TTSProviders
	}
}

func mergeScheduler(dst *SchedulerConfig, src SchedulerConfig) {
	if src.MusicMinQueueLen != 0 {
		dst.MusicMinQueueLen = src.MusicMinQueueLen
	}
	if src.MusicTargetFill != 0 {
		dst.MusicTargetFill = src.MusicTargetFill
	}
	if src.AntiRepeatWindow != 0 {
		dst.AntiRepeatWindow = src.AntiRepeatWindow
	}
	if src.BreakFreshWindow != 0 {
		dst.BreakFreshWindow = src.BreakFreshWindow
	}
	if src.BreakGenerateMinute != 0 {
		dst.BreakGenerateMinute = src.BreakGenerateMinute
	}
	if len(src.StationIDMinutes) > 0 {
		dst.StationIDMinutes = src.StationIDMinutes
	}
	if src.NowPlayingFallback != 0 {
		dst.NowPlayingFallback = src.NowPlayingFallback
	}
	if src.StateRetention != 0 {
		dst.StateRetention = src.StateRetention
	}
}

func mergeContent(dst *ContentConfig, src ContentConfig) {
	if src.WeatherURL != "" {
		dst.WeatherURL = src.WeatherURL
	}
	if len(src.NewsFeeds) > 0 {
		dst.NewsFeeds = src.NewsFeeds
	}
	if src.FetchTimeout != 0 {
		dst.FetchTimeout = src.FetchTimeout
	}
	if src.TargetWordMin != 0 {
		dst.TargetWordMin = src.TargetWordMin
	}
	if src.TargetWordMax != 0 {
		dst.TargetWordMax = src.TargetWordMax
	}
	if src.MaxLengthRetries != 0 {
		dst.MaxLengthRetries = src.MaxLengthRetries
	}
	if src.RecentPhraseLimit != 0 {
		dst.RecentPhraseLimit = src.RecentPhraseLimit
	}
	if src.MixCommand != "" {
		dst.MixCommand = src.MixCommand
	}
	if len(src.MixArgsTemplate) > 0 {
		dst.MixArgsTemplate = src.MixArgsTemplate
	}
	if src.TargetLUFS != 0 {
		dst.TargetLUFS = src.TargetLUFS
	}
	if src.TargetTruePeak != 0 {
		dst.TargetTruePeak = src.TargetTruePeak
	}
	if src.StationIdentity != "" {
		dst.StationIdentity = src.StationIdentity
	}
	if src.WorldSetting != "" {
		dst.WorldSetting = src.WorldSetting
	}
	if src.AnnouncerPersona != "" {
		dst.AnnouncerPersona = src.AnnouncerPersona
	}
	if src.ChaosBudget != 0 {
		dst.ChaosBudget = src.ChaosBudget
	}
	if src.HumorPolicy != "" {
		dst.HumorPolicy = src.HumorPolicy
	}
	if len(src.BannedPhrases) > 0 {
		dst.BannedPhrases = src.BannedPhrases
	}
	if src.ToneRules != "" {
		dst.ToneRules = src.ToneRules
	}
	if src.VoicePersona != "" {
		dst.VoicePersona = src.VoicePersona
	}
	if src.VoiceScene != "" {
		dst.VoiceScene = src.VoiceScene
	}
	if src.DeliveryStyle != "" {
		dst.DeliveryStyle = src.DeliveryStyle
	}
	if src.GenerationDeadline != 0 {
		dst.GenerationDeadline = src.GenerationDeadline
	}
}

func mergePushFanOut(dst *PushFanOutConfig, src PushFanOutConfig) {
	if src.ListenAddr != "" {
		dst.ListenAddr = src.ListenAddr
	}
	if len(src.AllowedOrigins) > 0 {
		dst.AllowedOrigins = src.AllowedOrigins
	}
	if src.KeepaliveEvery != 0 {
		dst.KeepaliveEvery = src.KeepaliveEvery
	}
	if src.ClientSendTimeout != 0 {
		dst.ClientSendTimeout = src.ClientSendTimeout
	}
	if src.ClientBufferLen != 0 {
		dst.ClientBufferLen = src.ClientBufferLen
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.StationName = ParseString("RADIOD_STATION_NAME", cfg.StationName)
	cfg.StationTimezone = ParseString("RADIOD_STATION_TIMEZONE", cfg.StationTimezone)
	cfg.LogLevel = ParseString("RADIOD_LOG_LEVEL", cfg.LogLevel)
	cfg.Paths.Base = ParseString("RADIOD_BASE_DIR", cfg.Paths.Base)
	cfg.EngineSocketPath = ParseString("RADIOD_ENGINE_SOCKET", cfg.EngineSocketPath)
	cfg.BumperPath = ParseString("RADIOD_HOURLY_BUMPER", cfg.BumperPath)
	cfg.PushFanOut.ListenAddr = ParseString("RADIOD_PUSH_LISTEN_ADDR", cfg.PushFanOut.ListenAddr)
	cfg.PushFanOut.AllowedOrigins = ParseStringList("RADIOD_PUSH_ALLOWED_ORIGINS", cfg.PushFanOut.AllowedOrigins)
	cfg.Content.WeatherURL = ParseString("RADIOD_WEATHER_URL", cfg.Content.WeatherURL)
	cfg.Content.NewsFeeds = ParseStringList("RADIOD_NEWS_FEEDS", cfg.Content.NewsFeeds)
	cfg.Content.MixCommand = ParseString("RADIOD_MIX_COMMAND", cfg.Content.MixCommand)
}

func derivePaths(base string) Paths {
	if base == "" {
		base = "/var/lib/radiod"
	}
	assets := filepath.Join(base, "assets")
	drops := filepath.Join(base, "drops")
	state := filepath.Join(base, "state")
	return Paths{
		Base:           base,
		MusicDir:       filepath.Join(assets, "music"),
		BreaksDir:      filepath.Join(assets, "breaks"),
		BumpersDir:     filepath.Join(assets, "bumpers"),
		BedsDir:        filepath.Join(assets, "beds"),
		SafetyDir:      filepath.Join(assets, "safety"),
		ArchiveDir:     filepath.Join(assets, "breaks", "archive"),
		DropsQueueDir:  filepath.Join(drops, "queue"),
		DropsProcessed: filepath.Join(drops, "queue", "processed"),
		ForceBreakFile: filepath.Join(drops, "force_break", "trigger"),
		KillGenFile:    filepath.Join(drops, "kill_generation"),
		StateDir:       state,
		ScheduleJSON:   filepath.Join(state, "schedule.json"),
		MetricsJSON:    filepath.Join(state, "metrics.json"),
		DBPath:         filepath.Join(base, "db", "radio.sqlite3"),
		NowPlayingJSON: filepath.Join(base, "public", "now_playing.json"),
		JobsLog:        filepath.Join(base, "logs", "jobs.jsonl"),
	}
}

func validate(cfg Config) error {
	if cfg.Paths.Base == "" {
		return fmt.Errorf("%w: base directory is empty", ErrInvalidConfig)
	}
	if cfg.StationName == "" {
		return fmt.Errorf("%w: station_name is empty", ErrInvalidConfig)
	}
	if cfg.EngineSocketPath == "" {
		return fmt.Errorf("%w: engine_socket_path is empty", ErrInvalidConfig)
	}
	if len(cfg.ScriptProviders) == 0 {
		return fmt.Errorf("%w: script_providers is empty", ErrInvalidConfig)
	}
	if len(cfg.TTSProviders) == 0 {
		return fmt.Errorf("%w: tts_providers is empty", ErrInvalidConfig)
	}
	if cfg.Content.TargetWordMin <= 0 || cfg.Content.TargetWordMax <= cfg.Content.TargetWordMin {
		return fmt.Errorf("%w: content target word range is invalid", ErrInvalidConfig)
	}
	return nil
}
