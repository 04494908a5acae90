package config

import "time"

// Provider is one entry in an ordered provider chain for a capability
// ("script" or "tts"). Name is a human label for logging; Kind selects the
// concrete client implementation; Endpoint and APIKeyEnv configure it.
type Provider struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"` // e.g. "openai", "anthropic", "elevenlabs", "piper"
	Endpoint  string `yaml:"endpoint"`
	APIKeyEnv string `yaml:"api_key_env"`
	Priority  int    `yaml:"priority"`
}

// SchedulerConfig carries the numeric thresholds named in spec §4.5.
type SchedulerConfig struct {
	MusicMinQueueLen    int           `yaml:"music_min_queue_len"`   // 3
	MusicTargetFill     int           `yaml:"music_target_fill"`     // 8
	AntiRepeatWindow    int           `yaml:"anti_repeat_window"`    // 20
	BreakFreshWindow    time.Duration `yaml:"break_fresh_window"`    // 65m
	BreakGenerateMinute int           `yaml:"break_generate_minute"` // 50
	StationIDMinutes    []int         `yaml:"station_id_minutes"`    // 14,29,44
	NowPlayingFallback  time.Duration `yaml:"now_playing_fallback"`  // 2m
	StateRetention      time.Duration `yaml:"scheduler_state_ttl"`   // 48h
}

// ContentConfig configures the Content Generator (spec §4.4).
type ContentConfig struct {
	WeatherURL         string        `yaml:"weather_url"`
	NewsFeeds          []string      `yaml:"news_feeds"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout"` // 10s
	TargetWordMin      int           `yaml:"target_word_min"`
	TargetWordMax      int           `yaml:"target_word_max"`
	MaxLengthRetries   int           `yaml:"max_length_retries"`  // 2
	RecentPhraseLimit  int           `yaml:"recent_phrase_limit"` // 20
	MixCommand         string        `yaml:"mix_command"`
	MixArgsTemplate    []string      `yaml:"mix_args_template"`
	TargetLUFS         float64       `yaml:"target_lufs"` // -18.0
	TargetTruePeak     float64       `yaml:"target_peak"` // -1.0
	StationIdentity    string        `yaml:"station_identity"`
	WorldSetting       string        `yaml:"world_setting"`
	AnnouncerPersona   string        `yaml:"announcer_persona"`
	ChaosBudget        float64       `yaml:"chaos_budget"`
	HumorPolicy        string        `yaml:"humor_policy"`
	BannedPhrases      []string      `yaml:"banned_phrases"`
	ToneRules          string        `yaml:"tone_rules"`
	VoicePersona       string        `yaml:"voice_persona"`
	VoiceScene         string        `yaml:"voice_scene"`
	DeliveryStyle      string        `yaml:"delivery_style"`
	GenerationDeadline time.Duration `yaml:"generation_deadline"` // 180s
}

// PushFanOutConfig configures the now-playing SSE service (spec §4.7).
type PushFanOutConfig struct {
	ListenAddr        string        `yaml:"listen_addr"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	KeepaliveEvery    time.Duration `yaml:"keepalive_every"` // 30s
	ClientSendTimeout time.Duration `yaml:"client_send_timeout"`
	ClientBufferLen   int           `yaml:"client_buffer_len"`
}

// Paths holds every filesystem location named in spec §6.
type Paths struct {
	Base           string
	MusicDir       string
	BreaksDir      string
	BumpersDir     string
	BedsDir        string
	SafetyDir      string
	ArchiveDir     string
	DropsQueueDir  string
	DropsProcessed string
	ForceBreakFile string
	KillGenFile    string
	StateDir       string
	ScheduleJSON   string
	MetricsJSON    string
	DBPath         string
	NowPlayingJSON string
	JobsLog        string
}

// Config is the single immutable configuration record the daemon loads
// once at startup. It is never mutated after Load returns.
type Config struct {
	StationName     string
	StationTimezone string // IANA name, e.g. "America/Chicago"
	LogLevel        string
	LogService      string
	Version         string

	EngineSocketPath  string
	EngineDialTimeout time.Duration
	EngineOpTimeout   time.Duration

	Paths Paths

	Scheduler  SchedulerConfig
	Content    ContentConfig
	PushFanOut PushFanOutConfig

	ScriptProviders []Provider
	TTSProviders    []Provider

	BumperPath string // the configured hourly fallback bumper (spec §4.5.3)

	IcecastStatusURL   string // e.g. http://127.0.0.1:8000/status-json.xsl
	IcecastMount       string // mount point name to read listener count for
	StreamBitrateKbps  int    // static per spec §6: 192
	StreamSampleRateHz int    // static per spec §6: 44100
}
